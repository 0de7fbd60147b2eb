package domain

import "errors"

var (
	// ErrSessionNotFound is returned when a session is absent, expired, or unreadable.
	ErrSessionNotFound = errors.New("quiz session not found")
	// ErrSessionNotCompleted is returned when submission is attempted before the session is completed.
	ErrSessionNotCompleted = errors.New("quiz session not completed")
	// ErrNoSubmittableAnswers is returned when a session holds only empty placeholder answers.
	ErrNoSubmittableAnswers = errors.New("no submittable answers in session")
	// ErrSubmissionInFlight is returned when a submission for the same session is already running.
	ErrSubmissionInFlight = errors.New("submission already in flight")
)
