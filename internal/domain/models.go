package domain

import (
	"encoding/json"
	"time"
)

// SessionType classifies a quiz attempt.
type SessionType string

const (
	TypePractice SessionType = "PRACTICE"
	TypeExam     SessionType = "EXAM"
	TypeRemedial SessionType = "REMEDIAL"
)

// SessionStatus tracks the lifecycle of an attempt. Completed is terminal;
// only completed sessions are eligible for submission and deletion.
type SessionStatus string

const (
	StatusNotStarted SessionStatus = "NOT_STARTED"
	StatusInProgress SessionStatus = "IN_PROGRESS"
	StatusCompleted  SessionStatus = "COMPLETED"
)

// AnswerFlag marks a question for later attention.
type AnswerFlag string

const (
	FlagDifficult   AnswerFlag = "difficult"
	FlagReviewLater AnswerFlag = "review_later"
	FlagReportError AnswerFlag = "report_error"
)

// ExplanationMode controls when explanations are shown during an attempt.
type ExplanationMode string

const (
	ExplainAfterEach ExplanationMode = "after_each"
	ExplainAtEnd     ExplanationMode = "at_end"
	ExplainNever     ExplanationMode = "never"
)

// SessionSettings holds the recognized per-session options.
type SessionSettings struct {
	ShowExplanations ExplanationMode `json:"showExplanations,omitempty"`
	TimeLimit        int             `json:"timeLimit,omitempty"` // seconds
	ShuffleQuestions bool            `json:"shuffleQuestions,omitempty"`
}

// QuizAnswer is one student response to one question.
type QuizAnswer struct {
	QuestionID        int          `json:"questionId"`
	SelectedAnswerID  *int         `json:"selectedAnswerId,omitempty"`
	SelectedAnswerIDs []int        `json:"selectedAnswerIds,omitempty"`
	TextAnswer        string       `json:"textAnswer,omitempty"`
	IsCorrect         *bool        `json:"isCorrect,omitempty"` // filled in by grading, never by the client
	TimeSpent         int          `json:"timeSpent"`           // seconds
	Timestamp         time.Time    `json:"timestamp"`
	Flags             []AnswerFlag `json:"flags,omitempty"`
	Notes             string       `json:"notes,omitempty"`
}

// UnmarshalJSON accepts the legacy selectedOptions field as an alias for
// selectedAnswerIds so older persisted records still load.
func (a *QuizAnswer) UnmarshalJSON(data []byte) error {
	type plain QuizAnswer
	aux := struct {
		*plain
		SelectedOptions []int `json:"selectedOptions"`
	}{plain: (*plain)(a)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if len(a.SelectedAnswerIDs) == 0 && len(aux.SelectedOptions) > 0 {
		a.SelectedAnswerIDs = aux.SelectedOptions
	}
	return nil
}

// Response is the tagged union over the three ways a question can be
// answered. A nil Response means the answer is an empty placeholder.
type Response interface {
	isResponse()
}

// MultiChoice is a multi-select response.
type MultiChoice struct {
	AnswerIDs []int
}

// SingleChoice is a single-select response.
type SingleChoice struct {
	AnswerID int
}

// FreeText is a free-text response.
type FreeText struct {
	Text string
}

func (MultiChoice) isResponse()  {}
func (SingleChoice) isResponse() {}
func (FreeText) isResponse()     {}

// Response classifies the answer. Multi-select wins over single-select when
// both are present, matching the submission translation order.
func (a QuizAnswer) Response() Response {
	if len(a.SelectedAnswerIDs) > 0 {
		return MultiChoice{AnswerIDs: a.SelectedAnswerIDs}
	}
	if a.SelectedAnswerID != nil {
		return SingleChoice{AnswerID: *a.SelectedAnswerID}
	}
	if a.TextAnswer != "" {
		return FreeText{Text: a.TextAnswer}
	}
	return nil
}

// Submittable reports whether the answer carries an actual response.
func (a QuizAnswer) Submittable() bool {
	return a.Response() != nil
}

// AnswerSubmission is the shape the external quiz API expects for one entry
// of a bulk submission.
type AnswerSubmission struct {
	QuestionID        int   `json:"questionId"`
	SelectedAnswerID  *int  `json:"selectedAnswerId,omitempty"`
	SelectedAnswerIDs []int `json:"selectedAnswerIds,omitempty"`
	TimeSpent         int   `json:"timeSpent"`
}

// SubmissionFor translates an answer into the external API shape. Free-text
// answers have no slot in the bulk endpoint and report ok=false, as do empty
// placeholders.
func SubmissionFor(a QuizAnswer) (AnswerSubmission, bool) {
	switch r := a.Response().(type) {
	case MultiChoice:
		return AnswerSubmission{QuestionID: a.QuestionID, SelectedAnswerIDs: r.AnswerIDs, TimeSpent: a.TimeSpent}, true
	case SingleChoice:
		id := r.AnswerID
		return AnswerSubmission{QuestionID: a.QuestionID, SelectedAnswerID: &id, TimeSpent: a.TimeSpent}, true
	default:
		return AnswerSubmission{}, false
	}
}

// QuizSessionState is one quiz attempt, keyed by SessionID in storage.
type QuizSessionState struct {
	SessionID            int                `json:"sessionId"`
	Title                string             `json:"title"`
	Type                 SessionType        `json:"type"`
	Status               SessionStatus      `json:"status"`
	CurrentQuestionIndex int                `json:"currentQuestionIndex"`
	TotalQuestions       int                `json:"totalQuestions"`
	Answers              map[int]QuizAnswer `json:"answers"`
	StartedAt            time.Time          `json:"startedAt"`
	LastUpdatedAt        time.Time          `json:"lastUpdatedAt"`
	TimeSpent            int                `json:"timeSpent"` // aggregate seconds
	BookmarkedQuestions  []int              `json:"bookmarkedQuestions,omitempty"`
	FlaggedQuestions     []int              `json:"flaggedQuestions,omitempty"`
	Settings             SessionSettings    `json:"settings"`
}

// ProgressUpdate is a partial update to a session; nil fields are left
// untouched by the merge.
type ProgressUpdate struct {
	Status               *SessionStatus
	CurrentQuestionIndex *int
	TimeSpent            *int
	BookmarkedQuestions  []int
	FlaggedQuestions     []int
	Settings             *SessionSettings
}

// SessionSummary is the list view of a stored session.
type SessionSummary struct {
	SessionID     int           `json:"sessionId"`
	Title         string        `json:"title"`
	Type          SessionType   `json:"type"`
	Status        SessionStatus `json:"status"`
	AnswerCount   int           `json:"answerCount"`
	LastUpdatedAt time.Time     `json:"lastUpdatedAt"`
}

// Summary derives the list view of a session.
func (s QuizSessionState) Summary() SessionSummary {
	return SessionSummary{
		SessionID:     s.SessionID,
		Title:         s.Title,
		Type:          s.Type,
		Status:        s.Status,
		AnswerCount:   len(s.Answers),
		LastUpdatedAt: s.LastUpdatedAt,
	}
}

// StorageStats aggregates what is currently held in the store.
type StorageStats struct {
	TotalSessions    int                   `json:"totalSessions"`
	SessionsByStatus map[SessionStatus]int `json:"sessionsByStatus"`
	TotalAnswers     int                   `json:"totalAnswers"`
	ApproxSize       int                   `json:"approxSize"` // key+value character counts, not exact bytes
	LastCleanup      *time.Time            `json:"lastCleanup"`
}
