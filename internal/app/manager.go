// Package app contains the sync manager: the consumer-facing contract over
// the session store plus the bulk submission workflow against the external
// quiz API.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"offline-quiz-store/internal/domain"
	"offline-quiz-store/internal/store"
)

// DefaultRefreshInterval is how often the poll loop re-reads the store to
// pick up writes made by quiz-taking code elsewhere.
const DefaultRefreshInterval = 30 * time.Second

// SubmissionClient abstracts the external quiz API (HTTP in production, a
// fake in tests).
type SubmissionClient interface {
	SubmitSessionAnswers(ctx context.Context, sessionID int, answers []domain.AnswerSubmission) error
}

// Notifier is the side channel for user-visible success/failure reporting.
type Notifier interface {
	Success(msg string)
	Error(msg string)
}

// LogNotifier reports through the standard logger.
type LogNotifier struct{}

func (LogNotifier) Success(msg string) { log.Printf("sync: %s", msg) }
func (LogNotifier) Error(msg string)   { log.Printf("sync error: %s", msg) }

// SyncOutcome is the aggregate result of a bulk submission.
type SyncOutcome struct {
	Submitted int `json:"submitted"`
	Failed    int `json:"failed"`
}

// Options tune a Manager; zero values fall back to defaults.
type Options struct {
	Notifier        Notifier
	RefreshInterval time.Duration
	Clock           func() time.Time
}

// Manager caches session summaries and stats, tracks per-session in-flight
// submissions, and serializes bulk submission. Completed sessions are never
// submitted automatically; submission is always an explicit command.
type Manager struct {
	store        *store.Store
	client       SubmissionClient
	notifier     Notifier
	clock        func() time.Time
	refreshEvery time.Duration

	mu          sync.RWMutex
	summaries   []domain.SessionSummary
	stats       domain.StorageStats
	inFlight    map[int]bool
	lastSync    time.Time
	subscribers map[chan []domain.SessionSummary]struct{}
}

func NewManager(st *store.Store, client SubmissionClient, opts Options) *Manager {
	m := &Manager{
		store:        st,
		client:       client,
		notifier:     opts.Notifier,
		clock:        opts.Clock,
		refreshEvery: opts.RefreshInterval,
		inFlight:     make(map[int]bool),
		subscribers:  make(map[chan []domain.SessionSummary]struct{}),
	}
	if m.notifier == nil {
		m.notifier = LogNotifier{}
	}
	if m.clock == nil {
		m.clock = time.Now
	}
	if m.refreshEvery == 0 {
		m.refreshEvery = DefaultRefreshInterval
	}
	return m
}

// Refresh re-reads sessions and stats from the store and notifies
// subscribers with the new session list.
func (m *Manager) Refresh(ctx context.Context) error {
	sessions, err := m.store.AllSessions(ctx)
	if err != nil {
		return err
	}
	stats, err := m.store.Stats(ctx)
	if err != nil {
		return err
	}

	summaries := make([]domain.SessionSummary, 0, len(sessions))
	for _, session := range sessions {
		summaries = append(summaries, session.Summary())
	}

	m.mu.Lock()
	m.summaries = summaries
	m.stats = stats
	m.mu.Unlock()

	m.broadcast(summaries)
	return nil
}

// Run polls the store on a fixed interval until ctx is done. This bridges
// writers that do not go through the manager.
func (m *Manager) Run(ctx context.Context) {
	if err := m.Refresh(ctx); err != nil {
		log.Printf("sync: initial refresh: %v", err)
	}
	ticker := time.NewTicker(m.refreshEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.Refresh(ctx); err != nil {
				log.Printf("sync: refresh: %v", err)
			}
		}
	}
}

// Sessions returns the cached session summaries, newest first.
func (m *Manager) Sessions() []domain.SessionSummary {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.SessionSummary, len(m.summaries))
	copy(out, m.summaries)
	return out
}

// Stats returns the cached storage stats.
func (m *Manager) Stats() domain.StorageStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stats
}

// LastSync reports when the last bulk submission finished.
func (m *Manager) LastSync() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastSync
}

// IsSubmitting reports whether a submission for the session is in flight.
func (m *Manager) IsSubmitting(sessionID int) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.inFlight[sessionID]
}

// HasPendingSessions reports whether any known session is completed and
// waiting for submission.
func (m *Manager) HasPendingSessions() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, summary := range m.summaries {
		if summary.Status == domain.StatusCompleted {
			return true
		}
	}
	return false
}

// SessionDetails loads the full session record.
func (m *Manager) SessionDetails(ctx context.Context, sessionID int) (*domain.QuizSessionState, error) {
	return m.store.LoadSessionState(ctx, sessionID)
}

// StorageInfo reads fresh stats from the store.
func (m *Manager) StorageInfo(ctx context.Context) (domain.StorageStats, error) {
	return m.store.Stats(ctx)
}

// SubmitSession pushes one completed session to the quiz API and deletes the
// local record on success. Any failure leaves the record in place for retry.
func (m *Manager) SubmitSession(ctx context.Context, sessionID int) error {
	if !m.beginSubmit(sessionID) {
		return domain.ErrSubmissionInFlight
	}
	defer m.endSubmit(sessionID)
	return m.submit(ctx, sessionID)
}

func (m *Manager) submit(ctx context.Context, sessionID int) error {
	state, err := m.store.LoadSessionState(ctx, sessionID)
	if err != nil {
		m.notifier.Error(fmt.Sprintf("session %d not found", sessionID))
		return err
	}
	if state.Status != domain.StatusCompleted {
		m.notifier.Error(fmt.Sprintf("session %d is not completed", sessionID))
		return domain.ErrSessionNotCompleted
	}

	answers, err := m.store.AnswersForSubmission(ctx, sessionID)
	if err != nil {
		return err
	}
	if len(answers) == 0 {
		m.notifier.Error(fmt.Sprintf("session %d has no submittable answers", sessionID))
		return domain.ErrNoSubmittableAnswers
	}

	payload := make([]domain.AnswerSubmission, 0, len(answers))
	for _, answer := range answers {
		if entry, ok := domain.SubmissionFor(answer); ok {
			payload = append(payload, entry)
		}
	}
	// All-text sessions produce an empty payload; the API call is skipped
	// and the session still completes its local lifecycle.
	if len(payload) > 0 {
		if err := m.client.SubmitSessionAnswers(ctx, sessionID, payload); err != nil {
			m.notifier.Error(fmt.Sprintf("submission failed for session %d: %v", sessionID, err))
			return fmt.Errorf("submit session %d: %w", sessionID, err)
		}
	}

	if err := m.store.RemoveSessionState(ctx, sessionID); err != nil {
		m.notifier.Error(fmt.Sprintf("session %d submitted but local delete failed: %v", sessionID, err))
		return err
	}
	if err := m.Refresh(ctx); err != nil {
		log.Printf("sync: refresh after submit: %v", err)
	}
	m.notifier.Success(fmt.Sprintf("session %d submitted", sessionID))
	return nil
}

// SubmitAll submits every completed session that is not already in flight,
// one at a time. Sequential submission bounds concurrent requests to one and
// keeps per-session failure attribution unambiguous.
func (m *Manager) SubmitAll(ctx context.Context) (SyncOutcome, error) {
	if err := m.Refresh(ctx); err != nil {
		return SyncOutcome{}, err
	}

	var pending []int
	for _, summary := range m.Sessions() {
		if summary.Status == domain.StatusCompleted && !m.IsSubmitting(summary.SessionID) {
			pending = append(pending, summary.SessionID)
		}
	}

	var outcome SyncOutcome
	for _, id := range pending {
		if err := m.SubmitSession(ctx, id); err != nil {
			if errors.Is(err, domain.ErrSubmissionInFlight) {
				continue
			}
			outcome.Failed++
		} else {
			outcome.Submitted++
		}
	}

	m.mu.Lock()
	m.lastSync = m.clock()
	m.mu.Unlock()

	switch {
	case outcome.Submitted == 0 && outcome.Failed == 0:
		m.notifier.Success("no completed sessions to submit")
	case outcome.Failed == 0:
		m.notifier.Success(fmt.Sprintf("all %d sessions submitted", outcome.Submitted))
	case outcome.Submitted == 0:
		m.notifier.Error(fmt.Sprintf("all %d submissions failed", outcome.Failed))
	default:
		m.notifier.Error(fmt.Sprintf("%d sessions submitted, %d failed", outcome.Submitted, outcome.Failed))
	}
	return outcome, nil
}

// DeleteSession removes a local record without contacting the API.
func (m *Manager) DeleteSession(ctx context.Context, sessionID int) error {
	if err := m.store.RemoveSessionState(ctx, sessionID); err != nil {
		m.notifier.Error(fmt.Sprintf("delete session %d: %v", sessionID, err))
		return err
	}
	if err := m.Refresh(ctx); err != nil {
		log.Printf("sync: refresh after delete: %v", err)
	}
	m.notifier.Success(fmt.Sprintf("session %d deleted", sessionID))
	return nil
}

// ClearAll removes every local session record.
func (m *Manager) ClearAll(ctx context.Context) error {
	sessions, err := m.store.AllSessions(ctx)
	if err != nil {
		m.notifier.Error(fmt.Sprintf("clear sessions: %v", err))
		return err
	}
	for _, session := range sessions {
		if err := m.store.RemoveSessionState(ctx, session.SessionID); err != nil {
			m.notifier.Error(fmt.Sprintf("clear session %d: %v", session.SessionID, err))
			return err
		}
	}
	if err := m.Refresh(ctx); err != nil {
		log.Printf("sync: refresh after clear: %v", err)
	}
	m.notifier.Success(fmt.Sprintf("%d sessions cleared", len(sessions)))
	return nil
}

// Subscribe returns a channel that receives the session list after every
// refresh, starting with the current snapshot. The caller must invoke the
// returned cancel function to avoid leaks.
func (m *Manager) Subscribe() (<-chan []domain.SessionSummary, func()) {
	ch := make(chan []domain.SessionSummary, 8)

	m.mu.Lock()
	m.subscribers[ch] = struct{}{}
	initial := make([]domain.SessionSummary, len(m.summaries))
	copy(initial, m.summaries)
	m.mu.Unlock()

	ch <- initial

	cancel := func() {
		m.mu.Lock()
		if _, ok := m.subscribers[ch]; ok {
			delete(m.subscribers, ch)
			close(ch)
		}
		m.mu.Unlock()
	}
	return ch, cancel
}

func (m *Manager) broadcast(summaries []domain.SessionSummary) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for ch := range m.subscribers {
		select {
		case ch <- summaries:
		default:
			// Drop the stale snapshot so a slow consumer never blocks refresh.
			select {
			case <-ch:
			default:
			}
			ch <- summaries
		}
	}
}

func (m *Manager) beginSubmit(sessionID int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inFlight[sessionID] {
		return false
	}
	m.inFlight[sessionID] = true
	return true
}

func (m *Manager) endSubmit(sessionID int) {
	m.mu.Lock()
	delete(m.inFlight, sessionID)
	m.mu.Unlock()
}
