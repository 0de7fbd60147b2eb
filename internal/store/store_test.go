package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"offline-quiz-store/internal/domain"
	"offline-quiz-store/internal/kv"
	"offline-quiz-store/internal/kv/memory"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	st, _ := newTestStore(t, Options{})

	five := 5
	state := sampleSession(101)
	state.Answers[2] = domain.QuizAnswer{
		QuestionID:        2,
		SelectedAnswerIDs: []int{7, 8},
		TimeSpent:         45,
		Timestamp:         time.Date(2025, 3, 10, 11, 59, 0, 0, time.UTC),
		Flags:             []domain.AnswerFlag{domain.FlagDifficult},
		Notes:             "check later",
	}
	state.Answers[1] = domain.QuizAnswer{QuestionID: 1, SelectedAnswerID: &five, TimeSpent: 30, Timestamp: state.StartedAt}
	state.BookmarkedQuestions = []int{2}
	state.Settings = domain.SessionSettings{ShowExplanations: domain.ExplainAtEnd, TimeLimit: 600}

	if err := st.SaveSessionState(ctx, state); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := st.LoadSessionState(ctx, 101)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.SessionID != 101 || loaded.Title != state.Title || loaded.Type != state.Type {
		t.Fatalf("identity fields lost: %+v", loaded)
	}
	if !loaded.StartedAt.Equal(state.StartedAt) {
		t.Fatalf("startedAt did not round-trip: %v vs %v", loaded.StartedAt, state.StartedAt)
	}
	if !loaded.LastUpdatedAt.Equal(state.LastUpdatedAt) {
		t.Fatalf("lastUpdatedAt did not round-trip: %v vs %v", loaded.LastUpdatedAt, state.LastUpdatedAt)
	}
	if len(loaded.Answers) != 2 {
		t.Fatalf("expected 2 answers, got %d", len(loaded.Answers))
	}
	multi := loaded.Answers[2]
	if !multi.Timestamp.Equal(state.Answers[2].Timestamp) {
		t.Fatalf("answer timestamp did not round-trip")
	}
	if len(multi.SelectedAnswerIDs) != 2 || multi.Notes != "check later" {
		t.Fatalf("answer fields lost: %+v", multi)
	}
	single := loaded.Answers[1]
	if single.SelectedAnswerID == nil || *single.SelectedAnswerID != 5 {
		t.Fatalf("single select lost: %+v", single)
	}
	if loaded.Settings != state.Settings {
		t.Fatalf("settings lost: %+v", loaded.Settings)
	}
}

func TestLoadMissingSession(t *testing.T) {
	st, _ := newTestStore(t, Options{})
	if _, err := st.LoadSessionState(context.Background(), 999); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestLazyExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	st, backend := newTestStore(t, Options{Clock: func() time.Time { return now }})

	if err := st.SaveSessionState(ctx, sampleSession(7)); err != nil {
		t.Fatalf("save: %v", err)
	}

	now = now.Add(8 * 24 * time.Hour)

	if _, err := st.LoadSessionState(ctx, 7); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected expired session to be not found, got %v", err)
	}
	// Lazy expiry deletes the record as a side effect.
	if _, err := backend.Get(ctx, "quiz_session_7"); !errors.Is(err, kv.ErrKeyNotFound) {
		t.Fatalf("expected record deleted, got %v", err)
	}

	sessions, err := st.AllSessions(ctx)
	if err != nil {
		t.Fatalf("all sessions: %v", err)
	}
	if len(sessions) != 0 {
		t.Fatalf("expected no sessions, got %d", len(sessions))
	}
}

func TestCorruptRecordIsDropped(t *testing.T) {
	ctx := context.Background()
	st, backend := newTestStore(t, Options{})

	if err := backend.Set(ctx, "quiz_session_42", "{not json"); err != nil {
		t.Fatalf("seed corrupt: %v", err)
	}
	if _, err := st.LoadSessionState(ctx, 42); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected not found for corrupt record, got %v", err)
	}
	if _, err := backend.Get(ctx, "quiz_session_42"); !errors.Is(err, kv.ErrKeyNotFound) {
		t.Fatalf("expected corrupt record deleted")
	}
}

func TestSaveAndRemoveAnswer(t *testing.T) {
	ctx := context.Background()
	st, _ := newTestStore(t, Options{})

	if err := st.SaveSessionState(ctx, sampleSession(5)); err != nil {
		t.Fatalf("save: %v", err)
	}
	three := 3
	if err := st.SaveAnswer(ctx, 5, domain.QuizAnswer{QuestionID: 3, SelectedAnswerID: &three, TimeSpent: 12}); err != nil {
		t.Fatalf("save answer: %v", err)
	}
	if err := st.SaveAnswer(ctx, 5, domain.QuizAnswer{QuestionID: 4, TextAnswer: "osmosis"}); err != nil {
		t.Fatalf("save answer: %v", err)
	}

	answers, err := st.SessionAnswers(ctx, 5)
	if err != nil {
		t.Fatalf("session answers: %v", err)
	}
	if len(answers) != 2 {
		t.Fatalf("expected 2 answers, got %d", len(answers))
	}
	if answers[3].Timestamp.IsZero() {
		t.Fatalf("expected answer timestamp stamped on write")
	}

	if err := st.RemoveAnswer(ctx, 5, 3); err != nil {
		t.Fatalf("remove answer: %v", err)
	}
	answers, _ = st.SessionAnswers(ctx, 5)
	if _, ok := answers[3]; ok {
		t.Fatalf("expected answer 3 removed")
	}
	if _, ok := answers[4]; !ok {
		t.Fatalf("expected answer 4 untouched")
	}

	// Removing a missing answer or targeting a missing session is a no-op.
	if err := st.RemoveAnswer(ctx, 5, 99); err != nil {
		t.Fatalf("remove missing answer: %v", err)
	}
	if err := st.RemoveAnswer(ctx, 404, 3); err != nil {
		t.Fatalf("remove from missing session: %v", err)
	}
}

func TestSaveAnswerUnknownSessionIsNoop(t *testing.T) {
	st, backend := newTestStore(t, Options{})
	if err := st.SaveAnswer(context.Background(), 404, domain.QuizAnswer{QuestionID: 1, TextAnswer: "x"}); err != nil {
		t.Fatalf("expected no-op, got %v", err)
	}
	keys, _ := backend.Keys(context.Background(), "quiz_session_")
	if len(keys) != 0 {
		t.Fatalf("expected nothing written, got %v", keys)
	}
}

func TestUpdateProgressMergesPartially(t *testing.T) {
	ctx := context.Background()
	st, _ := newTestStore(t, Options{})

	state := sampleSession(8)
	state.CurrentQuestionIndex = 1
	state.TimeSpent = 100
	if err := st.SaveSessionState(ctx, state); err != nil {
		t.Fatalf("save: %v", err)
	}

	idx := 4
	status := domain.StatusInProgress
	if err := st.UpdateProgress(ctx, 8, domain.ProgressUpdate{
		CurrentQuestionIndex: &idx,
		Status:               &status,
		FlaggedQuestions:     []int{2, 3},
	}); err != nil {
		t.Fatalf("update progress: %v", err)
	}

	loaded, err := st.LoadSessionState(ctx, 8)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.CurrentQuestionIndex != 4 || loaded.Status != domain.StatusInProgress {
		t.Fatalf("merge lost fields: %+v", loaded)
	}
	if loaded.TimeSpent != 100 {
		t.Fatalf("untouched field changed: %d", loaded.TimeSpent)
	}
	if len(loaded.FlaggedQuestions) != 2 {
		t.Fatalf("flags not merged: %v", loaded.FlaggedQuestions)
	}
}

func TestCompleteSessionGate(t *testing.T) {
	ctx := context.Background()
	st, _ := newTestStore(t, Options{})

	if _, err := st.CompleteSession(ctx, 123); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	if err := st.SaveSessionState(ctx, sampleSession(123)); err != nil {
		t.Fatalf("save: %v", err)
	}
	state, err := st.CompleteSession(ctx, 123)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if state.Status != domain.StatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", state.Status)
	}

	loaded, _ := st.LoadSessionState(ctx, 123)
	if loaded.Status != domain.StatusCompleted {
		t.Fatalf("completion not persisted")
	}
}

func TestAnswersForSubmissionFiltersPlaceholders(t *testing.T) {
	ctx := context.Background()
	st, _ := newTestStore(t, Options{})

	five := 5
	state := sampleSession(9)
	state.Answers = map[int]domain.QuizAnswer{
		1: {QuestionID: 1, SelectedAnswerID: &five},
		2: {QuestionID: 2, SelectedAnswerIDs: []int{7, 8}},
		3: {QuestionID: 3, TextAnswer: "mitochondria"},
		4: {QuestionID: 4}, // placeholder, viewed but never answered
	}
	if err := st.SaveSessionState(ctx, state); err != nil {
		t.Fatalf("save: %v", err)
	}

	answers, err := st.AnswersForSubmission(ctx, 9)
	if err != nil {
		t.Fatalf("answers for submission: %v", err)
	}
	if len(answers) != 3 {
		t.Fatalf("expected 3 submittable answers, got %d", len(answers))
	}
	for i, answer := range answers {
		if !answer.Submittable() {
			t.Fatalf("non-submittable answer leaked: %+v", answer)
		}
		if i > 0 && answers[i-1].QuestionID > answer.QuestionID {
			t.Fatalf("answers not sorted by question id")
		}
	}
}

func TestRemoveSessionStateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	st, _ := newTestStore(t, Options{})

	if err := st.SaveSessionState(ctx, sampleSession(11)); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := st.RemoveSessionState(ctx, 11); err != nil {
		t.Fatalf("first remove: %v", err)
	}
	if err := st.RemoveSessionState(ctx, 11); err != nil {
		t.Fatalf("second remove should be a no-op: %v", err)
	}
}

func TestAllSessionsSortedNewestFirst(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	st, backend := newTestStore(t, Options{Clock: func() time.Time { return now }})

	for _, id := range []int{1, 2, 3} {
		if err := st.SaveSessionState(ctx, sampleSession(id)); err != nil {
			t.Fatalf("save %d: %v", id, err)
		}
		now = now.Add(time.Hour)
	}
	// Unrelated keys in the shared medium are ignored by the scan.
	_ = backend.Set(ctx, "course_progress_9", "{}")
	_ = backend.Set(ctx, "quiz_session_bogus", "{}")

	sessions, err := st.AllSessions(ctx)
	if err != nil {
		t.Fatalf("all sessions: %v", err)
	}
	if len(sessions) != 3 {
		t.Fatalf("expected 3 sessions, got %d", len(sessions))
	}
	for i := 1; i < len(sessions); i++ {
		if sessions[i-1].LastUpdatedAt.Before(sessions[i].LastUpdatedAt) {
			t.Fatalf("sessions not sorted newest first: %v", sessions)
		}
	}
	if sessions[0].SessionID != 3 {
		t.Fatalf("expected most recently touched first, got %d", sessions[0].SessionID)
	}
}

func TestStatsAndCleanup(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	st, _ := newTestStore(t, Options{Clock: func() time.Time { return now }})

	if err := st.SaveSessionState(ctx, sampleSession(1)); err != nil {
		t.Fatalf("save: %v", err)
	}
	now = now.Add(time.Hour)
	completed := sampleSession(2)
	completed.Status = domain.StatusCompleted
	if err := st.SaveSessionState(ctx, completed); err != nil {
		t.Fatalf("save: %v", err)
	}

	stats, err := st.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalSessions != 2 {
		t.Fatalf("expected 2 sessions, got %d", stats.TotalSessions)
	}
	if stats.SessionsByStatus[domain.StatusCompleted] != 1 || stats.SessionsByStatus[domain.StatusInProgress] != 1 {
		t.Fatalf("unexpected status counts: %v", stats.SessionsByStatus)
	}
	if stats.TotalAnswers != 2 {
		t.Fatalf("expected 2 answers, got %d", stats.TotalAnswers)
	}
	if stats.ApproxSize == 0 {
		t.Fatalf("expected non-zero approximate size")
	}
	if stats.LastCleanup != nil {
		t.Fatalf("expected no cleanup recorded yet")
	}

	// Session 1 crosses the 7-day threshold, session 2 stays just inside it.
	now = now.Add(7*24*time.Hour - time.Minute)
	removed, err := st.Cleanup(ctx)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 session removed, got %d", removed)
	}

	stats, _ = st.Stats(ctx)
	if stats.TotalSessions != 1 {
		t.Fatalf("expected 1 session after cleanup, got %d", stats.TotalSessions)
	}
	if stats.LastCleanup == nil || !stats.LastCleanup.Equal(now) {
		t.Fatalf("expected lastCleanup stamped at %v, got %v", now, stats.LastCleanup)
	}
}

func TestLazyCleanupScheduling(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	var scheduled []func()
	backend := memory.NewBackend()
	st := New(backend, Options{
		Clock:    func() time.Time { return now },
		Schedule: func(fn func()) { scheduled = append(scheduled, fn) },
	})

	// No cleanup has ever run, so the first write schedules one.
	if err := st.SaveSessionState(ctx, sampleSession(1)); err != nil {
		t.Fatalf("save: %v", err)
	}
	if len(scheduled) != 1 {
		t.Fatalf("expected 1 scheduled pass, got %d", len(scheduled))
	}
	scheduled[0]()

	// Within the interval nothing new is scheduled.
	if err := st.SaveSessionState(ctx, sampleSession(2)); err != nil {
		t.Fatalf("save: %v", err)
	}
	if len(scheduled) != 1 {
		t.Fatalf("expected no new pass within interval, got %d", len(scheduled))
	}

	now = now.Add(25 * time.Hour)
	if err := st.SaveSessionState(ctx, sampleSession(3)); err != nil {
		t.Fatalf("save: %v", err)
	}
	if len(scheduled) != 2 {
		t.Fatalf("expected a new pass after the interval, got %d", len(scheduled))
	}
}

func TestForcedEvictionDropsOldestCeil30Percent(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	// MaxSize of 1 character guarantees the store is over its ceiling.
	st, _ := newTestStoreWithClock(t, Options{MaxSize: 1}, func() time.Time { return now })

	const total = 7
	for id := 1; id <= total; id++ {
		if err := st.SaveSessionState(ctx, sampleSession(id)); err != nil {
			t.Fatalf("save %d: %v", id, err)
		}
		now = now.Add(time.Minute)
	}

	st.RecoverQuota(ctx)

	sessions, err := st.AllSessions(ctx)
	if err != nil {
		t.Fatalf("all sessions: %v", err)
	}
	// ceil(0.3 * 7) = 3 evicted, 4 survivors.
	if len(sessions) != 4 {
		t.Fatalf("expected 4 survivors, got %d", len(sessions))
	}
	for _, session := range sessions {
		if session.SessionID <= 3 {
			t.Fatalf("expected oldest sessions evicted, found %d", session.SessionID)
		}
	}
}

func TestQuotaRecoveryOnSave(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	backend := memory.NewBoundedBackend(2600)
	st := New(backend, Options{
		MaxSize:  1, // force eviction whenever recovery runs
		Clock:    func() time.Time { return now },
		Schedule: func(func()) {},
	})

	var saved int
	for id := 1; id <= 12; id++ {
		if err := st.SaveSessionState(ctx, sampleSession(id)); err != nil {
			t.Fatalf("save %d should recover from quota pressure: %v", id, err)
		}
		saved++
		now = now.Add(time.Minute)
	}

	sessions, err := st.AllSessions(ctx)
	if err != nil {
		t.Fatalf("all sessions: %v", err)
	}
	if len(sessions) == 0 || len(sessions) >= saved {
		t.Fatalf("expected eviction to have dropped some of the %d sessions, kept %d", saved, len(sessions))
	}
	// The most recent write always survives recovery.
	if sessions[0].SessionID != 12 {
		t.Fatalf("expected latest session retained, got %d", sessions[0].SessionID)
	}
}

func newTestStore(t *testing.T, opts Options) (*Store, *memory.Backend) {
	t.Helper()
	backend := memory.NewBackend()
	if opts.Schedule == nil {
		opts.Schedule = func(func()) {} // keep tests deterministic
	}
	return New(backend, opts), backend
}

func newTestStoreWithClock(t *testing.T, opts Options, clock func() time.Time) (*Store, *memory.Backend) {
	t.Helper()
	opts.Clock = clock
	return newTestStore(t, opts)
}

func sampleSession(id int) *domain.QuizSessionState {
	five := 5
	started := time.Date(2025, 3, 10, 11, 0, 0, 0, time.UTC)
	return &domain.QuizSessionState{
		SessionID:      id,
		Title:          fmt.Sprintf("Practice set %d", id),
		Type:           domain.TypePractice,
		Status:         domain.StatusInProgress,
		TotalQuestions: 2,
		Answers: map[int]domain.QuizAnswer{
			1: {QuestionID: 1, SelectedAnswerID: &five, TimeSpent: 30, Timestamp: started},
		},
		StartedAt: started,
		Settings:  domain.SessionSettings{ShowExplanations: domain.ExplainAtEnd},
	}
}
