// Package store implements the offline quiz session store: durable,
// prefix-namespaced, size-bounded persistence of in-progress and completed
// quiz attempts over a pluggable key-value backend.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"offline-quiz-store/internal/domain"
	"offline-quiz-store/internal/kv"
)

const (
	DefaultPrefix      = "quiz_session_"
	DefaultMetadataKey = "quiz_storage_metadata"

	// Sessions untouched for this long are expired lazily on read.
	DefaultSessionTTL = 7 * 24 * time.Hour
	// A cleanup pass is scheduled when the last one is older than this.
	DefaultCleanupInterval = 24 * time.Hour
	// Character-count ceiling checked during quota recovery.
	DefaultMaxSize = 50 * 1024 * 1024

	// Fraction of sessions dropped (oldest first, rounded up) when the
	// store is still over its ceiling after expired sessions are removed.
	evictFraction = 0.3
)

// Options tune a Store. Zero values fall back to the defaults above.
type Options struct {
	Prefix          string
	MetadataKey     string
	SessionTTL      time.Duration
	CleanupInterval time.Duration
	MaxSize         int

	// Clock and Schedule are injection points for tests. Schedule runs the
	// lazy cleanup pass; the default detaches it on a goroutine.
	Clock    func() time.Time
	Schedule func(func())
}

// Store owns every key under its prefix plus the metadata key. No other
// component writes to that namespace.
type Store struct {
	backend      kv.Backend
	prefix       string
	metaKey      string
	ttl          time.Duration
	cleanupEvery time.Duration
	maxSize      int
	clock        func() time.Time
	schedule     func(func())
	sf           singleflight.Group
}

func New(backend kv.Backend, opts Options) *Store {
	s := &Store{
		backend:      backend,
		prefix:       opts.Prefix,
		metaKey:      opts.MetadataKey,
		ttl:          opts.SessionTTL,
		cleanupEvery: opts.CleanupInterval,
		maxSize:      opts.MaxSize,
		clock:        opts.Clock,
		schedule:     opts.Schedule,
	}
	if s.prefix == "" {
		s.prefix = DefaultPrefix
	}
	if s.metaKey == "" {
		s.metaKey = DefaultMetadataKey
	}
	if s.ttl == 0 {
		s.ttl = DefaultSessionTTL
	}
	if s.cleanupEvery == 0 {
		s.cleanupEvery = DefaultCleanupInterval
	}
	if s.maxSize == 0 {
		s.maxSize = DefaultMaxSize
	}
	if s.clock == nil {
		s.clock = time.Now
	}
	if s.schedule == nil {
		s.schedule = func(fn func()) { go fn() }
	}
	return s
}

type metadata struct {
	LastCleanup *time.Time `json:"lastCleanup"`
}

func (s *Store) key(sessionID int) string {
	return s.prefix + strconv.Itoa(sessionID)
}

func (s *Store) sessionID(key string) (int, bool) {
	raw, ok := strings.CutPrefix(key, s.prefix)
	if !ok {
		return 0, false
	}
	id, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return id, true
}

func (s *Store) expired(lastUpdated time.Time) bool {
	return s.clock().Sub(lastUpdated) > s.ttl
}

// SaveSessionState stamps lastUpdatedAt and persists the session. On quota
// exhaustion it runs recovery and retries once instead of failing the write.
func (s *Store) SaveSessionState(ctx context.Context, state *domain.QuizSessionState) error {
	state.LastUpdatedAt = s.clock()
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}

	if err := s.backend.Set(ctx, s.key(state.SessionID), string(data)); err != nil {
		if !errors.Is(err, kv.ErrQuotaExceeded) {
			return err
		}
		log.Printf("store: quota exceeded saving session %d, recovering", state.SessionID)
		s.RecoverQuota(ctx)
		if err := s.backend.Set(ctx, s.key(state.SessionID), string(data)); err != nil {
			log.Printf("store: session %d still unwritable after recovery: %v", state.SessionID, err)
			return err
		}
	}

	s.maybeScheduleCleanup(ctx)
	return nil
}

// LoadSessionState reads one session. Expired records are deleted as a side
// effect and reported as not found (lazy expiry); unparseable records are
// deleted too since they can never be read back.
func (s *Store) LoadSessionState(ctx context.Context, sessionID int) (*domain.QuizSessionState, error) {
	raw, err := s.backend.Get(ctx, s.key(sessionID))
	if errors.Is(err, kv.ErrKeyNotFound) {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}

	var state domain.QuizSessionState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		log.Printf("store: dropping corrupt record for session %d: %v", sessionID, err)
		_ = s.backend.Delete(ctx, s.key(sessionID))
		return nil, domain.ErrSessionNotFound
	}
	if s.expired(state.LastUpdatedAt) {
		_ = s.backend.Delete(ctx, s.key(sessionID))
		return nil, domain.ErrSessionNotFound
	}
	return &state, nil
}

// SaveAnswer upserts one answer into the session's answer map with a fresh
// timestamp. A missing session makes this a logged no-op.
func (s *Store) SaveAnswer(ctx context.Context, sessionID int, answer domain.QuizAnswer) error {
	state, err := s.LoadSessionState(ctx, sessionID)
	if errors.Is(err, domain.ErrSessionNotFound) {
		log.Printf("store: save answer for unknown session %d", sessionID)
		return nil
	}
	if err != nil {
		return err
	}

	answer.Timestamp = s.clock()
	if state.Answers == nil {
		state.Answers = make(map[int]domain.QuizAnswer)
	}
	state.Answers[answer.QuestionID] = answer
	return s.SaveSessionState(ctx, state)
}

// RemoveAnswer deletes one answer from the session. Missing session or
// missing answer are both no-ops.
func (s *Store) RemoveAnswer(ctx context.Context, sessionID, questionID int) error {
	state, err := s.LoadSessionState(ctx, sessionID)
	if errors.Is(err, domain.ErrSessionNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if _, ok := state.Answers[questionID]; !ok {
		return nil
	}
	delete(state.Answers, questionID)
	return s.SaveSessionState(ctx, state)
}

// SessionAnswers returns the answer map for a session, empty when the
// session does not exist.
func (s *Store) SessionAnswers(ctx context.Context, sessionID int) (map[int]domain.QuizAnswer, error) {
	state, err := s.LoadSessionState(ctx, sessionID)
	if errors.Is(err, domain.ErrSessionNotFound) {
		return map[int]domain.QuizAnswer{}, nil
	}
	if err != nil {
		return nil, err
	}
	if state.Answers == nil {
		return map[int]domain.QuizAnswer{}, nil
	}
	return state.Answers, nil
}

// UpdateProgress shallow-merges the non-nil fields of update into the
// session. A missing session makes this a logged no-op.
func (s *Store) UpdateProgress(ctx context.Context, sessionID int, update domain.ProgressUpdate) error {
	state, err := s.LoadSessionState(ctx, sessionID)
	if errors.Is(err, domain.ErrSessionNotFound) {
		log.Printf("store: progress update for unknown session %d", sessionID)
		return nil
	}
	if err != nil {
		return err
	}

	if update.Status != nil {
		state.Status = *update.Status
	}
	if update.CurrentQuestionIndex != nil {
		state.CurrentQuestionIndex = *update.CurrentQuestionIndex
	}
	if update.TimeSpent != nil {
		state.TimeSpent = *update.TimeSpent
	}
	if update.BookmarkedQuestions != nil {
		state.BookmarkedQuestions = update.BookmarkedQuestions
	}
	if update.FlaggedQuestions != nil {
		state.FlaggedQuestions = update.FlaggedQuestions
	}
	if update.Settings != nil {
		state.Settings = *update.Settings
	}
	return s.SaveSessionState(ctx, state)
}

// CompleteSession is the single transition gate into the COMPLETED state,
// after which the session becomes submittable.
func (s *Store) CompleteSession(ctx context.Context, sessionID int) (*domain.QuizSessionState, error) {
	state, err := s.LoadSessionState(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	state.Status = domain.StatusCompleted
	if err := s.SaveSessionState(ctx, state); err != nil {
		return nil, err
	}
	return state, nil
}

// AnswersForSubmission returns the session's submittable answers sorted by
// question id. Placeholder answers with no response are filtered out.
func (s *Store) AnswersForSubmission(ctx context.Context, sessionID int) ([]domain.QuizAnswer, error) {
	answers, err := s.SessionAnswers(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	out := make([]domain.QuizAnswer, 0, len(answers))
	for _, answer := range answers {
		if answer.Submittable() {
			out = append(out, answer)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QuestionID < out[j].QuestionID })
	return out, nil
}

// RemoveSessionState deletes a session record. Deleting an absent session is
// a no-op, so the call is idempotent.
func (s *Store) RemoveSessionState(ctx context.Context, sessionID int) error {
	if err := s.backend.Delete(ctx, s.key(sessionID)); err != nil {
		return err
	}
	s.maybeScheduleCleanup(ctx)
	return nil
}

// AllSessions scans the key space and returns every readable, unexpired
// session sorted descending by lastUpdatedAt (most recently touched first).
func (s *Store) AllSessions(ctx context.Context) ([]domain.QuizSessionState, error) {
	keys, err := s.backend.Keys(ctx, s.prefix)
	if err != nil {
		return nil, err
	}

	sessions := make([]domain.QuizSessionState, 0, len(keys))
	for _, key := range keys {
		id, ok := s.sessionID(key)
		if !ok {
			continue
		}
		state, err := s.LoadSessionState(ctx, id)
		if err != nil {
			continue
		}
		sessions = append(sessions, *state)
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].LastUpdatedAt.After(sessions[j].LastUpdatedAt)
	})
	return sessions, nil
}

// Stats aggregates counts and the approximate size of everything under the
// prefix. Size sums key and value character counts, which is close enough
// for quota decisions.
func (s *Store) Stats(ctx context.Context) (domain.StorageStats, error) {
	stats := domain.StorageStats{SessionsByStatus: make(map[domain.SessionStatus]int)}

	keys, err := s.backend.Keys(ctx, s.prefix)
	if err != nil {
		return stats, err
	}
	for _, key := range keys {
		raw, err := s.backend.Get(ctx, key)
		if err != nil {
			continue
		}
		stats.ApproxSize += len(key) + len(raw)

		var state domain.QuizSessionState
		if err := json.Unmarshal([]byte(raw), &state); err != nil {
			continue
		}
		stats.TotalSessions++
		stats.SessionsByStatus[state.Status]++
		stats.TotalAnswers += len(state.Answers)
	}

	meta := s.readMetadata(ctx)
	stats.LastCleanup = meta.LastCleanup
	return stats, nil
}

// Cleanup removes every expired or unreadable session and stamps
// lastCleanup. It returns the number of records removed.
func (s *Store) Cleanup(ctx context.Context) (int, error) {
	keys, err := s.backend.Keys(ctx, s.prefix)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, key := range keys {
		raw, err := s.backend.Get(ctx, key)
		if err != nil {
			continue
		}
		var state domain.QuizSessionState
		if err := json.Unmarshal([]byte(raw), &state); err != nil {
			log.Printf("store: cleanup dropping corrupt record %s: %v", key, err)
			_ = s.backend.Delete(ctx, key)
			removed++
			continue
		}
		if s.expired(state.LastUpdatedAt) {
			_ = s.backend.Delete(ctx, key)
			removed++
		}
	}

	now := s.clock()
	if data, err := json.Marshal(metadata{LastCleanup: &now}); err == nil {
		if err := s.backend.Set(ctx, s.metaKey, string(data)); err != nil {
			log.Printf("store: write cleanup metadata: %v", err)
		}
	}
	return removed, nil
}

// RecoverQuota is the out-of-space procedure: expire first, then force-evict
// the oldest sessions if the store is still over its ceiling. Forced
// eviction can discard unsubmitted in-progress work; that loss is accepted
// under hard storage pressure and logged loudly.
func (s *Store) RecoverQuota(ctx context.Context) {
	if removed, err := s.Cleanup(ctx); err != nil {
		log.Printf("store: cleanup during quota recovery: %v", err)
	} else if removed > 0 {
		log.Printf("store: quota recovery expired %d sessions", removed)
	}

	size, err := s.approxSize(ctx)
	if err != nil || size <= s.maxSize {
		return
	}

	sessions, err := s.AllSessions(ctx)
	if err != nil || len(sessions) == 0 {
		return
	}
	evict := int(math.Ceil(evictFraction * float64(len(sessions))))
	// AllSessions is newest-first, so the victims are the tail.
	for _, victim := range sessions[len(sessions)-evict:] {
		log.Printf("store: FORCED EVICTION of session %d (%s, last updated %s) under storage pressure",
			victim.SessionID, victim.Status, victim.LastUpdatedAt.Format(time.RFC3339))
		_ = s.backend.Delete(ctx, s.key(victim.SessionID))
	}
}

func (s *Store) approxSize(ctx context.Context) (int, error) {
	keys, err := s.backend.Keys(ctx, s.prefix)
	if err != nil {
		return 0, err
	}
	size := 0
	for _, key := range keys {
		raw, err := s.backend.Get(ctx, key)
		if err != nil {
			continue
		}
		size += len(key) + len(raw)
	}
	return size, nil
}

func (s *Store) readMetadata(ctx context.Context) metadata {
	raw, err := s.backend.Get(ctx, s.metaKey)
	if err != nil {
		return metadata{}
	}
	var meta metadata
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		return metadata{}
	}
	return meta
}

// maybeScheduleCleanup runs after every metadata-touching write. When the
// last cleanup is stale (or never happened) it schedules an asynchronous
// pass; singleflight collapses concurrent triggers into one run.
func (s *Store) maybeScheduleCleanup(ctx context.Context) {
	meta := s.readMetadata(ctx)
	if meta.LastCleanup != nil && s.clock().Sub(*meta.LastCleanup) < s.cleanupEvery {
		return
	}
	s.schedule(func() {
		_, _, _ = s.sf.Do("cleanup", func() (interface{}, error) {
			removed, err := s.Cleanup(context.Background())
			if err != nil {
				log.Printf("store: scheduled cleanup: %v", err)
			} else if removed > 0 {
				log.Printf("store: scheduled cleanup removed %d sessions", removed)
			}
			return nil, nil
		})
	})
}
