// Package memory is an in-process store backend suitable for tests and local runs.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/docvisionai/backend/internal/model/chat"
	"github.com/docvisionai/backend/internal/model/report"
	"github.com/docvisionai/backend/internal/store"
)

// Store keeps sessions and reports in maps guarded by a single RWMutex.
type Store struct {
	mu       sync.RWMutex
	now      func() time.Time
	sessions map[string]map[string]*chat.Session
	reports  map[string]map[string]report.RadiologyReport
}

var _ store.Backend = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithClock replaces the server clock used for sessionStart / last_fetch_time.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New returns an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		now:      func() time.Time { return time.Now().UTC() },
		sessions: make(map[string]map[string]*chat.Session),
		reports:  make(map[string]map[string]report.RadiologyReport),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func ownerKey(userID, patientID string) string {
	return userID + "/" + patientID
}

// AddReport stores or replaces a report. A zero CreatedAt gets the store clock.
func (s *Store) AddReport(patientID string, r report.RadiologyReport) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now()
	}
	if s.reports[patientID] == nil {
		s.reports[patientID] = make(map[string]report.RadiologyReport)
	}
	s.reports[patientID][r.ID] = r
}

func (s *Store) CreateSession(_ context.Context, userID, patientID, sessionID string) (chat.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := ownerKey(userID, patientID)
	if s.sessions[key] == nil {
		s.sessions[key] = make(map[string]*chat.Session)
	}
	if _, ok := s.sessions[key][sessionID]; ok {
		return chat.Session{}, fmt.Errorf("%w: %s", store.ErrSessionExists, sessionID)
	}

	now := s.now()
	session := &chat.Session{
		ID:            sessionID,
		UserID:        userID,
		PatientID:     patientID,
		SessionStart:  now,
		Messages:      make([]chat.Message, 0, 16),
		LastFetchTime: now,
	}
	s.sessions[key][sessionID] = session
	return copySession(session), nil
}

func (s *Store) LatestSession(_ context.Context, userID, patientID string) (chat.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *chat.Session
	for _, candidate := range s.sessions[ownerKey(userID, patientID)] {
		if latest == nil ||
			candidate.SessionStart.After(latest.SessionStart) ||
			(candidate.SessionStart.Equal(latest.SessionStart) && candidate.ID > latest.ID) {
			latest = candidate
		}
	}
	if latest == nil {
		return chat.Session{}, store.ErrSessionNotFound
	}
	return copySession(latest), nil
}

func (s *Store) GetSession(_ context.Context, userID, patientID, sessionID string) (chat.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[ownerKey(userID, patientID)][sessionID]
	if !ok {
		return chat.Session{}, store.ErrSessionNotFound
	}
	return copySession(session), nil
}

func (s *Store) AppendMessage(_ context.Context, userID, patientID, sessionID string, message chat.Message) error {
	return s.update(userID, patientID, sessionID, func(session *chat.Session) {
		session.Messages = append(session.Messages, message)
	})
}

func (s *Store) TouchLastFetch(_ context.Context, userID, patientID, sessionID string) error {
	return s.update(userID, patientID, sessionID, func(session *chat.Session) {
		session.LastFetchTime = s.now()
	})
}

func (s *Store) MarkReportsIncluded(_ context.Context, userID, patientID, sessionID string) error {
	return s.update(userID, patientID, sessionID, func(session *chat.Session) {
		session.ReportsIncluded = true
		session.LastFetchTime = s.now()
	})
}

func (s *Store) update(userID, patientID, sessionID string, mutate func(*chat.Session)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[ownerKey(userID, patientID)][sessionID]
	if !ok {
		return store.ErrSessionNotFound
	}
	mutate(session)
	return nil
}

// ListReports returns reports ordered by report ID, the order Firestore uses
// for an unordered collection scan.
func (s *Store) ListReports(_ context.Context, patientID string, after *time.Time) ([]report.RadiologyReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	reports := make([]report.RadiologyReport, 0, len(s.reports[patientID]))
	for _, r := range s.reports[patientID] {
		if after != nil && !r.CreatedAt.After(*after) {
			continue
		}
		reports = append(reports, r)
	}
	sort.Slice(reports, func(i, j int) bool { return reports[i].ID < reports[j].ID })
	return reports, nil
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close() error { return nil }

func copySession(session *chat.Session) chat.Session {
	copied := *session
	copied.Messages = make([]chat.Message, len(session.Messages))
	copy(copied.Messages, session.Messages)
	return copied
}
