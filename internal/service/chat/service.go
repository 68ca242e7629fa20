package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/docvisionai/backend/internal/model/chat"
	"github.com/docvisionai/backend/internal/model/report"
	"github.com/docvisionai/backend/internal/store"
)

// SessionSizeLimit is the most message content a session document may hold,
// one Firestore document's worth.
const SessionSizeLimit = 1 << 20

// Service manages the conversation sessions of a user/patient pair on top of a store.
type Service struct {
	conversations store.ConversationStore
	reports       store.ReportStore
	now           func() time.Time
	logger        *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the clock used for session IDs and message timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLogger sets the logger; slog.Default() is used otherwise.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// NewService wires the adapter to its backing stores.
func NewService(conversations store.ConversationStore, reports store.ReportStore, opts ...Option) *Service {
	s := &Service{
		conversations: conversations,
		reports:       reports,
		now:           func() time.Time { return time.Now().UTC() },
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewSessionID derives a session identifier from t.
func NewSessionID(t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("session_%s%06d", t.Format("20060102150405"), t.Nanosecond()/int(time.Microsecond))
}

// StartSession creates a fresh session for the pair.
func (s *Service) StartSession(ctx context.Context, userID, patientID string) (chat.Session, error) {
	sessionID := NewSessionID(s.now())
	session, err := s.conversations.CreateSession(ctx, userID, patientID, sessionID)
	if err != nil {
		return chat.Session{}, err
	}
	s.logger.Info("started new session", "session_id", session.ID, "user_id", userID, "patient_id", patientID)
	return session, nil
}

// CurrentSession returns the most recently started session, creating one if none exists.
func (s *Service) CurrentSession(ctx context.Context, userID, patientID string) (chat.Session, error) {
	session, err := s.conversations.LatestSession(ctx, userID, patientID)
	if errors.Is(err, store.ErrSessionNotFound) {
		s.logger.Info("no existing session, starting a new one", "user_id", userID, "patient_id", patientID)
		return s.StartSession(ctx, userID, patientID)
	}
	if err != nil {
		return chat.Session{}, fmt.Errorf("resolve current session: %w", err)
	}
	s.logger.Debug("using existing session", "session_id", session.ID)
	return session, nil
}

// LatestSession returns the most recently started session without creating one;
// store.ErrSessionNotFound when the pair has none.
func (s *Service) LatestSession(ctx context.Context, userID, patientID string) (chat.Session, error) {
	session, err := s.conversations.LatestSession(ctx, userID, patientID)
	if err != nil {
		return chat.Session{}, fmt.Errorf("resolve latest session: %w", err)
	}
	return session, nil
}

// History returns the messages of a session; a missing session has no history.
func (s *Service) History(ctx context.Context, userID, patientID, sessionID string) ([]chat.Message, error) {
	session, err := s.conversations.GetSession(ctx, userID, patientID, sessionID)
	if errors.Is(err, store.ErrSessionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return session.Messages, nil
}

// SaveMessage appends a message to sessionID. When the session's accumulated content
// plus this message would exceed SessionSizeLimit, a new session is started and the
// message goes there instead. The ID of the session that received it is returned.
func (s *Service) SaveMessage(ctx context.Context, userID, patientID, sessionID, role, content string) (string, error) {
	session, err := s.conversations.GetSession(ctx, userID, patientID, sessionID)
	if err != nil {
		return "", fmt.Errorf("load session %s: %w", sessionID, err)
	}

	if session.ContentSize()+len(content) > SessionSizeLimit {
		s.logger.Info("session is too large, starting a new session", "session_id", sessionID)
		next, err := s.StartSession(ctx, userID, patientID)
		if err != nil {
			return "", fmt.Errorf("roll over session %s: %w", sessionID, err)
		}
		sessionID = next.ID
	}

	message := chat.Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		CreatedAt: s.now(),
	}
	if err := s.conversations.AppendMessage(ctx, userID, patientID, sessionID, message); err != nil {
		return "", fmt.Errorf("append message to %s: %w", sessionID, err)
	}
	return sessionID, nil
}

// TouchLastFetch records that reports were checked just now.
func (s *Service) TouchLastFetch(ctx context.Context, userID, patientID, sessionID string) error {
	if err := s.conversations.TouchLastFetch(ctx, userID, patientID, sessionID); err != nil {
		return fmt.Errorf("update last fetch time: %w", err)
	}
	s.logger.Debug("updated last fetch time", "session_id", sessionID)
	return nil
}

// MarkReportsIncluded flags the session as carrying the patient's reports.
func (s *Service) MarkReportsIncluded(ctx context.Context, userID, patientID, sessionID string) error {
	if err := s.conversations.MarkReportsIncluded(ctx, userID, patientID, sessionID); err != nil {
		return fmt.Errorf("mark reports included: %w", err)
	}
	return nil
}

// Reports lists the patient's reports, optionally only those created after a moment.
func (s *Service) Reports(ctx context.Context, patientID string, after *time.Time) ([]report.RadiologyReport, error) {
	reports, err := s.reports.ListReports(ctx, patientID, after)
	if err != nil {
		return nil, fmt.Errorf("retrieve reports: %w", err)
	}
	s.logger.Info("retrieved reports", "patient_id", patientID, "count", len(reports), "delta", after != nil)
	return reports, nil
}
