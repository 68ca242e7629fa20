package qa

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"

	"github.com/docvisionai/backend/internal/model/chat"
	"github.com/docvisionai/backend/internal/model/report"
	"github.com/docvisionai/backend/internal/service/ai"
	chatService "github.com/docvisionai/backend/internal/service/chat"
)

// NoReportsMessage is answered when a fresh session finds no reports for the patient.
const NoReportsMessage = "No reports found for this patient."

// Completer is the model side of a question.
type Completer interface {
	Complete(ctx context.Context, history []chat.Message, prompt string) (string, error)
	Stream(ctx context.Context, history []chat.Message, prompt string) (*schema.StreamReader[*schema.Message], error)
}

// Sessions is the part of the session adapter the orchestrator needs.
type Sessions interface {
	CurrentSession(ctx context.Context, userID, patientID string) (chat.Session, error)
	History(ctx context.Context, userID, patientID, sessionID string) ([]chat.Message, error)
	SaveMessage(ctx context.Context, userID, patientID, sessionID, role, content string) (string, error)
	TouchLastFetch(ctx context.Context, userID, patientID, sessionID string) error
	MarkReportsIncluded(ctx context.Context, userID, patientID, sessionID string) error
	Reports(ctx context.Context, patientID string, after *time.Time) ([]report.RadiologyReport, error)
}

var _ Sessions = (*chatService.Service)(nil)

// Request is one radiologist question about a patient.
type Request struct {
	UserID    string `json:"user_id"`
	PatientID string `json:"patient_id"`
	Question  string `json:"question"`
}

// Validate reports every blank field at once.
func (r Request) Validate() error {
	var missing []string
	if strings.TrimSpace(r.UserID) == "" {
		missing = append(missing, "user_id")
	}
	if strings.TrimSpace(r.PatientID) == "" {
		missing = append(missing, "patient_id")
	}
	if strings.TrimSpace(r.Question) == "" {
		missing = append(missing, "question")
	}
	if len(missing) > 0 {
		return &ValidationError{Missing: missing}
	}
	return nil
}

// ValidationError lists the request fields that were absent or blank.
type ValidationError struct {
	Missing []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("Missing %s in request", strings.Join(e.Missing, ", "))
}

// IsValidation reports whether err is a request validation failure.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Answer is the assistant reply and the session it was recorded in.
// SessionID is empty when nothing was persisted.
type Answer struct {
	SessionID string `json:"session_id,omitempty"`
	Reply     string `json:"reply"`
}

// Service answers questions grounded in a patient's radiology reports.
type Service struct {
	sessions  Sessions
	completer Completer
	logger    *slog.Logger
}

// NewService wires the orchestrator.
func NewService(sessions Sessions, completer Completer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{sessions: sessions, completer: completer, logger: logger}
}

// turn is the prepared state of one question before the model is called.
type turn struct {
	req       Request
	sessionID string
	history   []chat.Message
	prompt    string
	noReports bool
}

// Ask answers a question with a single non-streaming completion.
func (s *Service) Ask(ctx context.Context, req Request) (Answer, error) {
	t, err := s.prepare(ctx, req)
	if err != nil {
		return Answer{}, err
	}
	if t.noReports {
		return Answer{Reply: NoReportsMessage}, nil
	}

	reply, err := s.completer.Complete(ctx, t.history, t.prompt)
	if err != nil {
		return Answer{}, fmt.Errorf("completion failed: %w", err)
	}
	return s.persist(ctx, t, reply)
}

// AskStream is Ask with the reply handed to onDelta as it is generated.
// The full reply is persisted once the stream ends.
func (s *Service) AskStream(ctx context.Context, req Request, onDelta func(string) error) (Answer, error) {
	t, err := s.prepare(ctx, req)
	if err != nil {
		return Answer{}, err
	}
	if t.noReports {
		if err := onDelta(NoReportsMessage); err != nil {
			return Answer{}, err
		}
		return Answer{Reply: NoReportsMessage}, nil
	}

	stream, err := s.completer.Stream(ctx, t.history, t.prompt)
	if err != nil {
		return Answer{}, fmt.Errorf("completion failed: %w", err)
	}
	defer stream.Close()

	var reply strings.Builder
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Answer{}, fmt.Errorf("completion stream failed: %w", err)
		}
		if chunk == nil || chunk.Content == "" {
			continue
		}
		reply.WriteString(chunk.Content)
		if err := onDelta(chunk.Content); err != nil {
			return Answer{}, err
		}
	}
	return s.persist(ctx, t, reply.String())
}

func (s *Service) prepare(ctx context.Context, req Request) (turn, error) {
	if err := req.Validate(); err != nil {
		return turn{}, err
	}

	session, err := s.sessions.CurrentSession(ctx, req.UserID, req.PatientID)
	if err != nil {
		return turn{}, err
	}
	history, err := s.sessions.History(ctx, req.UserID, req.PatientID, session.ID)
	if err != nil {
		return turn{}, fmt.Errorf("load history: %w", err)
	}

	t := turn{req: req, sessionID: session.ID, history: history}

	if !session.ReportsIncluded {
		reports, err := s.sessions.Reports(ctx, req.PatientID, nil)
		if err != nil {
			return turn{}, err
		}
		if len(reports) == 0 {
			s.logger.InfoContext(ctx, "no reports for patient", "patient_id", req.PatientID)
			t.noReports = true
			return t, nil
		}
		t.prompt = ai.BuildReportPrompt(req.PatientID, req.Question, reports)
		if err := s.sessions.MarkReportsIncluded(ctx, req.UserID, req.PatientID, session.ID); err != nil {
			return turn{}, err
		}
		s.logger.InfoContext(ctx, "included patient reports in prompt", "session_id", session.ID, "reports", len(reports))
		return t, nil
	}

	var after *time.Time
	if !session.LastFetchTime.IsZero() {
		last := session.LastFetchTime
		after = &last
	}
	fresh, err := s.sessions.Reports(ctx, req.PatientID, after)
	if err != nil {
		return turn{}, err
	}
	if len(fresh) == 0 {
		t.prompt = req.Question
		return t, nil
	}

	all, err := s.sessions.Reports(ctx, req.PatientID, nil)
	if err != nil {
		return turn{}, err
	}
	t.prompt = ai.BuildReportPrompt(req.PatientID, req.Question, all)
	if err := s.sessions.TouchLastFetch(ctx, req.UserID, req.PatientID, session.ID); err != nil {
		return turn{}, err
	}
	s.logger.InfoContext(ctx, "new reports since last fetch", "session_id", session.ID, "new", len(fresh), "total", len(all))
	return t, nil
}

func (s *Service) persist(ctx context.Context, t turn, reply string) (Answer, error) {
	sessionID, err := s.sessions.SaveMessage(ctx, t.req.UserID, t.req.PatientID, t.sessionID, chat.RoleUser, t.prompt)
	if err != nil {
		return Answer{}, fmt.Errorf("save question: %w", err)
	}
	sessionID, err = s.sessions.SaveMessage(ctx, t.req.UserID, t.req.PatientID, sessionID, chat.RoleAssistant, reply)
	if err != nil {
		return Answer{}, fmt.Errorf("save reply: %w", err)
	}
	return Answer{SessionID: sessionID, Reply: reply}, nil
}
