// Package firestore stores conversations and reads radiology reports in Cloud Firestore,
// using the same collection layout the clinical front-end writes to.
package firestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/docvisionai/backend/internal/model/chat"
	"github.com/docvisionai/backend/internal/model/report"
	"github.com/docvisionai/backend/internal/store"
)

const (
	usersCollection         = "Users"
	patientsSubcollection   = "patients"
	conversationsCollection = "conversations"
	patientsCollection      = "Patients"
	reportsCollection       = "RadiologyReports"

	fieldSessionStart    = "sessionStart"
	fieldMessages        = "messages"
	fieldReportsIncluded = "reports_included"
	fieldLastFetchTime   = "last_fetch_time"
	fieldCreatedAt       = "created_at"
)

// Config selects the project and service-account credentials.
type Config struct {
	ProjectID       string
	CredentialsPath string
}

// Store implements store.Backend on top of a Firestore client.
type Store struct {
	client *firestore.Client
}

var _ store.Backend = (*Store)(nil)

// Open dials Firestore. An empty ProjectID lets the client detect it from the credentials.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	projectID := cfg.ProjectID
	if projectID == "" {
		projectID = firestore.DetectProjectID
	}

	var opts []option.ClientOption
	if cfg.CredentialsPath != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsPath))
	}

	client, err := firestore.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("create firestore client: %w", err)
	}
	return &Store{client: client}, nil
}

// sessionDoc mirrors a conversations/{sessionID} document.
type sessionDoc struct {
	SessionStart    time.Time    `firestore:"sessionStart"`
	Messages        []messageDoc `firestore:"messages"`
	ReportsIncluded bool         `firestore:"reports_included"`
	LastFetchTime   time.Time    `firestore:"last_fetch_time"`
}

// messageDoc keeps the timestamp as an ISO-8601 string, as existing documents do.
type messageDoc struct {
	ID        string `firestore:"id,omitempty"`
	Role      string `firestore:"role"`
	Content   string `firestore:"content"`
	Timestamp string `firestore:"timestamp"`
}

func (s *Store) conversations(userID, patientID string) *firestore.CollectionRef {
	return s.client.Collection(usersCollection).Doc(userID).
		Collection(patientsSubcollection).Doc(patientID).
		Collection(conversationsCollection)
}

func (s *Store) CreateSession(ctx context.Context, userID, patientID, sessionID string) (chat.Session, error) {
	ref := s.conversations(userID, patientID).Doc(sessionID)
	_, err := ref.Create(ctx, map[string]any{
		fieldSessionStart:    firestore.ServerTimestamp,
		fieldMessages:        []any{},
		fieldReportsIncluded: false,
		fieldLastFetchTime:   firestore.ServerTimestamp,
	})
	if status.Code(err) == codes.AlreadyExists {
		return chat.Session{}, fmt.Errorf("%w: %s", store.ErrSessionExists, sessionID)
	}
	if err != nil {
		return chat.Session{}, fmt.Errorf("create session %s: %w", sessionID, err)
	}

	// Read back so the server-assigned timestamps are visible to the caller.
	return s.GetSession(ctx, userID, patientID, sessionID)
}

func (s *Store) LatestSession(ctx context.Context, userID, patientID string) (chat.Session, error) {
	iter := s.conversations(userID, patientID).
		OrderBy(fieldSessionStart, firestore.Desc).
		Limit(1).
		Documents(ctx)
	defer iter.Stop()

	snap, err := iter.Next()
	if errors.Is(err, iterator.Done) {
		return chat.Session{}, store.ErrSessionNotFound
	}
	if err != nil {
		return chat.Session{}, fmt.Errorf("query latest session: %w", err)
	}
	return decodeSession(snap, userID, patientID)
}

func (s *Store) GetSession(ctx context.Context, userID, patientID, sessionID string) (chat.Session, error) {
	snap, err := s.conversations(userID, patientID).Doc(sessionID).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return chat.Session{}, store.ErrSessionNotFound
	}
	if err != nil {
		return chat.Session{}, fmt.Errorf("get session %s: %w", sessionID, err)
	}
	return decodeSession(snap, userID, patientID)
}

func (s *Store) AppendMessage(ctx context.Context, userID, patientID, sessionID string, message chat.Message) error {
	doc := messageDoc{
		ID:        message.ID,
		Role:      message.Role,
		Content:   message.Content,
		Timestamp: message.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	return s.update(ctx, userID, patientID, sessionID, []firestore.Update{
		{Path: fieldMessages, Value: firestore.ArrayUnion(doc)},
	})
}

func (s *Store) TouchLastFetch(ctx context.Context, userID, patientID, sessionID string) error {
	return s.update(ctx, userID, patientID, sessionID, []firestore.Update{
		{Path: fieldLastFetchTime, Value: firestore.ServerTimestamp},
	})
}

func (s *Store) MarkReportsIncluded(ctx context.Context, userID, patientID, sessionID string) error {
	return s.update(ctx, userID, patientID, sessionID, []firestore.Update{
		{Path: fieldReportsIncluded, Value: true},
		{Path: fieldLastFetchTime, Value: firestore.ServerTimestamp},
	})
}

func (s *Store) update(ctx context.Context, userID, patientID, sessionID string, updates []firestore.Update) error {
	_, err := s.conversations(userID, patientID).Doc(sessionID).Update(ctx, updates)
	if status.Code(err) == codes.NotFound {
		return store.ErrSessionNotFound
	}
	if err != nil {
		return fmt.Errorf("update session %s: %w", sessionID, err)
	}
	return nil
}

func (s *Store) ListReports(ctx context.Context, patientID string, after *time.Time) ([]report.RadiologyReport, error) {
	query := s.client.Collection(patientsCollection).Doc(patientID).Collection(reportsCollection).Query
	if after != nil {
		query = query.Where(fieldCreatedAt, ">", *after)
	}

	snaps, err := query.Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("list reports for patient %s: %w", patientID, err)
	}

	reports := make([]report.RadiologyReport, 0, len(snaps))
	for _, snap := range snaps {
		reports = append(reports, decodeReport(snap.Ref.ID, snap.Data()))
	}
	return reports, nil
}

// Ping lists at most one root collection to prove the credentials work.
func (s *Store) Ping(ctx context.Context) error {
	iter := s.client.Collections(ctx)
	if _, err := iter.Next(); err != nil && !errors.Is(err, iterator.Done) {
		return fmt.Errorf("ping firestore: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

func decodeSession(snap *firestore.DocumentSnapshot, userID, patientID string) (chat.Session, error) {
	var doc sessionDoc
	if err := snap.DataTo(&doc); err != nil {
		return chat.Session{}, fmt.Errorf("decode session %s: %w", snap.Ref.ID, err)
	}

	messages := make([]chat.Message, 0, len(doc.Messages))
	for _, m := range doc.Messages {
		messages = append(messages, chat.Message{
			ID:        m.ID,
			Role:      m.Role,
			Content:   m.Content,
			CreatedAt: parseMessageTime(m.Timestamp),
		})
	}

	return chat.Session{
		ID:              snap.Ref.ID,
		UserID:          userID,
		PatientID:       patientID,
		SessionStart:    doc.SessionStart,
		Messages:        messages,
		ReportsIncluded: doc.ReportsIncluded,
		LastFetchTime:   doc.LastFetchTime,
	}, nil
}

// parseMessageTime reads RFC 3339 timestamps. Older documents were written with
// Python's isoformat(), which carries no zone; those are read as UTC.
func parseMessageTime(value string) time.Time {
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t
	}
	t, _ := time.Parse("2006-01-02T15:04:05.999999", value)
	return t
}

func decodeReport(id string, data map[string]any) report.RadiologyReport {
	createdAt, _ := data[fieldCreatedAt].(time.Time)
	return report.RadiologyReport{
		ID:              id,
		PatientName:     stringField(data, "patientName"),
		ReportDate:      stringField(data, "reportDate"),
		CreatedAt:       createdAt,
		TypeOfStudy:     stringField(data, "typeOfStudy"),
		ClinicalHistory: stringField(data, "clinicalHistory"),
		Airways:         stringField(data, "airways"),
		LeftLung:        stringField(data, "leftLung"),
		RightLung:       stringField(data, "rightLung"),
		Pleura:          stringField(data, "pleura"),
		Impression:      stringField(data, "impression"),
		Technique:       stringField(data, "technique"),
	}
}

// stringField tolerates the mix of strings and timestamps the ingestion side writes.
func stringField(data map[string]any, key string) string {
	switch v := data[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case time.Time:
		return v.UTC().Format(time.RFC3339)
	default:
		return fmt.Sprint(v)
	}
}
