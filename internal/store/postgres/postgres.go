// Package postgres is a PostgreSQL store backend for deployments without Firestore.
// Messages live in a JSONB array so an append stays a single atomic statement.
package postgres

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/docvisionai/backend/internal/model/chat"
	"github.com/docvisionai/backend/internal/model/report"
	"github.com/docvisionai/backend/internal/store"
)

//go:embed schema.sql
var schema string

const uniqueViolation = "23505"

// Store implements store.Backend over a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

var _ store.Backend = (*Store)(nil)

// Open connects, pings and applies the schema.
func Open(ctx context.Context, url string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse db url: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{pool: pool}, nil
}

func (s *Store) CreateSession(ctx context.Context, userID, patientID, sessionID string) (chat.Session, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO conversation_sessions (user_id, patient_id, session_id)
		VALUES ($1, $2, $3)
		RETURNING session_id, session_start, messages, reports_included, last_fetch_time`,
		userID, patientID, sessionID)

	session, err := scanSession(row, userID, patientID)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return chat.Session{}, fmt.Errorf("%w: %s", store.ErrSessionExists, sessionID)
	}
	if err != nil {
		return chat.Session{}, fmt.Errorf("create session %s: %w", sessionID, err)
	}
	return session, nil
}

func (s *Store) LatestSession(ctx context.Context, userID, patientID string) (chat.Session, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT session_id, session_start, messages, reports_included, last_fetch_time
		FROM conversation_sessions
		WHERE user_id = $1 AND patient_id = $2
		ORDER BY session_start DESC, session_id DESC
		LIMIT 1`,
		userID, patientID)

	session, err := scanSession(row, userID, patientID)
	if errors.Is(err, pgx.ErrNoRows) {
		return chat.Session{}, store.ErrSessionNotFound
	}
	if err != nil {
		return chat.Session{}, fmt.Errorf("query latest session: %w", err)
	}
	return session, nil
}

func (s *Store) GetSession(ctx context.Context, userID, patientID, sessionID string) (chat.Session, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT session_id, session_start, messages, reports_included, last_fetch_time
		FROM conversation_sessions
		WHERE user_id = $1 AND patient_id = $2 AND session_id = $3`,
		userID, patientID, sessionID)

	session, err := scanSession(row, userID, patientID)
	if errors.Is(err, pgx.ErrNoRows) {
		return chat.Session{}, store.ErrSessionNotFound
	}
	if err != nil {
		return chat.Session{}, fmt.Errorf("get session %s: %w", sessionID, err)
	}
	return session, nil
}

func (s *Store) AppendMessage(ctx context.Context, userID, patientID, sessionID string, message chat.Message) error {
	payload, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	return s.exec(ctx, `
		UPDATE conversation_sessions
		SET messages = messages || jsonb_build_array($4::jsonb)
		WHERE user_id = $1 AND patient_id = $2 AND session_id = $3`,
		userID, patientID, sessionID, string(payload))
}

func (s *Store) TouchLastFetch(ctx context.Context, userID, patientID, sessionID string) error {
	return s.exec(ctx, `
		UPDATE conversation_sessions
		SET last_fetch_time = now()
		WHERE user_id = $1 AND patient_id = $2 AND session_id = $3`,
		userID, patientID, sessionID)
}

func (s *Store) MarkReportsIncluded(ctx context.Context, userID, patientID, sessionID string) error {
	return s.exec(ctx, `
		UPDATE conversation_sessions
		SET reports_included = true, last_fetch_time = now()
		WHERE user_id = $1 AND patient_id = $2 AND session_id = $3`,
		userID, patientID, sessionID)
}

func (s *Store) exec(ctx context.Context, sql string, args ...any) error {
	tag, err := s.pool.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrSessionNotFound
	}
	return nil
}

func (s *Store) ListReports(ctx context.Context, patientID string, after *time.Time) ([]report.RadiologyReport, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT report_id, patient_name, report_date, created_at, type_of_study, clinical_history,
		       airways, left_lung, right_lung, pleura, impression, technique
		FROM radiology_reports
		WHERE patient_id = $1 AND ($2::timestamptz IS NULL OR created_at > $2)
		ORDER BY report_id`,
		patientID, after)
	if err != nil {
		return nil, fmt.Errorf("list reports for patient %s: %w", patientID, err)
	}
	defer rows.Close()

	var reports []report.RadiologyReport
	for rows.Next() {
		var r report.RadiologyReport
		if err := rows.Scan(&r.ID, &r.PatientName, &r.ReportDate, &r.CreatedAt, &r.TypeOfStudy,
			&r.ClinicalHistory, &r.Airways, &r.LeftLung, &r.RightLung, &r.Pleura, &r.Impression, &r.Technique); err != nil {
			return nil, fmt.Errorf("scan report: %w", err)
		}
		reports = append(reports, r)
	}
	return reports, rows.Err()
}

// InsertReport writes a report row. Ingestion normally happens elsewhere; tests and
// the seeding tool use this.
func (s *Store) InsertReport(ctx context.Context, patientID string, r report.RadiologyReport) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO radiology_reports (patient_id, report_id, patient_name, report_date, created_at,
		    type_of_study, clinical_history, airways, left_lung, right_lung, pleura, impression, technique)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		patientID, r.ID, r.PatientName, r.ReportDate, r.CreatedAt, r.TypeOfStudy, r.ClinicalHistory,
		r.Airways, r.LeftLung, r.RightLung, r.Pleura, r.Impression, r.Technique)
	if err != nil {
		return fmt.Errorf("insert report %s: %w", r.ID, err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func scanSession(row pgx.Row, userID, patientID string) (chat.Session, error) {
	var (
		session  chat.Session
		messages []byte
	)
	if err := row.Scan(&session.ID, &session.SessionStart, &messages, &session.ReportsIncluded, &session.LastFetchTime); err != nil {
		return chat.Session{}, err
	}
	if err := json.Unmarshal(messages, &session.Messages); err != nil {
		return chat.Session{}, fmt.Errorf("decode messages: %w", err)
	}
	session.UserID = userID
	session.PatientID = patientID
	return session, nil
}
