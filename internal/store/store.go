// Package store defines the persistence contracts shared by the conversation
// and report backends.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/docvisionai/backend/internal/model/chat"
	"github.com/docvisionai/backend/internal/model/report"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExists   = errors.New("session already exists")
)

// ConversationStore persists sessions under Users/{user}/patients/{patient}.
//
// Implementations keep each operation to a single document write or a single
// ordered query. AppendMessage must be atomic with respect to other appends on
// the same session; nothing else is.
type ConversationStore interface {
	CreateSession(ctx context.Context, userID, patientID, sessionID string) (chat.Session, error)
	LatestSession(ctx context.Context, userID, patientID string) (chat.Session, error)
	GetSession(ctx context.Context, userID, patientID, sessionID string) (chat.Session, error)
	AppendMessage(ctx context.Context, userID, patientID, sessionID string, message chat.Message) error
	TouchLastFetch(ctx context.Context, userID, patientID, sessionID string) error
	MarkReportsIncluded(ctx context.Context, userID, patientID, sessionID string) error
}

// ReportStore reads radiology reports for a patient. A nil after returns every
// report; otherwise only reports created strictly after it.
type ReportStore interface {
	ListReports(ctx context.Context, patientID string, after *time.Time) ([]report.RadiologyReport, error)
}

// Backend is what the services need from a storage driver.
type Backend interface {
	ConversationStore
	ReportStore
	Ping(ctx context.Context) error
	Close() error
}
