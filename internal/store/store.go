// Package store defines the record store over the five session-scoped
// entities. Two implementations exist: a Postgres-backed one for production
// and an in-memory one for tests and local development.
package store

import (
	"context"
	"errors"
	"time"

	"taxlens/internal/model"
)

// ErrNotFound is returned when a keyed lookup matches no row.
var ErrNotFound = errors.New("not found")

// Store is the record store. Multi-row mutations (DeleteSessionsCascade,
// SaveIngestion) are atomic: they either apply completely or not at all.
type Store interface {
	CreateSession(ctx context.Context, s *model.Session) error
	GetSession(ctx context.Context, id string) (*model.Session, error)
	// ExpiredSessionIDs lists sessions with expires_at < now.
	ExpiredSessionIDs(ctx context.Context, now time.Time) ([]string, error)
	// DeleteSessionsCascade removes every dependent row scoped to the given
	// sessions and then the session rows themselves, as one transaction.
	DeleteSessionsCascade(ctx context.Context, ids []string) error

	// SaveIngestion persists one upload's document row, extracted field rows
	// and calculation in a single transaction, filling in generated IDs.
	SaveIngestion(ctx context.Context, doc *model.Document, fields []model.FieldRecord, calc *model.Calculation) error

	GetDocument(ctx context.Context, id int64, sessionID string) (*model.Document, error)
	DocumentsBySession(ctx context.Context, sessionID string) ([]model.Document, error)
	DeleteDocument(ctx context.Context, id int64, sessionID string) error
	// LiveStoredNames enumerates the storage locators referenced by every
	// document row, across all sessions.
	LiveStoredNames(ctx context.Context) ([]string, error)

	FieldsBySession(ctx context.Context, sessionID string) ([]model.FieldRecord, error)
	CalculationsBySession(ctx context.Context, sessionID string) ([]model.Calculation, error)

	InsertConversation(ctx context.Context, e *model.ConversationEntry) error
	ConversationsBySession(ctx context.Context, sessionID string) ([]model.ConversationEntry, error)
}
