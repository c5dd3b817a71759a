// Package session implements the session lifecycle: creation, validity
// checks and the expiry sweep that cascades deletes to dependent records.
package session

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"taxlens/internal/model"
	"taxlens/internal/store"
)

// Manager owns session identity and expiry. Cascade deletion of dependents
// is driven here rather than by foreign-key constraints, so the behavior is
// the same regardless of what the underlying store enforces.
type Manager struct {
	store store.Store
	// now is swappable in tests.
	now func() time.Time
}

// NewManager constructs a Manager over the given store.
func NewManager(s store.Store) *Manager {
	return &Manager{store: s, now: time.Now}
}

// Create persists a new session valid for ttl from now.
func (m *Manager) Create(ctx context.Context, ttl time.Duration) (*model.Session, error) {
	now := m.now().UTC()
	sess := &model.Session{
		ID:        uuid.NewString(),
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	if err := m.store.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return sess, nil
}

// IsValid reports whether the session exists and has not expired. It fails
// closed: an unknown identifier or a storage error both read as invalid.
func (m *Manager) IsValid(ctx context.Context, id string) bool {
	if id == "" {
		return false
	}
	sess, err := m.store.GetSession(ctx, id)
	if err != nil {
		return false
	}
	return sess.Valid(m.now())
}

// Get returns the session if it exists and is still valid.
func (m *Manager) Get(ctx context.Context, id string) (*model.Session, error) {
	sess, err := m.store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if !sess.Valid(m.now()) {
		return nil, store.ErrNotFound
	}
	return sess, nil
}

// ExpireSweep removes every expired session together with all of its
// dependent rows and returns the number of sessions removed. The cascade is
// a single store transaction, so a sweep never applies partially.
func (m *Manager) ExpireSweep(ctx context.Context) (int, error) {
	ids, err := m.store.ExpiredSessionIDs(ctx, m.now())
	if err != nil {
		return 0, fmt.Errorf("list expired sessions: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}
	if err := m.store.DeleteSessionsCascade(ctx, ids); err != nil {
		return 0, fmt.Errorf("cascade delete sessions: %w", err)
	}
	log.Printf("expired %d session(s)", len(ids))
	return len(ids), nil
}
