package store

import (
	"context"
	"sync"
	"time"

	"taxlens/internal/model"
)

// MemoryStore keeps every table in process memory behind one RWMutex. It
// backs tests and local development; the single lock also gives multi-row
// mutations the same all-or-nothing behavior as the Postgres transactions.
type MemoryStore struct {
	mu            sync.RWMutex
	sessions      map[string]model.Session
	documents     []model.Document
	fields        []model.FieldRecord
	calculations  []model.Calculation
	conversations []model.ConversationEntry
	nextDocID     int64
	nextFieldID   int64
	nextCalcID    int64
	nextConvID    int64
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions:    make(map[string]model.Session),
		nextDocID:   1,
		nextFieldID: 1,
		nextCalcID:  1,
		nextConvID:  1,
	}
}

func (m *MemoryStore) CreateSession(_ context.Context, s *model.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = *s
	return nil
}

func (m *MemoryStore) GetSession(_ context.Context, id string) (*model.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := sess
	return &cp, nil
}

func (m *MemoryStore) ExpiredSessionIDs(_ context.Context, now time.Time) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var ids []string
	for id, sess := range m.sessions {
		if sess.ExpiresAt.Before(now) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (m *MemoryStore) DeleteSessionsCascade(_ context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	doomed := make(map[string]bool, len(ids))
	for _, id := range ids {
		doomed[id] = true
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.documents = filterDocuments(m.documents, doomed)
	m.fields = filterFields(m.fields, doomed)
	m.calculations = filterCalculations(m.calculations, doomed)
	m.conversations = filterConversations(m.conversations, doomed)
	for _, id := range ids {
		delete(m.sessions, id)
	}
	return nil
}

func (m *MemoryStore) SaveIngestion(_ context.Context, doc *model.Document, fields []model.FieldRecord, calc *model.Calculation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc.ID = m.nextDocID
	m.nextDocID++
	m.documents = append(m.documents, *doc)
	for i := range fields {
		fields[i].ID = m.nextFieldID
		m.nextFieldID++
		m.fields = append(m.fields, fields[i])
	}
	if calc != nil {
		calc.ID = m.nextCalcID
		m.nextCalcID++
		m.calculations = append(m.calculations, *calc)
	}
	return nil
}

func (m *MemoryStore) GetDocument(_ context.Context, id int64, sessionID string) (*model.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := range m.documents {
		if m.documents[i].ID == id && m.documents[i].SessionID == sessionID {
			cp := m.documents[i]
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) DocumentsBySession(_ context.Context, sessionID string) ([]model.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var docs []model.Document
	// Insertion order is id order; walk backwards for most-recent-first.
	for i := len(m.documents) - 1; i >= 0; i-- {
		if m.documents[i].SessionID == sessionID {
			docs = append(docs, m.documents[i])
		}
	}
	return docs, nil
}

func (m *MemoryStore) DeleteDocument(_ context.Context, id int64, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.documents {
		if m.documents[i].ID == id && m.documents[i].SessionID == sessionID {
			m.documents = append(m.documents[:i], m.documents[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

func (m *MemoryStore) LiveStoredNames(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.documents))
	for i := range m.documents {
		names = append(names, m.documents[i].StoredName)
	}
	return names, nil
}

func (m *MemoryStore) FieldsBySession(_ context.Context, sessionID string) ([]model.FieldRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var fields []model.FieldRecord
	for i := len(m.fields) - 1; i >= 0; i-- {
		if m.fields[i].SessionID == sessionID {
			fields = append(fields, m.fields[i])
		}
	}
	return fields, nil
}

func (m *MemoryStore) CalculationsBySession(_ context.Context, sessionID string) ([]model.Calculation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var calcs []model.Calculation
	for i := len(m.calculations) - 1; i >= 0; i-- {
		if m.calculations[i].SessionID == sessionID {
			calcs = append(calcs, m.calculations[i])
		}
	}
	return calcs, nil
}

func (m *MemoryStore) InsertConversation(_ context.Context, e *model.ConversationEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.ID = m.nextConvID
	m.nextConvID++
	m.conversations = append(m.conversations, *e)
	return nil
}

func (m *MemoryStore) ConversationsBySession(_ context.Context, sessionID string) ([]model.ConversationEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var entries []model.ConversationEntry
	for i := range m.conversations {
		if m.conversations[i].SessionID == sessionID {
			entries = append(entries, m.conversations[i])
		}
	}
	return entries, nil
}

func filterDocuments(in []model.Document, doomed map[string]bool) []model.Document {
	out := in[:0]
	for _, d := range in {
		if !doomed[d.SessionID] {
			out = append(out, d)
		}
	}
	return out
}

func filterFields(in []model.FieldRecord, doomed map[string]bool) []model.FieldRecord {
	out := in[:0]
	for _, f := range in {
		if !doomed[f.SessionID] {
			out = append(out, f)
		}
	}
	return out
}

func filterCalculations(in []model.Calculation, doomed map[string]bool) []model.Calculation {
	out := in[:0]
	for _, c := range in {
		if !doomed[c.SessionID] {
			out = append(out, c)
		}
	}
	return out
}

func filterConversations(in []model.ConversationEntry, doomed map[string]bool) []model.ConversationEntry {
	out := in[:0]
	for _, e := range in {
		if !doomed[e.SessionID] {
			out = append(out, e)
		}
	}
	return out
}

var _ Store = (*MemoryStore)(nil)
