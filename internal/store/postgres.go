package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"taxlens/internal/model"
)

// PostgresStore wraps all SQL used throughout the API and worker.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore constructs a store over the given pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) CreateSession(ctx context.Context, sess *model.Session) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sessions (id, created_at, expires_at) VALUES ($1,$2,$3)
	`, sess.ID, sess.CreatedAt, sess.ExpiresAt)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetSession(ctx context.Context, id string) (*model.Session, error) {
	var sess model.Session
	row := s.pool.QueryRow(ctx, `
		SELECT id, created_at, expires_at FROM sessions WHERE id=$1
	`, id)
	if err := row.Scan(&sess.ID, &sess.CreatedAt, &sess.ExpiresAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("select session: %w", err)
	}
	return &sess, nil
}

func (s *PostgresStore) ExpiredSessionIDs(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id FROM sessions WHERE expires_at < $1
	`, now)
	if err != nil {
		return nil, fmt.Errorf("select expired sessions: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan session id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteSessionsCascade removes dependents before the session rows so a
// stricter store never observes a dependent referencing a vanished session.
func (s *PostgresStore) DeleteSessionsCascade(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin cascade delete: %w", err)
	}
	defer tx.Rollback(ctx)
	for _, table := range []string{"field_records", "calculations", "conversations", "documents"} {
		stmt := fmt.Sprintf(`DELETE FROM %s WHERE session_id = ANY($1)`, table)
		if _, err := tx.Exec(ctx, stmt, ids); err != nil {
			return fmt.Errorf("delete %s: %w", table, err)
		}
	}
	if _, err := tx.Exec(ctx, `DELETE FROM sessions WHERE id = ANY($1)`, ids); err != nil {
		return fmt.Errorf("delete sessions: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) SaveIngestion(ctx context.Context, doc *model.Document, fields []model.FieldRecord, calc *model.Calculation) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin ingestion: %w", err)
	}
	defer tx.Rollback(ctx)
	row := tx.QueryRow(ctx, `
		INSERT INTO documents (session_id, file_name, stored_name, class, uploaded_at)
		VALUES ($1,$2,$3,$4,$5) RETURNING id
	`, doc.SessionID, doc.FileName, doc.StoredName, doc.Class, doc.UploadedAt)
	if err := row.Scan(&doc.ID); err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	for i := range fields {
		f := &fields[i]
		row := tx.QueryRow(ctx, `
			INSERT INTO field_records (session_id, category, name, value, recorded_at)
			VALUES ($1,$2,$3,$4,$5) RETURNING id
		`, f.SessionID, f.Category, f.Name, f.Value, f.RecordedAt)
		if err := row.Scan(&f.ID); err != nil {
			return fmt.Errorf("insert field %s: %w", f.Name, err)
		}
	}
	if calc != nil {
		var subject sql.NullString
		if calc.SubjectName != "" {
			subject = sql.NullString{String: calc.SubjectName, Valid: true}
		}
		row := tx.QueryRow(ctx, `
			INSERT INTO calculations (session_id, gross_income, old_regime_tax, new_regime_tax, total_deductions, net_tax, subject_name, calculated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8) RETURNING id
		`, calc.SessionID, calc.GrossIncome, calc.OldRegimeTax, calc.NewRegimeTax, calc.TotalDeductions, calc.NetTax, subject, calc.CalculatedAt)
		if err := row.Scan(&calc.ID); err != nil {
			return fmt.Errorf("insert calculation: %w", err)
		}
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) GetDocument(ctx context.Context, id int64, sessionID string) (*model.Document, error) {
	var doc model.Document
	row := s.pool.QueryRow(ctx, `
		SELECT id, session_id, file_name, stored_name, class, uploaded_at
		FROM documents WHERE id=$1 AND session_id=$2
	`, id, sessionID)
	if err := row.Scan(&doc.ID, &doc.SessionID, &doc.FileName, &doc.StoredName, &doc.Class, &doc.UploadedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("select document: %w", err)
	}
	return &doc, nil
}

func (s *PostgresStore) DocumentsBySession(ctx context.Context, sessionID string) ([]model.Document, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, session_id, file_name, stored_name, class, uploaded_at
		FROM documents WHERE session_id=$1 ORDER BY id DESC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("select documents: %w", err)
	}
	defer rows.Close()
	var docs []model.Document
	for rows.Next() {
		var doc model.Document
		if err := rows.Scan(&doc.ID, &doc.SessionID, &doc.FileName, &doc.StoredName, &doc.Class, &doc.UploadedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func (s *PostgresStore) DeleteDocument(ctx context.Context, id int64, sessionID string) error {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM documents WHERE id=$1 AND session_id=$2
	`, id, sessionID)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) LiveStoredNames(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT stored_name FROM documents`)
	if err != nil {
		return nil, fmt.Errorf("select stored names: %w", err)
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan stored name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s *PostgresStore) FieldsBySession(ctx context.Context, sessionID string) ([]model.FieldRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, session_id, category, name, value, recorded_at
		FROM field_records WHERE session_id=$1 ORDER BY id DESC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("select field records: %w", err)
	}
	defer rows.Close()
	var fields []model.FieldRecord
	for rows.Next() {
		var f model.FieldRecord
		if err := rows.Scan(&f.ID, &f.SessionID, &f.Category, &f.Name, &f.Value, &f.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan field record: %w", err)
		}
		fields = append(fields, f)
	}
	return fields, rows.Err()
}

func (s *PostgresStore) CalculationsBySession(ctx context.Context, sessionID string) ([]model.Calculation, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, session_id, gross_income, old_regime_tax, new_regime_tax, total_deductions, net_tax, subject_name, calculated_at
		FROM calculations WHERE session_id=$1 ORDER BY id DESC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("select calculations: %w", err)
	}
	defer rows.Close()
	var calcs []model.Calculation
	for rows.Next() {
		var (
			c       model.Calculation
			subject sql.NullString
		)
		if err := rows.Scan(&c.ID, &c.SessionID, &c.GrossIncome, &c.OldRegimeTax, &c.NewRegimeTax, &c.TotalDeductions, &c.NetTax, &subject, &c.CalculatedAt); err != nil {
			return nil, fmt.Errorf("scan calculation: %w", err)
		}
		if subject.Valid {
			c.SubjectName = subject.String
		}
		calcs = append(calcs, c)
	}
	return calcs, rows.Err()
}

func (s *PostgresStore) InsertConversation(ctx context.Context, e *model.ConversationEntry) error {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO conversations (session_id, user_message, response, created_at)
		VALUES ($1,$2,$3,$4) RETURNING id
	`, e.SessionID, e.UserMessage, e.Response, e.CreatedAt)
	if err := row.Scan(&e.ID); err != nil {
		return fmt.Errorf("insert conversation: %w", err)
	}
	return nil
}

func (s *PostgresStore) ConversationsBySession(ctx context.Context, sessionID string) ([]model.ConversationEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, session_id, user_message, response, created_at
		FROM conversations WHERE session_id=$1 ORDER BY id ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("select conversations: %w", err)
	}
	defer rows.Close()
	var entries []model.ConversationEntry
	for rows.Next() {
		var e model.ConversationEntry
		if err := rows.Scan(&e.ID, &e.SessionID, &e.UserMessage, &e.Response, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

var _ Store = (*PostgresStore)(nil)
