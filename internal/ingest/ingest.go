// Package ingest orchestrates one upload end to end: validation, session
// resolution, file persistence, extraction, calculation, and the single
// transactional store write. If anything fails after the file has hit disk
// but before the store write commits, the file is removed again so the
// periodic sweep never inherits an avoidable orphan.
package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"taxlens/internal/extract"
	"taxlens/internal/filestore"
	"taxlens/internal/model"
	"taxlens/internal/session"
	"taxlens/internal/store"
	"taxlens/internal/tax"
)

// Client errors. These map to 4xx responses and are never retried.
var (
	ErrNotPDF         = errors.New("only PDF files are allowed")
	ErrTooLarge       = errors.New("file size exceeds limit")
	ErrEmptyFile      = errors.New("empty file")
	ErrInvalidSession = errors.New("invalid or expired session")
)

// Archiver receives extracted text for out-of-band storage. May be nil.
type Archiver interface {
	Put(ctx context.Context, storedName string, text []byte) error
}

// Service runs the ingestion workflow.
type Service struct {
	store    store.Store
	files    *filestore.Store
	sessions *session.Manager
	maxBytes int64
	ttl      time.Duration
	archiver Archiver
	// extract is swappable in tests.
	extract func(data []byte) (*extract.Extraction, string, error)
	now     func() time.Time
}

// New constructs the ingestion service. archiver may be nil to disable the
// extracted-text archive.
func New(st store.Store, files *filestore.Store, sessions *session.Manager, maxBytes int64, ttl time.Duration, archiver Archiver) *Service {
	return &Service{
		store:    st,
		files:    files,
		sessions: sessions,
		maxBytes: maxBytes,
		ttl:      ttl,
		archiver: archiver,
		extract:  extract.Extract,
		now:      time.Now,
	}
}

// Result aggregates what one upload produced.
type Result struct {
	SessionID       string              `json:"sessionId"`
	DocumentID      int64               `json:"documentId"`
	FileName        string              `json:"fileName"`
	Class           model.DocumentClass `json:"classification"`
	FileURL         string              `json:"fileUrl"`
	ExtractedFields []model.FieldRecord `json:"extractedFields"`
	Tax             tax.Result          `json:"taxResult"`
}

// Ingest processes one uploaded payload. An empty sessionID creates a fresh
// session; a provided one must still be valid.
func (s *Service) Ingest(ctx context.Context, r io.Reader, fileName, sessionID string) (*Result, error) {
	if strings.ToLower(filepath.Ext(fileName)) != ".pdf" {
		return nil, ErrNotPDF
	}
	data, err := io.ReadAll(io.LimitReader(r, s.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if len(data) == 0 {
		return nil, ErrEmptyFile
	}
	if int64(len(data)) > s.maxBytes {
		return nil, ErrTooLarge
	}
	if !bytes.HasPrefix(data, []byte("%PDF-")) {
		return nil, ErrNotPDF
	}

	if sessionID == "" {
		sess, err := s.sessions.Create(ctx, s.ttl)
		if err != nil {
			return nil, err
		}
		sessionID = sess.ID
	} else if !s.sessions.IsValid(ctx, sessionID) {
		return nil, ErrInvalidSession
	}

	storedName, _, err := s.files.Save(bytes.NewReader(data), fileName)
	if err != nil {
		return nil, err
	}

	ex, text, err := s.extract(data)
	if err != nil {
		// Extraction trouble is degradation, not failure: the document is
		// kept and the calculation runs on zeroes.
		log.Printf("extract %s: %v", fileName, err)
		ex = &extract.Extraction{
			Identity:   map[string]string{},
			Earnings:   map[string]float64{},
			Deductions: map[string]float64{},
		}
		text = ""
	}

	now := s.now().UTC()
	taxResult := tax.Compute(ex.GrossIncome(), ex.TotalDeductions())
	fields := fieldRecords(ex, sessionID, now)
	doc := &model.Document{
		SessionID:  sessionID,
		FileName:   fileName,
		StoredName: storedName,
		Class:      extract.ClassifyFilename(fileName),
		UploadedAt: now,
	}
	calc := &model.Calculation{
		SessionID:       sessionID,
		GrossIncome:     taxResult.GrossIncome,
		OldRegimeTax:    taxResult.OldRegimeTax,
		NewRegimeTax:    taxResult.NewRegimeTax,
		TotalDeductions: taxResult.TotalDeductions,
		NetTax:          taxResult.NetTax,
		SubjectName:     ex.Identity["employee_name"],
		CalculatedAt:    now,
	}
	if err := s.store.SaveIngestion(ctx, doc, fields, calc); err != nil {
		// The document row never committed, so the file must not stay
		// behind as an orphan waiting for the next sweep.
		if rmErr := s.files.Remove(storedName); rmErr != nil {
			log.Printf("clean up %s after failed ingestion: %v", storedName, rmErr)
		}
		return nil, fmt.Errorf("save ingestion: %w", err)
	}

	if s.archiver != nil && text != "" {
		if err := s.archiver.Put(ctx, storedName, []byte(text)); err != nil {
			log.Printf("archive extracted text for %s: %v", storedName, err)
		}
	}

	return &Result{
		SessionID:       sessionID,
		DocumentID:      doc.ID,
		FileName:        fileName,
		Class:           doc.Class,
		FileURL:         "/file/" + storedName,
		ExtractedFields: fields,
		Tax:             taxResult,
	}, nil
}

// fieldRecords flattens an extraction into categorized field rows.
func fieldRecords(ex *extract.Extraction, sessionID string, now time.Time) []model.FieldRecord {
	var fields []model.FieldRecord
	add := func(category model.FieldCategory, name, value string) {
		fields = append(fields, model.FieldRecord{
			SessionID:  sessionID,
			Category:   category,
			Name:       name,
			Value:      value,
			RecordedAt: now,
		})
	}
	for name, value := range ex.Identity {
		add(model.CategoryIdentity, name, value)
	}
	for name, value := range ex.Earnings {
		add(model.CategoryEarning, name, formatAmount(value))
	}
	for name, value := range ex.Deductions {
		add(model.CategoryDeduction, name, formatAmount(value))
	}
	if ex.Gross != nil {
		add(model.CategoryDerived, "gross", formatAmount(*ex.Gross))
	}
	if ex.Net != nil {
		add(model.CategoryDerived, "net", formatAmount(*ex.Net))
	}
	if ex.Reimbursement != nil {
		add(model.CategoryDerived, "reimbursement", formatAmount(*ex.Reimbursement))
	}
	return fields
}

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// SetExtractor overrides the PDF extraction function. Intended for tests.
func (s *Service) SetExtractor(fn func(data []byte) (*extract.Extraction, string, error)) {
	s.extract = fn
}
