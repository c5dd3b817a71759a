package ingest

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"taxlens/internal/extract"
	"taxlens/internal/filestore"
	"taxlens/internal/model"
	"taxlens/internal/session"
	"taxlens/internal/store"
)

const pdfBody = "%PDF-1.4 minimal body"

func newTestService(t *testing.T, maxBytes int64) (*Service, *store.MemoryStore, *filestore.Store) {
	t.Helper()
	st := store.NewMemoryStore()
	files, err := filestore.New(t.TempDir())
	if err != nil {
		t.Fatalf("init filestore: %v", err)
	}
	svc := New(st, files, session.NewManager(st), maxBytes, time.Hour, nil)
	svc.SetExtractor(stubExtractor)
	return svc, st, files
}

func stubExtractor(_ []byte) (*extract.Extraction, string, error) {
	gross := 500000.0
	return &extract.Extraction{
		Identity:   map[string]string{"employee_name": "Priya Sharma"},
		Earnings:   map[string]float64{"basic": 300000},
		Deductions: map[string]float64{"provident_fund": 50000},
		Gross:      &gross,
	}, "stub text", nil
}

func TestIngestRejectsBadPayloads(t *testing.T) {
	svc, _, _ := newTestService(t, 1<<20)
	ctx := context.Background()

	tests := []struct {
		name     string
		fileName string
		body     string
		want     error
	}{
		{"wrong extension", "notes.txt", pdfBody, ErrNotPDF},
		{"no extension", "slip", pdfBody, ErrNotPDF},
		{"wrong magic bytes", "slip.pdf", "plain text pretending", ErrNotPDF},
		{"empty body", "slip.pdf", "", ErrEmptyFile},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Ingest(ctx, strings.NewReader(tt.body), tt.fileName, "")
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestIngestRejectsOversize(t *testing.T) {
	svc, _, files := newTestService(t, 16)
	_, err := svc.Ingest(context.Background(), strings.NewReader(pdfBody), "slip.pdf", "")
	if !errors.Is(err, ErrTooLarge) {
		t.Fatalf("err = %v, want ErrTooLarge", err)
	}
	disk, err := files.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(disk) != 0 {
		t.Errorf("rejected upload left %d files on disk", len(disk))
	}
}

func TestIngestCreatesSessionWhenEmpty(t *testing.T) {
	svc, st, _ := newTestService(t, 1<<20)
	ctx := context.Background()

	res, err := svc.Ingest(ctx, strings.NewReader(pdfBody), "salary_july.pdf", "")
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if res.SessionID == "" {
		t.Fatal("expected a fresh session id")
	}
	if _, err := st.GetSession(ctx, res.SessionID); err != nil {
		t.Errorf("created session not in store: %v", err)
	}
}

func TestIngestRejectsUnknownSession(t *testing.T) {
	svc, _, _ := newTestService(t, 1<<20)
	_, err := svc.Ingest(context.Background(), strings.NewReader(pdfBody), "slip.pdf", "no-such-session")
	if !errors.Is(err, ErrInvalidSession) {
		t.Errorf("err = %v, want ErrInvalidSession", err)
	}
}

func TestIngestRejectsExpiredSession(t *testing.T) {
	svc, st, _ := newTestService(t, 1<<20)
	ctx := context.Background()
	now := time.Now()
	sess := &model.Session{ID: "stale", CreatedAt: now.Add(-2 * time.Hour), ExpiresAt: now.Add(-time.Hour)}
	if err := st.CreateSession(ctx, sess); err != nil {
		t.Fatalf("create session: %v", err)
	}
	_, err := svc.Ingest(ctx, strings.NewReader(pdfBody), "slip.pdf", "stale")
	if !errors.Is(err, ErrInvalidSession) {
		t.Errorf("err = %v, want ErrInvalidSession", err)
	}
}

func TestIngestPersistsEverything(t *testing.T) {
	svc, st, files := newTestService(t, 1<<20)
	ctx := context.Background()

	res, err := svc.Ingest(ctx, strings.NewReader(pdfBody), "salary_july.pdf", "")
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if res.Class != model.ClassSalarySlip {
		t.Errorf("class = %q, want %q", res.Class, model.ClassSalarySlip)
	}
	if !strings.HasPrefix(res.FileURL, "/file/") {
		t.Errorf("file url = %q, want /file/ prefix", res.FileURL)
	}
	if res.Tax.GrossIncome != 500000 || res.Tax.TotalDeductions != 50000 {
		t.Errorf("tax inputs = %v/%v, want 500000/50000", res.Tax.GrossIncome, res.Tax.TotalDeductions)
	}
	if res.Tax.BestRegime != "new" {
		t.Errorf("best regime = %q, want new", res.Tax.BestRegime)
	}

	docs, err := st.DocumentsBySession(ctx, res.SessionID)
	if err != nil || len(docs) != 1 {
		t.Fatalf("documents = %v, err %v", docs, err)
	}
	if docs[0].ID != res.DocumentID {
		t.Errorf("document id = %d, want %d", docs[0].ID, res.DocumentID)
	}

	fields, err := st.FieldsBySession(ctx, res.SessionID)
	if err != nil {
		t.Fatalf("fields: %v", err)
	}
	byName := make(map[string]model.FieldRecord)
	for _, f := range fields {
		byName[f.Name] = f
	}
	if got := byName["employee_name"]; got.Value != "Priya Sharma" || got.Category != model.CategoryIdentity {
		t.Errorf("employee_name field = %+v", got)
	}
	if got := byName["basic"]; got.Value != "300000" || got.Category != model.CategoryEarning {
		t.Errorf("basic field = %+v", got)
	}
	if got := byName["gross"]; got.Value != "500000" || got.Category != model.CategoryDerived {
		t.Errorf("gross field = %+v", got)
	}

	calcs, err := st.CalculationsBySession(ctx, res.SessionID)
	if err != nil || len(calcs) != 1 {
		t.Fatalf("calculations = %v, err %v", calcs, err)
	}
	if calcs[0].SubjectName != "Priya Sharma" {
		t.Errorf("subject name = %q, want Priya Sharma", calcs[0].SubjectName)
	}

	disk, err := files.List()
	if err != nil || len(disk) != 1 {
		t.Fatalf("disk = %v, err %v", disk, err)
	}
	if disk[0].Name != docs[0].StoredName {
		t.Errorf("disk file %q does not match stored name %q", disk[0].Name, docs[0].StoredName)
	}
}

func TestIngestDegradesOnExtractionFailure(t *testing.T) {
	svc, st, _ := newTestService(t, 1<<20)
	svc.SetExtractor(func(_ []byte) (*extract.Extraction, string, error) {
		return nil, "", errors.New("corrupt xref table")
	})

	res, err := svc.Ingest(context.Background(), strings.NewReader(pdfBody), "slip.pdf", "")
	if err != nil {
		t.Fatalf("ingest should degrade, got %v", err)
	}
	if len(res.ExtractedFields) != 0 {
		t.Errorf("expected no extracted fields, got %d", len(res.ExtractedFields))
	}
	if res.Tax.GrossIncome != 0 || res.Tax.NetTax != 0 {
		t.Errorf("tax on zero data = %+v", res.Tax)
	}
	docs, err := st.DocumentsBySession(context.Background(), res.SessionID)
	if err != nil || len(docs) != 1 {
		t.Fatalf("document should still be stored, got %v err %v", docs, err)
	}
}

// failingStore wraps a Store and fails the transactional write.
type failingStore struct {
	store.Store
}

func (f *failingStore) SaveIngestion(context.Context, *model.Document, []model.FieldRecord, *model.Calculation) error {
	return errors.New("connection reset")
}

func TestIngestCleansUpFileOnStoreFailure(t *testing.T) {
	st := store.NewMemoryStore()
	files, err := filestore.New(t.TempDir())
	if err != nil {
		t.Fatalf("init filestore: %v", err)
	}
	svc := New(&failingStore{Store: st}, files, session.NewManager(st), 1<<20, time.Hour, nil)
	svc.SetExtractor(stubExtractor)

	_, err = svc.Ingest(context.Background(), strings.NewReader(pdfBody), "slip.pdf", "")
	if err == nil {
		t.Fatal("expected ingest to fail")
	}
	disk, listErr := files.List()
	if listErr != nil {
		t.Fatalf("list: %v", listErr)
	}
	if len(disk) != 0 {
		t.Errorf("failed ingestion left %d files on disk", len(disk))
	}
}

type recordingArchiver struct {
	names []string
}

func (a *recordingArchiver) Put(_ context.Context, storedName string, _ []byte) error {
	a.names = append(a.names, storedName)
	return nil
}

func TestIngestArchivesExtractedText(t *testing.T) {
	st := store.NewMemoryStore()
	files, err := filestore.New(t.TempDir())
	if err != nil {
		t.Fatalf("init filestore: %v", err)
	}
	arch := &recordingArchiver{}
	svc := New(st, files, session.NewManager(st), 1<<20, time.Hour, arch)
	svc.SetExtractor(stubExtractor)

	res, err := svc.Ingest(context.Background(), strings.NewReader(pdfBody), "slip.pdf", "")
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if len(arch.names) != 1 {
		t.Fatalf("archiver received %d texts, want 1", len(arch.names))
	}
	if want := strings.TrimPrefix(res.FileURL, "/file/"); arch.names[0] != want {
		t.Errorf("archived name = %q, want %q", arch.names[0], want)
	}
}
