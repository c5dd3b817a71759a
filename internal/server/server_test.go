package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"taxlens/internal/config"
	"taxlens/internal/extract"
	"taxlens/internal/filestore"
	"taxlens/internal/ingest"
	"taxlens/internal/model"
	"taxlens/internal/session"
	"taxlens/internal/store"
)

const pdfBody = "%PDF-1.4 test payload"

func newTestServer(t *testing.T) (http.Handler, *store.MemoryStore, *filestore.Store) {
	t.Helper()
	st := store.NewMemoryStore()
	files, err := filestore.New(t.TempDir())
	if err != nil {
		t.Fatalf("init filestore: %v", err)
	}
	cfg := &config.Config{
		Address:     "127.0.0.1:0",
		MaxFileSize: 1 << 20,
		SessionTTL:  time.Hour,
	}
	sessions := session.NewManager(st)
	ingester := ingest.New(st, files, sessions, cfg.MaxFileSize, cfg.SessionTTL, nil)
	ingester.SetExtractor(func(_ []byte) (*extract.Extraction, string, error) {
		gross := 500000.0
		return &extract.Extraction{
			Identity:   map[string]string{"employee_name": "Priya Sharma"},
			Earnings:   map[string]float64{"basic": 300000},
			Deductions: map[string]float64{"provident_fund": 50000},
			Gross:      &gross,
		}, "stub text", nil
	})
	return New(cfg, st, files, sessions, ingester).Handler(), st, files
}

func multipartUpload(t *testing.T, fileName, body, sessionID string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", fileName)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := io.WriteString(part, body); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if sessionID != "" {
		if err := writer.WriteField("session_id", sessionID); err != nil {
			t.Fatalf("write session field: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return &buf, writer.FormDataContentType()
}

func doUpload(t *testing.T, h http.Handler, fileName, body, sessionID string) *httptest.ResponseRecorder {
	t.Helper()
	buf, contentType := multipartUpload(t, fileName, body, sessionID)
	req := httptest.NewRequest(http.MethodPost, "/upload", buf)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	h, _, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestCreateSession(t *testing.T) {
	h, st, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/session", nil))
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", rec.Code)
	}
	var sess model.Session
	if err := json.Unmarshal(rec.Body.Bytes(), &sess); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if sess.ID == "" {
		t.Fatal("expected a session id")
	}
	if _, err := st.GetSession(context.Background(), sess.ID); err != nil {
		t.Errorf("session not in store: %v", err)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/session", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET /session status = %d, want 405", rec.Code)
	}
}

func TestUpload(t *testing.T) {
	h, _, files := newTestServer(t)

	rec := doUpload(t, h, "salary_july.pdf", pdfBody, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var result ingest.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result.SessionID == "" || result.DocumentID == 0 {
		t.Errorf("result missing identifiers: %+v", result)
	}
	if result.Class != model.ClassSalarySlip {
		t.Errorf("classification = %q, want %q", result.Class, model.ClassSalarySlip)
	}
	disk, err := files.List()
	if err != nil || len(disk) != 1 {
		t.Fatalf("disk = %v, err %v", disk, err)
	}

	// The returned URL streams the file back.
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, result.FileURL, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("GET %s status = %d", result.FileURL, rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); got != "application/pdf" {
		t.Errorf("content type = %q, want application/pdf", got)
	}
	if rec.Body.String() != pdfBody {
		t.Errorf("file body = %q, want %q", rec.Body.String(), pdfBody)
	}
}

func TestUploadRejections(t *testing.T) {
	h, _, _ := newTestServer(t)

	if rec := doUpload(t, h, "notes.txt", pdfBody, ""); rec.Code != http.StatusBadRequest {
		t.Errorf("txt upload status = %d, want 400", rec.Code)
	}
	if rec := doUpload(t, h, "fake.pdf", "not a pdf at all", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("bad magic status = %d, want 400", rec.Code)
	}
	if rec := doUpload(t, h, "slip.pdf", pdfBody, "no-such-session"); rec.Code != http.StatusUnauthorized {
		t.Errorf("invalid session status = %d, want 401", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader("raw body"))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("non-multipart status = %d, want 400", rec.Code)
	}
}

func TestSessionView(t *testing.T) {
	h, _, _ := newTestServer(t)

	rec := doUpload(t, h, "salary_july.pdf", pdfBody, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("upload status = %d", rec.Code)
	}
	var result ingest.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode upload: %v", err)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/session/"+result.SessionID, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("view status = %d, body %s", rec.Code, rec.Body.String())
	}
	var view struct {
		Session      *model.Session                              `json:"session"`
		Documents    []model.Document                            `json:"documents"`
		Fields       map[model.FieldCategory][]model.FieldRecord `json:"fields"`
		Calculations []model.Calculation                         `json:"calculations"`
		Conversation []model.ConversationEntry                   `json:"conversation"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode view: %v", err)
	}
	if view.Session == nil || view.Session.ID != result.SessionID {
		t.Errorf("view session = %+v", view.Session)
	}
	if len(view.Documents) != 1 {
		t.Errorf("documents = %d, want 1", len(view.Documents))
	}
	if len(view.Fields[model.CategoryIdentity]) != 1 {
		t.Errorf("identity fields = %d, want 1", len(view.Fields[model.CategoryIdentity]))
	}
	if len(view.Calculations) != 1 {
		t.Errorf("calculations = %d, want 1", len(view.Calculations))
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/session/does-not-exist", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("unknown session view status = %d, want 401", rec.Code)
	}
}

func TestConversationOrdering(t *testing.T) {
	h, _, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/session", nil))
	var sess model.Session
	if err := json.Unmarshal(rec.Body.Bytes(), &sess); err != nil {
		t.Fatalf("decode session: %v", err)
	}

	for i := 1; i <= 3; i++ {
		body := fmt.Sprintf(`{"message":"q%d","response":"a%d"}`, i, i)
		req := httptest.NewRequest(http.MethodPost, "/session/"+sess.ID+"/conversation", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		rec = httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusCreated {
			t.Fatalf("conversation post %d status = %d", i, rec.Code)
		}
	}

	req := httptest.NewRequest(http.MethodPost, "/session/"+sess.ID+"/conversation", strings.NewReader(`{"response":"orphan"}`))
	req.Header.Set("Content-Type", "application/json")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty message status = %d, want 400", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/session/"+sess.ID, nil))
	var view struct {
		Conversation []model.ConversationEntry `json:"conversation"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode view: %v", err)
	}
	if len(view.Conversation) != 3 {
		t.Fatalf("conversation entries = %d, want 3", len(view.Conversation))
	}
	for i, entry := range view.Conversation {
		if want := fmt.Sprintf("q%d", i+1); entry.UserMessage != want {
			t.Errorf("entry %d message = %q, want %q", i, entry.UserMessage, want)
		}
	}
}

func TestDeleteDocument(t *testing.T) {
	h, st, files := newTestServer(t)

	rec := doUpload(t, h, "slip.pdf", pdfBody, "")
	var result ingest.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode upload: %v", err)
	}

	// Wrong session is unauthorized, not a delete.
	url := fmt.Sprintf("/document/%d?session_id=wrong", result.DocumentID)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, url, nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong session delete status = %d, want 401", rec.Code)
	}

	url = fmt.Sprintf("/document/%d?session_id=%s", result.DocumentID, result.SessionID)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, url, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d, body %s", rec.Code, rec.Body.String())
	}

	docs, err := st.DocumentsBySession(context.Background(), result.SessionID)
	if err != nil || len(docs) != 0 {
		t.Errorf("documents after delete = %v, err %v", docs, err)
	}
	disk, err := files.List()
	if err != nil || len(disk) != 0 {
		t.Errorf("disk after delete = %v, err %v", disk, err)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, url, nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", rec.Code)
	}
}

func TestFileNotFound(t *testing.T) {
	h, _, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/file/missing.pdf", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/file/.hidden", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("dotfile status = %d, want 404", rec.Code)
	}
}

func TestCORSHeaders(t *testing.T) {
	h, _, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/upload", nil))
	if rec.Code != http.StatusOK && rec.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got == "" {
		t.Error("missing Access-Control-Allow-Origin header")
	}
}
