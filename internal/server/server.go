// Package server exposes the HTTP surface: uploads, file streaming, session
// views, conversation appends and document deletion.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"taxlens/internal/config"
	"taxlens/internal/filestore"
	"taxlens/internal/ingest"
	"taxlens/internal/model"
	"taxlens/internal/session"
	"taxlens/internal/store"
)

// Server hosts the HTTP handlers.
type Server struct {
	cfg      *config.Config
	store    store.Store
	files    *filestore.Store
	sessions *session.Manager
	ingester *ingest.Service
}

// New constructs a Server.
func New(cfg *config.Config, st store.Store, files *filestore.Store, sessions *session.Manager, ingester *ingest.Service) *Server {
	return &Server{
		cfg:      cfg,
		store:    st,
		files:    files,
		sessions: sessions,
		ingester: ingester,
	}
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:    s.cfg.Address,
		Handler: s.Handler(),
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()
	log.Printf("api listening on %s", s.cfg.Address)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Handler builds the route table wrapped in the shared middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/upload", s.handleUpload)
	mux.HandleFunc("/file/", s.handleFile)
	mux.HandleFunc("/session", s.handleCreateSession)
	mux.HandleFunc("/session/", s.handleSessionRoute)
	mux.HandleFunc("/document/", s.handleDocument)
	return corsMiddleware(loggingMiddleware(mux))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sess, err := s.sessions.Create(r.Context(), s.cfg.SessionTTL)
	if err != nil {
		log.Printf("create session: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxFileSize+4096)
	if err := r.ParseMultipartForm(4 << 20); err != nil {
		http.Error(w, "expecting multipart form", http.StatusBadRequest)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "missing file part", http.StatusBadRequest)
		return
	}
	defer file.Close()
	sessionID := r.FormValue("session_id")
	result, err := s.ingester.Ingest(r.Context(), file, header.Filename, sessionID)
	if err != nil {
		s.respondIngestError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (s *Server) respondIngestError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ingest.ErrInvalidSession):
		http.Error(w, err.Error(), http.StatusUnauthorized)
	case errors.Is(err, ingest.ErrNotPDF),
		errors.Is(err, ingest.ErrTooLarge),
		errors.Is(err, ingest.ErrEmptyFile):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		log.Printf("ingest: %v", err)
		http.Error(w, "upload failed", http.StatusInternalServerError)
	}
}

func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	name := strings.TrimPrefix(r.URL.Path, "/file/")
	f, err := s.files.Open(name)
	if err != nil {
		http.Error(w, "file not found", http.StatusNotFound)
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		http.Error(w, "file unavailable", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	http.ServeContent(w, r, name, info.ModTime(), f)
}

func (s *Server) handleSessionRoute(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/session/")
	parts := strings.Split(path, "/")
	if len(parts) == 0 || parts[0] == "" {
		http.NotFound(w, r)
		return
	}
	id := parts[0]
	if len(parts) == 1 {
		s.handleSessionView(w, r, id)
		return
	}
	if parts[1] == "conversation" {
		s.handleConversation(w, r, id)
		return
	}
	http.NotFound(w, r)
}

// sessionView aggregates everything scoped to one session. Fields are
// grouped by category with each group most-recent-first; the conversation
// alone reads oldest-first.
type sessionView struct {
	Session      *model.Session                              `json:"session"`
	Documents    []model.Document                            `json:"documents"`
	Fields       map[model.FieldCategory][]model.FieldRecord `json:"fields"`
	Calculations []model.Calculation                         `json:"calculations"`
	Conversation []model.ConversationEntry                   `json:"conversation"`
}

func (s *Server) handleSessionView(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sess, err := s.sessions.Get(r.Context(), id)
	if err != nil {
		http.Error(w, "invalid or expired session", http.StatusUnauthorized)
		return
	}
	ctx := r.Context()
	docs, err := s.store.DocumentsBySession(ctx, id)
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	fields, err := s.store.FieldsBySession(ctx, id)
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	calcs, err := s.store.CalculationsBySession(ctx, id)
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	conv, err := s.store.ConversationsBySession(ctx, id)
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	grouped := make(map[model.FieldCategory][]model.FieldRecord)
	for _, f := range fields {
		grouped[f.Category] = append(grouped[f.Category], f)
	}
	respondJSON(w, http.StatusOK, sessionView{
		Session:      sess,
		Documents:    docs,
		Fields:       grouped,
		Calculations: calcs,
		Conversation: conv,
	})
}

type conversationRequest struct {
	Message  string `json:"message"`
	Response string `json:"response"`
}

func (s *Server) handleConversation(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.sessions.IsValid(r.Context(), id) {
		http.Error(w, "invalid or expired session", http.StatusUnauthorized)
		return
	}
	var req conversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if req.Message == "" {
		http.Error(w, "message is required", http.StatusBadRequest)
		return
	}
	entry := &model.ConversationEntry{
		SessionID:   id,
		UserMessage: req.Message,
		Response:    req.Response,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.store.InsertConversation(r.Context(), entry); err != nil {
		s.respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, entry)
}

func (s *Server) handleDocument(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	idStr := strings.TrimPrefix(r.URL.Path, "/document/")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		http.Error(w, "invalid document id", http.StatusBadRequest)
		return
	}
	sessionID := r.URL.Query().Get("session_id")
	if !s.sessions.IsValid(r.Context(), sessionID) {
		http.Error(w, "invalid or expired session", http.StatusUnauthorized)
		return
	}
	doc, err := s.store.GetDocument(r.Context(), id, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "document not found", http.StatusNotFound)
			return
		}
		s.respondStoreError(w, err)
		return
	}
	if err := s.store.DeleteDocument(r.Context(), id, sessionID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "document not found", http.StatusNotFound)
			return
		}
		s.respondStoreError(w, err)
		return
	}
	if err := s.files.Remove(doc.StoredName); err != nil {
		// The row is gone; a leftover file is picked up by the next sweep.
		log.Printf("remove file %s: %v", doc.StoredName, err)
	}
	respondJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) respondStoreError(w http.ResponseWriter, err error) {
	log.Printf("store: %v", err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(payload); err != nil {
		log.Printf("encode json failed: %v", err)
	}
}
