package store

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/idclaim/idclaim/internal/logging/audit"
)

// statusRecorder wraps http.ResponseWriter to capture the HTTP status code.
// Not thread-safe; must only be used within a single request handler.
type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.status = code
		r.wroteHeader = true
		r.ResponseWriter.WriteHeader(code)
	}
}

// getStatus returns the recorded status, defaulting to 200 if WriteHeader
// was never called.
func (r *statusRecorder) getStatus() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}

// classifyStatus converts an HTTP status code to a metric status string.
// 412 is the expected conditional-create conflict, tracked separately so a
// retry storm is visible without counting as an error.
func classifyStatus(httpStatus int) string {
	switch {
	case httpStatus >= 200 && httpStatus < 300:
		return "success"
	case httpStatus == http.StatusPreconditionFailed:
		return "conflict"
	case httpStatus == http.StatusNotFound:
		return "not_found"
	case httpStatus == http.StatusUnauthorized:
		return "unauthorized"
	default:
		return "error"
	}
}

// ListRecordsResponse is the body of a record listing.
type ListRecordsResponse struct {
	Names []string `json:"names"`
}

// ErrorResponse is the JSON error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Server exposes namespaces from a shared data directory over HTTP so that
// instances on different hosts can coordinate through one store.
//
//	PUT    /v1/namespaces/{ns}                      ensure namespace
//	GET    /v1/namespaces/{ns}/records              list record names
//	GET    /v1/namespaces/{ns}/records/{name}       read record content
//	PUT    /v1/namespaces/{ns}/records/{name}       create record; with
//	       If-None-Match: * the write is conditional and a conflict is 412
//	DELETE /v1/namespaces/{ns}/records/{name}       delete record
//	       (?derived=1 also removes archived history)
type Server struct {
	dataDir   string
	authToken string
	metrics   *Metrics
	audit     *audit.Logger

	mu    sync.Mutex
	repos map[string]*FSRepo
}

// NewServer creates a namespace server over dataDir. An empty authToken
// disables authentication. If metrics is nil, metrics are not recorded.
func NewServer(dataDir, authToken string, metrics *Metrics) *Server {
	return &Server{
		dataDir:   dataDir,
		authToken: authToken,
		metrics:   metrics,
		repos:     make(map[string]*FSRepo),
	}
}

// SetAudit enables audit logging of namespace mutations and auth denials.
func (s *Server) SetAudit(a *audit.Logger) {
	s.audit = a
}

// Handler returns the HTTP handler for namespace requests.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.handleRequest)
}

func (s *Server) repo(namespace string) (*FSRepo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r, ok := s.repos[namespace]; ok {
		return r, nil
	}
	r, err := NewFSRepo(s.dataDir, namespace)
	if err != nil {
		return nil, err
	}
	s.repos[namespace] = r
	return r, nil
}

// authorize checks the bearer token, if one is configured.
func (s *Server) authorize(r *http.Request) bool {
	if s.authToken == "" {
		return true
	}
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) == 1
}

func (s *Server) handleRequest(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w}

	operation := s.route(rec, r)

	if s.metrics != nil && operation != "" {
		s.metrics.RecordRequest(operation, classifyStatus(rec.getStatus()), time.Since(start).Seconds())
	}
}

// route dispatches the request and returns the operation name for metrics.
func (s *Server) route(w http.ResponseWriter, r *http.Request) string {
	path := strings.TrimPrefix(r.URL.Path, "/v1/namespaces/")
	if path == r.URL.Path || path == "" {
		s.writeError(w, http.StatusNotFound, "NotFound", "unknown path")
		return "unknown"
	}

	if !s.authorize(r) {
		if s.audit != nil {
			s.audit.LogAuth("denied", "invalid or missing bearer token", r.RemoteAddr)
		}
		s.writeError(w, http.StatusUnauthorized, "Unauthorized", "invalid or missing bearer token")
		return "auth"
	}

	// Path format: {ns} or {ns}/records or {ns}/records/{name}
	parts := strings.SplitN(path, "/", 3)
	namespace := parts[0]

	log.Debug().
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Str("namespace", namespace).
		Msg("store request")

	switch {
	case len(parts) == 1:
		return s.handleNamespace(w, r, namespace)
	case parts[1] == "records" && len(parts) == 2:
		return s.handleRecords(w, r, namespace)
	case parts[1] == "records":
		return s.handleRecord(w, r, namespace, parts[2])
	default:
		s.writeError(w, http.StatusNotFound, "NotFound", "unknown path")
		return "unknown"
	}
}

func (s *Server) handleNamespace(w http.ResponseWriter, r *http.Request, namespace string) string {
	if r.Method != http.MethodPut {
		s.writeError(w, http.StatusMethodNotAllowed, "MethodNotAllowed", "method not allowed")
		return "ensure_namespace"
	}

	repo, err := s.repo(namespace)
	if err != nil {
		s.writeStoreError(w, err)
		return "ensure_namespace"
	}
	_, statErr := os.Stat(repo.namespacePath())
	existed := statErr == nil
	if err := repo.EnsureNamespace(r.Context()); err != nil {
		s.writeStoreError(w, err)
		return "ensure_namespace"
	}
	if !existed && s.audit != nil {
		s.audit.LogNamespaceCreated(namespace, r.RemoteAddr)
	}
	s.updateGauges()
	w.WriteHeader(http.StatusOK)
	return "ensure_namespace"
}

func (s *Server) handleRecords(w http.ResponseWriter, r *http.Request, namespace string) string {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "MethodNotAllowed", "method not allowed")
		return "list_records"
	}

	repo, err := s.repo(namespace)
	if err != nil {
		s.writeStoreError(w, err)
		return "list_records"
	}
	names, err := repo.ListRecordNames(r.Context())
	if err != nil {
		s.writeStoreError(w, err)
		return "list_records"
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(ListRecordsResponse{Names: names}); err != nil {
		log.Warn().Err(err).Msg("failed to encode record listing")
	}
	return "list_records"
}

func (s *Server) handleRecord(w http.ResponseWriter, r *http.Request, namespace, name string) string {
	repo, err := s.repo(namespace)
	if err != nil {
		s.writeStoreError(w, err)
		return "record"
	}

	switch r.Method {
	case http.MethodGet:
		data, err := repo.ReadRecord(r.Context(), name)
		if err != nil {
			s.writeStoreError(w, err)
			return "get_record"
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write(data)
		return "get_record"

	case http.MethodPut:
		content, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "BadRequest", "read body: "+err.Error())
			return "create_record"
		}
		conditional := r.Header.Get("If-None-Match") == "*"
		created, err := repo.CreateRecord(r.Context(), name, content, !conditional)
		if err != nil {
			s.writeStoreError(w, err)
			return "create_record"
		}
		if !created {
			if s.audit != nil {
				s.audit.LogClaim(namespace, name, "conflict", r.RemoteAddr)
			}
			s.writeError(w, http.StatusPreconditionFailed, "AlreadyExists", "record already exists")
			return "create_record"
		}
		if s.audit != nil {
			result := "overwritten"
			if conditional {
				result = "created"
			}
			s.audit.LogClaim(namespace, name, result, r.RemoteAddr)
		}
		s.updateGauges()
		if conditional {
			w.WriteHeader(http.StatusCreated)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		return "create_record"

	case http.MethodDelete:
		includeDerived := r.URL.Query().Get("derived") == "1"
		if err := repo.DeleteRecord(r.Context(), name, includeDerived); err != nil {
			s.writeStoreError(w, err)
			return "delete_record"
		}
		if s.audit != nil {
			s.audit.LogRelease(namespace, name, includeDerived, r.RemoteAddr)
		}
		s.updateGauges()
		w.WriteHeader(http.StatusNoContent)
		return "delete_record"

	default:
		s.writeError(w, http.StatusMethodNotAllowed, "MethodNotAllowed", "method not allowed")
		return "record"
	}
}

// updateGauges recounts namespaces and records. Claim namespaces hold at
// most a few dozen records, so a directory walk per mutation is fine.
func (s *Server) updateGauges() {
	if s.metrics == nil {
		return
	}

	root := filepath.Join(s.dataDir, "namespaces")
	entries, err := os.ReadDir(root)
	if err != nil {
		return
	}

	namespaces := 0
	records := 0
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		namespaces++
		recs, err := os.ReadDir(filepath.Join(root, e.Name(), "records"))
		if err != nil {
			continue
		}
		for _, rec := range recs {
			if !rec.IsDir() {
				records++
			}
		}
	}
	s.metrics.UpdateStorageMetrics(namespaces, records)
}

func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNamespaceNotFound):
		s.writeError(w, http.StatusNotFound, "NamespaceNotFound", err.Error())
	case errors.Is(err, ErrRecordNotFound):
		s.writeError(w, http.StatusNotFound, "RecordNotFound", err.Error())
	case errors.Is(err, ErrInvalidName):
		s.writeError(w, http.StatusBadRequest, "InvalidName", err.Error())
	default:
		s.writeError(w, http.StatusInternalServerError, "InternalError", err.Error())
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(ErrorResponse{Error: code, Message: message}); err != nil {
		log.Warn().Err(err).Msg("failed to encode error response")
	}
}
