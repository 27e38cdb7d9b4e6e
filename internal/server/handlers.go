package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hyperjump/ruiji/internal/aggregate"
	"github.com/hyperjump/ruiji/internal/indexer"
	"github.com/hyperjump/ruiji/internal/models"
	"github.com/hyperjump/ruiji/internal/report"
	"github.com/hyperjump/ruiji/internal/search"
	"github.com/hyperjump/ruiji/internal/storage"
	"go.uber.org/zap"
)

const maxUploadBytes = 32 << 20

var errBadRequest = errors.New("bad request")

// readQuery parses a JSON body or a multipart upload (field "image"). For uploads the
// returned cleanup removes the temporary file. Request bodies are capped at maxUploadBytes.
func (s *Server) readQuery(w http.ResponseWriter, r *http.Request) (*models.QueryRequest, bool, func(), error) {
	noop := func() {}
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		var req models.QueryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return nil, false, noop, fmt.Errorf("%w: invalid request body", errBadRequest)
		}
		if req.ImagePath != "" {
			if err := s.checkImagePath(req.ImagePath); err != nil {
				return nil, false, noop, err
			}
		}
		return &req, false, noop, nil
	}

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, true, noop, fmt.Errorf("%w: upload exceeds %d bytes", errBadRequest, maxUploadBytes)
		}
		return nil, true, noop, fmt.Errorf("%w: invalid multipart form", errBadRequest)
	}
	file, header, err := r.FormFile("image")
	if err != nil {
		return nil, true, noop, fmt.Errorf("%w: image file is required", errBadRequest)
	}
	defer file.Close()
	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !report.IsImagePath("x" + ext) {
		ext = ".jpg"
	}
	tmpPath := filepath.Join(os.TempDir(), "ruiji-upload-"+uuid.New().String()+ext)
	out, err := os.Create(tmpPath)
	if err != nil {
		return nil, true, noop, err
	}
	cleanup := func() { _ = os.Remove(tmpPath) }
	if _, err := io.Copy(out, file); err != nil {
		out.Close()
		cleanup()
		return nil, true, noop, err
	}
	if err := out.Close(); err != nil {
		cleanup()
		return nil, true, noop, err
	}

	req := &models.QueryRequest{ImagePath: tmpPath, Text: r.FormValue("text")}
	if v := r.FormValue("top_k"); v != "" {
		k, err := strconv.Atoi(v)
		if err != nil {
			cleanup()
			return nil, true, noop, fmt.Errorf("%w: top_k must be an integer", errBadRequest)
		}
		req.TopK = k
	}
	return req, true, cleanup, nil
}

// checkImagePath accepts a server-side image path only when it resolves inside the
// configured image root.
func (s *Server) checkImagePath(p string) error {
	root := s.config.Server.ImageRoot
	if root == "" {
		return fmt.Errorf("%w: image_path queries are disabled, upload the image instead", errBadRequest)
	}
	absRoot, err := resolvePath(root)
	if err != nil {
		return err
	}
	absPath, err := resolvePath(p)
	if err != nil {
		return err
	}
	rel, err := filepath.Rel(absRoot, absPath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("%w: image_path is outside the image root", errBadRequest)
	}
	return nil
}

// resolvePath returns p as an absolute path with symlinks resolved. A missing file is
// resolved through its parent directory.
func resolvePath(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved, nil
	}
	if dir, err := filepath.EvalSymlinks(filepath.Dir(abs)); err == nil {
		return filepath.Join(dir, filepath.Base(abs)), nil
	}
	return abs, nil
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	req, uploaded, cleanup, err := s.readQuery(w, r)
	defer cleanup()
	if err != nil {
		s.fail(w, "query", err, uploaded)
		return
	}
	s.logger.Debug("query request", zap.String("image_path", req.ImagePath), zap.Int("top_k", req.TopK))
	results, err := s.engine.Query(r.Context(), req)
	if err != nil {
		s.fail(w, "query", err, uploaded)
		return
	}
	s.observe("query", start, len(results))
	s.respondJSON(w, http.StatusOK, results)
}

func (s *Server) handleEstimate(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	req, uploaded, cleanup, err := s.readQuery(w, r)
	defer cleanup()
	if err != nil {
		s.fail(w, "estimate", err, uploaded)
		return
	}
	field := r.URL.Query().Get("field")
	if field == "" {
		field = aggregate.AmountSoldField
	}
	est, err := s.engine.Estimate(r.Context(), req, field)
	if err != nil {
		s.fail(w, "estimate", err, uploaded)
		return
	}
	s.observe("estimate", start, len(est.Results))
	s.respondJSON(w, http.StatusOK, est)
}

func (s *Server) handleFind(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	q := r.URL.Query().Get("q")
	if q == "" {
		s.fail(w, "find", fmt.Errorf("%w: q is required", errBadRequest), false)
		return
	}
	limit := 10
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.fail(w, "find", fmt.Errorf("%w: limit must be a positive integer", errBadRequest), false)
			return
		}
		limit = n
	}
	fuzzy, _ := strconv.ParseBool(r.URL.Query().Get("fuzzy"))
	results, err := s.engine.Find(r.Context(), q, limit, fuzzy)
	if err != nil {
		s.fail(w, "find", err, false)
		return
	}
	s.observe("find", start, len(results))
	s.respondJSON(w, http.StatusOK, results)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resp := map[string]interface{}{
		"index_dir": s.engine.IndexDir(),
	}
	m, err := s.engine.Manifest()
	switch {
	case err == nil:
		resp["index"] = m
	case errors.Is(err, indexer.ErrIndexNotFound):
		resp["index"] = nil
	default:
		s.logger.Error("status: load index failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if s.history != nil {
		n, err := s.history.CountQueries(ctx)
		if err != nil {
			s.logger.Error("status: count queries failed", zap.Error(err))
			s.respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		resp["queries"] = n
	}
	configInfo := map[string]interface{}{
		"embedding_provider":       s.config.Embedding.Provider,
		"embedding_model":          s.config.Embedding.ModelName,
		"embedding_dimensions":     s.config.Embedding.Dimensions,
		"vector_index_type":        s.config.Vector.IndexType,
		"max_top_k":                s.config.Query.MaxTopK,
		"require_symmetric_fusion": s.config.Query.RequireSymmetricFusion,
		"database_path":            s.config.Storage.DatabasePath,
	}
	if diskBytes, err := storage.DiskUsageBytes(s.engine.IndexDir(), s.config.Storage.DatabasePath); err == nil {
		resp["disk_usage_bytes"] = diskBytes
	}
	resp["config"] = configInfo
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleBuilds(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.respondError(w, http.StatusNotImplemented, "history not enabled")
		return
	}
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	builds, err := s.history.ListBuilds(r.Context(), limit)
	if err != nil {
		s.logger.Error("list builds failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if builds == nil {
		builds = []*storage.BuildRecord{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"builds": builds})
}

// statusFor maps engine errors to HTTP statuses. An upload that cannot be decoded is the
// client's fault, not a missing resource.
func statusFor(err error, uploaded bool) int {
	switch {
	case errors.Is(err, errBadRequest), errors.Is(err, search.ErrInvalidQuery):
		return http.StatusBadRequest
	case errors.Is(err, search.ErrImageNotFound) && uploaded:
		return http.StatusBadRequest
	case errors.Is(err, search.ErrImageNotFound), errors.Is(err, indexer.ErrIndexNotFound):
		return http.StatusNotFound
	case errors.Is(err, search.ErrAsymmetricQuery):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, op string, err error, uploaded bool) {
	status := statusFor(err, uploaded)
	s.metrics.RequestTotal.WithLabelValues(op, "error").Inc()
	if status >= http.StatusInternalServerError {
		s.logger.Error(op+" failed", zap.Error(err))
	} else {
		s.logger.Debug(op+" rejected", zap.Int("status", status), zap.Error(err))
	}
	s.respondError(w, status, err.Error())
}

func (s *Server) observe(op string, start time.Time, n int) {
	s.metrics.RequestTotal.WithLabelValues(op, "success").Inc()
	s.metrics.RequestLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	s.metrics.ResultCount.WithLabelValues(op).Observe(float64(n))
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
