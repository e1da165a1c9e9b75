// Package api exposes the HTTP interface for the face search service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tanmay3107/reverse-image-search/internal/crawler"
	"github.com/tanmay3107/reverse-image-search/internal/embed"
	"github.com/tanmay3107/reverse-image-search/internal/search"
	"github.com/tanmay3107/reverse-image-search/internal/telemetry"
)

// CrawlControl is the slice of the orchestrator the API needs.
type CrawlControl interface {
	Trigger(ctx context.Context) error
	Snapshot() crawler.Snapshot
	CooldownUntil() time.Time
}

// Searcher resolves a query image to a page of matches.
type Searcher interface {
	Search(ctx context.Context, image []byte, page, pageSize int) (search.Result, error)
}

// Config carries the request handling limits.
type Config struct {
	MaxUploadBytes int64
}

// Server wires HTTP handlers to the crawl orchestrator and search service.
type Server struct {
	router   chi.Router
	crawls   CrawlControl
	searcher Searcher
	cfg      Config
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(crawls CrawlControl, searcher Searcher, cfg Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 16 << 20
	}
	s := &Server{
		crawls:   crawls,
		searcher: searcher,
		cfg:      cfg,
		logger:   logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", telemetry.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Route("/crawl", func(r chi.Router) {
			r.Post("/start", s.startCrawl)
			r.Get("/status", s.crawlStatus)
		})
		r.Post("/search", s.searchImage)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) startCrawl(w http.ResponseWriter, r *http.Request) {
	err := s.crawls.Trigger(r.Context())
	// Accepted or rejected, the client gets the crawl state either way.
	switch {
	case err == nil:
		s.writeJSON(w, http.StatusAccepted, map[string]any{
			"started": true,
			"state":   s.crawls.Snapshot(),
		})
	case errors.Is(err, crawler.ErrAlreadyRunning):
		s.writeJSON(w, http.StatusConflict, map[string]any{
			"started": false,
			"error":   "a crawl run is already in progress",
			"state":   s.crawls.Snapshot(),
		})
	case errors.Is(err, crawler.ErrCoolingDown):
		s.writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"started":        false,
			"error":          "crawler is cooling down after CAPTCHA",
			"cooldown_until": s.crawls.CooldownUntil().UTC().Format(time.RFC3339),
			"state":          s.crawls.Snapshot(),
		})
	default:
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) crawlStatus(w http.ResponseWriter, _ *http.Request) {
	snap := s.crawls.Snapshot()
	payload := map[string]any{
		"status":           snap.Status,
		"captcha_required": snap.CaptchaRequired,
		"last_source":      snap.LastSource,
		"collected_urls":   snap.CollectedURLs,
		"collected_count":  len(snap.CollectedURLs),
	}
	if until := s.crawls.CooldownUntil(); !until.IsZero() {
		payload["cooldown_until"] = until.UTC().Format(time.RFC3339)
	}
	s.writeJSON(w, http.StatusOK, payload)
}

func (s *Server) searchImage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)

	image, err := readUpload(r)
	if err != nil {
		telemetry.ObserveSearch("bad_request")
		s.writeSearchError(w, http.StatusBadRequest, err.Error())
		return
	}

	page := queryInt(r, "page", 1)
	pageSize := queryInt(r, "page_size", 0)

	result, err := s.searcher.Search(r.Context(), image, page, pageSize)
	switch {
	case err == nil:
		telemetry.ObserveSearch(result.MatchType)
		s.writeJSON(w, http.StatusOK, result)
	case errors.Is(err, search.ErrInvalidImage):
		telemetry.ObserveSearch("invalid_image")
		s.writeSearchError(w, http.StatusBadRequest, "uploaded file is not a decodable image")
	case errors.Is(err, embed.ErrNoFace):
		telemetry.ObserveSearch("no_face")
		s.writeSearchError(w, http.StatusUnprocessableEntity, "no face detected in the query image")
	case errors.Is(err, embed.ErrMultipleFaces):
		telemetry.ObserveSearch("multiple_faces")
		s.writeSearchError(w, http.StatusUnprocessableEntity, "query image contains more than one face")
	case errors.Is(err, search.ErrIndexUnavailable):
		telemetry.ObserveSearch("index_unavailable")
		s.writeSearchError(w, http.StatusServiceUnavailable, "face index is empty; run a crawl first")
	default:
		telemetry.ObserveSearch("error")
		s.logger.Error("search failed", zap.Error(err))
		s.writeSearchError(w, http.StatusBadGateway, "search backend failure")
	}
}

// readUpload pulls the query image out of a multipart "file" field ("image"
// also accepted), falling back to the raw body for clients that post the
// bytes directly.
func readUpload(r *http.Request) ([]byte, error) {
	contentType := r.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "multipart/form-data") {
		file, header, err := r.FormFile("file")
		if err != nil {
			file, header, err = r.FormFile("image")
		}
		if err != nil {
			return nil, errors.New("multipart field \"file\" is required")
		}
		defer file.Close()
		if header.Filename == "" {
			return nil, errors.New("uploaded file has no name")
		}
		data, err := io.ReadAll(file)
		if err != nil {
			return nil, fmt.Errorf("read upload: %w", err)
		}
		if len(data) == 0 {
			return nil, errors.New("uploaded file is empty")
		}
		return data, nil
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, fmt.Errorf("read request body: %w", err)
	}
	if len(data) == 0 {
		return nil, errors.New("request body is empty")
	}
	return data, nil
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		raw = r.FormValue(key)
	}
	if raw == "" {
		return def
	}
	var v int
	if _, err := fmt.Sscanf(raw, "%d", &v); err != nil {
		return def
	}
	return v
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		telemetry.ObserveHTTPRequest(r.Method, r.URL.Path, ww.status, time.Since(start))
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("panic", rec))
				s.writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

type requestIDKey struct{}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

// writeSearchError keeps the search response shape intact on failure: the
// front end always receives count and matches alongside the reason.
func (s *Server) writeSearchError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]any{
		"count":   0,
		"matches": []struct{}{},
		"error":   msg,
	})
}
