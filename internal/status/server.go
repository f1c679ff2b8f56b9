// ABOUTME: Local HTTP status API served by `feedsync run` with go-chi routing
// ABOUTME: Read-only views of feeds and sync counts plus fetch and read-mark actions

package status

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/harper/feedsync/internal/engine"
	"github.com/harper/feedsync/internal/models"
)

// Server serves the status API for one engine.
type Server struct {
	engine *engine.Engine
	logger *log.Logger
	router chi.Router
}

// New creates a status server. logger may be nil.
func New(eng *engine.Engine, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	s := &Server{engine: eng, logger: logger}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", s.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Get("/stats", s.handleStats)
		r.Get("/feeds", s.handleFeeds)
		r.Post("/fetch", s.handleFetch)
		r.Post("/entries/{hash}/read", s.handleMark(true))
		r.Post("/entries/{hash}/unread", s.handleMark(false))
	})
	s.router = r
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	s.logger.Info("status api listening", "addr", addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return ctx.Err()
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http", "method", r.Method, "path", r.URL.Path, "status", ww.Status(), "took", time.Since(start))
	})
}

// Feed is one subscription in API responses.
type Feed struct {
	URL        string   `json:"url"`
	Title      string   `json:"title"`
	Tags       []string `json:"tags,omitempty"`
	SyncState  string   `json:"sync_state"`
	LastError  string   `json:"last_error,omitempty"`
	ErrorCount int      `json:"error_count,omitempty"`
}

// Stats mirrors engine.Stats with string state names.
type Stats struct {
	Connectivity  string         `json:"connectivity"`
	Subscriptions map[string]int `json:"subscriptions"`
	Unsubscribed  int            `json:"unsubscribed"`
	Entries       map[string]int `json:"entries"`
	Unread        int            `json:"unread"`
}

// FetchResult reports a fetch triggered through the API.
type FetchResult struct {
	URL         string `json:"url"`
	New         int    `json:"new"`
	NotModified bool   `json:"not_modified"`
	Error       string `json:"error,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":       "ok",
		"connectivity": s.engine.Connectivity().String(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.engine.Stats()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	out := Stats{
		Connectivity:  st.Connectivity.String(),
		Subscriptions: stateCounts(st.Subscriptions),
		Unsubscribed:  st.Unsubscribed,
		Entries:       stateCounts(st.Entries),
		Unread:        st.Unread,
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleFeeds(w http.ResponseWriter, r *http.Request) {
	subs := s.engine.Registry().Snapshot()
	out := make([]Feed, 0, len(subs))
	for _, sub := range subs {
		f := Feed{
			URL:        sub.URL,
			Title:      sub.Title,
			Tags:       sub.TagList(),
			SyncState:  sub.RemoteState.String(),
			ErrorCount: sub.ErrorCount,
		}
		if sub.LastError != nil {
			f.LastError = *sub.LastError
		}
		out = append(out, f)
	}
	writeJSON(w, http.StatusOK, out)
}

// handleFetch fetches ?url= or, without it, every feed.
func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	force := r.URL.Query().Get("force") == "true"
	if url := r.URL.Query().Get("url"); url != "" {
		res, err := s.engine.FetchFeed(r.Context(), url, force)
		if errors.Is(err, engine.ErrUnknownFeed) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeJSON(w, http.StatusOK, []FetchResult{fetchResult(url, res, err)})
		return
	}

	outcomes := s.engine.FetchAll(r.Context(), force)
	out := make([]FetchResult, 0, len(outcomes))
	for _, sub := range s.engine.Registry().Snapshot() {
		if o, ok := outcomes[sub.URL]; ok {
			out = append(out, fetchResult(sub.URL, o.FetchResult, o.Err))
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleMark(isRead bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		hash := chi.URLParam(r, "hash")
		changed, err := s.engine.MarkEntryRead(r.Context(), hash, isRead)
		if errors.Is(err, engine.ErrUnknownEntry) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"changed": changed})
	}
}

func fetchResult(url string, res engine.FetchResult, err error) FetchResult {
	out := FetchResult{URL: url, New: res.New, NotModified: res.NotModified}
	if err != nil {
		out.Error = err.Error()
	}
	return out
}

func stateCounts(in map[models.SyncState]int) map[string]int {
	out := make(map[string]int, len(in))
	for state, n := range in {
		out[state.String()] = n
	}
	return out
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
