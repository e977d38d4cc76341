package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/media-harvester/pkg/fetch"
	"github.com/Sriram-PR/media-harvester/pkg/orchestrate"
)

// ProgressSource supplies merged slice progress; *orchestrate.Orchestrator implements it.
type ProgressSource interface {
	Snapshot() orchestrate.Snapshot
}

// HostSource supplies per-host download load; *fetch.HostSemaphorePool implements it.
type HostSource interface {
	Load() []fetch.HostLoad
}

// Server exposes batch progress over HTTP
type Server struct {
	addr    string
	source  ProgressSource
	hosts   HostSource // Optional
	router  *chi.Mux
	started time.Time
	log     *logrus.Entry
}

// NewServer creates a monitor listening on addr once Run is called.
func NewServer(addr string, source ProgressSource, log *logrus.Entry) *Server {
	s := &Server{addr: addr, source: source, started: time.Now(), log: log}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", s.handleHealth)
	r.Get("/progress", s.handleProgress)
	r.Get("/progress/slices/{index}", s.handleSlice)
	r.Get("/progress/hosts", s.handleHosts)
	s.router = r
	return s
}

// WithHosts enables /progress/hosts backed by src
func (s *Server) WithHosts(src HostSource) *Server {
	s.hosts = src
	return s
}

// Handler returns the router, for tests and embedding
func (s *Server) Handler() http.Handler { return s.router }

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	srv := &http.Server{Handler: s.router, ReadHeaderTimeout: 10 * time.Second}
	s.log.Infof("Progress monitor listening on http://%s", ln.Addr())

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(s.started).Round(time.Second).String(),
	})
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.source.Snapshot())
}

func (s *Server) handleSlice(w http.ResponseWriter, r *http.Request) {
	idx, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "slice index must be an integer"})
		return
	}
	for _, sl := range s.source.Snapshot().Slices {
		if sl.Index == idx {
			writeJSON(w, http.StatusOK, sl)
			return
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]string{"error": "slice not in the current batch"})
}

func (s *Server) handleHosts(w http.ResponseWriter, r *http.Request) {
	if s.hosts == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "host load not available"})
		return
	}
	writeJSON(w, http.StatusOK, s.hosts.Load())
}

// logRequests logs each request through logrus at debug level
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.WithFields(logrus.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"duration":   time.Since(start),
			"request_id": middleware.GetReqID(r.Context()),
		}).Debug("Monitor request")
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
