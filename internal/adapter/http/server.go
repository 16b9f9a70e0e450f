package http

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/couchcryptid/owid-pivot/internal/adapter/csvfile"
	"github.com/couchcryptid/owid-pivot/internal/domain"
	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultMaxBodyBytes caps the size of an uploaded long-format source.
const DefaultMaxBodyBytes = 64 << 20

// Pivoter reshapes observations into the wide matrix for one metric.
type Pivoter interface {
	Pivot(ctx context.Context, obs []domain.Observation, metric domain.Metric) (domain.Matrix, error)
}

// PivotOptions configures the on-demand pivot endpoint.
type PivotOptions struct {
	Keys         domain.Columns
	Source       csvfile.Options
	Pivoter      Pivoter
	MaxBodyBytes int64
}

// Server exposes health, readiness, metrics, and pivot HTTP endpoints.
type Server struct {
	httpServer *http.Server
	pivot      PivotOptions
	logger     *slog.Logger
}

// NewServer creates an HTTP server with /healthz, /readyz, /metrics, and
// POST /v1/pivot routes.
func NewServer(addr string, ready sharedobs.ReadinessChecker, pivot PivotOptions, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	if pivot.MaxBodyBytes <= 0 {
		pivot.MaxBodyBytes = DefaultMaxBodyBytes
	}

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		pivot:  pivot,
		logger: logger,
	}

	mux.HandleFunc("GET /healthz", sharedobs.LivenessHandler())
	mux.HandleFunc("GET /readyz", sharedobs.ReadinessHandler(ready))
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("POST /v1/pivot", s.handlePivot)

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

// handlePivot converts a long-format CSV request body into the wide table
// for the metric named by the "metric" query parameter.
func (s *Server) handlePivot(w http.ResponseWriter, r *http.Request) {
	metric, err := domain.LookupMetric(r.URL.Query().Get("metric"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	keys := domain.Columns{Region: s.pivot.Keys.Region, Date: s.pivot.Keys.Date}

	body := http.MaxBytesReader(w, r.Body, s.pivot.MaxBodyBytes)
	scan, err := csvfile.ReadObservations(r.Context(), body, keys, s.pivot.Source, s.logger)
	if err != nil {
		var tooLarge *http.MaxBytesError
		var malformed *domain.MalformedRowError
		switch {
		case errors.As(err, &tooLarge):
			writeError(w, http.StatusRequestEntityTooLarge, err)
		case errors.As(err, &malformed):
			writeError(w, http.StatusBadRequest, err)
		default:
			s.logger.Error("read pivot body", "error", err)
			writeError(w, http.StatusInternalServerError, errors.New("could not read request body"))
		}
		return
	}

	m, err := s.pivot.Pivoter.Pivot(r.Context(), scan.Observations, metric)
	if err != nil {
		var malformed *domain.MalformedRowError
		if errors.As(err, &malformed) {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		s.logger.Error("pivot request", "metric", metric.Name, "error", err)
		writeError(w, http.StatusInternalServerError, errors.New("pivot failed"))
		return
	}

	var buf bytes.Buffer
	if err := csvfile.WriteMatrix(&buf, m); err != nil {
		s.logger.Error("encode pivot response", "metric", metric.Name, "error", err)
		writeError(w, http.StatusInternalServerError, errors.New("encode failed"))
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", metric.File))
	w.Header().Set("X-Rows-Skipped", fmt.Sprint(scan.TotalSkipped()+m.Omitted))
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes()) //nolint:errcheck // client went away

	s.logger.Info("pivot served",
		"metric", metric.Name,
		"observations", len(scan.Observations),
		"dates", len(m.Dates),
		"regions", len(m.Regions),
	)
}

func writeError(w http.ResponseWriter, status int, err error) {
	sharedobs.WriteJSON(w, status, map[string]string{"error": err.Error()})
}
