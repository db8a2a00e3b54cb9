package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"rt-trace-monitor/internal/chrometrace"
	"rt-trace-monitor/internal/logging"
	"rt-trace-monitor/internal/models"
	"rt-trace-monitor/internal/ratelimit"
	"rt-trace-monitor/internal/telemetry"
	"rt-trace-monitor/internal/timeline"
	"rt-trace-monitor/internal/trace"
)

// StatsSource serves live deadline statistics.
type StatsSource interface {
	All() []models.TaskStats
	Stats(id models.TaskID) (models.TaskStats, bool)
}

// BufferSource reports the trace buffer's fill state.
type BufferSource interface {
	Status() trace.Status
}

// DumpArchive lists and reads archived dumps.
type DumpArchive interface {
	RecentDumps(ctx context.Context, limit int) ([]models.DumpSummary, error)
	DumpRecords(ctx context.Context, id string) ([]models.EventRecord, error)
}

// HistorySource reads the statistics persisted by earlier drains, including
// those of previous runs.
type HistorySource interface {
	LoadStats(ctx context.Context) ([]models.TaskStats, error)
}

// Drainer forces a drain outside the dumper's own schedule.
type Drainer interface {
	Drain(ctx context.Context, trigger models.Trigger) (models.Dump, error)
}

const maxTimelineWidth = 4096

// Server wires HTTP handlers for the read-only monitor API.
type Server struct {
	stats   StatsSource
	buffer  BufferSource
	dumps   DumpArchive
	drainer Drainer
	history HistorySource
	limiter *ratelimit.TokenBucket
	logger  logging.Logger
}

type Option func(*Server)

func WithDumps(d DumpArchive) Option { return func(s *Server) { s.dumps = d } }

func WithDrainer(d Drainer) Option { return func(s *Server) { s.drainer = d } }

func WithHistory(h HistorySource) Option { return func(s *Server) { s.history = h } }

func WithLimiter(l *ratelimit.TokenBucket) Option { return func(s *Server) { s.limiter = l } }

func WithLogger(l logging.Logger) Option { return func(s *Server) { s.logger = l } }

// New constructs the API server.
func New(stats StatsSource, buffer BufferSource, opts ...Option) *Server {
	s := &Server{
		stats:  stats,
		buffer: buffer,
		logger: logging.NoOp{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/metrics", telemetry.Handler())

	r.Group(func(r chi.Router) {
		r.Use(ratelimit.Middleware(s.limiter, ratelimit.ClientKey, s.logger))

		r.Get("/stats", s.handleStats)
		r.Get("/stats/history", s.handleHistory)
		r.Get("/stats/{taskID}", s.handleTaskStats)
		r.Get("/trace", s.handleTrace)
		r.Post("/trace/drain", s.handleDrain)
		r.Get("/dumps", s.handleDumps)
		r.Get("/dumps/{id}", s.handleDump)
		r.Get("/dumps/{id}/chrome", s.handleChrome)
		r.Get("/dumps/{id}/timeline.png", s.handleTimeline)
	})
	return r
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	stats := s.stats.All()
	if stats == nil {
		stats = []models.TaskStats{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": stats})
}

func (s *Server) handleTaskStats(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "taskID"), 10, 32)
	if err != nil {
		http.Error(w, "invalid task id", http.StatusBadRequest)
		return
	}
	st, ok := s.stats.Stats(models.TaskID(id))
	if !ok {
		http.Error(w, "unknown task", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		http.Error(w, "no stats store configured", http.StatusNotFound)
		return
	}
	stats, err := s.history.LoadStats(r.Context())
	if err != nil {
		http.Error(w, "failed to load stats", http.StatusInternalServerError)
		return
	}
	if stats == nil {
		stats = []models.TaskStats{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": stats})
}

type traceResponse struct {
	Enabled bool `json:"enabled"`
	trace.Status
}

func (s *Server) handleTrace(w http.ResponseWriter, _ *http.Request) {
	st := s.buffer.Status()
	writeJSON(w, http.StatusOK, traceResponse{Enabled: st.Capacity > 0, Status: st})
}

func (s *Server) handleDrain(w http.ResponseWriter, r *http.Request) {
	if s.drainer == nil {
		http.Error(w, "drain not available", http.StatusNotImplemented)
		return
	}
	dump, err := s.drainer.Drain(r.Context(), models.TriggerManual)
	if errors.Is(err, trace.ErrDisabled) {
		http.Error(w, "tracing disabled", http.StatusServiceUnavailable)
		return
	}
	if err != nil {
		// The buffer was still reset; report what was drained.
		s.logger.Warn("manual drain sink error", logging.F("error", err))
	}
	writeJSON(w, http.StatusOK, models.DumpSummary{
		ID:         dump.ID,
		Trigger:    dump.Trigger,
		StartedMS:  dump.StartedMS,
		FinishedMS: dump.FinishedMS,
		Records:    len(dump.Records),
	})
}

func (s *Server) handleDumps(w http.ResponseWriter, r *http.Request) {
	if s.dumps == nil {
		http.Error(w, "no dump archive configured", http.StatusNotFound)
		return
	}
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	items, err := s.dumps.RecentDumps(r.Context(), limit)
	if err != nil {
		http.Error(w, "failed to list dumps", http.StatusInternalServerError)
		return
	}
	if items == nil {
		items = []models.DumpSummary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// records loads a dump or writes the error response and returns false.
func (s *Server) records(w http.ResponseWriter, r *http.Request) ([]models.EventRecord, bool) {
	if s.dumps == nil {
		http.Error(w, "no dump archive configured", http.StatusNotFound)
		return nil, false
	}
	recs, err := s.dumps.DumpRecords(r.Context(), chi.URLParam(r, "id"))
	switch {
	case errors.Is(err, models.ErrNotFound):
		http.Error(w, "unknown dump", http.StatusNotFound)
		return nil, false
	case err != nil:
		http.Error(w, err.Error(), http.StatusBadRequest)
		return nil, false
	}
	return recs, true
}

func (s *Server) handleDump(w http.ResponseWriter, r *http.Request) {
	recs, ok := s.records(w, r)
	if !ok {
		return
	}
	if recs == nil {
		recs = []models.EventRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": chi.URLParam(r, "id"), "records": recs})
}

func (s *Server) handleChrome(w http.ResponseWriter, r *http.Request) {
	recs, ok := s.records(w, r)
	if !ok {
		return
	}
	events, err := chrometrace.Convert(recs)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = chrometrace.Write(w, events)
}

func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	recs, ok := s.records(w, r)
	if !ok {
		return
	}
	events, err := chrometrace.Convert(recs)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	var opts timeline.Options
	if v := r.URL.Query().Get("width"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxTimelineWidth {
			http.Error(w, "invalid width", http.StatusBadRequest)
			return
		}
		opts.Width = n
	}
	img, err := timeline.Render(events, opts)
	if errors.Is(err, timeline.ErrEmpty) {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	if err := timeline.Encode(w, img); err != nil {
		s.logger.Warn("encode timeline", logging.F("error", err))
	}
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
