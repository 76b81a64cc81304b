// Package control exposes the orchestrator to local clients (the launcher UI
// and the CLI) over HTTP on a unix socket.
//
// Routes:
//   - GET  /healthz      - liveness of the control server itself
//   - GET  /v1/status    - run state and per-stage status table
//   - GET  /v1/events    - NDJSON event stream; ?replay=true sends history first
//   - POST /v1/start     - start the sequence (once per process lifetime)
//   - POST /v1/shutdown  - stop every stage and wait for completion
//   - POST /v1/import    - forward files to the application's drop folder
package control

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/turtacn/booklore-runner/internal/events"
	"github.com/turtacn/booklore-runner/pkg/errors"
	"github.com/turtacn/booklore-runner/pkg/logger"
)

// Engine is the orchestrator surface the control API drives.
type Engine interface {
	StartAsync(ctx context.Context) error
	Shutdown(ctx context.Context) error
	Import(ctx context.Context, paths []string) (int, error)
	Snapshot() []events.StageState
	Subscribe(replay bool) (<-chan events.Event, func())
	State() string
	URL() string
	RunID() string
}

// StatusResponse is the body of GET /v1/status.
type StatusResponse struct {
	RunID  string              `json:"run_id"`
	State  string              `json:"state"`
	URL    string              `json:"url,omitempty"`
	Stages []events.StageState `json:"stages"`
}

// ImportRequest is the body of POST /v1/import.
type ImportRequest struct {
	Paths []string `json:"paths"`
}

// ImportResponse is the body of a successful POST /v1/import.
type ImportResponse struct {
	Accepted int `json:"accepted"`
}

// shutdownTimeout bounds a shutdown requested over the API. Process grace
// periods are far shorter; this only guards against a wedged stop.
const shutdownTimeout = 2 * time.Minute

type handler struct {
	engine     Engine
	onShutdown func()
}

// NewRouter builds the control API. onShutdown, if set, runs after a shutdown
// requested over the API has completed.
func NewRouter(engine Engine, onShutdown func()) http.Handler {
	h := &handler{engine: engine, onShutdown: onShutdown}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Get("/status", h.status)
		r.Get("/events", h.events)
		r.Post("/start", h.start)
		r.Post("/shutdown", h.shutdown)
		r.Post("/import", h.importFiles)
	})
	return r
}

func (h *handler) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatusResponse{
		RunID:  h.engine.RunID(),
		State:  h.engine.State(),
		URL:    h.engine.URL(),
		Stages: h.engine.Snapshot(),
	})
}

func (h *handler) events(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeProblem(w, http.StatusInternalServerError, errors.ErrCodeUnknown, "streaming unsupported")
		return
	}
	replay, _ := strconv.ParseBool(r.URL.Query().Get("replay"))

	ch, cancel := h.engine.Subscribe(replay)
	defer cancel()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	enc := json.NewEncoder(w)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := enc.Encode(ev); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func (h *handler) start(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.StartAsync(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"state": h.engine.State()})
}

func (h *handler) shutdown(w http.ResponseWriter, r *http.Request) {
	// A client hanging up must not abandon the teardown half way.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), shutdownTimeout)
	defer cancel()

	err := h.engine.Shutdown(ctx)
	if h.onShutdown != nil {
		defer h.onShutdown()
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"state": h.engine.State()})
}

func (h *handler) importFiles(w http.ResponseWriter, r *http.Request) {
	var req ImportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, errors.ErrCodeUnknown, "invalid request body: "+err.Error())
		return
	}
	if len(req.Paths) == 0 {
		writeProblem(w, http.StatusBadRequest, errors.ErrCodeUnknown, "paths is required")
		return
	}

	n, err := h.engine.Import(r.Context(), req.Paths)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ImportResponse{Accepted: n})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		logger.Log.Debug("Control request",
			"request_id", middleware.GetReqID(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start).String(),
		)
	})
}

// Personal.AI order the ending
