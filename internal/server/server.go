// Package server exposes the HTTP surface of wavecast: the WebSocket stream,
// playlist control, status and catalog endpoints, health checks, Prometheus
// metrics and the static player page.
package server

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/MrWong99/wavecast/internal/catalog"
	"github.com/MrWong99/wavecast/internal/health"
	"github.com/MrWong99/wavecast/internal/observe"
	"github.com/MrWong99/wavecast/internal/playback"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"
)

// ErrControlRequest marks a malformed control request. It is reported to the
// caller as 400 Bad Request and never touches playback state.
var ErrControlRequest = errors.New("server: invalid control request")

//go:embed web
var webFS embed.FS

// Controller is the playback surface driven over HTTP. [*playback.Controller]
// implements it.
type Controller interface {
	Next(ctx context.Context) (playback.Position, error)
	Previous(ctx context.Context) (playback.Position, error)
	Reload(ctx context.Context) (playback.Position, error)
	Status() playback.Status
}

// Library lists the tracks on disk. [*catalog.Catalog] implements it.
type Library interface {
	List() ([]catalog.Track, error)
	Get(index int) (catalog.Track, error)
}

// Config holds the collaborators of a [Server].
type Config struct {
	// Controller drives playback. Required.
	Controller Controller

	// Library backs the /tracks endpoints. Required.
	Library Library

	// Stream serves /ws. Required.
	Stream http.Handler

	// Health serves /healthz and /readyz. Optional.
	Health *health.Handler

	// Metrics records request durations. Defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// MetricsHandler serves /metrics. Defaults to [promhttp.Handler].
	MetricsHandler http.Handler

	// TracerProvider receives request spans. Defaults to the global provider.
	TracerProvider trace.TracerProvider

	// StaticDir is served at /. When empty the built-in player page is used.
	StaticDir string
}

// Server routes HTTP requests to the playback engine.
type Server struct {
	cfg Config
	mux *http.ServeMux
}

// New builds the route table.
func New(cfg Config) *Server {
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.MetricsHandler == nil {
		cfg.MetricsHandler = promhttp.Handler()
	}
	s := &Server{cfg: cfg, mux: http.NewServeMux()}
	s.routes()
	return s
}

// Handler returns the instrumented root handler.
func (s *Server) Handler() http.Handler {
	return observe.Middleware(s.cfg.Metrics, observe.WithTracerProvider(s.cfg.TracerProvider))(s.mux)
}

func (s *Server) routes() {
	s.mux.Handle("GET /ws", s.cfg.Stream)

	for _, m := range []string{"GET", "POST"} {
		s.mux.HandleFunc(m+" /next", s.handleNext)
		s.mux.HandleFunc(m+" /previous", s.handlePrevious)
	}
	s.mux.HandleFunc("POST /reload", s.handleReload)
	s.mux.HandleFunc("POST /control", s.handleControl)

	s.mux.HandleFunc("GET /status", s.handleStatus)
	s.mux.HandleFunc("GET /tracks", s.handleTracks)
	s.mux.HandleFunc("GET /tracks/{index}", s.handleTrack)

	if s.cfg.Health != nil {
		s.cfg.Health.Register(s.mux)
	}
	s.mux.Handle("GET /metrics", s.cfg.MetricsHandler)

	s.mux.Handle("GET /", s.staticHandler())
}

func (s *Server) staticHandler() http.Handler {
	if s.cfg.StaticDir != "" {
		return http.FileServer(http.Dir(s.cfg.StaticDir))
	}
	sub, err := fs.Sub(webFS, "web")
	if err != nil {
		panic("server: embedded web assets: " + err.Error())
	}
	return http.FileServerFS(sub)
}

// ─── Control ─────────────────────────────────────────────────────────────────

type controlRequest struct {
	Action string `json:"action"`
}

type controlResponse struct {
	Success  bool               `json:"success"`
	Position *playback.Position `json:"position,omitempty"`
	Error    string             `json:"error,omitempty"`
}

func (s *Server) handleNext(w http.ResponseWriter, r *http.Request) {
	s.control(w, r, "next")
}

func (s *Server) handlePrevious(w http.ResponseWriter, r *http.Request) {
	s.control(w, r, "previous")
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	s.control(w, r, "reload")
}

func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	action, err := decodeControl(w, r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, controlResponse{Error: err.Error()})
		return
	}
	s.control(w, r, action)
}

func decodeControl(w http.ResponseWriter, r *http.Request) (string, error) {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<10))
	dec.DisallowUnknownFields()
	var req controlRequest
	if err := dec.Decode(&req); err != nil {
		return "", fmt.Errorf("%w: %v", ErrControlRequest, err)
	}
	switch action := strings.ToLower(strings.TrimSpace(req.Action)); action {
	case "next", "previous", "reload":
		return action, nil
	case "":
		return "", fmt.Errorf("%w: missing action", ErrControlRequest)
	default:
		return "", fmt.Errorf("%w: unknown action %q", ErrControlRequest, req.Action)
	}
}

func (s *Server) control(w http.ResponseWriter, r *http.Request, action string) {
	var (
		pos playback.Position
		err error
	)
	switch action {
	case "next":
		pos, err = s.cfg.Controller.Next(r.Context())
	case "previous":
		pos, err = s.cfg.Controller.Previous(r.Context())
	case "reload":
		pos, err = s.cfg.Controller.Reload(r.Context())
	}
	if err != nil {
		status := http.StatusServiceUnavailable
		if errors.Is(err, catalog.ErrCatalogEmpty) {
			status = http.StatusConflict
		}
		observe.Logger(r.Context()).Warn("control request failed", "action", action, "err", err)
		writeJSON(w, status, controlResponse{Error: err.Error()})
		return
	}
	observe.Logger(r.Context()).Info("control request", "action", action, "track", pos.Track.Name, "index", pos.Index)
	writeJSON(w, http.StatusOK, controlResponse{Success: true, Position: &pos})
}

// ─── Status and catalog ──────────────────────────────────────────────────────

type statusResponse struct {
	Status     string         `json:"status"`
	Clients    int            `json:"clients"`
	Position   int            `json:"position"`
	Track      string         `json:"track"`
	Tracks     int            `json:"tracks"`
	State      playback.State `json:"state"`
	SessionID  string         `json:"session_id,omitempty"`
	ChunksSent int            `json:"chunks_sent"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	st := s.cfg.Controller.Status()
	writeJSON(w, http.StatusOK, statusResponse{
		Status:     "online",
		Clients:    st.Clients,
		Position:   st.Position.Index,
		Track:      st.Position.Track.Name,
		Tracks:     st.Position.Total,
		State:      st.State,
		SessionID:  st.SessionID,
		ChunksSent: st.ChunksSent,
	})
}

type tracksResponse struct {
	Tracks []catalog.Track `json:"tracks"`
}

func (s *Server) handleTracks(w http.ResponseWriter, r *http.Request) {
	tracks, err := s.cfg.Library.List()
	if err != nil {
		observe.Logger(r.Context()).Error("listing library failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, controlResponse{Error: "library unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, tracksResponse{Tracks: tracks})
}

type trackResponse struct {
	Index int    `json:"index"`
	Name  string `json:"name"`
}

func (s *Server) handleTrack(w http.ResponseWriter, r *http.Request) {
	idx, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, controlResponse{Error: "index must be an integer"})
		return
	}
	tr, err := s.cfg.Library.Get(idx)
	switch {
	case errors.Is(err, catalog.ErrTrackNotFound):
		writeJSON(w, http.StatusNotFound, controlResponse{Error: err.Error()})
	case err != nil:
		observe.Logger(r.Context()).Error("reading library failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, controlResponse{Error: "library unavailable"})
	default:
		writeJSON(w, http.StatusOK, trackResponse{Index: idx, Name: tr.Name})
	}
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("writing json response failed", "err", err)
	}
}
