// Package api exposes the radio controller to the operator UI over HTTP.
//
// Requests drive the controller; GET /api/stream pushes a JSON
// [radio.Snapshot] over a WebSocket whenever the controller state changes.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/MrWong99/tacradio/internal/observe"
	"github.com/MrWong99/tacradio/internal/radio"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// Radio is the controller surface the API drives. [*radio.Controller]
// satisfies it.
type Radio interface {
	Targets() []radio.Target
	SelectTarget(ctx context.Context, id string) error
	Start(ctx context.Context) error
	Stop()
	SendCommand(ctx context.Context, text string) error
	ClearHistory(ctx context.Context) error
	Snapshot() radio.Snapshot
	Subscribe() (<-chan struct{}, func())
}

var _ Radio = (*radio.Controller)(nil)

// Server serves the operator endpoints.
type Server struct {
	radio          Radio
	log            *slog.Logger
	originPatterns []string
}

// Option configures a [Server].
type Option func(*Server)

// WithLogger sets the logger. The default is [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.log = l }
}

// WithOriginPatterns allows WebSocket connections from the given origin
// host patterns in addition to same-origin requests.
func WithOriginPatterns(patterns ...string) Option {
	return func(s *Server) { s.originPatterns = append(s.originPatterns, patterns...) }
}

// New creates a Server driving r.
func New(r Radio, opts ...Option) *Server {
	s := &Server{radio: r, log: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Handler returns an http.Handler that serves:
//
//	GET    /api/targets    selectable targets
//	PUT    /api/target     select a target: {"id": "..."}
//	POST   /api/start      open the radio link
//	POST   /api/stop       close the radio link
//	POST   /api/command    send a typed command: {"text": "..."}
//	GET    /api/state      current snapshot
//	DELETE /api/history    wipe the current target's history
//	GET    /api/commands   suggested quick commands
//	GET    /api/stream     WebSocket of snapshots
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.Register(mux)
	return mux
}

// Register adds the endpoints to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/targets", s.handleTargets)
	mux.HandleFunc("PUT /api/target", s.handleSelect)
	mux.HandleFunc("POST /api/start", s.handleStart)
	mux.HandleFunc("POST /api/stop", s.handleStop)
	mux.HandleFunc("POST /api/command", s.handleCommand)
	mux.HandleFunc("GET /api/state", s.handleState)
	mux.HandleFunc("DELETE /api/history", s.handleClearHistory)
	mux.HandleFunc("GET /api/commands", s.handleCommands)
	mux.HandleFunc("GET /api/stream", s.handleStream)
}

type selectRequest struct {
	ID string `json:"id"`
}

type commandRequest struct {
	Text string `json:"text"`
}

type errorResponse struct {
	Error string `json:"error"`

	// CorrelationID is the trace ID of a failed request, set for internal
	// errors so the operator can quote it.
	CorrelationID string `json:"correlation_id,omitempty"`
}

func (s *Server) handleTargets(w http.ResponseWriter, _ *http.Request) {
	targets := s.radio.Targets()
	if targets == nil {
		targets = []radio.Target{}
	}
	writeJSON(w, http.StatusOK, targets)
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	var req selectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.ID == "" {
		http.Error(w, "id is required", http.StatusBadRequest)
		return
	}
	if err := s.radio.SelectTarget(r.Context(), req.ID); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.radio.Snapshot())
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if err := s.radio.Start(r.Context()); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, s.radio.Snapshot())
}

func (s *Server) handleStop(w http.ResponseWriter, _ *http.Request) {
	s.radio.Stop()
	writeJSON(w, http.StatusOK, s.radio.Snapshot())
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.radio.SendCommand(r.Context(), req.Text); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, s.radio.Snapshot())
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.radio.Snapshot())
}

func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	if err := s.radio.ClearHistory(r.Context()); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCommands(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, radio.SuggestedCommands)
}

// handleStream upgrades to a WebSocket and writes a snapshot immediately and
// after every change until the client goes away.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.originPatterns,
	})
	if err != nil {
		s.log.Warn("api: websocket accept failed", "err", err)
		return
	}
	defer conn.CloseNow()

	updates, cancel := s.radio.Subscribe()
	defer cancel()

	// The client never sends; CloseRead notices when it disconnects.
	ctx := conn.CloseRead(r.Context())

	if err := wsjson.Write(ctx, conn, s.radio.Snapshot()); err != nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-updates:
			if err := wsjson.Write(ctx, conn, s.radio.Snapshot()); err != nil {
				if websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
					s.log.Debug("api: stream write failed", "err", err)
				}
				return
			}
		}
	}
}

// writeError maps controller errors to HTTP status codes.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, radio.ErrNoTargetSelected):
		status = http.StatusConflict
	case errors.Is(err, radio.ErrDeviceAccessDenied):
		status = http.StatusForbidden
	case errors.Is(err, radio.ErrLinkUnstable):
		status = http.StatusBadGateway
	case errors.Is(err, radio.ErrUnknownTarget):
		status = http.StatusNotFound
	}
	resp := errorResponse{Error: err.Error()}
	if status == http.StatusInternalServerError {
		observe.WithTrace(r.Context(), s.log).Error("api: request failed",
			"method", r.Method, "path", r.URL.Path, "err", err)
		resp.CorrelationID = observe.CorrelationID(r.Context())
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
