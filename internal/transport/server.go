package transport

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/pitabwire/util"

	"github.com/antinvestor/pilot/internal/engine"
	"github.com/antinvestor/pilot/internal/events"
)

// Stream frame names on the SSE wire. The client switches on these to
// route data into the right subscriber stream.
const (
	frameState    = "state"
	frameLog      = "log"
	frameApproval = "approval"
	frameEvent    = "event"
)

const (
	streamHeartbeat = 15 * time.Second

	// streamSendBuffer smooths bursts between the hub's drain
	// goroutines and the connection writer.
	streamSendBuffer = 1024
)

// ServerConfig tunes the remote deployment's HTTP surface.
type ServerConfig struct {
	// CommandsPerMinute rate-limits the command endpoint per client.
	CommandsPerMinute int

	// CommandBurst is the short-term burst allowance.
	CommandBurst int
}

// Server exposes the transport contract over HTTP: commands in via
// POST, updates out via a server-sent event stream.
type Server struct {
	runner  *Runner
	hub     *Hub
	limiter *RateLimiter
}

// NewServer creates the HTTP surface over a runner and the hub wired
// as the engine's sink.
func NewServer(runner *Runner, hub *Hub, cfg ServerConfig) *Server {
	if cfg.CommandsPerMinute <= 0 {
		cfg.CommandsPerMinute = 60
	}
	if cfg.CommandBurst <= 0 {
		cfg.CommandBurst = 10
	}
	return &Server{
		runner:  runner,
		hub:     hub,
		limiter: NewRateLimiter(cfg.CommandsPerMinute, cfg.CommandBurst),
	}
}

// Handler returns the route mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/v1/status", s.handleStatus)
	mux.Handle("POST /api/v1/commands", s.limiter.Middleware(http.HandlerFunc(s.handleCommand)))
	mux.HandleFunc("GET /api/v1/stream", s.handleStream)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.runner.Status())
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var cmd Command
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		writeJSON(w, http.StatusBadRequest, Ack{OK: false, Error: "malformed command: " + err.Error()})
		return
	}

	ack := s.runner.Apply(r.Context(), cmd)
	// Command-level refusals still acknowledge over HTTP 200; only
	// transport-level problems use error statuses.
	writeJSON(w, http.StatusOK, ack)
}

// frame is one serialized SSE message.
type frame struct {
	name string
	data []byte
}

// handleStream pushes every engine update to the client as SSE frames
// tagged with the update kind. Writes are serialized through a single
// channel so per-connection ordering matches publish order.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	log := util.Log(ctx)

	frames := make(chan frame, streamSendBuffer)
	push := func(name string, v any) {
		data, err := json.Marshal(v)
		if err != nil {
			log.WithError(err).Error("marshal stream frame failed", "frame", name)
			return
		}
		select {
		case frames <- frame{name: name, data: data}:
		case <-ctx.Done():
		}
	}

	unsubs := []Unsubscribe{
		s.hub.OnStateUpdate(func(u engine.StateUpdate) { push(frameState, u) }),
		s.hub.OnLog(func(e engine.LogEntry) { push(frameLog, e) }),
		s.hub.OnApprovalRequest(func(a engine.ApprovalRequest) { push(frameApproval, a) }),
		s.hub.OnEvent(func(e events.Event) { push(frameEvent, e) }),
	}
	defer func() {
		for _, u := range unsubs {
			u()
		}
	}()

	heartbeat := time.NewTicker(streamHeartbeat)
	defer heartbeat.Stop()

	log.Info("stream subscriber connected", "remote", r.RemoteAddr)

	for {
		select {
		case f := <-frames:
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", f.name, f.data)
			flusher.Flush()
		case <-heartbeat.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()
		case <-ctx.Done():
			log.Info("stream subscriber disconnected", "remote", r.RemoteAddr)
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
