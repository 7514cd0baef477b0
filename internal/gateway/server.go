// Package gateway hosts the admission consumer and the admin HTTP/WS API:
// session CRUD, cron job management, stats, a message-injection endpoint,
// and a WebSocket event feed.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/nextlevelbuilder/relaygate/internal/bus"
	"github.com/nextlevelbuilder/relaygate/internal/config"
	"github.com/nextlevelbuilder/relaygate/internal/queue"
	"github.com/nextlevelbuilder/relaygate/internal/scheduler"
	"github.com/nextlevelbuilder/relaygate/internal/session"
)

// Server is the admin HTTP/WS server.
type Server struct {
	cfg      config.GatewayConfig
	store    session.Store
	manager  *queue.Manager
	limiter  *queue.RateLimiter
	sched    *scheduler.Scheduler
	consumer *Consumer
	msgBus   *bus.MessageBus

	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[string]*rate.Limiter

	httpServer *http.Server
}

// NewServer wires the admin API.
func NewServer(cfg config.GatewayConfig, store session.Store, mgr *queue.Manager,
	limiter *queue.RateLimiter, sched *scheduler.Scheduler, consumer *Consumer, msgBus *bus.MessageBus) *Server {
	return &Server{
		cfg:      cfg,
		store:    store,
		manager:  mgr,
		limiter:  limiter,
		sched:    sched,
		consumer: consumer,
		msgBus:   msgBus,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Admin surface is same-host tooling; no browser origin policy.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[string]*rate.Limiter),
	}
}

// Start listens and serves until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /api/stats", s.handleStats)

	mux.HandleFunc("GET /api/sessions", s.handleListSessions)
	mux.HandleFunc("GET /api/sessions/{id}", s.handleGetSession)
	mux.HandleFunc("DELETE /api/sessions/{id}", s.handleDeleteSession)
	mux.HandleFunc("PATCH /api/sessions/{id}/field", s.handleUpdateField)
	mux.HandleFunc("GET /api/sessions/{id}/rate", s.handleSessionRate)

	mux.HandleFunc("GET /api/jobs", s.handleListJobs)
	mux.HandleFunc("POST /api/jobs", s.handleAddJob)
	mux.HandleFunc("DELETE /api/jobs/{id}", s.handleRemoveJob)
	mux.HandleFunc("POST /api/jobs/{id}/pause", s.handlePauseJob)
	mux.HandleFunc("POST /api/jobs/{id}/resume", s.handleResumeJob)
	mux.HandleFunc("POST /api/reminders", s.handleAddReminder)

	mux.HandleFunc("POST /api/messages", s.handleInjectMessage)
	mux.HandleFunc("GET /ws", s.handleWS)

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.floodGuard(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	slog.Info("admin server listening", "addr", addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// floodGuard enforces a per-client-IP request rate on the admin API.
func (s *Server) floodGuard(next http.Handler) http.Handler {
	rps := s.cfg.RateLimitRPS
	if rps <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		s.mu.Lock()
		lim, ok := s.clients[host]
		if !ok {
			lim = rate.NewLimiter(rate.Limit(rps), int(rps)*2+1)
			s.clients[host] = lim
		}
		s.mu.Unlock()

		if !lim.Allow() {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"queue": s.manager.Stats(),
		"jobs":  len(s.sched.ListJobs()),
	})
}

// --- sessions ---

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	f := session.Filter{
		ChannelType: r.URL.Query().Get("channel_type"),
		ChannelID:   r.URL.Query().Get("channel_id"),
	}
	sessions, err := s.store.List(r.Context(), f)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.store.Load(r.Context(), r.PathValue("id"))
	if errors.Is(err, session.ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	err := s.store.Delete(r.Context(), r.PathValue("id"))
	if errors.Is(err, session.ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

type updateFieldRequest struct {
	Field string          `json:"field"`
	Value json.RawMessage `json:"value"`
}

// decodeFieldValue turns the raw JSON value into the Go type the session
// field allow-list expects.
func decodeFieldValue(field string, raw json.RawMessage) (any, error) {
	switch field {
	case session.FieldPriority:
		var v int
		err := json.Unmarshal(raw, &v)
		return v, err
	case session.FieldAssignedAgent, session.FieldActivationMode:
		var v string
		err := json.Unmarshal(raw, &v)
		return v, err
	case session.FieldDirectives:
		var v []session.Directive
		err := json.Unmarshal(raw, &v)
		return v, err
	case session.FieldQuotas:
		var v session.Quotas
		err := json.Unmarshal(raw, &v)
		return v, err
	case session.FieldActivationKeywords:
		var v []string
		err := json.Unmarshal(raw, &v)
		return v, err
	case session.FieldMetadata:
		var v map[string]string
		err := json.Unmarshal(raw, &v)
		return v, err
	default:
		return nil, fmt.Errorf("field %q is not writable", field)
	}
}

func (s *Server) handleUpdateField(w http.ResponseWriter, r *http.Request) {
	var req updateFieldRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	value, err := decodeFieldValue(req.Field, req.Value)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	err = s.store.UpdateField(r.Context(), r.PathValue("id"), req.Field, value)
	if errors.Is(err, session.ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (s *Server) handleSessionRate(w http.ResponseWriter, r *http.Request) {
	stats, ok := s.limiter.Stats(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("session has no rate state"))
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// --- jobs ---

type addJobRequest struct {
	Name          string `json:"name"`
	Schedule      string `json:"schedule"`
	Message       string `json:"message"`
	SessionMode   string `json:"sessionMode,omitempty"`
	ChannelTarget string `json:"channelTarget,omitempty"`
	OneShot       bool   `json:"oneShot,omitempty"`
}

func (s *Server) handleListJobs(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.sched.ListJobs())
}

func (s *Server) handleAddJob(w http.ResponseWriter, r *http.Request) {
	var req addJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	job, err := s.sched.AddJob(scheduler.JobSpec{
		Name:          req.Name,
		Schedule:      req.Schedule,
		Message:       req.Message,
		SessionMode:   scheduler.SessionMode(req.SessionMode),
		ChannelTarget: req.ChannelTarget,
		OneShot:       req.OneShot,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

func (s *Server) handleRemoveJob(w http.ResponseWriter, r *http.Request) {
	if !s.sched.RemoveJob(r.PathValue("id")) {
		writeError(w, http.StatusNotFound, fmt.Errorf("job not found"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

func (s *Server) handlePauseJob(w http.ResponseWriter, r *http.Request) {
	if !s.sched.PauseJob(r.PathValue("id")) {
		writeError(w, http.StatusNotFound, fmt.Errorf("job not found"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "paused"})
}

func (s *Server) handleResumeJob(w http.ResponseWriter, r *http.Request) {
	if !s.sched.ResumeJob(r.PathValue("id")) {
		writeError(w, http.StatusNotFound, fmt.Errorf("job not found"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "resumed"})
}

type addReminderRequest struct {
	InSeconds     int    `json:"inSeconds"`
	Text          string `json:"text"`
	ChannelTarget string `json:"channelTarget,omitempty"`
}

func (s *Server) handleAddReminder(w http.ResponseWriter, r *http.Request) {
	var req addReminderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	job, err := s.sched.AddReminder(time.Duration(req.InSeconds)*time.Second, req.Text, req.ChannelTarget)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

// --- message injection ---

// handleInjectMessage runs an inbound message through the full admission
// pipeline and returns its result. Meant for testing and for adapters that
// prefer request/response over the bus.
func (s *Server) handleInjectMessage(w http.ResponseWriter, r *http.Request) {
	var msg bus.InboundMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if msg.ChannelType == "" || msg.ChatID == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("channel_type and chat_id are required"))
		return
	}
	resp, err := s.consumer.Handle(r.Context(), msg)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if resp == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "not_activated"})
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// --- websocket event feed ---

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	id := fmt.Sprintf("ws-%s-%d", r.RemoteAddr, time.Now().UnixNano())
	events := make(chan bus.Event, 64)
	s.msgBus.Subscribe(id, func(ev bus.Event) {
		select {
		case events <- ev:
		default: // slow client drops events rather than blocking the bus
		}
	})
	defer s.msgBus.Unsubscribe(id)

	// Reader goroutine: drains control frames and detects close.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case ev := <-events:
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		}
	}
}
