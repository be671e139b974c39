package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"galaxion/sync/internal/ai"
	"galaxion/sync/internal/clock"
	"galaxion/sync/internal/config"
	"galaxion/sync/internal/game"
	"galaxion/sync/internal/logging"
	"galaxion/sync/internal/queue"
	"galaxion/sync/internal/session"
)

// Server exposes the HTTP ingress for session management, command submission
// and WebSocket subscriptions.
type Server struct {
	cfg       *config.Config
	logger    *logging.Logger
	manager   *session.Manager
	queue     *queue.Queue
	scheduler *ai.Scheduler
	tuning    *ai.Tuning
	clock     *clock.Clock
	hub       *Hub
}

// NewServer wires the ingress over the shared pipeline collaborators.
func NewServer(cfg *config.Config, logger *logging.Logger, manager *session.Manager, commandQueue *queue.Queue, scheduler *ai.Scheduler, tuning *ai.Tuning, clk *clock.Clock, hub *Hub) *Server {
	return &Server{
		cfg:       cfg,
		logger:    logger,
		manager:   manager,
		queue:     commandQueue,
		scheduler: scheduler,
		tuning:    tuning,
		clock:     clk,
		hub:       hub,
	}
}

// Routes registers every handler on a fresh mux.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/sessions", s.handleSessions)
	mux.HandleFunc("/sessions/", s.handleSessionSubpath)
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/stats", s.handleStats)
	return mux
}

// createSessionRequest is the POST /sessions payload.
type createSessionRequest struct {
	SessionID  string                `json:"session_id"`
	Difficulty string                `json:"difficulty"`
	Players    []sessionPlayerConfig `json:"players"`
}

type sessionPlayerConfig struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	AI       bool   `json:"ai"`
	Strategy string `json:"strategy,omitempty"`
}

type createSessionResponse struct {
	SessionID  string `json:"session_id"`
	Difficulty string `json:"difficulty"`
	Version    uint64 `json:"version"`
	Players    int    `json:"players"`
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req createSessionRequest
	if err := s.decodeBody(w, r, &req); err != nil {
		return
	}
	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "session_id is required")
		return
	}
	if len(req.Players) == 0 {
		writeError(w, http.StatusBadRequest, "at least one player is required")
		return
	}
	difficulty, err := ai.ParseDifficulty(req.Difficulty)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	players := make([]game.Player, 0, len(req.Players))
	for _, p := range req.Players {
		id := strings.TrimSpace(p.ID)
		if id == "" {
			writeError(w, http.StatusBadRequest, "player id is required")
			return
		}
		players = append(players, game.Player{ID: id, Name: p.Name, AI: p.AI})
	}

	world := game.NewWorld(sessionID, players)
	aggregate, err := s.manager.GetOrCreate(r.Context(), sessionID, world)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	//1.- Registration order matters: the session exists before any strategy can act on it.
	s.scheduler.RegisterSession(sessionID, difficulty)
	for _, p := range req.Players {
		if !p.AI {
			continue
		}
		name := strings.TrimSpace(p.Strategy)
		if name == "" {
			name = ai.StrategyBalanced
		}
		strategy, err := ai.NewStrategy(name, s.tuning)
		if err != nil {
			s.scheduler.UnregisterSession(sessionID)
			s.manager.Remove(sessionID)
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		strategy = ai.AdjustForDifficulty(strategy, difficulty, s.tuning)
		s.scheduler.RegisterStrategy(sessionID, strings.TrimSpace(p.ID), strategy)
	}

	s.logger.Info("session created",
		logging.String("session_id", sessionID),
		logging.String("difficulty", string(difficulty)),
		logging.Int("players", len(players)))
	writeJSON(w, http.StatusCreated, createSessionResponse{
		SessionID:  sessionID,
		Difficulty: string(difficulty),
		Version:    aggregate.Version(),
		Players:    len(players),
	})
}

// handleSessionSubpath routes /sessions/{id}/commands and DELETE /sessions/{id}.
func (s *Server) handleSessionSubpath(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/sessions/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		writeError(w, http.StatusNotFound, "session id missing")
		return
	}
	sessionID := parts[0]

	switch {
	case len(parts) == 2 && parts[1] == "commands" && r.Method == http.MethodPost:
		s.handleCommand(w, r, sessionID)
	case len(parts) == 1 && r.Method == http.MethodDelete:
		s.handleRemoveSession(w, sessionID)
	default:
		writeError(w, http.StatusNotFound, "unknown session operation")
	}
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request, sessionID string) {
	if _, ok := s.manager.Get(sessionID); !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown session %q", sessionID))
		return
	}

	body, err := s.readBody(w, r)
	if err != nil {
		return
	}
	command, err := game.DecodeEvent(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.queue.Enqueue(sessionID, command); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"session_id": sessionID,
		"kind":       command.Kind(),
		"queued":     s.queue.Len(sessionID),
	})
}

func (s *Server) handleRemoveSession(w http.ResponseWriter, sessionID string) {
	if _, ok := s.manager.Get(sessionID); !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown session %q", sessionID))
		return
	}
	//1.- Stop AI generation first so nothing re-fills the queue being dropped.
	s.scheduler.UnregisterSession(sessionID)
	s.queue.Remove(sessionID)
	s.manager.Remove(sessionID)
	s.logger.Info("session removed", logging.String("session_id", sessionID))
	writeJSON(w, http.StatusOK, map[string]string{"session_id": sessionID, "status": "removed"})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session"))
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "session query parameter is required")
		return
	}
	aggregate, ok := s.manager.Get(sessionID)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown session %q", sessionID))
		return
	}
	client := s.hub.ServeWS(w, r, sessionID)
	if client == nil {
		return
	}
	//1.- New subscribers start from a full world; deltas only make sense against it.
	if err := s.hub.sendWorldTo(client, aggregate.WorldCopy()); err != nil {
		s.logger.Warn("initial world send failed",
			logging.String("session_id", sessionID),
			logging.Error(err))
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// sessionStats is the per-session slice of the /stats payload.
type sessionStats struct {
	SessionID    string `json:"session_id"`
	Version      uint64 `json:"version"`
	QueueDepth   int    `json:"queue_depth"`
	Subscribers  int    `json:"subscribers"`
	HasAiPacing  bool   `json:"has_ai_pacing"`
	LastAiTick   uint64 `json:"last_ai_tick,omitempty"`
	AiDifficulty string `json:"ai_difficulty,omitempty"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	ids := s.manager.Sessions()
	sessions := make([]sessionStats, 0, len(ids))
	for _, id := range ids {
		stats := sessionStats{
			SessionID:   id,
			QueueDepth:  s.queue.Len(id),
			Subscribers: s.hub.MemberCount(id),
		}
		if aggregate, ok := s.manager.Get(id); ok {
			stats.Version = aggregate.Version()
		}
		if state, ok := s.scheduler.State(id); ok {
			stats.HasAiPacing = true
			stats.LastAiTick = state.LastAiTick
			stats.AiDifficulty = string(state.Difficulty)
		}
		sessions = append(sessions, stats)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"tick":            s.clock.Monitor().Snapshot(),
		"tick_rate":       s.cfg.TickRate,
		"sessions":        sessions,
		"replay_failures": s.manager.ReplayFailures(),
	})
}

func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, target any) error {
	body, err := s.readBody(w, r)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, target); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON payload: %v", err))
		return err
	}
	return nil
}

func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxPayloadBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload too large")
		} else {
			writeError(w, http.StatusBadRequest, "unable to read request body")
		}
		return nil, err
	}
	return body, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
