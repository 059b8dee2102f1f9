// Package api is the HTTP transport around the game engine: JSON
// endpoints for the operation table, an SSE stream and a websocket hub
// for change notification, admin-token checking, CSV participant import
// and static UI delivery. The engine stays transport-agnostic; this
// package owns subscriber management and error-to-status mapping.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/marketpit/marketpit/pkg/game"
	"github.com/marketpit/marketpit/pkg/metrics"
	"github.com/marketpit/marketpit/params"
)

// Server handles REST, SSE and WebSocket connections.
type Server struct {
	cfg    params.Config
	game   *game.Game
	log    *zap.SugaredLogger
	router *mux.Router
	hub    *Hub
	stream *streamHub
}

// NewServer wires the routes. Install the server as the game's notifier
// to make broadcasts flow.
func NewServer(g *game.Game, cfg params.Config, log *zap.SugaredLogger) *Server {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	s := &Server{
		cfg:    cfg,
		game:   g,
		log:    log,
		router: mux.NewRouter(),
		hub:    NewHub(log),
		stream: newStreamHub(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(s.logRequests)

	api.HandleFunc("/join", s.handleJoin).Methods("POST")
	api.HandleFunc("/reveal", s.handleReveal).Methods("POST")
	api.HandleFunc("/orders", s.handleSubmitOrder).Methods("POST")
	api.HandleFunc("/orders/cancel", s.handleCancelOwn).Methods("POST")
	api.HandleFunc("/state", s.handleState).Methods("GET")
	api.HandleFunc("/stream", s.handleStream).Methods("GET")

	admin := api.PathPrefix("/admin").Subrouter()
	admin.Use(s.requireAdmin)
	admin.HandleFunc("/orders/{id:[0-9]+}/cancel", s.handleAdminCancel).Methods("POST")
	admin.HandleFunc("/reset", s.handleReset).Methods("POST")
	admin.HandleFunc("/settle", s.handleSettle).Methods("POST")
	admin.HandleFunc("/turns/order", s.handleSetTurnOrder).Methods("PUT")
	admin.HandleFunc("/turns/current", s.handleSetCurrentTurn).Methods("PUT")
	admin.HandleFunc("/turns/start", s.handleStartTurns).Methods("POST")
	admin.HandleFunc("/turns/stop", s.handleStopTurns).Methods("POST")
	admin.HandleFunc("/participants/import", s.handleImport).Methods("POST")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.Handle("/metrics", metrics.Handler())
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	if s.cfg.HTTP.StaticDir != "" {
		s.router.PathPrefix("/").Handler(http.FileServer(http.Dir(s.cfg.HTTP.StaticDir)))
	}
}

// logRequests records every api call. The stream endpoint is logged on
// connect, before the long-lived response starts.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.log.Infow("http_request", "method", r.Method, "path", r.URL.Path, "remote", r.RemoteAddr)
		next.ServeHTTP(w, r)
	})
}

// Handler returns the CORS-wrapped root handler.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   s.cfg.HTTP.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "X-Admin-Token"},
		AllowCredentials: true,
	})
	return c.Handler(s.router)
}

// Start runs the websocket hub and serves until the listener fails.
func (s *Server) Start(addr string) error {
	go s.hub.Run()

	s.log.Infow("api_server_starting", "addr", addr)
	return http.ListenAndServe(addr, s.Handler())
}

// Notify implements game.Notifier: one committed mutation, one push to
// every subscriber. Slow clients are skipped, never the commit.
func (s *Server) Notify(snap game.Snapshot) {
	msg, err := json.Marshal(snap)
	if err != nil {
		s.log.Errorw("snapshot_marshal_failed", "err", err)
		return
	}
	s.hub.Broadcast(msg)
	s.stream.broadcast(msg)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

func respondJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, resp ErrorResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

// respondEngineError maps the engine's typed rejections onto HTTP
// statuses and structured bodies.
func respondEngineError(w http.ResponseWriter, err error) {
	var (
		ve *game.ValidationError
		ae *game.AdmissionError
		te *game.TurnError
		nl *game.NoLiquidityError
		nf *game.NotFoundError
		pe *game.PreconditionError
	)
	switch {
	case errors.As(err, &ve):
		respondError(w, http.StatusBadRequest, ErrorResponse{Error: "validation", Message: err.Error(), Field: ve.Field})
	case errors.As(err, &ae):
		respondError(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error: "admission_rejected", Message: err.Error(),
			BestBid: ae.BestBid, BestAsk: ae.BestAsk,
		})
	case errors.As(err, &te):
		respondError(w, http.StatusConflict, ErrorResponse{
			Error: "turn_violation", Message: err.Error(), CurrentPlayer: te.CurrentPlayer,
		})
	case errors.As(err, &nl):
		respondError(w, http.StatusUnprocessableEntity, ErrorResponse{Error: "insufficient_liquidity", Message: err.Error()})
	case errors.As(err, &nf):
		respondError(w, http.StatusNotFound, ErrorResponse{Error: "not_found", Message: err.Error()})
	case errors.As(err, &pe):
		respondError(w, http.StatusConflict, ErrorResponse{Error: "precondition_failed", Message: err.Error()})
	default:
		respondError(w, http.StatusInternalServerError, ErrorResponse{Error: "internal", Message: err.Error()})
	}
}

// rejectionReason labels metrics without leaking request details.
func rejectionReason(err error) string {
	var (
		ve *game.ValidationError
		ae *game.AdmissionError
		te *game.TurnError
		nl *game.NoLiquidityError
		nf *game.NotFoundError
		pe *game.PreconditionError
	)
	switch {
	case errors.As(err, &ve):
		return "validation"
	case errors.As(err, &ae):
		return "admission"
	case errors.As(err, &te):
		return "turn"
	case errors.As(err, &nl):
		return "liquidity"
	case errors.As(err, &nf):
		return "not_found"
	case errors.As(err, &pe):
		return "precondition"
	default:
		return "other"
	}
}
