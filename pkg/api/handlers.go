package api

import (
	"encoding/json"
	"net/http"

	"github.com/marketpit/marketpit/pkg/game"
	"github.com/marketpit/marketpit/pkg/game/book"
	"github.com/marketpit/marketpit/pkg/metrics"
)

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	var req JoinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, ErrorResponse{Error: "validation", Message: "invalid request body: " + err.Error()})
		return
	}

	p, err := s.game.Join(req.Name, req.Secret)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, JoinResponse{ID: p.ID, Name: p.Name})
}

func (s *Server) handleReveal(w http.ResponseWriter, r *http.Request) {
	var req RevealRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, ErrorResponse{Error: "validation", Message: "invalid request body: " + err.Error()})
		return
	}

	revealed, err := s.game.ToggleReveal(req.ParticipantID)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, RevealResponse{Revealed: revealed})
}

func (s *Server) handleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req SubmitOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		// Fractional sizes fail here: int64 decode is the integer check.
		metrics.OrdersRejected.WithLabelValues("validation").Inc()
		respondError(w, http.StatusBadRequest, ErrorResponse{Error: "validation", Message: "invalid request body: " + err.Error()})
		return
	}

	side, ok := parseSide(req.Side)
	if !ok {
		metrics.OrdersRejected.WithLabelValues("validation").Inc()
		respondError(w, http.StatusBadRequest, ErrorResponse{Error: "validation", Field: "side", Message: "side must be \"bid\" or \"ask\""})
		return
	}
	kind, ok := parseKind(req.Kind)
	if !ok {
		metrics.OrdersRejected.WithLabelValues("validation").Inc()
		respondError(w, http.StatusBadRequest, ErrorResponse{Error: "validation", Field: "kind", Message: "kind must be \"limit\" or \"market\""})
		return
	}

	res, err := s.game.SubmitOrder(req.ParticipantID, side, kind, req.Size, req.Price)
	if err != nil {
		metrics.OrdersRejected.WithLabelValues(rejectionReason(err)).Inc()
		respondEngineError(w, err)
		return
	}

	metrics.OrdersAccepted.Inc()
	for _, t := range res.Trades {
		metrics.TradesExecuted.Inc()
		metrics.ContractsTraded.Add(float64(t.Size))
	}

	respondJSON(w, SubmitOrderResponse{
		OrderID:   res.OrderID,
		Trades:    res.Trades,
		Remaining: res.Remaining,
		Rested:    res.Rested,
	})
}

func (s *Server) handleCancelOwn(w http.ResponseWriter, r *http.Request) {
	var req CancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, ErrorResponse{Error: "validation", Message: "invalid request body: " + err.Error()})
		return
	}

	n, err := s.game.CancelAll(req.ParticipantID)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	metrics.OrdersCancelled.Add(float64(n))
	respondJSON(w, CancelResponse{Cancelled: n})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, s.game.Snapshot())
}

func parseSide(s string) (book.Side, bool) {
	switch s {
	case "bid", "buy":
		return book.Bid, true
	case "ask", "sell":
		return book.Ask, true
	}
	return 0, false
}

func parseKind(s string) (game.Kind, bool) {
	switch s {
	case "limit", "":
		return game.Limit, true
	case "market":
		return game.Market, true
	}
	return 0, false
}
