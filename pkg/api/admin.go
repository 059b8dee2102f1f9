package api

import (
	"crypto/subtle"
	"encoding/csv"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/marketpit/marketpit/pkg/game"
	"github.com/marketpit/marketpit/pkg/metrics"
)

// requireAdmin guards privileged routes with the shared token, supplied
// either as an X-Admin-Token header or a token query parameter. With no
// token configured the routes are disabled outright.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Admin.Token == "" {
			respondError(w, http.StatusForbidden, ErrorResponse{Error: "forbidden", Message: "admin endpoints are disabled"})
			return
		}
		token := r.Header.Get("X-Admin-Token")
		if token == "" {
			token = r.URL.Query().Get("token")
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.Admin.Token)) != 1 {
			respondError(w, http.StatusUnauthorized, ErrorResponse{Error: "unauthorized", Message: "bad admin token"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleAdminCancel(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, ErrorResponse{Error: "validation", Field: "id", Message: "order id must be an integer"})
		return
	}

	if err := s.game.CancelOrder(id); err != nil {
		respondEngineError(w, err)
		return
	}
	metrics.OrdersCancelled.Inc()
	respondJSON(w, CancelResponse{Cancelled: 1})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	s.game.Reset()
	s.log.Infow("admin_reset")
	respondJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleSettle(w http.ResponseWriter, r *http.Request) {
	price, err := s.game.Settle()
	if err != nil {
		respondEngineError(w, err)
		return
	}
	metrics.Settlements.Inc()
	respondJSON(w, SettleResponse{SettlementPrice: price})
}

func (s *Server) handleSetTurnOrder(w http.ResponseWriter, r *http.Request) {
	var req TurnOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, ErrorResponse{Error: "validation", Message: "invalid request body: " + err.Error()})
		return
	}
	if err := s.game.SetTurnOrder(req.Order); err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleSetCurrentTurn(w http.ResponseWriter, r *http.Request) {
	var req CurrentTurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, ErrorResponse{Error: "validation", Message: "invalid request body: " + err.Error()})
		return
	}
	idx, err := s.game.SetCurrentTurn(req.ParticipantID)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, CurrentTurnResponse{Current: idx})
}

func (s *Server) handleStartTurns(w http.ResponseWriter, r *http.Request) {
	if err := s.game.StartTurns(); err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleStopTurns(w http.ResponseWriter, r *http.Request) {
	s.game.StopTurns()
	respondJSON(w, map[string]string{"status": "ok"})
}

// handleImport ingests a CSV body of name,secret rows (an optional
// header row is skipped) and registers them as one atomic batch.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	entries, err := parseParticipantCSV(r.Body)
	if err != nil {
		respondError(w, http.StatusBadRequest, ErrorResponse{Error: "validation", Message: err.Error()})
		return
	}

	n, err := s.game.ImportParticipants(entries)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	s.log.Infow("participants_imported_via_csv", "count", n)
	respondJSON(w, ImportResponse{Imported: n})
}

func parseParticipantCSV(body io.Reader) ([]game.ImportEntry, error) {
	reader := csv.NewReader(body)
	reader.FieldsPerRecord = 2
	reader.TrimLeadingSpace = true

	var entries []game.ImportEntry
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if strings.EqualFold(record[0], "name") && strings.EqualFold(record[1], "secret") {
			continue // header row
		}
		secret, err := strconv.ParseFloat(strings.TrimSpace(record[1]), 64)
		if err != nil {
			return nil, err
		}
		entries = append(entries, game.ImportEntry{Name: record[0], Secret: secret})
	}
	return entries, nil
}
