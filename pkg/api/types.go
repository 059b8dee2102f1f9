package api

import "github.com/marketpit/marketpit/pkg/game"

type JoinRequest struct {
	Name   string  `json:"name"`
	Secret float64 `json:"secret"`
}

type JoinResponse struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type RevealRequest struct {
	ParticipantID string `json:"participantId"`
}

type RevealResponse struct {
	Revealed bool `json:"revealed"`
}

type SubmitOrderRequest struct {
	ParticipantID string  `json:"participantId"`
	Side          string  `json:"side"`  // "bid" or "ask"
	Kind          string  `json:"kind"`  // "limit" or "market"
	Size          int64   `json:"size"`  // integer sizes enforced at decode time
	Price         float64 `json:"price"` // ignored for market orders
}

type SubmitOrderResponse struct {
	OrderID   int64        `json:"orderId"`
	Trades    []game.Trade `json:"trades"`
	Remaining int64        `json:"remaining"`
	Rested    bool         `json:"rested"`
}

type CancelRequest struct {
	ParticipantID string `json:"participantId"`
}

type CancelResponse struct {
	Cancelled int `json:"cancelled"`
}

type TurnOrderRequest struct {
	Order []string `json:"order"`
}

type CurrentTurnRequest struct {
	// ParticipantID of the player to jump to, or "none" to deactivate.
	ParticipantID string `json:"participantId"`
}

type CurrentTurnResponse struct {
	Current int `json:"current"`
}

type SettleResponse struct {
	SettlementPrice float64 `json:"settlementPrice"`
}

type ImportResponse struct {
	Imported int `json:"imported"`
}

// ErrorResponse carries the rejection context clients render: best
// bid/ask on admission rejections, the current player on turn
// violations.
type ErrorResponse struct {
	Error         string   `json:"error"`
	Message       string   `json:"message,omitempty"`
	Field         string   `json:"field,omitempty"`
	BestBid       *float64 `json:"bestBid,omitempty"`
	BestAsk       *float64 `json:"bestAsk,omitempty"`
	CurrentPlayer string   `json:"currentPlayer,omitempty"`
}
