package game

import (
	"fmt"

	"github.com/marketpit/marketpit/pkg/game/book"
)

// Every rejection the engine produces is one of the typed errors below.
// They are detected before any state mutation, so a caller that sees one
// can retry with corrected input against unchanged state.

// ValidationError reports malformed or out-of-range input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// AdmissionError reports a limit order that neither tightens the spread
// nor crosses. BestBid/BestAsk are nil when that side of the book is empty.
type AdmissionError struct {
	Side    book.Side
	Price   float64
	BestBid *float64
	BestAsk *float64
}

func (e *AdmissionError) Error() string {
	return fmt.Sprintf("%s %g does not tighten the spread and does not cross", e.Side, e.Price)
}

// TurnError reports an action attempted out of turn.
type TurnError struct {
	CurrentPlayer string
}

func (e *TurnError) Error() string {
	return fmt.Sprintf("not your turn: current player is %s", e.CurrentPlayer)
}

// NoLiquidityError reports a market order that could not fill at all.
type NoLiquidityError struct{}

func (e *NoLiquidityError) Error() string {
	return "insufficient liquidity"
}

// NotFoundError reports a reference to an unknown order or participant.
type NotFoundError struct {
	Kind string // "order" or "participant"
	Ref  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.Ref)
}

// PreconditionError reports an operation whose precondition does not
// hold, e.g. settling with no secret values or starting turns with an
// empty turn order.
type PreconditionError struct {
	Reason string
}

func (e *PreconditionError) Error() string {
	return e.Reason
}
