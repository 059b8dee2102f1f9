package game

import "github.com/marketpit/marketpit/pkg/game/book"

// OrderView is one resting order as exposed to clients.
type OrderView struct {
	ID    int64   `json:"id"`
	Owner string  `json:"owner"`
	Side  string  `json:"side"`
	Price float64 `json:"price"`
	Size  int64   `json:"size"`
}

// ParticipantView is one participant plus their live position. Secret is
// present only once the participant has toggled reveal.
type ParticipantView struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Revealed    bool     `json:"revealed"`
	Secret      *float64 `json:"secret,omitempty"`
	Quantity    int64    `json:"quantity"`
	CostBasis   float64  `json:"costBasis"`
	AvgCost     *float64 `json:"avgCost,omitempty"`
	RealizedPnL float64  `json:"realizedPnl"`
	Cash        float64  `json:"cash"`
}

// TurnView describes the turn scheduler state.
type TurnView struct {
	Active        bool     `json:"active"`
	Order         []string `json:"order"`
	Current       int      `json:"current"` // -1 when inactive
	CurrentPlayer *string  `json:"currentPlayer,omitempty"`
}

// Snapshot is a consistent, fully-applied copy of the session state,
// tagged with the version it was taken at. Transport uses the version to
// detect staleness; the engine never does.
type Snapshot struct {
	Version         uint64            `json:"version"`
	BestBid         *float64          `json:"bestBid,omitempty"`
	BestAsk         *float64          `json:"bestAsk,omitempty"`
	Mid             *float64          `json:"mid,omitempty"`
	Bids            []OrderView       `json:"bids"`
	Asks            []OrderView       `json:"asks"`
	Participants    []ParticipantView `json:"participants"`
	Trades          []Trade           `json:"trades"`
	Turns           TurnView          `json:"turns"`
	History         []PricePoint      `json:"history"`
	SettlementPrice *float64          `json:"settlementPrice,omitempty"`
}

// Snapshot returns the current state. Safe to call concurrently with
// mutations; the copy is taken under the same exclusive section.
func (g *Game) Snapshot() Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.snapshotLocked()
}

func (g *Game) snapshotLocked() Snapshot {
	snap := Snapshot{
		Version: g.version,
		Bids:    orderViews(g.book.Bids()),
		Asks:    orderViews(g.book.Asks()),
		Trades:  append([]Trade(nil), g.trades...),
		History: append([]PricePoint(nil), g.history...),
	}

	if bid, ok := g.book.BestBid(); ok {
		snap.BestBid = &bid
	}
	if ask, ok := g.book.BestAsk(); ok {
		snap.BestAsk = &ask
	}
	if mid, ok := g.book.MidPrice(); ok {
		snap.Mid = &mid
	}
	if g.settlement != nil {
		price := *g.settlement
		snap.SettlementPrice = &price
	}

	snap.Participants = make([]ParticipantView, 0, len(g.joined))
	for _, id := range g.joined {
		p := g.participants[id]
		pos := g.positions[id]
		view := ParticipantView{
			ID:          p.ID,
			Name:        p.Name,
			Revealed:    p.Revealed,
			Quantity:    pos.Quantity,
			CostBasis:   pos.CostBasis,
			RealizedPnL: pos.RealizedPnL,
			Cash:        pos.Cash,
		}
		if p.Revealed {
			secret := p.Secret
			view.Secret = &secret
		}
		if avg, ok := pos.AvgCost(); ok {
			view.AvgCost = &avg
		}
		snap.Participants = append(snap.Participants, view)
	}

	snap.Turns = TurnView{
		Active:  g.turn >= 0,
		Order:   append([]string(nil), g.turnOrder...),
		Current: g.turn,
	}
	if g.turn >= 0 && g.turn < len(g.turnOrder) {
		current := g.turnOrder[g.turn]
		snap.Turns.CurrentPlayer = &current
	}

	return snap
}

func orderViews(orders []book.Order) []OrderView {
	views := make([]OrderView, len(orders))
	for i, o := range orders {
		views[i] = OrderView{ID: o.ID, Owner: o.Owner, Side: o.Side.String(), Price: o.Price, Size: o.Size}
	}
	return views
}
