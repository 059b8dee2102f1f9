// Package game implements the order-matching and accounting engine for a
// single trading session: tighten-or-trade admission control, price-time
// matching, average-cost position accounting, an optional turn scheduler,
// and one-shot settlement against the sum of participant secret values.
//
// All mutating operations are serialized through one mutex and either
// commit fully (incrementing the session version exactly once) or reject
// with a typed error before touching any state.
package game

import (
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/marketpit/marketpit/pkg/game/book"
	"github.com/marketpit/marketpit/pkg/game/ledger"
	"github.com/marketpit/marketpit/pkg/util"
)

// Kind distinguishes limit orders from market orders.
type Kind int8

const (
	Limit Kind = iota
	Market
)

func (k Kind) String() string {
	if k == Market {
		return "market"
	}
	return "limit"
}

// NoTurn is the SetCurrentTurn sentinel that deactivates turn mode.
const NoTurn = "none"

// Participant is one player in the session. Secret feeds settlement and
// stays hidden from snapshots until Revealed.
type Participant struct {
	ID       string
	Name     string
	Secret   float64
	Revealed bool
}

// Trade is one execution between two participants. The trade log is
// append-only and is the audit trail for all ledger state.
type Trade struct {
	ID     int64     `json:"id"`
	Buyer  string    `json:"buyer"`
	Seller string    `json:"seller"`
	Price  float64   `json:"price"`
	Size   int64     `json:"size"`
	At     time.Time `json:"at"`
}

// PricePoint samples the mid price after one completed turn. Mid is nil
// when either side of the book was empty.
type PricePoint struct {
	Turn int      `json:"turn"`
	Mid  *float64 `json:"mid"`
}

// Notifier receives the post-commit snapshot of every accepted mutation.
// Delivery happens outside the engine's critical section and must not
// block; subscriber management is the transport's concern.
type Notifier interface {
	Notify(Snapshot)
}

// SubmitResult reports what happened to a submitted order.
type SubmitResult struct {
	OrderID   int64
	Trades    []Trade
	Remaining int64
	Rested    bool
}

// Game is the aggregate root owning the book, participants, ledger,
// turn state, trade log and the monotonic version counter.
type Game struct {
	log   *zap.SugaredLogger
	clock util.Clock

	mu       sync.Mutex
	notifier Notifier

	book         *book.Book
	participants map[string]*Participant
	joined       []string // ids in join order, for stable listings
	positions    map[string]*ledger.Position
	trades       []Trade

	turnOrder []string
	turn      int // index into turnOrder, -1 = inactive
	turnCount int
	history   []PricePoint

	settlement  *float64
	version     uint64
	nextOrderID int64
	nextTradeID int64
}

// New creates an empty session. A nil logger or clock falls back to
// no-op logging and the real clock.
func New(log *zap.SugaredLogger, clk util.Clock) *Game {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if clk == nil {
		clk = util.RealClock{}
	}
	g := &Game{log: log, clock: clk}
	g.resetLocked()
	return g
}

// SetNotifier installs the change broadcaster. Pass nil to disable.
func (g *Game) SetNotifier(n Notifier) {
	g.mu.Lock()
	g.notifier = n
	g.mu.Unlock()
}

// resetLocked reinitializes everything except the version counter, which
// stays monotonic across resets so stale subscribers never see it move
// backwards.
func (g *Game) resetLocked() {
	g.book = book.New()
	g.participants = make(map[string]*Participant)
	g.joined = nil
	g.positions = make(map[string]*ledger.Position)
	g.trades = nil
	g.turnOrder = nil
	g.turn = -1
	g.turnCount = 0
	g.history = nil
	g.settlement = nil
	g.nextOrderID = 0
	g.nextTradeID = 0
}

// commitLocked bumps the version and captures the snapshot to broadcast.
func (g *Game) commitLocked() Snapshot {
	g.version++
	return g.snapshotLocked()
}

func (g *Game) notify(snap Snapshot) {
	g.mu.Lock()
	n := g.notifier
	g.mu.Unlock()
	if n != nil {
		n.Notify(snap)
	}
}

// Join registers a new participant with a non-negative secret value.
func (g *Game) Join(name string, secret float64) (Participant, error) {
	name = strings.TrimSpace(name)

	g.mu.Lock()
	if name == "" {
		g.mu.Unlock()
		return Participant{}, &ValidationError{Field: "name", Reason: "must not be empty"}
	}
	if secret < 0 || math.IsNaN(secret) || math.IsInf(secret, 0) {
		g.mu.Unlock()
		return Participant{}, &ValidationError{Field: "secret", Reason: "must be a finite number >= 0"}
	}
	for _, id := range g.joined {
		if g.participants[id].Name == name {
			g.mu.Unlock()
			return Participant{}, &ValidationError{Field: "name", Reason: "already taken"}
		}
	}

	p := &Participant{ID: uuid.NewString(), Name: name, Secret: secret}
	g.participants[p.ID] = p
	g.joined = append(g.joined, p.ID)
	g.positions[p.ID] = &ledger.Position{}

	snap := g.commitLocked()
	g.mu.Unlock()

	g.log.Infow("participant_joined", "id", p.ID, "name", name)
	g.notify(snap)
	return *p, nil
}

// ImportEntry is one row of a bulk participant import.
type ImportEntry struct {
	Name   string
	Secret float64
}

// ImportParticipants registers a batch of participants atomically: every
// entry is validated (including duplicates against the batch itself)
// before any is applied, and the whole batch commits as one mutation.
func (g *Game) ImportParticipants(entries []ImportEntry) (int, error) {
	if len(entries) == 0 {
		return 0, &ValidationError{Field: "entries", Reason: "no rows to import"}
	}
	g.mu.Lock()

	seen := make(map[string]bool, len(g.participants)+len(entries))
	for _, id := range g.joined {
		seen[g.participants[id].Name] = true
	}
	names := make([]string, len(entries))
	for i, e := range entries {
		name := strings.TrimSpace(e.Name)
		if name == "" {
			g.mu.Unlock()
			return 0, &ValidationError{Field: "name", Reason: "must not be empty"}
		}
		if e.Secret < 0 || math.IsNaN(e.Secret) || math.IsInf(e.Secret, 0) {
			g.mu.Unlock()
			return 0, &ValidationError{Field: "secret", Reason: "must be a finite number >= 0"}
		}
		if seen[name] {
			g.mu.Unlock()
			return 0, &ValidationError{Field: "name", Reason: "duplicate: " + name}
		}
		seen[name] = true
		names[i] = name
	}

	for i, e := range entries {
		p := &Participant{ID: uuid.NewString(), Name: names[i], Secret: e.Secret}
		g.participants[p.ID] = p
		g.joined = append(g.joined, p.ID)
		g.positions[p.ID] = &ledger.Position{}
	}

	snap := g.commitLocked()
	g.mu.Unlock()

	g.log.Infow("participants_imported", "count", len(entries))
	g.notify(snap)
	return len(entries), nil
}

// ToggleReveal flips a participant's reveal flag and returns the new state.
func (g *Game) ToggleReveal(id string) (bool, error) {
	g.mu.Lock()
	p, ok := g.participants[id]
	if !ok {
		g.mu.Unlock()
		return false, &NotFoundError{Kind: "participant", Ref: id}
	}
	p.Revealed = !p.Revealed
	revealed := p.Revealed

	snap := g.commitLocked()
	g.mu.Unlock()

	g.notify(snap)
	return revealed, nil
}

// SubmitOrder runs the full pipeline for one order: validation, turn
// gating, admission control (limit orders only; market orders always
// cross, so they bypass it deliberately), the matching walk, ledger
// updates per trade, resting the remainder, and turn advancement.
func (g *Game) SubmitOrder(owner string, side book.Side, kind Kind, size int64, price float64) (SubmitResult, error) {
	g.mu.Lock()

	if _, ok := g.participants[owner]; !ok {
		g.mu.Unlock()
		return SubmitResult{}, &NotFoundError{Kind: "participant", Ref: owner}
	}
	if side != book.Bid && side != book.Ask {
		g.mu.Unlock()
		return SubmitResult{}, &ValidationError{Field: "side", Reason: "must be bid or ask"}
	}
	if kind != Limit && kind != Market {
		g.mu.Unlock()
		return SubmitResult{}, &ValidationError{Field: "kind", Reason: "must be limit or market"}
	}
	if size <= 0 {
		g.mu.Unlock()
		return SubmitResult{}, &ValidationError{Field: "size", Reason: "must be a positive integer"}
	}
	if kind == Limit && (price <= 0 || math.IsNaN(price) || math.IsInf(price, 0)) {
		g.mu.Unlock()
		return SubmitResult{}, &ValidationError{Field: "price", Reason: "must be a finite number > 0"}
	}
	if err := g.gateTurnLocked(owner); err != nil {
		g.mu.Unlock()
		return SubmitResult{}, err
	}

	if kind == Limit {
		if err := g.admitLocked(side, price); err != nil {
			g.mu.Unlock()
			return SubmitResult{}, err
		}
	} else {
		// A market order that cannot fill at all is a hard failure,
		// checked before the walk so rejection leaves the book untouched.
		price = 0
		if side == book.Bid {
			if _, ok := g.book.BestAsk(); !ok {
				g.mu.Unlock()
				return SubmitResult{}, &NoLiquidityError{}
			}
		} else {
			if _, ok := g.book.BestBid(); !ok {
				g.mu.Unlock()
				return SubmitResult{}, &NoLiquidityError{}
			}
		}
	}

	g.nextOrderID++
	o := &book.Order{ID: g.nextOrderID, Owner: owner, Side: side, Price: price, Size: size}

	fills := g.book.Match(o, kind == Market)

	trades := make([]Trade, 0, len(fills))
	for _, f := range fills {
		buyer, seller := owner, f.MakerOwner
		if side == book.Ask {
			buyer, seller = f.MakerOwner, owner
		}
		g.nextTradeID++
		t := Trade{
			ID:     g.nextTradeID,
			Buyer:  buyer,
			Seller: seller,
			Price:  f.Price,
			Size:   f.Size,
			At:     g.clock.Now(),
		}
		g.trades = append(g.trades, t)
		trades = append(trades, t)

		g.positions[buyer].Apply(f.Size, f.Price)
		g.positions[seller].Apply(-f.Size, f.Price)
	}

	rested := false
	if kind == Limit && o.Size > 0 {
		g.book.Add(o)
		rested = true
	}

	g.advanceTurnLocked()
	snap := g.commitLocked()
	remaining := o.Size
	g.mu.Unlock()

	g.log.Infow("order_accepted",
		"order_id", o.ID, "owner", owner, "side", side.String(), "kind", kind.String(),
		"size", size, "price", price, "trades", len(trades), "rested", rested)
	g.notify(snap)

	return SubmitResult{OrderID: o.ID, Trades: trades, Remaining: remaining, Rested: rested}, nil
}

// admitLocked applies the tighten-or-trade rule: a limit order must
// improve its own side's best price or be priced to execute immediately.
func (g *Game) admitLocked(side book.Side, price float64) error {
	bid, hasBid := g.book.BestBid()
	ask, hasAsk := g.book.BestAsk()

	if side == book.Bid {
		if !hasBid || price > bid || (hasAsk && price >= ask) {
			return nil
		}
	} else {
		if !hasAsk || price < ask || (hasBid && price <= bid) {
			return nil
		}
	}

	rej := &AdmissionError{Side: side, Price: price}
	if hasBid {
		rej.BestBid = &bid
	}
	if hasAsk {
		rej.BestAsk = &ask
	}
	return rej
}

// CancelAll removes every resting order owned by the participant. A
// cancel that removed at least one order counts as a move for the turn
// scheduler; removing nothing is a successful no-op that does not bump
// the version.
func (g *Game) CancelAll(owner string) (int, error) {
	g.mu.Lock()
	if _, ok := g.participants[owner]; !ok {
		g.mu.Unlock()
		return 0, &NotFoundError{Kind: "participant", Ref: owner}
	}
	if err := g.gateTurnLocked(owner); err != nil {
		g.mu.Unlock()
		return 0, err
	}

	n := g.book.CancelAllFor(owner)
	if n == 0 {
		g.mu.Unlock()
		return 0, nil
	}

	g.advanceTurnLocked()
	snap := g.commitLocked()
	g.mu.Unlock()

	g.log.Infow("orders_cancelled", "owner", owner, "count", n)
	g.notify(snap)
	return n, nil
}

// CancelOrder removes one resting order by id. Privileged table
// maintenance: it is not turn-gated and does not advance the turn.
func (g *Game) CancelOrder(id int64) error {
	g.mu.Lock()
	if !g.book.Cancel(id) {
		g.mu.Unlock()
		return &NotFoundError{Kind: "order", Ref: strconv.FormatInt(id, 10)}
	}
	snap := g.commitLocked()
	g.mu.Unlock()

	g.log.Infow("order_cancelled", "order_id", id)
	g.notify(snap)
	return nil
}

// Reset discards the whole session. The version counter keeps counting.
func (g *Game) Reset() {
	g.mu.Lock()
	g.resetLocked()
	snap := g.commitLocked()
	g.mu.Unlock()

	g.log.Infow("session_reset")
	g.notify(snap)
}

// Settle closes every open position at the sum of all participant
// secret values. Reveal status does not gate the sum. A second call on
// an already-flat ledger is a safe no-op returning the same price.
func (g *Game) Settle() (float64, error) {
	g.mu.Lock()
	var sum float64
	for _, id := range g.joined {
		sum += g.participants[id].Secret
	}
	if sum == 0 {
		g.mu.Unlock()
		return 0, &PreconditionError{Reason: "nothing to settle"}
	}

	for _, id := range g.joined {
		g.positions[id].SettleAt(sum)
	}
	g.settlement = &sum

	snap := g.commitLocked()
	g.mu.Unlock()

	g.log.Infow("settled", "price", sum)
	g.notify(snap)
	return sum, nil
}

// SetTurnOrder replaces the turn order wholesale. Every id must
// reference a known participant or nothing is applied.
func (g *Game) SetTurnOrder(ids []string) error {
	g.mu.Lock()
	for _, id := range ids {
		if _, ok := g.participants[id]; !ok {
			g.mu.Unlock()
			return &NotFoundError{Kind: "participant", Ref: id}
		}
	}

	g.turnOrder = append([]string(nil), ids...)
	if g.turn >= 0 {
		// Keep turn mode coherent with the new order.
		if len(g.turnOrder) == 0 {
			g.turn = -1
		} else if g.turn >= len(g.turnOrder) {
			g.turn = 0
		}
	}

	snap := g.commitLocked()
	g.mu.Unlock()

	g.notify(snap)
	return nil
}

// SetCurrentTurn jumps directly to a participant's slot in the turn
// order, or deactivates turn mode when given the NoTurn sentinel.
// Returns the new current index (-1 for inactive).
func (g *Game) SetCurrentTurn(id string) (int, error) {
	g.mu.Lock()
	if id == NoTurn {
		g.turn = -1
		snap := g.commitLocked()
		g.mu.Unlock()
		g.notify(snap)
		return -1, nil
	}

	idx := -1
	for i, pid := range g.turnOrder {
		if pid == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		g.mu.Unlock()
		return 0, &PreconditionError{Reason: "participant not in turn order"}
	}
	g.turn = idx

	snap := g.commitLocked()
	g.mu.Unlock()

	g.notify(snap)
	return idx, nil
}

// StartTurns activates turn mode at the first slot.
func (g *Game) StartTurns() error {
	g.mu.Lock()
	if len(g.turnOrder) == 0 {
		g.mu.Unlock()
		return &PreconditionError{Reason: "turn order is empty"}
	}
	g.turn = 0

	snap := g.commitLocked()
	g.mu.Unlock()

	g.notify(snap)
	return nil
}

// StopTurns deactivates turn mode unconditionally.
func (g *Game) StopTurns() {
	g.mu.Lock()
	g.turn = -1
	snap := g.commitLocked()
	g.mu.Unlock()

	g.notify(snap)
}

// gateTurnLocked rejects actions from anyone but the current player
// while turn mode is active.
func (g *Game) gateTurnLocked(owner string) error {
	if g.turn < 0 || len(g.turnOrder) == 0 {
		return nil
	}
	if current := g.turnOrder[g.turn]; current != owner {
		return &TurnError{CurrentPlayer: current}
	}
	return nil
}

// advanceTurnLocked moves to the next slot after an accepted move and
// samples the mid price for the completed turn.
func (g *Game) advanceTurnLocked() {
	if g.turn < 0 || len(g.turnOrder) == 0 {
		return
	}
	g.turn = (g.turn + 1) % len(g.turnOrder)
	g.turnCount++

	point := PricePoint{Turn: g.turnCount}
	if mid, ok := g.book.MidPrice(); ok {
		point.Mid = &mid
	}
	g.history = append(g.history, point)
}

// Version returns the current state version.
func (g *Game) Version() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.version
}
