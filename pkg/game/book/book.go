// Package book holds resting limit orders and executes the price-time
// priority matching walk. The book is not safe for concurrent use; the
// game aggregate serializes all access.
package book

import (
	"container/heap"
	"sort"
)

// Side of an order.
type Side int8

const (
	Bid Side = iota
	Ask
)

func (s Side) String() string {
	if s == Bid {
		return "bid"
	}
	return "ask"
}

// Order is a resting limit order. Size decreases as it fills; the order
// leaves the book when Size reaches 0. Everything else is immutable.
type Order struct {
	ID    int64
	Owner string
	Side  Side
	Price float64
	Size  int64
}

// Fill records one consumed resting order during a matching walk.
// Price is always the resting (passive) order's price.
type Fill struct {
	MakerID    int64
	MakerOwner string
	Price      float64
	Size       int64
}

// Book keeps per-side FIFO queues at each price level, with heaps
// tracking level prices for O(1) best bid/ask.
type Book struct {
	bidHeap *maxPriceHeap
	askHeap *minPriceHeap

	bids map[float64][]*Order // price -> FIFO slice
	asks map[float64][]*Order

	priceOf map[int64]float64 // order ID -> price level, for O(1) cancel
}

func New() *Book {
	bidHeap := &maxPriceHeap{}
	askHeap := &minPriceHeap{}
	heap.Init(bidHeap)
	heap.Init(askHeap)

	return &Book{
		bidHeap: bidHeap,
		askHeap: askHeap,
		bids:    make(map[float64][]*Order),
		asks:    make(map[float64][]*Order),
		priceOf: make(map[int64]float64),
	}
}

// BestBid returns the highest bid price, if any bid rests.
func (b *Book) BestBid() (float64, bool) {
	if b.bidHeap.Len() == 0 {
		return 0, false
	}
	return b.bidHeap.Peek(), true
}

// BestAsk returns the lowest ask price, if any ask rests.
func (b *Book) BestAsk() (float64, bool) {
	if b.askHeap.Len() == 0 {
		return 0, false
	}
	return b.askHeap.Peek(), true
}

// MidPrice returns (bestBid+bestAsk)/2 when both sides are populated.
func (b *Book) MidPrice() (float64, bool) {
	bid, okB := b.BestBid()
	ask, okA := b.BestAsk()
	if !okB || !okA {
		return 0, false
	}
	return (bid + ask) / 2, true
}

// Add rests o on its side of the book. The caller guarantees the order
// does not cross (it has already been through the matching walk).
func (b *Book) Add(o *Order) {
	if o.Side == Bid {
		if len(b.bids[o.Price]) == 0 {
			heap.Push(b.bidHeap, o.Price)
		}
		b.bids[o.Price] = append(b.bids[o.Price], o)
	} else {
		if len(b.asks[o.Price]) == 0 {
			heap.Push(b.askHeap, o.Price)
		}
		b.asks[o.Price] = append(b.asks[o.Price], o)
	}
	b.priceOf[o.ID] = o.Price
}

// Match walks the side opposite to taker in price-time order, consuming
// resting orders whose price is compatible (any price when market is true).
// taker.Size is decremented to the unfilled remainder. Fully consumed
// resting orders are removed. The taker itself is never added; callers
// rest the remainder of a limit order with Add.
func (b *Book) Match(taker *Order, market bool) []Fill {
	var fills []Fill

	if taker.Side == Bid {
		for taker.Size > 0 {
			askP, ok := b.BestAsk()
			if !ok || (!market && askP > taker.Price) {
				break
			}
			fills = b.consume(taker, b.asks, b.removeFromAskHeap, askP, fills)
		}
	} else {
		for taker.Size > 0 {
			bidP, ok := b.BestBid()
			if !ok || (!market && bidP < taker.Price) {
				break
			}
			fills = b.consume(taker, b.bids, b.removeFromBidHeap, bidP, fills)
		}
	}
	return fills
}

// consume fills taker against the FIFO queue at one price level.
func (b *Book) consume(taker *Order, side map[float64][]*Order, dropLevel func(float64), price float64, fills []Fill) []Fill {
	level := side[price]
	if len(level) == 0 {
		delete(side, price)
		dropLevel(price)
		return fills
	}
	maker := level[0]
	match := min(taker.Size, maker.Size)
	taker.Size -= match
	maker.Size -= match
	fills = append(fills, Fill{MakerID: maker.ID, MakerOwner: maker.Owner, Price: price, Size: match})
	if maker.Size == 0 {
		side[price] = level[1:]
		delete(b.priceOf, maker.ID)
		if len(side[price]) == 0 {
			delete(side, price)
			dropLevel(price)
		}
	}
	return fills
}

// Cancel removes the order with the given ID. Returns false if unknown.
func (b *Book) Cancel(id int64) bool {
	price, ok := b.priceOf[id]
	if !ok {
		return false
	}

	if arr, exists := b.bids[price]; exists {
		for i, o := range arr {
			if o.ID == id {
				b.bids[price] = append(arr[:i], arr[i+1:]...)
				if len(b.bids[price]) == 0 {
					delete(b.bids, price)
					b.removeFromBidHeap(price)
				}
				delete(b.priceOf, id)
				return true
			}
		}
	}
	if arr, exists := b.asks[price]; exists {
		for i, o := range arr {
			if o.ID == id {
				b.asks[price] = append(arr[:i], arr[i+1:]...)
				if len(b.asks[price]) == 0 {
					delete(b.asks, price)
					b.removeFromAskHeap(price)
				}
				delete(b.priceOf, id)
				return true
			}
		}
	}
	return false
}

// CancelAllFor removes every resting order owned by owner and returns
// how many were removed.
func (b *Book) CancelAllFor(owner string) int {
	var ids []int64
	for _, arr := range b.bids {
		for _, o := range arr {
			if o.Owner == owner {
				ids = append(ids, o.ID)
			}
		}
	}
	for _, arr := range b.asks {
		for _, o := range arr {
			if o.Owner == owner {
				ids = append(ids, o.ID)
			}
		}
	}
	for _, id := range ids {
		b.Cancel(id)
	}
	return len(ids)
}

// removeFromBidHeap removes a price level from the bid heap (O(N) worst case, but rare).
func (b *Book) removeFromBidHeap(price float64) {
	for i := 0; i < b.bidHeap.Len(); i++ {
		if (*b.bidHeap)[i] == price {
			heap.Remove(b.bidHeap, i)
			return
		}
	}
}

// removeFromAskHeap removes a price level from the ask heap (O(N) worst case, but rare).
func (b *Book) removeFromAskHeap(price float64) {
	for i := 0; i < b.askHeap.Len(); i++ {
		if (*b.askHeap)[i] == price {
			heap.Remove(b.askHeap, i)
			return
		}
	}
}

// Bids returns all resting bids, best price first, FIFO within a level.
func (b *Book) Bids() []Order {
	return flatten(b.bids, func(prices []float64) {
		sort.Sort(sort.Reverse(sort.Float64Slice(prices)))
	})
}

// Asks returns all resting asks, best price first, FIFO within a level.
func (b *Book) Asks() []Order {
	return flatten(b.asks, func(prices []float64) {
		sort.Float64s(prices)
	})
}

func flatten(side map[float64][]*Order, order func([]float64)) []Order {
	prices := make([]float64, 0, len(side))
	for p, arr := range side {
		if len(arr) > 0 {
			prices = append(prices, p)
		}
	}
	order(prices)

	var out []Order
	for _, p := range prices {
		for _, o := range side[p] {
			out = append(out, *o)
		}
	}
	return out
}

// Crossed reports whether any resting bid price is at or above any
// resting ask price. Always false after a completed matching pass.
func (b *Book) Crossed() bool {
	bid, okB := b.BestBid()
	ask, okA := b.BestAsk()
	return okB && okA && bid >= ask
}

func min(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
