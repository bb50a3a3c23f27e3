package eventbus

import (
	"sync"
	"time"
)

// Event is a lightweight in-memory signal used to decouple the worker,
// engine and API from consumers such as the audit trail.
//
// Publish never blocks; slow subscribers drop events. Data should be small
// and JSON-serializable.
type Event struct {
	Type string
	Time time.Time
	Data any
}

// Well-known event types published by the sniper worker and API.
const (
	TypeAuctionAdded     = "auction.added"
	TypeAuctionCancelled = "auction.cancelled"
	TypeAuctionSkipped   = "auction.skipped"
	TypeBidPlaced        = "bid.placed"
	TypeBidFailed        = "bid.failed"
	TypeOrphanRecovered  = "execution.orphan_recovered"
	TypeOutcomeResolved  = "outcome.resolved"
	TypePriceRefreshed   = "price.refreshed"
)

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns an in-memory fanout bus with no background goroutines.
func New() Bus {
	return &memBus{}
}

type subscriber struct {
	ch chan Event
}

type memBus struct {
	mu   sync.RWMutex
	subs []*subscriber
}

// Publish delivers e to every live subscriber with a non-blocking send.
// Sends happen under the read lock; Unsubscribe closes channels under the
// write lock, so a send can never hit a closed channel.
func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		select {
		case s.ch <- e:
		default:
		}
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	s := &subscriber{ch: make(chan Event, buffer)}

	b.mu.Lock()
	b.subs = append(b.subs, s)
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			for i, cur := range b.subs {
				if cur == s {
					b.subs = append(b.subs[:i], b.subs[i+1:]...)
					break
				}
			}
			close(s.ch)
			b.mu.Unlock()
		})
	}
	return s.ch, unsub
}
