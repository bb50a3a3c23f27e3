// Package pricecache bounds outbound listing reads: a TTL policy decides
// when the cached price is stale, and a coalescer collapses concurrent
// refreshes for the same listing into one underlying call.
package pricecache

import (
	"context"
	"sync"

	"snipebot/internal/ebay"
)

// Coalescer deduplicates concurrent FetchDetails calls per listing key.
// All callers that join an in-flight fetch receive its result (or error);
// the in-flight marker is removed on completion so the next call starts
// fresh.
type Coalescer struct {
	client ebay.Client

	mu       sync.Mutex
	inflight map[string]*call
}

type call struct {
	done    chan struct{}
	details *ebay.ItemDetails
	err     error
}

func NewCoalescer(client ebay.Client) *Coalescer {
	return &Coalescer{
		client:   client,
		inflight: map[string]*call{},
	}
}

// Fetch returns the listing details, performing at most one underlying call
// per listing key per in-flight window. No caller blocks longer than the
// underlying fetch's own timeout.
func (c *Coalescer) Fetch(ctx context.Context, listingNumber string) (*ebay.ItemDetails, error) {
	c.mu.Lock()
	if cl, ok := c.inflight[listingNumber]; ok {
		c.mu.Unlock()
		select {
		case <-cl.done:
			return cl.details, cl.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	cl := &call{done: make(chan struct{})}
	c.inflight[listingNumber] = cl
	c.mu.Unlock()

	cl.details, cl.err = c.client.FetchDetails(ctx, listingNumber)

	c.mu.Lock()
	delete(c.inflight, listingNumber)
	c.mu.Unlock()
	close(cl.done)

	return cl.details, cl.err
}
