// Package correlation keeps callback payloads keyed by correlation id so a
// blocked RPC caller can pick up the reply written by the inbound loop.
package correlation

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// ErrNotFound is returned by Get when no value is stored for the id.
var ErrNotFound = errors.New("apibridge: correlation value not found")

// Store is safe for concurrent use. Put keeps the first value written for an
// id; readers never consume values.
type Store interface {
	// Put stores value unless the id already holds one and reports whether it was stored.
	Put(ctx context.Context, id string, value []byte) (bool, error)
	// Get returns the stored value or ErrNotFound.
	Get(ctx context.Context, id string) ([]byte, error)
	Delete(ctx context.Context, id string) error
}

// Notifier is implemented by stores that can wake waiters directly instead of
// being polled.
type Notifier interface {
	// Notify returns a channel closed once a value for id is stored.
	Notify(id string) (<-chan struct{}, func())
}

// SentKey namespaces the record of an outbound request.
func SentKey(id string) string {
	return "sent:" + id
}

// Wait blocks until a value for id is stored or ctx ends. Stores implementing
// Notifier are awaited directly; others are polled starting at poll and
// backing off exponentially up to 8x poll.
func Wait(ctx context.Context, store Store, id string, poll time.Duration) ([]byte, error) {
	if n, ok := store.(Notifier); ok {
		ch, cancel := n.Notify(id)
		defer cancel()
		for {
			value, err := store.Get(ctx, id)
			if err == nil {
				return value, nil
			}
			if !errors.Is(err, ErrNotFound) {
				return nil, err
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-ch:
			}
		}
	}

	if poll <= 0 {
		poll = 50 * time.Millisecond
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = poll
	b.MaxInterval = 8 * poll
	b.Multiplier = 1.5
	b.RandomizationFactor = 0.2

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
		value, err := store.Get(ctx, id)
		if err == nil {
			return value, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		timer.Reset(b.NextBackOff())
	}
}
