// Package realtime subscribes to the backend's row-change channels.
//
// The backend publishes every row change to a pub/sub channel derived from
// (table, event, optional filter). This package keeps exactly one live
// transport subscription per distinct tuple, fans deliveries out to every
// view that asked for them, and quietly redials with backoff when the
// transport drops.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
)

// Events a subscription can name. Star matches every event on the table.
const (
	EventInsert = "INSERT"
	EventUpdate = "UPDATE"
	EventDelete = "DELETE"
	EventAll    = "*"
)

// Subscription identifies one stream of row changes.
type Subscription struct {
	Table  string
	Event  string
	Filter string // optional row filter, e.g. "id=eq.123"
}

// Channel derives the transport channel name for the tuple. Tuples map to
// channels one-to-one: equal tuples share a channel, distinct tuples never
// collide.
func (s Subscription) Channel() string {
	ch := fmt.Sprintf("realtime:%s:%s", s.Table, s.Event)
	if s.Filter != "" {
		ch += ":" + s.Filter
	}
	return ch
}

// Event is one delivered row change with before and after snapshots. Old
// and New stay raw here; the consumer knows what table it subscribed to.
type Event struct {
	Type  string          `json:"type"`
	Table string          `json:"table"`
	Old   json.RawMessage `json:"old,omitempty"`
	New   json.RawMessage `json:"new,omitempty"`
}

// Source is the raw pub/sub transport underneath the relay. The production
// implementation wraps a redis client; tests substitute an in-memory one.
type Source interface {
	// Subscribe opens a feed for one channel. It must fail loudly when the
	// transport is unreachable so the relay can back off and redial.
	Subscribe(ctx context.Context, channel string) (Feed, error)
}

// Feed is one open channel subscription. Messages is closed when the feed
// dies, whether by Close or by the transport dropping.
type Feed interface {
	Messages() <-chan Message
	Close() error
}

// Message is one raw payload off the transport.
type Message struct {
	Channel string
	Payload string
}

// Metrics is the slice of instrumentation the relay emits. A nil Metrics
// is allowed.
type Metrics interface {
	RealtimeDelivered()
	RealtimeDropped(reason string)
	RealtimeResubscribed()
}

type nopMetrics struct{}

func (nopMetrics) RealtimeDelivered()     {}
func (nopMetrics) RealtimeDropped(string) {}
func (nopMetrics) RealtimeResubscribed()  {}
