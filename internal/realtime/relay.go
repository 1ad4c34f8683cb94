package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
)

// Relay multiplexes views onto transport channels. Each distinct
// subscription tuple gets exactly one feed no matter how many handles are
// attached to it; the feed closes when the last handle unsubscribes.
type Relay struct {
	src     Source
	metrics Metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	channels map[string]*channelState
	closed   bool
}

type channelState struct {
	sub     Subscription
	feed    Feed
	handles map[*Handle]struct{}
}

// Handle is one view's attachment to a subscription. Events arrive on an
// internal queue and are handed to the callback in order; when the consumer
// lags, older events are dropped in favor of newer ones, since every event
// carries full row state.
type Handle struct {
	relay  *Relay
	key    string
	fn     func(Event)
	queue  chan Event
	done   chan struct{}
	exited chan struct{}
	once   sync.Once
}

const handleQueueSize = 16

// NewRelay creates a relay over the given transport. Pass a nil metrics to
// skip instrumentation.
func NewRelay(src Source, m Metrics) *Relay {
	if m == nil {
		m = nopMetrics{}
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Relay{
		src:      src,
		metrics:  m,
		ctx:      ctx,
		cancel:   cancel,
		channels: map[string]*channelState{},
	}
}

// Subscribe attaches fn to the subscription's channel, opening the feed if
// this is the first attachment. The callback runs on its own goroutine and
// must not call Unsubscribe on its own handle.
func (r *Relay) Subscribe(sub Subscription, fn func(Event)) (*Handle, error) {
	key := sub.Channel()

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, errors.New("relay is closed")
	}

	st, ok := r.channels[key]
	if !ok {
		feed, err := r.src.Subscribe(r.ctx, key)
		if err != nil {
			return nil, err
		}
		st = &channelState{
			sub:     sub,
			feed:    feed,
			handles: map[*Handle]struct{}{},
		}
		r.channels[key] = st

		r.wg.Add(1)
		go r.receive(key, st)
	}

	h := &Handle{
		relay:  r,
		key:    key,
		fn:     fn,
		queue:  make(chan Event, handleQueueSize),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}
	st.handles[h] = struct{}{}

	r.wg.Add(1)
	go h.pump()

	return h, nil
}

// receive drains the channel's feed and fans events out. When the feed dies
// under us it redials with fibonacci backoff; when the channel was torn
// down on purpose it just exits.
func (r *Relay) receive(key string, st *channelState) {
	defer r.wg.Done()

	for {
		r.mu.Lock()
		feed := st.feed
		r.mu.Unlock()

		for msg := range feed.Messages() {
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				r.metrics.RealtimeDropped("decode")
				slog.Warn("dropping undecodable realtime payload", "channel", key, "err", err)
				continue
			}
			r.deliver(key, ev)
		}

		if r.gone(key, st) {
			return
		}

		slog.Warn("realtime feed dropped, redialing", "channel", key)
		var next Feed
		err := retry.Fibonacci(r.ctx, 1*time.Second, func(ctx context.Context) error {
			f, err := r.src.Subscribe(ctx, key)
			if err != nil {
				return retry.RetryableError(err)
			}
			next = f
			return nil
		})
		if err != nil {
			// Only happens when the relay's context died mid-backoff.
			return
		}

		r.mu.Lock()
		if _, ok := r.channels[key]; !ok {
			// Torn down while we were redialing.
			r.mu.Unlock()
			next.Close()
			return
		}
		st.feed = next
		r.mu.Unlock()

		r.metrics.RealtimeResubscribed()
		slog.Info("realtime feed restored", "channel", key)
	}
}

// gone reports whether the channel was deliberately torn down or the relay
// is shutting down.
func (r *Relay) gone(key string, st *channelState) bool {
	if r.ctx.Err() != nil {
		return true
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.channels[key]
	return !ok || cur != st
}

func (r *Relay) deliver(key string, ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.channels[key]
	if !ok {
		return
	}

	for h := range st.handles {
		select {
		case h.queue <- ev:
		default:
			// Consumer lagging: shed the oldest queued event.
			select {
			case <-h.queue:
			default:
			}
			select {
			case h.queue <- ev:
			default:
			}
			r.metrics.RealtimeDropped("overflow")
		}
		r.metrics.RealtimeDelivered()
	}
}

func (h *Handle) pump() {
	defer h.relay.wg.Done()
	defer close(h.exited)

	for {
		select {
		case <-h.done:
			return
		case <-h.relay.ctx.Done():
			return
		case ev := <-h.queue:
			h.fn(ev)
		}
	}
}

// Unsubscribe detaches the handle. The last handle off a channel closes its
// feed so re-subscribing later builds a fresh one. Idempotent; once it
// returns, the callback will not be invoked again.
func (h *Handle) Unsubscribe() {
	h.once.Do(func() {
		r := h.relay

		r.mu.Lock()
		if st, ok := r.channels[h.key]; ok {
			delete(st.handles, h)
			if len(st.handles) == 0 {
				delete(r.channels, h.key)
				if err := st.feed.Close(); err != nil {
					slog.Warn("error closing realtime feed", "channel", h.key, "err", err)
				}
			}
		}
		r.mu.Unlock()

		close(h.done)
		<-h.exited
	})
}

// Close tears the relay down: every feed is closed, every pump stopped.
// Used on shutdown.
func (r *Relay) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.cancel()
	for _, st := range r.channels {
		st.feed.Close()
	}
	r.channels = map[string]*channelState{}
	r.mu.Unlock()

	r.wg.Wait()
	return nil
}
