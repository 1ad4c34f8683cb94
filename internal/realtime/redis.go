package realtime

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisSource is the production transport: one redis pub/sub subscription
// per channel.
type RedisSource struct {
	client *redis.Client
}

// NewRedisSource wraps an already-connected client.
func NewRedisSource(client *redis.Client) *RedisSource {
	return &RedisSource{client: client}
}

// Subscribe opens the channel and confirms it on the wire, so an
// unreachable broker surfaces here instead of as a silent dead feed.
func (s *RedisSource) Subscribe(ctx context.Context, channel string) (Feed, error) {
	ps := s.client.Subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("error subscribing to %s: %s", channel, err)
	}

	return newRedisFeed(ps), nil
}

type redisFeed struct {
	ps   *redis.PubSub
	msgs chan Message
}

func newRedisFeed(ps *redis.PubSub) *redisFeed {
	f := &redisFeed{
		ps:   ps,
		msgs: make(chan Message, 16),
	}

	// Adapt the client's message type to ours. The goroutine ends when the
	// subscription closes, which also closes msgs.
	go func() {
		defer close(f.msgs)
		for m := range ps.Channel() {
			f.msgs <- Message{Channel: m.Channel, Payload: m.Payload}
		}
	}()

	return f
}

func (f *redisFeed) Messages() <-chan Message {
	return f.msgs
}

func (f *redisFeed) Close() error {
	return f.ps.Close()
}
