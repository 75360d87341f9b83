package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const subscribeTimeout = 5 * time.Second

// RedisBroker implements EventBroker over Redis Pub/Sub so every API replica
// sees assignments made by any other replica.
type RedisBroker struct {
	rdb *redis.Client
	mu  sync.Mutex
	ps  map[chan Event]*redis.PubSub
}

func NewRedisBroker(url string) (*RedisBroker, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return &RedisBroker{rdb: redis.NewClient(opt), ps: map[chan Event]*redis.PubSub{}}, nil
}

func (b *RedisBroker) Ping(ctx context.Context) error { return b.rdb.Ping(ctx).Err() }

func (b *RedisBroker) Close() error { return b.rdb.Close() }

func (b *RedisBroker) Subscribe(ctx context.Context, tenantID string) (chan Event, error) {
	ctx, cancel := context.WithTimeout(ctx, subscribeTimeout)
	defer cancel()
	ps := b.rdb.Subscribe(ctx, chanName(tenantID))
	// wait for the subscription to be confirmed
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		log.Warn().Err(err).Str("tenant", tenantID).Msg("redis subscribe")
		return nil, fmt.Errorf("subscribe %s: %w", chanName(tenantID), err)
	}
	ch := make(chan Event, 16)
	b.mu.Lock()
	b.ps[ch] = ps
	b.mu.Unlock()
	msgs := ps.Channel()
	go func() {
		for msg := range msgs {
			var evt Event
			if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
				continue
			}
			b.mu.Lock()
			if _, live := b.ps[ch]; live {
				select {
				case ch <- evt:
				default:
				}
			}
			b.mu.Unlock()
		}
	}()
	return ch, nil
}

func (b *RedisBroker) Unsubscribe(tenantID string, ch chan Event) {
	b.mu.Lock()
	ps, ok := b.ps[ch]
	delete(b.ps, ch)
	b.mu.Unlock()
	if !ok {
		return
	}
	_ = ps.Close()
	close(ch)
}

func (b *RedisBroker) Publish(tenantID string, evt Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	data, err := json.Marshal(evt)
	if err != nil {
		return
	}
	if err := b.rdb.Publish(ctx, chanName(tenantID), data).Err(); err != nil {
		log.Warn().Err(err).Str("tenant", tenantID).Str("type", evt.Type).Msg("redis publish")
	}
}

func chanName(tenantID string) string { return "assignments:" + tenantID }
