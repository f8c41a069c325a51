package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RedisFeed publishes changes over Redis pub/sub so that subscribers in any
// service instance see writes made by any other.
type RedisFeed struct {
	client *redis.Client
	prefix string
}

type RedisFeedConfig struct {
	Addr     string
	Password string
	Prefix   string
}

func NewRedisFeed(cfg RedisFeedConfig) (*RedisFeed, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("change feed redis addr is required")
	}
	prefix := strings.TrimSpace(cfg.Prefix)
	if prefix == "" {
		prefix = "plantcare:changes"
	}
	return &RedisFeed{
		client: redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Password}),
		prefix: prefix,
	}, nil
}

func (f *RedisFeed) channel(path string) string {
	return f.prefix + ":" + path
}

// Publish sends the change on the channel named after its path.
func (f *RedisFeed) Publish(ctx context.Context, change Change) error {
	payload, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("encode change: %w", err)
	}
	if err := f.client.Publish(ctx, f.channel(change.Path), payload).Err(); err != nil {
		return fmt.Errorf("publish change: %w", err)
	}
	return nil
}

// Subscribe listens on root and on every path below it.
func (f *RedisFeed) Subscribe(ctx context.Context, root string) (Subscription, error) {
	root = strings.Trim(strings.TrimSpace(root), "/")
	if root == "" {
		return nil, errors.New("subscription root is required")
	}
	pubsub := f.client.PSubscribe(ctx, f.channel(root), f.channel(root)+"/*")
	// Wait for the subscription to be confirmed so no change published
	// after Subscribe returns is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", root, err)
	}
	sub := &redisSubscription{
		pubsub: pubsub,
		ch:     make(chan Change, hubBuffer),
		done:   make(chan struct{}),
	}
	go sub.run(ctx)
	return sub, nil
}

type redisSubscription struct {
	pubsub *redis.PubSub
	ch     chan Change
	done   chan struct{}
	once   sync.Once
}

func (s *redisSubscription) run(ctx context.Context) {
	defer close(s.ch)
	msgs := s.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			_ = s.Close()
			return
		case <-s.done:
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			var change Change
			if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil {
				slog.Warn("drop malformed change", "channel", msg.Channel, "err", err)
				continue
			}
			select {
			case s.ch <- change:
			case <-s.done:
				return
			case <-ctx.Done():
				_ = s.Close()
				return
			}
		}
	}
}

func (s *redisSubscription) C() <-chan Change {
	return s.ch
}

func (s *redisSubscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.pubsub.Close()
	})
	return err
}
