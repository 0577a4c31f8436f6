package events

import (
	"context"
	"encoding/json"

	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisBus shares changes between replicas through Redis pub/sub.
type RedisBus struct {
	client *redis.Client
	log    zerolog.Logger
}

func NewRedisBus(addr string, password string, db int, logger zerolog.Logger) *RedisBus {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisBus{
		client: client,
		log:    logger.With().Str("component", "events").Str("bus", "redis").Logger(),
	}
}

func (b *RedisBus) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

func (b *RedisBus) Close() error {
	return b.client.Close()
}

func channelFor(operatorID string) string {
	return "pos:changes:" + operatorID
}

func (b *RedisBus) Publish(ctx context.Context, change Change) error {
	payload, err := json.Marshal(change)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, channelFor(change.OperatorID), payload).Err()
}

func (b *RedisBus) Subscribe(ctx context.Context, operatorID string) (<-chan Change, error) {
	pubsub := b.client.Subscribe(ctx, channelFor(operatorID))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, err
	}

	out := make(chan Change, subscriberBuffer)
	go func() {
		defer close(out)
		defer pubsub.Close()

		msgs := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var change Change
				if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil {
					b.log.Warn().Err(err).Str("channel", msg.Channel).Msg("invalid change payload")
					continue
				}
				select {
				case out <- change:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}
