package live

import (
	"context"
	"encoding/json"
	"log"

	redis "github.com/redis/go-redis/v9"

	"fournil/backend/internal/domain"
)

const channelPrefix = "fournil:programs:"

// RedisBroker publishes snapshots on one Redis channel per date so several
// server processes share the same live feed.
type RedisBroker struct {
	client *redis.Client
}

func NewRedisBroker(client *redis.Client) *RedisBroker {
	return &RedisBroker{client: client}
}

func (b *RedisBroker) Publish(ctx context.Context, program domain.ProductionProgram) error {
	payload, err := json.Marshal(program)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, channelPrefix+program.Date, payload).Err()
}

func (b *RedisBroker) Subscribe(ctx context.Context, from string, to string) (<-chan domain.ProductionProgram, error) {
	pubsub := b.client.PSubscribe(ctx, channelPrefix+"*")
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, err
	}

	out := make(chan domain.ProductionProgram, subscriberBuffer)
	go func() {
		defer close(out)
		defer pubsub.Close()
		messages := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				date := msg.Channel[len(channelPrefix):]
				if !inRange(date, from, to) {
					continue
				}
				var program domain.ProductionProgram
				if err := json.Unmarshal([]byte(msg.Payload), &program); err != nil {
					log.Printf("[live] WARN: decode program channel=%s: %v", msg.Channel, err)
					continue
				}
				select {
				case out <- program:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
