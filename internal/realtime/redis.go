package realtime

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/example/rider-client/internal/logging"
)

// RedisTransport reads channel events from redis pub/sub. Each message is a
// JSON frame {"event": ..., "data": ...} published on the channel itself.
type RedisTransport struct {
	client *redis.Client
	logger *zap.Logger
}

func NewRedisTransport(addr, password string, logger *zap.Logger) *RedisTransport {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisTransport{client: rdb, logger: logging.OrNop(logger)}
}

func (t *RedisTransport) Subscribe(ctx context.Context, channel string, deliver func(Event)) (func(), error) {
	ps := t.client.Subscribe(context.Background(), channel)
	// Receive confirms the subscription before any publish can be missed.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}

	go func() {
		for msg := range ps.Channel() {
			var f frame
			if err := json.Unmarshal([]byte(msg.Payload), &f); err != nil || f.Event == "" {
				t.logger.Debug("realtime redis frame malformed", zap.String("channel", msg.Channel), zap.Error(err))
				continue
			}
			deliver(Event{Channel: msg.Channel, Name: f.Event, Data: f.payload()})
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			if err := ps.Close(); err != nil {
				t.logger.Debug("realtime redis unsubscribe failed", zap.String("channel", channel), zap.Error(err))
			}
		})
	}, nil
}

func (t *RedisTransport) Close() error { return t.client.Close() }
