package changefeed

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// DefaultRedisChannel carries change signals between console instances.
	DefaultRedisChannel = "console:changefeed"
	redisPublishTimeout = 2 * time.Second
)

var (
	errMissingRedisClient = errors.New("changefeed: redis client is required")
	errMissingDispatcher  = errors.New("changefeed: local dispatcher is required")
)

// RedisBridgeConfig describes the dependencies of a RedisBridge.
type RedisBridgeConfig struct {
	Client  *redis.Client
	Channel string
	Local   *Dispatcher
	Logger  *zap.Logger
}

// RedisBridge publishes signals to a shared Redis channel and replays every
// signal received on that channel into the local Dispatcher, so writes made
// by any instance reach subscribers on every instance.
type RedisBridge struct {
	client  *redis.Client
	channel string
	local   *Dispatcher
	logger  *zap.Logger
}

// redisEnvelope is the payload stored on the channel.
type redisEnvelope struct {
	EntitySet string    `json:"entity_set"`
	SentAt    time.Time `json:"sent_at"`
}

func NewRedisBridge(cfg RedisBridgeConfig) (*RedisBridge, error) {
	if cfg.Client == nil {
		return nil, errMissingRedisClient
	}
	if cfg.Local == nil {
		return nil, errMissingDispatcher
	}
	channel := cfg.Channel
	if channel == "" {
		channel = DefaultRedisChannel
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisBridge{
		client:  cfg.Client,
		channel: channel,
		local:   cfg.Local,
		logger:  logger,
	}, nil
}

// Publish sends the signal to Redis. When Redis rejects it the signal is
// delivered locally so this instance still reconciles its own writes.
func (b *RedisBridge) Publish(signal Signal) {
	if signal.EntitySet == "" {
		return
	}
	body, err := json.Marshal(redisEnvelope{EntitySet: signal.EntitySet, SentAt: signal.Timestamp})
	if err != nil {
		b.logger.Error("changefeed: encode redis envelope failed", zap.Error(err))
		b.local.Publish(signal)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), redisPublishTimeout)
	defer cancel()

	if err := b.client.Publish(ctx, b.channel, body).Err(); err != nil {
		b.logger.Warn("changefeed: redis publish failed, delivering locally",
			zap.String("channel", b.channel),
			zap.String("entity_set", signal.EntitySet),
			zap.Error(err))
		b.local.Publish(signal)
	}
}

// Start subscribes to the channel and returns once the subscription is
// confirmed. Forwarding stops when ctx is done.
func (b *RedisBridge) Start(ctx context.Context) error {
	pubsub := b.client.Subscribe(ctx, b.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return err
	}
	b.logger.Info("changefeed: redis bridge subscribed", zap.String("channel", b.channel))
	go b.forward(ctx, pubsub)
	return nil
}

func (b *RedisBridge) forward(ctx context.Context, pubsub *redis.PubSub) {
	defer pubsub.Close()
	messages := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case message, ok := <-messages:
			if !ok {
				return
			}
			var envelope redisEnvelope
			if err := json.Unmarshal([]byte(message.Payload), &envelope); err != nil {
				b.logger.Warn("changefeed: decode redis message failed",
					zap.String("channel", b.channel),
					zap.Error(err))
				continue
			}
			if envelope.EntitySet == "" {
				continue
			}
			b.local.Publish(Signal{EntitySet: envelope.EntitySet, Timestamp: envelope.SentAt})
		}
	}
}
