package messaging

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RedisMessenger appends outbound messages to per-recipient redis streams.
// Sends are rate limited so a sweep over many overdue conversations cannot
// flood the transport.
type RedisMessenger struct {
	client    *redis.Client
	keyPrefix string
	maxLen    int64
	limiter   *rate.Limiter
	logger    *zap.Logger
}

// RedisMessengerConfig configures a RedisMessenger.
type RedisMessengerConfig struct {
	Addr     string `json:"addr" yaml:"addr"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`
	PoolSize int    `json:"pool_size" yaml:"pool_size"`

	// KeyPrefix is prepended to every stream key (default "squadflow:").
	KeyPrefix string `json:"key_prefix" yaml:"key_prefix"`

	// StreamMaxLen caps each recipient stream via approximate trimming
	// (default 10000, 0 disables trimming).
	StreamMaxLen int64 `json:"stream_max_len" yaml:"stream_max_len"`

	// SendRatePerSecond limits outbound sends (default 100, 0 disables).
	SendRatePerSecond float64 `json:"send_rate_per_second" yaml:"send_rate_per_second"`
	// SendBurst is the limiter burst size (default 20).
	SendBurst int `json:"send_burst" yaml:"send_burst"`
}

// DefaultRedisMessengerConfig returns the default redis messenger configuration.
func DefaultRedisMessengerConfig() RedisMessengerConfig {
	return RedisMessengerConfig{
		Addr:              "localhost:6379",
		PoolSize:          10,
		KeyPrefix:         "squadflow:",
		StreamMaxLen:      10000,
		SendRatePerSecond: 100,
		SendBurst:         20,
	}
}

// NewRedisMessenger connects to redis and verifies the connection.
func NewRedisMessenger(ctx context.Context, cfg RedisMessengerConfig, logger *zap.Logger) (*RedisMessenger, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "squadflow:"
	}
	if cfg.SendBurst <= 0 {
		cfg.SendBurst = 20
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	var limiter *rate.Limiter
	if cfg.SendRatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.SendRatePerSecond), cfg.SendBurst)
	}

	return &RedisMessenger{
		client:    client,
		keyPrefix: cfg.KeyPrefix,
		maxLen:    cfg.StreamMaxLen,
		limiter:   limiter,
		logger:    logger.With(zap.String("component", "redis_messenger")),
	}, nil
}

// Send appends the message to the recipient's stream and returns the
// generated message ID.
func (r *RedisMessenger) Send(ctx context.Context, opts SendOptions) (string, error) {
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("rate limit wait: %w", err)
		}
	}

	id := "msg_" + uuid.NewString()
	args := &redis.XAddArgs{
		Stream: r.streamKey(opts.RecipientID),
		Values: map[string]any{
			"id":         id,
			"sender_id":  opts.SenderID,
			"type":       string(opts.Type),
			"content":    opts.Content,
			"context_id": opts.ContextID,
			"sent_at":    time.Now().UTC().Format(time.RFC3339Nano),
		},
	}
	if r.maxLen > 0 {
		args.MaxLen = r.maxLen
		args.Approx = true
	}

	if err := r.client.XAdd(ctx, args).Err(); err != nil {
		return "", fmt.Errorf("failed to append message: %w", err)
	}

	r.logger.Debug("message sent",
		zap.String("message_id", id),
		zap.String("recipient", opts.RecipientID),
		zap.String("type", string(opts.Type)),
	)
	return id, nil
}

// Ping checks the redis connection.
func (r *RedisMessenger) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close releases the redis client.
func (r *RedisMessenger) Close() error {
	return r.client.Close()
}

func (r *RedisMessenger) streamKey(recipientID string) string {
	return r.keyPrefix + "inbox:" + recipientID
}
