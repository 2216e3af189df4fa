package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/leafsii/lp-points/internal/points"
	"github.com/leafsii/lp-points/pkg/kv"
	memkv "github.com/leafsii/lp-points/pkg/kv/memory"
	kvredis "github.com/leafsii/lp-points/pkg/kv/redis"
)

// Channel and key prefixes
const (
	ChannelUpdates = "points:updates"
	KeyLatest      = "points:latest"
)

// DefaultRetention is how long the latest record of an account stays readable.
const DefaultRetention = 7 * 24 * time.Hour

var ErrNoUpdate = errors.New("no point update recorded")

// Publisher fans reward update records out over Redis pub/sub and keeps the latest record
// per account for consumers that join late.
type Publisher struct {
	// When Redis is available, client is used for publishing
	client *redis.Client
	// Latest records, backed by Redis or by an in-memory kv.Store
	kvStore kv.Store
	// In-memory pubsub hub for when Redis is unavailable
	pubsubHub *PubSubHub

	retention time.Duration
	logger    *zap.SugaredLogger
}

// NewPublisher connects to Redis at redisURL. An empty URL or an unreachable server
// puts the publisher in in-memory mode.
func NewPublisher(redisURL string, retention time.Duration, logger *zap.SugaredLogger) *Publisher {
	if retention <= 0 {
		retention = DefaultRetention
	}

	if redisURL == "" {
		return newInMemoryPublisher(retention, logger)
	}

	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		opt = &redis.Options{Addr: redisURL}
	}
	opt.DialTimeout = 5 * time.Second
	opt.ReadTimeout = 3 * time.Second
	opt.WriteTimeout = 3 * time.Second
	opt.PoolSize = 10
	opt.MinIdleConns = 2

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		if logger != nil {
			logger.Warnw("Redis unavailable; publishing point updates in memory", "error", err)
		}
		return newInMemoryPublisher(retention, logger)
	}

	return &Publisher{
		client:    client,
		kvStore:   kvredis.NewFromClient(client),
		retention: retention,
		logger:    logger,
	}
}

func newInMemoryPublisher(retention time.Duration, logger *zap.SugaredLogger) *Publisher {
	return &Publisher{
		kvStore:   memkv.NewStore(),
		pubsubHub: NewPubSubHub(),
		retention: retention,
		logger:    logger,
	}
}

// UpdatesChannel is the channel carrying records of one pool.
func UpdatesChannel(pool common.Address) string {
	return fmt.Sprintf("%s:%s", ChannelUpdates, strings.ToLower(pool.Hex()))
}

func latestKey(pool, account string) string {
	return fmt.Sprintf("%s:%s:%s", KeyLatest, strings.ToLower(pool), strings.ToLower(account))
}

// Emit publishes rec on its pool's channel and stores it as the account's latest record.
func (p *Publisher) Emit(ctx context.Context, rec points.RewardUpdateRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal point update: %w", err)
	}

	if err := p.kvStore.Set(ctx, latestKey(rec.Pool, rec.Account), data, p.retention); err != nil {
		return fmt.Errorf("store latest point update: %w", err)
	}

	return p.publish(ctx, UpdatesChannel(common.HexToAddress(rec.Pool)), data)
}

// Latest returns the last record emitted for account in pool.
func (p *Publisher) Latest(ctx context.Context, pool, account common.Address) (*points.RewardUpdateRecord, error) {
	data, err := p.kvStore.Get(ctx, latestKey(pool.Hex(), account.Hex()))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, ErrNoUpdate
		}
		return nil, fmt.Errorf("load latest point update: %w", err)
	}

	var rec points.RewardUpdateRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal point update: %w", err)
	}
	return &rec, nil
}

func (p *Publisher) publish(ctx context.Context, channel string, data []byte) error {
	if p.client != nil {
		if err := p.client.Publish(ctx, channel, data).Err(); err != nil {
			if p.logger != nil {
				p.logger.Errorw("Publish error", "channel", channel, "error", err)
			}
			return fmt.Errorf("pubsub publish error: %w", err)
		}
		return nil
	}

	if p.pubsubHub != nil {
		p.pubsubHub.Publish(channel, string(data))
		if p.logger != nil {
			p.logger.Debugw("Published to in-memory pubsub", "channel", channel)
		}
	}
	return nil
}

// Subscribe returns a Redis subscription, or nil in in-memory mode.
func (p *Publisher) Subscribe(ctx context.Context, channels ...string) *redis.PubSub {
	if p.client != nil {
		return p.client.Subscribe(ctx, channels...)
	}
	return nil
}

// SubscribeInMemory subscribes to channels on the in-memory hub. Returns nil in Redis mode.
func (p *Publisher) SubscribeInMemory(ctx context.Context, channels ...string) *Subscription {
	if p.pubsubHub != nil {
		return p.pubsubHub.Subscribe(ctx, channels...)
	}
	return nil
}

// IsInMemoryMode returns true if the publisher is not backed by Redis
func (p *Publisher) IsInMemoryMode() bool {
	return p.client == nil
}

func (p *Publisher) Ping(ctx context.Context) error {
	return p.kvStore.Ping(ctx)
}

// Close releases the Redis connection or stops the in-memory store.
func (p *Publisher) Close() error {
	return p.kvStore.Close()
}
