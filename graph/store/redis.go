package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	backend "github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix is the key prefix used when none is configured.
const DefaultRedisPrefix = "coachgraph:thread:"

// noExpiryScore is the index score for threads without a TTL (2100-01-01).
const noExpiryScore = 4102444800

// RedisStore is a Redis implementation of Store[S].
//
// Key layout, relative to the prefix:
//
//	cp:<thread>     checkpoint JSON (string)
//	steps:<thread>  step records (hash, field = step number)
//	index           thread IDs (sorted set, score = expiry unix time)
//
// With a TTL, both keys of a thread expire together and ListThreads prunes
// expired members from the index lazily.
type RedisStore[S any] struct {
	client *backend.Client
	prefix string
	ttl    time.Duration
}

// RedisOption configures a RedisStore.
type RedisOption func(*redisStoreConfig)

type redisStoreConfig struct {
	prefix string
	ttl    time.Duration
}

// WithRedisTTL sets the expiration applied to each thread on every write.
func WithRedisTTL(ttl time.Duration) RedisOption {
	return func(c *redisStoreConfig) {
		c.ttl = ttl
	}
}

// WithRedisPrefix sets the key prefix.
func WithRedisPrefix(prefix string) RedisOption {
	return func(c *redisStoreConfig) {
		if prefix != "" {
			c.prefix = prefix
		}
	}
}

// NewRedisStore connects to Redis at address and returns a store.
func NewRedisStore[S any](address, password string, db int, opts ...RedisOption) *RedisStore[S] {
	client := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewRedisStoreFromClient[S](client, opts...)
}

// NewRedisStoreFromClient creates a store on an existing client. The client
// may be shared with a RedisLocker.
func NewRedisStoreFromClient[S any](client *backend.Client, opts ...RedisOption) *RedisStore[S] {
	cfg := redisStoreConfig{prefix: DefaultRedisPrefix}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &RedisStore[S]{
		client: client,
		prefix: cfg.prefix,
		ttl:    cfg.ttl,
	}
}

func (s *RedisStore[S]) checkpointKey(threadID string) string {
	return s.prefix + "cp:" + threadID
}

func (s *RedisStore[S]) stepsKey(threadID string) string {
	return s.prefix + "steps:" + threadID
}

func (s *RedisStore[S]) indexKey() string {
	return s.prefix + "index"
}

func (s *RedisStore[S]) score() float64 {
	if s.ttl == 0 {
		return noExpiryScore
	}
	return float64(time.Now().Add(s.ttl).Unix())
}

// SaveStep persists a thread execution step (implements Store interface).
func (s *RedisStore[S]) SaveStep(ctx context.Context, threadID string, step int, nodeID string, state S) error {
	data, err := json.Marshal(StepRecord[S]{Step: step, NodeID: nodeID, State: state})
	if err != nil {
		return fmt.Errorf("failed to marshal step: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, s.stepsKey(threadID), strconv.Itoa(step), data)
	if s.ttl > 0 {
		pipe.Expire(ctx, s.stepsKey(threadID), s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save step to redis: %w", err)
	}
	return nil
}

// LoadLatest retrieves the most recent step for a thread (implements Store interface).
func (s *RedisStore[S]) LoadLatest(ctx context.Context, threadID string) (state S, step int, err error) {
	var zero S

	fields, err := s.client.HGetAll(ctx, s.stepsKey(threadID)).Result()
	if err != nil {
		return zero, 0, fmt.Errorf("failed to load steps from redis: %w", err)
	}
	if len(fields) == 0 {
		return zero, 0, ErrNotFound
	}

	latest, raw := -1, ""
	for field, value := range fields {
		n, convErr := strconv.Atoi(field)
		if convErr != nil {
			continue
		}
		if n > latest {
			latest, raw = n, value
		}
	}
	if latest < 0 {
		return zero, 0, ErrNotFound
	}

	var record StepRecord[S]
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return zero, 0, fmt.Errorf("failed to unmarshal step: %w", err)
	}
	return record.State, record.Step, nil
}

// SaveCheckpoint stores the checkpoint and refreshes the thread index.
func (s *RedisStore[S]) SaveCheckpoint(ctx context.Context, cp Checkpoint[S]) error {
	if cp.ThreadID == "" {
		return fmt.Errorf("checkpoint thread ID cannot be empty")
	}
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = time.Now().UTC()
	}

	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.checkpointKey(cp.ThreadID), data, s.ttl)
	pipe.ZAdd(ctx, s.indexKey(), backend.Z{
		Score:  s.score(),
		Member: cp.ThreadID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save checkpoint to redis: %w", err)
	}
	return nil
}

// LoadCheckpoint retrieves the thread checkpoint (implements Store interface).
func (s *RedisStore[S]) LoadCheckpoint(ctx context.Context, threadID string) (Checkpoint[S], error) {
	val, err := s.client.Get(ctx, s.checkpointKey(threadID)).Result()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return Checkpoint[S]{}, ErrNotFound
		}
		return Checkpoint[S]{}, fmt.Errorf("failed to get checkpoint from redis: %w", err)
	}

	var cp Checkpoint[S]
	if err := json.Unmarshal([]byte(val), &cp); err != nil {
		return Checkpoint[S]{}, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}
	return cp, nil
}

// ListThreads prunes expired threads from the index and returns the rest.
func (s *RedisStore[S]) ListThreads(ctx context.Context) ([]string, error) {
	now := float64(time.Now().Unix())
	if err := s.client.ZRemRangeByScore(ctx, s.indexKey(), "-inf", fmt.Sprintf("%f", now)).Err(); err != nil {
		return nil, fmt.Errorf("failed to prune expired threads: %w", err)
	}

	ids, err := s.client.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list threads: %w", err)
	}
	return ids, nil
}

// Ping checks the connection.
func (s *RedisStore[S]) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the redis client.
func (s *RedisStore[S]) Close() error {
	return s.client.Close()
}
