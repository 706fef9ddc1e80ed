package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"loadwarden/pkg/sampler"

	"github.com/go-redis/redis/v8"
)

const historyKey = "loadwarden:metrics:history"

// HistoryStore keeps the metrics history as a single JSON value
type HistoryStore struct {
	redis *redis.Client
	key   string
}

// NewHistoryStore creates a Redis-backed history store
func NewHistoryStore(client *RedisClient) *HistoryStore {
	return &HistoryStore{redis: client.GetClient(), key: historyKey}
}

// Name implements monitor.HistoryStore
func (s *HistoryStore) Name() string { return "redis" }

// Save overwrites the stored history
func (s *HistoryStore) Save(ctx context.Context, history []sampler.Snapshot) error {
	if history == nil {
		history = []sampler.Snapshot{}
	}
	data, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("failed to marshal history: %w", err)
	}
	if err := s.redis.Set(ctx, s.key, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save history: %w", err)
	}
	return nil
}

// Load returns the stored history, empty when nothing was saved yet
func (s *HistoryStore) Load(ctx context.Context) ([]sampler.Snapshot, error) {
	data, err := s.redis.Get(ctx, s.key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get history: %w", err)
	}

	var history []sampler.Snapshot
	if err := json.Unmarshal(data, &history); err != nil {
		return nil, fmt.Errorf("failed to unmarshal history: %w", err)
	}
	return history, nil
}
