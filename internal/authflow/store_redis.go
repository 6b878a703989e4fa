package authflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore shares flow state across gateway instances.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = FlowTTL
	}
	return &RedisStore{client: client, prefix: "authflow:", ttl: ttl}
}

func (s *RedisStore) Save(ctx context.Context, flow Flow) error {
	raw, err := json.Marshal(flow)
	if err != nil {
		return fmt.Errorf("encode flow: %w", err)
	}
	if err := s.client.Set(ctx, s.prefix+flow.ID, raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("save flow: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (Flow, error) {
	raw, err := s.client.Get(ctx, s.prefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return Flow{}, ErrFlowNotFound
	}
	if err != nil {
		return Flow{}, fmt.Errorf("load flow: %w", err)
	}
	var flow Flow
	if err := json.Unmarshal(raw, &flow); err != nil {
		return Flow{}, fmt.Errorf("decode flow: %w", err)
	}
	return flow, nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, s.prefix+id).Err(); err != nil {
		return fmt.Errorf("delete flow: %w", err)
	}
	return nil
}
