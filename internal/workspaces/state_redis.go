package workspaces

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"portal-gateway/internal/stagedocs"
)

// RedisState shares workspace state across gateway instances. Each user
// also has a set of job ids so a preview can be traced back to its
// workspace on any instance.
type RedisState struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisState(client *redis.Client, ttl time.Duration) *RedisState {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &RedisState{client: client, prefix: "workspace:", ttl: ttl}
}

func (s *RedisState) stateKey(userID, jobID string) string {
	return s.prefix + registryKey(userID, jobID)
}

func (s *RedisState) jobsKey(userID string) string {
	return s.prefix + "jobs:" + userID
}

func (s *RedisState) Load(ctx context.Context, userID, jobID string) (stagedocs.State, bool, error) {
	key := s.stateKey(userID, jobID)
	var get *redis.StringCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		get = pipe.Get(ctx, key)
		pipe.Expire(ctx, key, s.ttl)
		pipe.Expire(ctx, s.jobsKey(userID), s.ttl)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return stagedocs.State{}, false, fmt.Errorf("load workspace: %w", err)
	}
	raw, err := get.Bytes()
	if errors.Is(err, redis.Nil) {
		return stagedocs.State{}, false, nil
	}
	if err != nil {
		return stagedocs.State{}, false, fmt.Errorf("load workspace: %w", err)
	}
	var st stagedocs.State
	if err := json.Unmarshal(raw, &st); err != nil {
		return stagedocs.State{}, false, fmt.Errorf("decode workspace: %w", err)
	}
	return st, true, nil
}

func (s *RedisState) Save(ctx context.Context, userID, jobID string, st stagedocs.State) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode workspace: %w", err)
	}
	jobs := s.jobsKey(userID)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.stateKey(userID, jobID), raw, s.ttl)
		pipe.SAdd(ctx, jobs, jobID)
		pipe.Expire(ctx, jobs, s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("save workspace: %w", err)
	}
	return nil
}

func (s *RedisState) Delete(ctx context.Context, userID, jobID string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.stateKey(userID, jobID))
		pipe.SRem(ctx, s.jobsKey(userID), jobID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete workspace: %w", err)
	}
	return nil
}

func (s *RedisState) Exists(ctx context.Context, userID, jobID string) (bool, error) {
	n, err := s.client.Exists(ctx, s.stateKey(userID, jobID)).Result()
	if err != nil {
		return false, fmt.Errorf("check workspace: %w", err)
	}
	return n > 0, nil
}

func (s *RedisState) Jobs(ctx context.Context, userID string) ([]string, error) {
	jobs, err := s.client.SMembers(ctx, s.jobsKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list workspaces: %w", err)
	}
	sort.Strings(jobs)
	return jobs, nil
}
