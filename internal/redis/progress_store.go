// Package redis mirrors live job state so the conversation layer — which
// runs in another process — can render progress and request cancellation
// without touching postgres.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const progressTTL = 24 * time.Hour

func progressKey(orderID string) string { return "job:progress:" + orderID }
func cancelKey(orderID string) string   { return "job:cancel:" + orderID }

// Progress is the live snapshot of one running job.
type Progress struct {
	Completed int `json:"completed"`
	Total     int `json:"total"`
	Success   int `json:"success"`
	Failed    int `json:"failed"`
}

// ProgressStore publishes job progress and relays external cancel requests.
type ProgressStore interface {
	SetProgress(ctx context.Context, orderID string, p Progress) error
	GetProgress(ctx context.Context, orderID string) (Progress, bool, error)
	RequestCancel(ctx context.Context, orderID string) error
	CancelRequested(ctx context.Context, orderID string) (bool, error)
	ClearCancel(ctx context.Context, orderID string) error
}

type progressStore struct {
	client *redis.Client
}

// NewProgressStore creates a Redis-backed ProgressStore.
func NewProgressStore(client *redis.Client) ProgressStore {
	return &progressStore{client: client}
}

// NewClient creates and returns a new Redis client.
func NewClient(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
		PoolSize:     10,
	})
}

func (s *progressStore) SetProgress(ctx context.Context, orderID string, p Progress) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal progress: %w", err)
	}
	if err := s.client.Set(ctx, progressKey(orderID), data, progressTTL).Err(); err != nil {
		return fmt.Errorf("redis set progress for %s: %w", orderID, err)
	}
	return nil
}

func (s *progressStore) GetProgress(ctx context.Context, orderID string) (Progress, bool, error) {
	data, err := s.client.Get(ctx, progressKey(orderID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Progress{}, false, nil
		}
		return Progress{}, false, fmt.Errorf("redis get progress for %s: %w", orderID, err)
	}
	var p Progress
	if err := json.Unmarshal(data, &p); err != nil {
		return Progress{}, false, fmt.Errorf("unmarshal progress: %w", err)
	}
	return p, true, nil
}

func (s *progressStore) RequestCancel(ctx context.Context, orderID string) error {
	if err := s.client.Set(ctx, cancelKey(orderID), "1", progressTTL).Err(); err != nil {
		return fmt.Errorf("redis request cancel for %s: %w", orderID, err)
	}
	return nil
}

func (s *progressStore) CancelRequested(ctx context.Context, orderID string) (bool, error) {
	_, err := s.client.Get(ctx, cancelKey(orderID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("redis check cancel for %s: %w", orderID, err)
	}
	return true, nil
}

func (s *progressStore) ClearCancel(ctx context.Context, orderID string) error {
	if err := s.client.Del(ctx, cancelKey(orderID)).Err(); err != nil {
		return fmt.Errorf("redis clear cancel for %s: %w", orderID, err)
	}
	return nil
}
