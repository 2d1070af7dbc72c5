// Package cache holds the short-TTL snapshot of the materialized prompt
// collection. It is an accelerator, never a consistency source of truth: the
// repository is free to drop it at any time.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/prompthub/prompthub/internal/models"
)

// ErrMiss is returned by backends when a key is absent or expired.
var ErrMiss = errors.New("cache: miss")

// Backend is the minimal key/value surface the snapshot needs.
type Backend interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

const snapshotKey = "prompts_data_v3"

// Snapshot is the write-through cache over the collection: GetOrLoad on
// reads, Patch after direct mutations, Invalidate when the final state is not
// known client-side (asynchronous PR merges).
type Snapshot struct {
	backend Backend
	ttl     time.Duration
}

func NewSnapshot(backend Backend, ttl time.Duration) *Snapshot {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Snapshot{backend: backend, ttl: ttl}
}

// GetOrLoad returns the cached collection, loading and storing it on a miss.
// A corrupt cached payload is treated as a miss.
func (s *Snapshot) GetOrLoad(ctx context.Context, load func(context.Context) (*models.PromptsData, error)) (*models.PromptsData, error) {
	if raw, err := s.backend.Get(ctx, snapshotKey); err == nil {
		var data models.PromptsData
		if err := json.Unmarshal([]byte(raw), &data); err == nil {
			return &data, nil
		}
		_ = s.backend.Delete(ctx, snapshotKey)
	}

	data, err := load(ctx)
	if err != nil {
		return nil, err
	}
	s.store(ctx, data)
	return data, nil
}

// Patch applies a mutation to the cached value in place, skipping silently on
// a miss. Keeping the patch here, next to GetOrLoad, is what stops the
// "remember to also fix the cache" duty from scattering across call sites.
func (s *Snapshot) Patch(ctx context.Context, mutate func(*models.PromptsData)) {
	raw, err := s.backend.Get(ctx, snapshotKey)
	if err != nil {
		return
	}
	var data models.PromptsData
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		_ = s.backend.Delete(ctx, snapshotKey)
		return
	}
	mutate(&data)
	s.store(ctx, &data)
}

// Invalidate drops the snapshot.
func (s *Snapshot) Invalidate(ctx context.Context) {
	_ = s.backend.Delete(ctx, snapshotKey)
}

func (s *Snapshot) store(ctx context.Context, data *models.PromptsData) {
	raw, err := json.Marshal(data)
	if err != nil {
		return
	}
	_ = s.backend.Set(ctx, snapshotKey, string(raw), s.ttl)
}
