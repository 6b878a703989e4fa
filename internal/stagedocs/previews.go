package stagedocs

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"sort"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"portal-gateway/internal/shared/metrics"
	"portal-gateway/internal/shared/storage/object"
	"portal-gateway/internal/shared/telemetry"
	"portal-gateway/internal/shared/util"
)

const releaseConcurrency = 4

// Previews owns the preview objects created for one workspace. Every key it
// hands out is deleted on Release or ReleaseAll.
type Previews struct {
	store  object.ObjectStore
	prefix string

	mu   sync.Mutex
	live map[string]struct{}
}

// NewPreviews scopes preview keys under a hash of owner.
func NewPreviews(store object.ObjectStore, owner string) *Previews {
	return &Previews{
		store:  store,
		prefix: util.HashUserKey(owner),
		live:   make(map[string]struct{}),
	}
}

// Create stores data and returns the new preview key.
func (p *Previews) Create(ctx context.Context, fileName, contentType string, data []byte) (string, error) {
	name, err := util.SanitizeFileName(fileName)
	if err != nil {
		name = "file"
	}
	key := path.Join(p.prefix, uuid.NewString()+"_"+name)
	if _, err := p.store.SaveWithKey(ctx, key, contentType, bytes.NewReader(data)); err != nil {
		return "", fmt.Errorf("save preview: %w", err)
	}

	p.mu.Lock()
	p.live[key] = struct{}{}
	p.mu.Unlock()
	metrics.AddPreviews(1)
	return key, nil
}

// Owns reports whether key is a live preview of this workspace.
func (p *Previews) Owns(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.live[key]
	return ok
}

// Open reads a live preview.
func (p *Previews) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	if !p.Owns(key) {
		return nil, ErrEntryNotFound
	}
	return p.store.Open(ctx, key)
}

// Live returns the number of previews not yet released.
func (p *Previews) Live() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.live)
}

// Keys lists the live preview keys, sorted.
func (p *Previews) Keys() []string {
	p.mu.Lock()
	keys := make([]string, 0, len(p.live))
	for key := range p.live {
		keys = append(keys, key)
	}
	p.mu.Unlock()
	sort.Strings(keys)
	return keys
}

// Adopt replaces the live set with keys without touching storage. Keys held
// before and absent from keys are forgotten, not deleted.
func (p *Previews) Adopt(keys []string) {
	live := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		live[key] = struct{}{}
	}
	p.mu.Lock()
	delta := len(live) - len(p.live)
	p.live = live
	p.mu.Unlock()
	if delta != 0 {
		metrics.AddPreviews(delta)
	}
}

// Release deletes the given previews. Unknown keys are ignored.
func (p *Previews) Release(ctx context.Context, keys ...string) error {
	p.mu.Lock()
	owned := make([]string, 0, len(keys))
	for _, key := range keys {
		if _, ok := p.live[key]; ok {
			delete(p.live, key)
			owned = append(owned, key)
		}
	}
	p.mu.Unlock()
	return p.delete(ctx, owned)
}

// ReleaseAll deletes every preview still held.
func (p *Previews) ReleaseAll(ctx context.Context) error {
	p.mu.Lock()
	keys := make([]string, 0, len(p.live))
	for key := range p.live {
		keys = append(keys, key)
	}
	p.live = make(map[string]struct{})
	p.mu.Unlock()
	return p.delete(ctx, keys)
}

func (p *Previews) delete(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	metrics.AddPreviews(-len(keys))

	var g errgroup.Group
	g.SetLimit(releaseConcurrency)
	for _, key := range keys {
		g.Go(func() error {
			if err := p.store.Delete(ctx, key); err != nil {
				telemetry.Error("preview.release_failed", map[string]any{
					"preview_key": key,
					"error":       err,
				})
				return fmt.Errorf("release preview %s: %w", key, err)
			}
			return nil
		})
	}
	return g.Wait()
}
