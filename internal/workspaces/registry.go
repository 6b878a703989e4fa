// Package workspaces owns the per-(user, job) document workspaces and the
// HTTP surface the candidate UI drives them through.
package workspaces

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"portal-gateway/internal/inflight"
	"portal-gateway/internal/portalapi"
	"portal-gateway/internal/shared/metrics"
	"portal-gateway/internal/shared/storage/object"
	"portal-gateway/internal/shared/telemetry"
	"portal-gateway/internal/shared/util"
	"portal-gateway/internal/stagedocs"
)

// stateLockWait bounds how long a mutation waits for another instance
// holding the same workspace.
const stateLockWait = 5 * time.Second

// Workspace is the pending document state of one user on one job page.
type Workspace struct {
	UserID string
	JobID  string
	Store  *stagedocs.Store

	// op serializes load-modify-save cycles on this instance.
	op sync.Mutex

	mu       sync.Mutex
	detail   *portalapi.JobDetail
	lastUsed time.Time
}

func (w *Workspace) cachedDetail() (portalapi.JobDetail, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.detail == nil {
		return portalapi.JobDetail{}, false
	}
	return *w.detail, true
}

func (w *Workspace) setDetail(d *portalapi.JobDetail) {
	w.mu.Lock()
	w.detail = d
	w.mu.Unlock()
}

func (w *Workspace) touch(now time.Time) {
	w.mu.Lock()
	w.lastUsed = now
	w.mu.Unlock()
}

func (w *Workspace) idleSince() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastUsed
}

// Registry holds live workspaces and disposes the ones left idle. A shared
// registry mirrors every workspace to a StateStore so instances behind a
// load balancer see the same pending state; the local items are a cache.
type Registry struct {
	objects object.ObjectStore
	idleTTL time.Duration
	now     func() time.Time

	state StateStore
	locks inflight.Guard

	mu    sync.Mutex
	items map[string]*Workspace
}

func NewRegistry(objects object.ObjectStore, idleTTL time.Duration) *Registry {
	if idleTTL <= 0 {
		idleTTL = 30 * time.Minute
	}
	return &Registry{
		objects: objects,
		idleTTL: idleTTL,
		now:     time.Now,
		items:   make(map[string]*Workspace),
	}
}

// Share backs the registry with state. locks serializes mutations of one
// workspace across instances.
func (r *Registry) Share(state StateStore, locks inflight.Guard) *Registry {
	r.state = state
	r.locks = locks
	return r
}

// Shared reports whether workspaces are mirrored to a StateStore.
func (r *Registry) Shared() bool {
	return r.state != nil
}

func registryKey(userID, jobID string) string {
	return userID + "|" + jobID
}

func (r *Registry) newWorkspace(userID, jobID string) *Workspace {
	return &Workspace{
		UserID: userID,
		JobID:  jobID,
		Store:  stagedocs.NewStore(stagedocs.NewPreviews(r.objects, registryKey(userID, jobID))),
	}
}

// Get returns the workspace for (userID, jobID), creating it on first use.
func (r *Registry) Get(userID, jobID string) *Workspace {
	key := registryKey(userID, jobID)
	now := r.now()

	r.mu.Lock()
	ws, ok := r.items[key]
	if !ok {
		ws = r.newWorkspace(userID, jobID)
		r.items[key] = ws
	}
	// Touched under r.mu so Sweep never sees a stale lastUsed for a
	// workspace being handed out.
	ws.touch(now)
	n := len(r.items)
	r.mu.Unlock()

	if !ok {
		metrics.SetWorkspaces(n)
	}
	return ws
}

// Lookup returns an existing workspace without creating one.
func (r *Registry) Lookup(userID, jobID string) (*Workspace, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ws, ok := r.items[registryKey(userID, jobID)]
	return ws, ok
}

// Load brings ws up to date with the shared state. It is a no-op for a
// registry that is not shared.
func (r *Registry) Load(ctx context.Context, ws *Workspace) error {
	if r.state == nil {
		return nil
	}
	ws.op.Lock()
	defer ws.op.Unlock()
	return r.pull(ctx, ws)
}

// Update runs fn against the current state of ws and saves the result. On a
// shared registry the cycle holds the workspace lock across instances.
func (r *Registry) Update(ctx context.Context, ws *Workspace, fn func() error) error {
	if r.state == nil {
		return fn()
	}
	ws.op.Lock()
	defer ws.op.Unlock()

	release, err := inflight.AcquireWait(ctx, r.locks, stateLockKey(ws), stateLockWait)
	if err != nil {
		return err
	}
	defer release()

	if err := r.pull(ctx, ws); err != nil {
		return err
	}
	before := ws.Store.Previews().Keys()
	if err := fn(); err != nil {
		return err
	}
	st := ws.Store.Export()
	if err := r.state.Save(ctx, ws.UserID, ws.JobID, st); err != nil {
		// Nothing references previews created by an unsaved mutation.
		_ = ws.Store.Previews().Release(ctx, added(before, st.Previews)...)
		return err
	}
	return nil
}

func (r *Registry) pull(ctx context.Context, ws *Workspace) error {
	st, _, err := r.state.Load(ctx, ws.UserID, ws.JobID)
	if err != nil {
		return err
	}
	return ws.Store.Restore(st)
}

// Owner finds the user's workspace holding preview key. A shared registry
// consults the StateStore, so the preview may have been created elsewhere.
func (r *Registry) Owner(ctx context.Context, userID, key string) (*Workspace, error) {
	if r.state == nil {
		for _, ws := range r.ForUser(userID) {
			if ws.Store.Previews().Owns(key) {
				return ws, nil
			}
		}
		return nil, stagedocs.ErrEntryNotFound
	}

	jobs, err := r.state.Jobs(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, jobID := range jobs {
		if !strings.HasPrefix(key, util.HashUserKey(registryKey(userID, jobID))+"/") {
			continue
		}
		ws := r.Get(userID, jobID)
		if err := r.Load(ctx, ws); err != nil {
			return nil, err
		}
		if ws.Store.Previews().Owns(key) {
			return ws, nil
		}
	}
	return nil, stagedocs.ErrEntryNotFound
}

func stateLockKey(ws *Workspace) string {
	return inflight.Key("workspace", ws.UserID, ws.JobID)
}

// added returns the keys in after that are not in before. Both are sorted.
func added(before, after []string) []string {
	var out []string
	for _, key := range after {
		i := sort.SearchStrings(before, key)
		if i == len(before) || before[i] != key {
			out = append(out, key)
		}
	}
	return out
}

// ForUser lists a user's live workspaces ordered by job id.
func (r *Registry) ForUser(userID string) []*Workspace {
	r.mu.Lock()
	out := make([]*Workspace, 0)
	for _, ws := range r.items {
		if ws.UserID == userID {
			out = append(out, ws)
		}
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].JobID < out[j].JobID })
	return out
}

// Len returns the number of live workspaces.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

// Dispose tears down one workspace and releases its previews. On a shared
// registry the stored state goes too, along with previews created by other
// instances.
func (r *Registry) Dispose(ctx context.Context, userID, jobID string) error {
	key := registryKey(userID, jobID)
	r.mu.Lock()
	ws, ok := r.items[key]
	delete(r.items, key)
	n := len(r.items)
	r.mu.Unlock()
	if ok {
		metrics.SetWorkspaces(n)
	}

	if r.state == nil {
		if !ok {
			return nil
		}
		return ws.Store.Dispose(ctx)
	}
	if !ok {
		ws = r.newWorkspace(userID, jobID)
	}
	return r.disposeShared(ctx, ws)
}

func (r *Registry) disposeShared(ctx context.Context, ws *Workspace) error {
	ws.op.Lock()
	defer ws.op.Unlock()

	release, err := inflight.AcquireWait(ctx, r.locks, stateLockKey(ws), stateLockWait)
	if err != nil {
		return err
	}
	defer release()

	if err := r.pull(ctx, ws); err != nil && !errors.Is(err, stagedocs.ErrDisposed) {
		return err
	}
	if err := r.state.Delete(ctx, ws.UserID, ws.JobID); err != nil {
		return err
	}
	return ws.Store.Dispose(ctx)
}

// evict drops a swept workspace. Unshared workspaces are disposed. Shared
// ones are only forgotten locally while the stored state is still alive,
// since another instance may be serving them.
func (r *Registry) evict(ctx context.Context, ws *Workspace) error {
	if r.state == nil {
		return ws.Store.Dispose(ctx)
	}
	alive, err := r.state.Exists(ctx, ws.UserID, ws.JobID)
	if err != nil {
		return fmt.Errorf("check workspace: %w", err)
	}
	if alive {
		ws.Store.Previews().Adopt(nil)
		return nil
	}
	return ws.Store.Dispose(ctx)
}

// Sweep disposes workspaces idle longer than the TTL and returns how many it removed.
func (r *Registry) Sweep(ctx context.Context) int {
	cutoff := r.now().Add(-r.idleTTL)

	r.mu.Lock()
	var idle []*Workspace
	for key, ws := range r.items {
		if ws.idleSince().Before(cutoff) {
			idle = append(idle, ws)
			delete(r.items, key)
		}
	}
	n := len(r.items)
	r.mu.Unlock()

	if len(idle) == 0 {
		return 0
	}
	metrics.SetWorkspaces(n)
	for _, ws := range idle {
		if err := r.evict(ctx, ws); err != nil {
			telemetry.Warn("workspace.dispose_failed", map[string]any{
				"user_id": ws.UserID,
				"job_id":  ws.JobID,
				"error":   err,
			})
		}
	}
	telemetry.Info("workspace.sweep", map[string]any{
		"disposed":  len(idle),
		"remaining": n,
	})
	return len(idle)
}

// DisposeAll tears down every workspace, used on shutdown. Shared
// workspaces outlive the instance and are only dropped from the cache.
func (r *Registry) DisposeAll(ctx context.Context) {
	r.mu.Lock()
	items := r.items
	r.items = make(map[string]*Workspace)
	r.mu.Unlock()

	metrics.SetWorkspaces(0)
	for _, ws := range items {
		if r.state != nil {
			ws.Store.Previews().Adopt(nil)
			continue
		}
		_ = ws.Store.Dispose(ctx)
	}
}

// Run sweeps idle workspaces every interval until ctx is done.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}
