package registry

import (
	"context"
	"fmt"
	"time"
)

// Lease is exclusive use of a resource key until ExpiresAt.
type Lease struct {
	Key       string    `json:"key"`
	Holder    string    `json:"holder"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (l Lease) liveAt(now time.Time) bool {
	return now.Before(l.ExpiresAt)
}

// Key builds the lease key for a module on a device.
func Key(module, deviceID string) string {
	return module + ":" + deviceID
}

// Reserve grants actor the lease on key for d. It succeeds when no live
// lease exists or actor already holds it (renewal); otherwise it returns
// ErrHeldByOther.
func (r *Registry) Reserve(key, actor string, d time.Duration) (Lease, error) {
	if key == "" || actor == "" {
		return Lease{}, ErrInvalidKey
	}
	if d <= 0 {
		return Lease{}, fmt.Errorf("%w: %v", ErrInvalidLease, d)
	}

	r.mu.Lock()
	now := r.now()
	if cur, ok := r.leases[key]; ok && cur.liveAt(now) && cur.Holder != actor {
		r.mu.Unlock()
		return Lease{}, fmt.Errorf("%w: %s held by %s until %s",
			ErrHeldByOther, key, cur.Holder, cur.ExpiresAt.UTC().Format(time.RFC3339))
	}

	l := Lease{Key: key, Holder: actor, ExpiresAt: now.Add(d)}
	r.leases[key] = l
	seq, snap := r.commitLocked()
	r.mu.Unlock()

	r.logger.Debug("lease granted", "key", key, "holder", actor, "expires_at", l.ExpiresAt)
	r.publish(seq, snap)
	return l, nil
}

// Release drops actor's live lease on key. It returns ErrNoLease when no
// live lease exists or another actor holds it. Releasing twice is harmless.
func (r *Registry) Release(key, actor string) error {
	r.mu.Lock()
	cur, ok := r.leases[key]
	if !ok || !cur.liveAt(r.now()) || cur.Holder != actor {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s for %s", ErrNoLease, key, actor)
	}

	delete(r.leases, key)
	seq, snap := r.commitLocked()
	r.mu.Unlock()

	r.logger.Debug("lease released", "key", key, "holder", actor)
	r.publish(seq, snap)
	return nil
}

// CanUse reports whether actor may act on key: no live lease exists, or the
// live lease is actor's own.
func (r *Registry) CanUse(key, actor string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.leases[key]
	return !ok || !cur.liveAt(r.now()) || cur.Holder == actor
}

// Lease returns the live lease on key, if any.
func (r *Registry) Lease(key string) (Lease, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.leases[key]
	if !ok || !cur.liveAt(r.now()) {
		return Lease{}, false
	}
	return cur, true
}

// Sweep deletes expired leases and returns how many it removed. Expired
// leases are already invisible to every reader; this only frees memory.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	now := r.now()
	removed := 0
	for key, l := range r.leases {
		if !l.liveAt(now) {
			delete(r.leases, key)
			removed++
		}
	}
	if removed == 0 {
		r.mu.Unlock()
		return 0
	}
	seq, snap := r.commitLocked()
	r.mu.Unlock()

	r.logger.Debug("expired leases swept", "count", removed)
	r.publish(seq, snap)
	return removed
}

// Run sweeps expired leases every interval until ctx is cancelled.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}
