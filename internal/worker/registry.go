// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package worker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"pkt.systems/pslog"

	"github.com/jeranaias/flicker/internal/logx"
)

// Task families sharing the registry.
const (
	FamilyCompletion = "completion"
	FamilyIntent     = "intent"
	FamilyScan       = "scan"
	FamilyEmbedding  = "embedding"
)

// Error variables for worker lifecycle conditions.
var (
	// ErrFinished is returned by emit once the worker has reached its terminal event.
	ErrFinished = errors.New("worker already finished")

	// ErrAlreadyRunning is returned by Guard.TryAcquire while another holder is active.
	ErrAlreadyRunning = errors.New("already running")
)

// =============================================================================
// REGISTRY
// =============================================================================

// Record describes one live worker.
type Record struct {
	ID      uuid.UUID
	Family  string
	Started time.Time
}

// Registry tracks in-flight workers by instance id. Entries are inserted at
// spawn and removed exactly once at the terminal event.
type Registry struct {
	log pslog.Logger

	mu      sync.Mutex
	live    map[uuid.UUID]Record
	drained chan struct{} // closed while the registry is empty
}

// NewRegistry creates an empty registry. A nil logger falls back to the
// logger in context.Background().
func NewRegistry(log pslog.Logger) *Registry {
	drained := make(chan struct{})
	close(drained)
	return &Registry{
		log:     logx.Or(log, context.Background()),
		live:    make(map[uuid.UUID]Record),
		drained: drained,
	}
}

func (r *Registry) add(family string) Record {
	rec := Record{ID: uuid.New(), Family: family, Started: time.Now()}
	r.mu.Lock()
	if len(r.live) == 0 {
		r.drained = make(chan struct{})
	}
	r.live[rec.ID] = rec
	r.mu.Unlock()
	return rec
}

func (r *Registry) remove(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.live[id]; !ok {
		panic(fmt.Sprintf("worker: registry entry %s removed twice", id))
	}
	delete(r.live, id)
	if len(r.live) == 0 {
		close(r.drained)
	}
}

// Live returns the live workers ordered by start time.
func (r *Registry) Live() []Record {
	r.mu.Lock()
	out := make([]Record, 0, len(r.live))
	for _, rec := range r.live {
		out = append(out, rec)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Started.Before(out[j].Started) })
	return out
}

// Len returns the number of live workers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.live)
}

// Count returns the number of live workers in a family.
func (r *Registry) Count(family string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, rec := range r.live {
		if rec.Family == family {
			n++
		}
	}
	return n
}

// Has reports whether id is still registered.
func (r *Registry) Has(id uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.live[id]
	return ok
}

// Wait blocks until no worker is live or ctx is done.
func (r *Registry) Wait(ctx context.Context) error {
	for {
		r.mu.Lock()
		drained := r.drained
		empty := len(r.live) == 0
		r.mu.Unlock()
		if empty {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-drained:
		}
	}
}

// =============================================================================
// GUARD
// =============================================================================

// Guard is a single-flight lock for one task family.
type Guard struct {
	name string

	mu     sync.Mutex
	active bool
}

// NewGuard creates a guard; name appears in ErrAlreadyRunning messages.
func NewGuard(name string) *Guard {
	return &Guard{name: name}
}

// TryAcquire takes the guard or fails fast when it is held.
func (g *Guard) TryAcquire() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.active {
		return fmt.Errorf("%s: %w", g.name, ErrAlreadyRunning)
	}
	g.active = true
	return nil
}

// Release frees the guard. Releasing a free guard is a no-op.
func (g *Guard) Release() {
	g.mu.Lock()
	g.active = false
	g.mu.Unlock()
}

// Active reports whether the guard is held.
func (g *Guard) Active() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.active
}
