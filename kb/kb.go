package kb

import (
	"fmt"
	"sort"
	"sync"

	"github.com/signalsfoundry/shadowcast/core"
	"github.com/signalsfoundry/shadowcast/model"
)

// EventType indicates what kind of change happened in the registry.
type EventType int

const (
	EventBuildingAdded EventType = iota
	EventBuildingRemoved
)

// Event is emitted to subscribers after a mutation.
type Event struct {
	Type       EventType
	BuildingID string
	Count      int
}

// Registry is an in-memory, thread-safe store of buildings keyed by EGID.
type Registry struct {
	mu sync.RWMutex

	buildings map[string]*model.Building

	subs map[int]func(Event)
	next int
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		buildings: make(map[string]*model.Building),
		subs:      make(map[int]func(Event)),
	}
}

// AddBuilding stores b. Buildings without an identifier or whose
// identifier is already present are rejected with an input error.
func (r *Registry) AddBuilding(b *model.Building) error {
	if b == nil || b.ID == "" {
		return core.ErrMissingBuildingID
	}

	r.mu.Lock()
	if _, exists := r.buildings[b.ID]; exists {
		r.mu.Unlock()
		return fmt.Errorf("%w: %q", core.ErrDuplicateBuilding, b.ID)
	}
	r.buildings[b.ID] = b
	event := Event{Type: EventBuildingAdded, BuildingID: b.ID, Count: len(r.buildings)}
	subs := r.snapshotSubs()
	r.mu.Unlock()

	for _, sub := range subs {
		sub(event)
	}
	return nil
}

// AddAll stores every building, returning the rejected ones keyed by
// their position in bs.
func (r *Registry) AddAll(bs []model.Building) map[int]error {
	var rejected map[int]error
	for i := range bs {
		if err := r.AddBuilding(&bs[i]); err != nil {
			if rejected == nil {
				rejected = make(map[int]error)
			}
			rejected[i] = err
		}
	}
	return rejected
}

// Remove deletes the building with the given ID.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	if _, ok := r.buildings[id]; !ok {
		r.mu.Unlock()
		return fmt.Errorf("building with ID %q not found", id)
	}
	delete(r.buildings, id)
	event := Event{Type: EventBuildingRemoved, BuildingID: id, Count: len(r.buildings)}
	subs := r.snapshotSubs()
	r.mu.Unlock()

	for _, sub := range subs {
		sub(event)
	}
	return nil
}

// Get returns the building with the given ID, or nil if not found.
func (r *Registry) Get(id string) *model.Building {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.buildings[id]
}

// Len returns the number of stored buildings.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.buildings)
}

// List returns a snapshot of all buildings ordered by ID.
func (r *Registry) List() []model.Building {
	r.mu.RLock()
	res := make([]model.Building, 0, len(r.buildings))
	for _, b := range r.buildings {
		res = append(res, *b)
	}
	r.mu.RUnlock()

	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res
}

// Subscribe registers a callback for registry events. Callbacks run
// outside the lock. It returns an unsubscribe function.
func (r *Registry) Subscribe(fn func(Event)) (unsubscribe func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.next
	r.next++
	r.subs[id] = fn

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.subs, id)
	}
}

func (r *Registry) snapshotSubs() []func(Event) {
	subs := make([]func(Event), 0, len(r.subs))
	for _, fn := range r.subs {
		subs = append(subs, fn)
	}
	return subs
}
