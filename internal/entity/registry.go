package entity

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

// Registry holds every added entity and its last written state.
type Registry struct {
	mu       sync.RWMutex
	entities map[string]Entity
	states   map[string]State
	writers  []StateWriter
}

func NewRegistry() *Registry {
	return &Registry{
		entities: make(map[string]Entity),
		states:   make(map[string]State),
	}
}

// AddWriter registers a writer. Existing entity states are replayed to it.
func (r *Registry) AddWriter(w StateWriter) {
	r.mu.Lock()
	r.writers = append(r.writers, w)
	replay := make([]Entity, 0, len(r.entities))
	for _, e := range r.entities {
		replay = append(replay, e)
	}
	states := make(map[string]State, len(r.states))
	for id, s := range r.states {
		states[id] = s
	}
	r.mu.Unlock()

	for _, e := range replay {
		if s, ok := states[e.UniqueID()]; ok {
			w.WriteState(e, s)
		}
	}
}

// Add registers entities. Unique ids must not collide.
func (r *Registry) Add(entities ...Entity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range entities {
		id := e.UniqueID()
		if _, exists := r.entities[id]; exists {
			return fmt.Errorf("duplicate entity id: %s", id)
		}
		r.entities[id] = e
	}
	return nil
}

// Remove drops entities, e.g. when their config entry is unloaded.
func (r *Registry) Remove(entities ...Entity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range entities {
		delete(r.entities, e.UniqueID())
		delete(r.states, e.UniqueID())
	}
}

// Get returns an entity by unique id.
func (r *Registry) Get(id string) (Entity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entities[id]
	return e, ok
}

// Entities returns all entities sorted by unique id.
func (r *Registry) Entities() []Entity {
	r.mu.RLock()
	out := make([]Entity, 0, len(r.entities))
	for _, e := range r.entities {
		out = append(out, e)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].UniqueID() < out[j].UniqueID() })
	return out
}

// WriteState records the entity's current state and forwards it to writers.
func (r *Registry) WriteState(e Entity) {
	s := e.State()
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = time.Now()
	}

	r.mu.Lock()
	if _, ok := r.entities[e.UniqueID()]; !ok {
		r.mu.Unlock()
		return
	}
	r.states[e.UniqueID()] = s
	writers := append([]StateWriter(nil), r.writers...)
	r.mu.Unlock()

	for _, w := range writers {
		w.WriteState(e, s)
	}
}

// LastState returns the last state written for id.
func (r *Registry) LastState(id string) (State, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.states[id]
	return s, ok
}

type stateJSON struct {
	EntityID    string     `json:"entity_id"`
	State       any        `json:"state"`
	Attributes  Attributes `json:"attributes"`
	Device      DeviceInfo `json:"device"`
	LastUpdated string     `json:"last_updated,omitempty"`
}

// StatesHandler serves entity states in the Home Assistant REST shape: the
// full list at its root, one entity at "<root>/<platform>.<unique_id>".
func (r *Registry) StatesHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		_, entityID, single := strings.Cut(strings.TrimPrefix(req.URL.Path, "/"), "/states/")
		if single {
			platform, id, _ := strings.Cut(entityID, ".")
			e, ok := r.Get(id)
			if !ok || string(e.Platform()) != platform {
				w.WriteHeader(http.StatusNotFound)
				_ = json.NewEncoder(w).Encode(map[string]string{"message": "Entity not found."})
				return
			}
			_ = json.NewEncoder(w).Encode(r.stateFor(e))
			return
		}

		entities := r.Entities()
		out := make([]stateJSON, 0, len(entities))
		for _, e := range entities {
			out = append(out, r.stateFor(e))
		}
		_ = json.NewEncoder(w).Encode(out)
	})
}

func (r *Registry) stateFor(e Entity) stateJSON {
	item := stateJSON{
		EntityID:   string(e.Platform()) + "." + e.UniqueID(),
		State:      "unavailable",
		Attributes: e.Attributes(),
		Device:     e.DeviceInfo(),
	}
	if s, ok := r.LastState(e.UniqueID()); ok {
		if s.Available {
			item.State = RenderValue(s.Value)
		}
		item.LastUpdated = s.UpdatedAt.UTC().Format(time.RFC3339)
	}
	return item
}

// RenderValue formats a state value the way Home Assistant expects it on the wire.
func RenderValue(v any) string {
	switch value := v.(type) {
	case nil:
		return "unknown"
	case bool:
		if value {
			return "ON"
		}
		return "OFF"
	case float64:
		return fmt.Sprintf("%g", value)
	case int:
		return fmt.Sprintf("%d", value)
	default:
		return fmt.Sprint(value)
	}
}
