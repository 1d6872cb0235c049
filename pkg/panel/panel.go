package panel

import (
	"context"
	"fmt"
	"sync"
)

// AccessMethod records how a rendered panel instance was reached. It decides
// which navigation controls get injected and where "back" goes.
type AccessMethod string

const (
	AccessSystemList   AccessMethod = "system_panel_list"
	AccessGuildList    AccessMethod = "guild_panel_list"
	AccessDirect       AccessMethod = "direct"
	AccessRemoteMirror AccessMethod = "remote_mirror"
)

// ActionKind is the reserved keyword inside a composite action identifier.
type ActionKind string

const (
	KindButton   ActionKind = "btn"
	KindDropdown ActionKind = "dropdown"
	KindModal    ActionKind = "modal"
)

// Definition is a registered panel. Implementations provide the initial
// render; button/dropdown/modal handling and recovery refresh are optional
// capabilities declared by implementing the corresponding interface.
type Definition interface {
	// ID returns the unique panel identifier used inside composite action ids.
	ID() string

	// Persistent reports whether the rendered message is a standing message
	// edited in place across interactions.
	Persistent() bool

	// Unique reports whether at most one active instance may exist per scope.
	// Unique implies Persistent; the registry rejects definitions that violate this.
	Unique() bool

	// OnRender produces the panel's initial response.
	OnRender(ev *Event) (*Response, error)
}

// ButtonHandler is implemented by panels that react to button presses.
type ButtonHandler interface {
	OnButton(ev *Event) (Result, error)
}

// DropdownHandler is implemented by panels that react to select menus.
type DropdownHandler interface {
	OnDropdown(ev *Event) (Result, error)
}

// ModalHandler is implemented by panels that receive modal submissions.
type ModalHandler interface {
	OnModal(ev *Event) (Result, error)
}

// MaxInstancer overrides the default single-instance cap for persistent panels.
type MaxInstancer interface {
	MaxActiveInstances() int
}

// Refresher is implemented by panels whose recovered instances should be
// refreshed asynchronously after a restart. The returned response is written
// back to the durable store and broadcast; the rendered message is left as-is.
type Refresher interface {
	OnRecover(ctx context.Context, rec *InstanceRecord) (*Response, error)
}

// Registry holds all registered panel definitions.
type Registry struct {
	mu   sync.RWMutex
	defs map[string]Definition
}

// NewRegistry creates an empty panel registry.
func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]Definition)}
}

// Register adds a definition. It rejects duplicate ids and definitions
// breaking the unique-implies-persistent invariant.
func (r *Registry) Register(def Definition) error {
	if def == nil {
		return fmt.Errorf("nil panel definition")
	}
	id := def.ID()
	if id == "" {
		return fmt.Errorf("panel definition has empty id")
	}
	if def.Unique() && !def.Persistent() {
		return fmt.Errorf("panel %q is unique but not persistent", id)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.defs[id]; exists {
		return fmt.Errorf("panel %q already registered", id)
	}
	r.defs[id] = def
	return nil
}

// Get returns the definition for id.
func (r *Registry) Get(id string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[id]
	return def, ok
}

// All returns a snapshot of all registered definitions.
func (r *Registry) All() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Definition, 0, len(r.defs))
	for _, d := range r.defs {
		out = append(out, d)
	}
	return out
}

// MaxInstances resolves the active-instance cap for a definition.
// Persistent panels default to 1.
func MaxInstances(def Definition) int {
	if mi, ok := def.(MaxInstancer); ok {
		if n := mi.MaxActiveInstances(); n > 0 {
			return n
		}
	}
	return 1
}
