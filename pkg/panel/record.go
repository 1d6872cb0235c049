package panel

import "time"

// GlobalScope is the durability partition used when an instance does not
// belong to a specific guild.
const GlobalScope = "global"

// TargetRef addresses the surface a panel is rendered on.
type TargetRef struct {
	ChannelID string `json:"channel_id"`
	MessageID string `json:"message_id"`
}

// Key returns the map key used by the navigation context store.
func (t TargetRef) Key() string {
	return t.ChannelID + ":" + t.MessageID
}

// IsZero reports whether the ref addresses nothing.
func (t TargetRef) IsZero() bool {
	return t.ChannelID == "" && t.MessageID == ""
}

// InstanceRecord is the durable record of one standing panel instance.
type InstanceRecord struct {
	PanelID       string         `json:"panel_id"`
	Target        TargetRef      `json:"target"`
	OwnerUserID   string         `json:"owner_user_id"`
	ScopeID       string         `json:"scope_id"`
	SessionID     string         `json:"session_id,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	LastUpdatedAt time.Time      `json:"last_updated_at"`
	State         string         `json:"state"`
	SessionData   map[string]any `json:"session_data,omitempty"`
	AccessMethod  AccessMethod   `json:"access_method"`
}

// Clone returns a deep-enough copy: SessionData is copied one level.
func (r *InstanceRecord) Clone() *InstanceRecord {
	if r == nil {
		return nil
	}
	cp := *r
	if r.SessionData != nil {
		cp.SessionData = make(map[string]any, len(r.SessionData))
		for k, v := range r.SessionData {
			cp.SessionData[k] = v
		}
	}
	return &cp
}

// NavigationContext is the process-local transient state of one rendered
// panel instance. Absence is always recoverable: the router reconstructs a
// context from the rendered message or falls back to defaults.
type NavigationContext struct {
	// Stack is the ordered sequence of panel ids, most recent last.
	Stack []string

	AccessMethod   AccessMethod
	SourceCategory string

	// PanelState is an opaque snapshot owned by the panel (e.g. current page).
	PanelState map[string]any

	// Timestamp is reset on every mutating operation, never on reads.
	Timestamp time.Time
}

