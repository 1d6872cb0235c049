package remote

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/small-frappuccino/panelcore/pkg/log"
	"github.com/small-frappuccino/panelcore/pkg/panel"
)

// LiveUpdateType is the envelope type of a mirror push.
const LiveUpdateType = "panel:live_update"

// Envelope is the wire frame sent to mirror subscribers.
type Envelope struct {
	Type string     `json:"type"`
	Data LiveUpdate `json:"data"`
}

// LiveUpdate carries one refreshed panel rendering.
type LiveUpdate struct {
	PanelID   string    `json:"panelId"`
	ScopeID   *string   `json:"scopeId"`
	SessionID *string   `json:"sessionId"`
	Response  *Document `json:"response"`
}

const writeTimeout = 2 * time.Second

// Hub fans live panel updates out to websocket subscribers. Delivery is
// best-effort: no subscriber is not an error, and a failing subscriber is
// dropped rather than retried.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[*subscriber]struct{}
}

type subscriber struct {
	id   string
	conn *websocket.Conn
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[*subscriber]struct{})}
}

// HandleWS upgrades the request and registers the client as a subscriber of
// the (panel, scope, session) named in the query string. It blocks until the
// client disconnects.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	panelID := r.URL.Query().Get("panel")
	if panelID == "" {
		http.Error(w, "missing panel parameter", http.StatusBadRequest)
		return
	}
	scopeID := r.URL.Query().Get("scope")
	if scopeID == "" {
		scopeID = panel.GlobalScope
	}
	sessionID := r.URL.Query().Get("session")

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.PanelLogger().Warn("Mirror subscriber upgrade failed", "err", err)
		return
	}

	sub := &subscriber{id: uuid.NewString(), conn: conn}
	key := subKey(panelID, scopeID, sessionID)
	h.add(key, sub)
	log.PanelLogger().Info("Mirror subscriber connected", "panel", panelID, "scope", scopeID, "subscriber", sub.id)

	defer func() {
		h.remove(key, sub)
		_ = conn.Close(websocket.StatusNormalClosure, "bye")
		log.PanelLogger().Info("Mirror subscriber disconnected", "panel", panelID, "subscriber", sub.id)
	}()

	// Mirror clients only receive; drain until the connection dies.
	ctx := r.Context()
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			return
		}
	}
}

// Broadcast pushes a document to every subscriber of the exact session and to
// panel-level subscribers of the same scope. Fire-and-forget.
func (h *Hub) Broadcast(panelID, scopeID, sessionID string, doc *Document) {
	if doc == nil {
		return
	}
	if scopeID == "" {
		scopeID = panel.GlobalScope
	}

	update := LiveUpdate{PanelID: panelID, Response: doc}
	if scopeID != panel.GlobalScope {
		update.ScopeID = &scopeID
	}
	if sessionID != "" {
		update.SessionID = &sessionID
	}
	env := Envelope{Type: LiveUpdateType, Data: update}

	targets := h.snapshot(subKey(panelID, scopeID, sessionID))
	if sessionID != "" {
		targets = append(targets, h.snapshot(subKey(panelID, scopeID, ""))...)
	}

	for _, sub := range targets {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err := wsjson.Write(ctx, sub.conn, env)
		cancel()
		if err != nil {
			log.PanelLogger().Warn("Dropping mirror subscriber", "panel", panelID, "subscriber", sub.id, "err", err)
			h.dropEverywhere(sub)
			_ = sub.conn.Close(websocket.StatusPolicyViolation, "write failure")
		}
	}
}

// SubscriberCount reports the current number of subscribers across all keys.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, set := range h.subs {
		n += len(set)
	}
	return n
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, set := range h.subs {
		for sub := range set {
			_ = sub.conn.Close(websocket.StatusGoingAway, "shutting down")
		}
	}
	h.subs = make(map[string]map[*subscriber]struct{})
}

func subKey(panelID, scopeID, sessionID string) string {
	return panelID + "|" + scopeID + "|" + sessionID
}

func (h *Hub) add(key string, sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subs[key]
	if !ok {
		set = make(map[*subscriber]struct{})
		h.subs[key] = set
	}
	set[sub] = struct{}{}
}

func (h *Hub) remove(key string, sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.subs[key]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(h.subs, key)
		}
	}
}

func (h *Hub) dropEverywhere(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for key, set := range h.subs {
		delete(set, sub)
		if len(set) == 0 {
			delete(h.subs, key)
		}
	}
}

func (h *Hub) snapshot(key string) []*subscriber {
	h.mu.RLock()
	defer h.mu.RUnlock()
	set := h.subs[key]
	out := make([]*subscriber, 0, len(set))
	for sub := range set {
		out = append(out, sub)
	}
	return out
}
