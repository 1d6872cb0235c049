// Package instance persists standing panel instances. Each scope (a guild, or
// the global partition) is one JSON document rewritten atomically on every
// mutation. A per-scope mutex serializes in-process read-modify-write cycles;
// concurrent writers from other processes remain last-writer-wins.
package instance

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/small-frappuccino/panelcore/pkg/panel"
	"github.com/small-frappuccino/panelcore/pkg/util"
)

// docEntry is one panel's slot inside a scope document: either a single
// instance record, or a keyed set of session instances.
type docEntry struct {
	Record   *panel.InstanceRecord
	Sessions map[string]*panel.InstanceRecord
}

// scopeDoc is the wire shape: { [panelId]: record | { sessions: {...} } }.
type scopeDoc map[string]*docEntry

func (e *docEntry) MarshalJSON() ([]byte, error) {
	if e.Sessions != nil {
		return json.Marshal(struct {
			Sessions map[string]*panel.InstanceRecord `json:"sessions"`
		}{Sessions: e.Sessions})
	}
	return json.Marshal(e.Record)
}

func (e *docEntry) UnmarshalJSON(data []byte) error {
	var keyed struct {
		Sessions map[string]*panel.InstanceRecord `json:"sessions"`
	}
	if err := json.Unmarshal(data, &keyed); err == nil && keyed.Sessions != nil {
		e.Sessions = keyed.Sessions
		return nil
	}

	var rec panel.InstanceRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return err
	}
	e.Record = &rec
	return nil
}

// PutResult reports the outcome of a Put.
type PutResult struct {
	// Replaced is the previous single instance when the put displaced it.
	// The caller retires it (deletes its message for unique panels).
	Replaced *panel.InstanceRecord
}

// Store is the durable panel instance store.
type Store struct {
	dir string

	mu     sync.Mutex
	scopes map[string]*scopeHandle
}

type scopeHandle struct {
	mu  sync.Mutex
	mgr *util.JSONManager
}

// NewStore creates a store rooted at dir (one JSON file per scope).
func NewStore(dir string) *Store {
	return &Store{
		dir:    dir,
		scopes: make(map[string]*scopeHandle),
	}
}

// Get returns the single instance for (scopeID, panelID).
func (s *Store) Get(scopeID, panelID string) (*panel.InstanceRecord, bool, error) {
	h := s.handle(scopeID)
	h.mu.Lock()
	defer h.mu.Unlock()

	doc, err := h.load()
	if err != nil {
		return nil, false, err
	}
	entry, ok := doc[panelID]
	if !ok || entry.Record == nil {
		return nil, false, nil
	}
	return entry.Record.Clone(), true, nil
}

// GetSession returns one session instance for (scopeID, panelID, sessionID).
func (s *Store) GetSession(scopeID, panelID, sessionID string) (*panel.InstanceRecord, bool, error) {
	h := s.handle(scopeID)
	h.mu.Lock()
	defer h.mu.Unlock()

	doc, err := h.load()
	if err != nil {
		return nil, false, err
	}
	entry, ok := doc[panelID]
	if !ok || entry.Sessions == nil {
		return nil, false, nil
	}
	rec, ok := entry.Sessions[sessionID]
	if !ok {
		return nil, false, nil
	}
	return rec.Clone(), true, nil
}

// Put stores rec under (rec.ScopeID, rec.PanelID). When rec.SessionID is set
// the instance joins a keyed session set capped at maxInstances; a put for a
// new session beyond the cap evicts the least recently updated one.
// Otherwise, with maxInstances == 1, a second put transparently replaces the
// previous instance. Displaced records come back in PutResult so the caller
// can retire them.
func (s *Store) Put(rec *panel.InstanceRecord, maxInstances int) (PutResult, error) {
	if rec == nil || rec.PanelID == "" {
		return PutResult{}, fmt.Errorf("instance record missing panel id")
	}
	if rec.ScopeID == "" {
		rec.ScopeID = panel.GlobalScope
	}
	now := time.Now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.LastUpdatedAt = now

	h := s.handle(rec.ScopeID)
	h.mu.Lock()
	defer h.mu.Unlock()

	doc, err := h.load()
	if err != nil {
		return PutResult{}, err
	}

	entry := doc[rec.PanelID]
	if entry == nil {
		entry = &docEntry{}
		doc[rec.PanelID] = entry
	}

	var res PutResult
	if rec.SessionID != "" {
		if entry.Sessions == nil {
			entry.Sessions = make(map[string]*panel.InstanceRecord)
		}
		entry.Record = nil
		if _, exists := entry.Sessions[rec.SessionID]; !exists && maxInstances > 0 && len(entry.Sessions) >= maxInstances {
			res.Replaced = evictOldestSession(entry.Sessions)
		}
		entry.Sessions[rec.SessionID] = rec.Clone()
	} else {
		if maxInstances == 1 && entry.Record != nil {
			res.Replaced = entry.Record
		}
		entry.Sessions = nil
		entry.Record = rec.Clone()
	}

	if err := h.save(doc); err != nil {
		return PutResult{}, err
	}
	return res, nil
}

// UpdateState sets the state tag and partially merges extra into the
// instance's session data. Unknown records are reported as panel.ErrNotFound.
func (s *Store) UpdateState(scopeID, panelID, sessionID, state string, extra map[string]any) error {
	h := s.handle(scopeID)
	h.mu.Lock()
	defer h.mu.Unlock()

	doc, err := h.load()
	if err != nil {
		return err
	}

	rec := lookup(doc, panelID, sessionID)
	if rec == nil {
		return fmt.Errorf("update state %s/%s: %w", scopeID, panelID, panel.ErrNotFound)
	}

	rec.State = state
	rec.LastUpdatedAt = time.Now()
	if len(extra) > 0 {
		if rec.SessionData == nil {
			rec.SessionData = make(map[string]any, len(extra))
		}
		for k, v := range extra {
			rec.SessionData[k] = v
		}
	}

	return h.save(doc)
}

// Remove deletes one instance. Removing the last instance of a panel removes
// the panel's slot; removing the last slot removes the scope document.
func (s *Store) Remove(scopeID, panelID, sessionID string) error {
	h := s.handle(scopeID)
	h.mu.Lock()
	defer h.mu.Unlock()

	doc, err := h.load()
	if err != nil {
		return err
	}

	entry, ok := doc[panelID]
	if !ok {
		return nil
	}
	if sessionID != "" && entry.Sessions != nil {
		delete(entry.Sessions, sessionID)
		if len(entry.Sessions) == 0 {
			delete(doc, panelID)
		}
	} else {
		delete(doc, panelID)
	}

	return h.save(doc)
}

// Records returns every instance in a scope, sessions flattened.
func (s *Store) Records(scopeID string) ([]*panel.InstanceRecord, error) {
	h := s.handle(scopeID)
	h.mu.Lock()
	defer h.mu.Unlock()

	doc, err := h.load()
	if err != nil {
		return nil, err
	}

	var out []*panel.InstanceRecord
	for _, entry := range doc {
		if entry.Record != nil {
			out = append(out, entry.Record.Clone())
		}
		for _, rec := range entry.Sessions {
			out = append(out, rec.Clone())
		}
	}
	return out, nil
}

// Scopes lists every scope that has a durable document on disk.
func (s *Store) Scopes() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read scope directory: %w", err)
	}

	var scopes []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		scopes = append(scopes, strings.TrimSuffix(e.Name(), ".json"))
	}
	return scopes, nil
}

// All returns a snapshot of every scope's records, keyed by scope id.
func (s *Store) All() (map[string][]*panel.InstanceRecord, error) {
	scopes, err := s.Scopes()
	if err != nil {
		return nil, err
	}
	out := make(map[string][]*panel.InstanceRecord, len(scopes))
	for _, scope := range scopes {
		recs, err := s.Records(scope)
		if err != nil {
			return nil, err
		}
		out[scope] = recs
	}
	return out, nil
}

func lookup(doc scopeDoc, panelID, sessionID string) *panel.InstanceRecord {
	entry, ok := doc[panelID]
	if !ok {
		return nil
	}
	if sessionID != "" {
		if entry.Sessions == nil {
			return nil
		}
		return entry.Sessions[sessionID]
	}
	return entry.Record
}

func (s *Store) handle(scopeID string) *scopeHandle {
	if scopeID == "" {
		scopeID = panel.GlobalScope
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.scopes[scopeID]
	if !ok {
		h = &scopeHandle{mgr: util.NewJSONManager(filepath.Join(s.dir, scopeFile(scopeID)))}
		s.scopes[scopeID] = h
	}
	return h
}

func (h *scopeHandle) load() (scopeDoc, error) {
	doc := make(scopeDoc)
	if err := h.mgr.Load(&doc); err != nil {
		return nil, fmt.Errorf("load scope document: %w", err)
	}
	return doc, nil
}

func (h *scopeHandle) save(doc scopeDoc) error {
	if len(doc) == 0 {
		if err := h.mgr.Remove(); err != nil {
			return fmt.Errorf("prune empty scope document: %w", err)
		}
		return nil
	}
	if err := h.mgr.Save(doc); err != nil {
		return fmt.Errorf("save scope document: %w", err)
	}
	return nil
}

// evictOldestSession removes and returns the least recently updated session
// record, falling back to CreatedAt when update times tie.
func evictOldestSession(sessions map[string]*panel.InstanceRecord) *panel.InstanceRecord {
	var oldestID string
	var oldest *panel.InstanceRecord
	for id, rec := range sessions {
		if oldest == nil {
			oldestID, oldest = id, rec
			continue
		}
		if rec.LastUpdatedAt.Before(oldest.LastUpdatedAt) ||
			(rec.LastUpdatedAt.Equal(oldest.LastUpdatedAt) && rec.CreatedAt.Before(oldest.CreatedAt)) {
			oldestID, oldest = id, rec
		}
	}
	if oldest == nil {
		return nil
	}
	delete(sessions, oldestID)
	return oldest
}

func scopeFile(scopeID string) string {
	// Scope ids are guild snowflakes or "global". Separators must not reach the path.
	safe := strings.ReplaceAll(scopeID, string(filepath.Separator), "-")
	safe = strings.ReplaceAll(safe, "/", "-")
	return safe + ".json"
}
