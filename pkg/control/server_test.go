package control

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/small-frappuccino/panelcore/pkg/panel"
	"github.com/small-frappuccino/panelcore/pkg/panel/instance"
	"github.com/small-frappuccino/panelcore/pkg/storage"
)

func newTestServer(t *testing.T) (*Server, *instance.Store, *storage.AuditStore) {
	t.Helper()

	store := instance.NewStore(t.TempDir())
	audit := storage.NewAuditStore(filepath.Join(t.TempDir(), "audit.db"))
	if err := audit.Init(); err != nil {
		t.Fatalf("audit Init: %v", err)
	}
	t.Cleanup(func() { _ = audit.Close() })

	s := NewServer("127.0.0.1:0", store, nil, audit)
	if s == nil {
		t.Fatal("NewServer returned nil")
	}
	return s, store, audit
}

func TestNewServerEmptyAddr(t *testing.T) {
	if s := NewServer("  ", instance.NewStore(t.TempDir()), nil, nil); s != nil {
		t.Error("blank addr must disable the control server")
	}
}

func TestPanelsSnapshot(t *testing.T) {
	s, store, _ := newTestServer(t)

	_, err := store.Put(&panel.InstanceRecord{
		PanelID: "system",
		Target:  panel.TargetRef{ChannelID: "ch1", MessageID: "m1"},
		ScopeID: "g1",
		State:   "active",
	}, 1)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	ts := httptest.NewServer(s.httpServer.Handler)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/panels")
	if err != nil {
		t.Fatalf("GET /v1/panels: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var snap panelsSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(snap.Scopes["g1"]) != 1 || snap.Scopes["g1"][0].PanelID != "system" {
		t.Errorf("snapshot = %+v", snap.Scopes)
	}
}

func TestAuditRecentEndpoint(t *testing.T) {
	s, _, audit := newTestServer(t)

	if err := audit.Record(storage.Entry{PanelID: "system", ActionKind: "btn", ActionID: "refresh", Outcome: "ok"}); err != nil {
		t.Fatalf("Record: %v", err)
	}

	ts := httptest.NewServer(s.httpServer.Handler)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/audit/recent?limit=5")
	if err != nil {
		t.Fatalf("GET /v1/audit/recent: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var entries []storage.Entry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(entries) != 1 || entries[0].Outcome != "ok" {
		t.Errorf("entries = %+v", entries)
	}

	bad, err := http.Get(ts.URL + "/v1/audit/recent?limit=9999")
	if err != nil {
		t.Fatalf("GET with bad limit: %v", err)
	}
	bad.Body.Close()
	if bad.StatusCode != http.StatusBadRequest {
		t.Errorf("bad limit status = %d", bad.StatusCode)
	}
}
