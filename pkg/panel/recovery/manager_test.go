package recovery

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/bwmarrin/discordgo"

	"github.com/small-frappuccino/panelcore/pkg/panel"
	"github.com/small-frappuccino/panelcore/pkg/panel/instance"
	"github.com/small-frappuccino/panelcore/pkg/panel/navctx"
	"github.com/small-frappuccino/panelcore/pkg/panel/remote"
)

type stubPanel struct {
	id         string
	persistent bool
	unique     bool
}

func (p *stubPanel) ID() string       { return p.id }
func (p *stubPanel) Persistent() bool { return p.persistent }
func (p *stubPanel) Unique() bool     { return p.unique }
func (p *stubPanel) OnRender(ev *panel.Event) (*panel.Response, error) {
	return &panel.Response{Content: "rendered " + p.id}, nil
}

type refreshingPanel struct {
	stubPanel
	mu        sync.Mutex
	recovered []*panel.InstanceRecord
}

func (p *refreshingPanel) OnRecover(ctx context.Context, rec *panel.InstanceRecord) (*panel.Response, error) {
	p.mu.Lock()
	p.recovered = append(p.recovered, rec)
	p.mu.Unlock()
	return &panel.Response{Content: "refreshed " + rec.PanelID}, nil
}

type fakeResolver struct {
	channels map[string]bool
	messages map[string]bool
	err      error
}

func restErr(code int) error {
	return &discordgo.RESTError{Message: &discordgo.APIErrorMessage{Code: code}}
}

func (f *fakeResolver) Channel(channelID string) (*discordgo.Channel, error) {
	if f.err != nil {
		return nil, f.err
	}
	if !f.channels[channelID] {
		return nil, restErr(discordgo.ErrCodeUnknownChannel)
	}
	return &discordgo.Channel{ID: channelID}, nil
}

func (f *fakeResolver) Message(channelID, messageID string) (*discordgo.Message, error) {
	if f.err != nil {
		return nil, f.err
	}
	if !f.messages[channelID+":"+messageID] {
		return nil, restErr(discordgo.ErrCodeUnknownMessage)
	}
	return &discordgo.Message{ID: messageID, ChannelID: channelID}, nil
}

func (f *fakeResolver) EditMessage(channelID, messageID string, resp *panel.Response) (*discordgo.Message, error) {
	return &discordgo.Message{ID: messageID, ChannelID: channelID}, nil
}

func (f *fakeResolver) DeleteMessage(channelID, messageID string) error { return nil }

type fakeHub struct {
	mu    sync.Mutex
	calls []string
}

func (h *fakeHub) Broadcast(panelID, scopeID, sessionID string, doc *remote.Document) {
	h.mu.Lock()
	h.calls = append(h.calls, panelID+"/"+scopeID)
	h.mu.Unlock()
}

func newTestStores(t *testing.T) (*instance.Store, *navctx.Store) {
	t.Helper()
	nav := navctx.NewStore(0, 0)
	t.Cleanup(nav.Close)
	return instance.NewStore(t.TempDir()), nav
}

func seedRecord(t *testing.T, store *instance.Store, panelID, scopeID, channelID, messageID string) {
	t.Helper()
	_, err := store.Put(&panel.InstanceRecord{
		PanelID:      panelID,
		Target:       panel.TargetRef{ChannelID: channelID, MessageID: messageID},
		ScopeID:      scopeID,
		State:        "active",
		AccessMethod: panel.AccessGuildList,
	}, 1)
	if err != nil {
		t.Fatalf("seed Put: %v", err)
	}
}

func TestRunRecoversLiveRecord(t *testing.T) {
	store, nav := newTestStores(t)
	reg := panel.NewRegistry()
	def := &refreshingPanel{stubPanel: stubPanel{id: "system", persistent: true, unique: true}}
	if err := reg.Register(def); err != nil {
		t.Fatalf("Register: %v", err)
	}
	seedRecord(t, store, "system", "g1", "ch1", "m1")

	resolver := &fakeResolver{
		channels: map[string]bool{"ch1": true},
		messages: map[string]bool{"ch1:m1": true},
	}
	hub := &fakeHub{}
	m := NewManager(reg, store, nav, resolver, hub)

	stats, err := m.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.Recovered != 1 || stats.Pruned != 0 || stats.Failed != 0 {
		t.Fatalf("stats = %+v, want one recovered", stats)
	}

	rec, ok, err := store.Get("g1", "system")
	if err != nil || !ok {
		t.Fatalf("Get after recovery: ok=%v err=%v", ok, err)
	}
	if rec.SessionData["recovered"] != true {
		t.Errorf("record not marked recovered: %v", rec.SessionData)
	}
	if _, ok := rec.SessionData["last_response"]; !ok {
		t.Errorf("refresh writeback missing: %v", rec.SessionData)
	}

	ctxv, ok := nav.Get(panel.TargetRef{ChannelID: "ch1", MessageID: "m1"})
	if !ok {
		t.Fatal("navigation context not re-attached")
	}
	if ctxv.AccessMethod != panel.AccessGuildList {
		t.Errorf("access method = %q, want stored guild_panel_list", ctxv.AccessMethod)
	}

	def.mu.Lock()
	n := len(def.recovered)
	def.mu.Unlock()
	if n != 1 {
		t.Errorf("OnRecover called %d times, want 1", n)
	}
	hub.mu.Lock()
	defer hub.mu.Unlock()
	if len(hub.calls) != 1 || hub.calls[0] != "system/g1" {
		t.Errorf("broadcasts = %v", hub.calls)
	}
}

func TestRunPrunesUnknownChannel(t *testing.T) {
	store, nav := newTestStores(t)
	reg := panel.NewRegistry()
	if err := reg.Register(&stubPanel{id: "system", persistent: true, unique: true}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	seedRecord(t, store, "system", "g1", "gone", "m1")

	m := NewManager(reg, store, nav, &fakeResolver{channels: map[string]bool{}}, nil)
	stats, err := m.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.Pruned != 1 || stats.Recovered != 0 {
		t.Fatalf("stats = %+v, want one pruned", stats)
	}
	if _, ok, _ := store.Get("g1", "system"); ok {
		t.Error("pruned record still present")
	}
}

func TestRunPrunesUnknownMessage(t *testing.T) {
	store, nav := newTestStores(t)
	reg := panel.NewRegistry()
	if err := reg.Register(&stubPanel{id: "system", persistent: true, unique: true}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	seedRecord(t, store, "system", "g1", "ch1", "deleted")

	resolver := &fakeResolver{channels: map[string]bool{"ch1": true}, messages: map[string]bool{}}
	m := NewManager(reg, store, nav, resolver, nil)
	stats, err := m.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.Pruned != 1 {
		t.Fatalf("stats = %+v, want one pruned", stats)
	}
}

func TestRunPrunesUnregisteredPanel(t *testing.T) {
	store, nav := newTestStores(t)
	seedRecord(t, store, "retired", "g1", "ch1", "m1")

	resolver := &fakeResolver{
		channels: map[string]bool{"ch1": true},
		messages: map[string]bool{"ch1:m1": true},
	}
	m := NewManager(panel.NewRegistry(), store, nav, resolver, nil)
	stats, err := m.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.Pruned != 1 {
		t.Fatalf("stats = %+v, want one pruned", stats)
	}
}

func TestRunKeepsRecordOnTransientError(t *testing.T) {
	store, nav := newTestStores(t)
	reg := panel.NewRegistry()
	if err := reg.Register(&stubPanel{id: "system", persistent: true, unique: true}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	seedRecord(t, store, "system", "g1", "ch1", "m1")

	m := NewManager(reg, store, nav, &fakeResolver{err: errors.New("rate limited")}, nil)
	stats, err := m.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.Failed != 1 || stats.Pruned != 0 {
		t.Fatalf("stats = %+v, want one failed and none pruned", stats)
	}
	if _, ok, _ := store.Get("g1", "system"); !ok {
		t.Error("record dropped on transient error")
	}
}
