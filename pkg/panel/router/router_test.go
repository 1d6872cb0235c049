package router

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/small-frappuccino/panelcore/pkg/discord/ack"
	"github.com/small-frappuccino/panelcore/pkg/panel"
	"github.com/small-frappuccino/panelcore/pkg/panel/ident"
	"github.com/small-frappuccino/panelcore/pkg/panel/instance"
	"github.com/small-frappuccino/panelcore/pkg/panel/navctx"
	"github.com/small-frappuccino/panelcore/pkg/panel/remote"
	"github.com/small-frappuccino/panelcore/pkg/panel/render"
	"github.com/small-frappuccino/panelcore/pkg/storage"
)

const testDeferAfter = 25 * time.Millisecond

// fakeAck records acknowledgment traffic and enforces the same first-response
// rules as the live implementation.
type fakeAck struct {
	mu           sync.Mutex
	deferred     bool
	answered     bool
	deferUpdates []bool
	responses    []*panel.Response
	updates      []bool
	edits        []*panel.Response
	modals       []*panel.ModalRequest
	followUps    []string
	original     *discordgo.Message
}

func (f *fakeAck) Defer(update, ephemeral bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.answered {
		return errors.New("already acknowledged")
	}
	f.deferred = true
	f.answered = true
	f.deferUpdates = append(f.deferUpdates, update)
	return nil
}

func (f *fakeAck) ShowModal(m *panel.ModalRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deferred {
		return panel.ErrAlreadyDeferred
	}
	if f.answered {
		return errors.New("already acknowledged")
	}
	f.modals = append(f.modals, m)
	f.answered = true
	return nil
}

func (f *fakeAck) Respond(resp *panel.Response, update bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.answered {
		return errors.New("already acknowledged")
	}
	f.responses = append(f.responses, resp)
	f.updates = append(f.updates, update)
	f.answered = true
	return nil
}

func (f *fakeAck) Edit(resp *panel.Response) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits = append(f.edits, resp)
	return nil
}

func (f *fakeAck) FollowUpEphemeral(content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.followUps = append(f.followUps, content)
	return nil
}

func (f *fakeAck) Deferred() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.deferred
}

func (f *fakeAck) OriginalMessage() (*discordgo.Message, error) {
	if f.original == nil {
		return nil, errors.New("no original message")
	}
	return f.original, nil
}

type fakeResolver struct {
	mu      sync.Mutex
	deleted []string
}

func (f *fakeResolver) Channel(channelID string) (*discordgo.Channel, error) {
	return &discordgo.Channel{ID: channelID}, nil
}

func (f *fakeResolver) Message(channelID, messageID string) (*discordgo.Message, error) {
	return &discordgo.Message{ID: messageID, ChannelID: channelID}, nil
}

func (f *fakeResolver) EditMessage(channelID, messageID string, resp *panel.Response) (*discordgo.Message, error) {
	return &discordgo.Message{ID: messageID, ChannelID: channelID}, nil
}

func (f *fakeResolver) DeleteMessage(channelID, messageID string) error {
	f.mu.Lock()
	f.deleted = append(f.deleted, channelID+":"+messageID)
	f.mu.Unlock()
	return nil
}

func (f *fakeResolver) deletedMessages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deleted...)
}

type fakeHub struct {
	mu    sync.Mutex
	calls []string
}

func (h *fakeHub) Broadcast(panelID, scopeID, sessionID string, doc *remote.Document) {
	h.mu.Lock()
	h.calls = append(h.calls, panelID+"/"+scopeID)
	h.mu.Unlock()
}

func (h *fakeHub) broadcasts() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.calls...)
}

type fakeAudit struct{ ch chan storage.Entry }

func (f *fakeAudit) Record(e storage.Entry) error {
	f.ch <- e
	return nil
}

// testPanel drives the handler race from tests: it sleeps for delay, counts
// invocations and returns a fixed result for every action kind.
type testPanel struct {
	id          string
	persistent  bool
	unique      bool
	delay       time.Duration
	renderDelay time.Duration
	result      panel.Result
	err         error

	mu      sync.Mutex
	invoked int
}

func (p *testPanel) ID() string       { return p.id }
func (p *testPanel) Persistent() bool { return p.persistent }
func (p *testPanel) Unique() bool     { return p.unique }

func (p *testPanel) OnRender(ev *panel.Event) (*panel.Response, error) {
	if p.renderDelay > 0 {
		time.Sleep(p.renderDelay)
	}
	return &panel.Response{Content: "listing " + p.id}, nil
}

func (p *testPanel) handle() (panel.Result, error) {
	p.mu.Lock()
	p.invoked++
	p.mu.Unlock()
	if p.delay > 0 {
		time.Sleep(p.delay)
	}
	return p.result, p.err
}

func (p *testPanel) OnButton(ev *panel.Event) (panel.Result, error)   { return p.handle() }
func (p *testPanel) OnDropdown(ev *panel.Event) (panel.Result, error) { return p.handle() }
func (p *testPanel) OnModal(ev *panel.Event) (panel.Result, error)    { return p.handle() }

func (p *testPanel) invocations() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.invoked
}

type routerFixture struct {
	router    *Router
	ackFake   *fakeAck
	instances *instance.Store
	nav       *navctx.Store
	resolver  *fakeResolver
	hub       *fakeHub
	audit     *fakeAudit
}

func newFixture(t *testing.T, defs ...panel.Definition) *routerFixture {
	t.Helper()

	reg := panel.NewRegistry()
	for _, def := range defs {
		if err := reg.Register(def); err != nil {
			t.Fatalf("Register %q: %v", def.ID(), err)
		}
	}

	nav := navctx.NewStore(0, 0)
	t.Cleanup(nav.Close)

	fx := &routerFixture{
		ackFake:   &fakeAck{},
		instances: instance.NewStore(t.TempDir()),
		nav:       nav,
		resolver:  &fakeResolver{},
		hub:       &fakeHub{},
		audit:     &fakeAudit{ch: make(chan storage.Entry, 8)},
	}

	r, err := New(Config{
		Registry:   reg,
		Nav:        fx.nav,
		Instances:  fx.instances,
		Resolver:   fx.resolver,
		Hub:        fx.hub,
		Audit:      fx.audit,
		DeferAfter: testDeferAfter,
		AckFactory: func(s *discordgo.Session, i *discordgo.InteractionCreate) ack.Acknowledger {
			return fx.ackFake
		},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	fx.router = r
	return fx
}

func (fx *routerFixture) waitAudit(t *testing.T) storage.Entry {
	t.Helper()
	select {
	case e := <-fx.audit.ch:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("no audit entry recorded")
		return storage.Entry{}
	}
}

func componentInteraction(customID, channelID, messageID string) *discordgo.InteractionCreate {
	return &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{
			Type:      discordgo.InteractionMessageComponent,
			Data:      discordgo.MessageComponentInteractionData{CustomID: customID},
			GuildID:   "g1",
			ChannelID: channelID,
			Message:   &discordgo.Message{ID: messageID, ChannelID: channelID},
			Member:    &discordgo.Member{User: &discordgo.User{ID: "u1"}},
		},
	}
}

func modalInteraction(customID, channelID, messageID string) *discordgo.InteractionCreate {
	ic := componentInteraction(customID, channelID, messageID)
	ic.Type = discordgo.InteractionModalSubmit
	ic.Data = discordgo.ModalSubmitInteractionData{
		CustomID: customID,
		Components: []discordgo.MessageComponent{
			&discordgo.ActionsRow{Components: []discordgo.MessageComponent{
				&discordgo.TextInput{CustomID: "note", Value: "hello"},
			}},
		},
	}
	return ic
}

func TestFastHandlerRespondsInPlace(t *testing.T) {
	def := &testPanel{
		id: "system", persistent: true, unique: true,
		result: panel.Respond(&panel.Response{Content: "updated"}),
	}
	fx := newFixture(t, def)

	id := ident.Encode("system", panel.KindButton, "refresh")
	fx.router.HandleInteraction(nil, componentInteraction(id, "ch1", "m1"))

	if fx.ackFake.deferred {
		t.Error("fast handler must not defer")
	}
	if len(fx.ackFake.responses) != 1 || len(fx.ackFake.edits) != 0 {
		t.Fatalf("responses=%d edits=%d, want one in-place response",
			len(fx.ackFake.responses), len(fx.ackFake.edits))
	}
	if !fx.ackFake.updates[0] {
		t.Error("non-ephemeral response must edit the panel message in place")
	}

	e := fx.waitAudit(t)
	if e.Outcome != "ok" || e.Deferred {
		t.Errorf("audit = %+v, want ok/not-deferred", e)
	}
	if got := fx.hub.broadcasts(); len(got) != 1 || got[0] != "system/g1" {
		t.Errorf("broadcasts = %v", got)
	}
}

func TestSlowHandlerDefersThenEdits(t *testing.T) {
	def := &testPanel{
		id: "system", persistent: true, unique: true,
		delay:  4 * testDeferAfter,
		result: panel.Respond(&panel.Response{Content: "slow update"}),
	}
	fx := newFixture(t, def)

	id := ident.Encode("system", panel.KindButton, "refresh")
	fx.router.HandleInteraction(nil, componentInteraction(id, "ch1", "m1"))

	if !fx.ackFake.deferred {
		t.Fatal("slow handler must defer before the deadline")
	}
	if len(fx.ackFake.deferUpdates) != 1 || !fx.ackFake.deferUpdates[0] {
		t.Errorf("deferUpdates = %v, component deferral must be a message update", fx.ackFake.deferUpdates)
	}
	if len(fx.ackFake.edits) != 1 || len(fx.ackFake.responses) != 0 {
		t.Fatalf("edits=%d responses=%d, want one deferred edit",
			len(fx.ackFake.edits), len(fx.ackFake.responses))
	}
	if fx.ackFake.edits[0].Content != "slow update" {
		t.Errorf("edit content = %q", fx.ackFake.edits[0].Content)
	}

	e := fx.waitAudit(t)
	if e.Outcome != "ok" || !e.Deferred {
		t.Errorf("audit = %+v, want ok/deferred", e)
	}
}

func TestFastModalIsShown(t *testing.T) {
	def := &testPanel{
		id: "system", persistent: true, unique: true,
		result: panel.ShowModal(&panel.ModalRequest{
			CustomID: ident.Encode("system", panel.KindModal, "note"),
			Title:    "Add note",
		}),
	}
	fx := newFixture(t, def)

	id := ident.Encode("system", panel.KindButton, "note_open")
	fx.router.HandleInteraction(nil, componentInteraction(id, "ch1", "m1"))

	if fx.ackFake.deferred {
		t.Error("modal path must not defer")
	}
	if len(fx.ackFake.modals) != 1 || fx.ackFake.modals[0].Title != "Add note" {
		t.Fatalf("modals = %+v, want the note modal", fx.ackFake.modals)
	}
}

func TestSlowModalDegradesToEdit(t *testing.T) {
	def := &testPanel{
		id: "system", persistent: true, unique: true,
		delay: 4 * testDeferAfter,
		result: panel.ShowModal(&panel.ModalRequest{
			CustomID: ident.Encode("system", panel.KindModal, "note"),
			Title:    "Add note",
		}),
	}
	fx := newFixture(t, def)

	id := ident.Encode("system", panel.KindButton, "note_open")
	fx.router.HandleInteraction(nil, componentInteraction(id, "ch1", "m1"))

	if !fx.ackFake.deferred {
		t.Fatal("deadline must have won the race")
	}
	if len(fx.ackFake.modals) != 0 {
		t.Error("modal shown after deferral")
	}
	if len(fx.ackFake.edits) != 1 {
		t.Fatalf("edits = %d, want one degraded edit", len(fx.ackFake.edits))
	}
	if !strings.Contains(fx.ackFake.edits[0].Content, "Add note") {
		t.Errorf("degraded edit %q does not carry the modal title", fx.ackFake.edits[0].Content)
	}
}

func TestModalSubmitRoutesToModalHandler(t *testing.T) {
	def := &testPanel{
		id: "system", persistent: true, unique: true,
		result: panel.Respond(&panel.Response{Content: "noted"}),
	}
	fx := newFixture(t, def)

	id := ident.Encode("system", panel.KindModal, "note")
	fx.router.HandleInteraction(nil, modalInteraction(id, "ch1", "m1"))

	if def.invocations() != 1 {
		t.Fatalf("modal handler invoked %d times, want 1", def.invocations())
	}
	if len(fx.ackFake.responses) != 1 || fx.ackFake.responses[0].Content != "noted" {
		t.Fatalf("responses = %+v", fx.ackFake.responses)
	}
}

func TestStaleUniqueInstanceRejected(t *testing.T) {
	def := &testPanel{
		id: "system", persistent: true, unique: true,
		result: panel.Respond(&panel.Response{Content: "should not run"}),
	}
	fx := newFixture(t, def)

	_, err := fx.instances.Put(&panel.InstanceRecord{
		PanelID: "system",
		Target:  panel.TargetRef{ChannelID: "ch1", MessageID: "current"},
		ScopeID: "g1",
		State:   "active",
	}, 1)
	if err != nil {
		t.Fatalf("seed Put: %v", err)
	}

	id := ident.Encode("system", panel.KindButton, "refresh")
	fx.router.HandleInteraction(nil, componentInteraction(id, "ch1", "old"))

	if def.invocations() != 0 {
		t.Error("handler ran for a stale instance")
	}
	if len(fx.ackFake.responses) != 1 || !fx.ackFake.responses[0].Ephemeral {
		t.Fatalf("want one ephemeral stale notice, got %+v", fx.ackFake.responses)
	}
	if fx.ackFake.responses[0].Content != msgStale {
		t.Errorf("notice = %q", fx.ackFake.responses[0].Content)
	}
	if e := fx.waitAudit(t); e.Outcome != "stale" {
		t.Errorf("audit outcome = %q, want stale", e.Outcome)
	}
}

func TestUndecodableIdentifierDropped(t *testing.T) {
	fx := newFixture(t)

	fx.router.HandleInteraction(nil, componentInteraction("giveaway_enter", "ch1", "m1"))

	if fx.ackFake.answered {
		t.Error("foreign component must be ignored without acknowledgment")
	}
}

func TestUnknownPanelNotice(t *testing.T) {
	fx := newFixture(t)

	id := ident.Encode("ghost", panel.KindButton, "x")
	fx.router.HandleInteraction(nil, componentInteraction(id, "ch1", "m1"))

	if len(fx.ackFake.responses) != 1 || fx.ackFake.responses[0].Content != msgNotFound {
		t.Fatalf("responses = %+v, want not-found notice", fx.ackFake.responses)
	}
}

func TestPermissionDenied(t *testing.T) {
	def := &testPanel{
		id: "system", persistent: true, unique: true,
		result: panel.Respond(&panel.Response{Content: "nope"}),
	}
	fx := newFixture(t, def)
	fx.router.cfg.Permissions = PermissionFunc(func(d panel.Definition, ev *panel.Event) bool {
		return false
	})

	id := ident.Encode("system", panel.KindButton, "refresh")
	fx.router.HandleInteraction(nil, componentInteraction(id, "ch1", "m1"))

	if def.invocations() != 0 {
		t.Error("handler ran despite denial")
	}
	if len(fx.ackFake.responses) != 1 || fx.ackFake.responses[0].Content != msgDenied {
		t.Fatalf("responses = %+v, want denial notice", fx.ackFake.responses)
	}
}

func TestHandlerErrorYieldsEphemeralNotice(t *testing.T) {
	def := &testPanel{
		id: "system", persistent: true, unique: true,
		err: errors.New("boom"),
	}
	fx := newFixture(t, def)

	id := ident.Encode("system", panel.KindButton, "refresh")
	fx.router.HandleInteraction(nil, componentInteraction(id, "ch1", "m1"))

	if len(fx.ackFake.responses) != 1 || fx.ackFake.responses[0].Content != msgHandlerError {
		t.Fatalf("responses = %+v, want error notice", fx.ackFake.responses)
	}
	if e := fx.waitAudit(t); e.Outcome != "handler_error" {
		t.Errorf("audit outcome = %q", e.Outcome)
	}
}

func TestSuccessfulRenderPersists(t *testing.T) {
	def := &testPanel{
		id: "system", persistent: true, unique: true,
		result: panel.Respond(&panel.Response{Content: "updated"}),
	}
	fx := newFixture(t, def)

	_, err := fx.instances.Put(&panel.InstanceRecord{
		PanelID: "system",
		Target:  panel.TargetRef{ChannelID: "ch1", MessageID: "m1"},
		ScopeID: "g1",
		State:   "active",
	}, 1)
	if err != nil {
		t.Fatalf("seed Put: %v", err)
	}

	id := ident.Encode("system", panel.KindButton, "refresh")
	fx.router.HandleInteraction(nil, componentInteraction(id, "ch1", "m1"))

	rec, ok, err := fx.instances.Get("g1", "system")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if _, ok := rec.SessionData["last_response"]; !ok {
		t.Errorf("render not written back: %v", rec.SessionData)
	}
}

func TestOpenPanelRecordsAndReplaces(t *testing.T) {
	def := &testPanel{id: "system", persistent: true, unique: true}
	fx := newFixture(t, def)

	// A previous instance lives on another message.
	_, err := fx.instances.Put(&panel.InstanceRecord{
		PanelID: "system",
		Target:  panel.TargetRef{ChannelID: "ch1", MessageID: "old"},
		ScopeID: "g1",
		State:   "active",
	}, 1)
	if err != nil {
		t.Fatalf("seed Put: %v", err)
	}
	fx.nav.Put(panel.TargetRef{ChannelID: "ch1", MessageID: "old"}, []string{"system"}, panel.AccessDirect, "", nil)

	fx.ackFake.original = &discordgo.Message{ID: "new", ChannelID: "ch1"}
	ic := componentInteraction(ident.Encode("guilds", panel.KindButton, "pick"), "ch1", "listmsg")

	if err := fx.router.OpenPanel(nil, ic, "system", panel.AccessSystemList, "moderation"); err != nil {
		t.Fatalf("OpenPanel: %v", err)
	}

	rec, ok, err := fx.instances.Get("g1", "system")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if rec.Target.MessageID != "new" {
		t.Errorf("record target = %q, want the new message", rec.Target.MessageID)
	}
	if rec.AccessMethod != panel.AccessSystemList {
		t.Errorf("access method = %q", rec.AccessMethod)
	}

	if got := fx.resolver.deletedMessages(); len(got) != 1 || got[0] != "ch1:old" {
		t.Errorf("deleted = %v, want the replaced message retired", got)
	}
	if _, ok := fx.nav.Get(panel.TargetRef{ChannelID: "ch1", MessageID: "old"}); ok {
		t.Error("stale navigation context kept")
	}
	nav, ok := fx.nav.Get(panel.TargetRef{ChannelID: "ch1", MessageID: "new"})
	if !ok || nav.SourceCategory != "moderation" {
		t.Errorf("new navigation context = %+v", nav)
	}

	// The fresh render carries injected navigation controls.
	if len(fx.ackFake.responses) != 1 {
		t.Fatalf("responses = %d", len(fx.ackFake.responses))
	}
	if !render.ContainsCustomID(fx.ackFake.responses[0].Components, render.ReturnSystemID) {
		t.Error("back control not injected into listing-opened panel")
	}
}

func TestSlowOpenDefersAsChannelMessage(t *testing.T) {
	def := &testPanel{
		id: "system", persistent: true, unique: true,
		renderDelay: 4 * testDeferAfter,
	}
	fx := newFixture(t, def)
	fx.ackFake.original = &discordgo.Message{ID: "new", ChannelID: "ch1"}

	ic := &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{
			Type:      discordgo.InteractionApplicationCommand,
			GuildID:   "g1",
			ChannelID: "ch1",
			Member:    &discordgo.Member{User: &discordgo.User{ID: "u1"}},
		},
	}

	if err := fx.router.OpenPanel(nil, ic, "system", panel.AccessDirect, ""); err != nil {
		t.Fatalf("OpenPanel: %v", err)
	}

	if !fx.ackFake.deferred {
		t.Fatal("slow render must defer before the deadline")
	}
	if len(fx.ackFake.deferUpdates) != 1 || fx.ackFake.deferUpdates[0] {
		t.Errorf("deferUpdates = %v, command deferral must be a channel message, not an update", fx.ackFake.deferUpdates)
	}
	if len(fx.ackFake.edits) != 1 || len(fx.ackFake.responses) != 0 {
		t.Fatalf("edits=%d responses=%d, want one deferred edit",
			len(fx.ackFake.edits), len(fx.ackFake.responses))
	}
}

func TestNavCloseRetiresInstance(t *testing.T) {
	def := &testPanel{id: "system", persistent: true, unique: true}
	fx := newFixture(t, def)

	target := panel.TargetRef{ChannelID: "ch1", MessageID: "m1"}
	_, err := fx.instances.Put(&panel.InstanceRecord{
		PanelID: "system", Target: target, ScopeID: "g1", State: "active",
	}, 1)
	if err != nil {
		t.Fatalf("seed Put: %v", err)
	}
	fx.nav.Put(target, []string{"system"}, panel.AccessSystemList, "", nil)

	fx.router.HandleInteraction(nil, componentInteraction(render.CloseID, "ch1", "m1"))

	if !fx.ackFake.deferred {
		t.Error("close must acknowledge before deleting the message")
	}
	if got := fx.resolver.deletedMessages(); len(got) != 1 || got[0] != "ch1:m1" {
		t.Errorf("deleted = %v", got)
	}
	if _, ok, _ := fx.instances.Get("g1", "system"); ok {
		t.Error("durable record survived close")
	}
	if _, ok := fx.nav.Get(target); ok {
		t.Error("navigation context survived close")
	}
}

func TestNavReturnRendersListing(t *testing.T) {
	system := &testPanel{id: "system", persistent: true, unique: true}
	open := &testPanel{id: "audit_log", persistent: true}
	fx := newFixture(t, system, open)

	target := panel.TargetRef{ChannelID: "ch1", MessageID: "m1"}
	_, err := fx.instances.Put(&panel.InstanceRecord{
		PanelID: "audit_log", Target: target, ScopeID: "g1", State: "active",
	}, 1)
	if err != nil {
		t.Fatalf("seed Put: %v", err)
	}
	fx.nav.Put(target, []string{"system", "audit_log"}, panel.AccessSystemList, "moderation", nil)

	fx.router.HandleInteraction(nil, componentInteraction(render.ReturnSystemID, "ch1", "m1"))

	if len(fx.ackFake.responses) != 1 || !fx.ackFake.updates[0] {
		t.Fatalf("want one in-place listing response, got %+v", fx.ackFake.responses)
	}
	if fx.ackFake.responses[0].Content != "listing system" {
		t.Errorf("listing content = %q", fx.ackFake.responses[0].Content)
	}
	if _, ok, _ := fx.instances.Get("g1", "audit_log"); ok {
		t.Error("panel record survived return to listing")
	}
	nav, ok := fx.nav.Get(target)
	if !ok || len(nav.Stack) != 1 || nav.Stack[0] != "system" {
		t.Errorf("navigation context after return = %+v", nav)
	}
}
