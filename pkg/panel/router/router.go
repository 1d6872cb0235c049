// Package router dispatches inbound button, dropdown and modal interactions
// to registered panels. It owns the acknowledgment deadline race, stale
// instance rejection, navigation context recovery and the persistence and
// mirror side effects of a successful render.
package router

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/small-frappuccino/panelcore/pkg/discord/ack"
	"github.com/small-frappuccino/panelcore/pkg/log"
	"github.com/small-frappuccino/panelcore/pkg/panel"
	"github.com/small-frappuccino/panelcore/pkg/panel/ident"
	"github.com/small-frappuccino/panelcore/pkg/panel/instance"
	"github.com/small-frappuccino/panelcore/pkg/panel/navctx"
	"github.com/small-frappuccino/panelcore/pkg/panel/remote"
	"github.com/small-frappuccino/panelcore/pkg/panel/render"
	"github.com/small-frappuccino/panelcore/pkg/storage"
)

// The platform expects an acknowledgment within ~3s of delivering an
// interaction. DefaultDeferAfter leaves headroom inside that window: when the
// handler has not finished by then, the router consumes the first-response
// slot with a deferral and edits the real response in later.
const DefaultDeferAfter = 2500 * time.Millisecond

// User-facing notices. Kept generic on purpose: denied and failed
// interactions leak no detail.
const (
	msgNotFound     = "❌ This panel does not exist."
	msgDenied       = "❌ You do not have permission to use this panel."
	msgStale        = "⚠️ This panel is no longer active. Open a new one."
	msgHandlerError = "❌ An error occurred while handling this panel."
	msgModalTimeout = "⏳ The form took too long to prepare and could not be opened. Please try again."
)

// PermissionChecker gates panel access. Nil means allow-all.
type PermissionChecker interface {
	Allow(def panel.Definition, ev *panel.Event) bool
}

// PermissionFunc adapts a plain function to PermissionChecker.
type PermissionFunc func(def panel.Definition, ev *panel.Event) bool

// Allow implements PermissionChecker.
func (f PermissionFunc) Allow(def panel.Definition, ev *panel.Event) bool { return f(def, ev) }

// Broadcaster pushes neutral documents to remote mirror subscribers.
type Broadcaster interface {
	Broadcast(panelID, scopeID, sessionID string, doc *remote.Document)
}

// Config wires the router's collaborators.
type Config struct {
	Registry  *panel.Registry
	Nav       *navctx.Store
	Instances *instance.Store
	Resolver  ack.Resolver

	// Optional collaborators.
	Permissions PermissionChecker
	Hub         Broadcaster
	Audit       storage.Recorder

	// SystemListPanelID and GuildListPanelID are the panels the injected
	// "back" controls return to.
	SystemListPanelID string
	GuildListPanelID  string

	// DeferAfter overrides the acknowledgment race delay. Tests shrink it.
	DeferAfter time.Duration

	// AckFactory overrides acknowledger construction. Tests inject fakes.
	AckFactory func(s *discordgo.Session, i *discordgo.InteractionCreate) ack.Acknowledger
}

// Router is the panel interaction dispatcher.
type Router struct {
	cfg Config
}

// New creates a Router, filling config defaults.
func New(cfg Config) (*Router, error) {
	if cfg.Registry == nil || cfg.Nav == nil || cfg.Instances == nil {
		return nil, fmt.Errorf("router requires registry, nav store and instance store")
	}
	if cfg.DeferAfter <= 0 {
		cfg.DeferAfter = DefaultDeferAfter
	}
	if cfg.SystemListPanelID == "" {
		cfg.SystemListPanelID = "system"
	}
	if cfg.GuildListPanelID == "" {
		cfg.GuildListPanelID = "guilds"
	}
	if cfg.AckFactory == nil {
		cfg.AckFactory = func(s *discordgo.Session, i *discordgo.InteractionCreate) ack.Acknowledger {
			return ack.NewSessionAcknowledger(s, i)
		}
	}
	return &Router{cfg: cfg}, nil
}

// HandleInteraction is the discordgo handler entry point. Slash commands and
// autocompletes are not panel traffic and pass through untouched.
func (r *Router) HandleInteraction(s *discordgo.Session, ic *discordgo.InteractionCreate) {
	switch ic.Type {
	case discordgo.InteractionMessageComponent, discordgo.InteractionModalSubmit:
		r.dispatch(s, ic)
	}
}

type outcome struct {
	result panel.Result
	err    error
}

func (r *Router) dispatch(s *discordgo.Session, ic *discordgo.InteractionCreate) {
	started := time.Now()

	customID, values, modalData, kindHint := extractInteraction(ic)

	d, ok := ident.Decode(customID)
	if !ok {
		// Malformed identifiers are dropped silently; they are either foreign
		// components or corrupt, and neither warrants a user-visible error.
		log.PanelLogger().Debug("Dropping undecodable component id", "custom_id", customID)
		return
	}
	if kindHint == panel.KindModal {
		d.Kind = panel.KindModal
	}

	a := r.cfg.AckFactory(s, ic)
	target := panel.TargetRef{ChannelID: ic.ChannelID, MessageID: interactionMessageID(ic)}
	ev := r.buildEvent(s, ic, d.ActionID, values, modalData)

	if d.PanelID == render.NavPanelID {
		r.handleNav(a, ev, target, d.ActionID)
		return
	}

	def, ok := r.cfg.Registry.Get(d.PanelID)
	if !ok {
		r.replyEphemeral(a, msgNotFound)
		r.audit(d, ev, "not_found", false, started)
		return
	}

	// A unique panel only honors interactions on its current instance.
	if def.Unique() {
		cur, exists, err := r.cfg.Instances.Get(ev.ScopeID, d.PanelID)
		if err != nil {
			log.ErrorLoggerRaw().Error("Durable store read failed", "panel", d.PanelID, "err", err)
		} else if exists && cur.Target.MessageID != target.MessageID {
			r.replyEphemeral(a, msgStale)
			r.audit(d, ev, "stale", false, started)
			return
		}
	}

	ev.Nav = r.resolveNav(d.PanelID, target, ev.ScopeID, ic)

	if r.cfg.Permissions != nil && !r.cfg.Permissions.Allow(def, ev) {
		r.replyEphemeral(a, msgDenied)
		r.audit(d, ev, "denied", false, started)
		return
	}

	out := r.race(def, d.Kind, ev, a)
	deferred := a.Deferred()

	switch {
	case out.err != nil:
		log.ErrorLoggerRaw().Error("Panel handler failed",
			"panel", d.PanelID, "kind", string(d.Kind), "action", d.ActionID, "err", out.err)
		if deferred {
			if err := a.FollowUpEphemeral(msgHandlerError); err != nil {
				log.PanelLogger().Warn("Failed to deliver error follow-up", "panel", d.PanelID, "err", err)
			}
		} else {
			r.replyEphemeral(a, msgHandlerError)
		}
		r.audit(d, ev, "handler_error", deferred, started)

	case out.result.Kind == panel.ResultModal:
		r.finishModal(def, d, ev, a, target, out.result.Modal, deferred)
		r.audit(d, ev, "ok", deferred, started)

	case out.result.Kind == panel.ResultHandled, out.result.Response == nil:
		// Handler performed its own side effects (e.g. sent a file).
		r.audit(d, ev, "ok", deferred, started)

	default:
		r.finishResponse(def, d, ev, a, target, out.result.Response, deferred)
		r.audit(d, ev, "ok", deferred, started)
	}
}

// race runs the handler against the acknowledgment deadline. If the deadline
// wins, the router defers (consuming the first-response slot) and then waits
// for the handler however long it takes.
func (r *Router) race(def panel.Definition, kind panel.ActionKind, ev *panel.Event, a ack.Acknowledger) outcome {
	resCh := make(chan outcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				resCh <- outcome{err: fmt.Errorf("handler panic: %v", p)}
			}
		}()
		res, err := invokeHandler(def, kind, ev)
		resCh <- outcome{result: res, err: err}
	}()

	timer := time.NewTimer(r.cfg.DeferAfter)
	defer timer.Stop()

	select {
	case out := <-resCh:
		return out
	case <-timer.C:
		if err := a.Defer(true, false); err != nil {
			log.PanelLogger().Warn("Deferral failed", "panel", def.ID(), "err", err)
		}
		return <-resCh
	}
}

func invokeHandler(def panel.Definition, kind panel.ActionKind, ev *panel.Event) (panel.Result, error) {
	switch kind {
	case panel.KindButton:
		if h, ok := def.(panel.ButtonHandler); ok {
			return h.OnButton(ev)
		}
	case panel.KindDropdown:
		if h, ok := def.(panel.DropdownHandler); ok {
			return h.OnDropdown(ev)
		}
	case panel.KindModal:
		if h, ok := def.(panel.ModalHandler); ok {
			return h.OnModal(ev)
		}
	}
	return panel.Result{}, fmt.Errorf("panel %q has no %s handler", def.ID(), kind)
}

// finishModal shows the modal when the first-response slot is still free.
// After a deferral the modal can no longer be honored and degrades to an
// ordinary edited response; a known ordering constraint of the platform.
func (r *Router) finishModal(def panel.Definition, d ident.Decoded, ev *panel.Event, a ack.Acknowledger, target panel.TargetRef, m *panel.ModalRequest, deferred bool) {
	if !deferred {
		if err := a.ShowModal(m); err != nil {
			log.ErrorLoggerRaw().Error("Modal acknowledgment failed", "panel", d.PanelID, "err", err)
		}
		return
	}

	degraded := &panel.Response{Content: "📝 " + m.Title + "\n" + msgModalTimeout}
	if err := a.Edit(degraded); err != nil {
		log.PanelLogger().Warn("Degraded modal edit failed", "panel", d.PanelID, "err", err)
	}
}

func (r *Router) finishResponse(def panel.Definition, d ident.Decoded, ev *panel.Event, a ack.Acknowledger, target panel.TargetRef, resp *panel.Response, deferred bool) {
	resp = render.Inject(resp, ev.Nav)

	var err error
	if deferred {
		err = a.Edit(resp)
	} else {
		// Non-ephemeral responses edit the panel message in place; ephemeral
		// ones are fresh replies.
		err = a.Respond(resp, !resp.Ephemeral)
	}
	if err != nil {
		log.ErrorLoggerRaw().Error("Response acknowledgment failed", "panel", d.PanelID, "err", err)
		return
	}

	r.cfg.Nav.UpdateState(target, ev.Nav.PanelState)

	var sessionID string
	if def.Persistent() && ev.Nav.AccessMethod != panel.AccessRemoteMirror && !resp.Ephemeral {
		sessionID = r.persistRender(def, ev, target, resp)
	}

	if r.cfg.Hub != nil {
		r.cfg.Hub.Broadcast(d.PanelID, ev.ScopeID, sessionID, remote.Serialize(resp))
	}
}

// persistRender updates the durable record backing this render target, or
// creates one when the record was lost. Returns the record's session id.
func (r *Router) persistRender(def panel.Definition, ev *panel.Event, target panel.TargetRef, resp *panel.Response) string {
	rec, ok := r.findByTarget(ev.ScopeID, def.ID(), target)
	extra := map[string]any{"last_response": remote.Serialize(resp)}

	if ok {
		if err := r.cfg.Instances.UpdateState(ev.ScopeID, def.ID(), rec.SessionID, "active", extra); err != nil {
			log.ErrorLoggerRaw().Error("Durable store update failed", "panel", def.ID(), "err", err)
		}
		return rec.SessionID
	}

	fresh := &panel.InstanceRecord{
		PanelID:      def.ID(),
		Target:       target,
		OwnerUserID:  ev.UserID,
		ScopeID:      ev.ScopeID,
		State:        "active",
		SessionData:  extra,
		AccessMethod: ev.Nav.AccessMethod,
	}
	if _, err := r.cfg.Instances.Put(fresh, panel.MaxInstances(def)); err != nil {
		log.ErrorLoggerRaw().Error("Durable store write failed", "panel", def.ID(), "err", err)
	}
	return ""
}

func (r *Router) findByTarget(scopeID, panelID string, target panel.TargetRef) (*panel.InstanceRecord, bool) {
	recs, err := r.cfg.Instances.Records(scopeID)
	if err != nil {
		log.ErrorLoggerRaw().Error("Durable store scan failed", "scope", scopeID, "err", err)
		return nil, false
	}
	for _, rec := range recs {
		if rec.PanelID == panelID && rec.Target == target {
			return rec, true
		}
	}
	return nil, false
}

// resolveNav loads the navigation context, or reconstructs one. The durable
// record's access method wins over the sentinel scan of the rendered message.
func (r *Router) resolveNav(panelID string, target panel.TargetRef, scopeID string, ic *discordgo.InteractionCreate) *panel.NavigationContext {
	if nav, ok := r.cfg.Nav.Get(target); ok {
		return nav
	}

	access := panel.AccessDirect
	if rec, ok := r.findByTarget(scopeID, panelID, target); ok && rec.AccessMethod != "" {
		access = rec.AccessMethod
	} else if ic.Message != nil {
		access = render.InferAccessMethod(ic.Message.Components)
	}

	r.cfg.Nav.Put(target, []string{panelID}, access, "", nil)
	nav, _ := r.cfg.Nav.Get(target)
	return nav
}

func (r *Router) buildEvent(s *discordgo.Session, ic *discordgo.InteractionCreate, actionID string, values []string, modalData map[string]string) *panel.Event {
	userID := ""
	if ic.Member != nil && ic.Member.User != nil {
		userID = ic.Member.User.ID
	} else if ic.User != nil {
		userID = ic.User.ID
	}

	scope := ic.GuildID
	if scope == "" {
		scope = panel.GlobalScope
	}

	return &panel.Event{
		Ctx:         context.Background(),
		Session:     s,
		Interaction: ic,
		GuildID:     ic.GuildID,
		UserID:      userID,
		ScopeID:     scope,
		ActionID:    actionID,
		Values:      values,
		ModalData:   modalData,
	}
}

func (r *Router) replyEphemeral(a ack.Acknowledger, content string) {
	err := a.Respond(&panel.Response{Content: content, Ephemeral: true}, false)
	if err != nil {
		log.PanelLogger().Warn("Ephemeral notice failed", "err", err)
	}
}

func (r *Router) audit(d ident.Decoded, ev *panel.Event, result string, deferred bool, started time.Time) {
	if r.cfg.Audit == nil {
		return
	}
	entry := storage.Entry{
		Timestamp:  started,
		PanelID:    d.PanelID,
		ActionKind: string(d.Kind),
		ActionID:   d.ActionID,
		GuildID:    ev.GuildID,
		UserID:     ev.UserID,
		Outcome:    result,
		Deferred:   deferred,
		DurationMS: time.Since(started).Milliseconds(),
	}
	go func() {
		if err := r.cfg.Audit.Record(entry); err != nil {
			log.PanelLogger().Warn("Audit write failed", "panel", entry.PanelID, "err", err)
		}
	}()
}

func extractInteraction(ic *discordgo.InteractionCreate) (customID string, values []string, modalData map[string]string, kind panel.ActionKind) {
	switch ic.Type {
	case discordgo.InteractionMessageComponent:
		data := ic.MessageComponentData()
		return data.CustomID, data.Values, nil, panel.KindButton
	case discordgo.InteractionModalSubmit:
		data := ic.ModalSubmitData()
		return data.CustomID, nil, collectTextInputs(data.Components), panel.KindModal
	}
	return "", nil, nil, ""
}

// collectTextInputs flattens a modal submission into custom id -> value.
func collectTextInputs(components []discordgo.MessageComponent) map[string]string {
	out := make(map[string]string)
	var walk func([]discordgo.MessageComponent)
	walk = func(cs []discordgo.MessageComponent) {
		for _, c := range cs {
			switch v := c.(type) {
			case *discordgo.ActionsRow:
				walk(v.Components)
			case discordgo.ActionsRow:
				walk(v.Components)
			case *discordgo.TextInput:
				out[v.CustomID] = v.Value
			case discordgo.TextInput:
				out[v.CustomID] = v.Value
			}
		}
	}
	walk(components)
	return out
}

func interactionMessageID(ic *discordgo.InteractionCreate) string {
	if ic.Message != nil {
		return ic.Message.ID
	}
	return ""
}
