package router

import (
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/google/uuid"

	"github.com/small-frappuccino/panelcore/pkg/discord/ack"
	"github.com/small-frappuccino/panelcore/pkg/log"
	"github.com/small-frappuccino/panelcore/pkg/panel"
	"github.com/small-frappuccino/panelcore/pkg/panel/ident"
	"github.com/small-frappuccino/panelcore/pkg/panel/remote"
	"github.com/small-frappuccino/panelcore/pkg/panel/render"
)

// OpenPanel renders a panel for the first time in response to an interaction
// (typically a listing selection or a slash command) and, for persistent
// panels, records the durable instance backing the rendered message.
//
// When a unique panel already has a live instance elsewhere, the old message
// is retired and the new render becomes the single authoritative instance.
func (r *Router) OpenPanel(s *discordgo.Session, ic *discordgo.InteractionCreate, panelID string, access panel.AccessMethod, sourceCategory string) error {
	started := time.Now()
	d := ident.Decoded{PanelID: panelID, Kind: panel.KindButton, ActionID: "open"}

	def, ok := r.cfg.Registry.Get(panelID)
	if !ok {
		return fmt.Errorf("panel %q is not registered", panelID)
	}

	a := r.cfg.AckFactory(s, ic)
	ev := r.buildEvent(s, ic, "open", nil, nil)
	ev.Nav = &panel.NavigationContext{
		Stack:          []string{panelID},
		AccessMethod:   access,
		SourceCategory: sourceCategory,
	}

	if r.cfg.Permissions != nil && !r.cfg.Permissions.Allow(def, ev) {
		r.replyEphemeral(a, msgDenied)
		r.audit(d, ev, "denied", false, started)
		return panel.ErrPermissionDenied
	}

	// The fast path replies with a fresh message, so a deadline loss must
	// defer as a channel message, never as a message update. Application
	// command interactions reject update deferrals outright.
	resp, err := r.raceRender(def, ev, a, false)
	deferred := a.Deferred()
	if err != nil {
		if deferred {
			if ferr := a.FollowUpEphemeral(msgHandlerError); ferr != nil {
				log.PanelLogger().Warn("Failed to deliver error follow-up", "panel", panelID, "err", ferr)
			}
		} else {
			r.replyEphemeral(a, msgHandlerError)
		}
		r.audit(d, ev, "handler_error", deferred, started)
		return err
	}

	resp = render.Inject(resp, ev.Nav)

	if deferred {
		err = a.Edit(resp)
	} else {
		err = a.Respond(resp, false)
	}
	if err != nil {
		r.audit(d, ev, "ack_error", deferred, started)
		return fmt.Errorf("acknowledging panel %q: %w", panelID, err)
	}

	var sessionID string
	if def.Persistent() && access != panel.AccessRemoteMirror && !resp.Ephemeral {
		sessionID = r.recordOpen(def, ev, a, access, sourceCategory, resp)
	}

	if r.cfg.Hub != nil {
		r.cfg.Hub.Broadcast(panelID, ev.ScopeID, sessionID, remote.Serialize(resp))
	}

	r.audit(d, ev, "ok", deferred, started)
	return nil
}

// recordOpen persists the freshly rendered instance and retires a replaced
// one. Returns the new instance's session id, if any.
func (r *Router) recordOpen(def panel.Definition, ev *panel.Event, a ack.Acknowledger, access panel.AccessMethod, sourceCategory string, resp *panel.Response) string {
	msg, err := a.OriginalMessage()
	if err != nil {
		log.ErrorLoggerRaw().Error("Render target lookup failed", "panel", def.ID(), "err", err)
		return ""
	}
	target := panel.TargetRef{ChannelID: msg.ChannelID, MessageID: msg.ID}

	max := panel.MaxInstances(def)
	rec := &panel.InstanceRecord{
		PanelID:      def.ID(),
		Target:       target,
		OwnerUserID:  ev.UserID,
		ScopeID:      ev.ScopeID,
		State:        "active",
		SessionData:  map[string]any{"last_response": remote.Serialize(resp)},
		AccessMethod: access,
	}
	if max > 1 {
		rec.SessionID = uuid.NewString()
	}

	res, err := r.cfg.Instances.Put(rec, max)
	if err != nil {
		log.ErrorLoggerRaw().Error("Durable store write failed", "panel", def.ID(), "err", err)
		return rec.SessionID
	}

	if res.Replaced != nil && r.cfg.Resolver != nil {
		old := res.Replaced.Target
		if old != target {
			derr := r.cfg.Resolver.DeleteMessage(old.ChannelID, old.MessageID)
			if derr != nil && !ack.IsUnknownMessage(derr) && !ack.IsUnknownChannel(derr) {
				log.PanelLogger().Warn("Replaced panel message delete failed",
					"channel", old.ChannelID, "message", old.MessageID, "err", derr)
			}
			r.cfg.Nav.Delete(old)
		}
	}

	r.cfg.Nav.Put(target, []string{def.ID()}, access, sourceCategory, nil)
	return rec.SessionID
}
