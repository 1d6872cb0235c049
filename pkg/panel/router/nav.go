package router

import (
	"fmt"
	"time"

	"github.com/small-frappuccino/panelcore/pkg/discord/ack"
	"github.com/small-frappuccino/panelcore/pkg/log"
	"github.com/small-frappuccino/panelcore/pkg/panel"
)

// Nav pseudo-panel actions, carried by the injected controls.
const (
	navActionClose        = "close"
	navActionReturnSystem = "return_system"
	navActionReturnGuilds = "return_guilds"
)

// handleNav services the injected return/close controls. These never reach a
// panel definition; the router owns them.
func (r *Router) handleNav(a ack.Acknowledger, ev *panel.Event, target panel.TargetRef, actionID string) {
	switch actionID {
	case navActionClose:
		r.closePanel(a, ev, target)
	case navActionReturnSystem:
		r.returnToList(a, ev, target, r.cfg.SystemListPanelID)
	case navActionReturnGuilds:
		r.returnToList(a, ev, target, r.cfg.GuildListPanelID)
	default:
		log.PanelLogger().Debug("Unknown nav action dropped", "action", actionID)
	}
}

// closePanel tears the rendered message down and retires its durable record
// and navigation context.
func (r *Router) closePanel(a ack.Acknowledger, ev *panel.Event, target panel.TargetRef) {
	// Acknowledge before the message disappears; the interaction still
	// demands a response even when its message is about to be deleted.
	if err := a.Defer(true, false); err != nil {
		log.PanelLogger().Warn("Close deferral failed", "err", err)
	}

	if r.cfg.Resolver != nil && target.MessageID != "" {
		err := r.cfg.Resolver.DeleteMessage(target.ChannelID, target.MessageID)
		if err != nil && !ack.IsUnknownMessage(err) && !ack.IsUnknownChannel(err) {
			log.PanelLogger().Warn("Panel message delete failed",
				"channel", target.ChannelID, "message", target.MessageID, "err", err)
		}
	}

	recs, err := r.cfg.Instances.Records(ev.ScopeID)
	if err != nil {
		log.ErrorLoggerRaw().Error("Durable store scan failed", "scope", ev.ScopeID, "err", err)
	} else {
		for _, rec := range recs {
			if rec.Target == target {
				if err := r.cfg.Instances.Remove(ev.ScopeID, rec.PanelID, rec.SessionID); err != nil {
					log.ErrorLoggerRaw().Error("Durable record removal failed",
						"panel", rec.PanelID, "err", err)
				}
			}
		}
	}

	r.cfg.Nav.Delete(target)
	log.PanelLogger().Info("Panel closed", "channel", target.ChannelID, "message", target.MessageID)
}

// returnToList replaces the current panel message with the listing panel that
// originally opened it.
func (r *Router) returnToList(a ack.Acknowledger, ev *panel.Event, target panel.TargetRef, listID string) {
	def, ok := r.cfg.Registry.Get(listID)
	if !ok {
		r.replyEphemeral(a, msgNotFound)
		return
	}

	// The listing panel itself gets no injected controls.
	ev.Nav = &panel.NavigationContext{Stack: []string{listID}, AccessMethod: panel.AccessDirect}
	if prev, ok := r.cfg.Nav.Get(target); ok {
		ev.Nav.SourceCategory = prev.SourceCategory
	}

	resp, err := r.raceRender(def, ev, a, true)
	deferred := a.Deferred()
	if err != nil {
		log.ErrorLoggerRaw().Error("Listing render failed", "panel", listID, "err", err)
		if deferred {
			if ferr := a.FollowUpEphemeral(msgHandlerError); ferr != nil {
				log.PanelLogger().Warn("Failed to deliver error follow-up", "err", ferr)
			}
		} else {
			r.replyEphemeral(a, msgHandlerError)
		}
		return
	}

	if deferred {
		err = a.Edit(resp)
	} else {
		err = a.Respond(resp, true)
	}
	if err != nil {
		log.ErrorLoggerRaw().Error("Listing acknowledgment failed", "panel", listID, "err", err)
		return
	}

	// The message now shows the listing: retire the old panel's durable
	// record and repoint the navigation context.
	recs, rerr := r.cfg.Instances.Records(ev.ScopeID)
	if rerr == nil {
		for _, rec := range recs {
			if rec.Target == target {
				if err := r.cfg.Instances.Remove(ev.ScopeID, rec.PanelID, rec.SessionID); err != nil {
					log.ErrorLoggerRaw().Error("Durable record removal failed",
						"panel", rec.PanelID, "err", err)
				}
			}
		}
	}
	r.cfg.Nav.Put(target, []string{listID}, panel.AccessDirect, ev.Nav.SourceCategory, nil)
}

// raceRender runs OnRender against the acknowledgment deadline, mirroring the
// handler race. update selects the deferral type and must match how the
// caller acknowledges the fast path: a deferred message update is only valid
// for component interactions that edit their own message in place.
func (r *Router) raceRender(def panel.Definition, ev *panel.Event, a ack.Acknowledger, update bool) (*panel.Response, error) {
	type renderOut struct {
		resp *panel.Response
		err  error
	}
	ch := make(chan renderOut, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				ch <- renderOut{err: fmt.Errorf("render panic: %v", p)}
			}
		}()
		resp, err := def.OnRender(ev)
		ch <- renderOut{resp: resp, err: err}
	}()

	timer := time.NewTimer(r.cfg.DeferAfter)
	defer timer.Stop()

	select {
	case out := <-ch:
		return out.resp, out.err
	case <-timer.C:
		if err := a.Defer(update, false); err != nil {
			log.PanelLogger().Warn("Deferral failed", "panel", def.ID(), "err", err)
		}
		out := <-ch
		return out.resp, out.err
	}
}
