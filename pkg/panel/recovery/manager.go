// Package recovery rebuilds panel runtime state after a restart. It walks the
// durable instance store, prunes records whose rendered messages no longer
// exist, re-attaches navigation contexts and gives panels a chance to refresh
// their recovered instances.
package recovery

import (
	"context"
	"sync"

	"github.com/small-frappuccino/panelcore/pkg/discord/ack"
	"github.com/small-frappuccino/panelcore/pkg/log"
	"github.com/small-frappuccino/panelcore/pkg/panel"
	"github.com/small-frappuccino/panelcore/pkg/panel/instance"
	"github.com/small-frappuccino/panelcore/pkg/panel/navctx"
	"github.com/small-frappuccino/panelcore/pkg/panel/remote"
)

// Broadcaster pushes refreshed documents to remote mirror subscribers.
type Broadcaster interface {
	Broadcast(panelID, scopeID, sessionID string, doc *remote.Document)
}

// Stats summarizes one recovery pass.
type Stats struct {
	Scanned   int
	Recovered int
	Pruned    int
	Failed    int
}

// Manager runs the startup recovery pass.
type Manager struct {
	registry  *panel.Registry
	instances *instance.Store
	nav       *navctx.Store
	resolver  ack.Resolver
	hub       Broadcaster
}

// NewManager wires a recovery pass. hub may be nil.
func NewManager(registry *panel.Registry, instances *instance.Store, nav *navctx.Store, resolver ack.Resolver, hub Broadcaster) *Manager {
	return &Manager{
		registry:  registry,
		instances: instances,
		nav:       nav,
		resolver:  resolver,
		hub:       hub,
	}
}

// Run scans every scope and recovers or prunes each record. Record-level
// failures are isolated: one broken record never aborts the pass. Panel
// refreshes run in the background; Run returns once every record has been
// classified, and the returned context governs the stragglers.
func (m *Manager) Run(ctx context.Context) (Stats, error) {
	var stats Stats

	scopes, err := m.instances.Scopes()
	if err != nil {
		return stats, err
	}

	var refreshes sync.WaitGroup
	for _, scopeID := range scopes {
		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		default:
		}

		recs, err := m.instances.Records(scopeID)
		if err != nil {
			log.ErrorLoggerRaw().Error("Recovery scan failed", "scope", scopeID, "err", err)
			stats.Failed++
			continue
		}

		for _, rec := range recs {
			stats.Scanned++
			m.recoverRecord(ctx, scopeID, rec, &stats, &refreshes)
		}
	}
	refreshes.Wait()

	log.PanelLogger().Info("Recovery pass complete",
		"scanned", stats.Scanned, "recovered", stats.Recovered,
		"pruned", stats.Pruned, "failed", stats.Failed)
	return stats, nil
}

func (m *Manager) recoverRecord(ctx context.Context, scopeID string, rec *panel.InstanceRecord, stats *Stats, refreshes *sync.WaitGroup) {
	def, registered := m.registry.Get(rec.PanelID)
	if !registered {
		log.PanelLogger().Warn("Pruning record of unregistered panel", "panel", rec.PanelID, "scope", scopeID)
		m.prune(scopeID, rec, stats)
		return
	}

	if _, err := m.resolver.Channel(rec.Target.ChannelID); err != nil {
		if ack.IsUnknownChannel(err) {
			m.prune(scopeID, rec, stats)
			return
		}
		log.ErrorLoggerRaw().Error("Channel resolution failed during recovery",
			"panel", rec.PanelID, "channel", rec.Target.ChannelID, "err", err)
		stats.Failed++
		return
	}

	if _, err := m.resolver.Message(rec.Target.ChannelID, rec.Target.MessageID); err != nil {
		if ack.IsUnknownMessage(err) || ack.IsUnknownChannel(err) {
			m.prune(scopeID, rec, stats)
			return
		}
		log.ErrorLoggerRaw().Error("Message resolution failed during recovery",
			"panel", rec.PanelID, "message", rec.Target.MessageID, "err", err)
		stats.Failed++
		return
	}

	access := rec.AccessMethod
	if access == "" {
		access = panel.AccessDirect
	}
	m.nav.Put(rec.Target, []string{rec.PanelID}, access, "", nil)

	err := m.instances.UpdateState(scopeID, rec.PanelID, rec.SessionID, "active", map[string]any{"recovered": true})
	if err != nil {
		log.ErrorLoggerRaw().Error("Recovery writeback failed", "panel", rec.PanelID, "err", err)
		stats.Failed++
		return
	}
	stats.Recovered++

	if ref, ok := def.(panel.Refresher); ok {
		snapshot := rec.Clone()
		refreshes.Add(1)
		go func() {
			defer refreshes.Done()
			m.refresh(ctx, ref, scopeID, snapshot)
		}()
	}
}

// refresh runs a panel's post-recovery render. The refreshed document is
// written back and broadcast; the platform message stays untouched.
func (m *Manager) refresh(ctx context.Context, ref panel.Refresher, scopeID string, rec *panel.InstanceRecord) {
	resp, err := ref.OnRecover(ctx, rec)
	if err != nil {
		log.PanelLogger().Warn("Panel refresh failed", "panel", rec.PanelID, "err", err)
		return
	}
	if resp == nil {
		return
	}

	doc := remote.Serialize(resp)
	err = m.instances.UpdateState(scopeID, rec.PanelID, rec.SessionID, "active", map[string]any{"last_response": doc})
	if err != nil {
		log.ErrorLoggerRaw().Error("Refresh writeback failed", "panel", rec.PanelID, "err", err)
	}
	if m.hub != nil {
		m.hub.Broadcast(rec.PanelID, scopeID, rec.SessionID, doc)
	}
}

func (m *Manager) prune(scopeID string, rec *panel.InstanceRecord, stats *Stats) {
	if err := m.instances.Remove(scopeID, rec.PanelID, rec.SessionID); err != nil {
		log.ErrorLoggerRaw().Error("Prune failed", "panel", rec.PanelID, "scope", scopeID, "err", err)
		stats.Failed++
		return
	}
	m.nav.Delete(rec.Target)
	stats.Pruned++
	log.PanelLogger().Info("Pruned stale panel record",
		"panel", rec.PanelID, "channel", rec.Target.ChannelID, "message", rec.Target.MessageID)
}
