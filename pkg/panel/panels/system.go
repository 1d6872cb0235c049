// Package panels ships the built-in panels: the system hub and the guild
// listing. They double as reference implementations for panel authors.
package panels

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/small-frappuccino/panelcore/pkg/panel"
	"github.com/small-frappuccino/panelcore/pkg/panel/ident"
	"github.com/small-frappuccino/panelcore/pkg/util"
)

// SystemPanelID is the system hub's panel id. The router's injected "back to
// system" control returns here.
const SystemPanelID = "system"

// SystemPanel is the persistent, single-instance system hub: runtime status,
// a refresh button and an operator note editable through a modal.
type SystemPanel struct {
	startedAt time.Time

	mu   sync.RWMutex
	note string
}

// NewSystemPanel creates the hub with an empty operator note.
func NewSystemPanel() *SystemPanel {
	return &SystemPanel{startedAt: time.Now()}
}

func (p *SystemPanel) ID() string       { return SystemPanelID }
func (p *SystemPanel) Persistent() bool { return true }
func (p *SystemPanel) Unique() bool     { return true }

func (p *SystemPanel) OnRender(ev *panel.Event) (*panel.Response, error) {
	p.mu.RLock()
	note := p.note
	p.mu.RUnlock()

	fields := []*discordgo.MessageEmbedField{
		{Name: "Version", Value: util.PanelcoreVersion, Inline: true},
		{Name: "Uptime", Value: time.Since(p.startedAt).Round(time.Second).String(), Inline: true},
		{Name: "Goroutines", Value: fmt.Sprintf("%d", runtime.NumGoroutine()), Inline: true},
	}
	if note != "" {
		fields = append(fields, &discordgo.MessageEmbedField{Name: "Operator note", Value: note})
	}

	embed := &discordgo.MessageEmbed{
		Title:     "System",
		Fields:    fields,
		Timestamp: time.Now().Format(time.RFC3339),
	}

	return &panel.Response{
		Embeds: []*discordgo.MessageEmbed{embed},
		Components: []discordgo.MessageComponent{
			discordgo.ActionsRow{Components: []discordgo.MessageComponent{
				discordgo.Button{
					CustomID: ident.Encode(SystemPanelID, panel.KindButton, "refresh"),
					Label:    "Refresh",
					Style:    discordgo.PrimaryButton,
				},
				discordgo.Button{
					CustomID: ident.Encode(SystemPanelID, panel.KindButton, "note_open"),
					Label:    "Edit note",
					Style:    discordgo.SecondaryButton,
				},
			}},
		},
	}, nil
}

func (p *SystemPanel) OnButton(ev *panel.Event) (panel.Result, error) {
	switch ev.ActionID {
	case "refresh":
		resp, err := p.OnRender(ev)
		if err != nil {
			return panel.Result{}, err
		}
		return panel.Respond(resp), nil

	case "note_open":
		p.mu.RLock()
		current := p.note
		p.mu.RUnlock()

		return panel.ShowModal(&panel.ModalRequest{
			CustomID: ident.Encode(SystemPanelID, panel.KindModal, "note"),
			Title:    "Operator note",
			Components: []discordgo.MessageComponent{
				discordgo.ActionsRow{Components: []discordgo.MessageComponent{
					discordgo.TextInput{
						CustomID:    "note",
						Label:       "Note",
						Style:       discordgo.TextInputShort,
						Placeholder: "Visible on the system panel",
						Value:       current,
						MaxLength:   200,
					},
				}},
			},
		}), nil
	}
	return panel.Result{}, fmt.Errorf("unknown system action %q", ev.ActionID)
}

func (p *SystemPanel) OnModal(ev *panel.Event) (panel.Result, error) {
	if ev.ActionID != "note" {
		return panel.Result{}, fmt.Errorf("unknown system modal %q", ev.ActionID)
	}

	p.mu.Lock()
	p.note = ev.ModalData["note"]
	p.mu.Unlock()

	resp, err := p.OnRender(ev)
	if err != nil {
		return panel.Result{}, err
	}
	return panel.Respond(resp), nil
}

// OnRecover re-renders the hub after a restart so mirrors and the durable
// store pick up the fresh uptime.
func (p *SystemPanel) OnRecover(ctx context.Context, rec *panel.InstanceRecord) (*panel.Response, error) {
	return p.OnRender(&panel.Event{Ctx: ctx, ScopeID: rec.ScopeID})
}
