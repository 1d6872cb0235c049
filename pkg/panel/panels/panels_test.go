package panels

import (
	"context"
	"fmt"
	"testing"

	"github.com/small-frappuccino/panelcore/pkg/panel"
	"github.com/small-frappuccino/panelcore/pkg/panel/ident"
	"github.com/small-frappuccino/panelcore/pkg/panel/render"
)

func eventWithNav() *panel.Event {
	return &panel.Event{
		Ctx: context.Background(),
		Nav: &panel.NavigationContext{AccessMethod: panel.AccessDirect},
	}
}

func TestSystemPanelRender(t *testing.T) {
	p := NewSystemPanel()

	resp, err := p.OnRender(eventWithNav())
	if err != nil {
		t.Fatalf("OnRender: %v", err)
	}
	if len(resp.Embeds) != 1 {
		t.Fatalf("embeds = %d, want 1", len(resp.Embeds))
	}

	refreshID := ident.Encode(SystemPanelID, panel.KindButton, "refresh")
	if !render.ContainsCustomID(resp.Components, refreshID) {
		t.Error("refresh button missing")
	}
}

func TestSystemPanelNoteFlow(t *testing.T) {
	p := NewSystemPanel()

	ev := eventWithNav()
	ev.ActionID = "note_open"
	res, err := p.OnButton(ev)
	if err != nil {
		t.Fatalf("OnButton: %v", err)
	}
	if res.Kind != panel.ResultModal || res.Modal.Title != "Operator note" {
		t.Fatalf("result = %+v, want the note modal", res)
	}

	submit := eventWithNav()
	submit.ActionID = "note"
	submit.ModalData = map[string]string{"note": "maintenance at noon"}
	res, err = p.OnModal(submit)
	if err != nil {
		t.Fatalf("OnModal: %v", err)
	}
	if res.Kind != panel.ResultResponse {
		t.Fatalf("result kind = %v", res.Kind)
	}

	found := false
	for _, f := range res.Response.Embeds[0].Fields {
		if f.Name == "Operator note" && f.Value == "maintenance at noon" {
			found = true
		}
	}
	if !found {
		t.Error("note not rendered into the embed")
	}
}

func TestSystemPanelUnknownAction(t *testing.T) {
	p := NewSystemPanel()
	ev := eventWithNav()
	ev.ActionID = "bogus"
	if _, err := p.OnButton(ev); err == nil {
		t.Error("expected error for unknown action")
	}
}

func fixedGuilds(n int) GuildSource {
	guilds := make([]GuildInfo, n)
	for i := range guilds {
		guilds[i] = GuildInfo{
			ID:      fmt.Sprintf("g%02d", i),
			Name:    fmt.Sprintf("Guild %02d", i),
			Members: 10 * (i + 1),
		}
	}
	return func() []GuildInfo { return guilds }
}

func TestGuildsPanelPagination(t *testing.T) {
	p := NewGuildsPanel(fixedGuilds(25))

	ev := eventWithNav()
	resp, err := p.OnRender(ev)
	if err != nil {
		t.Fatalf("OnRender: %v", err)
	}
	if got := len(resp.Embeds[0].Fields); got != guildsPerPage {
		t.Errorf("first page fields = %d, want %d", got, guildsPerPage)
	}
	if resp.Embeds[0].Footer.Text != "Page 1 of 3" {
		t.Errorf("footer = %q", resp.Embeds[0].Footer.Text)
	}

	ev.ActionID = "page_next"
	res, err := p.OnButton(ev)
	if err != nil {
		t.Fatalf("OnButton: %v", err)
	}
	if res.Response.Embeds[0].Footer.Text != "Page 2 of 3" {
		t.Errorf("footer after next = %q", res.Response.Embeds[0].Footer.Text)
	}
	if ev.Nav.PanelState["page"] != 1 {
		t.Errorf("panel state page = %v, want 1", ev.Nav.PanelState["page"])
	}

	// Last page holds the remainder.
	ev.Nav.PanelState["page"] = 2
	resp, err = p.OnRender(ev)
	if err != nil {
		t.Fatalf("OnRender page 3: %v", err)
	}
	if got := len(resp.Embeds[0].Fields); got != 5 {
		t.Errorf("last page fields = %d, want 5", got)
	}
}

func TestGuildsPanelPageClamped(t *testing.T) {
	p := NewGuildsPanel(fixedGuilds(5))

	ev := eventWithNav()
	ev.Nav.PanelState = map[string]any{"page": float64(9)}
	resp, err := p.OnRender(ev)
	if err != nil {
		t.Fatalf("OnRender: %v", err)
	}
	if resp.Embeds[0].Footer.Text != "Page 1 of 1" {
		t.Errorf("footer = %q, want clamped to the only page", resp.Embeds[0].Footer.Text)
	}
}

func TestGuildsPanelPick(t *testing.T) {
	p := NewGuildsPanel(fixedGuilds(3))

	ev := eventWithNav()
	ev.ActionID = "pick"
	ev.Values = []string{"g01"}
	res, err := p.OnDropdown(ev)
	if err != nil {
		t.Fatalf("OnDropdown: %v", err)
	}
	if !res.Response.Ephemeral {
		t.Error("guild detail must be ephemeral")
	}
	if res.Response.Embeds[0].Title != "Guild 01" {
		t.Errorf("detail title = %q", res.Response.Embeds[0].Title)
	}

	ev.Values = []string{"vanished"}
	res, err = p.OnDropdown(ev)
	if err != nil {
		t.Fatalf("OnDropdown vanished: %v", err)
	}
	if res.Response.Content == "" || !res.Response.Ephemeral {
		t.Errorf("want ephemeral warning, got %+v", res.Response)
	}
}
