package ident

import (
	"testing"

	"github.com/small-frappuccino/panelcore/pkg/panel"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []struct {
		panelID  string
		kind     panel.ActionKind
		actionID string
	}{
		{"system", panel.KindButton, "refresh"},
		{"config_editor", panel.KindButton, "save"},
		{"guild_panel_list", panel.KindDropdown, "select_panel"},
		{"system", panel.KindModal, "note"},
		{"files", panel.KindDropdown, "select_1234_5678"},
	}

	for _, tc := range cases {
		s := Encode(tc.panelID, tc.kind, tc.actionID)
		d, ok := Decode(s)
		if !ok {
			t.Fatalf("Decode(%q) failed", s)
		}
		if d.PanelID != tc.panelID || d.Kind != tc.kind || d.ActionID != tc.actionID {
			t.Fatalf("Decode(%q) = %+v, want {%s %s %s}", s, d, tc.panelID, tc.kind, tc.actionID)
		}
	}
}

func TestDecodeFailures(t *testing.T) {
	cases := []string{
		"",
		"panel",
		"panel_system",              // no keyword
		"panel_system_refresh",      // no keyword
		"panel_system_btn",          // keyword is last token
		"panels_system_btn_refresh", // wrong prefix
		"other_system_btn_refresh",
		"btn_refresh",
	}

	for _, s := range cases {
		if d, ok := Decode(s); ok {
			t.Fatalf("Decode(%q) = %+v, want failure", s, d)
		}
	}
}

func TestDecodeFirstKeywordWins(t *testing.T) {
	// An action id may contain a later keyword token; the first one splits.
	d, ok := Decode("panel_system_btn_modal_open")
	if !ok {
		t.Fatal("expected decode to succeed")
	}
	if d.PanelID != "system" || d.Kind != panel.KindButton || d.ActionID != "modal_open" {
		t.Fatalf("unexpected decode result: %+v", d)
	}
}

func TestIsPanelID(t *testing.T) {
	s := Encode("guilds", panel.KindButton, "page_next")
	if !IsPanelID(s, "guilds") {
		t.Fatalf("expected %q to match panel guilds", s)
	}
	if IsPanelID(s, "system") {
		t.Fatalf("did not expect %q to match panel system", s)
	}
	if IsPanelID("garbage", "guilds") {
		t.Fatal("garbage must not match any panel")
	}
}
