// Package ident encodes and decodes the composite action identifiers carried
// in component custom ids: panel_{panelId}_{kind}_{actionId}.
//
// Panel ids may contain underscores. Decoding resolves the split by locating
// the first occurrence of a reserved kind keyword (btn, dropdown, modal) as a
// bare token after the mandatory panel prefix. A panel or action id that
// itself contains a reserved keyword as a bare token cannot round-trip; that
// is a documented limitation of the identifier convention.
package ident

import (
	"strings"

	"github.com/small-frappuccino/panelcore/pkg/panel"
)

const prefix = "panel"

// Encode builds a composite action identifier.
func Encode(panelID string, kind panel.ActionKind, actionID string) string {
	return prefix + "_" + panelID + "_" + string(kind) + "_" + actionID
}

// Decoded is the tagged result of a successful decode.
type Decoded struct {
	PanelID  string
	Kind     panel.ActionKind
	ActionID string
}

// Decode splits a composite identifier. It returns ok=false, never panics,
// when the string does not begin with the panel prefix, contains no reserved
// kind keyword, or the keyword is the last token (no action id follows).
func Decode(s string) (Decoded, bool) {
	tokens := strings.Split(s, "_")
	if len(tokens) < 3 || tokens[0] != prefix {
		return Decoded{}, false
	}

	for i := 1; i < len(tokens); i++ {
		kind, reserved := reservedKind(tokens[i])
		if !reserved {
			continue
		}
		if i == len(tokens)-1 {
			// Keyword with no action id following.
			return Decoded{}, false
		}
		return Decoded{
			PanelID:  strings.Join(tokens[1:i], "_"),
			Kind:     kind,
			ActionID: strings.Join(tokens[i+1:], "_"),
		}, true
	}

	return Decoded{}, false
}

// IsPanelID reports whether the identifier routes to the given panel.
func IsPanelID(s, panelID string) bool {
	d, ok := Decode(s)
	return ok && d.PanelID == panelID
}

func reservedKind(token string) (panel.ActionKind, bool) {
	switch token {
	case string(panel.KindButton):
		return panel.KindButton, true
	case string(panel.KindDropdown):
		return panel.KindDropdown, true
	case string(panel.KindModal):
		return panel.KindModal, true
	default:
		return "", false
	}
}
