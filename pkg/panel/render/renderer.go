// Package render post-processes panel responses before they reach the
// platform: it injects return/close navigation controls according to the
// access method, and hosts the component scan used to infer a lost access
// method from an already-rendered message.
package render

import (
	"github.com/bwmarrin/discordgo"

	"github.com/small-frappuccino/panelcore/pkg/panel"
	"github.com/small-frappuccino/panelcore/pkg/panel/ident"
)

// NavPanelID is the reserved pseudo-panel the injected controls route to.
const NavPanelID = "nav"

// Sentinel custom ids. Their presence on a rendered message both prevents
// double injection and identifies the access method after a context loss.
var (
	ReturnSystemID = ident.Encode(NavPanelID, panel.KindButton, "return_system")
	ReturnGuildsID = ident.Encode(NavPanelID, panel.KindButton, "return_guilds")
	CloseID        = ident.Encode(NavPanelID, panel.KindButton, "close")
)

// Row budget of the legacy layout; the platform rejects messages beyond it.
const maxActionRows = 5

// Inject adds navigation controls to a response when the access method
// warrants them. It never mutates a nil response, skips injection when a nav
// sentinel is already present, and respects the component-count budget.
func Inject(resp *panel.Response, nav *panel.NavigationContext) *panel.Response {
	if resp == nil || nav == nil {
		return resp
	}

	var returnID, returnLabel string
	switch nav.AccessMethod {
	case panel.AccessSystemList:
		returnID, returnLabel = ReturnSystemID, "Back to system panels"
	case panel.AccessGuildList:
		returnID, returnLabel = ReturnGuildsID, "Back to server panels"
	default:
		// Direct invocations and remote mirrors get no navigation row.
		return resp
	}

	if ContainsCustomID(resp.Components, returnID) || ContainsCustomID(resp.Components, CloseID) {
		return resp
	}
	if countActionRows(resp.Components) >= maxActionRows {
		return resp
	}

	row := discordgo.ActionsRow{
		Components: []discordgo.MessageComponent{
			discordgo.Button{
				CustomID: returnID,
				Label:    returnLabel,
				Style:    discordgo.SecondaryButton,
			},
			discordgo.Button{
				CustomID: CloseID,
				Label:    "Close",
				Style:    discordgo.DangerButton,
			},
		},
	}
	resp.Components = append(resp.Components, row)
	return resp
}

// InferAccessMethod reconstructs the access method from the sentinel controls
// of an already-rendered message. Defaults to direct invocation.
func InferAccessMethod(components []discordgo.MessageComponent) panel.AccessMethod {
	switch {
	case ContainsCustomID(components, ReturnSystemID):
		return panel.AccessSystemList
	case ContainsCustomID(components, ReturnGuildsID):
		return panel.AccessGuildList
	default:
		return panel.AccessDirect
	}
}

// ContainsCustomID walks a component tree looking for an exact custom id.
func ContainsCustomID(components []discordgo.MessageComponent, id string) bool {
	for _, c := range components {
		if componentHasID(c, id) {
			return true
		}
	}
	return false
}

func componentHasID(c discordgo.MessageComponent, id string) bool {
	switch v := c.(type) {
	case discordgo.ActionsRow:
		return ContainsCustomID(v.Components, id)
	case *discordgo.ActionsRow:
		return ContainsCustomID(v.Components, id)
	case discordgo.Container:
		return ContainsCustomID(v.Components, id)
	case *discordgo.Container:
		return ContainsCustomID(v.Components, id)
	case discordgo.Section:
		if v.Accessory != nil && componentHasID(v.Accessory, id) {
			return true
		}
		return ContainsCustomID(v.Components, id)
	case *discordgo.Section:
		if v.Accessory != nil && componentHasID(v.Accessory, id) {
			return true
		}
		return ContainsCustomID(v.Components, id)
	case discordgo.Button:
		return v.CustomID == id
	case *discordgo.Button:
		return v.CustomID == id
	case discordgo.SelectMenu:
		return v.CustomID == id
	case *discordgo.SelectMenu:
		return v.CustomID == id
	case discordgo.TextInput:
		return v.CustomID == id
	case *discordgo.TextInput:
		return v.CustomID == id
	default:
		return false
	}
}

func countActionRows(components []discordgo.MessageComponent) int {
	n := 0
	for _, c := range components {
		switch v := c.(type) {
		case discordgo.ActionsRow, *discordgo.ActionsRow:
			n++
		case discordgo.Container:
			n += countActionRows(v.Components)
		case *discordgo.Container:
			n += countActionRows(v.Components)
		}
	}
	return n
}
