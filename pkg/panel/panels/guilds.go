package panels

import (
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/small-frappuccino/panelcore/pkg/panel"
	"github.com/small-frappuccino/panelcore/pkg/panel/ident"
)

// GuildsPanelID is the guild listing's panel id. The router's injected "back
// to servers" control returns here.
const GuildsPanelID = "guilds"

const guildsPerPage = 10

// GuildInfo is one row of the listing.
type GuildInfo struct {
	ID      string
	Name    string
	Members int
}

// GuildSource supplies the rows. Decoupled from the session so tests can feed
// fixed fixtures.
type GuildSource func() []GuildInfo

// SessionGuildSource reads the gateway state cache.
func SessionGuildSource(s *discordgo.Session) GuildSource {
	return func() []GuildInfo {
		if s == nil || s.State == nil {
			return nil
		}
		out := make([]GuildInfo, 0, len(s.State.Guilds))
		for _, g := range s.State.Guilds {
			out = append(out, GuildInfo{ID: g.ID, Name: g.Name, Members: g.MemberCount})
		}
		return out
	}
}

// GuildsPanel is a paginated guild listing with a selection dropdown. It is
// persistent but not unique; a few instances may coexist.
type GuildsPanel struct {
	source GuildSource
}

// NewGuildsPanel creates the listing over the given source.
func NewGuildsPanel(source GuildSource) *GuildsPanel {
	return &GuildsPanel{source: source}
}

func (p *GuildsPanel) ID() string              { return GuildsPanelID }
func (p *GuildsPanel) Persistent() bool        { return true }
func (p *GuildsPanel) Unique() bool            { return false }
func (p *GuildsPanel) MaxActiveInstances() int { return 3 }

func (p *GuildsPanel) OnRender(ev *panel.Event) (*panel.Response, error) {
	page := pageFrom(ev)
	guilds := p.source()

	totalPages := (len(guilds) + guildsPerPage - 1) / guildsPerPage
	if totalPages == 0 {
		totalPages = 1
	}
	if page >= totalPages {
		page = totalPages - 1
	}
	setState(ev, "page", page)

	start := page * guildsPerPage
	end := min(start+guildsPerPage, len(guilds))

	embed := &discordgo.MessageEmbed{
		Title: fmt.Sprintf("Servers (%d)", len(guilds)),
		Footer: &discordgo.MessageEmbedFooter{
			Text: fmt.Sprintf("Page %d of %d", page+1, totalPages),
		},
	}

	var options []discordgo.SelectMenuOption
	for _, g := range guilds[start:end] {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:   g.Name,
			Value:  fmt.Sprintf("%d members", g.Members),
			Inline: true,
		})
		options = append(options, discordgo.SelectMenuOption{
			Label:       g.Name,
			Value:       g.ID,
			Description: fmt.Sprintf("%d members", g.Members),
		})
	}
	if len(options) == 0 {
		embed.Description = "No servers visible."
	}

	var components []discordgo.MessageComponent
	if len(options) > 0 {
		components = append(components, discordgo.ActionsRow{Components: []discordgo.MessageComponent{
			discordgo.SelectMenu{
				CustomID:    ident.Encode(GuildsPanelID, panel.KindDropdown, "pick"),
				Placeholder: "Inspect a server",
				Options:     options,
			},
		}})
	}
	if totalPages > 1 {
		components = append(components, discordgo.ActionsRow{Components: []discordgo.MessageComponent{
			discordgo.Button{
				CustomID: ident.Encode(GuildsPanelID, panel.KindButton, "page_prev"),
				Label:    "Previous",
				Style:    discordgo.SecondaryButton,
				Disabled: page == 0,
			},
			discordgo.Button{
				CustomID: ident.Encode(GuildsPanelID, panel.KindButton, "page_next"),
				Label:    "Next",
				Style:    discordgo.SecondaryButton,
				Disabled: page == totalPages-1,
			},
		}})
	}

	return &panel.Response{
		Embeds:     []*discordgo.MessageEmbed{embed},
		Components: components,
	}, nil
}

func (p *GuildsPanel) OnButton(ev *panel.Event) (panel.Result, error) {
	page := pageFrom(ev)
	switch ev.ActionID {
	case "page_prev":
		if page > 0 {
			page--
		}
	case "page_next":
		page++
	default:
		return panel.Result{}, fmt.Errorf("unknown guilds action %q", ev.ActionID)
	}
	setState(ev, "page", page)

	resp, err := p.OnRender(ev)
	if err != nil {
		return panel.Result{}, err
	}
	return panel.Respond(resp), nil
}

func (p *GuildsPanel) OnDropdown(ev *panel.Event) (panel.Result, error) {
	if ev.ActionID != "pick" || len(ev.Values) == 0 {
		return panel.Result{}, fmt.Errorf("guilds selection carried no value")
	}

	var picked *GuildInfo
	for _, g := range p.source() {
		if g.ID == ev.Values[0] {
			picked = &g
			break
		}
	}
	if picked == nil {
		return panel.Respond(&panel.Response{
			Content:   "⚠️ That server is no longer visible.",
			Ephemeral: true,
		}), nil
	}

	return panel.Respond(&panel.Response{
		Ephemeral: true,
		Embeds: []*discordgo.MessageEmbed{{
			Title: picked.Name,
			Fields: []*discordgo.MessageEmbedField{
				{Name: "ID", Value: picked.ID, Inline: true},
				{Name: "Members", Value: fmt.Sprintf("%d", picked.Members), Inline: true},
			},
		}},
	}), nil
}

// pageFrom reads the page index out of the navigation state. JSON round-trips
// turn ints into float64, so both are accepted.
func pageFrom(ev *panel.Event) int {
	if ev.Nav == nil || ev.Nav.PanelState == nil {
		return 0
	}
	switch v := ev.Nav.PanelState["page"].(type) {
	case int:
		if v > 0 {
			return v
		}
	case float64:
		if v > 0 {
			return int(v)
		}
	}
	return 0
}

func setState(ev *panel.Event, key string, value any) {
	if ev.Nav == nil {
		return
	}
	if ev.Nav.PanelState == nil {
		ev.Nav.PanelState = make(map[string]any)
	}
	ev.Nav.PanelState[key] = value
}
