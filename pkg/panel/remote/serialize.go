// Package remote mirrors panel responses to web clients: it converts the
// internal response tree into a platform-neutral JSON document and broadcasts
// live updates to websocket subscribers.
package remote

import (
	"github.com/bwmarrin/discordgo"

	"github.com/small-frappuccino/panelcore/pkg/panel"
)

// Layout tags of a neutral document.
const (
	LayoutLegacy    = "legacy"    // content + embeds + action rows
	LayoutContainer = "container" // modern nested container layout
)

// Document is the platform-agnostic shape a remote client renders from. It
// deliberately carries no platform builder objects.
type Document struct {
	Layout    string  `json:"layout"`
	Content   string  `json:"content,omitempty"`
	Embeds    []Embed `json:"embeds,omitempty"`
	Blocks    []Block `json:"blocks,omitempty"`
	Ephemeral bool    `json:"ephemeral,omitempty"`
}

// Embed is the neutral form of a rich embed.
type Embed struct {
	Title       string       `json:"title,omitempty"`
	Description string       `json:"description,omitempty"`
	Color       int          `json:"color,omitempty"`
	Footer      string       `json:"footer,omitempty"`
	Fields      []EmbedField `json:"fields,omitempty"`
}

// EmbedField is one embed field.
type EmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

// Block is one node of the neutral component tree.
type Block struct {
	Type string `json:"type"`

	// text
	Text string `json:"text,omitempty"`

	// button / select / text_input
	ID       string `json:"id,omitempty"`
	Label    string `json:"label,omitempty"`
	Style    string `json:"style,omitempty"`
	Disabled bool   `json:"disabled,omitempty"`
	Emoji    string `json:"emoji,omitempty"`

	// select
	Placeholder string         `json:"placeholder,omitempty"`
	MinValues   int            `json:"min_values,omitempty"`
	MaxValues   int            `json:"max_values,omitempty"`
	Options     []SelectOption `json:"options,omitempty"`

	// text_input
	Required  bool `json:"required,omitempty"`
	Multiline bool `json:"multiline,omitempty"`
	MaxLength int  `json:"max_length,omitempty"`

	// file / thumbnail
	URL         string `json:"url,omitempty"`
	Description string `json:"description,omitempty"`

	// row / section / container
	Accessory *Block  `json:"accessory,omitempty"`
	Children  []Block `json:"children,omitempty"`
}

// SelectOption is one dropdown option.
type SelectOption struct {
	Label       string `json:"label"`
	Value       string `json:"value"`
	Description string `json:"description,omitempty"`
	Emoji       string `json:"emoji,omitempty"`
	Default     bool   `json:"default,omitempty"`
}

// Serialize converts a panel response into a neutral document. It is lossless
// for the component kinds panels produce; unknown component types are dropped.
func Serialize(resp *panel.Response) *Document {
	if resp == nil {
		return nil
	}

	doc := &Document{
		Layout:    LayoutLegacy,
		Content:   resp.Content,
		Ephemeral: resp.Ephemeral,
	}
	if resp.ComponentsV2 {
		doc.Layout = LayoutContainer
	}

	for _, e := range resp.Embeds {
		doc.Embeds = append(doc.Embeds, serializeEmbed(e))
	}
	doc.Blocks = serializeComponents(resp.Components)
	return doc
}

func serializeEmbed(e *discordgo.MessageEmbed) Embed {
	out := Embed{
		Title:       e.Title,
		Description: e.Description,
		Color:       e.Color,
	}
	if e.Footer != nil {
		out.Footer = e.Footer.Text
	}
	for _, f := range e.Fields {
		out.Fields = append(out.Fields, EmbedField{Name: f.Name, Value: f.Value, Inline: f.Inline})
	}
	return out
}

func serializeComponents(components []discordgo.MessageComponent) []Block {
	var out []Block
	for _, c := range components {
		if b, ok := serializeComponent(c); ok {
			out = append(out, b)
		}
	}
	return out
}

func serializeComponent(c discordgo.MessageComponent) (Block, bool) {
	switch v := c.(type) {
	case *discordgo.ActionsRow:
		return serializeComponent(*v)
	case discordgo.ActionsRow:
		return Block{Type: "row", Children: serializeComponents(v.Components)}, true

	case *discordgo.Container:
		return serializeComponent(*v)
	case discordgo.Container:
		return Block{Type: "container", Children: serializeComponents(v.Components)}, true

	case *discordgo.Section:
		return serializeComponent(*v)
	case discordgo.Section:
		b := Block{Type: "section", Children: serializeComponents(v.Components)}
		if v.Accessory != nil {
			if acc, ok := serializeComponent(v.Accessory); ok {
				b.Accessory = &acc
			}
		}
		return b, true

	case *discordgo.TextDisplay:
		return serializeComponent(*v)
	case discordgo.TextDisplay:
		return Block{Type: "text", Text: v.Content}, true

	case *discordgo.Thumbnail:
		return serializeComponent(*v)
	case discordgo.Thumbnail:
		b := Block{Type: "thumbnail", URL: v.Media.URL}
		if v.Description != nil {
			b.Description = *v.Description
		}
		return b, true

	case *discordgo.FileComponent:
		return serializeComponent(*v)
	case discordgo.FileComponent:
		return Block{Type: "file", URL: v.File.URL}, true

	case *discordgo.Button:
		return serializeComponent(*v)
	case discordgo.Button:
		b := Block{
			Type:     "button",
			ID:       v.CustomID,
			Label:    v.Label,
			Style:    buttonStyle(v.Style),
			Disabled: v.Disabled,
		}
		if v.Emoji != nil {
			b.Emoji = v.Emoji.Name
		}
		if v.Style == discordgo.LinkButton {
			b.URL = v.URL
		}
		return b, true

	case *discordgo.SelectMenu:
		return serializeComponent(*v)
	case discordgo.SelectMenu:
		b := Block{
			Type:        "select",
			ID:          v.CustomID,
			Placeholder: v.Placeholder,
			MaxValues:   v.MaxValues,
			Disabled:    v.Disabled,
		}
		if v.MinValues != nil {
			b.MinValues = *v.MinValues
		}
		for _, o := range v.Options {
			opt := SelectOption{
				Label:       o.Label,
				Value:       o.Value,
				Description: o.Description,
				Default:     o.Default,
			}
			if o.Emoji != nil {
				opt.Emoji = o.Emoji.Name
			}
			b.Options = append(b.Options, opt)
		}
		return b, true

	case *discordgo.TextInput:
		return serializeComponent(*v)
	case discordgo.TextInput:
		return Block{
			Type:        "text_input",
			ID:          v.CustomID,
			Label:       v.Label,
			Placeholder: v.Placeholder,
			Required:    v.Required,
			Multiline:   v.Style == discordgo.TextInputParagraph,
			MaxLength:   v.MaxLength,
		}, true

	default:
		return Block{}, false
	}
}

func buttonStyle(s discordgo.ButtonStyle) string {
	switch s {
	case discordgo.PrimaryButton:
		return "primary"
	case discordgo.SecondaryButton:
		return "secondary"
	case discordgo.SuccessButton:
		return "success"
	case discordgo.DangerButton:
		return "danger"
	case discordgo.LinkButton:
		return "link"
	default:
		return "secondary"
	}
}
