package panel

import (
	"context"

	"github.com/bwmarrin/discordgo"
)

// Response is the internal response tree produced by panel handlers. It feeds
// both the native client (via discordgo) and the neutral document serializer
// for remote mirrors.
type Response struct {
	Content    string
	Embeds     []*discordgo.MessageEmbed
	Components []discordgo.MessageComponent
	Ephemeral  bool

	// ComponentsV2 marks the modern nested-container layout. Legacy responses
	// use content + embeds + action rows.
	ComponentsV2 bool
}

// ModalRequest asks the platform to open a modal form. Only legal as the
// first acknowledgment of an interaction.
type ModalRequest struct {
	CustomID   string
	Title      string
	Components []discordgo.MessageComponent
}

// ResultKind tags the variants a panel handler may return.
type ResultKind int

const (
	// ResultResponse carries an ordinary response to render.
	ResultResponse ResultKind = iota
	// ResultModal requests a modal; degrades to an ordinary response when the
	// acknowledgment deadline has already consumed the first-response slot.
	ResultModal
	// ResultHandled means the handler fully handled side effects itself.
	ResultHandled
)

// Result is the tagged union returned by button/dropdown/modal handlers.
type Result struct {
	Kind     ResultKind
	Response *Response
	Modal    *ModalRequest
}

// Respond wraps an ordinary response.
func Respond(resp *Response) Result {
	return Result{Kind: ResultResponse, Response: resp}
}

// ShowModal wraps a modal request.
func ShowModal(m *ModalRequest) Result {
	return Result{Kind: ResultModal, Modal: m}
}

// Handled reports that the handler already performed all side effects.
func Handled() Result {
	return Result{Kind: ResultHandled}
}

// Event carries one inbound interaction into a panel handler.
type Event struct {
	Ctx         context.Context
	Session     *discordgo.Session
	Interaction *discordgo.InteractionCreate

	GuildID string
	UserID  string
	ScopeID string

	// ActionID is the part of the composite identifier after the kind keyword.
	ActionID string

	// Values holds the selected values of a dropdown interaction.
	Values []string

	// ModalData maps text-input custom ids to submitted values.
	ModalData map[string]string

	// Nav is the resolved (or reconstructed) navigation context. Handlers may
	// read and mutate PanelState; the router persists it after the handler runs.
	Nav *NavigationContext
}
