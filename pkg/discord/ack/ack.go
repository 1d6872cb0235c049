// Package ack wraps the platform acknowledgment and message primitives the
// panel router depends on. The interfaces keep the router testable and make
// the "modal only legal before deferral" rule enforceable in one place.
package ack

import (
	"errors"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/small-frappuccino/panelcore/pkg/panel"
)

// Acknowledger is the per-interaction acknowledgment surface. The first
// response slot is consumed by exactly one of Defer, Respond or ShowModal;
// after Defer only Edit and FollowUpEphemeral remain legal.
type Acknowledger interface {
	// Defer sends the minimal acknowledgment. update chooses the deferred
	// in-place update (persistent panel messages) over a deferred reply.
	Defer(update, ephemeral bool) error

	// ShowModal opens a modal. Returns panel.ErrAlreadyDeferred when the
	// first response slot is gone.
	ShowModal(m *panel.ModalRequest) error

	// Respond sends the real response as the first acknowledgment. update
	// edits the originating message in place instead of creating a reply.
	Respond(resp *panel.Response, update bool) error

	// Edit rewrites the deferred response with the real content.
	Edit(resp *panel.Response) error

	// FollowUpEphemeral sends an ephemeral follow-up notice.
	FollowUpEphemeral(content string) error

	// Deferred reports whether the first response slot was consumed by Defer.
	Deferred() bool

	// OriginalMessage fetches the message backing the first response.
	OriginalMessage() (*discordgo.Message, error)
}

// Resolver resolves and mutates render targets.
type Resolver interface {
	Channel(channelID string) (*discordgo.Channel, error)
	Message(channelID, messageID string) (*discordgo.Message, error)
	EditMessage(channelID, messageID string, resp *panel.Response) (*discordgo.Message, error)
	DeleteMessage(channelID, messageID string) error
}

// SessionAcknowledger implements Acknowledger on a live discordgo session.
type SessionAcknowledger struct {
	session     *discordgo.Session
	interaction *discordgo.Interaction

	mu       sync.Mutex
	deferred bool
	answered bool
}

// NewSessionAcknowledger wraps one inbound interaction.
func NewSessionAcknowledger(s *discordgo.Session, i *discordgo.InteractionCreate) *SessionAcknowledger {
	return &SessionAcknowledger{session: s, interaction: i.Interaction}
}

func (a *SessionAcknowledger) Defer(update, ephemeral bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.answered {
		return errors.New("interaction already acknowledged")
	}

	respType := discordgo.InteractionResponseDeferredChannelMessageWithSource
	if update {
		respType = discordgo.InteractionResponseDeferredMessageUpdate
	}
	var flags discordgo.MessageFlags
	if ephemeral {
		flags = discordgo.MessageFlagsEphemeral
	}

	err := a.session.InteractionRespond(a.interaction, &discordgo.InteractionResponse{
		Type: respType,
		Data: &discordgo.InteractionResponseData{Flags: flags},
	})
	if err != nil {
		return err
	}
	a.deferred = true
	a.answered = true
	return nil
}

func (a *SessionAcknowledger) ShowModal(m *panel.ModalRequest) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.deferred {
		return panel.ErrAlreadyDeferred
	}
	if a.answered {
		return errors.New("interaction already acknowledged")
	}

	err := a.session.InteractionRespond(a.interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseModal,
		Data: &discordgo.InteractionResponseData{
			CustomID:   m.CustomID,
			Title:      m.Title,
			Components: m.Components,
		},
	})
	if err != nil {
		return err
	}
	a.answered = true
	return nil
}

func (a *SessionAcknowledger) Respond(resp *panel.Response, update bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.answered {
		return errors.New("interaction already acknowledged")
	}

	respType := discordgo.InteractionResponseChannelMessageWithSource
	if update {
		respType = discordgo.InteractionResponseUpdateMessage
	}

	err := a.session.InteractionRespond(a.interaction, &discordgo.InteractionResponse{
		Type: respType,
		Data: responseData(resp),
	})
	if err != nil {
		return err
	}
	a.answered = true
	return nil
}

func (a *SessionAcknowledger) Edit(resp *panel.Response) error {
	content := resp.Content
	embeds := resp.Embeds
	components := resp.Components
	_, err := a.session.InteractionResponseEdit(a.interaction, &discordgo.WebhookEdit{
		Content:    &content,
		Embeds:     &embeds,
		Components: &components,
	})
	return err
}

func (a *SessionAcknowledger) FollowUpEphemeral(content string) error {
	_, err := a.session.FollowupMessageCreate(a.interaction, true, &discordgo.WebhookParams{
		Content: content,
		Flags:   discordgo.MessageFlagsEphemeral,
	})
	return err
}

func (a *SessionAcknowledger) Deferred() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.deferred
}

// OriginalMessage fetches the message backing the first response, used when a
// freshly opened persistent panel needs its render target recorded.
func (a *SessionAcknowledger) OriginalMessage() (*discordgo.Message, error) {
	return a.session.InteractionResponse(a.interaction)
}

func responseData(resp *panel.Response) *discordgo.InteractionResponseData {
	var flags discordgo.MessageFlags
	if resp.Ephemeral {
		flags |= discordgo.MessageFlagsEphemeral
	}
	if resp.ComponentsV2 {
		flags |= discordgo.MessageFlagsIsComponentsV2
	}
	return &discordgo.InteractionResponseData{
		Content:    resp.Content,
		Embeds:     resp.Embeds,
		Components: resp.Components,
		Flags:      flags,
	}
}

// SessionResolver implements Resolver on a live discordgo session.
type SessionResolver struct {
	session *discordgo.Session
}

// NewSessionResolver wraps a session.
func NewSessionResolver(s *discordgo.Session) *SessionResolver {
	return &SessionResolver{session: s}
}

func (r *SessionResolver) Channel(channelID string) (*discordgo.Channel, error) {
	// State first, REST as fallback.
	if ch, err := r.session.State.Channel(channelID); err == nil {
		return ch, nil
	}
	return r.session.Channel(channelID)
}

func (r *SessionResolver) Message(channelID, messageID string) (*discordgo.Message, error) {
	return r.session.ChannelMessage(channelID, messageID)
}

func (r *SessionResolver) EditMessage(channelID, messageID string, resp *panel.Response) (*discordgo.Message, error) {
	edit := discordgo.NewMessageEdit(channelID, messageID)
	edit.SetContent(resp.Content)
	edit.SetEmbeds(resp.Embeds)
	edit.Components = &resp.Components
	return r.session.ChannelMessageEditComplex(edit)
}

func (r *SessionResolver) DeleteMessage(channelID, messageID string) error {
	return r.session.ChannelMessageDelete(channelID, messageID)
}

// IsUnknownChannel reports the "channel no longer exists" error class.
func IsUnknownChannel(err error) bool {
	return hasRESTCode(err, discordgo.ErrCodeUnknownChannel)
}

// IsUnknownMessage reports the "message no longer exists" error class.
func IsUnknownMessage(err error) bool {
	return hasRESTCode(err, discordgo.ErrCodeUnknownMessage)
}

func hasRESTCode(err error, code int) bool {
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) {
		return restErr.Message != nil && restErr.Message.Code == code
	}
	return false
}
