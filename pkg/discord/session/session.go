// Package session creates and tears down the gateway connection.
package session

import (
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/small-frappuccino/panelcore/pkg/log"
)

// Stubbed in tests.
var (
	newSession   = discordgo.New
	openSession  = func(s *discordgo.Session) error { return s.Open() }
	closeSession = func(s *discordgo.Session) error { return s.Close() }
)

// NewDiscordSession creates and opens a gateway session. Panels only need
// guild and guild-message visibility; interaction events arrive regardless of
// intents.
func NewDiscordSession(token string) (*discordgo.Session, error) {
	if strings.TrimSpace(token) == "" {
		return nil, fmt.Errorf("discord bot token is empty")
	}

	s, err := newSession("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("failed to create Discord session: %w", err)
	}

	s.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMessages

	log.DiscordLogger().Info("Connecting to Discord")
	if err := openSession(s); err != nil {
		return nil, fmt.Errorf("failed to connect to Discord: %w", err)
	}
	log.DiscordLogger().Info("Connected to Discord")

	return s, nil
}

// CloseDiscordSession closes the gateway connection.
func CloseDiscordSession(s *discordgo.Session) error {
	if s == nil {
		return nil
	}
	if err := closeSession(s); err != nil {
		return fmt.Errorf("failed to close Discord session: %w", err)
	}
	log.DiscordLogger().Info("Disconnected from Discord")
	return nil
}
