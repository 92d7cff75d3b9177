package notify

import (
	"context"
	"fmt"
	"sort"

	"github.com/bwmarrin/discordgo"

	"github.com/mineproxy/gmp/pkg/log"
)

// DiscordNotifier posts admin events to a Discord channel.
type DiscordNotifier struct {
	session   *discordgo.Session
	channelID string
	logger    *log.Logger
}

// NewDiscordNotifier opens a Discord session for the given bot token.
func NewDiscordNotifier(token, channelID string, logger *log.Logger) (*DiscordNotifier, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}

	if err := session.Open(); err != nil {
		return nil, fmt.Errorf("failed to open discord session: %w", err)
	}

	return &DiscordNotifier{
		session:   session,
		channelID: channelID,
		logger:    logger.WithComponent("notify-discord"),
	}, nil
}

// Close closes the Discord session.
func (n *DiscordNotifier) Close() error {
	return n.session.Close()
}

// Notify posts the event to the admin channel, swallowing delivery failures.
func (n *DiscordNotifier) Notify(_ context.Context, ev *Event) {
	msg := fmt.Sprintf("**[%s]** %s: %s", ev.Severity, ev.Type, ev.Message)

	if len(ev.Fields) > 0 {
		keys := make([]string, 0, len(ev.Fields))
		for k := range ev.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			msg += fmt.Sprintf("\n`%s=%v`", k, ev.Fields[k])
		}
	}

	if _, err := n.session.ChannelMessageSend(n.channelID, msg); err != nil {
		n.logger.WithError(err).Warn("failed to send discord alert", "type", ev.Type)
	}
}
