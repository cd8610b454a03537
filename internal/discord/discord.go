// Package discord connects the command handler to a Discord gateway session.
package discord

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"streakkeeper/handlers"
	"streakkeeper/internal/notification"
	"streakkeeper/services"
)

const intents = discordgo.IntentsGuildMessages |
	discordgo.IntentsGuildMessageReactions |
	discordgo.IntentsMessageContent

// EventHandler receives the chat events the bot cares about.
type EventHandler interface {
	HandleCommand(ctx context.Context, cmd *handlers.Command)
	HandleReaction(ctx context.Context, r *handlers.Reaction)
}

// Client wraps a discordgo session and implements handlers.Messenger.
type Client struct {
	session *discordgo.Session
	logger  *zap.Logger
}

func NewClient(token string, logger *zap.Logger) (*Client, error) {
	if token == "" {
		return nil, fmt.Errorf("discord token is empty")
	}
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}
	s.Identify.Intents = intents
	return &Client{session: s, logger: logger}, nil
}

func (c *Client) Send(ctx context.Context, channelID, content string) (string, error) {
	msg, err := c.session.ChannelMessageSend(channelID, content, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("failed to send message: %w", err)
	}
	return msg.ID, nil
}

func (c *Client) AddReaction(ctx context.Context, channelID, messageID, emoji string) error {
	if err := c.session.MessageReactionAdd(channelID, messageID, emoji, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("failed to add reaction: %w", err)
	}
	return nil
}

func (c *Client) SendFile(ctx context.Context, channelID, content, name string, data []byte) error {
	_, err := c.session.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
		Content: content,
		Files: []*discordgo.File{{
			Name:        name,
			ContentType: "application/json",
			Reader:      bytes.NewReader(data),
		}},
	}, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to upload file: %w", err)
	}
	return nil
}

// Bind routes gateway events to h. Call before Run.
func (c *Client) Bind(ctx context.Context, h EventHandler) {
	c.session.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		c.logger.Info("discord session ready",
			zap.String("user", r.User.Username),
			zap.Int("guilds", len(r.Guilds)),
		)
	})

	c.session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		if m.Author == nil || m.GuildID == "" {
			return
		}
		if s.State.User != nil && m.Author.ID == s.State.User.ID {
			return
		}
		h.HandleCommand(ctx, toCommand(m.Message, c.isAdmin(m.Author.ID, m.ChannelID)))
	})

	c.session.AddHandler(func(s *discordgo.Session, r *discordgo.MessageReactionAdd) {
		if r.GuildID == "" {
			return
		}
		self := s.State.User != nil && r.UserID == s.State.User.ID
		h.HandleReaction(ctx, toReaction(r.MessageReaction, r.Member, self))
	})
}

func (c *Client) isAdmin(userID, channelID string) bool {
	perms, err := c.session.UserChannelPermissions(userID, channelID)
	if err != nil {
		c.logger.Warn("failed to resolve permissions",
			zap.String("user_id", userID),
			zap.String("channel_id", channelID),
			zap.Error(err),
		)
		return false
	}
	return perms&discordgo.PermissionAdministrator != 0
}

// Run opens the gateway connection and holds it until ctx is cancelled.
func (c *Client) Run(ctx context.Context) error {
	if err := c.session.Open(); err != nil {
		return fmt.Errorf("failed to open discord session: %w", err)
	}
	c.logger.Info("discord session opened")

	<-ctx.Done()

	if err := c.session.Close(); err != nil {
		return fmt.Errorf("failed to close discord session: %w", err)
	}
	c.logger.Info("discord session closed")
	return nil
}

// Notifier posts scheduled notifications to their channel.
type Notifier struct {
	client *Client
}

func NewNotifier(c *Client) *Notifier {
	return &Notifier{client: c}
}

func (n *Notifier) Name() string { return "discord" }

func (n *Notifier) Send(ctx context.Context, msg *notification.Notification) error {
	if msg.ChannelID == "" {
		return fmt.Errorf("notification %s has no channel", msg.ID)
	}
	_, err := n.client.Send(ctx, msg.ChannelID, msg.Message)
	return err
}

func toCommand(m *discordgo.Message, isAdmin bool) *handlers.Command {
	return &handlers.Command{
		GuildID:   m.GuildID,
		ChannelID: m.ChannelID,
		MessageID: m.ID,
		Author: services.Actor{
			UserID:      m.Author.ID,
			DisplayName: displayName(m.Member, m.Author),
			IsAdmin:     isAdmin,
			IsBot:       m.Author.Bot,
		},
		Content:       m.Content,
		HasAttachment: len(m.Attachments) > 0,
		Mentions:      orderedMentions(m.Content, m.Mentions),
	}
}

func toReaction(r *discordgo.MessageReaction, member *discordgo.Member, self bool) *handlers.Reaction {
	user := services.Actor{UserID: r.UserID, IsBot: self}
	if member != nil {
		user.DisplayName = displayName(member, member.User)
		if member.User != nil && member.User.Bot {
			user.IsBot = true
		}
	}
	return &handlers.Reaction{
		GuildID:   r.GuildID,
		ChannelID: r.ChannelID,
		MessageID: r.MessageID,
		Emoji:     r.Emoji.Name,
		User:      user,
	}
}

// orderedMentions returns mentioned users in the order they appear in the
// text. The gateway does not guarantee any order.
func orderedMentions(content string, users []*discordgo.User) []services.Actor {
	type placed struct {
		at    int
		actor services.Actor
	}
	var found []placed
	for _, u := range users {
		at := mentionIndex(content, u.ID)
		if at < 0 {
			at = len(content)
		}
		found = append(found, placed{at, services.Actor{
			UserID:      u.ID,
			DisplayName: displayName(nil, u),
			IsBot:       u.Bot,
		}})
	}
	sort.SliceStable(found, func(i, j int) bool { return found[i].at < found[j].at })

	out := make([]services.Actor, 0, len(found))
	for _, p := range found {
		out = append(out, p.actor)
	}
	return out
}

func mentionIndex(content, userID string) int {
	for _, form := range []string{"<@" + userID + ">", "<@!" + userID + ">"} {
		if i := strings.Index(content, form); i >= 0 {
			return i
		}
	}
	return -1
}

func displayName(member *discordgo.Member, user *discordgo.User) string {
	if member != nil && member.Nick != "" {
		return member.Nick
	}
	if user == nil {
		return ""
	}
	if user.GlobalName != "" {
		return user.GlobalName
	}
	return user.Username
}
