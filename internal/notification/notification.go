package notification

import (
	"time"

	"github.com/google/uuid"
)

type NotificationType string

const (
	NotificationReminder NotificationType = "streak_reminder"
	NotificationRollover NotificationType = "leaderboard_rollover"
)

// Notification is one message fanned out to every delivery provider.
type Notification struct {
	ID        uuid.UUID         `json:"id"`
	GuildID   string            `json:"guild_id"`
	ChannelID string            `json:"channel_id"`
	Type      NotificationType  `json:"type"`
	Title     string            `json:"title"`
	Message   string            `json:"message"`
	Data      map[string]string `json:"data,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

func New(typ NotificationType, guildID, channelID, title, message string) *Notification {
	return &Notification{
		ID:        uuid.New(),
		GuildID:   guildID,
		ChannelID: channelID,
		Type:      typ,
		Title:     title,
		Message:   message,
		Data:      map[string]string{"guild_id": guildID, "type": string(typ)},
		CreatedAt: time.Now(),
	}
}
