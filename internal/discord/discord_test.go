package discord

import (
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"streakkeeper/handlers"
	"streakkeeper/services"
)

func TestToCommand(t *testing.T) {
	m := &discordgo.Message{
		ID:        "m1",
		GuildID:   "g1",
		ChannelID: "c1",
		Content:   "!setcontributions <@!22> <@11> 3",
		Author:    &discordgo.User{ID: "u1", Username: "annie", GlobalName: "Ann"},
		Member:    &discordgo.Member{Nick: "Captain"},
		Attachments: []*discordgo.MessageAttachment{
			{ID: "a1", Filename: "proof.png"},
		},
		Mentions: []*discordgo.User{
			{ID: "11", Username: "first"},
			{ID: "22", Username: "second", GlobalName: "Second"},
		},
	}

	got := toCommand(m, true)
	want := &handlers.Command{
		GuildID:       "g1",
		ChannelID:     "c1",
		MessageID:     "m1",
		Author:        services.Actor{UserID: "u1", DisplayName: "Captain", IsAdmin: true},
		Content:       m.Content,
		HasAttachment: true,
		Mentions: []services.Actor{
			{UserID: "22", DisplayName: "Second"},
			{UserID: "11", DisplayName: "first"},
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("toCommand mismatch (-want +got):\n%s", diff)
	}
}

func TestToCommandWithoutMember(t *testing.T) {
	m := &discordgo.Message{
		Content: "!log",
		Author:  &discordgo.User{ID: "u1", Username: "annie", Bot: true},
	}
	got := toCommand(m, false)
	assert.Equal(t, "annie", got.Author.DisplayName)
	assert.True(t, got.Author.IsBot)
	assert.False(t, got.HasAttachment)
	assert.Empty(t, got.Mentions)
}

func TestToReaction(t *testing.T) {
	r := &discordgo.MessageReaction{
		UserID:    "u2",
		MessageID: "m1",
		ChannelID: "c1",
		GuildID:   "g1",
		Emoji:     discordgo.Emoji{Name: "➕"},
	}

	got := toReaction(r, &discordgo.Member{User: &discordgo.User{ID: "u2", Username: "ben"}}, false)
	assert.Equal(t, &handlers.Reaction{
		GuildID:   "g1",
		ChannelID: "c1",
		MessageID: "m1",
		Emoji:     "➕",
		User:      services.Actor{UserID: "u2", DisplayName: "ben"},
	}, got)

	assert.True(t, toReaction(r, nil, true).User.IsBot)
	assert.True(t, toReaction(r, &discordgo.Member{User: &discordgo.User{Bot: true}}, false).User.IsBot)
}

func TestNewClientRequiresToken(t *testing.T) {
	_, err := NewClient("", zap.NewNop())
	assert.Error(t, err)

	c, err := NewClient("abc", zap.NewNop())
	assert.NoError(t, err)
	assert.Equal(t, "discord", NewNotifier(c).Name())
}
