package bot

import (
	"testing"
	"time"

	"github.com/stefmmm/Predeactor-Cogs/internal/analytics"
	"github.com/stefmmm/Predeactor-Cogs/internal/modules/audit"
	"github.com/stefmmm/Predeactor-Cogs/internal/storage"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func slashInteraction(data discordgo.ApplicationCommandInteractionData) *discordgo.Interaction {
	return &discordgo.Interaction{
		Type:      discordgo.InteractionApplicationCommand,
		GuildID:   "g1",
		ChannelID: "c1",
		Member:    &discordgo.Member{User: &discordgo.User{ID: "admin", Username: "Admin"}},
		Data:      data,
	}
}

func TestParseCommandFlattensSubcommands(t *testing.T) {
	interaction := slashInteraction(discordgo.ApplicationCommandInteractionData{
		Name: "slow",
		Options: []*discordgo.ApplicationCommandInteractionDataOption{{
			Name: "channel",
			Type: discordgo.ApplicationCommandOptionSubCommandGroup,
			Options: []*discordgo.ApplicationCommandInteractionDataOption{{
				Name: "add",
				Type: discordgo.ApplicationCommandOptionSubCommand,
				Options: []*discordgo.ApplicationCommandInteractionDataOption{
					{Name: "channel", Type: discordgo.ApplicationCommandOptionChannel, Value: "c9"},
					{Name: "time", Type: discordgo.ApplicationCommandOptionString, Value: "1 minute"},
				},
			}},
		}},
		Resolved: &discordgo.ApplicationCommandInteractionDataResolved{
			Channels: map[string]*discordgo.Channel{"c9": {ID: "c9", Name: "general", Type: discordgo.ChannelTypeGuildText}},
		},
	})

	cmd := parseCommand(interaction)
	assert.Equal(t, "slow channel add", cmd.name)
	assert.Equal(t, "slow", cmd.root())
	assert.Equal(t, "admin", cmd.userID())
	assert.Equal(t, "1 minute", cmd.str("time"))
	channel := cmd.channelOption("channel")
	require.NotNil(t, channel)
	assert.Equal(t, "general", channel.Name)
	assert.Equal(t, "g1", channel.GuildID)
	assert.Nil(t, cmd.channelOption("missing"))
}

func TestParseCommandOptionValues(t *testing.T) {
	interaction := slashInteraction(discordgo.ApplicationCommandInteractionData{
		Name: "slowset",
		Options: []*discordgo.ApplicationCommandInteractionDataOption{{
			Name: "ignoreusers",
			Type: discordgo.ApplicationCommandOptionSubCommandGroup,
			Options: []*discordgo.ApplicationCommandInteractionDataOption{{
				Name: "add",
				Type: discordgo.ApplicationCommandOptionSubCommand,
				Options: []*discordgo.ApplicationCommandInteractionDataOption{
					{Name: "user", Type: discordgo.ApplicationCommandOptionUser, Value: "u1"},
					{Name: "user3", Type: discordgo.ApplicationCommandOptionUser, Value: "u3"},
				},
			}},
		}},
		Resolved: &discordgo.ApplicationCommandInteractionDataResolved{
			Users: map[string]*discordgo.User{
				"u1": {ID: "u1", Username: "one"},
				"u3": {ID: "u3", Username: "three", Bot: true},
			},
			Members: map[string]*discordgo.Member{
				"u1": {Roles: []string{"r1"}},
			},
		},
	})

	cmd := parseCommand(interaction)
	users := cmd.users("user")
	require.Len(t, users, 2)
	assert.Equal(t, "one", users[0].Username)
	assert.True(t, users[1].Bot)
	assert.Equal(t, []string{"u1", "u3"}, cmd.ids("user"))

	member := cmd.memberOption("user")
	require.NotNil(t, member)
	assert.Equal(t, "g1", member.GuildID)
	assert.Equal(t, []string{"r1"}, member.Roles)
	assert.Equal(t, "one", member.User.Username)

	assert.Equal(t, 4, cmd.integer("page", 4))
	_, ok := cmd.boolean("enabled")
	assert.False(t, ok)
}

func TestEveryDefinedCommandHasAHandler(t *testing.T) {
	b := &Bot{}
	handlers := b.commandHandlers()
	for _, def := range commandDefinitions() {
		_, ok := handlers[def.Name]
		assert.True(t, ok, def.Name)
	}
	assert.Len(t, handlers, len(commandDefinitions()))
}

type fakeResponder struct {
	responses []*discordgo.InteractionResponse
	followups []*discordgo.WebhookParams
}

func (f *fakeResponder) InteractionRespond(_ *discordgo.Interaction, resp *discordgo.InteractionResponse, _ ...discordgo.RequestOption) error {
	f.responses = append(f.responses, resp)
	return nil
}

func (f *fakeResponder) FollowupMessageCreate(_ *discordgo.Interaction, _ bool, data *discordgo.WebhookParams, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.followups = append(f.followups, data)
	return &discordgo.Message{}, nil
}

func TestReplyRespondsOnceThenFollowsUp(t *testing.T) {
	responder := &fakeResponder{}
	r := newReply(responder, &discordgo.Interaction{})
	r.ephemeral = true

	require.NoError(t, r.text("first"))
	require.NoError(t, r.textf("second %d", 2))
	require.Len(t, responder.responses, 1)
	assert.Equal(t, "first", responder.responses[0].Data.Content)
	assert.Equal(t, discordgo.MessageFlagsEphemeral, responder.responses[0].Data.Flags)
	require.Len(t, responder.followups, 1)
	assert.Equal(t, "second 2", responder.followups[0].Content)
}

func TestReplyDeferredThenLongText(t *testing.T) {
	responder := &fakeResponder{}
	r := newReply(responder, &discordgo.Interaction{})

	require.NoError(t, r.deferred())
	require.NoError(t, r.deferred())
	require.Len(t, responder.responses, 1)
	assert.Equal(t, discordgo.InteractionResponseDeferredChannelMessageWithSource, responder.responses[0].Type)

	line := "- a line that is long enough to matter\n"
	text := ""
	for len(text) < 4500 {
		text += line
	}
	require.NoError(t, r.long(text))
	assert.Len(t, responder.followups, 3)
	for _, followup := range responder.followups {
		assert.LessOrEqual(t, len(followup.Content), 2000)
	}
}

func TestIgnoreTexts(t *testing.T) {
	assert.Equal(t, "", ignoreAddedText(nil, nil, "users", "user"))
	assert.Equal(t, "bob is a bot and cannot be added.\nann is already ignored.",
		ignoreAddedText([]string{"bob"}, []string{"ann"}, "users", "user"))
	assert.Equal(t, "Those users are bots and cannot be added: a and b\nThose users are already ignored: c, d and e",
		ignoreAddedText([]string{"a", "b"}, []string{"c", "d", "e"}, "users", "user"))
	assert.Equal(t, "Those roles are already not ignored: x and y", ignoreRemovedText([]string{"x", "y"}, "roles"))
	assert.Equal(t, "x is already not ignored.", ignoreRemovedText([]string{"x"}, "roles"))
}

func TestCooldownList(t *testing.T) {
	names := map[string]string{"c1": "general"}
	text := cooldownList([]storage.CooldownEntry{
		{TargetID: "c1", Seconds: 65},
		{TargetID: "c2", Seconds: 10},
	}, func(id string) string { return names[id] }, "Channel")
	assert.Equal(t, "- general (`c1`) Time: 1 minute, 5 seconds.\n- Channel not found: c2\n", text)
}

func TestCategoryChildren(t *testing.T) {
	guild := &discordgo.Guild{Channels: []*discordgo.Channel{
		{ID: "cat", Type: discordgo.ChannelTypeGuildCategory},
		{ID: "a", ParentID: "cat", Type: discordgo.ChannelTypeGuildText},
		{ID: "b", ParentID: "other", Type: discordgo.ChannelTypeGuildText},
		{ID: "v", ParentID: "cat", Type: discordgo.ChannelTypeGuildVoice},
	}}
	assert.Equal(t, []string{"a", "v"}, categoryChildren(guild, "cat"))
	assert.Nil(t, categoryChildren(nil, "cat"))
}

func TestFormatReport(t *testing.T) {
	report := analytics.Report{
		Total:      3,
		ByLevel:    map[string]int{"INFO": 2, "CRIT": 1},
		ByEvent:    map[string]int{"cooldown_deleted": 2, "captcha_failed": 1},
		Challenges: map[string]int{},
		ModCases:   map[string]int{"kick": 1},
	}
	assert.Equal(t, "Total: 3 | INFO: 2 | WARN: 0 | CRIT: 1", formatReport(report))
	fields := reportFields(report)
	require.Len(t, fields, 3)
	assert.Equal(t, "cooldown_deleted: 2\ncaptcha_failed: 1", fields[0].Value)
	assert.Equal(t, "-", fields[1].Value)
}

func TestHumanizeRemaining(t *testing.T) {
	assert.Equal(t, "3 seconds", humanizeRemaining(2500*time.Millisecond))
	assert.Equal(t, "1 minute", humanizeRemaining(time.Minute))
}

func TestAuditEmbedForwardsWarnings(t *testing.T) {
	at := time.Unix(1700000000, 0)
	embed, ok := auditEmbed(storage.AuditLog{
		GuildID: "g1", UserID: "admin", Level: audit.LevelWarn,
		Event: audit.EventCooldownConfig, Details: "reset", CreatedAt: at,
	})
	require.True(t, ok)
	assert.Equal(t, "WARN", embed.Title)
	assert.Equal(t, "reset", embed.Description)
	assert.Equal(t, colorWarn, embed.Color)
	assert.Equal(t, at.UTC().Format(time.RFC3339), embed.Timestamp)
	require.Len(t, embed.Fields, 2)
	assert.Equal(t, "<@admin>", embed.Fields[1].Value)

	embed, ok = auditEmbed(storage.AuditLog{GuildID: "g1", Level: audit.LevelCrit, Event: "storage"})
	require.True(t, ok)
	assert.Equal(t, colorError, embed.Color)
	assert.Equal(t, "-", embed.Description)
}

func TestAuditEmbedSkipsInfoAndCaptchaEvents(t *testing.T) {
	for _, entry := range []storage.AuditLog{
		{GuildID: "g1", Level: audit.LevelInfo, Event: audit.EventReputationGiven},
		{GuildID: "g1", Level: audit.LevelCrit, Event: audit.EventCaptchaError},
		{GuildID: "g1", Level: audit.LevelWarn, Event: audit.EventCaptchaFailed},
		{Level: audit.LevelWarn, Event: audit.EventCooldownConfig},
	} {
		_, ok := auditEmbed(entry)
		assert.False(t, ok, entry.Event)
	}
}
