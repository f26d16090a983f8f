package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stefmmm/Predeactor-Cogs/internal/analytics"
	"github.com/stefmmm/Predeactor-Cogs/internal/modules/audit"
	"github.com/stefmmm/Predeactor-Cogs/internal/modules/captcher"
	"github.com/stefmmm/Predeactor-Cogs/internal/modules/reputation"
	"github.com/stefmmm/Predeactor-Cogs/internal/storage"
	"github.com/stefmmm/Predeactor-Cogs/internal/utils"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

const colorError = 0xED4245

type commandFunc func(ctx context.Context, session *discordgo.Session, r *reply, cmd command) error

var errGuildOnly = errors.New("command only works in a server")

func (b *Bot) commandHandlers() map[string]commandFunc {
	return map[string]commandFunc{
		"captcher":     b.handleCaptcher,
		"slow":         b.handleSlow,
		"bypass":       b.handleBypass,
		"slowset":      b.handleSlowset,
		"rep":          b.handleRep,
		"repset":       b.handleRepset,
		"repboard":     b.handleRepboard,
		"count":        b.handleCount,
		"shorten":      b.handleShorten,
		"lyrics":       b.handleLyrics,
		"coronavirus":  b.handleCoronavirus,
		"ask":          b.handleAsk,
		"conversation": b.handleConversation,
		"report":       b.handleReport,
	}
}

func (b *Bot) onInteractionCreate(session *discordgo.Session, interaction *discordgo.InteractionCreate) {
	if interaction.Type != discordgo.InteractionApplicationCommand {
		return
	}

	ctx := context.Background()
	cmd := parseCommand(interaction.Interaction)
	handler, ok := b.handlers[cmd.root()]
	if !ok {
		return
	}
	isBot := cmd.user != nil && cmd.user.Bot
	b.counter.Record(cmd.name, isBot)

	r := newReply(session, interaction.Interaction)
	err := handler(ctx, session, r, cmd)
	if err == nil {
		return
	}
	if errors.Is(err, errGuildOnly) {
		r.ephemeral = true
		_ = r.text("This command only works in a server.")
		return
	}
	b.counter.RecordError(cmd.name, isBot)
	b.logger.Error("command failed",
		zap.String("command", cmd.name),
		zap.String("guild_id", cmd.guildID),
		zap.String("user_id", cmd.userID()),
		zap.Error(err),
	)
	r.ephemeral = true
	_ = r.embed(commandEmbed("Command failed", fmt.Sprintf("Something went wrong while running `/%s`.", cmd.name), colorError, nil))
}

func (b *Bot) handleCaptcher(ctx context.Context, session *discordgo.Session, r *reply, cmd command) error {
	if cmd.guildID == "" {
		return errGuildOnly
	}
	switch cmd.name {
	case "captcher settings":
		settings, err := b.captcher.Settings(ctx, cmd.guildID)
		if err != nil {
			return err
		}
		return r.embed(captcherSettingsEmbed(settings, b.cfg.EmbedColor))

	case "captcher giverole":
		roleID := cmd.id("role")
		current, err := b.captcher.Settings(ctx, cmd.guildID)
		if err != nil {
			return err
		}
		if roleID == "" && current.GiveRoleID == "" {
			return r.text("There's no role in configuration.")
		}
		if _, err := b.captcher.SetGiveRole(ctx, cmd.guildID, roleID); err != nil {
			return err
		}
		if roleID == "" {
			return r.text("Role configuration removed.")
		}
		return r.textf("%s will be given when members pass the captcha.", cmd.roleName(roleID))

	case "captcher temprole":
		roleID := cmd.id("role")
		current, err := b.captcher.Settings(ctx, cmd.guildID)
		if err != nil {
			return err
		}
		if roleID == "" && current.TempRoleID == "" {
			return r.text("There's no temporary role in configuration.")
		}
		if _, err := b.captcher.SetTempRole(ctx, cmd.guildID, roleID); err != nil {
			return err
		}
		if roleID == "" {
			return r.text("Temporary role configuration removed.")
		}
		return r.textf("%s will be given when members start the captcha.", cmd.roleName(roleID))

	case "captcher channel":
		return b.captcherChannel(ctx, session, r, cmd, false)

	case "captcher logs":
		return b.captcherChannel(ctx, session, r, cmd, true)

	case "captcher activate":
		enabled, _ := cmd.boolean("enabled")
		_, err := b.captcher.Activate(ctx, session, cmd.guildID, enabled)
		var permErr *captcher.PermissionError
		switch {
		case errors.As(err, &permErr):
			return r.text(permErr.Error())
		case errors.Is(err, captcher.ErrNoVerificationChannel):
			return r.text("Cannot complete request: No channel are configured.")
		case errors.Is(err, captcher.ErrNoTempRole):
			return r.text("Cannot complete request: No temporary role are configured.")
		case err != nil:
			return err
		}
		if enabled {
			return r.text("Captcher is now activate.")
		}
		return r.text("Captcher is now deactivate.")

	case "captcher challenge":
		return b.captcherChallenge(ctx, session, r, cmd)
	}
	return fmt.Errorf("unknown command %q", cmd.name)
}

func (b *Bot) captcherChannel(ctx context.Context, session *discordgo.Session, r *reply, cmd command, logs bool) error {
	channel := cmd.channelOption("channel")
	current, err := b.captcher.Settings(ctx, cmd.guildID)
	if err != nil {
		return err
	}

	channelID := ""
	if channel != nil {
		channelID = channel.ID
	}
	configured := current.VerificationChannelID
	set := b.captcher.SetVerificationChannel
	if logs {
		configured = current.LogsChannelID
		set = b.captcher.SetLogsChannel
	}

	if channelID == "" && configured == "" {
		if logs {
			return r.text("There's no logs channel configured")
		}
		return r.text("There's no verification channel configured.")
	}
	_, err = set(ctx, session, cmd.guildID, channelID)
	var permErr *captcher.PermissionError
	if errors.As(err, &permErr) {
		return r.text(permErr.Error())
	}
	if err != nil {
		return err
	}

	switch {
	case channelID == "" && logs:
		return r.text("Logging channel configuration removed.")
	case channelID == "":
		return r.text("Verification channel configuration removed.")
	case logs:
		return r.textf("%s will be used for captcha logs.", channel.Name)
	}
	return r.textf("%s will be used when members must pass the captcha.", channel.Name)
}

func (b *Bot) captcherChallenge(ctx context.Context, session *discordgo.Session, r *reply, cmd command) error {
	member := cmd.memberOption("user")
	if member == nil {
		return errors.New("missing member")
	}
	if member.User.Bot {
		return r.text("Bots are my friend, I cannot let you do that to them.")
	}
	method, err := captcher.ParseMethod(cmd.str("method"))
	if err != nil {
		return r.text("This method is not available.")
	}
	if err := r.textf("Challenging %s, I will tell you how it ends.", member.User.Mention()); err != nil {
		return err
	}

	outcome, err := b.captcher.Rechallenge(ctx, session, member, method, cmd.userName())
	switch {
	case errors.Is(err, captcher.ErrNoVerificationChannel):
		return r.text("I cannot find the verification channel, please add one again.")
	case errors.Is(err, captcher.ErrNoGiveRole):
		return r.text("I cannot find the configured role, choose another method or add a new role.")
	case errors.Is(err, captcher.ErrAlreadyChallenged):
		return r.textf("%s is already passing the captcha.", member.User.Username)
	case err != nil && outcome == captcher.OutcomeAborted:
		return err
	}
	return r.textf("Challenge of %s ended: %s.", member.User.Username, strings.ReplaceAll(string(outcome), "_", " "))
}

func captcherSettingsEmbed(settings storage.CaptcherSettings, color int) *discordgo.MessageEmbed {
	value := func(id string, mention func(string) string) string {
		if id == "" {
			return "Not set"
		}
		return mention(id)
	}
	state := "Captcher is deactivated."
	if settings.Active {
		state = "Captcher is activated."
	}
	return commandEmbed("Captcher settings", state, color, []*discordgo.MessageEmbedField{
		{Name: "Verification channel", Value: value(settings.VerificationChannelID, channelMention), Inline: true},
		{Name: "Logs channel", Value: value(settings.LogsChannelID, channelMention), Inline: true},
		{Name: "Temporary role", Value: value(settings.TempRoleID, roleMention), Inline: true},
		{Name: "Role given", Value: value(settings.GiveRoleID, roleMention), Inline: true},
	})
}

func (b *Bot) handleRep(ctx context.Context, session *discordgo.Session, r *reply, cmd command) error {
	if cmd.guildID == "" {
		return errGuildOnly
	}
	receiver := cmd.userOption("user")
	if receiver == nil || cmd.user == nil {
		return errors.New("missing user")
	}
	gift, err := b.reputation.Give(ctx, cmd.guildID, cmd.user, receiver)
	var cooldownErr *reputation.CooldownError
	switch {
	case errors.Is(err, reputation.ErrBotRep):
		return r.text(reputation.BotRefusal)
	case errors.Is(err, reputation.ErrSelfRep):
		return r.text(reputation.SelfRefusal)
	case errors.As(err, &cooldownErr):
		r.ephemeral = true
		return r.textf("This command is on cooldown. Try again in %s.", humanizeRemaining(cooldownErr.Remaining))
	case err != nil:
		return err
	}
	return r.text(gift.Message())
}

func (b *Bot) handleRepset(ctx context.Context, session *discordgo.Session, r *reply, cmd command) error {
	enabled, _ := cmd.boolean("enabled")
	if err := b.reputation.SetMention(ctx, cmd.userID(), enabled); err != nil {
		return err
	}
	r.ephemeral = true
	if enabled {
		return r.text("You will be mentioned when receiving reputation points.")
	}
	return r.text("You won't be mentioned anymore when receiving reputation points.")
}

func (b *Bot) handleRepboard(ctx context.Context, session *discordgo.Session, r *reply, cmd command) error {
	board, err := b.reputation.Leaderboard(ctx, session, cmd.channelID, cmd.userID(), cmd.integer("page", 1))
	var (
		cooldownErr *reputation.CooldownError
		pageErr     *reputation.PageError
	)
	switch {
	case errors.Is(err, reputation.ErrEmptyBoard):
		return r.text(reputation.EmptyBoard)
	case errors.As(err, &pageErr):
		return r.text(pageErr.Error())
	case errors.As(err, &cooldownErr):
		r.ephemeral = true
		return r.textf("This command is on cooldown. Try again in %s.", humanizeRemaining(cooldownErr.Remaining))
	case err != nil:
		return err
	}
	return r.text("```md\n" + board.Body + "\n```")
}

func (b *Bot) handleCount(ctx context.Context, session *discordgo.Session, r *reply, cmd command) error {
	if cmd.name == "count all" {
		return r.long(b.counter.DescribeAll())
	}
	return r.text(b.counter.Describe(cmd.str("name")))
}

func (b *Bot) handleReport(ctx context.Context, session *discordgo.Session, r *reply, cmd command) error {
	if cmd.guildID == "" {
		return errGuildOnly
	}
	since := time.Now().Add(-24 * time.Hour)
	if cmd.str("period") == "week" {
		since = time.Now().Add(-7 * 24 * time.Hour)
	}
	report, err := b.analytics.Report(ctx, cmd.guildID, since)
	if err != nil {
		return err
	}
	r.ephemeral = true
	return r.embed(commandEmbed("Report", formatReport(report), b.cfg.EmbedColor, reportFields(report)))
}

func formatReport(report analytics.Report) string {
	return fmt.Sprintf("Total: %d | INFO: %d | WARN: %d | CRIT: %d",
		report.Total, report.ByLevel[audit.LevelInfo], report.ByLevel[audit.LevelWarn], report.ByLevel[audit.LevelCrit])
}

func reportFields(report analytics.Report) []*discordgo.MessageEmbedField {
	breakdown := func(values map[string]int) string {
		sorted := analytics.Sorted(values)
		if len(sorted) == 0 {
			return "-"
		}
		lines := make([]string, 0, len(sorted))
		for _, count := range sorted {
			lines = append(lines, fmt.Sprintf("%s: %d", count.Key, count.Value))
		}
		return strings.Join(lines, "\n")
	}
	return []*discordgo.MessageEmbedField{
		{Name: "Events", Value: breakdown(report.ByEvent), Inline: true},
		{Name: "Captchas", Value: breakdown(report.Challenges), Inline: true},
		{Name: "Mod cases", Value: breakdown(report.ModCases), Inline: true},
	}
}

// humanizeRemaining rounds up to the next second so a wait never reads as zero.
func humanizeRemaining(d time.Duration) string {
	return utils.HumanizeDuration(d.Truncate(time.Second) + roundUp(d))
}

func roundUp(d time.Duration) time.Duration {
	if d%time.Second == 0 {
		return 0
	}
	return time.Second
}
