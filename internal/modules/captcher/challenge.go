package captcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/stefmmm/Predeactor-Cogs/internal/modules/audit"
	"github.com/stefmmm/Predeactor-Cogs/internal/storage"
	"github.com/stefmmm/Predeactor-Cogs/internal/utils"

	"github.com/bwmarrin/discordgo"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Outcome string

const (
	OutcomePassed   Outcome = "passed"
	OutcomeFailed   Outcome = "failed"
	OutcomeTimedOut Outcome = "timed_out"
	OutcomeAborted  Outcome = "aborted"
)

const KickReason = "Automatic kick by Captcher. Either not answering or wrong in answering to captcha."

const (
	levelStarted   = "started"
	levelError     = "error"
	levelCompleted = "completed"
	levelFailed    = "failed"
)

func challengeText(mention string) string {
	return fmt.Sprintf("Hello %s, this server includes an extra security layer to protect its members. "+
		"You're asked to complete a security captcha in order to join this server. If you fail or take "+
		"too much time to answer (5 minutes), you will be automatically kicked from this server.\n"+
		"Note: The captcha doesn't include space.", mention)
}

func timeoutText(guildName string) string {
	return fmt.Sprintf("Hello, you've been automatically kicked from %s for not answering the captcha to "+
		"enter into the server. You can come back and complete the captcha again.", guildName)
}

// Challenge runs one verification for member in channelID and returns how it ended. The
// challenge, answer and result messages are always removed before it returns.
func (m *Module) Challenge(ctx context.Context, session Session, member *discordgo.Member, channelID, reason string) (Outcome, error) {
	if member == nil || member.User == nil {
		return OutcomeAborted, errors.New("member required")
	}
	if member.User.Bot {
		return OutcomeAborted, ErrBotMember
	}
	if !m.claim(member) {
		return OutcomeAborted, ErrAlreadyChallenged
	}
	defer m.release(member)
	return m.run(ctx, session, member, channelID, reason)
}

// run is the verification itself. The caller holds the member's claim.
func (m *Module) run(ctx context.Context, session Session, member *discordgo.Member, channelID, reason string) (Outcome, error) {
	guildID, userID := member.GuildID, member.User.ID
	settings, err := m.store.GetCaptcherSettings(ctx, guildID)
	if err != nil {
		return OutcomeAborted, err
	}

	code, err := m.newCode()
	if err != nil {
		return OutcomeAborted, err
	}
	picture, err := RenderCode(code, m.cfg.ImageWidth, m.cfg.ImageHeight)
	if err != nil {
		return OutcomeAborted, err
	}

	sessionID := uuid.NewString()
	if err := m.store.RecordChallenge(ctx, storage.ChallengeRecord{
		ID:        sessionID,
		GuildID:   guildID,
		UserID:    userID,
		ChannelID: channelID,
		Reason:    reason,
		StartedAt: m.clock.Now(),
	}); err != nil {
		m.logger.Warn("record challenge failed", zap.String("guild_id", guildID), zap.Error(err))
	}

	if settings.TempRoleID != "" {
		if err := session.GuildMemberRoleAdd(guildID, userID, settings.TempRoleID); err != nil {
			m.report(ctx, session, member, levelError, fmt.Sprintf("Cannot add temporary role to %s: %v", memberName(member), err))
		}
	}
	m.report(ctx, session, member, levelStarted, reason)
	m.audit.Log(ctx, audit.LevelInfo, guildID, userID, audit.EventCaptchaStarted, "session="+sessionID+" reason="+reason)

	prompt, err := session.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
		Content: challengeText(member.Mention()),
		Files: []*discordgo.File{{
			Name:        userID + "-captcha.png",
			ContentType: "image/png",
			Reader:      bytes.NewReader(picture),
		}},
	})
	if err != nil {
		m.logger.Warn("unable to send captcha", zap.String("guild_id", guildID), zap.String("channel_id", channelID), zap.Error(err))
		m.report(ctx, session, member, levelError, "Unable to send message in configured channel.")
		m.finish(ctx, sessionID, OutcomeAborted)
		return OutcomeAborted, fmt.Errorf("send challenge: %w", err)
	}

	var cleanup []*discordgo.Message
	cleanup = append(cleanup, prompt)

	outcome := OutcomeFailed
	answer, err := m.waiter.WaitFor(ctx, m.cfg.Timeout, utils.SameContext(channelID, userID))
	switch {
	case err == nil:
		cleanup = append(cleanup, answer)
		if answer.Content == code {
			outcome = OutcomePassed
		}
	case errors.Is(err, utils.ErrWaitTimeout):
		outcome = OutcomeTimedOut
	default:
		m.deleteMessages(session, cleanup)
		m.finish(ctx, sessionID, OutcomeAborted)
		return OutcomeAborted, err
	}

	if outcome == OutcomePassed {
		if result := m.send(session, channelID, fmt.Sprintf("%s, you passed the verification.", member.Mention())); result != nil {
			cleanup = append(cleanup, result)
		}
		if granted, ok := m.giveRoles(ctx, session, member, settings); ok {
			m.report(ctx, session, member, levelCompleted, fmt.Sprintf("%s: Received %s and/or removed temporary role.", memberName(member), granted))
		} else {
			m.report(ctx, session, member, levelCompleted, "Unable to give and remove roles.")
		}
		m.audit.Log(ctx, audit.LevelInfo, guildID, userID, audit.EventCaptchaPassed, "session="+sessionID)
	} else {
		if err := session.ChannelPermissionSet(channelID, userID, discordgo.PermissionOverwriteTypeMember, 0, discordgo.PermissionSendMessages); err != nil {
			m.report(ctx, session, member, levelError, fmt.Sprintf("Cannot mute %s in channel before kicking.", memberName(member)))
		}
		if outcome == OutcomeFailed {
			if result := m.send(session, channelID, fmt.Sprintf("%s, your captcha is wrong.", member.Mention())); result != nil {
				cleanup = append(cleanup, result)
			}
		} else {
			m.notifyTimeout(session, member)
		}
	}

	m.deleteMessages(session, cleanup[:1])
	m.linger(ctx)

	if outcome != OutcomePassed {
		m.kick(ctx, session, member, outcome)
		if err := session.ChannelPermissionDelete(channelID, userID); err != nil {
			m.report(ctx, session, member, levelError, fmt.Sprintf("Cannot unmute %s in channel after kicking.", memberName(member)))
		}
	}

	m.deleteMessages(session, cleanup[1:])
	m.finish(ctx, sessionID, outcome)
	return outcome, nil
}

// giveRoles adds the success role and drops the temporary one. It returns what was granted.
func (m *Module) giveRoles(ctx context.Context, session Session, member *discordgo.Member, settings storage.CaptcherSettings) (string, bool) {
	granted := "no role"
	if settings.GiveRoleID != "" {
		if err := session.GuildMemberRoleAdd(member.GuildID, member.User.ID, settings.GiveRoleID); err != nil {
			m.report(ctx, session, member, levelError, "Missing permissions to give/remove roles.")
			return "", false
		}
		granted = "<@&" + settings.GiveRoleID + ">"
	}
	if settings.TempRoleID != "" {
		if err := session.GuildMemberRoleRemove(member.GuildID, member.User.ID, settings.TempRoleID); err != nil {
			m.report(ctx, session, member, levelError, "Missing permissions to give/remove roles.")
			return "", false
		}
	}
	return granted, true
}

func (m *Module) kick(ctx context.Context, session Session, member *discordgo.Member, outcome Outcome) {
	guildID, userID := member.GuildID, member.User.ID
	if err := session.GuildMemberDeleteWithReason(guildID, userID, KickReason); err != nil {
		m.logger.Warn("unable to kick member", zap.String("guild_id", guildID), zap.String("user_id", userID), zap.Error(err))
		m.report(ctx, session, member, levelError, fmt.Sprintf("Unable to kick %s.", memberName(member)))
		m.audit.Log(ctx, audit.LevelCrit, guildID, userID, audit.EventCaptchaError, "kick failed: "+err.Error())
		return
	}
	if _, err := m.store.AddModCase(ctx, storage.ModCase{
		GuildID:     guildID,
		Action:      "kick",
		UserID:      userID,
		ModeratorID: m.botUser(),
		Reason:      KickReason,
		CreatedAt:   m.clock.Now(),
	}); err != nil {
		m.logger.Warn("mod case failed", zap.String("guild_id", guildID), zap.Error(err))
	}
	m.report(ctx, session, member, levelFailed, "Failed the captcha.")
	m.audit.Log(ctx, audit.LevelWarn, guildID, userID, audit.EventCaptchaFailed, "outcome="+string(outcome))
}

func (m *Module) notifyTimeout(session Session, member *discordgo.Member) {
	dm, err := session.UserChannelCreate(member.User.ID)
	if err != nil {
		return
	}
	guildName := "the server"
	if guild, err := session.Guild(member.GuildID); err == nil && guild.Name != "" {
		guildName = guild.Name
	}
	if _, err := session.ChannelMessageSendComplex(dm.ID, &discordgo.MessageSend{Content: timeoutText(guildName)}); err != nil {
		m.logger.Debug("timeout notice not delivered", zap.String("user_id", member.User.ID), zap.Error(err))
	}
}

func (m *Module) send(session Session, channelID, content string) *discordgo.Message {
	msg, err := session.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
		Content:         content,
		AllowedMentions: &discordgo.MessageAllowedMentions{Parse: []discordgo.AllowedMentionType{discordgo.AllowedMentionTypeUsers}},
	})
	if err != nil {
		m.logger.Warn("captcher send failed", zap.String("channel_id", channelID), zap.Error(err))
		return nil
	}
	return msg
}

func (m *Module) deleteMessages(session Session, messages []*discordgo.Message) {
	for _, msg := range messages {
		if msg == nil {
			continue
		}
		if err := session.ChannelMessageDelete(msg.ChannelID, msg.ID); err != nil {
			m.logger.Warn("captcher cleanup failed", zap.String("channel_id", msg.ChannelID), zap.String("message_id", msg.ID), zap.Error(err))
		}
	}
}

func (m *Module) linger(ctx context.Context) {
	if m.cfg.ResultLinger <= 0 {
		return
	}
	select {
	case <-m.clock.After(m.cfg.ResultLinger):
	case <-ctx.Done():
	}
}

func (m *Module) finish(ctx context.Context, sessionID string, outcome Outcome) {
	if err := m.store.FinishChallenge(ctx, sessionID, string(outcome), m.clock.Now()); err != nil {
		m.logger.Warn("finish challenge failed", zap.String("session_id", sessionID), zap.Error(err))
	}
}

// report narrates a step of the flow in the guild's log channel, if one is configured.
func (m *Module) report(ctx context.Context, session Session, member *discordgo.Member, level, reason string) {
	channelID := m.logChannel(ctx, member)
	if channelID == "" {
		return
	}
	content := reportPrefix(level, memberName(member)) + reason
	_, err := session.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
		Content:         content,
		AllowedMentions: &discordgo.MessageAllowedMentions{},
	})
	if err != nil {
		m.logger.Warn("captcher report failed", zap.String("guild_id", member.GuildID), zap.String("level", level), zap.Error(err))
	}
}

func reportPrefix(level, member string) string {
	switch level {
	case levelStarted:
		return fmt.Sprintf("**ℹ️ %s started a captcha verification:** ", member)
	case levelError:
		return "**🚫 Error while Captcha was running:** "
	case levelCompleted:
		return "**✅ Member has completed Captcha:** "
	case levelFailed:
		return fmt.Sprintf("**👢 %s got kicked:** ", member)
	default:
		return "**Unknown report:** "
	}
}

func (m *Module) logChannel(ctx context.Context, member *discordgo.Member) string {
	key := memberKey(member.GuildID, member.User.ID)
	m.mu.Lock()
	cached, ok := m.logCache[key]
	m.mu.Unlock()
	if ok {
		return cached
	}

	settings, err := m.store.GetCaptcherSettings(ctx, member.GuildID)
	if err != nil {
		m.logger.Warn("captcher settings", zap.String("guild_id", member.GuildID), zap.Error(err))
		return ""
	}
	m.mu.Lock()
	if _, running := m.running[key]; running {
		m.logCache[key] = settings.LogsChannelID
	}
	m.mu.Unlock()
	return settings.LogsChannelID
}
