package bot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stefmmm/Predeactor-Cogs/internal/modules/cleverbot"
	"github.com/stefmmm/Predeactor-Cogs/internal/modules/lyrics"
	"github.com/stefmmm/Predeactor-Cogs/internal/modules/shortener"
	"github.com/stefmmm/Predeactor-Cogs/internal/utils"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

func (b *Bot) handleShorten(ctx context.Context, session *discordgo.Session, r *reply, cmd command) error {
	if !b.shortener.Configured() {
		return r.text(shortener.Message(shortener.ErrNotConfigured))
	}
	if err := r.deferred(); err != nil {
		return err
	}
	res, err := b.shortener.Shorten(ctx, cmd.str("link"))
	if errors.Is(err, shortener.ErrInvalidLink) || errors.Is(err, shortener.ErrServer) {
		return r.text(shortener.Message(err))
	}
	if err != nil {
		return err
	}

	dmed := false
	if dm, err := session.UserChannelCreate(cmd.userID()); err == nil {
		_, err = session.ChannelMessageSendEmbed(dm.ID, shortener.DeletionEmbed(res, b.cfg.EmbedColor))
		dmed = err == nil
	}
	return r.embed(shortener.ResultEmbed(res, dmed, b.cfg.EmbedColor))
}

func (b *Bot) handleLyrics(ctx context.Context, session *discordgo.Session, r *reply, cmd command) error {
	if !b.lyrics.Configured() {
		return r.text(lyrics.Message(lyrics.ErrNotConfigured))
	}
	release, err := b.lyrics.Acquire(cmd.userID())
	if err != nil {
		r.ephemeral = true
		return r.text(lyrics.Message(err))
	}
	defer release()

	if err := r.deferred(); err != nil {
		return err
	}
	songs, err := b.lyrics.Search(ctx, lyrics.CleanTitle(cmd.str("song")))
	if err != nil {
		if !errors.Is(err, lyrics.ErrNoResults) {
			b.logger.Warn("lyrics search failed", zap.String("user_id", cmd.userID()), zap.Error(err))
		}
		return r.text(lyrics.Message(err))
	}
	if err := r.long(lyrics.Prompt(songs)); err != nil {
		return err
	}

	timeout := time.Duration(b.cfg.Lyrics.ChoiceTimeoutSeconds) * time.Second
	answer, err := b.waiter.WaitFor(ctx, timeout, utils.SameContext(cmd.channelID, cmd.userID()))
	if errors.Is(err, utils.ErrWaitTimeout) {
		return r.text(lyrics.SilentReply)
	}
	if err != nil {
		return err
	}
	song, ok := lyrics.Pick(songs, answer.Content)
	if !ok {
		return r.text(lyrics.UnknownPick)
	}

	avatar := ""
	if session.State.User != nil {
		avatar = session.State.User.AvatarURL("")
	}
	for _, embed := range lyrics.Embeds(song, b.cfg.EmbedColor, avatar) {
		if err := r.embed(embed); err != nil {
			return err
		}
	}
	return nil
}

func (b *Bot) handleCoronavirus(ctx context.Context, session *discordgo.Session, r *reply, cmd command) error {
	if err := r.deferred(); err != nil {
		return err
	}
	stats, err := b.corona.Latest(ctx)
	if err != nil {
		b.logger.Warn("coronavirus stats", zap.Error(err))
		return r.text("The statistics API is not answering, please try again later.")
	}
	return r.text(stats.String())
}

func (b *Bot) handleAsk(ctx context.Context, session *discordgo.Session, r *reply, cmd command) error {
	if !b.clever.Configured() {
		return r.text(cleverbotUnavailable)
	}
	if err := r.deferred(); err != nil {
		return err
	}
	answer, err := b.clever.Ask(ctx, cmd.userID(), cmd.str("question"))
	var cooldownErr *cleverbot.CooldownError
	switch {
	case errors.As(err, &cooldownErr):
		return r.textf("This command is on cooldown. Try again in %s.", humanizeRemaining(cooldownErr.Remaining))
	case err != nil:
		return r.text(cleverbotFailure(err))
	}
	return r.text(answer)
}

func (b *Bot) handleConversation(ctx context.Context, session *discordgo.Session, r *reply, cmd command) error {
	if cmd.guildID == "" {
		return errGuildOnly
	}
	started, err := b.clever.Start(cmd.channelID, cmd.userID())
	if errors.Is(err, cleverbot.ErrNotConfigured) {
		return r.text(cleverbotUnavailable)
	}
	if err != nil {
		return err
	}
	if !started {
		r.ephemeral = true
		return r.text(cleverbot.AlreadyActive)
	}
	return r.text(cleverbot.StartMessage)
}

const cleverbotUnavailable = "The API key is not registered, the command is unavailable."

func cleverbotFailure(err error) string {
	switch {
	case errors.Is(err, cleverbot.ErrNotConfigured):
		return cleverbotUnavailable
	case errors.Is(err, cleverbot.ErrInvalidKey):
		return "The API key is not valid. Please contact the bot owner."
	}
	return fmt.Sprintf("An error happened: %v", err)
}
