package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stefmmm/Predeactor-Cogs/internal/modules/cooldown"
	"github.com/stefmmm/Predeactor-Cogs/internal/storage"
	"github.com/stefmmm/Predeactor-Cogs/internal/utils"

	"github.com/bwmarrin/discordgo"
)

const (
	badTime         = "Your time is not correct to me."
	needManage      = "I require the 'Manage messages' permission to let you use this command."
	channelTaken    = "This channel is already added to the cooldown. If you want to edit the cooldown time, use `/slow channel edit`."
	categoryTaken   = "This category is already added to the cooldown. If you want to edit the cooldown time, use `/slow category edit`."
	categoryMissing = "This category is not registered into cooldowned categories.\nUse `/slow category add` first."
)

func (b *Bot) handleSlow(ctx context.Context, session *discordgo.Session, r *reply, cmd command) error {
	if cmd.guildID == "" {
		return errGuildOnly
	}
	switch cmd.name {
	case "slow channel list":
		entries, err := b.cooldown.ListChannels(ctx, cmd.guildID)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			return r.text("There's no channel to show.")
		}
		return r.long(cooldownList(entries, b.stateChannelName(session), "Channel"))

	case "slow category list":
		entries, err := b.cooldown.ListCategories(ctx, cmd.guildID)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			return r.text("There's no category to show.")
		}
		return r.long(cooldownList(entries, b.stateChannelName(session), "Category"))

	case "slow channel add":
		channel := cmd.channelOption("channel")
		if !b.canManageMessages(session, channel.ID) {
			return r.text(needManage)
		}
		d, err := utils.ParseDuration(cmd.str("time"))
		if err != nil {
			return r.text(badTime)
		}
		switch err := b.cooldown.AddChannel(ctx, cmd.guildID, channel.ID, d); {
		case errors.Is(err, cooldown.ErrAlreadyRegistered):
			return r.text(channelTaken)
		case errors.Is(err, cooldown.ErrZeroDuration):
			return r.text(badTime)
		case err != nil:
			return err
		}
		return r.textf("%s is now set at 1 message every %d seconds.", channelMention(channel.ID), int64(d/time.Second))

	case "slow channel edit":
		channel := cmd.channelOption("channel")
		d, err := utils.ParseDuration(cmd.str("time"))
		if err != nil {
			return r.text(badTime)
		}
		switch err := b.cooldown.EditChannel(ctx, cmd.guildID, channel.ID, d); {
		case errors.Is(err, cooldown.ErrNotRegistered):
			return r.textf("%s does not have cooldown.", channelMention(channel.ID))
		case errors.Is(err, cooldown.ErrZeroDuration):
			return r.text(badTime)
		case err != nil:
			return err
		}
		return r.textf("%s is now set at 1 message every %d seconds.", channelMention(channel.ID), int64(d/time.Second))

	case "slow channel delete":
		channel := cmd.channelOption("channel")
		return b.confirmDelete(ctx, r, cmd, channel.Name, "Peace and quiet...", func() error {
			return b.cooldown.DeleteChannel(ctx, cmd.guildID, channel.ID)
		}, fmt.Sprintf("I can't find %s into the configured cooldown.", channelMention(channel.ID)))

	case "slow category add":
		category := cmd.channelOption("category")
		if !b.canManageMessages(session, category.ID) {
			// Categories are registered anyway, the missing permission is only reported.
			if err := r.text(needManage); err != nil {
				return err
			}
		}
		d, err := utils.ParseDuration(cmd.str("time"))
		if err != nil {
			return r.text(badTime)
		}
		switch err := b.cooldown.AddCategory(ctx, cmd.guildID, category, b.children(session, cmd.guildID, category.ID), d); {
		case errors.Is(err, cooldown.ErrAlreadyRegistered):
			return r.text(categoryTaken)
		case errors.Is(err, cooldown.ErrZeroDuration):
			return r.text(badTime)
		case errors.Is(err, cooldown.ErrNotCategory):
			return r.textf("%s is not a category.", category.Name)
		case err != nil:
			return err
		}
		return r.textf("Done! Every %s's channels are now set at 1 message every %d seconds. New channels "+
			"created in this category are picked up automatically, use `/slow category update` to resync it.",
			category.Name, int64(d/time.Second))

	case "slow category edit":
		category := cmd.channelOption("category")
		d, err := utils.ParseDuration(cmd.str("time"))
		if err != nil {
			return r.text(badTime)
		}
		switch err := b.cooldown.EditCategory(ctx, cmd.guildID, category.ID, d); {
		case errors.Is(err, cooldown.ErrNotRegistered):
			return r.textf("%s does not have cooldown.", category.Name)
		case errors.Is(err, cooldown.ErrZeroDuration):
			return r.text(badTime)
		case err != nil:
			return err
		}
		return r.textf("%s is now set at 1 message every %d seconds.", category.Name, int64(d/time.Second))

	case "slow category delete":
		category := cmd.channelOption("category")
		return b.confirmDelete(ctx, r, cmd, category.Name, "Cooldowned, forever...", func() error {
			return b.cooldown.DeleteCategory(ctx, cmd.guildID, category.ID)
		}, fmt.Sprintf("I can't find %s into the configured cooldown.", category.Name))

	case "slow category update":
		category := cmd.channelOption("category")
		err := b.cooldown.UpdateCategory(ctx, cmd.guildID, category.ID, b.children(session, cmd.guildID, category.ID))
		if errors.Is(err, cooldown.ErrNotRegistered) {
			return r.text(categoryMissing)
		}
		if err != nil {
			return err
		}
		return r.text("✅")
	}
	return fmt.Errorf("unknown command %q", cmd.name)
}

// confirmDelete asks the invoker a Y/N question in the channel before running remove.
func (b *Bot) confirmDelete(ctx context.Context, r *reply, cmd command, name, refusal string, remove func() error, missing string) error {
	if err := r.textf("⚠ **Are you sure you want to delete %s data?** (Y/N)", name); err != nil {
		return err
	}
	answer, err := b.waiter.WaitFor(ctx, confirmTimeout, utils.YesOrNo(cmd.channelID, cmd.userID()))
	if errors.Is(err, utils.ErrWaitTimeout) {
		return r.text("No answer received, nothing was deleted.")
	}
	if err != nil {
		return err
	}
	if yes, _ := utils.ParseYesNo(answer.Content); !yes {
		return r.text(refusal)
	}
	switch err := remove(); {
	case errors.Is(err, cooldown.ErrNotRegistered):
		return r.text(missing)
	case err != nil:
		return err
	}
	return r.text("✅")
}

func (b *Bot) handleBypass(ctx context.Context, session *discordgo.Session, r *reply, cmd command) error {
	if cmd.guildID == "" {
		return errGuildOnly
	}
	user := cmd.userOption("user")
	if cmd.name == "bypass channel" {
		channel := cmd.channelOption("channel")
		switch err := b.cooldown.BypassChannel(ctx, cmd.guildID, channel.ID, user.ID); {
		case errors.Is(err, cooldown.ErrNotRegistered):
			return r.textf("%s is not on cooldown.", channelMention(channel.ID))
		case errors.Is(err, cooldown.ErrNotOnCooldown):
			return r.textf("%s is not on cooldown in %s.", user.Username, channelMention(channel.ID))
		case err != nil:
			return err
		}
		return r.textf("%s's cooldown in %s has been reset.", user.Username, channelMention(channel.ID))
	}

	category := cmd.channelOption("category")
	switch err := b.cooldown.BypassCategory(ctx, cmd.guildID, category.ID, user.ID); {
	case errors.Is(err, cooldown.ErrNotRegistered):
		return r.textf("%s category is not on cooldown.", category.Name)
	case errors.Is(err, cooldown.ErrNotOnCooldown):
		return r.textf("%s is not on cooldown in %s.", user.Username, category.Name)
	case err != nil:
		return err
	}
	return r.textf("%s's cooldown in %s has been reset.", user.Username, category.Name)
}

func (b *Bot) handleSlowset(ctx context.Context, session *discordgo.Session, r *reply, cmd command) error {
	if cmd.guildID == "" {
		return errGuildOnly
	}
	actor := cmd.userID()
	switch cmd.name {
	case "slowset dm":
		enabled, _ := cmd.boolean("enabled")
		if err := b.cooldown.SetSendDM(ctx, cmd.guildID, actor, enabled); err != nil {
			return err
		}
		if enabled {
			return r.text("I will now DM users when they trigger the cooldown.")
		}
		return r.text("I won't send DM to users anymore.")

	case "slowset ignorebot":
		enabled, _ := cmd.boolean("enabled")
		if err := b.cooldown.SetIgnoreBot(ctx, cmd.guildID, actor, enabled); err != nil {
			return err
		}
		if enabled {
			return r.text("I will now ignore bot when they send a message in cooldowned channels/category.")
		}
		return r.text("I won't ignore bots anymore.")

	case "slowset ignoreusers list":
		ids, err := b.cooldown.ListIgnoredUsers(ctx, cmd.guildID)
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			return r.text("No users is ignored.")
		}
		return r.long(ignoredList(ids, b.memberName(session, cmd.guildID), "User"))

	case "slowset ignoreusers add":
		users := cmd.users("user")
		report, err := b.cooldown.AddIgnoredUsers(ctx, cmd.guildID, users)
		if err != nil {
			return err
		}
		return b.reportOutcome(r, ignoreAddedText(namesOf(users, report.Bots), namesOf(users, report.Unchanged), "users", "user"))

	case "slowset ignoreusers delete":
		users := cmd.users("user")
		ids := make([]string, 0, len(users))
		for _, user := range users {
			ids = append(ids, user.ID)
		}
		report, err := b.cooldown.RemoveIgnoredUsers(ctx, cmd.guildID, ids)
		if err != nil {
			return err
		}
		return b.reportOutcome(r, ignoreRemovedText(namesOf(users, report.Unchanged), "users"))

	case "slowset ignoreroles list":
		ids, err := b.cooldown.ListIgnoredRoles(ctx, cmd.guildID)
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			return r.text("There's no role to ignore.")
		}
		return r.long(ignoredList(ids, b.roleName(session, cmd.guildID), "Role"))

	case "slowset ignoreroles add":
		report, err := b.cooldown.AddIgnoredRoles(ctx, cmd.guildID, cmd.ids("role"))
		if err != nil {
			return err
		}
		return b.reportOutcome(r, ignoreAddedText(nil, rolesOf(cmd, report.Unchanged), "roles", "role"))

	case "slowset ignoreroles delete":
		report, err := b.cooldown.RemoveIgnoredRoles(ctx, cmd.guildID, cmd.ids("role"))
		if err != nil {
			return err
		}
		return b.reportOutcome(r, ignoreRemovedText(rolesOf(cmd, report.Unchanged), "roles"))

	case "slowset channelmessage", "slowset categorymessage":
		return b.setTemplate(ctx, r, cmd, cmd.name == "slowset categorymessage")

	case "slowset reset":
		return b.confirmReset(ctx, r, cmd)
	}
	return fmt.Errorf("unknown command %q", cmd.name)
}

func (b *Bot) setTemplate(ctx context.Context, r *reply, cmd command, category bool) error {
	message := strings.TrimSpace(cmd.str("message"))
	kind := "Channel"
	if category {
		kind = "Category"
	}
	if message == "" {
		settings, err := b.cooldown.Settings(ctx, cmd.guildID)
		if err != nil {
			return err
		}
		current := cooldown.ChannelMessage(settings)
		if category {
			current = cooldown.CategoryMessage(settings)
		}
		return r.text("Actual message:\n```\n" + current + "\n```")
	}

	set := b.cooldown.SetChannelMessage
	if category {
		set = b.cooldown.SetCategoryMessage
	}
	reset, err := set(ctx, cmd.guildID, cmd.userID(), message)
	if err != nil {
		return err
	}
	if reset {
		return r.textf("%s message set to default.", kind)
	}
	return r.text("The message has been replaced.")
}

func (b *Bot) confirmReset(ctx context.Context, r *reply, cmd command) error {
	if err := r.text("⚠ **Are you sure you want to delete every cooldown setting of this server?** (Y/N)"); err != nil {
		return err
	}
	answer, err := b.waiter.WaitFor(ctx, confirmTimeout, utils.YesOrNo(cmd.channelID, cmd.userID()))
	if errors.Is(err, utils.ErrWaitTimeout) {
		return r.text("No answer received, nothing was deleted.")
	}
	if err != nil {
		return err
	}
	if yes, _ := utils.ParseYesNo(answer.Content); !yes {
		return r.text("Nothing was deleted.")
	}
	ownerID := ""
	if guild, err := b.session.State.Guild(cmd.guildID); err == nil {
		ownerID = guild.OwnerID
	}
	if err := b.cooldown.ResetGuild(ctx, cmd.guildID, cmd.userID(), ownerID); err != nil {
		return err
	}
	return r.text("✅")
}

func (b *Bot) reportOutcome(r *reply, message string) error {
	if message == "" {
		return r.text("✅")
	}
	return r.long(message)
}

func ignoreAddedText(bots, already []string, plural, singular string) string {
	var out strings.Builder
	switch {
	case len(bots) > 1:
		fmt.Fprintf(&out, "Those users are bots and cannot be added: %s\n", humanizeList(bots))
	case len(bots) == 1:
		fmt.Fprintf(&out, "%s is a bot and cannot be added.\n", bots[0])
	}
	switch {
	case len(already) > 1:
		fmt.Fprintf(&out, "Those %s are already ignored: %s", plural, humanizeList(already))
	case len(already) == 1:
		fmt.Fprintf(&out, "%s is already ignored.", already[0])
	}
	return out.String()
}

func ignoreRemovedText(already []string, plural string) string {
	switch {
	case len(already) > 1:
		return fmt.Sprintf("Those %s are already not ignored: %s", plural, humanizeList(already))
	case len(already) == 1:
		return fmt.Sprintf("%s is already not ignored.", already[0])
	}
	return ""
}

func namesOf(users []*discordgo.User, ids []string) []string {
	names := make([]string, 0, len(ids))
	for _, id := range ids {
		name := id
		for _, user := range users {
			if user.ID == id && user.Username != "" {
				name = user.Username
				break
			}
		}
		names = append(names, name)
	}
	return names
}

func rolesOf(cmd command, ids []string) []string {
	names := make([]string, 0, len(ids))
	for _, id := range ids {
		names = append(names, cmd.roleName(id))
	}
	return names
}

// cooldownList renders "- name (`id`) Time: 1 minute." lines. name returns "" for unknown ids.
func cooldownList(entries []storage.CooldownEntry, name func(string) string, kind string) string {
	var out strings.Builder
	for _, entry := range entries {
		label := name(entry.TargetID)
		if label == "" {
			fmt.Fprintf(&out, "- %s not found: %s\n", kind, entry.TargetID)
			continue
		}
		fmt.Fprintf(&out, "- %s (`%s`) Time: %s.\n", label, entry.TargetID,
			utils.HumanizeDuration(time.Duration(entry.Seconds)*time.Second))
	}
	return out.String()
}

func ignoredList(ids []string, name func(string) string, kind string) string {
	var out strings.Builder
	for _, id := range ids {
		label := name(id)
		if label == "" {
			fmt.Fprintf(&out, "- %s not found: %s\n", kind, id)
			continue
		}
		fmt.Fprintf(&out, "- %s (`%s`).\n", label, id)
	}
	return out.String()
}

func (b *Bot) stateChannelName(session *discordgo.Session) func(string) string {
	return func(id string) string {
		channel, err := session.State.Channel(id)
		if err != nil {
			return ""
		}
		return channel.Name
	}
}

func (b *Bot) memberName(session *discordgo.Session, guildID string) func(string) string {
	return func(id string) string {
		member, err := session.State.Member(guildID, id)
		if err != nil || member.User == nil {
			return ""
		}
		return member.User.Username
	}
}

func (b *Bot) roleName(session *discordgo.Session, guildID string) func(string) string {
	return func(id string) string {
		role, err := session.State.Role(guildID, id)
		if err != nil {
			return ""
		}
		return role.Name
	}
}

func (b *Bot) children(session *discordgo.Session, guildID, categoryID string) []string {
	guild, err := session.State.Guild(guildID)
	if err != nil {
		return nil
	}
	return categoryChildren(guild, categoryID)
}

func (b *Bot) canManageMessages(session *discordgo.Session, channelID string) bool {
	if session.State.User == nil {
		return false
	}
	perms, err := session.State.UserChannelPermissions(session.State.User.ID, channelID)
	if err != nil {
		return false
	}
	return perms&(discordgo.PermissionManageMessages|discordgo.PermissionAdministrator) != 0
}
