package bot

import "github.com/bwmarrin/discordgo"

var (
	manageGuild    = int64(discordgo.PermissionManageServer)
	manageMessages = int64(discordgo.PermissionManageMessages)
	guildOnly      = false
)

func option(kind discordgo.ApplicationCommandOptionType, name, description string, required bool) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{Type: kind, Name: name, Description: description, Required: required}
}

func subcommand(name, description string, options ...*discordgo.ApplicationCommandOption) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionSubCommand,
		Name:        name,
		Description: description,
		Options:     options,
	}
}

func group(name, description string, subcommands ...*discordgo.ApplicationCommandOption) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionSubCommandGroup,
		Name:        name,
		Description: description,
		Options:     subcommands,
	}
}

func channelOption(name, description string, required bool, types ...discordgo.ChannelType) *discordgo.ApplicationCommandOption {
	opt := option(discordgo.ApplicationCommandOptionChannel, name, description, required)
	opt.ChannelTypes = types
	return opt
}

func timeOption() *discordgo.ApplicationCommandOption {
	return option(discordgo.ApplicationCommandOptionString, "time", "1 hour, 1h, 1 hour 5 minutes or 2h30m10s", true)
}

func textChannel(required bool) *discordgo.ApplicationCommandOption {
	return channelOption("channel", "Text channel", required, discordgo.ChannelTypeGuildText, discordgo.ChannelTypeGuildNews)
}

func categoryChannel() *discordgo.ApplicationCommandOption {
	return channelOption("category", "Category", true, discordgo.ChannelTypeGuildCategory)
}

func threeOf(kind discordgo.ApplicationCommandOptionType, name, description string) []*discordgo.ApplicationCommandOption {
	return []*discordgo.ApplicationCommandOption{
		option(kind, name, description, true),
		option(kind, name+"2", description, false),
		option(kind, name+"3", description, false),
	}
}

func commandDefinitions() []*discordgo.ApplicationCommand {
	methodChoices := []*discordgo.ApplicationCommandOptionChoice{
		{Name: "remove every role, give them back after", Value: "all"},
		{Name: "remove the configured role", Value: "configured"},
		{Name: "keep roles", Value: "none"},
	}
	challengeMethod := option(discordgo.ApplicationCommandOptionString, "method", "What to do with the member's roles", false)
	challengeMethod.Choices = methodChoices

	page := option(discordgo.ApplicationCommandOptionInteger, "page", "Page number", false)
	minPage := 1.0
	page.MinValue = &minPage

	period := option(discordgo.ApplicationCommandOptionString, "period", "day or week", true)
	period.Choices = []*discordgo.ApplicationCommandOptionChoice{
		{Name: "day", Value: "day"},
		{Name: "week", Value: "week"},
	}

	return []*discordgo.ApplicationCommand{
		{
			Name:                     "captcher",
			Description:              "Configure the captcha verification of new members",
			DefaultMemberPermissions: &manageGuild,
			DMPermission:             &guildOnly,
			Options: []*discordgo.ApplicationCommandOption{
				subcommand("settings", "Show the current configuration"),
				subcommand("channel", "Set the verification channel, nothing to clear it", textChannel(false)),
				subcommand("logs", "Set the log channel, nothing to clear it", textChannel(false)),
				subcommand("giverole", "Role given after a passed verification, nothing to clear it",
					option(discordgo.ApplicationCommandOptionRole, "role", "Role", false)),
				subcommand("temprole", "Role held during the verification, nothing to clear it",
					option(discordgo.ApplicationCommandOptionRole, "role", "Role", false)),
				subcommand("activate", "Switch the verification on or off",
					option(discordgo.ApplicationCommandOptionBoolean, "enabled", "on or off", true)),
				subcommand("challenge", "Make a member pass the verification again",
					option(discordgo.ApplicationCommandOptionUser, "user", "Member", true), challengeMethod),
			},
		},
		{
			Name:                     "slow",
			Description:              "Configure categories and channel cooldown",
			DefaultMemberPermissions: &manageGuild,
			DMPermission:             &guildOnly,
			Options: []*discordgo.ApplicationCommandOption{
				group("channel", "Set channels to cooldown",
					subcommand("list", "List cooldowned channels"),
					subcommand("add", "Add a channel cooldown", textChannel(true), timeOption()),
					subcommand("edit", "Edit a channel cooldown", textChannel(true), timeOption()),
					subcommand("delete", "Delete a channel cooldown", textChannel(true)),
				),
				group("category", "Set categories to cooldown",
					subcommand("list", "List cooldowned categories"),
					subcommand("add", "Add a category cooldown", categoryChannel(), timeOption()),
					subcommand("edit", "Edit a category cooldown", categoryChannel(), timeOption()),
					subcommand("delete", "Delete a category cooldown", categoryChannel()),
					subcommand("update", "Sync the category with its current channels", categoryChannel()),
				),
			},
		},
		{
			Name:                     "bypass",
			Description:              "Bypass a user cooldown",
			DefaultMemberPermissions: &manageMessages,
			DMPermission:             &guildOnly,
			Options: []*discordgo.ApplicationCommandOption{
				subcommand("channel", "Reset the cooldown of a user in a channel",
					option(discordgo.ApplicationCommandOptionUser, "user", "Member", true), textChannel(true)),
				subcommand("category", "Reset the cooldown of a user in a category",
					option(discordgo.ApplicationCommandOptionUser, "user", "Member", true), categoryChannel()),
			},
		},
		{
			Name:                     "slowset",
			Description:              "Set different options for cooldown",
			DefaultMemberPermissions: &manageGuild,
			DMPermission:             &guildOnly,
			Options: []*discordgo.ApplicationCommandOption{
				subcommand("dm", "DM users when they trigger the cooldown",
					option(discordgo.ApplicationCommandOptionBoolean, "enabled", "True or False", true)),
				subcommand("ignorebot", "Ignore bots in cooldowned channels and categories",
					option(discordgo.ApplicationCommandOptionBoolean, "enabled", "True or False", true)),
				group("ignoreusers", "Add or remove users from the ignored list",
					subcommand("list", "List ignored users"),
					subcommand("add", "Add users to the ignored list", threeOf(discordgo.ApplicationCommandOptionUser, "user", "User")...),
					subcommand("delete", "Remove users from the ignored list", threeOf(discordgo.ApplicationCommandOptionUser, "user", "User")...),
				),
				group("ignoreroles", "Add or remove roles from the ignored list",
					subcommand("list", "List ignored roles"),
					subcommand("add", "Add roles to the ignored list", threeOf(discordgo.ApplicationCommandOptionRole, "role", "Role")...),
					subcommand("delete", "Remove roles from the ignored list", threeOf(discordgo.ApplicationCommandOptionRole, "role", "Role")...),
				),
				subcommand("channelmessage", "Message sent when a channel cooldown triggers, None for the default",
					option(discordgo.ApplicationCommandOptionString, "message", "Uses {time}, {member} and {channel}", false)),
				subcommand("categorymessage", "Message sent when a category cooldown triggers, None for the default",
					option(discordgo.ApplicationCommandOptionString, "message", "Uses {time}, {member} and {category}", false)),
				subcommand("reset", "Delete every cooldown setting of this server"),
			},
		},
		{
			Name:         "rep",
			Description:  "Give a reputation point to a user",
			DMPermission: &guildOnly,
			Options: []*discordgo.ApplicationCommandOption{
				option(discordgo.ApplicationCommandOptionUser, "user", "Who deserves it", true),
			},
		},
		{
			Name:        "repset",
			Description: "Reputation preferences",
			Options: []*discordgo.ApplicationCommandOption{
				subcommand("mention", "Be mentioned when receiving a reputation point",
					option(discordgo.ApplicationCommandOptionBoolean, "enabled", "True or False", true)),
			},
		},
		{
			Name:        "repboard",
			Description: "Show the reputation leaderboard",
			Options:     []*discordgo.ApplicationCommandOption{page},
		},
		{
			Name:        "count",
			Description: "Command usage since last reboot",
			Options: []*discordgo.ApplicationCommandOption{
				subcommand("command", "Usage of one command",
					option(discordgo.ApplicationCommandOptionString, "name", "Command name, like slow channel add", true)),
				subcommand("all", "Usage of every command"),
			},
		},
		{
			Name:        "shorten",
			Description: "Shorten a link",
			Options: []*discordgo.ApplicationCommandOption{
				option(discordgo.ApplicationCommandOptionString, "link", "http or https link", true),
			},
		},
		{
			Name:        "lyrics",
			Description: "Get the lyrics of a song",
			Options: []*discordgo.ApplicationCommandOption{
				option(discordgo.ApplicationCommandOptionString, "song", "Song name", true),
			},
		},
		{
			Name:        "coronavirus",
			Description: "Latest worldwide coronavirus statistics",
		},
		{
			Name:        "ask",
			Description: "Ask a single question to the bot",
			Options: []*discordgo.ApplicationCommandOption{
				option(discordgo.ApplicationCommandOptionString, "question", "Your question", true),
			},
		},
		{
			Name:         "conversation",
			Description:  "Start a conversation with the bot in this channel",
			DMPermission: &guildOnly,
		},
		{
			Name:                     "report",
			Description:              "Audit report for this server",
			DefaultMemberPermissions: &manageGuild,
			DMPermission:             &guildOnly,
			Options:                  []*discordgo.ApplicationCommandOption{period},
		},
	}
}

// registerCommands makes the global command set match commandDefinitions and drops
// leftovers, including guild scoped ones.
func (b *Bot) registerCommands() error {
	commands := commandDefinitions()
	appID := b.session.State.User.ID
	existing, err := b.session.ApplicationCommands(appID, "")
	if err != nil {
		_, err := b.session.ApplicationCommandBulkOverwrite(appID, "", commands)
		return err
	}

	existingByName := make(map[string]*discordgo.ApplicationCommand)
	for _, cmd := range existing {
		existingByName[cmd.Name] = cmd
	}

	desired := make(map[string]struct{})
	for _, cmd := range commands {
		desired[cmd.Name] = struct{}{}
		if current, ok := existingByName[cmd.Name]; ok {
			if _, err := b.session.ApplicationCommandEdit(appID, "", current.ID, cmd); err != nil {
				return err
			}
			continue
		}
		if _, err := b.session.ApplicationCommandCreate(appID, "", cmd); err != nil {
			return err
		}
	}

	for _, cmd := range existing {
		if _, ok := desired[cmd.Name]; ok {
			continue
		}
		_ = b.session.ApplicationCommandDelete(appID, "", cmd.ID)
	}

	for _, guild := range b.session.State.Guilds {
		if guild == nil {
			continue
		}
		guildCmds, err := b.session.ApplicationCommands(appID, guild.ID)
		if err != nil {
			continue
		}
		for _, cmd := range guildCmds {
			_ = b.session.ApplicationCommandDelete(appID, guild.ID, cmd.ID)
		}
	}
	return nil
}
