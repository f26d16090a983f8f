package bot

import (
	"strings"

	"github.com/bwmarrin/discordgo"
)

// command is a flattened slash command invocation: the subcommand path is folded into
// name ("slow channel add") and the leaf options are indexed by name.
type command struct {
	name      string
	guildID   string
	channelID string
	user      *discordgo.User
	member    *discordgo.Member
	options   map[string]*discordgo.ApplicationCommandInteractionDataOption
	resolved  *discordgo.ApplicationCommandInteractionDataResolved
}

func parseCommand(interaction *discordgo.Interaction) command {
	data := interaction.ApplicationCommandData()
	cmd := command{
		name:      data.Name,
		guildID:   interaction.GuildID,
		channelID: interaction.ChannelID,
		member:    interaction.Member,
		user:      interaction.User,
		options:   make(map[string]*discordgo.ApplicationCommandInteractionDataOption),
		resolved:  data.Resolved,
	}
	if cmd.user == nil && interaction.Member != nil {
		cmd.user = interaction.Member.User
	}

	options := data.Options
	for len(options) == 1 && isSubcommand(options[0].Type) {
		cmd.name += " " + options[0].Name
		options = options[0].Options
	}
	for _, option := range options {
		cmd.options[option.Name] = option
	}
	return cmd
}

func isSubcommand(t discordgo.ApplicationCommandOptionType) bool {
	return t == discordgo.ApplicationCommandOptionSubCommand || t == discordgo.ApplicationCommandOptionSubCommandGroup
}

func (c command) has(name string) bool {
	_, ok := c.options[name]
	return ok
}

func (c command) str(name string) string {
	if option, ok := c.options[name]; ok {
		if value, ok := option.Value.(string); ok {
			return value
		}
	}
	return ""
}

func (c command) integer(name string, fallback int) int {
	if option, ok := c.options[name]; ok {
		if value, ok := option.Value.(float64); ok {
			return int(value)
		}
	}
	return fallback
}

func (c command) boolean(name string) (bool, bool) {
	if option, ok := c.options[name]; ok {
		value, ok := option.Value.(bool)
		return value, ok
	}
	return false, false
}

func (c command) id(name string) string {
	return c.str(name)
}

// userOption resolves a user option from the interaction payload.
func (c command) userOption(name string) *discordgo.User {
	id := c.id(name)
	if id == "" {
		return nil
	}
	if c.resolved != nil {
		if user, ok := c.resolved.Users[id]; ok {
			return user
		}
	}
	return &discordgo.User{ID: id}
}

// memberOption returns the guild member behind a user option, with its user attached.
func (c command) memberOption(name string) *discordgo.Member {
	user := c.userOption(name)
	if user == nil {
		return nil
	}
	member := &discordgo.Member{GuildID: c.guildID, User: user}
	if c.resolved != nil {
		if resolved, ok := c.resolved.Members[user.ID]; ok && resolved != nil {
			copied := *resolved
			copied.GuildID = c.guildID
			copied.User = user
			member = &copied
		}
	}
	return member
}

// users collects the user options whose names start with prefix, in option order.
func (c command) users(prefix string) []*discordgo.User {
	var out []*discordgo.User
	for _, name := range []string{prefix, prefix + "2", prefix + "3"} {
		if user := c.userOption(name); user != nil {
			out = append(out, user)
		}
	}
	return out
}

func (c command) ids(prefix string) []string {
	var out []string
	for _, name := range []string{prefix, prefix + "2", prefix + "3"} {
		if id := c.id(name); id != "" {
			out = append(out, id)
		}
	}
	return out
}

func (c command) roleName(id string) string {
	if c.resolved != nil {
		if role, ok := c.resolved.Roles[id]; ok && role != nil {
			return role.Name
		}
	}
	return id
}

// channelOption returns the resolved channel, which only carries id, name, type and parent.
func (c command) channelOption(name string) *discordgo.Channel {
	id := c.id(name)
	if id == "" {
		return nil
	}
	if c.resolved != nil {
		if channel, ok := c.resolved.Channels[id]; ok && channel != nil {
			copied := *channel
			if copied.GuildID == "" {
				copied.GuildID = c.guildID
			}
			return &copied
		}
	}
	return &discordgo.Channel{ID: id, GuildID: c.guildID}
}

func (c command) userName() string {
	if c.user == nil {
		return "unknown"
	}
	return c.user.Username
}

func (c command) userID() string {
	if c.user == nil {
		return ""
	}
	return c.user.ID
}

// root is the top level command name.
func (c command) root() string {
	name, _, _ := strings.Cut(c.name, " ")
	return name
}
