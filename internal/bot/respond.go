package bot

import (
	"fmt"
	"strings"
	"time"

	"github.com/stefmmm/Predeactor-Cogs/internal/utils"

	"github.com/bwmarrin/discordgo"
)

// Responder is the part of the session used to answer interactions.
type Responder interface {
	InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
	FollowupMessageCreate(interaction *discordgo.Interaction, wait bool, data *discordgo.WebhookParams, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// reply answers one interaction. The first message is the interaction response, every
// later one is sent as a followup.
type reply struct {
	session     Responder
	interaction *discordgo.Interaction
	ephemeral   bool
	sent        bool
}

func newReply(session Responder, interaction *discordgo.Interaction) *reply {
	return &reply{session: session, interaction: interaction}
}

func (r *reply) flags() discordgo.MessageFlags {
	if r.ephemeral {
		return discordgo.MessageFlagsEphemeral
	}
	return 0
}

// deferred acknowledges the interaction before a slow call.
func (r *reply) deferred() error {
	if r.sent {
		return nil
	}
	r.sent = true
	return r.session.InteractionRespond(r.interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: r.flags()},
	})
}

func (r *reply) text(content string) error {
	return r.send(content, nil)
}

// textf sends a formatted line.
func (r *reply) textf(format string, args ...any) error {
	return r.send(fmt.Sprintf(format, args...), nil)
}

// long splits content into message sized pages.
func (r *reply) long(content string) error {
	for _, page := range utils.Pagify(content, utils.MaxMessageLength) {
		if err := r.send(page, nil); err != nil {
			return err
		}
	}
	return nil
}

func (r *reply) embed(embeds ...*discordgo.MessageEmbed) error {
	return r.send("", embeds)
}

func (r *reply) send(content string, embeds []*discordgo.MessageEmbed) error {
	if !r.sent {
		r.sent = true
		return r.session.InteractionRespond(r.interaction, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{
				Content: content,
				Embeds:  embeds,
				Flags:   r.flags(),
			},
		})
	}
	_, err := r.session.FollowupMessageCreate(r.interaction, true, &discordgo.WebhookParams{
		Content: content,
		Embeds:  embeds,
		Flags:   r.flags(),
	})
	return err
}

func commandEmbed(title, description string, color int, fields []*discordgo.MessageEmbedField) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       title,
		Description: description,
		Color:       color,
		Timestamp:   time.Now().Format(time.RFC3339),
		Fields:      fields,
	}
}

// humanizeList joins items as "a, b and c".
func humanizeList(items []string) string {
	switch len(items) {
	case 0:
		return ""
	case 1:
		return items[0]
	}
	return strings.Join(items[:len(items)-1], ", ") + " and " + items[len(items)-1]
}

func channelMention(id string) string { return "<#" + id + ">" }

func roleMention(id string) string { return "<@&" + id + ">" }
