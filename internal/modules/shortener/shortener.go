package shortener

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/stefmmm/Predeactor-Cogs/internal/utils"

	"github.com/bwmarrin/discordgo"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

var (
	ErrInvalidLink   = errors.New("invalid link")
	ErrNotConfigured = errors.New("shortener url is not configured")
	ErrServer        = errors.New("shortener returned an error")
)

// Message turns a Shorten error into the reply shown to the user.
func Message(err error) string {
	switch {
	case errors.Is(err, ErrInvalidLink):
		return "It look like your link isn't valid."
	case errors.Is(err, ErrNotConfigured):
		return "URL for sxcu.net is not configured."
	default:
		return "An error has been returned by the server."
	}
}

var linkPattern = regexp.MustCompile(`https?://[^\s]+`)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type Result struct {
	Link      string
	URL       string `json:"url"`
	DeleteURL string `json:"del_url"`
}

// Client talks to an sxcu compatible shortening service.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

func New(baseURL string, httpClient *http.Client, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http:    httpClient,
		logger:  logger,
	}
}

func (c *Client) Configured() bool {
	return c.baseURL != ""
}

// Shorten validates link and asks the service for a short URL and its deletion URL.
func (c *Client) Shorten(ctx context.Context, link string) (Result, error) {
	found := linkPattern.FindString(link)
	if found == "" {
		return Result{}, ErrInvalidLink
	}
	normalized, host, err := utils.NormalizeURL(found)
	if err != nil {
		return Result{}, ErrInvalidLink
	}
	if !c.Configured() {
		return Result{}, ErrNotConfigured
	}

	form := url.Values{"link": {normalized}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/shorten", strings.NewReader(form.Encode()))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("shorten request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("shortener rejected link", zap.String("host", host), zap.Int("status", resp.StatusCode))
		return Result{}, ErrServer
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return Result{}, errors.Join(ErrServer, err)
	}
	if result.URL == "" {
		return Result{}, ErrServer
	}
	result.Link = normalized
	c.logger.Debug("link shortened", zap.String("host", host), zap.String("url", result.URL))
	return result, nil
}

// DeletionEmbed is sent privately to the author.
func DeletionEmbed(res Result, color int) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title: "Deletion Link",
		Color: color,
		Fields: []*discordgo.MessageEmbedField{{
			Name:  "Link",
			Value: fmt.Sprintf("[Click for deleting access](%s) to %s.", res.DeleteURL, res.Link),
		}},
	}
}

// ResultEmbed is posted in the channel. The deletion URL is shown there only when the DM failed.
func ResultEmbed(res Result, dmed bool, color int) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title: "Your link has been uploaded! 🎉",
		Color: color,
		Fields: []*discordgo.MessageEmbedField{{
			Name:  "Your new URL!",
			Value: fmt.Sprintf("You can access to your website [by clicking on me](%s)!", res.URL),
		}},
	}
	if !dmed {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name: "Deletion URL",
			Value: fmt.Sprintf("Since I was unable to DM you with the deletion link, "+
				"[you can delete the access by clicking here](%s).", res.DeleteURL),
		})
	}
	return embed
}
