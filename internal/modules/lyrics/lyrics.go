package lyrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/stefmmm/Predeactor-Cogs/internal/utils"

	"github.com/bwmarrin/discordgo"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

const DefaultBaseURL = "https://api.ksoft.si"

var (
	ErrNotConfigured = errors.New("lyrics api key is not set")
	ErrNoResults     = errors.New("no lyrics found")
	ErrInvalidKey    = errors.New("lyrics api key rejected")
	ErrForbidden     = errors.New("lyrics request forbidden")
	ErrAPIDown       = errors.New("lyrics api unavailable")
	ErrBusy          = errors.New("a lyrics search is already running")
)

const (
	PromptHeader = "Please select the music you wish to get the lyrics by selecting the corresponding number:\n\n"
	SilentReply  = "It's so silent on the outside..."
	UnknownPick  = "I was unable to find the corresponding music in the available music list."
	Footer       = "Powered by KSoft.Si."
)

// Message turns a Search error into the reply shown to the user.
func Message(err error) string {
	switch {
	case errors.Is(err, ErrNotConfigured):
		return "Not key for KSoft.Si has been set, ask owner to add a key."
	case errors.Is(err, ErrNoResults):
		return "No lyrics were found for your music."
	case errors.Is(err, ErrInvalidKey):
		return "The set API key seem to be wrong. Please contact the bot owner."
	case errors.Is(err, ErrForbidden):
		return "Request forbidden by the API."
	case errors.Is(err, ErrBusy):
		return "You already have a lyrics search running."
	default:
		return fmt.Sprintf("The API returned an unknown error: `%v`", err)
	}
}

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var decorations = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\[.*(of?ficial|feat\.?|ft\.?|audio|video|lyrics?|remix|hd).*\]`),
	regexp.MustCompile(`(?i)\(.*(of?ficial|feat\.?|ft\.?|audio|video|lyrics?|remix|hd).*\)`),
}

// CleanTitle strips "(Official Video)", "[HD]" and similar decorations from a song name.
func CleanTitle(name string) string {
	for _, re := range decorations {
		name = re.ReplaceAllString(name, "")
	}
	return strings.Join(strings.Fields(name), " ")
}

type Song struct {
	Artist    string `json:"artist"`
	Name      string `json:"name"`
	Lyrics    string `json:"lyrics"`
	AlbumYear string `json:"album_year"`
	AlbumArt  string `json:"album_art"`
}

// Year is the first album year, or 0 when unknown.
func (s Song) Year() int {
	first, _, _ := strings.Cut(s.AlbumYear, ",")
	year, err := strconv.Atoi(strings.TrimSpace(first))
	if err != nil {
		return 0
	}
	return year
}

type searchResponse struct {
	Total int    `json:"total"`
	Data  []Song `json:"data"`
}

type Client struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger

	mu   sync.Mutex
	busy map[string]struct{}
}

// New builds a client authenticating with apiKey as a bearer token. base is the transport
// used under the token source and may be nil.
func New(ctx context.Context, baseURL, apiKey string, base *http.Client, logger *zap.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{baseURL: strings.TrimRight(baseURL, "/"), logger: logger, busy: make(map[string]struct{})}
	if apiKey == "" {
		return c
	}
	if base != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, base)
	}
	c.http = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: apiKey, TokenType: "Bearer"}))
	return c
}

func (c *Client) Configured() bool {
	return c.http != nil
}

// Acquire reserves the single search slot of userID. The returned func releases it.
func (c *Client) Acquire(userID string) (func(), error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.busy[userID]; ok {
		return nil, ErrBusy
	}
	c.busy[userID] = struct{}{}
	return func() {
		c.mu.Lock()
		delete(c.busy, userID)
		c.mu.Unlock()
	}, nil
}

func (c *Client) Search(ctx context.Context, song string) ([]Song, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	query := url.Values{"q": {CleanTitle(song)}, "text_only": {"false"}, "limit": {"10"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/lyrics/search?"+query.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Join(ErrAPIDown, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, ErrInvalidKey
	case resp.StatusCode == http.StatusForbidden:
		return nil, ErrForbidden
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNoResults
	case resp.StatusCode != http.StatusOK:
		c.logger.Warn("lyrics api error", zap.Int("status", resp.StatusCode))
		return nil, fmt.Errorf("%w: status %d", ErrAPIDown, resp.StatusCode)
	}

	var body searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, errors.Join(ErrAPIDown, err)
	}
	if len(body.Data) == 0 {
		return nil, ErrNoResults
	}
	return body.Data, nil
}

// Prompt lists songs numbered from 0 for the caller to pick from.
func Prompt(songs []Song) string {
	var b strings.Builder
	b.WriteString(PromptHeader)
	for i, song := range songs {
		year := ""
		if y := song.Year(); y > 1970 {
			year = fmt.Sprintf("(**%d**)", y)
		}
		fmt.Fprintf(&b, "`%d` - %s by %s %s\n", i, song.Name, song.Artist, year)
	}
	return b.String()
}

// Pick resolves the caller's answer to one of songs.
func Pick(songs []Song, answer string) (Song, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(answer))
	if err != nil || n < 0 || n >= len(songs) {
		return Song{}, false
	}
	return songs[n], true
}

// Embeds splits the lyrics into embeds fitting the description limit.
func Embeds(song Song, color int, avatarURL string) []*discordgo.MessageEmbed {
	pages := utils.Pagify(song.Lyrics, utils.MaxEmbedDescription)
	if len(pages) == 0 {
		pages = []string{"*No lyrics text available.*"}
	}
	embeds := make([]*discordgo.MessageEmbed, 0, len(pages))
	for i, page := range pages {
		embed := &discordgo.MessageEmbed{
			Title:       song.Name,
			Description: page,
			Color:       color,
			Footer:      &discordgo.MessageEmbedFooter{Text: Footer, IconURL: avatarURL},
		}
		if song.AlbumArt != "" {
			embed.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: song.AlbumArt}
		}
		if len(pages) > 1 {
			embed.Footer.Text = fmt.Sprintf("%s Page %d/%d", Footer, i+1, len(pages))
		}
		embeds = append(embeds, embed)
	}
	return embeds
}
