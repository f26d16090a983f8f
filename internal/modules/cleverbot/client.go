package cleverbot

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	jsoniter "github.com/json-iterator/go"
)

const DefaultURL = "https://public-api.travitia.xyz/talk"

var (
	ErrNotConfigured = errors.New("cleverbot api key is not set")
	ErrInvalidKey    = errors.New("cleverbot api key rejected")
	ErrAPIDown       = errors.New("cleverbot api unavailable")
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type Emotion string

const (
	EmotionNeutral Emotion = "neutral"
	EmotionSadness Emotion = "sadness"
	EmotionFear    Emotion = "fear"
	EmotionJoy     Emotion = "joy"
	EmotionAnger   Emotion = "anger"
)

// ParseEmotion accepts the API names and their common synonyms.
func ParseEmotion(name string) (Emotion, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "neutral", "normal":
		return EmotionNeutral, true
	case "sad", "sadness":
		return EmotionSadness, true
	case "fear", "scared":
		return EmotionFear, true
	case "joy", "happy":
		return EmotionJoy, true
	case "anger", "angry":
		return EmotionAnger, true
	}
	return "", false
}

// History remembers the recent prompts of one conversation.
type History struct {
	mu      sync.Mutex
	prompts []string
}

// push records prompt and returns the context to send with it. Context is only sent once
// three prompts have been seen, and then holds the previous and the current one.
func (h *History) push(prompt string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.prompts = append(h.prompts, prompt)
	if len(h.prompts) <= 2 {
		return nil
	}
	h.prompts = h.prompts[1:]
	return append([]string(nil), h.prompts...)
}

type Client struct {
	url  string
	key  string
	http *http.Client
}

func New(apiURL, apiKey string, httpClient *http.Client) *Client {
	if apiURL == "" {
		apiURL = DefaultURL
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{url: apiURL, key: apiKey, http: httpClient}
}

func (c *Client) Configured() bool {
	return c.key != ""
}

type talkResponse struct {
	Response string `json:"response"`
	Status   int    `json:"status"`
	Error    string `json:"error"`
}

// Ask sends one prompt. history may be nil for a one-off question.
func (c *Client) Ask(ctx context.Context, prompt string, history *History, emotion Emotion) (string, error) {
	if !c.Configured() {
		return "", ErrNotConfigured
	}
	if emotion == "" {
		emotion = EmotionNeutral
	}
	form := url.Values{"text": {prompt}, "emotion": {string(emotion)}}
	if history != nil {
		if previous := history.push(prompt); len(previous) > 0 {
			form["context"] = previous
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("authorization", c.key)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", errors.Join(ErrAPIDown, err)
	}
	defer resp.Body.Close()

	var body talkResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("%w: status %d", ErrAPIDown, resp.StatusCode)
	}
	switch {
	case body.Error == "Invalid authorization credentials":
		return "", ErrInvalidKey
	case body.Response == "" || body.Response == "The server returned a malformed response or it is down.":
		return "", ErrAPIDown
	}
	return body.Response, nil
}
