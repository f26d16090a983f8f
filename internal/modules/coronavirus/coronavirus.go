package coronavirus

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/dustin/go-humanize"
	jsoniter "github.com/json-iterator/go"
)

const DefaultURL = "https://coronavirus-tracker-api.herokuapp.com/all"

var ErrAPIDown = errors.New("coronavirus tracker unavailable")

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type Stats struct {
	Confirmed int64 `json:"confirmed"`
	Recovered int64 `json:"recovered"`
	Deaths    int64 `json:"deaths"`
}

// Active is the number of cases neither recovered nor fatal.
func (s Stats) Active() int64 {
	return s.Confirmed - s.Recovered - s.Deaths
}

func (s Stats) String() string {
	return fmt.Sprintf("**Coronavirus Stats**\n\nTotal infected: %s\nTotal recovered: %s\nTotal death: %s\n\nActual existing cases: %s",
		humanize.Comma(s.Confirmed), humanize.Comma(s.Recovered), humanize.Comma(s.Deaths), humanize.Comma(s.Active()))
}

type Client struct {
	url  string
	http *http.Client
}

func New(url string, httpClient *http.Client) *Client {
	if url == "" {
		url = DefaultURL
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{url: url, http: httpClient}
}

func (c *Client) Latest(ctx context.Context) (Stats, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return Stats{}, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return Stats{}, errors.Join(ErrAPIDown, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Stats{}, fmt.Errorf("%w: status %d", ErrAPIDown, resp.StatusCode)
	}

	var body struct {
		Latest Stats `json:"latest"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Stats{}, errors.Join(ErrAPIDown, err)
	}
	return body.Latest, nil
}
