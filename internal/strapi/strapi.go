// Package strapi reads live broadcast metadata from the RPAN metadata API.
package strapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sethvargo/go-retry"

	"rpan_bot/internal/model"
)

// DefaultBaseURL is the production metadata API.
const DefaultBaseURL = "https://strapi.reddit.com/"

// ErrNotFound is returned when the API has no record of a broadcast.
var ErrNotFound = errors.New("broadcast not found")

const (
	activeCacheTTL = 30 * time.Second
	activeKey      = "active"
)

// HTTPClient is the subset of *http.Client the API client needs.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client talks to the metadata API.
type Client struct {
	http       HTTPClient
	baseURL    string
	userAgent  string
	retryDelay time.Duration
	active     *expirable.LRU[string, []model.Broadcast]
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at another API root.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		if !strings.HasSuffix(u, "/") {
			u += "/"
		}
		c.baseURL = u
	}
}

// WithRetryDelay sets the pause before FetchWithRetry tries again.
func WithRetryDelay(d time.Duration) Option {
	return func(c *Client) { c.retryDelay = d }
}

// New creates a Client.
func New(client HTTPClient, userAgent string, opts ...Option) *Client {
	c := &Client{
		http:       client,
		baseURL:    DefaultBaseURL,
		userAgent:  userAgent,
		retryDelay: 10 * time.Second,
		active:     expirable.NewLRU[string, []model.Broadcast](1, nil, activeCacheTTL),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type envelope struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
}

type payload struct {
	Post struct {
		ID         string `json:"id"`
		Title      string `json:"title"`
		URL        string `json:"url"`
		AuthorInfo *struct {
			Name string `json:"name"`
		} `json:"authorInfo"`
		Subreddit *struct {
			Name string `json:"name"`
		} `json:"subreddit"`
	} `json:"post"`
	Stream struct {
		PublishAt float64 `json:"publish_at"`
		State     string  `json:"state"`
		Thumbnail string  `json:"thumbnail"`
	} `json:"stream"`
	GlobalRank         *int `json:"global_rank"`
	TotalStreams       *int `json:"total_streams"`
	UniqueWatchers     *int `json:"unique_watchers"`
	ContinuousWatchers *int `json:"continuous_watchers"`
}

// Fetch returns the broadcast with the given id.
func (c *Client) Fetch(ctx context.Context, id string) (model.Broadcast, error) {
	var p payload
	if err := c.get(ctx, "broadcasts/"+id, &p); err != nil {
		return model.Broadcast{}, err
	}
	return p.broadcast(), nil
}

// FetchWithRetry is Fetch with one more attempt after the retry delay. New broadcasts take a
// moment to appear in the API.
func (c *Client) FetchWithRetry(ctx context.Context, id string) (model.Broadcast, error) {
	var b model.Broadcast
	backoff := retry.WithMaxRetries(1, retry.NewConstant(c.retryDelay))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var err error
		b, err = c.Fetch(ctx, id)
		if err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	return b, err
}

// ListActive returns the broadcasts currently on the network, ordered by rank.
func (c *Client) ListActive(ctx context.Context) ([]model.Broadcast, error) {
	if cached, ok := c.active.Get(activeKey); ok {
		return cached, nil
	}

	var ps []payload
	if err := c.get(ctx, "broadcasts", &ps); err != nil {
		return nil, err
	}
	broadcasts := make([]model.Broadcast, 0, len(ps))
	for _, p := range ps {
		broadcasts = append(broadcasts, p.broadcast())
	}
	c.active.Add(activeKey, broadcasts)
	return broadcasts, nil
}

// TopActive returns the highest ranked live broadcast, optionally limited to one subreddit.
func (c *Client) TopActive(ctx context.Context, subreddit string) (model.Broadcast, error) {
	broadcasts, err := c.ListActive(ctx)
	if err != nil {
		return model.Broadcast{}, err
	}
	for _, b := range broadcasts {
		if subreddit == "" || strings.EqualFold(b.SubredditName, subreddit) {
			return b, nil
		}
	}
	return model.Broadcast{}, ErrNotFound
}

// ActiveByAuthor returns the live broadcast of username, if any.
func (c *Client) ActiveByAuthor(ctx context.Context, username string) (model.Broadcast, error) {
	broadcasts, err := c.ListActive(ctx)
	if err != nil {
		return model.Broadcast{}, err
	}
	for _, b := range broadcasts {
		if strings.EqualFold(b.AuthorName, username) {
			return b, nil
		}
	}
	return model.Broadcast{}, ErrNotFound
}

func (c *Client) get(ctx context.Context, endpoint string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", endpoint, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read %s: %w", endpoint, err)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("fetch %s: status %d", endpoint, resp.StatusCode)
		}
		return fmt.Errorf("decode %s: %w", endpoint, err)
	}
	if env.Status != "success" {
		return ErrNotFound
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return fmt.Errorf("decode %s data: %w", endpoint, err)
	}
	return nil
}

func (p payload) broadcast() model.Broadcast {
	b := model.Broadcast{
		ID:                 strings.TrimPrefix(p.Post.ID, "t3_"),
		Title:              p.Post.Title,
		URL:                p.Post.URL,
		AuthorName:         "[deleted]",
		Thumbnail:          p.Stream.Thumbnail,
		IsLive:             p.Stream.State == "IS_LIVE",
		GlobalRank:         orUnknown(p.GlobalRank),
		TotalStreams:       orUnknown(p.TotalStreams),
		UniqueWatchers:     orUnknown(p.UniqueWatchers),
		ContinuousWatchers: orUnknown(p.ContinuousWatchers),
		Source:             model.SourceStrapi,
	}
	if p.Post.AuthorInfo != nil {
		b.AuthorName = p.Post.AuthorInfo.Name
	}
	if p.Post.Subreddit != nil {
		b.SubredditName = p.Post.Subreddit.Name
	} else if parts := strings.Split(b.URL, "/"); len(parts) > 5 {
		b.SubredditName = parts[5]
	}
	if p.Stream.PublishAt > 0 {
		b.PublishedAt = time.UnixMilli(int64(p.Stream.PublishAt)).UTC()
	}
	return b
}

func orUnknown(v *int) int {
	if v == nil {
		return model.Unknown
	}
	return *v
}
