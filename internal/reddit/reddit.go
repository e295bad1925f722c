// Package reddit reads submissions, moderation queues and modmail from the reddit JSON API.
package reddit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"rpan_bot/internal/model"
	"rpan_bot/internal/rpan"
)

// Base URLs of the API.
const (
	OAuthBaseURL  = "https://oauth.reddit.com"
	PublicBaseURL = "https://www.reddit.com"
	tokenURL      = "https://www.reddit.com/api/v1/access_token"
)

// Errors returned by Client.
var (
	ErrForbidden = errors.New("reddit: forbidden")
	ErrNotFound  = errors.New("reddit: not found")
)

// HTTPClient is the subset of *http.Client the API client needs.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Credentials authenticate a script application through a refresh token.
type Credentials struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
	UserAgent    string
}

// Valid reports whether every field needed for OAuth is set.
func (c Credentials) Valid() bool {
	return c.ClientID != "" && c.ClientSecret != "" && c.RefreshToken != ""
}

// Client calls the reddit API.
type Client struct {
	http      HTTPClient
	baseURL   string
	userAgent string
	top       *topCache
}

// New creates a Client against baseURL. Use PublicBaseURL with a plain client for anonymous access.
func New(client HTTPClient, baseURL, userAgent string) *Client {
	return &Client{
		http:      client,
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		userAgent: userAgent,
		top:       newTopCache(),
	}
}

// NewOAuth creates a Client that refreshes its access token with creds.
func NewOAuth(ctx context.Context, creds Credentials) *Client {
	conf := &oauth2.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL:  tokenURL,
			AuthStyle: oauth2.AuthStyleInHeader,
		},
	}
	base := &http.Client{
		Timeout:   30 * time.Second,
		Transport: userAgentTransport{agent: creds.UserAgent, next: http.DefaultTransport},
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, base)
	client := conf.Client(ctx, &oauth2.Token{RefreshToken: creds.RefreshToken})
	client.Timeout = 30 * time.Second
	return New(client, OAuthBaseURL, creds.UserAgent)
}

type userAgentTransport struct {
	agent string
	next  http.RoundTripper
}

func (t userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", t.agent)
	return t.next.RoundTrip(req)
}

type listing struct {
	Data struct {
		Children []struct {
			Kind string `json:"kind"`
			Data thing  `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

type thing struct {
	ID         string  `json:"id"`
	Author     string  `json:"author"`
	URL        string  `json:"url"`
	Title      string  `json:"title"`
	Body       string  `json:"body"`
	LinkTitle  string  `json:"link_title"`
	Subreddit  string  `json:"subreddit"`
	Permalink  string  `json:"permalink"`
	CreatedUTC float64 `json:"created_utc"`
}

func (t thing) submission() model.Submission {
	return model.Submission{
		ID:        t.ID,
		Author:    t.Author,
		URL:       t.URL,
		Title:     t.Title,
		Subreddit: strings.ToLower(t.Subreddit),
		Permalink: t.Permalink,
		CreatedAt: time.Unix(int64(t.CreatedUTC), 0).UTC(),
	}
}

// NewSubmissions lists the newest submissions of subreddits, newest first.
func (c *Client) NewSubmissions(ctx context.Context, subreddits []string) ([]model.Submission, error) {
	var l listing
	path := "/r/" + strings.Join(subreddits, "+") + "/new.json"
	if err := c.get(ctx, path, url.Values{"limit": {"100"}, "raw_json": {"1"}}, &l); err != nil {
		return nil, err
	}
	out := make([]model.Submission, 0, len(l.Data.Children))
	for _, child := range l.Data.Children {
		out = append(out, child.Data.submission())
	}
	return out, nil
}

// ModQueue lists the moderation queue of subreddits, newest first.
func (c *Client) ModQueue(ctx context.Context, subreddits []string) ([]model.ModItem, error) {
	var l listing
	path := "/r/" + strings.Join(subreddits, "+") + "/about/modqueue.json"
	if err := c.get(ctx, path, url.Values{"limit": {"100"}, "raw_json": {"1"}}, &l); err != nil {
		return nil, err
	}
	out := make([]model.ModItem, 0, len(l.Data.Children))
	for _, child := range l.Data.Children {
		t := child.Data
		item := model.ModItem{
			ID:        t.ID,
			Subreddit: strings.ToLower(t.Subreddit),
			Author:    t.Author,
			Permalink: "https://reddit.com" + t.Permalink,
		}
		if child.Kind == "t1" {
			item.Kind = model.ModComment
			item.Body = t.Body
			item.Title = t.LinkTitle
		} else {
			item.Kind = model.ModSubmission
			item.Title = t.Title
		}
		out = append(out, item)
	}
	return out, nil
}

type conversations struct {
	Conversations map[string]struct {
		ID      string `json:"id"`
		Subject string `json:"subject"`
		Owner   struct {
			DisplayName string `json:"displayName"`
		} `json:"owner"`
		ObjIDs []struct {
			ID  string `json:"id"`
			Key string `json:"key"`
		} `json:"objIds"`
	} `json:"conversations"`
	Messages map[string]struct {
		ID           string `json:"id"`
		BodyMarkdown string `json:"bodyMarkdown"`
		Author       struct {
			Name string `json:"name"`
		} `json:"author"`
	} `json:"messages"`
	ConversationIDs []string `json:"conversationIds"`
}

// ModmailConversations lists recently updated modmail conversations, newest first. Each item
// carries the newest message of its conversation.
func (c *Client) ModmailConversations(ctx context.Context, subreddits []string) ([]model.ModItem, error) {
	var resp conversations
	query := url.Values{
		"entity": {strings.Join(subreddits, ",")},
		"sort":   {"recent"},
		"state":  {"all"},
		"limit":  {"25"},
	}
	if err := c.get(ctx, "/api/mod/conversations", query, &resp); err != nil {
		return nil, err
	}

	out := make([]model.ModItem, 0, len(resp.ConversationIDs))
	for _, id := range resp.ConversationIDs {
		conv, ok := resp.Conversations[id]
		if !ok {
			continue
		}
		var lastMessage string
		for _, obj := range conv.ObjIDs {
			if obj.Key == "messages" {
				lastMessage = obj.ID
			}
		}
		msg, ok := resp.Messages[lastMessage]
		if !ok {
			continue
		}
		out = append(out, model.ModItem{
			Kind:           model.ModMail,
			ID:             msg.ID,
			ConversationID: conv.ID,
			Subreddit:      strings.ToLower(conv.Owner.DisplayName),
			Author:         msg.Author.Name,
			Subject:        conv.Subject,
			Body:           msg.BodyMarkdown,
			Permalink:      "https://mod.reddit.com/mail/all/" + conv.ID,
		})
	}
	return out, nil
}

// LastBroadcast returns the newest RPAN broadcast among the recent submissions of username.
func (c *Client) LastBroadcast(ctx context.Context, username string) (model.Submission, error) {
	var l listing
	path := "/user/" + url.PathEscape(username) + "/submitted.json"
	query := url.Values{"sort": {"new"}, "limit": {"25"}, "raw_json": {"1"}}
	if err := c.get(ctx, path, query, &l); err != nil {
		return model.Submission{}, err
	}
	for _, child := range l.Data.Children {
		if rpan.IsBroadcastURL(child.Data.URL) {
			return child.Data.submission(), nil
		}
	}
	return model.Submission{}, ErrNotFound
}

func (c *Client) get(ctx context.Context, path string, query url.Values, v any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("fetch %s: %w", path, ErrForbidden)
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("fetch %s: %w", path, ErrNotFound)
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("fetch %s: status %d", path, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
