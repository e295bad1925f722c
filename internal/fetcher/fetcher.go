// Package fetcher reads the anonymous reddit Atom feeds and turns entries into submissions.
package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"

	"rpan_bot/internal/model"
)

// DefaultBaseURL is where the public feeds are served.
const DefaultBaseURL = "https://www.reddit.com"

const maxBody = 5 * 1024 * 1024

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Fetcher downloads and parses Atom feeds.
type Fetcher struct {
	client    HTTPClient
	baseURL   string
	userAgent string
	timeout   time.Duration
}

// New creates a Fetcher with the given HTTP client. An empty baseURL means DefaultBaseURL.
func New(client HTTPClient, baseURL, userAgent string) *Fetcher {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Fetcher{
		client:    client,
		baseURL:   strings.TrimRight(baseURL, "/"),
		userAgent: userAgent,
		timeout:   30 * time.Second,
	}
}

// FeedURL returns the feed of the newest posts across subreddits.
func (f *Fetcher) FeedURL(subreddits []string) string {
	return f.baseURL + "/r/" + strings.Join(subreddits, "+") + "/new/.rss"
}

// Submissions lists the newest posts of subreddits, newest first.
func (f *Fetcher) Submissions(ctx context.Context, subreddits []string) ([]model.Submission, error) {
	feed, err := f.Fetch(ctx, f.FeedURL(subreddits))
	if err != nil {
		return nil, err
	}
	out := make([]model.Submission, 0, len(feed.Items))
	for _, item := range feed.Items {
		s := ItemSubmission(item)
		if s.ID == "" {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

// Fetch downloads and parses a feed from the given URL.
func (f *Fetcher) Fetch(ctx context.Context, url string) (*gofeed.Feed, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	feed, err := gofeed.NewParser().ParseString(string(body))
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}
	return feed, nil
}

// ItemSubmission maps a feed entry to a Submission.
// The posted URL is the "[link]" anchor of the entry content; text posts link to themselves.
func ItemSubmission(item *gofeed.Item) model.Submission {
	s := model.Submission{
		ID:        strings.TrimPrefix(item.GUID, "t3_"),
		Title:     item.Title,
		Permalink: item.Link,
		URL:       contentLink(item.Content),
	}
	if s.URL == "" {
		s.URL = item.Link
	}
	if item.Author != nil {
		s.Author = strings.TrimPrefix(item.Author.Name, "/u/")
	} else if len(item.Authors) > 0 {
		s.Author = strings.TrimPrefix(item.Authors[0].Name, "/u/")
	}
	s.Subreddit = subredditName(item)
	switch {
	case item.PublishedParsed != nil:
		s.CreatedAt = item.PublishedParsed.UTC()
	case item.UpdatedParsed != nil:
		s.CreatedAt = item.UpdatedParsed.UTC()
	}
	return s
}

// subredditName reads the entry category, which gofeed fills from the "r/name" label, and falls
// back to the /r/<name>/ segment of the permalink.
func subredditName(item *gofeed.Item) string {
	if len(item.Categories) > 0 {
		if name := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(item.Categories[0])), "r/"); name != "" {
			return name
		}
	}
	_, rest, ok := strings.Cut(item.Link, "/r/")
	if !ok {
		return ""
	}
	name, _, _ := strings.Cut(rest, "/")
	return strings.ToLower(name)
}

func contentLink(content string) string {
	if content == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return ""
	}
	var link string
	doc.Find("a").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		if strings.TrimSpace(a.Text()) != "[link]" {
			return true
		}
		link, _ = a.Attr("href")
		return false
	})
	return link
}
