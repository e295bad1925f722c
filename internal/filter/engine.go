// Package filter implements the broadcast matching engine.
package filter

import (
	"slices"
	"strings"

	"rpan_bot/internal/model"
)

// Match checks whether a broadcast passes the filters of a setting.
// Keyword filters use OR logic against the lowercased title: at least one must be a substring.
// Subreddit filters require exact membership of the lowercased subreddit.
// An empty filter set always passes.
func Match(setting model.NotificationSetting, b model.Broadcast) bool {
	return MatchKeywords(setting.KeywordFilters, b.Title) &&
		MatchSubreddits(setting.SubredditFilters, b.SubredditName)
}

// MatchKeywords reports whether title contains at least one keyword.
func MatchKeywords(keywords []string, title string) bool {
	if len(keywords) == 0 {
		return true
	}
	title = strings.ToLower(title)
	for _, k := range keywords {
		if strings.Contains(title, strings.ToLower(k)) {
			return true
		}
	}
	return false
}

// MatchSubreddits reports whether subreddit is one of subreddits.
func MatchSubreddits(subreddits []string, subreddit string) bool {
	if len(subreddits) == 0 {
		return true
	}
	return slices.Contains(subreddits, strings.ToLower(subreddit))
}
