// Package rpan holds the platform rules shared by the watcher, the commands and the dashboard:
// which posts are broadcasts, how usernames and links are normalized and which subreddits exist.
package rpan

import (
	"regexp"
	"strings"
	"time"

	"rpan_bot/internal/model"
)

// DisallowedUsername may only be added to a setting by a developer. It marks the settings that
// receive notifications for the testing dataset.
const DisallowedUsername = "rpanbot"

// Subreddits lists the RPAN community subreddits.
var Subreddits = []string{
	"pan",
	"animalsonreddit",
	"distantsocializing",
	"glamourschool",
	"headlineworthy",
	"lgbt",
	"readwithme",
	"redditinthekitchen",
	"redditmasterclasses",
	"redditsessions",
	"shortcircuit",
	"talentshow",
	"theartiststudio",
	"thegamerlounge",
	"theyoushow",
	"whereintheworld",
}

var abbreviations = map[string]string{
	"aor":  "animalsonreddit",
	"ds":   "distantsocializing",
	"gs":   "glamourschool",
	"hw":   "headlineworthy",
	"rwm":  "readwithme",
	"ritk": "redditinthekitchen",
	"rmc":  "redditmasterclasses",
	"rs":   "redditsessions",
	"sc":   "shortcircuit",
	"ts":   "talentshow",
	"tas":  "theartiststudio",
	"tgl":  "thegamerlounge",
	"tys":  "theyoushow",
	"witw": "whereintheworld",
}

// ResolveSubreddit maps a subreddit name or abbreviation to its canonical name.
// A leading "r/" or "/r/" is accepted.
func ResolveSubreddit(ref string) (string, bool) {
	ref = strings.ToLower(strings.TrimSpace(ref))
	ref = strings.TrimPrefix(ref, "/")
	ref = strings.TrimPrefix(ref, "r/")
	for _, s := range Subreddits {
		if s == ref {
			return s, true
		}
	}
	if full, ok := abbreviations[ref]; ok {
		return full, true
	}
	return "", false
}

// IsBroadcastURL reports whether a submission URL points at an RPAN broadcast.
func IsBroadcastURL(link string) bool {
	return strings.Contains(link, "reddit.com/rpan/")
}

var (
	usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
	schemePattern   = regexp.MustCompile(`^https?://`)
	pathPattern     = regexp.MustCompile(`(rpan/r|r)/(.*?)/(comments/)?`)
)

// NormalizeUsername lowercases a username and strips a leading "/u/" or "u/".
func NormalizeUsername(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.TrimPrefix(name, "/u/")
	name = strings.TrimPrefix(name, "u/")
	return name
}

// ValidUsername reports whether name is an acceptable reddit username.
func ValidUsername(name string) bool {
	if len(name) < 3 || len(name) > 20 {
		return false
	}
	return usernamePattern.MatchString(name)
}

// ParseLink extracts a broadcast id from a link or returns the input when it already is an id.
func ParseLink(link string) string {
	id := schemePattern.ReplaceAllString(strings.TrimSpace(link), "")
	for _, host := range []string{"www.reddit.com/", "old.reddit.com/", "reddit.com/", "redd.it/"} {
		id = strings.ReplaceAll(id, host, "")
	}
	id = pathPattern.ReplaceAllString(id, "")
	id, _, _ = strings.Cut(id, "/")
	id, _, _ = strings.Cut(id, "?")
	return id
}

var markdownEscaper = strings.NewReplacer(
	`\`, `\\`,
	"_", `\_`,
	"*", `\*`,
	"~", `\~`,
	"`", "\\`",
	"|", `\|`,
	">", `\>`,
)

// EscapeUsername escapes markdown so usernames such as "__x__" render literally.
func EscapeUsername(name string) string {
	return markdownEscaper.Replace(name)
}

// FormatTimestamp renders a publish time the way notifications show it.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format("02/01/2006 at 15:04 UTC")
}

// BroadcastFromSubmission builds a lower confidence Broadcast when the metadata API has no record.
// The stream is assumed live and the statistics are unknown.
func BroadcastFromSubmission(s model.Submission) model.Broadcast {
	return model.Broadcast{
		ID:                 s.ID,
		Title:              s.Title,
		AuthorName:         s.Author,
		SubredditName:      s.Subreddit,
		URL:                s.URL,
		PublishedAt:        s.CreatedAt,
		IsLive:             true,
		ContinuousWatchers: model.Unknown,
		UniqueWatchers:     model.Unknown,
		GlobalRank:         model.Unknown,
		TotalStreams:       model.Unknown,
		Source:             model.SourceSubmission,
	}
}
