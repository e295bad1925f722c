package bot

import (
	"sort"
	"strings"
)

// Invocation is a parsed prefix command.
type Invocation struct {
	Prefix string
	Name   string
	Args   string
}

// ParseInvocation matches content against the guild prefixes and the bot mention.
// The longest matching prefix wins. Name is lowercased and Args keeps its inner spacing.
func ParseInvocation(content string, prefixes []string, selfID string) (Invocation, bool) {
	candidates := make([]string, 0, len(prefixes)+2)
	candidates = append(candidates, prefixes...)
	if selfID != "" {
		candidates = append(candidates, "<@"+selfID+">", "<@!"+selfID+">")
	}
	sort.SliceStable(candidates, func(i, j int) bool { return len(candidates[i]) > len(candidates[j]) })

	lower := strings.ToLower(content)
	for _, p := range candidates {
		if p == "" || len(p) > len(content) || !strings.HasPrefix(lower, strings.ToLower(p)) {
			continue
		}
		name, args := SplitArgs(content[len(p):])
		if name == "" {
			return Invocation{}, false
		}
		return Invocation{Prefix: p, Name: strings.ToLower(name), Args: args}, true
	}
	return Invocation{}, false
}

// SplitArgs returns the first word of s and the trimmed remainder.
func SplitArgs(s string) (first, rest string) {
	s = strings.TrimSpace(s)
	i := strings.IndexAny(s, " \t\n")
	if i < 0 {
		return s, ""
	}
	return s[:i], strings.TrimSpace(s[i+1:])
}

// ParseChannelRef strips the <#...> wrapping from a channel mention.
func ParseChannelRef(s string) string {
	return strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(s), "<#"), ">")
}

// ParseMentionID strips user mention wrapping such as <@123> or <@!123>.
func ParseMentionID(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "<@")
	s = strings.TrimPrefix(s, "!")
	return strings.TrimSuffix(s, ">")
}
