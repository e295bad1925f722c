package settings

import (
	"slices"
	"strings"
	"unicode/utf8"

	"rpan_bot/internal/model"
	"rpan_bot/internal/rpan"
)

func normalizeUsername(name string) string {
	return rpan.NormalizeUsername(name)
}

func validUsername(name string) bool {
	return rpan.ValidUsername(name)
}

func checkUsername(name string, isDev bool) (string, error) {
	name = normalizeUsername(name)
	if !validUsername(name) {
		return "", ErrInvalidUsername
	}
	if name == rpan.DisallowedUsername && !isDev {
		return "", ErrDisallowedUsername
	}
	return name, nil
}

func normalizeKeyword(keyword string) string {
	return strings.ToLower(strings.TrimSpace(keyword))
}

func checkKeyword(keyword string) (string, error) {
	keyword = normalizeKeyword(keyword)
	if keyword == "" || utf8.RuneCountInString(keyword) > MaxKeywordLength {
		return "", ErrInvalidKeyword
	}
	return keyword, nil
}

func checkSubreddit(ref string) (string, error) {
	sub, ok := rpan.ResolveSubreddit(ref)
	if !ok {
		return "", ErrUnknownSubreddit
	}
	return sub, nil
}

func checkCustomText(text string) (string, error) {
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) > MaxCustomText {
		return "", ErrTextTooLong
	}
	return text, nil
}

// checkUpdate validates whole lists and returns them normalized and deduplicated.
func checkUpdate(u Update, isDev bool) (map[model.FilterKind][]string, string, error) {
	usernames, err := checkAll(u.Usernames, func(v string) (string, error) { return checkUsername(v, isDev) })
	if err != nil {
		return nil, "", err
	}
	if len(usernames) > MaxUsernames {
		return nil, "", ErrLimitReached
	}

	keywords, err := checkAll(u.Keywords, checkKeyword)
	if err != nil {
		return nil, "", err
	}
	if len(keywords) > MaxKeywords {
		return nil, "", ErrLimitReached
	}

	subreddits, err := checkAll(u.Subreddits, checkSubreddit)
	if err != nil {
		return nil, "", err
	}

	text, err := checkCustomText(u.CustomText)
	if err != nil {
		return nil, "", err
	}

	return map[model.FilterKind][]string{
		model.FilterUsername:  usernames,
		model.FilterKeyword:   keywords,
		model.FilterSubreddit: subreddits,
	}, text, nil
}

func checkAll(values []string, check func(string) (string, error)) ([]string, error) {
	var out []string
	for _, v := range values {
		v, err := check(v)
		if err != nil {
			return nil, err
		}
		if !slices.Contains(out, v) {
			out = append(out, v)
		}
	}
	return out, nil
}

func normalizePrefix(prefix string) string {
	return strings.ToLower(strings.TrimSpace(prefix))
}

func checkPrefix(prefix string) (string, error) {
	prefix = normalizePrefix(prefix)
	if prefix == "" || utf8.RuneCountInString(prefix) > MaxPrefixLength || strings.Contains(prefix, "`") {
		return "", ErrInvalidPrefix
	}
	return prefix, nil
}

// conflicts reports whether prefix shadows, or is shadowed by, one of existing.
func conflicts(prefix string, existing []string) bool {
	for _, p := range existing {
		if strings.HasPrefix(prefix, p) || strings.HasPrefix(p, prefix) {
			return true
		}
	}
	return false
}
