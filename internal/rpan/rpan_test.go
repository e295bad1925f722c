package rpan

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"rpan_bot/internal/model"
)

func TestParseLink(t *testing.T) {
	tests := []struct {
		link string
		want string
	}{
		{"https://www.reddit.com/rpan/r/pan/hd7k2r", "hd7k2r"},
		{"https://www.reddit.com/rpan/r/pan/hd7k2r?related=home", "hd7k2r"},
		{"reddit.com/rpan/r/readwithme/abc123/", "abc123"},
		{"https://old.reddit.com/r/pan/comments/abc123/my_stream/", "abc123"},
		{"https://redd.it/abc123", "abc123"},
		{"abc123", "abc123"},
	}

	for _, tt := range tests {
		t.Run(tt.link, func(t *testing.T) {
			if got := ParseLink(tt.link); got != tt.want {
				t.Errorf("ParseLink(%q) = %q, want %q", tt.link, got, tt.want)
			}
		})
	}
}

func TestResolveSubreddit(t *testing.T) {
	tests := []struct {
		ref    string
		want   string
		wantOK bool
	}{
		{"pan", "pan", true},
		{"ReadWithMe", "readwithme", true},
		{"r/talentshow", "talentshow", true},
		{"/r/lgbt", "lgbt", true},
		{"rwm", "readwithme", true},
		{"TGL", "thegamerlounge", true},
		{"askreddit", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			got, ok := ResolveSubreddit(tt.ref)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("ResolveSubreddit(%q) = (%q, %v), want (%q, %v)", tt.ref, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestNormalizeAndValidateUsername(t *testing.T) {
	tests := []struct {
		in        string
		want      string
		wantValid bool
	}{
		{"Alice_Streams", "alice_streams", true},
		{"/u/Bob-99", "bob-99", true},
		{"u/carol", "carol", true},
		{"ab", "ab", false},
		{"this_name_is_far_too_long", "this_name_is_far_too_long", false},
		{"bad name", "bad name", false},
		{"emoji🙂", "emoji🙂", false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := NormalizeUsername(tt.in)
			if got != tt.want {
				t.Errorf("NormalizeUsername(%q) = %q, want %q", tt.in, got, tt.want)
			}
			if valid := ValidUsername(got); valid != tt.wantValid {
				t.Errorf("ValidUsername(%q) = %v, want %v", got, valid, tt.wantValid)
			}
		})
	}
}

func TestIsBroadcastURL(t *testing.T) {
	if !IsBroadcastURL("https://www.reddit.com/rpan/r/pan/abc") {
		t.Error("rpan url not recognized")
	}
	if IsBroadcastURL("https://i.redd.it/abc.png") {
		t.Error("image url recognized as broadcast")
	}
}

func TestEscapeUsername(t *testing.T) {
	if got, want := EscapeUsername("__big_tom__"), `\_\_big\_tom\_\_`; got != want {
		t.Errorf("EscapeUsername() = %q, want %q", got, want)
	}
}

func TestFormatTimestamp(t *testing.T) {
	ts := time.Date(2020, 8, 3, 19, 5, 0, 0, time.UTC)
	if got, want := FormatTimestamp(ts), "03/08/2020 at 19:05 UTC"; got != want {
		t.Errorf("FormatTimestamp() = %q, want %q", got, want)
	}
}

func TestBroadcastFromSubmission(t *testing.T) {
	created := time.Date(2020, 8, 3, 19, 5, 0, 0, time.UTC)
	sub := model.Submission{
		ID:        "abc123",
		Author:    "Alice",
		URL:       "https://www.reddit.com/rpan/r/readwithme/abc123",
		Title:     "Cooking stream",
		Subreddit: "readwithme",
		CreatedAt: created,
	}

	want := model.Broadcast{
		ID:                 "abc123",
		Title:              "Cooking stream",
		AuthorName:         "Alice",
		SubredditName:      "readwithme",
		URL:                "https://www.reddit.com/rpan/r/readwithme/abc123",
		PublishedAt:        created,
		IsLive:             true,
		ContinuousWatchers: model.Unknown,
		UniqueWatchers:     model.Unknown,
		GlobalRank:         model.Unknown,
		TotalStreams:       model.Unknown,
		Source:             model.SourceSubmission,
	}
	if diff := cmp.Diff(want, BroadcastFromSubmission(sub)); diff != "" {
		t.Errorf("BroadcastFromSubmission() mismatch (-want +got):\n%s", diff)
	}
}
