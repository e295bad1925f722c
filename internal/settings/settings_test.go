package settings

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"rpan_bot/internal/index"
	"rpan_bot/internal/model"
	"rpan_bot/internal/storage"
)

type mockRemover struct {
	urls []string
	err  error
}

func (m *mockRemover) Teardown(_ context.Context, url string) error {
	m.urls = append(m.urls, url)
	return m.err
}

func newTestService(t *testing.T) (*Service, *storage.SQL, *mockRemover) {
	t.Helper()
	store, err := storage.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	hooks := &mockRemover{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(store, index.New(store, 0), hooks, []string{"rpan!", "r!"}, logger), store, hooks
}

func setup(t *testing.T, svc *Service, guildID, channelID, username string) model.NotificationSetting {
	t.Helper()
	s, err := svc.Setup(context.Background(), guildID, channelID, "https://hook/"+channelID, username, false)
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	return s
}

func TestIsRejected(t *testing.T) {
	if !IsRejected(ErrChannelTaken) {
		t.Error("ErrChannelTaken should be a rejection")
	}
	if !IsRejected(errors.Join(errors.New("ctx"), ErrPrefixConflict)) {
		t.Error("wrapped rejection not detected")
	}
	if IsRejected(errors.New("disk full")) {
		t.Error("system error reported as rejection")
	}
}

func TestSetup(t *testing.T) {
	ctx := context.Background()
	svc, _, hooks := newTestService(t)

	s := setup(t, svc, "1", "100", "/u/Alice")
	if diff := cmp.Diff([]string{"alice"}, s.Usernames); diff != "" {
		t.Errorf("usernames mismatch (-want +got):\n%s", diff)
	}

	tests := []struct {
		name      string
		guildID   string
		channelID string
		username  string
		isDev     bool
		wantErr   error
	}{
		{name: "taken channel", guildID: "2", channelID: "100", wantErr: ErrChannelTaken},
		{name: "invalid username", guildID: "1", channelID: "101", username: "a!", wantErr: ErrInvalidUsername},
		{name: "reserved username", guildID: "1", channelID: "102", username: "rpanbot", wantErr: ErrDisallowedUsername},
		{name: "reserved username as developer", guildID: "1", channelID: "103", username: "rpanbot", isDev: true},
		{name: "no username", guildID: "1", channelID: "104"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hooks.urls = nil
			url := "https://hook/" + tt.channelID
			_, err := svc.Setup(ctx, tt.guildID, tt.channelID, url, tt.username, tt.isDev)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr != nil {
				if diff := cmp.Diff([]string{url}, hooks.urls); diff != "" {
					t.Errorf("rejected setup should tear down its webhook (-want +got):\n%s", diff)
				}
			} else if len(hooks.urls) != 0 {
				t.Errorf("successful setup tore down %v", hooks.urls)
			}
		})
	}
}

func TestSetupGuildLimit(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)

	for i := range MaxSettingsPerGuild {
		setup(t, svc, "1", "c"+strings.Repeat("x", i), "")
	}
	if _, err := svc.CheckSetup(ctx, "1", "another", "", false); !errors.Is(err, ErrChannelLimit) {
		t.Fatalf("error = %v, want ErrChannelLimit", err)
	}
	if _, err := svc.CheckSetup(ctx, "2", "another", "", false); err != nil {
		t.Fatalf("other guild: %v", err)
	}
}

func TestUsernames(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newTestService(t)
	s := setup(t, svc, "1", "100", "")

	name, err := svc.AddUsername(ctx, s.ID, "u/Alice", false)
	if err != nil || name != "alice" {
		t.Fatalf("add = %q, %v", name, err)
	}
	if _, err := svc.AddUsername(ctx, s.ID, "ALICE", false); !errors.Is(err, ErrAlreadyAdded) {
		t.Errorf("second add error = %v, want ErrAlreadyAdded", err)
	}
	if _, err := svc.AddUsername(ctx, s.ID, "rpanbot", false); !errors.Is(err, ErrDisallowedUsername) {
		t.Errorf("reserved add error = %v, want ErrDisallowedUsername", err)
	}
	if _, err := svc.RemoveUsername(ctx, s.ID, "bob"); !errors.Is(err, ErrNotFound) {
		t.Errorf("remove absent error = %v, want ErrNotFound", err)
	}
	if _, err := svc.RemoveUsername(ctx, s.ID, "Alice"); err != nil {
		t.Errorf("remove: %v", err)
	}

	// Losing the last username keeps the setting.
	got, err := store.GetSetting(ctx, s.ID)
	if err != nil {
		t.Fatalf("setting vanished after removing its last username: %v", err)
	}
	if len(got.Usernames) != 0 {
		t.Errorf("usernames = %v, want none", got.Usernames)
	}

	if _, err := svc.AddUsername(ctx, 999, "alice", false); !errors.Is(err, ErrNotFound) {
		t.Errorf("add to missing setting error = %v, want ErrNotFound", err)
	}
}

func TestUsernameRoundTrip(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)
	first := setup(t, svc, "1", "100", "alice")
	second := setup(t, svc, "2", "200", "alice")

	if _, err := svc.RemoveUsername(ctx, first.ID, "alice"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	got, err := svc.index.SettingsForUsername(ctx, "alice")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if diff := cmp.Diff([]int64{second.ID}, settingIDs(got)); diff != "" {
		t.Errorf("after remove (-want +got):\n%s", diff)
	}

	if _, err := svc.AddUsername(ctx, first.ID, "Alice", false); err != nil {
		t.Fatalf("re-add: %v", err)
	}
	got, err = svc.index.SettingsForUsername(ctx, "alice")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if diff := cmp.Diff([]int64{first.ID, second.ID}, settingIDs(got)); diff != "" {
		t.Errorf("after re-add (-want +got):\n%s", diff)
	}
}

func settingIDs(settings []model.NotificationSetting) []int64 {
	ids := make([]int64, len(settings))
	for i, s := range settings {
		ids[i] = s.ID
	}
	slices.Sort(ids)
	return ids
}

func TestUsernameLimit(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)
	s := setup(t, svc, "1", "100", "")

	for i := range MaxUsernames {
		if _, err := svc.AddUsername(ctx, s.ID, fmt.Sprintf("user%02d", i), false); err != nil {
			t.Fatalf("add %d: %v", i, err)
		}
	}
	if _, err := svc.AddUsername(ctx, s.ID, "onemore", false); !errors.Is(err, ErrLimitReached) {
		t.Fatalf("error = %v, want ErrLimitReached", err)
	}
}

func TestKeywordsAndSubreddits(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newTestService(t)
	s := setup(t, svc, "1", "100", "alice")

	tests := []struct {
		name    string
		run     func() (string, error)
		want    string
		wantErr error
	}{
		{name: "keyword", run: func() (string, error) { return svc.AddKeyword(ctx, s.ID, " Guitar ") }, want: "guitar"},
		{name: "duplicate keyword", run: func() (string, error) { return svc.AddKeyword(ctx, s.ID, "GUITAR") }, wantErr: ErrAlreadyAdded},
		{name: "empty keyword", run: func() (string, error) { return svc.AddKeyword(ctx, s.ID, "  ") }, wantErr: ErrInvalidKeyword},
		{name: "long keyword", run: func() (string, error) { return svc.AddKeyword(ctx, s.ID, strings.Repeat("k", 101)) }, wantErr: ErrInvalidKeyword},
		{name: "subreddit abbreviation", run: func() (string, error) { return svc.AddSubreddit(ctx, s.ID, "ts") }, want: "talentshow"},
		{name: "subreddit with prefix", run: func() (string, error) { return svc.AddSubreddit(ctx, s.ID, "r/Pan") }, want: "pan"},
		{name: "duplicate subreddit", run: func() (string, error) { return svc.AddSubreddit(ctx, s.ID, "talentshow") }, wantErr: ErrAlreadyAdded},
		{name: "unknown subreddit", run: func() (string, error) { return svc.AddSubreddit(ctx, s.ID, "golang") }, wantErr: ErrUnknownSubreddit},
		{name: "remove subreddit", run: func() (string, error) { return svc.RemoveSubreddit(ctx, s.ID, "pan") }, want: "pan"},
		{name: "remove absent keyword", run: func() (string, error) { return svc.RemoveKeyword(ctx, s.ID, "drums") }, want: "drums", wantErr: ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.run()
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr == nil && got != tt.want {
				t.Errorf("value = %q, want %q", got, tt.want)
			}
		})
	}

	got, err := store.GetSetting(ctx, s.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if diff := cmp.Diff([]string{"guitar"}, got.KeywordFilters); diff != "" {
		t.Errorf("keywords mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"talentshow"}, got.SubredditFilters); diff != "" {
		t.Errorf("subreddits mismatch (-want +got):\n%s", diff)
	}

	if err := svc.ClearKeywords(ctx, s.ID); err != nil {
		t.Fatalf("clear keywords: %v", err)
	}
	if err := svc.ClearSubreddits(ctx, s.ID); err != nil {
		t.Fatalf("clear subreddits: %v", err)
	}
	got, _ = store.GetSetting(ctx, s.ID)
	if len(got.KeywordFilters)+len(got.SubredditFilters) != 0 {
		t.Errorf("filters not cleared: %+v", got)
	}
}

func TestSetCustomText(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newTestService(t)
	s := setup(t, svc, "1", "100", "")

	if err := svc.SetCustomText(ctx, s.ID, strings.Repeat("x", MaxCustomText+1)); !errors.Is(err, ErrTextTooLong) {
		t.Fatalf("error = %v, want ErrTextTooLong", err)
	}
	if err := svc.SetCustomText(ctx, s.ID, "@here live!"); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, _ := store.GetSetting(ctx, s.ID)
	if got.CustomText != "@here live!" {
		t.Errorf("custom text = %q", got.CustomText)
	}
	if err := svc.SetCustomText(ctx, s.ID, ""); err != nil {
		t.Fatalf("clear: %v", err)
	}
	got, _ = store.GetSetting(ctx, s.ID)
	if got.CustomText != "" {
		t.Errorf("custom text not cleared: %q", got.CustomText)
	}
}

func TestMutationsInvalidateIndex(t *testing.T) {
	ctx := context.Background()
	store, err := storage.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	ix := index.New(store, time.Hour)
	svc := New(store, ix, nil, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

	s, err := svc.Setup(ctx, "1", "100", "https://hook", "alice", false)
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	if got, _ := ix.SettingsForUsername(ctx, "bob"); len(got) != 0 {
		t.Fatalf("unexpected settings for bob: %d", len(got))
	}

	if _, err := svc.AddUsername(ctx, s.ID, "bob", false); err != nil {
		t.Fatalf("add: %v", err)
	}
	if got, _ := ix.SettingsForUsername(ctx, "bob"); len(got) != 1 {
		t.Fatalf("index still stale after add: %d settings", len(got))
	}

	if _, err := svc.Delete(ctx, "1", "1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if got, _ := ix.SettingsForUsername(ctx, "bob"); len(got) != 0 {
		t.Fatalf("index still stale after delete: %d settings", len(got))
	}
}

func TestReplace(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)
	setup(t, svc, "1", "100", "alice")

	got, err := svc.Replace(ctx, "1", "100", Update{
		Usernames:  []string{"Bob", "u/bob", "carol"},
		Keywords:   []string{"Music"},
		Subreddits: []string{"rs"},
		CustomText: "hi",
	}, false)
	if err != nil {
		t.Fatalf("replace: %v", err)
	}
	want := model.NotificationSetting{
		ID:               got.ID,
		GuildID:          "1",
		ChannelID:        "100",
		WebhookURL:       "https://hook/100",
		Usernames:        []string{"bob", "carol"},
		KeywordFilters:   []string{"music"},
		SubredditFilters: []string{"redditsessions"},
		CustomText:       "hi",
		CreatedAt:        got.CreatedAt,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("replace mismatch (-want +got):\n%s", diff)
	}

	if _, err := svc.Replace(ctx, "2", "100", Update{}, false); !errors.Is(err, ErrNotFound) {
		t.Errorf("other guild error = %v, want ErrNotFound", err)
	}
	if _, err := svc.Replace(ctx, "1", "100", Update{Subreddits: []string{"nope"}}, false); !errors.Is(err, ErrUnknownSubreddit) {
		t.Errorf("invalid list error = %v, want ErrUnknownSubreddit", err)
	}
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	svc, store, hooks := newTestService(t)
	setup(t, svc, "1", "100", "")
	setup(t, svc, "1", "101", "")

	hooks.err = errors.New("webhook already gone")
	deleted, err := svc.Delete(ctx, "1", "<#101>")
	if err != nil {
		t.Fatalf("delete with failing teardown: %v", err)
	}
	if deleted.ChannelID != "101" {
		t.Errorf("deleted channel = %s, want 101", deleted.ChannelID)
	}
	if diff := cmp.Diff([]string{"https://hook/101"}, hooks.urls); diff != "" {
		t.Errorf("teardown mismatch (-want +got):\n%s", diff)
	}

	if _, err := svc.Delete(ctx, "1", "101"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete error = %v, want ErrNotFound", err)
	}

	n, err := store.CountGuildSettings(ctx, "1")
	if err != nil || n != 1 {
		t.Errorf("count = %d, %v; want 1", n, err)
	}
}

func TestDeleteByChannel(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newTestService(t)
	setup(t, svc, "1", "100", "")
	setup(t, svc, "2", "200", "")

	tests := []struct {
		name    string
		guildID string
		ref     string
		wantErr error
	}{
		{name: "local id is not a channel", guildID: "1", ref: "1", wantErr: ErrNotFound},
		{name: "channel of another guild", guildID: "1", ref: "200", wantErr: ErrNotFound},
		{name: "channel id", guildID: "1", ref: "100"},
		{name: "already deleted", guildID: "1", ref: "100", wantErr: ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.DeleteByChannel(ctx, tt.guildID, tt.ref); !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	for guild, want := range map[string]int{"1": 0, "2": 1} {
		if n, err := store.CountGuildSettings(ctx, guild); err != nil || n != want {
			t.Errorf("guild %s count = %d, %v; want %d", guild, n, err, want)
		}
	}
}

func TestEraseGuild(t *testing.T) {
	ctx := context.Background()
	svc, store, hooks := newTestService(t)
	setup(t, svc, "1", "100", "alice")
	setup(t, svc, "1", "101", "bob")
	setup(t, svc, "2", "200", "alice")
	if _, err := svc.SetPrefix(ctx, "1", "?"); err != nil {
		t.Fatalf("set prefix: %v", err)
	}

	if err := svc.EraseGuild(ctx, "1"); err != nil {
		t.Fatalf("erase: %v", err)
	}
	if len(hooks.urls) != 2 {
		t.Errorf("teardowns = %v, want 2", hooks.urls)
	}
	if n, _ := store.CountGuildSettings(ctx, "1"); n != 0 {
		t.Errorf("guild 1 still has %d settings", n)
	}
	if n, _ := store.CountGuildSettings(ctx, "2"); n != 1 {
		t.Errorf("guild 2 has %d settings, want 1", n)
	}
	got, err := svc.Prefixes(ctx, "1")
	if err != nil {
		t.Fatalf("prefixes: %v", err)
	}
	if diff := cmp.Diff([]string{"rpan!", "r!"}, got); diff != "" {
		t.Errorf("prefixes after erase (-want +got):\n%s", diff)
	}
}

func TestDatasetAndExclusions(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)

	if _, err := svc.SetDatasetUser(ctx, "Tester", true); err != nil {
		t.Fatalf("add dataset user: %v", err)
	}
	if _, err := svc.SetDatasetUser(ctx, "tester", true); !errors.Is(err, ErrAlreadyAdded) {
		t.Errorf("error = %v, want ErrAlreadyAdded", err)
	}
	if _, err := svc.SetDatasetUser(ctx, "x", true); !errors.Is(err, ErrInvalidUsername) {
		t.Errorf("error = %v, want ErrInvalidUsername", err)
	}

	if err := svc.Exclude(ctx, storage.ExcludedUser, "42"); err != nil {
		t.Fatalf("exclude: %v", err)
	}
	if err := svc.Exclude(ctx, storage.ExcludedUser, "42"); !errors.Is(err, ErrAlreadyAdded) {
		t.Errorf("error = %v, want ErrAlreadyAdded", err)
	}
	if ok, _ := svc.IsUserExcluded(ctx, "42"); !ok {
		t.Error("user not excluded")
	}
	if ok, _ := svc.IsGuildExcluded(ctx, "42"); ok {
		t.Error("guild list affected by user exclusion")
	}
	if err := svc.Unexclude(ctx, storage.ExcludedUser, "42"); err != nil {
		t.Fatalf("unexclude: %v", err)
	}
	if err := svc.Unexclude(ctx, storage.ExcludedUser, "42"); !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}
