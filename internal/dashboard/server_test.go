package dashboard

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/gorilla/websocket"

	"rpan_bot/internal/events"
	"rpan_bot/internal/index"
	"rpan_bot/internal/model"
	"rpan_bot/internal/settings"
	"rpan_bot/internal/storage"
)

const testToken = "s3cret"

type nopRemover struct{}

func (nopRemover) Teardown(context.Context, string) error { return nil }

// fakeProvisioner stands in for the bot and skips the Discord webhook call.
type fakeProvisioner struct {
	svc *settings.Service
}

func (p fakeProvisioner) SetupNotifications(ctx context.Context, guildID, channelID, username string, isDev bool) (model.NotificationSetting, error) {
	return p.svc.Setup(ctx, guildID, channelID, "https://discord.test/api/webhooks/"+channelID+"/token", username, isDev)
}

func newTestServer(t *testing.T, token string) (*httptest.Server, *events.Bus) {
	t.Helper()
	store, err := storage.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ix := index.New(store, 0)
	svc := settings.New(store, ix, nopRemover{}, []string{"rpan!", "r!"}, logger)
	bus := events.NewBus(logger)

	s := New(Deps{
		Settings:    svc,
		Index:       ix,
		Provisioner: fakeProvisioner{svc: svc},
		Bus:         bus,
		Token:       token,
	}, logger)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return srv, bus
}

func do(t *testing.T, srv *httptest.Server, method, path, body string) (int, string) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, srv.URL+path, r)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Authorization", "Bearer "+testToken)
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, strings.TrimSpace(string(b))
}

func TestHealthzAndCorrelation(t *testing.T) {
	srv, _ := newTestServer(t, testToken)

	resp, err := srv.Client().Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
	if corr := resp.Header.Get(CorrelationHeader); len(corr) != 36 {
		t.Errorf("generated correlation id = %q", corr)
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/healthz", nil)
	req.Header.Set(CorrelationHeader, "abc-123")
	resp, err = srv.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if got := resp.Header.Get(CorrelationHeader); got != "abc-123" {
		t.Errorf("correlation id = %q, want the caller's", got)
	}

	resp, err = srv.Client().Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("metrics status = %d", resp.StatusCode)
	}
}

func TestAuth(t *testing.T) {
	tests := []struct {
		name   string
		token  string
		header string
		want   int
	}{
		{name: "valid token", token: testToken, header: "Bearer " + testToken, want: http.StatusOK},
		{name: "missing header", token: testToken, want: http.StatusUnauthorized},
		{name: "wrong token", token: testToken, header: "Bearer nope", want: http.StatusUnauthorized},
		{name: "api disabled", token: "", header: "Bearer ", want: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newTestServer(t, tt.token)
			req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/guilds/1/settings", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			resp, err := srv.Client().Do(req)
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestSettingsAPI(t *testing.T) {
	srv, _ := newTestServer(t, testToken)

	steps := []struct {
		name     string
		method   string
		path     string
		body     string
		wantCode int
		wantBody string
	}{
		{name: "create", method: http.MethodPost, path: "/api/guilds/1/settings", body: `{"channel_id":"100","username":"u/Alice"}`, wantCode: http.StatusCreated},
		{name: "create duplicate", method: http.MethodPost, path: "/api/guilds/1/settings", body: `{"channel_id":"100"}`, wantCode: http.StatusConflict, wantBody: `{"error":"channel already has a notification setting"}`},
		{name: "create invalid channel", method: http.MethodPost, path: "/api/guilds/1/settings", body: `{"channel_id":"general"}`, wantCode: http.StatusBadRequest, wantBody: `{"error":"invalid field ChannelID: numeric"}`},
		{name: "create unknown field", method: http.MethodPost, path: "/api/guilds/1/settings", body: `{"channel":"100"}`, wantCode: http.StatusBadRequest, wantBody: `{"error":"invalid JSON body"}`},
		{name: "create reserved username", method: http.MethodPost, path: "/api/guilds/1/settings", body: `{"channel_id":"101","username":"rpanbot"}`, wantCode: http.StatusBadRequest, wantBody: `{"error":"username is reserved"}`},
		{name: "invalid guild", method: http.MethodGet, path: "/api/guilds/abc/settings", wantCode: http.StatusBadRequest, wantBody: `{"error":"invalid guild id"}`},
		{name: "replace unknown subreddit", method: http.MethodPut, path: "/api/guilds/1/settings/100", body: `{"subreddits":["askreddit"]}`, wantCode: http.StatusBadRequest, wantBody: `{"error":"unknown RPAN subreddit"}`},
		{name: "replace empty keyword", method: http.MethodPut, path: "/api/guilds/1/settings/100", body: `{"keywords":[""]}`, wantCode: http.StatusBadRequest},
		{name: "other guild", method: http.MethodGet, path: "/api/guilds/2/settings/100", wantCode: http.StatusNotFound},
		{name: "replace missing", method: http.MethodPut, path: "/api/guilds/1/settings/404", body: `{}`, wantCode: http.StatusNotFound},
	}
	for _, s := range steps {
		code, body := do(t, srv, s.method, s.path, s.body)
		if code != s.wantCode {
			t.Errorf("%s: status = %d, want %d (body %s)", s.name, code, s.wantCode, body)
		}
		if s.wantBody != "" && body != s.wantBody {
			t.Errorf("%s: body = %s, want %s", s.name, body, s.wantBody)
		}
	}

	code, body := do(t, srv, http.MethodPut, "/api/guilds/1/settings/100",
		`{"usernames":["Alice","bob","ALICE"],"keywords":["Music"],"subreddits":["rwm"],"custom_text":"hi"}`)
	if code != http.StatusOK {
		t.Fatalf("replace status = %d (%s)", code, body)
	}
	var got settingResponse
	if err := json.Unmarshal([]byte(body), &got); err != nil {
		t.Fatal(err)
	}
	want := settingResponse{
		GuildID:    "1",
		ChannelID:  "100",
		Usernames:  []string{"alice", "bob"},
		Keywords:   []string{"music"},
		Subreddits: []string{"readwithme"},
		CustomText: "hi",
	}
	if diff := cmp.Diff(want, got, cmpopts.IgnoreFields(settingResponse{}, "ID", "CreatedAt")); diff != "" {
		t.Errorf("replaced setting mismatch (-want +got):\n%s", diff)
	}
	if strings.Contains(body, "discord.test") {
		t.Error("webhook url leaked in the response")
	}

	code, body = do(t, srv, http.MethodGet, "/api/guilds/1/settings", "")
	var list []settingResponse
	if err := json.Unmarshal([]byte(body), &list); err != nil || code != http.StatusOK {
		t.Fatalf("list: %d %v", code, err)
	}
	if len(list) != 1 || list[0].LocalID != 1 || list[0].ChannelID != "100" {
		t.Errorf("list = %+v", list)
	}

	// The path names a channel; "1" is the local id of the setting, not a channel.
	if code, _ := do(t, srv, http.MethodDelete, "/api/guilds/1/settings/1", ""); code != http.StatusNoContent {
		t.Errorf("delete by local id status = %d", code)
	}
	if code, body := do(t, srv, http.MethodGet, "/api/guilds/1/settings/100", ""); code != http.StatusOK {
		t.Fatalf("setting deleted through its local id: %d %s", code, body)
	}

	for i := 0; i < 2; i++ {
		if code, _ := do(t, srv, http.MethodDelete, "/api/guilds/1/settings/100", ""); code != http.StatusNoContent {
			t.Errorf("delete #%d status = %d", i+1, code)
		}
	}
	if code, _ := do(t, srv, http.MethodGet, "/api/guilds/1/settings/100", ""); code != http.StatusNotFound {
		t.Errorf("get after delete status = %d", code)
	}
}

func TestPrefixesAPI(t *testing.T) {
	srv, _ := newTestServer(t, testToken)

	steps := []struct {
		method   string
		body     string
		wantCode int
		wantBody string
	}{
		{http.MethodGet, "", http.StatusOK, `{"prefixes":["rpan!","r!"]}`},
		{http.MethodPut, `{"prefixes":["?","RB!"]}`, http.StatusOK, `{"prefixes":["?","rb!"]}`},
		{http.MethodGet, "", http.StatusOK, `{"prefixes":["?","rb!"]}`},
		{http.MethodPut, `{"prefixes":["rb","rb!"]}`, http.StatusConflict, `{"error":"prefix conflicts with an existing prefix"}`},
		{http.MethodPut, `{"prefixes":[]}`, http.StatusBadRequest, ""},
		{http.MethodPut, `{"prefixes":["a","b","c","d","e"]}`, http.StatusBadRequest, `{"error":"prefix limit reached"}`},
		{http.MethodDelete, "", http.StatusOK, `{"prefixes":["rpan!","r!"]}`},
		{http.MethodDelete, "", http.StatusOK, `{"prefixes":["rpan!","r!"]}`},
	}
	for i, s := range steps {
		code, body := do(t, srv, s.method, "/api/guilds/1/prefixes", s.body)
		if code != s.wantCode {
			t.Errorf("step %d %s: status = %d, want %d (%s)", i, s.method, code, s.wantCode, body)
		}
		if s.wantBody != "" && body != s.wantBody {
			t.Errorf("step %d %s: body = %s, want %s", i, s.method, body, s.wantBody)
		}
	}
}

func TestEventsStream(t *testing.T) {
	srv, bus := newTestServer(t, testToken)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/events"
	header := http.Header{"Authorization": {"Bearer " + testToken}}
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	resp.Body.Close()
	defer conn.Close()

	delivery := events.Delivery{SettingID: 1, GuildID: "1", ChannelID: "100", BroadcastID: "abc", Author: "alice", Result: "delivered"}

	// The subscription is made after the upgrade, so publish until a frame arrives.
	frames := make(chan []byte, 1)
	go func() {
		_, data, err := conn.ReadMessage()
		if err == nil {
			frames <- data
		}
		close(frames)
	}()

	deadline := time.After(3 * time.Second)
	tick := time.NewTicker(20 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case data, ok := <-frames:
			if !ok {
				t.Fatal("connection closed before an event arrived")
			}
			var got struct {
				Topic string          `json:"topic"`
				Data  events.Delivery `json:"data"`
			}
			if err := json.Unmarshal(data, &got); err != nil {
				t.Fatal(err)
			}
			if got.Topic != events.TopicDelivery {
				t.Errorf("topic = %q", got.Topic)
			}
			if diff := cmp.Diff(delivery, got.Data); diff != "" {
				t.Errorf("event mismatch (-want +got):\n%s", diff)
			}
			return
		case <-tick.C:
			bus.Publish(events.TopicDelivery, delivery)
		case <-deadline:
			t.Fatal("no event received")
		}
	}
}

func TestEventsRequiresToken(t *testing.T) {
	srv, _ := newTestServer(t, testToken)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/events"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("dial without token succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("response = %+v", resp)
	}
}
