package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/google/go-cmp/cmp"

	"rpan_bot/internal/model"
)

var testBroadcast = model.Broadcast{
	ID:            "abc123",
	Title:         "Playing guitar",
	AuthorName:    "__big_tom__",
	SubredditName: "redditsessions",
	URL:           "https://www.reddit.com/rpan/r/redditsessions/abc123",
	Thumbnail:     "https://thumbs/abc123.jpg",
	PublishedAt:   time.Date(2020, 8, 3, 19, 5, 0, 0, time.UTC),
}

func newDeliverer(client HTTPClient) *Deliverer {
	return New(client, "https://avatar.png", slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestBuildPayload(t *testing.T) {
	setting := model.NotificationSetting{CustomText: "@here"}
	got := BuildPayload(setting, testBroadcast, "https://avatar.png")

	want := &discordgo.WebhookParams{
		Username:  "RPANBot",
		AvatarURL: "https://avatar.png",
		Content:   "@here",
		Embeds: []*discordgo.MessageEmbed{{
			Title: `u/\_\_big\_tom\_\_ started streaming!`,
			URL:   "https://www.reddit.com/rpan/r/redditsessions/abc123",
			Color: 26763,
			Fields: []*discordgo.MessageEmbedField{
				{Name: "Title", Value: "Playing guitar", Inline: true},
				{Name: "Subreddit", Value: "r/redditsessions", Inline: true},
			},
			Footer:    &discordgo.MessageEmbedFooter{Text: "Started: 03/08/2020 at 19:05 UTC"},
			Thumbnail: &discordgo.MessageEmbedThumbnail{URL: "https://thumbs/abc123.jpg"},
		}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("payload mismatch (-want +got):\n%s", diff)
	}

	degraded := testBroadcast
	degraded.Thumbnail = ""
	if p := BuildPayload(setting, degraded, ""); p.Embeds[0].Thumbnail != nil {
		t.Error("thumbnail set for a broadcast without one")
	}
}

func TestDeliver(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   Result
	}{
		{name: "ok", status: http.StatusOK, want: Delivered},
		{name: "no content", status: http.StatusNoContent, want: Delivered},
		{name: "deleted webhook", status: http.StatusNotFound, want: Rejected},
		{name: "unauthorized", status: http.StatusUnauthorized, want: Rejected},
		{name: "rate limited", status: http.StatusTooManyRequests, want: TransportError},
		{name: "server error", status: http.StatusBadGateway, want: TransportError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payloads := make(chan discordgo.WebhookParams, 1)
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPost {
					t.Errorf("method = %s, want POST", r.Method)
				}
				if ct := r.Header.Get("Content-Type"); ct != "application/json" {
					t.Errorf("content type = %q", ct)
				}
				var payload discordgo.WebhookParams
				if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
					t.Errorf("decode body: %v", err)
				}
				payloads <- payload
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			d := newDeliverer(srv.Client())
			setting := model.NotificationSetting{ID: 1, WebhookURL: srv.URL}
			if got := d.Deliver(context.Background(), setting, testBroadcast); got != tt.want {
				t.Errorf("result = %v, want %v", got, tt.want)
			}
			payload := <-payloads
			if payload.Username != "RPANBot" || len(payload.Embeds) != 1 {
				t.Errorf("unexpected payload: %+v", payload)
			}
		})
	}
}

type failingClient struct{}

func (failingClient) Do(*http.Request) (*http.Response, error) {
	return nil, errors.New("connection refused")
}

func TestDeliverTransportFailure(t *testing.T) {
	d := newDeliverer(failingClient{})
	setting := model.NotificationSetting{WebhookURL: "https://discord.invalid/hook"}
	if got := d.Deliver(context.Background(), setting, testBroadcast); got != TransportError {
		t.Errorf("result = %v, want TransportError", got)
	}
}

func TestDeliverCancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := newDeliverer(srv.Client())
	if got := d.Deliver(ctx, model.NotificationSetting{WebhookURL: srv.URL}, testBroadcast); got != TransportError {
		t.Errorf("result = %v, want TransportError", got)
	}
}

func TestTeardown(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr bool
	}{
		{name: "deleted", status: http.StatusNoContent},
		{name: "already gone", status: http.StatusNotFound, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			methods := make(chan string, 1)
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				methods <- r.Method
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			err := newDeliverer(srv.Client()).Teardown(context.Background(), srv.URL)
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if method := <-methods; method != http.MethodDelete {
				t.Errorf("method = %s, want DELETE", method)
			}
		})
	}
}
