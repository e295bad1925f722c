// Package webhook posts stream notifications to Discord webhooks.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/bwmarrin/discordgo"
	"go.opentelemetry.io/otel/attribute"

	"rpan_bot/internal/model"
	"rpan_bot/internal/rpan"
	"rpan_bot/internal/telemetry"
)

// Username is the display name notifications are posted under.
const Username = "RPANBot"

// EmbedColor is the colour of notification embeds.
const EmbedColor = 26763

// Result classifies a delivery attempt.
type Result int

// Delivery results.
const (
	Delivered Result = iota
	TransportError
	Rejected
)

func (r Result) String() string {
	switch r {
	case Delivered:
		return "delivered"
	case Rejected:
		return "rejected"
	default:
		return "transport_error"
	}
}

// HTTPClient is the subset of *http.Client the deliverer needs.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Deliverer sends notification payloads to webhook URLs. It never retries.
type Deliverer struct {
	client    HTTPClient
	avatarURL string
	logger    *slog.Logger
}

// New creates a Deliverer. avatarURL is shown next to every notification.
func New(client HTTPClient, avatarURL string, logger *slog.Logger) *Deliverer {
	return &Deliverer{client: client, avatarURL: avatarURL, logger: logger}
}

// BuildPayload renders the notification for a broadcast.
func BuildPayload(setting model.NotificationSetting, b model.Broadcast, avatarURL string) *discordgo.WebhookParams {
	embed := &discordgo.MessageEmbed{
		Title: fmt.Sprintf("u/%s started streaming!", rpan.EscapeUsername(b.AuthorName)),
		URL:   b.URL,
		Color: EmbedColor,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Title", Value: b.Title, Inline: true},
			{Name: "Subreddit", Value: "r/" + b.SubredditName, Inline: true},
		},
		Footer: &discordgo.MessageEmbedFooter{Text: "Started: " + rpan.FormatTimestamp(b.PublishedAt)},
	}
	if b.Thumbnail != "" {
		embed.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: b.Thumbnail}
	}

	return &discordgo.WebhookParams{
		Username:  Username,
		AvatarURL: avatarURL,
		Content:   setting.CustomText,
		Embeds:    []*discordgo.MessageEmbed{embed},
	}
}

// Deliver posts the notification for b to the webhook of setting.
func (d *Deliverer) Deliver(ctx context.Context, setting model.NotificationSetting, b model.Broadcast) Result {
	ctx, span := telemetry.StartSpan(ctx, "webhook.deliver",
		attribute.Int64("setting_id", setting.ID),
		attribute.String("broadcast_id", b.ID),
	)
	defer span.End()

	var (
		res Result
		err error
	)
	telemetry.TimeFunc(telemetry.DeliveryDuration, func() {
		res, err = d.Post(ctx, setting.WebhookURL, BuildPayload(setting, b, d.avatarURL))
	})
	telemetry.IncVec(telemetry.Deliveries, res.String())
	span.SetAttributes(attribute.String("result", res.String()))
	telemetry.RecordError(span, err)

	log := d.logger.With("setting_id", setting.ID, "guild_id", setting.GuildID,
		"channel_id", setting.ChannelID, "submission_id", b.ID, "result", res.String())
	switch res {
	case Delivered:
		log.Info("notification delivered")
	case Rejected:
		log.Warn("webhook rejected notification", "error", err)
	default:
		log.Warn("notification delivery failed", "error", err)
	}
	return res
}

// Post sends params as JSON to url and classifies the response.
func (d *Deliverer) Post(ctx context.Context, url string, params *discordgo.WebhookParams) (Result, error) {
	body, err := json.Marshal(params)
	if err != nil {
		return TransportError, fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Rejected, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return TransportError, fmt.Errorf("post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	return classify(resp.StatusCode)
}

// Teardown deletes the webhook behind url. Callers log the error and carry on.
func (d *Deliverer) Teardown(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("delete webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if _, err := classify(resp.StatusCode); err != nil {
		return fmt.Errorf("delete webhook: %w", err)
	}
	return nil
}

func classify(status int) (Result, error) {
	switch {
	case status >= 200 && status < 300:
		return Delivered, nil
	case status == http.StatusTooManyRequests:
		return TransportError, fmt.Errorf("rate limited: status %d", status)
	case status >= 400 && status < 500:
		return Rejected, fmt.Errorf("rejected: status %d", status)
	default:
		return TransportError, fmt.Errorf("unexpected status %d", status)
	}
}
