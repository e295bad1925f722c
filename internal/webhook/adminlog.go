package webhook

import (
	"context"
	"time"

	"github.com/bwmarrin/discordgo"
)

// AdminLog posts lifecycle events to an operator webhook. A zero URL turns it into a no-op.
type AdminLog struct {
	d   *Deliverer
	url string
}

// NewAdminLog creates an AdminLog that posts to url through d.
func NewAdminLog(d *Deliverer, url string) *AdminLog {
	return &AdminLog{d: d, url: url}
}

// Log posts a titled embed. Failures are logged only.
func (a *AdminLog) Log(ctx context.Context, title, description string) {
	if a == nil || a.url == "" {
		return
	}
	params := &discordgo.WebhookParams{
		Username:  Username,
		AvatarURL: a.d.avatarURL,
		Embeds: []*discordgo.MessageEmbed{{
			Title:       title,
			Description: description,
			Color:       EmbedColor,
			Timestamp:   time.Now().UTC().Format(time.RFC3339),
		}},
	}
	if res, err := a.d.Post(ctx, a.url, params); err != nil {
		a.d.logger.Warn("admin log post failed", "title", title, "result", res.String(), "error", err)
	}
}
