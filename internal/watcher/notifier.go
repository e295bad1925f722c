package watcher

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"rpan_bot/internal/events"
	"rpan_bot/internal/filter"
	"rpan_bot/internal/model"
	"rpan_bot/internal/rpan"
	"rpan_bot/internal/strapi"
	"rpan_bot/internal/telemetry"
	"rpan_bot/internal/webhook"
)

// SettingsIndex finds the settings interested in a streamer.
type SettingsIndex interface {
	SettingsForUsername(ctx context.Context, username string) ([]model.NotificationSetting, error)
}

// Metadata resolves broadcast details.
type Metadata interface {
	Fetch(ctx context.Context, id string) (model.Broadcast, error)
}

// Deliverer sends one notification.
type Deliverer interface {
	Deliver(ctx context.Context, setting model.NotificationSetting, b model.Broadcast) webhook.Result
}

// Notifier turns broadcast submissions into webhook notifications.
type Notifier struct {
	index      SettingsIndex
	metadata   Metadata
	deliverer  Deliverer
	bus        *events.Bus
	logger     *slog.Logger
	work       *errgroup.Group
	deliveries *errgroup.Group
}

// NewNotifier creates a Notifier running at most workers enrichments and workers deliveries at once.
func NewNotifier(ix SettingsIndex, metadata Metadata, deliverer Deliverer, bus *events.Bus, workers int, logger *slog.Logger) *Notifier {
	n := &Notifier{
		index:      ix,
		metadata:   metadata,
		deliverer:  deliverer,
		bus:        bus,
		logger:     logger,
		work:       new(errgroup.Group),
		deliveries: new(errgroup.Group),
	}
	n.work.SetLimit(workers)
	n.deliveries.SetLimit(workers)
	return n
}

// Handle filters a submission by author and dispatches enrichment and delivery.
func (n *Notifier) Handle(ctx context.Context, s model.Submission) {
	if !rpan.IsBroadcastURL(s.URL) {
		return
	}
	telemetry.Inc(telemetry.Submissions)

	author := strings.ToLower(s.Author)
	settings, err := n.index.SettingsForUsername(ctx, author)
	if err != nil {
		n.logger.Error("failed to look up settings", "username", author, "submission_id", s.ID, "error", err)
		return
	}
	if len(settings) == 0 {
		return
	}

	n.work.Go(func() error {
		defer n.recover("enrich")
		n.process(ctx, s, settings)
		return nil
	})
}

// Wait blocks until every dispatched enrichment and delivery finished.
func (n *Notifier) Wait() {
	_ = n.work.Wait()
	_ = n.deliveries.Wait()
}

func (n *Notifier) process(ctx context.Context, s model.Submission, settings []model.NotificationSetting) {
	ctx, span := telemetry.StartSpan(ctx, "watcher.process_submission", attribute.String("submission_id", s.ID))
	defer span.End()

	// correlation_id ties the enrich line to the delivery lines logged from other goroutines.
	log := n.logger.With("correlation_id", uuid.NewString(), "submission_id", s.ID, "username", s.Author)

	b, err := n.metadata.Fetch(ctx, s.ID)
	if err != nil {
		if !errors.Is(err, strapi.ErrNotFound) {
			log.Warn("metadata fetch failed", "error", err)
		}
		telemetry.Inc(telemetry.MetadataMisses)
		b = rpan.BroadcastFromSubmission(s)
	}

	if !strings.EqualFold(b.AuthorName, s.Author) {
		telemetry.Inc(telemetry.AuthorMismatch)
		log.Warn("broadcast author does not match submission author", "metadata_author", b.AuthorName)
		return
	}
	log.Debug("broadcast resolved", "broadcast_id", b.ID, "source", b.Source, "settings", len(settings))

	for _, setting := range settings {
		if !filter.Match(setting, b) {
			continue
		}
		telemetry.Inc(telemetry.Matches)
		n.deliveries.Go(func() error {
			defer n.recover("deliver")
			res := n.deliverer.Deliver(ctx, setting, b)
			log.Debug("delivery finished", "setting_id", setting.ID, "channel_id", setting.ChannelID, "result", res.String())
			n.bus.Publish(events.TopicDelivery, events.Delivery{
				SettingID:   setting.ID,
				GuildID:     setting.GuildID,
				ChannelID:   setting.ChannelID,
				BroadcastID: b.ID,
				Author:      b.AuthorName,
				Result:      res.String(),
				Timestamp:   time.Now().UTC(),
			})
			return nil
		})
	}
}

func (n *Notifier) recover(stage string) {
	if r := recover(); r != nil {
		telemetry.IncVec(telemetry.HandlerPanics, "broadcasts")
		n.logger.Error("notification worker panic", "stage", stage, "panic", r)
	}
}
