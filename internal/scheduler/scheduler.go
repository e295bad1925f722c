// Package scheduler runs the periodic housekeeping jobs of the bot.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"

	"rpan_bot/internal/model"
)

// Default job schedules.
const (
	ReconcileSpec = "@every 1h"
	PresenceSpec  = "@every 5m"
)

// Guilds is the settings view needed to reconcile guild membership.
type Guilds interface {
	GuildIDs(ctx context.Context) ([]string, error)
	EraseGuild(ctx context.Context, guildID string) error
}

// Membership reports the guilds the Discord session currently belongs to.
// ok is false until the session has received its full guild list, and Ready is closed from then on.
type Membership interface {
	JoinedGuilds() (ids []string, ok bool)
	Ready() <-chan struct{}
}

// ActiveBroadcasts lists the broadcasts that are live right now.
type ActiveBroadcasts interface {
	ListActive(ctx context.Context) ([]model.Broadcast, error)
}

// Presence sets the "Watching ..." status of the bot.
type Presence interface {
	UpdateWatchStatus(idle int, name string) error
}

// Scheduler runs the guild reconciliation and presence jobs on a cron.
type Scheduler struct {
	guilds     Guilds
	membership Membership
	active     ActiveBroadcasts
	presence   Presence
	log        *slog.Logger

	reconcileSpec string
	presenceSpec  string
}

// New creates a Scheduler with the default schedules.
func New(guilds Guilds, membership Membership, active ActiveBroadcasts, presence Presence, log *slog.Logger) *Scheduler {
	return &Scheduler{
		guilds:        guilds,
		membership:    membership,
		active:        active,
		presence:      presence,
		log:           log,
		reconcileSpec: ReconcileSpec,
		presenceSpec:  PresenceSpec,
	}
}

// SetSchedules overrides the cron specs of both jobs.
func (s *Scheduler) SetSchedules(reconcile, presence string) {
	s.reconcileSpec = reconcile
	s.presenceSpec = presence
}

// Run starts the cron, blocking until ctx is cancelled. Running jobs are waited for on exit.
func (s *Scheduler) Run(ctx context.Context) error {
	logger := cronLogger{s.log}
	c := cron.New(cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)))

	if _, err := c.AddFunc(s.reconcileSpec, func() { s.Reconcile(ctx) }); err != nil {
		return fmt.Errorf("add reconcile job: %w", err)
	}
	if _, err := c.AddFunc(s.presenceSpec, func() { s.UpdatePresence(ctx) }); err != nil {
		return fmt.Errorf("add presence job: %w", err)
	}

	c.Start()
	s.log.Info("scheduler started", "reconcile", s.reconcileSpec, "presence", s.presenceSpec)

	// The first presence update waits for the gateway; the cron job covers the rest.
	initial := make(chan struct{})
	go func() {
		defer close(initial)
		select {
		case <-ctx.Done():
		case <-s.membership.Ready():
			s.UpdatePresence(ctx)
		}
	}()

	<-ctx.Done()
	<-initial
	<-c.Stop().Done()
	s.log.Info("scheduler stopped")
	return nil
}

// Reconcile erases the settings of guilds the bot no longer belongs to and returns how many were erased.
func (s *Scheduler) Reconcile(ctx context.Context) int {
	joined, ok := s.membership.JoinedGuilds()
	if !ok {
		s.log.Debug("skipping guild reconciliation, guild list incomplete")
		return 0
	}
	member := make(map[string]struct{}, len(joined))
	for _, id := range joined {
		member[id] = struct{}{}
	}

	stored, err := s.guilds.GuildIDs(ctx)
	if err != nil {
		s.log.Error("list stored guilds", "error", err)
		return 0
	}

	erased := 0
	for _, id := range stored {
		if ctx.Err() != nil {
			break
		}
		if _, ok := member[id]; ok {
			continue
		}
		if err := s.guilds.EraseGuild(ctx, id); err != nil {
			s.log.Error("erase departed guild", "guild_id", id, "error", err)
			continue
		}
		erased++
	}
	if erased > 0 {
		s.log.Info("erased departed guilds", "count", erased)
	}
	return erased
}

// UpdatePresence shows the number of live broadcasts as the bot status.
func (s *Scheduler) UpdatePresence(ctx context.Context) {
	live, err := s.active.ListActive(ctx)
	if err != nil {
		s.log.Warn("list active broadcasts", "error", err)
		return
	}
	if err := s.presence.UpdateWatchStatus(0, PresenceText(len(live))); err != nil {
		s.log.Warn("update presence", "error", err)
	}
}

// PresenceText renders the status line for n live broadcasts.
func PresenceText(n int) string {
	if n == 1 {
		return "1 live broadcast"
	}
	return fmt.Sprintf("%d live broadcasts", n)
}

type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error(msg, append(keysAndValues, "error", err)...)
}
