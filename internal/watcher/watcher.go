// Package watcher runs long-lived feed consumers that survive upstream failures.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"rpan_bot/internal/events"
	"rpan_bot/internal/telemetry"
)

// Default backoffs.
const (
	FeedBackoff       = 15 * time.Second
	SupervisorBackoff = 60 * time.Second
)

// State is the lifecycle position of a watcher.
type State int

// Watcher states.
const (
	Starting State = iota
	Streaming
	RecoverableFault
	BackoffWait
	Stopped
)

func (s State) String() string {
	switch s {
	case Starting:
		return "starting"
	case Streaming:
		return "streaming"
	case RecoverableFault:
		return "recoverable_fault"
	case BackoffWait:
		return "backoff_wait"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Stream yields items until it fails or is closed.
type Stream[T any] interface {
	Next(ctx context.Context) (T, error)
	Close() error
}

// Source opens streams that skip items existing at open time.
type Source[T any] interface {
	Open(ctx context.Context) (Stream[T], error)
}

// Handler processes one item. It must return quickly.
type Handler[T any] interface {
	Handle(ctx context.Context, item T)
}

// Config tunes Run.
type Config struct {
	Name              string
	FeedBackoff       time.Duration
	SupervisorBackoff time.Duration
	// IsSupervisory reports errors that call for the longer backoff, such as missing permissions.
	IsSupervisory func(error) bool
	Bus           *events.Bus
}

func (c Config) withDefaults() Config {
	if c.FeedBackoff <= 0 {
		c.FeedBackoff = FeedBackoff
	}
	if c.SupervisorBackoff <= 0 {
		c.SupervisorBackoff = SupervisorBackoff
	}
	if c.IsSupervisory == nil {
		c.IsSupervisory = func(error) bool { return false }
	}
	return c
}

type panicError struct {
	value any
}

func (e panicError) Error() string { return fmt.Sprintf("panic: %v", e.value) }

// backoff picks the wait after a failed open or read. Panics and supervisory errors wait longer.
func (c Config) backoff(err error) time.Duration {
	var p panicError
	if errors.As(err, &p) || c.IsSupervisory(err) {
		return c.SupervisorBackoff
	}
	return c.FeedBackoff
}

// Run consumes src until ctx is cancelled, reopening the stream after any failure. It only
// returns ctx.Err().
func Run[T any](ctx context.Context, src Source[T], h Handler[T], cfg Config, logger *slog.Logger) error {
	cfg = cfg.withDefaults()
	logger = logger.With("watcher", cfg.Name)

	var (
		stream Stream[T]
		fault  error
		wait   time.Duration
	)
	closeStream := func() {
		if stream != nil {
			if err := stream.Close(); err != nil {
				logger.Debug("close stream", "error", err)
			}
			stream = nil
		}
	}

	state := Starting
	restarted := false
	for {
		enter(cfg, logger, state, fault)

		switch state {
		case Starting:
			if restarted {
				telemetry.IncVec(telemetry.WatcherRestarts, cfg.Name)
			}
			restarted = true

			s, err := open(ctx, src)
			switch {
			case ctx.Err() != nil:
				if s != nil {
					_ = s.Close()
				}
				state = Stopped
			case err != nil:
				fault, wait = err, cfg.backoff(err)
				state = RecoverableFault
			default:
				stream, fault = s, nil
				state = Streaming
			}

		case Streaming:
			item, err := next(ctx, stream)
			switch {
			case ctx.Err() != nil:
				state = Stopped
			case err != nil:
				fault, wait = err, cfg.backoff(err)
				state = RecoverableFault
			default:
				handle(ctx, h, item, cfg.Name, logger)
			}

		case RecoverableFault:
			closeStream()
			state = BackoffWait

		case BackoffWait:
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				state = Stopped
			case <-timer.C:
				state = Starting
			}

		case Stopped:
			closeStream()
			return ctx.Err()
		}
	}
}

func enter(cfg Config, logger *slog.Logger, state State, fault error) {
	telemetry.SetWatcherState(cfg.Name, int(state))

	ev := events.WatcherState{Watcher: cfg.Name, State: state.String(), Timestamp: time.Now().UTC()}
	switch state {
	case RecoverableFault:
		ev.Error = fault.Error()
		logger.Warn("watcher fault", "error", fault)
	case Streaming:
		logger.Info("watcher streaming")
	default:
		logger.Debug("watcher state", "state", state.String())
	}
	cfg.Bus.Publish(events.TopicWatcherState, ev)
}

func open[T any](ctx context.Context, src Source[T]) (s Stream[T], err error) {
	defer func() {
		if r := recover(); r != nil {
			err = panicError{value: r}
		}
	}()
	return src.Open(ctx)
}

func next[T any](ctx context.Context, s Stream[T]) (item T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = panicError{value: r}
		}
	}()
	return s.Next(ctx)
}

func handle[T any](ctx context.Context, h Handler[T], item T, name string, logger *slog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			telemetry.IncVec(telemetry.HandlerPanics, name)
			logger.Error("handler panic", "panic", r)
		}
	}()
	h.Handle(ctx, item)
}
