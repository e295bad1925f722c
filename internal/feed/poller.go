// Package feed turns list endpoints into item streams by polling them.
package feed

import (
	"context"
	"errors"
	"time"

	"rpan_bot/internal/watcher"
)

// ErrClosed is returned by Next after the stream was closed.
var ErrClosed = errors.New("feed: stream closed")

// seenLimit bounds how many item ids a stream remembers.
const seenLimit = 1000

// ListFunc returns the current items of a listing, newest first.
type ListFunc[T any] func(ctx context.Context) ([]T, error)

// Poller is a watcher.Source that lists on an interval and yields items it has not seen.
type Poller[T any] struct {
	list     ListFunc[T]
	id       func(T) string
	interval time.Duration
}

// NewPoller creates a Poller. id must return a stable identifier for an item.
func NewPoller[T any](list ListFunc[T], id func(T) string, interval time.Duration) *Poller[T] {
	return &Poller[T]{list: list, id: id, interval: interval}
}

// Open lists once and marks everything returned as seen, so only items that appear later are
// yielded.
func (p *Poller[T]) Open(ctx context.Context) (watcher.Stream[T], error) {
	existing, err := p.list(ctx)
	if err != nil {
		return nil, err
	}

	seen := newSeenSet(seenLimit)
	for i := len(existing) - 1; i >= 0; i-- {
		seen.add(p.id(existing[i]))
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &stream[T]{
		items:  make(chan T),
		errs:   make(chan error, 1),
		done:   make(chan struct{}),
		cancel: cancel,
	}
	go s.run(ctx, p, seen)
	return s, nil
}

type stream[T any] struct {
	items  chan T
	errs   chan error
	done   chan struct{}
	cancel context.CancelFunc
}

func (s *stream[T]) run(ctx context.Context, p *Poller[T], seen *seenSet) {
	defer close(s.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		items, err := p.list(ctx)
		if err != nil {
			if ctx.Err() == nil {
				s.errs <- err
			}
			return
		}

		for i := len(items) - 1; i >= 0; i-- {
			id := p.id(items[i])
			if seen.has(id) {
				continue
			}
			seen.add(id)
			select {
			case s.items <- items[i]:
			case <-ctx.Done():
				return
			}
		}
	}
}

// Next blocks until an unseen item arrives, the poll fails or ctx is done.
func (s *stream[T]) Next(ctx context.Context) (T, error) {
	var zero T
	select {
	case item := <-s.items:
		return item, nil
	case err := <-s.errs:
		return zero, err
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-s.done:
		select {
		case err := <-s.errs:
			return zero, err
		default:
			return zero, ErrClosed
		}
	}
}

// Close stops polling and waits for the poll goroutine to exit.
func (s *stream[T]) Close() error {
	s.cancel()
	<-s.done
	return nil
}

type seenSet struct {
	ids   map[string]struct{}
	order []string
	limit int
}

func newSeenSet(limit int) *seenSet {
	return &seenSet{ids: make(map[string]struct{}, limit), limit: limit}
}

func (s *seenSet) has(id string) bool {
	_, ok := s.ids[id]
	return ok
}

func (s *seenSet) add(id string) {
	if s.has(id) {
		return
	}
	if len(s.order) >= s.limit {
		delete(s.ids, s.order[0])
		s.order = s.order[1:]
	}
	s.ids[id] = struct{}{}
	s.order = append(s.order, id)
}
