package watcher

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"rpan_bot/internal/events"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// script is one stream: the items it yields, then err (or blocking when err is nil).
type script struct {
	items []string
	err   error
	panic bool
}

type fakeStream struct {
	s      script
	pos    int
	closed chan struct{}
	once   sync.Once
}

func (f *fakeStream) Next(ctx context.Context) (string, error) {
	if f.pos < len(f.s.items) {
		f.pos++
		return f.s.items[f.pos-1], nil
	}
	if f.s.panic {
		panic("stream exploded")
	}
	if f.s.err != nil {
		return "", f.s.err
	}
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-f.closed:
		return "", errors.New("closed")
	}
}

func (f *fakeStream) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

type fakeSource struct {
	mu       sync.Mutex
	scripts  []script
	openErrs []error
	opens    int
	streams  []*fakeStream
}

func (f *fakeSource) Open(ctx context.Context) (Stream[string], error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opens++
	if len(f.openErrs) > 0 {
		err := f.openErrs[0]
		f.openErrs = f.openErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	var s script
	if len(f.scripts) > 0 {
		s, f.scripts = f.scripts[0], f.scripts[1:]
	}
	st := &fakeStream{s: s, closed: make(chan struct{})}
	f.streams = append(f.streams, st)
	return st, nil
}

func (f *fakeSource) openCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opens
}

type recorder struct {
	mu      sync.Mutex
	items   []string
	panicOn string
	want    int
	done    chan struct{}
}

func newRecorder(want int) *recorder {
	return &recorder{want: want, done: make(chan struct{})}
}

func (r *recorder) Handle(_ context.Context, item string) {
	r.mu.Lock()
	r.items = append(r.items, item)
	if len(r.items) == r.want {
		close(r.done)
	}
	r.mu.Unlock()
	if item == r.panicOn {
		panic("handler exploded")
	}
}

func (r *recorder) wait(t *testing.T) []string {
	t.Helper()
	select {
	case <-r.done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for items")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.items...)
}

func fastConfig() Config {
	return Config{Name: "test", FeedBackoff: time.Millisecond, SupervisorBackoff: time.Millisecond}
}

func runAsync(ctx context.Context, src Source[string], h Handler[string], cfg Config) <-chan error {
	errc := make(chan error, 1)
	go func() { errc <- Run(ctx, src, h, cfg, discardLogger) }()
	return errc
}

func stop(t *testing.T, cancel context.CancelFunc, errc <-chan error) {
	t.Helper()
	cancel()
	select {
	case err := <-errc:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancellation")
	}
}

func TestRunResumesAfterFeedError(t *testing.T) {
	src := &fakeSource{scripts: []script{
		{items: []string{"a", "b"}, err: errors.New("connection reset")},
		{items: []string{"c"}},
	}}
	rec := newRecorder(3)
	ctx, cancel := context.WithCancel(context.Background())
	errc := runAsync(ctx, src, rec, fastConfig())

	if diff := cmp.Diff([]string{"a", "b", "c"}, rec.wait(t)); diff != "" {
		t.Errorf("items mismatch (-want +got):\n%s", diff)
	}
	stop(t, cancel, errc)

	if n := src.openCount(); n != 2 {
		t.Errorf("opens = %d, want 2", n)
	}
	for i, st := range src.streams {
		select {
		case <-st.closed:
		default:
			t.Errorf("stream %d was not closed", i)
		}
	}
}

func TestRunRetriesFailedOpen(t *testing.T) {
	src := &fakeSource{
		openErrs: []error{errors.New("dns failure"), errors.New("dns failure")},
		scripts:  []script{{items: []string{"a"}}},
	}
	rec := newRecorder(1)
	ctx, cancel := context.WithCancel(context.Background())
	errc := runAsync(ctx, src, rec, fastConfig())

	rec.wait(t)
	stop(t, cancel, errc)
	if n := src.openCount(); n != 3 {
		t.Errorf("opens = %d, want 3", n)
	}
}

func TestRunOpenErrorBackoff(t *testing.T) {
	errForbidden := errors.New("forbidden")
	tests := []struct {
		name      string
		openErr   error
		wantOpens int
	}{
		{name: "transient error waits the feed backoff", openErr: errors.New("upstream 503"), wantOpens: 2},
		{name: "supervisory error waits the supervisor backoff", openErr: errForbidden, wantOpens: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &fakeSource{openErrs: []error{tt.openErr}, scripts: []script{{}}}
			cfg := fastConfig()
			cfg.FeedBackoff = 5 * time.Millisecond
			cfg.SupervisorBackoff = time.Hour
			cfg.IsSupervisory = func(err error) bool { return errors.Is(err, errForbidden) }
			ctx, cancel := context.WithCancel(context.Background())
			errc := runAsync(ctx, src, newRecorder(-1), cfg)

			deadline := time.Now().Add(2 * time.Second)
			for src.openCount() < tt.wantOpens && time.Now().Before(deadline) {
				time.Sleep(5 * time.Millisecond)
			}
			time.Sleep(50 * time.Millisecond)
			stop(t, cancel, errc)
			if n := src.openCount(); n != tt.wantOpens {
				t.Errorf("opens = %d, want %d", n, tt.wantOpens)
			}
		})
	}
}

func TestRunRecoversHandlerPanic(t *testing.T) {
	src := &fakeSource{scripts: []script{{items: []string{"a", "boom", "c"}}}}
	rec := newRecorder(3)
	rec.panicOn = "boom"
	ctx, cancel := context.WithCancel(context.Background())
	errc := runAsync(ctx, src, rec, fastConfig())

	if diff := cmp.Diff([]string{"a", "boom", "c"}, rec.wait(t)); diff != "" {
		t.Errorf("items mismatch (-want +got):\n%s", diff)
	}
	stop(t, cancel, errc)
	if n := src.openCount(); n != 1 {
		t.Errorf("handler panic reopened the stream: opens = %d", n)
	}
}

func TestRunStreamPanicUsesSupervisorBackoff(t *testing.T) {
	src := &fakeSource{scripts: []script{{items: []string{"a"}, panic: true}}}
	rec := newRecorder(1)
	cfg := fastConfig()
	cfg.SupervisorBackoff = time.Hour
	ctx, cancel := context.WithCancel(context.Background())
	errc := runAsync(ctx, src, rec, cfg)

	rec.wait(t)
	time.Sleep(50 * time.Millisecond)
	if n := src.openCount(); n != 1 {
		t.Errorf("opens = %d, want 1 while in supervisor backoff", n)
	}
	stop(t, cancel, errc)
}

func TestRunSupervisoryErrorNeverTerminates(t *testing.T) {
	errForbidden := errors.New("forbidden")
	src := &fakeSource{scripts: []script{
		{items: []string{"a"}, err: errForbidden},
		{items: []string{"b"}},
	}}
	rec := newRecorder(2)
	cfg := fastConfig()
	cfg.SupervisorBackoff = 5 * time.Millisecond
	var classified int
	var mu sync.Mutex
	cfg.IsSupervisory = func(err error) bool {
		mu.Lock()
		defer mu.Unlock()
		classified++
		return errors.Is(err, errForbidden)
	}
	ctx, cancel := context.WithCancel(context.Background())
	errc := runAsync(ctx, src, rec, cfg)

	if diff := cmp.Diff([]string{"a", "b"}, rec.wait(t)); diff != "" {
		t.Errorf("items mismatch (-want +got):\n%s", diff)
	}
	stop(t, cancel, errc)
	mu.Lock()
	defer mu.Unlock()
	if classified == 0 {
		t.Error("supervisory classifier never consulted")
	}
}

func TestRunPublishesStateTransitions(t *testing.T) {
	bus := events.NewBus(discardLogger)
	states, unsubscribe := bus.Subscribe(events.TopicWatcherState)
	defer unsubscribe()

	src := &fakeSource{scripts: []script{{err: errors.New("boom")}, {}}}
	cfg := fastConfig()
	cfg.Bus = bus
	ctx, cancel := context.WithCancel(context.Background())
	errc := runAsync(ctx, src, newRecorder(-1), cfg)

	want := []string{"starting", "streaming", "recoverable_fault", "backoff_wait", "starting", "streaming"}
	var got []string
	for len(got) < len(want) {
		select {
		case v := <-states:
			got = append(got, v.(events.WatcherState).State)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out, states so far %v", got)
		}
	}
	stop(t, cancel, errc)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("states mismatch (-want +got):\n%s", diff)
	}
}

func TestRunStopsWhileBackingOff(t *testing.T) {
	src := &fakeSource{openErrs: []error{errors.New("down")}}
	cfg := fastConfig()
	cfg.FeedBackoff = time.Hour
	ctx, cancel := context.WithCancel(context.Background())
	errc := runAsync(ctx, src, newRecorder(-1), cfg)

	time.Sleep(20 * time.Millisecond)
	stop(t, cancel, errc)
}

func TestStateString(t *testing.T) {
	if got := Stopped.String(); got != "stopped" {
		t.Errorf("Stopped = %q", got)
	}
	if got := State(42).String(); got != "state(42)" {
		t.Errorf("State(42) = %q", got)
	}
}
