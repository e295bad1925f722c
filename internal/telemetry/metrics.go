// Package telemetry registers the Prometheus metrics and the OpenTelemetry tracer of the bot.
package telemetry

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Watchers
	WatcherState    *prometheus.GaugeVec
	WatcherRestarts *prometheus.CounterVec
	HandlerPanics   *prometheus.CounterVec

	// Broadcast pipeline
	Submissions    prometheus.Counter
	Matches        prometheus.Counter
	MetadataMisses prometheus.Counter
	AuthorMismatch prometheus.Counter
	ModNotices     *prometheus.CounterVec

	// Delivery
	Deliveries       *prometheus.CounterVec
	DeliveryDuration prometheus.Observer

	// Commands
	Commands *prometheus.CounterVec
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		WatcherState = promauto.NewGaugeVec(prometheus.GaugeOpts{Name: "rpanbot_watcher_state", Help: "Current state of each watcher (0=starting 1=streaming 2=fault 3=backoff 4=stopped)"}, []string{"watcher"})
		WatcherRestarts = promauto.NewCounterVec(prometheus.CounterOpts{Name: "rpanbot_watcher_restarts_total", Help: "Number of times a watcher reopened its stream"}, []string{"watcher"})
		HandlerPanics = promauto.NewCounterVec(prometheus.CounterOpts{Name: "rpanbot_handler_panics_total", Help: "Number of recovered panics while handling an item"}, []string{"watcher"})
		Submissions = promauto.NewCounter(prometheus.CounterOpts{Name: "rpanbot_submissions_total", Help: "Number of broadcast submissions seen"})
		Matches = promauto.NewCounter(prometheus.CounterOpts{Name: "rpanbot_matches_total", Help: "Number of settings that passed the filters for a broadcast"})
		MetadataMisses = promauto.NewCounter(prometheus.CounterOpts{Name: "rpanbot_metadata_misses_total", Help: "Number of broadcasts resolved without metadata"})
		AuthorMismatch = promauto.NewCounter(prometheus.CounterOpts{Name: "rpanbot_author_mismatch_total", Help: "Number of broadcasts whose metadata author differs from the submission author"})
		ModNotices = promauto.NewCounterVec(prometheus.CounterOpts{Name: "rpanbot_mod_notices_total", Help: "Number of moderation notices published"}, []string{"kind"})
		Deliveries = promauto.NewCounterVec(prometheus.CounterOpts{Name: "rpanbot_deliveries_total", Help: "Number of webhook deliveries by result"}, []string{"result"})
		DeliveryDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "rpanbot_delivery_seconds", Help: "Webhook delivery duration seconds", Buckets: prometheus.DefBuckets})
		Commands = promauto.NewCounterVec(prometheus.CounterOpts{Name: "rpanbot_commands_total", Help: "Number of chat commands handled"}, []string{"command"})
	})
}

// SetWatcherState records the state a watcher entered.
func SetWatcherState(watcher string, state int) {
	if WatcherState != nil {
		WatcherState.WithLabelValues(watcher).Set(float64(state))
	}
}

// IncVec increments the labelled counter if metrics are initialized.
func IncVec(c *prometheus.CounterVec, label string) {
	if c != nil {
		c.WithLabelValues(label).Inc()
	}
}

// Inc increments c if metrics are initialized.
func Inc(c prometheus.Counter) {
	if c != nil {
		c.Inc()
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}
