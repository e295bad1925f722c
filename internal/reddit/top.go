package reddit

import (
	"context"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"rpan_bot/internal/model"
	"rpan_bot/internal/rpan"
)

// Periods accepted by TopBroadcasts. DefaultPeriod is used for anything else.
var Periods = []string{"hour", "day", "week", "month", "year", "all"}

// DefaultPeriod is the period used when none or an unknown one is given.
const DefaultPeriod = "week"

const topCacheTTL = 300 * time.Second

// TopBroadcast is the best ranked broadcast of a subreddit within a period.
type TopBroadcast struct {
	Subreddit  string
	Submission model.Submission
}

type topCache = expirable.LRU[string, []TopBroadcast]

func newTopCache() *topCache {
	return expirable.NewLRU[string, []TopBroadcast](len(Periods), nil, topCacheTTL)
}

// NormalizePeriod maps period to one of Periods.
func NormalizePeriod(period string) string {
	period = strings.ToLower(strings.TrimSpace(period))
	if slices.Contains(Periods, period) {
		return period
	}
	return DefaultPeriod
}

// TopBroadcasts returns the top broadcast of every RPAN subreddit within period, in subreddit
// order, along with the normalized period. Subreddits without a broadcast are left out.
func (c *Client) TopBroadcasts(ctx context.Context, period string) ([]TopBroadcast, string, error) {
	period = NormalizePeriod(period)
	if cached, ok := c.top.Get(period); ok {
		return cached, period, nil
	}

	var out []TopBroadcast
	for _, sub := range rpan.Subreddits {
		var l listing
		query := url.Values{
			"q":           {`flair_name:"Broadcast"`},
			"restrict_sr": {"1"},
			"sort":        {"top"},
			"t":           {period},
			"limit":       {"1"},
			"raw_json":    {"1"},
		}
		if err := c.get(ctx, "/r/"+sub+"/search.json", query, &l); err != nil {
			return nil, period, fmt.Errorf("search r/%s: %w", sub, err)
		}
		if len(l.Data.Children) > 0 {
			out = append(out, TopBroadcast{Subreddit: sub, Submission: l.Data.Children[0].Data.submission()})
		}
	}

	c.top.Add(period, out)
	return out, period, nil
}
