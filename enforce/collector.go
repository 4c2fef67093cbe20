// Package enforce is the usage watchdog: it samples per-key traffic
// deltas from the daemon and drives each key through the warning →
// grace period → expiration lifecycle.
package enforce

import (
	"context"
	"time"

	"github.com/mmvpn/warden/database/model"
	"github.com/mmvpn/warden/logger"
	"github.com/mmvpn/warden/storage"
	"github.com/mmvpn/warden/util/common"
)

// KeyStore is the credential/usage repository the watchdog reads and
// writes. State kept here is the durable source of truth; a missed
// tick costs latency, never correctness.
type KeyStore interface {
	GetActiveKeys() ([]model.Key, error)
	AddUsage(id string, bytes int64, day string) error
	GetDailyUsage(id string, day string) (int64, error)
	MarkWarningSent(id string, marker string) error
	StartGrace(id string, at time.Time) error
	Expire(id string, reason string, at time.Time) error
}

// StatsSource yields traffic deltas per key. Implementations must be
// soft-failing: unreachable stats read as zero.
type StatsSource interface {
	QueryUserDelta(ctx context.Context, id string) (down int64, up int64)
}

// Collector polls traffic counters for every active key each tick and
// accumulates non-zero deltas into the key's daily usage row.
type Collector struct {
	store KeyStore
	stats StatsSource
	now   func() time.Time
}

func NewCollector(store KeyStore, stats StatsSource) *Collector {
	return &Collector{store: store, stats: stats, now: time.Now}
}

func (c *Collector) Tick(ctx context.Context) {
	keys, err := c.store.GetActiveKeys()
	if err != nil {
		logger.Warning("usage poll: listing active keys failed:", err)
		return
	}

	day := storage.Day(c.now())
	for i := range keys {
		key := &keys[i]
		if !key.Protocol.Accounted() {
			continue
		}

		down, up := c.stats.QueryUserDelta(ctx, key.Id)
		total := down + up
		if total <= 0 {
			continue
		}

		if err := c.store.AddUsage(key.Id, total, day); err != nil {
			logger.Warningf("usage poll: recording %s for key %s failed: %v",
				common.FormatTraffic(total), key.Id, err)
			continue
		}
		logger.Debugf("key %s moved %s this tick", key.Id, common.FormatTraffic(total))
	}
}
