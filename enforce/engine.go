package enforce

import (
	"strconv"
	"time"

	"github.com/mmvpn/warden/database/model"
	"github.com/mmvpn/warden/logger"
	"github.com/mmvpn/warden/notify"
	"github.com/mmvpn/warden/storage"
	"github.com/mmvpn/warden/util/common"
)

const (
	// GracePeriod is the fixed window after quota breach during which
	// access stays active, measured from graceStart and never reset by
	// further usage.
	GracePeriod = 24 * time.Hour

	graceEndingWindow = 2 * time.Hour
	markerGraceEnding = "grace_ending"
	markerBreach      = "100"

	bytesPerGb = int64(1) << 30
)

// warnThresholds are evaluated in ascending order each tick.
var warnThresholds = []int{30, 65, 95}

// Remover revokes a key's daemon-side access (provision.Service in
// production).
type Remover interface {
	RemoveUser(key *model.Key) (bool, error)
}

// Engine walks every active quota-bearing key once per tick and
// advances its warning/grace/expiry state. Keys are processed
// independently: one key's failure is logged and retried next tick,
// never aborting the rest of the population.
type Engine struct {
	store    KeyStore
	prov     Remover
	notifier notify.Notifier
	now      func() time.Time
}

func NewEngine(store KeyStore, prov Remover, notifier notify.Notifier) *Engine {
	return &Engine{store: store, prov: prov, notifier: notifier, now: time.Now}
}

func (e *Engine) Tick() {
	keys, err := e.store.GetActiveKeys()
	if err != nil {
		logger.Warning("enforcement: listing active keys failed:", err)
		return
	}

	for i := range keys {
		key := &keys[i]
		if err := e.evaluateKey(key); err != nil {
			logger.Warningf("enforcement for key %s failed, retrying next tick: %v", key.Id, err)
		}
	}
}

func (e *Engine) evaluateKey(key *model.Key) error {
	defer common.Recover("enforcement key " + key.Id)

	// Only protocols with per-key accounting and an actual quota are
	// subject to enforcement.
	if !key.Protocol.Accounted() || key.DataLimitGb <= 0 {
		return nil
	}

	now := e.now()
	if key.GraceStart != nil {
		return e.evaluateGrace(key, now)
	}

	used, err := e.store.GetDailyUsage(key.Id, storage.Day(now))
	if err != nil {
		return err
	}
	limit := int64(key.DataLimitGb * float64(bytesPerGb))

	if used >= limit {
		return e.startGrace(key, now, used)
	}

	percent := int(float64(used) / float64(limit) * 100)
	for _, threshold := range warnThresholds {
		if percent < threshold {
			break
		}
		marker := strconv.Itoa(threshold)
		if key.HasMarker(marker) {
			continue
		}
		if err := e.store.MarkWarningSent(key.Id, marker); err != nil {
			return err
		}
		key.AddMarker(marker)
		e.notifier.DataWarning(key.TgId, gb(used), key.DataLimitGb, threshold)
		logger.Infof("key %s crossed %d%% of quota (%s of %s)",
			key.Id, threshold, common.FormatTraffic(used), common.FormatTraffic(limit))
	}
	return nil
}

// startGrace transitions a key whose usage reached 100%. Entering
// grace takes precedence over any lower threshold crossed on the same
// tick: the skipped markers are recorded silently and exactly one
// grace-start notification goes out.
func (e *Engine) startGrace(key *model.Key, now time.Time, used int64) error {
	for _, threshold := range warnThresholds {
		marker := strconv.Itoa(threshold)
		if key.HasMarker(marker) {
			continue
		}
		if err := e.store.MarkWarningSent(key.Id, marker); err != nil {
			return err
		}
		key.AddMarker(marker)
	}
	if !key.HasMarker(markerBreach) {
		if err := e.store.MarkWarningSent(key.Id, markerBreach); err != nil {
			return err
		}
		key.AddMarker(markerBreach)
	}

	if err := e.store.StartGrace(key.Id, now); err != nil {
		return err
	}
	key.GraceStart = &now

	e.notifier.GraceStarted(key.TgId, gb(used), key.DataLimitGb)
	logger.Warningf("key %s exceeded quota (%s of %.0f GB), grace period started",
		key.Id, common.FormatTraffic(used), key.DataLimitGb)
	return nil
}

func (e *Engine) evaluateGrace(key *model.Key, now time.Time) error {
	elapsed := now.Sub(*key.GraceStart)
	if elapsed >= GracePeriod {
		return e.expire(key, now)
	}

	remaining := GracePeriod - elapsed
	if remaining <= graceEndingWindow && !key.HasMarker(markerGraceEnding) {
		if err := e.store.MarkWarningSent(key.Id, markerGraceEnding); err != nil {
			return err
		}
		key.AddMarker(markerGraceEnding)
		e.notifier.GraceEnding(key.TgId, int(remaining.Round(time.Hour).Hours()))
	}
	return nil
}

// expire is terminal: once a key is expired the engine never sees it
// again unless an external actor reactivates it. The config removal
// runs first; if it fails the key stays untouched and the whole
// transition retries next tick.
func (e *Engine) expire(key *model.Key, now time.Time) error {
	if _, err := e.prov.RemoveUser(key); err != nil {
		return err
	}
	if err := e.store.Expire(key.Id, model.ReasonGracePeriodEnded, now); err != nil {
		return err
	}
	e.notifier.KeyExpired(key.TgId, model.ReasonGracePeriodEnded)
	logger.Infof("key %s expired: grace period ended", key.Id)
	return nil
}

func gb(bytes int64) float64 {
	return float64(bytes) / float64(bytesPerGb)
}
