// Package notify delivers user-facing messages about quota events.
// Delivery is fire-and-forget: failures are logged, never retried, and
// never propagate into the enforcement loop.
package notify

import (
	"github.com/mmvpn/warden/logger"
)

// Notifier is the delivery surface the enforcement engine speaks to.
type Notifier interface {
	// DataWarning tells the owner they crossed a usage threshold.
	DataWarning(tgId int64, usedGb, limitGb float64, percent int)
	// GraceStarted tells the owner the quota is exhausted and the
	// 24-hour grace window has begun.
	GraceStarted(tgId int64, usedGb, limitGb float64)
	// GraceEnding warns once that the grace window is nearly over.
	GraceEnding(tgId int64, hoursRemaining int)
	// KeyExpired tells the owner their key was deactivated.
	KeyExpired(tgId int64, reason string)
}

// LogNotifier is the fallback used when no bot token is configured:
// events land in the operator log only.
type LogNotifier struct{}

func (LogNotifier) DataWarning(tgId int64, usedGb, limitGb float64, percent int) {
	logger.Infof("[notify] data warning for %d: %.2f/%.0f GB (%d%%)", tgId, usedGb, limitGb, percent)
}

func (LogNotifier) GraceStarted(tgId int64, usedGb, limitGb float64) {
	logger.Infof("[notify] grace period started for %d: %.2f/%.0f GB", tgId, usedGb, limitGb)
}

func (LogNotifier) GraceEnding(tgId int64, hoursRemaining int) {
	logger.Infof("[notify] grace period ending for %d: ~%dh remaining", tgId, hoursRemaining)
}

func (LogNotifier) KeyExpired(tgId int64, reason string) {
	logger.Infof("[notify] key expired for %d: %s", tgId, reason)
}
