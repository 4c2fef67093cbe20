package model

import (
	"strings"
	"time"
)

// Protocol identifies which inbound family a key belongs to and what
// shape its routing-document entry takes.
type Protocol string

const (
	// RealityTCP is VLESS over TCP with REALITY TLS. The default
	// protocol; speed-limited keys go to a separate rate-limited
	// inbound of the same type.
	RealityTCP Protocol = "reality-tcp"
	// Shadowsocks entries authenticate by per-user password.
	Shadowsocks Protocol = "shadowsocks"
	// Tuic entries carry both a uuid and a password (same value).
	Tuic Protocol = "tuic"
	// TLSTCP is plain VLESS over TLS, uuid-only entries.
	TLSTCP Protocol = "tls-tcp"
	// LegacyShared is the old shared-password shadowsocks access.
	// No per-user traffic counters exist for it.
	LegacyShared Protocol = "legacy-shared"
)

// Accounted reports whether the daemon keeps per-key traffic counters
// for this protocol. Shared-password access cannot be attributed to a
// single key and is never polled or quota-enforced.
func (p Protocol) Accounted() bool {
	return p != LegacyShared
}

// Expiry reasons recorded when a key is deactivated.
const (
	ReasonGracePeriodEnded  = "grace_period_ended"
	ReasonDataLimitExceeded = "data_limit_exceeded"
)

// Key is one provisioned credential. Id doubles as the daemon-side
// secret: the VLESS/TUIC uuid, or the shadowsocks password.
type Key struct {
	Id             string     `json:"id" gorm:"primaryKey"`
	TgId           int64      `json:"tgId" gorm:"index"`
	Username       string     `json:"username"`
	Protocol       Protocol   `json:"protocol" gorm:"index"`
	SpeedLimitMbps float64    `json:"speedLimitMbps"`
	DataLimitGb    float64    `json:"dataLimitGb"`
	Enable         bool       `json:"enable" gorm:"index"`
	GraceStart     *time.Time `json:"graceStart"`
	WarningsSent   string     `json:"warningsSent"`
	ExpiryReason   string     `json:"expiryReason"`
	ExpiredAt      *time.Time `json:"expiredAt"`
	ExpiryDate     time.Time  `json:"expiryDate"`
	CreatedAt      time.Time  `json:"createdAt"`
}

// HasMarker reports whether a notification marker (e.g. "30", "100",
// "grace_ending") was already recorded for the current quota period.
func (k *Key) HasMarker(marker string) bool {
	if k.WarningsSent == "" {
		return false
	}
	for _, m := range strings.Split(k.WarningsSent, ",") {
		if m == marker {
			return true
		}
	}
	return false
}

// AddMarker records a notification marker. Returns false if it was
// already present.
func (k *Key) AddMarker(marker string) bool {
	if k.HasMarker(marker) {
		return false
	}
	if k.WarningsSent == "" {
		k.WarningsSent = marker
	} else {
		k.WarningsSent += "," + marker
	}
	return true
}

// DailyUsage accumulates one key's traffic for one calendar day.
// Rows are created lazily on the first non-zero delta and only ever
// increase; a new day starts a new row.
type DailyUsage struct {
	Id    int    `json:"id" gorm:"primaryKey;autoIncrement"`
	KeyId string `json:"keyId" gorm:"uniqueIndex:idx_key_date;not null"`
	Date  string `json:"date" gorm:"uniqueIndex:idx_key_date;not null"` // YYYY-MM-DD
	Bytes int64  `json:"bytes" gorm:"default:0"`
}
