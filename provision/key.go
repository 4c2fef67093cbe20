package provision

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mmvpn/warden/database/model"
	"github.com/mmvpn/warden/util/random"
)

const defaultValidity = 30 * 24 * time.Hour

// NewKey mints a credential ready to store and provision. The id
// doubles as the daemon-side secret: a uuid for VLESS/TUIC, a random
// string where it serves as a shadowsocks password.
func NewKey(protocol model.Protocol, tgId int64, username string, speedLimitMbps, dataLimitGb float64) *model.Key {
	id := uuid.NewString()
	switch protocol {
	case model.Shadowsocks:
		id = random.Seq(22)
	case model.LegacyShared:
		id = random.Seq(16)
	}
	if username == "" {
		username = fmt.Sprintf("User%d", tgId)
	}

	now := time.Now()
	return &model.Key{
		Id:             id,
		TgId:           tgId,
		Username:       username,
		Protocol:       protocol,
		SpeedLimitMbps: speedLimitMbps,
		DataLimitGb:    dataLimitGb,
		Enable:         true,
		ExpiryDate:     now.Add(defaultValidity),
		CreatedAt:      now,
	}
}
