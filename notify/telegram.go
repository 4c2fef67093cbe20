package notify

import (
	"context"
	"fmt"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/mmvpn/warden/database/model"
	"github.com/mmvpn/warden/logger"
)

// Telegram sends quota notifications as Telegram messages.
type Telegram struct {
	bot *telego.Bot
}

func NewTelegram(token string) (*Telegram, error) {
	bot, err := telego.NewBot(token)
	if err != nil {
		return nil, err
	}
	return &Telegram{bot: bot}, nil
}

func (t *Telegram) DataWarning(tgId int64, usedGb, limitGb float64, percent int) {
	urgency := "ℹ️ NOTICE"
	switch {
	case percent >= 95:
		urgency = "🚨 CRITICAL"
	case percent >= 65:
		urgency = "⚠️ WARNING"
	}

	msg := fmt.Sprintf(
		"%s: Data Usage Alert\n\n"+
			"You've used %d%% of your daily data limit.\n\n"+
			"📊 Usage: %.2f GB / %.0f GB\n"+
			"📉 Remaining: %.2f GB\n\n"+
			"Your key keeps working until the limit is reached, then a 24-hour grace period starts.",
		urgency, percent, usedGb, limitGb, limitGb-usedGb)
	t.send(tgId, msg)
}

func (t *Telegram) GraceStarted(tgId int64, usedGb, limitGb float64) {
	msg := fmt.Sprintf(
		"⏳ Grace Period Started - Data Limit Exceeded\n\n"+
			"📊 Usage: %.2f GB / %.0f GB (100%%+)\n\n"+
			"Your key will keep working for the next 24 hours and then expire automatically.\n"+
			"Purchase a new key with /buy to avoid interruption.",
		usedGb, limitGb)
	t.send(tgId, msg)
}

func (t *Telegram) GraceEnding(tgId int64, hoursRemaining int) {
	msg := fmt.Sprintf(
		"⏰ Grace Period Ending Soon\n\n"+
			"⏳ Time remaining: ~%d hours\n\n"+
			"Your key will expire when the grace period ends. Purchase a new key with /buy now to avoid interruption.",
		hoursRemaining)
	t.send(tgId, msg)
}

func (t *Telegram) KeyExpired(tgId int64, reason string) {
	reasonText := "Your key has expired"
	switch reason {
	case model.ReasonGracePeriodEnded:
		reasonText = "Your 24-hour grace period has ended"
	case model.ReasonDataLimitExceeded:
		reasonText = "Your data limit was exceeded"
	}

	msg := fmt.Sprintf(
		"🚫 VPN Key Expired\n\n%s.\n\n"+
			"Your access has been deactivated. To continue using the VPN, purchase a new key with /buy.",
		reasonText)
	t.send(tgId, msg)
}

func (t *Telegram) send(tgId int64, msg string) {
	_, err := t.bot.SendMessage(context.Background(), &telego.SendMessageParams{
		ChatID: tu.ID(tgId),
		Text:   msg,
	})
	if err != nil {
		logger.Warningf("failed to send telegram message to %d: %v", tgId, err)
	}
}
