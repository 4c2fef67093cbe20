package notify

import (
	"os"
	"testing"

	"github.com/op/go-logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmvpn/warden/logger"
)

func TestMain(m *testing.M) {
	os.Setenv("WARDEN_LOG_FOLDER", os.TempDir())
	logger.InitLogger(logging.DEBUG)
	os.Exit(m.Run())
}

func TestNewTelegramRejectsMalformedToken(t *testing.T) {
	_, err := NewTelegram("not-a-token")
	assert.Error(t, err)
}

func TestNewTelegram(t *testing.T) {
	// A well-formed token constructs without talking to the API.
	tg, err := NewTelegram("123456789:AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA")
	require.NoError(t, err)
	assert.NotNil(t, tg)

	// The notifier satisfies the enforcement-facing interface.
	var _ Notifier = tg
}
