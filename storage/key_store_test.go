package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/op/go-logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmvpn/warden/database"
	"github.com/mmvpn/warden/database/model"
	"github.com/mmvpn/warden/logger"
)

func TestMain(m *testing.M) {
	os.Setenv("WARDEN_LOG_FOLDER", os.TempDir())
	logger.InitLogger(logging.DEBUG)
	os.Exit(m.Run())
}

func setupStore(t *testing.T) *KeyStore {
	t.Helper()
	require.NoError(t, database.InitDB(filepath.Join(t.TempDir(), "warden.db")))
	t.Cleanup(func() {
		require.NoError(t, database.CloseDB())
	})
	return &KeyStore{}
}

func seedKey(t *testing.T, store *KeyStore, id string) *model.Key {
	t.Helper()
	key := &model.Key{
		Id:          id,
		TgId:        42,
		Username:    "alice",
		Protocol:    model.RealityTCP,
		DataLimitGb: 100,
		Enable:      true,
		ExpiryDate:  time.Now().AddDate(0, 1, 0),
	}
	require.NoError(t, store.CreateKey(key))
	return key
}

func TestCreateAndGetKey(t *testing.T) {
	store := setupStore(t)
	seedKey(t, store, "k1")

	got, err := store.GetKey("k1")
	require.NoError(t, err)
	assert.Equal(t, int64(42), got.TgId)
	assert.Equal(t, model.RealityTCP, got.Protocol)
	assert.True(t, got.Enable)

	_, err = store.GetKey("missing")
	assert.True(t, database.IsNotFound(err))
}

func TestAddUsageUpserts(t *testing.T) {
	store := setupStore(t)
	seedKey(t, store, "k1")
	day := Day(time.Now())

	require.NoError(t, store.AddUsage("k1", 1000, day))
	require.NoError(t, store.AddUsage("k1", 500, day))

	got, err := store.GetDailyUsage("k1", day)
	require.NoError(t, err)
	assert.Equal(t, int64(1500), got)

	// A different day is a separate counter.
	other := Day(time.Now().AddDate(0, 0, -1))
	require.NoError(t, store.AddUsage("k1", 7, other))
	got, err = store.GetDailyUsage("k1", other)
	require.NoError(t, err)
	assert.Equal(t, int64(7), got)
}

func TestDailyUsageDefaultsToZero(t *testing.T) {
	store := setupStore(t)

	got, err := store.GetDailyUsage("nobody", Day(time.Now()))
	require.NoError(t, err)
	assert.Zero(t, got)
}

func TestMarkWarningSent(t *testing.T) {
	store := setupStore(t)
	seedKey(t, store, "k1")

	require.NoError(t, store.MarkWarningSent("k1", "30"))
	require.NoError(t, store.MarkWarningSent("k1", "65"))
	// Duplicate marker is a no-op, not a corruption of the list.
	require.NoError(t, store.MarkWarningSent("k1", "30"))

	got, err := store.GetKey("k1")
	require.NoError(t, err)
	assert.Equal(t, "30,65", got.WarningsSent)
	assert.True(t, got.HasMarker("30"))
	assert.False(t, got.HasMarker("95"))
}

func TestStartGrace(t *testing.T) {
	store := setupStore(t)
	seedKey(t, store, "k1")
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.StartGrace("k1", at))

	got, err := store.GetKey("k1")
	require.NoError(t, err)
	require.NotNil(t, got.GraceStart)
	assert.True(t, got.GraceStart.Equal(at))
	assert.True(t, got.Enable, "grace keeps the key active")
}

func TestExpire(t *testing.T) {
	store := setupStore(t)
	seedKey(t, store, "k1")
	at := time.Now()

	require.NoError(t, store.Expire("k1", model.ReasonGracePeriodEnded, at))

	got, err := store.GetKey("k1")
	require.NoError(t, err)
	assert.False(t, got.Enable)
	assert.Equal(t, model.ReasonGracePeriodEnded, got.ExpiryReason)
	require.NotNil(t, got.ExpiredAt)
}

func TestActiveKeysFilter(t *testing.T) {
	store := setupStore(t)
	seedKey(t, store, "k1")
	seedKey(t, store, "k2")
	require.NoError(t, store.Deactivate("k2"))

	keys, err := store.GetActiveKeys()
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, "k1", keys[0].Id)

	count, err := store.GetActiveKeyCount(42)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}
