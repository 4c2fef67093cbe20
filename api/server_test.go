package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
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
	"github.com/mmvpn/warden/storage"
)

func TestMain(m *testing.M) {
	os.Setenv("WARDEN_LOG_FOLDER", os.TempDir())
	logger.InitLogger(logging.DEBUG)
	os.Exit(m.Run())
}

func setupRouter(t *testing.T) http.Handler {
	t.Helper()
	require.NoError(t, database.InitDB(filepath.Join(t.TempDir(), "warden.db")))
	t.Cleanup(func() {
		require.NoError(t, database.CloseDB())
	})
	return NewServer().initRouter()
}

func get(t *testing.T, router http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestRoot(t *testing.T) {
	router := setupRouter(t)

	w := get(t, router, "/")
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "warden", body["name"])
	assert.NotEmpty(t, body["version"])
}

func TestKeyStatusNotFound(t *testing.T) {
	router := setupRouter(t)

	w := get(t, router, "/api/status/unknown-uuid")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestKeyStatus(t *testing.T) {
	router := setupRouter(t)

	store := &storage.KeyStore{}
	expiry := time.Now().AddDate(0, 1, 0).Truncate(time.Second)
	require.NoError(t, store.CreateKey(&model.Key{
		Id:          "k1",
		TgId:        42,
		Username:    "alice",
		Protocol:    model.RealityTCP,
		DataLimitGb: 100,
		Enable:      true,
		ExpiryDate:  expiry,
	}))
	require.NoError(t, store.AddUsage("k1", 12345, storage.Day(time.Now())))

	w := get(t, router, "/api/status/k1")
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "k1", body["uuid"])
	assert.Equal(t, true, body["is_active"])
	assert.Equal(t, "reality-tcp", body["protocol"])
	assert.Equal(t, float64(100), body["data_limit_gb"])
	assert.Equal(t, float64(12345), body["daily_usage_bytes"])
	assert.Equal(t, expiry.Format(time.RFC3339), body["expiry_date"])
	_, hasGrace := body["grace_start"]
	assert.False(t, hasGrace, "grace_start omitted while not in grace")
}

func TestKeyStatusInGrace(t *testing.T) {
	router := setupRouter(t)

	store := &storage.KeyStore{}
	require.NoError(t, store.CreateKey(&model.Key{
		Id:       "k2",
		Protocol: model.Shadowsocks,
		Enable:   true,
	}))
	at := time.Now().Add(-3 * time.Hour)
	require.NoError(t, store.StartGrace("k2", at))

	w := get(t, router, "/api/status/k2")
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.NotEmpty(t, body["grace_start"])
}

func TestLogsEndpoint(t *testing.T) {
	router := setupRouter(t)
	logger.Info("log tail probe entry")

	w := get(t, router, "/api/logs?count=5&level=INFO")
	require.Equal(t, http.StatusOK, w.Code)

	var lines []string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &lines))
	assert.NotEmpty(t, lines)
}
