// Package config exposes process configuration read from the
// environment, with an optional .env file loaded at startup.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

//go:embed version
var version string

//go:embed name
var name string

type LogLevel string

const (
	Debug  LogLevel = "debug"
	Info   LogLevel = "info"
	Notice LogLevel = "notice"
	Warn   LogLevel = "warn"
	Error  LogLevel = "error"
)

// LoadEnv reads a .env file from the working directory if one exists.
// Missing files are not an error; real environment variables win.
func LoadEnv() {
	_ = godotenv.Load()
}

func GetVersion() string {
	return strings.TrimSpace(version)
}

func GetName() string {
	return strings.TrimSpace(name)
}

func GetLogLevel() LogLevel {
	if IsDebug() {
		return Debug
	}
	logLevel := os.Getenv("WARDEN_LOG_LEVEL")
	if logLevel == "" {
		return Info
	}
	return LogLevel(logLevel)
}

func IsDebug() bool {
	return os.Getenv("WARDEN_DEBUG") == "true"
}

func GetDBFolderPath() string {
	dbFolderPath := os.Getenv("WARDEN_DB_FOLDER")
	if dbFolderPath == "" {
		dbFolderPath = "/etc/warden"
	}
	return dbFolderPath
}

func GetDBPath() string {
	return fmt.Sprintf("%s/%s.db", GetDBFolderPath(), GetName())
}

func GetLogFolder() string {
	logFolderPath := os.Getenv("WARDEN_LOG_FOLDER")
	if logFolderPath == "" {
		logFolderPath = "/var/log"
	}
	return logFolderPath
}

// GetSingboxConfigPath is the daemon's live routing document. The
// process usually cannot write it directly, see singbox.ConfigStore.
func GetSingboxConfigPath() string {
	p := os.Getenv("SINGBOX_CONFIG_PATH")
	if p == "" {
		p = "/etc/sing-box/config.json"
	}
	return p
}

func GetSingboxLockPath() string {
	p := os.Getenv("SINGBOX_LOCK_PATH")
	if p == "" {
		p = "/tmp/singbox_config.lock"
	}
	return p
}

func GetSingboxService() string {
	s := os.Getenv("SINGBOX_SERVICE")
	if s == "" {
		s = "sing-box"
	}
	return s
}

// GetStatsAPIAddr is the daemon's v2ray-api gRPC endpoint.
func GetStatsAPIAddr() string {
	addr := os.Getenv("SINGBOX_API_ADDR")
	if addr == "" {
		addr = "127.0.0.1:10085"
	}
	return addr
}

func GetHTTPPort() int {
	return envInt("WARDEN_API_PORT", 8000)
}

func GetBotToken() string {
	return os.Getenv("BOT_TOKEN")
}

// GetSpeedLimitCeilingMbps is the largest per-key speed limit that is
// served from the rate-limited inbound. Keys above it (or unlimited
// keys) go to the default inbound.
func GetSpeedLimitCeilingMbps() float64 {
	return envFloat("WARDEN_SPEED_CEILING_MBPS", 12)
}

func GetCheckIntervalSec() int {
	return envInt("WARDEN_CHECK_INTERVAL", 60)
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}
