package singbox

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"time"

	"github.com/mmvpn/warden/config"
	"github.com/mmvpn/warden/logger"
	"github.com/mmvpn/warden/util/common"
)

const (
	lockTimeout     = 30 * time.Second
	relocateTimeout = 5 * time.Second
)

// ConfigStore loads and persists the routing document. The live file
// is owned by root while this process is not, so Save serializes to a
// scratch file and relocates it with sudo. That relocation is not
// atomic for the caller: every mutation must be followed by a
// read-back verification before it may be declared successful.
type ConfigStore struct {
	// Path is the live routing document.
	Path string
	// Sudo selects the privileged relocation. Tests run against a
	// writable scratch path and turn it off.
	Sudo bool

	lock Locker
}

// NewConfigStore builds the production store from process config.
func NewConfigStore() *ConfigStore {
	return &ConfigStore{
		Path: config.GetSingboxConfigPath(),
		Sudo: true,
		lock: NewFileLock(config.GetSingboxLockPath(), lockTimeout),
	}
}

// NewTestConfigStore builds a store over a plain writable file with a
// lock file next to it. Used by tests and operator tooling.
func NewTestConfigStore(path string) *ConfigStore {
	return &ConfigStore{
		Path: path,
		lock: NewFileLock(path+".lock", lockTimeout),
	}
}

// WithLock runs fn while holding the cross-process document lock. The
// lock covers the whole load-mutate-save-verify sequence: a read that
// precedes a write must not be stale by the time the write lands.
func (s *ConfigStore) WithLock(fn func() error) error {
	if err := s.lock.Acquire(); err != nil {
		return err
	}
	defer s.lock.Release()
	return fn()
}

// SetLocker replaces the lock implementation.
func (s *ConfigStore) SetLocker(l Locker) {
	s.lock = l
}

// Load reads and parses the live document. A missing file yields an
// empty default document; a file that fails to parse is an error the
// caller must treat as fatal to the current operation.
func (s *ConfigStore) Load() (*Document, error) {
	data, err := os.ReadFile(s.Path)
	if os.IsNotExist(err) {
		logger.Warningf("config file not found at %s, using empty default", s.Path)
		return DefaultDocument(), nil
	}
	if err != nil {
		return nil, common.NewErrorf("read config %s: %v", s.Path, err)
	}

	doc := &Document{}
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, common.NewErrorf("parse config %s: %v", s.Path, err)
	}
	return doc, nil
}

// Save serializes doc to a scratch file and relocates it onto the live
// path. Failures are logged at critical severity and returned; callers
// must not assume success without the read-back verification step.
func (s *ConfigStore) Save(doc *Document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return common.NewErrorf("serialize config: %v", err)
	}

	tmp, err := os.CreateTemp("", "singbox_config_*.json")
	if err != nil {
		return common.NewErrorf("create temp config: %v", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return common.NewErrorf("write temp config: %v", err)
	}
	if err := tmp.Close(); err != nil {
		return common.NewErrorf("close temp config: %v", err)
	}

	if err := s.relocate(tmpPath); err != nil {
		logger.Criticalf("failed to save config to %s: %v", s.Path, err)
		return err
	}

	logger.Debugf("config saved to %s", s.Path)
	return nil
}

func (s *ConfigStore) relocate(tmpPath string) error {
	if !s.Sudo {
		data, err := os.ReadFile(tmpPath)
		if err != nil {
			return err
		}
		return os.WriteFile(s.Path, data, 0o644)
	}

	ctx, cancel := context.WithTimeout(context.Background(), relocateTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sudo", "cp", tmpPath, s.Path)
	if out, err := cmd.CombinedOutput(); err != nil {
		return common.NewErrorf("relocate config: %v: %s", err, out)
	}
	return nil
}
