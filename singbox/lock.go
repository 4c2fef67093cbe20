package singbox

import (
	"os"
	"time"

	"github.com/mmvpn/warden/util/common"

	"golang.org/x/sys/unix"
)

// ErrLockTimeout is returned when the routing-document lock could not
// be acquired within the configured bound. Callers surface it to their
// own caller; the store never retries past the timeout.
var ErrLockTimeout = common.NewError("timed out waiting for config lock")

const lockRetryInterval = 100 * time.Millisecond

// Locker serializes access to the routing document. The production
// implementation is a cross-process advisory file lock; tests may
// substitute an in-process one.
type Locker interface {
	Acquire() error
	Release()
}

// FileLock is an exclusive advisory flock on a well-known path, shared
// by every process that mutates the routing document (bot, API,
// watchdog, operator scripts). Acquisition is a non-blocking attempt
// retried on a short interval up to a deadline.
type FileLock struct {
	path    string
	timeout time.Duration
	file    *os.File
}

func NewFileLock(path string, timeout time.Duration) *FileLock {
	return &FileLock{path: path, timeout: timeout}
}

func (l *FileLock) Acquire() error {
	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return common.NewErrorf("open lock file %s: %v", l.path, err)
	}

	deadline := time.Now().Add(l.timeout)
	for {
		err = unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			l.file = file
			return nil
		}
		if time.Now().After(deadline) {
			_ = file.Close()
			return ErrLockTimeout
		}
		time.Sleep(lockRetryInterval)
	}
}

func (l *FileLock) Release() {
	if l.file == nil {
		return
	}
	_ = unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	_ = l.file.Close()
	l.file = nil
}
