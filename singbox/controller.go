package singbox

import (
	"context"
	"os/exec"
	"time"

	"github.com/mmvpn/warden/logger"
	"github.com/mmvpn/warden/util/common"

	"go.uber.org/atomic"
)

const controlTimeout = 10 * time.Second

// Reloader tells the daemon to pick up a new routing document.
type Reloader interface {
	Reload() error
}

// Controller drives the daemon through systemctl: a graceful reload
// that keeps live connections, falling back to a hard restart. Only
// the double failure propagates, because it means provisioning changes
// are not actually in effect.
type Controller struct {
	Service string

	needReload atomic.Bool
	run        func(args ...string) error
}

func NewController(service string) *Controller {
	c := &Controller{Service: service}
	c.run = c.systemctl
	return c
}

func (c *Controller) systemctl(args ...string) error {
	ctx, cancel := context.WithTimeout(context.Background(), controlTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sudo", append([]string{"systemctl"}, args...)...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return common.NewErrorf("systemctl %v: %v: %s", args, err, out)
	}
	return nil
}

// Reload asks the daemon to re-read its document without dropping
// connections, restarting it outright if reload is unsupported or
// fails. Safe to call repeatedly.
func (c *Controller) Reload() error {
	logger.Infof("reloading %s configuration", c.Service)
	if err := c.run("reload", c.Service); err == nil {
		return nil
	} else {
		logger.Warningf("reload of %s failed, attempting restart: %v", c.Service, err)
	}

	if err := c.run("restart", c.Service); err != nil {
		logger.Errorf("restart of %s failed: %v", c.Service, err)
		return err
	}
	logger.Infof("%s restarted", c.Service)
	return nil
}

// SetNeedReload marks that a reload is pending. Batch operations mark
// instead of reloading per mutation and flush once at the end.
func (c *Controller) SetNeedReload() {
	c.needReload.Store(true)
}

// ReloadIfNeeded flushes a pending reload mark, if any.
func (c *Controller) ReloadIfNeeded() error {
	if !c.needReload.Swap(false) {
		return nil
	}
	return c.Reload()
}
