package singbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmvpn/warden/util/common"
)

// fakeRun records systemctl invocations and fails the verbs listed in
// failOn.
type fakeRun struct {
	calls  [][]string
	failOn map[string]bool
}

func (f *fakeRun) run(args ...string) error {
	f.calls = append(f.calls, args)
	if f.failOn[args[0]] {
		return common.NewErrorf("systemctl %s failed", args[0])
	}
	return nil
}

func newTestController(failOn ...string) (*Controller, *fakeRun) {
	fake := &fakeRun{failOn: map[string]bool{}}
	for _, verb := range failOn {
		fake.failOn[verb] = true
	}
	c := NewController("sing-box")
	c.run = fake.run
	return c, fake
}

func TestReload(t *testing.T) {
	c, fake := newTestController()

	require.NoError(t, c.Reload())
	require.Len(t, fake.calls, 1)
	assert.Equal(t, []string{"reload", "sing-box"}, fake.calls[0])
}

func TestReloadFallsBackToRestart(t *testing.T) {
	c, fake := newTestController("reload")

	require.NoError(t, c.Reload())
	require.Len(t, fake.calls, 2)
	assert.Equal(t, []string{"restart", "sing-box"}, fake.calls[1])
}

func TestReloadDoubleFailure(t *testing.T) {
	c, fake := newTestController("reload", "restart")

	assert.Error(t, c.Reload())
	assert.Len(t, fake.calls, 2)
}

func TestReloadIfNeeded(t *testing.T) {
	c, fake := newTestController()

	// Nothing pending, nothing runs.
	require.NoError(t, c.ReloadIfNeeded())
	assert.Empty(t, fake.calls)

	// A pending mark is flushed exactly once.
	c.SetNeedReload()
	c.SetNeedReload()
	require.NoError(t, c.ReloadIfNeeded())
	assert.Len(t, fake.calls, 1)

	require.NoError(t, c.ReloadIfNeeded())
	assert.Len(t, fake.calls, 1)
}
