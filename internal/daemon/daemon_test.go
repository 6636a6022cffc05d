package daemon

import (
	"errors"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"galileosync/internal/runconfig"
	"galileosync/internal/syncrun"
)

var errBoom = errors.New("daemon_test: synthetic sync pass failure")

// TestRunExecutesImmediatePassThenShutsDownOnSignal confirms Run fires
// a sync pass before the scheduler's first period elapses, and returns
// cleanly once SIGINT arrives instead of hanging or propagating an
// error from a graceful shutdown.
func TestRunExecutesImmediatePassThenShutsDownOnSignal(t *testing.T) {
	var calls int32
	orig := runSyncPass
	runSyncPass = func(cfg *runconfig.Config) ([]syncrun.Result, error) {
		atomic.AddInt32(&calls, 1)
		return []syncrun.Result{{Outcome: syncrun.Synced}}, nil
	}
	t.Cleanup(func() { runSyncPass = orig })

	cfg := &runconfig.Config{DaemonPeriod: time.Hour}

	go func() {
		time.Sleep(200 * time.Millisecond)
		require.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGINT))
	}()

	require.NoError(t, Run(cfg))
	require.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

// TestRunLogsAndContinuesOnPassError confirms a failing sync pass does
// not abort the daemon: it is logged and the scheduler keeps running
// until the signal arrives.
func TestRunLogsAndContinuesOnPassError(t *testing.T) {
	var calls int32
	orig := runSyncPass
	runSyncPass = func(cfg *runconfig.Config) ([]syncrun.Result, error) {
		atomic.AddInt32(&calls, 1)
		return nil, errBoom
	}
	t.Cleanup(func() { runSyncPass = orig })

	cfg := &runconfig.Config{DaemonPeriod: time.Hour}

	go func() {
		time.Sleep(200 * time.Millisecond)
		require.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGINT))
	}()

	require.NoError(t, Run(cfg))
	require.Equal(t, int32(1), atomic.LoadInt32(&calls))
}
