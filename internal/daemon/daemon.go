// Package daemon re-runs the sync orchestrator on a fixed period using
// gocron, in place of a hand-rolled time.Ticker loop.
package daemon

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/go-co-op/gocron/v2"

	"galileosync/internal/logx"
	"galileosync/internal/runconfig"
	"galileosync/internal/syncrun"
)

// runSyncPass is indirected so tests can observe the scheduler's
// behavior without driving real USB hardware.
var runSyncPass = func(cfg *runconfig.Config) ([]syncrun.Result, error) {
	return syncrun.Run(cfg, true)
}

// Run starts the scheduler and blocks until a SIGINT/SIGTERM arrives.
// Cancellation is cooperative: the signal only stops the loop between
// passes, never mid-exchange.
func Run(cfg *runconfig.Config) error {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return err
	}

	_, err = sched.NewJob(
		gocron.DurationJob(cfg.DaemonPeriod),
		gocron.NewTask(func() { runPass(cfg) }),
	)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logx.Infof("daemon: started, period=%s", cfg.DaemonPeriod)
	runPass(cfg) // run once immediately, then on the scheduler's period
	sched.Start()

	<-ctx.Done()

	logx.Infof("daemon: shutting down")
	return sched.Shutdown()
}

func runPass(cfg *runconfig.Config) {
	results, err := runSyncPass(cfg)
	if err != nil {
		logx.Errorf("daemon: sync pass failed: %v", err)
		return
	}
	for _, r := range results {
		logx.Infof("daemon: tracker %s -> %s", r.Tracker.IDHex(), r.Outcome)
	}
}
