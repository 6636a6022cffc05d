package main

import (
	"flag"
	"fmt"
	"os"

	"galileosync/internal/daemon"
	"galileosync/internal/logx"
	"galileosync/internal/runconfig"
	"galileosync/internal/syncrun"
)

const version = "1.0.0"

func main() {
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	var err error
	switch args[0] {
	case "sync":
		err = runSync()
	case "daemon":
		err = runDaemon()
	case "version":
		fmt.Println(version)
		return
	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		logx.Errorf("%v", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: galileosync <sync|daemon|version> [args]")
	flag.PrintDefaults()
}

func runSync() error {
	cfg, err := runconfig.Load()
	if err != nil {
		return err
	}
	results, err := syncrun.Run(cfg, false)
	if err != nil {
		return err
	}
	for _, r := range results {
		logx.Infof("tracker %s -> %s", r.Tracker.IDHex(), r.Outcome)
	}
	return nil
}

func runDaemon() error {
	cfg, err := runconfig.Load()
	if err != nil {
		return err
	}
	return daemon.Run(cfg)
}
