// Package syncrun sequences one end-to-end sync pass: open the
// dongle, discover trackers, and drive each one through connect, dump,
// upload, and disconnect against the include/exclude and forceSync
// policy.
package syncrun

import (
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"galileosync/internal/byteutil"
	"galileosync/internal/dump"
	"galileosync/internal/logx"
	"galileosync/internal/runconfig"
	"galileosync/internal/server"
	"galileosync/internal/tracker"
	"galileosync/internal/usbchan"
	"galileosync/internal/wireerr"
)

// Outcome classifies how a single tracker's pass ended.
type Outcome string

const (
	Skipped    Outcome = "Skipped"
	LinkFailed Outcome = "LinkFailed"
	DumpFailed Outcome = "DumpFailed"
	DumpedOnly Outcome = "DumpedOnly"
	Rejected   Outcome = "Rejected"
	Synced     Outcome = "Synced"
)

// Result records one tracker's outcome for the run summary.
type Result struct {
	Tracker tracker.Tracker
	Outcome Outcome
	Err     error
}

// discoveryBaseUUID and the GATT parameters are the fixed values the
// dongle firmware expects to find a Fitbit tracker.
const (
	discoveryService = 0xfb00
	discoveryWrite   = 0xfb02
	discoveryRead    = 0xfb01
)

var discoveryBaseUUID = uuid.MustParse("adab0000-6e7d-4601-bda2-bffaa68956ba")

// Run executes one full sync pass and returns a per-tracker summary.
// A nil error with a short Results slice means the dongle was absent
// or discovery found nothing; a non-nil error means the run aborted
// early (dongle open failure, a failed disconnectAll, getHardwareInfo
// or discover step, a connection error from requestStatus, or a
// server BackOff in one-shot mode).
//
// retryOnBackOff selects how a server BackOff is handled: daemon mode
// passes true (sleep the returned range, then retry the sync once
// before moving on); one-shot mode passes false, which aborts the run
// immediately on BackOff rather than silently skipping the tracker.
func Run(cfg *runconfig.Config, retryOnBackOff bool) ([]Result, error) {
	dongle, err := usbchan.Open()
	if err != nil {
		if errors.Is(err, wireerr.ErrNoDongle) {
			logx.Infof("syncrun: no dongle present, nothing to do")
			return nil, nil
		}
		return nil, fmt.Errorf("syncrun: open dongle: %w", err)
	}
	defer dongle.Close()

	client := tracker.NewClient(dongle)

	if err := client.DisconnectAll(); err != nil {
		return nil, fmt.Errorf("syncrun: disconnectAll: %w", err)
	}
	info, err := client.GetHardwareInfo()
	if err != nil {
		return nil, fmt.Errorf("syncrun: getHardwareInfo: %w", err)
	}
	logx.Infof("syncrun: dongle hardware %d.%d, revision %#x", info.Major, info.Minor, info.Revision)

	trackers, err := client.Discover(tracker.DiscoverConfig{
		BaseUUID: discoveryBaseUUID,
		Service:  discoveryService,
		Write:    discoveryWrite,
		Read:     discoveryRead,
		MinRSSI:  -90,
		Timeout:  cfg.DiscoverTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("syncrun: discover: %w", err)
	}
	logx.Infof("syncrun: discovered %d tracker(s)", len(trackers))

	srv := server.NewClient(cfg.ServerURL)
	srv.DongleMajor, srv.DongleMinor = int(info.Major), int(info.Minor)

	return runTrackers(client, srv, cfg, trackers, retryOnBackOff)
}

// runTrackers drives every discovered tracker through runOneTracker in
// turn, applying the include/exclude/forceSync skip policy and the
// abort conditions (connection failure, or a server BackOff in
// one-shot mode) that end the run early.
func runTrackers(client *tracker.Client, srv *server.Client, cfg *runconfig.Config, trackers []tracker.Tracker, retryOnBackOff bool) ([]Result, error) {
	var results []Result
	for _, tr := range trackers {
		if tr.Status == "weak" {
			logx.Warnf("syncrun: tracker %s has a weak signal", tr.IDHex())
		}
		if !cfg.Included(tr.IDHex()) || (tr.SyncedRecently() && !cfg.ForceSync) {
			results = append(results, Result{Tracker: tr, Outcome: Skipped})
			continue
		}

		outcome, err := runOneTracker(client, srv, cfg, tr, retryOnBackOff)
		if errors.Is(err, wireerr.ErrConnection) {
			return results, fmt.Errorf("syncrun: aborting run: %w", err)
		}
		var backOff *wireerr.BackOff
		if !retryOnBackOff && errors.As(err, &backOff) {
			results = append(results, Result{Tracker: tr, Outcome: outcome, Err: err})
			return results, fmt.Errorf("syncrun: aborting run on server back-off: %w", err)
		}
		results = append(results, Result{Tracker: tr, Outcome: outcome, Err: err})
	}

	return results, nil
}

func runOneTracker(client *tracker.Client, srv *server.Client, cfg *runconfig.Config, tr tracker.Tracker, retryOnBackOff bool) (Outcome, error) {
	if err := srv.RequestStatus(); err != nil {
		return Skipped, err
	}

	if err := client.Connect(tr); err != nil {
		logx.Warnf("syncrun: tracker %s: connect failed: %v", tr.IDHex(), err)
		return LinkFailed, err
	}

	d, err := client.GetDump(dump.Megadump)
	if err != nil {
		logx.Warnf("syncrun: tracker %s: getDump failed: %v", tr.IDHex(), err)
		_ = client.Disconnect(tr)
		return DumpFailed, err
	}

	var archivePath string
	if cfg.ArchiveDumps {
		var err error
		archivePath, err = archiveDump(cfg.DumpDir, tr.IDHex(), d)
		if err != nil {
			logx.Warnf("syncrun: tracker %s: archive failed: %v", tr.IDHex(), err)
		}
	}

	if !cfg.UploadAllowed {
		_ = client.Disconnect(tr)
		return DumpedOnly, nil
	}

	respBytes, err := srv.Sync(tr.IDHex(), d.ToBase64())
	if err != nil {
		var syncErr *wireerr.SyncError
		if errors.As(err, &syncErr) {
			_ = client.Disconnect(tr)
			return Rejected, err
		}
		var backOff *wireerr.BackOff
		if errors.As(err, &backOff) {
			if !retryOnBackOff {
				_ = client.Disconnect(tr)
				return Rejected, err
			}
			logx.Warnf("syncrun: tracker %s: server back-off %d-%dms, retrying once", tr.IDHex(), backOff.Min, backOff.Max)
			sleepBackOff(backOff)
			respBytes, err = srv.Sync(tr.IDHex(), d.ToBase64())
			if err != nil {
				_ = client.Disconnect(tr)
				return Rejected, err
			}
		} else {
			_ = client.Disconnect(tr)
			return Rejected, err
		}
	}

	if archivePath != "" {
		if err := appendResponseHex(archivePath, respBytes); err != nil {
			logx.Warnf("syncrun: tracker %s: archive response failed: %v", tr.IDHex(), err)
		}
	}

	if err := client.UploadResponse(respBytes); err != nil {
		if errors.Is(err, wireerr.ErrTimeout) {
			logx.Warnf("syncrun: tracker %s: uploadResponse timed out", tr.IDHex())
		} else {
			logx.Warnf("syncrun: tracker %s: uploadResponse failed: %v", tr.IDHex(), err)
		}
	}

	if err := client.Disconnect(tr); err != nil && errors.Is(err, wireerr.ErrTimeout) {
		logx.Warnf("syncrun: tracker %s: disconnect timed out", tr.IDHex())
	}

	return Synced, nil
}

func sleepBackOff(b *wireerr.BackOff) {
	if b.Max <= b.Min {
		time.Sleep(time.Duration(b.Min) * time.Millisecond)
		return
	}
	ms := b.Min + rand.Intn(b.Max-b.Min)
	time.Sleep(time.Duration(ms) * time.Millisecond)
}

// archiveDump persists a dump's body (hex, 20 bytes/line) followed by a
// blank line to {dumpDir}/{trackerHex}/dump-{unix}.txt and returns the
// path so the server's response can be appended once sync completes.
func archiveDump(dumpDir, trackerHex string, d *dump.Dump) (string, error) {
	dir := filepath.Join(dumpDir, trackerHex)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, fmt.Sprintf("dump-%d.txt", timeNowUnix()))

	content := hexLines(d.Data()) + "\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// appendResponseHex appends the server's decoded response, hex-encoded
// 20 bytes/line, to an already-archived dump file.
func appendResponseHex(path string, response []byte) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(hexLines(response))
	return err
}

func hexLines(data []byte) string {
	var out string
	for i := 0; i < len(data); i += 20 {
		end := i + 20
		if end > len(data) {
			end = len(data)
		}
		out += byteutil.Hex(data[i:end], false) + "\n"
	}
	return out
}

// timeNowUnix is indirected so archiveDump's filename scheme is
// documented in one place without reaching for time.Now() inline at
// every call site.
func timeNowUnix() int64 {
	return time.Now().Unix()
}
