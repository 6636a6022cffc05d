// Package runconfig loads the sync run's configuration from a .env
// file (walked up from the working directory to the module root) with
// environment-variable overrides.
package runconfig

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config holds everything the orchestrator needs for one sync run.
type Config struct {
	ServerURL    string
	DumpDir      string
	Include      []string
	Exclude      []string
	ForceSync    bool
	UploadAllowed bool
	ArchiveDumps  bool
	DiscoverTimeout time.Duration
	DaemonPeriod    time.Duration
}

var (
	loaded *Config
	once   bool
)

// Load reads the run configuration, memoizing the result like the
// teacher's device config loader.
func Load() (*Config, error) {
	if loaded != nil && once {
		return loaded, nil
	}

	cfg := &Config{
		ServerURL:       "https://galileo-sync.example.com/sync",
		DumpDir:         "./dumps",
		ForceSync:       false,
		UploadAllowed:   true,
		ArchiveDumps:    true,
		DiscoverTimeout: 10 * time.Second,
		DaemonPeriod:    15 * time.Minute,
	}

	root := findProjectRoot()
	envPath := filepath.Join(root, ".env")
	if data, err := os.ReadFile(envPath); err == nil {
		parseEnvFile(string(data), cfg)
	}
	applyEnvOverrides(cfg)

	loaded = cfg
	once = true
	return cfg, nil
}

func parseEnvFile(content string, cfg *Config) {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		setField(cfg, key, value)
	}
}

func applyEnvOverrides(cfg *Config) {
	for _, key := range []string{
		"GALILEOSYNC_SERVER_URL", "GALILEOSYNC_DUMP_DIR", "GALILEOSYNC_INCLUDE",
		"GALILEOSYNC_EXCLUDE", "GALILEOSYNC_FORCE_SYNC", "GALILEOSYNC_UPLOAD",
		"GALILEOSYNC_ARCHIVE", "GALILEOSYNC_DISCOVER_TIMEOUT", "GALILEOSYNC_DAEMON_PERIOD",
	} {
		if v := os.Getenv(key); v != "" {
			setField(cfg, strings.TrimPrefix(key, "GALILEOSYNC_"), v)
		}
	}
}

func setField(cfg *Config, key, value string) {
	switch key {
	case "SERVER_URL":
		cfg.ServerURL = value
	case "DUMP_DIR":
		cfg.DumpDir = value
	case "INCLUDE":
		cfg.Include = splitList(value)
	case "EXCLUDE":
		cfg.Exclude = splitList(value)
	case "FORCE_SYNC":
		cfg.ForceSync = parseBool(value)
	case "UPLOAD":
		cfg.UploadAllowed = parseBool(value)
	case "ARCHIVE":
		cfg.ArchiveDumps = parseBool(value)
	case "DISCOVER_TIMEOUT":
		if d, err := time.ParseDuration(value); err == nil {
			cfg.DiscoverTimeout = d
		}
	case "DAEMON_PERIOD":
		if d, err := time.ParseDuration(value); err == nil {
			cfg.DaemonPeriod = d
		}
	}
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func parseBool(v string) bool {
	b, err := strconv.ParseBool(v)
	return err == nil && b
}

func findProjectRoot() string {
	cwd, _ := os.Getwd()
	if _, err := os.Stat(filepath.Join(cwd, ".env")); err == nil {
		return cwd
	}
	for {
		if _, err := os.Stat(filepath.Join(cwd, "go.mod")); err == nil {
			return cwd
		}
		parent := filepath.Dir(cwd)
		if parent == cwd {
			return cwd
		}
		cwd = parent
	}
}

// Included reports whether trackerHex passes the include/exclude
// policy: if Include is non-empty, trackerHex must appear in it;
// trackerHex must never appear in Exclude.
func (c *Config) Included(trackerHex string) bool {
	for _, x := range c.Exclude {
		if x == trackerHex {
			return false
		}
	}
	if len(c.Include) == 0 {
		return true
	}
	for _, i := range c.Include {
		if i == trackerHex {
			return true
		}
	}
	return false
}
