// Package config loads certctl's layered configuration. Precedence,
// highest to lowest: command line flags, CERTCTL_ environment variables,
// the config file, built-in defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

const (
	// DefaultHostname is the backend address assumed when nothing else is
	// configured.
	DefaultHostname = "localhost"
	// DefaultLogDir is where per-run log files are written.
	DefaultLogDir = "run_logs"

	envPrefix = "CERTCTL_"
)

// Config is certctl's resolved runtime configuration.
type Config struct {
	Hostname string `koanf:"hostname"`
	NoColor  bool   `koanf:"no_color"`
	Verbose  bool   `koanf:"verbose"`
	LogDir   string `koanf:"log_dir"`

	// Feed resilience knobs.
	MaxReconnects       int           `koanf:"max_reconnects"`
	MaxReconnectElapsed time.Duration `koanf:"max_reconnect_elapsed"`
	HeartbeatTimeout    time.Duration `koanf:"heartbeat_timeout"`
	AbortTimeout        time.Duration `koanf:"abort_timeout"`

	// FileUsed is the config file the values came from, if any.
	FileUsed string `koanf:"-"`
}

// findConfigFile picks the config file: an explicit path wins, then
// certctl.yaml next to the working directory, then the user config dir.
func findConfigFile(explicit string) string {
	if explicit != "" {
		return explicit
	}
	for _, name := range []string{"certctl.yaml", "certctl.yml"} {
		if _, err := os.Stat(name); err == nil {
			return name
		}
	}
	if home, err := os.UserHomeDir(); err == nil {
		for _, name := range []string{"certctl.yaml", "certctl.yml"} {
			candidate := filepath.Join(home, ".config", "certctl", name)
			if _, err := os.Stat(candidate); err == nil {
				return candidate
			}
		}
	}
	return ""
}

// Load resolves the configuration. flags may be nil; only flags the user
// actually set participate.
func Load(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(map[string]interface{}{
		"hostname":              DefaultHostname,
		"no_color":              false,
		"verbose":               false,
		"log_dir":               DefaultLogDir,
		"max_reconnects":        5,
		"max_reconnect_elapsed": 2 * time.Minute,
		"heartbeat_timeout":     60 * time.Second,
		"abort_timeout":         30 * time.Second,
	}, "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	fileUsed := findConfigFile(cfgFile)
	if fileUsed != "" {
		if err := k.Load(file.Provider(fileUsed), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", fileUsed, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, envPrefix))
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			if !f.Changed {
				return "", nil
			}
			return strings.ReplaceAll(f.Name, "-", "_"), posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	cfg.FileUsed = fileUsed

	if err := ValidateHostname(cfg.Hostname); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var (
	ipPattern     = regexp.MustCompile(`^(\d{1,3}\.){3}\d{1,3}$`)
	domainPattern = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9\-]{0,61}[a-zA-Z0-9])?(\.[a-zA-Z0-9]([a-zA-Z0-9\-]{0,61}[a-zA-Z0-9])?)*$`)
)

// ValidateHostname accepts localhost, IPv4 addresses and domain names,
// each optionally with a port suffix.
func ValidateHostname(hostname string) error {
	hostname = strings.TrimSpace(hostname)
	if hostname == "" {
		return fmt.Errorf("hostname cannot be empty")
	}
	if len(hostname) > 253 {
		return fmt.Errorf("hostname too long")
	}

	host := hostname
	if i := strings.LastIndex(hostname, ":"); i >= 0 {
		host = hostname[:i]
		port := hostname[i+1:]
		if port == "" || !isNumeric(port) {
			return fmt.Errorf("invalid port in hostname %q", hostname)
		}
	}

	if host == "localhost" {
		return nil
	}
	if ipPattern.MatchString(host) {
		for _, octet := range strings.Split(host, ".") {
			if len(octet) > 1 && octet[0] == '0' {
				return fmt.Errorf("invalid IP address: %s", host)
			}
			n := 0
			for _, r := range octet {
				n = n*10 + int(r-'0')
			}
			if n > 255 {
				return fmt.Errorf("invalid IP address: %s", host)
			}
		}
		return nil
	}
	if !domainPattern.MatchString(host) {
		return fmt.Errorf("invalid hostname format: %s", host)
	}
	return nil
}

func isNumeric(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}
