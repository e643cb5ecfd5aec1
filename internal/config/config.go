// Package config manages the goraet daemon configuration using koanf/v2.
//
// Supports YAML files and environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// -------------------------------------------------------------------------
// Configuration Structures
// -------------------------------------------------------------------------

// Config holds the complete goraet daemon configuration, matching the
// stack's own constructor-time knobs (name, role, persistence paths,
// local address, bufcnt, period/offset/auto, clean) plus the ambient
// logging and metrics sections.
type Config struct {
	Metrics MetricsConfig `koanf:"metrics"`
	Log     LogConfig     `koanf:"log"`
	Stack   StackConfig   `koanf:"stack"`
	Remotes []RemoteConfig `koanf:"remotes"`
}

// MetricsConfig holds the Prometheus metrics endpoint configuration.
type MetricsConfig struct {
	// Addr is the HTTP listen address for the metrics endpoint (e.g., ":9100").
	Addr string `koanf:"addr"`
	// Path is the URL path for the metrics endpoint (e.g., "/metrics").
	Path string `koanf:"path"`
}

// LogConfig holds the logging configuration.
type LogConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `koanf:"level"`
	// Format is the log output format: "json" or "text".
	Format string `koanf:"format"`
}

// StackConfig holds the parameters the stack needs at construction time.
type StackConfig struct {
	// Name identifies this estate to peers during join.
	Name string `koanf:"name"`

	// Main marks this stack as the rendezvous role, affecting the
	// default bootstrap port (7530 main, 7531 otherwise).
	Main bool `koanf:"main"`

	// DirPath is where per-remote keep files are written.
	DirPath string `koanf:"dir_path"`

	// BaseDirPath, when set, is joined in front of DirPath, whether or
	// not DirPath is relative.
	BaseDirPath string `koanf:"base_dir_path"`

	// Local is the bind address for the UDP socket (e.g., "0.0.0.0:7530").
	Local string `koanf:"local"`

	// BufCnt bounds datagrams drained from the socket per service pass.
	BufCnt int `koanf:"buf_cnt"`

	// Period is the default liveness-probe interval in seconds for
	// auto-managed remotes.
	Period float64 `koanf:"period"`

	// Offset is copied onto each configured remote at startup. Manage
	// does not read it, so it does not stagger probes.
	Offset float64 `koanf:"offset"`

	// Auto is loaded but not applied to any remote; each remote's
	// cascade flag comes from its own RemoteConfig.Auto.
	Auto bool `koanf:"auto"`

	// Clean is loaded but not acted on; no keep files are removed at
	// startup.
	Clean bool `koanf:"clean"`

	// Timeout is the per-transaction retransmit timeout.
	Timeout time.Duration `koanf:"timeout"`
}

// RemoteConfig describes a declarative remote peer from the configuration
// file. Each entry is joined on daemon startup.
type RemoteConfig struct {
	// Name is the remote's claimed identity.
	Name string `koanf:"name"`

	// Addr is the remote's UDP address (e.g., "10.0.0.2:7530").
	Addr string `koanf:"addr"`

	// Auto sets the remote's Auto flag. Manage probes a remote only when
	// it is also accepted, and the join path never marks a remote
	// accepted, so a freshly joined remote is not probed.
	Auto bool `koanf:"auto"`

	// Period overrides StackConfig.Period for this remote when nonzero.
	Period float64 `koanf:"period"`
}

// AddrPort parses Addr as a netip.AddrPort.
func (rc RemoteConfig) AddrPort() (netip.AddrPort, error) {
	if rc.Addr == "" {
		return netip.AddrPort{}, fmt.Errorf("remote %q: %w", rc.Name, ErrInvalidRemoteAddr)
	}

	ap, err := netip.ParseAddrPort(rc.Addr)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("parse remote %q addr %q: %w", rc.Name, rc.Addr, err)
	}

	return ap, nil
}

// -------------------------------------------------------------------------
// Defaults
// -------------------------------------------------------------------------

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Metrics: MetricsConfig{
			Addr: ":9100",
			Path: "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Stack: StackConfig{
			Local:       "0.0.0.0:7530",
			DirPath:     "goraet",
			BaseDirPath: "/var/lib/goraet",
			BufCnt:      64,
			Period:      5,
			Offset:      0,
			Auto:        true,
			Clean:       false,
			Timeout:     2 * time.Second,
		},
	}
}

// -------------------------------------------------------------------------
// Loader
// -------------------------------------------------------------------------

// envPrefix is the environment variable prefix for goraet configuration.
// Variables are named GORAET_<section>_<key>, e.g., GORAET_STACK_LOCAL.
const envPrefix = "GORAET_"

// Load reads configuration from a YAML file at path, overlays environment
// variable overrides (GORAET_ prefix), and merges on top of
// DefaultConfig(). Missing fields inherit defaults.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := DefaultConfig()
	if err := loadDefaults(k, defaults); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load config from %s: %w", path, err)
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config from %s: %w", path, err)
	}

	return cfg, nil
}

// envKeyMapper transforms GORAET_STACK_LOCAL -> stack.local.
// Strips the GORAET_ prefix, lowercases, and replaces _ with .
func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	return strings.ReplaceAll(s, "_", ".")
}

// loadDefaults marshals the default config into koanf as the base layer.
func loadDefaults(k *koanf.Koanf, defaults *Config) error {
	defaultMap := map[string]any{
		"metrics.addr":        defaults.Metrics.Addr,
		"metrics.path":        defaults.Metrics.Path,
		"log.level":           defaults.Log.Level,
		"log.format":          defaults.Log.Format,
		"stack.local":         defaults.Stack.Local,
		"stack.dir_path":      defaults.Stack.DirPath,
		"stack.base_dir_path": defaults.Stack.BaseDirPath,
		"stack.buf_cnt":       defaults.Stack.BufCnt,
		"stack.period":        defaults.Stack.Period,
		"stack.offset":        defaults.Stack.Offset,
		"stack.auto":          defaults.Stack.Auto,
		"stack.clean":         defaults.Stack.Clean,
		"stack.timeout":       defaults.Stack.Timeout.String(),
	}

	for key, val := range defaultMap {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}

	return nil
}

// -------------------------------------------------------------------------
// Validation
// -------------------------------------------------------------------------

// Validation errors.
var (
	// ErrEmptyMetricsAddr indicates the metrics listen address is empty.
	ErrEmptyMetricsAddr = errors.New("metrics.addr must not be empty")

	// ErrInvalidLocal indicates stack.local is empty or unparseable.
	ErrInvalidLocal = errors.New("stack.local must be a valid address:port")

	// ErrInvalidBufCnt indicates stack.buf_cnt is non-positive.
	ErrInvalidBufCnt = errors.New("stack.buf_cnt must be > 0")

	// ErrInvalidTimeout indicates stack.timeout is non-positive.
	ErrInvalidTimeout = errors.New("stack.timeout must be > 0")

	// ErrInvalidRemoteAddr indicates a remote has an empty or invalid address.
	ErrInvalidRemoteAddr = errors.New("remote address is invalid")

	// ErrDuplicateRemoteName indicates two remotes share the same name.
	ErrDuplicateRemoteName = errors.New("duplicate remote name")
)

// Validate checks the configuration for logical errors.
// Returns the first validation error encountered.
func Validate(cfg *Config) error {
	if cfg.Metrics.Addr == "" {
		return ErrEmptyMetricsAddr
	}

	if _, err := netip.ParseAddrPort(cfg.Stack.Local); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidLocal, err)
	}

	if cfg.Stack.BufCnt <= 0 {
		return ErrInvalidBufCnt
	}

	if cfg.Stack.Timeout <= 0 {
		return ErrInvalidTimeout
	}

	return validateRemotes(cfg.Remotes)
}

// validateRemotes checks each declarative remote entry for correctness.
func validateRemotes(remotes []RemoteConfig) error {
	seen := make(map[string]struct{}, len(remotes))

	for i, rc := range remotes {
		if _, err := rc.AddrPort(); err != nil {
			return fmt.Errorf("remotes[%d]: %w", i, err)
		}

		if _, dup := seen[rc.Name]; dup {
			return fmt.Errorf("remotes[%d] name %q: %w", i, rc.Name, ErrDuplicateRemoteName)
		}

		seen[rc.Name] = struct{}{}
	}

	return nil
}

// -------------------------------------------------------------------------
// Log Level Parsing
// -------------------------------------------------------------------------

// ParseLogLevel maps a configuration log level string to the corresponding
// slog.Level. Unknown values default to slog.LevelInfo.
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
