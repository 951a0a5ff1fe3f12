// Package config loads persistor configuration with koanf.
//
// Sources, later overriding earlier: built-in defaults, an optional YAML
// file, then PERSISTOR_ environment variables. PERSISTOR_STORE_DSN maps to
// store.dsn and PERSISTOR_LEDGER_SNAPSHOT_EVERY to ledger.snapshot_every: the
// first underscore after the prefix separates the section from the key.
package config

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/wilhg/persistor/pkg/persistence"
)

const EnvPrefix = "PERSISTOR_"

type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Store    StoreConfig    `koanf:"store"`
	Log      LogConfig      `koanf:"log"`
	Otel     OtelConfig     `koanf:"otel"`
	Ledger   LedgerConfig   `koanf:"ledger"`
	Recovery RecoveryConfig `koanf:"recovery"`
}

type ServerConfig struct {
	Addr string `koanf:"addr"`
}

// StoreConfig selects the journal backend by DSN scheme: memory:, sqlite:,
// postgres:// (or a keyword DSN) and badger:<dir>.
type StoreConfig struct {
	DSN string `koanf:"dsn"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

type OtelConfig struct {
	Enabled     bool   `koanf:"enabled"`
	Stdout      bool   `koanf:"stdout"`
	Endpoint    string `koanf:"endpoint"`
	ServiceName string `koanf:"service_name"`
}

type LedgerConfig struct {
	// SnapshotEvery saves a snapshot after every N persisted events; 0 disables.
	SnapshotEvery uint64 `koanf:"snapshot_every"`
}

// RecoveryConfig bounds replay for spawned units. Zero means unbounded.
type RecoveryConfig struct {
	ToSequenceNr uint64 `koanf:"to_sequence_nr"`
	ReplayMax    uint64 `koanf:"replay_max"`
}

// Recover converts the bounds into a recovery request.
func (r RecoveryConfig) Recover() persistence.Recover {
	rec := persistence.DefaultRecover()
	if r.ToSequenceNr > 0 {
		rec.ToSequenceNr = r.ToSequenceNr
		rec.FromSnapshot.MaxSequenceNr = r.ToSequenceNr
	}
	if r.ReplayMax > 0 {
		rec.ReplayMax = r.ReplayMax
	}
	return rec
}

func defaults() map[string]any {
	return map[string]any{
		"server.addr":             ":8080",
		"store.dsn":               "memory:",
		"log.level":               "info",
		"log.format":              "json",
		"otel.enabled":            false,
		"otel.stdout":             false,
		"otel.endpoint":           "",
		"otel.service_name":       "persistor",
		"ledger.snapshot_every":   100,
		"recovery.to_sequence_nr": 0,
		"recovery.replay_max":     0,
	}
}

// Load reads defaults, then path (skipped when empty), then the environment.
func Load(path string) (Config, error) {
	k := koanf.New(".")
	if err := k.Load(mapProvider(defaults()), nil); err != nil {
		return Config{}, fmt.Errorf("load defaults: %w", err)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("load file %s: %w", path, err)
		}
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return Config{}, fmt.Errorf("load env: %w", err)
	}
	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, cfg.Validate()
}

// envKey maps PERSISTOR_SECTION_SOME_KEY to section.some_key.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.Replace(s, "_", ".", 1)
}

var ErrInvalid = errors.New("config: invalid")

// Validate rejects values the server cannot start with.
func (c Config) Validate() error {
	var errs []error
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if !validDSN(c.Store.DSN) {
		errs = append(errs, fmt.Errorf("store.dsn %q: want memory:, sqlite:, postgres:// or badger:<dir>", c.Store.DSN))
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q: want debug, info, warn or error", c.Log.Level))
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("log.format %q: want json or text", c.Log.Format))
	}
	if c.Otel.Enabled && !c.Otel.Stdout && c.Otel.Endpoint == "" {
		errs = append(errs, errors.New("otel.enabled needs otel.stdout or otel.endpoint"))
	}
	if c.Recovery.ToSequenceNr == math.MaxUint64 {
		errs = append(errs, errors.New("recovery.to_sequence_nr: use 0 for unbounded"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

func validDSN(dsn string) bool {
	switch {
	case dsn == "memory:":
		return true
	case strings.HasPrefix(dsn, "sqlite:"), strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return true
	case strings.HasPrefix(dsn, "badger:"):
		return len(dsn) > len("badger:")
	case strings.Contains(dsn, "host="):
		return true
	}
	return false
}

// mapProvider feeds a flat map of dotted keys to koanf.
type mapProvider map[string]any

func (m mapProvider) ReadBytes() ([]byte, error) {
	return nil, errors.New("config: map provider does not support ReadBytes")
}

func (m mapProvider) Read() (map[string]any, error) {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return unflatten(out), nil
}

func unflatten(flat map[string]any) map[string]any {
	out := map[string]any{}
	for key, v := range flat {
		parts := strings.Split(key, ".")
		cur := out
		for _, p := range parts[:len(parts)-1] {
			next, ok := cur[p].(map[string]any)
			if !ok {
				next = map[string]any{}
				cur[p] = next
			}
			cur = next
		}
		cur[parts[len(parts)-1]] = v
	}
	return out
}
