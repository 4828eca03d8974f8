// Package config holds the proxy's runtime configuration: listen/upstream
// addresses, the raw-vs-tui display mode, and the aggregator's sizing
// knobs. A Config is normally built from CLI flags by cmd/pgxray; LoadFile
// is optional ambient plumbing for deployments that prefer a config file.
package config

import (
	"os"

	"gopkg.in/ini.v1"
)

// Config holds the proxy's runtime configuration.
type Config struct {
	ListenAddr           string
	UpstreamAddr         string
	Mode                 string // "raw" or "tui"
	SlowThreshold        uint64 // milliseconds; queries at or above this are flagged slow
	RingSize             int
	FingerprintTableSize int
	FingerprintCacheSize int
	BusCapacity          int
}

// Default returns a Config with the proxy's baseline sizing, suitable as a
// starting point before flag or file overrides are applied.
func Default() *Config {
	return &Config{
		ListenAddr:           ":5433",
		UpstreamAddr:         "127.0.0.1:5432",
		Mode:                 "raw",
		SlowThreshold:        100,
		RingSize:             2000,
		FingerprintTableSize: 1000,
		FingerprintCacheSize: 4096,
		BusCapacity:          4096,
	}
}

// LoadFile reads a Config from an INI file's [pgxray] section, starting
// from Default() for any key the file omits, then applies the
// PGXRAY_LISTEN / PGXRAY_UPSTREAM environment overrides the same way the
// teacher's config.Load applies TQDBPROXY_POSTGRES_LISTEN.
func LoadFile(path string) (*Config, error) {
	cfg, err := ini.Load(path)
	if err != nil {
		return nil, err
	}

	c := Default()
	sec := cfg.Section("pgxray")

	c.ListenAddr = sec.Key("listen").MustString(c.ListenAddr)
	c.UpstreamAddr = sec.Key("upstream").MustString(c.UpstreamAddr)
	c.Mode = sec.Key("mode").MustString(c.Mode)
	c.SlowThreshold = uint64(sec.Key("threshold_ms").MustInt64(int64(c.SlowThreshold)))
	c.RingSize = sec.Key("ring_size").MustInt(c.RingSize)

	if v := os.Getenv("PGXRAY_LISTEN"); v != "" {
		c.ListenAddr = v
	}
	if v := os.Getenv("PGXRAY_UPSTREAM"); v != "" {
		c.UpstreamAddr = v
	}

	return c, nil
}
