// Package config holds the settings both halves of a handoff must agree on,
// plus the consumer's service settings. Values come from command-line flags.
package config

import (
	"errors"
	"flag"
	"fmt"
	"path/filepath"
	"time"

	"github.com/rxanders35/fluxstate/pkg/shm"
)

const (
	StorePebble = "pebble"
	StoreNeedle = "needle"
	StoreMemory = "memory"
)

type Config struct {
	// Shared by producer and consumer
	RegionPath     string
	RegionCapacity int
	ConsumerAddr   string

	// Consumer only
	HTTPAddr     string
	DataDir      string
	Store        string
	Compress     bool
	LedgerPath   string
	ReadyTimeout time.Duration
	PollInterval time.Duration
}

func Default() Config {
	return Config{
		RegionPath:     shm.DefaultPath(),
		RegionCapacity: shm.DefaultCapacity,
		ConsumerAddr:   "localhost:50051",
		HTTPAddr:       "localhost:8080",
		DataDir:        "./data",
		Store:          StorePebble,
		ReadyTimeout:   5 * time.Second,
		PollInterval:   time.Millisecond,
	}
}

// RegisterFlags binds every field to fs, using c's current values as defaults.
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	c.RegisterSharedFlags(fs)
	fs.StringVar(&c.HTTPAddr, "http-addr", c.HTTPAddr, "consumer's http address, empty to disable")
	fs.StringVar(&c.DataDir, "data-dir", c.DataDir, "consumer's durable store namespace")
	fs.StringVar(&c.Store, "store", c.Store, "durable store: pebble, needle or memory")
	fs.BoolVar(&c.Compress, "compress", c.Compress, "zstd-compress needle payloads")
	fs.StringVar(&c.LedgerPath, "ledger", c.LedgerPath, "checkpoint ledger database (default <data-dir>/ledger.db)")
	fs.DurationVar(&c.ReadyTimeout, "ready-timeout", c.ReadyTimeout, "how long a capture waits for the ready flag")
	fs.DurationVar(&c.PollInterval, "poll-interval", c.PollInterval, "ready flag poll interval")
}

// RegisterSharedFlags binds only the fields a producer needs.
func (c *Config) RegisterSharedFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.RegionPath, "region", c.RegionPath, "shared memory region backing file")
	fs.IntVar(&c.RegionCapacity, "region-capacity", c.RegionCapacity, "region size in bytes")
	fs.StringVar(&c.ConsumerAddr, "consumer-addr", c.ConsumerAddr, "consumer's grpc address")
}

func (c *Config) Validate() error {
	errs := c.sharedErrors()

	switch c.Store {
	case StorePebble, StoreNeedle, StoreMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown store %q", c.Store))
	}
	if c.ReadyTimeout <= 0 {
		errs = append(errs, errors.New("ready timeout must be positive"))
	}
	if c.PollInterval <= 0 || c.PollInterval > c.ReadyTimeout {
		errs = append(errs, fmt.Errorf("poll interval %v must be in (0, %v]", c.PollInterval, c.ReadyTimeout))
	}

	return errors.Join(errs...)
}

// ValidateShared checks only the fields set by RegisterSharedFlags.
func (c *Config) ValidateShared() error {
	return errors.Join(c.sharedErrors()...)
}

func (c *Config) sharedErrors() []error {
	var errs []error
	if c.RegionPath == "" {
		errs = append(errs, errors.New("region path is empty"))
	}
	if c.RegionCapacity < shm.HeaderSize {
		errs = append(errs, fmt.Errorf("region capacity %d below header size %d", c.RegionCapacity, shm.HeaderSize))
	}
	if c.ConsumerAddr == "" {
		errs = append(errs, errors.New("consumer address is empty"))
	}
	return errs
}

func (c *Config) Ledger() string {
	if c.LedgerPath != "" {
		return c.LedgerPath
	}
	return filepath.Join(c.DataDir, "ledger.db")
}
