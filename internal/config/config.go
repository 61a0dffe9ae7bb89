// Package config reads the btslice settings from a .env file, the environment
// and command line flags, later sources overriding earlier ones.
package config

import (
	"flag"
	"log/slog"
	"os"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"

	"github.com/dacapoday/btslice/block"
	"github.com/dacapoday/btslice/store"
)

type Config struct {
	Dir        string
	Slices     int
	Contexts   int
	BlockSize  int
	CacheBytes int64
	Addr       string
	LogLevel   slog.Level
}

// Default returns the settings used when nothing else is given.
func Default() Config {
	return Config{
		Slices:     4,
		Contexts:   2,
		BlockSize:  block.DefaultBlockSize,
		CacheBytes: 64 << 20,
		Addr:       ":3000",
		LogLevel:   slog.LevelInfo,
	}
}

// Load reads envFile when it exists, then the BTSLICE_* variables, then the
// flags in args. It returns the arguments left after the flags.
func Load(envFile string, args []string) (cfg Config, rest []string, err error) {
	if envFile != "" {
		if err = godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return cfg, nil, errors.Wrapf(err, "load %s", envFile)
		}
	}
	cfg = Default()
	if err = cfg.fromEnv(); err != nil {
		return
	}

	fs := flag.NewFlagSet("btslice", flag.ContinueOnError)
	fs.StringVar(&cfg.Dir, "dir", cfg.Dir, "directory of the slice files, empty for memory")
	fs.IntVar(&cfg.Slices, "slices", cfg.Slices, "number of slices")
	fs.IntVar(&cfg.Contexts, "contexts", cfg.Contexts, "number of home contexts")
	fs.IntVar(&cfg.BlockSize, "block-size", cfg.BlockSize, "block size of new slice files")
	fs.Int64Var(&cfg.CacheBytes, "cache-bytes", cfg.CacheBytes, "clean page cache of each slice")
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "HTTP listen or server address")
	fs.TextVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level")
	if err = fs.Parse(args); err != nil {
		return
	}
	return cfg, fs.Args(), cfg.validate()
}

func (cfg *Config) fromEnv() (err error) {
	if v, ok := os.LookupEnv("BTSLICE_DIR"); ok {
		cfg.Dir = v
	}
	if v, ok := os.LookupEnv("BTSLICE_ADDR"); ok {
		cfg.Addr = v
	}
	for name, dst := range map[string]*int{
		"BTSLICE_SLICES":     &cfg.Slices,
		"BTSLICE_CONTEXTS":   &cfg.Contexts,
		"BTSLICE_BLOCK_SIZE": &cfg.BlockSize,
	} {
		if v, ok := os.LookupEnv(name); ok {
			if *dst, err = strconv.Atoi(v); err != nil {
				return errors.Wrapf(err, "%s", name)
			}
		}
	}
	if v, ok := os.LookupEnv("BTSLICE_CACHE_BYTES"); ok {
		if cfg.CacheBytes, err = strconv.ParseInt(v, 10, 64); err != nil {
			return errors.Wrap(err, "BTSLICE_CACHE_BYTES")
		}
	}
	if v, ok := os.LookupEnv("BTSLICE_LOG_LEVEL"); ok {
		if err = cfg.LogLevel.UnmarshalText([]byte(v)); err != nil {
			return errors.Wrap(err, "BTSLICE_LOG_LEVEL")
		}
	}
	return nil
}

func (cfg *Config) validate() error {
	switch {
	case cfg.Slices < 1:
		return errors.Newf("slices %d, want at least 1", cfg.Slices)
	case cfg.Contexts < 1:
		return errors.Newf("contexts %d, want at least 1", cfg.Contexts)
	case cfg.CacheBytes < 0:
		return errors.Newf("cache bytes %d", cfg.CacheBytes)
	}
	return nil
}

// Store returns the store settings.
func (cfg Config) Store(log *slog.Logger) store.Config {
	return store.Config{
		Dir:        cfg.Dir,
		Slices:     cfg.Slices,
		BlockSize:  cfg.BlockSize,
		CacheBytes: cfg.CacheBytes,
		Logger:     log,
	}
}
