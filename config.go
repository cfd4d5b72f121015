package remotekit

import (
	"time"

	"github.com/gobeaver/beaver-kit/config"
)

// Config holds the env-driven settings for every component. Load it with
// GetConfig, then apply it through PoolOptions, CacheOptions, ReaderOptions
// and ScanDefaults.
type Config struct {
	// Connection pool tuning
	ConnectTimeoutSec int `env:"REMOTEKIT_CONNECT_TIMEOUT_SEC,default:10"`
	IOTimeoutSec      int `env:"REMOTEKIT_IO_TIMEOUT_SEC,default:60"`
	IdleThresholdSec  int `env:"REMOTEKIT_IDLE_THRESHOLD_SEC,default:30"`
	SweepIntervalSec  int `env:"REMOTEKIT_SWEEP_INTERVAL_SEC,default:10"`

	// Unified file cache
	CacheDir      string `env:"REMOTEKIT_CACHE_DIR,default:./cache"`
	CacheTTLHours int    `env:"REMOTEKIT_CACHE_TTL_HOURS,default:24"`

	// Random-access reader
	ReadBufferSize int `env:"REMOTEKIT_READ_BUFFER_SIZE,default:131072"`

	// Scanner
	ScanProgressEvery int `env:"REMOTEKIT_SCAN_PROGRESS_EVERY,default:10"`
}

// GetConfig returns config loaded from environment
func GetConfig() (*Config, error) {
	cfg := &Config{}
	if err := config.Load(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// PoolOptions derives ConnPool options from the loaded configuration:
//
//	cfg, _ := remotekit.GetConfig()
//	pool := remotekit.NewConnPool(store, cfg.PoolOptions()...)
func (c *Config) PoolOptions() []PoolOption {
	return []PoolOption{
		WithConnectTimeout(c.connectTimeout()),
		WithIOTimeout(c.ioTimeout()),
		WithIdleThreshold(c.idleThreshold()),
		WithSweepInterval(c.sweepInterval()),
	}
}

// CacheOptions derives FileCache options from the loaded configuration.
// CacheDir is the matching root: NewFileCache(cfg.CacheDir, cfg.CacheOptions()...).
func (c *Config) CacheOptions() []CacheOption {
	return []CacheOption{WithCacheTTL(c.cacheTTL())}
}

// ReaderOptions derives NetworkReader options from the loaded
// configuration.
func (c *Config) ReaderOptions() []ReaderOption {
	return []ReaderOption{WithBufferSizeHint(FixedBufferSize(c.ReadBufferSize))}
}

// ScanDefaults returns scan options pre-filled with the configured
// progress cadence; callers set filters and callbacks on the result.
func (c *Config) ScanDefaults() ScanOptions {
	return ScanOptions{ProgressEvery: c.ScanProgressEvery}
}

func (c *Config) connectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutSec) * time.Second
}

func (c *Config) ioTimeout() time.Duration {
	return time.Duration(c.IOTimeoutSec) * time.Second
}

func (c *Config) idleThreshold() time.Duration {
	return time.Duration(c.IdleThresholdSec) * time.Second
}

func (c *Config) sweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSec) * time.Second
}

func (c *Config) cacheTTL() time.Duration {
	return time.Duration(c.CacheTTLHours) * time.Hour
}
