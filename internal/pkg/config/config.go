// Package config holds the process-wide tunables for the capture and
// replication engines, built once at process start from CLI flags and
// environment overrides.
package config

import (
	"sync"
	"time"
)

// Config mirrors the tunables enumerated in the configuration table: proxy
// behavior, per-phase timeouts, size limits, and replication retry budgets.
type Config struct {
	// Browser / proxy
	CaptureBrowser  string // "Firefox" | "Chrome"
	ProxyCaptures   bool
	DomainsToProxy  []string
	ProxyAddress    string
	SocksUpstream   string
	ProxyPortRangeLo int
	ProxyPortRangeHi int

	// Size / policy limits
	MaxArchiveFileSize           int64
	MaxImageSizePixels           int64
	PrivateLinksIfGenericNoarchive bool
	PrivateLinksOnFailure          bool

	// Phase timeouts
	ResourceLoadTimeout     time.Duration
	RobotsTxtTimeout        time.Duration
	OnloadEventTimeout      time.Duration
	ElementDiscoveryTimeout time.Duration
	AfterLoadTimeout        time.Duration
	ShutdownGracePeriod     time.Duration
	HardJobTimeout          time.Duration

	// Proxy worker pool
	MaxProxyThreads   int
	MaxProxyQueueSize int

	// Worker pool concurrency
	MaxConcurrentAssets int
	WorkersCount        int

	// Replication retry budgets (initial values for a fresh task)
	RetryForRateLimitingLimit         int
	UploadMaxTimeouts                 int
	RetryForErrorLimit                int
	RetryForConfirmationConnErrLimit  int
	InternetArchiveMaxSimultaneous    int
	InternetArchiveIdentifierPrefix   string
	InternetArchiveAccessKey          string
	InternetArchiveSecretKey          string
	InternetArchiveDailyLimit         int
	InternetArchiveBlockedDates       []string

	// Storage
	WARCWorkDir string
	BlobStoreDir string

	// Logging
	LogDir string

	once *sync.Once
}

var (
	instance *Config
	once     sync.Once
)

// Default returns the built-in default configuration, matching the
// timeouts and limits named in the configuration table.
func Default() *Config {
	return &Config{
		CaptureBrowser:   "Chrome",
		ProxyCaptures:    true,
		ProxyPortRangeLo: 27500,
		ProxyPortRangeHi: 28000,

		MaxArchiveFileSize: 1024 * 1024 * 1024, // 1 GiB
		MaxImageSizePixels: 40_000_000,

		PrivateLinksIfGenericNoarchive: false,
		PrivateLinksOnFailure:          false,

		ResourceLoadTimeout:     60 * time.Second,
		RobotsTxtTimeout:        30 * time.Second,
		OnloadEventTimeout:      30 * time.Second,
		ElementDiscoveryTimeout: 2 * time.Second,
		AfterLoadTimeout:        25 * time.Second,
		ShutdownGracePeriod:     10 * time.Second,
		HardJobTimeout:          15 * time.Minute,

		MaxProxyThreads:   50,
		MaxProxyQueueSize: 1000,

		MaxConcurrentAssets: 10,
		WorkersCount:        4,

		RetryForRateLimitingLimit:       5,
		UploadMaxTimeouts:               3,
		RetryForErrorLimit:              5,
		RetryForConfirmationConnErrLimit: 5,
		InternetArchiveMaxSimultaneous:   20,
		InternetArchiveIdentifierPrefix:  "perma_cc",
		InternetArchiveDailyLimit:        100,

		WARCWorkDir:  "/tmp/capture-engine/warcs",
		BlobStoreDir: "/tmp/capture-engine/blobs",
	}
}

// Set installs cfg as the process-wide configuration. Intended to be called
// once at process start, from the CLI entrypoint, before any engine
// component calls Get.
func Set(cfg *Config) {
	once.Do(func() {
		instance = cfg
	})
}

// Get returns the process-wide configuration, initializing it to defaults
// on first use if Set was never called (e.g. in unit tests).
func Get() *Config {
	once.Do(func() {
		if instance == nil {
			instance = Default()
		}
	})
	return instance
}
