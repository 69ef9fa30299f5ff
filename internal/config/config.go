package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

type Config struct {
	//===============
	// Server
	//===============
	// TCP address the HTTP API listens on
	listenAddr string
	// Directory holding the token database and other service state
	dataDir string
	// Root directory under which per-session archive directories are created
	outputRoot string

	//===============
	// Crawl
	//===============
	// Number of article summaries requested per listing page
	pageSize int
	// Hard cap on how many articles a single session may enumerate
	maxArticles int
	// Lower bound of the randomized pause between listing requests
	delayMin time.Duration
	// Upper bound of the randomized pause between listing requests
	delayMax time.Duration
	// Controls the random number generator
	randomSeed int64
	// maximum attempt during retry
	maxAttempt int
	// initial delay for backoff
	backoffInitialDuration time.Duration
	// multiplier during exponential backoff
	backoffMultiplier float64
	// capped maximum delay for backoff to stop exponential multiplication
	backoffMaxDuration time.Duration

	//===============
	// Fetch
	//===============
	// Maximum time of a single fetch request
	timeout time.Duration
	// User agent that will be used in the request header. In raw string
	userAgent string
	// Base URL of the publishing platform API
	platformBaseURL string
	// Hostnames whose embedded players are replaced with placeholders
	videoDomains []string

	//===============
	// Abuse control
	//===============
	// Length of the sliding window used for request counting
	guardWindow time.Duration
	// Maximum session starts allowed per identity within the window
	startCeiling int
	// Maximum control-plane calls allowed per identity within the window
	controlCeiling int
	// Consecutive authorization failures before an identity is banned
	banThreshold int
	// How long a ban lasts once installed
	banDuration time.Duration
	// Idle time after which an identity's guard state may be evicted
	guardIdleTTL time.Duration

	//===============
	// Sessions
	//===============
	// Idle time after which a session is reaped regardless of status
	sessionIdleTimeout time.Duration
	// How often the reaper scans for idle sessions
	reapInterval time.Duration
	// Number of events retained per session for late subscribers
	eventBufferCapacity int

	//===============
	// Logging
	//===============
	// Minimum log level (debug, info, warn, error)
	logLevel string
	// Human-readable console output instead of JSON
	logDevelopment bool
}

type configDTO struct {
	ListenAddr             string        `json:"listenAddr,omitempty"`
	DataDir                string        `json:"dataDir,omitempty"`
	OutputRoot             string        `json:"outputRoot,omitempty"`
	PageSize               int           `json:"pageSize,omitempty"`
	MaxArticles            int           `json:"maxArticles,omitempty"`
	DelayMin               time.Duration `json:"delayMin,omitempty"`
	DelayMax               time.Duration `json:"delayMax,omitempty"`
	RandomSeed             int64         `json:"randomSeed,omitempty"`
	MaxAttempt             int           `json:"maxAttempt,omitempty"`
	BackoffInitialDuration time.Duration `json:"backoffInitialDuration,omitempty"`
	BackoffMultiplier      float64       `json:"backoffMultiplier,omitempty"`
	BackoffMaxDuration     time.Duration `json:"backoffMaxDuration,omitempty"`
	Timeout                time.Duration `json:"timeout,omitempty"`
	UserAgent              string        `json:"userAgent,omitempty"`
	PlatformBaseURL        string        `json:"platformBaseUrl,omitempty"`
	VideoDomains           []string      `json:"videoDomains,omitempty"`
	GuardWindow            time.Duration `json:"guardWindow,omitempty"`
	StartCeiling           int           `json:"startCeiling,omitempty"`
	ControlCeiling         int           `json:"controlCeiling,omitempty"`
	BanThreshold           int           `json:"banThreshold,omitempty"`
	BanDuration            time.Duration `json:"banDuration,omitempty"`
	GuardIdleTTL           time.Duration `json:"guardIdleTtl,omitempty"`
	SessionIdleTimeout     time.Duration `json:"sessionIdleTimeout,omitempty"`
	ReapInterval           time.Duration `json:"reapInterval,omitempty"`
	EventBufferCapacity    int           `json:"eventBufferCapacity,omitempty"`
	LogLevel               string        `json:"logLevel,omitempty"`
	LogDevelopment         bool          `json:"logDevelopment,omitempty"`
}

func newConfigFromDTO(dto configDTO) (Config, error) {

	// Start with default config
	cfg := *WithDefault()

	// Only override fields for which the DTO carries a non-zero value
	if dto.ListenAddr != "" {
		cfg.listenAddr = dto.ListenAddr
	}
	if dto.DataDir != "" {
		cfg.dataDir = dto.DataDir
	}
	if dto.OutputRoot != "" {
		cfg.outputRoot = dto.OutputRoot
	}
	if dto.PageSize != 0 {
		cfg.pageSize = dto.PageSize
	}
	if dto.MaxArticles != 0 {
		cfg.maxArticles = dto.MaxArticles
	}
	if dto.DelayMin != 0 {
		cfg.delayMin = dto.DelayMin
	}
	if dto.DelayMax != 0 {
		cfg.delayMax = dto.DelayMax
	}
	if dto.RandomSeed != 0 {
		cfg.randomSeed = dto.RandomSeed
	}
	if dto.MaxAttempt != 0 {
		cfg.maxAttempt = dto.MaxAttempt
	}
	if dto.BackoffInitialDuration != 0 {
		cfg.backoffInitialDuration = dto.BackoffInitialDuration
	}
	if dto.BackoffMultiplier != 0 {
		cfg.backoffMultiplier = dto.BackoffMultiplier
	}
	if dto.BackoffMaxDuration != 0 {
		cfg.backoffMaxDuration = dto.BackoffMaxDuration
	}
	if dto.Timeout != 0 {
		cfg.timeout = dto.Timeout
	}
	if dto.UserAgent != "" {
		cfg.userAgent = dto.UserAgent
	}
	if dto.PlatformBaseURL != "" {
		cfg.platformBaseURL = dto.PlatformBaseURL
	}
	if len(dto.VideoDomains) > 0 {
		cfg.videoDomains = dto.VideoDomains
	}
	if dto.GuardWindow != 0 {
		cfg.guardWindow = dto.GuardWindow
	}
	if dto.StartCeiling != 0 {
		cfg.startCeiling = dto.StartCeiling
	}
	if dto.ControlCeiling != 0 {
		cfg.controlCeiling = dto.ControlCeiling
	}
	if dto.BanThreshold != 0 {
		cfg.banThreshold = dto.BanThreshold
	}
	if dto.BanDuration != 0 {
		cfg.banDuration = dto.BanDuration
	}
	if dto.GuardIdleTTL != 0 {
		cfg.guardIdleTTL = dto.GuardIdleTTL
	}
	if dto.SessionIdleTimeout != 0 {
		cfg.sessionIdleTimeout = dto.SessionIdleTimeout
	}
	if dto.ReapInterval != 0 {
		cfg.reapInterval = dto.ReapInterval
	}
	if dto.EventBufferCapacity != 0 {
		cfg.eventBufferCapacity = dto.EventBufferCapacity
	}
	if dto.LogLevel != "" {
		cfg.logLevel = dto.LogLevel
	}
	// LogDevelopment is a boolean, the DTO value is used as-is since bool zero value is false
	cfg.logDevelopment = dto.LogDevelopment

	return cfg.Build()
}

func WithConfigFile(path string) (Config, error) {
	_, err := os.Stat(path)
	if err != nil {
		return Config{}, fmt.Errorf("%w: %s", ErrFileDoesNotExist, err.Error())
	}
	configContent, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("%w: %s", ErrReadConfigFail, err.Error())
	}
	cfgDTO := configDTO{}

	err = json.Unmarshal(configContent, &cfgDTO)
	if err != nil {
		return Config{}, fmt.Errorf("%w: %s", ErrConfigParsingFail, err.Error())
	}

	cfg, err := newConfigFromDTO(cfgDTO)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// WithDefault creates a new Config with default values for all fields.
func WithDefault() *Config {
	defaultConfig := Config{
		listenAddr:             ":8080",
		dataDir:                "data",
		outputRoot:             "archive",
		pageSize:               5,
		maxArticles:            500,
		delayMin:               2 * time.Second,
		delayMax:               5 * time.Second,
		randomSeed:             time.Now().UnixNano(),
		maxAttempt:             3,
		backoffInitialDuration: 100 * time.Millisecond,
		backoffMultiplier:      2.0,
		backoffMaxDuration:     10 * time.Second,
		timeout:                30 * time.Second,
		userAgent:              "article-archiver/1.0",
		platformBaseURL:        "https://mp.weixin.qq.com",
		videoDomains: []string{
			"v.qq.com",
			"youtube.com",
			"youtu.be",
		},
		guardWindow:         time.Minute,
		startCeiling:        10,
		controlCeiling:      60,
		banThreshold:        5,
		banDuration:         15 * time.Minute,
		guardIdleTTL:        time.Hour,
		sessionIdleTimeout:  30 * time.Minute,
		reapInterval:        time.Minute,
		eventBufferCapacity: 256,
		logLevel:            "info",
		logDevelopment:      false,
	}
	return &defaultConfig
}

func (c *Config) WithListenAddr(addr string) *Config {
	c.listenAddr = addr
	return c
}

func (c *Config) WithDataDir(dir string) *Config {
	c.dataDir = dir
	return c
}

func (c *Config) WithOutputRoot(root string) *Config {
	c.outputRoot = root
	return c
}

func (c *Config) WithPageSize(size int) *Config {
	c.pageSize = size
	return c
}

func (c *Config) WithMaxArticles(max int) *Config {
	c.maxArticles = max
	return c
}

func (c *Config) WithDelayBounds(min, max time.Duration) *Config {
	c.delayMin = min
	c.delayMax = max
	return c
}

func (c *Config) WithRandomSeed(seed int64) *Config {
	c.randomSeed = seed
	return c
}

func (c *Config) WithMaxAttempt(attempts int) *Config {
	c.maxAttempt = attempts
	return c
}

func (c *Config) WithBackoffInitialDuration(duration time.Duration) *Config {
	c.backoffInitialDuration = duration
	return c
}

func (c *Config) WithBackoffMultiplier(multiplier float64) *Config {
	c.backoffMultiplier = multiplier
	return c
}

func (c *Config) WithBackoffMaxDuration(duration time.Duration) *Config {
	c.backoffMaxDuration = duration
	return c
}

func (c *Config) WithTimeout(timeout time.Duration) *Config {
	c.timeout = timeout
	return c
}

func (c *Config) WithUserAgent(agent string) *Config {
	c.userAgent = agent
	return c
}

func (c *Config) WithPlatformBaseURL(baseURL string) *Config {
	c.platformBaseURL = baseURL
	return c
}

func (c *Config) WithVideoDomains(domains []string) *Config {
	c.videoDomains = domains
	return c
}

func (c *Config) WithGuardWindow(window time.Duration) *Config {
	c.guardWindow = window
	return c
}

func (c *Config) WithStartCeiling(ceiling int) *Config {
	c.startCeiling = ceiling
	return c
}

func (c *Config) WithControlCeiling(ceiling int) *Config {
	c.controlCeiling = ceiling
	return c
}

func (c *Config) WithBanThreshold(threshold int) *Config {
	c.banThreshold = threshold
	return c
}

func (c *Config) WithBanDuration(duration time.Duration) *Config {
	c.banDuration = duration
	return c
}

func (c *Config) WithGuardIdleTTL(ttl time.Duration) *Config {
	c.guardIdleTTL = ttl
	return c
}

func (c *Config) WithSessionIdleTimeout(timeout time.Duration) *Config {
	c.sessionIdleTimeout = timeout
	return c
}

func (c *Config) WithReapInterval(interval time.Duration) *Config {
	c.reapInterval = interval
	return c
}

func (c *Config) WithEventBufferCapacity(capacity int) *Config {
	c.eventBufferCapacity = capacity
	return c
}

func (c *Config) WithLogLevel(level string) *Config {
	c.logLevel = level
	return c
}

func (c *Config) WithLogDevelopment(development bool) *Config {
	c.logDevelopment = development
	return c
}

func (c *Config) Build() (Config, error) {
	if c.pageSize <= 0 {
		return Config{}, fmt.Errorf("%w: pageSize must be positive", ErrInvalidConfig)
	}
	if c.delayMin < 0 || c.delayMax < c.delayMin {
		return Config{}, fmt.Errorf("%w: delay bounds must satisfy 0 <= delayMin <= delayMax", ErrInvalidConfig)
	}
	if c.eventBufferCapacity <= 0 {
		return Config{}, fmt.Errorf("%w: eventBufferCapacity must be positive", ErrInvalidConfig)
	}
	if c.banThreshold <= 0 {
		return Config{}, fmt.Errorf("%w: banThreshold must be positive", ErrInvalidConfig)
	}
	return *c, nil
}

func (c Config) ListenAddr() string {
	return c.listenAddr
}

func (c Config) DataDir() string {
	return c.dataDir
}

func (c Config) OutputRoot() string {
	return c.outputRoot
}

func (c Config) PageSize() int {
	return c.pageSize
}

func (c Config) MaxArticles() int {
	return c.maxArticles
}

func (c Config) DelayMin() time.Duration {
	return c.delayMin
}

func (c Config) DelayMax() time.Duration {
	return c.delayMax
}

func (c Config) RandomSeed() int64 {
	return c.randomSeed
}

func (c Config) MaxAttempt() int {
	return c.maxAttempt
}

func (c Config) BackoffInitialDuration() time.Duration {
	return c.backoffInitialDuration
}

func (c Config) BackoffMultiplier() float64 {
	return c.backoffMultiplier
}

func (c Config) BackoffMaxDuration() time.Duration {
	return c.backoffMaxDuration
}

func (c Config) Timeout() time.Duration {
	return c.timeout
}

func (c Config) UserAgent() string {
	return c.userAgent
}

func (c Config) PlatformBaseURL() string {
	return c.platformBaseURL
}

func (c Config) VideoDomains() []string {
	domains := make([]string, len(c.videoDomains))
	copy(domains, c.videoDomains)
	return domains
}

func (c Config) GuardWindow() time.Duration {
	return c.guardWindow
}

func (c Config) StartCeiling() int {
	return c.startCeiling
}

func (c Config) ControlCeiling() int {
	return c.controlCeiling
}

func (c Config) BanThreshold() int {
	return c.banThreshold
}

func (c Config) BanDuration() time.Duration {
	return c.banDuration
}

func (c Config) GuardIdleTTL() time.Duration {
	return c.guardIdleTTL
}

func (c Config) SessionIdleTimeout() time.Duration {
	return c.sessionIdleTimeout
}

func (c Config) ReapInterval() time.Duration {
	return c.reapInterval
}

func (c Config) EventBufferCapacity() int {
	return c.eventBufferCapacity
}

func (c Config) LogLevel() string {
	return c.logLevel
}

func (c Config) LogDevelopment() bool {
	return c.logDevelopment
}
