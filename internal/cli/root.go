package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/rohmanhakim/article-archiver/internal/config"
	"github.com/spf13/cobra"
)

var (
	cfgFile         string
	listenAddr      string
	dataDir         string
	outputRoot      string
	platformBaseURL string
	userAgent       string
	timeout         time.Duration
	delayMin        time.Duration
	delayMax        time.Duration
	randomSeed      int64
	maxArticles     int
	logLevel        string
	logDevelopment  bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "article-archiver",
	Short: "A session-based article archiving service.",
	Long: `article-archiver runs an HTTP service that archives published articles
as self-contained local HTML. A session is granted by a single-use
authorization token and either archives one article by URL or walks an
account's article listing in batch. Progress streams to clients over
Server-Sent Events while pages are fetched, localized, and written to disk.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config-file", "", "config file path (e.g., /home/myuser/config.json)")
	rootCmd.PersistentFlags().StringVar(&listenAddr, "listen-addr", "", "address the HTTP server binds to")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "directory holding the token database")
	rootCmd.PersistentFlags().StringVar(&outputRoot, "output-root", "", "root directory for archived sessions")
	rootCmd.PersistentFlags().StringVar(&platformBaseURL, "platform-base-url", "", "base URL of the publishing platform")
	rootCmd.PersistentFlags().StringVar(&userAgent, "user-agent", "", "user agent string for HTTP requests")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 0, "timeout for HTTP requests")
	rootCmd.PersistentFlags().DurationVar(&delayMin, "delay-min", 0, "minimum delay between platform requests")
	rootCmd.PersistentFlags().DurationVar(&delayMax, "delay-max", 0, "maximum delay between platform requests")
	rootCmd.PersistentFlags().Int64Var(&randomSeed, "random-seed", 0, "seed for random number generation (0 for current time)")
	rootCmd.PersistentFlags().IntVar(&maxArticles, "max-articles", 0, "hard cap on articles archived per batch session")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "minimum log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&logDevelopment, "log-dev", false, "human-readable console logs instead of JSON")
}

// InitConfig reads in config file and ENV variables if set.
func InitConfig() config.Config {
	cfg, err := InitConfigWithError()
	if err != nil {
		fmt.Printf("Error: %s\n", err)
		os.Exit(1)
	}
	return cfg
}

// InitConfigWithError reads in config file and ENV variables if set, returning any errors.
// This makes it easier to test error cases.
func InitConfigWithError() (config.Config, error) {
	if cfgFile != "" {
		fmt.Printf("Initializing config from file: %s\n", cfgFile)
		cfg, err := config.WithConfigFile(cfgFile)
		if err != nil {
			return cfg, fmt.Errorf("error initializing config from file: %w", err)
		}
		return cfg, nil
	}

	// Build config from CLI flags using the With... functions with method chaining
	configBuilder := config.WithDefault()

	if listenAddr != "" {
		configBuilder = configBuilder.WithListenAddr(listenAddr)
	}

	if dataDir != "" {
		configBuilder = configBuilder.WithDataDir(dataDir)
	}

	if outputRoot != "" {
		configBuilder = configBuilder.WithOutputRoot(outputRoot)
	}

	if platformBaseURL != "" {
		configBuilder = configBuilder.WithPlatformBaseURL(platformBaseURL)
	}

	if userAgent != "" {
		configBuilder = configBuilder.WithUserAgent(userAgent)
	}

	if timeout > 0 {
		configBuilder = configBuilder.WithTimeout(timeout)
	}

	if delayMin > 0 || delayMax > 0 {
		configBuilder = configBuilder.WithDelayBounds(delayMin, delayMax)
	}

	if randomSeed != 0 {
		configBuilder = configBuilder.WithRandomSeed(randomSeed)
	}

	if maxArticles > 0 {
		configBuilder = configBuilder.WithMaxArticles(maxArticles)
	}

	if logLevel != "" {
		configBuilder = configBuilder.WithLogLevel(logLevel)
	}

	if logDevelopment {
		configBuilder = configBuilder.WithLogDevelopment(logDevelopment)
	}

	cfg, err := configBuilder.Build()
	if err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func ResetFlags() {
	cfgFile = ""
	listenAddr = ""
	dataDir = ""
	outputRoot = ""
	platformBaseURL = ""
	userAgent = ""
	timeout = 0
	delayMin = 0
	delayMax = 0
	randomSeed = 0
	maxArticles = 0
	logLevel = ""
	logDevelopment = false
}

// Test helper functions to set flag values from tests
func SetConfigFileForTest(path string) {
	cfgFile = path
}

func SetListenAddrForTest(addr string) {
	listenAddr = addr
}

func SetDataDirForTest(dir string) {
	dataDir = dir
}

func SetOutputRootForTest(root string) {
	outputRoot = root
}

func SetPlatformBaseURLForTest(baseURL string) {
	platformBaseURL = baseURL
}

func SetUserAgentForTest(agent string) {
	userAgent = agent
}

func SetTimeoutForTest(t time.Duration) {
	timeout = t
}

func SetDelayBoundsForTest(min, max time.Duration) {
	delayMin = min
	delayMax = max
}

func SetRandomSeedForTest(seed int64) {
	randomSeed = seed
}

func SetMaxArticlesForTest(max int) {
	maxArticles = max
}

func SetLogLevelForTest(level string) {
	logLevel = level
}
