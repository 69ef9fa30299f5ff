package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rohmanhakim/article-archiver/internal/fetcher"
	"github.com/rohmanhakim/article-archiver/internal/guard"
	"github.com/rohmanhakim/article-archiver/internal/localizer"
	"github.com/rohmanhakim/article-archiver/internal/logger"
	"github.com/rohmanhakim/article-archiver/internal/orchestrator"
	"github.com/rohmanhakim/article-archiver/internal/platform"
	"github.com/rohmanhakim/article-archiver/internal/server"
	"github.com/rohmanhakim/article-archiver/internal/session"
	"github.com/rohmanhakim/article-archiver/internal/storage"
	"github.com/rohmanhakim/article-archiver/internal/token"
	"github.com/rohmanhakim/article-archiver/pkg/limiter"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the archiving HTTP service.",
	Long: `serve starts the HTTP API: session start, status, pause/resume, the
SSE event stream, and the admin token endpoints. The server runs until
interrupted and shuts down gracefully.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := InitConfig()

		log, err := logger.New(logger.Config{
			Level:       cfg.LogLevel(),
			Development: cfg.LogDevelopment(),
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
			os.Exit(1)
		}
		defer log.Sync()

		tokens, err := token.Open(cfg.DataDir(), token.DefaultOptions())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
			os.Exit(1)
		}
		defer tokens.Close()

		abuseGuard := guard.New(
			cfg.GuardWindow(),
			map[guard.OperationClass]int{
				guard.OpStart:   cfg.StartCeiling(),
				guard.OpControl: cfg.ControlCeiling(),
			},
			cfg.BanThreshold(),
			cfg.BanDuration(),
			cfg.GuardIdleTTL(),
		)

		registry := session.NewRegistry(cfg.OutputRoot(), cfg.EventBufferCapacity(), cfg.SessionIdleTimeout(), cfg.ReapInterval(), log)
		client := platform.NewClient(cfg.PlatformBaseURL(), cfg.UserAgent(), cfg.Timeout(), log)
		htmlFetcher := fetcher.NewHtmlFetcher(cfg.Timeout(), log)
		htmlLocalizer := localizer.NewHtmlLocalizer(&htmlFetcher, cfg.UserAgent(), cfg.VideoDomains(), log)
		sink := storage.NewLocalSink(log)

		orch := orchestrator.NewOrchestrator(
			cfg,
			client,
			&htmlFetcher,
			htmlLocalizer,
			&sink,
			limiter.NewConcurrentPacer(),
			log,
		)

		srv := server.NewServer(cfg, tokens, abuseGuard, registry, orch, log)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := srv.Run(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
