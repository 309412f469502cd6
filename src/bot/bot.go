package bot

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/odysseia/protect/src/config"
	"github.com/odysseia/protect/src/db"
	"github.com/odysseia/protect/src/discord"
	"github.com/odysseia/protect/src/jobs"
	"github.com/odysseia/protect/src/logging"
	"github.com/odysseia/protect/src/oops"
	"github.com/odysseia/protect/src/protect"
	"github.com/odysseia/protect/src/store"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

var BotCommand = &cobra.Command{
	Use:   "protect",
	Short: "Run the forum file protection bot",
	Run:   runCommand,
}

func init() {
	BotCommand.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Start the bot and the metrics server (the default)",
		Run:   runCommand,
	})
}

func runCommand(cmd *cobra.Command, args []string) {
	defer logging.LogPanics(nil)
	if err := run(); err != nil {
		logging.Error().Err(err).Msg("Bot failed to start")
		os.Exit(1)
	}
}

func run() error {
	logging.Info().Str("env", string(config.Config.Env)).Msg("Starting the protect bot")

	if !config.Config.Discord.Enabled() {
		return oops.New(nil, "DISCORD_BOT_TOKEN is not set")
	}
	if config.Config.Discord.WarehouseChannelID == "" {
		logging.Warn().Msg("No warehouse channel is configured; protected uploads will be refused")
	}

	ctx := context.Background()
	s, err := OpenStore(ctx, config.Config)
	if err != nil {
		return err
	}
	defer s.Close()

	client := discord.NewClient(config.Config.Discord)
	platform := discord.NewPlatform(client)
	service := protect.NewService(s, platform, protect.ServiceConfig{
		WarehouseChannelID: config.Config.Discord.WarehouseChannelID,
		MaxUploadBytes:     config.Config.Discord.MaxUploadBytes,
	})
	bot := discord.NewBot(client, service, config.Config.Discord, config.Config.PrivacyPolicyText)

	backgroundJobs := jobs.Jobs{
		discord.RunDiscordBot(bot),
		ServeMetrics(config.Config.MetricsAddr),
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	<-signals
	logging.Info().Msg("Shutting down the bot")

	go func() {
		<-signals
		logging.Warn().Strs("Unfinished background jobs", backgroundJobs.ListUnfinished()).Msg("Forcibly killed the bot")
		os.Exit(1)
	}()

	unfinished := backgroundJobs.CancelAndWait(shutdownTimeout)
	if len(unfinished) == 0 {
		logging.Info().Msg("Background jobs closed gracefully")
	} else {
		logging.Warn().Strs("Unfinished", unfinished).Msg("Background jobs did not finish by the deadline")
	}
	return nil
}

// OpenStore opens the index selected by the config.
func OpenStore(ctx context.Context, cfg config.ProtectConfig) (store.Store, error) {
	switch cfg.Database {
	case config.DriverPostgres:
		pool, err := db.NewConnPoolWithConfig(ctx, cfg.Postgres)
		if err != nil {
			return nil, err
		}
		return store.NewPostgres(pool), nil
	case config.DriverSqlite:
		return store.OpenSQLite(ctx, cfg.Sqlite.Path)
	default:
		return nil, oops.New(nil, "unknown database driver %q", cfg.Database)
	}
}

// ServeMetrics exposes the Prometheus registry on addr until the job is
// canceled. An empty addr disables it.
func ServeMetrics(addr string) *jobs.Job {
	if addr == "" {
		return jobs.New("metrics server").Finish()
	}

	return jobs.Run("metrics server", func(ctx context.Context) error {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		server := &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}

		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				logging.ExtractLogger(ctx).Warn().Err(err).Msg("Metrics server did not shut down gracefully")
			}
		}()

		logging.ExtractLogger(ctx).Info().Str("addr", addr).Msg("Serving metrics")
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return oops.New(err, "metrics server shut down unexpectedly")
		}
		return nil
	})
}
