package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/imagesentry/imagesentry/internal/archive"
	"github.com/imagesentry/imagesentry/internal/channel/discord"
	"github.com/imagesentry/imagesentry/internal/commands"
	"github.com/imagesentry/imagesentry/internal/config"
	"github.com/imagesentry/imagesentry/internal/detect"
	"github.com/imagesentry/imagesentry/internal/googleauth"
	"github.com/imagesentry/imagesentry/internal/ledger"
	"github.com/imagesentry/imagesentry/internal/logger"
	"github.com/imagesentry/imagesentry/internal/metrics"
	"github.com/imagesentry/imagesentry/internal/pipeline"
	"github.com/imagesentry/imagesentry/internal/server"
)

func runServe() {
	fx.New(
		fx.Provide(
			provideConfig,
			provideLogger,
			provideMetrics,
			provideCredentialStore,
			provideDetector,
			provideArchiver,
			provideAppender,
			provideCommandRegistry,
			provideDiscordAdapter,
			providePipeline,
			provideServer,
		),
		fx.Invoke(
			startDiscord,
			startServer,
		),
		fx.WithLogger(func(log *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: log.With(slog.String("component", "fx"))}
		}),
	).Run()
}

func provideConfig() (config.Config, error) {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideMetrics() *metrics.Metrics {
	return metrics.New("imagesentry")
}

func provideCredentialStore(log *slog.Logger, cfg config.Config) (*googleauth.Store, error) {
	return googleauth.NewStore(log, cfg.Google.CredentialsFile, cfg.Google.TokenFile, cfg.Google.CallbackPort)
}

func provideDetector(log *slog.Logger, cfg config.Config) *detect.Client {
	return detect.NewClient(log, cfg.Detection.APIKey, cfg.Detection.Endpoint,
		time.Duration(cfg.Detection.TimeoutSeconds)*time.Second)
}

func provideArchiver(log *slog.Logger, cfg config.Config, store *googleauth.Store) (*archive.Uploader, error) {
	ctx := context.Background()
	return archive.NewUploader(ctx, log, store.TokenSource(ctx), cfg.Archive.FolderID)
}

func provideAppender(log *slog.Logger, cfg config.Config, store *googleauth.Store) (*ledger.Appender, error) {
	ctx := context.Background()
	return ledger.NewAppender(ctx, log, store.TokenSource(ctx), cfg.Ledger.SpreadsheetID, cfg.Ledger.Range)
}

func provideCommandRegistry(log *slog.Logger, cfg config.Config) *commands.Registry {
	return commands.NewRegistry(log, cfg.Discord.CommandPrefix)
}

func provideDiscordAdapter(log *slog.Logger, cfg config.Config) (*discord.Adapter, error) {
	return discord.New(log, cfg.Discord.Token)
}

func providePipeline(log *slog.Logger, cfg config.Config, detector *detect.Client, uploader *archive.Uploader, appender *ledger.Appender, adapter *discord.Adapter, registry *commands.Registry, m *metrics.Metrics) *pipeline.Pipeline {
	p := pipeline.New(log, detector, uploader, appender, adapter, pipeline.Config{
		ContinueOnUploadFailure: cfg.Pipeline.ContinueOnUploadFailure,
		MaxConcurrentMessages:   cfg.Pipeline.MaxConcurrentMessages,
		MaxConcurrentGoogle:     cfg.Pipeline.MaxConcurrentGoogle,
		MaxImageBytes:           cfg.Pipeline.MaxImageBytes,
	})
	p.SetCommands(registry)
	p.SetMetrics(m)
	return p
}

func provideServer(log *slog.Logger, cfg config.Config, m *metrics.Metrics) *server.Server {
	return server.New(log, cfg.Server.Addr, m.Handler())
}

func startDiscord(lc fx.Lifecycle, adapter *discord.Adapter, p *pipeline.Pipeline) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return adapter.Connect(p.Handle)
		},
		OnStop: func(ctx context.Context) error {
			return adapter.Close()
		},
	})
}

func startServer(lc fx.Lifecycle, log *slog.Logger, srv *server.Server) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.Start(); err != nil && err != http.ErrServerClosed {
					log.Error("admin server stopped", slog.Any("error", err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}
