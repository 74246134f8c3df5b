package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/apolo-dex/smartlink/adapters/analysis"
	"github.com/apolo-dex/smartlink/adapters/backend"
	"github.com/apolo-dex/smartlink/adapters/events"
	"github.com/apolo-dex/smartlink/adapters/store"
	"github.com/apolo-dex/smartlink/adapters/widget"
	"github.com/apolo-dex/smartlink/config"
	"github.com/apolo-dex/smartlink/ports"
	"github.com/apolo-dex/smartlink/service"
	transport "github.com/apolo-dex/smartlink/transport/http"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisClient, err := newRedisClient(cfg)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	storage, closeStorage, err := newStorage(cfg, redisClient)
	if err != nil {
		return err
	}
	defer closeStorage()

	bus, err := newBus(cfg, redisClient, logger)
	if err != nil {
		return err
	}
	defer bus.Close()

	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	creds := service.NewCredentialStore(storage, logger)

	backendClient, err := backend.NewClient(cfg.BackendURL,
		backend.WithHTTPClient(httpClient),
		backend.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	analysisClient, err := analysis.NewClient(cfg.AnalysisURL, creds, bus,
		analysis.WithHTTPClient(httpClient),
		analysis.WithLogger(logger),
		analysis.WithMaxLeverage(cfg.MaxLeverage),
	)
	if err != nil {
		return err
	}

	page := widget.NewPage()
	button := widget.TelegramButton(widget.TelegramConfig{
		BotName: cfg.TelegramBot,
		AuthURL: cfg.TelegramAuthURL,
	})
	bridge := service.NewBridge(page, button, widget.MountPointID, service.RetryPolicy{
		Attempts: cfg.MountRetryAttempts,
		Interval: cfg.MountRetryInterval,
	}, logger)

	hub := transport.NewHub(logger)
	if err := hub.Subscribe(ctx, bus); err != nil {
		return err
	}

	linker := service.NewLinker(creds, backendClient, bus, bridge,
		service.WithLogger(logger),
		service.WithLocale(cfg.Locale),
		service.WithNotifyOptIn(cfg.NotifyOptIn),
		service.WithWallet(cfg.Wallet),
	)
	defer linker.Deactivate()

	gin.SetMode(gin.ReleaseMode)
	router := transport.SetupRouter(transport.Deps{
		Linker:      linker,
		Bridge:      bridge,
		Credentials: creds,
		Validator:   service.NewSessionValidator(creds, backendClient, bus, logger),
		Analysis:    analysisClient,
		Bus:         bus,
		Page:        page,
		Hub:         hub,
		Logger:      logger,
		Locale:      cfg.Locale,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Starting gateway", "port", cfg.Port, "store", cfg.StoreDriver, "bus", cfg.BusDriver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// the page must be reachable before resolution so the widget mount can appear
	if err := linker.Activate(ctx); err != nil {
		_ = srv.Close()
		return err
	}

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("Shutting down gateway")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newRedisClient(cfg *config.Config) (*redis.Client, error) {
	if cfg.StoreDriver != config.StoreRedis && cfg.BusDriver != config.BusRedisStream {
		return nil, nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse REDIS_URL: %w", err)
	}
	return redis.NewClient(opts), nil
}

func newStorage(cfg *config.Config, redisClient *redis.Client) (ports.Storage, func(), error) {
	switch cfg.StoreDriver {
	case config.StoreRedis:
		return store.NewRedisStore(redisClient, cfg.StoreProfile), func() {}, nil
	case config.StoreSQLite:
		s, err := store.NewSQLiteStore(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return s, func() {
			if err := s.Close(); err != nil {
				slog.Error("Failed to close sqlite store", "error", err)
			}
		}, nil
	default:
		return store.NewMemoryStore(), func() {}, nil
	}
}

func newBus(cfg *config.Config, redisClient *redis.Client, logger *slog.Logger) (ports.SignalBus, error) {
	if cfg.BusDriver == config.BusRedisStream {
		return events.NewRedisStreamBus(redisClient, "smartlink-"+cfg.StoreProfile, logger)
	}
	return events.NewGoChannelBus(logger), nil
}
