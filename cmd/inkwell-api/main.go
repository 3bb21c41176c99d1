package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/inkwell-labs/inkwell/backend/internal/auth"
	"github.com/inkwell-labs/inkwell/backend/internal/boards"
	"github.com/inkwell-labs/inkwell/backend/internal/cache"
	"github.com/inkwell-labs/inkwell/backend/internal/config"
	"github.com/inkwell-labs/inkwell/backend/internal/database"
	"github.com/inkwell-labs/inkwell/backend/internal/engagement"
	"github.com/inkwell-labs/inkwell/backend/internal/logging"
	"github.com/inkwell-labs/inkwell/backend/internal/notify"
	"github.com/inkwell-labs/inkwell/backend/internal/scheduler"
	"github.com/inkwell-labs/inkwell/backend/internal/server"
	"github.com/inkwell-labs/inkwell/backend/internal/users"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "inkwell-api",
		Short: "Inkwell board platform backend service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("redis-address", defaults.GetString("redis.address"), "Redis address")
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("token.ttl_minutes"), "Backend token TTL in minutes")
	cmd.PersistentFlags().String("flush-schedule", defaults.GetString("jobs.flush_schedule"), "Cron spec for the engagement flush")
	cmd.PersistentFlags().String("popularity-schedule", defaults.GetString("jobs.popularity_schedule"), "Cron spec for the popularity refresh")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Backend signing secret (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "redis.address", "redis-address")
	bindFlag(cmd, "token.ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "jobs.flush_schedule", "flush-schedule")
	bindFlag(cmd, "jobs.popularity_schedule", "popularity-schedule")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	redisClient, err := cache.Connect(ctx, cache.Config{
		Address:  appConfig.RedisAddress,
		Password: appConfig.RedisPassword,
		DB:       appConfig.RedisDB,
	}, logger)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	tokenManager := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        "inkwell-auth",
		Audience:      "inkwell-api",
		TokenTTL:      appConfig.TokenTTL,
	})
	refreshStore, err := auth.NewRefreshStore(redisClient, appConfig.RefreshTokenTTL)
	if err != nil {
		return err
	}

	idProvider := boards.NewUUIDProvider()

	userService, err := users.NewService(users.ServiceConfig{
		Database: db,
		Cache:    redisClient,
		IDs:      idProvider,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	boardService, err := boards.NewService(boards.ServiceConfig{
		Database: db,
		Cache:    redisClient,
		IDs:      idProvider,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	counterCache, err := engagement.NewCounterCache(engagement.CounterCacheConfig{
		Database: db,
		Cache:    redisClient,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	overlay, err := engagement.NewOverlay(redisClient)
	if err != nil {
		return err
	}
	reconciler, err := engagement.NewReconciler(engagement.ReconcilerConfig{
		Database: db,
		Cache:    redisClient,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	registry := notify.NewRegistry()
	notificationStore, err := notify.NewGormStore(db)
	if err != nil {
		return err
	}
	fallbackQueue, err := notify.NewRedisQueue(redisClient)
	if err != nil {
		return err
	}
	dispatcher, err := notify.NewDispatcher(notify.DispatcherConfig{
		Store:    notificationStore,
		Presence: registry,
		Queue:    fallbackQueue,
		IDs:      idProvider,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	jobs, err := scheduler.New(redisClient, "", logger)
	if err != nil {
		return err
	}
	if err := jobs.Register("engagement_flush", appConfig.FlushSchedule, reconciler.FlushAll); err != nil {
		return err
	}
	if err := jobs.Register("popularity_refresh", appConfig.PopularitySchedule, reconciler.RefreshPopularity); err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		TokenManager:      tokenManager,
		RefreshTokens:     refreshStore,
		UserService:       userService,
		BoardService:      boardService,
		CounterCache:      counterCache,
		Overlay:           overlay,
		Dispatcher:        dispatcher,
		Registry:          registry,
		FallbackQueue:     fallbackQueue,
		NotificationStore: notificationStore,
		HeartbeatInterval: appConfig.HeartbeatInterval,
		Logger:            logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	jobs.Start()
	defer jobs.Stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
