package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/console/internal/changefeed"
	"github.com/MarcoPoloResearchLab/console/internal/config"
	"github.com/MarcoPoloResearchLab/console/internal/console"
	"github.com/MarcoPoloResearchLab/console/internal/database"
	"github.com/MarcoPoloResearchLab/console/internal/logging"
	"github.com/MarcoPoloResearchLab/console/internal/rowstore"
	"github.com/MarcoPoloResearchLab/console/internal/server"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "console-api",
		Short: "Live admin console backend service",
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
	cmd.PersistentFlags().StringSlice("allowed-origins", defaults.GetStringSlice("http.allowed_origins"), "CORS origins (empty allows any)")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("log-format", defaults.GetString("log.format"), "Log encoding (json, console)")
	cmd.PersistentFlags().String("redis-address", defaults.GetString("redis.address"), "Redis address for a shared change feed (empty keeps it in-process)")
	cmd.PersistentFlags().String("redis-channel", defaults.GetString("redis.channel"), "Redis channel carrying change signals")
	cmd.PersistentFlags().Int("notifications-page-size", defaults.GetInt("notifications.page_size"), "Number of notifications kept in the feed")
	cmd.PersistentFlags().String("unread-count", defaults.GetString("notifications.unread_count"), "Unread count mode (page, global)")
	cmd.PersistentFlags().StringSlice("stats-entity-sets", defaults.GetStringSlice("stats.entity_sets"), "Entity sets counted by the stats summary")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "http.allowed_origins", "allowed-origins")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "log.format", "log-format")
	bindFlag(cmd, "redis.address", "redis-address")
	bindFlag(cmd, "redis.channel", "redis-channel")
	bindFlag(cmd, "notifications.page_size", "notifications-page-size")
	bindFlag(cmd, "notifications.unread_count", "unread-count")
	bindFlag(cmd, "stats.entity_sets", "stats-entity-sets")
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

	logger, err := logging.NewLogger(logging.Options{Level: appConfig.LogLevel, Format: appConfig.LogFormat})
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	dispatcher := changefeed.NewDispatcher()
	var publisher changefeed.Publisher = dispatcher
	if appConfig.RedisAddress != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: appConfig.RedisAddress})
		defer redisClient.Close()

		bridge, err := changefeed.NewRedisBridge(changefeed.RedisBridgeConfig{
			Client:  redisClient,
			Channel: appConfig.RedisChannel,
			Local:   dispatcher,
			Logger:  logger,
		})
		if err != nil {
			return err
		}
		if err := bridge.Start(signalCtx); err != nil {
			return err
		}
		publisher = bridge
		logger.Info("change feed bridged through redis",
			zap.String("address", appConfig.RedisAddress),
			zap.String("channel", appConfig.RedisChannel))
	}

	store, err := rowstore.NewStore(rowstore.StoreConfig{
		Database:   db,
		Publisher:  publisher,
		Clock:      time.Now,
		IDProvider: rowstore.NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	events := server.NewEventHub()
	consoleService, err := console.NewService(console.Config{
		Store:       store,
		Feed:        dispatcher,
		PageSize:    appConfig.NotificationsPage,
		UnreadCount: appConfig.UnreadCountMode,
		StatsSets:   appConfig.StatsEntitySets,
		OnViewChange: func(change console.ViewChange) {
			events.Publish(server.ViewEvent{
				EntitySet: change.EntitySet,
				Sequence:  change.Sequence,
				Timestamp: time.Now().UTC(),
			})
		},
		Logger: logger,
	})
	if err != nil {
		return err
	}
	if err := consoleService.Start(signalCtx); err != nil {
		logger.Warn("some views failed their initial read", zap.Error(err))
	}
	defer consoleService.Stop()

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Console:           consoleService,
		Events:            events,
		AllowedOrigins:    appConfig.AllowedOrigins,
		HeartbeatInterval: time.Duration(appConfig.HeartbeatSeconds) * time.Second,
		Logger:            logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
		// Event streams end with the process context.
		BaseContext: func(net.Listener) context.Context {
			return signalCtx
		},
	}

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
