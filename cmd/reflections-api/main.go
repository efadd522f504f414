package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lanternworks/reflections/backend/internal/config"
	"github.com/lanternworks/reflections/backend/internal/database"
	"github.com/lanternworks/reflections/backend/internal/logging"
	"github.com/lanternworks/reflections/backend/internal/moderation"
	"github.com/lanternworks/reflections/backend/internal/ratelimit"
	"github.com/lanternworks/reflections/backend/internal/server"
	"github.com/lanternworks/reflections/backend/internal/submissions"
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
		Use:   "reflections-api",
		Short: "Reflections backend service",
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
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("moderation-base-url", defaults.GetString("moderation.base_url"), "Moderation provider base URL")
	cmd.PersistentFlags().String("moderation-model", defaults.GetString("moderation.model"), "Moderation model identifier")
	cmd.PersistentFlags().Int("moderation-timeout-seconds", defaults.GetInt("moderation.timeout_seconds"), "Moderation call timeout in seconds")
	cmd.PersistentFlags().Int("cooldown-seconds", defaults.GetInt("rate_limit.cooldown_seconds"), "Per-client submission cooldown in seconds")
	cmd.PersistentFlags().String("redis-addr", defaults.GetString("rate_limit.redis_addr"), "Redis address for shared rate limiting (empty uses in-process state)")
	cmd.PersistentFlags().Int("feed-limit", defaults.GetInt("feed.limit"), "Maximum feed page size")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "moderation.base_url", "moderation-base-url")
	bindFlag(cmd, "moderation.model", "moderation-model")
	bindFlag(cmd, "moderation.timeout_seconds", "moderation-timeout-seconds")
	bindFlag(cmd, "rate_limit.cooldown_seconds", "cooldown-seconds")
	bindFlag(cmd, "rate_limit.redis_addr", "redis-addr")
	bindFlag(cmd, "feed.limit", "feed-limit")
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

	limiter, err := buildLimiter(appConfig, logger)
	if err != nil {
		return err
	}

	classifier, err := moderation.NewOpenAIClient(moderation.OpenAIClientConfig{
		APIKey:  appConfig.ModerationAPIKey,
		BaseURL: appConfig.ModerationBaseURL,
		Model:   appConfig.ModerationModel,
		Timeout: appConfig.ModerationTimeout,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	submissionService, err := submissions.NewService(submissions.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: submissions.NewUUIDProvider(),
		Limiter:    limiter,
		Classifier: classifier,
		FeedLimit:  appConfig.FeedLimit,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		SubmissionService: submissionService,
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

func buildLimiter(appConfig config.AppConfig, logger *zap.Logger) (ratelimit.Limiter, error) {
	if appConfig.RedisAddr == "" {
		logger.Info("using in-process rate limiter", zap.Duration("cooldown", appConfig.Cooldown))
		return ratelimit.NewMemoryLimiter(ratelimit.MemoryLimiterConfig{Cooldown: appConfig.Cooldown}), nil
	}

	client := redis.NewClient(&redis.Options{Addr: appConfig.RedisAddr})
	logger.Info("using redis rate limiter",
		zap.String("addr", appConfig.RedisAddr), zap.Duration("cooldown", appConfig.Cooldown))
	return ratelimit.NewRedisLimiter(ratelimit.RedisLimiterConfig{
		Client:   client,
		Cooldown: appConfig.Cooldown,
		Logger:   logger,
	})
}
