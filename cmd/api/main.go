package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"peregovorka/internal/api"
	"peregovorka/internal/config"
	"peregovorka/internal/database"
	"peregovorka/internal/domain"
	"peregovorka/internal/events"
	"peregovorka/internal/logging"
	"peregovorka/internal/metrics"
	"peregovorka/internal/models"
	"peregovorka/internal/notify"
	"peregovorka/internal/policy"
	"peregovorka/internal/repository"
	"peregovorka/internal/service"
	"peregovorka/internal/worker"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v2"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

// directory is the static rooms/users file synced into the store on startup.
type directory struct {
	Rooms []models.Room `yaml:"rooms"`
	Users []models.User `yaml:"users"`
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(cfg.Database, logger)
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
		return err
	}
	defer db.Close()

	if err := loadDirectory(ctx, cfg, db, logger); err != nil {
		return err
	}

	redisClient := initRedis(ctx, cfg, logger)
	if redisClient != nil {
		defer repository.Close(redisClient)
	}

	bus := events.NewEventBus()
	sinks, closeSinks := initSinks(cfg, db, logger)
	defer closeSinks()
	if cfg.Outbox.Enabled {
		outbox := worker.NewOutboxWorker(db, sinks, redisClient, cfg.Outbox, logging.Component(logger, "outbox"))
		bus.SubscribeAll(outbox.HandleEvent)
		go outbox.Start(ctx)
	}

	rooms := service.NewRoomService(db, logging.Component(logger, "rooms"))
	users := service.NewUserService(db, logging.Component(logger, "users"))
	approvals := service.NewApprovalService(db, rooms, users, bus, logging.Component(logger, "approvals"))
	bookings := service.NewBookingService(
		db,
		rooms,
		users,
		policy.NewConfigPolicy(cfg.Approval),
		initLocker(cfg, redisClient, logger),
		approvals,
		bus,
		service.BookingOptions{
			MaxDuration:    cfg.Booking.MaxDuration,
			MaxAdvanceDays: cfg.Booking.MaxAdvanceDays,
		},
		logging.Component(logger, "bookings"),
	)

	if cfg.Backup.Enabled {
		go database.NewBackupService(db, cfg.Backup, logging.Component(logger, "backup")).Start(ctx)
	}

	startMetrics(ctx, cfg, logger)

	grpcServer, err := api.NewGRPCServer(&cfg.API, bookings, logger)
	if err != nil {
		logger.Error().Err(err).Msg("create grpc server")
		return err
	}
	httpServer := api.NewHTTPServer(&cfg.API, bookings, approvals, logger)

	return startServers(ctx, grpcServer, httpServer, cfg, logger)
}

func loadConfigAndLogger() (*config.Config, *zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, logging.Component(baseLogger, "api-main"), closer, nil
}

func loadDirectory(ctx context.Context, cfg *config.Config, db *database.DB, logger *zerolog.Logger) error {
	path := os.Getenv("DIRECTORY_PATH")
	if path == "" {
		path = cfg.DirectoryPath
	}
	if path == "" {
		path = "configs/directory.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		logger.Error().Err(err).Str("directory_path", path).Msg("read directory")
		return err
	}
	var dir directory
	if err := yaml.Unmarshal(data, &dir); err != nil {
		logger.Error().Err(err).Str("directory_path", path).Msg("parse directory")
		return err
	}

	if err := db.SyncRooms(ctx, dir.Rooms); err != nil {
		return fmt.Errorf("sync rooms: %w", err)
	}
	if err := db.SyncUsers(ctx, dir.Users); err != nil {
		return fmt.Errorf("sync users: %w", err)
	}
	logger.Info().Int("rooms", len(dir.Rooms)).Int("users", len(dir.Users)).Msg("directory loaded")
	return nil
}

func initRedis(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}

	redisClient := repository.NewRedisClient(cfg.Redis)
	if err := repository.Ping(ctx, redisClient); err != nil {
		logger.Warn().Err(err).Msg("redis connection failed, continuing without redis")
		_ = redisClient.Close()
		return nil
	}

	logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	return redisClient
}

func initLocker(cfg *config.Config, redisClient *redis.Client, logger *zerolog.Logger) domain.Locker {
	memory := repository.NewMemoryLocker(cfg.Locking.Wait)
	if redisClient == nil || cfg.Locking.Backend == config.LockBackendMemory {
		if cfg.Locking.Backend != config.LockBackendMemory {
			logger.Warn().Str("backend", cfg.Locking.Backend).Msg("redis unavailable, using in-process locks")
		}
		return memory
	}

	redisLocker := repository.NewRedisLocker(redisClient, cfg.Locking.TTL, cfg.Locking.Wait)
	if cfg.Locking.Backend == config.LockBackendRedis {
		return redisLocker
	}
	return repository.NewFailoverLocker(redisLocker, memory, logging.Component(logger, "locker"))
}

func initSinks(cfg *config.Config, db *database.DB, logger *zerolog.Logger) ([]domain.Sink, func()) {
	var (
		sinks   []domain.Sink
		closers []func()
	)

	if cfg.Kafka.Enabled {
		writer, err := notify.NewKafkaWriter(cfg.Kafka, logging.Component(logger, "kafka"))
		if err != nil {
			logger.Warn().Err(err).Msg("kafka init failed, continuing without kafka")
		} else {
			sink := notify.NewKafkaSink(writer)
			sinks = append(sinks, sink)
			closers = append(closers, func() { _ = sink.Close() })
		}
	}

	if cfg.Telegram.Enabled {
		bot, err := tgbotapi.NewBotAPI(cfg.Telegram.BotToken)
		if err != nil {
			logger.Warn().Err(err).Msg("telegram init failed, continuing without telegram")
		} else {
			bot.Debug = cfg.Telegram.Debug
			sinks = append(sinks, notify.NewTelegramSink(bot, db, cfg.Telegram.ChatID, logging.Component(logger, "telegram")))
			logger.Info().Str("bot", bot.Self.UserName).Msg("telegram connected")
		}
	}

	return sinks, func() {
		for _, c := range closers {
			c()
		}
	}
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	metrics.Register()
	port := cfg.Monitoring.PrometheusPort
	if port == 0 {
		port = 9090
	}
	go startMetricsServer(ctx, port, logger)
}

func startServers(
	ctx context.Context,
	grpcServer *api.GRPCServer,
	httpServer *api.HTTPServer,
	cfg *config.Config,
	logger *zerolog.Logger,
) error {
	go func() {
		if !cfg.API.GRPC.Enabled {
			return
		}
		if err := grpcServer.ListenAndServe(); err != nil {
			logger.Error().Err(err).Msg("grpc server stopped")
		}
	}()

	go func() {
		if !cfg.API.HTTP.Enabled {
			return
		}
		if err := httpServer.Start(); err != nil {
			logger.Error().Err(err).Msg("http server stopped")
		}
	}()

	logger.Info().Int("grpc_port", cfg.API.GRPC.Port).Int("http_port", cfg.API.HTTP.Port).Msg("API server started")

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	grpcServer.Shutdown(shutdownCtx)
	_ = httpServer.Shutdown(shutdownCtx)

	logger.Info().Msg("API server stopped")
	return nil
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
