package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"forwarder/internal/api"
	"forwarder/internal/config"
	"forwarder/internal/database"
	"forwarder/internal/domain"
	"forwarder/internal/engine"
	"forwarder/internal/events"
	"forwarder/internal/logging"
	"forwarder/internal/metrics"
	"forwarder/internal/models"
	"forwarder/internal/notify"
	"forwarder/internal/report"
	"forwarder/internal/repository"
	"forwarder/internal/sender"

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

func run() error {
	cfg, userbots, logger, closer, loadErr := loadConfigAndLogger()
	if loadErr != nil {
		return loadErr
	}
	if closer != nil {
		defer (func(c io.Closer) { _ = c.Close() })(closer)
	}

	if err := prepareDirectories(cfg, &logger); err != nil {
		return err
	}

	db, err := initDatabase(cfg, userbots, &logger)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisClient, markers := initMarkerRepository(ctx, cfg, &logger)
	if redisClient != nil {
		defer func() { _ = repository.Close(redisClient) }()
	}

	eventBus := events.NewEventBus()
	subscribeEngineEvents(ctx, eventBus, db, &logger)

	initNotifier(ctx, cfg, eventBus, &logger)

	snd, err := initSender(cfg, userbots, db, &logger)
	if err != nil {
		return err
	}

	if cfg.Monitoring.PrometheusEnabled {
		startMetricsServer(cfg, &logger)
	}

	eng := engine.New(engine.Options{
		PollInterval:     cfg.Engine.PollInterval(),
		SendTimeout:      cfg.Engine.SendTimeout(),
		MaxRetries:       cfg.Engine.MaxRetries,
		RetryDelay:       cfg.Engine.RetryDelay(),
		FailureThreshold: int64(cfg.Engine.FailureThreshold),
	}, db, markers, snd, db, db, eventBus, &logger)

	if cfg.API.Enabled {
		exporter := report.NewExporter(db, cfg.Exports.Path, &logger)
		apiServer := api.NewHTTPServer(cfg.API, db, eng.Bulk(), exporter, &logger)
		go func() {
			if err := apiServer.Start(); err != nil {
				logger.Error().Err(err).Msg("API server error")
			}
		}()
		defer func() {
			_ = apiServer.Shutdown(context.Background())
		}()
	}

	if err := eng.Start(ctx); err != nil {
		logger.Error().Err(err).Msg("Ошибка запуска движка")
		return err
	}
	logger.Info().Msg("Движок запущен...")

	<-ctx.Done()
	eng.Wait()

	logger.Info().Msg("Shutdown complete.")
	return nil
}

func loadConfigAndLogger() (*config.Config, []models.Userbot, zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, zerolog.Logger{}, nil, err
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, nil, zerolog.Logger{}, nil, err
	}
	logger := baseLogger.With().Str("component", "engine-main").Logger()

	userbotsPath := os.Getenv("USERBOTS_PATH")
	if userbotsPath == "" {
		userbotsPath = cfg.Telegram.UserbotsFile
	}
	userbotsData, err := os.ReadFile(userbotsPath)
	if err != nil {
		logger.Error().Err(err).Msgf("Ошибка чтения %s", userbotsPath)
		return nil, nil, zerolog.Logger{}, closer, err
	}

	var userbotsConfig struct {
		Userbots []models.Userbot `yaml:"userbots"`
	}
	if err := yaml.Unmarshal(userbotsData, &userbotsConfig); err != nil {
		logger.Error().Err(err).Msg("Ошибка парсинга userbots.yaml")
		return nil, nil, zerolog.Logger{}, closer, err
	}

	if err := config.ValidateUserbots(userbotsConfig.Userbots); err != nil {
		logger.Error().Err(err).Msg("Userbots validation failed")
		return nil, nil, zerolog.Logger{}, closer, err
	}

	return cfg, userbotsConfig.Userbots, logger, closer, nil
}

func prepareDirectories(cfg *config.Config, logger *zerolog.Logger) error {
	if cfg == nil {
		return os.ErrInvalid
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		logger.Error().Err(err).Msg("Ошибка создания директории для базы данных")
		return err
	}
	if err := os.MkdirAll(cfg.Exports.Path, 0o755); err != nil {
		logger.Error().Err(err).Msg("Ошибка создания директории для экспорта")
		return err
	}
	return nil
}

func initDatabase(cfg *config.Config, userbots []models.Userbot, logger *zerolog.Logger) (*database.DB, error) {
	db, err := database.NewDB(cfg.Database.Path, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Ошибка инициализации базы данных")
		return nil, err
	}

	for i := range userbots {
		if err := db.UpsertUserbot(context.Background(), &userbots[i]); err != nil {
			logger.Error().Err(err).Str("phone", userbots[i].Phone).Msg("Ошибка синхронизации юзербота")
		}
	}
	return db, nil
}

// initMarkerRepository собирает хранилище маркеров: redis как primary,
// память как fallback. Без redis работаем только на памяти.
func initMarkerRepository(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*redis.Client, domain.MarkerRepository) {
	memory := repository.NewMemoryMarkerRepository()
	if cfg.Redis.Address == "" {
		return nil, memory
	}

	redisClient := repository.NewRedisClient(cfg.Redis)
	if err := repository.Ping(ctx, redisClient); err != nil {
		logger.Warn().Err(err).Msg("Redis unavailable")
	}

	primary := repository.NewRedisMarkerRepository(redisClient)
	return redisClient, repository.NewFailoverMarkerRepository(primary, memory, logger)
}

func initSender(cfg *config.Config, userbots []models.Userbot, db *database.DB, logger *zerolog.Logger) (*sender.TelegramSender, error) {
	snd := sender.NewTelegramSender(db, cfg.Engine.SenderRPS, cfg.Engine.SenderBurst, logger)

	connected := 0
	for _, ub := range userbots {
		if ub.Status == models.UserbotInactive {
			logger.Info().Str("phone", ub.Phone).Msg("Юзербот отключен, пропускаем")
			continue
		}
		botAPI, err := tgbotapi.NewBotAPI(ub.Token)
		if err != nil {
			logger.Error().Err(err).Str("phone", ub.Phone).Msg("Ошибка подключения юзербота")
			continue
		}
		botAPI.Debug = cfg.Telegram.Debug
		botAPI.Client = &http.Client{Timeout: cfg.Engine.SendTimeout()}
		snd.RegisterClient(ub.Phone, botAPI)
		connected++
	}

	if connected == 0 {
		return nil, fmt.Errorf("no userbots connected")
	}
	logger.Info().Int("connected", connected).Int("total", len(userbots)).Msg("Юзерботы подключены")
	return snd, nil
}

func initNotifier(ctx context.Context, cfg *config.Config, bus *events.EventBus, logger *zerolog.Logger) *notify.TelegramNotifier {
	if cfg.Telegram.NotifyBotToken == "" || len(cfg.Admins) == 0 {
		logger.Info().Msg("Уведомления админам отключены")
		return nil
	}

	botAPI, err := tgbotapi.NewBotAPI(cfg.Telegram.NotifyBotToken)
	if err != nil {
		logger.Error().Err(err).Msg("Ошибка создания notify-бота")
		return nil
	}

	notifier := notify.NewTelegramNotifier(botAPI, cfg.Admins, logger)
	notifier.WatchFailures(ctx, bus)
	return notifier
}

func startMetricsServer(cfg *config.Config, logger *zerolog.Logger) {
	metrics.Register()
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Monitoring.PrometheusPort),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("Prometheus metrics listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("metrics server error")
		}
	}()
}

// subscribeEngineEvents пишет события движка в журнал logs.
func subscribeEngineEvents(ctx context.Context, bus *events.EventBus, db *database.DB, logger *zerolog.Logger) {
	taskHandler := func(ev *events.Event) error {
		var payload events.TaskEventPayload
		if err := json.Unmarshal(ev.Payload, &payload); err != nil {
			logger.Error().Err(err).Str("event", ev.Type).Msg("event bus: decode payload")
			return nil
		}

		record := &models.EventRecord{
			Event:    ev.Type,
			Details:  string(ev.Payload),
			ClientID: payload.ClientID,
			TaskID:   &payload.TaskID,
		}
		if err := db.LogEvent(ctx, record); err != nil {
			logger.Error().Err(err).Str("event", ev.Type).Msg("event bus: write log")
		}
		return nil
	}

	bulkHandler := func(ev *events.Event) error {
		record := &models.EventRecord{
			Event:   ev.Type,
			Details: string(ev.Payload),
		}
		if err := db.LogEvent(ctx, record); err != nil {
			logger.Error().Err(err).Str("event", ev.Type).Msg("event bus: write log")
		}
		return nil
	}

	bus.Subscribe(events.EventRunSucceeded, taskHandler)
	bus.Subscribe(events.EventRunFailed, taskHandler)
	bus.Subscribe(events.EventTaskFailed, taskHandler)
	bus.Subscribe(events.EventTaskCompleted, taskHandler)
	bus.Subscribe(events.EventBulkApplied, bulkHandler)
}
