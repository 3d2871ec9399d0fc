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

	"github.com/bwmarrin/discordgo"
	"github.com/go-chi/chi/v5"
	"github.com/lppm-portal/kkn-api/internal/auth"
	"github.com/lppm-portal/kkn-api/internal/config"
	"github.com/lppm-portal/kkn-api/internal/database"
	"github.com/lppm-portal/kkn-api/internal/handlers"
	"github.com/lppm-portal/kkn-api/internal/notifier"
	"github.com/lppm-portal/kkn-api/internal/registration"
	"github.com/lppm-portal/kkn-api/internal/storage"
)

func main() {
	// Load Configuration
	cfg := config.LoadConfig()
	logger := config.SetupLogger(cfg)

	// Connect to Database
	db := database.Connect(cfg)

	store, err := newStore(cfg)
	if err != nil {
		logger.Error("failed to initialize document storage", slog.String("error", err.Error()))
		os.Exit(1)
	}

	notifiers, closeNotifiers := newNotifiers(cfg, logger)
	defer closeNotifiers()

	// Initialize Handlers
	service := registration.NewService(db, store, notifiers, cfg.MaxUploadSize)
	authHandler := auth.NewAuthHandler(cfg, db, auth.DefaultPolicy())

	r := chi.NewRouter()
	handlers.RegisterRoutes(r, cfg, logger, handlers.Handlers{
		Auth:         authHandler,
		Review:       handlers.NewReviewHandler(service),
		Registration: handlers.NewRegistrationHandler(service),
		APIKeys:      handlers.NewAPIKeyHandler(db),
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("starting server", slog.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", slog.String("error", err.Error()))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.String("error", err.Error()))
	}
}

func newStore(cfg *config.Config) (storage.Store, error) {
	switch cfg.StorageDriver {
	case "", "local":
		return storage.NewLocalStore(cfg.StorageDir)
	case "cloudinary":
		return storage.NewCloudinaryStore(cfg.CloudinaryURL, cfg.CloudinaryFolder)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
}

// newNotifiers builds the configured fan-out. Missing configuration disables a target.
func newNotifiers(cfg *config.Config, logger *slog.Logger) (notifier.Multi, func()) {
	var (
		targets notifier.Multi
		closers []func() error
	)

	if cfg.DiscordBotToken != "" && cfg.DiscordNotificationsChannelID != "" {
		session, err := discordgo.New("Bot " + cfg.DiscordBotToken)
		if err != nil {
			logger.Warn("Discord notifier not initialized", slog.String("error", err.Error()))
		} else {
			targets = append(targets, notifier.NewDiscordNotifier(session, cfg.DiscordNotificationsChannelID))
		}
	}

	if len(cfg.KafkaBrokers) > 0 {
		kafkaNotifier := notifier.NewKafkaNotifier(cfg.KafkaBrokers, cfg.KafkaTopic)
		targets = append(targets, kafkaNotifier)
		closers = append(closers, kafkaNotifier.Close)
	}

	logger.Info("notifications configured", slog.Int("targets", len(targets)))
	return targets, func() {
		for _, c := range closers {
			if err := c(); err != nil {
				logger.Warn("failed to close notifier", slog.String("error", err.Error()))
			}
		}
	}
}
