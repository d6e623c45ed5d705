package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/digkill/TGArtBot/internal/admin"
	"github.com/digkill/TGArtBot/internal/config"
	"github.com/digkill/TGArtBot/internal/database"
	"github.com/digkill/TGArtBot/internal/kie"
	"github.com/digkill/TGArtBot/internal/ratelimit"
	"github.com/digkill/TGArtBot/internal/repository"
	"github.com/digkill/TGArtBot/internal/service"
	"github.com/digkill/TGArtBot/internal/session"
	"github.com/digkill/TGArtBot/internal/storage"
	"github.com/digkill/TGArtBot/internal/telegram"
	"github.com/digkill/TGArtBot/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logr := logger.New()

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("database connect: %v", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := database.Migrate(ctx, db); err != nil {
		log.Fatalf("database migrate: %v", err)
	}

	botAPI, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		log.Fatalf("telegram bot: %v", err)
	}

	kieClient := kie.NewClient(cfg, logr)

	userRepo := repository.NewUserRepository(db)
	modelRepo := repository.NewModelRepository(db)
	taskRepo := repository.NewTaskRepository(db)
	paymentRepo := repository.NewPaymentRepository(db)
	settingsRepo := repository.NewSettingsRepository(db)

	if err := settingsRepo.EnsureDefaults(ctx, cfg.DefaultCreditUSD, cfg.DefaultExchangeRate, cfg.DefaultMarkup); err != nil {
		log.Fatalf("ensure settings: %v", err)
	}

	notifier := telegram.NewNotifier(botAPI, logr, cfg.OperatorIDs)

	userService := service.NewUserService(userRepo)
	ledgerService := service.NewLedgerService(logr, userRepo, taskRepo)
	taskService := service.NewTaskService(cfg, logr, kieClient, taskRepo, ledgerService, notifier)
	paymentService := service.NewPaymentService(logr, paymentRepo, userRepo, ledgerService, notifier)
	statsService := service.NewStatsService(taskRepo, userRepo)

	uploader, err := storage.NewUploader(storage.Config{
		Endpoint:      cfg.S3Endpoint,
		Region:        cfg.S3Region,
		AccessKey:     cfg.S3AccessKey,
		SecretKey:     cfg.S3SecretKey,
		Bucket:        cfg.S3Bucket,
		PublicBaseURL: cfg.S3PublicBaseURL,
		UsePathStyle:  cfg.S3UsePathStyle,
		Prefix:        cfg.S3Prefix,
	})
	if err != nil {
		log.Fatalf("storage uploader: %v", err)
	}

	sessions := session.NewStore(cfg.SessionTTL, cfg.SubmitDebounce)
	limiter := ratelimit.New(cfg.RateLimitWindow, cfg.RateLimitCap)

	bot := telegram.NewBot(cfg, botAPI, logr, userService, modelRepo, settingsRepo, taskService, ledgerService, paymentService, sessions, limiter, uploader)

	adminServer := admin.NewServer(cfg.AdminListenAddr, cfg.AdminUsername, cfg.AdminPassword, logr, userService, ledgerService, paymentService, statsService, settingsRepo, kieClient, botAPI)
	go func() {
		if err := adminServer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logr.Error("admin server stopped", "err", err)
		}
	}()

	if err := bot.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logr.Error("bot stopped", "err", err)
	}
}
