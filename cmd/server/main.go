package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ignatzorin/otp-backend/internal/config"
	"github.com/ignatzorin/otp-backend/internal/db"
	"github.com/ignatzorin/otp-backend/internal/delivery"
	"github.com/ignatzorin/otp-backend/internal/goroutine"
	httpHandlers "github.com/ignatzorin/otp-backend/internal/http/handlers"
	httpRouter "github.com/ignatzorin/otp-backend/internal/http/router"
	"github.com/ignatzorin/otp-backend/internal/logger"
	"github.com/ignatzorin/otp-backend/internal/otp"
	"github.com/ignatzorin/otp-backend/internal/redisconn"
	"github.com/ignatzorin/otp-backend/internal/repository"
	"github.com/ignatzorin/otp-backend/internal/service"
	"github.com/ignatzorin/otp-backend/internal/store"
)

func main() {
	// Готовим контекст для graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("main: ошибка загрузки конфигурации: %v", err)
	}

	// Инициализация логгера
	if cfg.Env == "development" {
		logger.Init("debug")
		logger.SetTextFormatter()
	} else {
		logger.Init("info")
	}

	// Подключение к базе и миграции.
	dbConn, err := db.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("main: ошибка подключения к базе: %v", err)
	}
	defer safeClose(dbConn)

	if err := db.RunMigrations(ctx, dbConn, cfg.MigrationsPath); err != nil {
		log.Fatalf("main: ошибка миграций: %v", err)
	}

	// Подключение к redis: в нём живут активные challenge.
	redisClient, err := redisconn.New(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		log.Fatalf("main: ошибка подключения к redis: %v", err)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			log.Printf("main: ошибка закрытия redis: %v", err)
		}
	}()

	tokenManager := service.NewTokenManager(
		cfg.JWTSecret, cfg.RefreshSecret,
		cfg.AccessTokenTTL, cfg.RefreshTokenTTL, cfg.ResetTokenTTL,
	)

	// Репозитории и хранилище challenge.
	userRepo := repository.NewUserRepository(dbConn)
	deliveryRepo := repository.NewDeliveryRepository(dbConn)
	challengeStore := store.NewChallengeStore(redisClient, cfg.ChallengeRetention)

	// Отправка кодов. Log-гейтвеи пишут код в лог вместо реальной отправки:
	// продакшн подменяет их SMTP/SMS провайдером через те же интерфейсы.
	dispatcher := delivery.NewDispatcher(
		delivery.LogEmailGateway{},
		delivery.LogSMSGateway{},
		deliveryRepo,
	)

	generator := otp.NewGenerator(cfg.CodeLength, cfg.CodeTTL)
	issuer := service.NewIssuerService(challengeStore, userRepo, generator, dispatcher, cfg.ResendCooldown, cfg.MaxAttempts)
	verifier := service.NewVerifierService(challengeStore, userRepo, tokenManager, cfg.CodeLength)

	// Фоновая чистка журнала доставок.
	janitor := service.NewDeliveryJanitor(deliveryRepo, cfg.DeliveryRetention)
	goroutine.SafeGoWithContext(ctx, janitor.Run)

	// HTTP хэндлеры.
	otpHandler := httpHandlers.NewOTPHandler(issuer, verifier)
	deliveryHandler := httpHandlers.NewDeliveryHandler(deliveryRepo, userRepo)
	healthHandler := httpHandlers.NewHealthHandler(dbConn, redisClient)

	// Роутер.
	engine := httpRouter.SetupRouter(cfg, otpHandler, deliveryHandler, healthHandler, tokenManager, redisClient)

	server := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: engine,
	}

	// Завершаем сервер при получении сигнала.
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("main: ошибка остановки http сервера: %v", err)
		}
	}()

	log.Printf("main: HTTP сервер запущен на порту %s", cfg.HTTPPort)

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("main: сервер завершился с ошибкой: %v", err)
	}
}

// safeClose закрывает соединение с базой.
func safeClose(db *sqlx.DB) {
	if err := db.Close(); err != nil {
		log.Printf("main: ошибка закрытия базы: %v", err)
	}
}
