package main // Entry point package

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"    // loads .env files in development
	"github.com/labstack/echo/v4" // Echo web framework

	"github.com/arinwt/lesson-reservation/internal/config"
	"github.com/arinwt/lesson-reservation/internal/database"
	"github.com/arinwt/lesson-reservation/internal/gateway"
	"github.com/arinwt/lesson-reservation/internal/handler"
	"github.com/arinwt/lesson-reservation/internal/middleware"
	"github.com/arinwt/lesson-reservation/internal/queue"
	"github.com/arinwt/lesson-reservation/internal/repository"
	"github.com/arinwt/lesson-reservation/internal/router"
	"github.com/arinwt/lesson-reservation/internal/service"
)

func main() {
	_ = godotenv.Load() // ignore absence; production sets real env vars
	cfg := config.Load()

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()

	// Repositories.
	users := repository.NewUserRepo(db)
	tokens := repository.NewTokenRepo(db)
	lessons := repository.NewLessonRepo(db)
	enrollments := repository.NewEnrollmentRepo(db)
	lockers := repository.NewLockerRepo(db)
	payments := repository.NewPaymentRepo(db)

	// Payment gateway client.
	kispg := gateway.NewClient(gateway.Config{
		MID:         cfg.KispgMID,
		MerchantKey: cfg.KispgMerchantKey,
		BaseURL:     cfg.KispgBaseURL,
		ReturnURL:   cfg.KispgReturnURL,
		NotifyURL:   cfg.KispgNotifyURL,
	})

	// Event publisher and the consumer that mirrors events to the audit log.
	events := &service.AMQPPublisher{URL: cfg.AMQPURL}
	go queue.StartEventConsumer()

	// Services.
	reservations := service.NewReservationService(
		enrollments, lessons, users,
		time.Duration(cfg.PaymentWindowMin)*time.Minute, cfg.LockerFeeKRW,
	)
	paymentsSvc := service.NewPaymentService(enrollments, lessons, users, kispg, events)
	cancellations := service.NewCancellationService(enrollments, lessons, users, payments, kispg, events)

	// Background reclaim of expired unpaid holds.
	sweeper := service.NewExpirySweeper(enrollments)
	if err := sweeper.Start(); err != nil {
		log.Fatalf("sweeper: %v", err)
	}
	defer sweeper.Stop()

	e := echo.New()
	e.HideBanner = true

	// Redis is optional: when it is unreachable the limiter and cache
	// middlewares degrade to pass-through.
	rdb := config.NewRedisClient()
	if rdb == nil {
		log.Printf("redis unavailable, rate limiting and response cache disabled")
	}
	e.Use(middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb))
	publicCache := middleware.NewRedisCache(config.LoadCacheConfig(), rdb)

	router.RegisterRoutes(e)
	router.RegisterAuth(e, handler.NewAuthHandler(cfg, users, tokens), cfg.JWTSecret)
	router.RegisterPublic(e, handler.NewCatalogHandler(lessons, enrollments, lockers), publicCache)
	router.RegisterCustomer(e, handler.NewEnrollmentHandler(reservations, paymentsSvc, cancellations), cfg.JWTSecret)
	router.RegisterAdmin(e, handler.NewAdminHandler(lessons, enrollments, lockers, cancellations), cfg.JWTSecret)
	router.RegisterWebhooks(e, handler.NewWebhookHandler(paymentsSvc))

	addr := ":" + cfg.Port
	go func() {
		log.Printf("listening on %s (env=%s)", addr, cfg.Env)
		if err := e.Start(addr); err != nil {
			log.Printf("server stopped: %v", err)
		}
	}()

	// Graceful shutdown: finish in-flight requests before the sweeper and
	// DB pool are torn down by the deferred calls above.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		log.Printf("shutdown: %v", err)
	}
}
