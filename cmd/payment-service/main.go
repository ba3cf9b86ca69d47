package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/stripe/stripe-go/v82"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"bus-ticketing/internal/config"
	"bus-ticketing/internal/email"
	"bus-ticketing/internal/kafka"
	"bus-ticketing/internal/logger"
	handlers "bus-ticketing/internal/payment/handler"
	"bus-ticketing/internal/tickets"
	ticketdb "bus-ticketing/internal/tickets/db"
	"bus-ticketing/internal/tickets/lock"
)

func connectDatabase(cfg config.DatabaseConfig, log *logger.Logger) *bun.DB {
	dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		cfg.Host, cfg.Port, cfg.Username, cfg.Password, cfg.Database)

	sqldb, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Failed to open PostgreSQL: %v", err))
	}
	sqldb.SetMaxOpenConns(cfg.MaxOpenConns)
	sqldb.SetMaxIdleConns(cfg.MaxIdleConns)
	sqldb.SetConnMaxLifetime(cfg.MaxLifetime)

	if err := sqldb.Ping(); err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL: %v", err))
	}
	log.LogDatabase("CONNECT", "postgresql", "connection established")

	return bun.NewDB(sqldb, pgdialect.New())
}

func buildLocker(cfg config.RedisConfig, log *logger.Logger) lock.BucketLocker {
	if !cfg.Enabled {
		log.Warn("LOCK", "Redis disabled, using in-process bucket locks (single instance only)")
		return lock.NewLocalLocker()
	}

	client := redis.NewClient(&redis.Options{Addr: cfg.Addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		log.Fatal("LOCK", fmt.Sprintf("Failed to connect to Redis at %s: %v", cfg.Addr, err))
	}
	log.Info("LOCK", fmt.Sprintf("Redis bucket locking via %s", cfg.Addr))
	return lock.NewRedisLocker(client, cfg.LockTTL)
}

func buildDispatcher(cfg *config.Config, store *ticketdb.DB, log *logger.Logger) handlers.TicketDispatcher {
	if cfg.Kafka.Enabled && !cfg.Kafka.MockMode {
		log.Info("KAFKA", fmt.Sprintf("Dispatching confirmations via topic %s", cfg.Kafka.Topics.TicketCreated))
		return kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topics.TicketCreated, log)
	}

	log.Warn("KAFKA", "Kafka disabled or mocked, sending confirmations in-process")
	emailService := email.NewService(email.NewSMTPSender(cfg.Email), store, log, cfg.Email.MaxAttempts, cfg.Email.RetryDelay)
	return handlers.NewLocalDispatcher(email.NewConfirmer(emailService, store), log)
}

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log := logger.NewLogger()
	defer log.Close()

	stripe.Key = cfg.Stripe.SecretKey

	bunDB := connectDatabase(cfg.Database, log)
	defer bunDB.Close()

	store := &ticketdb.DB{Bun: bunDB}
	ticketService := tickets.NewTicketService(store, buildLocker(cfg.Redis, log), log)

	stripeHandler := handlers.NewStripeHandler(ticketService, buildDispatcher(cfg, store, log), cfg.Stripe.WebhookSecret, log)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.POST("/webhook/stripe", stripeHandler.HandleWebhook)

	server := &http.Server{
		Addr:         cfg.Server.WebhookPort,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("SERVER", fmt.Sprintf("Payment webhook service on %s", cfg.Server.WebhookPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("SERVER", fmt.Sprintf("HTTP error: %v", err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(ctxShutdown)
	log.Info("SERVER", "Payment webhook service shutdown complete")
}
