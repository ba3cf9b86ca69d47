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

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"bus-ticketing/internal/auth"
	"bus-ticketing/internal/config"
	"bus-ticketing/internal/database/migrations"
	"bus-ticketing/internal/email"
	"bus-ticketing/internal/kafka"
	"bus-ticketing/internal/logger"
	"bus-ticketing/internal/tickets"
	ticketdb "bus-ticketing/internal/tickets/db"
	"bus-ticketing/internal/tickets/lock"
	"bus-ticketing/internal/tickets/ticket_api"
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

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log := logger.NewLogger()
	defer log.Close()

	bunDB := connectDatabase(cfg.Database, log)
	defer bunDB.Close()

	runner := migrations.NewRunner(bunDB, migrations.MigrateOptions{
		MigrationsDir: "./migrations",
		AutoMigrate:   cfg.Database.AutoMigrate,
	})
	if err := runner.Run(); err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Migrations failed: %v", err))
	}

	store := &ticketdb.DB{Bun: bunDB}
	locker := buildLocker(cfg.Redis, log)
	ticketService := tickets.NewTicketService(store, locker, log)

	emailService := email.NewService(email.NewSMTPSender(cfg.Email), store, log, cfg.Email.MaxAttempts, cfg.Email.RetryDelay)
	confirmer := email.NewConfirmer(emailService, store)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Kafka.Enabled && !cfg.Kafka.MockMode {
		if err := kafka.EnsureTopicsExist(cfg.Kafka.Brokers, []string{cfg.Kafka.Topics.TicketCreated}, log); err != nil {
			log.Warn("KAFKA", fmt.Sprintf("Failed to ensure topics: %v", err))
		}
		consumer := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.Topics.TicketCreated, cfg.Kafka.GroupID, log)
		defer consumer.Close()
		go consumer.Start(ctx, confirmer.SendForTicket)
	} else {
		log.Warn("KAFKA", "Kafka disabled or mocked, confirmations are dispatched in-process by the payment service")
	}

	handler := ticket_api.NewHandler(ticketService, log)

	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Route("/tickets", func(r chi.Router) {
		r.Post("/", handler.CreateTicket)
		r.Get("/number/{ticketNumber}", handler.GetTicketByNumber)
		r.Get("/number/{ticketNumber}/emails", handler.GetEmailLogs)
		r.Get("/email/{email}", handler.GetTicketsByEmail)
		r.Get("/session/{sessionID}", handler.GetTicketBySession)

		r.Group(func(r chi.Router) {
			r.Use(auth.DriverOnly(cfg.Auth.JWTSecret))
			r.Patch("/{ticketID}/validated", handler.SetValidated)
		})
	})
	r.Get("/rides/{rideID}/tickets", handler.ListTicketsByRide)

	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("SERVER", fmt.Sprintf("Ticket service on %s", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("SERVER", fmt.Sprintf("HTTP error: %v", err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	cancel()

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = server.Shutdown(ctxShutdown)
	log.Info("SERVER", "Ticket service shutdown complete")
}
