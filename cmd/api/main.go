package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	amqp "github.com/rabbitmq/amqp091-go"
	"golang.org/x/sync/errgroup"

	_ "github.com/lib/pq"

	"github.com/irfndi/notifybus/internal/config"
	"github.com/irfndi/notifybus/internal/httpserver"
	"github.com/irfndi/notifybus/internal/notification"
	"github.com/irfndi/notifybus/internal/notification/providers"
	sentrypkg "github.com/irfndi/notifybus/internal/sentry"
)

func main() {
	cfg := config.Load()
	logger := log.New(os.Stdout, "", log.LstdFlags)

	if err := sentrypkg.Init(cfg); err != nil {
		logger.Printf("WARNING: Sentry initialization failed: %v", err)
	} else if cfg.EnableSentry {
		logger.Printf("Sentry initialized for environment: %s", cfg.SentryEnvironment)
	}
	defer sentrypkg.Flush(2 * time.Second)

	if err := cfg.Validate(); err != nil {
		log.Fatalf("configuration error: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to open db: %v", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(1 * time.Minute)
	defer func() {
		if err := db.Close(); err != nil {
			logger.Printf("failed to close db: %v", err)
		}
	}()

	waitForDB(db, logger)

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatalf("invalid REDIS_URL: %v", err)
	}
	redisClient := redis.NewClient(redisOpts)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Printf("failed to close redis client: %v", err)
		}
	}()

	amqpConn, err := amqp.Dial(cfg.AMQPURL)
	if err != nil {
		log.Fatalf("failed to connect to AMQP: %v", err)
	}
	defer func() {
		if err := amqpConn.Close(); err != nil {
			logger.Printf("failed to close AMQP connection: %v", err)
		}
	}()

	dispatchChannel, err := amqpConn.Channel()
	if err != nil {
		log.Fatalf("failed to open AMQP dispatch channel: %v", err)
	}
	callbackChannel, err := amqpConn.Channel()
	if err != nil {
		log.Fatalf("failed to open AMQP callback channel: %v", err)
	}
	deadLetterChannel, err := amqpConn.Channel()
	if err != nil {
		log.Fatalf("failed to open AMQP dead-letter channel: %v", err)
	}

	dispatchQueue, err := notification.NewDispatchQueue(dispatchChannel, cfg.DispatchQueueName)
	if err != nil {
		log.Fatalf("failed to declare dispatch queue: %v", err)
	}

	store := notification.NewPostgresStore(db)
	registry := providers.NewRegistry()
	callbacks := notification.NewCallbackEmitter(cfg.WebhookTimeout, callbackChannel, logger)
	engine := notification.NewEngine(store, registry, callbacks, logger)
	locker := notification.NewLocker(redisClient, cfg.ReconcileStaleThreshold)

	worker := notification.NewWorker(engine, dispatchQueue, deadLetterChannel, cfg.DispatchQueueName+".dead", cfg.WorkerMaxRetries, cfg.WorkerRetryDelay, cfg.DLQAlertThreshold, logger)

	httpApp := httpserver.New(httpserver.Options{
		Engine: engine,
		Queue:  dispatchQueue,
		Logger: logger,
	})

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		logger.Printf("http listening on %s", cfg.HTTPAddr)
		if err := httpApp.Listen(cfg.HTTPAddr); err != nil {
			if groupCtx.Err() != nil {
				return nil
			}
			return err
		}
		return nil
	})

	group.Go(func() error {
		logger.Println("starting dispatch worker")
		if err := worker.Run(groupCtx, "api-worker"); err != nil {
			if groupCtx.Err() != nil {
				return nil
			}
			return err
		}
		return nil
	})

	group.Go(func() error {
		return runReconcileLoop(groupCtx, store, dispatchQueue, locker, cfg.ReconcileInterval, cfg.ReconcileStaleThreshold, logger)
	})

	group.Go(func() error {
		<-groupCtx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := httpApp.ShutdownWithContext(shutdownCtx); err != nil {
			logger.Printf("HTTP shutdown error: %v", err)
		}

		logger.Println("graceful shutdown completed")
		return nil
	})

	if err := group.Wait(); err != nil {
		logger.Printf("server error: %v", err)
		os.Exit(1)
	}
}

func waitForDB(db *sql.DB, logger *log.Logger) {
	const maxRetries = 30
	for i := 0; i < maxRetries; i++ {
		if err := db.Ping(); err == nil {
			logger.Println("database connection established")
			return
		}
		if i == maxRetries-1 {
			log.Fatalf("failed to connect to database after %d retries", maxRetries)
		}
		logger.Printf("waiting for database... (%d/%d)", i+1, maxRetries)
		time.Sleep(1 * time.Second)
	}
}

// runReconcileLoop re-promotes notifications stuck in Pending past
// staleThreshold back onto the dispatch queue, claiming each one through the
// locker while it is re-published. The worker does not take this lock.
func runReconcileLoop(ctx context.Context, store notification.Store, queue *notification.DispatchQueue, locker *notification.Locker, interval, staleThreshold time.Duration, logger *log.Logger) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			stale, err := store.ListStalePending(ctx, time.Now().Add(-staleThreshold), 100)
			if err != nil {
				logger.Printf("reconcile: failed to list stale pending notifications: %v", err)
				continue
			}
			for _, n := range stale {
				token, ok, err := locker.Acquire(ctx, n.ID)
				if err != nil || !ok {
					continue
				}
				if err := queue.Publish(ctx, n.ID); err != nil {
					logger.Printf("reconcile: failed to re-publish notification %s: %v", n.ID, err)
				} else {
					logger.Printf("reconcile: re-promoted stale notification %s", n.ID)
				}
				_ = locker.Release(ctx, n.ID, token)
			}
		}
	}
}
