package app

import (
	"context"
	"fmt"
	"log/slog"

	"salon_backend/internal/config"
	"salon_backend/internal/events"
	"salon_backend/internal/repositories"
	"salon_backend/internal/store"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// closer освобождает ресурсы в порядке, обратном созданию.
type closer func() error

// openStore поднимает хранилище по database.driver. Для БД дополнительно
// подключается RabbitMQ (если задан amqp.url), чтобы изменения с других
// инстансов доходили до локальных подписок.
func openStore(ctx context.Context, cfg *config.Config, log *slog.Logger) (store.MessageStore, []closer, error) {
	clock := store.NewClock(nil)

	if cfg.Database.Driver == "memory" {
		log.Warn("Using in-memory message store, data is lost on restart")
		mem := store.NewMemoryStore(clock, log)
		return mem, []closer{func() error { mem.Close(); return nil }}, nil
	}

	var dialector gorm.Dialector
	switch cfg.Database.Driver {
	case "postgres":
		dialector = postgres.Open(cfg.Database.DSN)
	case "sqlite":
		dialector = sqlite.Open(cfg.Database.DSN)
	default:
		return nil, nil, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
	}

	log.Info("Connecting to database...", "driver", cfg.Database.Driver)
	gormDB, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, nil, fmt.Errorf("connect to database: %w", err)
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		return nil, nil, fmt.Errorf("get *sql.DB from GORM: %w", err)
	}
	if cfg.Database.Driver == "sqlite" {
		// sqlite не любит параллельных писателей
		sqlDB.SetMaxOpenConns(1)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, nil, fmt.Errorf("database unavailable: %w", err)
	}
	if err := repositories.AutoMigrate(gormDB); err != nil {
		_ = sqlDB.Close()
		return nil, nil, fmt.Errorf("migrate chat tables: %w", err)
	}
	log.Info("Database connected")

	closers := []closer{sqlDB.Close}
	origin := uuid.NewString()

	var (
		publisher events.Publisher = events.NewNoopPublisher(log)
		conn      *amqp091.Connection
	)
	if cfg.AMQP.URL != "" {
		conn, err = events.DialWithRetry(ctx, events.ConnectionOptions{
			URL:           cfg.AMQP.URL,
			RetryAttempts: cfg.AMQP.RetryAttempts,
			Delay:         cfg.AMQP.RetryDelay,
			Logger:        log,
		})
		if err != nil {
			runClosers(closers, log)
			return nil, nil, err
		}
		closers = append(closers, conn.Close)

		publisher, err = events.NewRabbitPublisher(conn, cfg.AMQP.Exchange, log)
		if err != nil {
			runClosers(closers, log)
			return nil, nil, fmt.Errorf("rabbit publisher: %w", err)
		}
		closers = append(closers, publisher.Close)
	} else {
		log.Info("AMQP is not configured, change fan-out is local only")
	}

	ms := repositories.NewMessageStore(gormDB, clock, publisher, origin, log)
	closers = append(closers, func() error { ms.Close(); return nil })

	if conn != nil {
		subscriber, err := events.NewSubscriber(conn, cfg.AMQP.Exchange, origin, ms, log)
		if err != nil {
			runClosers(closers, log)
			return nil, nil, fmt.Errorf("rabbit subscriber: %w", err)
		}
		closers = append(closers, subscriber.Close)
		if err := subscriber.Start(); err != nil {
			runClosers(closers, log)
			return nil, nil, fmt.Errorf("start rabbit subscriber: %w", err)
		}
	}

	return ms, closers, nil
}

func runClosers(closers []closer, log *slog.Logger) {
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil {
			log.Warn("close failed", "error", err)
		}
	}
}
