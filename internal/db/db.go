package db

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"time"

	"github.com/Dhoini/Coaching-billing-service/pkg/logger"
	"github.com/cenkalti/backoff/v4"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

// DBClient представляет клиент для работы с базой данных.
// Это сервисная учётная запись (обходит RLS), создаётся один раз в main и передаётся явно.
type DBClient struct {
	db  *sqlx.DB
	log *logger.Logger
}

// NewDBClient создает новый экземпляр DBClient. Подключение повторяется с экспоненциальной
// задержкой: при старте в docker-compose база может подняться позже сервиса.
func NewDBClient(ctx context.Context, dsn string, maxOpenConns int, log *logger.Logger) (*DBClient, error) {
	db, err := sqlx.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxOpenConns / 2)
	db.SetConnMaxLifetime(time.Hour)
	db.SetConnMaxIdleTime(30 * time.Minute)

	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = 5 * time.Second
	bo.MaxElapsedTime = 30 * time.Second

	ping := func() error {
		if err := db.PingContext(ctx); err != nil {
			log.Warnw("Database not reachable yet, retrying", "error", err)
			return err
		}
		return nil
	}
	if err := backoff.Retry(ping, backoff.WithContext(bo, ctx)); err != nil {
		_ = db.Close()
		log.Errorw("Failed to ping database", "error", err)
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DBClient{db: db, log: log}, nil
}

// NewFromDB оборачивает уже открытое соединение (используется в тестах с sqlmock).
func NewFromDB(db *sqlx.DB, log *logger.Logger) *DBClient {
	return &DBClient{db: db, log: log}
}

// DB возвращает *sqlx.DB для репозиториев.
func (dc *DBClient) DB() *sqlx.DB {
	return dc.db
}

// Migrate применяет встроенные SQL-миграции.
func (dc *DBClient) Migrate(ctx context.Context) error {
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("failed to open embedded migrations: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectPostgres, dc.db.DB, fsys)
	if err != nil {
		return fmt.Errorf("failed to create migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		dc.log.Errorw("Database migration failed", "error", err)
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	for _, r := range results {
		dc.log.Infow("Migration applied", "version", r.Source.Version, "duration_ms", r.Duration.Milliseconds())
	}
	return nil
}

// Close закрывает соединение с базой данных.
func (dc *DBClient) Close() error {
	err := dc.db.Close()
	if err != nil {
		dc.log.Errorw("Failed to close database connection", "error", err)
		return fmt.Errorf("failed to close database connection: %w", err)
	}
	return nil
}
