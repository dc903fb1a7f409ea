package server

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	_ "github.com/jackc/pgx/v4/stdlib"
	"go.uber.org/zap"
)

// NewDB opens the Postgres pool used for message and notification state.
// The schema itself is owned by the main Trofify application.
func NewDB(startupLogger *zap.Logger, config Config) (*sql.DB, error) {
	dbConfig := config.GetDatabase()

	db, err := sql.Open("pgx", dbConfig.Address)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(dbConfig.MaxOpenConns)
	db.SetMaxIdleConns(dbConfig.MaxIdleConns)
	if dbConfig.ConnMaxLifetimeMs > 0 {
		db.SetConnMaxLifetime(time.Duration(dbConfig.ConnMaxLifetimeMs) * time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	startupLogger.Info("Database connection established",
		zap.Int("max_open_conns", dbConfig.MaxOpenConns))

	return db, nil
}

// isDBConnectionError reports whether err looks like a lost connection rather
// than a statement-level failure, so handlers can log it at the right level.
func isDBConnectionError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgerrcode.IsConnectionException(pgErr.Code)
	}
	return errors.Is(err, sql.ErrConnDone)
}
