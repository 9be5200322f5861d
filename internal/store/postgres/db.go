// Package postgres implements store.Store on Postgres through the pgx
// database/sql driver. Schema changes are embedded goose migrations.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"

	"tutormarket/internal/apperr"
	"tutormarket/internal/store"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Store is the Postgres-backed entity store.
type Store struct {
	queries
	db     *sql.DB
	logger *zap.Logger
}

var _ store.Store = (*Store)(nil)

// Open connects to Postgres with pool defaults and verifies the connection.
func Open(ctx context.Context, connString string, logger *zap.Logger) (*Store, error) {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{queries: queries{q: db}, db: db, logger: logger}, nil
}

// Migrate applies pending embedded migrations.
func (s *Store) Migrate(ctx context.Context) error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, s.db, "migrations"); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	version, err := goose.GetDBVersionContext(ctx, s.db)
	if err != nil {
		return fmt.Errorf("get migration version: %w", err)
	}
	s.logger.Info("migrations applied", zap.Int64("version", version))
	return nil
}

// InTx runs fn inside a READ COMMITTED transaction. Lock* calls inside fn
// take row locks that are held until commit.
func (s *Store) InTx(ctx context.Context, fn func(tx store.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return apperr.Wrap("postgres.InTx", apperr.ErrUnavailable, "begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&txQueries{queries: queries{q: tx}}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return mapError("postgres.Commit", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB exposes the pool for health checks and tooling.
func (s *Store) DB() *sql.DB { return s.db }

const (
	codeUniqueViolation = "23505"
	codeCheckViolation  = "23514"
	codeInvalidText     = "22P02"
)

// mapError turns constraint violations into typed failures so the callers
// see the same kinds whether the engine or the database caught the race.
func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.Wrap(op, apperr.ErrNotFound, "not found", err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == codeUniqueViolation && pgErr.ConstraintName == "ux_applications_tuition_tutor":
			return apperr.Wrap(op, apperr.ErrDuplicateApplication, "already applied to this tuition", err)
		case pgErr.Code == codeUniqueViolation && pgErr.ConstraintName == "ux_applications_one_hire":
			return apperr.Wrap(op, apperr.ErrTuitionAlreadyHired, "tuition already has a hired tutor", err)
		case pgErr.Code == codeUniqueViolation && pgErr.ConstraintName == "ux_payments_one_success":
			return apperr.Wrap(op, apperr.ErrPreconditionFailed, "application already paid", err)
		case pgErr.Code == codeUniqueViolation && pgErr.ConstraintName == "ux_payments_ref":
			return apperr.Wrap(op, apperr.ErrPreconditionFailed, "transaction already recorded", err)
		case pgErr.Code == codeCheckViolation && pgErr.ConstraintName == "ck_sessions_range":
			return apperr.Wrap(op, apperr.ErrInvalidRange, "end must be after start", err)
		case pgErr.Code == codeCheckViolation:
			return apperr.Wrap(op, apperr.ErrValidation, "constraint "+pgErr.ConstraintName+" violated", err)
		case pgErr.Code == codeInvalidText:
			// a malformed id cannot name any row
			return apperr.Wrap(op, apperr.ErrNotFound, "not found", err)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
