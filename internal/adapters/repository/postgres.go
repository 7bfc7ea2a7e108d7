package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/sethvargo/go-retry"

	"github.com/okian/atlasbatch/internal/domain/model"
	"github.com/okian/atlasbatch/pkg/metrics"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	connectTimeout = 10 * time.Second
	retryBase      = time.Second
	retryAttempts  = 3
)

// PostgresStore keeps records in PostgreSQL so they survive restarts.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore connects to dsn and applies the embedded migrations.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &PostgresStore{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(s.pool)
	defer func() { _ = db.Close() }()

	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

const selectColumns = `customer_ref, site_id, rank, image_id, order_id, status, stage, archive_path, raster_path, updated_at`

func (s *PostgresStore) Get(ctx context.Context, customerRef string) (model.OrderRecord, error) {
	var rec model.OrderRecord
	err := s.withRetry(ctx, "get", func(ctx context.Context) error {
		row := s.pool.QueryRow(ctx, `SELECT `+selectColumns+` FROM order_records WHERE customer_ref = $1`, customerRef)
		var err error
		rec, err = scanRecord(row)
		return err
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return model.OrderRecord{}, ErrNotFound
	}
	if err != nil {
		return model.OrderRecord{}, fmt.Errorf("get %s: %w", customerRef, err)
	}
	return rec, nil
}

func (s *PostgresStore) Upsert(ctx context.Context, rec model.OrderRecord) error {
	if rec.CustomerRef == "" {
		return ErrInvalidRef
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	err := s.withRetry(ctx, "upsert", func(ctx context.Context) error {
		_, err := s.pool.Exec(ctx, `
			INSERT INTO order_records (`+selectColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (customer_ref) DO UPDATE SET
				site_id = EXCLUDED.site_id,
				rank = EXCLUDED.rank,
				image_id = EXCLUDED.image_id,
				order_id = EXCLUDED.order_id,
				status = EXCLUDED.status,
				stage = EXCLUDED.stage,
				archive_path = EXCLUDED.archive_path,
				raster_path = EXCLUDED.raster_path,
				updated_at = EXCLUDED.updated_at`,
			rec.CustomerRef, rec.SiteID, rec.Rank, rec.ImageID, rec.OrderID, rec.Status,
			string(rec.Stage), rec.ArchivePath, rec.RasterPath, rec.UpdatedAt)
		return err
	})
	if err != nil {
		return fmt.Errorf("upsert %s: %w", rec.CustomerRef, err)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context) ([]model.OrderRecord, error) {
	var out []model.OrderRecord
	err := s.withRetry(ctx, "list", func(ctx context.Context) error {
		rows, err := s.pool.Query(ctx, `SELECT `+selectColumns+` FROM order_records ORDER BY site_id, rank`)
		if err != nil {
			return err
		}
		defer rows.Close()

		out = out[:0]
		for rows.Next() {
			rec, err := scanRecord(rows)
			if err != nil {
				return err
			}
			out = append(out, rec)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	return out, nil
}

// Close closes the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func scanRecord(row pgx.Row) (model.OrderRecord, error) {
	var (
		rec   model.OrderRecord
		stage string
	)
	err := row.Scan(&rec.CustomerRef, &rec.SiteID, &rec.Rank, &rec.ImageID, &rec.OrderID,
		&rec.Status, &stage, &rec.ArchivePath, &rec.RasterPath, &rec.UpdatedAt)
	rec.Stage = model.Stage(stage)
	return rec, err
}

// withRetry retries serialization failures, deadlocks and dropped
// connections with exponential backoff.
func (s *PostgresStore) withRetry(ctx context.Context, op string, fn func(context.Context) error) error {
	backoff := retry.WithMaxRetries(retryAttempts, retry.NewExponential(retryBase))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn(ctx)
		if err != nil && transient(err) {
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		metrics.RecordLedgerError(op)
	}
	return err
}

func transient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.SerializationFailure ||
			pgErr.Code == pgerrcode.DeadlockDetected ||
			pgerrcode.IsConnectionException(pgErr.Code)
	}
	msg := err.Error()
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "connection reset by peer")
}
