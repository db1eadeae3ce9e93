// internal/storage/postgres.go
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"taskhub/internal/model"
)

const recordsSchema = `
CREATE TABLE IF NOT EXISTS records (
	partition_key TEXT        NOT NULL,
	sort_key      TEXT        NOT NULL,
	attributes    JSONB       NOT NULL,
	version       BIGINT      NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (partition_key, sort_key)
)`

// PostgresStore implements Store on a single shared table. A circuit breaker
// guards every call so a degraded database surfaces as ErrStorageUnavailable
// instead of piling up blocked requests.
type PostgresStore struct {
	DB      *sql.DB
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

func NewPostgresStore(dsn string, logger *zap.Logger) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to db: %w", err)
	}
	if _, err := db.Exec(recordsSchema); err != nil {
		return nil, fmt.Errorf("failed to ensure records table: %w", err)
	}

	return &PostgresStore{DB: db, breaker: newBreaker(logger), logger: logger}, nil
}

func newBreaker(logger *zap.Logger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "postgres",
		Timeout: 10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("storage circuit state changed",
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
}

// execute runs fn through the breaker. Domain outcomes (not found, version
// conflict) are not storage failures and must not trip the circuit, so they
// bypass the breaker's error accounting.
func (s *PostgresStore) execute(fn func() error) error {
	var domainErr error
	_, err := s.breaker.Execute(func() (interface{}, error) {
		if err := fn(); err != nil {
			if errors.Is(err, model.ErrNotFound) || errors.Is(err, model.ErrConflict) {
				domainErr = err
				return nil, nil
			}
			return nil, err
		}
		return nil, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return fmt.Errorf("%w: circuit open", model.ErrStorageUnavailable)
		}
		return fmt.Errorf("%w: %v", model.ErrStorageUnavailable, err)
	}
	return domainErr
}

func (s *PostgresStore) Get(ctx context.Context, key Key) (*Record, error) {
	rec := Record{Key: key}
	err := s.execute(func() error {
		row := s.DB.QueryRowContext(ctx, `
			SELECT attributes, version
			FROM records
			WHERE partition_key = $1 AND sort_key = $2
		`, key.Partition, key.Sort)
		if err := row.Scan(&rec.Attributes, &rec.Version); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return model.ErrNotFound
			}
			return fmt.Errorf("get failed: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *PostgresStore) Put(ctx context.Context, rec Record) error {
	return s.execute(func() error {
		res, err := s.DB.ExecContext(ctx, `
			INSERT INTO records (partition_key, sort_key, attributes, version)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (partition_key, sort_key) DO NOTHING
		`, rec.Key.Partition, rec.Key.Sort, rec.Attributes, rec.Version)
		if err != nil {
			return fmt.Errorf("put failed: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("put failed: %w", err)
		}
		if n == 0 {
			return model.ErrConflict
		}
		return nil
	})
}

func (s *PostgresStore) PutIf(ctx context.Context, rec Record, expectedVersion int64) error {
	return s.execute(func() error {
		res, err := s.DB.ExecContext(ctx, `
			UPDATE records
			SET attributes = $4, version = $5, updated_at = NOW()
			WHERE partition_key = $1 AND sort_key = $2 AND version = $3
		`, rec.Key.Partition, rec.Key.Sort, expectedVersion, rec.Attributes, rec.Version)
		if err != nil {
			return fmt.Errorf("conditional put failed: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("conditional put failed: %w", err)
		}
		if n == 1 {
			return nil
		}

		// Zero rows: either the record is gone or another writer moved the
		// version. Disambiguate with a point lookup.
		var exists bool
		err = s.DB.QueryRowContext(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM records WHERE partition_key = $1 AND sort_key = $2
			)
		`, rec.Key.Partition, rec.Key.Sort).Scan(&exists)
		if err != nil {
			return fmt.Errorf("conditional put failed: %w", err)
		}
		if !exists {
			return model.ErrNotFound
		}
		return model.ErrConflict
	})
}

func (s *PostgresStore) Delete(ctx context.Context, key Key) error {
	return s.execute(func() error {
		res, err := s.DB.ExecContext(ctx, `
			DELETE FROM records WHERE partition_key = $1 AND sort_key = $2
		`, key.Partition, key.Sort)
		if err != nil {
			return fmt.Errorf("delete failed: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("delete failed: %w", err)
		}
		if n == 0 {
			return model.ErrNotFound
		}
		return nil
	})
}

func (s *PostgresStore) Query(ctx context.Context, partition, sortPrefix, afterSort string, limit int) (*Page, error) {
	page := &Page{}
	err := s.execute(func() error {
		rows, err := s.DB.QueryContext(ctx, `
			SELECT sort_key, attributes, version
			FROM records
			WHERE partition_key = $1
			  AND sort_key LIKE $2 || '%'
			  AND sort_key > $3
			ORDER BY sort_key
			LIMIT $4
		`, partition, sortPrefix, afterSort, limit)
		if err != nil {
			return fmt.Errorf("query failed: %w", err)
		}
		defer rows.Close()

		var lastSort string
		for rows.Next() {
			rec := Record{Key: Key{Partition: partition}}
			if err := rows.Scan(&rec.Key.Sort, &rec.Attributes, &rec.Version); err != nil {
				return fmt.Errorf("scan failed: %w", err)
			}
			lastSort = rec.Key.Sort
			page.Records = append(page.Records, rec)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("query failed: %w", err)
		}
		if len(page.Records) == limit {
			page.NextCursor = lastSort
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return page, nil
}

func (s *PostgresStore) Close() error {
	return s.DB.Close()
}
