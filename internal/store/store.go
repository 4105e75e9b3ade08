package store

import (
	"context"
	"fmt"

	"github.com/andresmejia3/aibum/internal/cluster"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store persists person groups in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New establishes a connection pool to the database and ensures the schema is initialized.
func New(ctx context.Context, connString string) (*Store, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}

	// Initialize schema (Auto-Migration)
	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &Store{pool: pool}, nil
}

// initSchema creates the person_groups table if it doesn't exist.
// position keeps the persisted order, which decides which person wins a tie on restore.
func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	query := `
		CREATE TABLE IF NOT EXISTS person_groups (
			id TEXT PRIMARY KEY,
			position INT NOT NULL,
			label TEXT NOT NULL DEFAULT '',
			descriptor DOUBLE PRECISION[] NOT NULL,
			updated_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS person_groups_position_idx ON person_groups (position);
	`
	_, err := pool.Exec(ctx, query)
	return err
}

// Close terminates the database connections.
func (s *Store) Close(ctx context.Context) {
	s.pool.Close()
}

// Load returns all persisted person groups in their saved order.
func (s *Store) Load(ctx context.Context) ([]cluster.Record, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, label, descriptor FROM person_groups ORDER BY position`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []cluster.Record
	for rows.Next() {
		var r cluster.Record
		var desc []float64
		if err := rows.Scan(&r.ID, &r.Label, &desc); err != nil {
			return nil, err
		}
		r.Descriptor = desc
		if err := cluster.Validate(r.Descriptor, 0); err != nil {
			return nil, fmt.Errorf("person group %q: %w", r.ID, err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Save replaces the stored person groups with records in a single transaction.
func (s *Store) Save(ctx context.Context, records []cluster.Record) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "DELETE FROM person_groups"); err != nil {
		return err
	}

	rows := make([][]any, len(records))
	for i, r := range records {
		rows[i] = []any{r.ID, i, r.Label, []float64(r.Descriptor)}
	}
	_, err = tx.CopyFrom(ctx,
		pgx.Identifier{"person_groups"},
		[]string{"id", "position", "label", "descriptor"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("failed to write person groups: %w", err)
	}

	return tx.Commit(ctx)
}

// Reset drops all application tables to clear the database state.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `DROP TABLE IF EXISTS person_groups CASCADE;`)
	if err != nil {
		return err
	}
	return initSchema(ctx, s.pool)
}
