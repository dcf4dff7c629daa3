package task

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
)

const taskColumns = `id, source_file, source_size, output_file, output_size, status, error_message, created_at, updated_at`

// Postgres is the database/sql-backed Repository implementation with
// hand-written SQL. Each mutating method runs inside an explicit
// BeginTx/Commit pair so the CAS and its RETURNING read are never split
// across transactions; Get and List are single read statements run without
// an explicit transaction.
type Postgres struct {
	db *sql.DB
}

// NewPostgres wraps an already-open *sql.DB (the `lib/pq` driver, blank
// imported by the caller alongside `database/sql`).
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// EnsureSchema creates the tasks table if it doesn't already exist. Real
// deployments are expected to run migrations out of band; this exists so
// a fresh Postgres instance (local dev, CI) can be bootstrapped without one.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS tasks (
			id SERIAL PRIMARY KEY,
			source_file TEXT NOT NULL,
			source_size BIGINT NOT NULL,
			output_file TEXT,
			output_size BIGINT,
			status TEXT NOT NULL,
			error_message TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`)
	if err != nil {
		return fmt.Errorf("failed to create tasks table: %w", err)
	}
	return nil
}

func (p *Postgres) Create(ctx context.Context, sourceFile string, sourceSize int64) (*Task, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	row := tx.QueryRowContext(ctx, `
		INSERT INTO tasks (source_file, source_size, status, created_at, updated_at)
		VALUES ($1, $2, $3, now(), now())
		RETURNING `+taskColumns,
		sourceFile, sourceSize, StatusPending,
	)
	t, err := scanTask(row)
	if err != nil {
		return nil, fmt.Errorf("failed to insert task: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit task insert: %w", err)
	}
	return t, nil
}

func (p *Postgres) Claim(ctx context.Context, id int64) (*Task, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	row := tx.QueryRowContext(ctx, `
		UPDATE tasks SET status = $1, updated_at = now()
		WHERE id = $2 AND status IN ($1, $3)
		RETURNING `+taskColumns,
		StatusProcessing, id, StatusPending,
	)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, claimMissReason(ctx, tx, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim task %d: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit task claim: %w", err)
	}
	return t, nil
}

// claimMissReason distinguishes "no such task" from "already terminal" once
// the CAS update affected zero rows, so callers get ErrNotFound vs
// ErrFinished rather than an opaque failure.
func claimMissReason(ctx context.Context, tx *sql.Tx, id int64) error {
	row := tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id)
	if _, err := scanTask(row); err == sql.ErrNoRows {
		return ErrNotFound
	} else if err != nil {
		return fmt.Errorf("failed to read task %d after claim miss: %w", id, err)
	}
	return ErrFinished
}

func (p *Postgres) MarkCompleted(ctx context.Context, id int64, outputFile string, outputSize int64) (*Task, error) {
	return p.markTerminal(ctx, id, StatusCompleted, []string{"output_file", "output_size"}, outputFile, outputSize)
}

func (p *Postgres) MarkFailed(ctx context.Context, id int64, errorMessage string) (*Task, error) {
	return p.markTerminal(ctx, id, StatusFailed, []string{"error_message"}, errorMessage)
}

// markTerminal runs the shared CAS-from-PROCESSING update, building the SET
// clause's placeholder numbers from the number of extra columns so callers
// never have to hand-count `$N` positions.
func (p *Postgres) markTerminal(ctx context.Context, id int64, status Status, columns []string, args ...any) (*Task, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	setClause := ""
	queryArgs := []any{status, id}
	for i, col := range columns {
		if i > 0 {
			setClause += ", "
		}
		queryArgs = append(queryArgs, args[i])
		setClause += fmt.Sprintf("%s = $%d", col, len(queryArgs))
	}
	whereStatusPlaceholder := len(queryArgs) + 1
	queryArgs = append(queryArgs, StatusProcessing)

	query := fmt.Sprintf(`
		UPDATE tasks SET status = $1, updated_at = now(), %s
		WHERE id = $2 AND status = $%d
		RETURNING %s`, setClause, whereStatusPlaceholder, taskColumns)

	row := tx.QueryRowContext(ctx, query, queryArgs...)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, claimMissReason(ctx, tx, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to mark task %d %s: %w", id, status, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit task transition: %w", err)
	}
	return t, nil
}

func (p *Postgres) Get(ctx context.Context, id int64) (*Task, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read task %d: %w", id, err)
	}
	return t, nil
}

func (p *Postgres) List(ctx context.Context, filter ListFilter) ([]*Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks`
	var args []any
	if len(filter.Statuses) > 0 {
		query += ` WHERE status = ANY($1)`
		statuses := make([]string, len(filter.Statuses))
		for i, s := range filter.Statuses {
			statuses[i] = string(s)
		}
		args = append(args, pq.Array(statuses))
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query += fmt.Sprintf(` LIMIT $%d`, len(args))

	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(` OFFSET $%d`, len(args))
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task row: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// scanner is the subset of *sql.Row/*sql.Rows that scanTask needs.
type scanner interface {
	Scan(dest ...any) error
}

func scanTask(s scanner) (*Task, error) {
	var t Task
	var createdAt, updatedAt time.Time
	err := s.Scan(&t.ID, &t.SourceFile, &t.SourceSize, &t.OutputFile, &t.OutputSize, &t.Status, &t.ErrorMessage, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	t.CreatedAt, t.UpdatedAt = createdAt, updatedAt
	return &t, nil
}
