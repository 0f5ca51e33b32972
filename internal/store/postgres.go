package store

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/wbrown/quanttxt/internal/domain"
)

//go:embed migrations/*.sql
var migrations embed.FS

const migrationTable = "schema_migrations"

const jobColumns = `id, filename, params, status, stage, progress, message, error,
	is_timeout, original_width, original_height, dominant_color, result_path,
	created_at, updated_at, completed_at`

// PostgresStore is a JobStore backed by PostgreSQL.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// OpenPostgres connects to url, applies pending migrations and returns a
// ready store.
func OpenPostgres(ctx context.Context, url string, logger *slog.Logger) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := migrate(pool, logger); err != nil {
		pool.Close()
		return nil, err
	}

	logger.Info("database connection established")
	return &PostgresStore{pool: pool, logger: logger}, nil
}

// migrate runs the embedded goose migrations through a database/sql
// handle that shares the pool.
func migrate(pool *pgxpool.Pool, logger *slog.Logger) error {
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	goose.SetBaseFS(migrations)
	goose.SetTableName(migrationTable)
	goose.SetLogger(&gooseLogger{logger: logger})
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set migration dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

// gooseLogger forwards goose output to slog.
type gooseLogger struct {
	logger *slog.Logger
}

func (l *gooseLogger) Printf(format string, v ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, v...), "component", "migrations")
}

// Fatalf logs at error level; it does not exit, goose returns the error.
func (l *gooseLogger) Fatalf(format string, v ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, v...), "component", "migrations")
}

func (s *PostgresStore) Create(ctx context.Context, job *domain.Job) error {
	if err := job.Validate(); err != nil {
		return err
	}
	params, err := json.Marshal(job.Params)
	if err != nil {
		return fmt.Errorf("failed to encode job params: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO jobs (`+jobColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		job.ID, job.Filename, params, string(job.Status), job.Stage, job.Progress,
		job.Message, job.Error, job.IsTimeout, job.OriginalWidth, job.OriginalHeight,
		job.DominantColor, job.ResultPath, job.CreatedAt, job.UpdatedAt, job.CompletedAt)
	if err != nil {
		s.logger.Error("failed to save job", "job_id", job.ID, "error", err)
		return fmt.Errorf("failed to save job to database: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load job: %w", err)
	}
	return job, nil
}

// Update reads the row under a lock, applies u and writes every mutable
// column back in the same transaction.
func (s *PostgresStore) Update(ctx context.Context, id uuid.UUID, u domain.Update) (*domain.Job, error) {
	return s.update(ctx, id, nil, u)
}

// UpdateIf is Update guarded by the status read under the row lock.
func (s *PostgresStore) UpdateIf(ctx context.Context, id uuid.UUID, from domain.JobStatus, u domain.Update) (*domain.Job, error) {
	return s.update(ctx, id, &from, u)
}

func (s *PostgresStore) update(ctx context.Context, id uuid.UUID, from *domain.JobStatus, u domain.Update) (*domain.Job, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	row := tx.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1 FOR UPDATE`, id)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load job: %w", err)
	}
	if from != nil && job.Status != *from {
		return job, fmt.Errorf("%w: %s is %s, not %s", ErrStatusConflict, id, job.Status, *from)
	}

	u.Apply(job, time.Now().UTC())
	if err := job.Validate(); err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx, `
		UPDATE jobs SET status = $2, stage = $3, progress = $4, message = $5, error = $6,
			is_timeout = $7, original_width = $8, original_height = $9, dominant_color = $10,
			result_path = $11, updated_at = $12, completed_at = $13
		WHERE id = $1`,
		id, string(job.Status), job.Stage, job.Progress, job.Message, job.Error,
		job.IsTimeout, job.OriginalWidth, job.OriginalHeight, job.DominantColor,
		job.ResultPath, job.UpdatedAt, job.CompletedAt)
	if err != nil {
		s.logger.Error("failed to update job", "job_id", id, "error", err)
		return nil, fmt.Errorf("failed to update job: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit job update: %w", err)
	}
	return job, nil
}

func (s *PostgresStore) List(ctx context.Context, opts ListOptions) ([]*domain.Job, int, error) {
	statuses := make([]string, len(opts.Statuses))
	for i, st := range opts.Statuses {
		statuses[i] = string(st)
	}
	filter := `WHERE cardinality($1::text[]) = 0 OR status = ANY($1::text[])`

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM jobs `+filter, statuses).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count jobs: %w", err)
	}

	var limit *int
	if opts.Limit > 0 {
		limit = &opts.Limit
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+` FROM jobs `+filter+`
		ORDER BY created_at DESC, id
		LIMIT $2 OFFSET $3`,
		statuses, limit, max(opts.Offset, 0))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query jobs: %w", err)
	}
	jobs, err := collectJobs(rows)
	if err != nil {
		return nil, 0, err
	}
	return jobs, total, nil
}

func (s *PostgresStore) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM jobs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return nil
}

func (s *PostgresStore) FinishedBefore(ctx context.Context, t time.Time) ([]*domain.Job, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE status IN ('completed', 'cancelled', 'failed') AND updated_at < $1
		ORDER BY updated_at`, t)
	if err != nil {
		return nil, fmt.Errorf("failed to query finished jobs: %w", err)
	}
	return collectJobs(rows)
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func collectJobs(rows pgx.Rows) ([]*domain.Job, error) {
	defer rows.Close()
	var jobs []*domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job row: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating job rows: %w", err)
	}
	return jobs, nil
}

func scanJob(row pgx.Row) (*domain.Job, error) {
	var (
		job    domain.Job
		params []byte
		status string
	)
	err := row.Scan(&job.ID, &job.Filename, &params, &status, &job.Stage, &job.Progress,
		&job.Message, &job.Error, &job.IsTimeout, &job.OriginalWidth, &job.OriginalHeight,
		&job.DominantColor, &job.ResultPath, &job.CreatedAt, &job.UpdatedAt, &job.CompletedAt)
	if err != nil {
		return nil, err
	}
	job.Status = domain.JobStatus(status)
	if err := json.Unmarshal(params, &job.Params); err != nil {
		return nil, fmt.Errorf("failed to decode job params: %w", err)
	}
	return &job, nil
}
