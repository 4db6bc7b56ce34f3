// Package postgres provides a PostgreSQL implementation of storage.Store.
// It uses pgx/v5 for connection pooling and JSONB columns for job artifacts.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rhuss/probforge/pkg/api"
	"github.com/rhuss/probforge/pkg/debug"
	"github.com/rhuss/probforge/pkg/storage"
)

// jobColumns is the select list shared by Get and List, in scanJob order.
const jobColumns = `id, owner, prompt, difficulty, language, target_languages,
	status, stage, attempts, intent, test_specs, solution, execution_results,
	test_cases, test_cases_verified, constraints, starter_code, semantic_report,
	description, examples, title, translations, error, created_at, updated_at`

// Store is a PostgreSQL-backed job store.
type Store struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// Ensure Store implements storage.Store at compile time.
var _ storage.Store = (*Store)(nil)

// New creates a new PostgreSQL store with the given configuration.
// If MigrateOnStart is true, schema migrations are applied automatically.
func New(ctx context.Context, cfg Config) (*Store, error) {
	cfg.defaults()

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing DSN: %w", err)
	}

	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	// Verify connectivity.
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	s := &Store{pool: pool, now: time.Now}

	if cfg.MigrateOnStart {
		if err := s.migrate(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("running migrations: %w", err)
		}
	}

	return s, nil
}

// Create inserts a new job row.
func (s *Store) Create(ctx context.Context, job *api.Job) error {
	args, err := insertArgs(job)
	if err != nil {
		return err
	}

	placeholders := make([]string, len(args))
	for i := range args {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	query := "INSERT INTO jobs (" + jobColumns + ") VALUES (" + strings.Join(placeholders, ", ") + ")"

	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		if isDuplicateKey(err) {
			return storage.ErrConflict
		}
		return fmt.Errorf("inserting job: %w", err)
	}
	debug.Log("store", "job created", "job_id", job.ID)
	return nil
}

// insertArgs returns the values for jobColumns, marshaling artifact columns
// to JSON and leaving absent artifacts NULL.
func insertArgs(job *api.Job) ([]any, error) {
	targets := job.TargetLanguages
	if targets == nil {
		targets = []string{}
	}
	attempts := job.Attempts
	if attempts == nil {
		attempts = map[api.Stage]int{}
	}

	cols := []struct {
		name    string
		value   any
		isJSON  bool
		present bool
	}{
		{"id", job.ID, false, true},
		{"owner", job.Owner, false, true},
		{"prompt", job.Prompt, false, true},
		{"difficulty", string(job.Difficulty), false, true},
		{"language", job.Language, false, true},
		{"target_languages", targets, true, true},
		{"status", string(job.Status), false, true},
		{"stage", string(job.Stage), false, true},
		{"attempts", attempts, true, true},
		{"intent", job.Intent, true, job.Intent != nil},
		{"test_specs", job.TestSpecs, true, job.TestSpecs != nil},
		{"solution", job.Solution, true, job.Solution != nil},
		{"execution_results", job.ExecutionResults, true, job.ExecutionResults != nil},
		{"test_cases", job.TestCases, true, job.TestCases != nil},
		{"test_cases_verified", job.TestCasesVerified, false, true},
		{"constraints", job.Constraints, true, job.Constraints != nil},
		{"starter_code", job.StarterCode, true, job.StarterCode != nil},
		{"semantic_report", job.Semantic, true, job.Semantic != nil},
		{"description", job.Description, false, true},
		{"examples", job.Examples, true, job.Examples != nil},
		{"title", job.Title, false, true},
		{"translations", job.Translations, true, job.Translations != nil},
		{"error", job.Error, false, true},
		{"created_at", job.CreatedAt, false, true},
		{"updated_at", job.UpdatedAt, false, true},
	}

	args := make([]any, 0, len(cols))
	for _, c := range cols {
		switch {
		case !c.isJSON:
			args = append(args, c.value)
		case !c.present:
			args = append(args, nil)
		default:
			data, err := json.Marshal(c.value)
			if err != nil {
				return nil, fmt.Errorf("marshaling %s: %w", c.name, err)
			}
			args = append(args, data)
		}
	}
	return args, nil
}

// Update applies patch as a column list inside a transaction that locks the
// row, so the status transition check and the write are atomic.
func (s *Store) Update(ctx context.Context, id string, patch api.JobPatch) error {
	if patch.IsEmpty() {
		return nil
	}

	query, args, err := buildUpdate(id, patch, s.now().UTC())
	if err != nil {
		return err
	}

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var status string
		err := tx.QueryRow(ctx, "SELECT status FROM jobs WHERE id = $1 FOR UPDATE", id).Scan(&status)
		if errors.Is(err, pgx.ErrNoRows) {
			return storage.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("locking job: %w", err)
		}
		if err := storage.CheckTransition(api.JobStatus(status), patch); err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, query, args...); err != nil {
			return fmt.Errorf("updating job: %w", err)
		}
		debug.Trace("store", "job updated", "job_id", id, "query", query)
		return nil
	})
}

// buildUpdate serializes the non-nil patch fields into an UPDATE statement.
// $1 is always the job id. Attempts are merged key by key with jsonb
// concatenation.
func buildUpdate(id string, patch api.JobPatch, now time.Time) (string, []any, error) {
	args := []any{id}
	var sets []string
	set := func(col, expr string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = %s", col, strings.ReplaceAll(expr, "?", fmt.Sprintf("$%d", len(args)))))
	}
	setJSON := func(col string, v any) error {
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshaling %s: %w", col, err)
		}
		set(col, "?", data)
		return nil
	}

	if patch.Status != nil {
		set("status", "?", string(*patch.Status))
	}
	if patch.Stage != nil {
		set("stage", "?", string(*patch.Stage))
	}
	if patch.Attempts != nil {
		data, err := json.Marshal(patch.Attempts)
		if err != nil {
			return "", nil, fmt.Errorf("marshaling attempts: %w", err)
		}
		set("attempts", "attempts || ?::jsonb", string(data))
	}

	jsonFields := []struct {
		col   string
		value any
		set   bool
	}{
		{"intent", patch.Intent, patch.Intent != nil},
		{"test_specs", patch.TestSpecs, patch.TestSpecs != nil},
		{"solution", patch.Solution, patch.Solution != nil},
		{"execution_results", patch.ExecutionResults, patch.ExecutionResults != nil},
		{"test_cases", patch.TestCases, patch.TestCases != nil},
		{"constraints", patch.Constraints, patch.Constraints != nil},
		{"starter_code", patch.StarterCode, patch.StarterCode != nil},
		{"semantic_report", patch.Semantic, patch.Semantic != nil},
		{"examples", patch.Examples, patch.Examples != nil},
		{"translations", patch.Translations, patch.Translations != nil},
	}
	for _, f := range jsonFields {
		if !f.set {
			continue
		}
		if err := setJSON(f.col, f.value); err != nil {
			return "", nil, err
		}
	}

	if patch.TestCasesVerified != nil {
		set("test_cases_verified", "?", *patch.TestCasesVerified)
	}
	if patch.Description != nil {
		set("description", "?", *patch.Description)
	}
	if patch.Title != nil {
		set("title", "?", *patch.Title)
	}
	if patch.Error != nil {
		set("error", "?", *patch.Error)
	}
	set("updated_at", "?", now)

	return "UPDATE jobs SET " + strings.Join(sets, ", ") + " WHERE id = $1", args, nil
}

// Get retrieves a job by ID, scoped by owner when one is in the context.
func (s *Store) Get(ctx context.Context, id string) (*api.Job, error) {
	query := "SELECT " + jobColumns + " FROM jobs WHERE id = $1"
	args := []any{id}

	if owner := storage.GetOwner(ctx); owner != "" {
		query += " AND owner = $2"
		args = append(args, owner)
	}

	job, err := scanJob(s.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying job: %w", err)
	}
	return job, nil
}

// List returns jobs newest first with keyset pagination on (created_at, id).
func (s *Store) List(ctx context.Context, opts storage.ListOptions) (*storage.JobList, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if owner := storage.GetOwner(ctx); owner != "" {
		where = append(where, "owner = "+arg(owner))
	}
	if opts.Status != "" {
		where = append(where, "status = "+arg(string(opts.Status)))
	}
	if opts.After != "" {
		where = append(where, "(created_at, id) < (SELECT created_at, id FROM jobs WHERE id = "+arg(opts.After)+")")
	}

	limit := opts.EffectiveLimit()
	query := "SELECT " + jobColumns + " FROM jobs"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT " + arg(limit+1)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*api.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing jobs: %w", err)
	}

	hasMore := len(jobs) > limit
	if hasMore {
		jobs = jobs[:limit]
	}
	return storage.NewJobList(jobs, hasMore), nil
}

// scanJob reads one row selected with jobColumns.
func scanJob(row pgx.Row) (*api.Job, error) {
	var (
		job                    api.Job
		difficulty, status, st string
		targets, attempts      []byte
		intent, specs          []byte
		solution, results      []byte
		cases, constraints     []byte
		starter, semantic      []byte
		examples, translations []byte
	)
	err := row.Scan(
		&job.ID, &job.Owner, &job.Prompt, &difficulty, &job.Language, &targets,
		&status, &st, &attempts, &intent, &specs, &solution, &results,
		&cases, &job.TestCasesVerified, &constraints, &starter, &semantic,
		&job.Description, &examples, &job.Title, &translations, &job.Error,
		&job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	job.Difficulty = api.Difficulty(difficulty)
	job.Status = api.JobStatus(status)
	job.Stage = api.Stage(st)

	for _, col := range []struct {
		name string
		data []byte
		dst  any
	}{
		{"target_languages", targets, &job.TargetLanguages},
		{"attempts", attempts, &job.Attempts},
		{"intent", intent, &job.Intent},
		{"test_specs", specs, &job.TestSpecs},
		{"solution", solution, &job.Solution},
		{"execution_results", results, &job.ExecutionResults},
		{"test_cases", cases, &job.TestCases},
		{"constraints", constraints, &job.Constraints},
		{"starter_code", starter, &job.StarterCode},
		{"semantic_report", semantic, &job.Semantic},
		{"examples", examples, &job.Examples},
		{"translations", translations, &job.Translations},
	} {
		if len(col.data) == 0 {
			continue
		}
		if err := json.Unmarshal(col.data, col.dst); err != nil {
			return nil, fmt.Errorf("unmarshaling %s: %w", col.name, err)
		}
	}
	return &job, nil
}

// HealthCheck verifies the database connection.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// isDuplicateKey checks if the error is a PostgreSQL unique violation (23505).
func isDuplicateKey(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
