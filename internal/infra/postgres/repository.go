package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/samber/mo"

	"github.com/jinford/teardown/internal/core/job"
)

// DBTX は pgxpool.Pool と pgx.Tx の共通インターフェース
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository は job.Repository インターフェースを実装する PostgreSQL リポジトリです
type Repository struct {
	db DBTX
}

// NewRepository は新しい Repository を作成します
func NewRepository(db DBTX) *Repository {
	return &Repository{db: db}
}

// コンパイル時の型チェック
var _ job.Repository = (*Repository)(nil)

// === Job ===

const jobColumns = `id, company_name, company_url, status, created_at, started_at, completed_at, workspace_path, report_path, error_message`

func (r *Repository) CreateJob(ctx context.Context, j *job.Job) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO teardown_jobs (`+jobColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		j.ID,
		j.CompanyName,
		j.CompanyURL,
		string(j.Status),
		TimeToPgtype(j.CreatedAt),
		TimePtrToPgtype(j.StartedAt),
		TimePtrToPgtype(j.CompletedAt),
		StringToNullableText(j.WorkspacePath),
		StringToNullableText(j.ReportPath),
		StringToNullableText(j.ErrorMessage),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("%w: %s", job.ErrJobAlreadyActive, j.ID)
		}
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

func (r *Repository) UpdateJob(ctx context.Context, j *job.Job) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE teardown_jobs
		SET status = $2,
		    started_at = $3,
		    completed_at = $4,
		    workspace_path = $5,
		    report_path = $6,
		    error_message = $7
		WHERE id = $1`,
		j.ID,
		string(j.Status),
		TimePtrToPgtype(j.StartedAt),
		TimePtrToPgtype(j.CompletedAt),
		StringToNullableText(j.WorkspacePath),
		StringToNullableText(j.ReportPath),
		StringToNullableText(j.ErrorMessage),
	)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", job.ErrJobNotFound, j.ID)
	}
	return nil
}

func (r *Repository) GetJob(ctx context.Context, id string) (mo.Option[*job.Job], error) {
	row := r.db.QueryRow(ctx, `SELECT `+jobColumns+` FROM teardown_jobs WHERE id = $1`, id)
	j, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return mo.None[*job.Job](), nil
		}
		return mo.None[*job.Job](), fmt.Errorf("failed to get job: %w", err)
	}
	return mo.Some(j), nil
}

// ListJobs は作成日時の新しい順に返します。limit が0以下なら全件
func (r *Repository) ListJobs(ctx context.Context, limit int) ([]*job.Job, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+jobColumns+` FROM teardown_jobs
		ORDER BY created_at DESC, id DESC
		LIMIT $1`, nullableLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var result []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		result = append(result, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return result, nil
}

func scanJob(row pgx.Row) (*job.Job, error) {
	var (
		j                     job.Job
		status                string
		createdAt             pgtype.Timestamptz
		startedAt, completed  pgtype.Timestamptz
		workspace, report, em pgtype.Text
	)
	if err := row.Scan(&j.ID, &j.CompanyName, &j.CompanyURL, &status, &createdAt, &startedAt, &completed, &workspace, &report, &em); err != nil {
		return nil, err
	}
	j.Status = job.Status(status)
	j.CreatedAt = createdAt.Time
	j.StartedAt = PgtypeToTimePtr(startedAt)
	j.CompletedAt = PgtypeToTimePtr(completed)
	j.WorkspacePath = PgtextToString(workspace)
	j.ReportPath = PgtextToString(report)
	j.ErrorMessage = PgtextToString(em)
	return &j, nil
}

// === Teardown ===

const teardownColumns = `id, job_id, company_name, company_url, content, file_path, archive_uri, created_at`

// SaveTeardown はジョブごとに1件のティアダウンを保存します。同じジョブの再保存は上書き
func (r *Repository) SaveTeardown(ctx context.Context, t *job.Teardown) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO teardowns (`+teardownColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (job_id) DO UPDATE
		SET content = EXCLUDED.content,
		    file_path = EXCLUDED.file_path,
		    archive_uri = EXCLUDED.archive_uri`,
		UUIDToPgtype(t.ID),
		t.JobID,
		t.CompanyName,
		t.CompanyURL,
		t.Content,
		t.FilePath,
		StringToNullableText(t.ArchiveURI),
		TimeToPgtype(t.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save teardown: %w", err)
	}
	return nil
}

func (r *Repository) GetTeardown(ctx context.Context, id uuid.UUID) (mo.Option[*job.Teardown], error) {
	row := r.db.QueryRow(ctx, `SELECT `+teardownColumns+` FROM teardowns WHERE id = $1`, UUIDToPgtype(id))
	return r.getTeardown(row)
}

func (r *Repository) GetTeardownByJob(ctx context.Context, jobID string) (mo.Option[*job.Teardown], error) {
	row := r.db.QueryRow(ctx, `SELECT `+teardownColumns+` FROM teardowns WHERE job_id = $1`, jobID)
	return r.getTeardown(row)
}

func (r *Repository) getTeardown(row pgx.Row) (mo.Option[*job.Teardown], error) {
	t, err := scanTeardown(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return mo.None[*job.Teardown](), nil
		}
		return mo.None[*job.Teardown](), fmt.Errorf("failed to get teardown: %w", err)
	}
	return mo.Some(t), nil
}

// ListTeardowns は作成日時の新しい順に返します。limit が0以下なら全件
func (r *Repository) ListTeardowns(ctx context.Context, limit int) ([]*job.Teardown, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+teardownColumns+` FROM teardowns
		ORDER BY created_at DESC
		LIMIT $1`, nullableLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list teardowns: %w", err)
	}
	defer rows.Close()

	var result []*job.Teardown
	for rows.Next() {
		t, err := scanTeardown(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan teardown: %w", err)
		}
		result = append(result, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list teardowns: %w", err)
	}
	return result, nil
}

func scanTeardown(row pgx.Row) (*job.Teardown, error) {
	var (
		t         job.Teardown
		id        pgtype.UUID
		archive   pgtype.Text
		createdAt pgtype.Timestamptz
	)
	if err := row.Scan(&id, &t.JobID, &t.CompanyName, &t.CompanyURL, &t.Content, &t.FilePath, &archive, &createdAt); err != nil {
		return nil, err
	}
	t.ID = PgtypeToUUID(id)
	t.ArchiveURI = PgtextToString(archive)
	t.CreatedAt = createdAt.Time
	return &t, nil
}

// nullableLimit は0以下を NULL (LIMIT ALL) に変換します
func nullableLimit(limit int) pgtype.Int8 {
	if limit <= 0 {
		return pgtype.Int8{}
	}
	return pgtype.Int8{Int64: int64(limit), Valid: true}
}
