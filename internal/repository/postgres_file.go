package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dopaminelite/filestorage/internal/domain"
)

const storedFileColumns = `id, original_file_name, stored_file_name, mime_type, size_bytes, sha256,
	bucket, storage_path, context_type, context_ref_id, created_by_user_id,
	created_at, updated_at, is_deleted`

// PostgresFileRepository implements domain.FileRepository on PostgreSQL
type PostgresFileRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresFileRepository(pool *pgxpool.Pool) *PostgresFileRepository {
	return &PostgresFileRepository{pool: pool}
}

func (r *PostgresFileRepository) Create(ctx context.Context, file *domain.StoredFile) error {
	prepareCreate(file)

	query := `INSERT INTO stored_files (` + storedFileColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err := r.pool.Exec(ctx, query,
		file.ID, file.OriginalFileName, file.StoredFileName, file.MimeType, file.SizeBytes, file.SHA256,
		file.Bucket, file.StoragePath, string(file.ContextType), file.ContextRefID, file.CreatedByUserID,
		file.CreatedAt, file.UpdatedAt, file.IsDeleted,
	)
	if err != nil {
		return fmt.Errorf("failed to create stored file: %w", err)
	}
	return nil
}

func (r *PostgresFileRepository) FindByID(ctx context.Context, id string) (*domain.StoredFile, error) {
	query := `SELECT ` + storedFileColumns + ` FROM stored_files WHERE id = $1`

	file, err := scanStoredFile(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewFileNotFound(id)
		}
		return nil, fmt.Errorf("failed to get stored file: %w", err)
	}
	return file, nil
}

// Update rewrites the mutable fields; storage_path and stored_file_name never change
func (r *PostgresFileRepository) Update(ctx context.Context, file *domain.StoredFile) error {
	file.UpdatedAt = time.Now().UTC()

	query := `UPDATE stored_files
		SET original_file_name = $2, mime_type = $3, sha256 = $4,
			context_ref_id = $5, is_deleted = $6, updated_at = $7
		WHERE id = $1`

	tag, err := r.pool.Exec(ctx, query,
		file.ID, file.OriginalFileName, file.MimeType, file.SHA256,
		file.ContextRefID, file.IsDeleted, file.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update stored file: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NewFileNotFound(file.ID)
	}
	return nil
}

// buildFileWhere renders the filter as a WHERE clause with positional args
func buildFileWhere(filter domain.FileFilter) (string, []any) {
	var conditions []string
	var args []any

	add := func(column string, value any) {
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if filter.CreatedByUserID != "" {
		add("created_by_user_id", filter.CreatedByUserID)
	}
	if filter.ContextType != "" {
		add("context_type", string(filter.ContextType))
	}
	if filter.ContextRefID != "" {
		add("context_ref_id", filter.ContextRefID)
	}
	if filter.IsDeleted != nil {
		add("is_deleted", *filter.IsDeleted)
	}

	if len(conditions) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(conditions, " AND "), args
}

func (r *PostgresFileRepository) Query(ctx context.Context, filter domain.FileFilter, limit, offset int) ([]*domain.StoredFile, int64, error) {
	where, args := buildFileWhere(filter)

	var total int64
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM stored_files `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count stored files: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM stored_files %s
		ORDER BY created_at DESC, id DESC
		LIMIT $%d OFFSET $%d`, storedFileColumns, where, len(args)+1, len(args)+2)

	rows, err := r.pool.Query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query stored files: %w", err)
	}
	defer rows.Close()

	files := make([]*domain.StoredFile, 0)
	for rows.Next() {
		file, err := scanStoredFile(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan stored file: %w", err)
		}
		files = append(files, file)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate stored files: %w", err)
	}
	return files, total, nil
}

func scanStoredFile(row pgx.Row) (*domain.StoredFile, error) {
	var (
		f           domain.StoredFile
		contextType string
	)
	if err := row.Scan(
		&f.ID, &f.OriginalFileName, &f.StoredFileName, &f.MimeType, &f.SizeBytes, &f.SHA256,
		&f.Bucket, &f.StoragePath, &contextType, &f.ContextRefID, &f.CreatedByUserID,
		&f.CreatedAt, &f.UpdatedAt, &f.IsDeleted,
	); err != nil {
		return nil, err
	}
	f.ContextType = domain.ContextType(contextType)
	f.CreatedAt = f.CreatedAt.UTC()
	f.UpdatedAt = f.UpdatedAt.UTC()
	return &f, nil
}

var _ domain.FileRepository = (*PostgresFileRepository)(nil)
