package memos

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/hi-space/next-memo/internal/common"
	"github.com/hi-space/next-memo/internal/dbx"
	"github.com/hi-space/next-memo/internal/server/models"
)

const memoColumns = "id, title, content, prefix, priority, files, file_count, summary, tags, created_at, updated_at"

// searchVector must stay in sync with the GIN index expression in the
// migrations, otherwise Postgres falls back to a sequential scan.
const searchVector = "to_tsvector('simple', title || ' ' || content || ' ' || summary || ' ' || (tags)::text)"

// likeEscaper neutralizes LIKE metacharacters so a search term is
// always matched literally.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// PostgresRepository implements memo storage over a dbx.DBTX
// (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMemo(row rowScanner) (*models.Memo, error) {
	var m models.Memo
	var filesJSON, tagsJSON []byte
	if err := row.Scan(
		&m.ID, &m.Title, &m.Content, &m.Prefix, &m.Priority,
		&filesJSON, &m.FileCount, &m.Summary, &tagsJSON,
		&m.CreatedAt, &m.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(filesJSON, &m.Files); err != nil {
		return nil, fmt.Errorf("decode files: %w", err)
	}
	if err := json.Unmarshal(tagsJSON, &m.Tags); err != nil {
		return nil, fmt.Errorf("decode tags: %w", err)
	}
	return &m, nil
}

// Get returns the memo by id, or common.ErrorNotFound when no row exists.
func (r *PostgresRepository) Get(ctx context.Context, id string) (*models.Memo, error) {
	query := `SELECT ` + memoColumns + ` FROM memos WHERE id = $1`
	m, err := scanMemo(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("%w: get memo: %v", common.ErrorRepository, err)
	}
	return m, nil
}

// Put fully upserts the memo record by id.
func (r *PostgresRepository) Put(ctx context.Context, memo *models.Memo) error {
	filesJSON, err := json.Marshal(memo.Files)
	if err != nil {
		return fmt.Errorf("encode files: %w", err)
	}
	tags := memo.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return fmt.Errorf("encode tags: %w", err)
	}

	query := `
		INSERT INTO memos (` + memoColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id)
		DO UPDATE SET
			title = EXCLUDED.title,
			content = EXCLUDED.content,
			prefix = EXCLUDED.prefix,
			priority = EXCLUDED.priority,
			files = EXCLUDED.files,
			file_count = EXCLUDED.file_count,
			summary = EXCLUDED.summary,
			tags = EXCLUDED.tags,
			updated_at = EXCLUDED.updated_at
	`
	_, err = r.db.ExecContext(ctx, query,
		memo.ID, memo.Title, memo.Content, memo.Prefix, memo.Priority,
		filesJSON, memo.FileCount, memo.Summary, tagsJSON,
		memo.CreatedAt, memo.UpdatedAt)
	if err != nil {
		return fmt.Errorf("%w: put memo: %v", common.ErrorRepository, err)
	}
	return nil
}

// Delete removes the record; deleting an absent id succeeds.
func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM memos WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("%w: delete memo: %v", common.ErrorRepository, err)
	}
	return nil
}

// List pages memos newest-updated-first using a keyset cursor.
func (r *PostgresRepository) List(ctx context.Context, f Filter, cursor string, pageSize int) ([]*models.Memo, string, error) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	var conds []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.Priority != nil {
		conds = append(conds, "priority = "+arg(*f.Priority))
	}
	if f.Prefix != "" {
		conds = append(conds, "prefix = "+arg(f.Prefix))
	}
	if f.SearchTerm != "" {
		p := arg("%" + likeEscaper.Replace(f.SearchTerm) + "%")
		conds = append(conds, fmt.Sprintf(
			"(title ILIKE %[1]s ESCAPE '\\' OR content ILIKE %[1]s ESCAPE '\\' OR summary ILIKE %[1]s ESCAPE '\\' OR (tags)::text ILIKE %[1]s ESCAPE '\\')", p))
	}
	if cursor != "" {
		c, err := decodeCursor(cursor)
		if err != nil {
			return nil, "", fmt.Errorf("%w: %v", common.ErrorValidation, err)
		}
		conds = append(conds, fmt.Sprintf("(updated_at, id) < (%s, %s)", arg(c.UpdatedAt), arg(c.ID)))
	}

	query := `SELECT ` + memoColumns + ` FROM memos`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY updated_at DESC, id DESC LIMIT %s", arg(pageSize))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, "", fmt.Errorf("%w: list memos: %v", common.ErrorRepository, err)
	}
	defer rows.Close()

	var result []*models.Memo
	for rows.Next() {
		m, err := scanMemo(rows)
		if err != nil {
			return nil, "", fmt.Errorf("%w: scan memo: %v", common.ErrorRepository, err)
		}
		result = append(result, m)
	}
	if err := rows.Err(); err != nil {
		return nil, "", fmt.Errorf("%w: list memos: %v", common.ErrorRepository, err)
	}

	// A short page means the scan is exhausted.
	next := ""
	if len(result) == pageSize {
		last := result[len(result)-1]
		next = encodeCursor(last.UpdatedAt, last.ID)
	}
	return result, next, nil
}

// UpdateEnrichment patches summary and tags, and fills title only when
// the memo has none. It deliberately leaves updated_at alone: enrichment
// is an additive patch, not a user edit.
func (r *PostgresRepository) UpdateEnrichment(ctx context.Context, id, title, summary string, tags []string) error {
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return fmt.Errorf("encode tags: %w", err)
	}

	query := `
		UPDATE memos SET
			title = CASE WHEN title = '' THEN $2 ELSE title END,
			summary = $3,
			tags = $4
		WHERE id = $1
	`
	res, err := r.db.ExecContext(ctx, query, id, title, summary, tagsJSON)
	if err != nil {
		return fmt.Errorf("%w: update enrichment: %v", common.ErrorRepository, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: rows affected: %v", common.ErrorRepository, err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}

// Search runs a ranked full-text query, best match first with
// updated_at/id as tiebreakers.
func (r *PostgresRepository) Search(ctx context.Context, query string, f Filter, size int) ([]*models.Memo, int, error) {
	if size <= 0 {
		size = 20
	}

	args := []any{query}
	conds := []string{searchVector + " @@ plainto_tsquery('simple', $1)"}
	if f.Priority != nil {
		args = append(args, *f.Priority)
		conds = append(conds, fmt.Sprintf("priority = $%d", len(args)))
	}
	if f.Prefix != "" {
		args = append(args, f.Prefix)
		conds = append(conds, fmt.Sprintf("prefix = $%d", len(args)))
	}
	args = append(args, size)

	sqlQuery := `SELECT ` + memoColumns + `, count(*) OVER () AS total
		FROM memos
		WHERE ` + strings.Join(conds, " AND ") + `
		ORDER BY ts_rank(` + searchVector + `, plainto_tsquery('simple', $1)) DESC,
			updated_at DESC, id DESC
		LIMIT $` + fmt.Sprint(len(args))

	rows, err := r.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: search memos: %v", common.ErrorRepository, err)
	}
	defer rows.Close()

	var result []*models.Memo
	total := 0
	for rows.Next() {
		var m models.Memo
		var filesJSON, tagsJSON []byte
		if err := rows.Scan(
			&m.ID, &m.Title, &m.Content, &m.Prefix, &m.Priority,
			&filesJSON, &m.FileCount, &m.Summary, &tagsJSON,
			&m.CreatedAt, &m.UpdatedAt, &total,
		); err != nil {
			return nil, 0, fmt.Errorf("%w: scan memo: %v", common.ErrorRepository, err)
		}
		if err := json.Unmarshal(filesJSON, &m.Files); err != nil {
			return nil, 0, fmt.Errorf("decode files: %w", err)
		}
		if err := json.Unmarshal(tagsJSON, &m.Tags); err != nil {
			return nil, 0, fmt.Errorf("decode tags: %w", err)
		}
		result = append(result, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("%w: search memos: %v", common.ErrorRepository, err)
	}
	return result, total, nil
}
