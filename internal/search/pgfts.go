package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true — if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search executes a UNION ALL query across workspaces, folders and files
// using plainto_tsquery and ts_rank, with ts_headline for file snippets.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	tsQuery := "plainto_tsquery('english', $1)"
	args := []any{q.Text}
	argN := 2

	var subQueries []string

	if (q.FilterType == "" || q.FilterType == ResultWorkspace) && q.FilterWorkspaceID == "" {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'workspace'::text AS type, w.id, w.title,
				''::text AS snippet,
				w.id AS workspace_id, ''::text AS folder_id,
				ts_rank(w.fts, %s) AS rank
			FROM workspaces w
			WHERE w.fts @@ %s`, tsQuery, tsQuery))
	}

	if q.FilterType == "" || q.FilterType == ResultFolder {
		folderWhere := "fo.fts @@ " + tsQuery
		if q.FilterWorkspaceID != "" {
			folderWhere += fmt.Sprintf(" AND fo.workspace_id = $%d", argN)
			args = append(args, q.FilterWorkspaceID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'folder'::text AS type, fo.id, fo.title,
				''::text AS snippet,
				fo.workspace_id, ''::text AS folder_id,
				ts_rank(fo.fts, %s) AS rank
			FROM folders fo
			WHERE %s`, tsQuery, folderWhere))
	}

	if q.FilterType == "" || q.FilterType == ResultFile {
		fileWhere := "fi.fts @@ " + tsQuery
		if q.FilterWorkspaceID != "" {
			fileWhere += fmt.Sprintf(" AND fi.workspace_id = $%d", argN)
			args = append(args, q.FilterWorkspaceID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'file'::text AS type, fi.id, fi.title,
				ts_headline('english', coalesce(fi.data, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				fi.workspace_id, fi.folder_id,
				ts_rank(fi.fts, %s) AS rank
			FROM files fi
			WHERE %s`, tsQuery, tsQuery, fileWhere))
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub",
		strings.Join(subQueries, " UNION ALL "))

	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet, workspace_id, folder_id
		FROM (%s) sub
		ORDER BY rank DESC
		LIMIT %d OFFSET %d`,
		strings.Join(subQueries, " UNION ALL "),
		limit, offset)

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.WorkspaceID, &r.FolderID); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all searchable records for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]WorkspaceRecord, []FolderRecord, []FileRecord, error) {
	workspaceRows, err := p.db.QueryContext(ctx, `
		SELECT id, title, owner_id
		FROM workspaces
	`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load workspaces: %w", err)
	}
	defer workspaceRows.Close()

	workspaces := make([]WorkspaceRecord, 0)
	for workspaceRows.Next() {
		var w WorkspaceRecord
		if err := workspaceRows.Scan(&w.ID, &w.Title, &w.OwnerID); err != nil {
			return nil, nil, nil, fmt.Errorf("scan workspace: %w", err)
		}
		workspaces = append(workspaces, w)
	}
	if err := workspaceRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate workspaces: %w", err)
	}

	folderRows, err := p.db.QueryContext(ctx, `
		SELECT id, title, workspace_id
		FROM folders
	`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load folders: %w", err)
	}
	defer folderRows.Close()

	folders := make([]FolderRecord, 0)
	for folderRows.Next() {
		var f FolderRecord
		if err := folderRows.Scan(&f.ID, &f.Title, &f.WorkspaceID); err != nil {
			return nil, nil, nil, fmt.Errorf("scan folder: %w", err)
		}
		folders = append(folders, f)
	}
	if err := folderRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate folders: %w", err)
	}

	fileRows, err := p.db.QueryContext(ctx, `
		SELECT id, title, coalesce(data, ''), folder_id, workspace_id
		FROM files
	`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load files: %w", err)
	}
	defer fileRows.Close()

	files := make([]FileRecord, 0)
	for fileRows.Next() {
		var f FileRecord
		if err := fileRows.Scan(&f.ID, &f.Title, &f.Body, &f.FolderID, &f.WorkspaceID); err != nil {
			return nil, nil, nil, fmt.Errorf("scan file: %w", err)
		}
		files = append(files, f)
	}
	if err := fileRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate files: %w", err)
	}

	return workspaces, folders, files, nil
}
