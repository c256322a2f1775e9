package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned when a fetched row does not exist.
var ErrNotFound = errors.New("not found")

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// --- users

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, password_hash, avatar_url)
		VALUES ($1, $2, $3, $4)
	`, user.ID, user.Email, user.PasswordHash, user.AvatarURL)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, `
		SELECT id, email, password_hash, avatar_url, created_at FROM users WHERE id=$1
	`, userID))
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, `
		SELECT id, email, password_hash, avatar_url, created_at FROM users WHERE email=$1
	`, email))
}

func (s *PostgresStore) UpdateUserAvatar(ctx context.Context, userID, avatarURL string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET avatar_url=$2 WHERE id=$1`, userID, avatarURL)
	if err != nil {
		return fmt.Errorf("update avatar: %w", err)
	}
	return nil
}

func (s *PostgresStore) scanUser(row *sql.Row) (User, error) {
	var user User
	err := row.Scan(&user.ID, &user.Email, &user.PasswordHash, &user.AvatarURL, &user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("scan user: %w", err)
	}
	return user, nil
}

// --- workspaces

const workspaceColumns = `id, title, icon_id, created_at, owner_id, data, in_trash, banner_url, logo, permissions`

func (s *PostgresStore) CreateWorkspace(ctx context.Context, workspace Workspace) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workspaces (id, title, icon_id, created_at, owner_id, data, in_trash, banner_url, logo, permissions)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, workspace.ID, workspace.Title, workspace.IconID, workspace.CreatedAt, workspace.OwnerID,
		workspace.Data, workspace.InTrash, workspace.BannerURL, workspace.Logo, workspace.Permissions)
	if err != nil {
		return fmt.Errorf("insert workspace: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetWorkspace(ctx context.Context, id string) (Workspace, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+workspaceColumns+` FROM workspaces WHERE id=$1`, id)
	return scanWorkspace(row.Scan)
}

// ListWorkspacesByUser returns workspaces the user owns plus workspaces
// shared with them, ordered by creation time.
func (s *PostgresStore) ListWorkspacesByUser(ctx context.Context, userID string) ([]Workspace, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT w.id, w.title, w.icon_id, w.created_at, w.owner_id, w.data, w.in_trash, w.banner_url, w.logo, w.permissions
		FROM workspaces w
		LEFT JOIN workspace_collaborators wc ON wc.workspace_id = w.id
		WHERE w.owner_id = $1 OR wc.user_id = $1
		ORDER BY w.created_at ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list workspaces: %w", err)
	}
	defer rows.Close()

	var workspaces []Workspace
	for rows.Next() {
		workspace, err := scanWorkspace(rows.Scan)
		if err != nil {
			return nil, err
		}
		workspaces = append(workspaces, workspace)
	}
	return workspaces, rows.Err()
}

func (s *PostgresStore) UpdateWorkspace(ctx context.Context, id string, patch WorkspacePatch) error {
	set, args := patchClauses(map[string]*string{
		"title":       patch.Title,
		"icon_id":     patch.IconID,
		"data":        patch.Data,
		"in_trash":    patch.InTrash,
		"banner_url":  patch.BannerURL,
		"logo":        patch.Logo,
		"permissions": patch.Permissions,
	})
	if len(set) == 0 {
		return nil
	}
	args = append(args, id)
	query := fmt.Sprintf(`UPDATE workspaces SET %s WHERE id=$%d`, strings.Join(set, ", "), len(args))
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update workspace: %w", err)
	}
	return nil
}

// DeleteWorkspace hard-deletes the workspace; folders and files go with it
// via ON DELETE CASCADE.
func (s *PostgresStore) DeleteWorkspace(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM workspaces WHERE id=$1`, id); err != nil {
		return fmt.Errorf("delete workspace: %w", err)
	}
	return nil
}

func scanWorkspace(scan func(...any) error) (Workspace, error) {
	var workspace Workspace
	err := scan(&workspace.ID, &workspace.Title, &workspace.IconID, &workspace.CreatedAt,
		&workspace.OwnerID, &workspace.Data, &workspace.InTrash, &workspace.BannerURL,
		&workspace.Logo, &workspace.Permissions)
	if errors.Is(err, sql.ErrNoRows) {
		return Workspace{}, ErrNotFound
	}
	if err != nil {
		return Workspace{}, fmt.Errorf("scan workspace: %w", err)
	}
	return workspace, nil
}

// --- collaborators

func (s *PostgresStore) AddCollaborator(ctx context.Context, workspaceID, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workspace_collaborators (workspace_id, user_id)
		VALUES ($1, $2)
		ON CONFLICT (workspace_id, user_id) DO NOTHING
	`, workspaceID, userID)
	if err != nil {
		return fmt.Errorf("add collaborator: %w", err)
	}
	return nil
}

func (s *PostgresStore) RemoveCollaborator(ctx context.Context, workspaceID, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM workspace_collaborators WHERE workspace_id=$1 AND user_id=$2
	`, workspaceID, userID)
	if err != nil {
		return fmt.Errorf("remove collaborator: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListCollaborators(ctx context.Context, workspaceID string) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT u.id, u.email, u.password_hash, u.avatar_url, u.created_at
		FROM workspace_collaborators wc
		JOIN users u ON u.id = wc.user_id
		WHERE wc.workspace_id = $1
		ORDER BY wc.added_at ASC
	`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list collaborators: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var user User
		if err := rows.Scan(&user.ID, &user.Email, &user.PasswordHash, &user.AvatarURL, &user.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan collaborator: %w", err)
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

func (s *PostgresStore) IsCollaborator(ctx context.Context, workspaceID, userID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM workspace_collaborators WHERE workspace_id=$1 AND user_id=$2)
	`, workspaceID, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check collaborator: %w", err)
	}
	return exists, nil
}

// --- folders

const folderColumns = `id, workspace_id, title, icon_id, created_at, data, in_trash, banner_url`

func (s *PostgresStore) CreateFolder(ctx context.Context, folder Folder) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO folders (id, workspace_id, title, icon_id, created_at, data, in_trash, banner_url)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, folder.ID, folder.WorkspaceID, folder.Title, folder.IconID, folder.CreatedAt,
		folder.Data, folder.InTrash, folder.BannerURL)
	if err != nil {
		return fmt.Errorf("insert folder: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetFolder(ctx context.Context, id string) (Folder, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+folderColumns+` FROM folders WHERE id=$1`, id)
	return scanFolder(row.Scan)
}

func (s *PostgresStore) ListFolders(ctx context.Context, workspaceID string) ([]Folder, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+folderColumns+` FROM folders WHERE workspace_id=$1 ORDER BY created_at ASC
	`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list folders: %w", err)
	}
	defer rows.Close()

	var folders []Folder
	for rows.Next() {
		folder, err := scanFolder(rows.Scan)
		if err != nil {
			return nil, err
		}
		folders = append(folders, folder)
	}
	return folders, rows.Err()
}

func (s *PostgresStore) UpdateFolder(ctx context.Context, id string, patch FolderPatch) error {
	set, args := patchClauses(map[string]*string{
		"title":      patch.Title,
		"icon_id":    patch.IconID,
		"data":       patch.Data,
		"in_trash":   patch.InTrash,
		"banner_url": patch.BannerURL,
	})
	if len(set) == 0 {
		return nil
	}
	args = append(args, id)
	query := fmt.Sprintf(`UPDATE folders SET %s WHERE id=$%d`, strings.Join(set, ", "), len(args))
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update folder: %w", err)
	}
	return nil
}

// DeleteFolder hard-deletes the folder; contained files cascade.
func (s *PostgresStore) DeleteFolder(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM folders WHERE id=$1`, id); err != nil {
		return fmt.Errorf("delete folder: %w", err)
	}
	return nil
}

func scanFolder(scan func(...any) error) (Folder, error) {
	var folder Folder
	err := scan(&folder.ID, &folder.WorkspaceID, &folder.Title, &folder.IconID,
		&folder.CreatedAt, &folder.Data, &folder.InTrash, &folder.BannerURL)
	if errors.Is(err, sql.ErrNoRows) {
		return Folder{}, ErrNotFound
	}
	if err != nil {
		return Folder{}, fmt.Errorf("scan folder: %w", err)
	}
	return folder, nil
}

// --- files

const fileColumns = `id, folder_id, workspace_id, title, icon_id, created_at, data, in_trash, banner_url`

func (s *PostgresStore) CreateFile(ctx context.Context, file File) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO files (id, folder_id, workspace_id, title, icon_id, created_at, data, in_trash, banner_url)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, file.ID, file.FolderID, file.WorkspaceID, file.Title, file.IconID, file.CreatedAt,
		file.Data, file.InTrash, file.BannerURL)
	if err != nil {
		return fmt.Errorf("insert file: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetFile(ctx context.Context, id string) (File, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+fileColumns+` FROM files WHERE id=$1`, id)
	return scanFile(row.Scan)
}

func (s *PostgresStore) ListFiles(ctx context.Context, folderID string) ([]File, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+fileColumns+` FROM files WHERE folder_id=$1 ORDER BY created_at ASC
	`, folderID)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	defer rows.Close()

	var files []File
	for rows.Next() {
		file, err := scanFile(rows.Scan)
		if err != nil {
			return nil, err
		}
		files = append(files, file)
	}
	return files, rows.Err()
}

func (s *PostgresStore) UpdateFile(ctx context.Context, id string, patch FilePatch) error {
	set, args := patchClauses(map[string]*string{
		"title":      patch.Title,
		"icon_id":    patch.IconID,
		"data":       patch.Data,
		"in_trash":   patch.InTrash,
		"banner_url": patch.BannerURL,
	})
	if len(set) == 0 {
		return nil
	}
	args = append(args, id)
	query := fmt.Sprintf(`UPDATE files SET %s WHERE id=$%d`, strings.Join(set, ", "), len(args))
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update file: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteFile(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM files WHERE id=$1`, id); err != nil {
		return fmt.Errorf("delete file: %w", err)
	}
	return nil
}

func scanFile(scan func(...any) error) (File, error) {
	var file File
	err := scan(&file.ID, &file.FolderID, &file.WorkspaceID, &file.Title, &file.IconID,
		&file.CreatedAt, &file.Data, &file.InTrash, &file.BannerURL)
	if errors.Is(err, sql.ErrNoRows) {
		return File{}, ErrNotFound
	}
	if err != nil {
		return File{}, fmt.Errorf("scan file: %w", err)
	}
	return file, nil
}

// patchClauses builds SET fragments for the non-nil fields of a patch,
// preserving a stable column order so queries are deterministic.
func patchClauses(fields map[string]*string) ([]string, []any) {
	order := []string{"title", "icon_id", "data", "in_trash", "banner_url", "logo", "permissions"}
	var set []string
	var args []any
	for _, column := range order {
		value, ok := fields[column]
		if !ok || value == nil {
			continue
		}
		args = append(args, *value)
		set = append(set, fmt.Sprintf("%s=$%d", column, len(args)))
	}
	return set, args
}
