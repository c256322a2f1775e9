package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"inkwell/internal/accounts"
	"inkwell/internal/auth"
	"inkwell/internal/config"
	"inkwell/internal/email"
	"inkwell/internal/export"
	"inkwell/internal/history"
	"inkwell/internal/media"
	"inkwell/internal/rbac"
	"inkwell/internal/search"
	"inkwell/internal/session"
	"inkwell/internal/store"
	"inkwell/internal/util"
)

// Session is an authenticated caller: a parsed access token plus the
// refresh token minted alongside it (the latter only on issue).
type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	Email        string
	JTI          string
	ExpiresAt    time.Time
}

// dataStore is the durable persistence surface the service needs. The
// Postgres store satisfies it; tests substitute function-field fakes.
type dataStore interface {
	Ping(ctx context.Context) error

	CreateUser(ctx context.Context, user store.User) error
	GetUserByID(ctx context.Context, userID string) (store.User, error)
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	UpdateUserAvatar(ctx context.Context, userID, avatarURL string) error

	CreateWorkspace(ctx context.Context, workspace store.Workspace) error
	GetWorkspace(ctx context.Context, id string) (store.Workspace, error)
	ListWorkspacesByUser(ctx context.Context, userID string) ([]store.Workspace, error)
	UpdateWorkspace(ctx context.Context, id string, patch store.WorkspacePatch) error
	DeleteWorkspace(ctx context.Context, id string) error

	AddCollaborator(ctx context.Context, workspaceID, userID string) error
	RemoveCollaborator(ctx context.Context, workspaceID, userID string) error
	ListCollaborators(ctx context.Context, workspaceID string) ([]store.User, error)
	IsCollaborator(ctx context.Context, workspaceID, userID string) (bool, error)

	CreateFolder(ctx context.Context, folder store.Folder) error
	GetFolder(ctx context.Context, id string) (store.Folder, error)
	ListFolders(ctx context.Context, workspaceID string) ([]store.Folder, error)
	UpdateFolder(ctx context.Context, id string, patch store.FolderPatch) error
	DeleteFolder(ctx context.Context, id string) error

	CreateFile(ctx context.Context, file store.File) error
	GetFile(ctx context.Context, id string) (store.File, error)
	ListFiles(ctx context.Context, folderID string) ([]store.File, error)
	UpdateFile(ctx context.Context, id string, patch store.FilePatch) error
	DeleteFile(ctx context.Context, id string) error
}

// refreshStore holds refresh sessions keyed by token hash.
type refreshStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash, userID, email string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (session.TokenData, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
	Ping(ctx context.Context) error
}

// Options carries the optional backing services. Nil fields disable the
// corresponding feature; the HTTP layer answers 503 for them.
type Options struct {
	Search  *search.Service
	Media   *media.Service
	History *history.Service
	Export  *export.Service
	Email   *email.Service
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions refreshStore
	accounts *accounts.Service
	search   *search.Service
	media    *media.Service
	history  *history.Service
	export   *export.Service
	email    *email.Service
}

func New(cfg config.Config, st dataStore, sessions refreshStore, opts Options) *Service {
	if opts.Export == nil {
		opts.Export = export.NewService()
	}
	return &Service{
		cfg:      cfg,
		store:    st,
		sessions: sessions,
		accounts: accounts.NewService(st),
		search:   opts.Search,
		media:    opts.Media,
		history:  opts.History,
		export:   opts.Export,
		email:    opts.Email,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) PingSessions(ctx context.Context) error {
	if s.sessions == nil {
		return nil
	}
	return s.sessions.Ping(ctx)
}

// --- auth & sessions

func (s *Service) SignUp(ctx context.Context, emailAddr, password string) (Session, error) {
	user, err := s.accounts.SignUp(ctx, accounts.SignUpRequest{Email: emailAddr, Password: password})
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) SignIn(ctx context.Context, emailAddr, password string) (Session, error) {
	user, err := s.accounts.SignIn(ctx, emailAddr, password)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

// Refresh rotates a refresh token: the presented token is revoked and a
// fresh pair is issued.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	data, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	user, err := s.store.GetUserByID(ctx, data.UserID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID()

	token, err := auth.IssueToken([]byte(s.cfg.TokenSecret), auth.Claims{
		Sub:   user.ID,
		Email: user.Email,
		JTI:   jti,
		Exp:   expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID() + util.NewID()
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, user.Email, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		Email:        user.Email,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.TokenSecret), token)
	if err != nil {
		return Session{}, err
	}
	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}
	return Session{
		Token:     token,
		UserID:    user.ID,
		Email:     user.Email,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

func (s *Service) Profile(ctx context.Context, userID string) (map[string]any, error) {
	user, err := s.accounts.Profile(ctx, userID)
	if err != nil {
		return nil, err
	}
	return userPayload(user), nil
}

func (s *Service) SetAvatar(ctx context.Context, userID, filename, contentType string, body io.Reader, size int64) (map[string]any, error) {
	if s.media == nil {
		return nil, domainError(http.StatusServiceUnavailable, "MEDIA_UNAVAILABLE", "Object storage not configured", nil)
	}
	user, err := s.accounts.Profile(ctx, userID)
	if err != nil {
		return nil, err
	}
	url, err := s.media.UploadAvatar(ctx, filename, contentType, body, size)
	if err != nil {
		return nil, fmt.Errorf("upload avatar: %w", err)
	}
	if err := s.accounts.SetAvatar(ctx, userID, url); err != nil {
		return nil, err
	}
	if user.AvatarURL != "" {
		if err := s.media.Remove(ctx, user.AvatarURL); err != nil {
			log.Printf("media: remove old avatar: %v", err)
		}
	}
	return map[string]any{"avatarUrl": url}, nil
}

// --- workspaces

// workspaceRole loads a workspace and computes the caller's role on it.
func (s *Service) workspaceRole(ctx context.Context, workspaceID, userID string) (store.Workspace, rbac.Role, error) {
	workspace, err := s.store.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return store.Workspace{}, rbac.RoleNone, err
	}
	isCollaborator := false
	if workspace.OwnerID != userID {
		isCollaborator, err = s.store.IsCollaborator(ctx, workspaceID, userID)
		if err != nil {
			return store.Workspace{}, rbac.RoleNone, err
		}
	}
	return workspace, rbac.RoleFor(userID, workspace.OwnerID, workspace.Permissions, isCollaborator), nil
}

func (s *Service) requireRole(ctx context.Context, workspaceID, userID string, action rbac.Action) (store.Workspace, error) {
	workspace, role, err := s.workspaceRole(ctx, workspaceID, userID)
	if err != nil {
		return store.Workspace{}, err
	}
	if !rbac.Can(role, action) {
		return store.Workspace{}, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	return workspace, nil
}

// ListWorkspaces splits the caller's workspaces into the three sidebar
// groups: owned private, owned shared, and shared with them.
func (s *Service) ListWorkspaces(ctx context.Context, userID string) (map[string]any, error) {
	workspaces, err := s.store.ListWorkspacesByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	ownedPrivate := make([]map[string]any, 0)
	ownedShared := make([]map[string]any, 0)
	collaborating := make([]map[string]any, 0)
	for _, workspace := range workspaces {
		payload := workspacePayload(workspace)
		switch {
		case workspace.OwnerID == userID && workspace.Permissions == rbac.PermissionShared:
			ownedShared = append(ownedShared, payload)
		case workspace.OwnerID == userID:
			ownedPrivate = append(ownedPrivate, payload)
		default:
			collaborating = append(collaborating, payload)
		}
	}
	return map[string]any{
		"private":       ownedPrivate,
		"shared":        ownedShared,
		"collaborating": collaborating,
	}, nil
}

type CreateWorkspaceInput struct {
	ID     string
	Title  string
	IconID string
	Data   *string
	Logo   *string
}

func (s *Service) CreateWorkspace(ctx context.Context, userID string, input CreateWorkspaceInput) (map[string]any, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "title is required", nil)
	}
	id := strings.TrimSpace(input.ID)
	if id == "" {
		id = util.NewID()
	}
	workspace := store.Workspace{
		ID:          id,
		Title:       title,
		IconID:      input.IconID,
		OwnerID:     userID,
		Data:        input.Data,
		Logo:        input.Logo,
		Permissions: rbac.PermissionPrivate,
	}
	if err := s.store.CreateWorkspace(ctx, workspace); err != nil {
		return nil, err
	}
	if s.search != nil {
		s.search.IndexWorkspace(search.WorkspaceRecord{ID: id, Title: title, OwnerID: userID})
	}
	created, err := s.store.GetWorkspace(ctx, id)
	if err != nil {
		return nil, err
	}
	return workspacePayload(created), nil
}

func (s *Service) GetWorkspace(ctx context.Context, workspaceID, userID string) (map[string]any, error) {
	workspace, role, err := s.workspaceRole(ctx, workspaceID, userID)
	if err != nil {
		return nil, err
	}
	if !rbac.Can(role, rbac.ActionRead) {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	collaborators, err := s.store.ListCollaborators(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	payload := workspacePayload(workspace)
	payload["role"] = string(role)
	payload["collaborators"] = userPayloads(collaborators)
	return payload, nil
}

type UpdateWorkspaceInput struct {
	Title       *string `json:"title"`
	IconID      *string `json:"iconId"`
	Data        *string `json:"data"`
	InTrash     *string `json:"inTrash"`
	BannerURL   *string `json:"bannerUrl"`
	Logo        *string `json:"logo"`
	Permissions *string `json:"permissions"`
}

func (s *Service) UpdateWorkspace(ctx context.Context, workspaceID, userID string, input UpdateWorkspaceInput) (map[string]any, error) {
	action := rbac.ActionWrite
	if input.Permissions != nil {
		action = rbac.ActionShare
	}
	if _, err := s.requireRole(ctx, workspaceID, userID, action); err != nil {
		return nil, err
	}
	if input.Permissions != nil && *input.Permissions != rbac.PermissionPrivate && *input.Permissions != rbac.PermissionShared {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "permissions must be private or shared", nil)
	}
	patch := store.WorkspacePatch{
		Title:       input.Title,
		IconID:      input.IconID,
		Data:        input.Data,
		InTrash:     input.InTrash,
		BannerURL:   input.BannerURL,
		Logo:        input.Logo,
		Permissions: input.Permissions,
	}
	if err := s.store.UpdateWorkspace(ctx, workspaceID, patch); err != nil {
		return nil, err
	}
	updated, err := s.store.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	if s.search != nil && input.Title != nil {
		s.search.IndexWorkspace(search.WorkspaceRecord{ID: updated.ID, Title: updated.Title, OwnerID: updated.OwnerID})
	}
	return workspacePayload(updated), nil
}

func (s *Service) DeleteWorkspace(ctx context.Context, workspaceID, userID string) error {
	workspace, err := s.requireRole(ctx, workspaceID, userID, rbac.ActionDelete)
	if err != nil {
		return err
	}

	// Collect folder/file ids before the cascade takes them out.
	folders, err := s.store.ListFolders(ctx, workspaceID)
	if err != nil {
		return err
	}
	var fileIDs []string
	folderIDs := make([]string, 0, len(folders))
	for _, folder := range folders {
		folderIDs = append(folderIDs, folder.ID)
		files, err := s.store.ListFiles(ctx, folder.ID)
		if err != nil {
			return err
		}
		for _, file := range files {
			fileIDs = append(fileIDs, file.ID)
		}
	}

	if err := s.store.DeleteWorkspace(ctx, workspaceID); err != nil {
		return err
	}

	if s.search != nil {
		s.search.DeleteWorkspace(workspaceID)
		for _, id := range folderIDs {
			s.search.DeleteFolder(id)
		}
		for _, id := range fileIDs {
			s.search.DeleteFile(id)
		}
	}
	if s.media != nil {
		if workspace.Logo != nil && *workspace.Logo != "" {
			if err := s.media.Remove(ctx, *workspace.Logo); err != nil {
				log.Printf("media: remove workspace logo: %v", err)
			}
		}
		if workspace.BannerURL != "" {
			if err := s.media.Remove(ctx, workspace.BannerURL); err != nil {
				log.Printf("media: remove workspace banner: %v", err)
			}
		}
	}
	return nil
}

// --- collaborators

func (s *Service) AddCollaborator(ctx context.Context, workspaceID, userID, collaboratorEmail string) (map[string]any, error) {
	workspace, err := s.requireRole(ctx, workspaceID, userID, rbac.ActionShare)
	if err != nil {
		return nil, err
	}
	collaborator, err := s.store.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(collaboratorEmail)))
	if errors.Is(err, store.ErrNotFound) {
		return nil, domainError(http.StatusNotFound, "USER_NOT_FOUND", "No account with that email", nil)
	}
	if err != nil {
		return nil, err
	}
	if collaborator.ID == workspace.OwnerID {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Owner is already a member", nil)
	}
	if err := s.store.AddCollaborator(ctx, workspaceID, collaborator.ID); err != nil {
		return nil, err
	}
	if workspace.Permissions != rbac.PermissionShared {
		shared := rbac.PermissionShared
		if err := s.store.UpdateWorkspace(ctx, workspaceID, store.WorkspacePatch{Permissions: &shared}); err != nil {
			return nil, err
		}
	}

	if s.email != nil && s.email.IsConfigured() {
		inviter, err := s.store.GetUserByID(ctx, userID)
		if err == nil {
			workspaceURL := fmt.Sprintf("%s/dashboard/%s", strings.TrimRight(s.cfg.CORSOrigin, "/"), workspaceID)
			go func() {
				if err := s.email.SendInvitationEmail(collaborator.Email, inviter.Email, workspace.Title, workspaceURL); err != nil {
					log.Printf("email: invitation to %s: %v", collaborator.Email, err)
				}
			}()
		}
	}

	collaborators, err := s.store.ListCollaborators(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"collaborators": userPayloads(collaborators)}, nil
}

func (s *Service) RemoveCollaborator(ctx context.Context, workspaceID, userID, collaboratorID string) (map[string]any, error) {
	if _, err := s.requireRole(ctx, workspaceID, userID, rbac.ActionShare); err != nil {
		return nil, err
	}
	if err := s.store.RemoveCollaborator(ctx, workspaceID, collaboratorID); err != nil {
		return nil, err
	}
	collaborators, err := s.store.ListCollaborators(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"collaborators": userPayloads(collaborators)}, nil
}

func (s *Service) ListCollaborators(ctx context.Context, workspaceID, userID string) (map[string]any, error) {
	if _, err := s.requireRole(ctx, workspaceID, userID, rbac.ActionRead); err != nil {
		return nil, err
	}
	collaborators, err := s.store.ListCollaborators(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"collaborators": userPayloads(collaborators)}, nil
}

// --- folders

type CreateFolderInput struct {
	ID     string
	Title  string
	IconID string
	Data   *string
}

func (s *Service) CreateFolder(ctx context.Context, workspaceID, userID string, input CreateFolderInput) (map[string]any, error) {
	if _, err := s.requireRole(ctx, workspaceID, userID, rbac.ActionWrite); err != nil {
		return nil, err
	}
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "title is required", nil)
	}
	id := strings.TrimSpace(input.ID)
	if id == "" {
		id = util.NewID()
	}
	folder := store.Folder{
		ID:          id,
		WorkspaceID: workspaceID,
		Title:       title,
		IconID:      input.IconID,
		Data:        input.Data,
	}
	if err := s.store.CreateFolder(ctx, folder); err != nil {
		return nil, err
	}
	if s.search != nil {
		s.search.IndexFolder(search.FolderRecord{ID: id, Title: title, WorkspaceID: workspaceID})
	}
	created, err := s.store.GetFolder(ctx, id)
	if err != nil {
		return nil, err
	}
	return folderPayload(created), nil
}

func (s *Service) ListFolders(ctx context.Context, workspaceID, userID string) (map[string]any, error) {
	if _, err := s.requireRole(ctx, workspaceID, userID, rbac.ActionRead); err != nil {
		return nil, err
	}
	folders, err := s.store.ListFolders(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(folders))
	for _, folder := range folders {
		items = append(items, folderPayload(folder))
	}
	return map[string]any{"folders": items}, nil
}

func (s *Service) GetFolder(ctx context.Context, folderID, userID string) (map[string]any, error) {
	folder, err := s.store.GetFolder(ctx, folderID)
	if err != nil {
		return nil, err
	}
	if _, err := s.requireRole(ctx, folder.WorkspaceID, userID, rbac.ActionRead); err != nil {
		return nil, err
	}
	return folderPayload(folder), nil
}

type UpdateFolderInput struct {
	Title     *string `json:"title"`
	IconID    *string `json:"iconId"`
	Data      *string `json:"data"`
	BannerURL *string `json:"bannerUrl"`
}

func (s *Service) UpdateFolder(ctx context.Context, folderID, userID string, input UpdateFolderInput) (map[string]any, error) {
	folder, err := s.store.GetFolder(ctx, folderID)
	if err != nil {
		return nil, err
	}
	if _, err := s.requireRole(ctx, folder.WorkspaceID, userID, rbac.ActionWrite); err != nil {
		return nil, err
	}
	patch := store.FolderPatch{
		Title:     input.Title,
		IconID:    input.IconID,
		Data:      input.Data,
		BannerURL: input.BannerURL,
	}
	if err := s.store.UpdateFolder(ctx, folderID, patch); err != nil {
		return nil, err
	}
	updated, err := s.store.GetFolder(ctx, folderID)
	if err != nil {
		return nil, err
	}
	if s.search != nil && input.Title != nil {
		s.search.IndexFolder(search.FolderRecord{ID: updated.ID, Title: updated.Title, WorkspaceID: updated.WorkspaceID})
	}
	return folderPayload(updated), nil
}

// TrashFolder soft-deletes: the row stays, inTrash records who did it.
func (s *Service) TrashFolder(ctx context.Context, folderID string, session Session) (map[string]any, error) {
	return s.setFolderTrash(ctx, folderID, session.UserID, trashMarker(session.Email))
}

func (s *Service) RestoreFolder(ctx context.Context, folderID, userID string) (map[string]any, error) {
	return s.setFolderTrash(ctx, folderID, userID, "")
}

func (s *Service) setFolderTrash(ctx context.Context, folderID, userID, marker string) (map[string]any, error) {
	folder, err := s.store.GetFolder(ctx, folderID)
	if err != nil {
		return nil, err
	}
	if _, err := s.requireRole(ctx, folder.WorkspaceID, userID, rbac.ActionWrite); err != nil {
		return nil, err
	}
	if err := s.store.UpdateFolder(ctx, folderID, store.FolderPatch{InTrash: &marker}); err != nil {
		return nil, err
	}
	updated, err := s.store.GetFolder(ctx, folderID)
	if err != nil {
		return nil, err
	}
	return folderPayload(updated), nil
}

func (s *Service) DeleteFolder(ctx context.Context, folderID, userID string) error {
	folder, err := s.store.GetFolder(ctx, folderID)
	if err != nil {
		return err
	}
	if _, err := s.requireRole(ctx, folder.WorkspaceID, userID, rbac.ActionDelete); err != nil {
		return err
	}
	files, err := s.store.ListFiles(ctx, folderID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteFolder(ctx, folderID); err != nil {
		return err
	}
	if s.search != nil {
		s.search.DeleteFolder(folderID)
		for _, file := range files {
			s.search.DeleteFile(file.ID)
		}
	}
	return nil
}

// --- files

type CreateFileInput struct {
	ID     string
	Title  string
	IconID string
	Data   *string
}

func (s *Service) CreateFile(ctx context.Context, folderID, userID string, input CreateFileInput) (map[string]any, error) {
	folder, err := s.store.GetFolder(ctx, folderID)
	if err != nil {
		return nil, err
	}
	if _, err := s.requireRole(ctx, folder.WorkspaceID, userID, rbac.ActionWrite); err != nil {
		return nil, err
	}
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "title is required", nil)
	}
	id := strings.TrimSpace(input.ID)
	if id == "" {
		id = util.NewID()
	}
	file := store.File{
		ID:          id,
		FolderID:    folderID,
		WorkspaceID: folder.WorkspaceID,
		Title:       title,
		IconID:      input.IconID,
		Data:        input.Data,
	}
	if err := s.store.CreateFile(ctx, file); err != nil {
		return nil, err
	}
	s.indexFile(file)
	created, err := s.store.GetFile(ctx, id)
	if err != nil {
		return nil, err
	}
	return filePayload(created), nil
}

func (s *Service) ListFiles(ctx context.Context, folderID, userID string) (map[string]any, error) {
	folder, err := s.store.GetFolder(ctx, folderID)
	if err != nil {
		return nil, err
	}
	if _, err := s.requireRole(ctx, folder.WorkspaceID, userID, rbac.ActionRead); err != nil {
		return nil, err
	}
	files, err := s.store.ListFiles(ctx, folderID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(files))
	for _, file := range files {
		items = append(items, filePayload(file))
	}
	return map[string]any{"files": items}, nil
}

func (s *Service) GetFile(ctx context.Context, fileID, userID string) (map[string]any, error) {
	file, err := s.store.GetFile(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if _, err := s.requireRole(ctx, file.WorkspaceID, userID, rbac.ActionRead); err != nil {
		return nil, err
	}
	return filePayload(file), nil
}

type UpdateFileInput struct {
	Title     *string `json:"title"`
	IconID    *string `json:"iconId"`
	Data      *string `json:"data"`
	BannerURL *string `json:"bannerUrl"`
}

func (s *Service) UpdateFile(ctx context.Context, fileID string, session Session, input UpdateFileInput) (map[string]any, error) {
	file, err := s.store.GetFile(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if _, err := s.requireRole(ctx, file.WorkspaceID, session.UserID, rbac.ActionWrite); err != nil {
		return nil, err
	}
	patch := store.FilePatch{
		Title:     input.Title,
		IconID:    input.IconID,
		Data:      input.Data,
		BannerURL: input.BannerURL,
	}
	if err := s.store.UpdateFile(ctx, fileID, patch); err != nil {
		return nil, err
	}
	updated, err := s.store.GetFile(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if input.Title != nil || input.Data != nil {
		s.indexFile(updated)
	}
	if s.history != nil && input.Data != nil {
		if err := s.history.RecordVersion(ctx, updated, session.Email); err != nil {
			log.Printf("history: record version for file %s: %v", fileID, err)
		}
	}
	return filePayload(updated), nil
}

func (s *Service) TrashFile(ctx context.Context, fileID string, session Session) (map[string]any, error) {
	return s.setFileTrash(ctx, fileID, session.UserID, trashMarker(session.Email))
}

func (s *Service) RestoreFile(ctx context.Context, fileID, userID string) (map[string]any, error) {
	return s.setFileTrash(ctx, fileID, userID, "")
}

func (s *Service) setFileTrash(ctx context.Context, fileID, userID, marker string) (map[string]any, error) {
	file, err := s.store.GetFile(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if _, err := s.requireRole(ctx, file.WorkspaceID, userID, rbac.ActionWrite); err != nil {
		return nil, err
	}
	if err := s.store.UpdateFile(ctx, fileID, store.FilePatch{InTrash: &marker}); err != nil {
		return nil, err
	}
	updated, err := s.store.GetFile(ctx, fileID)
	if err != nil {
		return nil, err
	}
	return filePayload(updated), nil
}

func (s *Service) DeleteFile(ctx context.Context, fileID, userID string) error {
	file, err := s.store.GetFile(ctx, fileID)
	if err != nil {
		return err
	}
	if _, err := s.requireRole(ctx, file.WorkspaceID, userID, rbac.ActionDelete); err != nil {
		return err
	}
	if err := s.store.DeleteFile(ctx, fileID); err != nil {
		return err
	}
	if s.search != nil {
		s.search.DeleteFile(fileID)
	}
	return nil
}

func (s *Service) indexFile(file store.File) {
	if s.search == nil {
		return
	}
	body := ""
	if file.Data != nil {
		body = export.DeltaToText(*file.Data)
	}
	s.search.IndexFile(search.FileRecord{
		ID:          file.ID,
		Title:       file.Title,
		Body:        body,
		FolderID:    file.FolderID,
		WorkspaceID: file.WorkspaceID,
	})
}

// --- search

func (s *Service) Search(ctx context.Context, userID, text, filterType, workspaceID string, limit, offset int) (search.Response, error) {
	if s.search == nil {
		return search.Response{}, domainError(http.StatusServiceUnavailable, "SEARCH_UNAVAILABLE", "Search not configured", nil)
	}
	if strings.TrimSpace(workspaceID) == "" {
		return search.Response{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "workspaceId is required", nil)
	}
	if _, err := s.requireRole(ctx, workspaceID, userID, rbac.ActionRead); err != nil {
		return search.Response{}, err
	}
	return s.search.Search(search.Query{
		Text:              text,
		FilterType:        search.ResultType(filterType),
		FilterWorkspaceID: workspaceID,
		Limit:             limit,
		Offset:            offset,
	}), nil
}

func (s *Service) ReindexSearch() error {
	if s.search == nil {
		return domainError(http.StatusServiceUnavailable, "SEARCH_UNAVAILABLE", "Search not configured", nil)
	}
	go s.search.ReindexAllFromPG(context.Background())
	return nil
}

// --- export & versions

func (s *Service) ExportFile(ctx context.Context, fileID, userID, format string) (*export.Result, error) {
	file, err := s.store.GetFile(ctx, fileID)
	if err != nil {
		return nil, err
	}
	workspace, err := s.requireRole(ctx, file.WorkspaceID, userID, rbac.ActionRead)
	if err != nil {
		return nil, err
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	data := ""
	if file.Data != nil {
		data = *file.Data
	}
	doc := export.Document{
		Title:          file.Title,
		WorkspaceTitle: workspace.Title,
		Author:         user.Email,
		UpdatedAt:      time.Now(),
		Data:           data,
	}
	switch export.Format(format) {
	case export.FormatHTML, export.FormatMarkdown, export.FormatPDF, export.FormatDOCX:
		return s.export.Export(doc, export.Format(format))
	default:
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "format must be html, markdown, pdf or docx", nil)
	}
}

func (s *Service) FileVersions(ctx context.Context, fileID, userID string, limit int) (map[string]any, error) {
	if s.history == nil {
		return nil, domainError(http.StatusServiceUnavailable, "HISTORY_UNAVAILABLE", "Version history not configured", nil)
	}
	file, err := s.store.GetFile(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if _, err := s.requireRole(ctx, file.WorkspaceID, userID, rbac.ActionRead); err != nil {
		return nil, err
	}
	versions, err := s.history.Versions(fileID, limit)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(versions))
	for _, version := range versions {
		items = append(items, map[string]any{
			"hash":      version.Hash,
			"message":   version.Message,
			"author":    version.Author,
			"createdAt": version.CreatedAt,
		})
	}
	return map[string]any{"versions": items}, nil
}

func (s *Service) FileVersionContent(ctx context.Context, fileID, userID, hash string) (map[string]any, error) {
	if s.history == nil {
		return nil, domainError(http.StatusServiceUnavailable, "HISTORY_UNAVAILABLE", "Version history not configured", nil)
	}
	file, err := s.store.GetFile(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if _, err := s.requireRole(ctx, file.WorkspaceID, userID, rbac.ActionRead); err != nil {
		return nil, err
	}
	content, err := s.history.VersionContent(fileID, hash)
	if err != nil {
		return nil, err
	}
	return map[string]any{"title": content.Title, "data": content.Data}, nil
}

// --- uploads

func (s *Service) UploadWorkspaceLogo(ctx context.Context, workspaceID, userID, filename, contentType string, body io.Reader, size int64) (map[string]any, error) {
	if s.media == nil {
		return nil, domainError(http.StatusServiceUnavailable, "MEDIA_UNAVAILABLE", "Object storage not configured", nil)
	}
	if _, err := s.requireRole(ctx, workspaceID, userID, rbac.ActionWrite); err != nil {
		return nil, err
	}
	url, err := s.media.UploadLogo(ctx, filename, contentType, body, size)
	if err != nil {
		return nil, fmt.Errorf("upload logo: %w", err)
	}
	if err := s.store.UpdateWorkspace(ctx, workspaceID, store.WorkspacePatch{Logo: &url}); err != nil {
		return nil, err
	}
	return map[string]any{"logo": url}, nil
}

func (s *Service) UploadWorkspaceBanner(ctx context.Context, workspaceID, userID, filename, contentType string, body io.Reader, size int64) (map[string]any, error) {
	if s.media == nil {
		return nil, domainError(http.StatusServiceUnavailable, "MEDIA_UNAVAILABLE", "Object storage not configured", nil)
	}
	if _, err := s.requireRole(ctx, workspaceID, userID, rbac.ActionWrite); err != nil {
		return nil, err
	}
	url, err := s.media.UploadBanner(ctx, filename, contentType, body, size)
	if err != nil {
		return nil, fmt.Errorf("upload banner: %w", err)
	}
	if err := s.store.UpdateWorkspace(ctx, workspaceID, store.WorkspacePatch{BannerURL: &url}); err != nil {
		return nil, err
	}
	return map[string]any{"bannerUrl": url}, nil
}

func (s *Service) UploadFolderBanner(ctx context.Context, folderID, userID, filename, contentType string, body io.Reader, size int64) (map[string]any, error) {
	if s.media == nil {
		return nil, domainError(http.StatusServiceUnavailable, "MEDIA_UNAVAILABLE", "Object storage not configured", nil)
	}
	folder, err := s.store.GetFolder(ctx, folderID)
	if err != nil {
		return nil, err
	}
	if _, err := s.requireRole(ctx, folder.WorkspaceID, userID, rbac.ActionWrite); err != nil {
		return nil, err
	}
	url, err := s.media.UploadBanner(ctx, filename, contentType, body, size)
	if err != nil {
		return nil, fmt.Errorf("upload banner: %w", err)
	}
	if err := s.store.UpdateFolder(ctx, folderID, store.FolderPatch{BannerURL: &url}); err != nil {
		return nil, err
	}
	return map[string]any{"bannerUrl": url}, nil
}

func (s *Service) UploadFileBanner(ctx context.Context, fileID, userID, filename, contentType string, body io.Reader, size int64) (map[string]any, error) {
	if s.media == nil {
		return nil, domainError(http.StatusServiceUnavailable, "MEDIA_UNAVAILABLE", "Object storage not configured", nil)
	}
	file, err := s.store.GetFile(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if _, err := s.requireRole(ctx, file.WorkspaceID, userID, rbac.ActionWrite); err != nil {
		return nil, err
	}
	url, err := s.media.UploadBanner(ctx, filename, contentType, body, size)
	if err != nil {
		return nil, fmt.Errorf("upload banner: %w", err)
	}
	if err := s.store.UpdateFile(ctx, fileID, store.FilePatch{BannerURL: &url}); err != nil {
		return nil, err
	}
	return map[string]any{"bannerUrl": url}, nil
}

// --- payload shaping

func trashMarker(email string) string {
	return "Deleted by " + email
}

func userPayload(user store.User) map[string]any {
	return map[string]any{
		"id":        user.ID,
		"email":     user.Email,
		"avatarUrl": user.AvatarURL,
		"createdAt": user.CreatedAt,
	}
}

func userPayloads(users []store.User) []map[string]any {
	items := make([]map[string]any, 0, len(users))
	for _, user := range users {
		items = append(items, userPayload(user))
	}
	return items
}

func workspacePayload(workspace store.Workspace) map[string]any {
	return map[string]any{
		"id":          workspace.ID,
		"title":       workspace.Title,
		"iconId":      workspace.IconID,
		"createdAt":   workspace.CreatedAt,
		"ownerId":     workspace.OwnerID,
		"data":        workspace.Data,
		"inTrash":     workspace.InTrash,
		"bannerUrl":   workspace.BannerURL,
		"logo":        workspace.Logo,
		"permissions": workspace.Permissions,
	}
}

func folderPayload(folder store.Folder) map[string]any {
	return map[string]any{
		"id":          folder.ID,
		"workspaceId": folder.WorkspaceID,
		"title":       folder.Title,
		"iconId":      folder.IconID,
		"createdAt":   folder.CreatedAt,
		"data":        folder.Data,
		"inTrash":     folder.InTrash,
		"bannerUrl":   folder.BannerURL,
	}
}

func filePayload(file store.File) map[string]any {
	return map[string]any{
		"id":          file.ID,
		"folderId":    file.FolderID,
		"workspaceId": file.WorkspaceID,
		"title":       file.Title,
		"iconId":      file.IconID,
		"createdAt":   file.CreatedAt,
		"data":        file.Data,
		"inTrash":     file.InTrash,
		"bannerUrl":   file.BannerURL,
	}
}
