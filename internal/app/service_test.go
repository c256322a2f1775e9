package app

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"inkwell/internal/config"
	"inkwell/internal/rbac"
	"inkwell/internal/session"
	"inkwell/internal/store"
)

// memStore is an in-memory dataStore. Function fields override individual
// methods for error injection; everything else operates on the maps.
type memStore struct {
	mu            sync.Mutex
	users         map[string]store.User
	workspaces    map[string]store.Workspace
	folders       map[string]store.Folder
	files         map[string]store.File
	collaborators map[string]map[string]bool // workspaceID -> userID set

	pingFn func(context.Context) error
}

func newMemStore() *memStore {
	return &memStore{
		users:         make(map[string]store.User),
		workspaces:    make(map[string]store.Workspace),
		folders:       make(map[string]store.Folder),
		files:         make(map[string]store.File),
		collaborators: make(map[string]map[string]bool),
	}
}

func (m *memStore) Ping(ctx context.Context) error {
	if m.pingFn != nil {
		return m.pingFn(ctx)
	}
	return nil
}

func (m *memStore) CreateUser(_ context.Context, user store.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[user.ID] = user
	return nil
}

func (m *memStore) GetUserByID(_ context.Context, userID string) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[userID]
	if !ok {
		return store.User{}, store.ErrNotFound
	}
	return user, nil
}

func (m *memStore) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, user := range m.users {
		if user.Email == email {
			return user, nil
		}
	}
	return store.User{}, store.ErrNotFound
}

func (m *memStore) UpdateUserAvatar(_ context.Context, userID, avatarURL string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[userID]
	if !ok {
		return store.ErrNotFound
	}
	user.AvatarURL = avatarURL
	m.users[userID] = user
	return nil
}

func (m *memStore) CreateWorkspace(_ context.Context, workspace store.Workspace) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if workspace.CreatedAt.IsZero() {
		workspace.CreatedAt = time.Now()
	}
	m.workspaces[workspace.ID] = workspace
	return nil
}

func (m *memStore) GetWorkspace(_ context.Context, id string) (store.Workspace, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	workspace, ok := m.workspaces[id]
	if !ok {
		return store.Workspace{}, store.ErrNotFound
	}
	return workspace, nil
}

func (m *memStore) ListWorkspacesByUser(_ context.Context, userID string) ([]store.Workspace, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.Workspace
	for _, workspace := range m.workspaces {
		if workspace.OwnerID == userID || m.collaborators[workspace.ID][userID] {
			out = append(out, workspace)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *memStore) UpdateWorkspace(_ context.Context, id string, patch store.WorkspacePatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	workspace, ok := m.workspaces[id]
	if !ok {
		return store.ErrNotFound
	}
	if patch.Title != nil {
		workspace.Title = *patch.Title
	}
	if patch.IconID != nil {
		workspace.IconID = *patch.IconID
	}
	if patch.Data != nil {
		workspace.Data = patch.Data
	}
	if patch.InTrash != nil {
		workspace.InTrash = *patch.InTrash
	}
	if patch.BannerURL != nil {
		workspace.BannerURL = *patch.BannerURL
	}
	if patch.Logo != nil {
		workspace.Logo = patch.Logo
	}
	if patch.Permissions != nil {
		workspace.Permissions = *patch.Permissions
	}
	m.workspaces[id] = workspace
	return nil
}

func (m *memStore) DeleteWorkspace(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.workspaces, id)
	for folderID, folder := range m.folders {
		if folder.WorkspaceID == id {
			delete(m.folders, folderID)
		}
	}
	for fileID, file := range m.files {
		if file.WorkspaceID == id {
			delete(m.files, fileID)
		}
	}
	return nil
}

func (m *memStore) AddCollaborator(_ context.Context, workspaceID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.collaborators[workspaceID] == nil {
		m.collaborators[workspaceID] = make(map[string]bool)
	}
	m.collaborators[workspaceID][userID] = true
	return nil
}

func (m *memStore) RemoveCollaborator(_ context.Context, workspaceID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.collaborators[workspaceID], userID)
	return nil
}

func (m *memStore) ListCollaborators(_ context.Context, workspaceID string) ([]store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.User
	for userID := range m.collaborators[workspaceID] {
		out = append(out, m.users[userID])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) IsCollaborator(_ context.Context, workspaceID, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.collaborators[workspaceID][userID], nil
}

func (m *memStore) CreateFolder(_ context.Context, folder store.Folder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if folder.CreatedAt.IsZero() {
		folder.CreatedAt = time.Now()
	}
	m.folders[folder.ID] = folder
	return nil
}

func (m *memStore) GetFolder(_ context.Context, id string) (store.Folder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	folder, ok := m.folders[id]
	if !ok {
		return store.Folder{}, store.ErrNotFound
	}
	return folder, nil
}

func (m *memStore) ListFolders(_ context.Context, workspaceID string) ([]store.Folder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.Folder
	for _, folder := range m.folders {
		if folder.WorkspaceID == workspaceID {
			out = append(out, folder)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *memStore) UpdateFolder(_ context.Context, id string, patch store.FolderPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	folder, ok := m.folders[id]
	if !ok {
		return store.ErrNotFound
	}
	if patch.Title != nil {
		folder.Title = *patch.Title
	}
	if patch.IconID != nil {
		folder.IconID = *patch.IconID
	}
	if patch.Data != nil {
		folder.Data = patch.Data
	}
	if patch.InTrash != nil {
		folder.InTrash = *patch.InTrash
	}
	if patch.BannerURL != nil {
		folder.BannerURL = *patch.BannerURL
	}
	m.folders[id] = folder
	return nil
}

func (m *memStore) DeleteFolder(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.folders, id)
	for fileID, file := range m.files {
		if file.FolderID == id {
			delete(m.files, fileID)
		}
	}
	return nil
}

func (m *memStore) CreateFile(_ context.Context, file store.File) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if file.CreatedAt.IsZero() {
		file.CreatedAt = time.Now()
	}
	m.files[file.ID] = file
	return nil
}

func (m *memStore) GetFile(_ context.Context, id string) (store.File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	file, ok := m.files[id]
	if !ok {
		return store.File{}, store.ErrNotFound
	}
	return file, nil
}

func (m *memStore) ListFiles(_ context.Context, folderID string) ([]store.File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.File
	for _, file := range m.files {
		if file.FolderID == folderID {
			out = append(out, file)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *memStore) UpdateFile(_ context.Context, id string, patch store.FilePatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	file, ok := m.files[id]
	if !ok {
		return store.ErrNotFound
	}
	if patch.Title != nil {
		file.Title = *patch.Title
	}
	if patch.IconID != nil {
		file.IconID = *patch.IconID
	}
	if patch.Data != nil {
		file.Data = patch.Data
	}
	if patch.InTrash != nil {
		file.InTrash = *patch.InTrash
	}
	if patch.BannerURL != nil {
		file.BannerURL = *patch.BannerURL
	}
	m.files[id] = file
	return nil
}

func (m *memStore) DeleteFile(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.files, id)
	return nil
}

// fakeSessions is an in-memory refreshStore.
type fakeSessions struct {
	mu       sync.Mutex
	sessions map[string]session.TokenData
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{sessions: make(map[string]session.TokenData)}
}

func (f *fakeSessions) SaveRefreshSession(_ context.Context, tokenHash, userID, email string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[tokenHash] = session.TokenData{UserID: userID, Email: email, CreatedAt: time.Now()}
	return nil
}

func (f *fakeSessions) LookupRefreshSession(_ context.Context, tokenHash string) (session.TokenData, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.sessions[tokenHash]
	if !ok {
		return session.TokenData{}, session.ErrNotFound
	}
	return data, nil
}

func (f *fakeSessions) RevokeRefreshSession(_ context.Context, tokenHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, tokenHash)
	return nil
}

func (f *fakeSessions) Ping(context.Context) error { return nil }

func testConfig() config.Config {
	return config.Config{
		TokenSecret: "test-secret",
		AccessTTL:   15 * time.Minute,
		RefreshTTL:  30 * 24 * time.Hour,
	}
}

func newTestService(st *memStore) *Service {
	return New(testConfig(), st, newFakeSessions(), Options{})
}

func signUpUser(t *testing.T, svc *Service, email string) Session {
	t.Helper()
	sess, err := svc.SignUp(context.Background(), email, "hunter2hunter2")
	if err != nil {
		t.Fatalf("sign up %s: %v", email, err)
	}
	return sess
}

func makeWorkspace(t *testing.T, svc *Service, owner Session, title string) string {
	t.Helper()
	payload, err := svc.CreateWorkspace(context.Background(), owner.UserID, CreateWorkspaceInput{Title: title})
	if err != nil {
		t.Fatalf("create workspace: %v", err)
	}
	return payload["id"].(string)
}

func TestSignUpSignInRoundTrip(t *testing.T) {
	svc := newTestService(newMemStore())
	ctx := context.Background()

	sess := signUpUser(t, svc, "ada@inkwell.dev")
	if sess.Token == "" || sess.RefreshToken == "" {
		t.Fatal("expected tokens on sign up")
	}

	parsed, err := svc.SessionFromToken(ctx, sess.Token)
	if err != nil {
		t.Fatalf("parse issued token: %v", err)
	}
	if parsed.UserID != sess.UserID || parsed.Email != "ada@inkwell.dev" {
		t.Fatalf("session mismatch: %+v", parsed)
	}

	if _, err := svc.SignIn(ctx, "ada@inkwell.dev", "hunter2hunter2"); err != nil {
		t.Fatalf("sign in: %v", err)
	}
	if _, err := svc.SignIn(ctx, "ada@inkwell.dev", "wrong-password"); err == nil {
		t.Fatal("expected sign in with wrong password to fail")
	}
}

func TestRefreshRotatesToken(t *testing.T) {
	svc := newTestService(newMemStore())
	ctx := context.Background()

	sess := signUpUser(t, svc, "ada@inkwell.dev")
	rotated, err := svc.Refresh(ctx, sess.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if rotated.RefreshToken == sess.RefreshToken {
		t.Fatal("expected a fresh refresh token")
	}
	if _, err := svc.Refresh(ctx, sess.RefreshToken); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("expected spent refresh token to be rejected, got %v", err)
	}
}

func TestWorkspaceAccessControl(t *testing.T) {
	svc := newTestService(newMemStore())
	ctx := context.Background()

	owner := signUpUser(t, svc, "owner@inkwell.dev")
	stranger := signUpUser(t, svc, "stranger@inkwell.dev")
	workspaceID := makeWorkspace(t, svc, owner, "Research")

	if _, err := svc.GetWorkspace(ctx, workspaceID, stranger.UserID); !isForbidden(err) {
		t.Fatalf("expected stranger read to be forbidden, got %v", err)
	}
	title := "Renamed"
	if _, err := svc.UpdateWorkspace(ctx, workspaceID, stranger.UserID, UpdateWorkspaceInput{Title: &title}); !isForbidden(err) {
		t.Fatalf("expected stranger write to be forbidden, got %v", err)
	}
	if err := svc.DeleteWorkspace(ctx, workspaceID, stranger.UserID); !isForbidden(err) {
		t.Fatalf("expected stranger delete to be forbidden, got %v", err)
	}

	payload, err := svc.GetWorkspace(ctx, workspaceID, owner.UserID)
	if err != nil {
		t.Fatalf("owner read: %v", err)
	}
	if payload["role"] != string(rbac.RoleOwner) {
		t.Fatalf("expected owner role, got %v", payload["role"])
	}
}

func TestAddCollaboratorSharesWorkspace(t *testing.T) {
	st := newMemStore()
	svc := newTestService(st)
	ctx := context.Background()

	owner := signUpUser(t, svc, "owner@inkwell.dev")
	peer := signUpUser(t, svc, "peer@inkwell.dev")
	workspaceID := makeWorkspace(t, svc, owner, "Shared notes")

	if _, err := svc.AddCollaborator(ctx, workspaceID, owner.UserID, "peer@inkwell.dev"); err != nil {
		t.Fatalf("add collaborator: %v", err)
	}
	workspace, _ := st.GetWorkspace(ctx, workspaceID)
	if workspace.Permissions != rbac.PermissionShared {
		t.Fatalf("expected permissions to flip to shared, got %q", workspace.Permissions)
	}

	// Collaborator can now create content but not delete the workspace.
	folder, err := svc.CreateFolder(ctx, workspaceID, peer.UserID, CreateFolderInput{Title: "Drafts"})
	if err != nil {
		t.Fatalf("collaborator create folder: %v", err)
	}
	if folder["workspaceId"] != workspaceID {
		t.Fatalf("folder landed in wrong workspace: %v", folder["workspaceId"])
	}
	if err := svc.DeleteWorkspace(ctx, workspaceID, peer.UserID); !isForbidden(err) {
		t.Fatalf("expected collaborator delete to be forbidden, got %v", err)
	}

	// Sharing an unknown email is a 404, not a silent no-op.
	if _, err := svc.AddCollaborator(ctx, workspaceID, owner.UserID, "nobody@inkwell.dev"); err == nil {
		t.Fatal("expected unknown email to fail")
	}
}

func TestCollaboratorRemovalRevokesAccess(t *testing.T) {
	svc := newTestService(newMemStore())
	ctx := context.Background()

	owner := signUpUser(t, svc, "owner@inkwell.dev")
	peer := signUpUser(t, svc, "peer@inkwell.dev")
	workspaceID := makeWorkspace(t, svc, owner, "Shared notes")

	if _, err := svc.AddCollaborator(ctx, workspaceID, owner.UserID, "peer@inkwell.dev"); err != nil {
		t.Fatalf("add collaborator: %v", err)
	}
	if _, err := svc.GetWorkspace(ctx, workspaceID, peer.UserID); err != nil {
		t.Fatalf("collaborator read: %v", err)
	}
	if _, err := svc.RemoveCollaborator(ctx, workspaceID, owner.UserID, peer.UserID); err != nil {
		t.Fatalf("remove collaborator: %v", err)
	}
	if _, err := svc.GetWorkspace(ctx, workspaceID, peer.UserID); !isForbidden(err) {
		t.Fatalf("expected removed collaborator to lose access, got %v", err)
	}
}

func TestTrashRestoreRoundTrip(t *testing.T) {
	svc := newTestService(newMemStore())
	ctx := context.Background()

	owner := signUpUser(t, svc, "dale@inkwell.dev")
	workspaceID := makeWorkspace(t, svc, owner, "Notes")
	folder, err := svc.CreateFolder(ctx, workspaceID, owner.UserID, CreateFolderInput{Title: "Inbox"})
	if err != nil {
		t.Fatalf("create folder: %v", err)
	}
	folderID := folder["id"].(string)
	file, err := svc.CreateFile(ctx, folderID, owner.UserID, CreateFileInput{Title: "Todo"})
	if err != nil {
		t.Fatalf("create file: %v", err)
	}
	fileID := file["id"].(string)

	trashed, err := svc.TrashFile(ctx, fileID, owner)
	if err != nil {
		t.Fatalf("trash file: %v", err)
	}
	if trashed["inTrash"] != "Deleted by dale@inkwell.dev" {
		t.Fatalf("unexpected trash marker %q", trashed["inTrash"])
	}

	restored, err := svc.RestoreFile(ctx, fileID, owner.UserID)
	if err != nil {
		t.Fatalf("restore file: %v", err)
	}
	if restored["inTrash"] != "" {
		t.Fatalf("expected restore to clear marker, got %q", restored["inTrash"])
	}
	if restored["title"] != file["title"] || restored["id"] != file["id"] {
		t.Fatal("restore changed fields other than inTrash")
	}
}

func TestDeleteFolderRemovesFiles(t *testing.T) {
	st := newMemStore()
	svc := newTestService(st)
	ctx := context.Background()

	owner := signUpUser(t, svc, "dale@inkwell.dev")
	workspaceID := makeWorkspace(t, svc, owner, "Notes")
	folder, err := svc.CreateFolder(ctx, workspaceID, owner.UserID, CreateFolderInput{Title: "Inbox"})
	if err != nil {
		t.Fatalf("create folder: %v", err)
	}
	folderID := folder["id"].(string)
	file, err := svc.CreateFile(ctx, folderID, owner.UserID, CreateFileInput{Title: "Todo"})
	if err != nil {
		t.Fatalf("create file: %v", err)
	}

	if err := svc.DeleteFolder(ctx, folderID, owner.UserID); err != nil {
		t.Fatalf("delete folder: %v", err)
	}
	if _, err := st.GetFile(ctx, file["id"].(string)); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected file to be gone with its folder, got %v", err)
	}
}

func TestListWorkspacesGrouping(t *testing.T) {
	svc := newTestService(newMemStore())
	ctx := context.Background()

	owner := signUpUser(t, svc, "owner@inkwell.dev")
	peer := signUpUser(t, svc, "peer@inkwell.dev")
	privateID := makeWorkspace(t, svc, owner, "Private")
	sharedID := makeWorkspace(t, svc, owner, "Shared")
	if _, err := svc.AddCollaborator(ctx, sharedID, owner.UserID, "peer@inkwell.dev"); err != nil {
		t.Fatalf("add collaborator: %v", err)
	}

	ownerView, err := svc.ListWorkspaces(ctx, owner.UserID)
	if err != nil {
		t.Fatalf("list workspaces: %v", err)
	}
	if ids := payloadIDs(ownerView["private"]); len(ids) != 1 || ids[0] != privateID {
		t.Fatalf("unexpected private group %v", ids)
	}
	if ids := payloadIDs(ownerView["shared"]); len(ids) != 1 || ids[0] != sharedID {
		t.Fatalf("unexpected shared group %v", ids)
	}

	peerView, err := svc.ListWorkspaces(ctx, peer.UserID)
	if err != nil {
		t.Fatalf("list workspaces: %v", err)
	}
	if ids := payloadIDs(peerView["collaborating"]); len(ids) != 1 || ids[0] != sharedID {
		t.Fatalf("unexpected collaborating group %v", ids)
	}
	if len(payloadIDs(peerView["private"])) != 0 {
		t.Fatal("peer should own nothing")
	}
}

func TestSearchUnavailableWithoutBackend(t *testing.T) {
	svc := newTestService(newMemStore())
	owner := signUpUser(t, svc, "owner@inkwell.dev")
	_, err := svc.Search(context.Background(), owner.UserID, "notes", "", "ws", 10, 0)
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Status != 503 {
		t.Fatalf("expected 503 domain error, got %v", err)
	}
}

func isForbidden(err error) bool {
	var domainErr *DomainError
	return errors.As(err, &domainErr) && domainErr.Status == 403
}

func payloadIDs(group any) []string {
	items, _ := group.([]map[string]any)
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item["id"].(string))
	}
	return ids
}
