// Package collab is the client-side collaboration core: one Session per
// user ties the in-memory tree, the autosave scheduler, the presence room
// and the durable store together. UI actions and remote replication both
// funnel into the tree through typed actions; the scheduler turns local
// body edits into debounced durable writes; presence runs independently
// and degrades to nothing when unavailable.
package collab

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"inkwell/internal/autosave"
	"inkwell/internal/presence"
	"inkwell/internal/store"
	"inkwell/internal/tree"
	"inkwell/internal/util"
)

// Durable is the async CRUD surface of the backing store. Implemented by
// *store.PostgresStore; faked in tests.
type Durable interface {
	ListWorkspacesByUser(ctx context.Context, userID string) ([]store.Workspace, error)
	CreateWorkspace(ctx context.Context, workspace store.Workspace) error
	UpdateWorkspace(ctx context.Context, id string, patch store.WorkspacePatch) error
	DeleteWorkspace(ctx context.Context, id string) error

	ListFolders(ctx context.Context, workspaceID string) ([]store.Folder, error)
	CreateFolder(ctx context.Context, folder store.Folder) error
	UpdateFolder(ctx context.Context, id string, patch store.FolderPatch) error
	DeleteFolder(ctx context.Context, id string) error

	ListFiles(ctx context.Context, folderID string) ([]store.File, error)
	CreateFile(ctx context.Context, file store.File) error
	UpdateFile(ctx context.Context, id string, patch store.FilePatch) error
	DeleteFile(ctx context.Context, id string) error

	GetUserByID(ctx context.Context, userID string) (store.User, error)
}

// Historian records a flushed file body as a named version. Optional.
type Historian interface {
	RecordVersion(ctx context.Context, file store.File, author string) error
}

// Options configures a session. Presence and History may be nil:
// collaboration and versioning are enhancement layers, never dependencies
// of tree browsing and editing.
type Options struct {
	Debounce time.Duration
	Presence *presence.Adapter
	History  Historian
}

type Session struct {
	user    store.User
	durable Durable
	tree    *tree.Store
	opts    Options

	mu     sync.Mutex
	savers map[string]*autosave.Scheduler
	room   *presence.Room
	closed bool
}

func NewSession(user store.User, durable Durable, opts Options) *Session {
	if opts.Debounce <= 0 {
		opts.Debounce = 850 * time.Millisecond
	}
	return &Session{
		user:    user,
		durable: durable,
		tree:    tree.NewStore(),
		opts:    opts,
		savers:  map[string]*autosave.Scheduler{},
	}
}

// Tree exposes the session's tree store. Consumers read snapshots from it;
// all mutation goes through the session's methods or Dispatch.
func (s *Session) Tree() *tree.Store {
	return s.tree
}

// Dispatch applies a remote replication action to the tree. Remote updates
// addressing entities this session has not loaded are no-ops inside the
// reducer, never errors.
func (s *Session) Dispatch(action tree.Action) {
	s.tree.Dispatch(action)
}

// --- loading

func (s *Session) LoadWorkspaces(ctx context.Context) error {
	workspaces, err := s.durable.ListWorkspacesByUser(ctx, s.user.ID)
	if err != nil {
		return fmt.Errorf("load workspaces: %w", err)
	}
	nodes := make([]tree.WorkspaceNode, 0, len(workspaces))
	for _, workspace := range workspaces {
		nodes = append(nodes, tree.WorkspaceNode{Workspace: workspace})
	}
	s.tree.Dispatch(tree.SetWorkspaces{Workspaces: nodes})
	return nil
}

func (s *Session) LoadFolders(ctx context.Context, workspaceID string) error {
	folders, err := s.durable.ListFolders(ctx, workspaceID)
	if err != nil {
		return fmt.Errorf("load folders: %w", err)
	}
	nodes := make([]tree.FolderNode, 0, len(folders))
	for _, folder := range folders {
		nodes = append(nodes, tree.FolderNode{Folder: folder})
	}
	s.tree.Dispatch(tree.SetFolders{WorkspaceID: workspaceID, Folders: nodes})
	return nil
}

func (s *Session) LoadFiles(ctx context.Context, workspaceID, folderID string) error {
	files, err := s.durable.ListFiles(ctx, folderID)
	if err != nil {
		return fmt.Errorf("load files: %w", err)
	}
	s.tree.Dispatch(tree.SetFiles{WorkspaceID: workspaceID, FolderID: folderID, Files: files})
	return nil
}

// --- optimistic creation
//
// The entity gets its id and lands in the tree before the durable write is
// acknowledged. A failed write leaves the optimistic copy in place (the
// autosave retry path will not resurrect creates, so the error is returned
// for the caller to surface) — the local edit is never rolled back.

func (s *Session) CreateWorkspace(ctx context.Context, title, iconID, permissions string) (store.Workspace, error) {
	workspace := store.Workspace{
		ID:          util.NewID(),
		Title:       title,
		IconID:      iconID,
		CreatedAt:   time.Now().UTC(),
		OwnerID:     s.user.ID,
		Permissions: permissions,
	}
	s.tree.Dispatch(tree.AddWorkspace{Workspace: tree.WorkspaceNode{Workspace: workspace}})
	if err := s.durable.CreateWorkspace(ctx, workspace); err != nil {
		return workspace, fmt.Errorf("create workspace: %w", err)
	}
	return workspace, nil
}

func (s *Session) CreateFolder(ctx context.Context, workspaceID, title, iconID string) (store.Folder, error) {
	folder := store.Folder{
		ID:          util.NewID(),
		WorkspaceID: workspaceID,
		Title:       title,
		IconID:      iconID,
		CreatedAt:   time.Now().UTC(),
	}
	s.tree.Dispatch(tree.AddFolder{WorkspaceID: workspaceID, Folder: tree.FolderNode{Folder: folder}})
	if err := s.durable.CreateFolder(ctx, folder); err != nil {
		return folder, fmt.Errorf("create folder: %w", err)
	}
	return folder, nil
}

func (s *Session) CreateFile(ctx context.Context, workspaceID, folderID, title, iconID string) (store.File, error) {
	file := store.File{
		ID:          util.NewID(),
		FolderID:    folderID,
		WorkspaceID: workspaceID,
		Title:       title,
		IconID:      iconID,
		CreatedAt:   time.Now().UTC(),
	}
	s.tree.Dispatch(tree.AddFile{WorkspaceID: workspaceID, FolderID: folderID, File: file})
	if err := s.durable.CreateFile(ctx, file); err != nil {
		return file, fmt.Errorf("create file: %w", err)
	}
	return file, nil
}

// --- debounced body edits
//
// The tree gets the optimistic value immediately; the durable write is
// debounced per entity. The flush reads the record back out of the tree,
// so a burst of edits persists exactly the latest state.

func (s *Session) EditFileData(workspaceID, folderID, fileID, data string) {
	s.tree.Dispatch(tree.UpdateFile{
		WorkspaceID: workspaceID, FolderID: folderID, FileID: fileID,
		Patch: store.FilePatch{Data: &data},
	})
	s.scheduleFileSave(workspaceID, folderID, fileID)
}

func (s *Session) EditFileTitle(workspaceID, folderID, fileID, title string) {
	s.tree.Dispatch(tree.UpdateFile{
		WorkspaceID: workspaceID, FolderID: folderID, FileID: fileID,
		Patch: store.FilePatch{Title: &title},
	})
	s.scheduleFileSave(workspaceID, folderID, fileID)
}

func (s *Session) EditFolderTitle(workspaceID, folderID, title string) {
	s.tree.Dispatch(tree.UpdateFolder{
		WorkspaceID: workspaceID, FolderID: folderID,
		Patch: store.FolderPatch{Title: &title},
	})
	s.scheduleFolderSave(workspaceID, folderID)
}

func (s *Session) EditFolderData(workspaceID, folderID, data string) {
	s.tree.Dispatch(tree.UpdateFolder{
		WorkspaceID: workspaceID, FolderID: folderID,
		Patch: store.FolderPatch{Data: &data},
	})
	s.scheduleFolderSave(workspaceID, folderID)
}

func (s *Session) scheduleFileSave(workspaceID, folderID, fileID string) {
	s.saver("file:"+fileID).Schedule(func(ctx context.Context) error {
		file := s.tree.State().File(workspaceID, folderID, fileID)
		if file == nil {
			// Deleted while the timer was armed; nothing to persist.
			return nil
		}
		patch := store.FilePatch{Title: &file.Title, Data: file.Data}
		if err := s.durable.UpdateFile(ctx, fileID, patch); err != nil {
			return err
		}
		if s.opts.History != nil {
			if err := s.opts.History.RecordVersion(ctx, *file, s.user.Email); err != nil {
				log.Printf("collab: record version for %s: %v", fileID, err)
			}
		}
		return nil
	})
}

func (s *Session) scheduleFolderSave(workspaceID, folderID string) {
	s.saver("folder:"+folderID).Schedule(func(ctx context.Context) error {
		folder := s.tree.State().Folder(workspaceID, folderID)
		if folder == nil {
			return nil
		}
		patch := store.FolderPatch{Title: &folder.Title, Data: folder.Data}
		return s.durable.UpdateFolder(ctx, folderID, patch)
	})
}

// SaveStatus reports the saving signal for one file.
func (s *Session) SaveStatus(fileID string) autosave.Status {
	s.mu.Lock()
	saver, ok := s.savers["file:"+fileID]
	s.mu.Unlock()
	if !ok {
		return autosave.Idle
	}
	return saver.Status()
}

// Flush forces any pending save for the file to run now.
func (s *Session) Flush(fileID string) {
	s.mu.Lock()
	saver, ok := s.savers["file:"+fileID]
	s.mu.Unlock()
	if ok {
		saver.Flush()
	}
}

func (s *Session) saver(key string) *autosave.Scheduler {
	s.mu.Lock()
	defer s.mu.Unlock()
	if saver, ok := s.savers[key]; ok {
		return saver
	}
	saver := autosave.NewScheduler(s.opts.Debounce, nil)
	s.savers[key] = saver
	return saver
}

// --- trash lifecycle

// TrashMarker is the non-empty InTrash value recording who trashed the
// entity.
func TrashMarker(email string) string {
	return "Deleted by " + email
}

func (s *Session) TrashFile(ctx context.Context, workspaceID, folderID, fileID string) error {
	marker := TrashMarker(s.user.Email)
	s.tree.Dispatch(tree.UpdateFile{
		WorkspaceID: workspaceID, FolderID: folderID, FileID: fileID,
		Patch: store.FilePatch{InTrash: &marker},
	})
	return s.durable.UpdateFile(ctx, fileID, store.FilePatch{InTrash: &marker})
}

func (s *Session) RestoreFile(ctx context.Context, workspaceID, folderID, fileID string) error {
	empty := ""
	s.tree.Dispatch(tree.UpdateFile{
		WorkspaceID: workspaceID, FolderID: folderID, FileID: fileID,
		Patch: store.FilePatch{InTrash: &empty},
	})
	return s.durable.UpdateFile(ctx, fileID, store.FilePatch{InTrash: &empty})
}

func (s *Session) TrashFolder(ctx context.Context, workspaceID, folderID string) error {
	marker := TrashMarker(s.user.Email)
	s.tree.Dispatch(tree.UpdateFolder{
		WorkspaceID: workspaceID, FolderID: folderID,
		Patch: store.FolderPatch{InTrash: &marker},
	})
	return s.durable.UpdateFolder(ctx, folderID, store.FolderPatch{InTrash: &marker})
}

func (s *Session) RestoreFolder(ctx context.Context, workspaceID, folderID string) error {
	empty := ""
	s.tree.Dispatch(tree.UpdateFolder{
		WorkspaceID: workspaceID, FolderID: folderID,
		Patch: store.FolderPatch{InTrash: &empty},
	})
	return s.durable.UpdateFolder(ctx, folderID, store.FolderPatch{InTrash: &empty})
}

// --- hard delete: durable delete first, then physical removal from the
// tree. A failed durable delete leaves the entity in place.

func (s *Session) DeleteFile(ctx context.Context, workspaceID, folderID, fileID string) error {
	if err := s.durable.DeleteFile(ctx, fileID); err != nil {
		return fmt.Errorf("delete file: %w", err)
	}
	s.dropSaver("file:" + fileID)
	s.tree.Dispatch(tree.DeleteFile{WorkspaceID: workspaceID, FolderID: folderID, FileID: fileID})
	return nil
}

// DeleteFolder removes the folder and, structurally, all its files: the
// durable delete cascades, and the tree drops the subtree in one action.
func (s *Session) DeleteFolder(ctx context.Context, workspaceID, folderID string) error {
	if err := s.durable.DeleteFolder(ctx, folderID); err != nil {
		return fmt.Errorf("delete folder: %w", err)
	}
	if folder := s.tree.State().Folder(workspaceID, folderID); folder != nil {
		for _, file := range folder.Files {
			s.dropSaver("file:" + file.ID)
		}
	}
	s.dropSaver("folder:" + folderID)
	s.tree.Dispatch(tree.DeleteFolder{WorkspaceID: workspaceID, FolderID: folderID})
	return nil
}

func (s *Session) dropSaver(key string) {
	s.mu.Lock()
	saver, ok := s.savers[key]
	delete(s.savers, key)
	s.mu.Unlock()
	if ok {
		saver.Close()
	}
}

// --- display helpers

func (s *Session) Resolve(kind store.Kind, workspaceID, folderID, id string, fallback tree.Fallback) tree.Snapshot {
	return tree.Resolve(s.tree.State(), kind, workspaceID, folderID, id, fallback)
}

func (s *Session) Breadcrumbs(workspaceID, folderID, fileID string) string {
	return tree.Breadcrumbs(s.tree.State(), workspaceID, folderID, fileID)
}

// --- presence

// JoinFile enters the file's presence room and announces the local user.
// Profile resolution failure degrades to join-without-track; subscription
// failure disables presence for the session but editing continues (the
// error is returned for logging, not for aborting).
func (s *Session) JoinFile(ctx context.Context, fileID string, opts presence.RoomOptions) (*presence.Room, error) {
	if s.opts.Presence == nil {
		return nil, nil
	}
	s.LeaveFile(ctx)

	room, err := s.opts.Presence.Join(ctx, fileID, s.user.ID, opts)
	if err != nil {
		return nil, fmt.Errorf("join presence room: %w", err)
	}

	payload := presence.Payload{ID: s.user.ID, Email: s.user.Email}
	profile, err := s.durable.GetUserByID(ctx, s.user.ID)
	if err != nil {
		// Degraded but non-fatal: stay in the room without tracking,
		// invisible to peers yet still receiving their presence.
		log.Printf("collab: resolve profile for %s, joining untracked: %v", s.user.ID, err)
	} else {
		payload.AvatarURL = profile.AvatarURL
		if err := room.Track(ctx, payload); err != nil {
			log.Printf("collab: track presence in %s: %v", fileID, err)
		}
	}

	s.mu.Lock()
	s.room = room
	s.mu.Unlock()
	return room, nil
}

// LeaveFile releases the current presence room, if any. Always safe.
func (s *Session) LeaveFile(ctx context.Context) {
	s.mu.Lock()
	room := s.room
	s.room = nil
	s.mu.Unlock()
	if room != nil {
		if err := room.Leave(ctx); err != nil {
			log.Printf("collab: leave presence room: %v", err)
		}
	}
}

// Close tears the session down: presence left, every scheduler canceled so
// no abandoned timer fires a write afterwards.
func (s *Session) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.LeaveFile(ctx)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	savers := make([]*autosave.Scheduler, 0, len(s.savers))
	for _, saver := range s.savers {
		savers = append(savers, saver)
	}
	s.savers = map[string]*autosave.Scheduler{}
	s.mu.Unlock()

	for _, saver := range savers {
		saver.Close()
	}
}
