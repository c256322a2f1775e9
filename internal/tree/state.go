// Package tree holds the in-memory normalized cache of workspaces, folders
// and files. The cache is mutated only through the typed actions in
// action.go, applied by the pure reducer in reducer.go.
package tree

import (
	"sync"

	"inkwell/internal/store"
)

// FolderNode is a folder row plus its contained files, ordered by creation
// time ascending.
type FolderNode struct {
	store.Folder
	Files []store.File
}

// WorkspaceNode is a workspace row plus its folders, ordered by creation
// time ascending.
type WorkspaceNode struct {
	store.Workspace
	Folders []FolderNode
}

// State is the whole tree. It is a value: the reducer never mutates a State
// it was handed, so snapshots stay valid after later dispatches.
type State struct {
	Workspaces []WorkspaceNode
}

// Workspace returns the workspace with the given id, or nil.
func (s State) Workspace(workspaceID string) *WorkspaceNode {
	for i := range s.Workspaces {
		if s.Workspaces[i].ID == workspaceID {
			return &s.Workspaces[i]
		}
	}
	return nil
}

// Folder returns the folder under the given workspace, or nil.
func (s State) Folder(workspaceID, folderID string) *FolderNode {
	workspace := s.Workspace(workspaceID)
	if workspace == nil {
		return nil
	}
	for i := range workspace.Folders {
		if workspace.Folders[i].ID == folderID {
			return &workspace.Folders[i]
		}
	}
	return nil
}

// File returns the file under the given workspace and folder, or nil.
func (s State) File(workspaceID, folderID, fileID string) *store.File {
	folder := s.Folder(workspaceID, folderID)
	if folder == nil {
		return nil
	}
	for i := range folder.Files {
		if folder.Files[i].ID == fileID {
			return &folder.Files[i]
		}
	}
	return nil
}

// Store owns a State and serializes dispatches, so actions apply in the
// order they arrive. Readers get value snapshots and never observe a
// half-applied action.
type Store struct {
	mu    sync.RWMutex
	state State
}

func NewStore() *Store {
	return &Store{}
}

// Dispatch applies the action through the reducer.
func (s *Store) Dispatch(action Action) {
	s.mu.Lock()
	s.state = Apply(s.state, action)
	s.mu.Unlock()
}

// State returns the current tree snapshot.
func (s *Store) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}
