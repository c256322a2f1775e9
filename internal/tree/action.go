package tree

import "inkwell/internal/store"

// Action is the closed set of tree mutations. Every action is keyed by the
// full containment path, never just a leaf id, so the reducer can not
// construct a folder or file outside its parent.
type Action interface {
	isAction()
}

// SetWorkspaces replaces the whole workspace collection (initial load).
type SetWorkspaces struct {
	Workspaces []WorkspaceNode
}

// AddWorkspace appends one workspace (optimistic creation).
type AddWorkspace struct {
	Workspace WorkspaceNode
}

// UpdateWorkspace merges the patch into the matching workspace.
type UpdateWorkspace struct {
	WorkspaceID string
	Patch       store.WorkspacePatch
}

// DeleteWorkspace physically removes a workspace and, structurally, its
// folders and files. Trash is not this: trash is an UpdateWorkspace setting
// InTrash.
type DeleteWorkspace struct {
	WorkspaceID string
}

// SetFolders replaces the folder list of one workspace.
type SetFolders struct {
	WorkspaceID string
	Folders     []FolderNode
}

type AddFolder struct {
	WorkspaceID string
	Folder      FolderNode
}

type UpdateFolder struct {
	WorkspaceID string
	FolderID    string
	Patch       store.FolderPatch
}

type DeleteFolder struct {
	WorkspaceID string
	FolderID    string
}

// SetFiles replaces the file list of one folder.
type SetFiles struct {
	WorkspaceID string
	FolderID    string
	Files       []store.File
}

type AddFile struct {
	WorkspaceID string
	FolderID    string
	File        store.File
}

type UpdateFile struct {
	WorkspaceID string
	FolderID    string
	FileID      string
	Patch       store.FilePatch
}

type DeleteFile struct {
	WorkspaceID string
	FolderID    string
	FileID      string
}

func (SetWorkspaces) isAction()   {}
func (AddWorkspace) isAction()    {}
func (UpdateWorkspace) isAction() {}
func (DeleteWorkspace) isAction() {}
func (SetFolders) isAction()      {}
func (AddFolder) isAction()       {}
func (UpdateFolder) isAction()    {}
func (DeleteFolder) isAction()    {}
func (SetFiles) isAction()        {}
func (AddFile) isAction()         {}
func (UpdateFile) isAction()      {}
func (DeleteFile) isAction()      {}
