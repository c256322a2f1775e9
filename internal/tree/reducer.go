package tree

import (
	"sort"

	"inkwell/internal/store"
)

// Apply is the reducer: a pure function from (state, action) to a new
// state. Input state is never mutated. Updates addressing a workspace,
// folder or file that is not in the tree are benign no-ops — a lagging
// remote action racing navigation must not crash or fabricate entities.
func Apply(state State, action Action) State {
	switch a := action.(type) {
	case SetWorkspaces:
		workspaces := make([]WorkspaceNode, len(a.Workspaces))
		copy(workspaces, a.Workspaces)
		sortWorkspaces(workspaces)
		return State{Workspaces: workspaces}

	case AddWorkspace:
		workspaces := append(copyWorkspaces(state.Workspaces), a.Workspace)
		sortWorkspaces(workspaces)
		return State{Workspaces: workspaces}

	case UpdateWorkspace:
		return mapWorkspace(state, a.WorkspaceID, func(workspace WorkspaceNode) WorkspaceNode {
			workspace.Workspace = mergeWorkspace(workspace.Workspace, a.Patch)
			return workspace
		})

	case DeleteWorkspace:
		workspaces := make([]WorkspaceNode, 0, len(state.Workspaces))
		for _, workspace := range state.Workspaces {
			if workspace.ID != a.WorkspaceID {
				workspaces = append(workspaces, workspace)
			}
		}
		return State{Workspaces: workspaces}

	case SetFolders:
		return mapWorkspace(state, a.WorkspaceID, func(workspace WorkspaceNode) WorkspaceNode {
			folders := make([]FolderNode, len(a.Folders))
			copy(folders, a.Folders)
			sortFolders(folders)
			workspace.Folders = folders
			return workspace
		})

	case AddFolder:
		return mapWorkspace(state, a.WorkspaceID, func(workspace WorkspaceNode) WorkspaceNode {
			folders := append(copyFolders(workspace.Folders), a.Folder)
			sortFolders(folders)
			workspace.Folders = folders
			return workspace
		})

	case UpdateFolder:
		return mapFolder(state, a.WorkspaceID, a.FolderID, func(folder FolderNode) FolderNode {
			folder.Folder = mergeFolder(folder.Folder, a.Patch)
			return folder
		})

	case DeleteFolder:
		return mapWorkspace(state, a.WorkspaceID, func(workspace WorkspaceNode) WorkspaceNode {
			folders := make([]FolderNode, 0, len(workspace.Folders))
			for _, folder := range workspace.Folders {
				if folder.ID != a.FolderID {
					folders = append(folders, folder)
				}
			}
			workspace.Folders = folders
			return workspace
		})

	case SetFiles:
		return mapFolder(state, a.WorkspaceID, a.FolderID, func(folder FolderNode) FolderNode {
			files := make([]store.File, len(a.Files))
			copy(files, a.Files)
			sortFiles(files)
			folder.Files = files
			return folder
		})

	case AddFile:
		return mapFolder(state, a.WorkspaceID, a.FolderID, func(folder FolderNode) FolderNode {
			files := append(copyFiles(folder.Files), a.File)
			sortFiles(files)
			folder.Files = files
			return folder
		})

	case UpdateFile:
		return mapFolder(state, a.WorkspaceID, a.FolderID, func(folder FolderNode) FolderNode {
			files := copyFiles(folder.Files)
			for i := range files {
				if files[i].ID == a.FileID {
					files[i] = mergeFile(files[i], a.Patch)
				}
			}
			folder.Files = files
			return folder
		})

	case DeleteFile:
		return mapFolder(state, a.WorkspaceID, a.FolderID, func(folder FolderNode) FolderNode {
			files := make([]store.File, 0, len(folder.Files))
			for _, file := range folder.Files {
				if file.ID != a.FileID {
					files = append(files, file)
				}
			}
			folder.Files = files
			return folder
		})
	}

	return state
}

// mapWorkspace rebuilds the workspace list with fn applied to the matching
// workspace. Siblings are shared, the touched path is copied.
func mapWorkspace(state State, workspaceID string, fn func(WorkspaceNode) WorkspaceNode) State {
	found := false
	workspaces := make([]WorkspaceNode, len(state.Workspaces))
	for i, workspace := range state.Workspaces {
		if workspace.ID == workspaceID {
			workspace = fn(workspace)
			found = true
		}
		workspaces[i] = workspace
	}
	if !found {
		return state
	}
	return State{Workspaces: workspaces}
}

func mapFolder(state State, workspaceID, folderID string, fn func(FolderNode) FolderNode) State {
	return mapWorkspace(state, workspaceID, func(workspace WorkspaceNode) WorkspaceNode {
		folders := make([]FolderNode, len(workspace.Folders))
		for i, folder := range workspace.Folders {
			if folder.ID == folderID {
				folder = fn(folder)
			}
			folders[i] = folder
		}
		workspace.Folders = folders
		return workspace
	})
}

// Merges are last-write-wins at the field level: a set pointer overwrites
// the current value with no timestamp comparison.

func mergeWorkspace(workspace store.Workspace, patch store.WorkspacePatch) store.Workspace {
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
	return workspace
}

func mergeFolder(folder store.Folder, patch store.FolderPatch) store.Folder {
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
	return folder
}

func mergeFile(file store.File, patch store.FilePatch) store.File {
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
	return file
}

// Ordering is re-established after every insert and bulk set, never assumed.

func sortWorkspaces(workspaces []WorkspaceNode) {
	sort.SliceStable(workspaces, func(i, j int) bool {
		return workspaces[i].CreatedAt.Before(workspaces[j].CreatedAt)
	})
}

func sortFolders(folders []FolderNode) {
	sort.SliceStable(folders, func(i, j int) bool {
		return folders[i].CreatedAt.Before(folders[j].CreatedAt)
	})
}

func sortFiles(files []store.File) {
	sort.SliceStable(files, func(i, j int) bool {
		return files[i].CreatedAt.Before(files[j].CreatedAt)
	})
}

func copyWorkspaces(workspaces []WorkspaceNode) []WorkspaceNode {
	out := make([]WorkspaceNode, len(workspaces))
	copy(out, workspaces)
	return out
}

func copyFolders(folders []FolderNode) []FolderNode {
	out := make([]FolderNode, len(folders))
	copy(out, folders)
	return out
}

func copyFiles(files []store.File) []store.File {
	out := make([]store.File, len(files))
	copy(out, files)
	return out
}
