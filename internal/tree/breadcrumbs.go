package tree

import "strings"

// Breadcrumbs derives the display path for the current location by walking
// the tree from the workspace down. Segments whose entity is not in the
// tree are skipped rather than rendered half-filled. Each segment is
// "{icon} {title}", joined by " / ".
func Breadcrumbs(state State, workspaceID, folderID, fileID string) string {
	var segments []string

	workspace := state.Workspace(workspaceID)
	if workspace == nil {
		return ""
	}
	segments = append(segments, crumb(workspace.IconID, workspace.Title))

	if folderID == "" {
		return strings.Join(segments, " / ")
	}
	folder := state.Folder(workspaceID, folderID)
	if folder != nil {
		segments = append(segments, crumb(folder.IconID, folder.Title))
	}

	if fileID != "" && folder != nil {
		if file := state.File(workspaceID, folderID, fileID); file != nil {
			segments = append(segments, crumb(file.IconID, file.Title))
		}
	}

	return strings.Join(segments, " / ")
}

func crumb(icon, title string) string {
	if icon == "" {
		return title
	}
	return icon + " " + title
}
