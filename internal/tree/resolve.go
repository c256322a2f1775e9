package tree

import (
	"time"

	"inkwell/internal/store"
)

// Source tags where a resolved snapshot came from. Callers can only treat
// Live data as writable-through-actions; a Fallback snapshot is display
// only and must never be written back into the store.
type Source int

const (
	SourceLive Source = iota
	SourceFallback
)

// Fallback carries the display fields a caller can supply from an
// externally fetched row when the entity is not in the tree yet.
type Fallback struct {
	Title     string
	IconID    string
	CreatedAt time.Time
	Data      *string
	InTrash   string
	BannerURL string
}

// Snapshot is the result of a display resolution: the live record's display
// fields when the entity is reachable in the tree, otherwise the fallback.
type Snapshot struct {
	Source    Source
	Kind      store.Kind
	ID        string
	Title     string
	IconID    string
	CreatedAt time.Time
	Data      *string
	InTrash   string
	BannerURL string
}

// Resolve walks the tree scoped by the current workspace/folder context and
// returns the live entity if reachable. When it is not (not yet loaded, or
// the context ids do not lead to it), the caller's fallback is returned
// tagged SourceFallback. A fallback never fabricates a partial entity: it
// carries only the display fields above.
func Resolve(state State, kind store.Kind, workspaceID, folderID, id string, fallback Fallback) Snapshot {
	switch kind {
	case store.KindWorkspace:
		if workspace := state.Workspace(id); workspace != nil {
			return Snapshot{
				Source:    SourceLive,
				Kind:      kind,
				ID:        workspace.ID,
				Title:     workspace.Title,
				IconID:    workspace.IconID,
				CreatedAt: workspace.CreatedAt,
				Data:      workspace.Data,
				InTrash:   workspace.InTrash,
				BannerURL: workspace.BannerURL,
			}
		}
	case store.KindFolder:
		if folder := state.Folder(workspaceID, id); folder != nil {
			return Snapshot{
				Source:    SourceLive,
				Kind:      kind,
				ID:        folder.ID,
				Title:     folder.Title,
				IconID:    folder.IconID,
				CreatedAt: folder.CreatedAt,
				Data:      folder.Data,
				InTrash:   folder.InTrash,
				BannerURL: folder.BannerURL,
			}
		}
	case store.KindFile:
		if file := state.File(workspaceID, folderID, id); file != nil {
			return Snapshot{
				Source:    SourceLive,
				Kind:      kind,
				ID:        file.ID,
				Title:     file.Title,
				IconID:    file.IconID,
				CreatedAt: file.CreatedAt,
				Data:      file.Data,
				InTrash:   file.InTrash,
				BannerURL: file.BannerURL,
			}
		}
	}

	return Snapshot{
		Source:    SourceFallback,
		Kind:      kind,
		ID:        id,
		Title:     fallback.Title,
		IconID:    fallback.IconID,
		CreatedAt: fallback.CreatedAt,
		Data:      fallback.Data,
		InTrash:   fallback.InTrash,
		BannerURL: fallback.BannerURL,
	}
}
