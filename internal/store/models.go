package store

import "time"

// Kind identifies which entity table a row belongs to.
type Kind string

const (
	KindWorkspace Kind = "workspace"
	KindFolder    Kind = "folder"
	KindFile      Kind = "file"
)

type User struct {
	ID           string
	Email        string
	PasswordHash string
	AvatarURL    string
	CreatedAt    time.Time
}

// Workspace is the root of the containment tree. InTrash is the soft-delete
// flag: empty means active, non-empty carries the trash marker.
type Workspace struct {
	ID          string
	Title       string
	IconID      string
	CreatedAt   time.Time
	OwnerID     string
	Data        *string
	InTrash     string
	BannerURL   string
	Logo        *string
	Permissions string // "private" or "shared"
}

type Folder struct {
	ID          string
	WorkspaceID string
	Title       string
	IconID      string
	CreatedAt   time.Time
	Data        *string
	InTrash     string
	BannerURL   string
}

// File carries a denormalized WorkspaceID so a row can be placed in the
// tree without first loading its folder.
type File struct {
	ID          string
	FolderID    string
	WorkspaceID string
	Title       string
	IconID      string
	CreatedAt   time.Time
	Data        *string
	InTrash     string
	BannerURL   string
}

// WorkspacePatch names the fields a partial workspace update may touch.
// Nil pointers are left alone; set pointers overwrite (last write wins).
type WorkspacePatch struct {
	Title       *string
	IconID      *string
	Data        *string
	InTrash     *string
	BannerURL   *string
	Logo        *string
	Permissions *string
}

type FolderPatch struct {
	Title     *string
	IconID    *string
	Data      *string
	InTrash   *string
	BannerURL *string
}

type FilePatch struct {
	Title     *string
	IconID    *string
	Data      *string
	InTrash   *string
	BannerURL *string
}
