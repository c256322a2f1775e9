package tree

import (
	"testing"
	"time"

	"inkwell/internal/store"
)

func builtState() State {
	state := Apply(State{}, SetWorkspaces{Workspaces: []WorkspaceNode{testWorkspace("w1", 0)}})
	state = Apply(state, AddFolder{WorkspaceID: "w1", Folder: testFolder("f1", "w1", 0)})
	state = Apply(state, AddFile{WorkspaceID: "w1", FolderID: "f1", File: testFile("a1", "f1", "w1", 0)})
	return state
}

func TestResolvePrefersLiveEntity(t *testing.T) {
	state := builtState()

	fallback := Fallback{Title: "stale server row", CreatedAt: testEpoch.Add(-time.Hour)}
	snapshot := Resolve(state, store.KindFile, "w1", "f1", "a1", fallback)

	if snapshot.Source != SourceLive {
		t.Fatalf("source = %v, want SourceLive", snapshot.Source)
	}
	if snapshot.Title != "file a1" {
		t.Errorf("title = %q, want live title, not the fallback", snapshot.Title)
	}

	// A later store mutation is visible on re-resolution.
	state = Apply(state, UpdateFile{WorkspaceID: "w1", FolderID: "f1", FileID: "a1", Patch: store.FilePatch{Title: strptr("renamed")}})
	if again := Resolve(state, store.KindFile, "w1", "f1", "a1", fallback); again.Title != "renamed" {
		t.Errorf("re-resolved title = %q, want %q", again.Title, "renamed")
	}
}

func TestResolveFallsBackWhenUnreachable(t *testing.T) {
	state := builtState()
	fallback := Fallback{Title: "server copy", IconID: "📄", InTrash: "", BannerURL: "https://cdn/banner.png"}

	cases := []struct {
		name                      string
		kind                      store.Kind
		workspaceID, folderID, id string
	}{
		{"not yet loaded file", store.KindFile, "w1", "f1", "unknown"},
		{"wrong folder context", store.KindFile, "w1", "other-folder", "a1"},
		{"wrong workspace context", store.KindFile, "other-ws", "f1", "a1"},
		{"unknown folder", store.KindFolder, "w1", "", "unknown"},
		{"unknown workspace", store.KindWorkspace, "", "", "unknown"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			snapshot := Resolve(state, tc.kind, tc.workspaceID, tc.folderID, tc.id, fallback)
			if snapshot.Source != SourceFallback {
				t.Fatalf("source = %v, want SourceFallback", snapshot.Source)
			}
			if snapshot.Title != fallback.Title {
				t.Errorf("title = %q, want fallback title", snapshot.Title)
			}
		})
	}
}

func TestResolveWorkspaceIgnoresContextIDs(t *testing.T) {
	state := builtState()
	snapshot := Resolve(state, store.KindWorkspace, "", "", "w1", Fallback{Title: "fallback"})
	if snapshot.Source != SourceLive || snapshot.Title != "workspace w1" {
		t.Fatalf("workspace lookup failed: %+v", snapshot)
	}
}

func TestBreadcrumbsWalkRootToEntity(t *testing.T) {
	state := builtState()

	cases := []struct {
		name                        string
		workspaceID, folderID, file string
		want                        string
	}{
		{"workspace only", "w1", "", "", "💼 workspace w1"},
		{"workspace and folder", "w1", "f1", "", "💼 workspace w1 / 📁 folder f1"},
		{"full path", "w1", "f1", "a1", "💼 workspace w1 / 📁 folder f1 / 📄 file a1"},
		{"unknown folder dropped", "w1", "nope", "", "💼 workspace w1"},
		{"file under unknown folder dropped", "w1", "nope", "a1", "💼 workspace w1"},
		{"unknown workspace", "nope", "", "", ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Breadcrumbs(state, tc.workspaceID, tc.folderID, tc.file); got != tc.want {
				t.Errorf("Breadcrumbs() = %q, want %q", got, tc.want)
			}
		})
	}
}
