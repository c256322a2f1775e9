package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultWorkspace ResultType = "workspace"
	ResultFolder    ResultType = "folder"
	ResultFile      ResultType = "file"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type        ResultType `json:"type"`
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Snippet     string     `json:"snippet"`
	WorkspaceID string     `json:"workspaceId"`
	FolderID    string     `json:"folderId,omitempty"`
}

// Query describes a search request. FilterWorkspaceID scopes the search to
// one workspace; the HTTP layer always sets it, so results never leak
// across workspaces a user cannot read.
type Query struct {
	Text              string
	FilterType        ResultType // empty = all types
	FilterWorkspaceID string
	Limit             int
	Offset            int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push entities into a search index.
type Indexer interface {
	IndexWorkspace(w WorkspaceRecord) error
	IndexFolder(f FolderRecord) error
	IndexFile(f FileRecord) error
	DeleteWorkspace(id string) error
	DeleteFolder(id string) error
	DeleteFile(id string) error
}

// WorkspaceRecord is the data we index for a workspace.
type WorkspaceRecord struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	OwnerID string `json:"ownerId"`
}

// FolderRecord is the data we index for a folder.
type FolderRecord struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	WorkspaceID string `json:"workspaceId"`
}

// FileRecord is the data we index for a file. Body is the plain text
// extracted from the editor delta.
type FileRecord struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Body        string `json:"body"`
	FolderID    string `json:"folderId"`
	WorkspaceID string `json:"workspaceId"`
}
