package search

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
)

const (
	idxWorkspaces = "inkwell_workspaces"
	idxFolders    = "inkwell_folders"
	idxFiles      = "inkwell_files"
)

// Meili implements Searcher and Indexer via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures indexes. An
// unreachable Meilisearch is not fatal; the health loop keeps probing and
// reconfigures on recovery.
func NewMeili(url, apiKey string) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		done:   make(chan struct{}),
	}

	if _, err := client.Health(); err != nil {
		log.Printf("search: meilisearch unavailable at %s: %v", url, err)
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndexes()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndexes() {
	indexes := []struct {
		uid        string
		primaryKey string
		filterable []string
		searchable []string
	}{
		{
			uid:        idxWorkspaces,
			primaryKey: "id",
			filterable: []string{"ownerId"},
			searchable: []string{"title"},
		},
		{
			uid:        idxFolders,
			primaryKey: "id",
			filterable: []string{"workspaceId"},
			searchable: []string{"title"},
		},
		{
			uid:        idxFiles,
			primaryKey: "id",
			filterable: []string{"workspaceId", "folderId"},
			searchable: []string{"title", "body"},
		},
	}

	for _, idx := range indexes {
		if _, err := m.client.CreateIndex(&meili.IndexConfig{
			Uid:        idx.uid,
			PrimaryKey: idx.primaryKey,
		}); err != nil {
			log.Printf("search: create index %s (may already exist): %v", idx.uid, err)
		}

		index := m.client.Index(idx.uid)
		filterableInterface := make([]interface{}, len(idx.filterable))
		for i, v := range idx.filterable {
			filterableInterface[i] = v
		}
		if _, err := index.UpdateFilterableAttributes(&filterableInterface); err != nil {
			log.Printf("search: update filterable attrs for %s: %v", idx.uid, err)
		}
		if _, err := index.UpdateSearchableAttributes(&idx.searchable); err != nil {
			log.Printf("search: update searchable attrs for %s: %v", idx.uid, err)
		}
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				log.Println("search: meilisearch recovered, reconfiguring indexes")
				m.configureIndexes()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

// Healthy reports whether Meilisearch is reachable.
func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// Search queries all three indexes (or a filtered subset) and merges results.
func (m *Meili) Search(q Query) ([]Result, int, error) {
	if !m.healthy.Load() {
		return nil, 0, fmt.Errorf("meilisearch unhealthy")
	}

	limit := int64(q.Limit)
	if limit == 0 {
		limit = 20
	}

	var queries []*meili.SearchRequest
	targetIndexes := []struct {
		uid  string
		rtyp ResultType
	}{
		{idxWorkspaces, ResultWorkspace},
		{idxFolders, ResultFolder},
		{idxFiles, ResultFile},
	}

	for _, ti := range targetIndexes {
		if q.FilterType != "" && q.FilterType != ti.rtyp {
			continue
		}
		// Workspace rows carry no workspaceId attribute; a scoped query
		// matches the workspace itself by primary key instead.
		if ti.rtyp == ResultWorkspace && q.FilterWorkspaceID != "" {
			continue
		}
		sr := &meili.SearchRequest{
			IndexUID:              ti.uid,
			Limit:                 limit,
			Offset:                int64(q.Offset),
			AttributesToHighlight: []string{"*"},
			HighlightPreTag:       "<mark>",
			HighlightPostTag:      "</mark>",
			ShowRankingScore:      true,
		}

		if q.FilterWorkspaceID != "" {
			sr.Filter = []string{fmt.Sprintf("workspaceId = %q", q.FilterWorkspaceID)}
		}
		queries = append(queries, sr)
	}

	if len(queries) == 0 {
		return nil, 0, nil
	}

	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{
		Queries: queries,
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch multi-search: %w", err)
	}

	var results []Result
	total := 0
	for _, sr := range resp.Results {
		total += int(sr.EstimatedTotalHits)
		rtyp := indexToResultType(sr.IndexUID)
		for _, hit := range sr.Hits {
			results = append(results, hitToResult(hit, rtyp))
		}
	}

	return results, total, nil
}

func indexToResultType(uid string) ResultType {
	switch uid {
	case idxWorkspaces:
		return ResultWorkspace
	case idxFolders:
		return ResultFolder
	case idxFiles:
		return ResultFile
	default:
		return ""
	}
}

func hitToResult(hit meili.Hit, rtyp ResultType) Result {
	r := Result{Type: rtyp}
	r.ID = decodeString(hit, "id")
	r.WorkspaceID = decodeString(hit, "workspaceId")
	r.FolderID = decodeString(hit, "folderId")
	r.Title = firstNonBlank(decodeFormattedString(hit, "title"), decodeString(hit, "title"))

	switch rtyp {
	case ResultWorkspace:
		r.WorkspaceID = r.ID
	case ResultFile:
		r.Snippet = firstNonBlank(decodeFormattedString(hit, "body"), decodeString(hit, "body"))
	}
	return r
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func decodeFormattedString(hit meili.Hit, key string) string {
	raw, ok := hit["_formatted"]
	if !ok {
		return ""
	}
	var formatted map[string]string
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	return strings.TrimSpace(formatted[key])
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

// IndexWorkspace adds or updates a workspace in the search index.
func (m *Meili) IndexWorkspace(w WorkspaceRecord) error {
	_, err := m.client.Index(idxWorkspaces).AddDocuments([]WorkspaceRecord{w}, nil)
	return err
}

// IndexFolder adds or updates a folder in the search index.
func (m *Meili) IndexFolder(f FolderRecord) error {
	_, err := m.client.Index(idxFolders).AddDocuments([]FolderRecord{f}, nil)
	return err
}

// IndexFile adds or updates a file in the search index.
func (m *Meili) IndexFile(f FileRecord) error {
	_, err := m.client.Index(idxFiles).AddDocuments([]FileRecord{f}, nil)
	return err
}

// DeleteWorkspace removes a workspace from the search index.
func (m *Meili) DeleteWorkspace(id string) error {
	_, err := m.client.Index(idxWorkspaces).DeleteDocument(id, nil)
	return err
}

// DeleteFolder removes a folder from the search index.
func (m *Meili) DeleteFolder(id string) error {
	_, err := m.client.Index(idxFolders).DeleteDocument(id, nil)
	return err
}

// DeleteFile removes a file from the search index.
func (m *Meili) DeleteFile(id string) error {
	_, err := m.client.Index(idxFiles).DeleteDocument(id, nil)
	return err
}

// IndexWorkspaces bulk-indexes workspaces.
func (m *Meili) IndexWorkspaces(workspaces []WorkspaceRecord) error {
	if len(workspaces) == 0 {
		return nil
	}
	_, err := m.client.Index(idxWorkspaces).AddDocuments(workspaces, nil)
	return err
}

// IndexFolders bulk-indexes folders.
func (m *Meili) IndexFolders(folders []FolderRecord) error {
	if len(folders) == 0 {
		return nil
	}
	_, err := m.client.Index(idxFolders).AddDocuments(folders, nil)
	return err
}

// IndexFiles bulk-indexes files.
func (m *Meili) IndexFiles(files []FileRecord) error {
	if len(files) == 0 {
		return nil
	}
	_, err := m.client.Index(idxFiles).AddDocuments(files, nil)
	return err
}
