package search

import (
	"context"
	"log"
)

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
type Service struct {
	meili *Meili
	pgfts *PgFTS
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, pgfts *PgFTS) *Service {
	return &Service{meili: meili, pgfts: pgfts}
}

// Search tries Meilisearch if healthy, otherwise falls back to PG FTS.
func (s *Service) Search(q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back to pgfts: %v", err)
	}

	results, total, err := s.pgfts.Search(q)
	if err != nil {
		log.Printf("search: pgfts error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexWorkspace indexes a workspace (fire-and-forget to Meilisearch).
func (s *Service) IndexWorkspace(w WorkspaceRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexWorkspace(w); err != nil {
			log.Printf("search: index workspace %s: %v", w.ID, err)
		}
	}()
}

// IndexFolder indexes a folder (fire-and-forget to Meilisearch).
func (s *Service) IndexFolder(f FolderRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexFolder(f); err != nil {
			log.Printf("search: index folder %s: %v", f.ID, err)
		}
	}()
}

// IndexFile indexes a file (fire-and-forget to Meilisearch).
func (s *Service) IndexFile(f FileRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexFile(f); err != nil {
			log.Printf("search: index file %s: %v", f.ID, err)
		}
	}()
}

// DeleteWorkspace removes a workspace from the search index (fire-and-forget).
func (s *Service) DeleteWorkspace(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteWorkspace(id); err != nil {
			log.Printf("search: delete workspace %s: %v", id, err)
		}
	}()
}

// DeleteFolder removes a folder from the search index (fire-and-forget).
func (s *Service) DeleteFolder(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteFolder(id); err != nil {
			log.Printf("search: delete folder %s: %v", id, err)
		}
	}()
}

// DeleteFile removes a file from the search index (fire-and-forget).
func (s *Service) DeleteFile(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteFile(id); err != nil {
			log.Printf("search: delete file %s: %v", id, err)
		}
	}()
}

// ReindexAll pushes the given records to Meilisearch.
func (s *Service) ReindexAll(workspaces []WorkspaceRecord, folders []FolderRecord, files []FileRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}

	if len(workspaces) > 0 {
		if err := s.meili.IndexWorkspaces(workspaces); err != nil {
			log.Printf("search: reindex workspaces: %v", err)
		}
	}
	if len(folders) > 0 {
		if err := s.meili.IndexFolders(folders); err != nil {
			log.Printf("search: reindex folders: %v", err)
		}
	}
	if len(files) > 0 {
		if err := s.meili.IndexFiles(files); err != nil {
			log.Printf("search: reindex files: %v", err)
		}
	}
}

// ReindexAllFromPG reindexes all searchable entities from PostgreSQL into
// Meilisearch. Called at startup when Meilisearch is healthy.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if s.meili == nil || !s.meili.Healthy() || s.pgfts == nil {
		return
	}
	workspaces, folders, files, err := s.pgfts.LoadAllRecords(ctx)
	if err != nil {
		log.Printf("search: reindex load failed: %v", err)
		return
	}
	s.ReindexAll(workspaces, folders, files)
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
