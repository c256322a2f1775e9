// Package history keeps a per-file version trail in plain git
// repositories: every flushed autosave becomes a commit, so restoring or
// inspecting an old revision is a log walk away.
package history

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"inkwell/internal/store"
)

// Version describes one recorded revision of a file.
type Version struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
}

// Content is what a version holds: the title line plus the body as the
// editor produced it.
type Content struct {
	Title string
	Data  string
}

type Service struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(baseDir string) *Service {
	return &Service{
		baseDir: baseDir,
		locks:   make(map[string]*sync.Mutex),
	}
}

// RecordVersion commits the file's current title and body. Unchanged
// content is skipped silently so a flush that persisted a no-op patch does
// not pollute the trail. Satisfies the collab session's Historian.
func (s *Service) RecordVersion(_ context.Context, file store.File, author string) error {
	lock := s.fileLock(file.ID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.ensureRepo(file.ID)
	if err != nil {
		return err
	}

	content := Content{Title: file.Title}
	if file.Data != nil {
		content.Data = *file.Data
	}

	if head, err := s.headContent(repo); err == nil && head == content {
		return nil
	}

	_, err = s.commit(repo, content, author, "Autosave snapshot")
	return err
}

// Versions lists the file's revisions, newest first.
func (s *Service) Versions(fileID string, limit int) ([]Version, error) {
	lock := s.fileLock(fileID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(fileID))
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return nil, nil
		}
		return nil, fmt.Errorf("open repo: %w", err)
	}

	ref, err := repo.Reference(plumbing.NewBranchReferenceName("main"), true)
	if err != nil {
		return nil, fmt.Errorf("resolve main: %w", err)
	}

	iter, err := repo.Log(&git.LogOptions{From: ref.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	versions := make([]Version, 0, limit)
	count := 0
	err = iter.ForEach(func(commitObj *object.Commit) error {
		versions = append(versions, toVersion(commitObj))
		count++
		if limit > 0 && count >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return versions, nil
}

// VersionContent reads the title and body as of one revision.
func (s *Service) VersionContent(fileID, hash string) (Content, error) {
	lock := s.fileLock(fileID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(fileID))
	if err != nil {
		return Content{}, fmt.Errorf("open repo: %w", err)
	}

	resolvedHash, err := resolveHash(repo, hash)
	if err != nil {
		return Content{}, err
	}
	commitObj, err := repo.CommitObject(resolvedHash)
	if err != nil {
		return Content{}, fmt.Errorf("read commit %s: %w", hash, err)
	}
	return readContentFromCommit(commitObj)
}

func (s *Service) repoPath(fileID string) string {
	return filepath.Join(s.baseDir, fileID)
}

func (s *Service) fileLock(fileID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[fileID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[fileID] = lock
	return lock
}

func (s *Service) ensureRepo(fileID string) (*git.Repository, error) {
	path := s.repoPath(fileID)
	if _, err := os.Stat(path); err == nil {
		repo, err := git.PlainOpen(path)
		if err != nil {
			return nil, fmt.Errorf("open repo: %w", err)
		}
		return repo, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("stat repo path: %w", err)
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err := git.PlainInit(path, false)
	if err != nil {
		return nil, fmt.Errorf("init repo: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName("main"))); err != nil {
		return nil, fmt.Errorf("set HEAD to main: %w", err)
	}
	return repo, nil
}

func (s *Service) headContent(repo *git.Repository) (Content, error) {
	ref, err := repo.Reference(plumbing.NewBranchReferenceName("main"), true)
	if err != nil {
		return Content{}, err
	}
	commitObj, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return Content{}, err
	}
	return readContentFromCommit(commitObj)
}

func (s *Service) commit(repo *git.Repository, content Content, author, message string) (plumbing.Hash, error) {
	worktree, err := repo.Worktree()
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("open worktree: %w", err)
	}

	repoRoot := worktree.Filesystem.Root()
	if err := os.WriteFile(filepath.Join(repoRoot, "title"), []byte(content.Title+"\n"), 0o644); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("write title: %w", err)
	}
	if err := os.WriteFile(filepath.Join(repoRoot, "body.json"), []byte(content.Data), 0o644); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("write body: %w", err)
	}

	if _, err := worktree.Add("title"); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("git add title: %w", err)
	}
	if _, err := worktree.Add("body.json"); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("git add body: %w", err)
	}

	hash, err := worktree.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  author,
			Email: fmt.Sprintf("%s@local.inkwell.dev", sanitizeEmail(author)),
			When:  time.Now(),
		},
	})
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("commit content: %w", err)
	}
	return hash, nil
}

func readContentFromCommit(commitObj *object.Commit) (Content, error) {
	title, err := readCommitFile(commitObj, "title")
	if err != nil {
		return Content{}, err
	}
	body, err := readCommitFile(commitObj, "body.json")
	if err != nil {
		return Content{}, err
	}
	if len(title) > 0 && title[len(title)-1] == '\n' {
		title = title[:len(title)-1]
	}
	return Content{Title: title, Data: body}, nil
}

func readCommitFile(commitObj *object.Commit, name string) (string, error) {
	file, err := commitObj.File(name)
	if err != nil {
		return "", fmt.Errorf("load %s from commit: %w", name, err)
	}
	reader, err := file.Reader()
	if err != nil {
		return "", fmt.Errorf("open %s reader: %w", name, err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", name, err)
	}
	return string(data), nil
}

func toVersion(commitObj *object.Commit) Version {
	return Version{
		Hash:      commitObj.Hash.String()[:7],
		Message:   commitObj.Message,
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
	}
}

func sanitizeEmail(input string) string {
	cleaned := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			cleaned = append(cleaned, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' || r == '.' {
			cleaned = append(cleaned, '.')
		}
	}
	if len(cleaned) == 0 {
		return "user"
	}
	return string(cleaned)
}

func resolveHash(repo *git.Repository, hash string) (plumbing.Hash, error) {
	if len(hash) == 40 {
		return plumbing.NewHash(hash), nil
	}
	resolved, err := repo.ResolveRevision(plumbing.Revision(hash))
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("resolve hash %s: %w", hash, err)
	}
	return *resolved, nil
}
