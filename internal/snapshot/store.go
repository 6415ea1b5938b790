// Package snapshot keeps the history of the final store in a git repository,
// one commit per promotion.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/cache"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/storage/filesystem"
)

// ErrNothingToCommit is returned by Commit when the worktree has no changes
var ErrNothingToCommit = errors.New("nothing to commit")

const (
	defaultAuthorName  = "cc-promote"
	defaultAuthorEmail = "cc-promote@localhost"
)

// Entry is one commit of the store history
type Entry struct {
	Hash    string    `json:"hash"`
	Message string    `json:"message"`
	When    time.Time `json:"when"`
}

// Option configures a Store
type Option func(*Store)

// WithAuthor sets the commit author
func WithAuthor(name, email string) Option {
	return func(s *Store) {
		s.authorName = name
		s.authorEmail = email
	}
}

// WithClock overrides the commit timestamp clock
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// Store is a git repository over a worktree filesystem
type Store struct {
	repo        *git.Repository
	authorName  string
	authorEmail string
	now         func() time.Time
}

// Open opens the repository at dir, initialising it when dir has none
func Open(dir string, opts ...Option) (*Store, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve store path: %w", err)
	}
	wt := osfs.New(abs)
	dot := osfs.New(filepath.Join(abs, git.GitDirName))
	return New(wt, dot, opts...)
}

// New opens or initialises a repository whose objects live in dot and whose
// checked out files live in wt
func New(wt, dot billy.Filesystem, opts ...Option) (*Store, error) {
	storer := filesystem.NewStorage(dot, cache.NewObjectLRUDefault())

	repo, err := git.Open(storer, wt)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		slog.Debug("Initialising snapshot repository", "path", wt.Root())
		repo, err = git.Init(storer, wt)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot repository: %w", err)
	}

	s := &Store{
		repo:        repo,
		authorName:  defaultAuthorName,
		authorEmail: defaultAuthorEmail,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Commit stages every change in the worktree, deletions included, and
// commits it with message. It returns the new commit hash.
func (s *Store) Commit(ctx context.Context, message string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	wt, err := s.repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("failed to get worktree: %w", err)
	}
	if err := wt.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		return "", fmt.Errorf("failed to stage changes: %w", err)
	}

	status, err := wt.Status()
	if err != nil {
		return "", fmt.Errorf("failed to get worktree status: %w", err)
	}
	if status.IsClean() {
		return "", ErrNothingToCommit
	}

	hash, err := wt.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  s.authorName,
			Email: s.authorEmail,
			When:  s.now(),
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to commit: %w", err)
	}
	slog.InfoContext(ctx, "Committed store snapshot", "commit", hash.String(), "message", message)
	return hash.String(), nil
}

// History returns up to limit commits, newest first. limit <= 0 returns all.
func (s *Store) History(limit int) ([]Entry, error) {
	head, err := s.repo.Head()
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get HEAD reference: %w", err)
	}

	iter, err := s.repo.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}
	defer iter.Close()

	var entries []Entry
	for limit <= 0 || len(entries) < limit {
		c, err := iter.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read commit: %w", err)
		}
		entries = append(entries, Entry{Hash: c.Hash.String(), Message: c.Message, When: c.Author.When})
	}
	return entries, nil
}

// FileAt returns the content of path as of the commit hash
func (s *Store) FileAt(hash, path string) ([]byte, error) {
	commit, err := s.repo.CommitObject(plumbing.NewHash(hash))
	if err != nil {
		return nil, fmt.Errorf("failed to get commit %s: %w", hash, err)
	}
	tree, err := commit.Tree()
	if err != nil {
		return nil, fmt.Errorf("failed to get tree: %w", err)
	}
	file, err := tree.File(filepath.ToSlash(path))
	if err != nil {
		return nil, fmt.Errorf("failed to get file %s: %w", path, err)
	}
	content, err := file.Contents()
	if err != nil {
		return nil, fmt.Errorf("failed to read file contents: %w", err)
	}
	return []byte(content), nil
}
