// Package vcs records lake changes with an external version-control system.
// A recorder failure never undoes an ingestion; callers report it as a warning.
package vcs

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/rs/zerolog"

	lakeerrors "github.com/logflow/datalake/pkg/errors"
)

// DefaultMessageTemplate is the commit message used for a new table.
const DefaultMessageTemplate = "Add table: {{name}}"

// Fallback identity when neither the repository nor the user config names one.
const (
	DefaultAuthorName  = "datalake"
	DefaultAuthorEmail = "datalake@localhost"
)

// Recorder persists a set of changed paths under a message.
type Recorder interface {
	RecordChange(ctx context.Context, paths []string, message string) error
}

// Noop discards every change.
type Noop struct{}

// RecordChange implements Recorder.
func (Noop) RecordChange(context.Context, []string, string) error { return nil }

// Message expands {{name}} and {{id}} in tmpl.
func Message(tmpl, name string, id int64) string {
	if tmpl == "" {
		tmpl = DefaultMessageTemplate
	}
	return strings.NewReplacer(
		"{{name}}", name,
		"{{id}}", strconv.FormatInt(id, 10),
	).Replace(tmpl)
}

// Git stages and commits paths in the repository rooted at Dir. It works
// in-process and needs no git binary.
type Git struct {
	Dir string
	// Author overrides the identity read from git config.
	Author *object.Signature

	now func() time.Time
	log zerolog.Logger
}

// NewGit returns a recorder for the repository rooted at dir.
func NewGit(dir string, log zerolog.Logger) *Git {
	return &Git{
		Dir: dir,
		now: time.Now,
		log: log.With().Str("component", "vcs").Logger(),
	}
}

// Init creates the repository unless dir already holds one.
func (g *Git) Init(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return g.wrap(err, "init")
	}
	_, err := git.PlainOpen(g.Dir)
	if err == nil {
		return nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return g.wrap(err, "open")
	}
	if _, err := git.PlainInit(g.Dir, false); err != nil {
		return g.wrap(err, "init")
	}
	g.log.Info().Str("dir", g.Dir).Msg("initialized git repository")
	return nil
}

// RecordChange stages paths, relative to Dir, and commits the index.
func (g *Git) RecordChange(ctx context.Context, paths []string, message string) error {
	if len(paths) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return g.wrap(err, "commit")
	}

	repo, err := git.PlainOpen(g.Dir)
	if err != nil {
		return g.wrap(err, "open")
	}
	wt, err := repo.Worktree()
	if err != nil {
		return g.wrap(err, "open")
	}

	for _, p := range paths {
		if _, err := wt.Add(p); err != nil {
			return g.wrap(err, "add").WithContext("path", p)
		}
	}

	sig := g.signature(repo)
	hash, err := wt.Commit(message, &git.CommitOptions{Author: sig, Committer: sig})
	if err != nil {
		return g.wrap(err, "commit")
	}

	g.log.Debug().Strs("paths", paths).Str("commit", hash.String()).Str("message", message).Msg("recorded change")
	return nil
}

func (g *Git) signature(repo *git.Repository) *object.Signature {
	now := time.Now
	if g.now != nil {
		now = g.now
	}
	if g.Author != nil {
		sig := *g.Author
		if sig.When.IsZero() {
			sig.When = now()
		}
		return &sig
	}

	sig := &object.Signature{Name: DefaultAuthorName, Email: DefaultAuthorEmail, When: now()}
	cfg, err := repo.ConfigScoped(gitconfig.GlobalScope)
	if err != nil {
		return sig
	}
	if cfg.User.Name != "" {
		sig.Name = cfg.User.Name
	}
	if cfg.User.Email != "" {
		sig.Email = cfg.User.Email
	}
	return sig
}

func (g *Git) wrap(err error, op string) *lakeerrors.LakeError {
	return lakeerrors.Wrap(err, lakeerrors.CodeVersionControl, "version control "+op+" failed").
		WithContext("dir", g.Dir)
}
