// Package apply writes a selected rule into the workspace's rules file.
package apply

import (
	"context"
	stderrors "errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/hpungsan/rulesync/internal/errors"
	"github.com/hpungsan/rulesync/internal/metrics"
	"github.com/hpungsan/rulesync/internal/rule"
)

// DefaultFileName is the rules file written at the workspace root.
const DefaultFileName = ".cursorrules"

// WorkspaceResolver reports the root of the open workspace, if any.
type WorkspaceResolver interface {
	Root(ctx context.Context) (string, bool)
}

// Confirmer asks the user a yes/no question. Returning false declines.
type Confirmer interface {
	Confirm(ctx context.Context, message string) (bool, error)
}

// Notifier surfaces the outcome of an apply to the user.
type Notifier interface {
	Info(ctx context.Context, message string)
	Error(ctx context.Context, message string)
}

// Dir is a WorkspaceResolver for a fixed directory. The empty Dir means no workspace.
type Dir string

// Root implements WorkspaceResolver.
func (d Dir) Root(context.Context) (string, bool) {
	return string(d), d != ""
}

// Answer is a Confirmer that always gives the same answer.
type Answer bool

// Confirm implements Confirmer.
func (a Answer) Confirm(context.Context, string) (bool, error) {
	return bool(a), nil
}

// Result describes what Apply did.
type Result struct {
	Applied   bool   `json:"applied"`
	Path      string `json:"path,omitempty"`
	Overwrote bool   `json:"overwrote"`
}

// Applier writes rule content to the workspace. Notify and Logger are optional.
type Applier struct {
	Workspace WorkspaceResolver
	Confirm   Confirmer
	Notify    Notifier
	FileName  string
	Logger    zerolog.Logger

	// AllowOutsideWorkspace permits targets outside the workspace root.
	// Only the CLI sets it, on explicit request.
	AllowOutsideWorkspace bool
}

// OverwritePrompt is the question asked before replacing an existing rules file.
func OverwritePrompt(name string) string {
	return fmt.Sprintf("A %s file already exists. Do you want to overwrite it?", name)
}

// Apply writes entry.Content to target, or to <workspace root>/<FileName> when target
// is empty. A relative target is resolved against the workspace root; a target
// outside the root is refused unless AllowOutsideWorkspace is set. An existing
// file is replaced only after confirmation; declining returns Applied=false and no error.
func (a *Applier) Apply(ctx context.Context, entry rule.Entry, target string) (Result, error) {
	root, ok := a.Workspace.Root(ctx)
	if !ok {
		err := errors.NewNoWorkspace()
		a.fail(ctx, err)
		return Result{}, err
	}

	path := a.targetPath(root, target)
	res := Result{Path: path}

	if err := ValidateTarget(root, target, path, a.AllowOutsideWorkspace); err != nil {
		a.fail(ctx, err)
		return res, err
	}

	_, statErr := os.Lstat(path)
	exists := statErr == nil
	if statErr != nil && !stderrors.Is(statErr, fs.ErrNotExist) {
		err := errors.NewWrite(path, statErr)
		a.fail(ctx, err)
		return res, err
	}

	if exists {
		yes, err := a.Confirm.Confirm(ctx, OverwritePrompt(filepath.Base(path)))
		if err != nil {
			if ctx.Err() != nil {
				return res, errors.NewCancelled("apply")
			}
			return res, err
		}
		if !yes {
			a.Logger.Debug().Str("path", path).Str("slug", entry.Slug).Msg("overwrite declined")
			metrics.RulesApplied.WithLabelValues("declined").Inc()
			return res, nil
		}
	}

	if err := writeFile(path, entry.Content); err != nil {
		werr := errors.NewWrite(path, err)
		a.fail(ctx, werr)
		return res, werr
	}

	res.Applied = true
	res.Overwrote = exists
	metrics.RulesApplied.WithLabelValues("applied").Inc()
	a.Logger.Info().Str("path", path).Str("slug", entry.Slug).Bool("overwrote", exists).Msg("rule applied")
	if a.Notify != nil {
		a.Notify.Info(ctx, fmt.Sprintf("Successfully applied rule: %s", entry.Title))
	}
	return res, nil
}

func (a *Applier) targetPath(root, target string) string {
	if target == "" {
		name := a.FileName
		if name == "" {
			name = DefaultFileName
		}
		return filepath.Join(root, name)
	}
	if filepath.IsAbs(target) {
		return filepath.Clean(target)
	}
	return filepath.Join(root, target)
}

func (a *Applier) fail(ctx context.Context, err *errors.RulesError) {
	metrics.RulesApplied.WithLabelValues("error").Inc()
	a.Logger.Warn().Err(err).Msg("apply failed")
	if a.Notify != nil {
		a.Notify.Error(ctx, err.Message)
	}
}

// writeFile replaces path with content. No backup, no merge.
func writeFile(path, content string) error {
	f, err := openFileNoFollow(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(content); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
