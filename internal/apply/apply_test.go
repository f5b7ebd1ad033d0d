package apply

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/hpungsan/rulesync/internal/errors"
	"github.com/hpungsan/rulesync/internal/rule"
)

type recordingNotifier struct {
	mu     sync.Mutex
	infos  []string
	errors []string
}

func (n *recordingNotifier) Info(_ context.Context, msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.infos = append(n.infos, msg)
}

func (n *recordingNotifier) Error(_ context.Context, msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.errors = append(n.errors, msg)
}

type recordingConfirmer struct {
	answer   bool
	err      error
	messages []string
}

func (c *recordingConfirmer) Confirm(_ context.Context, msg string) (bool, error) {
	c.messages = append(c.messages, msg)
	return c.answer, c.err
}

var sample = rule.Entry{Title: "React Hooks", Slug: "react-hooks", Content: "Use hooks.\nNo classes.\n"}

func newApplier(dir string, confirm Confirmer, n Notifier) *Applier {
	return &Applier{Workspace: Dir(dir), Confirm: confirm, Notify: n, Logger: zerolog.Nop()}
}

func TestApply_WritesNewFile(t *testing.T) {
	dir := t.TempDir()
	confirm := &recordingConfirmer{}
	n := &recordingNotifier{}

	res, err := newApplier(dir, confirm, n).Apply(context.Background(), sample, "")
	require.NoError(t, err)
	require.True(t, res.Applied)
	require.False(t, res.Overwrote)
	require.Equal(t, filepath.Join(dir, ".cursorrules"), res.Path)

	data, err := os.ReadFile(res.Path)
	require.NoError(t, err)
	require.Equal(t, sample.Content, string(data))

	require.Empty(t, confirm.messages, "no prompt when the file does not exist")
	require.Equal(t, []string{"Successfully applied rule: React Hooks"}, n.infos)
	require.Empty(t, n.errors)
}

func TestApply_OverwriteReplacesNotMerges(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".cursorrules")
	require.NoError(t, os.WriteFile(path, []byte("OLD CONTENT THAT IS MUCH LONGER THAN THE NEW CONTENT\n"), 0644))

	confirm := &recordingConfirmer{answer: true}
	res, err := newApplier(dir, confirm, nil).Apply(context.Background(), sample, "")
	require.NoError(t, err)
	require.True(t, res.Applied)
	require.True(t, res.Overwrote)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, sample.Content, string(data))
	require.Equal(t, []string{"A .cursorrules file already exists. Do you want to overwrite it?"}, confirm.messages)
}

func TestApply_DeclineLeavesFileUntouched(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".cursorrules")
	original := []byte("keep me\n")
	require.NoError(t, os.WriteFile(path, original, 0644))

	n := &recordingNotifier{}
	res, err := newApplier(dir, Answer(false), n).Apply(context.Background(), sample, "")
	require.NoError(t, err)
	require.False(t, res.Applied)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, original, data)
	require.Empty(t, n.infos)
	require.Empty(t, n.errors)
}

func TestApply_NoWorkspace(t *testing.T) {
	n := &recordingNotifier{}

	_, err := newApplier("", Answer(true), n).Apply(context.Background(), sample, "")
	require.True(t, errors.Is(err, errors.ErrNoWorkspace), "got %v", err)
	require.Equal(t, []string{"No workspace folder available"}, n.errors)
	require.Empty(t, n.infos)
}

func TestApply_WriteFailure(t *testing.T) {
	dir := t.TempDir()
	n := &recordingNotifier{}

	// The parent of the target does not exist.
	_, err := newApplier(dir, Answer(true), n).Apply(context.Background(), sample, filepath.Join("missing", "rules.md"))
	require.True(t, errors.Is(err, errors.ErrWrite), "got %v", err)
	require.Len(t, n.errors, 1)
}

func TestApply_RefusesSymlink(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}
	dir := t.TempDir()
	outside := filepath.Join(t.TempDir(), "victim")
	require.NoError(t, os.WriteFile(outside, []byte("secret"), 0644))
	require.NoError(t, os.Symlink(outside, filepath.Join(dir, ".cursorrules")))

	_, err := newApplier(dir, Answer(true), nil).Apply(context.Background(), sample, "")
	require.True(t, errors.Is(err, errors.ErrWrite), "got %v", err)

	data, err := os.ReadFile(outside)
	require.NoError(t, err)
	require.Equal(t, "secret", string(data))
}

func TestApply_TargetResolution(t *testing.T) {
	dir := t.TempDir()
	abs := filepath.Join(t.TempDir(), "abs.md")

	a := newApplier(dir, Answer(true), nil)
	a.FileName = ".windsurfrules"

	res, err := a.Apply(context.Background(), sample, "")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, ".windsurfrules"), res.Path)

	res, err = a.Apply(context.Background(), sample, "custom.md")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "custom.md"), res.Path)

	inside := filepath.Join(dir, "nested.md")
	res, err = a.Apply(context.Background(), sample, inside)
	require.NoError(t, err)
	require.Equal(t, inside, res.Path)

	a.AllowOutsideWorkspace = true
	res, err = a.Apply(context.Background(), sample, abs)
	require.NoError(t, err)
	require.Equal(t, abs, res.Path)
}

func TestApply_RefusesTargetOutsideWorkspace(t *testing.T) {
	dir := t.TempDir()
	outsideDir := t.TempDir()
	victim := filepath.Join(outsideDir, ".bashrc")
	require.NoError(t, os.WriteFile(victim, []byte("export PATH\n"), 0644))

	tests := []struct {
		name   string
		target string
	}{
		{"absolute outside", victim},
		{"traversal", filepath.Join("..", filepath.Base(outsideDir), ".bashrc")},
		{"traversal inside", filepath.Join("sub", "..", ".cursorrules")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := &recordingNotifier{}
			_, err := newApplier(dir, Answer(true), n).Apply(context.Background(), sample, tt.target)
			require.True(t, errors.Is(err, errors.ErrInvalidRequest), "got %v", err)
			require.Len(t, n.errors, 1)

			data, err := os.ReadFile(victim)
			require.NoError(t, err)
			require.Equal(t, "export PATH\n", string(data))
		})
	}
}

func TestApply_RefusesSymlinkedDirectory(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}
	dir := t.TempDir()
	outsideDir := t.TempDir()
	require.NoError(t, os.Symlink(outsideDir, filepath.Join(dir, "link")))

	_, err := newApplier(dir, Answer(true), nil).Apply(context.Background(), sample, filepath.Join("link", "rules.md"))
	require.True(t, errors.Is(err, errors.ErrInvalidRequest), "got %v", err)

	_, err = os.Stat(filepath.Join(outsideDir, "rules.md"))
	require.True(t, os.IsNotExist(err))
}

func TestApply_ConfirmCancelled(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".cursorrules"), []byte("x"), 0644))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newApplier(dir, &recordingConfirmer{err: context.Canceled}, nil).Apply(ctx, sample, "")
	require.True(t, errors.Is(err, errors.ErrCancelled), "got %v", err)
}
