package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/hpungsan/rulesync/internal/apply"
	"github.com/hpungsan/rulesync/internal/cache"
	"github.com/hpungsan/rulesync/internal/catalogue"
	"github.com/hpungsan/rulesync/internal/config"
	"github.com/hpungsan/rulesync/internal/db"
	"github.com/hpungsan/rulesync/internal/ops"
	"github.com/hpungsan/rulesync/internal/source"
)

const remoteJSON = `[
	{"title": "React Hooks", "slug": "react-hooks", "tags": ["React"], "libs": ["react"],
	 "content": "# Hooks\n\nUse hooks.\n\n<script>alert(1)</script>\n", "author": {"name": "Ada"}},
	{"title": "Go Services", "slug": "go-services", "tags": ["Go"], "libs": [],
	 "content": "Return errors.", "author": {"name": "Rob"}}
]`

// setupTestEnv wires a catalogue backed by a temporary database and an httptest remote.
func setupTestEnv(t *testing.T) *env {
	t.Helper()

	remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(remoteJSON))
	}))
	t.Cleanup(remote.Close)

	database, err := db.Init(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	store := cache.NewSQLite(database)

	cat := catalogue.New(catalogue.Options{
		Cache: store,
		Runs:  store,
		Local: &source.Local{
			FS:     fstest.MapFS{"rules.json": {Data: []byte(`[{"title":"Bundled","slug":"bundled","content":"b"}]`)}},
			Dir:    ".",
			Logger: zerolog.Nop(),
		},
		Remote: source.NewRemote(remote.URL, 5*time.Second, 0),
		Logger: zerolog.Nop(),
	})
	return &env{cfg: config.DefaultConfig(), cat: cat}
}

// runCLI runs the app and returns what it wrote to stdout and stderr.
func runCLI(t *testing.T, e *env, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	app := newCLIApp(e)
	app.Writer = &stdout
	app.ErrWriter = &stderr
	err := app.RunContext(context.Background(), append([]string{"rulesync"}, args...))
	return stdout.String(), stderr.String(), err
}

func TestCLIList(t *testing.T) {
	e := setupTestEnv(t)

	out, _, err := runCLI(t, e, "list")
	require.NoError(t, err)

	var output ops.ListOutput
	require.NoError(t, json.Unmarshal([]byte(out), &output))
	require.Len(t, output.Items, 2)
	require.Nil(t, output.Items[0].Content)
	require.NotNil(t, output.LastSync)

	out, _, err = runCLI(t, e, "list", "--tag=go", "--content")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &output))
	require.Len(t, output.Items, 1)
	require.Equal(t, "go-services", output.Items[0].Slug)
	require.NotNil(t, output.Items[0].Content)
	require.True(t, strings.HasPrefix(out, "{\n  \""), "output should be indented")
}

func TestCLIShow(t *testing.T) {
	e := setupTestEnv(t)

	out, _, err := runCLI(t, e, "show", "react-hooks")
	require.NoError(t, err)
	var output ops.ShowOutput
	require.NoError(t, json.Unmarshal([]byte(out), &output))
	require.Equal(t, "React Hooks", output.Rule.Title)
	require.Len(t, output.Outline, 1)

	out, _, err = runCLI(t, e, "show", "--html", "react-hooks")
	require.NoError(t, err)
	require.Contains(t, out, "<h1>Hooks</h1>")
	require.NotContains(t, out, "<script>")
}

func TestCLIShow_Errors(t *testing.T) {
	e := setupTestEnv(t)

	_, _, err := runCLI(t, e, "show", "nope")
	require.Error(t, err)
	require.Contains(t, err.Error(), "[NOT_FOUND]")

	_, _, err = runCLI(t, e, "show")
	require.Error(t, err)
	require.Contains(t, err.Error(), "[INVALID_REQUEST]")
}

func TestCLICategories(t *testing.T) {
	e := setupTestEnv(t)

	out, _, err := runCLI(t, e, "categories")
	require.NoError(t, err)
	var output ops.CategoriesOutput
	require.NoError(t, json.Unmarshal([]byte(out), &output))
	require.Len(t, output.Categories, 2)
	require.Equal(t, 2, output.Total)
}

func TestCLISyncAndStatus(t *testing.T) {
	e := setupTestEnv(t)

	out, _, err := runCLI(t, e, "sync")
	require.NoError(t, err)
	var synced struct {
		Count    int   `json:"count"`
		LastSync int64 `json:"last_sync"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &synced))
	require.Equal(t, 2, synced.Count)
	require.Positive(t, synced.LastSync)

	out, _, err = runCLI(t, e, "status", "--runs=5")
	require.NoError(t, err)
	var status ops.StatusOutput
	require.NoError(t, json.Unmarshal([]byte(out), &status))
	require.Equal(t, 2, status.CachedCount)
	require.False(t, status.NeedsSync)
	require.Len(t, status.Runs, 1)
	require.Equal(t, catalogue.TriggerManual, status.Runs[0].Trigger)
}

func TestCLIApply(t *testing.T) {
	e := setupTestEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, ".cursorrules")

	old := stdinInteractive
	stdinInteractive = func() bool { return false }
	t.Cleanup(func() { stdinInteractive = old })

	out, stderr, err := runCLI(t, e, "apply", "--dir", dir, "go-services")
	require.NoError(t, err)
	var output ops.ApplyOutput
	require.NoError(t, json.Unmarshal([]byte(out), &output))
	require.True(t, output.Applied)
	require.Equal(t, path, output.Path)
	require.Contains(t, stderr, "Successfully applied rule: Go Services")

	// Not a terminal and no --yes: the existing file is kept.
	out, _, err = runCLI(t, e, "apply", "--dir", dir, "react-hooks")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &output))
	require.False(t, output.Applied)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "Return errors.", string(data))

	out, _, err = runCLI(t, e, "apply", "--dir", dir, "--yes", "react-hooks")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &output))
	require.True(t, output.Applied)
	require.True(t, output.Overwrote)
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "Use hooks.")
}

func TestCLIApply_Target(t *testing.T) {
	e := setupTestEnv(t)
	dir := t.TempDir()

	_, _, err := runCLI(t, e, "apply", "--dir", dir, "--target", "rules/go.md", "go-services")
	require.Error(t, err)
	require.Contains(t, err.Error(), "[WRITE_ERROR]")

	require.NoError(t, os.Mkdir(filepath.Join(dir, "rules"), 0o755))
	_, _, err = runCLI(t, e, "apply", "--dir", dir, "--target", "rules/go.md", "go-services")
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "rules", "go.md"))
	require.NoError(t, err)
}

func TestCLIApply_OutsideWorkspace(t *testing.T) {
	e := setupTestEnv(t)
	dir := t.TempDir()
	outside := filepath.Join(t.TempDir(), "go.md")

	_, _, err := runCLI(t, e, "apply", "--dir", dir, "--target", outside, "go-services")
	require.Error(t, err)
	require.Contains(t, err.Error(), "[INVALID_REQUEST]")
	_, err = os.Stat(outside)
	require.True(t, os.IsNotExist(err))

	_, _, err = runCLI(t, e, "apply", "--dir", dir, "--target", outside, "--allow-outside-workspace", "go-services")
	require.NoError(t, err)
	data, err := os.ReadFile(outside)
	require.NoError(t, err)
	require.Equal(t, "Return errors.", string(data))
}

func TestPromptConfirmer(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  bool
	}{
		{"yes", "y\n", true},
		{"yes word", "YES\n", true},
		{"no", "n\n", false},
		{"empty", "\n", false},
		{"eof", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var prompt bytes.Buffer
			p := &promptConfirmer{in: strings.NewReader(tt.input), out: &prompt, interactive: true}
			got, err := p.Confirm(context.Background(), apply.OverwritePrompt(".cursorrules"))
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
			require.Contains(t, prompt.String(), "A .cursorrules file already exists")
			require.Contains(t, prompt.String(), "[y/N]")
		})
	}
}

func TestPromptConfirmer_Cancelled(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := &promptConfirmer{in: r, out: &bytes.Buffer{}, interactive: true}
	_, err := p.Confirm(ctx, "overwrite?")
	require.ErrorIs(t, err, context.Canceled)
}

func TestPromptConfirmer_NonInteractive(t *testing.T) {
	p := &promptConfirmer{in: strings.NewReader("y\n"), out: &bytes.Buffer{}}
	got, err := p.Confirm(context.Background(), "overwrite?")
	require.NoError(t, err)
	require.False(t, got)

	p.assumeYes = true
	got, err = p.Confirm(context.Background(), "overwrite?")
	require.NoError(t, err)
	require.True(t, got)
}

func TestIsCLIMode(t *testing.T) {
	tests := []struct {
		args []string
		want bool
	}{
		{[]string{"rulesync"}, false},
		{[]string{"rulesync", "list"}, true},
		{[]string{"rulesync", "apply", "go"}, true},
		{[]string{"rulesync", "serve"}, true},
		{[]string{"rulesync", "--help"}, true},
		{[]string{"rulesync", "--version"}, true},
		{[]string{"rulesync", "unknown"}, false},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, isCLIMode(tt.args), "args %v", tt.args)
	}
}

func TestIsHelpOrVersion(t *testing.T) {
	require.False(t, isHelpOrVersion([]string{"rulesync"}))
	require.False(t, isHelpOrVersion([]string{"rulesync", "list"}))
	require.True(t, isHelpOrVersion([]string{"rulesync", "help"}))
	require.True(t, isHelpOrVersion([]string{"rulesync", "-h"}))
	require.True(t, isHelpOrVersion([]string{"rulesync", "-v"}))
}

func TestOpenStore(t *testing.T) {
	for _, backend := range []string{config.CacheBackendSQLite, config.CacheBackendBolt} {
		t.Run(backend, func(t *testing.T) {
			cfg := config.DefaultConfig()
			cfg.CacheBackend = backend

			st, closeStore, err := openStore(t.TempDir(), cfg)
			require.NoError(t, err)
			defer closeStore()

			snap, err := st.Get(context.Background())
			require.NoError(t, err)
			require.Nil(t, snap)
		})
	}
}
