// Package source loads rule entries from the bundled catalogue and the remote endpoint.
package source

import (
	"context"
	"embed"
	stderrors "errors"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/hpungsan/rulesync/internal/errors"
	"github.com/hpungsan/rulesync/internal/rule"
)

//go:embed catalogue
var bundled embed.FS

// Local reads the catalogue shipped with the binary, or a directory that replaces it.
// Load never fails: unreadable files and invalid entries are skipped with a warning.
type Local struct {
	FS     fs.FS
	Dir    string
	Logger zerolog.Logger
}

// Bundled returns a Local backed by the embedded catalogue.
func Bundled(logger zerolog.Logger) *Local {
	return &Local{FS: bundled, Dir: "catalogue", Logger: logger}
}

// FromDir returns a Local reading an on-disk directory.
func FromDir(dir string, logger zerolog.Logger) *Local {
	return &Local{FS: os.DirFS(dir), Dir: ".", Logger: logger}
}

// Load returns every valid entry, files in lexical order, entries in file order.
func (l *Local) Load(ctx context.Context) []rule.Entry {
	dir := l.Dir
	if dir == "" {
		dir = "."
	}

	dirEntries, err := fs.ReadDir(l.FS, dir)
	if err != nil {
		ev := l.Logger.Warn().Str("code", string(errors.ErrLocalSourceEmpty)).Str("dir", dir)
		if !stderrors.Is(err, fs.ErrNotExist) {
			ev = ev.Err(err)
		}
		ev.Msg("local catalogue unavailable")
		return []rule.Entry{}
	}

	names := make([]string, 0, len(dirEntries))
	for _, de := range dirEntries {
		if de.IsDir() || catalogueFormat(de.Name()) == "" {
			continue
		}
		names = append(names, de.Name())
	}
	sort.Strings(names)

	entries := make([]rule.Entry, 0)
	for _, name := range names {
		if ctx.Err() != nil {
			break
		}
		entries = append(entries, l.loadFile(path.Join(dir, name))...)
	}

	if len(entries) == 0 {
		l.Logger.Warn().Str("code", string(errors.ErrLocalSourceEmpty)).Str("dir", dir).Msg("local catalogue has no valid rules")
	}
	return entries
}

func (l *Local) loadFile(name string) []rule.Entry {
	data, err := fs.ReadFile(l.FS, name)
	if err != nil {
		l.Logger.Warn().Err(err).Str("file", name).Msg("skipping unreadable catalogue file")
		return nil
	}

	var (
		entries []rule.Entry
		diags   []rule.Diagnostic
	)
	if catalogueFormat(name) == "yaml" {
		entries, diags, err = rule.DecodeYAMLLenient(data)
	} else {
		entries, diags, err = rule.DecodeEntriesLenient(data)
	}
	if err != nil {
		l.Logger.Warn().Err(err).Str("file", name).Msg("skipping malformed catalogue file")
		return nil
	}
	for _, d := range diags {
		l.Logger.Warn().Str("file", name).Int("index", d.Index).Str("slug", d.Slug).Err(d.Err).Msg("skipping invalid rule")
	}
	return entries
}

func catalogueFormat(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".json":
		return "json"
	case ".yaml", ".yml":
		return "yaml"
	}
	return ""
}
