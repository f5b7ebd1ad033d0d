package rule

import (
	"time"
)

// Author identifies who wrote a rule.
type Author struct {
	Name   string  `json:"name" yaml:"name"`
	URL    *string `json:"url,omitempty" yaml:"url,omitempty"`
	Avatar *string `json:"avatar,omitempty" yaml:"avatar,omitempty"`
}

// Entry is one rule document from the catalogue.
// Slug is a display hint, not a primary key: catalogues may repeat it.
type Entry struct {
	Title   string   `json:"title" yaml:"title"`
	Slug    string   `json:"slug" yaml:"slug"`
	Tags    []string `json:"tags" yaml:"tags"`
	Libs    []string `json:"libs" yaml:"libs"`
	Content string   `json:"content" yaml:"content"`
	Author  Author   `json:"author" yaml:"author"`
}

// Snapshot is the durable form of a synced catalogue.
// FetchedAt is nil until a remote sync has succeeded at least once.
type Snapshot struct {
	Entries   []Entry    `json:"entries"`
	FetchedAt *time.Time `json:"fetched_at"`
}

// Origin names the tier that produced the rules returned for a request.
type Origin string

const (
	OriginCache  Origin = "cache"
	OriginRemote Origin = "remote"
	OriginLocal  Origin = "local"
)

// State is computed for every catalogue request and never persisted.
type State struct {
	Rules     []Entry
	LastSync  *time.Time
	NeedsSync bool
	IsOffline bool
	Origin    Origin
}

// FindBySlug returns the first entry with the given slug, in catalogue order.
func FindBySlug(entries []Entry, slug string) (Entry, bool) {
	for _, e := range entries {
		if e.Slug == slug {
			return e, true
		}
	}
	return Entry{}, false
}

// UnixMillis converts an optional timestamp into the wire form used by the panel
// and the cache: milliseconds since the epoch, or nil.
func UnixMillis(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	ms := t.UnixMilli()
	return &ms
}
