package rule

import (
	"sort"
	"strings"
)

// Category is a tag together with the number of entries carrying it.
type Category struct {
	Tag   string `json:"tag"`
	Count int    `json:"count"`
}

// Categories aggregates unique tags, most used first. Tags are grouped the way
// Filter matches them, by Normalize, so each count equals the number of entries
// Filter returns for that tag. The first spelling seen is the one displayed.
// Ties sort by normalized tag. A tag listed twice on one entry counts once;
// duplicate slugs are counted as separate entries.
func Categories(entries []Entry) []Category {
	counts := make(map[string]int)
	display := make(map[string]string)
	for _, e := range entries {
		seen := make(map[string]bool, len(e.Tags))
		for _, t := range e.Tags {
			key := Normalize(t)
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true
			if _, ok := display[key]; !ok {
				display[key] = strings.TrimSpace(t)
			}
			counts[key]++
		}
	}

	keys := make([]string, 0, len(counts))
	for key := range counts {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i] < keys[j]
	})

	cats := make([]Category, 0, len(keys))
	for _, key := range keys {
		cats = append(cats, Category{Tag: display[key], Count: counts[key]})
	}
	return cats
}

// AllTag selects every entry in Filter.
const AllTag = "all"

// FilterInput narrows a catalogue by tag and free-text query.
type FilterInput struct {
	Tag   string
	Query string
}

// Filter returns the entries matching in, preserving catalogue order.
// Tag matching is exact after normalization; Query is a case-insensitive substring
// match over title, slug, tags and libs.
func Filter(entries []Entry, in FilterInput) []Entry {
	tag := Normalize(in.Tag)
	if tag == AllTag {
		tag = ""
	}
	query := Normalize(in.Query)

	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if tag != "" && !hasTag(e, tag) {
			continue
		}
		if query != "" && !matches(e, query) {
			continue
		}
		out = append(out, e)
	}
	return out
}

func hasTag(e Entry, tag string) bool {
	for _, t := range e.Tags {
		if Normalize(t) == tag {
			return true
		}
	}
	return false
}

func matches(e Entry, query string) bool {
	if strings.Contains(Normalize(e.Title), query) || strings.Contains(Normalize(e.Slug), query) {
		return true
	}
	for _, t := range e.Tags {
		if strings.Contains(Normalize(t), query) {
			return true
		}
	}
	for _, l := range e.Libs {
		if strings.Contains(Normalize(l), query) {
			return true
		}
	}
	return false
}
