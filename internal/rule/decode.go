package rule

import (
	"bytes"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hpungsan/rulesync/internal/errors"
)

// Diagnostic describes one catalogue element that was skipped during a lenient decode.
type Diagnostic struct {
	Index int
	Slug  string
	Err   error
}

// String formats the diagnostic for logs.
func (d Diagnostic) String() string {
	if d.Slug != "" {
		return fmt.Sprintf("entry %d (%s): %v", d.Index, d.Slug, d.Err)
	}
	return fmt.Sprintf("entry %d: %v", d.Index, d.Err)
}

// Validate checks that an entry carries the fields needed to display and apply it.
func Validate(e Entry) error {
	if strings.TrimSpace(e.Title) == "" {
		return stderrors.New("title is required")
	}
	if strings.TrimSpace(e.Slug) == "" {
		return stderrors.New("slug is required")
	}
	if strings.TrimSpace(e.Content) == "" {
		return stderrors.New("content is required")
	}
	for _, t := range e.Tags {
		if strings.TrimSpace(t) == "" {
			return stderrors.New("tags must not contain blank values")
		}
	}
	for _, l := range e.Libs {
		if strings.TrimSpace(l) == "" {
			return stderrors.New("libs must not contain blank values")
		}
	}
	return nil
}

// fill replaces nil slices so entries always serialize tags and libs as arrays.
func fill(e *Entry) {
	if e.Tags == nil {
		e.Tags = []string{}
	}
	if e.Libs == nil {
		e.Libs = []string{}
	}
}

// DecodeEntries parses a JSON array of entries. The whole payload is rejected with
// DECODE_ERROR if it is not an array or any element is malformed or invalid.
func DecodeEntries(data []byte) ([]Entry, error) {
	raw, err := splitJSONArray(data)
	if err != nil {
		return nil, errors.NewDecode(err)
	}

	entries := make([]Entry, 0, len(raw))
	for i, r := range raw {
		var e Entry
		if err := json.Unmarshal(r, &e); err != nil {
			return nil, errors.NewDecode(fmt.Errorf("entry %d: %w", i, err))
		}
		if err := Validate(e); err != nil {
			return nil, errors.NewDecode(fmt.Errorf("entry %d: %w", i, err))
		}
		fill(&e)
		entries = append(entries, e)
	}
	return entries, nil
}

// DecodeEntriesLenient parses a JSON array of entries, skipping elements that fail to
// decode or validate. The error is non-nil only when the payload is not an array.
func DecodeEntriesLenient(data []byte) ([]Entry, []Diagnostic, error) {
	raw, err := splitJSONArray(data)
	if err != nil {
		return nil, nil, errors.NewDecode(err)
	}

	entries, diags := collect(len(raw), func(i int, e *Entry) error {
		return json.Unmarshal(raw[i], e)
	})
	return entries, diags, nil
}

// DecodeYAMLLenient is DecodeEntriesLenient for YAML documents holding a sequence of entries.
func DecodeYAMLLenient(data []byte) ([]Entry, []Diagnostic, error) {
	var nodes []yaml.Node
	if err := yaml.Unmarshal(data, &nodes); err != nil {
		return nil, nil, errors.NewDecode(err)
	}
	if nodes == nil {
		return nil, nil, errors.NewDecode(stderrors.New("expected a sequence of rules"))
	}

	entries, diags := collect(len(nodes), func(i int, e *Entry) error {
		return nodes[i].Decode(e)
	})
	return entries, diags, nil
}

// collect decodes n elements, keeping the valid ones in order.
func collect(n int, decode func(i int, e *Entry) error) ([]Entry, []Diagnostic) {
	entries := make([]Entry, 0, n)
	var diags []Diagnostic
	for i := 0; i < n; i++ {
		var e Entry
		if err := decode(i, &e); err != nil {
			diags = append(diags, Diagnostic{Index: i, Err: err})
			continue
		}
		if err := Validate(e); err != nil {
			diags = append(diags, Diagnostic{Index: i, Slug: e.Slug, Err: err})
			continue
		}
		fill(&e)
		entries = append(entries, e)
	}
	return entries, diags
}

// splitJSONArray requires data to be a JSON array and returns its raw elements.
func splitJSONArray(data []byte) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, stderrors.New("expected a JSON array of rules")
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}
