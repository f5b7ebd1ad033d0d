package ops

import (
	"context"

	"github.com/hpungsan/rulesync/internal/rule"
)

// ListInput contains parameters for the List operation.
type ListInput struct {
	Tag            string // category filter; empty or "all" matches everything
	Query          string // case-insensitive substring over title, slug, tags, libs
	IncludeContent bool
}

// ListItem is a rule summary, with content when requested.
type ListItem struct {
	rule.Summary
	Content *string `json:"content,omitempty"`
}

// ListOutput contains the result of the List operation.
type ListOutput struct {
	Items []ListItem `json:"items"`
	Total int        `json:"total"`
	StateMeta
}

// List returns the catalogue, filtered, in catalogue order.
func List(ctx context.Context, cat Catalogue, input ListInput) (*ListOutput, error) {
	st, err := load(ctx, cat, "list")
	if err != nil {
		return nil, err
	}

	matched := rule.Filter(st.Rules, rule.FilterInput{Tag: input.Tag, Query: input.Query})
	items := make([]ListItem, 0, len(matched))
	for _, e := range matched {
		item := ListItem{Summary: e.ToSummary()}
		if input.IncludeContent {
			content := e.Content
			item.Content = &content
		}
		items = append(items, item)
	}

	return &ListOutput{
		Items:     items,
		Total:     len(st.Rules),
		StateMeta: metaOf(st),
	}, nil
}

// RulesOutput is the full catalogue with freshness metadata, the shape the panel consumes.
type RulesOutput struct {
	Rules []rule.Entry `json:"rules"`
	StateMeta
}

// Rules returns every entry with its content.
func Rules(ctx context.Context, cat Catalogue) (*RulesOutput, error) {
	st, err := load(ctx, cat, "rules")
	if err != nil {
		return nil, err
	}
	rules := st.Rules
	if rules == nil {
		rules = []rule.Entry{}
	}
	return &RulesOutput{Rules: rules, StateMeta: metaOf(st)}, nil
}
