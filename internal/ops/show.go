package ops

import (
	"context"

	"github.com/hpungsan/rulesync/internal/errors"
	"github.com/hpungsan/rulesync/internal/rule"
)

// ShowInput contains parameters for the Show operation.
type ShowInput struct {
	Slug string
}

// ShowOutput contains one rule and a structural outline of its content.
type ShowOutput struct {
	Rule           rule.Entry     `json:"rule"`
	Outline        []rule.Heading `json:"outline"`
	ContentChars   int            `json:"content_chars"`
	TokensEstimate int            `json:"tokens_estimate"`
}

// Show returns the first rule with the given slug.
func Show(ctx context.Context, cat Catalogue, input ShowInput) (*ShowOutput, error) {
	slug, err := requireSlug(input.Slug)
	if err != nil {
		return nil, err
	}

	st, err := load(ctx, cat, "show")
	if err != nil {
		return nil, err
	}

	e, ok := rule.FindBySlug(st.Rules, slug)
	if !ok {
		return nil, errors.NewNotFound(slug)
	}

	return &ShowOutput{
		Rule:           e,
		Outline:        rule.Outline(e.Content),
		ContentChars:   rule.CountChars(e.Content),
		TokensEstimate: rule.EstimateTokens(e.Content),
	}, nil
}

// CategoriesOutput contains the tag aggregation of the catalogue.
type CategoriesOutput struct {
	Categories []rule.Category `json:"categories"`
	Total      int             `json:"total"`
}

// Categories returns unique tags ordered by rule count, most used first.
func Categories(ctx context.Context, cat Catalogue) (*CategoriesOutput, error) {
	st, err := load(ctx, cat, "categories")
	if err != nil {
		return nil, err
	}
	cats := rule.Categories(st.Rules)
	if cats == nil {
		cats = []rule.Category{}
	}
	return &CategoriesOutput{Categories: cats, Total: len(st.Rules)}, nil
}
