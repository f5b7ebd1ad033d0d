package ops

import (
	"context"

	"github.com/hpungsan/rulesync/internal/apply"
	"github.com/hpungsan/rulesync/internal/rule"
)

// ApplyInput contains parameters for the Apply operation.
// Rule, when set, is applied as given and Slug is ignored.
type ApplyInput struct {
	Slug   string
	Rule   *rule.Entry
	Target string
}

// ApplyOutput contains the result of the Apply operation.
type ApplyOutput struct {
	apply.Result
	Slug  string `json:"slug"`
	Title string `json:"title"`
}

// Apply resolves the rule and writes it with applier.
func Apply(ctx context.Context, cat Catalogue, applier *apply.Applier, input ApplyInput) (*ApplyOutput, error) {
	var e rule.Entry
	if input.Rule != nil {
		e = *input.Rule
	} else {
		show, err := Show(ctx, cat, ShowInput{Slug: input.Slug})
		if err != nil {
			return nil, err
		}
		e = show.Rule
	}

	res, err := applier.Apply(ctx, e, input.Target)
	if err != nil {
		return nil, err
	}
	return &ApplyOutput{Result: res, Slug: e.Slug, Title: e.Title}, nil
}
