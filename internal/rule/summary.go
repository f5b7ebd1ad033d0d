package rule

import (
	"math"
	"strings"
	"unicode/utf8"
)

// Summary is an entry without its content, used by list operations.
type Summary struct {
	Title          string   `json:"title"`
	Slug           string   `json:"slug"`
	Tags           []string `json:"tags"`
	Libs           []string `json:"libs"`
	Author         Author   `json:"author"`
	ContentChars   int      `json:"content_chars"`
	TokensEstimate int      `json:"tokens_estimate"`
}

// ToSummary strips the content, keeping its size.
func (e Entry) ToSummary() Summary {
	return Summary{
		Title:          e.Title,
		Slug:           e.Slug,
		Tags:           e.Tags,
		Libs:           e.Libs,
		Author:         e.Author,
		ContentChars:   CountChars(e.Content),
		TokensEstimate: EstimateTokens(e.Content),
	}
}

// CountChars returns the character count as runes (not bytes).
func CountChars(text string) int {
	return utf8.RuneCountInString(text)
}

// EstimateTokens estimates token count using a word-based heuristic (1.3 tokens per word).
func EstimateTokens(text string) int {
	words := strings.Fields(text)
	return int(math.Ceil(float64(len(words)) * 1.3))
}
