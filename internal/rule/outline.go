package rule

import (
	"regexp"
)

// Heading is one markdown heading in a rule's content.
type Heading struct {
	Level int    `json:"level"`
	Text  string `json:"text"`
}

// headingPattern matches ATX headings (h1-h6) at the start of a line.
// Groups: hash symbols, heading text (trailing spaces trimmed).
var headingPattern = regexp.MustCompile(`(?m)^(#{1,6})\s+([^\n]+?)[ \t]*$`)

// fencePattern matches fenced code block delimiters with 0-3 spaces of indentation.
var fencePattern = regexp.MustCompile("(?m)^[ ]{0,3}(`{3,}|~{3,})")

// Outline returns the headings of content in order, ignoring lines inside fenced code blocks.
func Outline(content string) []Heading {
	matches := headingPattern.FindAllStringSubmatchIndex(content, -1)
	fences := fencedRanges(content)

	headings := make([]Heading, 0, len(matches))
	for _, m := range matches {
		if insideFence(m[0], fences) {
			continue
		}
		headings = append(headings, Heading{
			Level: m[3] - m[2],
			Text:  content[m[4]:m[5]],
		})
	}
	return headings
}

// fencedRanges returns [start, end) byte ranges of fenced code blocks. A closing fence
// must use the same character as the opening one and be at least as long.
// An unclosed fence runs to the end of content.
func fencedRanges(text string) [][2]int {
	matches := fencePattern.FindAllStringSubmatchIndex(text, -1)

	var ranges [][2]int
	var openChar byte
	var openLen, openStart int
	inFence := false

	for _, m := range matches {
		fence := text[m[2]:m[3]]
		switch {
		case !inFence:
			openChar, openLen, openStart = fence[0], len(fence), m[0]
			inFence = true
		case fence[0] == openChar && len(fence) >= openLen:
			ranges = append(ranges, [2]int{openStart, m[1]})
			inFence = false
		}
	}
	if inFence {
		ranges = append(ranges, [2]int{openStart, len(text)})
	}
	return ranges
}

func insideFence(pos int, ranges [][2]int) bool {
	for _, r := range ranges {
		if pos >= r[0] && pos < r[1] {
			return true
		}
	}
	return false
}
