package agent

import "unicode/utf8"

const (
	defaultReplyCeiling = 2000
	defaultEllipsis     = "..."
)

// Splitter enforces the outbound size ceiling on generated replies.
// Lengths are counted in runes so multi-byte text is never cut mid-character.
type Splitter struct {
	ceiling  int
	ellipsis string
}

func NewSplitter(ceiling int, ellipsis string) Splitter {
	if ceiling <= 0 {
		ceiling = defaultReplyCeiling
	}
	if ellipsis == "" {
		ellipsis = defaultEllipsis
	}
	// The marker must leave room for at least one rune of text.
	if utf8.RuneCountInString(ellipsis) >= ceiling {
		ellipsis = ""
	}
	return Splitter{ceiling: ceiling, ellipsis: ellipsis}
}

// Limit is the number of text runes that fit before the ellipsis is needed.
func (s Splitter) Limit() int {
	return s.ceiling - utf8.RuneCountInString(s.ellipsis)
}

// Split returns the primary reply and, when the text overflows, a continuation.
// The split is two-way only: an oversized continuation is returned as is.
func (s Splitter) Split(text string) (primary string, continuation string, split bool) {
	limit := s.Limit()
	if utf8.RuneCountInString(text) <= limit {
		return text, "", false
	}

	cut := 0
	for i := 0; i < limit; i++ {
		_, size := utf8.DecodeRuneInString(text[cut:])
		cut += size
	}
	return text[:cut] + s.ellipsis, s.ellipsis + text[cut:], true
}
