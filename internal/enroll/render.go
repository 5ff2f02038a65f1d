package enroll

import "strings"

// cardChunk is the group size used when reading back card numbers.
const cardChunk = 4

// Renderer turns digit strings into spoken phrases, one word per digit. The
// zero value renders nothing useful; use [NewRenderer].
type Renderer struct {
	digits [10]string
	sep    string
	chunk  bool
}

// NewRenderer returns a renderer for loc. With chunkCardNumbers set,
// 16-digit values are read in groups of four joined by the locale's list
// separator.
func NewRenderer(loc *Locale, chunkCardNumbers bool) Renderer {
	return Renderer{digits: loc.Digits, sep: loc.ListSeparator, chunk: chunkCardNumbers}
}

// Render returns the spoken form of value. Characters other than ASCII
// digits are kept as they are, as separate words.
func (r Renderer) Render(value string) string {
	if r.chunk && len(value) == specs[FieldCardNumber].MinDigits && allDigits(value) {
		groups := make([]string, 0, len(value)/cardChunk)
		for i := 0; i < len(value); i += cardChunk {
			groups = append(groups, r.words(value[i:i+cardChunk]))
		}
		return strings.Join(groups, r.sep)
	}
	return r.words(value)
}

func (r Renderer) words(s string) string {
	parts := make([]string, 0, len(s))
	var other strings.Builder
	flush := func() {
		if t := strings.TrimSpace(other.String()); t != "" {
			parts = append(parts, t)
		}
		other.Reset()
	}
	for _, c := range s {
		if c >= '0' && c <= '9' {
			flush()
			parts = append(parts, r.digits[c-'0'])
			continue
		}
		other.WriteRune(c)
	}
	flush()
	return strings.Join(parts, " ")
}
