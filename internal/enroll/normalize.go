package enroll

import (
	"strconv"
	"strings"

	"github.com/antzucaro/matchr"
)

// soundsLikeThreshold is the minimum Jaro-Winkler score for a word that
// shares a Double Metaphone code with a digit word to be read as that digit.
const soundsLikeThreshold = 0.80

// nativeDigits maps Extended Arabic-Indic (Persian) and Arabic-Indic digits
// to ASCII.
var nativeDigits = strings.NewReplacer(
	"۰", "0", "۱", "1", "۲", "2", "۳", "3", "۴", "4",
	"۵", "5", "۶", "6", "۷", "7", "۸", "8", "۹", "9",
	"٠", "0", "١", "1", "٢", "2", "٣", "3", "٤", "4",
	"٥", "5", "٦", "6", "٧", "7", "٨", "8", "٩", "9",
)

// separators are replaced by spaces before tokenising. The slash is kept
// because it separates month and year.
var separators = strings.NewReplacer(
	",", " ", ".", " ", ";", " ", ":", " ", "!", " ", "?", " ",
	"،", " ", "؛", " ", "؟", " ", "(", " ", ")", " ", "\"", " ",
)

type digitSound struct {
	digit int
	word  string
	codes map[string]struct{}
}

// normalizer rewrites transcripts so that every spoken or native digit
// becomes an ASCII digit token.
type normalizer struct {
	words  map[string]int
	sounds []digitSound
}

func newNormalizer(loc *Locale) *normalizer {
	n := &normalizer{words: make(map[string]int, len(loc.Digits)+len(loc.Aliases))}
	for d, w := range loc.Digits {
		w = strings.ToLower(w)
		n.words[w] = d
		if isASCIIWord(w) {
			n.sounds = append(n.sounds, digitSound{digit: d, word: w, codes: metaphoneCodes(w)})
		}
	}
	for w, d := range loc.Aliases {
		n.words[strings.ToLower(w)] = d
	}
	return n
}

// normalize lower-cases s, maps native digits and number words to ASCII
// digits and collapses whitespace. With lenient set, words that merely
// sound like a digit word ("for", "tree") are mapped as well.
func (n *normalizer) normalize(s string, lenient bool) string {
	s = nativeDigits.Replace(s)
	s = separators.Replace(strings.ToLower(s))
	tokens := strings.Fields(s)
	for i, tok := range tokens {
		if d, ok := n.words[tok]; ok {
			tokens[i] = strconv.Itoa(d)
			continue
		}
		if lenient {
			if d, ok := n.soundsLike(tok); ok {
				tokens[i] = strconv.Itoa(d)
			}
		}
	}
	return strings.Join(tokens, " ")
}

// answer returns the digits of a transcript read as a bare spoken number.
// The lenient reading is used only when it leaves nothing but digit tokens
// ("one two for"); otherwise filler words such as "to" stay words and only
// real digits and number words count.
func (n *normalizer) answer(transcript string) string {
	if lenient := n.normalize(transcript, true); allDigitTokens(lenient) {
		return digitsOnly(lenient)
	}
	return digitsOnly(n.normalize(transcript, false))
}

func allDigitTokens(s string) bool {
	tokens := strings.Fields(s)
	if len(tokens) == 0 {
		return false
	}
	for _, tok := range tokens {
		if digitsOnly(tok) == "" || strings.Trim(tok, "0123456789-/") != "" {
			return false
		}
	}
	return true
}

// soundsLike finds the digit word phonetically closest to tok. A candidate
// must share a Double Metaphone code with tok and reach soundsLikeThreshold.
func (n *normalizer) soundsLike(tok string) (int, bool) {
	if len(tok) < 2 || !isASCIIWord(tok) {
		return 0, false
	}
	codes := metaphoneCodes(tok)
	best, bestScore := -1, 0.0
	for _, s := range n.sounds {
		if !overlaps(codes, s.codes) {
			continue
		}
		if score := matchr.JaroWinkler(tok, s.word, false); score >= soundsLikeThreshold && score > bestScore {
			best, bestScore = s.digit, score
		}
	}
	return best, best >= 0
}

func metaphoneCodes(w string) map[string]struct{} {
	codes := make(map[string]struct{}, 2)
	p, s := matchr.DoubleMetaphone(w)
	if p != "" {
		codes[p] = struct{}{}
	}
	if s != "" {
		codes[s] = struct{}{}
	}
	return codes
}

func overlaps(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for c := range a {
		if _, ok := b[c]; ok {
			return true
		}
	}
	return false
}

func isASCIIWord(w string) bool {
	if w == "" {
		return false
	}
	for i := 0; i < len(w); i++ {
		if w[i] < 'a' || w[i] > 'z' {
			return false
		}
	}
	return true
}

// digitsOnly drops every byte that is not an ASCII digit.
func digitsOnly(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] >= '0' && s[i] <= '9' {
			b.WriteByte(s[i])
		}
	}
	return b.String()
}
