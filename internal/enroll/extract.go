package enroll

import (
	"cmp"
	"regexp"
	"slices"
	"strings"
)

// Extraction maps fields to validated values found in one transcript.
type Extraction map[Field]string

// digitRun matches digits separated by at most one space or dash, as speech
// recognisers emit grouped card numbers ("1234 5678", "1234-5678").
const digitRun = `(\d(?:[ \-]?\d)*)`

// rule is one entry of the extraction table. Capture group i+1 of pattern
// holds the candidate for fields[i].
type rule struct {
	name    string
	pattern *regexp.Regexp
	fields  []Field
}

// Extractor finds field values in normalised transcripts using an ordered
// rule table. It is read-only after construction and safe for concurrent
// use.
type Extractor struct {
	norm  *normalizer
	rules []rule
	label *regexp.Regexp
}

// NewExtractor builds the rule table for loc.
func NewExtractor(loc *Locale) *Extractor {
	norm := newNormalizer(loc)
	e := &Extractor{norm: norm}

	for _, f := range Order {
		if alt := keywordAlternation(norm, loc.Keywords[f]); alt != "" {
			e.rules = append(e.rules, rule{
				name:    "keyword-" + string(f),
				pattern: regexp.MustCompile(`(?:` + alt + `)\D{0,12}?` + digitRun),
				fields:  []Field{f},
			})
		}
	}
	e.rules = append(e.rules,
		rule{
			name:    "expiry-slash",
			pattern: regexp.MustCompile(`\b(\d{1,2}) ?/ ?(\d{2})\b`),
			fields:  []Field{FieldExpireMonth, FieldExpireYear},
		},
		rule{
			name:    "bare-run",
			pattern: regexp.MustCompile(digitRun),
			fields:  []Field{FieldCardNumber},
		},
	)

	if alt := keywordAlternation(norm, loc.LabelKeywords); alt != "" {
		e.label = regexp.MustCompile(`^(?:` + alt + `) ([\p{L}\p{M}\x{200c} ]+)$`)
	}
	return e
}

// Extract returns the field values found in transcript.
//
// With context set to a required field only that field is searched; when
// no rule yields it, the whole transcript stripped to its digits is tried
// as a bare answer. Sound-alike words count as digits only in that bare
// answer, and only when every other word already is one. With context [FieldNone] every required field is
// searched and all matches are returned. A card label introduced by a
// label keyword is returned in either mode.
func (e *Extractor) Extract(transcript string, context Field) Extraction {
	text := e.norm.normalize(strings.TrimSpace(transcript), false)
	out := make(Extraction)

	if context == FieldNone {
		for _, f := range Order {
			if v, ok := e.find(text, f); ok {
				out[f] = v
			}
		}
	} else if spec, ok := specs[context]; ok {
		v, found := e.find(text, context)
		if !found {
			v, found = spec.Accept(e.norm.answer(transcript))
		}
		if found {
			out[context] = v
		}
	}

	if e.label != nil {
		if m := e.label.FindStringSubmatch(text); m != nil {
			if v, ok := acceptLabel(m[1]); ok {
				out[FieldLabel] = v
			}
		}
	}
	return out
}

// find walks the rule table in order and returns the first candidate for f
// that passes its spec.
func (e *Extractor) find(text string, f Field) (string, bool) {
	spec := specs[f]
	for _, r := range e.rules {
		group := slices.Index(r.fields, f) + 1
		if group == 0 {
			continue
		}
		for _, m := range r.pattern.FindAllStringSubmatch(text, -1) {
			for _, cand := range candidates(m[group], f) {
				if v, ok := spec.Accept(cand); ok {
					return v, true
				}
			}
		}
	}
	return "", false
}

// candidates expands a captured digit run: first the run with separators
// removed, then its leading group on its own ("cvv 123 05" yields "12305"
// and "123"). A run of card-number length is offered to no other field, and
// a card number is only ever the whole run.
func candidates(run string, f Field) []string {
	joined := digitsOnly(run)
	if f == FieldCardNumber {
		return []string{joined}
	}
	if len(joined) == specs[FieldCardNumber].MinDigits {
		return nil
	}
	head := run
	if i := strings.IndexAny(run, " -"); i >= 0 {
		head = run[:i]
	}
	if head == joined {
		return []string{joined}
	}
	return []string{joined, head}
}

// keywordAlternation normalises keywords the same way transcripts are and
// joins them longest first, so that "cvv 2" is preferred over "cvv".
func keywordAlternation(norm *normalizer, keywords []string) string {
	if len(keywords) == 0 {
		return ""
	}
	kws := make([]string, 0, len(keywords))
	for _, k := range keywords {
		if k = norm.normalize(k, false); k != "" {
			kws = append(kws, k)
		}
	}
	slices.SortStableFunc(kws, func(a, b string) int { return cmp.Compare(len(b), len(a)) })
	for i, k := range kws {
		kws[i] = regexp.QuoteMeta(k)
	}
	return strings.Join(kws, "|")
}
