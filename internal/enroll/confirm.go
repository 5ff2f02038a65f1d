package enroll

import (
	"fmt"
	"strings"
)

// Verdict is the classification of a reply to the confirmation question.
type Verdict int

const (
	VerdictUnclear Verdict = iota
	VerdictAffirm
	VerdictDeny
)

// ConfirmPolicy decides how a reply containing both affirmation and
// negation tokens is classified.
type ConfirmPolicy string

const (
	// PolicyAffirmFirst treats any reply containing an affirmation token as
	// an affirmation.
	PolicyAffirmFirst ConfirmPolicy = "affirm_first"

	// PolicyExclusive requires exactly one category to be present; replies
	// containing both are unclear and the question is asked again.
	PolicyExclusive ConfirmPolicy = "exclusive"
)

// IsValid reports whether p is a known policy.
func (p ConfirmPolicy) IsValid() bool {
	return p == PolicyAffirmFirst || p == PolicyExclusive
}

// Classifier sorts confirmation replies by substring containment of the
// configured tokens. Matching is case-insensitive and runs against the
// transcript with punctuation turned into spaces and a space added at each
// end, so a token written as " no " only matches the standalone word while
// "no" also matches inside "know".
type Classifier struct {
	affirm []string
	deny   []string
	policy ConfirmPolicy
}

// NewClassifier returns a classifier for the given token sets.
func NewClassifier(affirm, deny []string, policy ConfirmPolicy) (Classifier, error) {
	if !policy.IsValid() {
		return Classifier{}, fmt.Errorf("enroll: unknown confirm policy %q", policy)
	}
	return Classifier{affirm: lowerAll(affirm), deny: lowerAll(deny), policy: policy}, nil
}

// Classify returns the verdict for transcript.
func (c Classifier) Classify(transcript string) Verdict {
	t := " " + separators.Replace(strings.ToLower(transcript)) + " "
	yes := containsAny(t, c.affirm)
	no := containsAny(t, c.deny)
	switch {
	case yes && no && c.policy == PolicyExclusive:
		return VerdictUnclear
	case yes:
		return VerdictAffirm
	case no:
		return VerdictDeny
	}
	return VerdictUnclear
}

func containsAny(s string, tokens []string) bool {
	for _, tok := range tokens {
		if tok != "" && strings.Contains(s, tok) {
			return true
		}
	}
	return false
}

func lowerAll(ss []string) []string {
	out := make([]string, 0, len(ss))
	for _, s := range ss {
		if strings.TrimSpace(s) != "" {
			out = append(out, strings.ToLower(s))
		}
	}
	return out
}
