package enroll

import (
	"strconv"
	"strings"
	"unicode/utf8"
)

// Field names one collectible value of a card draft.
type Field string

// Collectible fields. [FieldLabel] is optional and never prompted for.
const (
	FieldNone        Field = ""
	FieldCardNumber  Field = "cardNumber"
	FieldCVV         Field = "cvv"
	FieldExpireMonth Field = "expireMonth"
	FieldExpireYear  Field = "expireYear"
	FieldLabel       Field = "label"
)

// Order is the canonical order in which required fields are requested.
var Order = [...]Field{FieldCardNumber, FieldCVV, FieldExpireMonth, FieldExpireYear}

// maxLabelLength bounds the free-text card label in runes.
const maxLabelLength = 40

// FieldSpec describes the format of one required field. Values are digit
// strings whose length must fall within [MinDigits, MaxDigits].
type FieldSpec struct {
	Name      Field
	MinDigits int
	MaxDigits int

	// pad, when non-zero, left-pads accepted values with zeros to this width.
	pad int

	// valid is an additional check on the padded value.
	valid func(string) bool
}

var specs = map[Field]FieldSpec{
	FieldCardNumber:  {Name: FieldCardNumber, MinDigits: 16, MaxDigits: 16},
	FieldCVV:         {Name: FieldCVV, MinDigits: 3, MaxDigits: 4},
	FieldExpireMonth: {Name: FieldExpireMonth, MinDigits: 1, MaxDigits: 2, pad: 2, valid: validMonth},
	FieldExpireYear:  {Name: FieldExpireYear, MinDigits: 2, MaxDigits: 2},
}

// SpecFor returns the spec of a required field. ok is false for
// [FieldLabel] and unknown names.
func SpecFor(f Field) (FieldSpec, bool) {
	s, ok := specs[f]
	return s, ok
}

// Accept checks a candidate digit string against the spec and returns the
// stored form of the value. Candidates are never truncated; a value of the
// wrong length is rejected.
func (s FieldSpec) Accept(digits string) (string, bool) {
	if len(digits) < s.MinDigits || len(digits) > s.MaxDigits || !allDigits(digits) {
		return "", false
	}
	v := digits
	if s.pad > 0 && len(v) < s.pad {
		v = strings.Repeat("0", s.pad-len(v)) + v
	}
	if s.valid != nil && !s.valid(v) {
		return "", false
	}
	return v, true
}

// Valid reports whether v is already in stored form.
func (s FieldSpec) Valid(v string) bool {
	got, ok := s.Accept(v)
	return ok && got == v
}

func validMonth(v string) bool {
	n, err := strconv.Atoi(v)
	return err == nil && n >= 1 && n <= 12
}

func acceptLabel(label string) (string, bool) {
	label = strings.Join(strings.Fields(label), " ")
	if label == "" || utf8.RuneCountInString(label) > maxLabelLength {
		return "", false
	}
	return label, true
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
