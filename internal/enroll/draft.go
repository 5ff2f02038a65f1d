package enroll

import (
	"errors"
	"fmt"
)

// Draft is the in-progress set of collected card values for one enrollment
// attempt. A field is either empty or holds a value that already passed its
// [FieldSpec].
type Draft struct {
	CardNumber  string
	CVV         string
	ExpireMonth string
	ExpireYear  string
	Label       string
}

// Get returns the value stored for f.
func (d *Draft) Get(f Field) string {
	switch f {
	case FieldCardNumber:
		return d.CardNumber
	case FieldCVV:
		return d.CVV
	case FieldExpireMonth:
		return d.ExpireMonth
	case FieldExpireYear:
		return d.ExpireYear
	case FieldLabel:
		return d.Label
	}
	return ""
}

// Has reports whether f is present.
func (d *Draft) Has(f Field) bool {
	return d.Get(f) != ""
}

// fill stores v for f unless f is already present. It reports whether the
// draft changed. The first value captured for a field always wins.
func (d *Draft) fill(f Field, v string) bool {
	if v == "" || d.Has(f) {
		return false
	}
	switch f {
	case FieldCardNumber:
		d.CardNumber = v
	case FieldCVV:
		d.CVV = v
	case FieldExpireMonth:
		d.ExpireMonth = v
	case FieldExpireYear:
		d.ExpireYear = v
	case FieldLabel:
		d.Label = v
	default:
		return false
	}
	return true
}

// NextMissing returns the first required field, in canonical order, that
// is not yet present.
func (d *Draft) NextMissing() (Field, bool) {
	for _, f := range Order {
		if !d.Has(f) {
			return f, true
		}
	}
	return FieldNone, false
}

// Complete reports whether all required fields are present.
func (d *Draft) Complete() bool {
	_, missing := d.NextMissing()
	return !missing
}

// Validate checks that every required field is present and well-formed.
// All violations are reported together.
func (d *Draft) Validate() error {
	var errs []error
	for _, f := range Order {
		v := d.Get(f)
		if v == "" {
			errs = append(errs, fmt.Errorf("%s is missing", f))
			continue
		}
		if !specs[f].Valid(v) {
			errs = append(errs, fmt.Errorf("%s is malformed", f))
		}
	}
	if d.Label != "" {
		if _, ok := acceptLabel(d.Label); !ok {
			errs = append(errs, errors.New("label is malformed"))
		}
	}
	return errors.Join(errs...)
}
