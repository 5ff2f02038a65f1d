package enroll

import (
	"fmt"
	"slices"
	"sort"
	"strings"
)

// Prompts holds the spoken templates of a locale. Templates with a %s verb
// are formatted with already rendered text.
type Prompts struct {
	// Ask is the question for each required field.
	Ask map[Field]string

	// Captured reads back one newly captured value (one %s).
	Captured map[Field]string

	// Retry precedes a repeated question after a miss.
	Retry string

	// Summary reads back card number, CVV, month and year (four %s).
	Summary string

	// ConfirmAgain re-asks the confirmation question.
	ConfirmAgain string

	Cancelled string

	// Saved acknowledges a stored card (one %s: the spoken last four digits).
	Saved string

	// Failed reports a persistence failure (one %s: the reason).
	Failed string

	// GaveUp is spoken when a field was missed too many times.
	GaveUp string

	// Internal is spoken when an attempt is aborted by an internal error.
	Internal string

	// IdleHint is spoken for any transcript received while idle.
	IdleHint string
}

// Locale is the vocabulary of one deployment language. Locales returned by
// [LookupLocale] are shared and must be treated as read-only.
type Locale struct {
	Tag string

	// Digits maps 0-9 to their spoken words.
	Digits [10]string

	// Aliases are further words recognised as a digit when normalising
	// transcripts, e.g. "oh" for zero.
	Aliases map[string]int

	// ListSeparator joins the four-digit groups of a chunked card number.
	ListSeparator string

	// Keywords introduce a field value inside a longer utterance.
	Keywords map[Field][]string

	// LabelKeywords introduce the optional card label.
	LabelKeywords []string

	AffirmTokens []string
	DenyTokens   []string
	StartTokens  []string

	Prompts Prompts
}

// Locale tags built into the package.
const (
	LocaleEnglish = "en-US"
	LocalePersian = "fa-IR"
)

var locales = map[string]*Locale{
	LocaleEnglish: english,
	LocalePersian: persian,
}

// LookupLocale returns the built-in locale for tag.
func LookupLocale(tag string) (*Locale, error) {
	loc, ok := locales[tag]
	if !ok {
		return nil, fmt.Errorf("enroll: unknown locale %q", tag)
	}
	return loc, nil
}

// LocaleTags returns the tags of all built-in locales, sorted.
func LocaleTags() []string {
	tags := make([]string, 0, len(locales))
	for t := range locales {
		tags = append(tags, t)
	}
	sort.Strings(tags)
	return tags
}

// Vocabulary returns every digit word, alias and keyword of the locale. It
// is used to bias speech recognition towards the enrollment vocabulary.
func (l *Locale) Vocabulary() []string {
	var words []string
	words = append(words, l.Digits[:]...)
	for w := range l.Aliases {
		words = append(words, w)
	}
	for _, f := range Order {
		words = append(words, l.Keywords[f]...)
	}
	for _, tok := range slices.Concat(l.AffirmTokens, l.DenyTokens) {
		words = append(words, strings.TrimSpace(tok))
	}
	slices.Sort(words)
	return slices.Compact(words)
}

var english = &Locale{
	Tag:           LocaleEnglish,
	Digits:        [10]string{"zero", "one", "two", "three", "four", "five", "six", "seven", "eight", "nine"},
	Aliases:       map[string]int{"oh": 0, "nil": 0},
	ListSeparator: ", ",
	Keywords: map[Field][]string{
		FieldCardNumber:  {"card number", "card"},
		FieldCVV:         {"cvv2", "cvv 2", "cvv", "cvc", "security code"},
		FieldExpireMonth: {"month"},
		FieldExpireYear:  {"year"},
	},
	LabelKeywords: []string{"name it", "call it", "label it", "label"},
	AffirmTokens:  []string{"yes", "yeah", "yep", "correct", "confirm", "sure"},
	DenyTokens:    []string{" no ", "nope", "cancel", "wrong"},
	StartTokens:   []string{"add card", "add a card", "new card", "enroll"},
	Prompts: Prompts{
		Ask: map[Field]string{
			FieldCardNumber:  "Please say your sixteen digit card number.",
			FieldCVV:         "Now say the CVV from the back of the card.",
			FieldExpireMonth: "What is the expiry month?",
			FieldExpireYear:  "And the two digit expiry year?",
		},
		Captured: map[Field]string{
			FieldCardNumber:  "Card number %s.",
			FieldCVV:         "CVV %s.",
			FieldExpireMonth: "Month %s.",
			FieldExpireYear:  "Year %s.",
			FieldLabel:       "Label %s.",
		},
		Retry:        "Sorry, I didn't catch that.",
		Summary:      "I have card number %s, CVV %s, expiring month %s, year %s. Shall I save this card?",
		ConfirmAgain: "Please answer yes or no. Shall I save this card?",
		Cancelled:    "Okay, I discarded that card.",
		Saved:        "Your card ending in %s has been saved.",
		Failed:       "Sorry, the card could not be saved: %s",
		GaveUp:       "Sorry, I could not understand the card details. Say add card to try again.",
		Internal:     "Sorry, something went wrong. Say add card to start again.",
		IdleHint:     "Say add card to enroll a new payment card.",
	},
}

var persian = &Locale{
	Tag:           LocalePersian,
	Digits:        [10]string{"صفر", "یک", "دو", "سه", "چهار", "پنج", "شش", "هفت", "هشت", "نه"},
	Aliases:       map[string]int{"شیش": 6},
	ListSeparator: "، ",
	Keywords: map[Field][]string{
		FieldCardNumber:  {"شماره کارت", "کارت"},
		FieldCVV:         {"سی وی وی ۲", "سی وی وی", "cvv2", "cvv", "کد امنیتی"},
		FieldExpireMonth: {"ماه"},
		FieldExpireYear:  {"سال"},
	},
	LabelKeywords: []string{"اسم کارت", "نام کارت"},
	AffirmTokens:  []string{"بله", "بلی", "آره", "تایید", "درسته"},
	DenyTokens:    []string{"خیر", " نه ", "لغو", "اشتباه"},
	StartTokens:   []string{"کارت جدید", "افزودن کارت", "اضافه کردن کارت", "ثبت کارت"},
	Prompts: Prompts{
		Ask: map[Field]string{
			FieldCardNumber:  "لطفاً شماره کارت شانزده رقمی خود را بگویید.",
			FieldCVV:         "حالا کد سی وی وی دو را بگویید.",
			FieldExpireMonth: "ماه انقضای کارت را بگویید.",
			FieldExpireYear:  "سال انقضای کارت را دو رقمی بگویید.",
		},
		Captured: map[Field]string{
			FieldCardNumber:  "شماره کارت %s.",
			FieldCVV:         "سی وی وی %s.",
			FieldExpireMonth: "ماه %s.",
			FieldExpireYear:  "سال %s.",
			FieldLabel:       "نام کارت %s.",
		},
		Retry:        "متوجه نشدم.",
		Summary:      "شماره کارت %s، سی وی وی %s، ماه انقضا %s، سال انقضا %s. آیا ذخیره شود؟",
		ConfirmAgain: "لطفاً بگویید بله یا خیر. آیا کارت ذخیره شود؟",
		Cancelled:    "باشه، این کارت ذخیره نشد.",
		Saved:        "کارت با چهار رقم آخر %s با موفقیت ذخیره شد.",
		Failed:       "متأسفانه ذخیره کارت انجام نشد: %s",
		GaveUp:       "متأسفانه اطلاعات کارت را متوجه نشدم. برای تلاش دوباره بگویید کارت جدید.",
		Internal:     "متأسفانه خطایی رخ داد. برای شروع دوباره بگویید کارت جدید.",
		IdleHint:     "برای افزودن کارت بگویید کارت جدید.",
	},
}
