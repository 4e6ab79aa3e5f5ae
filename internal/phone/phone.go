// Package phone canonicalizes free-text phone numbers into comparable forms.
package phone

import (
	"errors"
	"strings"
)

const (
	// MinDigits and MaxDigits bound a destination number on the outbound path.
	MinDigits = 8
	MaxDigits = 15

	// TailDigits is how many trailing digits a loose match compares.
	TailDigits = 10
	// MinTailDigits is the shortest number that still gets a loose match.
	MinTailDigits = 9

	internationalPrefix = "00"
)

var (
	// ErrNoDigits is returned when the input holds no digits at all.
	ErrNoDigits = errors.New("phone: no digits in number")
	// ErrInvalidNumber is returned by Strict for numbers outside [MinDigits, MaxDigits].
	ErrInvalidNumber = errors.New("phone: number looks invalid, use country code first, e.g. +2010XXXXXXXX")
)

// Number is a normalized phone number.
type Number struct {
	Digits string // digits only, no international prefix
	E164   string // "+" followed by Digits
}

// Normalize turns raw into a Number. A leading "+" is kept as the only
// non-digit, a leading "00" trunk prefix is dropped, anything else is taken
// digit for digit.
func Normalize(raw string) (Number, error) {
	s := strings.TrimSpace(raw)
	digits := Digits(s)
	if !strings.HasPrefix(s, "+") && strings.HasPrefix(s, internationalPrefix) {
		digits = strings.TrimPrefix(digits, internationalPrefix)
	}
	if digits == "" {
		return Number{}, ErrNoDigits
	}
	return Number{Digits: digits, E164: "+" + digits}, nil
}

// Strict normalizes raw and additionally enforces the digit-count bounds
// required before anything is sent to the provider.
func Strict(raw string) (Number, error) {
	n, err := Normalize(raw)
	if err != nil {
		return Number{}, err
	}
	if len(n.Digits) < MinDigits || len(n.Digits) > MaxDigits {
		return Number{}, ErrInvalidNumber
	}
	return n, nil
}

// Digits strips every non-digit rune from s.
func Digits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Tail returns the trailing TailDigits digits used for loose matching, or ""
// when the number is too short to match loosely.
func (n Number) Tail() string {
	if len(n.Digits) < MinTailDigits {
		return ""
	}
	if len(n.Digits) <= TailDigits {
		return n.Digits
	}
	return n.Digits[len(n.Digits)-TailDigits:]
}

func (n Number) String() string {
	return n.E164
}
