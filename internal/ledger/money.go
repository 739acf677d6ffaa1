package ledger

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// amountPattern is the wire shape for a decimal amount (§4.1): an unsigned
// integer (zero included), optionally with one or two fraction digits. No sign, no
// exponent, no thousands separators.
var amountPattern = regexp.MustCompile(`^\d+(\.\d{1,2})?$`)

// Canonicalize trims surrounding whitespace (§4.3: the shape is matched
// "after trimming"), then strips leading zeros from the integer part and
// a trailing all-zero fractional part. Malformed input (anything not
// matching amountPattern once trimmed) passes through trimmed but
// otherwise unchanged — the schema layer (C3) is responsible for
// rejecting it.
func Canonicalize(s string) string {
	s = strings.TrimSpace(s)
	if !amountPattern.MatchString(s) {
		return s
	}

	intPart, fracPart, hasFrac := strings.Cut(s, ".")
	intPart = strings.TrimLeft(intPart, "0")
	if intPart == "" {
		intPart = "0"
	}
	if !hasFrac {
		return intPart
	}

	fracPart = strings.TrimRight(fracPart, "0")
	if fracPart == "" {
		return intPart
	}
	return intPart + "." + fracPart
}

// ToMinor converts a wire decimal string to an exact integer count of
// minor units (cents). It never uses floating point: the canonical form
// is parsed with an arbitrary-precision decimal, shifted by two places,
// and checked for an exact (non-fractional) result.
func ToMinor(s string) (int64, error) {
	canon := Canonicalize(s)
	if !amountPattern.MatchString(canon) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}

	d, err := decimal.NewFromString(canon)
	if err != nil || d.IsNegative() {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}

	minor := d.Shift(2)
	if !minor.Equal(minor.Truncate(0)) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	return minor.IntPart(), nil
}

// IsBalanced sums +toMinor(amount) for debit lines and -toMinor(amount)
// for credit lines; the journal is balanced iff the sum is exactly zero.
// Every term is an exact int64, never a float.
func IsBalanced(lines []Line) (bool, error) {
	var sum int64
	for i, l := range lines {
		minor, err := ToMinor(l.Amount.Amount)
		if err != nil {
			return false, fmt.Errorf("line %d: %w", i+1, err)
		}
		switch l.Side {
		case SideDebit:
			sum += minor
		case SideCredit:
			sum -= minor
		default:
			return false, fmt.Errorf("line %d: %w: unknown side %q", i+1, ErrValidation, l.Side)
		}
	}
	return sum == 0, nil
}
