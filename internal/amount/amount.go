// Package amount implements exact base-unit and decimal-string arithmetic.
// All monetary values move through big.Int; binary floating point is never
// used for anything that ends up in a result payload.
package amount

import (
	"math/big"
	"regexp"
	"strings"

	apperr "github.com/ggonzalez94/ethquery/internal/errors"
)

var decimalPattern = regexp.MustCompile(`^[0-9]+(\.[0-9]+)?$`)

// ParseBaseUnits parses a non-negative base-unit integer string.
func ParseBaseUnits(raw string) (*big.Int, error) {
	clean := strings.TrimSpace(raw)
	if clean == "" {
		return nil, apperr.New(apperr.CodeInvalidParams, "amount is required")
	}
	value, ok := new(big.Int).SetString(clean, 10)
	if !ok {
		return nil, apperr.Newf(apperr.CodeInvalidParams, "invalid numeric value: %s", raw)
	}
	if value.Sign() < 0 {
		return nil, apperr.New(apperr.CodeInvalidParams, "amount must be non-negative")
	}
	return value, nil
}

// FormatBaseUnits renders raw base units as a decimal string scaled by
// 10^decimals, trimming trailing fractional zeros.
func FormatBaseUnits(raw *big.Int, decimals uint8) string {
	s := raw.String()
	if decimals == 0 {
		return s
	}
	d := int(decimals)
	if len(s) <= d {
		s = strings.Repeat("0", d-len(s)+1) + s
	}
	intPart := s[:len(s)-d]
	fracPart := strings.TrimRight(s[len(s)-d:], "0")
	if fracPart == "" {
		return intPart
	}
	return intPart + "." + fracPart
}

// ToBaseUnits converts a decimal string back into base units at the given
// scale. It is the exact inverse of FormatBaseUnits for any value whose
// fractional precision fits within decimals.
func ToBaseUnits(decimal string, decimals uint8) (*big.Int, error) {
	clean := strings.TrimSpace(decimal)
	if !decimalPattern.MatchString(clean) {
		return nil, apperr.Newf(apperr.CodeInvalidParams, "invalid decimal value: %s", decimal)
	}
	parts := strings.SplitN(clean, ".", 2)
	intPart := parts[0]
	fracPart := ""
	if len(parts) == 2 {
		fracPart = parts[1]
	}
	if len(fracPart) > int(decimals) {
		return nil, apperr.Newf(apperr.CodeInvalidParams, "decimal precision exceeds scale (%d)", decimals)
	}
	fracPart += strings.Repeat("0", int(decimals)-len(fracPart))
	combined := strings.TrimLeft(intPart+fracPart, "0")
	if combined == "" {
		return big.NewInt(0), nil
	}
	value, ok := new(big.Int).SetString(combined, 10)
	if !ok {
		return nil, apperr.Newf(apperr.CodeInvalidParams, "invalid decimal value: %s", decimal)
	}
	return value, nil
}

// Decimal is a fixed-point value: Value scaled down by 10^Scale.
type Decimal struct {
	Value *big.Int
	Scale uint8
}

func NewDecimal(value *big.Int, scale uint8) Decimal {
	return Decimal{Value: new(big.Int).Set(value), Scale: scale}
}

func (d Decimal) String() string {
	return FormatBaseUnits(d.Value, d.Scale)
}

func (d Decimal) IsZero() bool {
	return d.Value == nil || d.Value.Sign() == 0
}

// Mul multiplies two decimals exactly; the result scale is the sum of the
// operand scales, so no precision is lost.
func Mul(a, b Decimal) Decimal {
	return Decimal{
		Value: new(big.Int).Mul(a.Value, b.Value),
		Scale: a.Scale + b.Scale,
	}
}

// Quo divides a by b at the requested result scale. Both operands are
// brought to a common implied scale before the integer division, so values
// with mismatched decimal places are never divided directly.
func Quo(a, b Decimal, scale uint8) (Decimal, error) {
	if b.IsZero() {
		return Decimal{}, apperr.New(apperr.CodePrice, "division by zero price")
	}
	num := new(big.Int).Mul(a.Value, pow10(int(scale)+int(b.Scale)))
	den := new(big.Int).Mul(b.Value, pow10(int(a.Scale)))
	return Decimal{Value: num.Quo(num, den), Scale: scale}, nil
}

// ApplySlippageFloor computes floor(value * (10000 - bps) / 10000).
func ApplySlippageFloor(value *big.Int, bps uint32) *big.Int {
	out := new(big.Int).Mul(value, big.NewInt(int64(10_000-bps)))
	return out.Quo(out, big.NewInt(10_000))
}

// Pow10 returns 10^exp as a fresh big.Int.
func Pow10(exp uint8) *big.Int {
	return pow10(int(exp))
}

func pow10(exp int) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(exp)), nil)
}
