package model

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"payportal/internal/domain"
)

var decimalRe = regexp.MustCompile(`^[0-9]+(\.[0-9]+)?$`)

func parseAmount(s string) (*big.Rat, error) {
	s = strings.TrimSpace(s)
	if !decimalRe.MatchString(s) {
		return nil, fmt.Errorf("%w: invalid decimal amount %q", domain.ErrInvalidArgument, s)
	}
	r, ok := new(big.Rat).SetString(s)
	if !ok {
		return nil, fmt.Errorf("%w: invalid decimal amount %q", domain.ErrInvalidArgument, s)
	}
	return r, nil
}

// NormalizeAmount trims insignificant zeros: "0.0010" -> "0.001", "1.0" -> "1".
func NormalizeAmount(s string) (string, error) {
	if _, err := parseAmount(s); err != nil {
		return "", err
	}
	s = strings.TrimSpace(s)
	if strings.Contains(s, ".") {
		s = strings.TrimRight(s, "0")
		s = strings.TrimSuffix(s, ".")
	}
	s = strings.TrimLeft(s, "0")
	if s == "" || strings.HasPrefix(s, ".") {
		s = "0" + s
	}
	return s, nil
}

// IsZeroAmount reports whether s parses to zero. Malformed input is not zero.
func IsZeroAmount(s string) bool {
	r, err := parseAmount(s)
	return err == nil && r.Sign() == 0
}

// CompareAmounts compares two decimal strings exactly: -1 if a < b, 0 if equal, 1 if a > b.
func CompareAmounts(a, b string) (int, error) {
	ra, err := parseAmount(a)
	if err != nil {
		return 0, err
	}
	rb, err := parseAmount(b)
	if err != nil {
		return 0, err
	}
	return ra.Cmp(rb), nil
}

// FormatUnits renders an integer amount of base units as a decimal string,
// e.g. FormatUnits(1500000000000000, 18) == "0.0015".
func FormatUnits(v *big.Int, decimals int) string {
	if v == nil {
		return "0"
	}
	neg := v.Sign() < 0
	digits := new(big.Int).Abs(v).String()
	if decimals > 0 {
		if len(digits) <= decimals {
			digits = strings.Repeat("0", decimals-len(digits)+1) + digits
		}
		point := len(digits) - decimals
		digits = digits[:point] + "." + digits[point:]
	}
	out, _ := NormalizeAmount(digits)
	if neg && out != "0" {
		out = "-" + out
	}
	return out
}
