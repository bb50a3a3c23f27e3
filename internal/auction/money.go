package auction

import (
	"fmt"
	"strconv"
	"strings"
)

// Money is an amount in integer cents. Bid ceilings and prices never touch
// floating point.
type Money int64

// ParseMoney parses a decimal string like "12.34" or "150" into cents.
// At most two fraction digits are accepted.
func ParseMoney(s string) (Money, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("amount required")
	}
	neg := false
	if strings.HasPrefix(s, "-") {
		neg = true
		s = s[1:]
	}
	whole, frac, _ := strings.Cut(s, ".")
	if whole == "" {
		whole = "0"
	}
	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q", s)
	}
	var cents int64
	switch len(frac) {
	case 0:
		cents = 0
	case 1:
		d, err := strconv.ParseInt(frac, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid amount %q", s)
		}
		cents = d * 10
	case 2:
		d, err := strconv.ParseInt(frac, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid amount %q", s)
		}
		cents = d
	default:
		return 0, fmt.Errorf("invalid amount %q: at most 2 decimal places", s)
	}
	v := w*100 + cents
	if neg {
		v = -v
	}
	return Money(v), nil
}

// String renders the amount as a plain decimal, e.g. "12.34".
func (m Money) String() string {
	v := int64(m)
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

func (m Money) Cents() int64 { return int64(m) }
