package finance

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseAmount converts a decimal string such as "-1234.5", "1.234,56" or
// "R$ 10" into cents.
func ParseAmount(s string) (int64, error) {
	v := strings.TrimSpace(s)
	v = strings.TrimPrefix(v, "R$")
	v = strings.ReplaceAll(strings.TrimSpace(v), " ", "")
	if v == "" {
		return 0, fmt.Errorf("%w: empty amount", ErrInvalid)
	}

	neg := false
	switch v[0] {
	case '-':
		neg = true
		v = v[1:]
	case '+':
		v = v[1:]
	}
	if v == "" || strings.Trim(v, "0123456789.,") != "" {
		return 0, fmt.Errorf("%w: amount %q", ErrInvalid, s)
	}

	// The last separator is the decimal mark when followed by one or two
	// digits; any other separator groups thousands.
	intPart, frac := v, ""
	if i := strings.LastIndexAny(v, ".,"); i >= 0 && len(v)-i-1 <= 2 {
		intPart, frac = v[:i], v[i+1:]
	}
	intPart = strings.NewReplacer(".", "", ",", "").Replace(intPart)
	if intPart == "" {
		intPart = "0"
	}
	for len(frac) < 2 {
		frac += "0"
	}

	whole, err := strconv.ParseInt(intPart, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: amount %q", ErrInvalid, s)
	}
	cents, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: amount %q", ErrInvalid, s)
	}
	total := whole*100 + cents
	if neg {
		total = -total
	}
	return total, nil
}

// FormatAmount renders cents as a plain decimal string.
func FormatAmount(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}

// Amount is a cents value decoded from "12,50", "-3.99" or a bare JSON number.
type Amount int64

func (a *Amount) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if unq, err := strconv.Unquote(s); err == nil {
		s = unq
	}
	cents, err := ParseAmount(s)
	if err != nil {
		return err
	}
	*a = Amount(cents)
	return nil
}
