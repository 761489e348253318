package order

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Amount is a currency value in fils (thousandths of a dinar)
type Amount int64

// maxWhole is the largest dinar part that still fits in fils after rounding
const maxWhole = (math.MaxInt64 - 1000) / 1000

// ParseAmount reads a decimal string, rounding half-up to three places
func ParseAmount(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}

	// Exponent notation is rare in order feeds; go through float for it.
	if strings.ContainsAny(s, "eE") {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid amount %q: %w", s, err)
		}
		f = math.Round(f * 1000)
		if math.IsNaN(f) || math.IsInf(f, 0) || math.Abs(f) > maxWhole*1000 {
			return 0, fmt.Errorf("invalid amount %q: out of range", s)
		}
		return Amount(f), nil
	}

	neg := false
	switch s[0] {
	case '-':
		neg = true
		s = s[1:]
	case '+':
		s = s[1:]
	}

	intPart, fracPart, _ := strings.Cut(s, ".")
	if intPart == "" {
		intPart = "0"
	}
	whole, err := strconv.ParseInt(intPart, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	if whole < 0 || whole > maxWhole {
		return 0, fmt.Errorf("invalid amount %q: out of range", s)
	}

	var fils int64
	roundUp := false
	for i, c := range fracPart {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("invalid amount %q", s)
		}
		switch {
		case i < 3:
			fils = fils*10 + int64(c-'0')
		case i == 3:
			roundUp = c >= '5'
		}
	}
	for i := len(fracPart); i < 3; i++ {
		fils *= 10
	}

	v := whole*1000 + fils
	if roundUp {
		v++
	}
	if neg {
		v = -v
	}
	return Amount(v), nil
}

// String renders the amount with exactly three decimal places
func (a Amount) String() string {
	sign := ""
	v := uint64(a)
	if a < 0 {
		sign = "-"
		v = uint64(-(a + 1)) + 1
	}
	return fmt.Sprintf("%s%d.%03d", sign, v/1000, v%1000)
}

// Float64 returns the amount in dinars
func (a Amount) Float64() float64 {
	return float64(a) / 1000
}

// UnmarshalJSON accepts a JSON number, a numeric string or null
func (a *Amount) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		*a = 0
		return nil
	}
	s = strings.Trim(s, `"`)
	v, err := ParseAmount(s)
	if err != nil {
		return err
	}
	*a = v
	return nil
}

// MarshalJSON writes the amount as a JSON number with three decimals
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(a.String()), nil
}
