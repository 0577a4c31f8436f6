package money

import (
	"errors"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

var ErrInvalidAmount = errors.New("invalid amount")

// Round2 rounds half away from zero at two decimal places. Non-finite input
// yields 0.
func Round2(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	scaled := v * 100
	if math.IsInf(scaled, 0) {
		return v
	}
	return math.Round(scaled) / 100
}

// FormatLocal renders an amount the es-VE way, e.g. "Bs. 1.234,56".
func FormatLocal(v float64) string {
	return "Bs. " + group(Round2(v), ".", ",")
}

// FormatUSD renders an amount the en-US way, e.g. "$1,234.56".
func FormatUSD(v float64) string {
	s := group(Round2(v), ",", ".")
	if strings.HasPrefix(s, "-") {
		return "-$" + s[1:]
	}
	return "$" + s
}

// ParseAmount accepts operator input using either "," or "." as the decimal
// separator.
func ParseAmount(raw string) (float64, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, ErrInvalidAmount
	}
	s = strings.Replace(s, ",", ".", 1)
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, ErrInvalidAmount
	}
	return d.InexactFloat64(), nil
}

func group(v float64, thousands, decimalSep string) string {
	fixed := decimal.NewFromFloat(v).StringFixed(2)
	sign := ""
	if strings.HasPrefix(fixed, "-") {
		sign = "-"
		fixed = fixed[1:]
	}
	intPart, frac, _ := strings.Cut(fixed, ".")

	var b strings.Builder
	b.WriteString(sign)
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteString(thousands)
		}
		b.WriteRune(r)
	}
	b.WriteString(decimalSep)
	b.WriteString(frac)
	return b.String()
}
