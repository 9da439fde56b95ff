package summary

import (
	"strings"

	"github.com/shopspring/decimal"
)

// FormatMinor renders minor units the Brazilian way: 123456 becomes "1.234,56".
func FormatMinor(minor int64) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}

	fixed := decimal.New(minor, -2).StringFixed(2)
	whole, frac, _ := strings.Cut(fixed, ".")

	var sb strings.Builder
	sb.WriteString(sign)
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			sb.WriteByte('.')
		}
		sb.WriteRune(r)
	}
	sb.WriteByte(',')
	sb.WriteString(frac)
	return sb.String()
}

// FormatMoney prefixes the formatted amount with its currency, using R$ for BRL.
func FormatMoney(currency string, minor int64) string {
	if currency == "BRL" {
		return "R$ " + FormatMinor(minor)
	}
	return currency + " " + FormatMinor(minor)
}
