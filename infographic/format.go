package infographic

import (
	"math"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

var printer = message.NewPrinter(language.Indonesian)

// Rupiah formats an amount as "Rp 1.500.000", dropping cents.
func Rupiah(amount float64) string {
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	return sign + "Rp " + printer.Sprint(number.Decimal(math.Round(amount), number.MaxFractionDigits(0)))
}

// Number formats an integer with Indonesian digit grouping.
func Number(n int) string {
	return printer.Sprint(number.Decimal(n))
}

// Decimal formats a value with the given number of fraction digits using
// the Indonesian decimal comma.
func Decimal(v float64, digits int) string {
	return printer.Sprint(number.Decimal(v, number.MinFractionDigits(digits), number.MaxFractionDigits(digits)))
}
