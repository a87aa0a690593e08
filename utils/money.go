package utils

import "fmt"

// FormatAmount renders an amount in minor currency units (cents) as a
// two-decimal string, e.g. 12345 -> "123.45".
func FormatAmount(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}
