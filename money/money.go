// Package money holds integer minor-unit arithmetic for settlement amounts.
package money

import (
	"fmt"
	"math"
)

// MinorPerMajor is the number of minor units (kobo) in one major unit (naira).
const MinorPerMajor = 100

// BpsDenominator is 100%, expressed in basis points.
const BpsDenominator = 10000

// ToMinor converts a major-unit decimal to minor units, rounding half away from zero.
func ToMinor(major float64) int64 {
	return int64(math.Round(major * MinorPerMajor))
}

// ToMajor converts minor units back to a major-unit decimal for display and storage.
func ToMajor(minor int64) float64 {
	return float64(minor) / MinorPerMajor
}

// Fee returns floor(gross * bps / 10000). Non-positive gross or bps yields zero.
func Fee(gross int64, bps int) int64 {
	if gross <= 0 || bps <= 0 {
		return 0
	}
	return gross * int64(bps) / BpsDenominator
}

// Split divides gross into the platform fee and the beneficiary's net share.
// fee + net == gross always holds, and net is never negative.
func Split(gross int64, bps int) (fee, net int64) {
	fee = Fee(gross, bps)
	if fee > gross {
		fee = gross
	}
	net = gross - fee
	if net < 0 {
		net = 0
	}
	return fee, net
}

// Percent applies a basis-point rate to an amount, rounding half up. Used for tax.
func Percent(amount int64, bps int) int64 {
	if amount <= 0 || bps <= 0 {
		return 0
	}
	return (amount*int64(bps) + BpsDenominator/2) / BpsDenominator
}

// Format renders minor units as "12,345.67 NGN".
func Format(minor int64, currency string) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	whole := minor / MinorPerMajor
	frac := minor % MinorPerMajor
	return fmt.Sprintf("%s%s.%02d %s", sign, groupThousands(whole), frac, currency)
}

func groupThousands(n int64) string {
	s := fmt.Sprintf("%d", n)
	if len(s) <= 3 {
		return s
	}
	out := make([]byte, 0, len(s)+len(s)/3)
	lead := len(s) % 3
	if lead > 0 {
		out = append(out, s[:lead]...)
	}
	for i := lead; i < len(s); i += 3 {
		if len(out) > 0 {
			out = append(out, ',')
		}
		out = append(out, s[i:i+3]...)
	}
	return string(out)
}
