package currency

// Conversion between major and minor units. The gateway contract always
// carries integer minor units (kobo for NGN) so no floating point is
// involved anywhere on the money path.

// ToMinorUnits converts a whole major-unit amount to minor units using
// the given minor-unit exponent (2 for NGN: 1 naira == 100 kobo).
func ToMinorUnits(major int64, exponent int16) int64 {
	return major * pow10(exponent)
}

// FromMinorUnits converts minor units back to whole major units,
// truncating any sub-unit remainder. FromMinorUnits(ToMinorUnits(x, e), e)
// == x for every non-negative integer x.
func FromMinorUnits(minor int64, exponent int16) int64 {
	return minor / pow10(exponent)
}

// ToKobo converts whole naira to kobo.
func ToKobo(naira int64) int64 { return ToMinorUnits(naira, 2) }

// FromKobo converts kobo to whole naira.
func FromKobo(kobo int64) int64 { return FromMinorUnits(kobo, 2) }

func pow10(exponent int16) int64 {
	result := int64(1)
	for i := int16(0); i < exponent; i++ {
		result *= 10
	}
	return result
}
