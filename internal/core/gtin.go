package core

// ValidGTIN reports whether code is a GTIN-8, GTIN-12 (UPC-A), GTIN-13 (EAN)
// or GTIN-14 with a correct check digit.
func ValidGTIN(code string) bool {
	switch len(code) {
	case 8, 12, 13, 14:
	default:
		return false
	}

	sum := 0
	for i := 0; i < len(code)-1; i++ {
		c := code[i]
		if c < '0' || c > '9' {
			return false
		}
		d := int(c - '0')
		// weights alternate 3,1 from the digit left of the check digit
		if (len(code)-1-i)%2 == 1 {
			d *= 3
		}
		sum += d
	}

	last := code[len(code)-1]
	if last < '0' || last > '9' {
		return false
	}
	return (10-sum%10)%10 == int(last-'0')
}

// NormalizeGTIN strips spreadsheet artifacts and left-pads to GTIN-14 form
// so that the same product reported as EAN-13 and UPC-A compares equal.
func NormalizeGTIN(code string) string {
	code = CleanCell(code)
	for len(code) < 14 {
		code = "0" + code
	}
	return code
}
