package core

// convert.go turns messy spreadsheet cells into typed values.
//
// Resellers export dates in many layouts, amounts with currency symbols and
// thousand separators, Excel formula prefixes (="value") and, for some,
// returns as accounting-style parentheses. Normalization is explicit per
// format: parentheses only mean "negative" when the format says so.

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

// numericRegex validates a number after cleanup.
var numericRegex = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)$`)

// TwoDigitYearPivot: two-digit years landing more than this many years in the
// future are moved to the previous century.
var TwoDigitYearPivot = 20

var (
	twoDigitYearLayouts = []string{
		"2/1/06", "02/01/06", "2-1-06", "2.1.06", "02.01.06",
	}
	fourDigitYearLayouts = []string{
		"2006-01-02", "2006/01/02", "2006.01.02",
		"02/01/2006", "2/1/2006", "02-01-2006", "02.01.2006", "2.1.2006",
		"2006-01-02 15:04:05", "2006-01-02T15:04:05Z07:00",
		"Jan 2, 2006", "2 Jan 2006", "02-Jan-2006",
		"20060102",
	}
)

var errNotNumeric = errors.New("not a number")

// CleanCell removes common spreadsheet artifacts from a cell value:
// surrounding whitespace, the Excel formula prefix (="...") and quotes.
func CleanCell(s string) string {
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "=\"") && strings.HasSuffix(s, "\"") {
		s = s[2 : len(s)-1]
	} else if strings.HasPrefix(s, "=") {
		s = s[1:]
	}

	s = strings.Trim(s, `"'`)
	return strings.TrimSpace(s)
}

// NormalizeHeader lowercases a header, strips artifacts and collapses spaces.
func NormalizeHeader(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(CleanCell(s))), " ")
}

// ParseDate parses s trying preferred layouts first, then common ones.
// Five-digit integers are read as Excel serial dates.
func ParseDate(s string, preferred []string) (time.Time, bool) {
	s = CleanCell(s)
	if s == "" {
		return time.Time{}, false
	}

	for _, layout := range preferred {
		if t, err := time.Parse(layout, s); err == nil {
			return dateOnly(t), true
		}
	}

	for _, layout := range fourDigitYearLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return dateOnly(t), true
		}
	}

	pivotYear := time.Now().Year() + TwoDigitYearPivot
	for _, layout := range twoDigitYearLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			if t.Year() > pivotYear {
				t = t.AddDate(-100, 0, 0)
			}
			return dateOnly(t), true
		}
	}

	if len(s) == 5 {
		if serial, err := strconv.Atoi(s); err == nil && serial > 0 {
			if t, err := excelize.ExcelDateToTime(float64(serial), false); err == nil {
				return dateOnly(t), true
			}
		}
	}

	return time.Time{}, false
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// NormalizeNumber applies a reseller's numeric conventions: currency symbols,
// spaces, thousand separators, decimal comma, and parentheses for negatives
// when conv is NegativeParentheses. The result is a plain decimal string.
func NormalizeNumber(s string, conv NegativeConvention) (string, error) {
	s = CleanCell(s)
	if s == "" {
		return "", errNotNumeric
	}

	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		if conv != NegativeParentheses {
			return "", fmt.Errorf("parenthesized value %q: %w", s, errNotNumeric)
		}
		negative = true
		s = strings.TrimSpace(s[1 : len(s)-1])
	}

	s = strings.Map(func(r rune) rune {
		switch r {
		case '$', '€', '£', ' ', ' ', ' ', '\'':
			return -1
		}
		return r
	}, s)
	for _, code := range []string{"EUR", "USD", "GBP", "CHF"} {
		s = strings.TrimSuffix(strings.TrimPrefix(s, code), code)
	}

	s = normalizeSeparators(s)

	if negative {
		if strings.HasPrefix(s, "-") {
			return "", fmt.Errorf("double negative %q: %w", s, errNotNumeric)
		}
		s = "-" + s
	}

	if !numericRegex.MatchString(s) {
		return "", errNotNumeric
	}
	return s, nil
}

// normalizeSeparators resolves "1.234,56", "1,234.56" and "12,5" to dot decimals.
func normalizeSeparators(s string) string {
	lastDot := strings.LastIndex(s, ".")
	lastComma := strings.LastIndex(s, ",")

	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastComma > lastDot {
			s = strings.ReplaceAll(s, ".", "")
			return strings.Replace(s, ",", ".", 1)
		}
		return strings.ReplaceAll(s, ",", "")
	case lastComma >= 0:
		if strings.Count(s, ",") == 1 && len(s)-lastComma-1 != 3 {
			return strings.Replace(s, ",", ".", 1)
		}
		return strings.ReplaceAll(s, ",", "")
	}
	return s
}

// ParseAmount parses a monetary value under the given convention.
func ParseAmount(s string, conv NegativeConvention) (decimal.Decimal, error) {
	n, err := NormalizeNumber(s, conv)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(n)
}

// ErrQuantityRange is returned for quantities that do not fit an int64.
var ErrQuantityRange = errors.New("quantity out of range")

// ParseQuantity parses a whole-unit quantity; "3.0" is accepted, "2.5" is not.
func ParseQuantity(s string, conv NegativeConvention) (int64, error) {
	n, err := NormalizeNumber(s, conv)
	if err != nil {
		return 0, err
	}
	d, err := decimal.NewFromString(n)
	if err != nil {
		return 0, err
	}
	if !d.Equal(d.Truncate(0)) {
		return 0, fmt.Errorf("fractional quantity %s", n)
	}
	if !d.BigInt().IsInt64() {
		return 0, fmt.Errorf("%w: %s", ErrQuantityRange, n)
	}
	return d.IntPart(), nil
}
