package core

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// MinTransactionDate is the earliest plausible sale date.
var MinTransactionDate = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

// FutureTolerance is how far past today a sale date may lie (time zones, late exports).
const FutureTolerance = 24 * time.Hour

// OnlineStoreName is the store used by formats that only report online sales.
const OnlineStoreName = "Online"

// RowResult is the validation outcome of one staging record.
type RowResult struct {
	Fields ResolvedFields
	Errors []RowError
}

// Valid reports whether the row passed every check.
func (r RowResult) Valid() bool {
	return len(r.Errors) == 0
}

// Validator checks staging records of one format. It is pure: no reads or
// writes of reference data.
type Validator struct {
	format    Format
	converter Converter
	now       func() time.Time
}

// NewValidator returns a validator for f converting to the canonical currency.
func NewValidator(f Format, canonicalCurrency string) *Validator {
	return &Validator{
		format:    f,
		converter: Converter{Canonical: canonicalCurrency},
		now:       time.Now,
	}
}

// Validate applies, in order: parse errors from staging, required fields,
// reseller normalization and type checks, then domain checks. All errors of
// the row are reported.
func (v *Validator) Validate(rec StagingRecord) RowResult {
	var res RowResult
	if rec.ParseError != "" {
		res.Errors = append(res.Errors, RowError{
			Kind:    KindRowParseError,
			Message: rec.ParseError,
		})
		return res
	}

	cells := normalizedPayload(rec.Payload)
	rules := v.format.Rules
	missing := make(map[Field]bool)

	for _, col := range v.format.Columns {
		if !v.mandatory(col) {
			continue
		}
		if cells[NormalizeHeader(col.Header)] == "" {
			missing[col.Field] = true
			res.Errors = append(res.Errors, RowError{
				Kind:    KindMissingRequiredField,
				Field:   col.Header,
				Message: fmt.Sprintf("%s is required", col.Header),
			})
		}
	}

	get := func(field Field) (string, string, bool) {
		col, ok := v.format.Column(field)
		if !ok || missing[field] {
			return col.Header, "", false
		}
		raw := cells[NormalizeHeader(col.Header)]
		return col.Header, raw, raw != ""
	}
	invalid := func(header, raw, msg string) {
		res.Errors = append(res.Errors, RowError{
			Kind:    KindInvalidFieldValue,
			Field:   header,
			Value:   raw,
			Message: msg,
		})
	}

	if _, raw, ok := get(FieldProduct); ok {
		res.Fields.ProductCode = CleanCell(raw)
	}

	switch rules.StoreLayout {
	case StoreColumn:
		if _, raw, ok := get(FieldStore); ok {
			res.Fields.StoreName = CleanCell(raw)
		}
	case StorePerSheet:
		res.Fields.StoreName = rec.Sheet
	case StoreFixedOnline:
		res.Fields.StoreName = OnlineStoreName
	}

	if h, raw, ok := get(FieldDate); ok {
		d, parsed := ParseDate(raw, rules.DateLayouts)
		switch {
		case !parsed:
			invalid(h, raw, "not a recognized date")
		case d.Before(MinTransactionDate):
			invalid(h, raw, fmt.Sprintf("date before %s", MinTransactionDate.Format(time.DateOnly)))
		case d.After(v.now().Add(FutureTolerance)):
			invalid(h, raw, "date is in the future")
		default:
			res.Fields.TransactionDate = d
		}
	}

	if h, raw, ok := get(FieldQuantity); ok {
		q, err := ParseQuantity(raw, rules.Negatives)
		switch {
		case errors.Is(err, ErrQuantityRange):
			invalid(h, raw, ErrQuantityRange.Error())
		case err != nil:
			invalid(h, raw, "quantity must be a whole number")
		case q < 0 && !rules.Negatives.AllowsReturns():
			invalid(h, raw, "negative quantity not allowed for this format")
		default:
			res.Fields.Quantity = q
		}
	}

	currency := rules.SourceCurrency
	currencyHeader := string(FieldCurrency)
	if h, raw, ok := get(FieldCurrency); ok {
		currency = NormalizeCurrency(raw)
		currencyHeader = h
	}
	factor, convertible := decimal.Zero, false
	switch {
	case !IsCurrencyCode(currency):
		invalid(currencyHeader, currency, "unknown currency code")
	default:
		factor, convertible = v.converter.Factor(currency, rules)
		if !convertible {
			invalid(currencyHeader, currency, fmt.Sprintf("no conversion from %s to %s", currency, v.converter.Canonical))
		}
	}
	res.Fields.SourceCurrency = currency

	if h, raw, ok := get(FieldAmount); ok {
		amt, err := ParseAmount(raw, rules.Negatives)
		if err != nil {
			invalid(h, raw, "amount must be a decimal number")
		} else {
			res.Fields.SourceAmount = amt
			if convertible {
				res.Fields.Amount = amt.Mul(factor).Round(4)
			}
		}
	}

	return res
}

// mandatory reports whether a column must be non-empty on every row.
// Product, date, quantity and amount always are, since a sale cannot be
// committed without them, and so is the store column of column-store formats.
func (v *Validator) mandatory(col Column) bool {
	if col.Required {
		return true
	}
	switch col.Field {
	case FieldProduct, FieldDate, FieldQuantity, FieldAmount:
		return true
	case FieldStore:
		return v.format.Rules.StoreLayout == StoreColumn
	}
	return false
}

func normalizedPayload(p map[string]string) map[string]string {
	out := make(map[string]string, len(p))
	for k, val := range p {
		key := NormalizeHeader(k)
		if _, dup := out[key]; !dup {
			out[key] = CleanCell(val)
		}
	}
	return out
}
