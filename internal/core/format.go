package core

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Field names a canonical sales attribute that a format maps from a source column.
type Field string

const (
	FieldProduct  Field = "product"
	FieldDate     Field = "date"
	FieldQuantity Field = "quantity"
	FieldAmount   Field = "amount"
	FieldStore    Field = "store"
	FieldCurrency Field = "currency"
)

// NegativeConvention describes how a reseller reports returns.
type NegativeConvention int

const (
	NegativeNone        NegativeConvention = iota // returns not reported, quantities must be >= 0
	NegativeMinus                                 // "-3"
	NegativeParentheses                           // "(3)"
)

// AllowsReturns reports whether negative quantities are legitimate returns.
func (c NegativeConvention) AllowsReturns() bool {
	return c != NegativeNone
}

// StoreLayout describes where a format carries the store identifier.
type StoreLayout int

const (
	StoreColumn      StoreLayout = iota // one column names the store
	StorePerSheet                       // one sheet per store, the sheet name is the store
	StoreFixedOnline                    // every row is an online sale
)

// ProductIdentity describes what the product column contains.
type ProductIdentity int

const (
	ProductUniversal  ProductIdentity = iota // GTIN/EAN, used as canonical id directly
	ProductSourceCode                        // reseller code, needs an explicit ProductMapping
)

// Column maps a canonical field to a source header.
type Column struct {
	Field    Field
	Header   string
	Required bool
}

// Rules are the named transformation rules of a format.
type Rules struct {
	SourceCurrency string          // ISO code of amounts when the row carries none
	CurrencyFactor decimal.Decimal // multiplier from SourceCurrency to FactorCurrency
	FactorCurrency string          // ISO code CurrencyFactor converts into
	Negatives      NegativeConvention
	StoreLayout    StoreLayout
	Product        ProductIdentity
	OnlineCodes    []string // reseller-specific store codes meaning "online"
	DateLayouts    []string // tried before the generic layouts
}

// Format is one known reseller file layout.
type Format struct {
	Name             string
	ResellerID       string
	Label            string
	SheetName        string   // expected sheet/tab name, empty when any
	FilenameKeywords []string // lowercase substrings hinting the format
	Columns          []Column
	Rules            Rules
}

// Column returns the column mapped to field.
func (f Format) Column(field Field) (Column, bool) {
	for _, c := range f.Columns {
		if c.Field == field {
			return c, true
		}
	}
	return Column{}, false
}

// RequiredHeaders returns the source headers marked required.
func (f Format) RequiredHeaders() []string {
	var out []string
	for _, c := range f.Columns {
		if c.Required {
			out = append(out, c.Header)
		}
	}
	return out
}

// Validate checks the internal consistency of a format definition.
func (f Format) Validate() error {
	var errs []string
	if f.Name == "" {
		errs = append(errs, "name is required")
	}
	if f.ResellerID == "" {
		errs = append(errs, "reseller id is required")
	}
	if len(f.RequiredHeaders()) == 0 {
		errs = append(errs, "at least one required column")
	}
	for _, field := range []Field{FieldProduct, FieldDate, FieldQuantity, FieldAmount} {
		if _, ok := f.Column(field); !ok {
			errs = append(errs, fmt.Sprintf("missing %s column", field))
		}
	}
	if _, ok := f.Column(FieldStore); !ok && f.Rules.StoreLayout == StoreColumn {
		errs = append(errs, "store column required for column store layout")
	}
	if !IsCurrencyCode(f.Rules.SourceCurrency) {
		errs = append(errs, fmt.Sprintf("invalid source currency %q", f.Rules.SourceCurrency))
	}
	if !f.Rules.CurrencyFactor.IsPositive() {
		errs = append(errs, "currency factor must be positive")
	}
	if !IsCurrencyCode(f.Rules.FactorCurrency) {
		errs = append(errs, fmt.Sprintf("invalid factor currency %q", f.Rules.FactorCurrency))
	}
	if len(errs) > 0 {
		return fmt.Errorf("format %q: %s", f.Name, strings.Join(errs, "; "))
	}
	return nil
}
