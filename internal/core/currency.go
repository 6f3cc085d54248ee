package core

import (
	"strings"

	"github.com/shopspring/decimal"
)

// iso4217 holds the active ISO 4217 alphabetic codes accepted in source files.
var iso4217 = map[string]struct{}{}

func init() {
	codes := `AED AFN ALL AMD ANG AOA ARS AUD AWG AZN BAM BBD BDT BGN BHD BIF BMD BND
BOB BRL BSD BTN BWP BYN BZD CAD CDF CHF CLP CNY COP CRC CUP CVE CZK DJF DKK DOP
DZD EGP ERN ETB EUR FJD FKP GBP GEL GHS GIP GMD GNF GTQ GYD HKD HNL HTG HUF IDR
ILS INR IQD IRR ISK JMD JOD JPY KES KGS KHR KMF KPW KRW KWD KYD KZT LAK LBP LKR
LRD LSL LYD MAD MDL MGA MKD MMK MNT MOP MRU MUR MVR MWK MXN MYR MZN NAD NGN NIO
NOK NPR NZD OMR PAB PEN PGK PHP PKR PLN PYG QAR RON RSD RUB RWF SAR SBD SCR SDG
SEK SGD SHP SLE SOS SRD SSP STN SYP SZL THB TJS TMT TND TOP TRY TTD TWD TZS UAH
UGX USD UYU UZS VES VND VUV WST XAF XCD XOF XPF YER ZAR ZMW ZWL`
	for _, c := range strings.Fields(codes) {
		iso4217[c] = struct{}{}
	}
}

// IsCurrencyCode reports whether code is a known ISO 4217 code (case-sensitive).
func IsCurrencyCode(code string) bool {
	_, ok := iso4217[code]
	return ok
}

// NormalizeCurrency upper-cases and trims a currency cell.
func NormalizeCurrency(s string) string {
	return strings.ToUpper(CleanCell(s))
}

// Converter turns source amounts into the canonical currency.
type Converter struct {
	Canonical string
}

// Factor returns the multiplier for amounts reported in currency under rules.
// Amounts already in the canonical currency use 1, amounts in the format's
// source currency use its declared factor when that factor targets the
// canonical currency. Anything else is not convertible.
func (c Converter) Factor(currency string, rules Rules) (decimal.Decimal, bool) {
	switch {
	case currency == c.Canonical:
		return decimal.NewFromInt(1), true
	case currency == rules.SourceCurrency && rules.FactorCurrency == c.Canonical:
		return rules.CurrencyFactor, true
	}
	return decimal.Zero, false
}

// Converts reports whether source-currency amounts of rules can be expressed
// in the canonical currency.
func (c Converter) Converts(rules Rules) bool {
	_, ok := c.Factor(rules.SourceCurrency, rules)
	return ok
}
