// Package formats registers the known reseller file formats.
//
// Each file declares one reseller. Import the package for its side effects:
//
//	import _ "github.com/JonMunkholm/salesingest/internal/core/formats"
package formats

import "github.com/shopspring/decimal"

func init() {
	registerBolt()
	registerFjord()
	registerHarbor()
	registerPixel()
}

func factor(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
