package formats

import "github.com/JonMunkholm/salesingest/internal/core"

// Harbor exports one workbook with a sheet per store, named after the store.
// Returns are not reported.
func registerHarbor() {
	core.Register(core.Format{
		Name:             "harbor_stores",
		ResellerID:       "harbor",
		Label:            "Harbor per-store workbook",
		FilenameKeywords: []string{"harbor"},
		Columns: []core.Column{
			{Field: core.FieldProduct, Header: "GTIN", Required: true},
			{Field: core.FieldDate, Header: "Day", Required: true},
			{Field: core.FieldQuantity, Header: "Quantity Sold", Required: true},
			{Field: core.FieldAmount, Header: "Amount GBP", Required: true},
		},
		Rules: core.Rules{
			SourceCurrency: "GBP",
			CurrencyFactor: factor("1.17"),
			FactorCurrency: "EUR",
			Negatives:      core.NegativeNone,
			StoreLayout:    core.StorePerSheet,
			Product:        core.ProductUniversal,
			DateLayouts:    []string{"02/01/2006"},
		},
	})
}
