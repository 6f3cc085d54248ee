package formats

import "github.com/JonMunkholm/salesingest/internal/core"

// Bolt sends one weekly CSV per tenant with EANs and a store column.
// Web shop sales use the store codes WS and EC.
func registerBolt() {
	core.Register(core.Format{
		Name:             "bolt_weekly",
		ResellerID:       "bolt",
		Label:            "Bolt weekly sell-out",
		FilenameKeywords: []string{"bolt", "sellout"},
		Columns: []core.Column{
			{Field: core.FieldProduct, Header: "EAN", Required: true},
			{Field: core.FieldDate, Header: "Sale Date", Required: true},
			{Field: core.FieldQuantity, Header: "Units", Required: true},
			{Field: core.FieldAmount, Header: "Net Sales", Required: true},
			{Field: core.FieldStore, Header: "Store", Required: true},
			{Field: core.FieldCurrency, Header: "Currency"},
		},
		Rules: core.Rules{
			SourceCurrency: "EUR",
			CurrencyFactor: factor("1"),
			FactorCurrency: "EUR",
			Negatives:      core.NegativeMinus,
			StoreLayout:    core.StoreColumn,
			Product:        core.ProductUniversal,
			OnlineCodes:    []string{"WS", "EC"},
			DateLayouts:    []string{"2006-01-02"},
		},
	})
}
