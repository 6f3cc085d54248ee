package formats

import "github.com/JonMunkholm/salesingest/internal/core"

// Fjord reports in SEK with its own article numbers and accounting-style
// returns, e.g. "(2)". Branch "OL" is the online store.
func registerFjord() {
	core.Register(core.Format{
		Name:             "fjord_monthly",
		ResellerID:       "fjord",
		Label:            "Fjord monthly report",
		SheetName:        "Sales",
		FilenameKeywords: []string{"fjord"},
		Columns: []core.Column{
			{Field: core.FieldProduct, Header: "Article No", Required: true},
			{Field: core.FieldDate, Header: "Date", Required: true},
			{Field: core.FieldQuantity, Header: "Qty", Required: true},
			{Field: core.FieldAmount, Header: "Revenue SEK", Required: true},
			{Field: core.FieldStore, Header: "Branch", Required: true},
		},
		Rules: core.Rules{
			SourceCurrency: "SEK",
			CurrencyFactor: factor("0.087"),
			FactorCurrency: "EUR",
			Negatives:      core.NegativeParentheses,
			StoreLayout:    core.StoreColumn,
			Product:        core.ProductSourceCode,
			OnlineCodes:    []string{"OL"},
			DateLayouts:    []string{"02.01.2006", "2006-01-02"},
		},
	})
}
