package formats

import "github.com/JonMunkholm/salesingest/internal/core"

// Pixel is a marketplace: every sale is online. Amounts carry their own
// currency column; SKUs need mappings.
func registerPixel() {
	core.Register(core.Format{
		Name:             "pixel_orders",
		ResellerID:       "pixel",
		Label:            "Pixel marketplace orders",
		SheetName:        "Orders",
		FilenameKeywords: []string{"pixel", "orders"},
		Columns: []core.Column{
			{Field: core.FieldProduct, Header: "SKU", Required: true},
			{Field: core.FieldDate, Header: "Order Date", Required: true},
			{Field: core.FieldQuantity, Header: "Qty", Required: true},
			{Field: core.FieldAmount, Header: "Total", Required: true},
			{Field: core.FieldCurrency, Header: "Currency"},
		},
		Rules: core.Rules{
			SourceCurrency: "USD",
			CurrencyFactor: factor("0.92"),
			FactorCurrency: "EUR",
			Negatives:      core.NegativeMinus,
			StoreLayout:    core.StoreFixedOnline,
			Product:        core.ProductSourceCode,
			DateLayouts:    []string{"2006-01-02T15:04:05Z07:00", "1/2/2006"},
		},
	})
}
