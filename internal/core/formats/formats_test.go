package formats

import (
	"testing"

	"github.com/JonMunkholm/salesingest/internal/core"
)

func TestCatalogRegistered(t *testing.T) {
	want := []string{"bolt_weekly", "fjord_monthly", "harbor_stores", "pixel_orders"}
	for _, name := range want {
		f, ok := core.GetFormat(name)
		if !ok {
			t.Errorf("format %s not registered", name)
			continue
		}
		if err := f.Validate(); err != nil {
			t.Errorf("format %s invalid: %v", name, err)
		}
	}
	if got := core.FormatCount(); got != len(want) {
		t.Errorf("FormatCount = %d, want %d", got, len(want))
	}
}

func TestFormatNamesUnique(t *testing.T) {
	seen := make(map[string]bool)
	for _, f := range core.Formats() {
		if seen[f.Name] {
			t.Errorf("duplicate format %s", f.Name)
		}
		seen[f.Name] = true
	}
}

func TestDetectCatalog(t *testing.T) {
	tests := []struct {
		name     string
		wb       *core.Workbook
		fileName string
		hint     string
		want     string
	}{
		{
			name: "bolt csv",
			wb: &core.Workbook{Sheets: []core.Sheet{{Rows: []core.RawRow{
				{Cells: []string{"EAN", "Sale Date", "Units", "Net Sales", "Store"}},
				{Cells: []string{"4006381333931", "2024-03-01", "2", "19.90", "Berlin Mitte"}},
			}}}},
			fileName: "bolt_sellout_w09.csv",
			hint:     "bolt",
			want:     "bolt_weekly",
		},
		{
			name: "harbor per-store sheets",
			wb: &core.Workbook{Sheets: []core.Sheet{
				{Name: "Leeds", Rows: []core.RawRow{{Cells: []string{"GTIN", "Day", "Quantity Sold", "Amount GBP"}}}},
				{Name: "York", Rows: []core.RawRow{{Cells: []string{"GTIN", "Day", "Quantity Sold", "Amount GBP"}}}},
			}},
			fileName: "export.xlsx",
			hint:     "harbor",
			want:     "harbor_stores",
		},
		{
			name: "unknown headers",
			wb: &core.Workbook{Sheets: []core.Sheet{{Rows: []core.RawRow{
				{Cells: []string{"Foo", "Bar"}},
			}}}},
			fileName: "bolt.csv",
			hint:     "bolt",
			want:     "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := core.Detect(tt.wb, tt.fileName, tt.hint)
			if got.Format != tt.want {
				t.Errorf("Detect = %q (%.2f), want %q", got.Format, got.Confidence, tt.want)
			}
		})
	}
}
