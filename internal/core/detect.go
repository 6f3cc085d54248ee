package core

import (
	"path/filepath"
	"sort"
	"strings"
)

// Detection signal weights; they sum to 1.
const (
	weightColumns  = 0.55
	weightSheet    = 0.20
	weightFilename = 0.15
	weightReseller = 0.10
)

// DetectThreshold is the minimum confidence for a format to be accepted.
const DetectThreshold = 0.6

// Detection is the outcome of format detection. Format is empty when unresolved.
type Detection struct {
	Format          string
	Confidence      float64
	RequiredMatched int
	// HeaderRows maps sheet index to header row index for sheets holding data.
	HeaderRows map[int]int
}

// Resolved reports whether a format cleared the threshold.
func (d Detection) Resolved() bool {
	return d.Format != ""
}

type candidate struct {
	format     Format
	confidence float64
	matched    int
	headers    map[int]int
}

// Detect scores every catalog format against wb and returns the best one
// above DetectThreshold. Ties go to the most required columns matched, then
// to the format name.
func Detect(wb *Workbook, fileName, resellerHint string) Detection {
	return DetectAmong(Formats(), wb, fileName, resellerHint)
}

// DetectAmong is Detect over an explicit catalog.
func DetectAmong(formats []Format, wb *Workbook, fileName, resellerHint string) Detection {
	base := strings.ToLower(strings.TrimSuffix(filepath.Base(fileName), filepath.Ext(fileName)))

	var cands []candidate
	for _, f := range formats {
		c := score(f, wb, base, resellerHint)
		if c.confidence >= DetectThreshold {
			cands = append(cands, c)
		}
	}
	if len(cands) == 0 {
		return Detection{}
	}

	sort.Slice(cands, func(i, j int) bool {
		if cands[i].confidence != cands[j].confidence {
			return cands[i].confidence > cands[j].confidence
		}
		if cands[i].matched != cands[j].matched {
			return cands[i].matched > cands[j].matched
		}
		return cands[i].format.Name < cands[j].format.Name
	})

	best := cands[0]
	return Detection{
		Format:          best.format.Name,
		Confidence:      best.confidence,
		RequiredMatched: best.matched,
		HeaderRows:      best.headers,
	}
}

func score(f Format, wb *Workbook, base, resellerHint string) candidate {
	required := f.RequiredHeaders()
	c := candidate{format: f, headers: make(map[int]int)}

	// Column coverage is taken from the best sheet; every sheet reaching that
	// coverage is a data sheet. Per-store formats spread one table over many.
	sheetHit := false
	for i, sh := range wb.Sheets {
		row, n := findHeaderRow(sh.Rows, required)
		if row < 0 {
			continue
		}
		if n > c.matched {
			c.matched = n
			c.headers = map[int]int{i: row}
		} else if n == c.matched {
			c.headers[i] = row
		}
	}
	for i := range c.headers {
		if sheetMatches(f, wb.Sheets[i].Name) {
			sheetHit = true
		}
	}

	if len(required) > 0 {
		c.confidence += weightColumns * float64(c.matched) / float64(len(required))
	}
	if sheetHit {
		c.confidence += weightSheet
	}
	for _, kw := range f.FilenameKeywords {
		if kw != "" && strings.Contains(base, strings.ToLower(kw)) {
			c.confidence += weightFilename
			break
		}
	}
	if resellerHint != "" && strings.EqualFold(resellerHint, f.ResellerID) {
		c.confidence += weightReseller
	}

	// A table missing required columns cannot be staged, whatever the other signals say.
	if c.matched < len(required) {
		c.confidence = min(c.confidence, DetectThreshold-0.01)
	}
	if c.confidence > 1 {
		c.confidence = 1
	}
	return c
}

// sheetMatches reports whether a sheet name satisfies the format's sheet signal.
// Formats without an expected name, and per-store formats whose sheets are
// named after stores, accept any sheet.
func sheetMatches(f Format, name string) bool {
	if f.Rules.StoreLayout == StorePerSheet || f.SheetName == "" {
		return true
	}
	return strings.EqualFold(strings.TrimSpace(name), f.SheetName)
}
