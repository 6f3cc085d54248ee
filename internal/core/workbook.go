package core

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

// MaxHeaderSearchRows limits how far down a sheet the header row is searched.
// Reseller exports often carry a title block above the table.
const MaxHeaderSearchRows = 20

// zipMagic starts every XLSX file.
var zipMagic = []byte("PK\x03\x04")

// RawRow is one physical row of a sheet. Err is set when the row could not be read.
type RawRow struct {
	Cells []string
	Err   string
}

// Sheet is one tab of a workbook. CSV files have a single unnamed sheet.
type Sheet struct {
	Name string
	Rows []RawRow
}

// Workbook is a parsed upload.
type Workbook struct {
	Sheets []Sheet
}

// ParseWorkbook parses XLSX or CSV content. Row-level read errors are kept
// on the row; only an unreadable container is an error.
func ParseWorkbook(data []byte, fileName string) (*Workbook, error) {
	if bytes.HasPrefix(data, zipMagic) || strings.EqualFold(filepath.Ext(fileName), ".xlsx") {
		return parseXLSX(data)
	}
	return parseCSV(data)
}

func parseXLSX(data []byte) (*Workbook, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open xlsx: %w", err)
	}
	defer f.Close()

	wb := &Workbook{}
	for _, name := range f.GetSheetList() {
		rows, err := f.Rows(name)
		if err != nil {
			return nil, fmt.Errorf("read sheet %q: %w", name, err)
		}

		sheet := Sheet{Name: name}
		for rows.Next() {
			cols, err := rows.Columns()
			if err != nil {
				sheet.Rows = append(sheet.Rows, RawRow{Err: err.Error()})
				continue
			}
			sheet.Rows = append(sheet.Rows, RawRow{Cells: cols})
		}
		if err := rows.Error(); err != nil {
			sheet.Rows = append(sheet.Rows, RawRow{Err: err.Error()})
		}
		rows.Close()

		wb.Sheets = append(wb.Sheets, sheet)
	}
	return wb, nil
}

func parseCSV(data []byte) (*Workbook, error) {
	data = CleanText(data)

	r := csv.NewReader(bytes.NewReader(data))
	r.Comma = sniffDelimiter(data)
	r.FieldsPerRecord = -1
	r.ReuseRecord = false

	sheet := Sheet{}
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				sheet.Rows = append(sheet.Rows, RawRow{Err: pe.Error()})
				continue
			}
			return nil, fmt.Errorf("read csv: %w", err)
		}
		sheet.Rows = append(sheet.Rows, RawRow{Cells: record})
	}

	return &Workbook{Sheets: []Sheet{sheet}}, nil
}

// sniffDelimiter picks the most frequent of , ; and tab on the first line.
func sniffDelimiter(data []byte) rune {
	line := data
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		line = data[:i]
	}

	best, bestCount := ',', bytes.Count(line, []byte(","))
	for _, d := range []rune{';', '\t'} {
		if n := bytes.Count(line, []byte(string(d))); n > bestCount {
			best, bestCount = d, n
		}
	}
	return best
}

// findHeaderRow returns the row index within the first MaxHeaderSearchRows
// rows that contains the most of the wanted headers, and how many it contains.
func findHeaderRow(rows []RawRow, wanted []string) (int, int) {
	limit := MaxHeaderSearchRows
	if len(rows) < limit {
		limit = len(rows)
	}

	bestIdx, bestCount := -1, 0
	for i := 0; i < limit; i++ {
		if rows[i].Err != "" {
			continue
		}
		present := headerSet(rows[i].Cells)
		n := 0
		for _, h := range wanted {
			if _, ok := present[NormalizeHeader(h)]; ok {
				n++
			}
		}
		if n > bestCount {
			bestIdx, bestCount = i, n
		}
	}
	return bestIdx, bestCount
}

func headerSet(cells []string) map[string]struct{} {
	set := make(map[string]struct{}, len(cells))
	for _, c := range cells {
		if h := NormalizeHeader(c); h != "" {
			set[h] = struct{}{}
		}
	}
	return set
}

// HeaderIndex maps normalized header names to column positions.
type HeaderIndex map[string]int

// MakeHeaderIndex indexes a header row; the first occurrence of a name wins.
func MakeHeaderIndex(headers []string) HeaderIndex {
	idx := make(HeaderIndex, len(headers))
	for i, h := range headers {
		key := NormalizeHeader(h)
		if key == "" {
			continue
		}
		if _, exists := idx[key]; !exists {
			idx[key] = i
		}
	}
	return idx
}

func isEmptyRow(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
