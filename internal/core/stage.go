package core

import (
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Stage turns the data rows of a detected workbook into staging records, in
// file order. Rows that could not be read become records with an empty
// payload and a parse error; blank rows are skipped.
func Stage(batchID uuid.UUID, det Detection, wb *Workbook) []StagingRecord {
	sheets := make([]int, 0, len(det.HeaderRows))
	for i := range det.HeaderRows {
		sheets = append(sheets, i)
	}
	sort.Ints(sheets)

	var out []StagingRecord
	ordinal := 0
	for _, si := range sheets {
		sh := wb.Sheets[si]
		hdr := det.HeaderRows[si]
		headers := sh.Rows[hdr].Cells

		for _, row := range sh.Rows[hdr+1:] {
			rec := StagingRecord{
				BatchID: batchID,
				Sheet:   sh.Name,
				State:   RecordPending,
			}

			switch {
			case row.Err != "":
				rec.Payload = map[string]string{}
				rec.ParseError = row.Err
			case isEmptyRow(row.Cells):
				continue
			default:
				rec.Payload = rowPayload(headers, row.Cells)
			}

			ordinal++
			rec.Ordinal = ordinal
			out = append(out, rec)
		}
	}
	return out
}

// rowPayload maps headers to cells verbatim. Cells past the last header are
// kept under positional keys so nothing from the source row is lost.
func rowPayload(headers, cells []string) map[string]string {
	p := make(map[string]string, len(headers))
	for i, cell := range cells {
		key := ""
		if i < len(headers) {
			key = strings.TrimSpace(headers[i])
		}
		if key == "" {
			key = positionalKey(i)
		}
		if _, dup := p[key]; dup {
			key = positionalKey(i)
		}
		p[key] = cell
	}
	for i := len(cells); i < len(headers); i++ {
		if key := strings.TrimSpace(headers[i]); key != "" {
			if _, dup := p[key]; !dup {
				p[key] = ""
			}
		}
	}
	return p
}

func positionalKey(i int) string {
	return "_col" + strconv.Itoa(i+1)
}
