package core

import "time"

// CommitRows builds the fact rows of every valid, resolved record of b.
// Failed records never reach the fact table.
func CommitRows(b Batch, records []StagingRecord) []CommitRow {
	rows := make([]CommitRow, 0, len(records))
	for _, rec := range records {
		if rec.State != RecordValid {
			continue
		}
		r := rec.Resolved
		rows = append(rows, CommitRow{
			Ordinal: rec.Ordinal,
			Record: SalesRecord{
				TenantID:           b.TenantID,
				ResellerID:         b.ResellerID,
				CanonicalProductID: r.CanonicalProductID,
				StoreID:            r.StoreID,
				TransactionDate:    r.TransactionDate,
				Quantity:           r.Quantity,
				Amount:             r.Amount,
				SourceCurrency:     r.SourceCurrency,
				SourceAmount:       r.SourceAmount,
				BatchID:            b.ID,
			},
		})
	}
	return rows
}

// FinalizeCounts returns the counters of a batch after commit.
// Rows rejected at commit move from the valid side to the failed side.
func FinalizeCounts(b Batch, res CommitResult) (committed, failed int) {
	return res.Committed, b.RowsFailed + len(res.Rejected)
}

// CheckCommittable validates a fact row before it is written. Storage
// enforces the same constraints; this keeps the in-memory store honest.
func CheckCommittable(r SalesRecord) string {
	switch {
	case r.CanonicalProductID == "":
		return "missing canonical product"
	case r.TransactionDate.IsZero():
		return "missing transaction date"
	case r.TransactionDate.Before(MinTransactionDate):
		return "transaction date out of range"
	case r.TransactionDate.After(time.Now().Add(FutureTolerance)):
		return "transaction date out of range"
	}
	return ""
}
