// Package core provides the business logic for sales file ingestion.
//
// This package holds all domain logic independent of storage, queueing or
// transport. Web handlers, queue workers and tests drive it through
// [Service] with a [Repository] and a [BlobOpener].
//
// # Format Catalog
//
// Reseller file layouts are registered at init time using [Register]. Each
// [Format] names its columns and the rules that apply to its cells:
//
//	core.Register(core.Format{
//	    Name:       "bolt_weekly",
//	    ResellerID: "bolt",
//	    Columns: []core.Column{
//	        {Field: core.FieldProduct, Header: "EAN", Required: true},
//	        {Field: core.FieldAmount, Header: "Net Sales", Required: true},
//	    },
//	    Rules: core.Rules{SourceCurrency: "GBP", CurrencyFactor: decimal.RequireFromString("1.17"), FactorCurrency: "EUR"},
//	})
//
// # Batch Lifecycle
//
// A submitted file becomes a batch that [Service.Advance] drives forward:
//
//  1. pending: the file is read, its format detected and its rows staged
//  2. staged: every row is validated, its product mapped and its store resolved
//  3. validated: the approval gate decides between approved, awaiting_approval and failed
//  4. approved: valid rows are upserted into the fact table on their natural key
//
// Transitions are compare-and-set in storage, so concurrent runners, reviewers
// and the sweeper never overwrite each other. Rows are conserved: once
// committed, rows_total equals rows_committed plus rows_failed.
//
// # Error Handling
//
// Row problems are classified by [ErrorKind] and kept in the batch error
// report. Technical errors are mapped to user-friendly messages using
// [MapError]; transient infrastructure errors are retried with backoff.
package core
