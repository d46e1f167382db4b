package billing

import (
	"context"
	"time"
)

// BillQuery describes a windowed bill fetch against the source platform.
type BillQuery struct {
	// Start and End bound the fetch range. A zero End means "now"; a zero
	// Start means End minus DaysBack.
	Start time.Time
	End   time.Time
	// DaysBack is the default lookback applied when Start is zero.
	DaysBack int
	// Simplified selects the simplified bills endpoint variant instead of
	// the normal one.
	Simplified bool
	// Concurrency bounds how many day windows are fetched at once.
	Concurrency int
}

// SourcePlatform is the read side of the migration: the point-of-sale
// platform bills are copied from.
type SourcePlatform interface {
	// AccountName identifies the tenant this client is bound to.
	AccountName() string

	// RefreshToken obtains a fresh access token, trying the refresh-token
	// grant first and falling back to the password grant.
	RefreshToken(ctx context.Context) error

	// GetBills fetches all bills in the query range, sliced into ≤24h
	// windows and returned in chronological window order.
	GetBills(ctx context.Context, q BillQuery) ([]Bill, error)

	// GetBillByID fetches a single bill. Returns (nil, nil) when the
	// platform reports it as not found.
	GetBillByID(ctx context.Context, billID int64) (*Bill, error)
}

// TargetPlatform is the write side of the migration: the invoicing
// platform documents and contacts are created in.
type TargetPlatform interface {
	// ListDocuments pages through every document dated within
	// [startTS, endTS] (unix seconds).
	ListDocuments(ctx context.Context, startTS, endTS int64) ([]TargetDocument, error)

	// InvoiceByDocNumber locates a document by its migration key, checking
	// both field spellings the platform uses. Returns (nil, nil) when no
	// document matches.
	InvoiceByDocNumber(ctx context.Context, docNumber string) (*TargetDocument, error)

	// ContactByCode locates a contact by normalized tax code. Returns
	// (nil, nil) when no contact matches.
	ContactByCode(ctx context.Context, code string) (*TargetContact, error)

	// CreateContact creates a counterparty and returns the platform's view
	// of it.
	CreateContact(ctx context.Context, contact *Contact) (*TargetContact, error)

	// CreateInvoice creates a document. A platform-side 500 is reported as
	// (nil, nil): the batch treats it as a soft failure of this one record.
	CreateInvoice(ctx context.Context, invoice *Invoice) (*TargetDocument, error)
}
