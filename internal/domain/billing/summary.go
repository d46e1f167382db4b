package billing

import "time"

// AccountSummary aggregates the outcome of one account's sync pass.
type AccountSummary struct {
	Account         string        `json:"account"`
	FetchedBills    int           `json:"fetched_bills"`
	Processed       int           `json:"processed"`
	SkippedExisting int           `json:"skipped_existing"`
	ContactsCreated int           `json:"contacts_created"`
	InvoicesCreated int           `json:"invoices_created"`
	Errors          int           `json:"errors"`
	BudgetExhausted bool          `json:"budget_exhausted"`
	Remaining       int           `json:"remaining"`
	Duration        time.Duration `json:"duration"`
}

// RunReport aggregates one full sync run across all accounts.
type RunReport struct {
	RunID           string           `json:"run_id"`
	StartedAt       time.Time        `json:"started_at"`
	FinishedAt      time.Time        `json:"finished_at"`
	Accounts        []AccountSummary `json:"accounts"`
	SkippedAccounts []string         `json:"skipped_accounts,omitempty"`
}

// Totals sums the per-account counters.
func (r *RunReport) Totals() AccountSummary {
	var total AccountSummary
	total.Account = "total"
	for _, a := range r.Accounts {
		total.FetchedBills += a.FetchedBills
		total.Processed += a.Processed
		total.SkippedExisting += a.SkippedExisting
		total.ContactsCreated += a.ContactsCreated
		total.InvoicesCreated += a.InvoicesCreated
		total.Errors += a.Errors
		total.Remaining += a.Remaining
		total.BudgetExhausted = total.BudgetExhausted || a.BudgetExhausted
	}
	return total
}
