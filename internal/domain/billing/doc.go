// Package billing provides the domain models of the bill migration: source
// bills as the point-of-sale platform emits them, the document and contact
// payloads the invoicing platform accepts, and the window arithmetic that
// paginates bill retrieval by time.
//
// The source platform stays the system of record. Migration is one-way and
// idempotent: the bill number doubles as the target document number, and a
// document already carrying it counts as migrated.
//
// Key types:
//   - Bill, BillLine, BillTax: source records (read-only)
//   - Invoice, Contact: target payloads
//   - TargetDocument, TargetContact: the target platform's view, with its
//     inconsistent identifier fields normalized behind helpers
//   - Window: one day-sized slice of a fetch range
//
// The SourcePlatform and TargetPlatform interfaces keep the application
// layer free of HTTP concerns; their implementations live under
// internal/infrastructure.
package billing
