package migration

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/billsync/backend/internal/domain/billing"
)

// GenericContactName labels migrated bills that carry no tax identifier.
const GenericContactName = "cliente general"

// Transformer converts source bills into target-platform payloads. It is
// stateless; all knobs come from configuration.
type Transformer struct {
	DocType          string
	GenericContactID string
	PaymentMethods   map[string]string
}

// NewTransformer builds a transformer with the configured payment-origin
// mapping.
func NewTransformer(docType, genericContactID string, paymentMethods map[string]string) *Transformer {
	if docType == "" {
		docType = "invoice"
	}
	return &Transformer{
		DocType:          docType,
		GenericContactID: genericContactID,
		PaymentMethods:   paymentMethods,
	}
}

// round2 rounds to two decimals, half up, via exact decimal arithmetic.
// Float rounding would turn 2.005 into 2.00.
func round2(v float64) float64 {
	f, _ := decimal.NewFromFloat(v).Round(2).Float64()
	return f
}

// taxPercent normalizes a source tax rate to a percentage. Rates arrive
// either as a fraction (0.21) or already as a percentage (21).
func taxPercent(rate float64) float64 {
	if rate <= 1 {
		rate *= 100
	}
	return round2(rate)
}

// PaymentMethodID maps a source payment origin to the target platform's
// payment method id. Unknown origins map to empty, which the target
// interprets as its default method.
func (t *Transformer) PaymentMethodID(origin string) string {
	return t.PaymentMethods[strings.ToLower(strings.TrimSpace(origin))]
}

// ContactName resolves the counterparty display name of a bill: the legal
// entity name, then the joined person name. The generic label applies only
// to bills without a tax identifier; a bill with one keeps its (possibly
// empty) own name.
func ContactName(bill *billing.Bill) string {
	if name := collapseSpaces(bill.LegalEntityName); name != "" {
		return name
	}
	if name := collapseSpaces(bill.PersonName()); name != "" {
		return name
	}
	if bill.HasTaxCode() {
		return ""
	}
	return GenericContactName
}

// BillToInvoice builds the target document payload for a bill. contactID
// may be empty when the counterparty could not be resolved; the document
// then carries only the contact's name and code.
func (t *Transformer) BillToInvoice(bill *billing.Bill, contactID string) (*billing.Invoice, error) {
	date, err := bill.Date()
	if err != nil {
		return nil, fmt.Errorf("bill %s: bad date %q: %w", bill.BillNumber, bill.BillDate, err)
	}

	rate := taxPercent(billing.TaxRateFor(bill.BillTaxes, bill.BillID))

	var items []billing.InvoiceItem
	var paymentOrigin string
	for _, line := range bill.BillLines {
		item := billing.InvoiceItem{
			Name:     bill.BillNumber,
			Subtotal: round2(line.BillLineBase),
			Tax:      rate,
		}
		if line.ReservationID != 0 {
			item.ServiceID = strconv.FormatInt(line.ReservationID, 10)
			item.Name = fmt.Sprintf("Reserva %d", line.ReservationID)
		}
		items = append(items, item)
		if paymentOrigin == "" {
			paymentOrigin = line.PaymentOrigin
		}
	}
	if len(items) == 0 {
		// Simplified bills arrive without lines; the bill totals are the
		// single line.
		items = append(items, billing.InvoiceItem{
			Name:     bill.BillNumber,
			Subtotal: round2(bill.BaseAmount),
			Tax:      rate,
		})
	}

	return &billing.Invoice{
		DocType:         t.DocType,
		InvoiceNum:      bill.BillNumber,
		Date:            date.Unix(),
		ContactID:       contactID,
		ContactName:     sanitizeField(ContactName(bill), 0),
		ContactCode:     bill.TaxCode(),
		ContactAddress:  sanitizeField(bill.Address, maxAddressLen),
		ContactCity:     sanitizeField(bill.City, maxCityLen),
		ContactCountry:  countryCode(bill.Country),
		ContactPostCode: sanitizeField(bill.PostalCode, maxPostalCodeLen),
		Items:           items,
		PaymentMethodID: t.PaymentMethodID(paymentOrigin),
	}, nil
}

// BillToContact builds the counterparty payload for a bill. Empty fields
// are left out of the wire form; a fully empty address block is omitted
// entirely.
func (t *Transformer) BillToContact(bill *billing.Bill) *billing.Contact {
	contact := &billing.Contact{
		Name:     sanitizeField(ContactName(bill), 0),
		Code:     bill.TaxCode(),
		Type:     "client",
		IsPerson: bill.IsPerson(),
		Email:    strings.TrimSpace(bill.Email),
		Phone:    firstNonEmpty(strings.TrimSpace(bill.Mobile), strings.TrimSpace(bill.Telephone)),
	}

	if bill.ClientID > 0 {
		contact.CustomID = strconv.FormatInt(bill.ClientID, 10)
	}

	addr := &billing.ContactAddress{
		Address:    sanitizeField(bill.Address, maxAddressLen),
		City:       sanitizeField(bill.City, maxCityLen),
		PostalCode: sanitizeField(bill.PostalCode, maxPostalCodeLen),
		Province:   sanitizeField(bill.State, maxProvinceLen),
		Country:    countryCode(bill.Country),
	}
	if !addr.IsEmpty() {
		contact.Address = addr
	}

	return contact
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
