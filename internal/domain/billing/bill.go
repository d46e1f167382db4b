package billing

import (
	"strings"
	"time"
)

// BillDateLayout is the timestamp layout used by the source platform.
const BillDateLayout = "2006-01-02 15:04:05"

// Bill is a billing record as returned by the source platform. Bills are
// read-only: the source platform remains the system of record and this
// service never writes them back.
type Bill struct {
	BillID          int64   `json:"billId"`
	BillNumber      string  `json:"billNumber"`
	BillDate        string  `json:"billDate"`
	ProcessDate     string  `json:"processDate,omitempty"`
	ClientID        int64   `json:"clientId,omitempty"`
	Simplified      bool    `json:"simplified,omitempty"`
	BillSender      string  `json:"billSender,omitempty"`
	Type            string  `json:"type,omitempty"`
	Status          string  `json:"status,omitempty"`
	Annulation      bool    `json:"annulation,omitempty"`
	BaseAmount      float64 `json:"baseAmount,omitempty"`
	TaxAmount       float64 `json:"taxAmount,omitempty"`
	LegalEntityName string  `json:"legalEntityName,omitempty"`
	VATNumberType   string  `json:"vatNumberType,omitempty"`
	VATNumber       string  `json:"vatNumber,omitempty"`
	PersonType      string  `json:"personType,omitempty"`
	FirstName       string  `json:"firstName,omitempty"`
	LastName1       string  `json:"lastName1,omitempty"`
	LastName2       string  `json:"lastName2,omitempty"`
	Email           string  `json:"email,omitempty"`
	Mobile          string  `json:"mobile,omitempty"`
	Telephone       string  `json:"telephone,omitempty"`
	Address         string  `json:"address,omitempty"`
	City            string  `json:"city,omitempty"`
	State           string  `json:"state,omitempty"`
	PostalCode      string  `json:"postalCode,omitempty"`
	Country         string  `json:"country,omitempty"`
	LanguageID      int     `json:"languageId,omitempty"`

	BillLines []BillLine `json:"billLines,omitempty"`
	BillTaxes []BillTax  `json:"billTaxes,omitempty"`
}

// BillLine is one line of a source bill, carrying the reservation it was
// issued for and the payment metadata attached to it.
type BillLine struct {
	BillLineID        int64   `json:"billLineId"`
	BillLineBase      float64 `json:"billLineBaseAmount"`
	BillLineTax       float64 `json:"billLineTaxAmount"`
	ReservationID     int64   `json:"reservationId,omitempty"`
	PaymentID         int64   `json:"paymentId,omitempty"`
	PaymentDate       string  `json:"paymentDate,omitempty"`
	PaymentReference  string  `json:"paymentReference,omitempty"`
	PaymentOrigin     string  `json:"paymentOrigin,omitempty"`
	FirstPayment      bool    `json:"firstPayment,omitempty"`
	SecondPayment     bool    `json:"secondPayment,omitempty"`
	PaymentSalesGroup int64   `json:"paymentSalesGroupId,omitempty"`
}

// BillTax is a tax entry of a source bill, linked to its bill by BillID.
type BillTax struct {
	BillID    int64   `json:"billId"`
	TaxRate   float64 `json:"taxRate"`
	TaxAmount float64 `json:"taxAmount"`
	TaxBasis  float64 `json:"taxBasis"`
}

// Purchase is a source-platform purchase record, retrieved through the
// purchases-by-window endpoint for ad-hoc reconciliation.
type Purchase struct {
	PurchaseID    int64   `json:"purchaseId"`
	ReservationID int64   `json:"reservationId,omitempty"`
	ClientID      int64   `json:"clientId,omitempty"`
	Status        string  `json:"status,omitempty"`
	CreationDate  string  `json:"creationDate,omitempty"`
	TotalAmount   float64 `json:"totalAmount,omitempty"`
}

// Product is a source-platform product master record.
type Product struct {
	ProductID int64  `json:"productId"`
	Name      string `json:"name,omitempty"`
	Code      string `json:"code,omitempty"`
	Active    bool   `json:"active,omitempty"`
}

// Date parses the bill timestamp. Source timestamps carry no zone and are
// interpreted as UTC.
func (b *Bill) Date() (time.Time, error) {
	return time.ParseInLocation(BillDateLayout, b.BillDate, time.UTC)
}

// TaxCode returns the bill's tax identifier normalized for lookups
// (trimmed, uppercased). Empty means the bill has no usable tax id and
// must be migrated against the generic counterparty.
func (b *Bill) TaxCode() string {
	return strings.ToUpper(strings.TrimSpace(b.VATNumber))
}

// HasTaxCode reports whether the bill carries a usable tax identifier.
func (b *Bill) HasTaxCode() bool {
	return b.TaxCode() != ""
}

// IsPerson reports whether the bill's buyer is an individual rather than a
// legal entity.
func (b *Bill) IsPerson() bool {
	return strings.EqualFold(b.PersonType, "INDIVIDUAL")
}

// PersonName joins the non-empty person name parts with single spaces.
func (b *Bill) PersonName() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{b.FirstName, b.LastName1, b.LastName2} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}

// TaxRateFor returns the tax rate matching the given bill id, falling back
// to the first tax entry when no entry matches, and 0 when the bill carries
// no tax entries at all.
func TaxRateFor(taxes []BillTax, billID int64) float64 {
	for _, t := range taxes {
		if t.BillID == billID {
			return t.TaxRate
		}
	}
	if len(taxes) > 0 {
		return taxes[0].TaxRate
	}
	return 0
}
