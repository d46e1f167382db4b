package billing

// Invoice is the document payload sent to the target platform. InvoiceNum
// mirrors the source bill number and is the sole idempotence key of the
// migration: a document already carrying it counts as previously migrated.
type Invoice struct {
	DocType         string        `json:"docType"`
	InvoiceNum      string        `json:"invoiceNum"`
	Date            int64         `json:"date"`
	ContactID       string        `json:"contactId,omitempty"`
	ContactName     string        `json:"contactName,omitempty"`
	ContactCode     string        `json:"contactCode,omitempty"`
	ContactAddress  string        `json:"contactAddress,omitempty"`
	ContactCity     string        `json:"contactCity,omitempty"`
	ContactCountry  string        `json:"contactCountryCode,omitempty"`
	ContactPostCode string        `json:"contactCp,omitempty"`
	Items           []InvoiceItem `json:"items"`
	PaymentMethodID string        `json:"paymentMethodId,omitempty"`
}

// InvoiceItem is one line of a target invoice.
type InvoiceItem struct {
	ServiceID string  `json:"serviceId,omitempty"`
	Name      string  `json:"name"`
	Subtotal  float64 `json:"subtotal"`
	Tax       float64 `json:"tax"`
}

// Contact is the counterparty payload sent to the target platform. Empty
// fields are omitted from the wire form; the address block is dropped
// entirely when all its fields are empty.
type Contact struct {
	Name     string          `json:"name,omitempty"`
	Code     string          `json:"code,omitempty"`
	Type     string          `json:"type,omitempty"`
	IsPerson bool            `json:"isperson"`
	Email    string          `json:"email,omitempty"`
	Phone    string          `json:"phone,omitempty"`
	Address  *ContactAddress `json:"billAddress,omitempty"`
	CustomID string          `json:"CustomId,omitempty"`
}

// ContactAddress is the structured address block of a target contact.
type ContactAddress struct {
	Address    string `json:"address,omitempty"`
	City       string `json:"city,omitempty"`
	PostalCode string `json:"postalCode,omitempty"`
	Province   string `json:"province,omitempty"`
	Country    string `json:"country,omitempty"`
}

// IsEmpty reports whether every address field is empty, in which case the
// block must be omitted from the contact payload.
func (a *ContactAddress) IsEmpty() bool {
	if a == nil {
		return true
	}
	return a.Address == "" && a.City == "" && a.PostalCode == "" && a.Province == "" && a.Country == ""
}

// TargetDocument is a document as listed by the target platform. The
// upstream API is inconsistent about whether the migration key arrives as
// docNumber or invoiceNum, so both are decoded and Key checks both.
type TargetDocument struct {
	ID         string `json:"id,omitempty"`
	MongoID    string `json:"_id,omitempty"`
	DocNumber  string `json:"docNumber,omitempty"`
	InvoiceNum string `json:"invoiceNum,omitempty"`
	Date       int64  `json:"date,omitempty"`
	ContactID  string `json:"contact,omitempty"`
}

// Key returns the document's migration key: docNumber when present,
// invoiceNum otherwise. Empty when the document carries neither.
func (d *TargetDocument) Key() string {
	if d.DocNumber != "" {
		return d.DocNumber
	}
	return d.InvoiceNum
}

// Matches reports whether the document's key equals the given invoice
// number under either field name.
func (d *TargetDocument) Matches(invoiceNum string) bool {
	return invoiceNum != "" && (d.DocNumber == invoiceNum || d.InvoiceNum == invoiceNum)
}

// TargetContact is a counterparty as returned by the target platform.
type TargetContact struct {
	ID        string `json:"id,omitempty"`
	MongoID   string `json:"_id,omitempty"`
	ContactID string `json:"contactId,omitempty"`
	Name      string `json:"name,omitempty"`
	Code      string `json:"code,omitempty"`
}

// ResolvedID returns whichever identifier field the platform populated.
func (c *TargetContact) ResolvedID() string {
	if c == nil {
		return ""
	}
	if c.MongoID != "" {
		return c.MongoID
	}
	if c.ID != "" {
		return c.ID
	}
	return c.ContactID
}
