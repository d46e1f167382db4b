package books

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/billsync/backend/internal/domain/billing"
)

// snippetLimit caps how much of an undecodable body makes it into an error
// message.
const snippetLimit = 120

// Config holds target-platform client settings.
type Config struct {
	BaseURL         string
	DocType         string
	PageSize        int
	ContactPageSize int
	LookbackYears   int
	Timeout         time.Duration
	MaxRetries      int
	RetryBaseDelay  time.Duration
}

// Client talks to the invoicing platform. All calls authenticate with a
// static API key header.
type Client struct {
	cfg    Config
	apiKey string
	http   *http.Client
	logger *zap.Logger

	// now is swappable so backward-scan tests can pin the clock.
	now func() time.Time
}

var _ billing.TargetPlatform = (*Client)(nil)

// NewClient builds a target-platform client.
func NewClient(cfg Config, apiKey string, logger *zap.Logger) *Client {
	if cfg.DocType == "" {
		cfg.DocType = "invoice"
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 200
	}
	if cfg.ContactPageSize <= 0 {
		cfg.ContactPageSize = 500
	}
	if cfg.LookbackYears <= 0 {
		cfg.LookbackYears = 5
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 4
	}
	if cfg.RetryBaseDelay == 0 {
		cfg.RetryBaseDelay = 1500 * time.Millisecond
	}
	return &Client{
		cfg:    cfg,
		apiKey: apiKey,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger,
		now:    time.Now,
	}
}

// ---------------------------------------------------------------------------
// HTTP plumbing
// ---------------------------------------------------------------------------

type response struct {
	status int
	body   []byte
}

func retryable(status int) bool {
	switch status {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// do performs one request with retries. Transport errors and 502/503/504
// responses are retried with a doubling backoff plus jitter; any other
// response is returned to the caller for interpretation.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, payload any) (*response, error) {
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode payload: %w", err)
		}
	}

	u := strings.TrimRight(c.cfg.BaseURL, "/") + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	delay := c.cfg.RetryBaseDelay
	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 1 {
			jitter := time.Duration(rand.Int63n(int64(delay)/2 + 1))
			select {
			case <-time.After(delay + jitter):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			delay *= 2
		}

		req, err := http.NewRequestWithContext(ctx, method, u, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Key", c.apiKey)
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("%w: %v", billing.ErrPlatformUnavailable, err)
			c.logger.Warn("Target request failed, will retry",
				zap.String("path", path),
				zap.Int("attempt", attempt),
				zap.Error(err))
			continue
		}

		data, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			lastErr = fmt.Errorf("%w: reading body: %v", billing.ErrPlatformUnavailable, readErr)
			continue
		}

		if retryable(resp.StatusCode) {
			lastErr = fmt.Errorf("%w: status %d", billing.ErrRequestFailed, resp.StatusCode)
			c.logger.Warn("Target replied with transient status, will retry",
				zap.String("path", path),
				zap.Int("status", resp.StatusCode),
				zap.Int("attempt", attempt))
			continue
		}

		return &response{status: resp.StatusCode, body: data}, nil
	}
	return nil, lastErr
}

// decode unmarshals a response body, surfacing undecodable payloads with
// their status and a bounded snippet. The platform occasionally answers
// JSON endpoints with HTML error pages; the snippet is what makes those
// diagnosable from logs.
func decode(resp *response, out any) error {
	if err := json.Unmarshal(resp.body, out); err != nil {
		return fmt.Errorf("%w: status %d body %q",
			billing.ErrInvalidResponse, resp.status, bodySnippet(resp.body))
	}
	return nil
}

func bodySnippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > snippetLimit {
		return s[:snippetLimit]
	}
	return s
}

func (c *Client) documentsPath() string {
	return "/documents/" + c.cfg.DocType
}

// ---------------------------------------------------------------------------
// Documents
// ---------------------------------------------------------------------------

// ListDocuments pages through every document dated within [startTS, endTS]
// (unix seconds).
func (c *Client) ListDocuments(ctx context.Context, startTS, endTS int64) ([]billing.TargetDocument, error) {
	var all []billing.TargetDocument
	for page := 1; ; page++ {
		docs, err := c.documentsPage(ctx, url.Values{
			"starttmp": {strconv.FormatInt(startTS, 10)},
			"endtmp":   {strconv.FormatInt(endTS, 10)},
			"page":     {strconv.Itoa(page)},
		})
		if err != nil {
			return nil, err
		}
		all = append(all, docs...)
		if len(docs) < c.cfg.PageSize {
			return all, nil
		}
	}
}

func (c *Client) documentsPage(ctx context.Context, query url.Values) ([]billing.TargetDocument, error) {
	// The short-page termination checks below compare against cfg.PageSize,
	// so the platform must be told to use that size; its default is smaller.
	query.Set("pageSize", strconv.Itoa(c.cfg.PageSize))
	resp, err := c.do(ctx, http.MethodGet, c.documentsPath(), query, nil)
	if err != nil {
		return nil, err
	}
	if resp.status != http.StatusOK {
		return nil, fmt.Errorf("%w: listing documents: status %d body %q",
			billing.ErrRequestFailed, resp.status, bodySnippet(resp.body))
	}
	var docs []billing.TargetDocument
	if err := decode(resp, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}

// InvoiceByDocNumber locates a document by its migration key. The filter
// query is tried under both field names the platform understands; when
// neither filter matches, one-year windows are scanned backward until a
// match or the configured lookback is exhausted. Returns (nil, nil) when no
// document matches.
func (c *Client) InvoiceByDocNumber(ctx context.Context, docNumber string) (*billing.TargetDocument, error) {
	for _, param := range []string{"docNumber", "invoiceNum"} {
		docs, err := c.documentsPage(ctx, url.Values{param: {docNumber}})
		if err != nil {
			c.logger.Warn("Document filter query failed, continuing",
				zap.String("param", param), zap.Error(err))
			continue
		}
		for i := range docs {
			if docs[i].Matches(docNumber) {
				return &docs[i], nil
			}
		}
	}

	// Filter queries are best effort on some plans; scan backward year by
	// year as the reliable path.
	end := c.now().UTC()
	for year := 0; year < c.cfg.LookbackYears; year++ {
		start := end.AddDate(-1, 0, 0)
		doc, err := c.scanWindow(ctx, start.Unix(), end.Unix(), docNumber)
		if err != nil {
			return nil, err
		}
		if doc != nil {
			return doc, nil
		}
		end = start
	}
	return nil, nil
}

func (c *Client) scanWindow(ctx context.Context, startTS, endTS int64, docNumber string) (*billing.TargetDocument, error) {
	for page := 1; ; page++ {
		docs, err := c.documentsPage(ctx, url.Values{
			"starttmp": {strconv.FormatInt(startTS, 10)},
			"endtmp":   {strconv.FormatInt(endTS, 10)},
			"page":     {strconv.Itoa(page)},
		})
		if err != nil {
			return nil, err
		}
		for i := range docs {
			if docs[i].Matches(docNumber) {
				return &docs[i], nil
			}
		}
		if len(docs) < c.cfg.PageSize {
			return nil, nil
		}
	}
}

// CreateInvoice creates a document. A platform-side 500 is a known soft
// failure mode and is reported as (nil, nil) so the batch can move on.
func (c *Client) CreateInvoice(ctx context.Context, invoice *billing.Invoice) (*billing.TargetDocument, error) {
	resp, err := c.do(ctx, http.MethodPost, c.documentsPath(), nil, invoice)
	if err != nil {
		return nil, err
	}

	switch {
	case resp.status == http.StatusOK || resp.status == http.StatusCreated:
	case resp.status == http.StatusInternalServerError:
		c.logger.Error("Target rejected invoice with a server error, skipping record",
			zap.String("invoice_num", invoice.InvoiceNum),
			zap.String("body", bodySnippet(resp.body)))
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: creating invoice %s: status %d body %q",
			billing.ErrRequestFailed, invoice.InvoiceNum, resp.status, bodySnippet(resp.body))
	}

	var result createResult
	if err := decode(resp, &result); err != nil {
		return nil, err
	}
	return &billing.TargetDocument{
		ID:         result.ID,
		DocNumber:  invoice.InvoiceNum,
		InvoiceNum: invoice.InvoiceNum,
	}, nil
}

// InvoiceDetails fetches one document by platform id.
func (c *Client) InvoiceDetails(ctx context.Context, id string) (*billing.TargetDocument, error) {
	resp, err := c.do(ctx, http.MethodGet, c.documentsPath()+"/"+id, nil, nil)
	if err != nil {
		return nil, err
	}
	if resp.status == http.StatusNotFound {
		return nil, nil
	}
	if resp.status != http.StatusOK {
		return nil, fmt.Errorf("%w: document %s: status %d body %q",
			billing.ErrRequestFailed, id, resp.status, bodySnippet(resp.body))
	}
	var doc billing.TargetDocument
	if err := decode(resp, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// createResult is the platform's creation acknowledgment.
type createResult struct {
	Status int    `json:"status"`
	ID     string `json:"id"`
	Info   string `json:"info"`
}

// ---------------------------------------------------------------------------
// Contacts
// ---------------------------------------------------------------------------

// ContactByCode locates a contact by tax code. The filter query is tried
// first; since the platform's filter does substring matching on some
// fields, hits are verified with a normalized exact compare, and a full
// paginated scan is the fallback. Returns (nil, nil) when no contact
// matches.
func (c *Client) ContactByCode(ctx context.Context, code string) (*billing.TargetContact, error) {
	norm := normalizeCode(code)
	if norm == "" {
		return nil, nil
	}

	contacts, err := c.contactsPage(ctx, url.Values{"code": {code}})
	if err != nil {
		c.logger.Warn("Contact filter query failed, falling back to scan", zap.Error(err))
	} else {
		for i := range contacts {
			if normalizeCode(contacts[i].Code) == norm {
				return &contacts[i], nil
			}
		}
	}

	for page := 1; ; page++ {
		contacts, err := c.contactsPage(ctx, url.Values{"page": {strconv.Itoa(page)}})
		if err != nil {
			return nil, err
		}
		for i := range contacts {
			if normalizeCode(contacts[i].Code) == norm {
				return &contacts[i], nil
			}
		}
		if len(contacts) < c.cfg.ContactPageSize {
			return nil, nil
		}
	}
}

// ListContacts pages through every contact.
func (c *Client) ListContacts(ctx context.Context) ([]billing.TargetContact, error) {
	var all []billing.TargetContact
	for page := 1; ; page++ {
		contacts, err := c.contactsPage(ctx, url.Values{"page": {strconv.Itoa(page)}})
		if err != nil {
			return nil, err
		}
		all = append(all, contacts...)
		if len(contacts) < c.cfg.ContactPageSize {
			return all, nil
		}
	}
}

// ContactDetails fetches one contact by platform id.
func (c *Client) ContactDetails(ctx context.Context, id string) (*billing.TargetContact, error) {
	resp, err := c.do(ctx, http.MethodGet, "/contacts/"+id, nil, nil)
	if err != nil {
		return nil, err
	}
	if resp.status == http.StatusNotFound {
		return nil, nil
	}
	if resp.status != http.StatusOK {
		return nil, fmt.Errorf("%w: contact %s: status %d body %q",
			billing.ErrRequestFailed, id, resp.status, bodySnippet(resp.body))
	}
	var contact billing.TargetContact
	if err := decode(resp, &contact); err != nil {
		return nil, err
	}
	return &contact, nil
}

// CreateContact creates a counterparty.
func (c *Client) CreateContact(ctx context.Context, contact *billing.Contact) (*billing.TargetContact, error) {
	resp, err := c.do(ctx, http.MethodPost, "/contacts", nil, contact)
	if err != nil {
		return nil, err
	}
	if resp.status != http.StatusOK && resp.status != http.StatusCreated {
		return nil, fmt.Errorf("%w: creating contact %s: status %d body %q",
			billing.ErrRequestFailed, contact.Code, resp.status, bodySnippet(resp.body))
	}

	var result createResult
	if err := decode(resp, &result); err != nil {
		return nil, err
	}
	return &billing.TargetContact{
		ID:   result.ID,
		Name: contact.Name,
		Code: contact.Code,
	}, nil
}

func (c *Client) contactsPage(ctx context.Context, query url.Values) ([]billing.TargetContact, error) {
	query.Set("pageSize", strconv.Itoa(c.cfg.ContactPageSize))
	resp, err := c.do(ctx, http.MethodGet, "/contacts", query, nil)
	if err != nil {
		return nil, err
	}
	if resp.status != http.StatusOK {
		return nil, fmt.Errorf("%w: listing contacts: status %d body %q",
			billing.ErrRequestFailed, resp.status, bodySnippet(resp.body))
	}
	var contacts []billing.TargetContact
	if err := decode(resp, &contacts); err != nil {
		return nil, err
	}
	return contacts, nil
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
