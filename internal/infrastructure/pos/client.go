package pos

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/billsync/backend/internal/domain/billing"
	"github.com/billsync/backend/internal/infrastructure/credentials"
)

// tokenSafetyMargin is subtracted from the advertised token lifetime so a
// token is never presented right at its expiry instant.
const tokenSafetyMargin = 30 * time.Second

// networkRetryDelay is the pause before the single retry a window fetch
// gets after a transport-level failure.
const networkRetryDelay = 2 * time.Second

// Config holds source-platform client settings shared by all accounts.
// OAuthClientID and OAuthClientSecret identify this integration against the
// token endpoint; they are distinct from the per-account business client id
// that data requests carry as a query parameter.
type Config struct {
	TokenURL          string
	APIBaseURL        string
	OAuthClientID     string
	OAuthClientSecret string
	Language          string
	Timeout           time.Duration
	DaysBack          int
	Concurrency       int
}

// Client talks to one source-platform account. It owns the account's OAuth
// token lifecycle and hands rotated tokens back to the credential store.
type Client struct {
	cfg     Config
	store   credentials.Store
	http    *http.Client
	logger  *zap.Logger
	account credentials.Account

	mu        sync.Mutex
	authToken string
	refresh   string
	posID     string
	expiresAt time.Time
}

var _ billing.SourcePlatform = (*Client)(nil)

// NewClient builds a client bound to the given account.
func NewClient(cfg Config, account credentials.Account, store credentials.Store, logger *zap.Logger) *Client {
	if cfg.Language == "" {
		cfg.Language = "es"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.DaysBack <= 0 {
		cfg.DaysBack = 365
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 10
	}
	return &Client{
		cfg:       cfg,
		store:     store,
		http:      &http.Client{Timeout: cfg.Timeout},
		logger:    logger.With(zap.String("account", account.Name)),
		account:   account,
		authToken: account.AuthToken,
		refresh:   account.RefreshToken,
		posID:     account.PosID,
	}
}

// AccountName identifies the tenant this client is bound to.
func (c *Client) AccountName() string { return c.account.Name }

// ---------------------------------------------------------------------------
// Token lifecycle
// ---------------------------------------------------------------------------

type tokenResponse struct {
	AccessToken  string   `json:"access_token"`
	RefreshToken string   `json:"refresh_token"`
	ExpiresIn    int      `json:"expires_in"`
	PosAllowed   []string `json:"posAllowed"`
}

// RefreshToken obtains a fresh access token. The refresh-token grant is
// tried first when a refresh token is on hand; a 400 or 401 from it means
// the refresh token went stale and the password grant takes over.
func (c *Client) RefreshToken(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refreshLocked(ctx)
}

func (c *Client) refreshLocked(ctx context.Context) error {
	var tok *tokenResponse
	var err error

	if c.refresh != "" {
		tok, err = c.requestToken(ctx, url.Values{
			"grant_type":    {"refresh_token"},
			"refresh_token": {c.refresh},
		})
		if err != nil {
			var se *statusError
			if !errors.As(err, &se) ||
				(se.status != http.StatusBadRequest && se.status != http.StatusUnauthorized) {
				return err
			}
			c.logger.Warn("Refresh token rejected, falling back to password grant",
				zap.Int("status", se.status))
			tok = nil
		}
	}

	if tok == nil {
		tok, err = c.requestToken(ctx, url.Values{
			"grant_type": {"password"},
			"username":   {c.account.Username},
			"password":   {c.account.Password},
		})
		if err != nil {
			return fmt.Errorf("%w: token request for %s: %v", billing.ErrUnauthorized, c.account.Name, err)
		}
	}

	c.authToken = tok.AccessToken
	if tok.RefreshToken != "" {
		c.refresh = tok.RefreshToken
	}
	c.expiresAt = time.Now().Add(time.Duration(tok.ExpiresIn)*time.Second - tokenSafetyMargin)
	c.posID = reconcilePos(c.account.PosID, tok.PosAllowed, c.logger)

	if err := c.store.UpdateTokens(c.account.Name, tok.AccessToken, tok.RefreshToken); err != nil {
		c.logger.Warn("Could not record rotated tokens", zap.Error(err))
	}

	c.logger.Info("Obtained source access token",
		zap.String("pos", c.posID),
		zap.Time("expires_at", c.expiresAt))
	return nil
}

// reconcilePos picks the point-of-sale id to present on API calls. The
// configured id wins when the platform allows it; otherwise the first
// allowed id is used so the account stays usable after a POS reshuffle.
func reconcilePos(configured string, allowed []string, logger *zap.Logger) string {
	if len(allowed) == 0 {
		return configured
	}
	for _, p := range allowed {
		if p == configured {
			return configured
		}
	}
	logger.Warn("Configured POS not in allowed set, using first allowed",
		zap.String("configured", configured),
		zap.Strings("allowed", allowed))
	return allowed[0]
}

type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.status, snippet(e.body))
}

func snippet(body string) string {
	const max = 120
	body = strings.TrimSpace(body)
	if len(body) > max {
		return body[:max]
	}
	return body
}

func (c *Client) requestToken(ctx context.Context, form url.Values) (*tokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.TokenURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(c.cfg.OAuthClientID, c.cfg.OAuthClientSecret)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", billing.ErrPlatformUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := readBody(resp)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &statusError{status: resp.StatusCode, body: string(body)}
	}

	var tok tokenResponse
	if err := json.Unmarshal(body, &tok); err != nil {
		return nil, fmt.Errorf("%w: token endpoint status %d body %q",
			billing.ErrInvalidResponse, resp.StatusCode, snippet(string(body)))
	}
	if tok.AccessToken == "" {
		return nil, fmt.Errorf("%w: token endpoint returned no access_token", billing.ErrInvalidResponse)
	}
	return &tok, nil
}

// ensureToken refreshes the token when it is absent or about to expire.
func (c *Client) ensureToken(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.authToken != "" && time.Now().Before(c.expiresAt) {
		return nil
	}
	return c.refreshLocked(ctx)
}

func (c *Client) currentToken() (token, pos string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authToken, c.posID
}

// ---------------------------------------------------------------------------
// Windowed retrieval
// ---------------------------------------------------------------------------

// GetBills fetches every bill in the query range. The range is sliced into
// day windows fetched concurrently; results come back in chronological
// window order regardless of completion order.
func (c *Client) GetBills(ctx context.Context, q billing.BillQuery) ([]billing.Bill, error) {
	endpoint := "/bills"
	if q.Simplified {
		endpoint = "/simplifiedbills"
	}
	return fetchWindowed[billing.Bill](ctx, c, endpoint, q)
}

// GetPurchases fetches every purchase in the query range using the same
// window machinery as bills.
func (c *Client) GetPurchases(ctx context.Context, q billing.BillQuery) ([]billing.Purchase, error) {
	return fetchWindowed[billing.Purchase](ctx, c, "/purchases", q)
}

func fetchWindowed[T any](ctx context.Context, c *Client, endpoint string, q billing.BillQuery) ([]T, error) {
	if err := c.ensureToken(ctx); err != nil {
		return nil, err
	}

	end := q.End
	if end.IsZero() {
		end = time.Now().UTC()
	}
	start := q.Start
	if start.IsZero() {
		days := q.DaysBack
		if days <= 0 {
			days = c.cfg.DaysBack
		}
		start = end.AddDate(0, 0, -days)
	}

	windows := billing.SliceWindows(start, end)
	concurrency := int64(q.Concurrency)
	if concurrency <= 0 {
		concurrency = int64(c.cfg.Concurrency)
	}

	c.logger.Info("Fetching source records by window",
		zap.String("endpoint", endpoint),
		zap.Int("windows", len(windows)),
		zap.Time("start", start),
		zap.Time("end", end))

	sem := semaphore.NewWeighted(concurrency)
	results := make([][]T, len(windows))
	var wg sync.WaitGroup

	for _, w := range windows {
		if err := sem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		wg.Add(1)
		go func(w billing.Window) {
			defer wg.Done()
			defer sem.Release(1)
			results[w.Index] = fetchWindow[T](ctx, c, endpoint, w)
		}(w)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []T
	for _, r := range results {
		out = append(out, r...)
	}
	return out, nil
}

// fetchWindow retrieves one day window. A 401 gets one retry after a token
// refresh; a transport error gets one retry after a short pause. Any other
// failure yields an empty window so one bad day cannot sink the whole
// range.
func fetchWindow[T any](ctx context.Context, c *Client, endpoint string, w billing.Window) []T {
	params := url.Values{
		"dateFrom": {w.StartParam()},
		"dateTo":   {w.EndParam()},
	}

	items, err := getJSON[[]T](ctx, c, endpoint, params)
	if err == nil {
		return items
	}

	switch {
	case isStatus(err, http.StatusUnauthorized):
		if rerr := c.RefreshToken(ctx); rerr != nil {
			c.logger.Error("Token refresh during window fetch failed", zap.Error(rerr))
			return nil
		}
		items, err = getJSON[[]T](ctx, c, endpoint, params)
	case isNetworkErr(err):
		select {
		case <-time.After(networkRetryDelay):
		case <-ctx.Done():
			return nil
		}
		items, err = getJSON[[]T](ctx, c, endpoint, params)
	}

	if err != nil {
		c.logger.Warn("Window fetch failed, treating as empty",
			zap.String("endpoint", endpoint),
			zap.String("from", w.StartParam()),
			zap.String("to", w.EndParam()),
			zap.Error(err))
		return nil
	}
	return items
}

// ---------------------------------------------------------------------------
// Point lookups
// ---------------------------------------------------------------------------

// GetBillByID fetches a single bill. A 404 from the platform is reported as
// (nil, nil).
func (c *Client) GetBillByID(ctx context.Context, billID int64) (*billing.Bill, error) {
	if err := c.ensureToken(ctx); err != nil {
		return nil, err
	}

	bill, err := getJSON[billing.Bill](ctx, c, fmt.Sprintf("/bills/%d", billID), nil)
	if isStatus(err, http.StatusUnauthorized) {
		if rerr := c.RefreshToken(ctx); rerr != nil {
			return nil, rerr
		}
		bill, err = getJSON[billing.Bill](ctx, c, fmt.Sprintf("/bills/%d", billID), nil)
	}
	if isStatus(err, http.StatusNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &bill, nil
}

// GetProducts fetches the product master data for the account's POS.
func (c *Client) GetProducts(ctx context.Context) ([]billing.Product, error) {
	if err := c.ensureToken(ctx); err != nil {
		return nil, err
	}

	products, err := getJSON[[]billing.Product](ctx, c, "/products", nil)
	if isStatus(err, http.StatusUnauthorized) {
		if rerr := c.RefreshToken(ctx); rerr != nil {
			return nil, rerr
		}
		products, err = getJSON[[]billing.Product](ctx, c, "/products", nil)
	}
	if err != nil {
		return nil, err
	}
	return products, nil
}

// ---------------------------------------------------------------------------
// HTTP plumbing
// ---------------------------------------------------------------------------

func getJSON[T any](ctx context.Context, c *Client, endpoint string, params url.Values) (T, error) {
	var zero T

	if params == nil {
		params = url.Values{}
	}
	params.Set("clientId", c.account.ClientID)

	u := strings.TrimRight(c.cfg.APIBaseURL, "/") + endpoint
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return zero, fmt.Errorf("build request: %w", err)
	}
	token, pos := c.currentToken()
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("pos", pos)
	req.Header.Set("Accept-Language", c.cfg.Language)

	resp, err := c.http.Do(req)
	if err != nil {
		return zero, fmt.Errorf("%w: %v", billing.ErrPlatformUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := readBody(resp)
	if err != nil {
		return zero, err
	}
	if resp.StatusCode != http.StatusOK {
		return zero, fmt.Errorf("%w: %w", billing.ErrRequestFailed,
			&statusError{status: resp.StatusCode, body: string(body)})
	}

	var out T
	if err := json.Unmarshal(body, &out); err != nil {
		return zero, fmt.Errorf("%w: status %d body %q",
			billing.ErrInvalidResponse, resp.StatusCode, snippet(string(body)))
	}
	return out, nil
}

func readBody(resp *http.Response) ([]byte, error) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading body: %v", billing.ErrPlatformUnavailable, err)
	}
	return body, nil
}

func isStatus(err error, status int) bool {
	var se *statusError
	return errors.As(err, &se) && se.status == status
}

func isNetworkErr(err error) bool {
	return errors.Is(err, billing.ErrPlatformUnavailable)
}
