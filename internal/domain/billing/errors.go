package billing

import "errors"

var (
	// ErrPlatformUnavailable indicates a transport-level failure (DNS,
	// connect, timeout) talking to either platform.
	ErrPlatformUnavailable = errors.New("platform unavailable")

	// ErrRequestFailed indicates a non-success HTTP response from a
	// platform after any applicable retries.
	ErrRequestFailed = errors.New("platform request failed")

	// ErrInvalidResponse indicates a body that could not be decoded as the
	// expected JSON. The wrapped message carries the HTTP status and a
	// truncated body snippet for diagnostics.
	ErrInvalidResponse = errors.New("invalid platform response")

	// ErrUnauthorized indicates a 401 that persisted after one token
	// refresh, meaning the credentials themselves are bad.
	ErrUnauthorized = errors.New("platform rejected credentials")

	// ErrNoAccounts indicates that no configured account could be
	// initialized for a sync run.
	ErrNoAccounts = errors.New("no accounts were successfully initialized")
)
