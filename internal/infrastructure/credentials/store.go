package credentials

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

var (
	// ErrAccountNotFound indicates a lookup for a name the store does not hold.
	ErrAccountNotFound = errors.New("account not found")
	// ErrNoCredentials indicates an empty or missing credentials file.
	ErrNoCredentials = errors.New("no accounts in credentials file")
)

// Account holds one tenant's source-platform credentials. Tokens are
// mutated as they rotate; the rest is static configuration.
type Account struct {
	Name         string `json:"name" validate:"required"`
	Username     string `json:"username" validate:"required"`
	Password     string `json:"password" validate:"required"`
	ClientID     string `json:"clientId" validate:"required"`
	PosID        string `json:"posId" validate:"required"`
	RefreshToken string `json:"refreshToken,omitempty"`
	AuthToken    string `json:"authToken,omitempty"`
}

// credentialsFile is the on-disk shape: the target platform's API key plus
// one entry per source account.
type credentialsFile struct {
	TargetAPIKey string    `json:"targetApiKey" validate:"required"`
	Accounts     []Account `json:"accounts" validate:"required,min=1,dive"`
}

// Store provides access to the configured accounts and rotating tokens.
// Token updates always take effect in memory; writing them back to the
// backing file is best effort, so a read-only filesystem degrades to
// re-authenticating with the password grant on the next run instead of
// failing the sync.
type Store interface {
	Accounts() []Account
	Get(name string) (Account, error)
	TargetAPIKey() string
	UpdateTokens(name, authToken, refreshToken string) error
}

// FileStore keeps credentials in a single JSON file.
type FileStore struct {
	path   string
	logger *zap.Logger

	mu   sync.RWMutex
	file credentialsFile
}

var _ Store = (*FileStore)(nil)

// NewFileStore loads and validates the credentials file at path.
func NewFileStore(path string, logger *zap.Logger) (*FileStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read credentials file: %w", err)
	}

	var file credentialsFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse credentials file: %w", err)
	}
	if len(file.Accounts) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoCredentials, path)
	}

	validate := validator.New()
	if err := validate.Struct(file); err != nil {
		return nil, fmt.Errorf("invalid credentials file %s: %w", path, err)
	}
	seen := make(map[string]struct{}, len(file.Accounts))
	for _, acc := range file.Accounts {
		key := strings.ToLower(acc.Name)
		if _, dup := seen[key]; dup {
			return nil, fmt.Errorf("duplicate account name %q in %s", acc.Name, path)
		}
		seen[key] = struct{}{}
	}

	return &FileStore{
		path:   path,
		logger: logger,
		file:   file,
	}, nil
}

// Accounts returns a copy of all configured accounts.
func (s *FileStore) Accounts() []Account {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Account, len(s.file.Accounts))
	copy(out, s.file.Accounts)
	return out
}

// TargetAPIKey returns the invoicing platform's API key.
func (s *FileStore) TargetAPIKey() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.file.TargetAPIKey
}

// Get returns the account with the given name. The match is
// case-insensitive.
func (s *FileStore) Get(name string) (Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, acc := range s.file.Accounts {
		if strings.EqualFold(acc.Name, name) {
			return acc, nil
		}
	}
	return Account{}, fmt.Errorf("%w: %s", ErrAccountNotFound, name)
}

// UpdateTokens records freshly rotated tokens for the named account. Empty
// values leave the corresponding token untouched. The in-memory copy is
// always updated; a failed write of the backing file is logged and
// swallowed.
func (s *FileStore) UpdateTokens(name, authToken, refreshToken string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := -1
	for i, acc := range s.file.Accounts {
		if strings.EqualFold(acc.Name, name) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, name)
	}

	if authToken != "" {
		s.file.Accounts[idx].AuthToken = authToken
	}
	if refreshToken != "" {
		s.file.Accounts[idx].RefreshToken = refreshToken
	}

	if err := s.persistLocked(); err != nil {
		s.logger.Warn("Could not persist rotated tokens, continuing with in-memory copy",
			zap.String("account", name),
			zap.Error(err),
		)
	}
	return nil
}

func (s *FileStore) persistLocked() error {
	data, err := json.MarshalIndent(s.file, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0o600)
}
