package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/99designs/keyring"
	"go.uber.org/zap"

	mailsync "github.com/IdrisKulubi/Student-Mail/internal/sync"
)

const serviceName = "student-mail"

// Credential is a delegated provider access token held for one user.
type Credential struct {
	Token      string
	ObtainedAt time.Time
}

// CredentialCache holds provider tokens per user in memory, backed by a
// keyring so tokens survive restarts. It implements sync.TokenSource.
type CredentialCache struct {
	mu      sync.RWMutex
	entries map[string]Credential
	ring    keyring.Keyring
	log     *zap.Logger
}

// OpenKeyring opens the file-backed keyring under dir.
func OpenKeyring(dir, password string) (keyring.Keyring, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName:      serviceName,
		AllowedBackends:  []keyring.BackendType{keyring.FileBackend},
		FileDir:          dir,
		FilePasswordFunc: keyring.FixedStringPrompt(password),
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return ring, nil
}

// NewCredentialCache creates a cache. ring may be nil for a memory-only cache.
func NewCredentialCache(ring keyring.Keyring, log *zap.Logger) *CredentialCache {
	if log == nil {
		log = zap.NewNop()
	}
	return &CredentialCache{
		entries: make(map[string]Credential),
		ring:    ring,
		log:     log,
	}
}

// Store saves the token obtained at sign-in.
func (c *CredentialCache) Store(userID, token string) error {
	if userID == "" || token == "" {
		return fmt.Errorf("user id and token are required")
	}

	c.mu.Lock()
	c.entries[userID] = Credential{Token: token, ObtainedAt: time.Now()}
	c.mu.Unlock()

	if c.ring == nil {
		return nil
	}
	if err := c.ring.Set(keyring.Item{Key: itemKey(userID), Data: []byte(token)}); err != nil {
		return fmt.Errorf("setting credential for %q: %w", userID, err)
	}
	return nil
}

// Clear drops the user's token at sign-out.
func (c *CredentialCache) Clear(userID string) error {
	c.mu.Lock()
	delete(c.entries, userID)
	c.mu.Unlock()

	if c.ring == nil {
		return nil
	}
	if err := c.ring.Remove(itemKey(userID)); err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		return fmt.Errorf("deleting credential for %q: %w", userID, err)
	}
	return nil
}

// Get returns the cached credential, falling back to the keyring. It reports
// false when no token is known.
func (c *CredentialCache) Get(userID string) (Credential, bool) {
	c.mu.RLock()
	cred, ok := c.entries[userID]
	c.mu.RUnlock()
	if ok {
		return cred, true
	}

	if c.ring == nil {
		return Credential{}, false
	}
	item, err := c.ring.Get(itemKey(userID))
	if err != nil {
		if !errors.Is(err, keyring.ErrKeyNotFound) {
			c.log.Warn("read credential from keyring", zap.String("user_id", userID), zap.Error(err))
		}
		return Credential{}, false
	}
	if len(item.Data) == 0 {
		return Credential{}, false
	}
	return Credential{Token: string(item.Data)}, true
}

// ResolveToken picks the explicitly supplied token, then the cached one.
// It returns sync.ErrNoCredentials when neither exists.
func (c *CredentialCache) ResolveToken(_ context.Context, userID, explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if cred, ok := c.Get(userID); ok {
		return cred.Token, nil
	}
	return "", mailsync.ErrNoCredentials
}

func itemKey(userID string) string {
	return "gmail:" + userID
}
