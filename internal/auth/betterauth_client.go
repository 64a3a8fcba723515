package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultTokenTimeout bounds every call to the identity provider.
const DefaultTokenTimeout = 10 * time.Second

// ErrAccountNotLinked is returned when the user has no Google account connected.
var ErrAccountNotLinked = errors.New("no google account connected")

// Token is a delegated provider token issued by the identity provider.
type Token struct {
	AccessToken string
	Expiry      time.Time
}

// IdentityClient fetches Google access tokens from the BetterAuth server.
type IdentityClient struct {
	baseURL string
	client  *http.Client
}

// NewIdentityClient creates a client for the identity provider at authServerURL.
func NewIdentityClient(authServerURL string, timeout time.Duration) *IdentityClient {
	if timeout <= 0 {
		timeout = DefaultTokenTimeout
	}
	return &IdentityClient{
		baseURL: authServerURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// GetToken fetches the user's Google access token using their session JWT.
// The identity provider owns refresh; this client never retries.
func (c *IdentityClient) GetToken(ctx context.Context, userJWT string) (*Token, error) {
	url := fmt.Sprintf("%s/api/auth/accounts/google/token", c.baseURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+userJWT)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrAccountNotLinked
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("bad status %d: %s", resp.StatusCode, string(body))
	}

	var result struct {
		AccessToken string `json:"access_token"`
		ExpiresAt   int64  `json:"expires_at"` // unix timestamp
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if result.AccessToken == "" {
		return nil, ErrAccountNotLinked
	}

	token := &Token{AccessToken: result.AccessToken}
	if result.ExpiresAt > 0 {
		token.Expiry = time.Unix(result.ExpiresAt, 0)
	}
	return token, nil
}
