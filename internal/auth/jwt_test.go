package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newSigningKey(t *testing.T) (jwk.Key, *httptest.Server) {
	t.Helper()

	raw, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	key, err := jwk.FromRaw(raw)
	require.NoError(t, err)
	require.NoError(t, key.Set(jwk.KeyIDKey, "test-key"))
	require.NoError(t, key.Set(jwk.AlgorithmKey, jwa.RS256))

	pub, err := jwk.PublicKeyOf(key)
	require.NoError(t, err)
	set := jwk.NewSet()
	require.NoError(t, set.AddKey(pub))

	body, err := json.Marshal(set)
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return key, srv
}

func signToken(t *testing.T, key jwk.Key, subject string, expiry time.Time) string {
	t.Helper()

	tok, err := jwt.NewBuilder().
		Subject(subject).
		Expiration(expiry).
		Claim("email", "student@uni.edu").
		Build()
	require.NoError(t, err)

	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.RS256, key))
	require.NoError(t, err)
	return string(signed)
}

func TestUserFromRequest(t *testing.T) {
	key, srv := newSigningKey(t)

	verifier, err := NewJWTVerifier(srv.URL, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer verifier.Close()

	req := httptest.NewRequest(http.MethodGet, "/api/emails", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, key, "user-1", time.Now().Add(time.Hour)))

	user, err := verifier.UserFromRequest(req)
	require.NoError(t, err)
	assert.Equal(t, "user-1", user.ID)
	assert.Equal(t, "student@uni.edu", user.Email)
}

func TestUserFromRequestRejects(t *testing.T) {
	key, srv := newSigningKey(t)

	verifier, err := NewJWTVerifier(srv.URL, nil)
	require.NoError(t, err)
	defer verifier.Close()

	expired := httptest.NewRequest(http.MethodGet, "/", nil)
	expired.Header.Set("Authorization", "Bearer "+signToken(t, key, "user-1", time.Now().Add(-time.Hour)))
	_, err = verifier.UserFromRequest(expired)
	assert.Error(t, err)

	missing := httptest.NewRequest(http.MethodGet, "/", nil)
	_, err = verifier.UserFromRequest(missing)
	assert.Error(t, err)

	noSubject := httptest.NewRequest(http.MethodGet, "/", nil)
	noSubject.Header.Set("Authorization", "Bearer "+signToken(t, key, "", time.Now().Add(time.Hour)))
	_, err = verifier.UserFromRequest(noSubject)
	assert.Error(t, err)
}
