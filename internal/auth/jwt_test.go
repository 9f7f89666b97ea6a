package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func generateKey(t *testing.T) (*rsa.PrivateKey, string) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	der, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "client.pem")
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), 0o600))
	return key, path
}

func TestAssertionSigner_Sign(t *testing.T) {
	key, path := generateKey(t)
	signer, err := LoadAssertionSigner(path)
	require.NoError(t, err)

	assertion, err := signer.Sign("client-1", "https://auth.example.org/token")
	require.NoError(t, err)

	claims, err := VerifyAssertion(assertion, "client-1", &key.PublicKey)
	require.NoError(t, err)

	assert.Equal(t, "client-1", claims.Issuer)
	assert.Equal(t, "client-1", claims.Subject)
	assert.Equal(t, []string{"https://auth.example.org/token"}, []string(claims.Audience))
	assert.NotEmpty(t, claims.ID)
	assert.WithinDuration(t, time.Now().Add(AssertionTTL), claims.ExpiresAt.Time, 5*time.Second)
}

func TestAssertionSigner_UniqueIDs(t *testing.T) {
	key, _ := generateKey(t)
	signer := NewAssertionSigner(key)

	a, err := signer.Sign("c", "aud")
	require.NoError(t, err)
	b, err := signer.Sign("c", "aud")
	require.NoError(t, err)

	ca, err := VerifyAssertion(a, "c", &key.PublicKey)
	require.NoError(t, err)
	cb, err := VerifyAssertion(b, "c", &key.PublicKey)
	require.NoError(t, err)
	assert.NotEqual(t, ca.ID, cb.ID)
}

func TestVerifyAssertion_WrongIssuer(t *testing.T) {
	key, _ := generateKey(t)
	assertion, err := NewAssertionSigner(key).Sign("client-1", "aud")
	require.NoError(t, err)

	_, err = VerifyAssertion(assertion, "someone-else", &key.PublicKey)
	assert.Error(t, err)
}

func TestLoadAssertionSigner_Errors(t *testing.T) {
	_, err := LoadAssertionSigner(filepath.Join(t.TempDir(), "missing.pem"))
	assert.ErrorContains(t, err, "failed to read private key")

	path := filepath.Join(t.TempDir(), "bad.pem")
	require.NoError(t, os.WriteFile(path, []byte("not a key"), 0o600))
	_, err = LoadAssertionSigner(path)
	assert.ErrorContains(t, err, "failed to parse private key")
}
