package auth

import (
	"crypto/rsa"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// AssertionTTL is how long a client assertion stays valid.
const AssertionTTL = 5 * time.Minute

// AssertionSigner builds RS384-signed client assertions for the JWT bearer grant.
type AssertionSigner struct {
	key *rsa.PrivateKey
}

// NewAssertionSigner creates a signer for key.
func NewAssertionSigner(key *rsa.PrivateKey) *AssertionSigner {
	return &AssertionSigner{key: key}
}

// LoadAssertionSigner reads a PEM encoded RSA private key from path.
func LoadAssertionSigner(path string) (*AssertionSigner, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key: %w", err)
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM(pem)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return &AssertionSigner{key: key}, nil
}

// Sign returns a client assertion identifying clientID to the token endpoint at audience.
func (s *AssertionSigner) Sign(clientID, audience string) (string, error) {
	issued := now()
	claims := jwt.RegisteredClaims{
		Issuer:    clientID,
		Subject:   clientID,
		Audience:  jwt.ClaimStrings{audience},
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(issued),
		ExpiresAt: jwt.NewNumericDate(issued.Add(AssertionTTL)),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS384, claims)
	signed, err := token.SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign client assertion: %w", err)
	}
	return signed, nil
}

// VerifyAssertion checks an assertion's signature and issuer.
func VerifyAssertion(assertion, clientID string, key *rsa.PublicKey) (*jwt.RegisteredClaims, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(assertion, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return key, nil
	}, jwt.WithIssuer(clientID), jwt.WithValidMethods([]string{jwt.SigningMethodRS384.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("failed to parse client assertion: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("client assertion is not valid")
	}
	return claims, nil
}
