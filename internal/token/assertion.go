package token

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/sha1" //nolint:gosec // x5t is defined as a SHA-1 thumbprint
	"encoding/base64"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/basecamp/daemon-console/internal/credential"
)

// ClientAssertionType is the RFC 7523 assertion type for private_key_jwt.
const ClientAssertionType = "urn:ietf:params:oauth:client-assertion-type:jwt-bearer"

const assertionLifetime = 10 * time.Minute

// assertionSigner builds client assertions proving possession of a certificate.
type assertionSigner struct {
	clientID   string
	audience   string
	key        crypto.PrivateKey
	method     jwt.SigningMethod
	thumbprint string
	now        func() time.Time
}

func newAssertionSigner(clientID, audience string, cert *credential.Certificate) (*assertionSigner, error) {
	leaf := cert.Leaf()
	if leaf == nil {
		return nil, &credential.ConfigurationError{Setting: "CertificateName", Message: "certificate file holds no certificate"}
	}

	var method jwt.SigningMethod
	switch cert.Key.(type) {
	case *rsa.PrivateKey:
		method = jwt.SigningMethodRS256
	case *ecdsa.PrivateKey:
		method = jwt.SigningMethodES256
	default:
		return nil, &credential.ConfigurationError{
			Setting: "CertificateName",
			Message: fmt.Sprintf("unsupported private key type %T", cert.Key),
			Hint:    "Use an RSA or ECDSA P-256 key",
		}
	}

	sum := sha1.Sum(leaf.Raw) //nolint:gosec // see import
	return &assertionSigner{
		clientID:   clientID,
		audience:   audience,
		key:        cert.Key,
		method:     method,
		thumbprint: base64.RawURLEncoding.EncodeToString(sum[:]),
		now:        time.Now,
	}, nil
}

// Sign returns a fresh assertion for one token request.
func (s *assertionSigner) Sign() (string, error) {
	now := s.now()
	claims := jwt.RegisteredClaims{
		Issuer:    s.clientID,
		Subject:   s.clientID,
		Audience:  jwt.ClaimStrings{s.audience},
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(assertionLifetime)),
	}
	tk := jwt.NewWithClaims(s.method, claims)
	tk.Header["x5t"] = s.thumbprint
	tk.Header["typ"] = "JWT"
	return tk.SignedString(s.key)
}
