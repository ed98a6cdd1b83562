package auth

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

// Claims identifies the caller of a request. Platform-issued tokens carry the subject and an
// optional role; scopes are space separated as in OAuth2.
type Claims struct {
	Role  string `json:"role,omitempty"`
	Scope string `json:"scope,omitempty"`
	jwt.RegisteredClaims
}

// Verifier is the identity port: it turns a bearer token into verified claims.
type Verifier interface {
	Verify(token string) (*Claims, error)
}

type HS256Verifier struct {
	secret []byte
	issuer string
}

func NewHS256Verifier(secret, issuer string) *HS256Verifier {
	return &HS256Verifier{secret: []byte(secret), issuer: issuer}
}

func (v *HS256Verifier) Verify(token string) (*Claims, error) {
	return parse(token, v.issuer, jwt.SigningMethodHS256.Alg(), func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
}

type RS256Verifier struct {
	key    *rsa.PublicKey
	issuer string
}

func NewRS256Verifier(key *rsa.PublicKey, issuer string) *RS256Verifier {
	return &RS256Verifier{key: key, issuer: issuer}
}

// NewRS256VerifierFromFile reads a PEM encoded RSA public key.
func NewRS256VerifierFromFile(path, issuer string) (*RS256Verifier, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	key, err := jwt.ParseRSAPublicKeyFromPEM(raw)
	if err != nil {
		return nil, fmt.Errorf("parse rsa public key: %w", err)
	}
	return NewRS256Verifier(key, issuer), nil
}

func (v *RS256Verifier) Verify(token string) (*Claims, error) {
	return parse(token, v.issuer, jwt.SigningMethodRS256.Alg(), func(*jwt.Token) (any, error) {
		return v.key, nil
	})
}

func parse(token, issuer, alg string, keyFunc jwt.Keyfunc) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{alg}),
		jwt.WithLeeway(30 * time.Second),
	}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, keyFunc, opts...)
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func SignHS256(claims Claims, secret string) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
