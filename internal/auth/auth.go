package auth

import (
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingCredentials = errors.New("exchange credentials are not configured")
	ErrMalformedKey       = errors.New("exchange private key is not a valid EC private key")
	ErrInvalidRequest     = errors.New("token must be scoped to a method and an absolute path")
	ErrTokenGeneration    = errors.New("failed to generate token")
)

const (
	// Issuer expected by the exchange's key-based auth scheme
	Issuer = "coinbase-cloud"
	// TokenTTL is the validity window of every signed token
	TokenTTL = 120 * time.Second
	// uriScheme prefixes the uri claim: "<scheme>:<METHOD> <host><path>"
	uriScheme = "any"
)

// Claims represents the JWT claims structure
type Claims struct {
	jwt.RegisteredClaims
	URI string `json:"uri"`
}

// SignedToken is a bearer credential valid for exactly one method+path
type SignedToken struct {
	Value     string
	URI       string
	Nonce     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// String never exposes the bearer value so tokens can't leak through log fields
func (t SignedToken) String() string {
	return "SignedToken{uri=" + t.URI + "}"
}

// Signer builds single-use ES256 tokens for exchange requests
type Signer struct {
	keyName string
	key     *ecdsa.PrivateKey
	host    string
	// configErr holds why signing is disabled, nil when the signer is usable
	configErr error
	now       func() time.Time
}

// NewSigner parses the credentials once. Absent or malformed credentials are
// not fatal here: the signer is returned in a disabled state and every Sign
// call reports the configuration error without touching the network.
func NewSigner(keyName, privateKeyPEM, host string) *Signer {
	s := &Signer{
		keyName: strings.TrimSpace(keyName),
		host:    host,
		now:     time.Now,
	}

	privateKeyPEM = strings.TrimSpace(privateKeyPEM)
	if s.keyName == "" || privateKeyPEM == "" {
		s.configErr = ErrMissingCredentials
		return s
	}

	key, err := jwt.ParseECPrivateKeyFromPEM([]byte(privateKeyPEM))
	if err != nil {
		s.configErr = fmt.Errorf("%w: %v", ErrMalformedKey, err)
		return s
	}
	s.key = key
	return s
}

// Enabled reports whether the signer holds usable credentials
func (s *Signer) Enabled() bool {
	return s.configErr == nil
}

// ConfigError returns the reason signing is disabled, or nil
func (s *Signer) ConfigError() error {
	return s.configErr
}

// KeyName is the key identifier used as subject and kid
func (s *Signer) KeyName() string {
	return s.keyName
}

// Sign creates a fresh token scoped to method and path. Tokens are never cached:
// each carries its own nonce and a TokenTTL expiry.
func (s *Signer) Sign(method, path string) (*SignedToken, error) {
	if s.configErr != nil {
		return nil, s.configErr
	}

	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" || !strings.HasPrefix(path, "/") {
		return nil, ErrInvalidRequest
	}

	nonce, err := newNonce()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenGeneration, err)
	}

	now := s.now()
	expiration := now.Add(TokenTTL)
	uri := BuildURI(method, s.host, path)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   s.keyName,
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiration),
		},
		URI: uri,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	token.Header["kid"] = s.keyName
	token.Header["nonce"] = nonce

	tokenString, err := token.SignedString(s.key)
	if err != nil {
		return nil, ErrTokenGeneration
	}

	return &SignedToken{
		Value:     tokenString,
		URI:       uri,
		Nonce:     nonce,
		IssuedAt:  now,
		ExpiresAt: expiration,
	}, nil
}

// BuildURI renders the uri claim for a request
func BuildURI(method, host, path string) string {
	return uriScheme + ":" + strings.ToUpper(method) + " " + host + path
}

// ValidateToken verifies an ES256 token against the public key and returns its
// claims together with the nonce carried in the header
func ValidateToken(tokenString string, pub *ecdsa.PublicKey) (*Claims, string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodECDSA); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return pub, nil
	}, jwt.WithIssuer(Issuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, "", err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, "", errors.New("invalid token")
	}

	nonce, _ := token.Header["nonce"].(string)
	if nonce == "" {
		return nil, "", errors.New("token header is missing a nonce")
	}
	return claims, nonce, nil
}

func newNonce() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
