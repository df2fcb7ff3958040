// Package servicetoken signs and checks the short lived RS256 tokens the
// chat service presents on the book service's internal routes.
package servicetoken

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"socratium/internal/util"
)

const (
	DefaultTTL    = time.Minute
	DefaultLeeway = 15 * time.Second
	DefaultKeyID  = "internal-active"

	// AudienceBook is the audience of tokens accepted by the book service.
	AudienceBook = "book-service"
	// IssuerChat is the issuer used by the chat service.
	IssuerChat = "chat-service"
)

var (
	ErrMissingToken = errors.New("service token required")
	ErrInvalidToken = errors.New("invalid service token")
)

// Signer mints tokens for one issuer.
type Signer struct {
	issuer string
	keyID  string
	ttl    time.Duration
	key    *rsa.PrivateKey
	now    func() time.Time
}

// NewSigner loads the private key at keyPath.
func NewSigner(issuer, keyPath, keyID string, ttl time.Duration) (*Signer, error) {
	issuer = strings.TrimSpace(issuer)
	if issuer == "" {
		return nil, errors.New("service token issuer is required")
	}
	if strings.TrimSpace(keyPath) == "" {
		return nil, errors.New("service token private key path is required")
	}
	key, err := LoadPrivateKey(keyPath)
	if err != nil {
		return nil, fmt.Errorf("load service token private key: %w", err)
	}
	return NewSignerFromKey(issuer, key, keyID, ttl), nil
}

// NewSignerFromKey wraps an already loaded key.
func NewSignerFromKey(issuer string, key *rsa.PrivateKey, keyID string, ttl time.Duration) *Signer {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if strings.TrimSpace(keyID) == "" {
		keyID = DefaultKeyID
	}
	return &Signer{issuer: issuer, keyID: keyID, ttl: ttl, key: key, now: time.Now}
}

// Sign issues a token for audience.
func (s *Signer) Sign(audience string) (string, error) {
	if strings.TrimSpace(audience) == "" {
		return "", errors.New("service token audience is required")
	}
	now := s.now().UTC()
	t := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.RegisteredClaims{
		Issuer:    s.issuer,
		Subject:   s.issuer,
		Audience:  jwt.ClaimStrings{audience},
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		ID:        util.NewID(),
	})
	t.Header["kid"] = s.keyID
	return t.SignedString(s.key)
}

// Verifier accepts tokens for one audience from a set of issuers.
type Verifier struct {
	audience string
	issuers  map[string]bool
	keys     map[string]*rsa.PublicKey
	leeway   time.Duration
}

// NewVerifier loads the public key at keyPath under keyID.
func NewVerifier(audience, keyPath, keyID string, issuers []string) (*Verifier, error) {
	if strings.TrimSpace(keyPath) == "" {
		return nil, errors.New("service token public key path is required")
	}
	pub, err := LoadPublicKey(keyPath)
	if err != nil {
		return nil, fmt.Errorf("load service token public key: %w", err)
	}
	if strings.TrimSpace(keyID) == "" {
		keyID = DefaultKeyID
	}
	return NewVerifierFromKeys(audience, map[string]*rsa.PublicKey{keyID: pub}, issuers)
}

// NewVerifierFromKeys builds a verifier over kid keyed public keys.
func NewVerifierFromKeys(audience string, keys map[string]*rsa.PublicKey, issuers []string) (*Verifier, error) {
	audience = strings.TrimSpace(audience)
	if audience == "" {
		return nil, errors.New("service token audience is required")
	}
	if len(keys) == 0 {
		return nil, errors.New("service token verifier requires a public key")
	}
	allowed := map[string]bool{}
	for _, iss := range issuers {
		if iss = strings.TrimSpace(iss); iss != "" {
			allowed[iss] = true
		}
	}
	if len(allowed) == 0 {
		return nil, errors.New("at least one allowed issuer is required")
	}
	return &Verifier{audience: audience, issuers: allowed, keys: keys, leeway: DefaultLeeway}, nil
}

// Verify checks signature, key id, lifetime, audience and issuer.
func (v *Verifier) Verify(token string) (jwt.RegisteredClaims, error) {
	var claims jwt.RegisteredClaims
	if strings.TrimSpace(token) == "" {
		return claims, ErrMissingToken
	}
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		key, ok := v.keys[strings.TrimSpace(kid)]
		if !ok {
			return nil, fmt.Errorf("unknown key id %q", kid)
		}
		return key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithAudience(v.audience),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.leeway),
	)
	if err != nil {
		return claims, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !v.issuers[claims.Issuer] {
		return claims, fmt.Errorf("%w: issuer %q not allowed", ErrInvalidToken, claims.Issuer)
	}
	if claims.ID == "" || claims.Subject == "" {
		return claims, fmt.Errorf("%w: jti and subject required", ErrInvalidToken)
	}
	return claims, nil
}
