//
//  Copyright © Manetu Inc. All rights reserved.
//

// Package token validates bearer tokens against the OIDC provider's
// published signing keys.
//
// The key set is obtained through a [KeysetCache] with a fixed TTL; a cache
// miss or expiry triggers a fetch of the provider's discovery document and
// the key set it points at. Validation failures are classified into
// malformed / bad-signature / expired / invalid-claims reason codes, all of
// which callers treat as "not authenticated via bearer" rather than a crash.
package token

import (
	"context"
	stderrors "errors"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/manetu/trackauth/pkg/common"
)

// Claims carries the decoded, validated claims of a bearer token.
type Claims struct {
	Subject string
	Email   string
	private map[string]interface{}
}

// NewClaims constructs Claims directly. Useful for tests and for callers
// that obtain claims through a channel other than the validator.
func NewClaims(subject, email string, private map[string]interface{}) *Claims {
	return &Claims{
		Subject: subject,
		Email:   email,
		private: private,
	}
}

// Get returns a private claim by name.
func (c *Claims) Get(name string) (interface{}, bool) {
	v, ok := c.private[name]
	return v, ok
}

// StringList coerces a claim to a list of strings. Both JSON arrays and a
// single string value are accepted; anything else yields nil.
func (c *Claims) StringList(name string) []string {
	v, ok := c.private[name]
	if !ok {
		return nil
	}
	switch vv := v.(type) {
	case string:
		return []string{vv}
	case []string:
		return vv
	case []interface{}:
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Validator validates bearer tokens.
type Validator interface {
	// Validate verifies the token's signature and standard claims, returning
	// the decoded claims on success.
	Validate(ctx context.Context, token string) (*Claims, error)
}

// JWTValidator is a [Validator] backed by a [KeysetCache].
type JWTValidator struct {
	cache    *KeysetCache
	audience string
	issuer   string
}

// ValidatorOption customizes a [JWTValidator].
type ValidatorOption func(*JWTValidator)

// WithAudience requires the token's aud claim to contain the given value.
func WithAudience(aud string) ValidatorOption {
	return func(v *JWTValidator) {
		v.audience = aud
	}
}

// WithIssuer requires the token's iss claim to equal the given value.
func WithIssuer(iss string) ValidatorOption {
	return func(v *JWTValidator) {
		v.issuer = iss
	}
}

// NewValidator creates a validator that obtains keys through the given
// fetcher with the given cache TTL.
func NewValidator(fetcher Fetcher, ttl time.Duration, opts ...ValidatorOption) *JWTValidator {
	v := &JWTValidator{
		cache: NewKeysetCache(fetcher, ttl),
	}
	for _, o := range opts {
		o(v)
	}
	return v
}

// Validate verifies the token against the cached key set and validates its
// standard claims.
func (v *JWTValidator) Validate(ctx context.Context, token string) (*Claims, error) {
	raw := []byte(strings.TrimSpace(token))

	// Syntactic check first, so garbage is classified as malformed rather
	// than as a signature failure.
	if _, err := jwt.Parse(raw, jwt.WithVerify(false), jwt.WithValidate(false)); err != nil {
		return nil, common.NewErrorf(common.CodeMalformedToken, "malformed token: %v", err)
	}

	set, err := v.cache.Get(ctx)
	if err != nil {
		return nil, common.NewErrorf(common.CodeInvalidToken, "unable to obtain signing keys: %v", err)
	}

	tok, err := jwt.Parse(raw,
		jwt.WithKeySet(set, jws.WithInferAlgorithmFromKey(true)),
		jwt.WithValidate(false))
	if err != nil {
		return nil, common.NewErrorf(common.CodeInvalidSignature, "signature verification failed: %v", err)
	}

	validateOpts := []jwt.ValidateOption{}
	if v.audience != "" {
		validateOpts = append(validateOpts, jwt.WithAudience(v.audience))
	}
	if v.issuer != "" {
		validateOpts = append(validateOpts, jwt.WithIssuer(v.issuer))
	}
	if err := jwt.Validate(tok, validateOpts...); err != nil {
		if stderrors.Is(err, jwt.ErrTokenExpired()) {
			return nil, common.NewErrorf(common.CodeTokenExpired, "token expired: %v", err)
		}
		return nil, common.NewErrorf(common.CodeInvalidToken, "claim validation failed: %v", err)
	}

	claims := &Claims{
		Subject: tok.Subject(),
		private: tok.PrivateClaims(),
	}
	if email, ok := claims.private["email"].(string); ok {
		claims.Email = email
	}

	logger.Debugf("validated token for subject %s", claims.Subject)
	return claims, nil
}

// InvalidateKeys drops the cached key set, forcing a refresh on the next
// validation.
func (v *JWTValidator) InvalidateKeys() {
	v.cache.Invalidate()
}
