//
//  Copyright © Manetu Inc. All rights reserved.
//

package token

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/manetu/trackauth/pkg/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingFetcher serves a fixed key set and counts fetches.
type countingFetcher struct {
	set    jwk.Set
	count  atomic.Int32
	failed bool
}

func (f *countingFetcher) FetchKeySet(_ context.Context) (jwk.Set, error) {
	f.count.Add(1)
	if f.failed {
		return nil, assert.AnError
	}
	return f.set, nil
}

type signer struct {
	key jwk.Key
	pub jwk.Set
}

func newSigner(t *testing.T) *signer {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	key, err := jwk.FromRaw(priv)
	require.NoError(t, err)
	require.NoError(t, key.Set(jwk.KeyIDKey, "test-key"))
	require.NoError(t, key.Set(jwk.AlgorithmKey, jwa.RS256))

	pub, err := key.PublicKey()
	require.NoError(t, err)
	set := jwk.NewSet()
	require.NoError(t, set.AddKey(pub))

	return &signer{key: key, pub: set}
}

func (s *signer) sign(t *testing.T, mutate func(jwt.Token)) string {
	tok := jwt.New()
	require.NoError(t, tok.Set(jwt.SubjectKey, "alice"))
	require.NoError(t, tok.Set(jwt.ExpirationKey, time.Now().Add(time.Hour)))
	require.NoError(t, tok.Set("email", "Alice@Example.com"))
	require.NoError(t, tok.Set("groups", []string{"eng", "random-unlisted-group"}))
	if mutate != nil {
		mutate(tok)
	}
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.RS256, s.key))
	require.NoError(t, err)
	return string(signed)
}

func TestValidateHappyPath(t *testing.T) {
	s := newSigner(t)
	fetcher := &countingFetcher{set: s.pub}
	v := NewValidator(fetcher, time.Hour)

	claims, err := v.Validate(context.Background(), s.sign(t, nil))
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Subject)
	assert.Equal(t, "Alice@Example.com", claims.Email)
	assert.Equal(t, []string{"eng", "random-unlisted-group"}, claims.StringList("groups"))
}

func TestValidateCacheWithinTTL(t *testing.T) {
	s := newSigner(t)
	fetcher := &countingFetcher{set: s.pub}
	v := NewValidator(fetcher, time.Hour)

	_, err := v.Validate(context.Background(), s.sign(t, nil))
	require.NoError(t, err)
	_, err = v.Validate(context.Background(), s.sign(t, nil))
	require.NoError(t, err)

	// second call within the TTL must not re-fetch
	assert.Equal(t, int32(1), fetcher.count.Load())
}

func TestValidateRefetchAfterExpiry(t *testing.T) {
	s := newSigner(t)
	fetcher := &countingFetcher{set: s.pub}
	v := NewValidator(fetcher, 10*time.Millisecond)

	_, err := v.Validate(context.Background(), s.sign(t, nil))
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)

	_, err = v.Validate(context.Background(), s.sign(t, nil))
	require.NoError(t, err)
	assert.Equal(t, int32(2), fetcher.count.Load())
}

func TestValidateExpiredToken(t *testing.T) {
	s := newSigner(t)
	v := NewValidator(&countingFetcher{set: s.pub}, time.Hour)

	expired := s.sign(t, func(tok jwt.Token) {
		_ = tok.Set(jwt.ExpirationKey, time.Now().Add(-time.Hour))
	})

	_, err := v.Validate(context.Background(), expired)
	assert.True(t, common.IsCode(err, common.CodeTokenExpired))
}

func TestValidateWrongKey(t *testing.T) {
	s := newSigner(t)
	other := newSigner(t)

	// validator trusts s's keys, token signed by other
	v := NewValidator(&countingFetcher{set: s.pub}, time.Hour)
	_, err := v.Validate(context.Background(), other.sign(t, nil))
	assert.True(t, common.IsCode(err, common.CodeInvalidSignature))
}

func TestValidateMalformedToken(t *testing.T) {
	s := newSigner(t)
	v := NewValidator(&countingFetcher{set: s.pub}, time.Hour)

	_, err := v.Validate(context.Background(), "not-a-jwt")
	assert.True(t, common.IsCode(err, common.CodeMalformedToken))
}

func TestValidateAudience(t *testing.T) {
	s := newSigner(t)
	v := NewValidator(&countingFetcher{set: s.pub}, time.Hour, WithAudience("tracking-server"))

	// token without the aud claim fails
	_, err := v.Validate(context.Background(), s.sign(t, nil))
	assert.True(t, common.IsCode(err, common.CodeInvalidToken))

	// token with the right aud passes
	good := s.sign(t, func(tok jwt.Token) {
		_ = tok.Set(jwt.AudienceKey, "tracking-server")
	})
	_, err = v.Validate(context.Background(), good)
	assert.NoError(t, err)
}

func TestValidateFetchFailure(t *testing.T) {
	s := newSigner(t)
	v := NewValidator(&countingFetcher{set: s.pub, failed: true}, time.Hour)

	_, err := v.Validate(context.Background(), s.sign(t, nil))
	assert.True(t, common.IsCode(err, common.CodeInvalidToken))
}

func TestStringListCoercion(t *testing.T) {
	c := &Claims{private: map[string]interface{}{
		"single": "eng",
		"mixed":  []interface{}{"eng", 42, "ops"},
	}}

	assert.Equal(t, []string{"eng"}, c.StringList("single"))
	assert.Equal(t, []string{"eng", "ops"}, c.StringList("mixed"))
	assert.Nil(t, c.StringList("absent"))
}
