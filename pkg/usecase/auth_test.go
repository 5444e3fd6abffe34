package usecase_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/asclepius/pkg/domain/types"
	"github.com/secmon-lab/asclepius/pkg/usecase"
)

var testSecret = []byte("test-secret-that-is-long-enough-for-hs256")

type tokenClaims struct {
	sub string
	aud string
	exp time.Time
}

func validClaims() tokenClaims {
	return tokenClaims{
		sub: "user-123",
		aud: usecase.DefaultAudience,
		exp: time.Now().Add(time.Hour),
	}
}

func buildToken(t *testing.T, c tokenClaims) jwt.Token {
	t.Helper()
	b := jwt.NewBuilder().
		IssuedAt(time.Now().Add(-time.Minute)).
		Expiration(c.exp)
	if c.sub != "" {
		b = b.Subject(c.sub)
	}
	if c.aud != "" {
		b = b.Audience([]string{c.aud})
	}
	tok, err := b.Build()
	gt.NoError(t, err).Required()
	return tok
}

func signHS256(t *testing.T, secret []byte, c tokenClaims) string {
	t.Helper()
	signed, err := jwt.Sign(buildToken(t, c), jwt.WithKey(jwa.HS256, secret))
	gt.NoError(t, err).Required()
	return string(signed)
}

func TestAuthUseCase_HMAC(t *testing.T) {
	ctx := context.Background()
	uc, err := usecase.NewHMACAuthUseCase(testSecret)
	gt.NoError(t, err).Required()
	gt.Bool(t, uc.IsNoAuthn()).False()

	t.Run("valid token yields caller", func(t *testing.T) {
		token := signHS256(t, testSecret, validClaims())
		caller, err := uc.Authenticate(ctx, token)
		gt.NoError(t, err).Required()
		gt.Value(t, caller.OwnerID).Equal(types.OwnerID("user-123"))
		gt.Value(t, string(caller.Token)).Equal(token)
	})

	t.Run("wrong secret", func(t *testing.T) {
		token := signHS256(t, []byte("another-secret-of-reasonable-length"), validClaims())
		_, err := uc.Authenticate(ctx, token)
		gt.Error(t, err).Is(usecase.ErrAuthentication)
	})

	t.Run("wrong audience", func(t *testing.T) {
		c := validClaims()
		c.aud = "anon"
		_, err := uc.Authenticate(ctx, signHS256(t, testSecret, c))
		gt.Error(t, err).Is(usecase.ErrAuthentication)
	})

	t.Run("expired", func(t *testing.T) {
		c := validClaims()
		c.exp = time.Now().Add(-time.Hour)
		_, err := uc.Authenticate(ctx, signHS256(t, testSecret, c))
		gt.Error(t, err).Is(usecase.ErrAuthentication)
	})

	t.Run("missing sub", func(t *testing.T) {
		c := validClaims()
		c.sub = ""
		_, err := uc.Authenticate(ctx, signHS256(t, testSecret, c))
		gt.Error(t, err).Is(usecase.ErrAuthentication)
	})

	t.Run("empty and malformed", func(t *testing.T) {
		_, err := uc.Authenticate(ctx, "")
		gt.Error(t, err).Is(usecase.ErrAuthentication)
		_, err = uc.Authenticate(ctx, "not.a.jwt")
		gt.Error(t, err).Is(usecase.ErrAuthentication)
	})

	t.Run("audience check can be disabled", func(t *testing.T) {
		noAud, err := usecase.NewHMACAuthUseCase(testSecret, usecase.WithAudience(""))
		gt.NoError(t, err).Required()
		c := validClaims()
		c.aud = ""
		caller, err := noAud.Authenticate(ctx, signHS256(t, testSecret, c))
		gt.NoError(t, err).Required()
		gt.Value(t, caller.OwnerID).Equal(types.OwnerID("user-123"))
	})

	t.Run("empty secret is rejected", func(t *testing.T) {
		_, err := usecase.NewHMACAuthUseCase(nil)
		gt.Error(t, err)
	})
}

func TestAuthUseCase_KeySet(t *testing.T) {
	ctx := context.Background()

	raw, err := rsa.GenerateKey(rand.Reader, 2048)
	gt.NoError(t, err).Required()
	priv, err := jwk.FromRaw(raw)
	gt.NoError(t, err).Required()
	gt.NoError(t, priv.Set(jwk.KeyIDKey, "key-1")).Required()
	gt.NoError(t, priv.Set(jwk.AlgorithmKey, jwa.RS256)).Required()

	pub, err := priv.PublicKey()
	gt.NoError(t, err).Required()
	gt.NoError(t, pub.Set(jwk.KeyIDKey, "key-1")).Required()
	gt.NoError(t, pub.Set(jwk.AlgorithmKey, jwa.RS256)).Required()

	set := jwk.NewSet()
	gt.NoError(t, set.AddKey(pub)).Required()
	uc := usecase.NewKeySetAuthUseCase(set)

	t.Run("token signed by a key in the set", func(t *testing.T) {
		signed, err := jwt.Sign(buildToken(t, validClaims()), jwt.WithKey(jwa.RS256, priv))
		gt.NoError(t, err).Required()

		caller, err := uc.Authenticate(ctx, string(signed))
		gt.NoError(t, err).Required()
		gt.Value(t, caller.OwnerID).Equal(types.OwnerID("user-123"))
	})

	t.Run("token signed by an unknown key", func(t *testing.T) {
		otherRaw, err := rsa.GenerateKey(rand.Reader, 2048)
		gt.NoError(t, err).Required()
		other, err := jwk.FromRaw(otherRaw)
		gt.NoError(t, err).Required()
		gt.NoError(t, other.Set(jwk.KeyIDKey, "key-1")).Required()

		signed, err := jwt.Sign(buildToken(t, validClaims()), jwt.WithKey(jwa.RS256, other))
		gt.NoError(t, err).Required()

		_, err = uc.Authenticate(ctx, string(signed))
		gt.Error(t, err).Is(usecase.ErrAuthentication)
	})
}

func TestNoAuthnUseCase(t *testing.T) {
	uc := usecase.NewNoAuthnUseCase("local-dev")
	gt.Bool(t, uc.IsNoAuthn()).True()

	caller, err := uc.Authenticate(context.Background(), " raw-token ")
	gt.NoError(t, err).Required()
	gt.Value(t, caller.OwnerID).Equal(types.OwnerID("local-dev"))
	gt.Value(t, string(caller.Token)).Equal("raw-token")
}
