package authorization_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianbank/ledger-core/internal/service/authorization"
)

const tokenSecret = "test-token-secret"

func TestDecodeCardToken_VerifiedWrapper(t *testing.T) {
	signed, err := authorization.EncodeCardToken("consent-abc", tokenSecret, time.Hour)
	require.NoError(t, err)

	token := authorization.DecodeCardToken(signed, tokenSecret)

	assert.True(t, token.Verified)
	assert.Equal(t, "consent-abc", token.ConsentKey)
}

func TestDecodeCardToken_RawFallback(t *testing.T) {
	token := authorization.DecodeCardToken("plain-consent-token", tokenSecret)

	assert.False(t, token.Verified)
	assert.Equal(t, "plain-consent-token", token.ConsentKey)
}

func TestDecodeCardToken_WrongSecretFallsBackToRaw(t *testing.T) {
	signed, err := authorization.EncodeCardToken("consent-abc", "other-secret", time.Hour)
	require.NoError(t, err)

	token := authorization.DecodeCardToken(signed, tokenSecret)

	// A bad signature must not surface the embedded key.
	assert.False(t, token.Verified)
	assert.Equal(t, signed, token.ConsentKey)
}

func TestDecodeCardToken_ExpiredWrapperFallsBackToRaw(t *testing.T) {
	signed, err := authorization.EncodeCardToken("consent-abc", tokenSecret, -time.Minute)
	require.NoError(t, err)

	token := authorization.DecodeCardToken(signed, tokenSecret)

	assert.False(t, token.Verified)
	assert.Equal(t, signed, token.ConsentKey)
}
