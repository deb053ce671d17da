package authorization

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// CardToken is the decoded form of a caller-supplied card token. Tokens
// arrive either as a raw consent lookup key or as a signed, short-lived
// wrapper whose payload carries the key. Verified is true only when the
// wrapper's signature checked out; a verified wrapper proves provenance
// and lets the engine skip the merchant-mismatch check.
type CardToken struct {
	ConsentKey string
	Verified   bool
}

type wrapperClaims struct {
	jwt.RegisteredClaims
	ConsentKey string `json:"consent_key"`
}

// DecodeCardToken unwraps a signed wrapper token. Any parse or signature
// failure falls back to treating the raw string as the lookup key, for
// callers that still send bare consent tokens.
func DecodeCardToken(raw string, secret string) CardToken {
	token, err := jwt.ParseWithClaims(raw, &wrapperClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return CardToken{ConsentKey: raw}
	}

	claims, ok := token.Claims.(*wrapperClaims)
	if !ok || !token.Valid || claims.ConsentKey == "" {
		return CardToken{ConsentKey: raw}
	}

	return CardToken{ConsentKey: claims.ConsentKey, Verified: true}
}

// EncodeCardToken builds a signed wrapper for a consent key. The engine
// itself only decodes; this is used by enrollment flows and tests.
func EncodeCardToken(consentKey string, secret string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := wrapperClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		ConsentKey: consentKey,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("EncodeCardToken: %w", err)
	}
	return signed, nil
}
