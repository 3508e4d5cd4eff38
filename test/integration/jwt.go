package integration

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const signingKeyID = "integration-signer"

// TestClaims are the identity claims stamped into test tokens. A zero
// TenantID produces a token the request-context middleware rejects.
type TestClaims struct {
	SubjectID string
	TenantID  string
	Email     string
	Roles     []string
}

// tokenIssuer signs tokens for the harness and serves the matching JWKS
// document from an httptest server.
type tokenIssuer struct {
	key      *rsa.PrivateKey
	jwks     *httptest.Server
	issuer   string
	audience string
}

func newTokenIssuer(t *testing.T) *tokenIssuer {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate signing key: %v", err)
	}

	document, err := json.Marshal(map[string]any{
		"keys": []map[string]any{{
			"kid": signingKeyID,
			"kty": "RSA",
			"alg": "RS256",
			"use": "sig",
			"n":   base64.RawURLEncoding.EncodeToString(key.PublicKey.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.PublicKey.E)).Bytes()),
		}},
	})
	if err != nil {
		t.Fatalf("marshal jwks document: %v", err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write(document)
	}))
	t.Cleanup(srv.Close)

	return &tokenIssuer{
		key:      key,
		jwks:     srv,
		issuer:   "https://auth.test.chamahq.dev",
		audience: "journey-test",
	}
}

// GenerateToken signs a token valid for one hour.
func (ti *tokenIssuer) GenerateToken(claims TestClaims) string {
	return ti.sign(claims, time.Now(), time.Hour)
}

// GenerateExpiredToken signs a token whose validity window closed an hour
// ago.
func (ti *tokenIssuer) GenerateExpiredToken(claims TestClaims) string {
	return ti.sign(claims, time.Now().Add(-2*time.Hour), time.Hour)
}

func (ti *tokenIssuer) sign(claims TestClaims, issuedAt time.Time, validity time.Duration) string {
	mapClaims := jwt.MapClaims{
		"iss":       ti.issuer,
		"aud":       ti.audience,
		"iat":       jwt.NewNumericDate(issuedAt),
		"exp":       jwt.NewNumericDate(issuedAt.Add(validity)),
		"sub":       claims.SubjectID,
		"tenant_id": claims.TenantID,
		"email":     claims.Email,
	}
	if len(claims.Roles) > 0 {
		mapClaims["roles"] = claims.Roles
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, mapClaims)
	token.Header["kid"] = signingKeyID

	signed, err := token.SignedString(ti.key)
	if err != nil {
		panic("sign token: " + err.Error())
	}
	return signed
}

// JWKSURL returns the URL of the issuer's key endpoint.
func (ti *tokenIssuer) JWKSURL() string { return ti.jwks.URL }

// Issuer returns the expected iss claim.
func (ti *tokenIssuer) Issuer() string { return ti.issuer }

// Audience returns the expected aud claim.
func (ti *tokenIssuer) Audience() string { return ti.audience }
