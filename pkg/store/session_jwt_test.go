package store

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

func TestJWTSessionStoreRoundTripAndJWKS(t *testing.T) {
	privatePath, publicPath := writeRSAKeyPairFiles(t, "active")
	s, err := NewJWTSessionStore(JWTConfig{
		PrivateKeyPath: privatePath,
		PublicKeyPath:  publicPath,
		KeyID:          "kid-active",
		TTL:            time.Minute,
		Revoker:        NewMemoryTokenRevoker(),
	})
	if err != nil {
		t.Fatalf("new session store: %v", err)
	}
	ctx := context.Background()
	token, err := s.NewSession(ctx, "user-1")
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	userID, ok, err := s.GetUserIDByToken(ctx, token)
	if err != nil || !ok || userID != "user-1" {
		t.Fatalf("verify token: user=%q ok=%v err=%v", userID, ok, err)
	}

	keys := s.JWKS()
	if len(keys) != 1 || keys[0].Kid != "kid-active" {
		t.Fatalf("unexpected jwks %+v", keys)
	}
	if keys[0].Kty != "RSA" || keys[0].Alg != "RS256" || keys[0].N == "" || keys[0].E == "" {
		t.Fatalf("unexpected jwk fields %+v", keys[0])
	}
}

func TestJWTSessionStoreEnforcesAudience(t *testing.T) {
	signing := newTestSessionStore(t, "aud-signing", JWTConfig{Issuer: "issuer-a", Audience: "aud-a", Leeway: time.Second})
	verify := newTestSessionStore(t, "aud-verify", JWTConfig{Issuer: "issuer-a", Audience: "aud-b", Leeway: time.Second})

	token, err := signing.NewSession(context.Background(), "user-claim")
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if _, _, err := verify.GetUserIDByToken(context.Background(), token); err == nil {
		t.Fatalf("expected audience mismatch to fail")
	}
}

func TestJWTSessionStoreRevokesByJTI(t *testing.T) {
	s := newTestSessionStore(t, "revoke-jti", JWTConfig{Revoker: NewMemoryTokenRevoker()})
	ctx := context.Background()
	token, err := s.NewSession(ctx, "user-revoke")
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if err := s.DeleteSession(ctx, token); err != nil {
		t.Fatalf("delete session: %v", err)
	}
	if _, ok, err := s.GetUserIDByToken(ctx, token); err == nil || ok {
		t.Fatalf("expected revoked token to fail, ok=%v err=%v", ok, err)
	}
}

func TestJWTSessionStoreRevokesByUserCutoff(t *testing.T) {
	s := newTestSessionStore(t, "revoke-user", JWTConfig{Revoker: NewMemoryTokenRevoker()})
	ctx := context.Background()
	token, err := s.NewSession(ctx, "user-cutoff")
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if err := s.RevokeUserSessions(ctx, "user-cutoff", time.Now().UTC()); err != nil {
		t.Fatalf("revoke user: %v", err)
	}
	if _, ok, err := s.GetUserIDByToken(ctx, token); err == nil || ok {
		t.Fatalf("expected user-revoked token to fail, ok=%v err=%v", ok, err)
	}
}

func TestJWTSessionStoreVerifiesPreviousKeyDuringRotation(t *testing.T) {
	oldPrivate, oldPublic := writeRSAKeyPairFiles(t, "old")
	newPrivate, newPublic := writeRSAKeyPairFiles(t, "new")
	ctx := context.Background()

	oldStore, err := NewJWTSessionStore(JWTConfig{PrivateKeyPath: oldPrivate, PublicKeyPath: oldPublic, KeyID: "kid-old"})
	if err != nil {
		t.Fatalf("old store: %v", err)
	}
	oldToken, err := oldStore.NewSession(ctx, "user-2")
	if err != nil {
		t.Fatalf("old token: %v", err)
	}

	rotated, err := NewJWTSessionStore(JWTConfig{
		PrivateKeyPath: newPrivate,
		PublicKeyPath:  newPublic,
		KeyID:          "kid-new",
		VerifyKeyFiles: map[string]string{"kid-old": oldPublic},
	})
	if err != nil {
		t.Fatalf("rotated store: %v", err)
	}
	if userID, ok, err := rotated.GetUserIDByToken(ctx, oldToken); err != nil || !ok || userID != "user-2" {
		t.Fatalf("verify old token: user=%q ok=%v err=%v", userID, ok, err)
	}
	if keys := rotated.JWKS(); len(keys) != 2 {
		t.Fatalf("expected 2 jwks entries, got %d", len(keys))
	}

	unrotated, err := NewJWTSessionStore(JWTConfig{PrivateKeyPath: newPrivate, PublicKeyPath: newPublic, KeyID: "kid-new"})
	if err != nil {
		t.Fatalf("unrotated store: %v", err)
	}
	if _, _, err := unrotated.GetUserIDByToken(ctx, oldToken); err == nil {
		t.Fatalf("expected unknown kid to fail")
	}
}

func TestJWTSessionStoreRejectsMalformedClaims(t *testing.T) {
	privatePath, publicPath := writeRSAKeyPairFiles(t, "claims")
	s, err := NewJWTSessionStore(JWTConfig{PrivateKeyPath: privatePath, PublicKeyPath: publicPath})
	if err != nil {
		t.Fatalf("new session store: %v", err)
	}
	privateKey, err := loadRSAPrivateKeyFromPEMFile(privatePath)
	if err != nil {
		t.Fatalf("load private key: %v", err)
	}
	now := time.Now().UTC()
	valid := func() jwt.RegisteredClaims {
		return jwt.RegisteredClaims{
			Subject:   "user-x",
			Issuer:    defaultJWTIssuer,
			Audience:  jwt.ClaimStrings{defaultJWTAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(5 * time.Minute)),
			ID:        "jti-x",
		}
	}
	tests := []struct {
		name   string
		claims func() jwt.RegisteredClaims
		kid    string
	}{
		{name: "missing kid", claims: valid},
		{name: "missing jti", kid: defaultJWTKeyID, claims: func() jwt.RegisteredClaims {
			c := valid()
			c.ID = ""
			return c
		}},
		{name: "future issued at", kid: defaultJWTKeyID, claims: func() jwt.RegisteredClaims {
			c := valid()
			c.IssuedAt = jwt.NewNumericDate(now.Add(2 * time.Minute))
			return c
		}},
		{name: "expired", kid: defaultJWTKeyID, claims: func() jwt.RegisteredClaims {
			c := valid()
			c.ExpiresAt = jwt.NewNumericDate(now.Add(-2 * time.Minute))
			return c
		}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			token := jwt.NewWithClaims(jwt.SigningMethodRS256, tc.claims())
			if tc.kid != "" {
				token.Header["kid"] = tc.kid
			}
			signed, err := token.SignedString(privateKey)
			if err != nil {
				t.Fatalf("sign token: %v", err)
			}
			if _, _, err := s.GetUserIDByToken(context.Background(), signed); err == nil {
				t.Fatalf("expected %s token to fail", tc.name)
			}
		})
	}
}

func writeRSAKeyPairFiles(t *testing.T, prefix string) (string, string) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate rsa key: %v", err)
	}

	dir := t.TempDir()
	privatePath := filepath.Join(dir, prefix+"-private.pem")
	publicPath := filepath.Join(dir, prefix+"-public.pem")

	privatePEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	if err := os.WriteFile(privatePath, privatePEM, 0o600); err != nil {
		t.Fatalf("write private key: %v", err)
	}
	publicDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("marshal public key: %v", err)
	}
	publicPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: publicDER})
	if err := os.WriteFile(publicPath, publicPEM, 0o644); err != nil {
		t.Fatalf("write public key: %v", err)
	}
	return privatePath, publicPath
}

func newTestSessionStore(t *testing.T, prefix string, cfg JWTConfig) *JWTSessionStore {
	t.Helper()
	cfg.PrivateKeyPath, cfg.PublicKeyPath = writeRSAKeyPairFiles(t, prefix)
	if cfg.TTL == 0 {
		cfg.TTL = time.Minute
	}
	s, err := NewJWTSessionStore(cfg)
	if err != nil {
		t.Fatalf("new session store: %v", err)
	}
	return s
}
