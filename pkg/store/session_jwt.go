package store

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"os"
	"sort"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	defaultJWTIssuer   = "plantcare-api"
	defaultJWTAudience = "plantcare-app"
	defaultJWTKeyID    = "jwt-active"
	defaultSessionTTL  = 24 * time.Hour
	defaultJWTLeeway   = 30 * time.Second
)

// JWTConfig configures an RS256 session store.
type JWTConfig struct {
	PrivateKeyPath string
	// PublicKeyPath is optional; the private key's public half is used otherwise.
	PublicKeyPath string
	KeyID         string
	// VerifyKeyFiles maps kid to public key path for keys being rotated out.
	VerifyKeyFiles map[string]string
	TTL            time.Duration
	Issuer         string
	Audience       string
	Leeway         time.Duration
	Revoker        TokenRevoker
}

// JWTSessionStore issues and validates RS256 JWTs carrying a kid header so
// that keys can rotate while older tokens remain valid.
type JWTSessionStore struct {
	ttl     time.Duration
	revoker TokenRevoker

	signer    *rsa.PrivateKey
	signerKid string
	verifiers map[string]*rsa.PublicKey

	issuer   string
	audience string
	leeway   time.Duration
}

// NewJWTSessionStore loads the signing and verification keys from PEM files.
func NewJWTSessionStore(cfg JWTConfig) (*JWTSessionStore, error) {
	privateKey, err := loadRSAPrivateKeyFromPEMFile(cfg.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("load jwt private key: %w", err)
	}
	kid := strings.TrimSpace(cfg.KeyID)
	if kid == "" {
		kid = defaultJWTKeyID
	}

	active := &privateKey.PublicKey
	if strings.TrimSpace(cfg.PublicKeyPath) != "" {
		active, err = loadRSAPublicKeyFromPEMFile(cfg.PublicKeyPath)
		if err != nil {
			return nil, fmt.Errorf("load jwt public key: %w", err)
		}
	}
	verifiers := map[string]*rsa.PublicKey{kid: active}
	for oldKid, path := range cfg.VerifyKeyFiles {
		oldKid = strings.TrimSpace(oldKid)
		path = strings.TrimSpace(path)
		if oldKid == "" || path == "" {
			continue
		}
		pub, err := loadRSAPublicKeyFromPEMFile(path)
		if err != nil {
			return nil, fmt.Errorf("load verify key %q: %w", oldKid, err)
		}
		verifiers[oldKid] = pub
	}

	s := &JWTSessionStore{
		ttl:       cfg.TTL,
		revoker:   cfg.Revoker,
		signer:    privateKey,
		signerKid: kid,
		verifiers: verifiers,
		issuer:    strings.TrimSpace(cfg.Issuer),
		audience:  strings.TrimSpace(cfg.Audience),
		leeway:    cfg.Leeway,
	}
	if s.ttl <= 0 {
		s.ttl = defaultSessionTTL
	}
	if s.issuer == "" {
		s.issuer = defaultJWTIssuer
	}
	if s.audience == "" {
		s.audience = defaultJWTAudience
	}
	if s.leeway <= 0 {
		s.leeway = defaultJWTLeeway
	}
	return s, nil
}

// NewSession creates a signed JWT for the user ID.
func (s *JWTSessionStore) NewSession(_ context.Context, userID string) (string, error) {
	if strings.TrimSpace(userID) == "" {
		return "", errors.New("session subject required")
	}
	now := time.Now().UTC()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.RegisteredClaims{
		Subject:   userID,
		Issuer:    s.issuer,
		Audience:  jwt.ClaimStrings{s.audience},
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ID:        uuid.NewString(),
	})
	token.Header["kid"] = s.signerKid
	return token.SignedString(s.signer)
}

// GetUserIDByToken validates a JWT, checks revocation, and returns its subject.
func (s *JWTSessionStore) GetUserIDByToken(ctx context.Context, token string) (string, bool, error) {
	claims, err := s.parseAndVerify(token)
	if err != nil {
		return "", false, err
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return "", false, errors.New("token subject missing")
	}
	if err := s.checkRevoked(ctx, claims); err != nil {
		return "", false, err
	}
	return claims.Subject, true, nil
}

func (s *JWTSessionStore) checkRevoked(ctx context.Context, claims jwt.RegisteredClaims) error {
	if s.revoker == nil {
		return nil
	}
	revoked, err := s.revoker.IsRevoked(ctx, claims.ID)
	if err != nil {
		return err
	}
	if revoked {
		return errors.New("token revoked")
	}
	userRevoker, ok := s.revoker.(UserTokenRevoker)
	if !ok {
		return nil
	}
	cutoff, err := userRevoker.RevokedAfter(ctx, claims.Subject)
	if err != nil {
		return err
	}
	if cutoff.IsZero() {
		return nil
	}
	if claims.IssuedAt == nil {
		return errors.New("token issued_at missing")
	}
	if !claims.IssuedAt.Time.UTC().After(cutoff) {
		return errors.New("token revoked for user")
	}
	return nil
}

// DeleteSession revokes the token until it expires. Invalid tokens are ignored.
func (s *JWTSessionStore) DeleteSession(ctx context.Context, token string) error {
	if s.revoker == nil {
		return nil
	}
	claims, err := s.parseAndVerify(token)
	if err != nil || claims.ExpiresAt == nil {
		return nil
	}
	return s.revoker.Revoke(ctx, claims.ID, time.Until(claims.ExpiresAt.Time))
}

// RevokeUserSessions revokes all sessions of a user issued up to since.
func (s *JWTSessionStore) RevokeUserSessions(ctx context.Context, userID string, since time.Time) error {
	userRevoker, ok := s.revoker.(UserTokenRevoker)
	if !ok {
		return errors.New("session revoker does not support user revocation")
	}
	return userRevoker.RevokeUser(ctx, userID, since, s.ttl+s.leeway)
}

// JWKS returns the verification keys, sorted by kid.
func (s *JWTSessionStore) JWKS() []JWK {
	kids := make([]string, 0, len(s.verifiers))
	for kid := range s.verifiers {
		kids = append(kids, kid)
	}
	sort.Strings(kids)
	out := make([]JWK, 0, len(kids))
	for _, kid := range kids {
		pub := s.verifiers[kid]
		out = append(out, JWK{
			Kty: "RSA",
			Use: "sig",
			Kid: kid,
			Alg: jwt.SigningMethodRS256.Alg(),
			N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
		})
	}
	return out
}

func (s *JWTSessionStore) parseAndVerify(token string) (jwt.RegisteredClaims, error) {
	claims := jwt.RegisteredClaims{}
	token = strings.TrimSpace(token)
	if token == "" {
		return claims, errors.New("invalid token format")
	}
	parsed, err := jwt.ParseWithClaims(token, &claims, s.keyFor,
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(s.leeway),
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.audience),
	)
	if err != nil {
		return claims, err
	}
	if !parsed.Valid {
		return claims, errors.New("invalid token")
	}
	if strings.TrimSpace(claims.ID) == "" {
		return claims, errors.New("token jti missing")
	}
	return claims, nil
}

func (s *JWTSessionStore) keyFor(t *jwt.Token) (any, error) {
	kid, _ := t.Header["kid"].(string)
	kid = strings.TrimSpace(kid)
	if kid == "" {
		return nil, errors.New("token key id required")
	}
	pub, ok := s.verifiers[kid]
	if !ok {
		return nil, errors.New("unknown token key")
	}
	return pub, nil
}

func readPEMBlock(path string) (*pem.Block, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("invalid pem")
	}
	return block, nil
}

func loadRSAPrivateKeyFromPEMFile(path string) (*rsa.PrivateKey, error) {
	block, err := readPEMBlock(path)
	if err != nil {
		return nil, err
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("private key is not rsa")
	}
	return key, nil
}

func loadRSAPublicKeyFromPEMFile(path string) (*rsa.PublicKey, error) {
	block, err := readPEMBlock(path)
	if err != nil {
		return nil, err
	}
	if parsed, err := x509.ParsePKIXPublicKey(block.Bytes); err == nil {
		pub, ok := parsed.(*rsa.PublicKey)
		if !ok {
			return nil, errors.New("public key is not rsa")
		}
		return pub, nil
	}
	if cert, err := x509.ParseCertificate(block.Bytes); err == nil {
		pub, ok := cert.PublicKey.(*rsa.PublicKey)
		if !ok {
			return nil, errors.New("certificate public key is not rsa")
		}
		return pub, nil
	}
	return nil, errors.New("failed to parse rsa public key")
}
