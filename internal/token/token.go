// Package token signs and validates the self-contained session credentials.
// Access and refresh tokens are signed JWTs; verification on the hot path
// needs only the signature, never a session-table read. Revocation is a
// session-row concern handled elsewhere.
package token

import (
	"context"
	"fmt"
	"strconv"
	"time"

	gojose "github.com/go-jose/go-jose/v4"
	gojwt "github.com/go-jose/go-jose/v4/jwt"

	"github.com/CrisisCore-Systems/pain-tracker-auth/internal/domain"
)

// AccessClaims is the custom payload of an access token.
type AccessClaims struct {
	Role           string `json:"role"`
	OrganizationID string `json:"org_id"`
	Email          string `json:"email"`
	TokenUse       string `json:"token_use"`
}

// RefreshClaims is the custom payload of a refresh token. It binds the token
// to the session it was minted for.
type RefreshClaims struct {
	SessionID string `json:"session_id"`
	TokenUse  string `json:"token_use"`
}

const (
	useAccess  = "access"
	useRefresh = "refresh"
)

// Generator signs and validates session JWTs.
type Generator struct {
	keys       *KeyManager
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// NewGenerator constructs a token generator.
func NewGenerator(manager *KeyManager, issuer string, accessTTL, refreshTTL time.Duration) *Generator {
	return &Generator{keys: manager, issuer: issuer, accessTTL: accessTTL, refreshTTL: refreshTTL}
}

// AccessTTL exposes the configured access-token lifetime.
func (g *Generator) AccessTTL() time.Duration { return g.accessTTL }

// RefreshTTL exposes the configured refresh-token lifetime.
func (g *Generator) RefreshTTL() time.Duration { return g.refreshTTL }

// SignAccess produces the short-lived access token carrying clinician id,
// role, and organization id.
func (g *Generator) SignAccess(ctx context.Context, clinician domain.Clinician, orgID string) (string, error) {
	custom := AccessClaims{
		Role:           clinician.Role,
		OrganizationID: orgID,
		Email:          clinician.Email,
		TokenUse:       useAccess,
	}
	return g.sign(ctx, clinician.ID, g.accessTTL, custom)
}

// SignRefresh produces the long-lived refresh token carrying clinician id
// and session id.
func (g *Generator) SignRefresh(ctx context.Context, clinicianID int64, sessionID string) (string, error) {
	custom := RefreshClaims{
		SessionID: sessionID,
		TokenUse:  useRefresh,
	}
	return g.sign(ctx, clinicianID, g.refreshTTL, custom)
}

// ValidateAccess verifies the signature and standard claims of an access
// token and returns the clinician id with the custom claims.
func (g *Generator) ValidateAccess(ctx context.Context, token string) (int64, *AccessClaims, error) {
	var custom AccessClaims
	std, err := g.validate(ctx, token, &custom)
	if err != nil {
		return 0, nil, err
	}
	if custom.TokenUse != useAccess {
		return 0, nil, fmt.Errorf("token is not an access token")
	}
	clinicianID, err := strconv.ParseInt(std.Subject, 10, 64)
	if err != nil {
		return 0, nil, fmt.Errorf("invalid subject claim: %w", err)
	}
	return clinicianID, &custom, nil
}

// ValidateRefresh verifies a refresh token and returns the clinician id and
// the bound session id.
func (g *Generator) ValidateRefresh(ctx context.Context, token string) (int64, string, error) {
	var custom RefreshClaims
	std, err := g.validate(ctx, token, &custom)
	if err != nil {
		return 0, "", err
	}
	if custom.TokenUse != useRefresh {
		return 0, "", fmt.Errorf("token is not a refresh token")
	}
	clinicianID, err := strconv.ParseInt(std.Subject, 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("invalid subject claim: %w", err)
	}
	return clinicianID, custom.SessionID, nil
}

func (g *Generator) sign(ctx context.Context, subjectID int64, ttl time.Duration, custom any) (string, error) {
	key, err := g.keys.EnsureSigningKey(ctx)
	if err != nil {
		return "", fmt.Errorf("ensure signing key: %w", err)
	}

	signer, err := gojose.NewSigner(
		gojose.SigningKey{Algorithm: gojose.SignatureAlgorithm(key.Algorithm), Key: key.Secret},
		(&gojose.SignerOptions{}).WithType("JWT").WithHeader("kid", key.KID),
	)
	if err != nil {
		return "", fmt.Errorf("new signer: %w", err)
	}

	now := time.Now().UTC()
	stdClaims := gojwt.Claims{
		Subject:   strconv.FormatInt(subjectID, 10),
		Issuer:    g.issuer,
		IssuedAt:  gojwt.NewNumericDate(now),
		Expiry:    gojwt.NewNumericDate(now.Add(ttl)),
		NotBefore: gojwt.NewNumericDate(now),
	}

	signed, err := gojwt.Signed(signer).Claims(stdClaims).Claims(custom).Serialize()
	if err != nil {
		return "", fmt.Errorf("serialize jwt: %w", err)
	}

	return signed, nil
}

func (g *Generator) validate(ctx context.Context, token string, custom any) (*gojwt.Claims, error) {
	key, err := g.keys.ActiveKey(ctx)
	if err != nil {
		return nil, fmt.Errorf("load key: %w", err)
	}

	allowed := []gojose.SignatureAlgorithm{gojose.SignatureAlgorithm(key.Algorithm)}
	parsed, err := gojwt.ParseSigned(token, allowed)
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	var std gojwt.Claims
	if err := parsed.Claims(key.Secret, &std, custom); err != nil {
		return nil, fmt.Errorf("verify token: %w", err)
	}

	if err := std.Validate(gojwt.Expected{Issuer: g.issuer, Time: time.Now()}); err != nil {
		return nil, fmt.Errorf("validate claims: %w", err)
	}

	return &std, nil
}
