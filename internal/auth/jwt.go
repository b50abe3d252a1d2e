package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/tgreenfield/groundwork-backend/internal/domain"
)

// JWTManager handles JWT access token generation and validation. The token
// carries the full session: global roles, scoped roles, and the changeset
// the caller is editing under, if any.
type JWTManager struct {
	secret    []byte
	issuer    string
	accessTTL time.Duration
}

// NewJWTManager creates a new JWT manager.
// secret must be at least 32 characters for HS256 security.
func NewJWTManager(secret string, issuer string, accessTTL time.Duration) *JWTManager {
	return &JWTManager{
		secret:    []byte(secret),
		issuer:    issuer,
		accessTTL: accessTTL,
	}
}

// scopedRoleClaim is the wire form of a role bound to a scope entity.
type scopedRoleClaim struct {
	Role    string `json:"role"`
	ScopeID string `json:"scope_id"`
}

// accessClaims extends standard JWT claims with the session payload.
type accessClaims struct {
	jwt.RegisteredClaims
	Roles       []string          `json:"roles,omitempty"`
	ScopedRoles []scopedRoleClaim `json:"scoped_roles,omitempty"`
	ChangesetID string            `json:"changeset_id,omitempty"`
}

// GenerateAccessToken creates a signed HS256 JWT carrying the session.
func (m *JWTManager) GenerateAccessToken(session domain.Session) (string, error) {
	now := time.Now()
	claims := accessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   session.UserID.String(),
			Issuer:    m.issuer,
			ExpiresAt: jwt.NewNumericDate(now.Add(m.accessTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	for _, r := range session.Roles {
		claims.Roles = append(claims.Roles, string(r))
	}
	for _, sr := range session.ScopedRoles {
		claims.ScopedRoles = append(claims.ScopedRoles, scopedRoleClaim{
			Role:    string(sr.Role),
			ScopeID: sr.ScopeID.String(),
		})
	}
	if session.Changeset != nil {
		claims.ChangesetID = session.Changeset.String()
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}

	return signed, nil
}

// ValidateAccessToken parses and validates a JWT access token, returning the
// reconstructed session.
func (m *JWTManager) ValidateAccessToken(tokenString string) (domain.Session, error) {
	if tokenString == "" {
		return domain.Session{}, fmt.Errorf("token is empty")
	}

	token, err := jwt.ParseWithClaims(tokenString, &accessClaims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	})

	if err != nil {
		return domain.Session{}, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(*accessClaims)
	if !ok || !token.Valid {
		return domain.Session{}, fmt.Errorf("invalid token claims")
	}

	if claims.Issuer != m.issuer {
		return domain.Session{}, fmt.Errorf("invalid issuer: expected %s, got %s", m.issuer, claims.Issuer)
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return domain.Session{}, fmt.Errorf("invalid subject UUID: %w", err)
	}

	session := domain.Session{UserID: userID}

	for _, r := range claims.Roles {
		role := domain.Role(r)
		if !role.IsValid() {
			return domain.Session{}, fmt.Errorf("unknown role %q in token", r)
		}
		session.Roles = append(session.Roles, role)
	}
	for _, sr := range claims.ScopedRoles {
		role := domain.Role(sr.Role)
		if !role.IsValid() {
			return domain.Session{}, fmt.Errorf("unknown scoped role %q in token", sr.Role)
		}
		scopeID, err := uuid.Parse(sr.ScopeID)
		if err != nil {
			return domain.Session{}, fmt.Errorf("invalid scope id: %w", err)
		}
		session.ScopedRoles = append(session.ScopedRoles, domain.ScopedRole{Role: role, ScopeID: scopeID})
	}
	if claims.ChangesetID != "" {
		csID, err := uuid.Parse(claims.ChangesetID)
		if err != nil {
			return domain.Session{}, fmt.Errorf("invalid changeset id: %w", err)
		}
		session.Changeset = &csID
	}

	return session, nil
}
