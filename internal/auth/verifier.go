// Package auth turns bearer tokens into tenant principals.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	ModeDev  = "dev"
	ModeHMAC = "hmac"
)

const (
	RoleAdmin      = "admin"
	RoleDispatcher = "dispatcher"
	RoleViewer     = "viewer"
)

var (
	ErrInvalidToken  = errors.New("invalid token")
	ErrMissingTenant = errors.New("missing tenant claim")
)

// Verifier validates tokens and extracts tenant/role claims.
// Supports modes: dev (tenant:role, no signature), hmac (HS256 JWT).
type Verifier struct {
	Mode       string
	HMACSecret []byte
}

type Principal struct {
	Tenant string
	Role   string
}

// CanPlan reports whether p may trigger planning runs and write snapshots.
func (p Principal) CanPlan() bool {
	return p.Role == RoleAdmin || p.Role == RoleDispatcher
}

func (p Principal) IsAdmin() bool { return p.Role == RoleAdmin }

type claims struct {
	jwt.RegisteredClaims
	Tenant string `json:"tenant"`
	Role   string `json:"role"`
}

func NewVerifier(mode, secret string) *Verifier {
	mode = strings.ToLower(strings.TrimSpace(mode))
	if mode == "" {
		mode = ModeDev
	}
	return &Verifier{Mode: mode, HMACSecret: []byte(secret)}
}

func (v *Verifier) Verify(token string) (Principal, error) {
	switch v.Mode {
	case ModeDev:
		// token format: tenant:role
		tenant, role, ok := strings.Cut(token, ":")
		if !ok || tenant == "" || role == "" {
			return Principal{}, fmt.Errorf("%w: expected tenant:role", ErrInvalidToken)
		}
		return Principal{Tenant: tenant, Role: strings.ToLower(role)}, nil
	case ModeHMAC:
		tok, err := jwt.ParseWithClaims(token, &claims{}, func(t *jwt.Token) (interface{}, error) {
			return v.HMACSecret, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil {
			return Principal{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
		}
		c, ok := tok.Claims.(*claims)
		if !ok || !tok.Valid {
			return Principal{}, ErrInvalidToken
		}
		if c.Tenant == "" {
			return Principal{}, ErrMissingTenant
		}
		role := strings.ToLower(c.Role)
		if role == "" {
			role = RoleViewer
		}
		return Principal{Tenant: c.Tenant, Role: role}, nil
	}
	return Principal{}, fmt.Errorf("unsupported auth mode %q", v.Mode)
}

// Issue signs an HS256 token for tenant and role. Only meaningful in hmac mode.
func (v *Verifier) Issue(tenant, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   tenant,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Tenant: tenant,
		Role:   role,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(v.HMACSecret)
}
