package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func TestVerifyDevToken(t *testing.T) {
	v := NewVerifier("", "")
	require.Equal(t, ModeDev, v.Mode)

	p, err := v.Verify("t_acme:Dispatcher")
	require.NoError(t, err)
	require.Equal(t, Principal{Tenant: "t_acme", Role: RoleDispatcher}, p)
	require.True(t, p.CanPlan())
	require.False(t, p.IsAdmin())

	_, err = v.Verify("nocolon")
	require.ErrorIs(t, err, ErrInvalidToken)
	_, err = v.Verify(":admin")
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyHMACToken(t *testing.T) {
	v := NewVerifier("HMAC", "12345678901234567890123456789012")
	token, err := v.Issue("t_acme", "admin", time.Minute)
	require.NoError(t, err)

	p, err := v.Verify(token)
	require.NoError(t, err)
	require.Equal(t, "t_acme", p.Tenant)
	require.True(t, p.IsAdmin())

	other := NewVerifier(ModeHMAC, "another-secret-another-secret-xx")
	_, err = other.Verify(token)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyHMACExpired(t *testing.T) {
	v := NewVerifier(ModeHMAC, "12345678901234567890123456789012")
	token, err := v.Issue("t_acme", "admin", -time.Minute)
	require.NoError(t, err)
	_, err = v.Verify(token)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyHMACRejectsAlgNone(t *testing.T) {
	v := NewVerifier(ModeHMAC, "12345678901234567890123456789012")
	tok := jwt.NewWithClaims(jwt.SigningMethodNone, claims{Tenant: "t_acme", Role: "admin"})
	s, err := tok.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = v.Verify(s)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyHMACDefaultsRoleAndNeedsTenant(t *testing.T) {
	v := NewVerifier(ModeHMAC, "12345678901234567890123456789012")
	token, err := v.Issue("t_acme", "", time.Minute)
	require.NoError(t, err)
	p, err := v.Verify(token)
	require.NoError(t, err)
	require.Equal(t, RoleViewer, p.Role)
	require.False(t, p.CanPlan())

	token, err = v.Issue("", "admin", time.Minute)
	require.NoError(t, err)
	_, err = v.Verify(token)
	require.ErrorIs(t, err, ErrMissingTenant)
}

func TestVerifyUnknownMode(t *testing.T) {
	_, err := NewVerifier("jwks", "").Verify("x")
	require.Error(t, err)
}
