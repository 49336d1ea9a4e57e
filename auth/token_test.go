package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/estimator/users"
)

var testConfig = Config{Secret: "secret", Issuer: "estimator", TTL: time.Hour}

var issuedAt = time.Date(2024, 7, 1, 9, 0, 0, 0, time.UTC)

func bob() users.User {
	return users.User{ID: 7, Email: "bob@example.com", Name: "Bob", Role: users.RoleUser, IsApproved: true}
}

func TestMintAndParse(t *testing.T) {
	token, expires, err := Mint(testConfig, issuedAt, bob())
	require.NoError(t, err)
	assert.Equal(t, issuedAt.Add(time.Hour), expires)

	claims, err := Parse(testConfig, issuedAt.Add(time.Minute), token)
	require.NoError(t, err)

	assert.Equal(t, int64(7), claims.UserID)
	assert.Equal(t, "7", claims.Subject)
	assert.Equal(t, "bob@example.com", claims.Email)
	assert.Equal(t, users.RoleUser, claims.Role)
	assert.True(t, claims.IsApproved)
	assert.Equal(t, "estimator", claims.Issuer)
}

func TestParse_Rejects(t *testing.T) {
	token, _, err := Mint(testConfig, issuedAt, bob())
	require.NoError(t, err)

	otherSecret := testConfig
	otherSecret.Secret = "other"
	otherIssuer := testConfig
	otherIssuer.Issuer = "someone-else"

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{UserID: 7}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name  string
		cfg   Config
		now   time.Time
		token string
	}{
		{"expired", testConfig, issuedAt.Add(2 * time.Hour), token},
		{"wrong secret", otherSecret, issuedAt, token},
		{"wrong issuer", otherIssuer, issuedAt, token},
		{"unsigned", testConfig, issuedAt, none},
		{"garbage", testConfig, issuedAt, "not-a-token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.cfg, tt.now, tt.token)
			assert.Error(t, err)
		})
	}
}

func TestMint_RequiresConfig(t *testing.T) {
	_, _, err := Mint(Config{Issuer: "estimator", TTL: time.Hour}, issuedAt, bob())
	assert.Error(t, err)

	_, _, err = Mint(Config{Secret: "s", Issuer: "estimator"}, issuedAt, bob())
	assert.Error(t, err)

	bad := bob()
	bad.Role = "owner"
	_, _, err = Mint(testConfig, issuedAt, bad)
	assert.Error(t, err)
}
