/*
token.go - Access tokens for the HTTP API

PURPOSE:
  Issues and verifies the HS256 JWT a client receives from
  POST /api/auth/login and presents as "Authorization: Bearer <token>".
  The token carries the account id, email, name, role and approval flag
  as they were at login.

VERIFICATION:
  Parse checks the signature, the signing method, the issuer and the
  expiry. It does not touch the database; the API middleware reloads the
  account by id so deleted accounts lose access before the token expires.

SEE ALSO:
  - api/auth.go: Login handler and Bearer middleware
  - config/config.go: ESTIMATOR_JWT_SECRET, ESTIMATOR_JWT_ISSUER, ESTIMATOR_TOKEN_TTL
*/
package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/warp/estimator/users"
)

var signingMethod = jwt.SigningMethodHS256

// Config holds the signing secret and token lifetime.
type Config struct {
	Secret string
	Issuer string
	TTL    time.Duration
}

func (c Config) check() error {
	if c.Secret == "" {
		return errors.New("jwt secret is required")
	}
	if c.Issuer == "" {
		return errors.New("jwt issuer is required")
	}
	return nil
}

// Claims is the payload of an access token.
type Claims struct {
	UserID     int64      `json:"user_id"`
	Email      string     `json:"email"`
	Name       string     `json:"name"`
	Role       users.Role `json:"role"`
	IsApproved bool       `json:"is_approved"`
	jwt.RegisteredClaims
}

// Mint signs a token for u issued at now. It returns the token and its
// expiry.
func Mint(cfg Config, now time.Time, u users.User) (string, time.Time, error) {
	if err := cfg.check(); err != nil {
		return "", time.Time{}, err
	}
	if cfg.TTL <= 0 {
		return "", time.Time{}, errors.New("token ttl must be positive")
	}
	if !u.Role.Valid() {
		return "", time.Time{}, fmt.Errorf("invalid role %q", u.Role)
	}

	expires := now.Add(cfg.TTL)
	claims := Claims{
		UserID:     u.ID,
		Email:      u.Email,
		Name:       u.Name,
		Role:       u.Role,
		IsApproved: u.IsApproved,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(u.ID, 10),
			Issuer:    cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}

	signed, err := jwt.NewWithClaims(signingMethod, claims).SignedString([]byte(cfg.Secret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing jwt: %w", err)
	}
	return signed, expires, nil
}

// Parse verifies token as of now and returns its claims.
func Parse(cfg Config, now time.Time, token string) (*Claims, error) {
	if err := cfg.check(); err != nil {
		return nil, err
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(
		token,
		claims,
		func(t *jwt.Token) (interface{}, error) {
			if t.Method != signingMethod {
				return nil, fmt.Errorf("unexpected signing method %s", t.Header["alg"])
			}
			return []byte(cfg.Secret), nil
		},
		jwt.WithValidMethods([]string{signingMethod.Alg()}),
		jwt.WithIssuer(cfg.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil {
		return nil, err
	}
	if claims.UserID <= 0 {
		return nil, errors.New("token has no user id")
	}
	return claims, nil
}
