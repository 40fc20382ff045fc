package session

import (
	"time"

	"tally/cmd/identity/ids"

	"github.com/golang-jwt/jwt/v5"
)

// AccessClaims is the identity envelope carried by a verified access token.
type AccessClaims struct {
	UserID    string
	Email     string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Issuer    string
}

// RefreshClaims is the envelope carried by a verified refresh token.
// TokenID is a per-issue random id, so two rotations inside the same second
// still produce distinct tokens (and distinct stored hashes).
type RefreshClaims struct {
	UserID    string
	TokenID   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type accessWireClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

type refreshWireClaims struct {
	jwt.RegisteredClaims
}

// TokenCodec issues and verifies tally's HS256 access and refresh tokens.
//
// The two token kinds are signed with independent secrets; verification pins
// the HMAC method, the issuer, and expiry (with clock-skew leeway). Every
// verification failure collapses to ErrInvalidToken.
type TokenCodec struct {
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	leeway     time.Duration

	accessSecret  []byte
	refreshSecret []byte
}

// NewTokenCodec builds a TokenCodec from cfg.
//
// Missing or short secrets yield ErrSigningKeyUnavailable; identical secrets
// yield ErrConfig.
func NewTokenCodec(cfg Config) (*TokenCodec, error) {
	if len(cfg.AccessSecret) < MinSecretBytes || len(cfg.RefreshSecret) < MinSecretBytes {
		return nil, ErrSigningKeyUnavailable
	}
	if string(cfg.AccessSecret) == string(cfg.RefreshSecret) {
		return nil, ErrConfig
	}
	if cfg.AccessTokenTTL <= 0 || cfg.RefreshTokenTTL <= 0 || cfg.Issuer == "" {
		return nil, ErrConfig
	}

	return &TokenCodec{
		issuer:        cfg.Issuer,
		accessTTL:     cfg.AccessTokenTTL,
		refreshTTL:    cfg.RefreshTokenTTL,
		leeway:        cfg.ClockSkew,
		accessSecret:  cfg.AccessSecret,
		refreshSecret: cfg.RefreshSecret,
	}, nil
}

// IssueAccess signs a short-lived access token for the user.
func (c *TokenCodec) IssueAccess(userID, email string, now time.Time) (string, time.Time, error) {
	exp := now.Add(c.accessTTL)

	claims := accessWireClaims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    c.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.accessSecret)
	if err != nil {
		return "", time.Time{}, ErrSigningKeyUnavailable
	}
	return signed, exp, nil
}

// IssueRefresh signs a refresh token for the user.
func (c *TokenCodec) IssueRefresh(userID string, now time.Time) (string, time.Time, error) {
	jti, err := ids.NewULID(now)
	if err != nil {
		return "", time.Time{}, err
	}

	exp := now.Add(c.refreshTTL)
	claims := refreshWireClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   userID,
			Issuer:    c.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.refreshSecret)
	if err != nil {
		return "", time.Time{}, ErrSigningKeyUnavailable
	}
	return signed, exp, nil
}

// VerifyAccess verifies an access token at time now.
func (c *TokenCodec) VerifyAccess(token string, now time.Time) (AccessClaims, error) {
	var claims accessWireClaims
	if err := c.verify(token, &claims, c.accessSecret, now); err != nil {
		return AccessClaims{}, ErrInvalidToken
	}
	if claims.Subject == "" {
		return AccessClaims{}, ErrInvalidToken
	}

	return AccessClaims{
		UserID:    claims.Subject,
		Email:     claims.Email,
		IssuedAt:  timeOf(claims.IssuedAt),
		ExpiresAt: timeOf(claims.ExpiresAt),
		Issuer:    claims.Issuer,
	}, nil
}

// VerifyRefresh verifies a refresh token at time now.
func (c *TokenCodec) VerifyRefresh(token string, now time.Time) (RefreshClaims, error) {
	var claims refreshWireClaims
	if err := c.verify(token, &claims, c.refreshSecret, now); err != nil {
		return RefreshClaims{}, ErrInvalidToken
	}
	if claims.Subject == "" || claims.ID == "" {
		return RefreshClaims{}, ErrInvalidToken
	}

	return RefreshClaims{
		UserID:    claims.Subject,
		TokenID:   claims.ID,
		IssuedAt:  timeOf(claims.IssuedAt),
		ExpiresAt: timeOf(claims.ExpiresAt),
	}, nil
}

func (c *TokenCodec) verify(token string, dst jwt.Claims, secret []byte, now time.Time) error {
	parsed, err := jwt.ParseWithClaims(token, dst,
		func(t *jwt.Token) (any, error) {
			// Pin the signing method before touching the key. "none" and
			// asymmetric algorithms must never reach HMAC verification.
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, ErrInvalidToken
			}
			return secret, nil
		},
		jwt.WithIssuer(c.issuer),
		jwt.WithLeeway(c.leeway),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil || !parsed.Valid {
		return ErrInvalidToken
	}
	return nil
}

func timeOf(d *jwt.NumericDate) time.Time {
	if d == nil {
		return time.Time{}
	}
	return d.Time
}
