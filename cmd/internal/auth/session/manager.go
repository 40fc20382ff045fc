package session

import (
	"context"
	"errors"
	"strings"
	"time"

	"tally/cmd/identity"
	"tally/cmd/identity/ids"
	"tally/cmd/internal/metrics"
	"tally/cmd/internal/operr"
	"tally/cmd/security/token"
)

// Manager implements the high-level session operations for tally.
//
// It owns the single-active-session policy: register and login replace every
// prior session of the user, refresh rotates the one session atomically, and
// logout revokes everything. Credential failures collapse to
// ErrAuthenticationFailed with no absent-vs-mismatch distinction.
type Manager struct {
	cfg       Config
	codec     *TokenCodec
	users     identity.Store
	store     Store
	cache     *ValidityCache
	collector *metrics.Collector

	// dummyHash is verified against on the unknown-user login path so that
	// path costs one real Argon2id verification, same as a known user.
	dummyHash string
}

// Issued is the result of issuing or rotating a session.
type Issued struct {
	User         identity.User
	AccessToken  string
	AccessExp    time.Time
	RefreshToken string
	RefreshExp   time.Time
}

// Principal is the authenticated caller identity attached to requests.
type Principal struct {
	UserID string
	Email  string
}

// NewManager constructs a Manager. All dependencies are required except the
// collector, which may be nil.
func NewManager(cfg Config, users identity.Store, store Store, cache *ValidityCache, codec *TokenCodec, collector *metrics.Collector) *Manager {
	m := &Manager{
		cfg:       cfg,
		codec:     codec,
		users:     users,
		store:     store,
		cache:     cache,
		collector: collector,
	}

	// Best-effort; login still works without it, just without the
	// timing equalizer.
	if hash, err := identity.NewDummyHash(); err == nil {
		m.dummyHash = hash
	}

	return m
}

// Register creates a principal and issues its first session.
// A duplicate email surfaces as an operr conflict error.
func (m *Manager) Register(ctx context.Context, now time.Time, email, password string, displayName *string) (Issued, error) {
	user, err := m.users.CreateUser(ctx, identity.CreateUserInput{
		Email:       email,
		Password:    password,
		DisplayName: displayName,
		Now:         now,
	})
	if err != nil {
		return Issued{}, err
	}

	return m.issue(ctx, now, user)
}

// Login verifies credentials and issues a fresh session, revoking all prior
// sessions of the user. Unknown email and wrong password are
// indistinguishable in both the error and the response latency.
func (m *Manager) Login(ctx context.Context, now time.Time, email, password string) (Issued, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return Issued{}, ErrAuthenticationFailed
	}

	user, err := m.users.GetUserByEmail(ctx, email)
	if err != nil {
		if operr.IsNotFound(err) {
			if m.dummyHash != "" {
				identity.DummyVerify(m.dummyHash)
			}
			return Issued{}, ErrAuthenticationFailed
		}
		return Issued{}, err
	}

	ok, err := identity.VerifyPassword(password, user.PasswordHash)
	if err != nil {
		return Issued{}, err
	}
	if !ok {
		return Issued{}, ErrAuthenticationFailed
	}

	return m.issue(ctx, now, user)
}

// Refresh rotates the session bound to refreshToken and returns fresh tokens.
//
// Verification failures yield ErrInvalidToken. A token whose session row is
// gone (already rotated, revoked by logout, or lost a concurrent refresh)
// yields ErrSessionNotFound; an expired row yields ErrSessionExpired and is
// removed. Exactly one of any number of concurrent refreshes of the same
// token succeeds.
func (m *Manager) Refresh(ctx context.Context, now time.Time, refreshToken string) (Issued, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	// Sanity bounds against pathological inputs.
	if refreshToken == "" || len(refreshToken) > 4096 {
		return Issued{}, ErrInvalidToken
	}

	claims, err := m.codec.VerifyRefresh(refreshToken, now)
	if err != nil {
		return Issued{}, ErrInvalidToken
	}

	user, err := m.users.GetUserByID(ctx, claims.UserID)
	if err != nil {
		if operr.IsNotFound(err) {
			return Issued{}, ErrSessionNotFound
		}
		return Issued{}, err
	}

	newRefresh, newRefreshExp, err := m.codec.IssueRefresh(user.ID, now)
	if err != nil {
		return Issued{}, err
	}
	sessionID, err := ids.NewULID(now)
	if err != nil {
		return Issued{}, err
	}

	next := Record{
		ID:        sessionID,
		UserID:    user.ID,
		TokenHash: token.HashRefreshTokenHex(newRefresh),
		IssuedAt:  now,
		ExpiresAt: newRefreshExp,
	}

	oldHash := token.HashRefreshTokenHex(refreshToken)
	if err := m.store.Rotate(ctx, now, oldHash, next); err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			m.collector.RecordRotationConflict()
		}
		return Issued{}, err
	}

	// Access token is minted only after the rotation committed.
	accessToken, accessExp, err := m.codec.IssueAccess(user.ID, user.Email, now)
	if err != nil {
		return Issued{}, err
	}

	m.cache.MarkLive(user.ID)
	m.collector.RecordSessionIssued()

	return Issued{
		User:         user,
		AccessToken:  accessToken,
		AccessExp:    accessExp,
		RefreshToken: newRefresh,
		RefreshExp:   newRefreshExp,
	}, nil
}

// Logout revokes every session of the user and drops the cache entry.
// Idempotent: logging out twice changes nothing.
func (m *Manager) Logout(ctx context.Context, userID string) error {
	n, err := m.store.DeleteAllForUser(ctx, userID)
	if err != nil {
		return err
	}
	m.collector.RecordSessionsRevoked(n)
	m.cache.Invalidate(userID)
	return nil
}

// CheckSessionLive reports whether the user holds a live session, consulting
// the validity cache before the store. Only positive answers are cached.
func (m *Manager) CheckSessionLive(ctx context.Context, now time.Time, userID string) (bool, error) {
	if live, ok := m.cache.Get(userID); ok && live {
		return true, nil
	}

	live, err := m.store.HasLiveSession(ctx, userID, now)
	if err != nil {
		return false, err
	}
	if live {
		m.cache.MarkLive(userID)
	}
	return live, nil
}

// AuthenticateToken verifies an access token and confirms the backing
// session is still live, so logout-everywhere takes effect within the cache
// TTL even for unexpired access tokens.
func (m *Manager) AuthenticateToken(ctx context.Context, now time.Time, accessToken string) (Principal, error) {
	claims, err := m.codec.VerifyAccess(accessToken, now)
	if err != nil {
		return Principal{}, ErrInvalidToken
	}

	live, err := m.CheckSessionLive(ctx, now, claims.UserID)
	if err != nil {
		return Principal{}, err
	}
	if !live {
		return Principal{}, ErrAuthenticationFailed
	}

	return Principal{UserID: claims.UserID, Email: claims.Email}, nil
}

// issue revokes all prior sessions and creates exactly one new row.
func (m *Manager) issue(ctx context.Context, now time.Time, user identity.User) (Issued, error) {
	refreshToken, refreshExp, err := m.codec.IssueRefresh(user.ID, now)
	if err != nil {
		return Issued{}, err
	}
	accessToken, accessExp, err := m.codec.IssueAccess(user.ID, user.Email, now)
	if err != nil {
		return Issued{}, err
	}
	sessionID, err := ids.NewULID(now)
	if err != nil {
		return Issued{}, err
	}

	revoked, err := m.store.DeleteAllForUser(ctx, user.ID)
	if err != nil {
		return Issued{}, err
	}
	m.collector.RecordSessionsRevoked(revoked)

	if err := m.store.Create(ctx, Record{
		ID:        sessionID,
		UserID:    user.ID,
		TokenHash: token.HashRefreshTokenHex(refreshToken),
		IssuedAt:  now,
		ExpiresAt: refreshExp,
	}); err != nil {
		return Issued{}, err
	}

	m.cache.MarkLive(user.ID)
	m.collector.RecordSessionIssued()

	return Issued{
		User:         user,
		AccessToken:  accessToken,
		AccessExp:    accessExp,
		RefreshToken: refreshToken,
		RefreshExp:   refreshExp,
	}, nil
}
