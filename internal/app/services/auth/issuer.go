// Package auth issues and verifies the signed, time-bound credentials that
// bind a user id to its role.
package auth

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/R3E-Network/store_rating/internal/app/authz"
	"github.com/R3E-Network/store_rating/internal/app/domain/user"
	"github.com/R3E-Network/store_rating/internal/app/storage"
	"github.com/R3E-Network/store_rating/internal/errors"
)

const (
	DefaultTTL    = 24 * time.Hour
	DefaultIssuer = "store-rating"
)

// Claims is the credential payload.
type Claims struct {
	UserID int64  `json:"user_id"`
	Role   string `json:"role"`
	Epoch  int    `json:"epoch"`
	jwt.RegisteredClaims
}

// EpochSource reports a user's current credential epoch. Tokens minted for an
// older epoch are rejected.
type EpochSource interface {
	CurrentEpoch(ctx context.Context, userID int64) (int, error)
}

// EpochFunc adapts a function to EpochSource.
type EpochFunc func(ctx context.Context, userID int64) (int, error)

func (f EpochFunc) CurrentEpoch(ctx context.Context, userID int64) (int, error) {
	return f(ctx, userID)
}

// UserEpochs reads epochs from the user store.
func UserEpochs(users storage.UserStore) EpochSource {
	return EpochFunc(func(ctx context.Context, userID int64) (int, error) {
		u, err := users.GetUser(ctx, userID)
		if err != nil {
			return 0, err
		}
		return u.TokenEpoch, nil
	})
}

// Issuer signs and verifies HS256 credentials.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	issuer string
	now    func() time.Time
	epochs EpochSource
}

// Option customises an Issuer.
type Option func(*Issuer)

// WithTTL sets the credential lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(i *Issuer) {
		if ttl > 0 {
			i.ttl = ttl
		}
	}
}

// WithIssuerName sets the iss claim written and required on verify.
func WithIssuerName(name string) Option {
	return func(i *Issuer) {
		if name != "" {
			i.issuer = name
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(i *Issuer) {
		if now != nil {
			i.now = now
		}
	}
}

// WithEpochSource enables revocation checks against the user's current epoch.
func WithEpochSource(src EpochSource) Option {
	return func(i *Issuer) { i.epochs = src }
}

// NewIssuer returns an issuer signing with secret.
func NewIssuer(secret []byte, opts ...Option) *Issuer {
	i := &Issuer{
		secret: append([]byte(nil), secret...),
		ttl:    DefaultTTL,
		issuer: DefaultIssuer,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Issue mints a credential for the user and returns it with its expiry.
func (i *Issuer) Issue(userID int64, role user.Role, epoch int) (string, time.Time, error) {
	if userID <= 0 || !role.Valid() {
		return "", time.Time{}, errors.Internal("", fmt.Errorf("issue credential: invalid subject %d/%q", userID, role))
	}
	issuedAt := i.now().UTC()
	expiresAt := issuedAt.Add(i.ttl)
	claims := Claims{
		UserID: userID,
		Role:   string(role),
		Epoch:  epoch,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    i.issuer,
			Subject:   fmt.Sprintf("%d", userID),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, errors.Internal("", err)
	}
	return token, expiresAt, nil
}

// Verify checks signature, algorithm, issuer, expiry, role and epoch. Every
// failure is an authentication error.
func (i *Issuer) Verify(ctx context.Context, token string) (authz.Identity, error) {
	if token == "" {
		return authz.Identity{}, errors.Unauthorized("")
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (interface{}, error) { return i.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(i.issuer),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return authz.Identity{}, errors.InvalidToken(err)
	}

	role, err := user.ParseRole(claims.Role)
	if err != nil || claims.UserID <= 0 {
		return authz.Identity{}, errors.InvalidToken(fmt.Errorf("malformed subject"))
	}

	if i.epochs != nil {
		current, err := i.epochs.CurrentEpoch(ctx, claims.UserID)
		switch {
		case stderrors.Is(err, storage.ErrNotFound):
			return authz.Identity{}, errors.InvalidToken(err)
		case err != nil:
			return authz.Identity{}, errors.Internal("", err)
		case current != claims.Epoch:
			return authz.Identity{}, errors.InvalidToken(fmt.Errorf("credential revoked"))
		}
	}

	return authz.Identity{UserID: claims.UserID, Role: role}, nil
}
