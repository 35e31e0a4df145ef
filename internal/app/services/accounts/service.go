package accounts

import (
	"context"
	stderrors "errors"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/R3E-Network/store_rating/internal/app/domain/user"
	"github.com/R3E-Network/store_rating/internal/app/metrics"
	"github.com/R3E-Network/store_rating/internal/app/services/auth"
	"github.com/R3E-Network/store_rating/internal/app/storage"
	"github.com/R3E-Network/store_rating/internal/app/validation"
	"github.com/R3E-Network/store_rating/internal/errors"
	"github.com/R3E-Network/store_rating/pkg/logger"
)

// UserInput carries the fields of a new account.
type UserInput struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Address  string `json:"address"`
	Role     string `json:"role"`
}

// Session is a user together with a freshly issued credential.
type Session struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      user.User `json:"user"`
}

// Service manages user accounts and their credentials.
type Service struct {
	users  storage.UserStore
	issuer *auth.Issuer
	log    *logger.Logger
	cost   int

	dummyOnce sync.Once
	dummyHash []byte
}

// Option customises the service.
type Option func(*Service)

// WithBcryptCost overrides the hashing cost. Tests use bcrypt.MinCost.
func WithBcryptCost(cost int) Option {
	return func(s *Service) {
		if cost >= bcrypt.MinCost && cost <= bcrypt.MaxCost {
			s.cost = cost
		}
	}
}

// New creates an account service.
func New(users storage.UserStore, issuer *auth.Issuer, log *logger.Logger, opts ...Option) *Service {
	if log == nil {
		log = logger.NewDefault("accounts")
	}
	s := &Service{
		users:  users,
		issuer: issuer,
		log:    log,
		cost:   bcrypt.DefaultCost,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register creates a self-service account and signs it in. Role defaults to
// normal; store_owner may be requested, admin may not.
func (s *Service) Register(ctx context.Context, in UserInput) (Session, error) {
	if strings.TrimSpace(in.Role) == "" {
		in.Role = string(user.RoleNormal)
	}
	role, err := user.ParseRole(in.Role)
	if err == nil && role == user.RoleAdmin {
		return Session{}, errors.Validation("Administrators cannot self-register",
			map[string]string{"role": "Role must be normal or store_owner"})
	}

	u, err := s.create(ctx, in)
	if err != nil {
		return Session{}, err
	}
	return s.session(u)
}

// CreateUser creates an account with any role on behalf of an administrator.
func (s *Service) CreateUser(ctx context.Context, in UserInput) (user.User, error) {
	if strings.TrimSpace(in.Role) == "" {
		in.Role = string(user.RoleNormal)
	}
	return s.create(ctx, in)
}

func (s *Service) create(ctx context.Context, in UserInput) (user.User, error) {
	in.Email = user.NormalizeEmail(in.Email)
	in.Name = strings.TrimSpace(in.Name)
	in.Address = strings.TrimSpace(in.Address)
	if err := validation.Check(validation.UserSchema(in)); err != nil {
		return user.User{}, err
	}
	role, err := user.ParseRole(in.Role)
	if err != nil {
		return user.User{}, errors.Validation("invalid role", map[string]string{"role": err.Error()})
	}

	if _, err := s.users.GetUserByEmail(ctx, in.Email); err == nil {
		return user.User{}, errors.Duplicate("User already exists").WithDetails("field", "email")
	} else if !stderrors.Is(err, storage.ErrNotFound) {
		return user.User{}, errors.Internal("", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.cost)
	if err != nil {
		return user.User{}, errors.Internal("", err)
	}

	created, err := s.users.CreateUser(ctx, user.User{
		Name:         in.Name,
		Email:        in.Email,
		PasswordHash: string(hash),
		Address:      in.Address,
		Role:         role,
	})
	if stderrors.Is(err, storage.ErrDuplicate) {
		return user.User{}, errors.Duplicate("User already exists").WithDetails("field", "email")
	}
	if err != nil {
		return user.User{}, errors.Internal("", err)
	}

	s.log.WithField("user_id", created.ID).
		WithField("role", created.Role).
		Info("user created")
	return created, nil
}

// Login exchanges credentials for a session. Unknown email and wrong password
// produce the same error.
func (s *Service) Login(ctx context.Context, email, password string) (Session, error) {
	email = user.NormalizeEmail(email)
	if err := validation.Check(validation.LoginSchema{Email: email, Password: password}); err != nil {
		return Session{}, err
	}

	u, err := s.users.GetUserByEmail(ctx, email)
	switch {
	case stderrors.Is(err, storage.ErrNotFound):
		// Burn the same bcrypt work as a real comparison.
		_ = bcrypt.CompareHashAndPassword(s.dummy(), []byte(password))
		metrics.RecordLogin(false)
		return Session{}, errors.InvalidCredentials()
	case err != nil:
		return Session{}, errors.Internal("", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		metrics.RecordLogin(false)
		s.log.WithField("user_id", u.ID).Debug("login rejected")
		return Session{}, errors.InvalidCredentials()
	}

	metrics.RecordLogin(true)
	return s.session(u)
}

// UpdatePassword replaces the user's password. Credentials issued before the
// change stop verifying; the returned session carries a new one.
func (s *Service) UpdatePassword(ctx context.Context, userID int64, password string) (Session, error) {
	if err := validation.Check(validation.PasswordSchema{Password: password}); err != nil {
		return Session{}, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return Session{}, errors.Internal("", err)
	}
	u, err := s.users.UpdatePassword(ctx, userID, string(hash))
	if stderrors.Is(err, storage.ErrNotFound) {
		return Session{}, errors.NotFound("user", userID)
	}
	if err != nil {
		return Session{}, errors.Internal("", err)
	}
	s.log.WithField("user_id", userID).Info("password updated")
	return s.session(u)
}

// List returns users matching filter ordered by id.
func (s *Service) List(ctx context.Context, filter user.Filter) ([]user.User, error) {
	users, err := s.users.ListUsers(ctx, filter)
	if err != nil {
		return nil, errors.Internal("", err)
	}
	return users, nil
}

// ListStoreOwners returns every store_owner account.
func (s *Service) ListStoreOwners(ctx context.Context) ([]user.User, error) {
	return s.List(ctx, user.Filter{Role: user.RoleStoreOwner})
}

func (s *Service) session(u user.User) (Session, error) {
	token, expiresAt, err := s.issuer.Issue(u.ID, u.Role, u.TokenEpoch)
	if err != nil {
		return Session{}, err
	}
	return Session{Token: token, ExpiresAt: expiresAt, User: u}, nil
}

func (s *Service) dummy() []byte {
	s.dummyOnce.Do(func() {
		hash, err := bcrypt.GenerateFromPassword([]byte("placeholder-Password1!"), s.cost)
		if err != nil {
			s.log.WithError(err).Warn("dummy hash generation failed")
		}
		s.dummyHash = hash
	})
	return s.dummyHash
}
