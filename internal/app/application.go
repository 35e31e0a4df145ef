package app

import (
	"context"
	"errors"
	"time"

	"github.com/R3E-Network/store_rating/internal/app/services/accounts"
	"github.com/R3E-Network/store_rating/internal/app/services/auth"
	"github.com/R3E-Network/store_rating/internal/app/services/ratings"
	"github.com/R3E-Network/store_rating/internal/app/services/stores"
	"github.com/R3E-Network/store_rating/internal/app/storage"
	"github.com/R3E-Network/store_rating/internal/app/storage/memory"
	"github.com/R3E-Network/store_rating/internal/app/system"
	"github.com/R3E-Network/store_rating/pkg/logger"
)

var errMissingSecret = errors.New("app: jwt secret is required")

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation.
type Stores struct {
	Users   storage.UserStore
	Stores  storage.StoreStore
	Ratings storage.RatingStore
	// Health is pinged by Health when set.
	Health storage.Pinger
}

// Options configures credentials and hashing.
type Options struct {
	JWTSecret  []byte
	TokenTTL   time.Duration
	Issuer     string
	BcryptCost int
}

// Application ties domain services together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger
	health  storage.Pinger

	Auth     *auth.Issuer
	Accounts *accounts.Service
	Stores   *stores.Service
	Ratings  *ratings.Service
}

// New builds a fully initialised application with the provided stores.
func New(st Stores, opts Options, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}
	if len(opts.JWTSecret) == 0 {
		return nil, errMissingSecret
	}

	if st.Users == nil || st.Stores == nil || st.Ratings == nil {
		mem := memory.New()
		if st.Users == nil {
			st.Users = mem
		}
		if st.Stores == nil {
			st.Stores = mem
		}
		if st.Ratings == nil {
			st.Ratings = mem
		}
	}

	issuer := auth.NewIssuer(opts.JWTSecret,
		auth.WithTTL(opts.TokenTTL),
		auth.WithIssuerName(opts.Issuer),
		auth.WithEpochSource(auth.UserEpochs(st.Users)),
	)

	var acctOpts []accounts.Option
	if opts.BcryptCost != 0 {
		acctOpts = append(acctOpts, accounts.WithBcryptCost(opts.BcryptCost))
	}
	acctService := accounts.New(st.Users, issuer, log.Named("accounts"), acctOpts...)
	ratingService := ratings.New(st.Users, st.Stores, st.Ratings, log.Named("ratings"))
	storeService := stores.New(st.Users, st.Stores, ratingService, log.Named("stores"))

	return &Application{
		manager:  system.NewManager(),
		log:      log,
		health:   st.Health,
		Auth:     issuer,
		Accounts: acctService,
		Stores:   storeService,
		Ratings:  ratingService,
	}, nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}

// Health pings the backing store when one was configured.
func (a *Application) Health(ctx context.Context) error {
	if a.health == nil {
		return nil
	}
	return a.health.Ping(ctx)
}
