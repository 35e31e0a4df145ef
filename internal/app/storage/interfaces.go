package storage

import (
	"context"
	"errors"

	"github.com/R3E-Network/store_rating/internal/app/domain/rating"
	"github.com/R3E-Network/store_rating/internal/app/domain/store"
	"github.com/R3E-Network/store_rating/internal/app/domain/user"
)

var (
	// ErrNotFound is returned when a referenced row does not exist.
	ErrNotFound = errors.New("storage: not found")
	// ErrDuplicate is returned when a unique key (email) is already taken.
	ErrDuplicate = errors.New("storage: duplicate key")
	// ErrOwnerHasStore is returned by CreateOwnedStore when the owner already
	// holds a store.
	ErrOwnerHasStore = errors.New("storage: owner already has a store")
)

// UserStore persists user accounts.
type UserStore interface {
	CreateUser(ctx context.Context, u user.User) (user.User, error)
	GetUser(ctx context.Context, id int64) (user.User, error)
	GetUserByEmail(ctx context.Context, email string) (user.User, error)
	ListUsers(ctx context.Context, filter user.Filter) ([]user.User, error)
	// UpdatePassword replaces the hash and increments the token epoch.
	UpdatePassword(ctx context.Context, id int64, passwordHash string) (user.User, error)
	CountUsers(ctx context.Context) (int, error)
}

// StoreStore persists stores.
type StoreStore interface {
	CreateStore(ctx context.Context, st store.Store) (store.Store, error)
	// CreateOwnedStore inserts st only if st.OwnerID holds no store yet. The
	// check and the insert are atomic.
	CreateOwnedStore(ctx context.Context, st store.Store) (store.Store, error)
	GetStore(ctx context.Context, id int64) (store.Store, error)
	GetStoreByOwner(ctx context.Context, ownerID int64) (store.Store, error)
	ListStores(ctx context.Context, filter store.Filter) ([]store.Store, error)
	CountStores(ctx context.Context) (int, error)
}

// RatingStore persists ratings and computes aggregates from the live rows.
type RatingStore interface {
	// UpsertRating inserts or overwrites the (UserID, StoreID) row atomically
	// and reports whether a new row was inserted.
	UpsertRating(ctx context.Context, r rating.Rating) (saved rating.Rating, inserted bool, err error)
	GetRating(ctx context.Context, userID, storeID int64) (rating.Rating, error)
	StoreAggregate(ctx context.Context, storeID int64) (rating.Aggregate, error)
	StoreAggregates(ctx context.Context) (map[int64]rating.Aggregate, error)
	// ListStoreReviews returns ratings newest first joined with their authors.
	// With reviewsOnly set, rows with an empty review are skipped.
	ListStoreReviews(ctx context.Context, storeID int64, reviewsOnly bool) ([]rating.Review, error)
	ListUserRatings(ctx context.Context, userID int64) ([]rating.Rating, error)
	CountRatings(ctx context.Context) (int, error)
}

// Pinger is implemented by stores backed by an external resource.
type Pinger interface {
	Ping(ctx context.Context) error
}
