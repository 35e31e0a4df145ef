package stores

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"strings"

	"github.com/R3E-Network/store_rating/internal/app/domain/rating"
	"github.com/R3E-Network/store_rating/internal/app/domain/store"
	"github.com/R3E-Network/store_rating/internal/app/domain/user"
	"github.com/R3E-Network/store_rating/internal/app/metrics"
	"github.com/R3E-Network/store_rating/internal/app/services/ratings"
	"github.com/R3E-Network/store_rating/internal/app/storage"
	"github.com/R3E-Network/store_rating/internal/app/validation"
	"github.com/R3E-Network/store_rating/internal/errors"
	"github.com/R3E-Network/store_rating/pkg/logger"
)

// StoreInput carries the fields of a new store.
type StoreInput struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Address string `json:"address"`
}

// Dashboard is the owner's view of their store.
type Dashboard struct {
	HasStore  bool             `json:"hasStore"`
	Store     *store.Store     `json:"store,omitempty"`
	Aggregate rating.Aggregate `json:"-"`
	Ratings   []rating.Review  `json:"ratings"`
}

func (d Dashboard) MarshalJSON() ([]byte, error) {
	ratings := d.Ratings
	if ratings == nil {
		ratings = []rating.Review{}
	}
	return json.Marshal(struct {
		HasStore             bool            `json:"hasStore"`
		Store                *store.Store    `json:"store,omitempty"`
		AverageRating        float64         `json:"averageRating"`
		AverageRatingDisplay string          `json:"averageRatingDisplay"`
		RatingCount          int             `json:"ratingCount"`
		Ratings              []rating.Review `json:"ratings"`
	}{d.HasStore, d.Store, d.Aggregate.Rounded(), d.Aggregate.Display(), d.Aggregate.RatingCount, ratings})
}

// Service manages the store lifecycle.
type Service struct {
	users  storage.UserStore
	stores storage.StoreStore
	engine *ratings.Service
	log    *logger.Logger
}

// New constructs a store service.
func New(users storage.UserStore, stores storage.StoreStore, engine *ratings.Service, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("stores")
	}
	return &Service{
		users:  users,
		stores: stores,
		engine: engine,
		log:    log,
	}
}

// CreateForOwner creates the single store of a store owner. A second attempt
// fails with a conflict and leaves the first store unchanged.
func (s *Service) CreateForOwner(ctx context.Context, ownerID int64, in StoreInput) (store.Store, error) {
	in, err := s.validate(in)
	if err != nil {
		return store.Store{}, err
	}
	if _, err := s.requireOwner(ctx, ownerID); err != nil {
		return store.Store{}, err
	}

	owner := ownerID
	created, err := s.stores.CreateOwnedStore(ctx, store.Store{
		Name:    in.Name,
		Email:   in.Email,
		Address: in.Address,
		OwnerID: &owner,
	})
	switch {
	case stderrors.Is(err, storage.ErrOwnerHasStore):
		return store.Store{}, errors.Conflict("You already have a store registered")
	case err != nil:
		return store.Store{}, translate(err, ownerID)
	}

	metrics.RecordStoreCreated("owner")
	s.log.WithField("store_id", created.ID).
		WithField("owner_id", ownerID).
		Info("store created by owner")
	return created, nil
}

// AdminCreate creates a store with an optional owner. The one-store-per-owner
// rule is not applied on this path.
func (s *Service) AdminCreate(ctx context.Context, in StoreInput, ownerID *int64) (store.Store, error) {
	in, err := s.validate(in)
	if err != nil {
		return store.Store{}, err
	}

	st := store.Store{Name: in.Name, Email: in.Email, Address: in.Address}
	if ownerID != nil {
		if _, err := s.requireOwner(ctx, *ownerID); err != nil {
			return store.Store{}, err
		}
		owner := *ownerID
		st.OwnerID = &owner
	}

	created, err := s.stores.CreateStore(ctx, st)
	if err != nil {
		var id int64
		if ownerID != nil {
			id = *ownerID
		}
		return store.Store{}, translate(err, id)
	}

	metrics.RecordStoreCreated("admin")
	s.log.WithField("store_id", created.ID).Info("store created by admin")
	return created, nil
}

// List returns stores matching filter ordered by id.
func (s *Service) List(ctx context.Context, filter store.Filter) ([]store.Store, error) {
	list, err := s.stores.ListStores(ctx, filter)
	if err != nil {
		return nil, errors.Internal("", err)
	}
	return list, nil
}

// ListWithRatings returns stores matching filter with their aggregates.
func (s *Service) ListWithRatings(ctx context.Context, filter store.Filter) ([]rating.StoreSummary, error) {
	return s.engine.ListStores(ctx, 0, filter)
}

// ByOwner returns the owner's store.
func (s *Service) ByOwner(ctx context.Context, ownerID int64) (store.Store, error) {
	st, err := s.stores.GetStoreByOwner(ctx, ownerID)
	if stderrors.Is(err, storage.ErrNotFound) {
		return store.Store{}, errors.NotFound("store", ownerID)
	}
	if err != nil {
		return store.Store{}, errors.Internal("", err)
	}
	return st, nil
}

// OwnerDashboard returns the owner's store with its aggregate and every
// rating. An owner without a store gets HasStore=false.
func (s *Service) OwnerDashboard(ctx context.Context, ownerID int64) (Dashboard, error) {
	st, err := s.stores.GetStoreByOwner(ctx, ownerID)
	if stderrors.Is(err, storage.ErrNotFound) {
		return Dashboard{HasStore: false, Ratings: []rating.Review{}}, nil
	}
	if err != nil {
		return Dashboard{}, errors.Internal("", err)
	}

	agg, err := s.engine.Aggregate(ctx, st.ID)
	if err != nil {
		return Dashboard{}, err
	}
	feedback, err := s.engine.Feedback(ctx, st.ID)
	if err != nil {
		return Dashboard{}, err
	}
	return Dashboard{HasStore: true, Store: &st, Aggregate: agg, Ratings: feedback}, nil
}

func (s *Service) validate(in StoreInput) (StoreInput, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = user.NormalizeEmail(in.Email)
	in.Address = strings.TrimSpace(in.Address)
	if err := validation.Check(validation.StoreSchema(in)); err != nil {
		return StoreInput{}, err
	}
	return in, nil
}

func (s *Service) requireOwner(ctx context.Context, ownerID int64) (user.User, error) {
	owner, err := s.users.GetUser(ctx, ownerID)
	if stderrors.Is(err, storage.ErrNotFound) {
		return user.User{}, errors.NotFound("user", ownerID)
	}
	if err != nil {
		return user.User{}, errors.Internal("", err)
	}
	if owner.Role != user.RoleStoreOwner {
		return user.User{}, errors.Validation("Owner must be a store owner",
			map[string]string{"owner_id": "Owner must be a store owner"})
	}
	return owner, nil
}

func translate(err error, ownerID int64) error {
	switch {
	case stderrors.Is(err, storage.ErrDuplicate):
		return errors.Duplicate("Store email already registered").WithDetails("field", "email")
	case stderrors.Is(err, storage.ErrNotFound):
		return errors.NotFound("user", ownerID)
	default:
		return errors.Internal("", err)
	}
}
