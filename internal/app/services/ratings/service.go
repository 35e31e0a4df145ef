package ratings

import (
	"context"
	stderrors "errors"
	"strings"

	"github.com/R3E-Network/store_rating/internal/app/domain/rating"
	"github.com/R3E-Network/store_rating/internal/app/domain/store"
	"github.com/R3E-Network/store_rating/internal/app/metrics"
	"github.com/R3E-Network/store_rating/internal/app/storage"
	"github.com/R3E-Network/store_rating/internal/app/validation"
	"github.com/R3E-Network/store_rating/internal/errors"
	"github.com/R3E-Network/store_rating/pkg/logger"
)

// Service is the rating engine: it records one rating per user and store and
// derives aggregates from the live rows.
type Service struct {
	users   storage.UserStore
	stores  storage.StoreStore
	ratings storage.RatingStore
	log     *logger.Logger
}

// New constructs a rating service.
func New(users storage.UserStore, stores storage.StoreStore, ratings storage.RatingStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("ratings")
	}
	return &Service{
		users:   users,
		stores:  stores,
		ratings: ratings,
		log:     log,
	}
}

// Submit records the user's rating for the store, replacing any earlier one.
func (s *Service) Submit(ctx context.Context, userID, storeID int64, value int, review string) (rating.Rating, error) {
	review = strings.TrimSpace(review)
	if err := validation.Check(validation.RatingSchema{Rating: value, Review: review}); err != nil {
		metrics.RecordRatingSubmission("rejected")
		return rating.Rating{}, err
	}
	if _, err := s.requireStore(ctx, storeID); err != nil {
		metrics.RecordRatingSubmission("rejected")
		return rating.Rating{}, err
	}

	saved, inserted, err := s.ratings.UpsertRating(ctx, rating.Rating{
		UserID:  userID,
		StoreID: storeID,
		Rating:  value,
		Review:  review,
	})
	if err != nil {
		metrics.RecordRatingSubmission("rejected")
		if stderrors.Is(err, storage.ErrNotFound) {
			return rating.Rating{}, errors.NotFound("store", storeID)
		}
		return rating.Rating{}, errors.Internal("", err)
	}

	outcome := "updated"
	if inserted {
		outcome = "created"
	}
	metrics.RecordRatingSubmission(outcome)
	s.log.WithField("user_id", userID).
		WithField("store_id", storeID).
		WithField("rating", value).
		Info("rating submitted")
	return saved, nil
}

// Aggregate returns the mean and count of the store's current ratings.
func (s *Service) Aggregate(ctx context.Context, storeID int64) (rating.Aggregate, error) {
	if _, err := s.requireStore(ctx, storeID); err != nil {
		return rating.Aggregate{}, err
	}
	agg, err := s.ratings.StoreAggregate(ctx, storeID)
	if err != nil {
		return rating.Aggregate{}, errors.Internal("", err)
	}
	return agg, nil
}

// UserRating returns the user's rating for the store, or nil if none exists.
func (s *Service) UserRating(ctx context.Context, userID, storeID int64) (*rating.Rating, error) {
	if _, err := s.requireStore(ctx, storeID); err != nil {
		return nil, err
	}
	r, err := s.ratings.GetRating(ctx, userID, storeID)
	if stderrors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Internal("", err)
	}
	return &r, nil
}

// Reviews lists the store's ratings that carry review text, newest first.
func (s *Service) Reviews(ctx context.Context, storeID int64) ([]rating.Review, error) {
	return s.listReviews(ctx, storeID, true)
}

// Feedback lists every rating of the store, with or without text, newest first.
func (s *Service) Feedback(ctx context.Context, storeID int64) ([]rating.Review, error) {
	return s.listReviews(ctx, storeID, false)
}

func (s *Service) listReviews(ctx context.Context, storeID int64, reviewsOnly bool) ([]rating.Review, error) {
	if _, err := s.requireStore(ctx, storeID); err != nil {
		return nil, err
	}
	reviews, err := s.ratings.ListStoreReviews(ctx, storeID, reviewsOnly)
	if err != nil {
		return nil, errors.Internal("", err)
	}
	return reviews, nil
}

// ListStores returns every store matching filter with its aggregate. When
// viewerID is non-zero each entry also carries that user's own rating.
func (s *Service) ListStores(ctx context.Context, viewerID int64, filter store.Filter) ([]rating.StoreSummary, error) {
	stores, err := s.stores.ListStores(ctx, filter)
	if err != nil {
		return nil, errors.Internal("", err)
	}
	aggregates, err := s.ratings.StoreAggregates(ctx)
	if err != nil {
		return nil, errors.Internal("", err)
	}

	own := map[int64]rating.Rating{}
	if viewerID != 0 {
		mine, err := s.ratings.ListUserRatings(ctx, viewerID)
		if err != nil {
			return nil, errors.Internal("", err)
		}
		for _, r := range mine {
			own[r.StoreID] = r
		}
	}

	result := make([]rating.StoreSummary, 0, len(stores))
	for _, st := range stores {
		agg := aggregates[st.ID]
		summary := rating.StoreSummary{
			Store:         st,
			OverallRating: agg.Rounded(),
			TotalRatings:  agg.RatingCount,
		}
		if r, ok := own[st.ID]; ok {
			value, review := r.Rating, r.Review
			summary.UserRating = &value
			summary.UserReview = &review
		}
		result = append(result, summary)
	}
	return result, nil
}

// ListStoresForUser is ListStores annotated for the given user.
func (s *Service) ListStoresForUser(ctx context.Context, userID int64, filter store.Filter) ([]rating.StoreSummary, error) {
	return s.ListStores(ctx, userID, filter)
}

// Counts returns the system-wide totals.
func (s *Service) Counts(ctx context.Context) (rating.Counts, error) {
	var (
		counts rating.Counts
		err    error
	)
	if counts.TotalUsers, err = s.users.CountUsers(ctx); err != nil {
		return rating.Counts{}, errors.Internal("", err)
	}
	if counts.TotalStores, err = s.stores.CountStores(ctx); err != nil {
		return rating.Counts{}, errors.Internal("", err)
	}
	if counts.TotalRatings, err = s.ratings.CountRatings(ctx); err != nil {
		return rating.Counts{}, errors.Internal("", err)
	}
	return counts, nil
}

func (s *Service) requireStore(ctx context.Context, storeID int64) (store.Store, error) {
	st, err := s.stores.GetStore(ctx, storeID)
	if stderrors.Is(err, storage.ErrNotFound) {
		return store.Store{}, errors.NotFound("store", storeID)
	}
	if err != nil {
		return store.Store{}, errors.Internal("", err)
	}
	return st, nil
}
