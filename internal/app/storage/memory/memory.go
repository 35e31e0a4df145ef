package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/R3E-Network/store_rating/internal/app/domain/rating"
	"github.com/R3E-Network/store_rating/internal/app/domain/store"
	"github.com/R3E-Network/store_rating/internal/app/domain/user"
	"github.com/R3E-Network/store_rating/internal/app/storage"
)

type ratingKey struct {
	userID  int64
	storeID int64
}

// Store is an in-memory implementation of the storage interfaces. It is safe
// for concurrent use and is primarily intended for tests and local development.
type Store struct {
	mu           sync.RWMutex
	nextUserID   int64
	nextStoreID  int64
	nextRatingID int64

	users         map[int64]user.User
	usersByEmail  map[string]int64
	stores        map[int64]store.Store
	storesByEmail map[string]int64
	ratings       map[ratingKey]rating.Rating

	now func() time.Time
}

var _ storage.UserStore = (*Store)(nil)
var _ storage.StoreStore = (*Store)(nil)
var _ storage.RatingStore = (*Store)(nil)
var _ storage.Pinger = (*Store)(nil)

// Option customises a Store.
type Option func(*Store)

// WithClock sets the time source used for created and updated stamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		nextUserID:    1,
		nextStoreID:   1,
		nextRatingID:  1,
		users:         make(map[int64]user.User),
		usersByEmail:  make(map[string]int64),
		stores:        make(map[int64]store.Store),
		storesByEmail: make(map[string]int64),
		ratings:       make(map[ratingKey]rating.Rating),
		now:           func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// --- UserStore ----------------------------------------------------------------

func (s *Store) CreateUser(_ context.Context, u user.User) (user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.ToLower(u.Email)
	if _, exists := s.usersByEmail[key]; exists {
		return user.User{}, storage.ErrDuplicate
	}
	u.ID = s.nextUserID
	s.nextUserID++
	u.TokenEpoch = 0
	u.CreatedAt = s.now()

	s.users[u.ID] = u
	s.usersByEmail[key] = u.ID
	return u, nil
}

func (s *Store) GetUser(_ context.Context, id int64) (user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return user.User{}, storage.ErrNotFound
	}
	return u, nil
}

func (s *Store) GetUserByEmail(_ context.Context, email string) (user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.usersByEmail[strings.ToLower(email)]
	if !ok {
		return user.User{}, storage.ErrNotFound
	}
	return s.users[id], nil
}

func (s *Store) ListUsers(_ context.Context, filter user.Filter) ([]user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]user.User, 0, len(s.users))
	for _, u := range s.users {
		if filter.Role != "" && u.Role != filter.Role {
			continue
		}
		if !containsFold(u.Name, filter.Name) || !containsFold(u.Email, filter.Email) || !containsFold(u.Address, filter.Address) {
			continue
		}
		result = append(result, u)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (s *Store) UpdatePassword(_ context.Context, id int64, passwordHash string) (user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return user.User{}, storage.ErrNotFound
	}
	u.PasswordHash = passwordHash
	u.TokenEpoch++
	s.users[id] = u
	return u, nil
}

func (s *Store) CountUsers(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users), nil
}

// --- StoreStore ---------------------------------------------------------------

func (s *Store) CreateStore(_ context.Context, st store.Store) (store.Store, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertStoreLocked(st)
}

func (s *Store) CreateOwnedStore(_ context.Context, st store.Store) (store.Store, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st.OwnerID == nil {
		return store.Store{}, storage.ErrNotFound
	}
	if _, ok := s.users[*st.OwnerID]; !ok {
		return store.Store{}, storage.ErrNotFound
	}
	if _, found := s.storeByOwnerLocked(*st.OwnerID); found {
		return store.Store{}, storage.ErrOwnerHasStore
	}
	return s.insertStoreLocked(st)
}

func (s *Store) insertStoreLocked(st store.Store) (store.Store, error) {
	key := strings.ToLower(st.Email)
	if _, exists := s.storesByEmail[key]; exists {
		return store.Store{}, storage.ErrDuplicate
	}
	if st.OwnerID != nil {
		if _, ok := s.users[*st.OwnerID]; !ok {
			return store.Store{}, storage.ErrNotFound
		}
		owner := *st.OwnerID
		st.OwnerID = &owner
	}
	st.ID = s.nextStoreID
	s.nextStoreID++
	st.CreatedAt = s.now()

	s.stores[st.ID] = st
	s.storesByEmail[key] = st.ID
	return st, nil
}

func (s *Store) GetStore(_ context.Context, id int64) (store.Store, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.stores[id]
	if !ok {
		return store.Store{}, storage.ErrNotFound
	}
	return st, nil
}

func (s *Store) GetStoreByOwner(_ context.Context, ownerID int64) (store.Store, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, found := s.storeByOwnerLocked(ownerID)
	if !found {
		return store.Store{}, storage.ErrNotFound
	}
	return st, nil
}

// storeByOwnerLocked returns the lowest-id store of the owner; admin-created
// stores may give an owner more than one.
func (s *Store) storeByOwnerLocked(ownerID int64) (store.Store, bool) {
	var (
		best  store.Store
		found bool
	)
	for _, st := range s.stores {
		if st.OwnerID == nil || *st.OwnerID != ownerID {
			continue
		}
		if !found || st.ID < best.ID {
			best, found = st, true
		}
	}
	return best, found
}

func (s *Store) ListStores(_ context.Context, filter store.Filter) ([]store.Store, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q := strings.TrimSpace(filter.Query)
	result := make([]store.Store, 0, len(s.stores))
	for _, st := range s.stores {
		if q != "" && !containsFold(st.Name, q) && !containsFold(st.Address, q) {
			continue
		}
		result = append(result, st)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (s *Store) CountStores(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.stores), nil
}

// --- RatingStore --------------------------------------------------------------

func (s *Store) UpsertRating(_ context.Context, r rating.Rating) (rating.Rating, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[r.UserID]; !ok {
		return rating.Rating{}, false, storage.ErrNotFound
	}
	if _, ok := s.stores[r.StoreID]; !ok {
		return rating.Rating{}, false, storage.ErrNotFound
	}

	key := ratingKey{userID: r.UserID, storeID: r.StoreID}
	now := s.now()
	if existing, ok := s.ratings[key]; ok {
		existing.Rating = r.Rating
		existing.Review = r.Review
		existing.UpdatedAt = now
		s.ratings[key] = existing
		return existing, false, nil
	}

	r.ID = s.nextRatingID
	s.nextRatingID++
	r.CreatedAt = now
	r.UpdatedAt = now
	s.ratings[key] = r
	return r, true, nil
}

func (s *Store) GetRating(_ context.Context, userID, storeID int64) (rating.Rating, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.ratings[ratingKey{userID: userID, storeID: storeID}]
	if !ok {
		return rating.Rating{}, storage.ErrNotFound
	}
	return r, nil
}

func (s *Store) StoreAggregate(_ context.Context, storeID int64) (rating.Aggregate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sum, count := 0, 0
	for key, r := range s.ratings {
		if key.storeID == storeID {
			sum += r.Rating
			count++
		}
	}
	return rating.NewAggregate(sum, count), nil
}

func (s *Store) StoreAggregates(context.Context) (map[int64]rating.Aggregate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sums := make(map[int64][2]int)
	for key, r := range s.ratings {
		acc := sums[key.storeID]
		acc[0] += r.Rating
		acc[1]++
		sums[key.storeID] = acc
	}
	result := make(map[int64]rating.Aggregate, len(sums))
	for storeID, acc := range sums {
		result[storeID] = rating.NewAggregate(acc[0], acc[1])
	}
	return result, nil
}

func (s *Store) ListStoreReviews(_ context.Context, storeID int64, reviewsOnly bool) ([]rating.Review, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := make([]rating.Rating, 0)
	for key, r := range s.ratings {
		if key.storeID != storeID {
			continue
		}
		if reviewsOnly && strings.TrimSpace(r.Review) == "" {
			continue
		}
		rows = append(rows, r)
	}
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].CreatedAt.Equal(rows[j].CreatedAt) {
			return rows[i].CreatedAt.After(rows[j].CreatedAt)
		}
		return rows[i].ID > rows[j].ID
	})

	result := make([]rating.Review, 0, len(rows))
	for _, r := range rows {
		author := s.users[r.UserID]
		result = append(result, rating.Review{
			ReviewerName:  author.Name,
			ReviewerEmail: author.Email,
			Rating:        r.Rating,
			Review:        r.Review,
			CreatedAt:     r.CreatedAt,
		})
	}
	return result, nil
}

func (s *Store) ListUserRatings(_ context.Context, userID int64) ([]rating.Rating, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]rating.Rating, 0)
	for key, r := range s.ratings {
		if key.userID == userID {
			result = append(result, r)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].StoreID < result[j].StoreID })
	return result, nil
}

func (s *Store) CountRatings(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ratings), nil
}

func containsFold(value, needle string) bool {
	if needle == "" {
		return true
	}
	return strings.Contains(strings.ToLower(value), strings.ToLower(strings.TrimSpace(needle)))
}
