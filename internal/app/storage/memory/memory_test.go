package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/R3E-Network/store_rating/internal/app/domain/rating"
	"github.com/R3E-Network/store_rating/internal/app/domain/store"
	"github.com/R3E-Network/store_rating/internal/app/domain/user"
	"github.com/R3E-Network/store_rating/internal/app/storage"
)

func seed(t *testing.T, s *Store) (user.User, store.Store) {
	t.Helper()
	ctx := context.Background()
	u, err := s.CreateUser(ctx, user.User{Name: "Jane Customer Twenty Chars X", Email: "jane@test.com", Role: user.RoleNormal})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	st, err := s.CreateStore(ctx, store.Store{Name: "Sample Electronics Store Name", Email: "electronics@store.com"})
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	return u, st
}

func TestUserEmailUnique(t *testing.T) {
	s := New()
	seed(t, s)
	_, err := s.CreateUser(context.Background(), user.User{Name: "x", Email: "JANE@test.com"})
	if !errors.Is(err, storage.ErrDuplicate) {
		t.Fatalf("expected duplicate, got %v", err)
	}
}

func TestUpdatePasswordBumpsEpoch(t *testing.T) {
	s := New()
	u, _ := seed(t, s)
	updated, err := s.UpdatePassword(context.Background(), u.ID, "new-hash")
	if err != nil {
		t.Fatalf("update password: %v", err)
	}
	if updated.TokenEpoch != u.TokenEpoch+1 || updated.PasswordHash != "new-hash" {
		t.Fatalf("unexpected user after update: %+v", updated)
	}
	if _, err := s.UpdatePassword(context.Background(), 999, "x"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestUpsertOverwrites(t *testing.T) {
	s := New()
	u, st := seed(t, s)
	ctx := context.Background()

	first, inserted, err := s.UpsertRating(ctx, rating.Rating{UserID: u.ID, StoreID: st.ID, Rating: 4, Review: "Great"})
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if !inserted {
		t.Fatal("first upsert should report an insert")
	}
	second, inserted, err := s.UpsertRating(ctx, rating.Rating{UserID: u.ID, StoreID: st.ID, Rating: 2, Review: ""})
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if inserted {
		t.Fatal("second upsert should report an overwrite")
	}
	if second.ID != first.ID || !second.CreatedAt.Equal(first.CreatedAt) {
		t.Fatalf("expected same row, got %+v vs %+v", first, second)
	}
	if second.Rating != 2 || second.Review != "" {
		t.Fatalf("expected overwrite, got %+v", second)
	}
	count, _ := s.CountRatings(ctx)
	if count != 1 {
		t.Fatalf("expected 1 rating row, got %d", count)
	}
	agg, _ := s.StoreAggregate(ctx, st.ID)
	if agg.AverageRating != 2 || agg.RatingCount != 1 {
		t.Fatalf("unexpected aggregate %+v", agg)
	}
}

func TestUpsertConcurrentSameKey(t *testing.T) {
	s := New()
	u, st := seed(t, s)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(v int) {
			defer wg.Done()
			_, _, _ = s.UpsertRating(context.Background(), rating.Rating{UserID: u.ID, StoreID: st.ID, Rating: v%5 + 1})
		}(i)
	}
	wg.Wait()

	count, _ := s.CountRatings(context.Background())
	if count != 1 {
		t.Fatalf("expected exactly one row under concurrency, got %d", count)
	}
}

func TestUpsertUnknownStore(t *testing.T) {
	s := New()
	u, _ := seed(t, s)
	_, _, err := s.UpsertRating(context.Background(), rating.Rating{UserID: u.ID, StoreID: 42, Rating: 3})
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCreateOwnedStoreOncePerOwner(t *testing.T) {
	s := New()
	ctx := context.Background()
	owner, err := s.CreateUser(ctx, user.User{Name: "Store Owner One Sample User", Email: "owner1@store.com", Role: user.RoleStoreOwner})
	if err != nil {
		t.Fatalf("create owner: %v", err)
	}
	id := owner.ID

	if _, err := s.CreateOwnedStore(ctx, store.Store{Name: "first", Email: "a@store.com", OwnerID: &id}); err != nil {
		t.Fatalf("first store: %v", err)
	}
	_, err = s.CreateOwnedStore(ctx, store.Store{Name: "second", Email: "b@store.com", OwnerID: &id})
	if !errors.Is(err, storage.ErrOwnerHasStore) {
		t.Fatalf("expected owner-has-store, got %v", err)
	}

	// the unchecked path still accepts a second store
	if _, err := s.CreateStore(ctx, store.Store{Name: "third", Email: "c@store.com", OwnerID: &id}); err != nil {
		t.Fatalf("admin path: %v", err)
	}
	got, err := s.GetStoreByOwner(ctx, id)
	if err != nil || got.Name != "first" {
		t.Fatalf("expected original store, got %+v (%v)", got, err)
	}
}

func TestListStoreReviewsNewestFirst(t *testing.T) {
	s := New()
	ctx := context.Background()
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	}
	_, st := seed(t, s)

	emails := []string{"a@x.com", "b@x.com", "c@x.com"}
	reviews := []string{"first", "", "third"}
	for i, email := range emails {
		u, err := s.CreateUser(ctx, user.User{Name: "Reviewer", Email: email, Role: user.RoleNormal})
		if err != nil {
			t.Fatalf("create user: %v", err)
		}
		if _, _, err := s.UpsertRating(ctx, rating.Rating{UserID: u.ID, StoreID: st.ID, Rating: i + 1, Review: reviews[i]}); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}

	withText, _ := s.ListStoreReviews(ctx, st.ID, true)
	if len(withText) != 2 || withText[0].Review != "third" || withText[1].Review != "first" {
		t.Fatalf("unexpected reviews %+v", withText)
	}
	all, _ := s.ListStoreReviews(ctx, st.ID, false)
	if len(all) != 3 || all[0].ReviewerEmail != "c@x.com" {
		t.Fatalf("unexpected feedback %+v", all)
	}
}

func TestListFilters(t *testing.T) {
	s := New()
	seed(t, s)
	ctx := context.Background()

	users, _ := s.ListUsers(ctx, user.Filter{Name: "customer"})
	if len(users) != 1 {
		t.Fatalf("expected name filter match, got %d", len(users))
	}
	users, _ = s.ListUsers(ctx, user.Filter{Role: user.RoleAdmin})
	if len(users) != 0 {
		t.Fatalf("expected no admins, got %d", len(users))
	}
	stores, _ := s.ListStores(ctx, store.Filter{Query: "ELECTRONICS"})
	if len(stores) != 1 {
		t.Fatalf("expected store match, got %d", len(stores))
	}
}
