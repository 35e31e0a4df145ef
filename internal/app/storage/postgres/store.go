package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/R3E-Network/store_rating/internal/app/domain/rating"
	"github.com/R3E-Network/store_rating/internal/app/domain/store"
	"github.com/R3E-Network/store_rating/internal/app/domain/user"
	"github.com/R3E-Network/store_rating/internal/app/storage"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db *sqlx.DB
}

var _ storage.UserStore = (*Store)(nil)
var _ storage.StoreStore = (*Store)(nil)
var _ storage.RatingStore = (*Store)(nil)
var _ storage.Pinger = (*Store)(nil)

// New creates a Store using the provided database handle. The handle's
// lifecycle belongs to the caller.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type userRow struct {
	ID           int64     `db:"id"`
	Name         string    `db:"name"`
	Email        string    `db:"email"`
	PasswordHash string    `db:"password_hash"`
	Address      string    `db:"address"`
	Role         string    `db:"role"`
	TokenEpoch   int       `db:"token_epoch"`
	CreatedAt    time.Time `db:"created_at"`
}

func (r userRow) toDomain() user.User {
	return user.User{
		ID:           r.ID,
		Name:         r.Name,
		Email:        r.Email,
		PasswordHash: r.PasswordHash,
		Address:      r.Address,
		Role:         user.Role(r.Role),
		TokenEpoch:   r.TokenEpoch,
		CreatedAt:    r.CreatedAt,
	}
}

type storeRow struct {
	ID        int64         `db:"id"`
	Name      string        `db:"name"`
	Email     string        `db:"email"`
	Address   string        `db:"address"`
	OwnerID   sql.NullInt64 `db:"owner_id"`
	CreatedAt time.Time     `db:"created_at"`
}

func (r storeRow) toDomain() store.Store {
	st := store.Store{ID: r.ID, Name: r.Name, Email: r.Email, Address: r.Address, CreatedAt: r.CreatedAt}
	if r.OwnerID.Valid {
		owner := r.OwnerID.Int64
		st.OwnerID = &owner
	}
	return st
}

type ratingRow struct {
	ID        int64     `db:"id"`
	UserID    int64     `db:"user_id"`
	StoreID   int64     `db:"store_id"`
	Rating    int       `db:"rating"`
	Review    string    `db:"review"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (r ratingRow) toDomain() rating.Rating {
	return rating.Rating(r)
}

type aggregateRow struct {
	StoreID int64 `db:"store_id"`
	Sum     int   `db:"sum"`
	Count   int   `db:"count"`
}

type reviewRow struct {
	Name      string    `db:"name"`
	Email     string    `db:"email"`
	Rating    int       `db:"rating"`
	Review    string    `db:"review"`
	CreatedAt time.Time `db:"created_at"`
}

const userColumns = `id, name, email, password_hash, address, role, token_epoch, created_at`
const storeColumns = `id, name, email, address, owner_id, created_at`
const ratingColumns = `id, user_id, store_id, rating, review, created_at, updated_at`

// --- UserStore ----------------------------------------------------------------

func (s *Store) CreateUser(ctx context.Context, u user.User) (user.User, error) {
	var row userRow
	err := s.db.GetContext(ctx, &row, `
		INSERT INTO users (name, email, password_hash, address, role, token_epoch, created_at)
		VALUES ($1, $2, $3, $4, $5, 0, $6)
		RETURNING `+userColumns,
		u.Name, u.Email, u.PasswordHash, u.Address, string(u.Role), time.Now().UTC())
	if err != nil {
		return user.User{}, translate(err)
	}
	return row.toDomain(), nil
}

func (s *Store) GetUser(ctx context.Context, id int64) (user.User, error) {
	var row userRow
	if err := s.db.GetContext(ctx, &row, `SELECT `+userColumns+` FROM users WHERE id = $1`, id); err != nil {
		return user.User{}, translate(err)
	}
	return row.toDomain(), nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (user.User, error) {
	var row userRow
	if err := s.db.GetContext(ctx, &row, `SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, email); err != nil {
		return user.User{}, translate(err)
	}
	return row.toDomain(), nil
}

func (s *Store) ListUsers(ctx context.Context, filter user.Filter) ([]user.User, error) {
	var (
		clauses []string
		args    []interface{}
	)
	addLike := func(column, value string) {
		if value = strings.TrimSpace(value); value != "" {
			args = append(args, "%"+value+"%")
			clauses = append(clauses, fmt.Sprintf("%s ILIKE $%d", column, len(args)))
		}
	}
	addLike("name", filter.Name)
	addLike("email", filter.Email)
	addLike("address", filter.Address)
	if filter.Role != "" {
		args = append(args, string(filter.Role))
		clauses = append(clauses, fmt.Sprintf("role = $%d", len(args)))
	}

	query := `SELECT ` + userColumns + ` FROM users`
	if len(clauses) > 0 {
		query += ` WHERE ` + strings.Join(clauses, " AND ")
	}
	query += ` ORDER BY id`

	var rows []userRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, translate(err)
	}
	result := make([]user.User, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.toDomain())
	}
	return result, nil
}

func (s *Store) UpdatePassword(ctx context.Context, id int64, passwordHash string) (user.User, error) {
	var row userRow
	err := s.db.GetContext(ctx, &row, `
		UPDATE users
		SET password_hash = $2, token_epoch = token_epoch + 1
		WHERE id = $1
		RETURNING `+userColumns, id, passwordHash)
	if err != nil {
		return user.User{}, translate(err)
	}
	return row.toDomain(), nil
}

func (s *Store) CountUsers(ctx context.Context) (int, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM users`)
}

// --- StoreStore ---------------------------------------------------------------

func (s *Store) CreateStore(ctx context.Context, st store.Store) (store.Store, error) {
	return insertStore(ctx, s.db, st)
}

func (s *Store) CreateOwnedStore(ctx context.Context, st store.Store) (store.Store, error) {
	if st.OwnerID == nil {
		return store.Store{}, storage.ErrNotFound
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return store.Store{}, err
	}
	defer func() { _ = tx.Rollback() }()

	// Locking the owner row serialises concurrent creations for one owner.
	var ownerID int64
	if err := tx.GetContext(ctx, &ownerID, `SELECT id FROM users WHERE id = $1 FOR UPDATE`, *st.OwnerID); err != nil {
		return store.Store{}, translate(err)
	}

	var exists bool
	if err := tx.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM stores WHERE owner_id = $1)`, ownerID); err != nil {
		return store.Store{}, err
	}
	if exists {
		return store.Store{}, storage.ErrOwnerHasStore
	}

	created, err := insertStore(ctx, tx, st)
	if err != nil {
		return store.Store{}, err
	}
	if err := tx.Commit(); err != nil {
		return store.Store{}, err
	}
	return created, nil
}

func insertStore(ctx context.Context, q sqlx.QueryerContext, st store.Store) (store.Store, error) {
	var owner sql.NullInt64
	if st.OwnerID != nil {
		owner = sql.NullInt64{Int64: *st.OwnerID, Valid: true}
	}
	var row storeRow
	err := sqlx.GetContext(ctx, q, &row, `
		INSERT INTO stores (name, email, address, owner_id, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+storeColumns,
		st.Name, st.Email, st.Address, owner, time.Now().UTC())
	if err != nil {
		return store.Store{}, translate(err)
	}
	return row.toDomain(), nil
}

func (s *Store) GetStore(ctx context.Context, id int64) (store.Store, error) {
	var row storeRow
	if err := s.db.GetContext(ctx, &row, `SELECT `+storeColumns+` FROM stores WHERE id = $1`, id); err != nil {
		return store.Store{}, translate(err)
	}
	return row.toDomain(), nil
}

func (s *Store) GetStoreByOwner(ctx context.Context, ownerID int64) (store.Store, error) {
	var row storeRow
	err := s.db.GetContext(ctx, &row, `
		SELECT `+storeColumns+` FROM stores
		WHERE owner_id = $1
		ORDER BY id
		LIMIT 1`, ownerID)
	if err != nil {
		return store.Store{}, translate(err)
	}
	return row.toDomain(), nil
}

func (s *Store) ListStores(ctx context.Context, filter store.Filter) ([]store.Store, error) {
	query := `SELECT ` + storeColumns + ` FROM stores`
	var args []interface{}
	if q := strings.TrimSpace(filter.Query); q != "" {
		args = append(args, "%"+q+"%")
		query += ` WHERE name ILIKE $1 OR address ILIKE $1`
	}
	query += ` ORDER BY id`

	var rows []storeRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, translate(err)
	}
	result := make([]store.Store, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.toDomain())
	}
	return result, nil
}

func (s *Store) CountStores(ctx context.Context) (int, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM stores`)
}

// --- RatingStore --------------------------------------------------------------

// UpsertRating relies on xmax being zero only for a freshly inserted tuple.
func (s *Store) UpsertRating(ctx context.Context, r rating.Rating) (rating.Rating, bool, error) {
	var row struct {
		ratingRow
		Inserted bool `db:"inserted"`
	}
	err := s.db.GetContext(ctx, &row, `
		INSERT INTO ratings (user_id, store_id, rating, review, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (user_id, store_id) DO UPDATE
		SET rating = EXCLUDED.rating,
		    review = EXCLUDED.review,
		    updated_at = EXCLUDED.updated_at
		RETURNING `+ratingColumns+`, (xmax = 0) AS inserted`,
		r.UserID, r.StoreID, r.Rating, r.Review, time.Now().UTC())
	if err != nil {
		return rating.Rating{}, false, translate(err)
	}
	return row.toDomain(), row.Inserted, nil
}

func (s *Store) GetRating(ctx context.Context, userID, storeID int64) (rating.Rating, error) {
	var row ratingRow
	err := s.db.GetContext(ctx, &row, `
		SELECT `+ratingColumns+` FROM ratings
		WHERE user_id = $1 AND store_id = $2`, userID, storeID)
	if err != nil {
		return rating.Rating{}, translate(err)
	}
	return row.toDomain(), nil
}

func (s *Store) StoreAggregate(ctx context.Context, storeID int64) (rating.Aggregate, error) {
	var row aggregateRow
	err := s.db.GetContext(ctx, &row, `
		SELECT $1::bigint AS store_id, COALESCE(SUM(rating), 0) AS sum, COUNT(*) AS count
		FROM ratings
		WHERE store_id = $1`, storeID)
	if err != nil {
		return rating.Aggregate{}, translate(err)
	}
	return rating.NewAggregate(row.Sum, row.Count), nil
}

func (s *Store) StoreAggregates(ctx context.Context) (map[int64]rating.Aggregate, error) {
	var rows []aggregateRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT store_id, SUM(rating) AS sum, COUNT(*) AS count
		FROM ratings
		GROUP BY store_id`)
	if err != nil {
		return nil, translate(err)
	}
	result := make(map[int64]rating.Aggregate, len(rows))
	for _, row := range rows {
		result[row.StoreID] = rating.NewAggregate(row.Sum, row.Count)
	}
	return result, nil
}

func (s *Store) ListStoreReviews(ctx context.Context, storeID int64, reviewsOnly bool) ([]rating.Review, error) {
	var rows []reviewRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT u.name, u.email, r.rating, r.review, r.created_at
		FROM ratings r
		JOIN users u ON r.user_id = u.id
		WHERE r.store_id = $1 AND (NOT $2 OR btrim(r.review) <> '')
		ORDER BY r.created_at DESC, r.id DESC`, storeID, reviewsOnly)
	if err != nil {
		return nil, translate(err)
	}
	result := make([]rating.Review, 0, len(rows))
	for _, row := range rows {
		result = append(result, rating.Review{
			ReviewerName:  row.Name,
			ReviewerEmail: row.Email,
			Rating:        row.Rating,
			Review:        row.Review,
			CreatedAt:     row.CreatedAt,
		})
	}
	return result, nil
}

func (s *Store) ListUserRatings(ctx context.Context, userID int64) ([]rating.Rating, error) {
	var rows []ratingRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+ratingColumns+` FROM ratings
		WHERE user_id = $1
		ORDER BY store_id`, userID)
	if err != nil {
		return nil, translate(err)
	}
	result := make([]rating.Rating, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.toDomain())
	}
	return result, nil
}

func (s *Store) CountRatings(ctx context.Context) (int, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM ratings`)
}

func (s *Store) count(ctx context.Context, query string) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, query); err != nil {
		return 0, translate(err)
	}
	return n, nil
}

// translate maps driver errors onto the storage sentinels.
func translate(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch string(pqErr.Code) {
		case pgUniqueViolation:
			return fmt.Errorf("%w: %s", storage.ErrDuplicate, pqErr.Constraint)
		case pgForeignKeyViolation:
			return fmt.Errorf("%w: %s", storage.ErrNotFound, pqErr.Constraint)
		}
	}
	return err
}
