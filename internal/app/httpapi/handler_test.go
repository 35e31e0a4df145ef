package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"golang.org/x/crypto/bcrypt"

	app "github.com/R3E-Network/store_rating/internal/app"
	"github.com/R3E-Network/store_rating/internal/app/services/accounts"
	"github.com/R3E-Network/store_rating/internal/httputil"
	"github.com/R3E-Network/store_rating/internal/middleware"
	"github.com/R3E-Network/store_rating/pkg/logger"
)

const (
	adminEmail    = "admin@ratings.test"
	adminPassword = "Admin123!"
)

type fixture struct {
	t      *testing.T
	srv    *httptest.Server
	app    *app.Application
	admin  string
	client *httputil.Client
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	application, err := app.New(app.Stores{}, app.Options{
		JWTSecret:  []byte("handler-test-secret-with-32-bytes"),
		BcryptCost: bcrypt.MinCost,
	}, logger.Discard())
	require.NoError(t, err)

	_, err = application.Accounts.CreateUser(context.Background(), accounts.UserInput{
		Name:     "System Administrator Account",
		Email:    adminEmail,
		Password: adminPassword,
		Address:  "1 Admin Way",
		Role:     "admin",
	})
	require.NoError(t, err)

	opts = append([]Option{WithLogger(logger.Discard())}, opts...)
	srv := httptest.NewServer(NewHandler(application, opts...))
	t.Cleanup(srv.Close)
	require.NoError(t, application.Start(context.Background()))
	t.Cleanup(func() { _ = application.Stop(context.Background()) })

	f := &fixture{
		t:      t,
		srv:    srv,
		app:    application,
		client: httputil.NewClient(httputil.ClientConfig{BaseURL: srv.URL}),
	}
	require.NoError(t, f.client.Login(context.Background(), adminEmail, adminPassword))
	f.admin = f.client.Token()
	return f
}

// call issues a request and returns the status and raw body.
func (f *fixture) call(method, path, token string, body interface{}) (int, string) {
	f.t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(f.t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, f.srv.URL+path, reader)
	require.NoError(f.t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(f.t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(f.t, err)
	return resp.StatusCode, string(data)
}

func (f *fixture) register(name, email, role string) string {
	f.t.Helper()
	status, body := f.call(http.MethodPost, "/api/auth/register", "", map[string]string{
		"name":     name,
		"email":    email,
		"password": "Abc12345!",
		"address":  "42 Test Street",
		"role":     role,
	})
	require.Equal(f.t, http.StatusCreated, status, body)
	return gjson.Get(body, "token").String()
}

func (f *fixture) createStore(name, email string) int64 {
	f.t.Helper()
	status, body := f.call(http.MethodPost, "/api/admin/stores", f.admin, map[string]string{
		"name":    name,
		"email":   email,
		"address": "7 Market Square",
	})
	require.Equal(f.t, http.StatusCreated, status, body)
	return gjson.Get(body, "id").Int()
}

func storePath(id int64, suffix string) string {
	return "/api/stores/" + strconv.FormatInt(id, 10) + suffix
}

func TestRatingOverwriteFlow(t *testing.T) {
	f := newFixture(t)
	storeID := f.createStore("Corner Coffee Roasters", "coffee@shop.test")

	status, body := f.call(http.MethodPost, "/api/auth/register", "", map[string]string{
		"name":     "Jane Doe The Regular Customer",
		"email":    "Jane@Example.com",
		"password": "Abc12345!",
		"address":  "12 Elm Street",
	})
	require.Equal(t, http.StatusCreated, status, body)
	assert.Equal(t, "normal", gjson.Get(body, "user.role").String())
	assert.Equal(t, "jane@example.com", gjson.Get(body, "user.email").String())
	assert.False(t, gjson.Get(body, "user.password_hash").Exists())
	jane := gjson.Get(body, "token").String()
	require.NotEmpty(t, jane)

	status, body = f.call(http.MethodPost, storePath(storeID, "/rating"), jane, map[string]interface{}{"rating": 4, "review": "Great"})
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "Rating submitted successfully", gjson.Get(body, "message").String())

	status, body = f.call(http.MethodPost, storePath(storeID, "/rating"), jane, map[string]interface{}{"rating": 2, "review": ""})
	require.Equal(t, http.StatusOK, status, body)
	assert.EqualValues(t, 2, gjson.Get(body, "rating.rating").Int())

	status, body = f.call(http.MethodGet, storePath(storeID, "/rating"), jane, nil)
	require.Equal(t, http.StatusOK, status, body)
	assert.EqualValues(t, 1, gjson.Get(body, "aggregate.ratingCount").Int())
	assert.Equal(t, "2.00", gjson.Get(body, "aggregate.averageRatingDisplay").String())
	assert.EqualValues(t, 2, gjson.Get(body, "rating.rating").Int())

	status, body = f.call(http.MethodGet, "/api/stores", jane, nil)
	require.Equal(t, http.StatusOK, status, body)
	assert.EqualValues(t, 2, gjson.Get(body, "0.user_rating").Int())
	assert.EqualValues(t, 1, gjson.Get(body, "0.total_ratings").Int())

	status, body = f.call(http.MethodGet, "/api/admin/dashboard", f.admin, nil)
	require.Equal(t, http.StatusOK, status, body)
	assert.EqualValues(t, 1, gjson.Get(body, "totalRatings").Int())
	assert.EqualValues(t, 1, gjson.Get(body, "totalStores").Int())
	assert.EqualValues(t, 2, gjson.Get(body, "totalUsers").Int())
}

func TestRatingValidation(t *testing.T) {
	f := newFixture(t)
	storeID := f.createStore("Validation Test Bakery", "bakery@shop.test")
	jane := f.register("Jane Doe The Regular Customer", "jane@example.com", "")

	status, body := f.call(http.MethodPost, storePath(storeID, "/rating"), jane, map[string]interface{}{"rating": 6})
	assert.Equal(t, http.StatusBadRequest, status, body)
	assert.Equal(t, "VALIDATION_FAILED", gjson.Get(body, "error.code").String())

	status, _ = f.call(http.MethodPost, storePath(9999, "/rating"), jane, map[string]interface{}{"rating": 3})
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = f.call(http.MethodPost, storePath(storeID, "/rating"), f.admin, map[string]interface{}{"rating": 3})
	assert.Equal(t, http.StatusForbidden, status)

	status, body = f.call(http.MethodGet, storePath(storeID, "/rating"), jane, nil)
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 0, gjson.Get(body, "aggregate.ratingCount").Int())
	assert.Equal(t, "0.00", gjson.Get(body, "aggregate.averageRatingDisplay").String())
	assert.Equal(t, gjson.Null, gjson.Get(body, "rating").Type)
}

func TestAdminRoutesRejectOtherRoles(t *testing.T) {
	f := newFixture(t)
	jane := f.register("Jane Doe The Regular Customer", "jane@example.com", "normal")

	status, body := f.call(http.MethodGet, "/api/admin/users", jane, nil)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "FORBIDDEN", gjson.Get(body, "error.code").String())

	status, _ = f.call(http.MethodPost, "/api/admin/users", jane, map[string]string{
		"name":     "Sneaky Escalated Administrator",
		"email":    "sneaky@example.com",
		"password": "Abc12345!",
		"address":  "Nowhere",
		"role":     "admin",
	})
	assert.Equal(t, http.StatusForbidden, status)

	status, body = f.call(http.MethodGet, "/api/admin/users?email=sneaky", f.admin, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, gjson.Parse(body).Array(), 0)

	status, _ = f.call(http.MethodGet, "/api/admin/users", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, body = f.call(http.MethodGet, "/api/admin/users?role=normal", f.admin, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, gjson.Parse(body).Array(), 1)

	status, _ = f.call(http.MethodGet, "/api/admin/users?role=superuser", f.admin, nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestRegisterRejectsAdminRole(t *testing.T) {
	f := newFixture(t)
	status, body := f.call(http.MethodPost, "/api/auth/register", "", map[string]string{
		"name":     "Self Promoted Administrator",
		"email":    "self@example.com",
		"password": "Abc12345!",
		"address":  "Somewhere",
		"role":     "admin",
	})
	assert.Equal(t, http.StatusBadRequest, status, body)
}

func TestLoginErrorsAreIdentical(t *testing.T) {
	f := newFixture(t)
	f.register("Jane Doe The Regular Customer", "jane@example.com", "")

	ctx := context.Background()
	anon := httputil.NewClient(httputil.ClientConfig{BaseURL: f.srv.URL})

	wrongPassword := anon.Login(ctx, "jane@example.com", "Wrong123!")
	unknownEmail := anon.Login(ctx, "nobody@example.com", "Abc12345!")

	var a, b *httputil.APIError
	require.True(t, stderrors.As(wrongPassword, &a))
	require.True(t, stderrors.As(unknownEmail, &b))
	assert.Equal(t, http.StatusUnauthorized, a.StatusCode)
	assert.Equal(t, a.StatusCode, b.StatusCode)
	assert.Equal(t, a.Body, b.Body)
	assert.Empty(t, anon.Token())

	require.NoError(t, anon.Login(ctx, " JANE@example.com ", "Abc12345!"))
	assert.NotEmpty(t, anon.Token())
}

func TestPasswordChangeRevokesOldToken(t *testing.T) {
	f := newFixture(t)
	old := f.register("Jane Doe The Regular Customer", "jane@example.com", "")

	status, body := f.call(http.MethodPut, "/api/auth/password", old, map[string]string{"password": "weak"})
	require.Equal(t, http.StatusBadRequest, status, body)

	status, body = f.call(http.MethodPut, "/api/auth/password", old, map[string]string{"password": "Newpass1!"})
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "Password updated successfully", gjson.Get(body, "message").String())
	fresh := gjson.Get(body, "token").String()
	require.NotEmpty(t, fresh)

	status, body = f.call(http.MethodGet, "/api/stores", old, nil)
	assert.Equal(t, http.StatusUnauthorized, status, body)

	status, _ = f.call(http.MethodGet, "/api/stores", fresh, nil)
	assert.Equal(t, http.StatusOK, status)

	status, _ = f.call(http.MethodPost, "/api/auth/login", "", map[string]string{"email": "jane@example.com", "password": "Abc12345!"})
	assert.Equal(t, http.StatusUnauthorized, status)
	status, _ = f.call(http.MethodPost, "/api/auth/login", "", map[string]string{"email": "jane@example.com", "password": "Newpass1!"})
	assert.Equal(t, http.StatusOK, status)
}

func TestOwnerSingleStore(t *testing.T) {
	f := newFixture(t)
	owner := f.register("Olivia Owner Of The Bookshop", "olivia@example.com", "store_owner")

	status, body := f.call(http.MethodGet, "/api/store-owner/dashboard", owner, nil)
	require.Equal(t, http.StatusOK, status, body)
	assert.False(t, gjson.Get(body, "hasStore").Bool())

	status, body = f.call(http.MethodPost, "/api/store-owner/store", owner, map[string]string{
		"name":    "Olivia's Bookshop Corner",
		"email":   "books@shop.test",
		"address": "3 Library Lane",
	})
	require.Equal(t, http.StatusCreated, status, body)
	storeID := gjson.Get(body, "store.id").Int()

	status, body = f.call(http.MethodPost, "/api/store-owner/store", owner, map[string]string{
		"name":    "Olivia's Second Bookshop",
		"email":   "books2@shop.test",
		"address": "4 Library Lane",
	})
	assert.Equal(t, http.StatusConflict, status, body)

	jane := f.register("Jane Doe The Regular Customer", "jane@example.com", "")
	status, _ = f.call(http.MethodPost, storePath(storeID, "/rating"), jane, map[string]interface{}{"rating": 5, "review": "Lovely"})
	require.Equal(t, http.StatusOK, status)

	status, body = f.call(http.MethodGet, "/api/store-owner/dashboard", owner, nil)
	require.Equal(t, http.StatusOK, status, body)
	assert.True(t, gjson.Get(body, "hasStore").Bool())
	assert.Equal(t, "books@shop.test", gjson.Get(body, "store.email").String())
	assert.Equal(t, "5.00", gjson.Get(body, "averageRatingDisplay").String())
	assert.Equal(t, "Lovely", gjson.Get(body, "ratings.0.review").String())

	status, body = f.call(http.MethodGet, storePath(storeID, "/reviews"), jane, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Jane Doe The Regular Customer", gjson.Get(body, "0.name").String())

	status, _ = f.call(http.MethodGet, "/api/store-owner/dashboard", jane, nil)
	assert.Equal(t, http.StatusForbidden, status)
}

func TestAdminCreateStoreOwnerChecks(t *testing.T) {
	f := newFixture(t)
	f.register("Jane Doe The Regular Customer", "jane@example.com", "")

	status, body := f.call(http.MethodGet, "/api/admin/users?email=jane", f.admin, nil)
	require.Equal(t, http.StatusOK, status)
	janeID := gjson.Get(body, "0.id").Int()

	status, body = f.call(http.MethodPost, "/api/admin/stores", f.admin, map[string]interface{}{
		"name":     "Misassigned Hardware Store",
		"email":    "hardware@shop.test",
		"address":  "9 Tool Road",
		"owner_id": janeID,
	})
	assert.Equal(t, http.StatusBadRequest, status, body)

	status, _ = f.call(http.MethodPost, "/api/admin/stores", f.admin, map[string]interface{}{
		"name":     "Orphaned Hardware Store",
		"email":    "hardware@shop.test",
		"address":  "9 Tool Road",
		"owner_id": 424242,
	})
	assert.Equal(t, http.StatusNotFound, status)

	f.createStore("Duplicate Email Hardware", "dup@shop.test")
	status, body = f.call(http.MethodPost, "/api/admin/stores", f.admin, map[string]string{
		"name":    "Duplicate Email Hardware",
		"email":   "dup@shop.test",
		"address": "9 Tool Road",
	})
	assert.Equal(t, http.StatusConflict, status, body)

	status, body = f.call(http.MethodGet, "/api/admin/stores?q=hardware", f.admin, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, gjson.Parse(body).Array(), 1)
}

func TestDecodeRejectsUnknownFields(t *testing.T) {
	f := newFixture(t)
	status, body := f.call(http.MethodPost, "/api/auth/login", "", map[string]string{
		"email":    adminEmail,
		"password": adminPassword,
		"role":     "admin",
	})
	assert.Equal(t, http.StatusBadRequest, status, body)
}

func TestAuditLogRecordsMutations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	f := newFixture(t, WithAuditLog(10, path))
	storeID := f.createStore("Audited Pizza Place Downtown", "pizza@shop.test")
	jane := f.register("Jane Doe The Regular Customer", "jane@example.com", "")
	status, _ := f.call(http.MethodPost, storePath(storeID, "/rating"), jane, map[string]interface{}{"rating": 3})
	require.Equal(t, http.StatusOK, status)

	status, body := f.call(http.MethodGet, "/api/admin/audit", f.admin, nil)
	require.Equal(t, http.StatusOK, status, body)
	entries := gjson.Parse(body).Array()
	require.Len(t, entries, 2)
	assert.Equal(t, "admin_create_store", entries[0].Get("operation").String())
	assert.Equal(t, "submit_rating", entries[1].Get("operation").String())
	assert.EqualValues(t, http.StatusOK, entries[1].Get("status").Int())
	assert.Equal(t, "ok", entries[1].Get("outcome").String())
	assert.Equal(t, "normal", entries[1].Get("role").String())

	status, body = f.call(http.MethodGet, "/api/admin/audit?limit=1", f.admin, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, gjson.Parse(body).Array(), 1)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, bytes.Count(data, []byte("\n")))
}

func TestAuditLogRecordsRejectedCalls(t *testing.T) {
	f := newFixture(t, WithAuditLog(10, ""))
	jane := f.register("Jane Doe The Regular Customer", "jane@example.com", "")

	status, _ := f.call(http.MethodGet, "/api/admin/users", jane, nil)
	require.Equal(t, http.StatusForbidden, status)
	status, _ = f.call(http.MethodGet, "/api/stores", "", nil)
	require.Equal(t, http.StatusUnauthorized, status)
	status, _ = f.call(http.MethodPost, storePath(1, "/rating"), jane, map[string]interface{}{"rating": 9})
	require.Equal(t, http.StatusBadRequest, status)
	status, _ = f.call(http.MethodGet, "/api/stores", jane, nil)
	require.Equal(t, http.StatusOK, status)

	status, body := f.call(http.MethodGet, "/api/admin/audit", f.admin, nil)
	require.Equal(t, http.StatusOK, status, body)
	entries := gjson.Parse(body).Array()
	require.Len(t, entries, 3, body)

	assert.Equal(t, "admin_list_users", entries[0].Get("operation").String())
	assert.Equal(t, "authorization", entries[0].Get("outcome").String())
	assert.EqualValues(t, http.StatusForbidden, entries[0].Get("status").Int())
	assert.Equal(t, "normal", entries[0].Get("role").String())
	assert.NotZero(t, entries[0].Get("user_id").Int())

	assert.Equal(t, "list_stores", entries[1].Get("operation").String())
	assert.Equal(t, "authentication", entries[1].Get("outcome").String())
	assert.False(t, entries[1].Get("user_id").Exists())

	assert.Equal(t, "submit_rating", entries[2].Get("operation").String())
	assert.Equal(t, "validation", entries[2].Get("outcome").String())

	status, body = f.call(http.MethodGet, "/api/admin/audit?operation=list_stores", f.admin, nil)
	require.Equal(t, http.StatusOK, status)
	filtered := gjson.Parse(body).Array()
	require.Len(t, filtered, 1)
	assert.Equal(t, "authentication", filtered[0].Get("outcome").String())
}

func TestAdminCreateStoreAcceptsStringOwnerID(t *testing.T) {
	f := newFixture(t)
	f.register("Olivia Owner The Bookseller", "olivia@shop.test", "store_owner")

	status, body := f.call(http.MethodGet, "/api/admin/users?email=olivia", f.admin, nil)
	require.Equal(t, http.StatusOK, status)
	ownerID := gjson.Get(body, "0.id").Int()
	require.NotZero(t, ownerID)

	status, body = f.call(http.MethodPost, "/api/admin/stores", f.admin, map[string]string{
		"name":     "Olivia's Corner Bookshop",
		"email":    "corner@shop.test",
		"address":  "4 Library Lane",
		"owner_id": strconv.FormatInt(ownerID, 10),
	})
	require.Equal(t, http.StatusCreated, status, body)
	assert.Equal(t, ownerID, gjson.Get(body, "owner_id").Int())

	status, body = f.call(http.MethodPost, "/api/admin/stores", f.admin, map[string]string{
		"name":     "Unowned Corner Hardware Shop",
		"email":    "unowned@shop.test",
		"address":  "5 Library Lane",
		"owner_id": "",
	})
	require.Equal(t, http.StatusCreated, status, body)
	assert.Equal(t, gjson.Null, gjson.Get(body, "owner_id").Type)

	status, body = f.call(http.MethodPost, "/api/admin/stores", f.admin, map[string]string{
		"name":     "Typo Owner Hardware Store",
		"email":    "typo@shop.test",
		"address":  "6 Library Lane",
		"owner_id": "two",
	})
	assert.Equal(t, http.StatusBadRequest, status, body)
	assert.True(t, gjson.Get(body, "error.details.fields.owner_id").Exists(), body)
}

func TestSystemEndpoints(t *testing.T) {
	f := newFixture(t)

	status, body := f.call(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", gjson.Get(body, "status").String())

	status, body = f.call(http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "store_rating_http_requests_total")

	status, body = f.call(http.MethodGet, "/api/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "NOT_FOUND", gjson.Get(body, "error.code").String())
}

func TestAuthRateLimit(t *testing.T) {
	f := newFixture(t, WithRateLimiter(middleware.NewRateLimiter(0.001, 1, logger.Discard())))
	creds := map[string]string{"email": "nobody@example.com", "password": "Abc12345!"}

	// The fixture's admin login spent the only token.
	status, _ := f.call(http.MethodPost, "/api/auth/login", "", creds)
	assert.Equal(t, http.StatusTooManyRequests, status)
}
