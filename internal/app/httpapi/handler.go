package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	app "github.com/R3E-Network/store_rating/internal/app"
	"github.com/R3E-Network/store_rating/internal/app/authz"
	"github.com/R3E-Network/store_rating/internal/app/domain/store"
	"github.com/R3E-Network/store_rating/internal/app/domain/user"
	"github.com/R3E-Network/store_rating/internal/app/metrics"
	"github.com/R3E-Network/store_rating/internal/app/services/accounts"
	"github.com/R3E-Network/store_rating/internal/app/services/stores"
	"github.com/R3E-Network/store_rating/internal/app/system"
	"github.com/R3E-Network/store_rating/internal/errors"
	"github.com/R3E-Network/store_rating/internal/httputil"
	"github.com/R3E-Network/store_rating/internal/middleware"
	"github.com/R3E-Network/store_rating/pkg/logger"
)

// handler bundles HTTP endpoints for the application services.
type handler struct {
	app   *app.Application
	log   *logger.Logger
	auth  *middleware.AuthMiddleware
	audit *auditTrail
}

type options struct {
	log         *logger.Logger
	corsOrigins []string
	limiter     *middleware.RateLimiter
	auditMax    int
	auditPath   string
}

// Option customises the handler.
type Option func(*options)

// WithLogger sets the request and error logger.
func WithLogger(log *logger.Logger) Option {
	return func(o *options) { o.log = log }
}

// WithCORS allows the given origins; "*" allows any.
func WithCORS(origins []string) Option {
	return func(o *options) { o.corsOrigins = origins }
}

// WithRateLimiter throttles the register and login endpoints per client.
func WithRateLimiter(limiter *middleware.RateLimiter) Option {
	return func(o *options) { o.limiter = limiter }
}

// WithAuditLog keeps the newest max audited calls in memory: mutations and
// refused requests. When path is set each record is also appended to that
// file as a JSON line. The file is closed when the application stops, so the
// handler must be built before Start.
func WithAuditLog(max int, path string) Option {
	return func(o *options) {
		o.auditMax = max
		o.auditPath = path
	}
}

// NewHandler returns the router exposing the REST API under /api together
// with /healthz and /metrics.
func NewHandler(application *app.Application, opts ...Option) http.Handler {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = logger.NewDefault("httpapi")
	}

	trail := newAuditTrail(o.auditMax, o.log.Named("audit"))
	if o.auditPath != "" {
		if err := trail.mirror(o.auditPath); err != nil {
			o.log.WithError(err).WithField("path", o.auditPath).Warn("audit file disabled")
		} else if err := application.Attach(system.FuncService{
			ServiceName: "audit-log",
			StopFunc:    func(context.Context) error { return trail.Close() },
		}); err != nil {
			o.log.WithError(err).Warn("audit file will not be closed on shutdown")
		}
	}

	h := &handler{
		app:   application,
		log:   o.log,
		auth:  middleware.NewAuthMiddleware(application.Auth, o.log).OnReject(noteRejection),
		audit: trail,
	}

	router := mux.NewRouter()
	router.Use(metrics.InstrumentHandler)
	router.NotFoundHandler = http.HandlerFunc(h.notFound)
	router.MethodNotAllowedHandler = http.HandlerFunc(h.methodNotAllowed)

	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/healthz", h.healthz).Methods(http.MethodGet)

	api := router.PathPrefix("/api").Subrouter()

	var public func(http.HandlerFunc) http.Handler = func(fn http.HandlerFunc) http.Handler { return fn }
	if o.limiter != nil {
		public = func(fn http.HandlerFunc) http.Handler { return o.limiter.Handler(fn) }
	}
	api.Handle("/auth/register", public(h.register)).Methods(http.MethodPost)
	api.Handle("/auth/login", public(h.login)).Methods(http.MethodPost)
	api.Handle("/auth/password", h.protect(authz.OpUpdatePassword, h.updatePassword)).Methods(http.MethodPut)

	api.Handle("/admin/dashboard", h.protect(authz.OpAdminDashboard, h.adminDashboard)).Methods(http.MethodGet)
	api.Handle("/admin/users", h.protect(authz.OpAdminListUsers, h.adminListUsers)).Methods(http.MethodGet)
	api.Handle("/admin/users", h.protect(authz.OpAdminCreateUser, h.adminCreateUser)).Methods(http.MethodPost)
	api.Handle("/admin/stores", h.protect(authz.OpAdminListStores, h.adminListStores)).Methods(http.MethodGet)
	api.Handle("/admin/stores", h.protect(authz.OpAdminCreateStore, h.adminCreateStore)).Methods(http.MethodPost)
	api.Handle("/admin/store-owners", h.protect(authz.OpAdminListStoreOwners, h.adminListStoreOwners)).Methods(http.MethodGet)
	api.Handle("/admin/audit", h.protect(authz.OpAdminDashboard, h.adminAudit)).Methods(http.MethodGet)

	api.Handle("/stores", h.protect(authz.OpListStores, h.listStores)).Methods(http.MethodGet)
	api.Handle("/stores/{id:[0-9]+}/rating", h.protect(authz.OpSubmitRating, h.submitRating)).Methods(http.MethodPost)
	api.Handle("/stores/{id:[0-9]+}/rating", h.protect(authz.OpListStores, h.ownRating)).Methods(http.MethodGet)
	api.Handle("/stores/{id:[0-9]+}/reviews", h.protect(authz.OpViewReviews, h.storeReviews)).Methods(http.MethodGet)

	api.Handle("/store-owner/dashboard", h.protect(authz.OpViewOwnerDashboard, h.ownerDashboard)).Methods(http.MethodGet)
	api.Handle("/store-owner/store", h.protect(authz.OpCreateOwnStore, h.ownerCreateStore)).Methods(http.MethodPost)

	var root http.Handler = router
	root = middleware.NewCORSMiddleware(o.corsOrigins).Handler(root)
	root = middleware.NewTracingMiddleware(o.log).Handler(root)
	return root
}

// protect authenticates, authorises op and audits the call.
func (h *handler) protect(op authz.Operation, fn http.HandlerFunc) http.Handler {
	return h.audited(op, h.auth.Require(op, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if n := noteFrom(r.Context()); n != nil {
			n.id = identity(r)
		}
		fn(w, r)
	})))
}

func identity(r *http.Request) authz.Identity {
	id, _ := authz.FromContext(r.Context())
	return id
}

func pathID(r *http.Request) (int64, error) {
	raw := mux.Vars(r)["id"]
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.Validation("invalid store id", map[string]string{"id": "must be a positive integer"})
	}
	return id, nil
}

// nonNil keeps empty listings encoded as [] rather than null.
func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

func (h *handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if n := noteFrom(r.Context()); n != nil {
		n.err = err
	}
	httputil.WriteError(w, r, h.log, err)
}

// --- system -------------------------------------------------------------------

func (h *handler) healthz(w http.ResponseWriter, r *http.Request) {
	if err := h.app.Health(r.Context()); err != nil {
		h.log.WithError(err).Warn("health check failed")
		httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) notFound(w http.ResponseWriter, r *http.Request) {
	h.fail(w, r, errors.NotFound("route", r.URL.Path))
}

func (h *handler) methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusMethodNotAllowed, httputil.ErrorBody{Error: httputil.ErrorDetail{
		Code:    "METHOD_NOT_ALLOWED",
		Message: r.Method + " not allowed on " + r.URL.Path,
	}})
}

// --- auth ---------------------------------------------------------------------

func (h *handler) register(w http.ResponseWriter, r *http.Request) {
	var payload accounts.UserInput
	if err := httputil.DecodeJSON(w, r, &payload); err != nil {
		h.fail(w, r, err)
		return
	}
	session, err := h.app.Accounts.Register(r.Context(), payload)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, session)
}

func (h *handler) login(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := httputil.DecodeJSON(w, r, &payload); err != nil {
		h.fail(w, r, err)
		return
	}
	session, err := h.app.Accounts.Login(r.Context(), payload.Email, payload.Password)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, session)
}

func (h *handler) updatePassword(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Password string `json:"password"`
	}
	if err := httputil.DecodeJSON(w, r, &payload); err != nil {
		h.fail(w, r, err)
		return
	}
	session, err := h.app.Accounts.UpdatePassword(r.Context(), identity(r).UserID, payload.Password)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"message":    "Password updated successfully",
		"token":      session.Token,
		"expires_at": session.ExpiresAt,
	})
}

// --- admin --------------------------------------------------------------------

func (h *handler) adminDashboard(w http.ResponseWriter, r *http.Request) {
	counts, err := h.app.Ratings.Counts(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, counts)
}

func (h *handler) adminListUsers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := user.Filter{
		Name:    q.Get("name"),
		Email:   q.Get("email"),
		Address: q.Get("address"),
	}
	if raw := strings.TrimSpace(q.Get("role")); raw != "" {
		role, err := user.ParseRole(raw)
		if err != nil {
			h.fail(w, r, errors.Validation("invalid role filter", map[string]string{"role": err.Error()}))
			return
		}
		filter.Role = role
	}
	users, err := h.app.Accounts.List(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, nonNil(users))
}

func (h *handler) adminCreateUser(w http.ResponseWriter, r *http.Request) {
	var payload accounts.UserInput
	if err := httputil.DecodeJSON(w, r, &payload); err != nil {
		h.fail(w, r, err)
		return
	}
	created, err := h.app.Accounts.CreateUser(r.Context(), payload)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, created)
}

func (h *handler) adminListStores(w http.ResponseWriter, r *http.Request) {
	list, err := h.app.Stores.ListWithRatings(r.Context(), store.Filter{Query: r.URL.Query().Get("q")})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, nonNil(list))
}

func (h *handler) adminCreateStore(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		stores.StoreInput
		OwnerID ownerRef `json:"owner_id"`
	}
	if err := httputil.DecodeJSON(w, r, &payload); err != nil {
		h.fail(w, r, err)
		return
	}
	ownerID, err := payload.OwnerID.id()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	created, err := h.app.Stores.AdminCreate(r.Context(), payload.StoreInput, ownerID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, created)
}

func (h *handler) adminListStoreOwners(w http.ResponseWriter, r *http.Request) {
	owners, err := h.app.Accounts.ListStoreOwners(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	type ownerView struct {
		ID    int64  `json:"id"`
		Name  string `json:"name"`
		Email string `json:"email"`
	}
	out := make([]ownerView, 0, len(owners))
	for _, o := range owners {
		out = append(out, ownerView{ID: o.ID, Name: o.Name, Email: o.Email})
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

func (h *handler) adminAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	op := authz.Operation(strings.TrimSpace(q.Get("operation")))
	httputil.WriteJSON(w, http.StatusOK, h.audit.recent(op, limit))
}

// --- stores -------------------------------------------------------------------

func (h *handler) listStores(w http.ResponseWriter, r *http.Request) {
	list, err := h.app.Ratings.ListStoresForUser(r.Context(), identity(r).UserID, store.Filter{Query: r.URL.Query().Get("q")})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, nonNil(list))
}

func (h *handler) submitRating(w http.ResponseWriter, r *http.Request) {
	storeID, err := pathID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var payload struct {
		Rating int    `json:"rating"`
		Review string `json:"review"`
	}
	if err := httputil.DecodeJSON(w, r, &payload); err != nil {
		h.fail(w, r, err)
		return
	}
	saved, err := h.app.Ratings.Submit(r.Context(), identity(r).UserID, storeID, payload.Rating, payload.Review)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Rating submitted successfully",
		"rating":  saved,
	})
}

func (h *handler) ownRating(w http.ResponseWriter, r *http.Request) {
	storeID, err := pathID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	mine, err := h.app.Ratings.UserRating(r.Context(), identity(r).UserID, storeID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	agg, err := h.app.Ratings.Aggregate(r.Context(), storeID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"storeId":   storeID,
		"aggregate": agg,
		"rating":    mine,
	})
}

func (h *handler) storeReviews(w http.ResponseWriter, r *http.Request) {
	storeID, err := pathID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	reviews, err := h.app.Ratings.Reviews(r.Context(), storeID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, nonNil(reviews))
}

// --- store owner --------------------------------------------------------------

func (h *handler) ownerDashboard(w http.ResponseWriter, r *http.Request) {
	dash, err := h.app.Stores.OwnerDashboard(r.Context(), identity(r).UserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, dash)
}

func (h *handler) ownerCreateStore(w http.ResponseWriter, r *http.Request) {
	var payload stores.StoreInput
	if err := httputil.DecodeJSON(w, r, &payload); err != nil {
		h.fail(w, r, err)
		return
	}
	created, err := h.app.Stores.CreateForOwner(r.Context(), identity(r).UserID, payload)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, map[string]interface{}{
		"message": "Store created successfully",
		"store":   created,
	})
}

// ownerRef accepts owner_id as a JSON number or a numeric string, the form
// HTML selects submit. null and "" mean no owner.
type ownerRef struct {
	raw string
}

func (o *ownerRef) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &o.raw)
	}
	if string(data) == "null" {
		o.raw = ""
		return nil
	}
	o.raw = string(data)
	return nil
}

func (o ownerRef) id() (*int64, error) {
	raw := strings.TrimSpace(o.raw)
	if raw == "" {
		return nil, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return nil, errors.Validation("invalid store owner", map[string]string{"owner_id": "must be a positive integer"})
	}
	return &id, nil
}
