package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInstrumentHandlerUsesRouteTemplate(t *testing.T) {
	router := mux.NewRouter()
	router.Use(InstrumentHandler)
	router.HandleFunc("/api/stores/{id}/reviews", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	for _, id := range []string{"1", "2", "3"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/stores/"+id+"/reviews", nil))
	}

	got := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/api/stores/{id}/reviews", "418"))
	if got != 3 {
		t.Fatalf("expected 3 requests under the template label, got %v", got)
	}
}

func TestDomainCounters(t *testing.T) {
	before := testutil.ToFloat64(logins.WithLabelValues("failure"))
	RecordLogin(false)
	if after := testutil.ToFloat64(logins.WithLabelValues("failure")); after != before+1 {
		t.Fatalf("expected failure counter to increase, got %v -> %v", before, after)
	}

	RecordRatingSubmission("created")
	RecordStoreCreated("owner")

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	for _, name := range []string{"store_rating_ratings_submitted_total", "store_rating_auth_logins_total", "store_rating_stores_created_total"} {
		if !strings.Contains(body, name) {
			t.Fatalf("expected %s in exposition", name)
		}
	}
}
