package httputil

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/R3E-Network/store_rating/internal/errors"
	"github.com/R3E-Network/store_rating/pkg/logger"
)

// =============================================================================
// Client Tests
// =============================================================================

func TestNewClient(t *testing.T) {
	client := NewClient(ClientConfig{
		BaseURL: "http://localhost:8080/",
		Timeout: 10 * time.Second,
	})

	if client == nil {
		t.Fatal("NewClient() returned nil")
	}
	if client.baseURL != "http://localhost:8080" {
		t.Errorf("baseURL = %s, want http://localhost:8080", client.baseURL)
	}
	if client.httpClient.Timeout != 10*time.Second {
		t.Errorf("timeout = %v, want 10s", client.httpClient.Timeout)
	}
}

func TestClientLoginStoresToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/auth/login":
			WriteJSON(w, http.StatusOK, map[string]string{"token": "tok-123"})
		case "/api/stores":
			if r.Header.Get("Authorization") != "Bearer tok-123" {
				WriteError(w, r, nil, errors.Unauthorized(""))
				return
			}
			WriteJSON(w, http.StatusOK, []string{})
		default:
			WriteError(w, r, nil, errors.NotFound("route", r.URL.Path))
		}
	}))
	defer server.Close()

	client := NewClient(ClientConfig{BaseURL: server.URL, HTTPClient: server.Client()})
	ctx := context.Background()

	if err := client.Login(ctx, "a@b.com", "Abc12345!"); err != nil {
		t.Fatalf("login: %v", err)
	}
	if client.Token() != "tok-123" {
		t.Fatalf("token = %q", client.Token())
	}

	var list []string
	if err := client.DoJSON(ctx, http.MethodGet, "/api/stores", nil, &list); err != nil {
		t.Fatalf("list: %v", err)
	}

	err := client.DoJSON(ctx, http.MethodGet, "/missing", nil, nil)
	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("expected APIError, got %T", err)
	}
	if apiErr.StatusCode != http.StatusNotFound || apiErr.Body.Error.Code != string(errors.CodeNotFound) {
		t.Fatalf("unexpected error %+v", apiErr)
	}
}

// =============================================================================
// Response helper Tests
// =============================================================================

func TestWriteErrorHidesInternalCause(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	WriteError(rec, req, logger.Discard(), context.DeadlineExceeded)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	var body ErrorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error.Message != "internal server error" || strings.Contains(rec.Body.String(), "deadline") {
		t.Fatalf("internal cause leaked: %s", rec.Body.String())
	}
}

func TestDecodeJSON(t *testing.T) {
	type payload struct {
		Name string `json:"name"`
	}
	cases := []struct {
		name string
		body string
		ok   bool
	}{
		{"valid", `{"name":"x"}`, true},
		{"empty", ``, false},
		{"unknown field", `{"nope":1}`, false},
		{"trailing", `{"name":"x"}{"name":"y"}`, false},
		{"malformed", `{"name":`, false},
		{"oversized", `{"name":"` + strings.Repeat("a", MaxBodyBytes) + `"}`, false},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tc.body))
		req.Header.Set("Content-Type", "application/json")
		var p payload
		err := DecodeJSON(httptest.NewRecorder(), req, &p)
		if tc.ok && err != nil {
			t.Errorf("%s: unexpected error %v", tc.name, err)
		}
		if !tc.ok && errors.KindOf(err) != errors.KindValidation {
			t.Errorf("%s: expected validation error, got %v", tc.name, err)
		}
	}
}
