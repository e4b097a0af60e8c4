package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"salonpos/backend/internal/domain"
	"salonpos/backend/internal/service"
	"salonpos/backend/internal/store"
)

func TestMiddlewareSetsSecurityHeaders(t *testing.T) {
	api := newTestAPI(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	res := httptest.NewRecorder()

	api.Handler().ServeHTTP(res, req)

	assert.Equal(t, "nosniff", res.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", res.Header().Get("X-Frame-Options"))
	assert.NotEmpty(t, res.Header().Get("Referrer-Policy"))
}

func TestLoginRateLimitReturns429(t *testing.T) {
	api := newTestAPI(t)
	body, _ := json.Marshal(domain.LoginRequest{Username: "admin", Password: "wrong-pass"})

	for i := 0; i < 6; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.RemoteAddr = "127.0.0.1:5000"
		res := httptest.NewRecorder()

		api.Handler().ServeHTTP(res, req)

		if i < 5 {
			assert.Equal(t, http.StatusUnauthorized, res.Code, "attempt %d", i+1)
		} else {
			assert.Equal(t, http.StatusTooManyRequests, res.Code, "attempt %d", i+1)
		}
	}
}

func TestJSONBodyTooLargeRejected(t *testing.T) {
	api := newTestAPI(t)
	veryLong := strings.Repeat("a", (1<<20)+1024)
	body := fmt.Sprintf(`{"username":"%s","password":"x"}`, veryLong)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()
	api.Handler().ServeHTTP(res, req)

	assert.Equal(t, http.StatusBadRequest, res.Code)
}

func TestMutatingRequestsNeedCSRFToken(t *testing.T) {
	api := newTestAPI(t)
	admin := loginAs(t, api, "admin", "admin123")

	admin.csrf = ""
	res := admin.do(http.MethodPost, "/api/v1/payment-methods", namedRequest{Name: "Voucher"})
	assert.Equal(t, http.StatusForbidden, res.Code)

	admin.csrf = "not-a-token"
	res = admin.do(http.MethodPost, "/api/v1/payment-methods", namedRequest{Name: "Voucher"})
	assert.Equal(t, http.StatusForbidden, res.Code)

	admin.csrf = fetchCSRFToken(t, api)
	res = admin.do(http.MethodPost, "/api/v1/payment-methods", namedRequest{Name: "Voucher"})
	assert.Equal(t, http.StatusCreated, res.Code, res.Body.String())

	res = admin.do(http.MethodGet, "/api/v1/payment-methods", nil)
	assert.Equal(t, http.StatusOK, res.Code)
}

func TestParsePositiveLimitCaps(t *testing.T) {
	assert.Equal(t, 100, parsePositiveLimit("", 100, 500))
	assert.Equal(t, 100, parsePositiveLimit("-3", 100, 500))
	assert.Equal(t, 25, parsePositiveLimit("25", 100, 500))
	assert.Equal(t, 500, parsePositiveLimit("100000", 100, 500))
}

func TestStatusForMapsDomainErrors(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("x: %w", service.ErrForbidden), http.StatusForbidden},
		{store.ErrNotFound, http.StatusNotFound},
		{&store.ProductNotFoundError{ProductID: "p"}, http.StatusUnprocessableEntity},
		{&store.InsufficientStockError{ProductID: "p", Requested: 2, Available: 1}, http.StatusConflict},
		{fmt.Errorf("sku: %w", store.ErrConflict), http.StatusConflict},
		{store.Invalid("quantity", "must be greater than zero"), http.StatusBadRequest},
		{errors.New("connection reset"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, statusFor(tc.err), tc.err.Error())
	}
}

func TestInternalErrorsAreNotLeaked(t *testing.T) {
	res := httptest.NewRecorder()
	writeError(res, http.StatusInternalServerError, errors.New("pq: relation sales does not exist"))

	assert.Equal(t, http.StatusInternalServerError, res.Code)
	assert.NotContains(t, res.Body.String(), "relation")
	assert.Contains(t, res.Body.String(), "internal server error")
}

func fetchCSRFToken(t *testing.T, api *API) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/csrf-token", nil)
	res := httptest.NewRecorder()
	api.Handler().ServeHTTP(res, req)
	require.Equal(t, http.StatusOK, res.Code)

	var body struct {
		CSRFToken string `json:"csrf_token"`
	}
	require.NoError(t, json.NewDecoder(res.Body).Decode(&body))
	require.NotEmpty(t, body.CSRFToken)
	return body.CSRFToken
}
