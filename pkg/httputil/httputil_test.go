package httputil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/bakeflow/bakeflow-backend/pkg/errors"
	"github.com/bakeflow/bakeflow-backend/pkg/tenant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTenantMiddleware(t *testing.T) {
	var gotTenant string
	handler := TenantMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTenant, _ = tenant.TenantID(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name       string
		path       string
		tenantID   string
		wantStatus int
		wantTenant string
	}{
		{name: "valid tenant", path: "/api/v1/production/runs", tenantID: "6f1c1f3e-3b49-4c55-9d0a-0e3f1a2b3c4d", wantStatus: http.StatusOK, wantTenant: "6f1c1f3e-3b49-4c55-9d0a-0e3f1a2b3c4d"},
		{name: "missing tenant", path: "/api/v1/production/runs", wantStatus: http.StatusForbidden},
		{name: "malformed tenant", path: "/api/v1/production/runs", tenantID: "acme", wantStatus: http.StatusForbidden},
		{name: "health needs no tenant", path: "/health", wantStatus: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotTenant = ""
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.tenantID != "" {
				req.Header.Set("X-Tenant-ID", tt.tenantID)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			assert.Equal(t, tt.wantStatus, rr.Code)
			assert.Equal(t, tt.wantTenant, gotTenant)
		})
	}
}

func TestRequestID(t *testing.T) {
	var got string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = GetRequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, "req-42", got)
	assert.Equal(t, "req-42", rr.Header().Get("X-Request-ID"))
}

func TestError(t *testing.T) {
	rr := httptest.NewRecorder()
	Error(rr, errors.Unprocessable("INSUFFICIENT_STOCK", "not enough flour").WithDetails(map[string]string{"shortage": "0.5"}))

	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	var resp Response
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "INSUFFICIENT_STOCK", resp.Error.Code)
	assert.Equal(t, "0.5", resp.Error.Details["shortage"])

	rr = httptest.NewRecorder()
	Error(rr, assert.AnError)
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Contains(t, rr.Body.String(), "INTERNAL_ERROR")
}

func TestDecodeJSON_RejectsUnknownFields(t *testing.T) {
	var v struct {
		Name string `json:"name"`
	}
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"rye","colour":"dark"}`))
	err := DecodeJSON(req, &v)

	var appErr *errors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, http.StatusBadRequest, appErr.StatusCode)
}

func TestValidate(t *testing.T) {
	type request struct {
		Kind string `validate:"required,oneof=raw_material finished_product"`
		ID   string `validate:"omitempty,uuid"`
	}

	require.NoError(t, Validate(request{Kind: "raw_material"}))

	err := Validate(request{Kind: "packaging", ID: "x"})
	var appErr *errors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "must be one of: raw_material finished_product", appErr.Details["Kind"])
	assert.Equal(t, "must be a valid UUID", appErr.Details["ID"])
}
