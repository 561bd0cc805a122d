package requestid

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMiddleware_GeneratesIdWhenMissing(t *testing.T) {
	var seen string
	handler := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = FromContextOrMissing(r.Context())
	}), false)

	req := httptest.NewRequest("GET", "/api/v1/runs/abc", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.NotEmpty(t, seen)
	assert.NotEqual(t, "missing", seen)
	assert.Equal(t, seen, rec.Header().Get(HeaderKey))
}

func TestMiddleware_KeepsExistingIdUnlessReplace(t *testing.T) {
	var seen string
	handler := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = FromContextOrMissing(r.Context())
	}), false)

	req := httptest.NewRequest("GET", "/api/v1/runs/abc", nil)
	req.Header.Set(HeaderKey, "client-chosen")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "client-chosen", seen)

	replacing := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = FromContextOrMissing(r.Context())
	}), true)
	req = httptest.NewRequest("GET", "/api/v1/runs/abc", nil)
	req.Header.Set(HeaderKey, "client-chosen")
	replacing.ServeHTTP(httptest.NewRecorder(), req)
	assert.NotEqual(t, "client-chosen", seen)
}

func TestFromContextOrMissing(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	assert.Equal(t, "missing", FromContextOrMissing(req.Context()))
}
