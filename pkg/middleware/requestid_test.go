package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/platinummonkey/scopeguard/pkg/observability"
)

func TestRequestID(t *testing.T) {
	var seen string
	handler := RequestID(testLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = observability.GetRequestID(r.Context())
		assert.NotNil(t, observability.GetLogger(r.Context()))
	}))

	t.Run("generates an id", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))

		_, err := uuid.Parse(seen)
		assert.NoError(t, err)
		assert.Equal(t, seen, rec.Header().Get(RequestIDHeader))
	})

	t.Run("reuses a valid incoming id", func(t *testing.T) {
		incoming := uuid.New().String()
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set(RequestIDHeader, incoming)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, incoming, seen)
		assert.Equal(t, incoming, rec.Header().Get(RequestIDHeader))
	})

	t.Run("replaces a malformed id", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set(RequestIDHeader, "<script>")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.NotEqual(t, "<script>", seen)
		assert.Equal(t, seen, rec.Header().Get(RequestIDHeader))
	})
}
