package authz

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/scopeguard/pkg/auth"
	"github.com/platinummonkey/scopeguard/pkg/rbac"
)

func check(t *testing.T, resolver *stubResolver, policy string, principal *auth.Principal) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	router := mux.NewRouter()
	newTestMiddleware(resolver, nil).RegisterCheckRoute(router)

	req := httptest.NewRequest(http.MethodGet, "/authorize/"+policy, nil)
	if principal != nil {
		req = req.WithContext(auth.WithPrincipal(req.Context(), principal))
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var body map[string]interface{}
	if rec.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func TestCheck(t *testing.T) {
	user := &auth.Principal{Subject: "42"}

	t.Run("granted permission reports scope", func(t *testing.T) {
		resolver := &stubResolver{scopes: map[string]rbac.Scope{"Deal:Edit": rbac.ScopeOwn}}
		rec, body := check(t, resolver, "Permission:Deal:Edit", user)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "Permission:Deal:Edit", body["policy"])
		assert.Equal(t, true, body["allowed"])
		assert.Equal(t, "Own", body["scope"])
	})

	t.Run("denied permission", func(t *testing.T) {
		rec, body := check(t, &stubResolver{}, "Permission:Deal:Delete", user)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, false, body["allowed"])
		assert.Equal(t, "None", body["scope"])
	})

	t.Run("fallback policy", func(t *testing.T) {
		rec, body := check(t, &stubResolver{}, "Authenticated", user)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, true, body["allowed"])
		assert.NotContains(t, body, "scope")
	})

	t.Run("unknown policy", func(t *testing.T) {
		rec, body := check(t, &stubResolver{}, "NoSuchPolicy", user)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, false, body["allowed"])
	})

	t.Run("errors", func(t *testing.T) {
		rec, _ := check(t, &stubResolver{}, "Permission:Deal:View", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)

		rec, _ = check(t, &stubResolver{err: errors.New("db down")}, "Permission:Deal:View", user)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)

		rec, _ = check(t, &stubResolver{}, "Broken", user)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}
