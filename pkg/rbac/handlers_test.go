package rbac

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/scopeguard/pkg/auth"
)

type handlerFixture struct {
	*managerFixture
	router *mux.Router
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()
	f := newManagerFixture(t)
	router := mux.NewRouter()
	f.manager.RegisterRoutes(router, nil)
	return &handlerFixture{managerFixture: f, router: router}
}

// do sends a request as userID; userID 0 sends it unauthenticated
func (f *handlerFixture) do(t *testing.T, method, path string, userID int64, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if userID != 0 {
		req = req.WithContext(auth.WithPrincipal(req.Context(), &auth.Principal{Subject: fmt.Sprint(userID)}))
	}

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dest interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), dest), rec.Body.String())
}

func errorMessage(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	decodeBody(t, rec, &body)
	return body["error"]
}

func TestHandlers_MyPermissions(t *testing.T) {
	f := newHandlerFixture(t)
	store := f.manager.Store()
	ctx := context.Background()

	user := createUser(t, f.db, 1)
	roleA := createRole(t, store, 1, "RoleA", grant(EntityDeal, OperationEdit, ScopeOwn))
	roleB := createRole(t, store, 1, "RoleB", grant(EntityDeal, OperationEdit, ScopeTeam))
	require.NoError(t, store.AssignRoleToUser(ctx, user, roleA.ID))
	createTeam(t, store, 1, "T", &roleB.ID, user)
	require.NoError(t, store.UpsertRoleFieldPermission(ctx, RoleFieldPermission{RoleID: roleA.ID, EntityType: EntityDeal, FieldName: "amount", AccessLevel: AccessReadOnly}))

	t.Run("matrix", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/permissions/me", user, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var body struct {
			UserID      int64                        `json:"user_id"`
			Permissions map[string]map[string]string `json:"permissions"`
		}
		decodeBody(t, rec, &body)
		assert.Equal(t, user, body.UserID)
		assert.Len(t, body.Permissions, len(AllEntityTypes()))
		assert.Equal(t, "Team", body.Permissions["Deal"]["Edit"])
		assert.Equal(t, "None", body.Permissions["Deal"]["Delete"])
		assert.Equal(t, "None", body.Permissions["Product"]["View"])
	})

	t.Run("single permission", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/permissions/me/deal/edit", user, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var body map[string]interface{}
		decodeBody(t, rec, &body)
		assert.Equal(t, "Deal", body["entity_type"])
		assert.Equal(t, "Edit", body["operation"])
		assert.Equal(t, "Team", body["scope"])
		assert.Equal(t, true, body["allowed"])
	})

	t.Run("unknown pair is none", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/permissions/me/Spaceship/Launch", user, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var body map[string]interface{}
		decodeBody(t, rec, &body)
		assert.Equal(t, "None", body["scope"])
		assert.Equal(t, false, body["allowed"])
	})

	t.Run("field access", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/permissions/me/fields/Deal/amount", user, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var body map[string]string
		decodeBody(t, rec, &body)
		assert.Equal(t, "ReadOnly", body["access_level"])

		rec = f.do(t, http.MethodGet, "/permissions/me/fields/Deal/stage", user, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		decodeBody(t, rec, &body)
		assert.Equal(t, "Editable", body["access_level"])
	})

	t.Run("unauthenticated", func(t *testing.T) {
		for _, path := range []string{"/permissions/me", "/permissions/me/Deal/View", "/permissions/me/fields/Deal/amount"} {
			rec := f.do(t, http.MethodGet, path, 0, nil)
			assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
			assert.Equal(t, "authentication required", errorMessage(t, rec))
		}
	})
}

func TestHandlers_RoleLifecycle(t *testing.T) {
	f := newHandlerFixture(t)
	admin := createUser(t, f.db, 1)
	user := createUser(t, f.db, 1)

	rec := f.do(t, http.MethodPost, "/tenants/1/roles", admin, map[string]interface{}{
		"name":        "Support",
		"description": "Handles requests",
		"permissions": []map[string]string{
			{"entity_type": "Request", "operation": "Edit", "scope": "Team"},
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var role Role
	decodeBody(t, rec, &role)
	assert.Equal(t, "Support", role.Name)
	assert.Equal(t, int64(1), role.TenantID)

	rec = f.do(t, http.MethodGet, "/tenants/1/roles", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var roles []Role
	decodeBody(t, rec, &roles)
	assert.Len(t, roles, 1)

	rec = f.do(t, http.MethodPut, fmt.Sprintf("/tenants/1/roles/%d/permissions", role.ID), admin, map[string]interface{}{
		"permissions": []map[string]string{
			{"entity_type": "Deal", "operation": "View", "scope": "All"},
		},
	})
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodGet, fmt.Sprintf("/tenants/1/roles/%d/permissions", role.ID), admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var perms []RolePermission
	decodeBody(t, rec, &perms)
	assert.Len(t, perms, 2)

	rec = f.do(t, http.MethodPut, fmt.Sprintf("/tenants/1/roles/%d/fields", role.ID), admin, map[string]interface{}{
		"fields": []map[string]string{
			{"entity_type": "Deal", "field_name": "amount", "access_level": "Hidden"},
		},
	})
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodPost, fmt.Sprintf("/tenants/1/users/%d/roles", user), admin, map[string]int64{"role_id": role.ID})
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodGet, fmt.Sprintf("/tenants/1/users/%d/permissions", user), admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var matrix struct {
		Permissions map[string]map[string]string `json:"permissions"`
	}
	decodeBody(t, rec, &matrix)
	assert.Equal(t, "All", matrix.Permissions["Deal"]["View"])
	assert.Equal(t, "Team", matrix.Permissions["Request"]["Edit"])

	rec = f.do(t, http.MethodDelete, fmt.Sprintf("/tenants/1/roles/%d", role.ID), admin, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "role is still assigned", errorMessage(t, rec))

	rec = f.do(t, http.MethodDelete, fmt.Sprintf("/tenants/1/users/%d/roles/%d", user, role.ID), admin, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodDelete, fmt.Sprintf("/tenants/1/roles/%d", role.ID), admin, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodDelete, fmt.Sprintf("/tenants/1/roles/%d", role.ID), admin, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlers_SystemRoleCannotBeDeleted(t *testing.T) {
	f := newHandlerFixture(t)
	admin := createUser(t, f.db, 1)

	_, err := f.manager.Seeder().SeedTenant(context.Background(), 1)
	require.NoError(t, err)
	roles, err := f.manager.Store().ListTemplateRoles(context.Background(), 1)
	require.NoError(t, err)

	rec := f.do(t, http.MethodDelete, fmt.Sprintf("/tenants/1/roles/%d", roles[0].ID), admin, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "system roles cannot be deleted", errorMessage(t, rec))
}

func TestHandlers_Teams(t *testing.T) {
	f := newHandlerFixture(t)
	admin := createUser(t, f.db, 1)
	member := createUser(t, f.db, 1)
	role := createRole(t, f.manager.Store(), 1, "Manager", grant(EntityCompany, OperationView, ScopeAll))

	rec := f.do(t, http.MethodPost, "/tenants/1/teams", admin, map[string]interface{}{"name": "East"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var team Team
	decodeBody(t, rec, &team)

	rec = f.do(t, http.MethodPost, fmt.Sprintf("/tenants/1/teams/%d/members", team.ID), admin, map[string]int64{"user_id": member})
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodPut, fmt.Sprintf("/tenants/1/teams/%d/default-role", team.ID), admin, map[string]int64{"role_id": role.ID})
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/permissions/me/Company/View", member, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var perm map[string]interface{}
	decodeBody(t, rec, &perm)
	assert.Equal(t, "All", perm["scope"])

	rec = f.do(t, http.MethodPut, fmt.Sprintf("/tenants/1/teams/%d/default-role", team.ID), admin, `{"role_id": null}`)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/permissions/me/Company/View", member, nil)
	decodeBody(t, rec, &perm)
	assert.Equal(t, "None", perm["scope"])

	rec = f.do(t, http.MethodDelete, fmt.Sprintf("/tenants/1/teams/%d/members/%d", team.ID, member), admin, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodPost, "/tenants/1/teams", admin, map[string]interface{}{"name": "East"})
	assert.NotEqual(t, http.StatusCreated, rec.Code, "duplicate team name")
}

func TestHandlers_Validation(t *testing.T) {
	f := newHandlerFixture(t)
	admin := createUser(t, f.db, 1)
	role := createRole(t, f.manager.Store(), 1, "Rep")

	tests := []struct {
		name   string
		method string
		path   string
		body   interface{}
		want   string
	}{
		{
			name:   "missing role name",
			method: http.MethodPost,
			path:   "/tenants/1/roles",
			body:   map[string]interface{}{"description": "x"},
			want:   "Name",
		},
		{
			name:   "bad scope",
			method: http.MethodPut,
			path:   fmt.Sprintf("/tenants/1/roles/%d/permissions", role.ID),
			body: map[string]interface{}{"permissions": []map[string]string{
				{"entity_type": "Deal", "operation": "View", "scope": "Everything"},
			}},
			want: "Scope",
		},
		{
			name:   "unknown entity",
			method: http.MethodPut,
			path:   fmt.Sprintf("/tenants/1/roles/%d/permissions", role.ID),
			body: map[string]interface{}{"permissions": []map[string]string{
				{"entity_type": "Widget", "operation": "View", "scope": "All"},
			}},
			want: "unknown entity type",
		},
		{
			name:   "unknown operation",
			method: http.MethodPut,
			path:   fmt.Sprintf("/tenants/1/roles/%d/permissions", role.ID),
			body: map[string]interface{}{"permissions": []map[string]string{
				{"entity_type": "Deal", "operation": "Frob", "scope": "All"},
			}},
			want: "unknown operation",
		},
		{
			name:   "empty permissions",
			method: http.MethodPut,
			path:   fmt.Sprintf("/tenants/1/roles/%d/permissions", role.ID),
			body:   map[string]interface{}{"permissions": []map[string]string{}},
			want:   "Permissions",
		},
		{
			name:   "bad access level",
			method: http.MethodPut,
			path:   fmt.Sprintf("/tenants/1/roles/%d/fields", role.ID),
			body: map[string]interface{}{"fields": []map[string]string{
				{"entity_type": "Deal", "field_name": "amount", "access_level": "Secret"},
			}},
			want: "AccessLevel",
		},
		{
			name:   "zero role id",
			method: http.MethodPost,
			path:   fmt.Sprintf("/tenants/1/users/%d/roles", admin),
			body:   map[string]int64{"role_id": 0},
			want:   "RoleID",
		},
		{
			name:   "unknown field",
			method: http.MethodPost,
			path:   "/tenants/1/teams",
			body:   map[string]interface{}{"name": "T", "color": "blue"},
			want:   "color",
		},
		{
			name:   "malformed json",
			method: http.MethodPost,
			path:   "/tenants/1/teams",
			body:   `{"name":`,
		},
		{
			name:   "non-numeric id",
			method: http.MethodDelete,
			path:   "/tenants/1/roles/abc",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, tt.method, tt.path, admin, tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			if tt.want != "" {
				assert.Contains(t, errorMessage(t, rec), tt.want)
			}
		})
	}
}

func TestHandlers_CrossTenantIsNotFound(t *testing.T) {
	f := newHandlerFixture(t)
	admin := createUser(t, f.db, 1)
	foreignUser := createUser(t, f.db, 2)
	foreignRole := createRole(t, f.manager.Store(), 2, "Theirs")

	paths := []struct {
		method string
		path   string
		body   interface{}
	}{
		{http.MethodGet, fmt.Sprintf("/tenants/1/roles/%d/permissions", foreignRole.ID), nil},
		{http.MethodDelete, fmt.Sprintf("/tenants/1/roles/%d", foreignRole.ID), nil},
		{http.MethodGet, fmt.Sprintf("/tenants/1/users/%d/permissions", foreignUser), nil},
		{http.MethodPost, fmt.Sprintf("/tenants/1/users/%d/permissions/invalidate", foreignUser), nil},
		{http.MethodPost, fmt.Sprintf("/tenants/1/users/%d/roles", admin), map[string]int64{"role_id": foreignRole.ID}},
	}

	for _, p := range paths {
		rec := f.do(t, p.method, p.path, admin, p.body)
		assert.Equal(t, http.StatusNotFound, rec.Code, "%s %s", p.method, p.path)
		assert.Equal(t, "not found", errorMessage(t, rec))
	}
}

func TestHandlers_InvalidateUserPermissions(t *testing.T) {
	f := newHandlerFixture(t)
	admin := createUser(t, f.db, 1)
	user := createUser(t, f.db, 1)

	rec := f.do(t, http.MethodPost, fmt.Sprintf("/tenants/1/users/%d/permissions/invalidate", user), admin, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []int64{user}, f.cache.take())

	f.cache.failFor[user] = true
	rec = f.do(t, http.MethodPost, fmt.Sprintf("/tenants/1/users/%d/permissions/invalidate", user), admin, nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.True(t, strings.HasPrefix(errorMessage(t, rec), "change saved"))
}

func TestHandlers_AdminMiddlewareGuardsTenantRoutes(t *testing.T) {
	f := newManagerFixture(t)
	router := mux.NewRouter()
	deny := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
		})
	}
	f.manager.RegisterRoutes(router, deny)
	hf := &handlerFixture{managerFixture: f, router: router}
	user := createUser(t, f.db, 1)

	rec := hf.do(t, http.MethodGet, "/tenants/1/roles", user, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = hf.do(t, http.MethodPost, "/tenants/1/roles", user, map[string]string{"name": "x"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Zero(t, countRows(t, f.db, `SELECT COUNT(*) FROM roles`))

	rec = hf.do(t, http.MethodGet, "/permissions/me", user, nil)
	assert.Equal(t, http.StatusOK, rec.Code, "self-service reads are not admin routes")
}

func TestNewPermissionMatrix(t *testing.T) {
	matrix := NewPermissionMatrix([]EffectivePermission{
		{EntityType: EntityDeal, Operation: OperationView, Scope: ScopeOwn},
	})

	assert.Len(t, matrix, len(AllEntityTypes()))
	for _, entity := range AllEntityTypes() {
		assert.Len(t, matrix[entity], len(AllOperations()))
	}
	assert.Equal(t, ScopeOwn, matrix[EntityDeal][OperationView])
	assert.Equal(t, ScopeNone, matrix[EntityDeal][OperationEdit])
}
