package rbac

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/scopeguard/pkg/httputil"
	"github.com/platinummonkey/scopeguard/pkg/observability"
)

// Handlers provides HTTP handlers for permission reads and RBAC administration
type Handlers struct {
	manager *Manager
	logger  *observability.Logger
}

// NewHandlers creates new RBAC handlers
func NewHandlers(manager *Manager, logger *observability.Logger) *Handlers {
	return &Handlers{
		manager: manager,
		logger:  logger,
	}
}

// RegisterRoutes registers all RBAC routes. Administration routes live under
// /tenants/{tenant_id} and are wrapped with admin.
func (h *Handlers) RegisterRoutes(router *mux.Router, admin mux.MiddlewareFunc) {
	// Caller's own permissions
	router.HandleFunc("/permissions/me", h.GetMyPermissions).Methods("GET")
	router.HandleFunc("/permissions/me/fields/{entity}/{field}", h.GetMyFieldAccess).Methods("GET")
	router.HandleFunc("/permissions/me/{entity}/{operation}", h.GetMyPermission).Methods("GET")

	tenant := router.PathPrefix("/tenants/{tenant_id}").Subrouter()
	if admin != nil {
		tenant.Use(admin)
	}

	// Roles
	tenant.HandleFunc("/roles", h.CreateRole).Methods("POST")
	tenant.HandleFunc("/roles", h.ListRoles).Methods("GET")
	tenant.HandleFunc("/roles/{id}", h.DeleteRole).Methods("DELETE")
	tenant.HandleFunc("/roles/{id}/permissions", h.GetRolePermissions).Methods("GET")
	tenant.HandleFunc("/roles/{id}/permissions", h.SetRolePermissions).Methods("PUT")
	tenant.HandleFunc("/roles/{id}/fields", h.SetRoleFieldPermissions).Methods("PUT")

	// User assignments
	tenant.HandleFunc("/users/{id}/roles", h.AssignRole).Methods("POST")
	tenant.HandleFunc("/users/{id}/roles/{role_id}", h.RevokeRole).Methods("DELETE")
	tenant.HandleFunc("/users/{id}/permissions", h.GetUserPermissions).Methods("GET")
	tenant.HandleFunc("/users/{id}/permissions/invalidate", h.InvalidateUserPermissions).Methods("POST")

	// Teams
	tenant.HandleFunc("/teams", h.CreateTeam).Methods("POST")
	tenant.HandleFunc("/teams/{id}/default-role", h.SetTeamDefaultRole).Methods("PUT")
	tenant.HandleFunc("/teams/{id}/members", h.AddTeamMember).Methods("POST")
	tenant.HandleFunc("/teams/{id}/members/{user_id}", h.RemoveTeamMember).Methods("DELETE")
}

// PermissionMatrix maps entity type to operation to scope
type PermissionMatrix map[EntityType]map[Operation]Scope

// NewPermissionMatrix builds a matrix covering every known entity type and
// operation, defaulting to None, overlaid with perms
func NewPermissionMatrix(perms []EffectivePermission) PermissionMatrix {
	matrix := make(PermissionMatrix, len(AllEntityTypes()))
	for _, entity := range AllEntityTypes() {
		ops := make(map[Operation]Scope, len(AllOperations()))
		for _, op := range AllOperations() {
			ops[op] = ScopeNone
		}
		matrix[entity] = ops
	}

	for _, perm := range perms {
		ops, ok := matrix[perm.EntityType]
		if !ok {
			ops = make(map[Operation]Scope)
			matrix[perm.EntityType] = ops
		}
		ops[perm.Operation] = perm.Scope
	}
	return matrix
}

type permissionsResponse struct {
	UserID      int64            `json:"user_id"`
	Permissions PermissionMatrix `json:"permissions"`
}

type permissionResponse struct {
	EffectivePermission
	Allowed bool `json:"allowed"`
}

type fieldAccessResponse struct {
	EntityType  EntityType  `json:"entity_type"`
	FieldName   string      `json:"field_name"`
	AccessLevel AccessLevel `json:"access_level"`
}

type permissionInput struct {
	EntityType string `json:"entity_type" validate:"required,max=64"`
	Operation  string `json:"operation" validate:"required,max=32"`
	Scope      string `json:"scope" validate:"required,oneof=None Own Team All"`
}

type fieldPermissionInput struct {
	EntityType  string `json:"entity_type" validate:"required,max=64"`
	FieldName   string `json:"field_name" validate:"required,max=128"`
	AccessLevel string `json:"access_level" validate:"required,oneof=Hidden ReadOnly Editable"`
}

type createRoleRequest struct {
	Name        string            `json:"name" validate:"required,max=255"`
	Description string            `json:"description" validate:"max=1000"`
	Permissions []permissionInput `json:"permissions" validate:"dive"`
}

type setPermissionsRequest struct {
	Permissions []permissionInput `json:"permissions" validate:"required,min=1,dive"`
}

type setFieldPermissionsRequest struct {
	Fields []fieldPermissionInput `json:"fields" validate:"required,min=1,dive"`
}

type assignRoleRequest struct {
	RoleID int64 `json:"role_id" validate:"required,gt=0"`
}

type createTeamRequest struct {
	Name          string `json:"name" validate:"required,max=255"`
	DefaultRoleID *int64 `json:"default_role_id" validate:"omitempty,gt=0"`
}

type setDefaultRoleRequest struct {
	// RoleID null clears the default role
	RoleID *int64 `json:"role_id" validate:"omitempty,gt=0"`
}

type addMemberRequest struct {
	UserID int64 `json:"user_id" validate:"required,gt=0"`
}

// GetMyPermissions returns the caller's full permission matrix
func (h *Handlers) GetMyPermissions(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.callerID(w, r)
	if !ok {
		return
	}

	perms, err := h.manager.Resolver().GetAllPermissions(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	httputil.WriteSuccess(w, permissionsResponse{UserID: userID, Permissions: NewPermissionMatrix(perms)})
}

// GetMyPermission returns the caller's effective scope for one entity/operation
func (h *Handlers) GetMyPermission(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.callerID(w, r)
	if !ok {
		return
	}
	vars := mux.Vars(r)

	perm, err := h.manager.Resolver().GetEffectivePermission(r.Context(), userID, lenientEntity(vars["entity"]), lenientOperation(vars["operation"]))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	httputil.WriteSuccess(w, permissionResponse{EffectivePermission: perm, Allowed: perm.Allowed()})
}

// GetMyFieldAccess returns the caller's access level for one field
func (h *Handlers) GetMyFieldAccess(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.callerID(w, r)
	if !ok {
		return
	}
	vars := mux.Vars(r)
	entity := lenientEntity(vars["entity"])

	level, err := h.manager.Resolver().GetFieldAccessLevel(r.Context(), userID, entity, vars["field"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	httputil.WriteSuccess(w, fieldAccessResponse{EntityType: entity, FieldName: vars["field"], AccessLevel: level})
}

// CreateRole creates a custom role
func (h *Handlers) CreateRole(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := httputil.ParsePathInt64OrError(w, r, "tenant_id")
	if !ok {
		return
	}

	var req createRoleRequest
	if !httputil.DecodeAndValidate(w, r, &req) {
		return
	}
	perms, ok := parsePermissions(w, req.Permissions)
	if !ok {
		return
	}

	role, err := h.manager.CreateRole(r.Context(), tenantID, req.Name, req.Description, perms)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	httputil.WriteCreated(w, role)
}

// ListRoles lists a tenant's roles
func (h *Handlers) ListRoles(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := httputil.ParsePathInt64OrError(w, r, "tenant_id")
	if !ok {
		return
	}

	roles, err := h.manager.Store().ListRoles(r.Context(), tenantID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if roles == nil {
		roles = []Role{}
	}

	httputil.WriteSuccess(w, roles)
}

// DeleteRole deletes an unassigned custom role
func (h *Handlers) DeleteRole(w http.ResponseWriter, r *http.Request) {
	tenantID, roleID, ok := tenantAndID(w, r)
	if !ok {
		return
	}

	if err := h.manager.DeleteRole(r.Context(), tenantID, roleID); err != nil {
		h.writeError(w, r, err)
		return
	}

	httputil.WriteNoContent(w)
}

// GetRolePermissions returns the stored permission rows of a role
func (h *Handlers) GetRolePermissions(w http.ResponseWriter, r *http.Request) {
	tenantID, roleID, ok := tenantAndID(w, r)
	if !ok {
		return
	}

	if _, err := h.manager.tenantRole(r.Context(), tenantID, roleID); err != nil {
		h.writeError(w, r, err)
		return
	}
	perms, err := h.manager.Store().ListRolePermissions(r.Context(), roleID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if perms == nil {
		perms = []RolePermission{}
	}

	httputil.WriteSuccess(w, perms)
}

// SetRolePermissions upserts entity/operation scopes on a role
func (h *Handlers) SetRolePermissions(w http.ResponseWriter, r *http.Request) {
	tenantID, roleID, ok := tenantAndID(w, r)
	if !ok {
		return
	}

	var req setPermissionsRequest
	if !httputil.DecodeAndValidate(w, r, &req) {
		return
	}
	perms, ok := parsePermissions(w, req.Permissions)
	if !ok {
		return
	}

	if err := h.manager.SetRolePermissions(r.Context(), tenantID, roleID, perms); err != nil {
		h.writeError(w, r, err)
		return
	}

	httputil.WriteNoContent(w)
}

// SetRoleFieldPermissions upserts field access overrides on a role
func (h *Handlers) SetRoleFieldPermissions(w http.ResponseWriter, r *http.Request) {
	tenantID, roleID, ok := tenantAndID(w, r)
	if !ok {
		return
	}

	var req setFieldPermissionsRequest
	if !httputil.DecodeAndValidate(w, r, &req) {
		return
	}

	perms := make([]RoleFieldPermission, 0, len(req.Fields))
	for _, in := range req.Fields {
		entity, err := ParseEntityType(in.EntityType)
		if err != nil {
			httputil.WriteValidationError(w, err.Error())
			return
		}
		level, err := ParseAccessLevel(in.AccessLevel)
		if err != nil {
			httputil.WriteValidationError(w, err.Error())
			return
		}
		perms = append(perms, RoleFieldPermission{EntityType: entity, FieldName: in.FieldName, AccessLevel: level})
	}

	if err := h.manager.SetRoleFieldPermissions(r.Context(), tenantID, roleID, perms); err != nil {
		h.writeError(w, r, err)
		return
	}

	httputil.WriteNoContent(w)
}

// AssignRole grants a role to a user
func (h *Handlers) AssignRole(w http.ResponseWriter, r *http.Request) {
	tenantID, userID, ok := tenantAndID(w, r)
	if !ok {
		return
	}

	var req assignRoleRequest
	if !httputil.DecodeAndValidate(w, r, &req) {
		return
	}

	if err := h.manager.AssignRole(r.Context(), tenantID, userID, req.RoleID); err != nil {
		h.writeError(w, r, err)
		return
	}

	httputil.WriteNoContent(w)
}

// RevokeRole removes a direct role grant from a user
func (h *Handlers) RevokeRole(w http.ResponseWriter, r *http.Request) {
	tenantID, userID, ok := tenantAndID(w, r)
	if !ok {
		return
	}
	roleID, ok := httputil.ParsePathInt64OrError(w, r, "role_id")
	if !ok {
		return
	}

	if err := h.manager.RevokeRole(r.Context(), tenantID, userID, roleID); err != nil {
		h.writeError(w, r, err)
		return
	}

	httputil.WriteNoContent(w)
}

// GetUserPermissions returns another user's permission matrix
func (h *Handlers) GetUserPermissions(w http.ResponseWriter, r *http.Request) {
	tenantID, userID, ok := tenantAndID(w, r)
	if !ok {
		return
	}

	if err := h.manager.tenantUser(r.Context(), tenantID, userID); err != nil {
		h.writeError(w, r, err)
		return
	}
	perms, err := h.manager.Resolver().GetAllPermissions(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	httputil.WriteSuccess(w, permissionsResponse{UserID: userID, Permissions: NewPermissionMatrix(perms)})
}

// InvalidateUserPermissions drops a user's cached permissions
func (h *Handlers) InvalidateUserPermissions(w http.ResponseWriter, r *http.Request) {
	tenantID, userID, ok := tenantAndID(w, r)
	if !ok {
		return
	}

	if err := h.manager.tenantUser(r.Context(), tenantID, userID); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.manager.InvalidateUserPermissions(r.Context(), userID); err != nil {
		h.writeError(w, r, err)
		return
	}

	httputil.WriteNoContent(w)
}

// CreateTeam creates a team
func (h *Handlers) CreateTeam(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := httputil.ParsePathInt64OrError(w, r, "tenant_id")
	if !ok {
		return
	}

	var req createTeamRequest
	if !httputil.DecodeAndValidate(w, r, &req) {
		return
	}

	team, err := h.manager.CreateTeam(r.Context(), tenantID, req.Name, req.DefaultRoleID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	httputil.WriteCreated(w, team)
}

// SetTeamDefaultRole sets or clears the role inherited by team members
func (h *Handlers) SetTeamDefaultRole(w http.ResponseWriter, r *http.Request) {
	tenantID, teamID, ok := tenantAndID(w, r)
	if !ok {
		return
	}

	var req setDefaultRoleRequest
	if !httputil.DecodeAndValidate(w, r, &req) {
		return
	}

	if err := h.manager.SetTeamDefaultRole(r.Context(), tenantID, teamID, req.RoleID); err != nil {
		h.writeError(w, r, err)
		return
	}

	httputil.WriteNoContent(w)
}

// AddTeamMember adds a user to a team
func (h *Handlers) AddTeamMember(w http.ResponseWriter, r *http.Request) {
	tenantID, teamID, ok := tenantAndID(w, r)
	if !ok {
		return
	}

	var req addMemberRequest
	if !httputil.DecodeAndValidate(w, r, &req) {
		return
	}

	if err := h.manager.AddTeamMember(r.Context(), tenantID, teamID, req.UserID); err != nil {
		h.writeError(w, r, err)
		return
	}

	httputil.WriteNoContent(w)
}

// RemoveTeamMember removes a user from a team
func (h *Handlers) RemoveTeamMember(w http.ResponseWriter, r *http.Request) {
	tenantID, teamID, ok := tenantAndID(w, r)
	if !ok {
		return
	}
	userID, ok := httputil.ParsePathInt64OrError(w, r, "user_id")
	if !ok {
		return
	}

	if err := h.manager.RemoveTeamMember(r.Context(), tenantID, teamID, userID); err != nil {
		h.writeError(w, r, err)
		return
	}

	httputil.WriteNoContent(w)
}

func (h *Handlers) callerID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	userID, ok := h.manager.ActorID(r.Context())
	if !ok {
		httputil.WriteErrorMessage(w, http.StatusUnauthorized, "authentication required")
		return 0, false
	}
	return userID, true
}

func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httputil.WriteNotFoundError(w, "not found")
	case errors.Is(err, ErrSystemRole):
		httputil.WriteConflict(w, "system roles cannot be deleted")
	case errors.Is(err, ErrRoleInUse):
		httputil.WriteConflict(w, "role is still assigned")
	case errors.Is(err, ErrDuplicateName):
		httputil.WriteConflict(w, "name already exists")
	case errors.Is(err, ErrInvalidationFailed):
		observability.LoggerFrom(r.Context(), h.logger).WithError(err).WithField("path", r.URL.Path).Error("Change saved but cache invalidation failed")
		httputil.WriteErrorMessage(w, http.StatusInternalServerError, "change saved; cached permissions may stay stale until they expire")
	default:
		observability.LoggerFrom(r.Context(), h.logger).WithError(err).WithField("path", r.URL.Path).Error("RBAC request failed")
		httputil.WriteInternalError(w)
	}
}

func tenantAndID(w http.ResponseWriter, r *http.Request) (int64, int64, bool) {
	tenantID, ok := httputil.ParsePathInt64OrError(w, r, "tenant_id")
	if !ok {
		return 0, 0, false
	}
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return 0, 0, false
	}
	return tenantID, id, true
}

func parsePermissions(w http.ResponseWriter, in []permissionInput) ([]RolePermission, bool) {
	perms := make([]RolePermission, 0, len(in))
	for _, p := range in {
		entity, err := ParseEntityType(p.EntityType)
		if err != nil {
			httputil.WriteValidationError(w, err.Error())
			return nil, false
		}
		op, err := ParseOperation(p.Operation)
		if err != nil {
			httputil.WriteValidationError(w, err.Error())
			return nil, false
		}
		scope, err := ParseScope(p.Scope)
		if err != nil {
			httputil.WriteValidationError(w, err.Error())
			return nil, false
		}
		perms = append(perms, RolePermission{EntityType: entity, Operation: op, Scope: scope})
	}
	return perms, true
}

// lenientEntity normalizes known entity names and passes anything else
// through, which resolves to no access
func lenientEntity(s string) EntityType {
	if entity, err := ParseEntityType(s); err == nil {
		return entity
	}
	return EntityType(s)
}

func lenientOperation(s string) Operation {
	if op, err := ParseOperation(s); err == nil {
		return op
	}
	return Operation(s)
}
