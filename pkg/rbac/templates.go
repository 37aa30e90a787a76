package rbac

// Template role names seeded into every tenant
const (
	TemplateAdmin    = "Admin"
	TemplateManager  = "Manager"
	TemplateSalesRep = "Sales Rep"
	TemplateViewer   = "Viewer"
)

// RoleTemplate describes a baseline role created for each tenant
type RoleTemplate struct {
	Name        string
	Description string
}

// RoleTemplates returns the baseline roles in creation order
func RoleTemplates() []RoleTemplate {
	return []RoleTemplate{
		{Name: TemplateAdmin, Description: "Full access to every record"},
		{Name: TemplateManager, Description: "Full access to records owned by the team"},
		{Name: TemplateSalesRep, Description: "Views team records, manages own records"},
		{Name: TemplateViewer, Description: "Read-only access to every record"},
	}
}

// TemplateScope maps a template role name and operation to the scope the
// template grants. The mapping is the same for every entity type.
// Unknown or renamed roles get ScopeNone.
func TemplateScope(roleName string, operation Operation) Scope {
	switch roleName {
	case TemplateAdmin:
		return ScopeAll
	case TemplateManager:
		return ScopeTeam
	case TemplateSalesRep:
		if operation == OperationView {
			return ScopeTeam
		}
		return ScopeOwn
	case TemplateViewer:
		if operation == OperationView {
			return ScopeAll
		}
		return ScopeNone
	default:
		return ScopeNone
	}
}

// TemplatePermissions returns the full entity x operation matrix for a template role
func TemplatePermissions(roleID int64, roleName string) []RolePermission {
	entities := AllEntityTypes()
	ops := AllOperations()

	perms := make([]RolePermission, 0, len(entities)*len(ops))
	for _, entity := range entities {
		for _, op := range ops {
			perms = append(perms, RolePermission{
				RoleID:     roleID,
				EntityType: entity,
				Operation:  op,
				Scope:      TemplateScope(roleName, op),
			})
		}
	}
	return perms
}
