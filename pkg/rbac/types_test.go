package rbac

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScopeOrdering(t *testing.T) {
	assert.True(t, ScopeNone < ScopeOwn)
	assert.True(t, ScopeOwn < ScopeTeam)
	assert.True(t, ScopeTeam < ScopeAll)

	assert.Equal(t, ScopeNone, MaxScope())
	assert.Equal(t, ScopeTeam, MaxScope(ScopeOwn, ScopeTeam, ScopeNone))
	assert.Equal(t, ScopeAll, MaxScope(ScopeAll, ScopeOwn))
}

func TestParseScope(t *testing.T) {
	tests := []struct {
		in      string
		want    Scope
		wantErr bool
	}{
		{"None", ScopeNone, false},
		{"own", ScopeOwn, false},
		{" TEAM ", ScopeTeam, false},
		{"All", ScopeAll, false},
		{"Everything", ScopeNone, true},
		{"", ScopeNone, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseScope(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestScopeJSON(t *testing.T) {
	data, err := json.Marshal(EffectivePermission{EntityType: EntityDeal, Operation: OperationEdit, Scope: ScopeTeam})
	require.NoError(t, err)
	assert.JSONEq(t, `{"entity_type":"Deal","operation":"Edit","scope":"Team"}`, string(data))

	var perm EffectivePermission
	require.NoError(t, json.Unmarshal([]byte(`{"entity_type":"Quote","operation":"View","scope":"own"}`), &perm))
	assert.Equal(t, ScopeOwn, perm.Scope)

	assert.Error(t, json.Unmarshal([]byte(`{"scope":"Root"}`), &perm))

	_, err = json.Marshal(Scope(9))
	assert.Error(t, err)
	assert.Equal(t, "Scope(9)", Scope(9).String())
}

func TestAccessLevel(t *testing.T) {
	assert.Equal(t, AccessEditable, DefaultAccessLevel)
	assert.Equal(t, AccessReadOnly, MaxAccessLevel(AccessHidden, AccessReadOnly))
	assert.Equal(t, AccessHidden, MaxAccessLevel())

	level, err := ParseAccessLevel("readonly")
	require.NoError(t, err)
	assert.Equal(t, AccessReadOnly, level)

	_, err = ParseAccessLevel("Secret")
	assert.Error(t, err)

	data, err := json.Marshal(RoleFieldPermission{RoleID: 1, EntityType: EntityDeal, FieldName: "amount", AccessLevel: AccessHidden})
	require.NoError(t, err)
	assert.JSONEq(t, `{"role_id":1,"entity_type":"Deal","field_name":"amount","access_level":"Hidden"}`, string(data))
	assert.False(t, AccessLevel(5).Valid())
}

func TestParseEntityTypeAndOperation(t *testing.T) {
	entity, err := ParseEntityType("deal")
	require.NoError(t, err)
	assert.Equal(t, EntityDeal, entity)

	_, err = ParseEntityType("Spaceship")
	assert.Error(t, err)

	op, err := ParseOperation("DELETE")
	require.NoError(t, err)
	assert.Equal(t, OperationDelete, op)

	_, err = ParseOperation("Launch")
	assert.Error(t, err)

	assert.Len(t, AllEntityTypes(), 7)
	assert.Equal(t, []Operation{OperationView, OperationCreate, OperationEdit, OperationDelete}, AllOperations())
}

func TestEffectivePermissionAllowed(t *testing.T) {
	assert.False(t, EffectivePermission{Scope: ScopeNone}.Allowed())
	for _, s := range []Scope{ScopeOwn, ScopeTeam, ScopeAll} {
		assert.True(t, EffectivePermission{Scope: s}.Allowed(), s.String())
	}
}
