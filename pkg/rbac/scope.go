package rbac

import (
	"fmt"
	"strings"
)

// Scope is the breadth of records an effective permission reaches.
// Values are ordered: a larger value is always more permissive.
type Scope int

const (
	ScopeNone Scope = iota
	ScopeOwn
	ScopeTeam
	ScopeAll
)

var scopeNames = [...]string{"None", "Own", "Team", "All"}

func (s Scope) String() string {
	if s < ScopeNone || s > ScopeAll {
		return fmt.Sprintf("Scope(%d)", int(s))
	}
	return scopeNames[s]
}

// Valid reports whether s is one of the defined scopes
func (s Scope) Valid() bool {
	return s >= ScopeNone && s <= ScopeAll
}

// ParseScope parses a scope name, ignoring case
func ParseScope(s string) (Scope, error) {
	for i, name := range scopeNames {
		if strings.EqualFold(name, strings.TrimSpace(s)) {
			return Scope(i), nil
		}
	}
	return ScopeNone, fmt.Errorf("unknown scope: %q", s)
}

// MarshalText encodes the scope by name
func (s Scope) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid scope: %d", int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText decodes a scope name
func (s *Scope) UnmarshalText(text []byte) error {
	parsed, err := ParseScope(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// MaxScope returns the most permissive of the given scopes, or ScopeNone
// when called without arguments.
func MaxScope(scopes ...Scope) Scope {
	best := ScopeNone
	for _, s := range scopes {
		if s > best {
			best = s
		}
	}
	return best
}

// AccessLevel controls what a user may do with a single field.
// Values are ordered from most restrictive to most permissive.
type AccessLevel int

const (
	AccessHidden AccessLevel = iota
	AccessReadOnly
	AccessEditable
)

// DefaultAccessLevel applies when no field permission row exists.
// Field restrictions are opt-in, so the default is the permissive one.
const DefaultAccessLevel = AccessEditable

var accessLevelNames = [...]string{"Hidden", "ReadOnly", "Editable"}

func (l AccessLevel) String() string {
	if l < AccessHidden || l > AccessEditable {
		return fmt.Sprintf("AccessLevel(%d)", int(l))
	}
	return accessLevelNames[l]
}

// Valid reports whether l is one of the defined access levels
func (l AccessLevel) Valid() bool {
	return l >= AccessHidden && l <= AccessEditable
}

// ParseAccessLevel parses an access level name, ignoring case
func ParseAccessLevel(s string) (AccessLevel, error) {
	for i, name := range accessLevelNames {
		if strings.EqualFold(name, strings.TrimSpace(s)) {
			return AccessLevel(i), nil
		}
	}
	return AccessHidden, fmt.Errorf("unknown access level: %q", s)
}

// MarshalText encodes the access level by name
func (l AccessLevel) MarshalText() ([]byte, error) {
	if !l.Valid() {
		return nil, fmt.Errorf("invalid access level: %d", int(l))
	}
	return []byte(l.String()), nil
}

// UnmarshalText decodes an access level name
func (l *AccessLevel) UnmarshalText(text []byte) error {
	parsed, err := ParseAccessLevel(string(text))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// MaxAccessLevel returns the most permissive of the given levels.
// Callers decide the empty-input default; this returns AccessHidden.
func MaxAccessLevel(levels ...AccessLevel) AccessLevel {
	best := AccessHidden
	for _, l := range levels {
		if l > best {
			best = l
		}
	}
	return best
}
