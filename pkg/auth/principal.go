package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/platinummonkey/scopeguard/pkg/contextkeys"
)

// DefaultUserIDClaims are checked in order when resolving a user id
var DefaultUserIDClaims = []string{"user_id", "uid", "sub"}

// Principal is the authenticated caller of a request
type Principal struct {
	// Subject is the token subject
	Subject string `json:"sub"`
	// Claims holds every identity claim from the verified token
	Claims map[string]interface{} `json:"claims,omitempty"`
}

// UserID returns the numeric user id from the first claim present among
// claimNames (DefaultUserIDClaims when empty). Strings and JSON numbers are
// accepted. ok is false when no claim holds a positive integer.
func (p *Principal) UserID(claimNames ...string) (int64, bool) {
	if p == nil {
		return 0, false
	}
	if len(claimNames) == 0 {
		claimNames = DefaultUserIDClaims
	}

	for _, name := range claimNames {
		raw, present := p.claim(name)
		if !present {
			continue
		}
		id, err := parseUserID(raw)
		if err != nil || id <= 0 {
			return 0, false
		}
		return id, true
	}
	return 0, false
}

func (p *Principal) claim(name string) (interface{}, bool) {
	if v, ok := p.Claims[name]; ok && v != nil {
		return v, true
	}
	if name == "sub" && p.Subject != "" {
		return p.Subject, true
	}
	return nil, false
}

func parseUserID(v interface{}) (int64, error) {
	switch id := v.(type) {
	case string:
		return strconv.ParseInt(strings.TrimSpace(id), 10, 64)
	case json.Number:
		return id.Int64()
	case float64:
		if id != math.Trunc(id) || id > math.MaxInt64 {
			return 0, fmt.Errorf("user id %v is not an integer", id)
		}
		return int64(id), nil
	case int64:
		return id, nil
	case int:
		return int64(id), nil
	default:
		return 0, fmt.Errorf("unsupported user id type %T", v)
	}
}

// WithPrincipal stores the principal in ctx
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, contextkeys.PrincipalKey, p)
}

// PrincipalFromContext returns the authenticated principal, if any
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(contextkeys.PrincipalKey).(*Principal)
	return p, ok && p != nil
}
