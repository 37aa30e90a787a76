package permcache

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"time"
)

var (
	// ErrCacheMiss is returned when a key is absent or expired
	ErrCacheMiss = errors.New("permcache: cache miss")

	// ErrInvalidKey is returned for empty keys
	ErrInvalidKey = errors.New("permcache: invalid key")
)

// DefaultTTL is the absolute lifetime of a cached permission
const DefaultTTL = 5 * time.Minute

// Cache stores derived permission values keyed per user.
// Every Set records the key in the user's key set so InvalidateUser can
// remove all of a user's entries without scanning the cache.
type Cache interface {
	// Get returns the cached value or ErrCacheMiss
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key and adds key to the user's key set
	Set(ctx context.Context, userID int64, key string, value []byte) error

	// InvalidateUser removes every entry listed in the user's key set and
	// then the key set itself. It returns the number of entries removed.
	InvalidateUser(ctx context.Context, userID int64) (int, error)

	// Close releases resources
	Close() error
}

// Config holds cache settings shared by all backends
type Config struct {
	TTL        time.Duration
	MaxEntries int
}

// DefaultConfig returns default cache settings
func DefaultConfig() Config {
	return Config{
		TTL:        DefaultTTL,
		MaxEntries: 100000,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.TTL <= 0 {
		c.TTL = d.TTL
	}
	if c.MaxEntries <= 0 {
		c.MaxEntries = d.MaxEntries
	}
	return c
}

// Keys share the {u:<id>} hash tag so a user's entries and key set land in
// the same redis cluster slot.

func userPrefix(userID int64) string {
	return "rbac:{u:" + strconv.FormatInt(userID, 10) + "}:"
}

// segment escapes a caller-supplied key part so ":" and "{" inside it
// cannot shift segment boundaries or the hash tag.
func segment(s string) string {
	return url.QueryEscape(s)
}

// PermissionKey identifies a single entity/operation resolution
func PermissionKey(userID int64, entityType, operation string) string {
	return userPrefix(userID) + "perm:" + segment(entityType) + ":" + segment(operation)
}

// AllPermissionsKey identifies the full permission map of a user
func AllPermissionsKey(userID int64) string {
	return userPrefix(userID) + "all"
}

// FieldAccessKey identifies a field access level resolution
func FieldAccessKey(userID int64, entityType, fieldName string) string {
	return userPrefix(userID) + "field:" + segment(entityType) + ":" + segment(fieldName)
}

// UserKeySetKey identifies the set of keys issued for a user
func UserKeySetKey(userID int64) string {
	return userPrefix(userID) + "keys"
}
