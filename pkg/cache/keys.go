package cache

import (
	"fmt"
	"strings"
	"unicode"
)

// TagPrefix is the key prefix under which tag membership sets are stored
// in the remote store.
const TagPrefix = "tag:"

// MaxKeyLength is the longest key any tier accepts.
const MaxKeyLength = 250

// ValidateKey checks if a cache key is valid.
// Returns nil if the key is valid, or an error describing the problem.
//
// Rules:
// - Non-empty string
// - Maximum length of 250 characters
// - No control characters
// - No leading or trailing whitespace
func ValidateKey(key string) error {
	if key == "" {
		return ErrInvalidKey
	}

	if len(key) > MaxKeyLength {
		return fmt.Errorf("%w: key too long (max %d characters)", ErrInvalidKey, MaxKeyLength)
	}

	for _, r := range key {
		if unicode.IsControl(r) {
			return fmt.Errorf("%w: key contains control character", ErrInvalidKey)
		}
	}

	if strings.TrimSpace(key) != key {
		return fmt.Errorf("%w: key has leading or trailing whitespace", ErrInvalidKey)
	}

	return nil
}

// ValidateTag checks if an invalidation tag is usable.
// Tags follow the same rules as keys and additionally may not start with
// the reserved tag prefix.
func ValidateTag(tag string) error {
	if err := ValidateKey(tag); err != nil {
		return err
	}
	if strings.HasPrefix(tag, TagPrefix) {
		return fmt.Errorf("%w: tag uses reserved prefix %q", ErrInvalidKey, TagPrefix)
	}
	return nil
}

// TagKey returns the remote-store key holding the membership set for tag.
func TagKey(tag string) string {
	return TagPrefix + tag
}

// JoinKey builds a cache key from parts using the conventional ":" separator.
// Example: JoinKey("user", "123") -> "user:123".
func JoinKey(parts ...string) string {
	return strings.Join(parts, ":")
}

// KeyBuilder generates namespaced cache keys with a fixed prefix.
// Useful for keeping one model's keys addressable by a single glob pattern.
type KeyBuilder struct {
	prefix    string
	separator string
}

// NewKeyBuilder creates a key builder with the given prefix and separator.
// An empty separator defaults to ":".
func NewKeyBuilder(prefix, separator string) *KeyBuilder {
	if separator == "" {
		separator = ":"
	}
	return &KeyBuilder{prefix: prefix, separator: separator}
}

// Build creates a cache key from the prefix and provided parts.
// Example: NewKeyBuilder("user", ":").Build("123") -> "user:123".
func (kb *KeyBuilder) Build(parts ...string) string {
	if len(parts) == 0 {
		return kb.prefix
	}
	return kb.prefix + kb.separator + strings.Join(parts, kb.separator)
}

// Pattern returns the glob matching every key this builder produces.
func (kb *KeyBuilder) Pattern() string {
	return kb.prefix + kb.separator + "*"
}
