package cache

import "time"

// TTLPolicy bounds the time-to-live applied to cache writes in a tier.
type TTLPolicy struct {
	// Default is applied when a write does not request a TTL
	Default time.Duration

	// Max caps requested TTLs; zero means no cap
	Max time.Duration
}

// Validate checks if the policy is consistent.
func (p *TTLPolicy) Validate() error {
	if p.Default < 0 {
		return ErrInvalidValue
	}

	if p.Max < 0 {
		return ErrInvalidValue
	}

	if p.Max > 0 && p.Default > p.Max {
		return ErrInvalidValue
	}

	return nil
}

// Effective returns the TTL to apply for a requested duration.
// If ttl is not positive, returns Default.
// If ttl exceeds Max, returns Max.
// Otherwise returns the original ttl.
func (p *TTLPolicy) Effective(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return p.Default
	}

	if p.Max > 0 && ttl > p.Max {
		return p.Max
	}

	return ttl
}
