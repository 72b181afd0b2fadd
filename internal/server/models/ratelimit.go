package models

import "time"

// RateLimitRecord tracks consecutive failed unlock attempts for one entity.
// Rows are created lazily on first failure and deleted on success.
type RateLimitRecord struct {
	EntityID     string
	FailureCount int
	// LockoutUntil is nil while the entity is below the threshold.
	LockoutUntil *time.Time
	UpdatedAt    time.Time
}
