package models

import "time"

// Session proves a prior successful unlock of one entity. The token carries
// no claims; validity is decided purely by this server-side row.
type Session struct {
	Token    string
	EntityID string
	IssuedAt time.Time
	// ExpiresAt slides forward on refresh, capped relative to IssuedAt.
	ExpiresAt time.Time
}
