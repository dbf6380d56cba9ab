package models

import "time"

// Case represents a legal matter accumulating documents over time.
type Case struct {
	ID        string    `json:"case_id"`
	CreatedAt time.Time `json:"created_at"`
}

// NewCaseID generates a time-derived case identifier with second-level
// granularity. Two calls within the same second collide; accepted.
func NewCaseID(now time.Time) string {
	return "CASE_" + now.Format("20060102150405")
}
