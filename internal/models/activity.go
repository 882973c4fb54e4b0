package models

import "time"

// Action classifies a mutation recorded by the audit pipeline.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Resource types recorded in activity logs.
const (
	ResourceUser     = "user"
	ResourceDocument = "document"
	ResourceFile     = "file"
)

// ActivityLog is one append-only audit record. Entries are never mutated
// after insert and are pruned by age only. Delivery is at-least-once, so
// consumers must tolerate duplicate entries.
type ActivityLog struct {
	ID           string         `json:"id"`
	Action       Action         `json:"action"`
	ResourceType string         `json:"resourceType"`
	ResourceName string         `json:"resourceName"`
	UserID       string         `json:"userId,omitempty"`
	Timestamp    time.Time      `json:"timestamp"`
	Details      map[string]any `json:"details,omitempty"`
}

// ResourceUsage is one periodic aggregate snapshot of system-wide counts.
type ResourceUsage struct {
	Timestamp   time.Time `json:"timestamp"`
	Documents   int64     `json:"documents"`
	Files       int64     `json:"files"`
	Storage     int64     `json:"storage"`
	ActiveUsers int       `json:"activeUsers"`
}

// APILog records one gateway request for usage analytics.
type APILog struct {
	Timestamp time.Time `json:"timestamp"`
	Method    string    `json:"method"`
	Path      string    `json:"path"`
	UserID    string    `json:"userId,omitempty"`
	UserAgent string    `json:"userAgent,omitempty"`
	IP        string    `json:"ip,omitempty"`
}
