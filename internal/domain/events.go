package domain

import "time"

// Event types for the live feed and the adapter bus
const (
	EventMemberAdded   = "member_added"
	EventMemberRemoved = "member_removed"
	EventReloaded      = "reloaded"
)

// Event sources
const (
	SourceChat     = "chat"
	SourceOperator = "operator"
)

// Event represents a membership change broadcast to adapters and admins
type Event struct {
	Type      string      `json:"event"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
}

// MemberEvent is sent when a member is added or removed
type MemberEvent struct {
	Member MemberRecord `json:"member"`
	Source string       `json:"source"`
}

// ReloadedEvent is sent after a configuration reload swapped the runtime
type ReloadedEvent struct {
	StorageType string `json:"storage_type"`
	Members     int    `json:"members"`
}
