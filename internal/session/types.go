// Package session provides durable, TTL-bound session state for the
// conversation engine.
//
// The store is keyed by session id and backed by a KV contract implemented
// over Redis in production and an in-memory map in tests. A session's turns
// are strictly serialized through Locks; concurrent turns for the same
// session are rejected rather than queued.
package session

import (
	"time"

	"github.com/partsflow/partsflow/internal/catalog"
	"github.com/partsflow/partsflow/internal/conversation"
)

// Role constants for chat history messages.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// CategoryRef is one resolved level of the category drill-down path.
type CategoryRef struct {
	ID   int64  `json:"id"`
	Name string `json:"name,omitempty"`
}

// DrillDown is the ordered dependent chain of drill-down selections. Each id
// is meaningful only if every id before it is set; clearing a link
// invalidates everything after it.
type DrillDown struct {
	VehicleTypeID  *int64        `json:"vehicle_type_id,omitempty"`
	ManufacturerID *int64        `json:"manufacturer_id,omitempty"`
	ModelID        *int64        `json:"model_id,omitempty"`
	VehicleID      *int64        `json:"vehicle_id,omitempty"`
	CategoryPath   []CategoryRef `json:"category_path,omitempty"`
	ArticleIDs     []int64       `json:"article_ids,omitempty"`
}

// Context is the typed slot record accumulated across turns. Meta is the
// forward-compatibility escape hatch; everything with known shape gets a
// real field.
type Context struct {
	Vehicle      *catalog.Vehicle  `json:"vehicle,omitempty"`
	CategoryPath []CategoryRef     `json:"category_path,omitempty"`
	ArticleIDs   []int64           `json:"article_ids,omitempty"`
	DrillDown    *DrillDown        `json:"drill_down,omitempty"`
	Meta         map[string]string `json:"meta,omitempty"`
}

// Session is one continuous multi-turn conversation.
type Session struct {
	ID             string             `json:"id"`
	CustomerID     string             `json:"customer_id"`
	Channel        string             `json:"channel"`
	State          conversation.State `json:"state"`
	LastIntent     string             `json:"last_intent,omitempty"`
	Context        Context            `json:"context"`
	Language       string             `json:"language"`
	CreatedAt      time.Time          `json:"created_at"`
	LastActivityAt time.Time          `json:"last_activity_at"`
	EndedAt        *time.Time         `json:"ended_at,omitempty"`
	// Version increments on every persisted write. Put uses it to detect
	// a concurrent End and discard the stale turn's write.
	Version int64 `json:"version"`
}

// Ended reports whether the session has been explicitly terminated.
func (s *Session) Ended() bool { return s.EndedAt != nil }

// Touch updates the activity timestamp.
func (s *Session) Touch(now time.Time) { s.LastActivityAt = now }

// Message is one chat history entry.
type Message struct {
	ID        string            `json:"id"`
	SessionID string            `json:"session_id"`
	Role      string            `json:"role"`
	Content   string            `json:"content"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}
