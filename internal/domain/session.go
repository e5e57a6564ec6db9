package domain

import (
	"fmt"
	"time"
)

// Role is the author of a session turn
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// SessionTurn is one message in a session's append-only history
type SessionTurn struct {
	ID        string
	SessionID string
	Role      Role
	Content   string
	Timestamp time.Time
}

// NewSessionTurn creates a new SessionTurn instance
func NewSessionTurn(id, sessionID string, role Role, content string, ts time.Time) *SessionTurn {
	return &SessionTurn{
		ID:        id,
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		Timestamp: ts,
	}
}

// ValidateSessionTurn validates a SessionTurn instance
func ValidateSessionTurn(t *SessionTurn) error {
	if t == nil {
		return fmt.Errorf("session turn cannot be nil")
	}
	if t.SessionID == "" {
		return ErrInvalidSessionID
	}
	if !IsValidRole(t.Role) {
		return ErrInvalidRole
	}
	if t.Timestamp.IsZero() {
		return fmt.Errorf("session turn Timestamp is required")
	}
	return nil
}

// IsValidRole reports whether r is a role the session store accepts
func IsValidRole(r Role) bool {
	switch r {
	case RoleUser, RoleAssistant:
		return true
	}
	return false
}

// ChatMessage is one entry of the ordered message sequence sent to the
// generation service. Role is "system", "user" or "assistant".
type ChatMessage struct {
	Role    string
	Content string
}

const ChatRoleSystem = "system"
