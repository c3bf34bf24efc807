package session

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Role tags the author of a turn
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

var (
	ErrEmptySessionID = errors.New("session id cannot be empty")
	ErrEmptyContent   = errors.New("turn content cannot be empty")
)

// Turn is a single role-tagged message in a conversation
type Turn struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Store maps a session identity to its ordered history.
// Implementations must be safe for concurrent use.
type Store interface {
	// Reset clears the history of a session, leaving it empty.
	Reset(sessionID string) error

	// Append adds one turn to the end of a session, creating it if absent.
	Append(sessionID string, role Role, content string) error

	// RecentWindow returns the last n turns in original order.
	// It returns fewer turns if the history is shorter and none if the session is absent.
	RecentWindow(sessionID string, n int) ([]Turn, error)

	// Len returns the number of stored turns for a session.
	Len(sessionID string) (int, error)

	// Delete forgets a session entirely.
	Delete(sessionID string) error

	// Count returns the number of known sessions.
	Count() int
}

// ValidRole reports whether r is one of the known roles
func ValidRole(r Role) bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	default:
		return false
	}
}

func validateSessionID(sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return ErrEmptySessionID
	}
	if strings.Contains(sessionID, "\x00") {
		return fmt.Errorf("session id cannot contain null bytes")
	}
	return nil
}

func validateTurn(role Role, content string) error {
	if !ValidRole(role) {
		return fmt.Errorf("invalid role %q", role)
	}
	if content == "" {
		return ErrEmptyContent
	}
	return nil
}
