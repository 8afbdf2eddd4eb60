package application

import (
	"time"

	sessions "plugwatch/internal/sessions/domain"
)

// SessionClosed is published after a session reaches a terminal state. The
// payload is a frozen copy; subscribers never see later mutation.
type SessionClosed struct {
	Session  sessions.Session `json:"session"`
	ClosedAt time.Time        `json:"closed_at"`
}
