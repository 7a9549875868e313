// internal/types/ids.go
package types

import (
	"strings"

	"github.com/google/uuid"
)

type ThreadID string
type RunID string
type EventID string
type JobID int64

// PrimaryThread is the single logical thread shared by every channel.
const PrimaryThread ThreadID = "main"

func NewRunID() RunID {
	return RunID(uuid.New().String())
}

func NewEventID() EventID {
	return EventID(uuid.New().String())
}

// NewUserID builds a channel-scoped user identity such as "telegram:1234".
func NewUserID(parts ...string) string {
	return strings.Join(parts, ":")
}
