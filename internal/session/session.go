// Package session owns the lifecycle of the current recording session
// and the on-disk marker that lets other ridelog processes find it.
package session

import "time"

// Marker records the foreground recorder of the active session. It is
// written when recording starts and removed when it ends.
type Marker struct {
	SessionID string    `json:"session_id"`
	Name      string    `json:"name,omitempty"`
	PID       int       `json:"pid"`
	StartTime time.Time `json:"start_time"`
	// Discard is set by `ridelog stop --discard` before it signals the
	// recorder, so the recorder deletes the session instead of keeping it.
	Discard bool `json:"discard,omitempty"`
}
