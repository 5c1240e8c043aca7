// Package tasks defines the structure for tasks that are sent to Kafka.
package tasks

// SessionEndedTask represents a finished chat session awaiting experience capture.
type SessionEndedTask struct {
	SessionID   uint   `json:"session_id"`
	PersonaID   uint   `json:"persona_id"`
	UserID      string `json:"user_id"`
	EndedAtUnix int64  `json:"ended_at_unix"`
}
