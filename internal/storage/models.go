package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Turn is one finished dialogue turn in the audit log.
type Turn struct {
	ID                 string    `json:"id"`
	SenderID           string    `json:"sender_id"`
	CreatedAt          time.Time `json:"created_at"`
	Message            string    `json:"message"`
	Intent             string    `json:"intent"`
	Stage              string    `json:"stage"`
	Confidence         float64   `json:"confidence"`
	NeedsClarification bool      `json:"needs_clarification"`
	Response           string    `json:"response"`
	Error              string    `json:"error,omitempty"`
	Path               []string  `json:"path"`
	FallbackPhase      int       `json:"fallback_phase,omitempty"`
	DurationMS         int64     `json:"duration_ms"`
}

// TurnFilter narrows ListTurns. Zero fields match everything.
type TurnFilter struct {
	SenderID string
	Intent   string
	Limit    int
}
