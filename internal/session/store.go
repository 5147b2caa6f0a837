// Package session keeps per-sender conversational memory in process. Records
// expire after a TTL and are garbage-collected by an amortized sweep.
package session

import (
	"encoding/json"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/kalambet/dialogo/internal/catalog"
	"github.com/kalambet/dialogo/internal/fallback"
	"github.com/kalambet/dialogo/internal/workflow"
)

const (
	// DefaultTTL is how long a record stays valid after its last write.
	DefaultTTL = 300 * time.Second
	// DefaultSweepEvery is the number of Read/Write calls between sweeps.
	DefaultSweepEvery = 50
)

// continuation intents keep the detail context of the previous topic.
var continuation = map[catalog.IntentID]bool{
	"confirm_show_details": true,
	"decline_show_details": true,
	catalog.Fallback:       true,
}

// IsContinuation reports whether id continues the previous topic.
func IsContinuation(id catalog.IntentID) bool {
	return continuation[id]
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// FallbackState tracks an unresolved recovery streak.
type FallbackState struct {
	Suggestions      []fallback.Suggestion `json:"suggestions,omitempty"`
	Phase            int                   `json:"phase,omitempty"`
	Count            int                   `json:"count,omitempty"`
	SelectedCategory string                `json:"selected_category,omitempty"`
	OriginalMessage  string                `json:"original_message,omitempty"`
}

// Pending reports whether a menu is waiting for the user's selection.
func (f FallbackState) Pending() bool {
	return len(f.Suggestions) > 0
}

func (f FallbackState) clone() FallbackState {
	f.Suggestions = fallback.CloneSuggestions(f.Suggestions)
	return f
}

// Record is the conversational memory of one sender.
type Record struct {
	LastIntent    catalog.IntentID  `json:"last_intent,omitempty"`
	LastSlots     map[string]string `json:"last_slots,omitempty"`
	DetailContext json.RawMessage   `json:"detail_context,omitempty"`
	DialogueState json.RawMessage   `json:"dialogue_state,omitempty"`
	Workflow      *workflow.Context `json:"workflow,omitempty"`
	Fallback      FallbackState     `json:"fallback"`
	Timestamp     time.Time         `json:"timestamp"`
	// Valid is false when the record is absent or older than the TTL.
	Valid bool `json:"session_valid"`
}

// HasDetailContext reports whether a follow-up "show details" can resolve.
func (r Record) HasDetailContext() bool {
	return len(r.DetailContext) > 0
}

func (r Record) clone() Record {
	r.LastSlots = maps.Clone(r.LastSlots)
	r.DetailContext = slices.Clone(r.DetailContext)
	r.DialogueState = slices.Clone(r.DialogueState)
	r.Workflow = r.Workflow.Clone()
	r.Fallback = r.Fallback.clone()
	return r
}

// Update carries the fields written at the end of a turn.
type Update struct {
	Intent catalog.IntentID
	Slots  map[string]string
	// DetailContext and DialogueState replace the stored payloads when
	// non-nil; nil keeps them unless the topic changed.
	DetailContext json.RawMessage
	DialogueState json.RawMessage
	// Workflow replaces the stored workflow; nil ends it.
	Workflow *workflow.Context
	Fallback FallbackState
}

// Store is a TTL-bounded, mutex-guarded map of sender records. Callers
// always receive copies.
type Store struct {
	clock      Clock
	ttl        time.Duration
	sweepEvery int

	mu      sync.Mutex
	records map[string]Record
	calls   int
}

// New creates a Store with the given TTL and sweep cadence. Non-positive
// values select the defaults.
func New(ttl time.Duration, sweepEvery int) *Store {
	return NewWithClock(ttl, sweepEvery, realClock{})
}

// NewWithClock creates a Store with a custom clock (for testing).
func NewWithClock(ttl time.Duration, sweepEvery int, clock Clock) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if sweepEvery <= 0 {
		sweepEvery = DefaultSweepEvery
	}
	return &Store{
		clock:      clock,
		ttl:        ttl,
		sweepEvery: sweepEvery,
		records:    make(map[string]Record),
	}
}

// Read returns a copy of the sender's record. Absent senders yield a zero
// record; expired ones keep only the diagnostic fields.
func (s *Store) Read(senderID string) Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tick()

	rec, ok := s.records[senderID]
	if !ok {
		return Record{}
	}
	out := rec.clone()
	out.Valid = s.valid(rec)
	if !out.Valid {
		out.DetailContext = nil
		out.DialogueState = nil
		out.Workflow = nil
		out.Fallback = FallbackState{}
	}
	return out
}

// Write merges u into the sender's record. When the intent changes to one
// outside the continuation set, the previous detail context and dialogue
// state are dropped before merging. Fallback state survives only while the
// turn carries suggestions or is itself a fallback.
func (s *Store) Write(senderID string, u Update) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tick()

	prev, ok := s.records[senderID]
	if !ok || !s.valid(prev) {
		prev = Record{}
	}

	rec := prev
	if prev.LastIntent != "" && prev.LastIntent != u.Intent && !IsContinuation(u.Intent) {
		rec.DetailContext = nil
		rec.DialogueState = nil
	}

	rec.LastIntent = u.Intent
	rec.LastSlots = maps.Clone(u.Slots)
	if u.DetailContext != nil {
		rec.DetailContext = slices.Clone(u.DetailContext)
	}
	if u.DialogueState != nil {
		rec.DialogueState = slices.Clone(u.DialogueState)
	}
	rec.Workflow = u.Workflow.Clone()
	if u.Fallback.Pending() || u.Intent == catalog.Fallback {
		rec.Fallback = u.Fallback.clone()
	} else {
		rec.Fallback = FallbackState{}
	}
	rec.Timestamp = s.clock.Now()
	rec.Valid = false
	s.records[senderID] = rec
}

// InvalidateWorkflow ends the sender's active workflow, if any.
func (s *Store) InvalidateWorkflow(senderID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.records[senderID]; ok && rec.Workflow != nil {
		rec.Workflow = nil
		s.records[senderID] = rec
	}
}

// Delete removes the sender's record.
func (s *Store) Delete(senderID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, senderID)
}

// Sweep deletes records older than twice the TTL and returns how many
// were removed.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweep()
}

// Len returns the number of stored records, including expired ones not yet swept.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func (s *Store) valid(rec Record) bool {
	return s.clock.Now().Sub(rec.Timestamp) <= s.ttl
}

// tick counts a call and sweeps every sweepEvery calls. Caller holds mu.
func (s *Store) tick() {
	s.calls++
	if s.calls%s.sweepEvery == 0 {
		s.sweep()
	}
}

func (s *Store) sweep() int {
	cutoff := s.clock.Now().Add(-2 * s.ttl)
	removed := 0
	for id, rec := range s.records {
		if rec.Timestamp.Before(cutoff) {
			delete(s.records, id)
			removed++
		}
	}
	return removed
}
