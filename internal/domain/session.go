// Package domain contains core domain types for the roundtable service.
package domain

import (
	"time"
)

// SessionStatus is the lifecycle state of a session.
type SessionStatus string

const (
	StatusActive    SessionStatus = "active"
	StatusPaused    SessionStatus = "paused"
	StatusCompleted SessionStatus = "completed"
)

// Valid reports whether s is a known status.
func (s SessionStatus) Valid() bool {
	switch s {
	case StatusActive, StatusPaused, StatusCompleted:
		return true
	}
	return false
}

// SessionMode selects how the next speaker is chosen.
type SessionMode string

const (
	// ModeDiscussion is open-ended round-robin discussion.
	ModeDiscussion SessionMode = "discussion"
	// ModeConsensus runs bounded rounds with agreement detection.
	ModeConsensus SessionMode = "consensus"
)

// SessionMetadata tracks activity on a session.
type SessionMetadata struct {
	CreatedAt     time.Time `json:"created_at"`
	LastActive    time.Time `json:"last_active"`
	TotalMessages int       `json:"total_messages"`
}

// Session is a multi-party discussion among a fixed roster of participants.
// Participant order is the round-robin order and never changes.
type Session struct {
	ID           string          `json:"id"`
	Title        string          `json:"title"`
	Goal         string          `json:"goal"`
	Participants []Participant   `json:"participants"`
	Messages     []Message       `json:"messages"`
	Status       SessionStatus   `json:"status"`
	Mode         SessionMode     `json:"mode"`
	Consensus    *ConsensusState `json:"consensus,omitempty"`
	Metadata     SessionMetadata `json:"metadata"`
}

// ParticipantIDs returns participant identifiers in session order.
func (s *Session) ParticipantIDs() []string {
	ids := make([]string, len(s.Participants))
	for i, p := range s.Participants {
		ids[i] = p.ID
	}
	return ids
}

// Participant returns the participant with the given ID.
func (s *Session) Participant(id string) (Participant, bool) {
	for _, p := range s.Participants {
		if p.ID == id {
			return p, true
		}
	}
	return Participant{}, false
}

// HasParticipant reports whether id belongs to the session roster.
func (s *Session) HasParticipant(id string) bool {
	_, ok := s.Participant(id)
	return ok
}

// IsActive returns true if turns may be scheduled for the session.
func (s *Session) IsActive() bool {
	return s.Status == StatusActive
}

// RecentMessages returns the last n messages in chronological order.
func (s *Session) RecentMessages(n int) []Message {
	if n <= 0 {
		return nil
	}
	if n >= len(s.Messages) {
		return s.Messages
	}
	return s.Messages[len(s.Messages)-n:]
}

// Clone returns a deep copy that shares no mutable state with s.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.Participants = make([]Participant, len(s.Participants))
	for i, p := range s.Participants {
		out.Participants[i] = p.Clone()
	}
	out.Messages = make([]Message, len(s.Messages))
	for i, m := range s.Messages {
		out.Messages[i] = m.Clone()
	}
	out.Consensus = s.Consensus.Clone()
	return &out
}
