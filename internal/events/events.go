// Package events defines the outbound notifications emitted while a
// session runs and the fan-out bus that delivers them to sinks.
package events

import (
	"time"

	"github.com/ashureev/roundtable/internal/domain"
)

// Type identifies a notification. Values double as WebSocket message types.
type Type string

const (
	TypeParticipantThinking Type = "agent_thinking"
	TypeMessageAppended     Type = "agent_message"
	TypeRoundAdvanced       Type = "round_advanced"
	TypeConsensusReached    Type = "consensus_reached"
	TypeGenerationError     Type = "error"
	TypeSessionUpdate       Type = "session_update"
	TypeModeratorInput      Type = "moderator_input"
)

// Error codes carried by TypeGenerationError events.
const (
	CodeAgentError = "AGENT_ERROR"
)

// ErrorInfo describes a failure surfaced to observers.
type ErrorInfo struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Event is a single fire-and-forget notification about a session.
type Event struct {
	Type          Type                 `json:"type"`
	SessionID     string               `json:"session_id"`
	ParticipantID string               `json:"participant_id,omitempty"`
	Message       *domain.Message      `json:"message,omitempty"`
	Round         int                  `json:"round,omitempty"`
	Decision      string               `json:"decision,omitempty"`
	Forced        bool                 `json:"forced,omitempty"`
	Status        domain.SessionStatus `json:"status,omitempty"`
	Content       string               `json:"content,omitempty"`
	InputKind     string               `json:"input_kind,omitempty"`
	Error         *ErrorInfo           `json:"error,omitempty"`
	Timestamp     time.Time            `json:"timestamp"`
}

// Sink receives notifications. Publish must not block the caller for long;
// no acknowledgment is expected.
type Sink interface {
	Publish(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

// Publish calls f(e).
func (f SinkFunc) Publish(e Event) { f(e) }

// ParticipantThinking is emitted when a participant starts generating.
func ParticipantThinking(sessionID, participantID string) Event {
	return Event{Type: TypeParticipantThinking, SessionID: sessionID, ParticipantID: participantID, Timestamp: time.Now()}
}

// MessageAppended is emitted for every message added to a transcript.
func MessageAppended(msg domain.Message) Event {
	m := msg.Clone()
	return Event{Type: TypeMessageAppended, SessionID: msg.SessionID, ParticipantID: msg.SpeakerID, Message: &m, Timestamp: time.Now()}
}

// RoundAdvanced is emitted when a consensus session enters a new round.
func RoundAdvanced(sessionID string, round int) Event {
	return Event{Type: TypeRoundAdvanced, SessionID: sessionID, Round: round, Timestamp: time.Now()}
}

// ConsensusReached is emitted when a consensus session is finalized.
// forced marks a decision taken because the round limit was hit.
func ConsensusReached(sessionID, decision string, round int, forced bool) Event {
	return Event{
		Type:      TypeConsensusReached,
		SessionID: sessionID,
		Decision:  decision,
		Round:     round,
		Forced:    forced,
		Timestamp: time.Now(),
	}
}

// GenerationError is emitted when a turn fails to produce a message.
func GenerationError(sessionID, participantID, message, code string) Event {
	return Event{
		Type:          TypeGenerationError,
		SessionID:     sessionID,
		ParticipantID: participantID,
		Error:         &ErrorInfo{Message: message, Code: code},
		Timestamp:     time.Now(),
	}
}

// SessionUpdate is emitted when a session changes status.
func SessionUpdate(sessionID string, status domain.SessionStatus) Event {
	return Event{Type: TypeSessionUpdate, SessionID: sessionID, Status: status, Timestamp: time.Now()}
}

// ModeratorInput echoes a moderator action to observers.
func ModeratorInput(sessionID, content, kind string) Event {
	return Event{Type: TypeModeratorInput, SessionID: sessionID, Content: content, InputKind: kind, Timestamp: time.Now()}
}
