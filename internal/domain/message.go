package domain

import (
	"time"
)

// Reserved speaker identifiers for messages not produced by a participant.
const (
	SpeakerModerator = "moderator"
	SpeakerSystem    = "system"
)

// MessageKind classifies who produced a message.
type MessageKind string

const (
	KindAgent     MessageKind = "agent"
	KindModerator MessageKind = "moderator"
	KindSystem    MessageKind = "system"
)

// Signal is a consensus marker carried by a participant contribution.
type Signal string

const (
	SignalHasMore        Signal = "has_more"
	SignalSatisfied      Signal = "satisfied"
	SignalPositionChange Signal = "position_change"
)

// ConsensusSignal is the parsed signal attached to an agent message.
type ConsensusSignal struct {
	Signal     Signal `json:"signal"`
	Position   string `json:"position,omitempty"`
	Confidence int    `json:"confidence,omitempty"`
}

// MessageMetadata holds generation bookkeeping for a message.
type MessageMetadata struct {
	TokensUsed     int   `json:"tokens_used"`
	ResponseTimeMs int64 `json:"response_time_ms"`
}

// Message is one entry in a session transcript. Messages are append-only.
type Message struct {
	ID        string           `json:"id"`
	SessionID string           `json:"session_id"`
	SpeakerID string           `json:"speaker_id"`
	Content   string           `json:"content"`
	Timestamp time.Time        `json:"timestamp"`
	Kind      MessageKind      `json:"kind"`
	Consensus *ConsensusSignal `json:"consensus,omitempty"`
	Metadata  MessageMetadata  `json:"metadata"`
}

// Clone returns a copy of m with its own signal.
func (m Message) Clone() Message {
	if m.Consensus != nil {
		sig := *m.Consensus
		m.Consensus = &sig
	}
	return m
}
