package domain

import (
	"time"
)

// Consensus defaults and limits.
const (
	DefaultMaxRounds    = 5
	DefaultConfidence   = 5
	MaxMessagesPerRound = 10
	MinConfidence       = 1
	MaxConfidence       = 10
	NoConsensusDecision = "No clear consensus reached"
)

// AgentConsensusState is the per-participant consensus bookkeeping.
type AgentConsensusState struct {
	ParticipantID     string `json:"participant_id"`
	CurrentPosition   string `json:"current_position"`
	Confidence        int    `json:"confidence"`
	HasMoreToSay      bool   `json:"has_more_to_say"`
	RoundsActive      int    `json:"rounds_active"`
	LastActive        int    `json:"last_active"`
	MessagesThisRound int    `json:"messages_this_round"`
}

// Position is a declared stance on the consensus question.
type Position struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Supporters []string  `json:"supporters"`
	CreatedBy  string    `json:"created_by"`
	CreatedAt  time.Time `json:"created_at"`
}

// ConsensusState is the consensus sub-state of a consensus-mode session.
//
// Agents is kept in participant order so that every scan over it is
// deterministic; the index is rebuilt on demand after decoding or copying.
// ConsensusState is not safe for concurrent use.
type ConsensusState struct {
	Question         string                 `json:"question"`
	CurrentRound     int                    `json:"current_round"`
	MaxRounds        int                    `json:"max_rounds"`
	Agents           []*AgentConsensusState `json:"agent_states"`
	Positions        []Position             `json:"positions"`
	FinalDecision    string                 `json:"final_decision,omitempty"`
	ConsensusReached bool                   `json:"consensus_reached"`

	index map[string]int
}

// Agent returns the state for a participant.
func (c *ConsensusState) Agent(participantID string) (*AgentConsensusState, bool) {
	if c == nil {
		return nil, false
	}
	if i, ok := c.index[participantID]; ok && i < len(c.Agents) && c.Agents[i].ParticipantID == participantID {
		return c.Agents[i], true
	}
	c.reindex()
	i, ok := c.index[participantID]
	if !ok {
		return nil, false
	}
	return c.Agents[i], true
}

// AddAgent appends a fresh default state for a participant. Existing
// entries are left untouched.
func (c *ConsensusState) AddAgent(participantID string) *AgentConsensusState {
	if a, ok := c.Agent(participantID); ok {
		return a
	}
	a := &AgentConsensusState{
		ParticipantID: participantID,
		Confidence:    DefaultConfidence,
		HasMoreToSay:  true,
	}
	c.Agents = append(c.Agents, a)
	if c.index == nil {
		c.index = make(map[string]int)
	}
	c.index[participantID] = len(c.Agents) - 1
	return a
}

// Finalized reports whether the state has reached its terminal state.
func (c *ConsensusState) Finalized() bool {
	return c != nil && c.ConsensusReached
}

func (c *ConsensusState) reindex() {
	c.index = make(map[string]int, len(c.Agents))
	for i, a := range c.Agents {
		c.index[a.ParticipantID] = i
	}
}

// Clone returns a deep copy of c.
func (c *ConsensusState) Clone() *ConsensusState {
	if c == nil {
		return nil
	}
	out := *c
	out.index = nil
	out.Agents = make([]*AgentConsensusState, len(c.Agents))
	for i, a := range c.Agents {
		cp := *a
		out.Agents[i] = &cp
	}
	out.Positions = make([]Position, len(c.Positions))
	for i, p := range c.Positions {
		p.Supporters = append([]string(nil), p.Supporters...)
		out.Positions[i] = p
	}
	return &out
}
