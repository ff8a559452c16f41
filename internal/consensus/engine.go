package consensus

import (
	"slices"

	"github.com/ashureev/roundtable/internal/domain"
	"github.com/google/uuid"
)

// Convergence thresholds.
const (
	// StrongSupport is the share of participants a position needs, together
	// with MinMeanConfidence, to be adopted outright.
	StrongSupport = 0.6
	// MinMeanConfidence is the mean supporter confidence for strong support.
	MinMeanConfidence = 7.0
	// SatisfiedSupport is the share the largest position needs once every
	// participant has signalled satisfaction.
	SatisfiedSupport = 0.4
)

// Outcome is the result of convergence detection.
type Outcome struct {
	Reached  bool   `json:"reached"`
	Decision string `json:"decision,omitempty"`
}

// Initialize builds a fresh consensus state with one default entry per
// participant. A non-positive maxRounds selects domain.DefaultMaxRounds.
func Initialize(participantIDs []string, question string, maxRounds int) *domain.ConsensusState {
	if maxRounds <= 0 {
		maxRounds = domain.DefaultMaxRounds
	}
	state := &domain.ConsensusState{
		Question:     question,
		CurrentRound: 1,
		MaxRounds:    maxRounds,
		Agents:       make([]*domain.AgentConsensusState, 0, len(participantIDs)),
		Positions:    []domain.Position{},
	}
	for _, id := range participantIDs {
		state.AddAgent(id)
	}
	return state
}

// UpdateAgentState records a contribution by participantID in the current
// round and applies the message's signal, if any. It returns false, leaving
// the state untouched, when the participant is unknown or the state is
// finalized.
func UpdateAgentState(state *domain.ConsensusState, participantID string, msg domain.Message) bool {
	if state == nil || state.Finalized() {
		return false
	}
	agent, ok := state.Agent(participantID)
	if !ok {
		return false
	}

	agent.LastActive = state.CurrentRound
	agent.RoundsActive++
	if agent.MessagesThisRound < domain.MaxMessagesPerRound {
		agent.MessagesThisRound++
	}

	sig := msg.Consensus
	if sig == nil {
		return true
	}
	switch sig.Signal {
	case domain.SignalSatisfied:
		agent.HasMoreToSay = false
	case domain.SignalHasMore:
		agent.HasMoreToSay = true
	case domain.SignalPositionChange:
		if sig.Position != "" {
			agent.CurrentPosition = sig.Position
			recordPosition(state, participantID, msg)
		}
		if sig.Confidence != 0 {
			agent.Confidence = clampConfidence(sig.Confidence)
		}
	}
	return true
}

// recordPosition moves participantID's support to the declared position,
// creating the position on first declaration.
func recordPosition(state *domain.ConsensusState, participantID string, msg domain.Message) {
	title := msg.Consensus.Position
	found := false
	for i := range state.Positions {
		p := &state.Positions[i]
		if p.Title == title {
			found = true
			if !slices.Contains(p.Supporters, participantID) {
				p.Supporters = append(p.Supporters, participantID)
			}
			continue
		}
		p.Supporters = slices.DeleteFunc(p.Supporters, func(id string) bool { return id == participantID })
	}
	if found {
		return
	}
	state.Positions = append(state.Positions, domain.Position{
		ID:         uuid.NewString(),
		Title:      title,
		Supporters: []string{participantID},
		CreatedBy:  participantID,
		CreatedAt:  msg.Timestamp,
	})
}

// CheckRoundComplete reports whether every participant is satisfied or
// every participant has spoken in the current round.
func CheckRoundComplete(state *domain.ConsensusState) bool {
	if state == nil {
		return false
	}
	satisfied, spoke := 0, 0
	for _, a := range state.Agents {
		if !a.HasMoreToSay {
			satisfied++
		}
		if a.LastActive == state.CurrentRound {
			spoke++
		}
	}
	return satisfied == len(state.Agents) || spoke == len(state.Agents)
}

// ShouldAdvanceRound reports whether the current round is complete and
// another round is available.
func ShouldAdvanceRound(state *domain.ConsensusState) bool {
	return state != nil &&
		!state.Finalized() &&
		CheckRoundComplete(state) &&
		state.CurrentRound < state.MaxRounds
}

// AdvanceRound starts the next round: every participant gets hasMoreToSay
// back and a zeroed per-round message count. Positions, confidence and
// activity history carry over. It returns false without change when the
// state is finalized or already at its last round.
func AdvanceRound(state *domain.ConsensusState) bool {
	if state == nil || state.Finalized() || state.CurrentRound >= state.MaxRounds {
		return false
	}
	state.CurrentRound++
	for _, a := range state.Agents {
		a.HasMoreToSay = true
		a.MessagesThisRound = 0
	}
	return true
}

type positionGroup struct {
	position   string
	supporters []*domain.AgentConsensusState
}

// groupByPosition groups participants with a stated position, ordered by
// first appearance in participant order.
func groupByPosition(state *domain.ConsensusState) []*positionGroup {
	var groups []*positionGroup
	byPosition := make(map[string]*positionGroup)
	for _, a := range state.Agents {
		if a.CurrentPosition == "" {
			continue
		}
		g, ok := byPosition[a.CurrentPosition]
		if !ok {
			g = &positionGroup{position: a.CurrentPosition}
			byPosition[a.CurrentPosition] = g
			groups = append(groups, g)
		}
		g.supporters = append(g.supporters, a)
	}
	return groups
}

func largestGroup(groups []*positionGroup) *positionGroup {
	var best *positionGroup
	for _, g := range groups {
		if best == nil || len(g.supporters) > len(best.supporters) {
			best = g
		}
	}
	return best
}

// DetectConsensus reports whether the group has converged.
//
// A position held by at least StrongSupport of participants with mean
// confidence of at least MinMeanConfidence is adopted. Failing that, once
// every participant is satisfied, the largest position is adopted if it
// holds at least SatisfiedSupport of participants. Equal-sized groups are
// resolved in favor of the one stated first in participant order.
func DetectConsensus(state *domain.ConsensusState) Outcome {
	if state == nil || len(state.Agents) == 0 {
		return Outcome{}
	}
	total := float64(len(state.Agents))
	groups := groupByPosition(state)

	for _, g := range groups {
		support := float64(len(g.supporters)) / total
		sum := 0
		for _, a := range g.supporters {
			sum += a.Confidence
		}
		mean := float64(sum) / float64(len(g.supporters))
		if support >= StrongSupport && mean >= MinMeanConfidence {
			return Outcome{Reached: true, Decision: g.position}
		}
	}

	if !allSatisfied(state) {
		return Outcome{}
	}
	if best := largestGroup(groups); best != nil && float64(len(best.supporters)) >= total*SatisfiedSupport {
		return Outcome{Reached: true, Decision: best.position}
	}
	return Outcome{}
}

// BestEffortDecision picks the decision recorded when the last round ends
// without convergence: the largest stated position, or
// domain.NoConsensusDecision when nobody stated one.
func BestEffortDecision(state *domain.ConsensusState) string {
	if state == nil {
		return domain.NoConsensusDecision
	}
	if best := largestGroup(groupByPosition(state)); best != nil {
		return best.position
	}
	return domain.NoConsensusDecision
}

// Finalize marks the state as converged on decision. It is a no-op on an
// already finalized state.
func Finalize(state *domain.ConsensusState, decision string) bool {
	if state == nil || state.Finalized() {
		return false
	}
	state.ConsensusReached = true
	state.FinalDecision = decision
	return true
}

// NextSpeaker picks who should speak next.
//
// Participants with more to say who have not spoken this round and are under
// the per-round message cap come first, least active overall first. Failing
// that, any participant with more to say under the cap is chosen, least
// recently active first. Ties keep participant order. It returns false when
// everyone is satisfied or rate-limited.
func NextSpeaker(state *domain.ConsensusState) (string, bool) {
	if state == nil || state.Finalized() {
		return "", false
	}

	var pick *domain.AgentConsensusState
	for _, a := range state.Agents {
		if !a.HasMoreToSay || a.LastActive >= state.CurrentRound || a.MessagesThisRound >= domain.MaxMessagesPerRound {
			continue
		}
		if pick == nil || a.RoundsActive < pick.RoundsActive {
			pick = a
		}
	}
	if pick != nil {
		return pick.ParticipantID, true
	}

	for _, a := range state.Agents {
		if !a.HasMoreToSay || a.MessagesThisRound >= domain.MaxMessagesPerRound {
			continue
		}
		if pick == nil || a.LastActive < pick.LastActive {
			pick = a
		}
	}
	if pick != nil {
		return pick.ParticipantID, true
	}
	return "", false
}

func allSatisfied(state *domain.ConsensusState) bool {
	for _, a := range state.Agents {
		if a.HasMoreToSay {
			return false
		}
	}
	return true
}

func clampConfidence(c int) int {
	if c < domain.MinConfidence {
		return domain.MinConfidence
	}
	if c > domain.MaxConfidence {
		return domain.MaxConfidence
	}
	return c
}
