package consensus

import (
	"fmt"
	"strings"

	"github.com/ashureev/roundtable/internal/domain"
)

// BuildPrompt composes the consensus instructions for participantID.
// history is the already rendered recent transcript, one line per message.
func BuildPrompt(state *domain.ConsensusState, participantID, history string) string {
	var b strings.Builder

	if state.CurrentRound > 1 {
		fmt.Fprintf(&b, "This is round %d of %d. ", state.CurrentRound, state.MaxRounds)
	}
	fmt.Fprintf(&b, "We are working toward consensus on: \"%s\"\n\n", state.Question)

	b.WriteString("CONSENSUS PROTOCOL: At the end of your response, you MUST include one of these signals:\n")
	b.WriteString("[SIGNAL: HAS_MORE] - You have additional important points to raise\n")
	b.WriteString("[SIGNAL: SATISFIED] - You've said everything you wanted and accept the current direction\n")
	b.WriteString("[SIGNAL: POSITION: \"your clear position statement\"] - You're stating/updating your position on the question\n\n")

	var others []string
	for _, a := range state.Agents {
		if a.ParticipantID != participantID && a.CurrentPosition != "" {
			others = append(others, a.CurrentPosition)
		}
	}
	if len(others) == 0 {
		b.WriteString("Current positions from other participants: None stated yet\n\n")
	} else {
		fmt.Fprintf(&b, "Current positions from other participants: %s\n\n", strings.Join(others, "; "))
	}

	own := "Not yet stated"
	if a, ok := state.Agent(participantID); ok && a.CurrentPosition != "" {
		own = a.CurrentPosition
	}
	fmt.Fprintf(&b, "Your previous position: %s\n\n", own)

	b.WriteString("Guidelines for consensus building:\n")
	b.WriteString("- Listen carefully to others and build on their ideas\n")
	b.WriteString("- Be willing to compromise while maintaining your core principles\n")
	b.WriteString("- Clearly state your position when you're ready\n")
	b.WriteString("- Signal when you're satisfied or have more to contribute\n")
	b.WriteString("- Focus on finding common ground\n\n")

	b.WriteString("Recent discussion:\n")
	b.WriteString(history)
	b.WriteString("\n\nPlease contribute thoughtfully to reaching consensus. Remember to end with a signal.")

	return b.String()
}
