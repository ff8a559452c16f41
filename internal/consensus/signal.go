package consensus

import (
	"regexp"

	"github.com/ashureev/roundtable/internal/domain"
)

// PositionConfidence is the confidence assigned to a declared position.
const PositionConfidence = 8

var (
	hasMorePattern   = regexp.MustCompile(`(?i)\[SIGNAL:\s*HAS_MORE\]`)
	satisfiedPattern = regexp.MustCompile(`(?i)\[SIGNAL:\s*SATISFIED\]`)
	positionPattern  = regexp.MustCompile(`(?i)\[SIGNAL:\s*POSITION:\s*"([^"]+)"\]`)
)

// ParseSignal scans generated text for a consensus marker. It returns nil
// when no marker is present. When several markers appear, has_more wins over
// satisfied, which wins over position.
func ParseSignal(text string) *domain.ConsensusSignal {
	if hasMorePattern.MatchString(text) {
		return &domain.ConsensusSignal{Signal: domain.SignalHasMore}
	}
	if satisfiedPattern.MatchString(text) {
		return &domain.ConsensusSignal{Signal: domain.SignalSatisfied}
	}
	if m := positionPattern.FindStringSubmatch(text); m != nil {
		return &domain.ConsensusSignal{
			Signal:     domain.SignalPositionChange,
			Position:   m[1],
			Confidence: PositionConfidence,
		}
	}
	return nil
}
