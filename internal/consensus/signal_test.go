package consensus

import (
	"testing"

	"github.com/ashureev/roundtable/internal/domain"
)

func TestParseSignal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		text     string
		want     domain.Signal
		position string
		none     bool
	}{
		{name: "satisfied", text: "I agree with the plan. [SIGNAL: SATISFIED]", want: domain.SignalSatisfied},
		{name: "has more", text: "[SIGNAL: HAS_MORE] more to come", want: domain.SignalHasMore},
		{name: "case insensitive", text: "done [signal:satisfied]", want: domain.SignalSatisfied},
		{name: "position", text: `We should pivot. [SIGNAL: POSITION: "Adopt plan B"]`, want: domain.SignalPositionChange, position: "Adopt plan B"},
		{name: "position extra spacing", text: `[SIGNAL:   position:  "Ban plastic bags"]`, want: domain.SignalPositionChange, position: "Ban plastic bags"},
		{name: "has more beats satisfied", text: "[SIGNAL: SATISFIED] ... [SIGNAL: HAS_MORE]", want: domain.SignalHasMore},
		{name: "satisfied beats position", text: `[SIGNAL: POSITION: "X"] [SIGNAL: SATISFIED]`, want: domain.SignalSatisfied},
		{name: "no marker", text: "Just an opinion with no signal.", none: true},
		{name: "empty position", text: `[SIGNAL: POSITION: ""]`, none: true},
		{name: "malformed", text: "[SIGNAL SATISFIED]", none: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := ParseSignal(tt.text)
			if tt.none {
				if got != nil {
					t.Fatalf("Expected no signal, got %+v", got)
				}
				return
			}
			if got == nil {
				t.Fatal("Expected a signal, got nil")
			}
			if got.Signal != tt.want {
				t.Errorf("Expected signal %q, got %q", tt.want, got.Signal)
			}
			if got.Position != tt.position {
				t.Errorf("Expected position %q, got %q", tt.position, got.Position)
			}
			if tt.want == domain.SignalPositionChange && got.Confidence != PositionConfidence {
				t.Errorf("Expected confidence %d, got %d", PositionConfidence, got.Confidence)
			}
			if tt.want != domain.SignalPositionChange && got.Confidence != 0 {
				t.Errorf("Expected no confidence, got %d", got.Confidence)
			}
		})
	}
}
