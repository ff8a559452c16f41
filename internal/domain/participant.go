package domain

// SummaryStyle controls how much history a participant prefers.
type SummaryStyle string

const (
	SummaryDetailed SummaryStyle = "detailed"
	SummaryConcise  SummaryStyle = "concise"
)

// ContextPreferences are per-participant generation parameters.
type ContextPreferences struct {
	MaxTokens    int          `json:"max_tokens" yaml:"max_tokens"`
	SummaryStyle SummaryStyle `json:"summary_style" yaml:"summary_style"`
}

// Participant is a discussion member template: identity, role, behavioral
// instructions and generation parameters.
type Participant struct {
	ID                 string             `json:"id" yaml:"id"`
	Name               string             `json:"name" yaml:"name"`
	Personality        string             `json:"personality" yaml:"personality"`
	Role               string             `json:"role" yaml:"role"`
	Traits             []string           `json:"traits" yaml:"traits"`
	SystemPrompt       string             `json:"system_prompt" yaml:"system_prompt"`
	// Model overrides the backend's configured model when set.
	Model              string             `json:"model" yaml:"model"`
	ContextPreferences ContextPreferences `json:"context_preferences" yaml:"context_preferences"`
}

// Clone returns a copy of p with its own traits slice.
func (p Participant) Clone() Participant {
	if p.Traits != nil {
		p.Traits = append([]string(nil), p.Traits...)
	}
	return p
}

// DisplayName returns Name, falling back to the ID.
func (p Participant) DisplayName() string {
	if p.Name != "" {
		return p.Name
	}
	return p.ID
}
