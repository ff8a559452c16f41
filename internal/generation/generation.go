// Package generation defines the text-generation contract used to produce
// participant contributions, and its backends.
package generation

import (
	"context"
	"errors"
)

var (
	// ErrEmptyResponse is returned when a provider answers without text.
	ErrEmptyResponse = errors.New("generation returned no text")
	// ErrMissingAPIKey is returned when a provider requires credentials
	// that were not configured.
	ErrMissingAPIKey = errors.New("generation API key is not configured")
)

// Request is a single generation call for one participant turn.
type Request struct {
	SessionID     string
	ParticipantID string
	// Model overrides the backend default when set.
	Model string
	// Instructions carry the participant's behavioral prompt.
	Instructions string
	// Context is the turn-specific text: goal, transcript, protocol.
	Context   string
	MaxTokens int
}

// Result is the generated contribution.
type Result struct {
	Text       string
	TokensUsed int
}

// Generator turns a participant's instructions and context into text.
// Implementations must be safe for concurrent use and should honor ctx
// cancellation.
type Generator interface {
	Generate(ctx context.Context, req Request) (Result, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, req Request) (Result, error)

// Generate calls f.
func (f GeneratorFunc) Generate(ctx context.Context, req Request) (Result, error) {
	return f(ctx, req)
}
