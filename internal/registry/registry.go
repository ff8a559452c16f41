// Package registry holds the static catalog of participant templates.
package registry

import (
	"errors"
	"fmt"
	"os"

	"github.com/ashureev/roundtable/internal/domain"
	"gopkg.in/yaml.v3"
)

var (
	// ErrDuplicateProfile is returned when a catalog repeats a profile ID.
	ErrDuplicateProfile = errors.New("duplicate profile id")
	// ErrInvalidProfile is returned when a profile lacks required fields.
	ErrInvalidProfile = errors.New("invalid profile")
)

// Registry is an immutable, ordered catalog of participant templates.
type Registry struct {
	profiles []domain.Participant
	byID     map[string]int
}

// New builds a registry from profiles. Profiles keep their given order.
func New(profiles []domain.Participant) (*Registry, error) {
	r := &Registry{
		profiles: make([]domain.Participant, 0, len(profiles)),
		byID:     make(map[string]int, len(profiles)),
	}
	for _, p := range profiles {
		if p.ID == "" || p.SystemPrompt == "" {
			return nil, fmt.Errorf("%w: id and system_prompt are required (id=%q)", ErrInvalidProfile, p.ID)
		}
		if _, dup := r.byID[p.ID]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateProfile, p.ID)
		}
		if p.ContextPreferences.MaxTokens <= 0 {
			p.ContextPreferences.MaxTokens = 8000
		}
		if p.ContextPreferences.SummaryStyle == "" {
			p.ContextPreferences.SummaryStyle = domain.SummaryConcise
		}
		r.byID[p.ID] = len(r.profiles)
		r.profiles = append(r.profiles, p.Clone())
	}
	return r, nil
}

// Default returns the built-in catalog.
func Default() *Registry {
	r, err := New(defaultProfiles())
	if err != nil {
		panic("registry: invalid built-in profiles: " + err.Error())
	}
	return r
}

type catalogFile struct {
	Profiles []domain.Participant `yaml:"profiles"`
}

// LoadFile reads a YAML catalog of the form:
//
//	profiles:
//	  - id: doctor-1
//	    name: Dr. Sarah Chen
//	    system_prompt: ...
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profiles file: %w", err)
	}
	var cf catalogFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return nil, fmt.Errorf("parse profiles file: %w", err)
	}
	if len(cf.Profiles) == 0 {
		return nil, fmt.Errorf("%w: %s defines no profiles", ErrInvalidProfile, path)
	}
	return New(cf.Profiles)
}

// List returns a copy of all profiles in catalog order.
func (r *Registry) List() []domain.Participant {
	out := make([]domain.Participant, len(r.profiles))
	for i, p := range r.profiles {
		out[i] = p.Clone()
	}
	return out
}

// Get returns the profile with the given ID.
func (r *Registry) Get(id string) (domain.Participant, bool) {
	i, ok := r.byID[id]
	if !ok {
		return domain.Participant{}, false
	}
	return r.profiles[i].Clone(), true
}

// Resolve maps IDs to profiles, preserving the requested order.
func (r *Registry) Resolve(ids []string) ([]domain.Participant, error) {
	out := make([]domain.Participant, 0, len(ids))
	for _, id := range ids {
		p, ok := r.Get(id)
		if !ok {
			return nil, fmt.Errorf("unknown participant %q", id)
		}
		out = append(out, p)
	}
	return out, nil
}

func defaultProfiles() []domain.Participant {
	return []domain.Participant{
		{
			ID:           "doctor-1",
			Name:         "Dr. Sarah Chen",
			Personality:  "Precision-focused and evidence-based",
			Role:         "Doctor",
			Traits:       []string{"analytical", "cautious", "detail-oriented"},
			SystemPrompt: "You are Dr. Sarah Chen, a precision-focused doctor who values evidence-based reasoning. You are analytical, cautious, and detail-oriented. In discussions, you focus on facts, research, and careful consideration of all variables.",
			ContextPreferences: domain.ContextPreferences{
				MaxTokens:    8000,
				SummaryStyle: domain.SummaryDetailed,
			},
		},
		{
			ID:           "researcher-1",
			Name:         "Alex Rivera",
			Personality:  "Exploration-minded and innovative",
			Role:         "Researcher",
			Traits:       []string{"curious", "creative", "risk-taking"},
			SystemPrompt: "You are Alex Rivera, an exploration-minded researcher who thrives on innovation and discovery. You are curious, creative, and willing to take calculated risks. You often propose novel approaches and challenge conventional thinking.",
			ContextPreferences: domain.ContextPreferences{
				MaxTokens:    8000,
				SummaryStyle: domain.SummaryConcise,
			},
		},
		{
			ID:           "engineer-1",
			Name:         "Marcus Thompson",
			Personality:  "Practical and solution-oriented",
			Role:         "Engineer",
			Traits:       []string{"pragmatic", "systematic", "efficient"},
			SystemPrompt: "You are Marcus Thompson, a practical engineer focused on finding workable solutions. You are pragmatic, systematic, and value efficiency. You break down complex problems into manageable components.",
			ContextPreferences: domain.ContextPreferences{
				MaxTokens:    8000,
				SummaryStyle: domain.SummaryConcise,
			},
		},
	}
}
