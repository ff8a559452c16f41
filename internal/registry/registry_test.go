package registry

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ashureev/roundtable/internal/domain"
)

func TestDefaultCatalog(t *testing.T) {
	t.Parallel()

	r := Default()
	profiles := r.List()
	if len(profiles) != 3 {
		t.Fatalf("Expected 3 default profiles, got %d", len(profiles))
	}

	want := []string{"doctor-1", "researcher-1", "engineer-1"}
	for i, id := range want {
		if profiles[i].ID != id {
			t.Errorf("profile %d: expected %q, got %q", i, id, profiles[i].ID)
		}
		if profiles[i].Model != "" {
			t.Errorf("profile %s: expected no model override, got %q", id, profiles[i].Model)
		}
	}
}

func TestListReturnsCopies(t *testing.T) {
	t.Parallel()

	r := Default()
	profiles := r.List()
	profiles[0].Traits[0] = "mutated"

	again, _ := r.Get("doctor-1")
	if again.Traits[0] == "mutated" {
		t.Fatal("expected registry to be immune to caller mutation")
	}
}

func TestResolvePreservesOrder(t *testing.T) {
	t.Parallel()

	r := Default()
	got, err := r.Resolve([]string{"engineer-1", "doctor-1"})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if got[0].ID != "engineer-1" || got[1].ID != "doctor-1" {
		t.Errorf("unexpected order: %s, %s", got[0].ID, got[1].ID)
	}

	if _, err := r.Resolve([]string{"nobody"}); err == nil {
		t.Error("expected error for unknown participant")
	}
}

func TestNewRejectsDuplicates(t *testing.T) {
	t.Parallel()

	p := domain.Participant{ID: "a", SystemPrompt: "x"}
	_, err := New([]domain.Participant{p, p})
	if !errors.Is(err, ErrDuplicateProfile) {
		t.Fatalf("Expected ErrDuplicateProfile, got %v", err)
	}

	_, err = New([]domain.Participant{{ID: "b"}})
	if !errors.Is(err, ErrInvalidProfile) {
		t.Fatalf("Expected ErrInvalidProfile, got %v", err)
	}
}

func TestLoadFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "profiles.yaml")
	content := `profiles:
  - id: economist-1
    name: Priya Nair
    role: Economist
    traits: [quantitative, skeptical]
    system_prompt: You are Priya Nair, an economist.
    context_preferences:
      max_tokens: 4000
      summary_style: detailed
  - id: ethicist-1
    name: Tomas Berg
    system_prompt: You are Tomas Berg, an ethicist.
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write catalog: %v", err)
	}

	r, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}

	econ, ok := r.Get("economist-1")
	if !ok {
		t.Fatal("expected economist-1 to be loaded")
	}
	if econ.ContextPreferences.MaxTokens != 4000 {
		t.Errorf("Expected max_tokens 4000, got %d", econ.ContextPreferences.MaxTokens)
	}
	if econ.ContextPreferences.SummaryStyle != domain.SummaryDetailed {
		t.Errorf("Expected detailed summary style, got %q", econ.ContextPreferences.SummaryStyle)
	}

	ethicist, _ := r.Get("ethicist-1")
	if ethicist.Model != "" {
		t.Errorf("Expected empty model so the backend default applies, got %q", ethicist.Model)
	}
	if ethicist.ContextPreferences.SummaryStyle != domain.SummaryConcise {
		t.Errorf("Expected concise fallback, got %q", ethicist.ContextPreferences.SummaryStyle)
	}
}

func TestLoadFileEmpty(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "empty.yaml")
	if err := os.WriteFile(path, []byte("profiles: []\n"), 0o600); err != nil {
		t.Fatalf("write catalog: %v", err)
	}
	if _, err := LoadFile(path); !errors.Is(err, ErrInvalidProfile) {
		t.Fatalf("Expected ErrInvalidProfile, got %v", err)
	}
}
