package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ashureev/roundtable/internal/consensus"
	"github.com/ashureev/roundtable/internal/domain"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	repo, err := NewSQLite(filepath.Join(t.TempDir(), "data", "roundtable.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestSQLiteRoundTrip(t *testing.T) {
	t.Parallel()
	repo := newTestSQLite(t)
	ctx := context.Background()

	if err := repo.Ping(ctx); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}

	st := New()
	session := newConsensusSession(t, st, "a", "b", "c")
	text := `I think so. [SIGNAL: POSITION: "Ban"]`
	msg, err := st.AppendMessage(session.ID, domain.Message{
		SpeakerID: "a",
		Content:   text,
		Consensus: consensus.ParseSignal(text),
		Metadata:  domain.MessageMetadata{TokensUsed: 42, ResponseTimeMs: 1200},
	})
	if err != nil {
		t.Fatalf("AppendMessage failed: %v", err)
	}
	if err := st.UpdateConsensusState(session.ID, "a", msg); err != nil {
		t.Fatalf("UpdateConsensusState failed: %v", err)
	}
	if _, err := st.SetStatus(session.ID, domain.StatusActive); err != nil {
		t.Fatalf("SetStatus failed: %v", err)
	}

	snapshot, _ := st.Get(session.ID)
	if err := repo.SaveSession(ctx, snapshot); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}
	// Saving again must not duplicate messages.
	if err := repo.SaveSession(ctx, snapshot); err != nil {
		t.Fatalf("second SaveSession failed: %v", err)
	}

	loaded, err := repo.LoadSessions(ctx)
	if err != nil {
		t.Fatalf("LoadSessions failed: %v", err)
	}
	if len(loaded) != 1 {
		t.Fatalf("Expected 1 session, got %d", len(loaded))
	}
	got := loaded[0]
	if got.ID != session.ID || got.Title != "Plastic" || got.Mode != domain.ModeConsensus {
		t.Errorf("Expected session fields to round-trip, got %+v", got)
	}
	if got.Status != domain.StatusActive {
		t.Errorf("Expected active status, got %s", got.Status)
	}
	if len(got.Participants) != 3 || got.Participants[0].SystemPrompt != "You are a" {
		t.Errorf("Expected participants to round-trip, got %+v", got.Participants)
	}
	if len(got.Messages) != 1 {
		t.Fatalf("Expected 1 message, got %d", len(got.Messages))
	}
	m := got.Messages[0]
	if m.ID != msg.ID || m.Content != text || m.Metadata.TokensUsed != 42 || m.Metadata.ResponseTimeMs != 1200 {
		t.Errorf("Expected message to round-trip, got %+v", m)
	}
	if m.Consensus == nil || m.Consensus.Position != "Ban" {
		t.Errorf("Expected signal to round-trip, got %+v", m.Consensus)
	}
	if !m.Timestamp.Equal(msg.Timestamp.Truncate(time.Millisecond)) {
		t.Errorf("Expected timestamp %v, got %v", msg.Timestamp, m.Timestamp)
	}

	state := got.Consensus
	if state == nil {
		t.Fatal("Expected consensus state")
	}
	agent, ok := state.Agent("a")
	if !ok || agent.CurrentPosition != "Ban" || agent.Confidence != consensus.PositionConfidence {
		t.Errorf("Expected agent a on Ban, got %+v", agent)
	}
	if len(state.Positions) != 1 || state.Positions[0].Supporters[0] != "a" {
		t.Errorf("Expected one position supported by a, got %+v", state.Positions)
	}
}

func TestSQLiteUpdatesSession(t *testing.T) {
	t.Parallel()
	repo := newTestSQLite(t)
	ctx := context.Background()

	st := New()
	session, _ := st.Create(CreateParams{Title: "t", Goal: "g", Participants: participants("a", "b")})
	first, _ := st.Get(session.ID)
	if err := repo.SaveSession(ctx, first); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}

	_, _ = st.AppendMessage(session.ID, domain.Message{SpeakerID: "a", Content: "one"})
	_, _ = st.AppendMessage(session.ID, domain.Message{SpeakerID: "b", Content: "two"})
	_, _ = st.SetStatus(session.ID, domain.StatusActive)
	second, _ := st.Get(session.ID)
	if err := repo.SaveSession(ctx, second); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}

	loaded, err := repo.LoadSessions(ctx)
	if err != nil {
		t.Fatalf("LoadSessions failed: %v", err)
	}
	got := loaded[0]
	if got.Status != domain.StatusActive {
		t.Errorf("Expected active, got %s", got.Status)
	}
	if got.Metadata.TotalMessages != 2 || len(got.Messages) != 2 {
		t.Errorf("Expected 2 messages, got total=%d len=%d", got.Metadata.TotalMessages, len(got.Messages))
	}
	if got.Messages[0].Content != "one" || got.Messages[1].Content != "two" {
		t.Errorf("Expected messages in order, got %+v", got.Messages)
	}
	if got.Consensus != nil {
		t.Error("Expected no consensus state for discussion session")
	}
}

func TestSQLiteReopen(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "roundtable.db")
	ctx := context.Background()

	repo, err := NewSQLite(path)
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	st := New()
	session, _ := st.Create(CreateParams{Title: "t", Goal: "g", Participants: participants("a")})
	snapshot, _ := st.Get(session.ID)
	if err := repo.SaveSession(ctx, snapshot); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}
	if err := repo.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := NewSQLite(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	loaded, err := reopened.LoadSessions(ctx)
	if err != nil {
		t.Fatalf("LoadSessions failed: %v", err)
	}
	if len(loaded) != 1 || loaded[0].ID != session.ID {
		t.Errorf("Expected persisted session after reopen, got %d sessions", len(loaded))
	}
}
