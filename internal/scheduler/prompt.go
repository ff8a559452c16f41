package scheduler

import (
	"fmt"
	"strings"

	"github.com/ashureev/roundtable/internal/consensus"
	"github.com/ashureev/roundtable/internal/domain"
	"github.com/ashureev/roundtable/internal/generation"
)

const unknownSpeaker = "Unknown Agent"

// speakerName labels a transcript line.
func speakerName(session *domain.Session, speakerID string) string {
	switch speakerID {
	case domain.SpeakerModerator:
		return "Moderator"
	case domain.SpeakerSystem:
		return "System"
	}
	if p, ok := session.Participant(speakerID); ok {
		return p.DisplayName()
	}
	return unknownSpeaker
}

// transcript renders messages as "Name: content" lines.
func transcript(session *domain.Session, msgs []domain.Message) string {
	lines := make([]string, 0, len(msgs))
	for _, m := range msgs {
		lines = append(lines, speakerName(session, m.SpeakerID)+": "+m.Content)
	}
	return strings.Join(lines, "\n")
}

// discussionContext is the turn text for open discussion.
func discussionContext(session *domain.Session, p domain.Participant, recent []domain.Message) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Session Goal: %s\n\n", session.Goal)
	b.WriteString("Recent Discussion:\n")
	b.WriteString(transcript(session, recent))
	fmt.Fprintf(&b, "\n\nPlease respond as %s in character, contributing meaningfully to the discussion "+
		"while staying true to your personality and role. Keep your response concise but thoughtful.", p.DisplayName())
	return b.String()
}

// buildRequest assembles the generation request for p's turn.
func buildRequest(session *domain.Session, p domain.Participant, window int) generation.Request {
	recent := session.RecentMessages(window)
	req := generation.Request{
		SessionID:     session.ID,
		ParticipantID: p.ID,
		Model:         p.Model,
		Instructions:  p.SystemPrompt,
		MaxTokens:     p.ContextPreferences.MaxTokens,
	}
	if session.Mode == domain.ModeConsensus && session.Consensus != nil {
		req.Context = fmt.Sprintf("Session Goal: %s\n\n%s", session.Goal,
			consensus.BuildPrompt(session.Consensus, p.ID, transcript(session, recent)))
		return req
	}
	req.Context = discussionContext(session, p, recent)
	return req
}
