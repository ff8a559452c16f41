package store

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/roundtable/internal/consensus"
	"github.com/ashureev/roundtable/internal/domain"
	"github.com/google/uuid"
)

// CreateParams describes a new session.
type CreateParams struct {
	Title        string
	Goal         string
	Participants []domain.Participant
	Mode         domain.SessionMode
	Question     string
	MaxRounds    int
}

// RoundStatus summarizes where a consensus session stands.
type RoundStatus struct {
	Round      int
	MaxRounds  int
	Complete   bool
	CanAdvance bool
	Finalized  bool
}

// Store is the in-memory session store. It is the only component that
// mutates sessions; readers always receive deep copies, so no caller holds
// a reference to live state across a suspension point.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*domain.Session
	order    []string
	dirty    map[string]struct{}
	now      func() time.Time
}

// New creates an empty store.
func New() *Store {
	return &Store{
		sessions: make(map[string]*domain.Session),
		dirty:    make(map[string]struct{}),
		now:      time.Now,
	}
}

// Create adds a session in paused status. Consensus sessions get their
// consensus state seeded with one entry per participant.
func (s *Store) Create(p CreateParams) (*domain.Session, error) {
	if strings.TrimSpace(p.Title) == "" || strings.TrimSpace(p.Goal) == "" {
		return nil, fmt.Errorf("%w: title and goal are required", ErrInvalidSession)
	}
	if len(p.Participants) == 0 {
		return nil, fmt.Errorf("%w: at least one participant is required", ErrInvalidSession)
	}
	seen := make(map[string]struct{}, len(p.Participants))
	for _, part := range p.Participants {
		if part.ID == "" || part.ID == domain.SpeakerModerator || part.ID == domain.SpeakerSystem {
			return nil, fmt.Errorf("%w: participant id %q is reserved or empty", ErrInvalidSession, part.ID)
		}
		if _, dup := seen[part.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate participant %q", ErrInvalidSession, part.ID)
		}
		seen[part.ID] = struct{}{}
	}

	mode := p.Mode
	if mode == "" {
		mode = domain.ModeDiscussion
	}
	if mode != domain.ModeDiscussion && mode != domain.ModeConsensus {
		return nil, fmt.Errorf("%w: unknown mode %q", ErrInvalidSession, mode)
	}

	now := s.now()
	session := &domain.Session{
		ID:           uuid.NewString(),
		Title:        p.Title,
		Goal:         p.Goal,
		Participants: make([]domain.Participant, len(p.Participants)),
		Messages:     []domain.Message{},
		Status:       domain.StatusPaused,
		Mode:         mode,
		Metadata: domain.SessionMetadata{
			CreatedAt:  now,
			LastActive: now,
		},
	}
	for i, part := range p.Participants {
		session.Participants[i] = part.Clone()
	}
	if mode == domain.ModeConsensus {
		if strings.TrimSpace(p.Question) == "" {
			return nil, fmt.Errorf("%w: consensus mode requires a question", ErrInvalidSession)
		}
		session.Consensus = consensus.Initialize(session.ParticipantIDs(), p.Question, p.MaxRounds)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ID] = session
	s.order = append(s.order, session.ID)
	s.dirty[session.ID] = struct{}{}
	return session.Clone(), nil
}

// Get returns a copy of the session.
func (s *Store) Get(id string) (*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return session.Clone(), nil
}

// List returns copies of all sessions in creation order.
func (s *Store) List() []*domain.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.Session, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.sessions[id].Clone())
	}
	return out
}

// update runs fn against the live session under the write lock and marks
// it dirty when fn succeeds.
func (s *Store) update(id string, fn func(*domain.Session) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	if err := fn(session); err != nil {
		return err
	}
	s.dirty[id] = struct{}{}
	return nil
}

// AppendMessage adds msg to the transcript. Missing ID, session reference
// and timestamp are filled in. Agent messages must come from a participant.
func (s *Store) AppendMessage(id string, msg domain.Message) (domain.Message, error) {
	var stored domain.Message
	err := s.update(id, func(session *domain.Session) error {
		if msg.Kind == "" {
			msg.Kind = domain.KindAgent
		}
		if msg.Kind == domain.KindAgent && !session.HasParticipant(msg.SpeakerID) {
			return fmt.Errorf("%w: %s", ErrUnknownParticipant, msg.SpeakerID)
		}
		if msg.ID == "" {
			msg.ID = uuid.NewString()
		}
		if msg.Timestamp.IsZero() {
			msg.Timestamp = s.now()
		}
		msg.SessionID = session.ID
		stored = msg.Clone()
		appendLocked(session, stored)
		return nil
	})
	return stored, err
}

func appendLocked(session *domain.Session, msg domain.Message) {
	session.Messages = append(session.Messages, msg)
	session.Metadata.TotalMessages++
	session.Metadata.LastActive = msg.Timestamp
}

// SetStatus changes the session status and returns the previous one.
// A completed session cannot leave the completed status.
func (s *Store) SetStatus(id string, status domain.SessionStatus) (domain.SessionStatus, error) {
	if !status.Valid() {
		return "", fmt.Errorf("unknown status %q", status)
	}
	var prev domain.SessionStatus
	err := s.update(id, func(session *domain.Session) error {
		prev = session.Status
		if prev == domain.StatusCompleted && status != domain.StatusCompleted {
			return ErrSessionCompleted
		}
		session.Status = status
		session.Metadata.LastActive = s.now()
		return nil
	})
	return prev, err
}

// RecentMessages returns copies of the last n messages.
func (s *Store) RecentMessages(id string, n int) ([]domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	recent := session.RecentMessages(n)
	out := make([]domain.Message, len(recent))
	for i, m := range recent {
		out[i] = m.Clone()
	}
	return out, nil
}

// consensusLocked returns the live consensus state of an unfinalized
// consensus session.
func consensusLocked(session *domain.Session) (*domain.ConsensusState, error) {
	if session.Consensus == nil {
		return nil, ErrNoConsensusState
	}
	if session.Consensus.Finalized() || session.Status == domain.StatusCompleted {
		return nil, ErrSessionCompleted
	}
	return session.Consensus, nil
}

// UpdateConsensusState applies a participant's contribution to the
// consensus state.
func (s *Store) UpdateConsensusState(id, participantID string, msg domain.Message) error {
	return s.update(id, func(session *domain.Session) error {
		state, err := consensusLocked(session)
		if err != nil {
			return err
		}
		if !consensus.UpdateAgentState(state, participantID, msg) {
			return fmt.Errorf("%w: %s", ErrUnknownParticipant, participantID)
		}
		return nil
	})
}

// RoundStatus reports the consensus round state of a session.
func (s *Store) RoundStatus(id string) (RoundStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	if !ok {
		return RoundStatus{}, ErrSessionNotFound
	}
	state := session.Consensus
	if state == nil {
		return RoundStatus{}, ErrNoConsensusState
	}
	return RoundStatus{
		Round:      state.CurrentRound,
		MaxRounds:  state.MaxRounds,
		Complete:   consensus.CheckRoundComplete(state),
		CanAdvance: consensus.ShouldAdvanceRound(state),
		Finalized:  state.Finalized(),
	}, nil
}

// AdvanceRound moves a consensus session to its next round when the
// current one is complete and rounds remain. It returns the current round
// and whether it advanced.
func (s *Store) AdvanceRound(id string) (int, bool, error) {
	var (
		round    int
		advanced bool
	)
	err := s.update(id, func(session *domain.Session) error {
		state, err := consensusLocked(session)
		if err != nil {
			return err
		}
		if consensus.ShouldAdvanceRound(state) {
			advanced = consensus.AdvanceRound(state)
		}
		round = state.CurrentRound
		return nil
	})
	return round, advanced, err
}

// CheckConsensus runs convergence detection on the session.
func (s *Store) CheckConsensus(id string) (consensus.Outcome, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	if !ok {
		return consensus.Outcome{}, ErrSessionNotFound
	}
	if session.Consensus == nil {
		return consensus.Outcome{}, ErrNoConsensusState
	}
	return consensus.DetectConsensus(session.Consensus), nil
}

// Finalize completes a consensus session with decision. The consensus flag,
// the completed status and a system message recording the decision are
// committed together. forced marks a decision taken because rounds ran out.
func (s *Store) Finalize(id, decision string, forced bool) (domain.Message, error) {
	var msg domain.Message
	err := s.update(id, func(session *domain.Session) error {
		state, err := consensusLocked(session)
		if err != nil {
			return err
		}
		consensus.Finalize(state, decision)
		session.Status = domain.StatusCompleted

		content := fmt.Sprintf("Consensus reached in round %d: %s", state.CurrentRound, decision)
		if forced {
			content = fmt.Sprintf("Maximum rounds (%d) reached. Final decision: %s", state.MaxRounds, decision)
		}
		msg = domain.Message{
			ID:        uuid.NewString(),
			SessionID: session.ID,
			SpeakerID: domain.SpeakerSystem,
			Content:   content,
			Timestamp: s.now(),
			Kind:      domain.KindSystem,
		}
		appendLocked(session, msg)
		return nil
	})
	return msg, err
}

// NextConsensusSpeaker returns the participant who should speak next in a
// consensus session, if any.
func (s *Store) NextConsensusSpeaker(id string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	if !ok {
		return "", false, ErrSessionNotFound
	}
	if session.Consensus == nil {
		return "", false, ErrNoConsensusState
	}
	next, found := consensus.NextSpeaker(session.Consensus)
	return next, found, nil
}

// Restore loads previously persisted sessions. Active sessions come back
// paused since no turn survives a restart. Sessions already present are
// left alone.
func (s *Store) Restore(sessions []*domain.Session) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	restored := 0
	for _, session := range sessions {
		if session == nil || session.ID == "" {
			continue
		}
		if _, exists := s.sessions[session.ID]; exists {
			continue
		}
		cp := session.Clone()
		if cp.Status == domain.StatusActive {
			cp.Status = domain.StatusPaused
		}
		if cp.Messages == nil {
			cp.Messages = []domain.Message{}
		}
		s.sessions[cp.ID] = cp
		s.order = append(s.order, cp.ID)
		restored++
	}
	return restored
}

// TakeDirty returns copies of sessions changed since the last call and
// clears their dirty mark.
func (s *Store) TakeDirty() []*domain.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.Session, 0, len(s.dirty))
	for _, id := range s.order {
		if _, ok := s.dirty[id]; ok {
			out = append(out, s.sessions[id].Clone())
		}
	}
	s.dirty = make(map[string]struct{})
	return out
}

// MarkDirty flags a session for the next flush, e.g. after a failed write.
func (s *Store) MarkDirty(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; ok {
		s.dirty[id] = struct{}{}
	}
}
