// Package scheduler drives sessions one turn at a time.
//
// Each session has a single-flight guard: a turn requested while another is
// generating is dropped, never queued. After a turn the next speaker is
// picked (round-robin in discussion mode, the consensus engine otherwise)
// and run after a fixed delay, for as long as the session stays active.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/roundtable/internal/consensus"
	"github.com/ashureev/roundtable/internal/domain"
	"github.com/ashureev/roundtable/internal/events"
	"github.com/ashureev/roundtable/internal/generation"
	"github.com/ashureev/roundtable/internal/store"
)

// Pacing defaults.
const (
	DefaultTurnDelay     = 3 * time.Second
	DefaultResumeDelay   = 500 * time.Millisecond
	DefaultHistoryWindow = 10
)

// generationFailedMessage is the user-facing text of a failed turn.
const generationFailedMessage = "Failed to generate agent response"

// ErrInvalidModeratorKind is returned for an unknown moderator input kind.
var ErrInvalidModeratorKind = errors.New("invalid moderator input kind")

// ModeratorKind is the kind of a moderator intervention.
type ModeratorKind string

// Moderator input kinds. Inject and redirect only add a moderator message.
const (
	ModeratorPause    ModeratorKind = "pause"
	ModeratorResume   ModeratorKind = "resume"
	ModeratorInject   ModeratorKind = "inject"
	ModeratorRedirect ModeratorKind = "redirect"
)

// Valid reports whether k is a known kind.
func (k ModeratorKind) Valid() bool {
	switch k {
	case ModeratorPause, ModeratorResume, ModeratorInject, ModeratorRedirect:
		return true
	}
	return false
}

// Observer receives scheduler measurements. Metrics implement it.
type Observer interface {
	GenerationFinished(elapsed time.Duration, err error)
	TurnDropped(sessionID string)
}

type nopObserver struct{}

func (nopObserver) GenerationFinished(time.Duration, error) {}

func (nopObserver) TurnDropped(string) {}

// Options configures a Scheduler.
type Options struct {
	TurnDelay     time.Duration
	ResumeDelay   time.Duration
	HistoryWindow int
	Observer      Observer
	Logger        *slog.Logger
}

// DefaultOptions returns the production pacing.
func DefaultOptions() Options {
	return Options{
		TurnDelay:     DefaultTurnDelay,
		ResumeDelay:   DefaultResumeDelay,
		HistoryWindow: DefaultHistoryWindow,
	}
}

// Scheduler runs turns for every session in a store.
type Scheduler struct {
	store  *store.Store
	gen    generation.Generator
	sink   events.Sink
	opts   Options
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	guards sync.Map // map[string]*turnGuard

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// New creates a scheduler. Generation calls run under an internal context
// that Close cancels.
func New(st *store.Store, gen generation.Generator, sink events.Sink, opts Options) *Scheduler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	if opts.HistoryWindow <= 0 {
		opts.HistoryWindow = DefaultHistoryWindow
	}
	if sink == nil {
		sink = events.SinkFunc(func(events.Event) {})
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		store:  st,
		gen:    gen,
		sink:   sink,
		opts:   opts,
		logger: opts.Logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

func (s *Scheduler) guard(sessionID string) *turnGuard {
	g, _ := s.guards.LoadOrStore(sessionID, &turnGuard{})
	return g.(*turnGuard)
}

// spawn runs fn in a tracked goroutine unless the scheduler is closed.
func (s *Scheduler) spawn(fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
	return true
}

// after schedules fn on the session timer. fn is skipped if the session was
// paused since scheduling.
func (s *Scheduler) after(sessionID string, d time.Duration, fn func()) {
	g := s.guard(sessionID)
	epoch := g.currentEpoch()
	g.schedule(d, func() {
		if !g.current(epoch) {
			return
		}
		s.spawn(fn)
	})
}

// StartDiscussion begins a turn for the first eligible speaker of an active
// session. It is a no-op for sessions that are not active or have nobody
// eligible to speak. The turn runs asynchronously.
func (s *Scheduler) StartDiscussion(sessionID string) error {
	session, err := s.store.Get(sessionID)
	if err != nil {
		return err
	}
	if !session.IsActive() {
		s.logger.Debug("Start ignored for inactive session", "session_id", sessionID, "status", session.Status)
		return nil
	}
	first, ok := s.nextSpeaker(session, "")
	if !ok {
		s.logger.Debug("No eligible speaker", "session_id", sessionID)
		return nil
	}
	s.spawn(func() { s.RunTurn(sessionID, first) })
	return nil
}

// RunTurn runs one turn for participantID and blocks until it has finished.
// It returns immediately when another turn of the session is in flight.
func (s *Scheduler) RunTurn(sessionID, participantID string) {
	g := s.guard(sessionID)
	epoch, ok := g.tryAcquire()
	if !ok {
		s.logger.Debug("Turn dropped, generation in flight",
			"session_id", sessionID,
			"participant_id", participantID)
		s.opts.Observer.TurnDropped(sessionID)
		return
	}

	cont := s.turn(sessionID, participantID)

	if !g.release(epoch) || !cont {
		return
	}
	s.after(sessionID, s.opts.TurnDelay, func() {
		s.continueDiscussion(sessionID, participantID)
	})
}

// continueDiscussion picks the speaker after lastSpeaker and runs a turn.
func (s *Scheduler) continueDiscussion(sessionID, lastSpeaker string) {
	session, err := s.store.Get(sessionID)
	if err != nil || !session.IsActive() {
		return
	}
	next, ok := s.nextSpeaker(session, lastSpeaker)
	if !ok {
		s.logger.Debug("Session idle, no eligible speaker", "session_id", sessionID)
		return
	}
	s.RunTurn(sessionID, next)
}

// nextSpeaker selects who speaks after lastSpeaker ("" for the first turn).
func (s *Scheduler) nextSpeaker(session *domain.Session, lastSpeaker string) (string, bool) {
	if session.Mode == domain.ModeConsensus {
		next, ok, err := s.store.NextConsensusSpeaker(session.ID)
		if err != nil {
			return "", false
		}
		return next, ok
	}
	return NextRoundRobin(session.ParticipantIDs(), lastSpeaker)
}

// NextRoundRobin returns the participant after current, wrapping around.
// An empty or unknown current selects the first participant.
func NextRoundRobin(ids []string, current string) (string, bool) {
	if len(ids) == 0 {
		return "", false
	}
	idx := -1
	for i, id := range ids {
		if id == current {
			idx = i
			break
		}
	}
	return ids[(idx+1)%len(ids)], true
}

// turn performs the guarded body of a turn and reports whether the
// discussion should continue.
func (s *Scheduler) turn(sessionID, participantID string) bool {
	session, err := s.store.Get(sessionID)
	if err != nil || !session.IsActive() {
		return false
	}
	participant, ok := session.Participant(participantID)
	if !ok {
		s.logger.Debug("Turn skipped, unknown participant",
			"session_id", sessionID,
			"participant_id", participantID)
		return false
	}
	if session.Mode == domain.ModeConsensus && session.Consensus == nil {
		s.logger.Debug("Turn skipped, missing consensus state", "session_id", sessionID)
		return false
	}

	s.sink.Publish(events.ParticipantThinking(sessionID, participantID))

	req := buildRequest(session, participant, s.opts.HistoryWindow)
	start := time.Now()
	res, err := s.gen.Generate(s.ctx, req)
	elapsed := time.Since(start)
	s.opts.Observer.GenerationFinished(elapsed, err)
	if err != nil {
		if s.ctx.Err() != nil {
			s.logger.Info("Generation canceled by shutdown", "session_id", sessionID)
			return false
		}
		s.logger.Error("Generation failed",
			"session_id", sessionID,
			"participant_id", participantID,
			"error", err)
		s.sink.Publish(events.GenerationError(sessionID, participantID, generationFailedMessage, events.CodeAgentError))
		return false
	}

	msg := domain.Message{
		SpeakerID: participantID,
		Content:   res.Text,
		Kind:      domain.KindAgent,
		Metadata: domain.MessageMetadata{
			TokensUsed:     res.TokensUsed,
			ResponseTimeMs: elapsed.Milliseconds(),
		},
	}
	if session.Mode == domain.ModeConsensus {
		msg.Consensus = consensus.ParseSignal(res.Text)
	}
	stored, err := s.store.AppendMessage(sessionID, msg)
	if err != nil {
		s.logger.Warn("Failed to record message", "session_id", sessionID, "error", err)
		return false
	}
	s.sink.Publish(events.MessageAppended(stored))
	s.logger.Debug("Turn completed",
		"session_id", sessionID,
		"participant_id", participantID,
		"elapsed", elapsed)

	if session.Mode == domain.ModeConsensus {
		return s.progressConsensus(sessionID, participantID, stored)
	}
	return true
}

// progressConsensus applies msg to the consensus state, then finalizes or
// advances the round as needed. It reports whether turns should continue.
func (s *Scheduler) progressConsensus(sessionID, participantID string, msg domain.Message) bool {
	if err := s.store.UpdateConsensusState(sessionID, participantID, msg); err != nil {
		s.logger.Debug("Consensus update skipped", "session_id", sessionID, "error", err)
		return !errors.Is(err, store.ErrSessionCompleted)
	}

	outcome, err := s.store.CheckConsensus(sessionID)
	if err != nil {
		return false
	}
	if outcome.Reached {
		s.finalize(sessionID, outcome.Decision, false)
		return false
	}

	status, err := s.store.RoundStatus(sessionID)
	if err != nil || !status.Complete {
		return err == nil
	}
	if !status.CanAdvance {
		session, err := s.store.Get(sessionID)
		if err != nil {
			return false
		}
		s.finalize(sessionID, consensus.BestEffortDecision(session.Consensus), true)
		return false
	}

	round, advanced, err := s.store.AdvanceRound(sessionID)
	if err != nil {
		return false
	}
	if advanced {
		s.logger.Info("Round advanced", "session_id", sessionID, "round", round)
		s.sink.Publish(events.RoundAdvanced(sessionID, round))
	}
	return true
}

func (s *Scheduler) finalize(sessionID, decision string, forced bool) {
	msg, err := s.store.Finalize(sessionID, decision, forced)
	if err != nil {
		s.logger.Debug("Finalize skipped", "session_id", sessionID, "error", err)
		return
	}
	round := 0
	if status, err := s.store.RoundStatus(sessionID); err == nil {
		round = status.Round
	}
	s.logger.Info("Consensus finalized",
		"session_id", sessionID,
		"round", round,
		"decision", decision,
		"forced", forced)
	s.sink.Publish(events.MessageAppended(msg))
	s.sink.Publish(events.SessionUpdate(sessionID, domain.StatusCompleted))
	s.sink.Publish(events.ConsensusReached(sessionID, decision, round, forced))
}

// HandleModeratorInput applies a moderator intervention. Pause stops the
// session and invalidates any in-flight claim, so a later resume starts
// cleanly; the in-flight generation still completes and records its message.
// Resume reactivates the session and starts a turn after a settling delay.
// Every kind records a moderator message.
func (s *Scheduler) HandleModeratorInput(sessionID, content string, kind ModeratorKind) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidModeratorKind, kind)
	}
	if _, err := s.store.Get(sessionID); err != nil {
		return err
	}

	switch kind {
	case ModeratorPause:
		s.setStatus(sessionID, domain.StatusPaused)
		s.guard(sessionID).invalidate()
	case ModeratorResume:
		if s.setStatus(sessionID, domain.StatusActive) {
			s.after(sessionID, s.opts.ResumeDelay, func() {
				if err := s.StartDiscussion(sessionID); err != nil {
					s.logger.Warn("Resume failed to start discussion", "session_id", sessionID, "error", err)
				}
			})
		}
	}

	msg, err := s.store.AppendMessage(sessionID, domain.Message{
		SpeakerID: domain.SpeakerModerator,
		Content:   content,
		Kind:      domain.KindModerator,
	})
	if err != nil {
		return fmt.Errorf("record moderator input: %w", err)
	}
	s.sink.Publish(events.ModeratorInput(sessionID, content, string(kind)))
	s.sink.Publish(events.MessageAppended(msg))
	return nil
}

// setStatus changes status and notifies observers. It reports whether the
// change was applied.
func (s *Scheduler) setStatus(sessionID string, status domain.SessionStatus) bool {
	prev, err := s.store.SetStatus(sessionID, status)
	if err != nil {
		s.logger.Debug("Status change refused",
			"session_id", sessionID,
			"status", status,
			"error", err)
		return false
	}
	if prev != status {
		s.logger.Info("Session status changed",
			"session_id", sessionID,
			"from", prev,
			"to", status)
		s.sink.Publish(events.SessionUpdate(sessionID, status))
	}
	return true
}

// Close stops pending timers, cancels in-flight generations and waits for
// running turns to return or ctx to expire.
func (s *Scheduler) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.guards.Range(func(_, v any) bool {
		v.(*turnGuard).stop()
		return true
	})
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
