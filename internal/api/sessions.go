package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/ashureev/roundtable/internal/domain"
	"github.com/ashureev/roundtable/internal/scheduler"
	"github.com/ashureev/roundtable/internal/store"
	"github.com/go-chi/chi/v5"
)

// minConsensusParticipants is the smallest panel a consensus session accepts.
const minConsensusParticipants = 3

const maxBodyBytes = 1 << 20

type createSessionRequest struct {
	Title          string               `json:"title"`
	Goal           string               `json:"goal"`
	ParticipantIDs []string             `json:"participant_ids"`
	Participants   []domain.Participant `json:"participants"`
	Mode           domain.SessionMode   `json:"mode"`
	Question       string               `json:"question"`
	MaxRounds      int                  `json:"max_rounds"`
}

type moderatorRequest struct {
	Content string `json:"content"`
	Kind    string `json:"kind"`
}

// sessionSummary is the list view of a session.
type sessionSummary struct {
	ID           string               `json:"id"`
	Title        string               `json:"title"`
	Goal         string               `json:"goal"`
	Status       domain.SessionStatus `json:"status"`
	Mode         domain.SessionMode   `json:"mode"`
	Participants []string             `json:"participants"`
	MessageCount int                  `json:"message_count"`
	Round        int                  `json:"round,omitempty"`
}

// RegisterRoutes registers session and profile routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/profiles", h.ListProfiles)
		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", h.ListSessions)
			r.Post("/", h.CreateSession)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetSession)
				r.Post("/start", h.StartDiscussion)
				r.Post("/moderator", h.ModeratorInput)
			})
		})
	})
}

// ListProfiles returns the participant catalog.
func (h *Handler) ListProfiles(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, map[string]interface{}{
		"profiles": h.profiles.List(),
	})
}

// ListSessions returns a summary of every session in creation order.
func (h *Handler) ListSessions(w http.ResponseWriter, _ *http.Request) {
	sessions := h.sessions.List()
	out := make([]sessionSummary, 0, len(sessions))
	for _, s := range sessions {
		sum := sessionSummary{
			ID:           s.ID,
			Title:        s.Title,
			Goal:         s.Goal,
			Status:       s.Status,
			Mode:         s.Mode,
			Participants: s.ParticipantIDs(),
			MessageCount: len(s.Messages),
		}
		if s.Consensus != nil {
			sum.Round = s.Consensus.CurrentRound
		}
		out = append(out, sum)
	}
	JSON(w, http.StatusOK, map[string]interface{}{"sessions": out})
}

// GetSession returns the full session snapshot.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		h.storeError(w, err)
		return
	}
	JSON(w, http.StatusOK, session)
}

// CreateSession creates a paused session.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	params, err := h.createParams(req)
	if err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	session, err := h.sessions.Create(params)
	if err != nil {
		h.storeError(w, err)
		return
	}
	h.logger.Info("Session created",
		"session_id", session.ID,
		"mode", session.Mode,
		"participants", len(session.Participants))
	JSON(w, http.StatusCreated, session)
}

func (h *Handler) createParams(req createSessionRequest) (store.CreateParams, error) {
	if strings.TrimSpace(req.Title) == "" || strings.TrimSpace(req.Goal) == "" {
		return store.CreateParams{}, errors.New("title and goal are required")
	}

	participants := make([]domain.Participant, 0, len(req.ParticipantIDs)+len(req.Participants))
	for _, id := range req.ParticipantIDs {
		p, ok := h.profiles.Get(id)
		if !ok {
			return store.CreateParams{}, fmt.Errorf("unknown participant %q", id)
		}
		participants = append(participants, p)
	}
	for _, p := range req.Participants {
		if p.ID == "" || p.SystemPrompt == "" {
			return store.CreateParams{}, errors.New("inline participants require id and system_prompt")
		}
		participants = append(participants, p)
	}
	if len(participants) == 0 {
		return store.CreateParams{}, errors.New("at least one participant is required")
	}

	mode := req.Mode
	if mode == "" {
		mode = domain.ModeDiscussion
	}
	maxRounds := req.MaxRounds
	if mode == domain.ModeConsensus {
		if strings.TrimSpace(req.Question) == "" {
			return store.CreateParams{}, errors.New("consensus mode requires a question")
		}
		if len(participants) < minConsensusParticipants {
			return store.CreateParams{}, fmt.Errorf("consensus mode requires at least %d participants", minConsensusParticipants)
		}
		if maxRounds < 0 {
			return store.CreateParams{}, errors.New("max_rounds must be positive")
		}
		if maxRounds == 0 {
			maxRounds = h.defaultMaxRounds
		}
	}

	return store.CreateParams{
		Title:        req.Title,
		Goal:         req.Goal,
		Participants: participants,
		Mode:         mode,
		Question:     req.Question,
		MaxRounds:    maxRounds,
	}, nil
}

// StartDiscussion triggers the first turn of an active session.
func (h *Handler) StartDiscussion(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.ctrl.StartDiscussion(id); err != nil {
		h.storeError(w, err)
		return
	}
	JSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// ModeratorInput forwards a moderator message to the scheduler.
func (h *Handler) ModeratorInput(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req moderatorRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	kind := scheduler.ModeratorKind(req.Kind)
	if kind == "" {
		kind = scheduler.ModeratorInject
	}
	if err := h.ctrl.HandleModeratorInput(id, req.Content, kind); err != nil {
		h.storeError(w, err)
		return
	}
	JSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (h *Handler) storeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrSessionNotFound):
		Error(w, http.StatusNotFound, "session not found")
	case errors.Is(err, store.ErrInvalidSession), errors.Is(err, scheduler.ErrInvalidModeratorKind):
		Error(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrSessionCompleted):
		Error(w, http.StatusConflict, err.Error())
	default:
		h.logger.Error("Request failed", "error", err)
		Error(w, http.StatusInternalServerError, "internal error")
	}
}
