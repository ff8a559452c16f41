// Package api provides HTTP handlers for the Roundtable API.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/ashureev/roundtable/internal/domain"
	"github.com/ashureev/roundtable/internal/scheduler"
	"github.com/ashureev/roundtable/internal/store"
)

// SessionStore creates and reads sessions.
type SessionStore interface {
	Create(p store.CreateParams) (*domain.Session, error)
	Get(id string) (*domain.Session, error)
	List() []*domain.Session
}

// ProfileCatalog lists participant templates.
type ProfileCatalog interface {
	List() []domain.Participant
	Get(id string) (domain.Participant, bool)
}

// Controller accepts discussion triggers.
type Controller interface {
	StartDiscussion(sessionID string) error
	HandleModeratorInput(sessionID, content string, kind scheduler.ModeratorKind) error
}

// Handler provides common handler utilities.
type Handler struct {
	sessions         SessionStore
	profiles         ProfileCatalog
	ctrl             Controller
	defaultMaxRounds int
	logger           *slog.Logger
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(sessions SessionStore, profiles ProfileCatalog, ctrl Controller, defaultMaxRounds int, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		sessions:         sessions,
		profiles:         profiles,
		ctrl:             ctrl,
		defaultMaxRounds: defaultMaxRounds,
		logger:           logger,
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}
