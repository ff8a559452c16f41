//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/ashureev/roundtable/internal/domain"
	"github.com/ashureev/roundtable/internal/registry"
	"github.com/ashureev/roundtable/internal/scheduler"
	"github.com/ashureev/roundtable/internal/store"
	"github.com/go-chi/chi/v5"
)

type fakeController struct {
	mu        sync.Mutex
	store     *store.Store
	started   []string
	moderator []scheduler.ModeratorKind
}

func (f *fakeController) StartDiscussion(id string) error {
	if _, err := f.store.Get(id); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, id)
	return nil
}

func (f *fakeController) HandleModeratorInput(id, _ string, kind scheduler.ModeratorKind) error {
	if !kind.Valid() {
		return scheduler.ErrInvalidModeratorKind
	}
	if _, err := f.store.Get(id); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.moderator = append(f.moderator, kind)
	return nil
}

func newTestRouter(t *testing.T) (http.Handler, *store.Store, *fakeController) {
	t.Helper()
	st := store.New()
	ctrl := &fakeController{store: st}
	h := NewHandler(st, registry.Default(), ctrl, 4, nil)
	r := chi.NewRouter()
	h.RegisterRoutes(r)
	return r, st, ctrl
}

func do(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"foo": "bar"}

	JSON(w, http.StatusOK, data)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	var got map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if got["foo"] != "bar" {
		t.Errorf("Expected foo=bar, got %v", got["foo"])
	}
}

func TestListProfiles(t *testing.T) {
	t.Parallel()
	r, _, _ := newTestRouter(t)

	w := do(t, r, http.MethodGet, "/api/profiles", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var got struct {
		Profiles []domain.Participant `json:"profiles"`
	}
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(got.Profiles) != 3 || got.Profiles[0].ID != "doctor-1" {
		t.Errorf("Expected built-in catalog, got %+v", got.Profiles)
	}
}

func TestCreateSession(t *testing.T) {
	t.Parallel()
	r, st, _ := newTestRouter(t)

	w := do(t, r, http.MethodPost, "/api/sessions", map[string]interface{}{
		"title":           "Triage",
		"goal":            "Decide the rollout",
		"participant_ids": []string{"doctor-1", "engineer-1"},
		"participants": []map[string]string{
			{"id": "critic", "name": "Critic", "system_prompt": "Find flaws."},
		},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", w.Code, w.Body.String())
	}
	var session domain.Session
	if err := json.NewDecoder(w.Body).Decode(&session); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if session.Status != domain.StatusPaused {
		t.Errorf("Expected new session paused, got %s", session.Status)
	}
	if session.Mode != domain.ModeDiscussion {
		t.Errorf("Expected discussion mode, got %s", session.Mode)
	}
	ids := session.ParticipantIDs()
	if len(ids) != 3 || ids[0] != "doctor-1" || ids[2] != "critic" {
		t.Errorf("Expected participants in request order, got %v", ids)
	}
	if _, err := st.Get(session.ID); err != nil {
		t.Errorf("Expected session in store: %v", err)
	}
}

func TestCreateConsensusSession(t *testing.T) {
	t.Parallel()
	r, _, _ := newTestRouter(t)

	w := do(t, r, http.MethodPost, "/api/sessions", map[string]interface{}{
		"title":           "Policy",
		"goal":            "Agree",
		"participant_ids": []string{"doctor-1", "researcher-1", "engineer-1"},
		"mode":            "consensus",
		"question":        "Ship it?",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", w.Code, w.Body.String())
	}
	var session domain.Session
	if err := json.NewDecoder(w.Body).Decode(&session); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if session.Consensus == nil {
		t.Fatal("Expected consensus state")
	}
	if session.Consensus.MaxRounds != 4 {
		t.Errorf("Expected default max rounds 4, got %d", session.Consensus.MaxRounds)
	}
	if session.Consensus.Question != "Ship it?" {
		t.Errorf("Expected question, got %q", session.Consensus.Question)
	}
}

func TestCreateSessionValidation(t *testing.T) {
	t.Parallel()
	r, _, _ := newTestRouter(t)

	tests := []struct {
		name string
		body map[string]interface{}
	}{
		{"missing title", map[string]interface{}{"goal": "g", "participant_ids": []string{"doctor-1"}}},
		{"no participants", map[string]interface{}{"title": "t", "goal": "g"}},
		{"unknown profile", map[string]interface{}{"title": "t", "goal": "g", "participant_ids": []string{"nobody"}}},
		{"consensus without question", map[string]interface{}{
			"title": "t", "goal": "g", "mode": "consensus",
			"participant_ids": []string{"doctor-1", "researcher-1", "engineer-1"},
		}},
		{"consensus with two participants", map[string]interface{}{
			"title": "t", "goal": "g", "mode": "consensus", "question": "q",
			"participant_ids": []string{"doctor-1", "researcher-1"},
		}},
		{"unknown mode", map[string]interface{}{
			"title": "t", "goal": "g", "mode": "debate", "participant_ids": []string{"doctor-1"},
		}},
		{"duplicate participant", map[string]interface{}{
			"title": "t", "goal": "g", "participant_ids": []string{"doctor-1", "doctor-1"},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, r, http.MethodPost, "/api/sessions", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("Expected status 400, got %d: %s", w.Code, w.Body.String())
			}
		})
	}

	req := httptest.NewRequest(http.MethodPost, "/api/sessions", bytes.NewBufferString("{"))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for malformed body, got %d", w.Code)
	}
}

func TestGetAndListSessions(t *testing.T) {
	t.Parallel()
	r, st, _ := newTestRouter(t)

	created, err := st.Create(store.CreateParams{
		Title:        "One",
		Goal:         "g",
		Participants: registry.Default().List(),
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	w := do(t, r, http.MethodGet, "/api/sessions/"+created.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var got domain.Session
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if got.ID != created.ID || got.Title != "One" {
		t.Errorf("Expected session %s, got %+v", created.ID, got)
	}

	w = do(t, r, http.MethodGet, "/api/sessions/missing", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}

	w = do(t, r, http.MethodGet, "/api/sessions", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var list struct {
		Sessions []sessionSummary `json:"sessions"`
	}
	if err := json.NewDecoder(w.Body).Decode(&list); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(list.Sessions) != 1 || list.Sessions[0].ID != created.ID {
		t.Errorf("Expected one summary, got %+v", list.Sessions)
	}
	if len(list.Sessions[0].Participants) != 3 {
		t.Errorf("Expected 3 participant ids, got %v", list.Sessions[0].Participants)
	}
}

func TestTriggers(t *testing.T) {
	t.Parallel()
	r, st, ctrl := newTestRouter(t)

	created, err := st.Create(store.CreateParams{
		Title:        "One",
		Goal:         "g",
		Participants: registry.Default().List(),
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if w := do(t, r, http.MethodPost, "/api/sessions/"+created.ID+"/start", nil); w.Code != http.StatusAccepted {
		t.Errorf("Expected status 202, got %d", w.Code)
	}
	if w := do(t, r, http.MethodPost, "/api/sessions/missing/start", nil); w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}

	w := do(t, r, http.MethodPost, "/api/sessions/"+created.ID+"/moderator", map[string]string{
		"content": "Go ahead",
		"kind":    "resume",
	})
	if w.Code != http.StatusAccepted {
		t.Errorf("Expected status 202, got %d", w.Code)
	}
	w = do(t, r, http.MethodPost, "/api/sessions/"+created.ID+"/moderator", map[string]string{"content": "Note"})
	if w.Code != http.StatusAccepted {
		t.Errorf("Expected status 202, got %d", w.Code)
	}
	w = do(t, r, http.MethodPost, "/api/sessions/"+created.ID+"/moderator", map[string]string{"kind": "shout"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}

	ctrl.mu.Lock()
	defer ctrl.mu.Unlock()
	if len(ctrl.started) != 1 {
		t.Errorf("Expected 1 start, got %v", ctrl.started)
	}
	if len(ctrl.moderator) != 2 || ctrl.moderator[0] != scheduler.ModeratorResume || ctrl.moderator[1] != scheduler.ModeratorInject {
		t.Errorf("Expected resume then inject, got %v", ctrl.moderator)
	}
}
