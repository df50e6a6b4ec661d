package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/nerrad567/gray-logic-show/internal/show"
	"github.com/nerrad567/gray-logic-show/internal/tagbus"
)

// ─── Mock Dependencies ───

type mockRepo struct {
	mu      sync.Mutex
	saved   map[string]show.SceneData
	deleted []string
	saveErr error
}

func newMockRepo() *mockRepo {
	return &mockRepo{saved: make(map[string]show.SceneData)}
}

func (m *mockRepo) List(context.Context) ([]show.SceneData, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]show.SceneData, 0, len(m.saved))
	for _, d := range m.saved {
		out = append(out, d)
	}
	return out, nil
}

func (m *mockRepo) Save(_ context.Context, d show.SceneData) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saved[d.ID] = d
	return nil
}

func (m *mockRepo) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, id)
	delete(m.saved, id)
	return nil
}

type mockTags struct {
	tags map[string]any
	err  error
}

func (m *mockTags) Tags() map[string]any { return m.tags }

func (m *mockTags) SetTag(name string, value any) error {
	if m.err != nil {
		return m.err
	}
	m.tags[name] = value
	return nil
}

type mockReloader struct {
	calls int
	err   error
}

func (m *mockReloader) Reload() error {
	m.calls++
	return m.err
}

// do runs one request through the router and returns the recorder.
func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("unmarshal %q: %v", w.Body.String(), err)
	}
	return v
}

func twoCueScene() show.SceneData {
	return show.SceneData{
		Name:      "wash",
		Alpha:     1,
		BPM:       120,
		Backtrack: true,
		Cues: []show.CueData{
			{Name: "default", Number: 0, Track: true, SoundVolume: 1},
			{Name: "blue", Number: 1, Track: true, SoundVolume: 1, Shortcut: "B1",
				Values: map[string]map[string]float64{"par1": {"blue": 1}}},
		},
	}
}

// =============================================================================
// Scene CRUD
// =============================================================================

func TestScenes_CreateListGet(t *testing.T) {
	srv := testServer(t)
	router := srv.buildRouter()

	w := do(t, router, http.MethodPost, "/api/v1/scenes", twoCueScene())
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", w.Code, w.Body.String())
	}
	created := decode[show.SceneData](t, w)
	if created.ID == "" || len(created.Cues) != 2 {
		t.Errorf("created = %+v, want id and 2 cues", created)
	}

	w = do(t, router, http.MethodGet, "/api/v1/scenes", nil)
	list := decode[struct {
		Scenes []show.SceneData `json:"scenes"`
		Count  int              `json:"count"`
	}](t, w)
	if list.Count != 1 || list.Scenes[0].Name != "wash" {
		t.Errorf("list = %+v", list)
	}

	w = do(t, router, http.MethodGet, "/api/v1/scenes/wash", nil)
	if w.Code != http.StatusOK || decode[show.SceneData](t, w).BPM != 120 {
		t.Errorf("get status = %d, body %s", w.Code, w.Body.String())
	}
}

func TestScenes_CreateErrors(t *testing.T) {
	tests := []struct {
		name string
		body any
		want int
	}{
		{"invalid json", "{", http.StatusBadRequest},
		{"missing name", show.SceneData{}, http.StatusBadRequest},
		{"invalid name", show.SceneData{Name: "a/b"}, http.StatusBadRequest},
		{"duplicate", show.SceneData{Name: "existing"}, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := testServer(t)
			if _, err := srv.board.CreateScene("existing"); err != nil {
				t.Fatalf("CreateScene: %v", err)
			}
			w := do(t, srv.buildRouter(), http.MethodPost, "/api/v1/scenes", tt.body)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d (body %s)", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestScenes_NotFound(t *testing.T) {
	srv := testServer(t)
	router := srv.buildRouter()

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/v1/scenes/ghost"},
		{http.MethodDelete, "/api/v1/scenes/ghost"},
		{http.MethodPost, "/api/v1/scenes/ghost/go"},
		{http.MethodGet, "/api/v1/scenes/ghost/cues/default"},
	} {
		w := do(t, router, tc.method, tc.path, nil)
		if w.Code != http.StatusNotFound {
			t.Errorf("%s %s status = %d, want 404", tc.method, tc.path, w.Code)
		}
		if e := decode[Error](t, w); e.Code != ErrCodeNotFound {
			t.Errorf("%s %s code = %q", tc.method, tc.path, e.Code)
		}
	}
}

func TestScenes_Update(t *testing.T) {
	srv := testServer(t)
	router := srv.buildRouter()
	do(t, router, http.MethodPost, "/api/v1/scenes", twoCueScene())

	w := do(t, router, http.MethodPatch, "/api/v1/scenes/wash", map[string]any{
		"name": "wash2", "alpha": 0.5, "priority": 3, "bpm": 90,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	got := decode[show.SceneData](t, w)
	if got.Name != "wash2" || got.Alpha != 0.5 || got.Priority != 3 || got.BPM != 90 {
		t.Errorf("updated = %+v", got)
	}

	w = do(t, router, http.MethodPatch, "/api/v1/scenes/wash2", map[string]any{"blend": "nonsense", "priority": 9})
	if w.Code != http.StatusBadRequest {
		t.Errorf("unknown blend status = %d, want 400", w.Code)
	}
	sc, _ := srv.board.Scene("wash2") //nolint:errcheck // checked by the update above
	if sc.Data().Priority != 3 {
		t.Error("rejected update must not apply other fields")
	}
}

func TestScenes_Delete(t *testing.T) {
	repo := newMockRepo()
	srv := testServer(t, func(d *Deps) { d.Repo = repo })
	router := srv.buildRouter()

	created := decode[show.SceneData](t, do(t, router, http.MethodPost, "/api/v1/scenes", twoCueScene()))

	w := do(t, router, http.MethodDelete, "/api/v1/scenes/wash", nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if len(repo.deleted) != 1 || repo.deleted[0] != created.ID {
		t.Errorf("repo deletes = %v, want [%s]", repo.deleted, created.ID)
	}
	if len(srv.board.Scenes()) != 0 {
		t.Error("scene still on the board")
	}
}

// =============================================================================
// Playback
// =============================================================================

func TestScenes_Playback(t *testing.T) {
	srv := testServer(t)
	router := srv.buildRouter()
	do(t, router, http.MethodPost, "/api/v1/scenes", twoCueScene())

	w := do(t, router, http.MethodPost, "/api/v1/scenes/wash/go", nil)
	st := decode[sceneStatus](t, w)
	if w.Code != http.StatusOK || !st.Active || st.CurrentCue != "default" {
		t.Fatalf("go = %d %+v", w.Code, st)
	}

	w = do(t, router, http.MethodPost, "/api/v1/scenes/wash/goto", cueRequest{Cue: "blue"})
	if st = decode[sceneStatus](t, w); st.CurrentCue != "blue" {
		t.Errorf("goto current = %q, want blue", st.CurrentCue)
	}

	w = do(t, router, http.MethodPost, "/api/v1/scenes/wash/goto", cueRequest{Cue: "missing"})
	if w.Code != http.StatusNotFound {
		t.Errorf("goto missing status = %d, want 404", w.Code)
	}
	w = do(t, router, http.MethodPost, "/api/v1/scenes/wash/goto", cueRequest{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("goto without cue status = %d, want 400", w.Code)
	}

	w = do(t, router, http.MethodPost, "/api/v1/scenes/wash/tap", nil)
	if w.Code != http.StatusOK {
		t.Errorf("tap status = %d", w.Code)
	}

	w = do(t, router, http.MethodPost, "/api/v1/scenes/wash/stop", nil)
	if st = decode[sceneStatus](t, w); st.Active {
		t.Error("scene still active after stop")
	}
}

func TestScenes_Claim(t *testing.T) {
	srv := testServer(t)
	router := srv.buildRouter()
	do(t, router, http.MethodPost, "/api/v1/scenes", twoCueScene())
	do(t, router, http.MethodPost, "/api/v1/scenes/wash/go", nil)

	w := do(t, router, http.MethodPost, "/api/v1/scenes/wash/claim", cueRequest{Cue: "blue"})
	if w.Code != http.StatusOK {
		t.Fatalf("claim status = %d, body %s", w.Code, w.Body.String())
	}
	if st := decode[sceneStatus](t, w); st.CurrentCue != "blue" {
		t.Errorf("current = %q, want blue", st.CurrentCue)
	}
}

func TestShortcut(t *testing.T) {
	srv := testServer(t)
	router := srv.buildRouter()
	do(t, router, http.MethodPost, "/api/v1/scenes", twoCueScene())
	do(t, router, http.MethodPost, "/api/v1/scenes/wash/go", nil)

	w := do(t, router, http.MethodPost, "/api/v1/shortcuts/B1", nil)
	resp := decode[map[string]any](t, w)
	if resp["scenes"] != float64(1) {
		t.Errorf("shortcut response = %v, want 1 scene", resp)
	}
	sc, _ := srv.board.Scene("wash") //nolint:errcheck // imported above
	if sc.CurrentCue() != "blue" {
		t.Errorf("current = %q, want blue", sc.CurrentCue())
	}

	w = do(t, router, http.MethodPost, "/api/v1/shortcuts/none", nil)
	if decode[map[string]any](t, w)["scenes"] != float64(0) {
		t.Error("unknown shortcut should reach no scenes")
	}
}

// =============================================================================
// Cues
// =============================================================================

func TestCues_AddGetDelete(t *testing.T) {
	srv := testServer(t)
	router := srv.buildRouter()
	do(t, router, http.MethodPost, "/api/v1/scenes", twoCueScene())

	w := do(t, router, http.MethodPost, "/api/v1/scenes/wash/cues", show.CueData{Name: "red", Number: 2, SoundVolume: 1})
	if w.Code != http.StatusCreated {
		t.Fatalf("add status = %d, body %s", w.Code, w.Body.String())
	}

	w = do(t, router, http.MethodPost, "/api/v1/scenes/wash/cues", show.CueData{Name: "red", Number: 3})
	if w.Code != http.StatusConflict {
		t.Errorf("duplicate cue status = %d, want 409", w.Code)
	}

	w = do(t, router, http.MethodGet, "/api/v1/scenes/wash/cues/red", nil)
	if w.Code != http.StatusOK || decode[show.CueData](t, w).Number != 2 {
		t.Errorf("get cue = %d %s", w.Code, w.Body.String())
	}

	w = do(t, router, http.MethodDelete, "/api/v1/scenes/wash/cues/red", nil)
	if w.Code != http.StatusNoContent {
		t.Errorf("delete status = %d", w.Code)
	}
	w = do(t, router, http.MethodDelete, "/api/v1/scenes/wash/cues/default", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("delete default status = %d, want 400", w.Code)
	}
}

func TestCues_SetValue(t *testing.T) {
	srv := testServer(t)
	router := srv.buildRouter()
	do(t, router, http.MethodPost, "/api/v1/scenes", twoCueScene())

	w := do(t, router, http.MethodPut, "/api/v1/scenes/wash/cues/blue/values",
		map[string]any{"key": "par1", "channel": "red", "value": 0.5})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if got := decode[show.CueData](t, w).Values["par1"]["red"]; got != 0.5 {
		t.Errorf("par1.red = %v, want 0.5", got)
	}

	w = do(t, router, http.MethodPut, "/api/v1/scenes/wash/cues/blue/values",
		map[string]any{"key": "par1", "channel": "red", "value": nil})
	if _, ok := decode[show.CueData](t, w).Values["par1"]["red"]; ok {
		t.Error("null value should clear the channel")
	}

	w = do(t, router, http.MethodPut, "/api/v1/scenes/wash/cues/blue/values", map[string]any{"key": "par1"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing channel status = %d, want 400", w.Code)
	}
}

// =============================================================================
// Universes, Tags, Save
// =============================================================================

func TestUniverses(t *testing.T) {
	srv := testServer(t)
	router := srv.buildRouter()

	w := do(t, router, http.MethodGet, "/api/v1/universes", nil)
	list := decode[struct {
		Universes []universeInfo `json:"universes"`
	}](t, w)
	if len(list.Universes) != 1 || list.Universes[0].Name != "dmx1" || list.Universes[0].Channels != 16 {
		t.Errorf("universes = %+v", list.Universes)
	}

	w = do(t, router, http.MethodGet, "/api/v1/universes/dmx1", nil)
	snap := decode[struct {
		Values []float32 `json:"values"`
	}](t, w)
	if len(snap.Values) != 16 {
		t.Errorf("values length = %d, want 16", len(snap.Values))
	}

	w = do(t, router, http.MethodGet, "/api/v1/universes/dmx9", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown universe status = %d, want 404", w.Code)
	}
}

func TestTags(t *testing.T) {
	tags := &mockTags{tags: map[string]any{"stage/mode": "blue"}}
	srv := testServer(t, func(d *Deps) { d.Tags = tags })
	router := srv.buildRouter()

	w := do(t, router, http.MethodGet, "/api/v1/tags", nil)
	if decode[map[string]any](t, w)["count"] != float64(1) {
		t.Errorf("list = %s", w.Body.String())
	}

	w = do(t, router, http.MethodPut, "/api/v1/tags/fixture/par1", map[string]any{"value": "dmx1:4"})
	if w.Code != http.StatusOK || tags.tags["fixture/par1"] != "dmx1:4" {
		t.Errorf("set = %d, tags %v", w.Code, tags.tags)
	}

	tags.err = tagbus.ErrInvalidTag
	w = do(t, router, http.MethodPut, "/api/v1/tags/bad+", map[string]any{"value": 1})
	if w.Code != http.StatusBadRequest {
		t.Errorf("invalid tag status = %d, want 400", w.Code)
	}

	tags.err = errors.New("broker down")
	w = do(t, router, http.MethodPut, "/api/v1/tags/x", map[string]any{"value": 1})
	if w.Code != http.StatusBadGateway {
		t.Errorf("publish failure status = %d, want 502", w.Code)
	}
}

func TestTags_NotConfigured(t *testing.T) {
	srv := testServer(t)
	w := do(t, srv.buildRouter(), http.MethodGet, "/api/v1/tags", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

func TestSave(t *testing.T) {
	repo := newMockRepo()
	srv := testServer(t, func(d *Deps) { d.Repo = repo })
	router := srv.buildRouter()
	do(t, router, http.MethodPost, "/api/v1/scenes", twoCueScene())

	w := do(t, router, http.MethodPost, "/api/v1/save", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if len(repo.saved) != 1 {
		t.Errorf("saved = %d scenes, want 1", len(repo.saved))
	}

	repo.saveErr = errors.New("disk full")
	w = do(t, router, http.MethodPost, "/api/v1/save", nil)
	if w.Code != http.StatusInternalServerError {
		t.Errorf("failing save status = %d, want 500", w.Code)
	}
}

func TestSave_NotConfigured(t *testing.T) {
	srv := testServer(t)
	w := do(t, srv.buildRouter(), http.MethodPost, "/api/v1/save", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

func TestReload(t *testing.T) {
	reloader := &mockReloader{}
	srv := testServer(t, func(d *Deps) { d.Reloader = reloader })
	router := srv.buildRouter()

	w := do(t, router, http.MethodPost, "/api/v1/reload", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if got := decode[map[string]int](t, w)["universes"]; got != 1 {
		t.Errorf("universes = %d, want 1", got)
	}

	reloader.err = errors.New("universe dmx2: unknown output type")
	w = do(t, router, http.MethodPost, "/api/v1/reload", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("failing reload status = %d, want 400", w.Code)
	}
	if !strings.Contains(w.Body.String(), "unknown output type") {
		t.Errorf("body = %s, want the reload error", w.Body.String())
	}
	if reloader.calls != 2 {
		t.Errorf("Reload() calls = %d, want 2", reloader.calls)
	}
}

func TestReload_NotConfigured(t *testing.T) {
	srv := testServer(t)
	w := do(t, srv.buildRouter(), http.MethodPost, "/api/v1/reload", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

func TestWriteShowError(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{show.ErrDuplicateName, http.StatusConflict},
		{show.ErrClaimWithoutCue, http.StatusConflict},
		{show.ErrInvalidName, http.StatusBadRequest},
		{show.ErrCannotRemoveCue, http.StatusBadRequest},
		{show.ErrSceneNotFound, http.StatusNotFound},
		{show.ErrNoMatch, http.StatusNotFound},
		{show.ErrUnknownCommand, http.StatusBadRequest},
		{errors.New("other"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		w := httptest.NewRecorder()
		writeShowError(w, tt.err)
		if w.Code != tt.want {
			t.Errorf("writeShowError(%v) = %d, want %d", tt.err, w.Code, tt.want)
		}
	}
}
