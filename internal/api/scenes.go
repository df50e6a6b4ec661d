package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-show/internal/show"
)

// sceneStatus is the response for playback actions.
type sceneStatus struct {
	Scene      string   `json:"scene"`
	Active     bool     `json:"active"`
	CurrentCue string   `json:"current_cue,omitempty"`
	Alpha      float32  `json:"alpha"`
	BPM        float64  `json:"bpm"`
	History    []string `json:"history,omitempty"`
}

func statusOf(sc *show.Scene) sceneStatus {
	return sceneStatus{
		Scene:      sc.Name(),
		Active:     sc.Active(),
		CurrentCue: sc.CurrentCue(),
		Alpha:      sc.Alpha(),
		BPM:        sc.BPM(),
		History:    sc.History(),
	}
}

// sceneFromRequest resolves the {name} URL parameter, writing a 404 on failure.
func (s *Server) sceneFromRequest(w http.ResponseWriter, r *http.Request) (*show.Scene, bool) {
	sc, err := s.board.Scene(chi.URLParam(r, "name"))
	if err != nil {
		writeShowError(w, err)
		return nil, false
	}
	return sc, true
}

// handleListScenes returns every scene in serialised form, sorted by name.
func (s *Server) handleListScenes(w http.ResponseWriter, _ *http.Request) {
	scenes := s.board.Export()
	writeJSON(w, http.StatusOK, map[string]any{"scenes": scenes, "count": len(scenes)})
}

// handleCreateScene installs a scene from its serialised form. A body with
// an existing id replaces that scene.
//
// POST /scenes
// Body: SceneData
func (s *Server) handleCreateScene(w http.ResponseWriter, r *http.Request) {
	var data show.SceneData
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if data.Name == "" {
		writeBadRequest(w, "name is required")
		return
	}

	sc, err := s.board.Import(data)
	if err != nil {
		writeShowError(w, err)
		return
	}
	s.logger.Info("scene created via API", "scene", sc.Name(), "id", sc.ID())
	writeJSON(w, http.StatusCreated, sc.Data())
}

// handleGetScene returns one scene.
func (s *Server) handleGetScene(w http.ResponseWriter, r *http.Request) {
	sc, ok := s.sceneFromRequest(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sc.Data())
}

// sceneUpdate is the body of PATCH /scenes/{name}. Absent fields are left alone.
type sceneUpdate struct {
	Name      *string            `json:"name"`
	Alpha     *float64           `json:"alpha"`
	Priority  *int               `json:"priority"`
	Blend     *string            `json:"blend"`
	BlendArgs map[string]float64 `json:"blend_args"`
	BPM       *float64           `json:"bpm"`
}

// handleUpdateScene changes scene parameters.
func (s *Server) handleUpdateScene(w http.ResponseWriter, r *http.Request) {
	sc, ok := s.sceneFromRequest(w, r)
	if !ok {
		return
	}

	var body sceneUpdate
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	// Fallible changes first so a rejected request changes nothing else.
	if body.Blend != nil {
		if err := sc.SetBlend(*body.Blend, body.BlendArgs); err != nil {
			writeShowError(w, err)
			return
		}
	}
	if body.BPM != nil {
		if err := sc.SetBPM(*body.BPM); err != nil {
			writeShowError(w, err)
			return
		}
	}
	if body.Name != nil && *body.Name != sc.Name() {
		if err := sc.SetName(*body.Name); err != nil {
			writeShowError(w, err)
			return
		}
	}
	if body.Priority != nil {
		sc.SetPriority(*body.Priority)
	}
	if body.Alpha != nil {
		sc.SetAlpha(*body.Alpha)
	}

	writeJSON(w, http.StatusOK, sc.Data())
}

// handleDeleteScene stops and removes a scene, and drops its stored row.
func (s *Server) handleDeleteScene(w http.ResponseWriter, r *http.Request) {
	sc, ok := s.sceneFromRequest(w, r)
	if !ok {
		return
	}
	if err := s.board.RemoveScene(sc.Name()); err != nil {
		writeShowError(w, err)
		return
	}
	if s.repo != nil {
		if err := s.repo.Delete(r.Context(), sc.ID()); err != nil {
			s.logger.Error("failed to delete stored scene", "scene", sc.Name(), "error", err)
			writeInternalError(w, "scene removed but stored copy could not be deleted")
			return
		}
	}
	s.logger.Info("scene deleted via API", "scene", sc.Name())
	w.WriteHeader(http.StatusNoContent)
}

// ─── Playback ───

func (s *Server) handleSceneGo(w http.ResponseWriter, r *http.Request) {
	sc, ok := s.sceneFromRequest(w, r)
	if !ok {
		return
	}
	if err := sc.Go(); err != nil {
		writeShowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusOf(sc))
}

func (s *Server) handleSceneStop(w http.ResponseWriter, r *http.Request) {
	sc, ok := s.sceneFromRequest(w, r)
	if !ok {
		return
	}
	sc.Stop()
	writeJSON(w, http.StatusOK, statusOf(sc))
}

func (s *Server) handleSceneNext(w http.ResponseWriter, r *http.Request) {
	sc, ok := s.sceneFromRequest(w, r)
	if !ok {
		return
	}
	if err := sc.Next(show.GotoOptions{}); err != nil {
		writeShowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusOf(sc))
}

func (s *Server) handleSceneTap(w http.ResponseWriter, r *http.Request) {
	sc, ok := s.sceneFromRequest(w, r)
	if !ok {
		return
	}
	sc.Tap(0)
	writeJSON(w, http.StatusOK, statusOf(sc))
}

// cueRequest is the body of goto and claim.
type cueRequest struct {
	Cue string `json:"cue"`
}

func decodeCueRequest(w http.ResponseWriter, r *http.Request) (string, bool) {
	var body cueRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return "", false
	}
	if body.Cue == "" {
		writeBadRequest(w, "cue is required")
		return "", false
	}
	return body.Cue, true
}

// handleSceneGoto jumps to a cue by name, number, glob or alternatives.
//
// POST /scenes/{name}/goto
// Body: {"cue": "blue|red"}
func (s *Server) handleSceneGoto(w http.ResponseWriter, r *http.Request) {
	sc, ok := s.sceneFromRequest(w, r)
	if !ok {
		return
	}
	cue, ok := decodeCueRequest(w, r)
	if !ok {
		return
	}
	if err := sc.Goto(cue, show.GotoOptions{}); err != nil {
		writeShowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusOf(sc))
}

// handleSceneClaim locks the scene to a cue the way a cue tag would.
func (s *Server) handleSceneClaim(w http.ResponseWriter, r *http.Request) {
	sc, ok := s.sceneFromRequest(w, r)
	if !ok {
		return
	}
	cue, ok := decodeCueRequest(w, r)
	if !ok {
		return
	}
	if err := s.board.ClaimCue(sc.Name(), cue); err != nil {
		writeShowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusOf(sc))
}

// ─── Cues ───

// handleAddCue appends a cue to a scene.
func (s *Server) handleAddCue(w http.ResponseWriter, r *http.Request) {
	sc, ok := s.sceneFromRequest(w, r)
	if !ok {
		return
	}

	var data show.CueData
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if err := sc.AddCue(data); err != nil {
		writeShowError(w, err)
		return
	}

	created, err := sc.CueData(data.Name)
	if err != nil {
		writeShowError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleGetCue(w http.ResponseWriter, r *http.Request) {
	sc, ok := s.sceneFromRequest(w, r)
	if !ok {
		return
	}
	data, err := sc.CueData(chi.URLParam(r, "cue"))
	if err != nil {
		writeShowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, data)
}

func (s *Server) handleDeleteCue(w http.ResponseWriter, r *http.Request) {
	sc, ok := s.sceneFromRequest(w, r)
	if !ok {
		return
	}
	if err := sc.RemoveCue(chi.URLParam(r, "cue")); err != nil {
		writeShowError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// cueValueRequest sets or clears one channel value. A null value removes it.
type cueValueRequest struct {
	Key     string   `json:"key"`
	Channel string   `json:"channel"`
	Value   *float64 `json:"value"`
}

// handleSetCueValue edits a cue's value table. Edits to the current cue
// reach the output on the next tick.
//
// PUT /scenes/{name}/cues/{cue}/values
// Body: {"key": "par1", "channel": "red", "value": 0.8}
func (s *Server) handleSetCueValue(w http.ResponseWriter, r *http.Request) {
	sc, ok := s.sceneFromRequest(w, r)
	if !ok {
		return
	}

	var body cueValueRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if body.Key == "" || body.Channel == "" {
		writeBadRequest(w, "key and channel are required")
		return
	}

	cue := chi.URLParam(r, "cue")
	if err := sc.SetValue(cue, body.Key, body.Channel, body.Value); err != nil {
		writeShowError(w, err)
		return
	}
	data, err := sc.CueData(cue)
	if err != nil {
		writeShowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, data)
}
