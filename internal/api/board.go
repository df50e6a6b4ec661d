package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// universeInfo describes one universe in the patch.
type universeInfo struct {
	Name     string `json:"name"`
	Channels int    `json:"channels"`
}

// handleListUniverses lists the patched universes.
func (s *Server) handleListUniverses(w http.ResponseWriter, _ *http.Request) {
	universes := s.board.Patch().Universes()
	out := make([]universeInfo, 0, len(universes))
	for _, u := range universes {
		out = append(out, universeInfo{Name: u.Name(), Channels: u.Len()})
	}
	writeJSON(w, http.StatusOK, map[string]any{"universes": out, "count": len(out)})
}

// handleGetUniverse returns a snapshot of a universe's output values.
// Slot 0 is the start code and always 0.
func (s *Server) handleGetUniverse(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	values, err := s.board.UniverseValues(name)
	if err != nil {
		writeShowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"name": name, "values": values})
}

// handleShortcut fires a shortcut code across all active scenes.
//
// POST /shortcuts/{code}
// Response: {"code": "A1", "scenes": 2}
func (s *Server) handleShortcut(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	n := s.board.ShortcutCode(code)
	writeJSON(w, http.StatusOK, map[string]any{"code": code, "scenes": n})
}

// handleSave writes every scene to the repository.
func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	if s.repo == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeInternal, "scene storage not configured")
		return
	}
	if err := s.board.SaveAll(r.Context(), s.repo); err != nil {
		s.logger.Error("failed to save scenes", "error", err)
		writeInternalError(w, "failed to save scenes")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"saved": len(s.board.Scenes())})
}

// handleReload re-reads universes and fixtures from the configuration file
// and swaps them into the running board. An invalid configuration leaves
// the current patch untouched.
//
// POST /reload
// Response: {"universes": 2}
func (s *Server) handleReload(w http.ResponseWriter, _ *http.Request) {
	if s.reloader == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeInternal, "configuration reload not available")
		return
	}
	if err := s.reloader.Reload(); err != nil {
		s.logger.Warn("configuration reload failed", "error", err)
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"universes": len(s.board.Patch().Universes())})
}
