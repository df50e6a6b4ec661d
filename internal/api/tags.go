package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-show/internal/tagbus"
)

// handleListTags returns the tag cache.
//
// GET /tags
// Response: {"tags": {"stage/mode": "blue", "fixture/par1": "dmx1:12"}, "count": 2}
func (s *Server) handleListTags(w http.ResponseWriter, _ *http.Request) {
	if s.tags == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeInternal, "tag bus not configured")
		return
	}
	tags := s.tags.Tags()
	writeJSON(w, http.StatusOK, map[string]any{"tags": tags, "count": len(tags)})
}

// handleSetTag publishes a tag value. The tag name is the rest of the path,
// so it may contain slashes.
//
// PUT /tags/{name...}
// Body: {"value": "blue"}; a null value clears the tag.
func (s *Server) handleSetTag(w http.ResponseWriter, r *http.Request) {
	if s.tags == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeInternal, "tag bus not configured")
		return
	}

	name := chi.URLParam(r, "*")
	var body struct {
		Value any `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if err := s.tags.SetTag(name, body.Value); err != nil {
		if errors.Is(err, tagbus.ErrInvalidTag) {
			writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
			return
		}
		s.logger.Error("failed to publish tag", "tag", name, "error", err)
		writeError(w, http.StatusBadGateway, ErrCodeInternal, "failed to publish tag")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tag": name, "value": body.Value})
}
