package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

type strengthRequest struct {
	Strength *int `json:"strength"`
}

// GroupsHandler handles group requests.
type GroupsHandler struct {
	groups GroupService
}

// NewGroupsHandler creates a new groups handler.
func NewGroupsHandler(groups GroupService) *GroupsHandler {
	return &GroupsHandler{groups: groups}
}

// HandleGetGroups handles GET /groups requests.
func (h *GroupsHandler) HandleGetGroups(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, h.groups.Views())
}

// HandlePutStrength handles PUT /groups/{id}/strength requests.
func (h *GroupsHandler) HandlePutStrength(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		http.NotFound(w, r)
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/groups/")
	idStr, tail, ok := strings.Cut(rest, "/")
	if !ok || tail != "strength" {
		http.NotFound(w, r)
		return
	}
	id, err := strconv.Atoi(idStr)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%w: group id %q", ErrBadRequest, idStr))
		return
	}
	var req strengthRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Strength == nil {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%w: body must be {\"strength\": <0-100>}", ErrBadRequest))
		return
	}
	if err := h.groups.SetStrength(id, *req.Strength); err != nil {
		if isNotFound(err) {
			writeError(w, http.StatusNotFound, "not_found", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
