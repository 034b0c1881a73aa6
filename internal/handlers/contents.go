package handlers

import (
	"net/http"

	"vigil/internal/pipeline"
)

type contentResponse struct {
	Item      *pipeline.ContentItem `json:"item"`
	Decisions []pipeline.Decision   `json:"decisions"`
}

// HandleContentGet returns one content item with its full decision history.
// Operator endpoint.
// GET /api/contents/{id}
func (h *Handler) HandleContentGet(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireUser(w, r); !ok {
		return
	}

	id := r.PathValue("id")
	if id == "" {
		writeError(w, "content id required", http.StatusBadRequest)
		return
	}

	item, decisions, err := h.service.GetItem(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	// Raw text stays internal until approved; blocked text never leaves.
	if item.Kind == pipeline.KindText && item.Status != pipeline.StatusApproved {
		item.Text = ""
	}

	writeJSON(w, contentResponse{Item: item, Decisions: decisions}, "content item")
}
