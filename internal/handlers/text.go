package handlers

import (
	"net/http"

	"vigil/internal/pipeline"
	"vigil/internal/ratelimit"

	"github.com/rs/zerolog/log"
)

type validateTextRequest struct {
	Text string `json:"text"`

	// Context tags where the message came from (chat, caption, bio). Logged
	// only; not used by the matcher.
	Context string `json:"context,omitempty"`
}

type validateTextResponse struct {
	Allowed   bool   `json:"allowed"`
	ContentID string `json:"content_id"`

	// Reason is the decision's reason code when blocked. The matched terms
	// themselves are never echoed back to the submitter.
	Reason string `json:"reason,omitempty"`
}

// HandleValidateText moderates one text message synchronously.
// POST /api/validate-text
func (h *Handler) HandleValidateText(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	var req validateTextRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	snap, admitted, err := h.limiter.Admit(r.Context(), userID, ratelimit.ActionTextMessage)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if !admitted {
		writeRateLimited(w, snap)
		return
	}

	item, decision, err := h.service.SubmitText(r.Context(), userID, req.Text)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	if req.Context != "" {
		log.Debug().Str("context", req.Context).Str("content_id", item.ID).
			Msg("handlers: text validated")
	}

	resp := validateTextResponse{
		Allowed:   decision.Outcome == pipeline.OutcomeAllow,
		ContentID: item.ID,
	}
	if !resp.Allowed {
		resp.Reason = decision.ReasonCode
	}
	writeJSON(w, resp, "text validation")
}
