package handlers

import (
	"net/http"

	"vigil/internal/ratelimit"
)

type submitReportRequest struct {
	ContentID   string `json:"content_id"`
	Category    string `json:"category"`
	Description string `json:"description,omitempty"`
}

type submitReportResponse struct {
	Success  bool   `json:"success"`
	ReportID string `json:"report_id,omitempty"`
}

// HandleReportSubmit files a report against an existing content item.
// POST /api/reports
func (h *Handler) HandleReportSubmit(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	var req submitReportRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	snap, admitted, err := h.limiter.Admit(r.Context(), userID, ratelimit.ActionReport)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if !admitted {
		writeRateLimited(w, snap)
		return
	}

	report, err := h.service.SubmitReport(r.Context(), userID, req.ContentID, req.Category, req.Description)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	writeJSON(w, submitReportResponse{Success: true, ReportID: report.ID}, "report")
}

// HandleReportsList returns reports, filtered by ?content_id= when given.
// Operator endpoint.
// GET /api/reports
func (h *Handler) HandleReportsList(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireUser(w, r); !ok {
		return
	}

	contentID := r.URL.Query().Get("content_id")
	limit := limitParam(r, 50, 200)

	reports, err := h.service.ListReports(r.Context(), contentID, limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, map[string]any{"reports": reports}, "reports")
}
