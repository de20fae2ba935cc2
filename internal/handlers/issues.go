package handlers

import (
	"net/http"

	"issueflow/db"
	"issueflow/internal/apperr"
	"issueflow/internal/workflow"
	"issueflow/models"
)

type reportIssueRequest struct {
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Category    models.Category `json:"category"`
	Priority    models.Priority `json:"priority"`
	Location    models.Location `json:"location"`
}

type advanceRequest struct {
	TargetStage  models.Stage `json:"targetStage"`
	DepartmentID int64        `json:"departmentId"`
	Notes        string       `json:"notes"`
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

type closeRequest struct {
	Notes string `json:"notes"`
}

// ReportIssueHandler обрабатывает POST /api/issues
func (h *Handler) ReportIssueHandler(w http.ResponseWriter, r *http.Request) {
	var req reportIssueRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	issue, err := h.Issues.Report(r.Context(), actorFrom(r.Context()), workflow.NewIssue{
		Title:       req.Title,
		Description: req.Description,
		Category:    req.Category,
		Priority:    req.Priority,
		Location:    req.Location,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, issue)
}

// ListIssuesHandler возвращает обращения от новых к старым с фильтрами stage и department
func (h *Handler) ListIssuesHandler(w http.ResponseWriter, r *http.Request) {
	params := parsePaginationParams(r)
	f := db.IssueFilter{Limit: params.Limit, Offset: params.Offset}

	if s := r.URL.Query().Get("stage"); s != "" {
		f.Stage = models.Stage(s)
		if !f.Stage.Valid() {
			h.writeError(w, r, apperr.New(apperr.InvalidInput, "Invalid stage"))
			return
		}
	}
	dept, err := queryID(r, "department")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	f.DepartmentID = dept

	issues, err := h.Reader.ListIssues(r.Context(), f)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, issues)
}

func (h *Handler) GetIssueHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "issueId")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	issue, err := h.Reader.GetIssue(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, issue)
}

// ListAssignmentsHandler возвращает журнал назначений обращения
func (h *Handler) ListAssignmentsHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "issueId")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if _, err := h.Reader.GetIssue(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	out, err := h.Reader.ListAssignments(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// AdvanceIssueHandler обрабатывает POST /api/issues/{issueId}/advance
func (h *Handler) AdvanceIssueHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "issueId")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req advanceRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.TargetStage == "" {
		h.writeError(w, r, apperr.New(apperr.InvalidInput, "targetStage is required"))
		return
	}
	issue, err := h.Issues.Advance(r.Context(), workflow.Request{
		IssueID:      id,
		Target:       req.TargetStage,
		Actor:        actorFrom(r.Context()),
		DepartmentID: req.DepartmentID,
		Notes:        req.Notes,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, issue)
}

func (h *Handler) AcknowledgeIssueHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "issueId")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	issue, err := h.Issues.Acknowledge(r.Context(), id, actorFrom(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, issue)
}

func (h *Handler) RejectIssueHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "issueId")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req rejectRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	issue, err := h.Issues.Reject(r.Context(), id, actorFrom(r.Context()), req.Reason)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, issue)
}

func (h *Handler) CloseIssueHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "issueId")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req closeRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	issue, err := h.Issues.Close(r.Context(), id, actorFrom(r.Context()), req.Notes)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, issue)
}
