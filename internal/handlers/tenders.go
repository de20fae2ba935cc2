package handlers

import (
	"net/http"
	"time"

	"issueflow/db"
	"issueflow/internal/apperr"
	"issueflow/internal/tendering"
	"issueflow/models"
)

type createTenderRequest struct {
	IssueID      int64     `json:"issueId"`
	DepartmentID int64     `json:"departmentId"`
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	BudgetMin    float64   `json:"budgetMin"`
	BudgetMax    float64   `json:"budgetMax"`
	Deadline     time.Time `json:"deadline"`
}

// CreateTenderHandler обрабатывает POST /api/tenders
func (h *Handler) CreateTenderHandler(w http.ResponseWriter, r *http.Request) {
	var req createTenderRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	tender, err := h.Tenders.CreateTender(r.Context(), actorFrom(r.Context()), tendering.TenderRequest{
		IssueID:      req.IssueID,
		DepartmentID: req.DepartmentID,
		Title:        req.Title,
		Description:  req.Description,
		BudgetMin:    req.BudgetMin,
		BudgetMax:    req.BudgetMax,
		Deadline:     req.Deadline,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, tender)
}

// GetTendersHandler возвращает список тендеров; status может повторяться
func (h *Handler) GetTendersHandler(w http.ResponseWriter, r *http.Request) {
	params := parsePaginationParams(r)
	f := db.TenderFilter{Limit: params.Limit, Offset: params.Offset}

	for _, v := range r.URL.Query()["status"] {
		s := models.TenderStatus(v)
		if !s.Valid() {
			h.writeError(w, r, apperr.New(apperr.InvalidInput, "Invalid status %q", v))
			return
		}
		f.Statuses = append(f.Statuses, s)
	}
	dept, err := queryID(r, "department")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	f.DepartmentID = dept

	tenders, err := h.Tenders.Tenders(r.Context(), f)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tenders)
}

func (h *Handler) GetTenderHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "tenderId")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	tender, err := h.Tenders.Tender(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tender)
}

func (h *Handler) CancelTenderHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "tenderId")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	snap, err := h.Tenders.CancelTender(r.Context(), actorFrom(r.Context()), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// GetWorkProgressHandler возвращает отчеты подрядчика по тендеру
func (h *Handler) GetWorkProgressHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "tenderId")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out, err := h.Tenders.WorkProgress(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

type progressRequest struct {
	TenderID    int64               `json:"tenderId"`
	Type        models.ProgressType `json:"type"`
	Percentage  *int                `json:"percentage"`
	Description string              `json:"description"`
}

type verifyRequest struct {
	Approved *bool  `json:"approved"`
	Notes    string `json:"notes"`
}

// SubmitWorkProgressHandler обрабатывает POST /api/work-progress
func (h *Handler) SubmitWorkProgressHandler(w http.ResponseWriter, r *http.Request) {
	var req progressRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.TenderID <= 0 {
		h.writeError(w, r, apperr.New(apperr.InvalidInput, "tenderId must be positive"))
		return
	}
	snap, err := h.Tenders.SubmitWorkProgress(r.Context(), actorFrom(r.Context()), tendering.ProgressRequest{
		TenderID:    req.TenderID,
		Type:        req.Type,
		Percentage:  req.Percentage,
		Description: req.Description,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, snap)
}

// VerifyWorkProgressHandler обрабатывает POST /api/work-progress/{progressId}/verify
func (h *Handler) VerifyWorkProgressHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "progressId")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req verifyRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.Approved == nil {
		h.writeError(w, r, apperr.New(apperr.InvalidInput, "approved is required"))
		return
	}
	snap, err := h.Tenders.VerifyWorkProgress(r.Context(), actorFrom(r.Context()), id, *req.Approved, req.Notes)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}
