package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"issueflow/db"
	"issueflow/internal/apperr"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// Handler связывает HTTP с движками
type Handler struct {
	Issues      IssueService
	Reader      IssueReader
	Tenders     TenderService
	Leaderboard LeaderboardService
	Auth        Authenticator
	Log         *zap.Logger
}

// NewHandler создает новый Handler. По умолчанию вызывающий берется из заголовков шлюза.
func NewHandler(issues IssueService, reader IssueReader, tenders TenderService, board LeaderboardService, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		Issues:      issues,
		Reader:      reader,
		Tenders:     tenders,
		Leaderboard: board,
		Auth:        HeaderAuthenticator{},
		Log:         log,
	}
}

// Routes регистрирует маршруты /api.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/ping", h.PingHandler)

	r.Group(func(r chi.Router) {
		r.Use(h.Authenticate)
		// обращения
		r.Post("/issues", h.ReportIssueHandler)
		r.Get("/issues", h.ListIssuesHandler)
		r.Get("/issues/{issueId}", h.GetIssueHandler)
		r.Get("/issues/{issueId}/assignments", h.ListAssignmentsHandler)
		r.Post("/issues/{issueId}/advance", h.AdvanceIssueHandler)
		r.Post("/issues/{issueId}/acknowledge", h.AcknowledgeIssueHandler)
		r.Post("/issues/{issueId}/reject", h.RejectIssueHandler)
		r.Post("/issues/{issueId}/close", h.CloseIssueHandler)
		// тендеры
		r.Post("/tenders", h.CreateTenderHandler)
		r.Get("/tenders", h.GetTendersHandler)
		r.Get("/tenders/{tenderId}", h.GetTenderHandler)
		r.Post("/tenders/{tenderId}/cancel", h.CancelTenderHandler)
		r.Get("/tenders/{tenderId}/bids", h.GetBidsForTenderHandler)
		r.Post("/tenders/{tenderId}/bids", h.CreateBidHandler)
		r.Get("/tenders/{tenderId}/work-progress", h.GetWorkProgressHandler)
		// предложения (bids)
		r.Post("/bids/{bidId}/accept", h.AcceptBidHandler)
		r.Post("/bids/{bidId}/reject", h.RejectBidHandler)
		// отчеты о работах
		r.Post("/work-progress", h.SubmitWorkProgressHandler)
		r.Post("/work-progress/{progressId}/verify", h.VerifyWorkProgressHandler)
		// рейтинг
		r.Get("/leaderboard", h.LeaderboardHandler)
	})
}

// PingHandler отвечает "ok" для проверки сервера
func (h *Handler) PingHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

type errorResponse struct {
	Error   apperr.Kind `json:"error"`
	Message string      `json:"message"`
	Current any         `json:"current,omitempty"`
}

// writeError переводит ошибку движка в код ответа. Конфликты сопровождаются
// фактическим состоянием объекта.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperr.HTTPStatus(err)
	resp := errorResponse{Error: apperr.KindOf(err), Message: err.Error()}
	var ae *apperr.Error
	if errors.As(err, &ae) {
		resp.Message = ae.Message
		resp.Current = ae.Current
	}
	if status >= http.StatusInternalServerError {
		h.Log.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		if status == http.StatusInternalServerError {
			resp = errorResponse{Error: "internal", Message: "Internal server error"}
		}
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// decodeBody читает JSON тела запроса в dst
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	// Ограничение размера тела, чтобы избежать DoS
	r.Body = http.MaxBytesReader(w, r.Body, 1048576)
	defer r.Body.Close()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		return apperr.New(apperr.InvalidInput, "Failed to read request body")
	}
	if len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return apperr.New(apperr.InvalidInput, "Invalid JSON format")
	}
	return nil
}

// pathID читает положительный id из параметра пути
func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.New(apperr.InvalidInput, "Invalid %s", name)
	}
	return id, nil
}

type PaginationParams struct {
	Limit  int
	Offset int
}

// parsePaginationParams парсит limit и offset из query, с дефолтами и ограничениями
func parsePaginationParams(r *http.Request) PaginationParams {
	var params PaginationParams
	limitStr := r.URL.Query().Get("limit")
	offsetStr := r.URL.Query().Get("offset")

	params.Limit = db.DefaultLimit
	params.Offset = 0

	if limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 100 {
			params.Limit = l
		}
	}
	if offsetStr != "" {
		if o, err := strconv.Atoi(offsetStr); err == nil && o >= 0 {
			params.Offset = o
		}
	}
	return params
}

// queryID читает необязательный числовой фильтр; 0 - не задан
func queryID(r *http.Request, name string) (int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.New(apperr.InvalidInput, "Invalid %s", name)
	}
	return id, nil
}
