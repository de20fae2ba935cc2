package handlers

import (
	"net/http"

	"issueflow/internal/tendering"
)

type createBidRequest struct {
	Amount   float64 `json:"amount"`
	Details  string  `json:"details"`
	Timeline string  `json:"timeline"`
}

// CreateBidHandler обрабатывает POST /api/tenders/{tenderId}/bids
func (h *Handler) CreateBidHandler(w http.ResponseWriter, r *http.Request) {
	tenderID, err := pathID(r, "tenderId")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req createBidRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	bid, err := h.Tenders.SubmitBid(r.Context(), actorFrom(r.Context()), tenderID, tendering.BidRequest{
		Amount:   req.Amount,
		Details:  req.Details,
		Timeline: req.Timeline,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, bid)
}

// GetBidsForTenderHandler возвращает предложения по тендеру в порядке подачи
func (h *Handler) GetBidsForTenderHandler(w http.ResponseWriter, r *http.Request) {
	tenderID, err := pathID(r, "tenderId")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	bids, err := h.Tenders.Bids(r.Context(), tenderID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bids)
}

// AcceptBidHandler выбирает победителя; ответ - согласованный снимок предложения, тендера и обращения
func (h *Handler) AcceptBidHandler(w http.ResponseWriter, r *http.Request) {
	bidID, err := pathID(r, "bidId")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	snap, err := h.Tenders.AcceptBid(r.Context(), actorFrom(r.Context()), bidID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *Handler) RejectBidHandler(w http.ResponseWriter, r *http.Request) {
	bidID, err := pathID(r, "bidId")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	snap, err := h.Tenders.RejectBid(r.Context(), actorFrom(r.Context()), bidID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}
