package web

import (
	"net/http"
	"strconv"

	"gelato-costing/internal/app"
)

// apiStockLevels handles GET /api/inventory/stock.
func (h *Handler) apiStockLevels(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.GetStockLevels(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, res)
}

// apiRecordUsage handles POST /api/inventory/usage.
func (h *Handler) apiRecordUsage(w http.ResponseWriter, r *http.Request) {
	var req app.UsageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.svc.RecordUsage(r.Context(), actorFromContext(r.Context()), req); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, map[string]string{"status": "recorded"})
}

// apiStocktake handles POST /api/inventory/stocktake.
func (h *Handler) apiStocktake(w http.ResponseWriter, r *http.Request) {
	var req app.StocktakeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.svc.Stocktake(r.Context(), actorFromContext(r.Context()), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, res)
}

// apiInventoryHistory handles GET /api/inventory/{id}/history?limit=.
func (h *Handler) apiInventoryHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	limit := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil {
			limit = parsed
		}
	}
	res, err := h.svc.GetInventoryHistory(r.Context(), id, limit)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, res)
}
