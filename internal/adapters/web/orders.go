package web

import (
	"net/http"

	"gelato-costing/internal/app"
)

// apiListPurchaseOrders handles GET /api/purchase-orders.
func (h *Handler) apiListPurchaseOrders(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.ListPurchaseOrders(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, res)
}

// apiCreatePurchaseOrder handles POST /api/purchase-orders.
func (h *Handler) apiCreatePurchaseOrder(w http.ResponseWriter, r *http.Request) {
	var req app.PurchaseOrderRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.svc.CreatePurchaseOrder(r.Context(), actorFromContext(r.Context()), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, res)
}

// apiGetPurchaseOrder handles GET /api/purchase-orders/{id}.
func (h *Handler) apiGetPurchaseOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	res, err := h.svc.GetPurchaseOrder(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, res)
}

// apiUpdatePurchaseOrder handles PUT /api/purchase-orders/{id}.
func (h *Handler) apiUpdatePurchaseOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req app.PurchaseOrderRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.svc.UpdatePurchaseOrder(r.Context(), actorFromContext(r.Context()), id, req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, res)
}
