package web

import (
	"net/http"

	"gelato-costing/internal/app"
)

// apiSaveBatch handles POST /api/batches.
func (h *Handler) apiSaveBatch(w http.ResponseWriter, r *http.Request) {
	var req app.BatchRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.svc.SaveBatch(r.Context(), actorFromContext(r.Context()), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, res)
}

// apiGetBatch handles GET /api/batches/{id}.
func (h *Handler) apiGetBatch(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	res, err := h.svc.GetBatch(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, res)
}

// apiUpdateBatch handles PUT /api/batches/{id}. Repeating the same body is safe.
func (h *Handler) apiUpdateBatch(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req app.BatchRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.svc.UpdateBatch(r.Context(), actorFromContext(r.Context()), id, req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, res)
}
