package web

import "net/http"

// apiRecalcWAC handles POST /api/wac/recalc?ingredient_id=.
func (h *Handler) apiRecalcWAC(w http.ResponseWriter, r *http.Request) {
	id, ok := optionalIngredientID(w, r)
	if !ok {
		return
	}
	res, err := h.svc.RecalculateWAC(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, res)
}

// apiCurrentWAC handles GET /api/ingredients/{id}/wac.
func (h *Handler) apiCurrentWAC(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	res, err := h.svc.GetCurrentWAC(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, res)
}

// apiNormalizationCandidates handles GET /api/normalization/candidates?ingredient_id=.
func (h *Handler) apiNormalizationCandidates(w http.ResponseWriter, r *http.Request) {
	id, ok := optionalIngredientID(w, r)
	if !ok {
		return
	}
	res, err := h.svc.FindNormalizationCandidates(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, res)
}

// apiApplyNormalization handles POST /api/normalization/apply?ingredient_id=.
func (h *Handler) apiApplyNormalization(w http.ResponseWriter, r *http.Request) {
	id, ok := optionalIngredientID(w, r)
	if !ok {
		return
	}
	res, err := h.svc.ApplyNormalization(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, res)
}
