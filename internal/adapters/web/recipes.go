package web

import (
	"net/http"

	"gelato-costing/internal/app"
)

// apiCreateRecipe handles POST /api/recipes.
func (h *Handler) apiCreateRecipe(w http.ResponseWriter, r *http.Request) {
	var req app.RecipeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	recipe, err := h.svc.CreateRecipe(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, recipe)
}

// apiGetRecipeVersion handles GET /api/recipes/versions/{id}.
func (h *Handler) apiGetRecipeVersion(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	res, err := h.svc.GetRecipeVersion(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, res)
}

// apiCreateRecipeVersion handles POST /api/recipes/{id}/versions.
func (h *Handler) apiCreateRecipeVersion(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req app.RecipeVersionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.svc.CreateRecipeVersion(r.Context(), actorFromContext(r.Context()), id, req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, res)
}
