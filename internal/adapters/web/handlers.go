package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"gelato-costing/internal/app"
	"gelato-costing/internal/config"
)

// importBodyLimit caps CSV rate uploads, which can be larger than JSON bodies.
const importBodyLimit = 8 << 20

// Handler holds the ApplicationService and the chi router.
type Handler struct {
	svc    app.ApplicationService
	router chi.Router
	logger *zap.Logger
}

// NewHandler creates and wires the chi router with all routes.
func NewHandler(svc app.ApplicationService, cfg config.ServerConfig, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	bodyLimit := cfg.BodyLimitBytes
	if bodyLimit <= 0 {
		bodyLimit = 1 << 20
	}

	h := &Handler{svc: svc, logger: logger}

	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(Logger(logger))
	r.Use(Recoverer(logger))
	r.Use(CORS(cfg.AllowedOrigins))

	// ── Health (public) ───────────────────────────────────────────────────────
	r.Get("/api/health", h.health)

	r.Group(func(r chi.Router) {
		r.Use(Identify)

		r.With(RequestBodyLimit(importBodyLimit)).Post("/api/fx/rates/import", h.apiImportRates)

		r.Group(func(r chi.Router) {
			r.Use(RequestBodyLimit(bodyLimit))

			// ── FX ────────────────────────────────────────────────────────────────
			r.Get("/api/fx/quote", h.apiQuoteRate)
			r.Put("/api/fx/rates", h.apiSetRate)
			r.Get("/api/fx/rates/export", h.apiExportRates)

			// ── WAC / normalization ───────────────────────────────────────────────
			r.Post("/api/wac/recalc", h.apiRecalcWAC)
			r.Get("/api/ingredients/{id}/wac", h.apiCurrentWAC)
			r.Get("/api/normalization/candidates", h.apiNormalizationCandidates)
			r.Post("/api/normalization/apply", h.apiApplyNormalization)

			// ── Purchase orders ───────────────────────────────────────────────────
			r.Get("/api/purchase-orders", h.apiListPurchaseOrders)
			r.Post("/api/purchase-orders", h.apiCreatePurchaseOrder)
			r.Get("/api/purchase-orders/{id}", h.apiGetPurchaseOrder)
			r.Put("/api/purchase-orders/{id}", h.apiUpdatePurchaseOrder)

			// ── Batches ───────────────────────────────────────────────────────────
			r.Post("/api/batches", h.apiSaveBatch)
			r.Get("/api/batches/{id}", h.apiGetBatch)
			r.Put("/api/batches/{id}", h.apiUpdateBatch)

			// ── Inventory ─────────────────────────────────────────────────────────
			r.Get("/api/inventory/stock", h.apiStockLevels)
			r.Post("/api/inventory/usage", h.apiRecordUsage)
			r.Post("/api/inventory/stocktake", h.apiStocktake)
			r.Get("/api/inventory/{id}/history", h.apiInventoryHistory)

			// ── Recipes ───────────────────────────────────────────────────────────
			r.Post("/api/recipes", h.apiCreateRecipe)
			r.Get("/api/recipes/versions/{id}", h.apiGetRecipeVersion)
			r.Post("/api/recipes/{id}/versions", h.apiCreateRecipeVersion)
		})
	})

	h.router = r
	return r
}

// health returns service status.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

// decodeJSON decodes the request body into v and returns false + writes an appropriate
// error response on failure. Returns HTTP 413 when the body exceeds the size limit set
// by RequestBodyLimit middleware; HTTP 400 for all other decode errors.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeError(w, r, "request body too large", "REQUEST_TOO_LARGE", http.StatusRequestEntityTooLarge)
			return false
		}
		writeError(w, r, "invalid JSON body: "+err.Error(), "BAD_REQUEST", http.StatusBadRequest)
		return false
	}
	return true
}

// pathID parses the {id} URL parameter, writing 400 on failure.
func pathID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id <= 0 {
		writeError(w, r, "invalid id", "BAD_REQUEST", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

// optionalIngredientID parses ?ingredient_id=. Absent means all ingredients.
func optionalIngredientID(w http.ResponseWriter, r *http.Request) (*int, bool) {
	raw := r.URL.Query().Get("ingredient_id")
	if raw == "" {
		return nil, true
	}
	id, err := strconv.Atoi(raw)
	if err != nil || id <= 0 {
		writeError(w, r, "ingredient_id must be a positive integer", "BAD_REQUEST", http.StatusBadRequest)
		return nil, false
	}
	return &id, true
}
