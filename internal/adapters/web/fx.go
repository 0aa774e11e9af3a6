package web

import (
	"bytes"
	"errors"
	"net/http"

	"gelato-costing/internal/app"
)

// apiQuoteRate handles GET /api/fx/quote?date=&from=&to=&mode=.
func (h *Handler) apiQuoteRate(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	quote, err := h.svc.QuoteRate(r.Context(), app.QuoteRequest{
		Date: q.Get("date"),
		From: q.Get("from"),
		To:   q.Get("to"),
		Mode: q.Get("mode"),
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, quote)
}

// apiSetRate handles PUT /api/fx/rates.
func (h *Handler) apiSetRate(w http.ResponseWriter, r *http.Request) {
	var req app.SetRateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.svc.SetRate(r.Context(), req); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, map[string]string{"status": "stored"})
}

// apiImportRates handles POST /api/fx/rates/import with a text/csv body.
func (h *Handler) apiImportRates(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.ImportRates(r.Context(), r.Body)
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeError(w, r, "request body too large", "REQUEST_TOO_LARGE", http.StatusRequestEntityTooLarge)
			return
		}
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, res)
}

// apiExportRates handles GET /api/fx/rates/export?format=csv|xlsx.
// The file is rendered into memory first so a failure can still produce a JSON error.
func (h *Handler) apiExportRates(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	var buf bytes.Buffer
	contentType, err := h.svc.ExportRates(r.Context(), format, &buf)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	filename := "exchange_rates.csv"
	if contentType == app.ContentTypeXLSX {
		filename = "exchange_rates.xlsx"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", "attachment; filename="+filename)
	_, _ = w.Write(buf.Bytes())
}
