package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/access-atlas/atlas/internal/facility"
	"github.com/access-atlas/atlas/internal/importer"
	"github.com/access-atlas/atlas/internal/search"
)

// maxImportBody bounds POST /v1/imports payloads.
const maxImportBody = 1 << 16

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	body := map[string]string{"status": "ok"}
	if h.opts.SourceState != nil {
		body["source"] = h.opts.SourceState()
	}
	writeJSON(w, http.StatusOK, body)
}

func (h *handler) searchFacilities(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var req search.Request
	var ok bool
	if req.Latitude, ok = requiredFloat(w, q.Get("lat"), facility.CodeInvalidArea, "latitude"); !ok {
		return
	}
	if req.Longitude, ok = requiredFloat(w, q.Get("lng"), facility.CodeInvalidArea, "longitude"); !ok {
		return
	}
	if req.RadiusMeters, ok = requiredFloat(w, q.Get("radius"), facility.CodeInvalidRadius, "radius_meters"); !ok {
		return
	}
	if req.Limit, ok = optionalInt(w, q.Get("limit"), "limit"); !ok {
		return
	}
	if req.Offset, ok = optionalInt(w, q.Get("offset"), "offset"); !ok {
		return
	}
	if raw := q.Get("types"); raw != "" {
		req.Types = strings.Split(raw, ",")
	}
	if raw := q.Get("wheelchair"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			badRequest(w, codeInvalidRequest, "wheelchair", "wheelchair must be true or false")
			return
		}
		req.Wheelchair = &v
	}

	format := q.Get("format")
	if format != "" && format != "json" && format != "geojson" {
		badRequest(w, codeInvalidRequest, "format", "format must be json or geojson")
		return
	}

	resp, err := h.searcher.Search(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err, nil)
		return
	}

	w.Header().Set("X-Total-Count", strconv.Itoa(resp.Total))
	if format == "geojson" {
		h.writeFeatureCollection(w, r, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) getFacility(w http.ResponseWriter, r *http.Request) {
	f, err := h.searcher.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (h *handler) listTypes(w http.ResponseWriter, r *http.Request) {
	types, err := h.searcher.Types(r.Context())
	if err != nil {
		h.writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"types": types})
}

func (h *handler) createImport(w http.ResponseWriter, r *http.Request) {
	if h.opts.Importer == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: codeImportDisabled, Message: "imports are not enabled on this server"})
		return
	}

	var area importer.Area
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxImportBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&area); err != nil {
		badRequest(w, codeInvalidRequest, "", "body must be {latitude, longitude, radius_meters}")
		return
	}

	sum, err := h.opts.Importer.ImportArea(r.Context(), area)
	if sum != nil && sum.Imported > 0 {
		h.purge(r)
	}
	if err != nil {
		h.writeError(w, r, err, sum)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (h *handler) purge(r *http.Request) {
	if h.opts.Purger == nil {
		return
	}
	if _, err := h.opts.Purger.Purge(r.Context()); err != nil {
		h.log.Warn("purge search cache", zap.Error(err))
	}
}

func requiredFloat(w http.ResponseWriter, raw, code, field string) (float64, bool) {
	if raw == "" {
		badRequest(w, code, field, field+" is required")
		return 0, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		badRequest(w, code, field, field+" must be a number")
		return 0, false
	}
	return v, true
}

func optionalInt(w http.ResponseWriter, raw, field string) (int, bool) {
	if raw == "" {
		return 0, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		badRequest(w, facility.CodeInvalidPagination, field, field+" must be an integer")
		return 0, false
	}
	return v, true
}
