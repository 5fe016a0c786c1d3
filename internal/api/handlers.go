package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goliatone/go-record-service/cache"
	"github.com/goliatone/go-record-service/index"
	"github.com/goliatone/go-record-service/record"
)

type handlers struct {
	svc         RecordService
	owners      OwnerService
	pageSize    int
	maxPageSize int
}

type searchResponse struct {
	Query   string            `json:"query"`
	Results []record.Document `json:"results"`
	Count   int               `json:"count"`
}

type ownerRequest struct {
	Email    string `json:"email"`
	FullName string `json:"full_name"`
}

func (h *handlers) listItems(w http.ResponseWriter, r *http.Request) {
	skip, limit, err := page(r, h.pageSize, h.maxPageSize)
	if err != nil {
		WriteErrorResponse(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	views, err := h.svc.List(r.Context(), skip, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	WriteJSONResponse(w, views, http.StatusOK)
}

func (h *handlers) getItem(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	if strings.Contains(r.Header.Get("Cache-Control"), "no-cache") {
		ctx = cache.WithoutCache(ctx)
	}

	view, err := h.svc.Get(ctx, id)
	if err != nil {
		writeError(w, err)
		return
	}
	WriteJSONResponse(w, view, http.StatusOK)
}

func (h *handlers) createItem(w http.ResponseWriter, r *http.Request) {
	var in record.NewRecord
	if !decode(w, r, &in) {
		return
	}

	view, err := h.svc.Create(r.Context(), in)
	if err != nil {
		writeError(w, err)
		return
	}
	WriteJSONResponse(w, view, http.StatusCreated)
}

func (h *handlers) updateItem(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var patch record.Patch
	if !decode(w, r, &patch) {
		return
	}

	view, err := h.svc.Update(r.Context(), id, patch)
	if err != nil {
		writeError(w, err)
		return
	}
	WriteJSONResponse(w, view, http.StatusOK)
}

func (h *handlers) deleteItem(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.svc.Delete(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) searchItems(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		WriteErrorResponse(w, "q: cannot be blank", http.StatusUnprocessableEntity)
		return
	}
	skip, limit, err := page(r, index.DefaultLimit, index.MaxLimit)
	if err != nil {
		WriteErrorResponse(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	docs := h.svc.Search(r.Context(), index.Query{Text: q, Skip: skip, Limit: limit})
	if docs == nil {
		docs = []record.Document{}
	}
	WriteJSONResponse(w, searchResponse{Query: q, Results: docs, Count: len(docs)}, http.StatusOK)
}

func (h *handlers) createOwner(w http.ResponseWriter, r *http.Request) {
	var req ownerRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Email == "" || !strings.Contains(req.Email, "@") {
		WriteErrorResponse(w, "email: must be a valid email address", http.StatusUnprocessableEntity)
		return
	}

	owner, err := h.owners.CreateOwner(r.Context(), &record.Owner{
		Email:    req.Email,
		FullName: req.FullName,
		IsActive: true,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	WriteJSONResponse(w, owner, http.StatusCreated)
}

func (h *handlers) getOwner(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	owner, err := h.owners.GetOwner(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	WriteJSONResponse(w, owner, http.StatusOK)
}

// page parses skip and limit. Out of range values are rejected rather than clamped.
func page(r *http.Request, defLimit, maxLimit int) (int, int, error) {
	skip, err := intParam(r, "skip", 0)
	if err != nil {
		return 0, 0, err
	}
	if skip < 0 {
		return 0, 0, fmt.Errorf("skip: must be no less than 0")
	}
	limit, err := intParam(r, "limit", defLimit)
	if err != nil {
		return 0, 0, err
	}
	if limit < 1 || limit > maxLimit {
		return 0, 0, fmt.Errorf("limit: must be between 1 and %d", maxLimit)
	}
	return skip, limit, nil
}

func intParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: must be an integer", name)
	}
	return n, nil
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id < 1 {
		WriteErrorResponse(w, "id: must be a positive integer", http.StatusUnprocessableEntity)
		return 0, false
	}
	return id, true
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		WriteErrorResponse(w, "invalid request body: "+err.Error(), http.StatusUnprocessableEntity)
		return false
	}
	return true
}

func healthHandler(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		WriteJSONResponse(w, map[string]string{"status": "ok", "app": name}, http.StatusOK)
	}
}

func readyHandler(checks map[string]CheckFunc, timeout time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		failed := map[string]string{}
		for name, check := range checks {
			if err := check(ctx); err != nil {
				failed[name] = err.Error()
			}
		}
		if len(failed) > 0 {
			WriteJSONResponse(w, map[string]any{"status": "error", "checks": failed}, http.StatusServiceUnavailable)
			return
		}
		WriteJSONResponse(w, map[string]string{"status": "ready"}, http.StatusOK)
	}
}
