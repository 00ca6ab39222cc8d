package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/starford/notidx/internal/noteservice"
)

// Handler holds API route handlers.
type Handler struct {
	svc *noteservice.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *noteservice.Service) *Handler {
	return &Handler{svc: svc}
}

// lidParam parses the {lid} URL parameter. It returns 0 when the value is not
// a positive integer.
func lidParam(r *http.Request) int64 {
	lid, err := strconv.ParseInt(chi.URLParam(r, "lid"), 10, 64)
	if err != nil || lid <= 0 {
		return 0
	}
	return lid
}

type statusFunc func(ctx context.Context) (*noteservice.IndexerStatus, error)

func (h *Handler) writeStatus(w http.ResponseWriter, r *http.Request, op string, fn statusFunc) {
	st, err := fn(r.Context())
	if err != nil {
		writeError(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// GetStatus handles GET /api/indexer/status.
//
//	@Summary		Indexer state, pending work and the last tick report
//	@Tags			indexer
//	@Produce		json
//	@Success		200	{object}	IndexerStatus
//	@Security		BearerAuth
//	@Router			/indexer/status [get]
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	h.writeStatus(w, r, "status", h.svc.Status)
}

// Pause handles POST /api/indexer/pause.
//
//	@Summary		Pause indexing
//	@Tags			indexer
//	@Produce		json
//	@Success		200	{object}	IndexerStatus
//	@Security		BearerAuth
//	@Router			/indexer/pause [post]
func (h *Handler) Pause(w http.ResponseWriter, r *http.Request) {
	h.writeStatus(w, r, "pause", h.svc.Pause)
}

// Resume handles POST /api/indexer/resume.
//
//	@Summary		Resume indexing
//	@Tags			indexer
//	@Produce		json
//	@Success		200	{object}	IndexerStatus
//	@Security		BearerAuth
//	@Router			/indexer/resume [post]
func (h *Handler) Resume(w http.ResponseWriter, r *http.Request) {
	h.writeStatus(w, r, "resume", h.svc.Resume)
}

// Reindex handles POST /api/indexer/reindex.
//
//	@Summary		Flag every note and resource for re-extraction
//	@Tags			indexer
//	@Produce		json
//	@Success		200	{object}	IndexerStatus
//	@Failure		409	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/indexer/reindex [post]
func (h *Handler) Reindex(w http.ResponseWriter, r *http.Request) {
	h.writeStatus(w, r, "reindex", h.svc.Reindex)
}

// ResetOffice handles POST /api/indexer/office/reset.
//
//	@Summary		Forget the cached office converter capability
//	@Tags			indexer
//	@Produce		json
//	@Success		200	{object}	IndexerStatus
//	@Security		BearerAuth
//	@Router			/indexer/office/reset [post]
func (h *Handler) ResetOffice(w http.ResponseWriter, r *http.Request) {
	h.writeStatus(w, r, "office reset", h.svc.ResetOffice)
}

// IndexRows handles GET /api/index/{lid}.
//
//	@Summary		Persisted search_index rows of a note
//	@Tags			index
//	@Produce		json
//	@Param			lid	path		int	true	"Note lid"
//	@Success		200	{object}	IndexRowsResponse
//	@Failure		400	{object}	errResponse
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/index/{lid} [get]
func (h *Handler) IndexRows(w http.ResponseWriter, r *http.Request) {
	lid := lidParam(r)
	if lid == 0 {
		writeJSON(w, http.StatusBadRequest, errorBody("lid must be a positive integer"))
		return
	}
	rows, err := h.svc.IndexRows(r.Context(), lid)
	if err != nil {
		writeError(w, "index rows", err)
		return
	}
	writeJSON(w, http.StatusOK, IndexRowsResponse{Lid: lid, Rows: rows})
}

// PutNote handles PUT /api/notes.
//
//	@Summary		Insert or update a note and flag it for indexing
//	@Tags			ingest
//	@Accept			json
//	@Produce		json
//	@Param			body	body		PutNoteRequest	true	"Note"
//	@Success		200		{object}	LidResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notes [put]
func (h *Handler) PutNote(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 10<<20)
	var req PutNoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	lid, err := h.svc.PutNote(r.Context(), req)
	if err != nil {
		writeError(w, "put note", err)
		return
	}
	writeJSON(w, http.StatusOK, LidResponse{Lid: lid})
}

// PutResource handles PUT /api/resources.
//
//	@Summary		Insert or update a resource and flag it for indexing
//	@Tags			ingest
//	@Accept			json
//	@Produce		json
//	@Param			body	body		PutResourceRequest	true	"Resource"
//	@Success		200		{object}	LidResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/resources [put]
func (h *Handler) PutResource(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 10<<20)
	var req PutResourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	lid, err := h.svc.PutResource(r.Context(), req)
	if err != nil {
		writeError(w, "put resource", err)
		return
	}
	writeJSON(w, http.StatusOK, LidResponse{Lid: lid})
}
