package api

import (
	"io"
	"net/http"

	"github.com/starford/notidx/internal/noteservice"
)

// maxUploadBytes leaves room for multipart framing around the largest payload.
const maxUploadBytes = noteservice.MaxPayloadSize + 1<<20

// UploadPayload handles PUT /api/resources/{lid}/payload (multipart/form-data, field "file").
//
//	@Summary		Store the attachment bytes of a resource
//	@Tags			ingest
//	@Accept			mpfd
//	@Produce		json
//	@Param			lid		path		int		true	"Resource lid"
//	@Param			file	formData	file	true	"Payload"
//	@Success		200		{object}	PayloadResult
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/resources/{lid}/payload [put]
func (h *Handler) UploadPayload(w http.ResponseWriter, r *http.Request) {
	lid := lidParam(r)
	if lid == 0 {
		writeJSON(w, http.StatusBadRequest, errorBody("lid must be a positive integer"))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("file too large or invalid multipart"))
		return
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("missing 'file' field in multipart form"))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, noteservice.MaxPayloadSize+1))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("failed to read file"))
		return
	}

	res, err := h.svc.PutPayload(r.Context(), lid, data)
	if err != nil {
		writeError(w, "upload payload", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
