package api

import (
	"github.com/starford/notidx/internal/models"
	"github.com/starford/notidx/internal/noteservice"
)

// PutNoteRequest is the request body for upserting a note (aliased from the domain layer).
type PutNoteRequest = noteservice.NoteInput

// PutResourceRequest is the request body for upserting a resource (aliased from the domain layer).
type PutResourceRequest = noteservice.ResourceInput

// IndexerStatus is the indexer status response (aliased from the domain layer).
type IndexerStatus = noteservice.IndexerStatus

// PayloadResult is returned after a payload upload (aliased from the domain layer).
type PayloadResult = noteservice.PayloadResult

// LidResponse carries the local id assigned to an upserted item.
type LidResponse struct {
	Lid int64 `json:"lid" example:"42" validate:"required"`
}

// IndexRowsResponse wraps the search_index rows of one note.
type IndexRowsResponse struct {
	Lid  int64             `json:"lid" example:"42" validate:"required"`
	Rows []models.IndexRow `json:"rows" validate:"required"`
}
