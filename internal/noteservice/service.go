// Package noteservice is the domain layer shared by the HTTP API and the MCP
// server: indexer control, ingestion of notes, resources and payloads, and
// inspection of the persisted index rows.
package noteservice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/notidx/internal/apperr"
	"github.com/starford/notidx/internal/checksum"
	"github.com/starford/notidx/internal/extract"
	"github.com/starford/notidx/internal/index"
	"github.com/starford/notidx/internal/models"
	"github.com/starford/notidx/internal/scheduler"
)

// MaxPayloadSize bounds a single uploaded payload.
const MaxPayloadSize = 50 << 20

// Controller is the subset of *scheduler.Scheduler the service drives.
type Controller interface {
	Status() scheduler.Status
	Pause()
	Resume()
	Wake()
	Reindex(ctx context.Context) error
	ResetOffice()
}

// Payloads stores resource payload files.
type Payloads interface {
	PayloadPath(lid int64, ext string) (string, error)
	WritePayload(lid int64, ext string, content []byte) (string, error)
}

// IndexerStatus is the scheduler snapshot plus live pending counts.
type IndexerStatus struct {
	scheduler.Status
	Pending scheduler.Pending `json:"pending"`
}

// NoteInput is the write model for a note.
type NoteInput struct {
	GUID    string `json:"guid"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

// Validate validates the note input.
func (n NoteInput) Validate() error {
	return validation.ValidateStruct(&n,
		validation.Field(&n.GUID, validation.Required, validation.Length(1, 64)),
	)
}

// ResourceInput is the write model for a resource.
type ResourceInput struct {
	GUID        string `json:"guid"`
	NoteGUID    string `json:"note_guid"`
	Mime        string `json:"mime"`
	FileName    string `json:"file_name"`
	Recognition string `json:"recognition,omitempty"`
}

// Validate validates the resource input.
func (r ResourceInput) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.GUID, validation.Required, validation.Length(1, 64)),
		validation.Field(&r.NoteGUID, validation.Required, validation.Length(1, 64)),
		validation.Field(&r.Mime, validation.Required),
	)
}

// PayloadResult describes a stored payload.
type PayloadResult struct {
	Lid       int64  `json:"lid"`
	File      string `json:"file"`
	Size      int    `json:"size"`
	Checksum  string `json:"checksum"`
	Unchanged bool   `json:"unchanged"`
}

// StateListener is told about every control action and the state it produced.
type StateListener func(action, state string)

// Option configures a Service.
type Option func(*Service)

// WithStateListener registers fn to run after Pause, Resume, Reindex and ResetOffice.
func WithStateListener(fn StateListener) Option {
	return func(s *Service) { s.listeners = append(s.listeners, fn) }
}

// Service coordinates the scheduler, the index database and the payload store.
type Service struct {
	ctl       Controller
	db        index.Store
	payloads  Payloads
	logger    *slog.Logger
	listeners []StateListener
}

// NewService creates a new service.
func NewService(ctl Controller, db index.Store, payloads Payloads, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{ctl: ctl, db: db, payloads: payloads, logger: logger}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Status returns the scheduler state and the current flag counts.
func (s *Service) Status(ctx context.Context) (*IndexerStatus, error) {
	notes, resources, err := s.db.PendingCounts(ctx)
	if err != nil {
		return nil, err
	}
	return &IndexerStatus{
		Status:  s.ctl.Status(),
		Pending: scheduler.Pending{Notes: notes, Resources: resources},
	}, nil
}

// Pause halts indexing until Resume.
func (s *Service) Pause(ctx context.Context) (*IndexerStatus, error) {
	s.ctl.Pause()
	return s.notify(ctx, "pause")
}

// Resume restarts indexing and triggers a tick.
func (s *Service) Resume(ctx context.Context) (*IndexerStatus, error) {
	s.ctl.Resume()
	return s.notify(ctx, "resume")
}

// Reindex flags everything for re-extraction.
func (s *Service) Reindex(ctx context.Context) (*IndexerStatus, error) {
	if err := s.ctl.Reindex(ctx); err != nil {
		return nil, err
	}
	return s.notify(ctx, "reindex")
}

// ResetOffice clears the cached converter capability.
func (s *Service) ResetOffice(ctx context.Context) (*IndexerStatus, error) {
	s.ctl.ResetOffice()
	return s.notify(ctx, "office_reset")
}

func (s *Service) notify(ctx context.Context, action string) (*IndexerStatus, error) {
	st, err := s.Status(ctx)
	if err != nil {
		return nil, err
	}
	s.logger.Info("noteservice: control", slog.String("action", action), slog.String("state", st.State))
	for _, fn := range s.listeners {
		fn(action, st.State)
	}
	return st, nil
}

// IndexRows returns the search_index rows stored for a note.
func (s *Service) IndexRows(ctx context.Context, lid int64) ([]models.IndexRow, error) {
	if lid <= 0 {
		return nil, fmt.Errorf("%w: lid must be positive", apperr.ErrInvalid)
	}
	if _, err := s.db.GetNote(ctx, lid); err != nil {
		return nil, err
	}
	rows, err := s.db.IndexRows(ctx, lid)
	if err != nil {
		return nil, err
	}
	return nonNilSlice(rows), nil
}

// PutNote inserts or updates a note, flags it and wakes the scheduler.
func (s *Service) PutNote(ctx context.Context, in NoteInput) (int64, error) {
	if err := in.Validate(); err != nil {
		return 0, fmt.Errorf("%w: %v", apperr.ErrInvalid, err)
	}
	lid, err := s.db.UpsertNote(ctx, models.Note{GUID: in.GUID, Title: in.Title, Content: in.Content})
	if err != nil {
		return 0, err
	}
	s.ctl.Wake()
	return lid, nil
}

// PutResource inserts or updates a resource, flags it and wakes the scheduler.
func (s *Service) PutResource(ctx context.Context, in ResourceInput) (int64, error) {
	if err := in.Validate(); err != nil {
		return 0, fmt.Errorf("%w: %v", apperr.ErrInvalid, err)
	}
	r := models.Resource{
		GUID:     in.GUID,
		NoteGUID: in.NoteGUID,
		Mime:     in.Mime,
		FileName: in.FileName,
	}
	if in.Recognition != "" {
		r.Recognition = []byte(in.Recognition)
	}
	lid, err := s.db.UpsertResource(ctx, r)
	if err != nil {
		return 0, err
	}
	s.ctl.Wake()
	return lid, nil
}

// PutPayload stores the attachment bytes for resource lid. An identical
// payload is left alone; a changed one re-flags the resource.
func (s *Service) PutPayload(ctx context.Context, lid int64, data []byte) (*PayloadResult, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty payload", apperr.ErrInvalid)
	}
	if len(data) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: payload too large: %d bytes (max %d)", apperr.ErrInvalid, len(data), MaxPayloadSize)
	}
	r, err := s.db.GetResource(ctx, lid)
	if err != nil {
		return nil, err
	}
	ext := PayloadExtension(*r)
	if err := validateMagicBytes(data, ext); err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrInvalid, err)
	}

	res := &PayloadResult{Lid: lid, Size: len(data), Checksum: checksum.Sum(data)}
	path, err := s.payloads.PayloadPath(lid, ext)
	if err != nil {
		return nil, err
	}
	res.File = filepath.Base(path)
	existing, err := checksum.File(path)
	switch {
	case err == nil && existing == res.Checksum:
		res.Unchanged = true
		return res, nil
	case err != nil && !errors.Is(err, os.ErrNotExist):
		return nil, err
	}

	if _, err := s.payloads.WritePayload(lid, ext, data); err != nil {
		return nil, err
	}
	if err := s.db.MarkIndexNeeded(ctx, models.ItemRef{Kind: models.ItemResource, Lid: lid}); err != nil {
		return nil, err
	}
	s.logger.Info("noteservice: payload stored",
		slog.Int64("resource", lid),
		slog.String("file", res.File),
		slog.Int("size", res.Size))
	s.ctl.Wake()
	return res, nil
}

// PayloadExtension picks the file extension the extractors look for:
// ".pdf" for PDF resources, otherwise the attachment file name's extension.
func PayloadExtension(r models.Resource) string {
	if extract.RouteFor(r.Mime) == extract.RoutePDF {
		return ".pdf"
	}
	if ext := strings.ToLower(filepath.Ext(r.FileName)); ext != "" {
		return ext
	}
	return ".bin"
}

// validateMagicBytes rejects a payload stored as .pdf that is not a PDF.
func validateMagicBytes(data []byte, ext string) error {
	if ext != ".pdf" {
		return nil
	}
	if detected := http.DetectContentType(data); detected != "application/pdf" {
		return fmt.Errorf("content does not match extension %s (detected: %s)", ext, detected)
	}
	return nil
}

func nonNilSlice[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
