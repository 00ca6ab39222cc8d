// Package extract turns notes and resources into plain-text index records.
//
// Each extractor is independent and has no side effects beyond producing
// records; the office extractor additionally creates and removes a scratch
// file. Dispatcher applies the routing rules and classifies failures:
//
//   - transient (ErrMalformed, ErrPayloadMissing, ErrNoOutput, ErrInterrupted)
//     from a document extractor: the item keeps its index-needed flag and is
//     retried on a later tick.
//   - malformed recognition XML: treated as no recognized words.
//   - settled (ErrUnsupported, ErrToolUnavailable, missing parent note):
//     nothing can be indexed now; the flag is cleared at flush.
package extract

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/starford/notidx/internal/metrics"
	"github.com/starford/notidx/internal/models"
)

var (
	ErrMalformed       = errors.New("malformed content")
	ErrPayloadMissing  = errors.New("payload file missing")
	ErrNoOutput        = errors.New("converter produced no output")
	ErrInterrupted     = errors.New("extraction interrupted")
	ErrUnsupported     = errors.New("unsupported attachment")
	ErrToolUnavailable = errors.New("converter unavailable")
)

// Transient reports whether err should leave the item flagged for retry.
func Transient(err error) bool {
	return errors.Is(err, ErrMalformed) ||
		errors.Is(err, ErrPayloadMissing) ||
		errors.Is(err, ErrNoOutput) ||
		errors.Is(err, ErrInterrupted)
}

// Route names the resource-level extractor chosen for a MIME type.
type Route int

const (
	RouteNone Route = iota
	RoutePDF
	RouteOffice
)

func (r Route) String() string {
	switch r {
	case RoutePDF:
		return "pdf"
	case RouteOffice:
		return "office"
	default:
		return "none"
	}
}

// RouteFor returns the extractor for mime: application/pdf goes to the PDF
// extractor, any other application/* to the office converter.
func RouteFor(mime string) Route {
	m := strings.ToLower(strings.TrimSpace(mime))
	switch {
	case m == "application/pdf":
		return RoutePDF
	case strings.HasPrefix(m, "application/"):
		return RouteOffice
	default:
		return RouteNone
	}
}

// DocumentExtractor is implemented by the PDF and office extractors.
type DocumentExtractor interface {
	Extract(ctx context.Context, noteLid int64, r models.Resource) (*models.IndexRecord, error)
}

// Outcome is the result of extracting one resource.
// Err is set only for transient failures; Records is then empty.
// Empty Records with nil Err means the resource is settled.
type Outcome struct {
	Records []models.IndexRecord
	Err     error
}

// Dispatcher routes items to extractors.
type Dispatcher struct {
	pdf    DocumentExtractor
	office DocumentExtractor
	logger *slog.Logger
}

// NewDispatcher wires the document extractors. Either may be nil to disable it.
func NewDispatcher(pdf, office DocumentExtractor, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{pdf: pdf, office: office, logger: logger}
}

// Note extracts a note body. A nil result means there is nothing to index.
func (d *Dispatcher) Note(n models.Note) *models.IndexRecord {
	rec := NoteBody(n)
	if rec == nil {
		metrics.Extractions.WithLabelValues("note", "empty").Inc()
	} else {
		metrics.Extractions.WithLabelValues("note", "record").Inc()
	}
	return rec
}

// Resource runs recognition and then the MIME-routed document extractor.
// A transient document failure discards every record for the resource so it
// is retried as a whole.
func (d *Dispatcher) Resource(ctx context.Context, r models.Resource) Outcome {
	if r.NoteLid <= 0 {
		d.logger.Debug("extract: resource has no local parent note", slog.Int64("resource", r.Lid))
		return Outcome{}
	}

	recs, err := Recognition(r.NoteLid, r)
	if err != nil {
		// Unparseable recognition data yields no words; the document still counts.
		metrics.Extractions.WithLabelValues("recognition", "malformed").Inc()
		d.logger.Debug("extract: recognition ignored",
			slog.Int64("resource", r.Lid),
			slog.String("reason", err.Error()))
		recs = nil
	} else if len(recs) > 0 {
		metrics.Extractions.WithLabelValues("recognition", "record").Inc()
	}

	route := RouteFor(r.Mime)
	var doc DocumentExtractor
	switch route {
	case RoutePDF:
		doc = d.pdf
	case RouteOffice:
		doc = d.office
	}
	if doc == nil {
		return Outcome{Records: recs}
	}

	rec, err := doc.Extract(ctx, r.NoteLid, r)
	switch {
	case err == nil && rec != nil:
		metrics.Extractions.WithLabelValues(route.String(), "record").Inc()
		recs = append(recs, *rec)
	case err == nil:
		metrics.Extractions.WithLabelValues(route.String(), "empty").Inc()
	case Transient(err):
		metrics.Extractions.WithLabelValues(route.String(), "skipped").Inc()
		return Outcome{Err: err}
	default:
		metrics.Extractions.WithLabelValues(route.String(), "empty").Inc()
		d.logger.Debug("extract: document not indexed",
			slog.Int64("resource", r.Lid),
			slog.String("route", route.String()),
			slog.String("reason", err.Error()))
	}
	return Outcome{Records: recs}
}
