package extract

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/starford/notidx/internal/models"
	"github.com/starford/notidx/internal/storage"
)

// PDF extracts page text from <payload>/<resource lid>.pdf.
type PDF struct {
	payloads storage.PayloadLocator
}

// NewPDF returns a PDF extractor reading payloads through loc.
func NewPDF(loc storage.PayloadLocator) *PDF {
	return &PDF{payloads: loc}
}

// Extract concatenates the text of every page, in order, separated by spaces.
// ctx is checked between pages; an interrupted document yields ErrInterrupted
// rather than a partial record.
func (p *PDF) Extract(ctx context.Context, noteLid int64, r models.Resource) (*models.IndexRecord, error) {
	path, err := p.payloads.PayloadPath(r.Lid, ".pdf")
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrPayloadMissing, path)
		}
		return nil, err
	}

	text, err := readPDF(ctx, path)
	if err != nil {
		return nil, err
	}

	return &models.IndexRecord{
		ItemID:   noteLid,
		SourceID: r.Lid,
		Kind:     models.SourceRecognition,
		Weight:   models.FullWeight,
		Content:  text,
	}, nil
}

// readPDF opens path and returns its text. The pdf package panics on some
// malformed inputs, so panics are converted to ErrMalformed.
func readPDF(ctx context.Context, path string) (text string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: pdf %s: %v", ErrMalformed, path, rec)
		}
	}()

	f, reader, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("%w: pdf %s: %v", ErrMalformed, path, err)
	}
	defer f.Close()

	var b strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		if ctx.Err() != nil {
			return "", fmt.Errorf("%w: pdf %s at page %d", ErrInterrupted, path, i)
		}
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		// A nil font map lets the page load its own fonts.
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		b.WriteString(pageText)
		b.WriteByte(' ')
	}
	return b.String(), nil
}
