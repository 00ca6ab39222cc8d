package extract

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/antchfx/xmlquery"

	"github.com/starford/notidx/internal/models"
)

// Recognition parses a resource's recognition XML and returns one record per
// non-empty <t> element, in document order, weighted by its w attribute.
// All records carry the parent note as ItemID, so when cached only the last
// one survives an unflushed batch.
//
// A resource without recognition data yields no records and no error.
func Recognition(noteLid int64, r models.Resource) ([]models.IndexRecord, error) {
	if len(bytes.TrimSpace(r.Recognition)) == 0 {
		return nil, nil
	}

	doc, err := xmlquery.Parse(bytes.NewReader(r.Recognition))
	if err != nil {
		return nil, fmt.Errorf("%w: recognition xml for resource %d: %v", ErrMalformed, r.Lid, err)
	}

	var out []models.IndexRecord
	for _, t := range xmlquery.Find(doc, "//t") {
		text := strings.TrimSpace(t.InnerText())
		if text == "" {
			continue
		}
		out = append(out, models.IndexRecord{
			ItemID:   noteLid,
			SourceID: r.Lid,
			Kind:     models.SourceRecognition,
			Weight:   parseWeight(t.SelectAttr("w")),
			Content:  text,
		})
	}
	return out, nil
}

// parseWeight reads a w attribute, clamped to 0..100. Missing or invalid values are 0.
func parseWeight(raw string) int {
	w, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0
	}
	return max(0, min(w, models.FullWeight))
}
