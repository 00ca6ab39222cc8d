package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/starford/notidx/internal/models"
)

const (
	cryptOpen  = "<en-crypt"
	cryptClose = "</en-crypt>"
)

// NoteBody turns a note's markup into a text record weighted 100.
// It returns nil when the note has no content.
func NoteBody(n models.Note) *models.IndexRecord {
	if strings.TrimSpace(n.Content) == "" {
		return nil
	}

	content := stripFirstTag(n.Content)
	content = stripCrypt(content)
	content = stripTags(content)
	text := plainText(content)

	if title := strings.TrimSpace(n.Title); title != "" {
		text = strings.TrimSpace(text + " " + title)
	}
	if text == "" {
		return nil
	}

	return &models.IndexRecord{
		ItemID:   n.Lid,
		SourceID: n.Lid,
		Kind:     models.SourceText,
		Weight:   models.FullWeight,
		Content:  text,
	}
}

// stripFirstTag removes the first '<' ... '>' span, normally the enclosing container.
func stripFirstTag(s string) string {
	start := strings.IndexByte(s, '<')
	if start < 0 {
		return s
	}
	end := strings.IndexByte(s[start:], '>')
	if end < 0 {
		return s[:start]
	}
	return s[:start] + " " + s[start+end+1:]
}

// stripCrypt removes every encrypted block, markers included. An unterminated
// block runs to the end of the content.
func stripCrypt(s string) string {
	for {
		start := strings.Index(s, cryptOpen)
		if start < 0 {
			return s
		}
		end := strings.Index(s[start:], cryptClose)
		if end < 0 {
			return s[:start]
		}
		s = s[:start] + " " + s[start+end+len(cryptClose):]
	}
}

// stripTags replaces every remaining tag with a space.
func stripTags(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for {
		start := strings.IndexByte(s, '<')
		if start < 0 {
			b.WriteString(s)
			return b.String()
		}
		b.WriteString(s[:start])
		b.WriteByte(' ')
		end := strings.IndexByte(s[start:], '>')
		if end < 0 {
			return b.String()
		}
		s = s[start+end+1:]
	}
}

// plainText reparses s as HTML to decode entities and collapses whitespace.
func plainText(s string) string {
	if doc, err := goquery.NewDocumentFromReader(strings.NewReader(s)); err == nil {
		s = doc.Text()
	}
	return strings.Join(strings.Fields(s), " ")
}
