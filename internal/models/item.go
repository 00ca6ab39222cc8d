// Package models defines the domain types shared by the indexer packages.
package models

import "time"

// ItemKind distinguishes the two tables that carry an index-needed flag.
type ItemKind string

const (
	ItemNote     ItemKind = "note"
	ItemResource ItemKind = "resource"
)

// SourceKind is the search_index.source column value.
type SourceKind string

const (
	SourceText        SourceKind = "text"
	SourceRecognition SourceKind = "recognition"
)

// FullWeight is the weight used for note bodies and document-derived text.
const FullWeight = 100

// Note is a read-only copy of a note row, limited to the fields the indexer reads.
type Note struct {
	Lid       int64     `json:"lid"`
	GUID      string    `json:"guid"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Resource is a read-only copy of an attachment row.
// NoteLid is zero when the parent note is not present locally.
type Resource struct {
	Lid         int64  `json:"lid"`
	GUID        string `json:"guid"`
	NoteGUID    string `json:"note_guid"`
	NoteLid     int64  `json:"note_lid"`
	Mime        string `json:"mime"`
	FileName    string `json:"file_name"`
	Recognition []byte `json:"-"`
}

// ItemRef identifies one index-needed flag.
type ItemRef struct {
	Kind ItemKind `json:"kind"`
	Lid  int64    `json:"lid"`
}

// IndexRecord is a pending search_index row.
//
// ItemID is always the owning note; resources are indexed under their parent.
// SourceID is the item whose flag is cleared once the row is written: the note
// itself for text records, the resource for recognition records.
type IndexRecord struct {
	ItemID   int64      `json:"item_id"`
	SourceID int64      `json:"source_id"`
	Kind     SourceKind `json:"kind"`
	Weight   int        `json:"weight"`
	Content  string     `json:"content"`
}

// Source returns the flag this record clears when flushed.
func (r IndexRecord) Source() ItemRef {
	if r.Kind == SourceText {
		return ItemRef{Kind: ItemNote, Lid: r.SourceID}
	}
	return ItemRef{Kind: ItemResource, Lid: r.SourceID}
}

// IndexRow is a persisted search_index row.
type IndexRow struct {
	Lid     int64      `json:"lid"`
	Weight  int        `json:"weight"`
	Source  SourceKind `json:"source"`
	Content string     `json:"content"`
}
