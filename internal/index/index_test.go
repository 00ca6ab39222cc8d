package index

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"reflect"
	"testing"

	"github.com/starford/notidx/internal/apperr"
	"github.com/starford/notidx/internal/cache"
	"github.com/starford/notidx/internal/models"
)

func testDB(t *testing.T, opts ...Option) *DB {
	t.Helper()
	f, err := os.CreateTemp("", "notidx-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	f.Close()
	t.Cleanup(func() { os.Remove(f.Name()) })

	db, err := Open(f.Name(), slog.New(slog.NewJSONHandler(io.Discard, nil)), opts...)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func mustNote(t *testing.T, db *DB, guid, title, content string) int64 {
	t.Helper()
	lid, err := db.UpsertNote(context.Background(), models.Note{GUID: guid, Title: title, Content: content})
	if err != nil {
		t.Fatalf("UpsertNote: %v", err)
	}
	return lid
}

func mustResource(t *testing.T, db *DB, r models.Resource) int64 {
	t.Helper()
	lid, err := db.UpsertResource(context.Background(), r)
	if err != nil {
		t.Fatalf("UpsertResource: %v", err)
	}
	return lid
}

func needed(t *testing.T, db *DB, kind models.ItemKind, lid int64) bool {
	t.Helper()
	v, err := db.IndexNeeded(context.Background(), models.ItemRef{Kind: kind, Lid: lid})
	if err != nil {
		t.Fatalf("IndexNeeded: %v", err)
	}
	return v
}

func TestSchemaCreation(t *testing.T) {
	db := testDB(t)
	for _, table := range []string{"notes", "resources", "search_index"} {
		var count int
		if err := db.conn.QueryRow(`SELECT count(*) FROM ` + table).Scan(&count); err != nil {
			t.Fatalf("%s table missing: %v", table, err)
		}
	}
}

func TestListIndexNeeded_Order(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	a := mustNote(t, db, "a", "A", "<en-note>a</en-note>")
	b := mustNote(t, db, "b", "B", "<en-note>b</en-note>")
	c := mustNote(t, db, "c", "C", "<en-note>c</en-note>")
	if err := db.ClearIndexNeeded(ctx, models.ItemRef{Kind: models.ItemNote, Lid: b}); err != nil {
		t.Fatal(err)
	}

	lids, err := db.ListIndexNeeded(ctx, models.ItemNote)
	if err != nil {
		t.Fatalf("ListIndexNeeded: %v", err)
	}
	if !reflect.DeepEqual(lids, []int64{a, c}) {
		t.Errorf("lids = %v, want [%d %d]", lids, a, c)
	}
}

func TestListIndexNeeded_UnknownKind(t *testing.T) {
	db := testDB(t)
	if _, err := db.ListIndexNeeded(context.Background(), "tag"); err == nil {
		t.Error("expected error for unknown kind")
	}
}

func TestGetNote_NotFound(t *testing.T) {
	db := testDB(t)
	_, err := db.GetNote(context.Background(), 999)
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestGetResource_ResolvesParent(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	noteLid := mustNote(t, db, "n1", "Parent", "")
	resLid := mustResource(t, db, models.Resource{
		GUID: "r1", NoteGUID: "n1", Mime: "application/pdf", FileName: "report.pdf",
		Recognition: []byte(`<recoIndex><item><t w="80">hi</t></item></recoIndex>`),
	})
	orphan := mustResource(t, db, models.Resource{GUID: "r2", NoteGUID: "missing", Mime: "image/png"})

	r, err := db.GetResource(ctx, resLid)
	if err != nil {
		t.Fatalf("GetResource: %v", err)
	}
	if r.NoteLid != noteLid || r.Mime != "application/pdf" || r.FileName != "report.pdf" {
		t.Errorf("resource = %+v", r)
	}
	if len(r.Recognition) == 0 {
		t.Error("recognition payload not loaded")
	}

	o, err := db.GetResource(ctx, orphan)
	if err != nil {
		t.Fatalf("GetResource orphan: %v", err)
	}
	if o.NoteLid != 0 {
		t.Errorf("orphan NoteLid = %d, want 0", o.NoteLid)
	}
}

func TestUpsertNote_ResetsFlag(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	lid := mustNote(t, db, "g", "T", "one")
	_ = db.ClearIndexNeeded(ctx, models.ItemRef{Kind: models.ItemNote, Lid: lid})
	if needed(t, db, models.ItemNote, lid) {
		t.Fatal("precondition: flag should be cleared")
	}
	again := mustNote(t, db, "g", "T", "two")
	if again != lid {
		t.Errorf("lid changed on upsert: %d -> %d", lid, again)
	}
	if !needed(t, db, models.ItemNote, lid) {
		t.Error("content change should set index_needed")
	}
}

func TestFlush_WritesRowsAndClearsFlags(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	noteLid := mustNote(t, db, "n", "Title", "body")
	resLid := mustResource(t, db, models.Resource{GUID: "r", NoteGUID: "n", Mime: "image/png"})

	c := cache.New()
	c.Put(models.IndexRecord{ItemID: noteLid, SourceID: noteLid, Kind: models.SourceText, Weight: 100, Content: "body Title"})
	st, err := db.Flush(ctx, c.Drain())
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	c.Put(models.IndexRecord{ItemID: noteLid, SourceID: resLid, Kind: models.SourceRecognition, Weight: 55, Content: "hello"})
	st2, err := db.Flush(ctx, c.Drain())
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if st.Written != 1 || st2.Written != 1 || st.Cleared != 1 || st2.Cleared != 1 {
		t.Errorf("stats = %+v / %+v", st, st2)
	}

	rows, err := db.IndexRows(ctx, noteLid)
	if err != nil {
		t.Fatalf("IndexRows: %v", err)
	}
	want := []models.IndexRow{
		{Lid: noteLid, Weight: 100, Source: models.SourceText, Content: "body Title"},
		{Lid: noteLid, Weight: 55, Source: models.SourceRecognition, Content: "hello"},
	}
	if !reflect.DeepEqual(rows, want) {
		t.Errorf("rows = %+v, want %+v", rows, want)
	}
	if needed(t, db, models.ItemNote, noteLid) {
		t.Error("note flag should be cleared")
	}
	if needed(t, db, models.ItemResource, resLid) {
		t.Error("resource flag should be cleared by its recognition record")
	}
}

func TestFlush_Idempotent(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	lid := mustNote(t, db, "n", "T", "x")
	rec := models.IndexRecord{ItemID: lid, SourceID: lid, Kind: models.SourceText, Weight: 100, Content: "x T"}

	var snapshots [][]models.IndexRow
	for i := 0; i < 2; i++ {
		c := cache.New()
		c.Put(rec)
		if _, err := db.Flush(ctx, c.Drain()); err != nil {
			t.Fatalf("Flush %d: %v", i, err)
		}
		rows, _ := db.IndexRows(ctx, lid)
		snapshots = append(snapshots, rows)
	}
	if !reflect.DeepEqual(snapshots[0], snapshots[1]) {
		t.Errorf("re-flush changed rows: %+v vs %+v", snapshots[0], snapshots[1])
	}
	if len(snapshots[1]) != 1 {
		t.Errorf("expected exactly one text row, got %d", len(snapshots[1]))
	}
}

func TestFlush_FailedRecordKeepsFlag(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	good := mustNote(t, db, "good", "G", "g")
	bad := mustNote(t, db, "bad", "B", "b")

	c := cache.New()
	c.Put(models.IndexRecord{ItemID: good, SourceID: good, Kind: models.SourceText, Weight: 100, Content: "g"})
	// Weight outside 0..100 violates the CHECK constraint, so the insert fails.
	c.Put(models.IndexRecord{ItemID: bad, SourceID: bad, Kind: models.SourceText, Weight: 500, Content: "b"})

	st, err := db.Flush(ctx, c.Drain())
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if st.Written != 1 || st.Failed != 1 || st.Cleared != 1 {
		t.Errorf("stats = %+v", st)
	}
	if needed(t, db, models.ItemNote, good) {
		t.Error("written record should clear its flag")
	}
	if !needed(t, db, models.ItemNote, bad) {
		t.Error("failed record must keep its flag")
	}
}

func TestFlush_CommitBoundary(t *testing.T) {
	db := testDB(t, WithCommitEvery(2))
	ctx := context.Background()
	c := cache.New()
	for i := 0; i < 5; i++ {
		lid := mustNote(t, db, string(rune('a'+i)), "T", "c")
		c.Put(models.IndexRecord{ItemID: lid, SourceID: lid, Kind: models.SourceText, Weight: 100, Content: "c"})
	}
	st, err := db.Flush(ctx, c.Drain())
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	// Two intermediate commits (after 2 and 4 records) plus the final one.
	if st.Commits != 3 {
		t.Errorf("commits = %d, want 3", st.Commits)
	}
	if st.Written != 5 {
		t.Errorf("written = %d, want 5", st.Written)
	}
}

func TestFlush_SettledNoteDropsStaleText(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	lid := mustNote(t, db, "n", "T", "old")

	c := cache.New()
	c.Put(models.IndexRecord{ItemID: lid, SourceID: lid, Kind: models.SourceText, Weight: 100, Content: "old T"})
	_, _ = db.Flush(ctx, c.Drain())
	mustNote(t, db, "n", "T", "")

	c.Settle(models.ItemRef{Kind: models.ItemNote, Lid: lid})
	st, err := db.Flush(ctx, c.Drain())
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if st.Cleared != 1 {
		t.Errorf("cleared = %d, want 1", st.Cleared)
	}
	rows, _ := db.IndexRows(ctx, lid)
	if len(rows) != 0 {
		t.Errorf("stale rows remain: %+v", rows)
	}
	if needed(t, db, models.ItemNote, lid) {
		t.Error("settled note should have its flag cleared")
	}
}

func TestFlush_EmptyBatch(t *testing.T) {
	db := testDB(t)
	st, err := db.Flush(context.Background(), cache.Batch{})
	if err != nil || st != (FlushStats{}) {
		t.Errorf("Flush(empty) = %+v, %v", st, err)
	}
}

func TestMarkAllAndPendingCounts(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	n := mustNote(t, db, "n", "T", "x")
	r := mustResource(t, db, models.Resource{GUID: "r", NoteGUID: "n"})
	_ = db.ClearIndexNeeded(ctx, models.ItemRef{Kind: models.ItemNote, Lid: n})
	_ = db.ClearIndexNeeded(ctx, models.ItemRef{Kind: models.ItemResource, Lid: r})

	notes, resources, err := db.PendingCounts(ctx)
	if err != nil || notes != 0 || resources != 0 {
		t.Fatalf("PendingCounts = %d, %d, %v", notes, resources, err)
	}
	if err := db.MarkAllIndexNeeded(ctx); err != nil {
		t.Fatalf("MarkAllIndexNeeded: %v", err)
	}
	notes, resources, _ = db.PendingCounts(ctx)
	if notes != 1 || resources != 1 {
		t.Errorf("PendingCounts after mark = %d, %d", notes, resources)
	}
}

func TestMarkIndexNeeded(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	r := mustResource(t, db, models.Resource{GUID: "r", NoteGUID: "n"})
	ref := models.ItemRef{Kind: models.ItemResource, Lid: r}
	_ = db.ClearIndexNeeded(ctx, ref)

	if err := db.MarkIndexNeeded(ctx, ref); err != nil {
		t.Fatalf("MarkIndexNeeded: %v", err)
	}
	if !needed(t, db, models.ItemResource, r) {
		t.Error("flag not set")
	}

	err := db.MarkIndexNeeded(ctx, models.ItemRef{Kind: models.ItemResource, Lid: 999})
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}
