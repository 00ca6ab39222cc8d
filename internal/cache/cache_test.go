package cache

import (
	"testing"

	"github.com/starford/notidx/internal/models"
)

func TestPut_LastWriteWins(t *testing.T) {
	c := New()
	c.Put(models.IndexRecord{ItemID: 7, SourceID: 70, Kind: models.SourceRecognition, Weight: 10, Content: "first"})
	c.Put(models.IndexRecord{ItemID: 7, SourceID: 71, Kind: models.SourceRecognition, Weight: 90, Content: "second"})

	if c.Len() != 1 {
		t.Fatalf("len = %d, want 1", c.Len())
	}
	b := c.Drain()
	if len(b.Records) != 1 {
		t.Fatalf("drained %d records, want 1", len(b.Records))
	}
	got := b.Records[0]
	if got.Content != "second" || got.SourceID != 71 || got.Weight != 90 {
		t.Errorf("record = %+v, want the second put", got)
	}
}

func TestDrain_EmptiesCache(t *testing.T) {
	c := New()
	c.Put(models.IndexRecord{ItemID: 1, Kind: models.SourceText})
	c.Settle(models.ItemRef{Kind: models.ItemResource, Lid: 4})

	b := c.Drain()
	if len(b.Records) != 1 || len(b.Settled) != 1 {
		t.Fatalf("batch = %+v", b)
	}
	if again := c.Drain(); !again.Empty() {
		t.Errorf("second drain should be empty, got %+v", again)
	}
	if c.Len() != 0 {
		t.Errorf("len after drain = %d", c.Len())
	}
}

func TestDrain_SortedByItem(t *testing.T) {
	c := New()
	for _, id := range []int64{9, 2, 5} {
		c.Put(models.IndexRecord{ItemID: id, SourceID: id, Kind: models.SourceText})
	}
	b := c.Drain()
	want := []int64{2, 5, 9}
	for i, rec := range b.Records {
		if rec.ItemID != want[i] {
			t.Errorf("records[%d].ItemID = %d, want %d", i, rec.ItemID, want[i])
		}
	}
}

func TestSettle_Deduplicates(t *testing.T) {
	c := New()
	ref := models.ItemRef{Kind: models.ItemNote, Lid: 3}
	c.Settle(ref)
	c.Settle(ref)
	if b := c.Drain(); len(b.Settled) != 1 {
		t.Errorf("settled = %v, want one entry", b.Settled)
	}
}

func TestGet(t *testing.T) {
	c := New()
	if _, ok := c.Get(1); ok {
		t.Fatal("unexpected hit on empty cache")
	}
	c.Put(models.IndexRecord{ItemID: 1, Content: "x"})
	rec, ok := c.Get(1)
	if !ok || rec.Content != "x" {
		t.Errorf("Get = %+v, %v", rec, ok)
	}
}
