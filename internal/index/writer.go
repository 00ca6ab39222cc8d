package index

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/starford/notidx/internal/cache"
	"github.com/starford/notidx/internal/metrics"
	"github.com/starford/notidx/internal/models"
)

// FlushStats summarises one Flush call.
type FlushStats struct {
	Written int `json:"written"`
	Failed  int `json:"failed"`
	Cleared int `json:"cleared"`
	Commits int `json:"commits"`
}

// Flush writes a drained cache batch to search_index.
//
// Each record replaces the (lid, source) rows and then clears the flag of its
// source item. The flag is cleared only when both statements succeed. A failed
// statement is logged and the next record is processed; the batch is not
// rolled back. A commit happens every commitEvery records, so a crash leaves
// earlier chunks durable and later items still flagged.
func (db *DB) Flush(ctx context.Context, b cache.Batch) (FlushStats, error) {
	var st FlushStats
	if b.Empty() {
		return st, nil
	}

	db.logger.Debug("flush: start",
		slog.Int("records", len(b.Records)),
		slog.Int("settled", len(b.Settled)))

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return st, fmt.Errorf("index: begin flush: %w", err)
	}
	defer func() {
		if tx != nil {
			_ = tx.Rollback()
		}
	}()

	pending := 0
	commit := func() error {
		if err := tx.Commit(); err != nil {
			tx = nil
			return fmt.Errorf("index: commit flush: %w", err)
		}
		st.Commits++
		metrics.FlushCommits.Inc()
		pending = 0
		tx, err = db.conn.BeginTx(ctx, nil)
		if err != nil {
			tx = nil
			return fmt.Errorf("index: begin flush: %w", err)
		}
		return nil
	}

	for _, rec := range b.Records {
		if db.writeRecord(ctx, tx, rec) {
			st.Written++
			metrics.FlushRecords.WithLabelValues("written").Inc()
			if err := clearFlag(ctx, tx, rec.Source()); err != nil {
				db.logger.Warn("flush: clear flag failed",
					slog.Int64("lid", rec.SourceID),
					slog.String("error", err.Error()))
			} else {
				st.Cleared++
			}
		} else {
			st.Failed++
			metrics.FlushRecords.WithLabelValues("failed").Inc()
		}

		pending++
		if pending >= db.commitEvery {
			if err := commit(); err != nil {
				return st, err
			}
		}
	}

	for _, ref := range b.Settled {
		if db.settle(ctx, tx, ref) {
			st.Cleared++
		}
		pending++
		if pending >= db.commitEvery {
			if err := commit(); err != nil {
				return st, err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		tx = nil
		return st, fmt.Errorf("index: commit flush: %w", err)
	}
	tx = nil
	st.Commits++
	metrics.FlushCommits.Inc()
	metrics.FlushFlagsCleared.Add(float64(st.Cleared))

	db.logger.Debug("flush: complete",
		slog.Int("written", st.Written),
		slog.Int("failed", st.Failed),
		slog.Int("cleared", st.Cleared),
		slog.Int("commits", st.Commits))
	return st, nil
}

// writeRecord replaces the (lid, source) rows with rec and reports success.
func (db *DB) writeRecord(ctx context.Context, tx *sql.Tx, rec models.IndexRecord) bool {
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM search_index WHERE lid = ? AND source = ?`,
		rec.ItemID, string(rec.Kind)); err != nil {
		db.logger.Warn("flush: delete failed",
			slog.Int64("lid", rec.ItemID),
			slog.String("source", string(rec.Kind)),
			slog.String("error", err.Error()))
		return false
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO search_index (lid, weight, source, content) VALUES (?, ?, ?, ?)`,
		rec.ItemID, rec.Weight, string(rec.Kind), rec.Content); err != nil {
		db.logger.Warn("flush: insert failed",
			slog.Int64("lid", rec.ItemID),
			slog.String("source", string(rec.Kind)),
			slog.String("error", err.Error()))
		return false
	}
	return true
}

// settle clears the flag of an item that produced nothing to index. A note
// with no indexable body also loses its stale text row.
func (db *DB) settle(ctx context.Context, tx *sql.Tx, ref models.ItemRef) bool {
	if ref.Kind == models.ItemNote {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM search_index WHERE lid = ? AND source = ?`,
			ref.Lid, string(models.SourceText)); err != nil {
			db.logger.Warn("flush: delete stale text failed",
				slog.Int64("lid", ref.Lid),
				slog.String("error", err.Error()))
			return false
		}
	}
	if err := clearFlag(ctx, tx, ref); err != nil {
		db.logger.Warn("flush: clear flag failed",
			slog.Int64("lid", ref.Lid),
			slog.String("kind", string(ref.Kind)),
			slog.String("error", err.Error()))
		return false
	}
	return true
}
