// Package scheduler drives the background indexer.
//
// A single worker goroutine wakes on a timer, pulls a bounded number of
// flagged notes and resources, extracts their text and flushes the result.
// The next wake-up is short when work was left behind and long otherwise.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/starford/notidx/internal/apperr"
	"github.com/starford/notidx/internal/cache"
	"github.com/starford/notidx/internal/extract"
	"github.com/starford/notidx/internal/index"
	"github.com/starford/notidx/internal/metrics"
	"github.com/starford/notidx/internal/models"
)

// Scheduler states reported by Status.
const (
	StateIdle     = "idle"
	StateRunning  = "running"
	StatePaused   = "paused"
	StateStopped  = "stopped"
	StateDisabled = "disabled"
)

// Source lists and loads flagged items.
type Source interface {
	ListIndexNeeded(ctx context.Context, kind models.ItemKind) ([]int64, error)
	GetNote(ctx context.Context, lid int64) (*models.Note, error)
	GetResource(ctx context.Context, lid int64) (*models.Resource, error)
	MarkAllIndexNeeded(ctx context.Context) error
	PendingCounts(ctx context.Context) (notes, resources int, err error)
}

// Writer persists a drained batch.
type Writer interface {
	Flush(ctx context.Context, b cache.Batch) (index.FlushStats, error)
}

// OfficeControl exposes the converter capability to status and reset requests.
type OfficeControl interface {
	Capability() extract.Capability
	Reset()
}

// Config holds the indexer timing and budget settings.
type Config struct {
	Disabled    bool
	MinInterval time.Duration
	MaxInterval time.Duration
	// A limit <= 0 means no budget.
	NoteBatchLimit     int
	ResourceBatchLimit int
}

// DefaultConfig mirrors the stock indexer settings.
func DefaultConfig() Config {
	return Config{
		MinInterval:        time.Second,
		MaxInterval:        2 * time.Minute,
		NoteBatchLimit:     50,
		ResourceBatchLimit: 10,
	}
}

// PhaseReport describes one pass over notes or resources.
type PhaseReport struct {
	Found     int              `json:"found"`
	Processed int              `json:"processed"`
	Records   int              `json:"records"`
	Settled   int              `json:"settled"`
	Deferred  int              `json:"deferred"`
	Flush     index.FlushStats `json:"flush"`
}

// Report is the outcome of a single Tick.
type Report struct {
	StartedAt   time.Time     `json:"started_at"`
	Duration    time.Duration `json:"duration"`
	Next        time.Duration `json:"next"`
	Skipped     string        `json:"skipped,omitempty"`
	Busy        bool          `json:"busy,omitempty"`
	Interrupted bool          `json:"interrupted"`
	Notes       PhaseReport   `json:"notes"`
	Resources   PhaseReport   `json:"resources"`
	Pending     Pending       `json:"pending"`
	Error       string        `json:"error,omitempty"`
}

// Pending holds the flag counts observed after a tick.
type Pending struct {
	Notes     int `json:"notes"`
	Resources int `json:"resources"`
}

// Status is a snapshot of the scheduler.
type Status struct {
	State      string  `json:"state"`
	Office     string  `json:"office"`
	LastReport *Report `json:"last_report,omitempty"`
}

// ReportHook receives every completed tick report.
type ReportHook func(Report)

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithReportHook registers fn to be called after each tick.
func WithReportHook(fn ReportHook) Option {
	return func(s *Scheduler) { s.hooks = append(s.hooks, fn) }
}

// WithOffice attaches the office converter for status and reset requests.
func WithOffice(o OfficeControl) Option {
	return func(s *Scheduler) { s.office = o }
}

// Scheduler runs the indexing loop.
type Scheduler struct {
	cfg     Config
	source  Source
	writer  Writer
	extract *extract.Dispatcher
	office  OfficeControl
	logger  *slog.Logger
	hooks   []ReportHook
	cache   *cache.Records
	// Guarded by tickMu.
	cursors map[models.ItemKind]int64

	tickMu  sync.Mutex
	running atomic.Bool
	paused  atomic.Bool
	stopped atomic.Bool

	cancelMu sync.Mutex
	cancel   context.CancelFunc

	statusMu sync.RWMutex
	last     *Report

	wakeCh   chan struct{}
	stopCh   chan struct{}
	stopOnce sync.Once
	started  atomic.Bool
	done     chan struct{}
}

// New returns a scheduler. It does nothing until Start or Tick is called.
func New(cfg Config, source Source, writer Writer, ex *extract.Dispatcher, logger *slog.Logger, opts ...Option) *Scheduler {
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = DefaultConfig().MinInterval
	}
	if cfg.MaxInterval < cfg.MinInterval {
		cfg.MaxInterval = cfg.MinInterval
	}
	s := &Scheduler{
		cfg:     cfg,
		source:  source,
		writer:  writer,
		extract: ex,
		logger:  logger,
		cache:   cache.New(),
		cursors: make(map[models.ItemKind]int64),
		wakeCh:  make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start runs the loop in a new goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	go func() {
		if err := s.Run(ctx); err != nil {
			s.logger.Error("scheduler: loop exited", slog.String("error", err.Error()))
		}
	}()
}

// Run ticks until ctx is cancelled or Stop is called. The first tick fires
// after MinInterval.
func (s *Scheduler) Run(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return fmt.Errorf("scheduler: already started")
	}
	defer close(s.done)

	s.logger.Info("scheduler: started",
		slog.Bool("disabled", s.cfg.Disabled),
		slog.Duration("min_interval", s.cfg.MinInterval),
		slog.Duration("max_interval", s.cfg.MaxInterval))

	timer := time.NewTimer(s.cfg.MinInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler: context done")
			return nil
		case <-s.stopCh:
			s.logger.Info("scheduler: stopped")
			return nil
		case <-s.wakeCh:
		case <-timer.C:
		}

		rep := s.Tick(ctx)
		if s.stopped.Load() {
			s.logger.Info("scheduler: stopped")
			return nil
		}
		timer.Reset(rep.Next)
	}
}

// Wait blocks until a started loop has exited.
func (s *Scheduler) Wait() {
	if s.started.Load() {
		<-s.done
	}
}

// Stop halts the scheduler for good. An in-flight tick stops taking new
// items, still flushes what it extracted, and the loop then exits.
func (s *Scheduler) Stop() {
	s.stopped.Store(true)
	s.cancelTick()
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// Pause halts the current tick like Stop but keeps the loop alive.
func (s *Scheduler) Pause() {
	s.paused.Store(true)
	s.cancelTick()
	s.logger.Info("scheduler: paused")
}

// Resume clears a pause and triggers a tick.
func (s *Scheduler) Resume() {
	s.paused.Store(false)
	s.logger.Info("scheduler: resumed")
	s.Wake()
}

// Wake requests an immediate tick. Repeated calls before the tick coalesce.
func (s *Scheduler) Wake() {
	select {
	case s.wakeCh <- struct{}{}:
	default:
	}
}

// Reindex flags every note and resource and wakes the loop.
func (s *Scheduler) Reindex(ctx context.Context) error {
	if s.stopped.Load() {
		return apperr.ErrStopped
	}
	if err := s.source.MarkAllIndexNeeded(ctx); err != nil {
		return fmt.Errorf("scheduler: reindex: %w", err)
	}
	s.logger.Info("scheduler: full reindex requested")
	s.Wake()
	return nil
}

// ResetOffice forgets the cached converter capability and wakes the loop.
func (s *Scheduler) ResetOffice() {
	if s.office == nil {
		return
	}
	s.office.Reset()
	s.logger.Info("scheduler: office capability reset")
	s.Wake()
}

// Status returns the current state and the last tick report.
func (s *Scheduler) Status() Status {
	st := Status{State: s.state(), Office: extract.CapabilityUnavailable.String()}
	if s.office != nil {
		st.Office = s.office.Capability().String()
	}
	s.statusMu.RLock()
	if s.last != nil {
		rep := *s.last
		st.LastReport = &rep
	}
	s.statusMu.RUnlock()
	return st
}

func (s *Scheduler) state() string {
	switch {
	case s.cfg.Disabled:
		return StateDisabled
	case s.stopped.Load():
		return StateStopped
	case s.paused.Load():
		return StatePaused
	case s.running.Load():
		return StateRunning
	default:
		return StateIdle
	}
}

func (s *Scheduler) halted() bool {
	return s.stopped.Load() || s.paused.Load()
}

func (s *Scheduler) setCancel(cancel context.CancelFunc) {
	s.cancelMu.Lock()
	s.cancel = cancel
	s.cancelMu.Unlock()
}

func (s *Scheduler) cancelTick() {
	s.cancelMu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.cancelMu.Unlock()
}

// Tick runs one indexing pass: notes, flush, resources, flush.
// It is not reentrant; a concurrent call returns a Busy report at once.
func (s *Scheduler) Tick(ctx context.Context) Report {
	if !s.tickMu.TryLock() {
		metrics.TicksTotal.WithLabelValues("busy").Inc()
		return Report{Busy: true, Next: s.cfg.MinInterval}
	}
	defer s.tickMu.Unlock()

	rep := Report{StartedAt: time.Now(), Next: s.cfg.MaxInterval}
	switch {
	case s.cfg.Disabled:
		rep.Skipped = StateDisabled
	case s.stopped.Load():
		rep.Skipped = StateStopped
	case s.paused.Load():
		rep.Skipped = StatePaused
	}
	if rep.Skipped != "" {
		metrics.TicksTotal.WithLabelValues("skipped").Inc()
		return rep
	}

	s.running.Store(true)
	defer s.running.Store(false)

	tickCtx, cancel := context.WithCancel(ctx)
	s.setCancel(cancel)
	defer func() {
		s.setCancel(nil)
		cancel()
	}()
	flushCtx := context.WithoutCancel(ctx)

	var errs []error
	var err error

	rep.Notes, rep.Interrupted, err = s.runPhase(tickCtx, flushCtx, models.ItemNote, s.cfg.NoteBatchLimit)
	errs = append(errs, err)
	if !rep.Interrupted {
		rep.Resources, rep.Interrupted, err = s.runPhase(tickCtx, flushCtx, models.ItemResource, s.cfg.ResourceBatchLimit)
		errs = append(errs, err)
	}
	if rep.Interrupted {
		rep.Next = s.cfg.MinInterval
	}
	if err := errors.Join(errs...); err != nil {
		rep.Error = err.Error()
	}

	s.observePending(flushCtx, &rep)
	rep.Duration = time.Since(rep.StartedAt)
	s.finish(rep)
	return rep
}

// runPhase processes up to limit flagged items of one kind and flushes them.
// interrupted is true when the budget ran out with items left or the tick
// was halted.
//
// Each kind keeps a cursor at the last lid tried by an interrupted pass, and
// the next pass starts after it. Items that stay flagged after a failure
// therefore cannot hold the budget against the lids behind them. A pass that
// reaches the end of the list resets the cursor.
func (s *Scheduler) runPhase(ctx, flushCtx context.Context, kind models.ItemKind, limit int) (PhaseReport, bool, error) {
	var phase PhaseReport
	lids, err := s.source.ListIndexNeeded(ctx, kind)
	if err != nil {
		if ctx.Err() != nil {
			return phase, true, nil
		}
		return phase, false, fmt.Errorf("scheduler: list %s: %w", kind, err)
	}
	lids = afterCursor(lids, s.cursors[kind])
	phase.Found = len(lids)

	interrupted := false
	var last int64
	for _, lid := range lids {
		if s.halted() || ctx.Err() != nil {
			interrupted = true
			break
		}
		if limit > 0 && phase.Processed >= limit {
			interrupted = true
			break
		}
		last = lid
		phase.Processed++
		metrics.ItemsProcessed.WithLabelValues(string(kind)).Inc()

		switch kind {
		case models.ItemNote:
			s.processNote(ctx, lid, &phase)
		case models.ItemResource:
			s.processResource(ctx, lid, &phase)
		}
	}

	switch {
	case !interrupted:
		delete(s.cursors, kind)
	case last > 0:
		s.cursors[kind] = last
	}

	batch := s.cache.Drain()
	if batch.Empty() {
		return phase, interrupted, nil
	}
	stats, err := s.writer.Flush(flushCtx, batch)
	phase.Flush = stats
	if err != nil {
		s.logger.Error("scheduler: flush failed",
			slog.String("kind", string(kind)),
			slog.String("error", err.Error()))
		return phase, interrupted, fmt.Errorf("scheduler: flush %s: %w", kind, err)
	}
	s.logger.Info("scheduler: flushed",
		slog.String("kind", string(kind)),
		slog.Int("processed", phase.Processed),
		slog.Int("written", stats.Written),
		slog.Int("failed", stats.Failed),
		slog.Int("cleared", stats.Cleared))
	return phase, interrupted, nil
}

// afterCursor drops the lids at or below cursor. lids is ascending.
func afterCursor(lids []int64, cursor int64) []int64 {
	if cursor <= 0 {
		return lids
	}
	i := slices.IndexFunc(lids, func(lid int64) bool { return lid > cursor })
	if i < 0 {
		return nil
	}
	return lids[i:]
}

func (s *Scheduler) processNote(ctx context.Context, lid int64, phase *PhaseReport) {
	ref := models.ItemRef{Kind: models.ItemNote, Lid: lid}
	n, err := s.source.GetNote(ctx, lid)
	if err != nil {
		s.deferItem(ref, err, phase)
		return
	}
	if rec := s.extract.Note(*n); rec != nil {
		s.cache.Put(*rec)
		phase.Records++
		return
	}
	s.cache.Settle(ref)
	phase.Settled++
}

func (s *Scheduler) processResource(ctx context.Context, lid int64, phase *PhaseReport) {
	ref := models.ItemRef{Kind: models.ItemResource, Lid: lid}
	r, err := s.source.GetResource(ctx, lid)
	if err != nil {
		s.deferItem(ref, err, phase)
		return
	}
	out := s.extract.Resource(ctx, *r)
	switch {
	case out.Err != nil:
		s.deferItem(ref, out.Err, phase)
	case len(out.Records) == 0:
		s.cache.Settle(ref)
		phase.Settled++
	default:
		for _, rec := range out.Records {
			s.cache.Put(rec)
		}
		phase.Records += len(out.Records)
	}
}

// deferItem leaves the item flagged for a later tick.
func (s *Scheduler) deferItem(ref models.ItemRef, err error, phase *PhaseReport) {
	phase.Deferred++
	level := slog.LevelWarn
	if errors.Is(err, apperr.ErrNotFound) || errors.Is(err, extract.ErrInterrupted) {
		level = slog.LevelDebug
	}
	s.logger.Log(context.Background(), level, "scheduler: item deferred",
		slog.String("kind", string(ref.Kind)),
		slog.Int64("lid", ref.Lid),
		slog.String("error", err.Error()))
}

func (s *Scheduler) observePending(ctx context.Context, rep *Report) {
	notes, resources, err := s.source.PendingCounts(ctx)
	if err != nil {
		s.logger.Warn("scheduler: pending counts", slog.String("error", err.Error()))
		return
	}
	rep.Pending = Pending{Notes: notes, Resources: resources}
	metrics.PendingItems.WithLabelValues(string(models.ItemNote)).Set(float64(notes))
	metrics.PendingItems.WithLabelValues(string(models.ItemResource)).Set(float64(resources))
}

func (s *Scheduler) finish(rep Report) {
	result := "completed"
	switch {
	case rep.Interrupted:
		result = "interrupted"
	case rep.Notes.Processed == 0 && rep.Resources.Processed == 0:
		result = "idle"
	}
	metrics.TicksTotal.WithLabelValues(result).Inc()
	metrics.TickDuration.Observe(rep.Duration.Seconds())

	s.statusMu.Lock()
	s.last = &rep
	s.statusMu.Unlock()

	for _, fn := range s.hooks {
		fn(rep)
	}
}
