package offline

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"example.com/carevisits/internal/domain"
	"example.com/carevisits/internal/observability"
)

// EngineOption customises an Engine.
type EngineOption func(*Engine)

// WithLogger overrides the engine logger.
func WithLogger(logger *log.Logger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithClock overrides the time source used for sync and conflict timestamps.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// Engine replays pending offline records against the canonical store. Records of one
// staff member are replayed strictly in order, one at a time; different staff members
// may sync concurrently.
type Engine struct {
	records  domain.OfflineRecordRepository
	handlers Handlers
	logger   *log.Logger
	now      func() time.Time
	inflight singleflight.Group

	mu     sync.Mutex
	passes map[string]*pass
}

// pass tracks the callers waiting on one staff member's shared sync.
type pass struct {
	waiters []context.Context
}

// abandoned reports whether every waiting caller has gone away. Callers hold Engine.mu.
func (p *pass) abandoned() bool {
	for _, ctx := range p.waiters {
		if ctx.Err() == nil {
			return false
		}
	}
	return true
}

// NewEngine constructs an Engine.
func NewEngine(records domain.OfflineRecordRepository, handlers Handlers, opts ...EngineOption) *Engine {
	e := &Engine{
		records:  records,
		handlers: handlers,
		logger:   log.Default(),
		now:      time.Now,
		passes:   make(map[string]*pass),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Sync drains staffID's pending queue. Concurrent calls for the same staff member share a
// single pass, which stops between records only once every waiting caller's ctx is done;
// the record in flight is always finished.
func (e *Engine) Sync(ctx context.Context, staffID string) (SyncResult, error) {
	if strings.TrimSpace(staffID) == "" {
		return SyncResult{}, fmt.Errorf("%w: staff id is required", domain.ErrValidation)
	}

	e.mu.Lock()
	p, ok := e.passes[staffID]
	if !ok {
		p = &pass{}
		e.passes[staffID] = p
	}
	p.waiters = append(p.waiters, ctx)
	base := context.WithoutCancel(ctx)
	ch := e.inflight.DoChan(staffID, func() (any, error) {
		defer e.finish(staffID, p)
		return e.drain(base, staffID, func() bool {
			e.mu.Lock()
			defer e.mu.Unlock()
			return p.abandoned()
		})
	})
	e.mu.Unlock()

	r := <-ch
	if r.Err != nil {
		return SyncResult{}, r.Err
	}
	return r.Val.(SyncResult).clone(), nil
}

// finish retires p so the next Sync starts a fresh pass.
func (e *Engine) finish(staffID string, p *pass) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.inflight.Forget(staffID)
	if e.passes[staffID] == p {
		delete(e.passes, staffID)
	}
}

// SyncAll drains every staff member with pending records, up to concurrency at a time.
func (e *Engine) SyncAll(ctx context.Context, concurrency int) ([]SyncResult, error) {
	staff, err := e.records.ListStaffWithPending(ctx)
	if err != nil {
		return nil, fmt.Errorf("list staff with pending records: %w", err)
	}
	if concurrency < 1 {
		concurrency = 1
	}

	results := make([]SyncResult, len(staff))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, staffID := range staff {
		g.Go(func() error {
			res, err := e.Sync(gctx, staffID)
			if err != nil {
				return fmt.Errorf("sync staff %s: %w", staffID, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

func (e *Engine) drain(ctx context.Context, staffID string, stopped func() bool) (SyncResult, error) {
	started := time.Now()
	defer func() { observability.ObserveSync(time.Since(started)) }()

	pending, err := e.records.ListPending(ctx, staffID)
	if err != nil {
		return SyncResult{}, fmt.Errorf("list pending records: %w", err)
	}

	res := SyncResult{
		StaffID:   staffID,
		Results:   make([]RecordResult, 0, len(pending)),
		Conflicts: make([]ConflictReport, 0),
	}
	for _, rec := range pending {
		if stopped() {
			res.Cancelled = true
			break
		}
		e.replay(ctx, rec, &res)
	}
	if res.FailedCount > 0 || res.ReviewCount > 0 {
		e.logger.Printf("offline sync staff=%s synced=%d failed=%d review=%d", staffID, res.SyncedCount, res.FailedCount, res.ReviewCount)
	}
	return res, nil
}

func (e *Engine) replay(ctx context.Context, rec domain.OfflineRecord, res *SyncResult) {
	handler, err := e.handlers.Lookup(rec.Type)
	if err != nil {
		e.fail(ctx, rec, err, res)
		return
	}

	applied, err := handler.Apply(ctx, rec)
	if err != nil {
		e.fail(ctx, rec, err, res)
		return
	}

	if applied.Conflict.Detected() {
		e.flag(ctx, rec, applied, res)
		return
	}

	now := e.now().UTC()
	changed, err := e.records.MarkSynced(ctx, rec.ID, domain.SyncOutcome{
		EntityType: string(applied.EntityType),
		EntityID:   applied.EntityID,
		SyncedAt:   now,
	})
	if err != nil {
		e.fail(ctx, rec, fmt.Errorf("mark synced: %w", err), res)
		return
	}
	if changed {
		res.SyncedCount++
		observability.RecordSynced(now)
	}
	observability.RecordReplayed(string(rec.Type), string(OutcomeSynced))
	res.Results = append(res.Results, RecordResult{
		RecordID:   rec.ID,
		Type:       rec.Type,
		Outcome:    OutcomeSynced,
		EntityType: string(applied.EntityType),
		EntityID:   applied.EntityID,
	})
}

func (e *Engine) flag(ctx context.Context, rec domain.OfflineRecord, applied Applied, res *SyncResult) {
	flag := domain.ConflictFlag{
		RecordID: rec.ID,
		VisitID:  applied.VisitID,
		Kind:     applied.Conflict.Kind,
		Notes:    applied.Conflict.Notes,
		At:       e.now().UTC(),
	}
	if err := e.records.FlagConflict(ctx, flag, domain.ConflictFlaggedEvent(rec, flag)); err != nil {
		e.fail(ctx, rec, fmt.Errorf("flag conflict: %w", err), res)
		return
	}
	observability.RecordConflict(string(flag.Kind))
	observability.RecordReplayed(string(rec.Type), string(OutcomeManualReview))
	res.ReviewCount++
	res.Results = append(res.Results, RecordResult{
		RecordID:   rec.ID,
		Type:       rec.Type,
		Outcome:    OutcomeManualReview,
		EntityType: string(applied.EntityType),
		EntityID:   applied.EntityID,
		ErrorKind:  "conflict",
	})
	res.Conflicts = append(res.Conflicts, ConflictReport{
		RecordID: rec.ID,
		VisitID:  flag.VisitID,
		Kind:     flag.Kind,
		Notes:    flag.Notes,
	})
}

func (e *Engine) fail(ctx context.Context, rec domain.OfflineRecord, cause error, res *SyncResult) {
	if err := e.records.RecordFailure(ctx, rec.ID, cause.Error()); err != nil {
		e.logger.Printf("record failure for offline record %s: %v", rec.ID, err)
	}
	observability.RecordReplayed(string(rec.Type), string(OutcomeFailed))
	res.FailedCount++
	res.Results = append(res.Results, RecordResult{
		RecordID:  rec.ID,
		Type:      rec.Type,
		Outcome:   OutcomeFailed,
		ErrorKind: domain.ErrorKind(cause),
		Error:     cause.Error(),
	})
}
