package syncer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"insidertrack/pkg/core/cache"
	"insidertrack/pkg/core/form4"
)

// EnsureEntityCoverage makes one company's cache cover the requested window
// and returns a snapshot. A cache that already covers the window only fetches
// filings newer than its watermark; a window reaching further back than
// CoveredFrom triggers a backfill over the uncovered range. Different tickers
// sync independently and concurrently.
func (e *Engine) EnsureEntityCoverage(ctx context.Context, ticker string, win Window) (EntityResult, error) {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	if ticker == "" {
		return EntityResult{}, fmt.Errorf("empty ticker")
	}

	slot := e.slot(ticker)
	slot.sync.Lock()
	defer slot.sync.Unlock()

	report := Report{BatchID: uuid.New()}
	from := e.windowStart(win)
	log := e.log.WithFields(logrus.Fields{"batch_id": report.BatchID, "ticker": ticker, "from": from.Format("2006-01-02")})

	state, err := e.loadEntity(ctx, slot, ticker)
	if err != nil {
		return EntityResult{Report: report}, err
	}

	if state.CIK == "" {
		cik, name, err := e.source.LookupCIK(ctx, ticker)
		if err != nil {
			return EntityResult{Report: report}, fmt.Errorf("failed to resolve ticker %s: %w", ticker, err)
		}
		state.CIK = cik
		state.CompanyName = name
	}

	// A covered cache only needs filings past its watermark. The watermark
	// filing itself is re-listed and deduplicated by accession.
	since := from
	if state.Covers(from) && !state.Watermark.IsZero() && state.Watermark.After(from) {
		since = state.Watermark
	}

	metas, covered, err := e.source.ListEntityFilings(ctx, state.CIK, since, 0)
	if err != nil {
		report.Partial = true
		return EntityResult{State: state.Clone(), Report: report}, err
	}
	if !covered {
		// The listing may be truncated short of the window start. Merge what
		// came back, but never claim the uncovered range.
		report.Partial = true
		log.WithField("listed", len(metas)).Warn("filing listing may not reach the window start")
	}
	log.WithField("listed", len(metas)).Debug("listed entity filings")

	pending := 0
	for _, meta := range metas {
		if err := ctx.Err(); err != nil {
			report.Partial = true
			e.finishEntityBatch(ctx, slot, state, &report)
			return EntityResult{State: state.Clone(), Report: report}, err
		}
		if state.Accessions.Contains(meta.AccessionNumber) {
			report.FilingsSkipped++
			continue
		}
		meta.Ticker = ticker
		if meta.CompanyName == "" {
			meta.CompanyName = state.CompanyName
		}
		if err := e.consumeFiling(ctx, meta, &report, state.MergeFiling); err != nil {
			report.Partial = true
			report.Failures = append(report.Failures, fmt.Sprintf("filing %s: %v", meta.AccessionNumber, err))
			e.finishEntityBatch(ctx, slot, state, &report)
			return EntityResult{State: state.Clone(), Report: report}, err
		}
		pending++
		if pending%persistEvery == 0 {
			e.finishEntityBatch(ctx, slot, state, &report)
		}
	}

	if covered {
		state.ExtendCoverage(from)
	} else if oldest := oldestFilingDate(metas); !oldest.IsZero() {
		// Coverage stops at the oldest filing the listing proved to hold.
		state.ExtendCoverage(oldest)
	}
	e.finishEntityBatch(ctx, slot, state, &report)
	log.WithFields(logrus.Fields{
		"fetched": report.FilingsFetched,
		"skipped": report.FilingsSkipped,
		"partial": report.Partial,
	}).Info("entity sync complete")
	return EntityResult{State: state.Clone(), Report: report}, nil
}

func oldestFilingDate(metas []form4.FilingMeta) time.Time {
	var oldest time.Time
	for _, m := range metas {
		if m.FilingDate.IsZero() {
			continue
		}
		if oldest.IsZero() || m.FilingDate.Before(oldest) {
			oldest = m.FilingDate
		}
	}
	return oldest
}

// finishEntityBatch persists and publishes the state. Coverage is extended
// by the caller only once the whole batch has merged; a partial batch must
// not claim the window is covered.
func (e *Engine) finishEntityBatch(ctx context.Context, slot *entitySlot, state *cache.EntityState, report *Report) {
	state.LastSyncedAt = e.now().UTC()
	if err := e.store.Save(ctx, entityKey(state.Ticker), state); err != nil {
		report.Failures = append(report.Failures, fmt.Sprintf("persist entity state: %v", err))
		e.log.WithFields(logrus.Fields{"ticker": state.Ticker, "error": err}).
			Error("failed to persist entity state")
	}
	slot.publish(state)
}

// windowStart resolves a Window to its lower bound.
func (e *Engine) windowStart(win Window) time.Time {
	if !win.Start.IsZero() {
		return win.Start
	}
	lookback := defaultEntityWindow
	if win.Days > 0 {
		lookback = time.Duration(win.Days) * 24 * time.Hour
	}
	return e.now().UTC().Add(-lookback).Truncate(24 * time.Hour)
}

// ResetEntity wipes one company's cache.
func (e *Engine) ResetEntity(ctx context.Context, ticker string) error {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	slot := e.slot(ticker)
	slot.sync.Lock()
	defer slot.sync.Unlock()

	if err := e.store.Delete(ctx, entityKey(ticker)); err != nil {
		return err
	}
	slot.mu.Lock()
	slot.state = nil
	slot.mu.Unlock()
	e.log.WithField("ticker", ticker).Info("entity cache reset")
	return nil
}

// EntitySnapshot returns a company's currently published state without
// touching upstream.
func (e *Engine) EntitySnapshot(ctx context.Context, ticker string) (*cache.EntityState, error) {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	return e.loadEntity(ctx, e.slot(ticker), ticker)
}
