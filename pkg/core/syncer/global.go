package syncer

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"insidertrack/pkg/core/cache"
	"insidertrack/pkg/core/form4"
)

// EnsureGlobalCoverage makes the market cache hold at least target consumed
// filings and returns a snapshot. When the cache already meets the target and
// force is false, no upstream request is made. With force, the newest target
// filings are re-scanned from the top of the feed; filings already cached are
// deduplicated, so forcing only adds what is genuinely new.
//
// State is persisted after every merged page, so a failure mid-batch loses at
// most the page in flight. On such a failure the partial snapshot is returned
// alongside the error.
func (e *Engine) EnsureGlobalCoverage(ctx context.Context, target int, force bool) (GlobalResult, error) {
	e.globalSync.Lock()
	defer e.globalSync.Unlock()

	report := Report{BatchID: uuid.New()}
	log := e.log.WithFields(logrus.Fields{"batch_id": report.BatchID, "target": target, "force": force})

	state, err := e.loadGlobal(ctx)
	if err != nil {
		return GlobalResult{Report: report}, err
	}

	if !force && state.FetchedFilingCount >= target {
		log.WithField("cached", state.FetchedFilingCount).Debug("global cache already covers target")
		return GlobalResult{State: state.Clone(), Report: report}, nil
	}

	log.WithField("cached", state.FetchedFilingCount).Info("starting global sync")

	var cursor form4.Cursor
	scanned := 0
	for {
		if force {
			if scanned >= target {
				break
			}
		} else if state.FetchedFilingCount >= target {
			break
		}

		if err := ctx.Err(); err != nil {
			report.Partial = true
			return GlobalResult{State: state.Clone(), Report: report}, err
		}

		metas, next, err := e.source.ListRecentFilings(ctx, cursor, e.pageSize)
		if err != nil {
			report.Partial = true
			report.Failures = append(report.Failures, fmt.Sprintf("list page at offset %d: %v", cursor.Offset, err))
			return GlobalResult{State: state.Clone(), Report: report}, err
		}
		if len(metas) == 0 {
			// Feed exhausted before the target was met.
			report.Partial = true
			log.Warn("filing feed exhausted below target")
			break
		}

		merged := 0
		for _, meta := range metas {
			if force {
				if scanned >= target {
					break
				}
				scanned++
			}
			if state.Accessions.Contains(meta.AccessionNumber) {
				report.FilingsSkipped++
				continue
			}
			if err := e.consumeFiling(ctx, meta, &report, state.MergeFiling); err != nil {
				report.Partial = true
				report.Failures = append(report.Failures, fmt.Sprintf("filing %s: %v", meta.AccessionNumber, err))
				e.finishGlobalPage(ctx, state, &report)
				return GlobalResult{State: state.Clone(), Report: report}, err
			}
			merged++
			if !force && state.FetchedFilingCount >= target {
				break
			}
		}

		e.finishGlobalPage(ctx, state, &report)
		log.WithFields(logrus.Fields{
			"offset": cursor.Offset,
			"merged": merged,
			"cached": state.FetchedFilingCount,
		}).Debug("merged feed page")
		cursor = next
	}

	log.WithFields(logrus.Fields{
		"fetched": report.FilingsFetched,
		"skipped": report.FilingsSkipped,
		"cached":  state.FetchedFilingCount,
	}).Info("global sync complete")
	return GlobalResult{State: state.Clone(), Report: report}, nil
}

// finishGlobalPage stamps, persists, and publishes the state after a page.
// A persistence failure is reported but does not abort the sync; the merged
// state remains live in memory.
func (e *Engine) finishGlobalPage(ctx context.Context, state *cache.GlobalState, report *Report) {
	state.LastSyncedAt = e.now().UTC()
	if err := e.store.Save(ctx, globalKey, state); err != nil {
		report.Failures = append(report.Failures, fmt.Sprintf("persist global state: %v", err))
		e.log.WithField("error", err).Error("failed to persist global state")
	}
	e.publishGlobal(state)
}

// ResetGlobal wipes the market cache entirely, in memory and in the store.
func (e *Engine) ResetGlobal(ctx context.Context) error {
	e.globalSync.Lock()
	defer e.globalSync.Unlock()

	if err := e.store.Delete(ctx, globalKey); err != nil {
		return err
	}
	e.globalMu.Lock()
	e.global = nil
	e.globalMu.Unlock()
	e.log.Info("global cache reset")
	return nil
}

// GlobalSnapshot returns the currently published market state without
// touching upstream. It returns nil when nothing has been synced or loaded.
func (e *Engine) GlobalSnapshot(ctx context.Context) (*cache.GlobalState, error) {
	return e.loadGlobal(ctx)
}
