// Package syncer drives incremental cache synchronization against the
// upstream filing source. It owns the working caches, deduplicates by
// accession, persists after every page, and publishes immutable snapshots
// to readers.
package syncer

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"insidertrack/pkg/core/cache"
	"insidertrack/pkg/core/form4"
	"insidertrack/pkg/core/store"
)

const (
	globalKey       = "global"
	entityKeyPrefix = "entity/"

	defaultPageSize     = 40
	persistEvery        = 25
	defaultEntityWindow = 90 * 24 * time.Hour
)

// Source is the upstream filing provider.
type Source interface {
	// ListRecentFilings returns one newest-first page of the market feed and
	// the cursor for the next page. An empty page means the feed is exhausted.
	ListRecentFilings(ctx context.Context, cursor form4.Cursor, pageSize int) ([]form4.FilingMeta, form4.Cursor, error)

	// ListEntityFilings returns a company's Form 4 filings with filing date
	// on or after since, newest first. covered reports whether the listing
	// demonstrably reaches past since; when false, older filings inside the
	// window may exist upstream beyond what the source returned.
	ListEntityFilings(ctx context.Context, cik string, since time.Time, limit int) (metas []form4.FilingMeta, covered bool, err error)

	// FetchFilingDocument downloads the raw ownership document for a filing.
	FetchFilingDocument(ctx context.Context, meta form4.FilingMeta) (form4.Document, error)

	// LookupCIK resolves a ticker to its zero-padded CIK and registrant name.
	LookupCIK(ctx context.Context, ticker string) (cik, name string, err error)
}

// Window bounds an entity sync. Start/End name an explicit historical range;
// Days is a rolling lookback from now. Zero means the default lookback.
type Window struct {
	Days  int
	Start time.Time
	End   time.Time
}

// Report summarizes one sync batch.
type Report struct {
	BatchID        uuid.UUID `json:"batch_id"`
	FilingsFetched int       `json:"filings_fetched"`
	FilingsSkipped int       `json:"filings_skipped"`
	ParseFailures  int       `json:"parse_failures"`
	Failures       []string  `json:"failures,omitempty"`
	// Partial marks a batch that ended before full coverage: an exhausted
	// feed, a mid-batch transport failure, or cancellation.
	Partial bool `json:"partial"`
}

// GlobalResult carries the published market snapshot plus its sync report.
type GlobalResult struct {
	State  *cache.GlobalState
	Report Report
}

// EntityResult carries one entity's published snapshot plus its sync report.
type EntityResult struct {
	State  *cache.EntityState
	Report Report
}

// Engine coordinates cache syncs. One sync runs per scope at a time; readers
// always see the last fully merged page through published snapshots.
type Engine struct {
	source   Source
	store    store.Store
	parser   *form4.Parser
	log      *logrus.Entry
	pageSize int
	now      func() time.Time

	globalSync sync.Mutex // serializes global syncs
	globalMu   sync.RWMutex
	global     *cache.GlobalState

	entityMu sync.Mutex
	entities map[string]*entitySlot
}

type entitySlot struct {
	sync  sync.Mutex
	mu    sync.RWMutex
	state *cache.EntityState
}

// Options configures an Engine. Zero values use defaults.
type Options struct {
	PageSize int
	Logger   *logrus.Logger
	Now      func() time.Time
}

// New creates an Engine over a source and a state store.
func New(source Source, st store.Store, opts Options) *Engine {
	if opts.PageSize <= 0 {
		opts.PageSize = defaultPageSize
	}
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{
		source:   source,
		store:    st,
		parser:   form4.NewParser(),
		log:      opts.Logger.WithField("component", "syncer"),
		pageSize: opts.PageSize,
		now:      opts.Now,
		entities: make(map[string]*entitySlot),
	}
}

func entityKey(ticker string) string { return entityKeyPrefix + ticker }

// loadGlobal returns the working global state, reading it from the store on
// first use. Corrupted persisted state fails the sync rather than being
// silently rebuilt.
func (e *Engine) loadGlobal(ctx context.Context) (*cache.GlobalState, error) {
	e.globalMu.RLock()
	st := e.global
	e.globalMu.RUnlock()
	if st != nil {
		return st.Clone(), nil
	}

	loaded := cache.NewGlobalState()
	found, err := e.store.Load(ctx, globalKey, loaded)
	if err != nil {
		return nil, err
	}
	if !found {
		loaded = cache.NewGlobalState()
	}

	e.globalMu.Lock()
	if e.global == nil {
		e.global = loaded
	}
	st = e.global
	e.globalMu.Unlock()
	return st.Clone(), nil
}

func (e *Engine) publishGlobal(st *cache.GlobalState) {
	snap := st.Clone()
	e.globalMu.Lock()
	e.global = snap
	e.globalMu.Unlock()
}

func (e *Engine) slot(ticker string) *entitySlot {
	e.entityMu.Lock()
	defer e.entityMu.Unlock()
	s, ok := e.entities[ticker]
	if !ok {
		s = &entitySlot{}
		e.entities[ticker] = s
	}
	return s
}

func (e *Engine) loadEntity(ctx context.Context, slot *entitySlot, ticker string) (*cache.EntityState, error) {
	slot.mu.RLock()
	st := slot.state
	slot.mu.RUnlock()
	if st != nil {
		return st.Clone(), nil
	}

	loaded := cache.NewEntityState(ticker)
	found, err := e.store.Load(ctx, entityKey(ticker), loaded)
	if err != nil {
		return nil, err
	}
	if !found {
		loaded = cache.NewEntityState(ticker)
	}

	slot.mu.Lock()
	if slot.state == nil {
		slot.state = loaded
	}
	st = slot.state
	slot.mu.Unlock()
	return st.Clone(), nil
}

func (slot *entitySlot) publish(st *cache.EntityState) {
	snap := st.Clone()
	slot.mu.Lock()
	slot.state = snap
	slot.mu.Unlock()
}

// consumeFiling fetches and parses one filing into the given merge function.
// A filing whose document cannot be parsed is still consumed: its accession
// is recorded with zero transactions so the engine never refetches it.
// The returned error is non-nil only for transport-level failures, which
// leave the filing unconsumed and retryable.
func (e *Engine) consumeFiling(ctx context.Context, meta form4.FilingMeta, report *Report, merge func(form4.FilingMeta, []form4.Transaction) bool) error {
	doc, err := e.source.FetchFilingDocument(ctx, meta)
	if err != nil {
		if _, ok := err.(*form4.MalformedDocumentError); !ok {
			return err
		}
		// Index page unusable: consume with no transactions.
		e.log.WithFields(logrus.Fields{"accession": meta.AccessionNumber, "error": err}).
			Warn("skipping filing with unusable document")
		report.ParseFailures++
		if merge(meta, nil) {
			report.FilingsFetched++
		}
		return nil
	}

	txns, err := e.parser.Parse(&doc)
	if err != nil {
		e.log.WithFields(logrus.Fields{"accession": meta.AccessionNumber, "error": err}).
			Warn("skipping unparseable filing")
		report.ParseFailures++
		txns = nil
	}
	if merge(meta, txns) {
		report.FilingsFetched++
	} else {
		report.FilingsSkipped++
	}
	return nil
}
