// Package tracker remembers which filings have already been seen and
// processed across runs, so repeated checks of a watchlist only surface
// genuinely new filings. History is kept per company: each tracked entity
// has its own persisted record, and a registry lists every entity the
// tracker has touched.
package tracker

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"insidertrack/pkg/core/form4"
	"insidertrack/pkg/core/store"
)

const (
	keyPrefix   = "tracker/"
	registryKey = "tracker/registry"
)

// Status classifies a filing relative to the tracker's history.
type Status string

const (
	// StatusNew marks a filing never seen before.
	StatusNew Status = "NEW"
	// StatusKnown marks a filing already recorded. Known is permanent: a
	// filing never returns to new, even across process restarts.
	StatusKnown Status = "KNOWN"
)

// FilingRecord is the tracker's memory of one processed filing.
type FilingRecord struct {
	AccessionNumber string    `json:"accession_number"`
	Ticker          string    `json:"ticker,omitempty"`
	CompanyName     string    `json:"company_name,omitempty"`
	FilingDate      time.Time `json:"filing_date"`
	FirstSeenAt     time.Time `json:"first_seen_at"`
}

// State is one entity's persisted filing history.
type State struct {
	Filings   map[string]FilingRecord `json:"filings"`
	Analyzed  map[string]time.Time    `json:"analyzed"`
	LastCheck time.Time               `json:"last_check"`
}

func newState() *State {
	return &State{
		Filings:  make(map[string]FilingRecord),
		Analyzed: make(map[string]time.Time),
	}
}

type registry struct {
	Entities []string `json:"entities"`
}

// Tracker wraps per-entity persisted state with store-backed durability.
// Safe for concurrent use.
type Tracker struct {
	store store.Store
	log   *logrus.Entry
	now   func() time.Time

	mu     sync.Mutex
	states map[string]*State
	reg    *registry
}

// New creates a tracker over a state store.
func New(st store.Store, logger *logrus.Logger) *Tracker {
	if logger == nil {
		logger = logrus.New()
	}
	return &Tracker{
		store:  st,
		log:    logger.WithField("component", "tracker"),
		now:    time.Now,
		states: make(map[string]*State),
	}
}

func stateKey(entity string) string { return keyPrefix + entity }

func normalizeEntity(entity string) (string, error) {
	entity = strings.ToUpper(strings.TrimSpace(entity))
	if entity == "" {
		return "", fmt.Errorf("empty tracker entity")
	}
	return entity, nil
}

// entityOf picks the tracker key for a filing: ticker when known, CIK
// otherwise.
func entityOf(meta form4.FilingMeta) string {
	if meta.Ticker != "" {
		return meta.Ticker
	}
	return meta.CIK
}

func (t *Tracker) load(ctx context.Context, entity string) (*State, error) {
	if st, ok := t.states[entity]; ok {
		return st, nil
	}
	st := newState()
	found, err := t.store.Load(ctx, stateKey(entity), st)
	if err != nil {
		return nil, err
	}
	if !found {
		st = newState()
	}
	if st.Filings == nil {
		st.Filings = make(map[string]FilingRecord)
	}
	if st.Analyzed == nil {
		st.Analyzed = make(map[string]time.Time)
	}
	t.states[entity] = st
	return st, nil
}

func (t *Tracker) save(ctx context.Context, entity string, st *State) error {
	if err := t.store.Save(ctx, stateKey(entity), st); err != nil {
		return err
	}
	return t.register(ctx, entity)
}

// register adds an entity to the persisted registry on its first save.
func (t *Tracker) register(ctx context.Context, entity string) error {
	reg, err := t.loadRegistry(ctx)
	if err != nil {
		return err
	}
	for _, e := range reg.Entities {
		if e == entity {
			return nil
		}
	}
	reg.Entities = append(reg.Entities, entity)
	sort.Strings(reg.Entities)
	return t.store.Save(ctx, registryKey, reg)
}

func (t *Tracker) loadRegistry(ctx context.Context) (*registry, error) {
	if t.reg != nil {
		return t.reg, nil
	}
	reg := &registry{}
	if _, err := t.store.Load(ctx, registryKey, reg); err != nil {
		return nil, err
	}
	t.reg = reg
	return reg, nil
}

// Classify reports whether an entity's filing is new or already known.
// Classification alone never mutates state; call MarkProcessed once the
// filing has been handled.
func (t *Tracker) Classify(ctx context.Context, entity, accession string) (Status, error) {
	entity, err := normalizeEntity(entity)
	if err != nil {
		return "", err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	st, err := t.load(ctx, entity)
	if err != nil {
		return "", err
	}
	if _, ok := st.Filings[accession]; ok {
		return StatusKnown, nil
	}
	return StatusNew, nil
}

// MarkProcessed records a filing as known under its entity and persists
// immediately. Marking an already-known filing refreshes nothing and is
// harmless.
func (t *Tracker) MarkProcessed(ctx context.Context, meta form4.FilingMeta) error {
	entity, err := normalizeEntity(entityOf(meta))
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	st, err := t.load(ctx, entity)
	if err != nil {
		return err
	}
	if _, ok := st.Filings[meta.AccessionNumber]; ok {
		return nil
	}
	st.Filings[meta.AccessionNumber] = FilingRecord{
		AccessionNumber: meta.AccessionNumber,
		Ticker:          meta.Ticker,
		CompanyName:     meta.CompanyName,
		FilingDate:      meta.FilingDate,
		FirstSeenAt:     t.now().UTC(),
	}
	st.LastCheck = t.now().UTC()
	return t.save(ctx, entity, st)
}

// NeedsDownload reports whether an entity's filing document should be
// fetched. Force re-downloads regardless of history without forgetting it.
func (t *Tracker) NeedsDownload(ctx context.Context, entity, accession string, force bool) (bool, error) {
	if force {
		return true, nil
	}
	status, err := t.Classify(ctx, entity, accession)
	if err != nil {
		return false, err
	}
	return status == StatusNew, nil
}

// NeedsAnalysis reports whether an entity's filing still awaits downstream
// analysis. The analysis flag is independent of the download history: a
// re-downloaded filing keeps its analyzed timestamp unless forced.
func (t *Tracker) NeedsAnalysis(ctx context.Context, entity, accession string, force bool) (bool, error) {
	if force {
		return true, nil
	}
	entity, err := normalizeEntity(entity)
	if err != nil {
		return false, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	st, err := t.load(ctx, entity)
	if err != nil {
		return false, err
	}
	_, done := st.Analyzed[accession]
	return !done, nil
}

// MarkAnalyzed records that an entity's filing analysis completed.
func (t *Tracker) MarkAnalyzed(ctx context.Context, entity, accession string) error {
	entity, err := normalizeEntity(entity)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	st, err := t.load(ctx, entity)
	if err != nil {
		return err
	}
	st.Analyzed[accession] = t.now().UTC()
	return t.save(ctx, entity, st)
}

// KnownCount returns how many filings the tracker remembers for an entity.
func (t *Tracker) KnownCount(ctx context.Context, entity string) (int, error) {
	entity, err := normalizeEntity(entity)
	if err != nil {
		return 0, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	st, err := t.load(ctx, entity)
	if err != nil {
		return 0, err
	}
	return len(st.Filings), nil
}

// LastCheck returns when the tracker last recorded a filing for an entity.
func (t *Tracker) LastCheck(ctx context.Context, entity string) (time.Time, error) {
	entity, err := normalizeEntity(entity)
	if err != nil {
		return time.Time{}, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	st, err := t.load(ctx, entity)
	if err != nil {
		return time.Time{}, err
	}
	return st.LastCheck, nil
}

// Entities lists every entity the tracker has recorded, sorted.
func (t *Tracker) Entities(ctx context.Context) ([]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	reg, err := t.loadRegistry(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(reg.Entities))
	copy(out, reg.Entities)
	return out, nil
}
