package cache

import (
	"sort"
	"time"

	"insidertrack/pkg/core/form4"
)

// GlobalState is the market-wide cache built from the newest-first filing
// feed. FetchedFilingCount tracks consumed filings, not transactions: a
// filing may contribute zero or many transactions but always counts once.
type GlobalState struct {
	Transactions       []form4.Transaction `json:"transactions"`
	Accessions         AccessionIndex      `json:"accessions"`
	FetchedFilingCount int                 `json:"fetched_filing_count"`
	LastSyncedAt       time.Time           `json:"last_synced_at"`
}

// NewGlobalState returns an empty global cache.
func NewGlobalState() *GlobalState {
	return &GlobalState{Accessions: NewAccessionIndex()}
}

// MergeFiling folds one consumed filing into the cache. Replaying an
// accession already in the index changes nothing and returns false.
func (s *GlobalState) MergeFiling(meta form4.FilingMeta, txns []form4.Transaction) bool {
	if s.Accessions == nil {
		s.Accessions = NewAccessionIndex()
	}
	if s.Accessions.Contains(meta.AccessionNumber) {
		return false
	}
	s.Accessions.Add(meta.AccessionNumber)
	s.Transactions = append(s.Transactions, txns...)
	s.FetchedFilingCount++
	SortTransactions(s.Transactions)
	return true
}

// Clone returns a deep copy safe to hand to readers while a sync mutates the
// working state.
func (s *GlobalState) Clone() *GlobalState {
	out := &GlobalState{
		Transactions:       append([]form4.Transaction(nil), s.Transactions...),
		Accessions:         s.Accessions.Clone(),
		FetchedFilingCount: s.FetchedFilingCount,
		LastSyncedAt:       s.LastSyncedAt,
	}
	return out
}

// EntityState is one tracked company's cache. The watermark is the most
// recent transaction date (or filing date for undated line items) fully
// incorporated; CoveredFrom is the oldest filing date the cache has
// back-filled to, bounding which historical ranges it can answer.
type EntityState struct {
	Ticker       string              `json:"ticker"`
	CIK          string              `json:"cik"`
	CompanyName  string              `json:"company_name"`
	Transactions []form4.Transaction `json:"transactions"`
	Accessions   AccessionIndex      `json:"accessions"`
	Watermark    time.Time           `json:"watermark"`
	CoveredFrom  time.Time           `json:"covered_from"`
	LastSyncedAt time.Time           `json:"last_synced_at"`
}

// NewEntityState returns an empty cache for one entity.
func NewEntityState(ticker string) *EntityState {
	return &EntityState{Ticker: ticker, Accessions: NewAccessionIndex()}
}

// MergeFiling folds one filing into the entity cache, advancing the
// watermark. Merging is append-only and idempotent by accession.
func (s *EntityState) MergeFiling(meta form4.FilingMeta, txns []form4.Transaction) bool {
	if s.Accessions == nil {
		s.Accessions = NewAccessionIndex()
	}
	if s.Accessions.Contains(meta.AccessionNumber) {
		return false
	}
	s.Accessions.Add(meta.AccessionNumber)
	s.Transactions = append(s.Transactions, txns...)

	high := meta.FilingDate
	for _, t := range txns {
		if !t.TransactionDate.IsZero() && t.TransactionDate.After(high) {
			high = t.TransactionDate
		}
	}
	if high.After(s.Watermark) {
		s.Watermark = high
	}
	SortTransactions(s.Transactions)
	return true
}

// ExtendCoverage records that filings back to `from` have been fetched.
func (s *EntityState) ExtendCoverage(from time.Time) {
	if from.IsZero() {
		return
	}
	if s.CoveredFrom.IsZero() || from.Before(s.CoveredFrom) {
		s.CoveredFrom = from
	}
}

// Covers reports whether the cache has back-filled at least to `from`.
func (s *EntityState) Covers(from time.Time) bool {
	return !s.CoveredFrom.IsZero() && !from.Before(s.CoveredFrom)
}

// Clone returns a deep copy safe for concurrent readers.
func (s *EntityState) Clone() *EntityState {
	out := *s
	out.Transactions = append([]form4.Transaction(nil), s.Transactions...)
	out.Accessions = s.Accessions.Clone()
	return &out
}

// SortTransactions orders transactions filing-date descending, breaking ties
// by accession number descending so identical cache contents always
// serialize identically.
func SortTransactions(txns []form4.Transaction) {
	sort.SliceStable(txns, func(i, j int) bool {
		a, b := txns[i], txns[j]
		if !a.FilingDate.Equal(b.FilingDate) {
			return a.FilingDate.After(b.FilingDate)
		}
		return a.AccessionNumber > b.AccessionNumber
	})
}
