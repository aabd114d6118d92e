package syncer

import (
	"context"
	"fmt"
	"testing"
	"time"

	"insidertrack/pkg/core/form4"
	"insidertrack/pkg/core/store"
)

// =============================================================================
// FAKES
// =============================================================================

// fakeSource serves a fixed newest-first feed and counts upstream calls.
type fakeSource struct {
	feed      []form4.FilingMeta
	docs      map[string][]byte
	entity    map[string][]form4.FilingMeta // cik -> filings
	cikByTick map[string]string

	listCalls  int
	fetchCalls int
	fetchErrs  map[string]error
}

func (f *fakeSource) ListRecentFilings(ctx context.Context, cursor form4.Cursor, pageSize int) ([]form4.FilingMeta, form4.Cursor, error) {
	f.listCalls++
	if cursor.Offset >= len(f.feed) {
		return nil, cursor, nil
	}
	end := cursor.Offset + pageSize
	if end > len(f.feed) {
		end = len(f.feed)
	}
	page := f.feed[cursor.Offset:end]
	return page, form4.Cursor{Offset: end}, nil
}

func (f *fakeSource) ListEntityFilings(ctx context.Context, cik string, since time.Time, limit int) ([]form4.FilingMeta, bool, error) {
	f.listCalls++
	// Entries are newest first; seeing one older than since proves the
	// listing spans the whole window, matching the real client.
	covered := false
	var out []form4.FilingMeta
	for _, m := range f.entity[cik] {
		if !since.IsZero() && m.FilingDate.Before(since) {
			covered = true
			break
		}
		out = append(out, m)
	}
	return out, covered, nil
}

func (f *fakeSource) FetchFilingDocument(ctx context.Context, meta form4.FilingMeta) (form4.Document, error) {
	f.fetchCalls++
	if err := f.fetchErrs[meta.AccessionNumber]; err != nil {
		return form4.Document{}, err
	}
	return form4.Document{Meta: meta, XML: f.docs[meta.AccessionNumber]}, nil
}

func (f *fakeSource) LookupCIK(ctx context.Context, ticker string) (string, string, error) {
	cik, ok := f.cikByTick[ticker]
	if !ok {
		return "", "", fmt.Errorf("unknown ticker %q", ticker)
	}
	return cik, ticker + " Inc", nil
}

func simpleFilingXML(code string) []byte {
	return []byte(fmt.Sprintf(`<?xml version="1.0"?>
<ownershipDocument>
  <issuer><issuerTradingSymbol>ACME</issuerTradingSymbol></issuer>
  <reportingOwner>
    <reportingOwnerId><rptOwnerName>Doe Jane</rptOwnerName></reportingOwnerId>
    <reportingOwnerRelationship><isDirector>1</isDirector></reportingOwnerRelationship>
  </reportingOwner>
  <nonDerivativeTable>
    <nonDerivativeTransaction>
      <transactionDate><value>2026-08-10</value></transactionDate>
      <transactionCoding>
        <transactionFormType>4</transactionFormType>
        <transactionCode>%s</transactionCode>
      </transactionCoding>
      <transactionAmounts>
        <transactionShares><value>100</value></transactionShares>
        <transactionPricePerShare><value>10</value></transactionPricePerShare>
      </transactionAmounts>
    </nonDerivativeTransaction>
  </nonDerivativeTable>
</ownershipDocument>`, code))
}

func buildSource(n int) *fakeSource {
	src := &fakeSource{
		docs:      make(map[string][]byte),
		entity:    make(map[string][]form4.FilingMeta),
		cikByTick: make(map[string]string),
		fetchErrs: make(map[string]error),
	}
	base := time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		acc := fmt.Sprintf("acc-%03d", n-i) // newest first
		src.feed = append(src.feed, form4.FilingMeta{
			AccessionNumber: acc,
			FilingDate:      base.AddDate(0, 0, -i),
			IndexURL:        "http://example/" + acc,
		})
		src.docs[acc] = simpleFilingXML("P")
	}
	return src
}

// testClock pins syncs to a fixed date so window math never depends on the
// wall clock.
func testClock() time.Time {
	return time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
}

func newTestEngine(t *testing.T, src Source) *Engine {
	t.Helper()
	fs, err := store.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return New(src, fs, Options{PageSize: 10, Now: testClock})
}

// =============================================================================
// GLOBAL SYNC
// =============================================================================

func TestGlobalSyncReachesTarget(t *testing.T) {
	src := buildSource(50)
	e := newTestEngine(t, src)

	result, err := e.EnsureGlobalCoverage(context.Background(), 25, false)
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if result.State.FetchedFilingCount != 25 {
		t.Errorf("filing count: got %d, want 25", result.State.FetchedFilingCount)
	}
	if result.Report.FilingsFetched != 25 {
		t.Errorf("fetched: got %d, want 25", result.Report.FilingsFetched)
	}
	if result.Report.Partial {
		t.Error("complete sync flagged partial")
	}
}

func TestGlobalSyncIncrementalTopUp(t *testing.T) {
	src := buildSource(50)
	e := newTestEngine(t, src)
	ctx := context.Background()

	e.EnsureGlobalCoverage(ctx, 20, false)
	fetchesAfterFirst := src.fetchCalls

	// Raising the target only fetches the shortfall.
	result, err := e.EnsureGlobalCoverage(ctx, 30, false)
	if err != nil {
		t.Fatalf("second sync failed: %v", err)
	}
	if result.State.FetchedFilingCount != 30 {
		t.Errorf("filing count: got %d, want 30", result.State.FetchedFilingCount)
	}
	newFetches := src.fetchCalls - fetchesAfterFirst
	if result.Report.FilingsFetched+result.Report.FilingsSkipped == 0 {
		t.Error("second sync reported no work")
	}
	if newFetches > 10+1 {
		t.Errorf("top-up refetched too much: %d document fetches", newFetches)
	}
}

func TestGlobalSyncCacheHitMakesNoUpstreamCalls(t *testing.T) {
	src := buildSource(50)
	e := newTestEngine(t, src)
	ctx := context.Background()

	e.EnsureGlobalCoverage(ctx, 20, false)
	listBefore, fetchBefore := src.listCalls, src.fetchCalls

	result, err := e.EnsureGlobalCoverage(ctx, 10, false)
	if err != nil {
		t.Fatalf("cache hit errored: %v", err)
	}
	if src.listCalls != listBefore || src.fetchCalls != fetchBefore {
		t.Error("covered request still reached upstream")
	}
	if result.State.FetchedFilingCount != 20 {
		t.Errorf("snapshot count: got %d", result.State.FetchedFilingCount)
	}
}

func TestGlobalSyncForceRescansButDedups(t *testing.T) {
	src := buildSource(50)
	e := newTestEngine(t, src)
	ctx := context.Background()

	e.EnsureGlobalCoverage(ctx, 20, false)
	result, err := e.EnsureGlobalCoverage(ctx, 20, true)
	if err != nil {
		t.Fatalf("forced sync failed: %v", err)
	}
	if result.Report.FilingsSkipped != 20 {
		t.Errorf("force should skip all cached filings: skipped %d", result.Report.FilingsSkipped)
	}
	if result.Report.FilingsFetched != 0 {
		t.Errorf("force refetched unchanged filings: %d", result.Report.FilingsFetched)
	}
	if result.State.FetchedFilingCount != 20 {
		t.Errorf("count changed on a no-op force: %d", result.State.FetchedFilingCount)
	}
}

func TestGlobalSyncConsumesUnparseableFilings(t *testing.T) {
	src := buildSource(10)
	src.docs["acc-008"] = []byte("<html>not a filing</html>")
	e := newTestEngine(t, src)

	result, err := e.EnsureGlobalCoverage(context.Background(), 10, false)
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if result.Report.ParseFailures != 1 {
		t.Errorf("parse failures: got %d, want 1", result.Report.ParseFailures)
	}
	// The bad filing still counts as consumed so it is never refetched.
	if result.State.FetchedFilingCount != 10 {
		t.Errorf("filing count: got %d, want 10", result.State.FetchedFilingCount)
	}
	if !result.State.Accessions.Contains("acc-008") {
		t.Error("unparseable filing missing from the accession index")
	}
	if len(result.State.Transactions) != 9 {
		t.Errorf("transactions: got %d, want 9", len(result.State.Transactions))
	}
}

func TestGlobalSyncExhaustedFeedIsPartial(t *testing.T) {
	src := buildSource(5)
	e := newTestEngine(t, src)

	result, err := e.EnsureGlobalCoverage(context.Background(), 20, false)
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if !result.Report.Partial {
		t.Error("exhausted feed should flag the batch partial")
	}
	if result.State.FetchedFilingCount != 5 {
		t.Errorf("filing count: got %d, want 5", result.State.FetchedFilingCount)
	}
}

func TestGlobalSyncTransportFailureKeepsProgress(t *testing.T) {
	src := buildSource(30)
	src.fetchErrs["acc-015"] = &form4.TransportError{Op: "GET", URL: "http://example/acc-015", Err: fmt.Errorf("connection reset")}
	e := newTestEngine(t, src)
	ctx := context.Background()

	result, err := e.EnsureGlobalCoverage(ctx, 30, false)
	if err == nil {
		t.Fatal("expected a transport error")
	}
	if !result.Report.Partial {
		t.Error("failed batch should be partial")
	}
	got := result.State.FetchedFilingCount
	if got == 0 || got >= 30 {
		t.Errorf("expected partial progress, got %d filings", got)
	}

	// The failed filing was not consumed; a retry picks it up.
	delete(src.fetchErrs, "acc-015")
	result, err = e.EnsureGlobalCoverage(ctx, 30, false)
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if result.State.FetchedFilingCount != 30 {
		t.Errorf("retry did not complete: %d", result.State.FetchedFilingCount)
	}
}

func TestGlobalSyncPersistsAcrossEngines(t *testing.T) {
	src := buildSource(20)
	fs, _ := store.NewFileStore(t.TempDir())
	ctx := context.Background()

	e1 := New(src, fs, Options{PageSize: 10, Now: testClock})
	if _, err := e1.EnsureGlobalCoverage(ctx, 20, false); err != nil {
		t.Fatalf("first engine sync: %v", err)
	}
	fetchBefore := src.fetchCalls

	// A fresh engine over the same store resumes from persisted state.
	e2 := New(src, fs, Options{PageSize: 10, Now: testClock})
	result, err := e2.EnsureGlobalCoverage(ctx, 20, false)
	if err != nil {
		t.Fatalf("second engine sync: %v", err)
	}
	if src.fetchCalls != fetchBefore {
		t.Error("fresh engine refetched persisted filings")
	}
	if result.State.FetchedFilingCount != 20 {
		t.Errorf("persisted count: got %d", result.State.FetchedFilingCount)
	}
}

func TestResetGlobal(t *testing.T) {
	src := buildSource(20)
	e := newTestEngine(t, src)
	ctx := context.Background()

	e.EnsureGlobalCoverage(ctx, 10, false)
	if err := e.ResetGlobal(ctx); err != nil {
		t.Fatalf("reset failed: %v", err)
	}
	snap, err := e.GlobalSnapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot after reset: %v", err)
	}
	if snap.FetchedFilingCount != 0 || len(snap.Transactions) != 0 {
		t.Errorf("reset left state behind: %d filings", snap.FetchedFilingCount)
	}
}

func TestGlobalSyncCancellation(t *testing.T) {
	src := buildSource(30)
	e := newTestEngine(t, src)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result, err := e.EnsureGlobalCoverage(ctx, 30, false)
	if err == nil {
		t.Fatal("cancelled sync should error")
	}
	if !result.Report.Partial {
		t.Error("cancelled batch should be partial")
	}
}

// =============================================================================
// ENTITY SYNC
// =============================================================================

func buildEntitySource() *fakeSource {
	src := &fakeSource{
		docs:      make(map[string][]byte),
		entity:    make(map[string][]form4.FilingMeta),
		cikByTick: map[string]string{"ACME": "0000012345"},
		fetchErrs: make(map[string]error),
	}
	base := time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 6; i++ {
		acc := fmt.Sprintf("ent-%03d", 6-i)
		src.entity["0000012345"] = append(src.entity["0000012345"], form4.FilingMeta{
			AccessionNumber: acc,
			CIK:             "0000012345",
			FilingDate:      base.AddDate(0, 0, -i*10),
			IndexURL:        "http://example/" + acc,
		})
		src.docs[acc] = simpleFilingXML("S")
	}
	// An old filing far outside any tested window, so listings demonstrably
	// span the windows the tests request.
	src.entity["0000012345"] = append(src.entity["0000012345"], form4.FilingMeta{
		AccessionNumber: "ent-000",
		CIK:             "0000012345",
		FilingDate:      time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC),
		IndexURL:        "http://example/ent-000",
	})
	src.docs["ent-000"] = simpleFilingXML("S")
	return src
}

func TestEntitySyncResolvesAndBackfills(t *testing.T) {
	src := buildEntitySource()
	e := newTestEngine(t, src)

	result, err := e.EnsureEntityCoverage(context.Background(), "acme", Window{Days: 90})
	if err != nil {
		t.Fatalf("entity sync failed: %v", err)
	}
	st := result.State
	if st.CIK != "0000012345" {
		t.Errorf("cik not resolved: %q", st.CIK)
	}
	if st.Ticker != "ACME" {
		t.Errorf("ticker not normalized: %q", st.Ticker)
	}
	if result.Report.FilingsFetched == 0 {
		t.Error("backfill fetched nothing")
	}
	if st.Watermark.IsZero() || st.CoveredFrom.IsZero() {
		t.Error("watermark/coverage not recorded")
	}
}

func TestEntitySyncSecondRunOnlyFetchesNewFilings(t *testing.T) {
	src := buildEntitySource()
	e := newTestEngine(t, src)
	ctx := context.Background()

	first, err := e.EnsureEntityCoverage(ctx, "ACME", Window{Days: 90})
	if err != nil {
		t.Fatal(err)
	}
	fetchBefore := src.fetchCalls

	// One new filing lands upstream.
	newest := form4.FilingMeta{
		AccessionNumber: "ent-100",
		CIK:             "0000012345",
		FilingDate:      time.Date(2026, 8, 25, 0, 0, 0, 0, time.UTC),
		IndexURL:        "http://example/ent-100",
	}
	src.entity["0000012345"] = append([]form4.FilingMeta{newest}, src.entity["0000012345"]...)
	src.docs["ent-100"] = simpleFilingXML("P")

	second, err := e.EnsureEntityCoverage(ctx, "ACME", Window{Days: 90})
	if err != nil {
		t.Fatal(err)
	}
	if second.Report.FilingsFetched != 1 {
		t.Errorf("expected exactly the new filing fetched, got %d", second.Report.FilingsFetched)
	}
	if src.fetchCalls-fetchBefore != 1 {
		t.Errorf("document fetches on forward sync: got %d, want 1", src.fetchCalls-fetchBefore)
	}
	if len(second.State.Transactions) != len(first.State.Transactions)+1 {
		t.Errorf("transactions: got %d, want %d", len(second.State.Transactions), len(first.State.Transactions)+1)
	}
}

func TestEntitySyncHistoricalWindowBackfills(t *testing.T) {
	src := buildEntitySource()
	e := newTestEngine(t, src)
	ctx := context.Background()

	// Shallow sync first.
	if _, err := e.EnsureEntityCoverage(ctx, "ACME", Window{Days: 15}); err != nil {
		t.Fatal(err)
	}

	// A wider window must trigger a backfill, not a watermark shortcut.
	result, err := e.EnsureEntityCoverage(ctx, "ACME", Window{Days: 90})
	if err != nil {
		t.Fatal(err)
	}
	if result.Report.FilingsFetched == 0 {
		t.Error("wider window fetched no older filings")
	}
	want := e.windowStart(Window{Days: 90})
	if !result.State.Covers(want) {
		t.Errorf("coverage not extended to %s (covered from %s)", want, result.State.CoveredFrom)
	}
}

func TestEntitySyncsAreIndependentPerTicker(t *testing.T) {
	src := buildEntitySource()
	src.cikByTick["OTHR"] = "0000067890"
	base := time.Date(2026, 8, 18, 0, 0, 0, 0, time.UTC)
	src.entity["0000067890"] = []form4.FilingMeta{{
		AccessionNumber: "oth-001",
		CIK:             "0000067890",
		FilingDate:      base,
		IndexURL:        "http://example/oth-001",
	}}
	src.docs["oth-001"] = simpleFilingXML("P")

	e := newTestEngine(t, src)
	ctx := context.Background()

	a, err := e.EnsureEntityCoverage(ctx, "ACME", Window{Days: 90})
	if err != nil {
		t.Fatal(err)
	}
	b, err := e.EnsureEntityCoverage(ctx, "OTHR", Window{Days: 90})
	if err != nil {
		t.Fatal(err)
	}
	if a.State.Accessions.Contains("oth-001") || b.State.Accessions.Contains("ent-006") {
		t.Error("entity caches leaked into each other")
	}
}

func TestEntitySyncTruncatedListingIsPartial(t *testing.T) {
	// The listing holds nothing older than its last entry, so it cannot
	// prove it reaches the requested window start.
	src := buildEntitySource()
	src.cikByTick["TRNC"] = "0000055555"
	src.entity["0000055555"] = []form4.FilingMeta{
		{
			AccessionNumber: "trn-002",
			CIK:             "0000055555",
			FilingDate:      time.Date(2026, 8, 15, 0, 0, 0, 0, time.UTC),
			IndexURL:        "http://example/trn-002",
		},
		{
			AccessionNumber: "trn-001",
			CIK:             "0000055555",
			FilingDate:      time.Date(2026, 8, 5, 0, 0, 0, 0, time.UTC),
			IndexURL:        "http://example/trn-001",
		},
	}
	src.docs["trn-002"] = simpleFilingXML("S")
	src.docs["trn-001"] = simpleFilingXML("P")

	e := newTestEngine(t, src)
	result, err := e.EnsureEntityCoverage(context.Background(), "TRNC", Window{Days: 90})
	if err != nil {
		t.Fatalf("entity sync failed: %v", err)
	}
	if !result.Report.Partial {
		t.Error("possibly truncated listing should flag the batch partial")
	}
	if result.Report.FilingsFetched != 2 {
		t.Errorf("listed filings still merge: fetched %d, want 2", result.Report.FilingsFetched)
	}

	// Coverage stops at the oldest listed filing, never the window start.
	from := e.windowStart(Window{Days: 90})
	if result.State.Covers(from) {
		t.Errorf("coverage claimed down to %s despite truncation", from.Format("2006-01-02"))
	}
	oldest := time.Date(2026, 8, 5, 0, 0, 0, 0, time.UTC)
	if !result.State.CoveredFrom.Equal(oldest) {
		t.Errorf("covered from %s, want %s", result.State.CoveredFrom, oldest)
	}
}

func TestEntitySyncUnknownTicker(t *testing.T) {
	src := buildEntitySource()
	e := newTestEngine(t, src)

	if _, err := e.EnsureEntityCoverage(context.Background(), "NOPE", Window{Days: 30}); err == nil {
		t.Fatal("unknown ticker should fail")
	}
}
