package edgar

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"insidertrack/pkg/core/form4"
)

func testClient(archiveURL, dataURL string) *Client {
	return NewClient(Config{
		UserAgent:         "test/1.0 (test@example.com)",
		RequestsPerSecond: 1000,
		Burst:             1000,
		MaxRetries:        3,
		BackoffBase:       time.Millisecond,
		ArchiveBaseURL:    archiveURL,
		DataBaseURL:       dataURL,
	})
}

func TestGetRetriesThrottling(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	c := testClient(srv.URL, srv.URL)
	body, err := c.get(context.Background(), srv.URL+"/thing")
	if err != nil {
		t.Fatalf("get should succeed after retries: %v", err)
	}
	if string(body) != "ok" {
		t.Errorf("body: %q", body)
	}
	if atomic.LoadInt32(&calls) != 3 {
		t.Errorf("calls: got %d, want 3", calls)
	}
}

func TestGetGivesUpAfterMaxRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := testClient(srv.URL, srv.URL)
	_, err := c.get(context.Background(), srv.URL+"/thing")
	if _, ok := err.(*form4.ThrottledError); !ok {
		t.Fatalf("expected ThrottledError, got %v", err)
	}
}

func TestGetDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := testClient(srv.URL, srv.URL)
	if _, err := c.get(context.Background(), srv.URL+"/thing"); err == nil {
		t.Fatal("404 should error")
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("client error retried: %d calls", calls)
	}
}

func TestGetSetsUserAgent(t *testing.T) {
	var ua string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ua = r.Header.Get("User-Agent")
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	c := testClient(srv.URL, srv.URL)
	c.get(context.Background(), srv.URL+"/thing")
	if ua != "test/1.0 (test@example.com)" {
		t.Errorf("user agent: %q", ua)
	}
}

// =============================================================================
// FEED
// =============================================================================

const feedPage = `<?xml version="1.0" encoding="ISO-8859-1"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <entry>
    <title>4 - NVIDIA CORP (0001045810) (Issuer)</title>
    <link rel="alternate" type="text/html" href="https://www.sec.gov/Archives/edgar/data/1045810/000104581026000042/0001045810-26-000042-index.htm"/>
    <id>urn:tag:sec.gov,2008:accession-number=0001045810-26-000042</id>
    <updated>2026-08-28T17:02:41-04:00</updated>
  </entry>
  <entry>
    <title>4 - Apple Inc. (0000320193) (Issuer)</title>
    <link rel="alternate" type="text/html" href="https://www.sec.gov/Archives/edgar/data/320193/000032019326000071/0000320193-26-000071-index.htm"/>
    <id>urn:tag:sec.gov,2008:accession-number=0000320193-26-000071</id>
    <updated>2026-08-28T16:55:02-04:00</updated>
  </entry>
</feed>`

func TestListRecentFilings(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.String()
		w.Write([]byte(feedPage))
	}))
	defer srv.Close()

	c := testClient(srv.URL, srv.URL)
	metas, next, err := c.ListRecentFilings(context.Background(), form4.Cursor{Offset: 40}, 40)
	if err != nil {
		t.Fatalf("ListRecentFilings: %v", err)
	}
	if len(metas) != 2 {
		t.Fatalf("entries: got %d, want 2", len(metas))
	}

	first := metas[0]
	if first.AccessionNumber != "0001045810-26-000042" {
		t.Errorf("accession: %q", first.AccessionNumber)
	}
	if first.CIK != "0001045810" {
		t.Errorf("cik: %q", first.CIK)
	}
	if first.CompanyName != "NVIDIA CORP" {
		t.Errorf("company: %q", first.CompanyName)
	}
	if first.IndexURL == "" {
		t.Error("index url missing")
	}
	if next.Offset != 42 {
		t.Errorf("next cursor: got %d, want 42", next.Offset)
	}
	if gotPath == "" || gotPath[:21] != "/cgi-bin/browse-edgar" {
		t.Errorf("request path: %q", gotPath)
	}
}

func TestListRecentFilingsEmptyFeed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<?xml version="1.0"?><feed xmlns="http://www.w3.org/2005/Atom"></feed>`))
	}))
	defer srv.Close()

	c := testClient(srv.URL, srv.URL)
	metas, _, err := c.ListRecentFilings(context.Background(), form4.Cursor{}, 40)
	if err != nil {
		t.Fatalf("empty feed should not error: %v", err)
	}
	if len(metas) != 0 {
		t.Errorf("entries: got %d, want 0", len(metas))
	}
}

// =============================================================================
// SUBMISSIONS
// =============================================================================

func TestListEntityFilings(t *testing.T) {
	body := `{
		"cik": "1045810",
		"name": "NVIDIA CORP",
		"tickers": ["NVDA"],
		"filings": {"recent": {
			"accessionNumber": ["0001045810-26-000042", "0001045810-26-000030", "0001045810-26-000011"],
			"filingDate": ["2026-08-20", "2026-07-01", "2026-02-01"],
			"form": ["4", "10-Q", "4"],
			"primaryDocument": ["form4.xml", "nvda-10q.htm", "form4.xml"]
		}}
	}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body))
	}))
	defer srv.Close()

	c := testClient(srv.URL, srv.URL)
	since := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	metas, covered, err := c.ListEntityFilings(context.Background(), "1045810", since, 0)
	if err != nil {
		t.Fatalf("ListEntityFilings: %v", err)
	}
	// Only the Form 4 inside the window: the 10-Q is filtered and the
	// February filing is older than since.
	if len(metas) != 1 {
		t.Fatalf("filings: got %d, want 1", len(metas))
	}
	// The February entry proves the listing spans the whole window.
	if !covered {
		t.Error("listing reaching past since should report covered")
	}
	m := metas[0]
	if m.AccessionNumber != "0001045810-26-000042" {
		t.Errorf("accession: %q", m.AccessionNumber)
	}
	if m.Ticker != "NVDA" || m.CompanyName != "NVIDIA CORP" {
		t.Errorf("identity: %q %q", m.Ticker, m.CompanyName)
	}
	wantIdx := srv.URL + "/Archives/edgar/data/1045810/000104581026000042/0001045810-26-000042-index.htm"
	if m.IndexURL != wantIdx {
		t.Errorf("index url:\n got %s\nwant %s", m.IndexURL, wantIdx)
	}

	// A window older than everything listed cannot be proven covered: the
	// submissions endpoint truncates older history into files this client
	// does not follow.
	earlier := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	metas, covered, err = c.ListEntityFilings(context.Background(), "1045810", earlier, 0)
	if err != nil {
		t.Fatalf("ListEntityFilings: %v", err)
	}
	if len(metas) != 2 {
		t.Fatalf("filings: got %d, want 2", len(metas))
	}
	if covered {
		t.Error("truncated listing must not claim coverage")
	}
}

// =============================================================================
// DOCUMENT DISCOVERY
// =============================================================================

func TestFetchFilingDocumentFindsPrimaryXML(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	indexHTML := `<html><body><table>
		<tr><td><a href="/Archives/edgar/data/1/xslF345X05/form4.xml">rendered</a></td></tr>
		<tr><td><a href="/Archives/edgar/data/1/form4.xml">form4.xml</a></td></tr>
		<tr><td><a href="/Archives/edgar/data/1/exhibit.txt">exhibit</a></td></tr>
	</table></body></html>`
	mux.HandleFunc("/Archives/edgar/data/1/idx-index.htm", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(indexHTML))
	})
	mux.HandleFunc("/Archives/edgar/data/1/form4.xml", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<ownershipDocument></ownershipDocument>"))
	})

	c := testClient(srv.URL, srv.URL)
	meta := form4.FilingMeta{
		AccessionNumber: "acc-1",
		IndexURL:        srv.URL + "/Archives/edgar/data/1/idx-index.htm",
	}
	doc, err := c.FetchFilingDocument(context.Background(), meta)
	if err != nil {
		t.Fatalf("FetchFilingDocument: %v", err)
	}
	if string(doc.XML) != "<ownershipDocument></ownershipDocument>" {
		t.Errorf("wrong document fetched: %q", doc.XML)
	}
}

func TestFetchFilingDocumentNoXMLListed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body><a href="doc.txt">txt only</a></body></html>`))
	}))
	defer srv.Close()

	c := testClient(srv.URL, srv.URL)
	meta := form4.FilingMeta{AccessionNumber: "acc-1", IndexURL: srv.URL + "/idx"}
	_, err := c.FetchFilingDocument(context.Background(), meta)
	if _, ok := err.(*form4.MalformedDocumentError); !ok {
		t.Fatalf("expected MalformedDocumentError, got %v", err)
	}
}

// =============================================================================
// TICKER LOOKUP
// =============================================================================

func TestLookupCIKCachesFile(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		fmt.Fprint(w, `{
			"0": {"cik_str": 1045810, "ticker": "NVDA", "title": "NVIDIA CORP"},
			"1": {"cik_str": 320193, "ticker": "AAPL", "title": "Apple Inc."}
		}`)
	}))
	defer srv.Close()

	c := testClient(srv.URL, srv.URL)
	ctx := context.Background()

	cik, name, err := c.LookupCIK(ctx, "nvda")
	if err != nil {
		t.Fatalf("LookupCIK: %v", err)
	}
	if cik != "0001045810" {
		t.Errorf("cik not zero-padded: %q", cik)
	}
	if name != "NVIDIA CORP" {
		t.Errorf("name: %q", name)
	}

	// Second lookup hits the in-memory cache.
	if _, _, err := c.LookupCIK(ctx, "AAPL"); err != nil {
		t.Fatalf("cached lookup: %v", err)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("ticker file fetched %d times, want 1", calls)
	}

	if _, _, err := c.LookupCIK(ctx, "ZZZZ"); err == nil {
		t.Error("unknown ticker should fail")
	}
}
