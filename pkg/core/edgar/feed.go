package edgar

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"insidertrack/pkg/core/form4"
)

// =============================================================================
// MARKET-WIDE FILING FEED (newest-first, cursor-paginated)
// =============================================================================

type atomFeed struct {
	Entries []atomEntry `xml:"entry"`
}

type atomEntry struct {
	Title   string `xml:"title"`
	Updated string `xml:"updated"`
	ID      string `xml:"id"`
	Links   []struct {
		Rel  string `xml:"rel,attr"`
		Href string `xml:"href,attr"`
	} `xml:"link"`
}

var cikInTitle = regexp.MustCompile(`\((\d{10})\)`)

// ListRecentFilings returns one page of the market-wide Form 4 feed, newest
// first, plus the cursor for the following page. An empty page means the
// feed is exhausted from this cursor.
func (c *Client) ListRecentFilings(ctx context.Context, cursor form4.Cursor, pageSize int) ([]form4.FilingMeta, form4.Cursor, error) {
	if pageSize <= 0 {
		pageSize = 40
	}

	url := c.archiveBase + fmt.Sprintf(currentFeedPath, cursor.Offset, pageSize)
	body, err := c.get(ctx, url)
	if err != nil {
		return nil, cursor, err
	}

	// The feed declares ISO-8859-1; the fields we read are plain ASCII, so a
	// pass-through charset reader is enough.
	dec := xml.NewDecoder(bytes.NewReader(body))
	dec.CharsetReader = func(charset string, input io.Reader) (io.Reader, error) { return input, nil }

	var feed atomFeed
	if err := dec.Decode(&feed); err != nil {
		return nil, cursor, fmt.Errorf("failed to parse filing feed: %w", err)
	}

	metas := make([]form4.FilingMeta, 0, len(feed.Entries))
	for _, entry := range feed.Entries {
		meta, ok := c.entryToMeta(entry)
		if !ok {
			c.log.WithField("entry_id", entry.ID).Debug("skipping unparseable feed entry")
			continue
		}
		metas = append(metas, meta)
	}

	next := form4.Cursor{Offset: cursor.Offset + len(feed.Entries)}
	return metas, next, nil
}

func (c *Client) entryToMeta(entry atomEntry) (form4.FilingMeta, bool) {
	// Entry ids look like "urn:tag:sec.gov,2008:accession-number=0000320193-25-000071".
	idx := strings.LastIndex(entry.ID, "=")
	if idx < 0 || idx == len(entry.ID)-1 {
		return form4.FilingMeta{}, false
	}
	accession := entry.ID[idx+1:]

	var indexURL string
	for _, l := range entry.Links {
		if l.Rel == "alternate" || indexURL == "" {
			indexURL = l.Href
		}
	}
	if indexURL == "" {
		return form4.FilingMeta{}, false
	}

	meta := form4.FilingMeta{
		AccessionNumber: accession,
		CompanyName:     companyFromTitle(entry.Title),
		IndexURL:        indexURL,
	}
	if m := cikInTitle.FindStringSubmatch(entry.Title); m != nil {
		meta.CIK = m[1]
	}
	if t, err := time.Parse(time.RFC3339, entry.Updated); err == nil {
		meta.FilingDate = t.UTC().Truncate(24 * time.Hour)
	}
	return meta, true
}

// companyFromTitle extracts the issuer name from titles shaped like
// "4 - Apple Inc. (0000320193) (Issuer)".
func companyFromTitle(title string) string {
	s := title
	if i := strings.Index(s, " - "); i >= 0 {
		s = s[i+3:]
	}
	if i := strings.Index(s, " ("); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

// =============================================================================
// PER-COMPANY SUBMISSIONS
// =============================================================================

// submissionsResponse mirrors the SEC submissions API: filing attributes are
// parallel arrays indexed together.
type submissionsResponse struct {
	CIK     string   `json:"cik"`
	Name    string   `json:"name"`
	Tickers []string `json:"tickers"`
	Filings struct {
		Recent struct {
			AccessionNumber []string `json:"accessionNumber"`
			FilingDate      []string `json:"filingDate"`
			Form            []string `json:"form"`
			PrimaryDocument []string `json:"primaryDocument"`
		} `json:"recent"`
	} `json:"filings"`
}

// ListEntityFilings returns a company's Form 4 filings with filing date on or
// after `since` (all available when since is zero), newest first, capped at
// limit when limit > 0.
//
// The submissions endpoint only carries the most recent filings inline; older
// history lives in continuation documents this client does not follow. The
// covered result reports whether the inline listing demonstrably reaches past
// `since`: it is true only when an entry older than `since` was seen, so a
// false value means filings between `since` and the oldest listed entry may
// exist upstream.
func (c *Client) ListEntityFilings(ctx context.Context, cik string, since time.Time, limit int) (metas []form4.FilingMeta, covered bool, err error) {
	padded := fmt.Sprintf("%010s", strings.TrimLeft(cik, "0"))

	url := c.dataBase + fmt.Sprintf(submissionsPath, padded)
	body, err := c.get(ctx, url)
	if err != nil {
		return nil, false, err
	}

	var subs submissionsResponse
	if err := json.Unmarshal(body, &subs); err != nil {
		return nil, false, fmt.Errorf("failed to parse submissions for CIK %s: %w", cik, err)
	}

	recent := subs.Filings.Recent
	ticker := ""
	if len(subs.Tickers) > 0 {
		ticker = subs.Tickers[0]
	}

	for i := range recent.AccessionNumber {
		if i >= len(recent.Form) || i >= len(recent.FilingDate) {
			break
		}
		filed, perr := time.Parse("2006-01-02", recent.FilingDate[i])
		if perr != nil {
			continue
		}
		if !since.IsZero() && filed.Before(since) {
			// Arrays are newest-first across all form types; reaching an
			// older entry proves the listing spans the whole window.
			covered = true
			break
		}
		if recent.Form[i] != "4" {
			continue
		}

		accession := recent.AccessionNumber[i]
		metas = append(metas, form4.FilingMeta{
			AccessionNumber: accession,
			CIK:             padded,
			Ticker:          strings.ToUpper(ticker),
			CompanyName:     subs.Name,
			FilingDate:      filed,
			IndexURL:        c.filingIndexURL(padded, accession),
		})
		if limit > 0 && len(metas) >= limit {
			break
		}
	}
	return metas, covered, nil
}

func (c *Client) filingIndexURL(cik, accession string) string {
	short := strings.TrimLeft(cik, "0")
	clean := strings.ReplaceAll(accession, "-", "")
	return fmt.Sprintf("%s/Archives/edgar/data/%s/%s/%s-index.htm", c.archiveBase, short, clean, accession)
}
