package config

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/hjson/hjson-go/v4"
)

// WatchEntry is one tracked company.
type WatchEntry struct {
	Ticker string `json:"ticker"`
	// Note is a free-form annotation shown in reports ("added after CEO
	// change"). Optional.
	Note string `json:"note"`
}

// Watchlist is the set of companies the tracker follows.
type Watchlist struct {
	Entries []WatchEntry `json:"entries"`
}

// Tickers returns the watched tickers, uppercased, deduplicated, sorted.
func (w Watchlist) Tickers() []string {
	seen := make(map[string]struct{}, len(w.Entries))
	out := make([]string, 0, len(w.Entries))
	for _, e := range w.Entries {
		t := strings.ToUpper(strings.TrimSpace(e.Ticker))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// LoadWatchlist parses the HJSON watchlist file. The format tolerates
// comments and trailing commas, which is why it is used for a hand-edited
// file. A list of bare ticker strings also works.
func LoadWatchlist(path string) (Watchlist, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Watchlist{}, fmt.Errorf("failed to read watchlist %s: %w", path, err)
	}

	var wl Watchlist
	if err := hjson.Unmarshal(data, &wl); err == nil && len(wl.Entries) > 0 {
		return wl, nil
	}

	// Fallback shape: ["NVDA", "AAPL", ...]
	var tickers []string
	if err := hjson.Unmarshal(data, &tickers); err != nil {
		return Watchlist{}, fmt.Errorf("failed to parse watchlist %s: %w", path, err)
	}
	for _, t := range tickers {
		wl.Entries = append(wl.Entries, WatchEntry{Ticker: t})
	}
	return wl, nil
}
