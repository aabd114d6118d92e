package edgar

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

type tickerEntry struct {
	CIK    int    `json:"cik_str"`
	Ticker string `json:"ticker"`
	Title  string `json:"title"`
}

// LookupCIK resolves a ticker symbol to its zero-padded 10-digit CIK and
// registrant name. The company tickers file is fetched once and cached for
// the lifetime of the client.
func (c *Client) LookupCIK(ctx context.Context, ticker string) (cik, name string, err error) {
	key := strings.ToUpper(strings.TrimSpace(ticker))
	if key == "" {
		return "", "", fmt.Errorf("empty ticker")
	}

	c.tickerMu.RLock()
	cached := c.tickerCache
	c.tickerMu.RUnlock()

	if cached == nil {
		cached, err = c.loadTickerCache(ctx)
		if err != nil {
			return "", "", err
		}
	}

	info, ok := cached[key]
	if !ok {
		return "", "", fmt.Errorf("unknown ticker %q", ticker)
	}
	return info.CIK, info.Name, nil
}

func (c *Client) loadTickerCache(ctx context.Context) (map[string]tickerInfo, error) {
	c.tickerMu.Lock()
	defer c.tickerMu.Unlock()
	if c.tickerCache != nil {
		return c.tickerCache, nil
	}

	body, err := c.get(ctx, c.archiveBase+companyTickerPath)
	if err != nil {
		return nil, err
	}

	// The file is an object keyed by row index, not an array.
	var rows map[string]tickerEntry
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("failed to parse company tickers: %w", err)
	}

	cache := make(map[string]tickerInfo, len(rows))
	for _, row := range rows {
		t := strings.ToUpper(row.Ticker)
		if t == "" {
			continue
		}
		cache[t] = tickerInfo{
			CIK:  fmt.Sprintf("%010d", row.CIK),
			Name: row.Title,
		}
	}

	c.tickerCache = cache
	c.log.WithField("tickers", len(cache)).Debug("loaded company ticker map")
	return cache, nil
}
