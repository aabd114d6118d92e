// Package query filters and aggregates cached insider transactions. All
// operations are pure functions over immutable snapshots; nothing here ever
// reaches upstream.
package query

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"insidertrack/pkg/core/cache"
	"insidertrack/pkg/core/form4"
)

// SortMode orders aggregated entity rows.
type SortMode string

const (
	// SortByNet orders by absolute net dollar flow, largest first.
	SortByNet SortMode = "net"
	// SortByActivity orders by transaction count, busiest first.
	SortByActivity SortMode = "activity"
)

// AmountSign selects which side of the flow a minimum-amount filter tests.
// Leaving it unset tests the absolute net flow, either direction.
type AmountSign string

const (
	SignBuy  AmountSign = "buy"
	SignSell AmountSign = "sell"
	SignNet  AmountSign = "net"
)

// MinAmount drops entities whose aggregated flow on the selected side is
// below the threshold.
type MinAmount struct {
	Threshold decimal.Decimal
	Sign      AmountSign
}

// Options bounds and shapes a query. The zero value keeps everything and
// sorts by net flow.
type Options struct {
	HidePlanned bool // drop 10b5-1 trading-plan transactions

	// Date window on the transaction date (filing date for undated items).
	// WithinDays is a rolling lookback; Start/End take precedence when set.
	Start      time.Time
	End        time.Time
	WithinDays int

	MinAmount *MinAmount
	Sort      SortMode
	Limit     int
}

func (o Options) window(now time.Time) (start, end time.Time) {
	start, end = o.Start, o.End
	if start.IsZero() && o.WithinDays > 0 {
		start = now.UTC().Add(-time.Duration(o.WithinDays) * 24 * time.Hour).Truncate(24 * time.Hour)
	}
	return start, end
}

// eventDate is the date a transaction is filtered and trended on.
func eventDate(t form4.Transaction) time.Time {
	if !t.TransactionDate.IsZero() {
		return t.TransactionDate
	}
	return t.FilingDate
}

// Filter returns the transactions passing the planned and date-window
// criteria, preserving input order. now anchors rolling windows.
func Filter(txns []form4.Transaction, opts Options, now time.Time) []form4.Transaction {
	start, end := opts.window(now)

	out := make([]form4.Transaction, 0, len(txns))
	for _, t := range txns {
		if opts.HidePlanned && t.Planned {
			continue
		}
		d := eventDate(t)
		if !start.IsZero() && d.Before(start) {
			continue
		}
		if !end.IsZero() && d.After(end) {
			continue
		}
		out = append(out, t)
	}
	return out
}

// EntityActivity is one company's aggregated insider flow.
//
// Buys and grants flow in, sells flow out; line items classified as other
// (exercises without clear direction, dispositions to trusts) are counted
// but excluded from the dollar totals. Transactions without a reported
// price contribute to counts only.
type EntityActivity struct {
	Ticker      string `json:"ticker"`
	CIK         string `json:"cik,omitempty"`
	CompanyName string `json:"company_name"`

	TotalBuys   decimal.Decimal `json:"total_buys"`
	TotalSells  decimal.Decimal `json:"total_sells"`
	TotalGrants decimal.Decimal `json:"total_grants"`
	Net         decimal.Decimal `json:"net"`

	BuyCount  int `json:"buy_count"`
	SellCount int `json:"sell_count"`
	TxnCount  int `json:"txn_count"`

	Owners []string `json:"owners"`
	Roles  []string `json:"roles"`

	EarliestDate time.Time `json:"earliest_date"`
	LatestDate   time.Time `json:"latest_date"`

	Trend string `json:"trend"`
}

// Trend labels.
const (
	TrendBuying     = "buying"
	TrendSelling    = "selling"
	TrendNetBuying  = "net buying"
	TrendNetSelling = "net selling"
	TrendMixed      = "mixed"
	TrendQuiet      = "quiet"
)

// Aggregate folds transactions into per-entity activity rows, keyed by
// ticker (CIK when the ticker is unknown). Output order is unspecified;
// apply a sort before presenting.
func Aggregate(txns []form4.Transaction) []EntityActivity {
	type bucket struct {
		activity EntityActivity
		owners   map[string]struct{}
		roles    map[string]struct{}
	}

	buckets := make(map[string]*bucket)
	var order []string

	for _, t := range txns {
		key := t.Ticker
		if key == "" {
			key = t.CIK
		}
		b, ok := buckets[key]
		if !ok {
			b = &bucket{
				activity: EntityActivity{
					Ticker:      t.Ticker,
					CIK:         t.CIK,
					CompanyName: t.CompanyName,
				},
				owners: make(map[string]struct{}),
				roles:  make(map[string]struct{}),
			}
			buckets[key] = b
			order = append(order, key)
		}

		a := &b.activity
		if a.CompanyName == "" {
			a.CompanyName = t.CompanyName
		}
		a.TxnCount++
		if t.OwnerName != "" {
			b.owners[t.OwnerName] = struct{}{}
		}
		for _, r := range t.Roles {
			b.roles[r] = struct{}{}
		}

		d := eventDate(t)
		if a.EarliestDate.IsZero() || d.Before(a.EarliestDate) {
			a.EarliestDate = d
		}
		if d.After(a.LatestDate) {
			a.LatestDate = d
		}

		amount := decimal.Zero
		if t.Amount.Valid {
			amount = t.Amount.Decimal
		}
		switch t.Type {
		case form4.TypeBuy:
			a.BuyCount++
			a.TotalBuys = a.TotalBuys.Add(amount)
		case form4.TypeSell:
			a.SellCount++
			a.TotalSells = a.TotalSells.Add(amount)
		case form4.TypeGrant:
			a.TotalGrants = a.TotalGrants.Add(amount)
		}
	}

	out := make([]EntityActivity, 0, len(buckets))
	for _, key := range order {
		b := buckets[key]
		a := b.activity
		a.Net = a.TotalBuys.Add(a.TotalGrants).Sub(a.TotalSells)
		a.Owners = sortedKeys(b.owners)
		a.Roles = sortedKeys(b.roles)
		a.Trend = classifyTrend(a)
		out = append(out, a)
	}
	return out
}

func classifyTrend(a EntityActivity) string {
	inflow := a.TotalBuys.Add(a.TotalGrants)
	hasIn := inflow.IsPositive() || a.BuyCount > 0
	hasOut := a.TotalSells.IsPositive() || a.SellCount > 0
	switch {
	case !hasIn && !hasOut:
		return TrendQuiet
	case hasIn && !hasOut:
		return TrendBuying
	case hasOut && !hasIn:
		return TrendSelling
	case a.Net.IsPositive():
		return TrendNetBuying
	case a.Net.IsNegative():
		return TrendNetSelling
	default:
		return TrendMixed
	}
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ApplyMinAmount keeps entities whose aggregated flow on the selected side
// meets the threshold: open-market buys for SignBuy, sells for SignSell, and
// the absolute net flow when the sign is SignNet or unset.
func ApplyMinAmount(rows []EntityActivity, min *MinAmount) []EntityActivity {
	if min == nil {
		return rows
	}
	out := rows[:0:0]
	for _, a := range rows {
		var flow decimal.Decimal
		switch min.Sign {
		case SignBuy:
			flow = a.TotalBuys
		case SignSell:
			flow = a.TotalSells
		default:
			flow = a.Net.Abs()
		}
		if flow.GreaterThanOrEqual(min.Threshold) {
			out = append(out, a)
		}
	}
	return out
}

// Sort orders entity rows by the given mode. Ties break on ticker ascending
// so equal rows always present in the same order.
func Sort(rows []EntityActivity, mode SortMode) {
	less := func(i, j int) bool {
		a, b := rows[i], rows[j]
		switch mode {
		case SortByActivity:
			if a.TxnCount != b.TxnCount {
				return a.TxnCount > b.TxnCount
			}
		default:
			an, bn := a.Net.Abs(), b.Net.Abs()
			if !an.Equal(bn) {
				return an.GreaterThan(bn)
			}
		}
		return strings.Compare(a.Ticker, b.Ticker) < 0
	}
	sort.SliceStable(rows, less)
}

// QueryGlobal answers a market-wide query against a global snapshot.
func QueryGlobal(state *cache.GlobalState, opts Options, now time.Time) []EntityActivity {
	if state == nil {
		return nil
	}
	rows := Aggregate(Filter(state.Transactions, opts, now))
	rows = ApplyMinAmount(rows, opts.MinAmount)
	Sort(rows, opts.Sort)
	if opts.Limit > 0 && len(rows) > opts.Limit {
		rows = rows[:opts.Limit]
	}
	return rows
}
