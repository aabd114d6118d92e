package query

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"insidertrack/pkg/core/cache"
	"insidertrack/pkg/core/form4"
)

// InsiderActivity is one reporting person's aggregated flow within a single
// company.
type InsiderActivity struct {
	OwnerName string   `json:"owner_name"`
	Roles     []string `json:"roles"`

	TotalBuys  decimal.Decimal `json:"total_buys"`
	TotalSells decimal.Decimal `json:"total_sells"`
	Net        decimal.Decimal `json:"net"`

	BuyCount  int       `json:"buy_count"`
	SellCount int       `json:"sell_count"`
	TxnCount  int       `json:"txn_count"`
	LastDate  time.Time `json:"last_date"`
}

// EntityReport is the full per-company answer: the aggregate row, the
// per-insider breakdown, and the filtered transactions backing both.
type EntityReport struct {
	Activity     EntityActivity      `json:"activity"`
	Insiders     []InsiderActivity   `json:"insiders"`
	Transactions []form4.Transaction `json:"transactions"`
	SyncedAt     time.Time           `json:"synced_at"`
	CoveredFrom  time.Time           `json:"covered_from,omitempty"`
}

// GroupByInsider folds transactions into per-owner rows, ordered by absolute
// net flow descending with owner name as tiebreak.
func GroupByInsider(txns []form4.Transaction) []InsiderActivity {
	type bucket struct {
		activity InsiderActivity
		roles    map[string]struct{}
	}

	buckets := make(map[string]*bucket)
	var order []string

	for _, t := range txns {
		b, ok := buckets[t.OwnerName]
		if !ok {
			b = &bucket{
				activity: InsiderActivity{OwnerName: t.OwnerName},
				roles:    make(map[string]struct{}),
			}
			buckets[t.OwnerName] = b
			order = append(order, t.OwnerName)
		}

		a := &b.activity
		for _, r := range t.Roles {
			b.roles[r] = struct{}{}
		}
		a.TxnCount++
		if d := eventDate(t); d.After(a.LastDate) {
			a.LastDate = d
		}

		amount := decimal.Zero
		if t.Amount.Valid {
			amount = t.Amount.Decimal
		}
		switch t.Type {
		case form4.TypeBuy, form4.TypeGrant:
			if t.Type == form4.TypeBuy {
				a.BuyCount++
			}
			a.TotalBuys = a.TotalBuys.Add(amount)
		case form4.TypeSell:
			a.SellCount++
			a.TotalSells = a.TotalSells.Add(amount)
		}
	}

	out := make([]InsiderActivity, 0, len(buckets))
	for _, name := range order {
		b := buckets[name]
		a := b.activity
		a.Net = a.TotalBuys.Sub(a.TotalSells)
		a.Roles = sortedKeys(b.roles)
		out = append(out, a)
	}

	sort.SliceStable(out, func(i, j int) bool {
		an, bn := out[i].Net.Abs(), out[j].Net.Abs()
		if !an.Equal(bn) {
			return an.GreaterThan(bn)
		}
		return out[i].OwnerName < out[j].OwnerName
	})
	return out
}

// QueryEntity answers a per-company query against an entity snapshot.
func QueryEntity(state *cache.EntityState, opts Options, now time.Time) EntityReport {
	if state == nil {
		return EntityReport{}
	}

	txns := Filter(state.Transactions, opts, now)
	rows := Aggregate(txns)

	report := EntityReport{
		Insiders:     GroupByInsider(txns),
		Transactions: txns,
		SyncedAt:     state.LastSyncedAt,
		CoveredFrom:  state.CoveredFrom,
	}
	if len(rows) > 0 {
		report.Activity = rows[0]
	} else {
		report.Activity = EntityActivity{
			Ticker:      state.Ticker,
			CIK:         state.CIK,
			CompanyName: state.CompanyName,
			Trend:       TrendQuiet,
		}
	}
	return report
}
