package render

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"insidertrack/pkg/core/query"
)

// MarketReport renders the aggregated market rows as a markdown table.
func MarketReport(rows []query.EntityActivity, generatedAt time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Insider Activity — Market\n\n")
	fmt.Fprintf(&b, "Generated %s\n\n", generatedAt.UTC().Format("2006-01-02 15:04 MST"))

	if len(rows) == 0 {
		b.WriteString("No insider activity matched the query.\n")
		return b.String()
	}

	b.WriteString("| Ticker | Company | Net | Buys | Sells | Txns | Insiders | Trend |\n")
	b.WriteString("|--------|---------|-----|------|-------|------|----------|-------|\n")
	for _, a := range rows {
		fmt.Fprintf(&b, "| %s | %s | %s | %s | %s | %d | %d | %s |\n",
			orDash(a.Ticker),
			orDash(a.CompanyName),
			FormatAmount(a.Net),
			FormatAmount(a.TotalBuys.Add(a.TotalGrants)),
			FormatAmount(a.TotalSells),
			a.TxnCount,
			len(a.Owners),
			a.Trend,
		)
	}
	return b.String()
}

// EntityReport renders one company's report: the aggregate line, the
// per-insider table, and the most recent transactions.
func EntityReport(rep query.EntityReport, generatedAt time.Time) string {
	var b strings.Builder
	a := rep.Activity

	fmt.Fprintf(&b, "# %s (%s) — Insider Activity\n\n", orDash(a.CompanyName), orDash(a.Ticker))
	fmt.Fprintf(&b, "Generated %s", generatedAt.UTC().Format("2006-01-02 15:04 MST"))
	if !rep.SyncedAt.IsZero() {
		fmt.Fprintf(&b, " · synced %s", rep.SyncedAt.UTC().Format("2006-01-02 15:04 MST"))
	}
	b.WriteString("\n\n")

	fmt.Fprintf(&b, "**Net flow:** %s (%s) · buys %s · sells %s · %d transactions\n\n",
		FormatAmount(a.Net), a.Trend,
		FormatAmount(a.TotalBuys.Add(a.TotalGrants)),
		FormatAmount(a.TotalSells),
		a.TxnCount,
	)

	if len(rep.Insiders) > 0 {
		b.WriteString("## Insiders\n\n")
		b.WriteString("| Insider | Roles | Net | Buys | Sells | Txns | Last |\n")
		b.WriteString("|---------|-------|-----|------|-------|------|------|\n")
		for _, ins := range rep.Insiders {
			fmt.Fprintf(&b, "| %s | %s | %s | %d | %d | %d | %s |\n",
				orDash(ins.OwnerName),
				AbbreviateRoles(ins.Roles),
				FormatAmount(ins.Net),
				ins.BuyCount,
				ins.SellCount,
				ins.TxnCount,
				dateOrDash(ins.LastDate),
			)
		}
		b.WriteString("\n")
	}

	if len(rep.Transactions) > 0 {
		b.WriteString("## Recent Transactions\n\n")
		b.WriteString("| Date | Insider | Type | Shares | Price | Amount | Plan |\n")
		b.WriteString("|------|---------|------|--------|-------|--------|------|\n")
		limit := len(rep.Transactions)
		if limit > 50 {
			limit = 50
		}
		for _, t := range rep.Transactions[:limit] {
			amount := "-"
			if t.Amount.Valid {
				amount = FormatAmount(t.Amount.Decimal)
			}
			plan := ""
			if t.Planned {
				plan = "10b5-1"
			}
			fmt.Fprintf(&b, "| %s | %s | %s | %s | %s | %s | %s |\n",
				dateOrDash(t.TransactionDate),
				orDash(t.OwnerName),
				t.Type,
				t.Shares.StringFixed(0),
				"$"+t.Price.StringFixed(2),
				amount,
				plan,
			)
		}
	}
	return b.String()
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

func dateOrDash(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format("2006-01-02")
}

var markdown = goldmark.New(goldmark.WithExtensions(extension.Table))

// ToHTML converts a markdown report to an HTML fragment.
func ToHTML(md string) (string, error) {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(md), &buf); err != nil {
		return "", fmt.Errorf("failed to render report: %w", err)
	}
	return buf.String(), nil
}
