// Package render formats query results for humans: compact dollar amounts,
// abbreviated insider roles, and markdown/HTML activity reports.
package render

import (
	"strings"

	"github.com/shopspring/decimal"
)

var (
	billion  = decimal.New(1, 9)
	million  = decimal.New(1, 6)
	thousand = decimal.New(1, 3)
)

// FormatAmount renders a dollar amount compactly: $1.25B, $430.0M, $85.2K,
// $950. Negative amounts keep their sign in front of the dollar.
func FormatAmount(d decimal.Decimal) string {
	sign := ""
	if d.IsNegative() {
		sign = "-"
		d = d.Abs()
	}
	switch {
	case d.GreaterThanOrEqual(billion):
		return sign + "$" + d.Div(billion).StringFixed(2) + "B"
	case d.GreaterThanOrEqual(million):
		return sign + "$" + d.Div(million).StringFixed(1) + "M"
	case d.GreaterThanOrEqual(thousand):
		return sign + "$" + d.Div(thousand).StringFixed(1) + "K"
	default:
		return sign + "$" + d.StringFixed(0)
	}
}

// roleAbbreviations maps the long officer titles filings carry to the short
// forms used in report tables. Matching is case-insensitive on substrings,
// most specific first.
var roleAbbreviations = []struct {
	match string
	abbr  string
}{
	{"chief executive officer", "CEO"},
	{"chief financial officer", "CFO"},
	{"chief operating officer", "COO"},
	{"chief technology officer", "CTO"},
	{"chief accounting officer", "CAO"},
	{"chief legal officer", "CLO"},
	{"general counsel", "GC"},
	{"executive vice president", "EVP"},
	{"senior vice president", "SVP"},
	{"vice president", "VP"},
	{"president", "Pres"},
	{"10% owner", "10%"},
	{"director", "Dir"},
	{"treasurer", "Treas"},
	{"secretary", "Sec"},
}

// AbbreviateRole shortens one role string. Unrecognized roles pass through
// unchanged.
func AbbreviateRole(role string) string {
	lower := strings.ToLower(role)
	for _, r := range roleAbbreviations {
		if strings.Contains(lower, r.match) {
			return r.abbr
		}
	}
	return role
}

// AbbreviateRoles shortens and joins a role list: "CEO/Dir".
func AbbreviateRoles(roles []string) string {
	if len(roles) == 0 {
		return "-"
	}
	out := make([]string, 0, len(roles))
	seen := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		a := AbbreviateRole(r)
		if _, ok := seen[a]; ok {
			continue
		}
		seen[a] = struct{}{}
		out = append(out, a)
	}
	return strings.Join(out, "/")
}
