package form4

import (
	"bytes"
	"encoding/xml"
	"io"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Parser converts raw ownership documents into Transactions.
// It is stateless and safe for concurrent use.
type Parser struct{}

// NewParser creates a new Form 4 parser.
func NewParser() *Parser {
	return &Parser{}
}

// =============================================================================
// OWNERSHIP DOCUMENT XML SHAPE
// =============================================================================

type ownershipDocument struct {
	XMLName xml.Name `xml:"ownershipDocument"`
	Issuer  struct {
		CIK    string `xml:"issuerCik"`
		Name   string `xml:"issuerName"`
		Symbol string `xml:"issuerTradingSymbol"`
	} `xml:"issuer"`
	Owners        []reportingOwner `xml:"reportingOwner"`
	NonDerivative struct {
		Transactions []nonDerivativeTxn `xml:"nonDerivativeTransaction"`
	} `xml:"nonDerivativeTable"`
	Derivative struct {
		Transactions []derivativeTxn `xml:"derivativeTransaction"`
	} `xml:"derivativeTable"`
}

type reportingOwner struct {
	ID struct {
		Name string `xml:"rptOwnerName"`
	} `xml:"reportingOwnerId"`
	Relationship struct {
		IsDirector        string `xml:"isDirector"`
		IsOfficer         string `xml:"isOfficer"`
		IsTenPercentOwner string `xml:"isTenPercentOwner"`
		IsOther           string `xml:"isOther"`
		OfficerTitle      string `xml:"officerTitle"`
	} `xml:"reportingOwnerRelationship"`
}

type valueElem struct {
	Value string `xml:"value"`
}

type transactionCoding struct {
	FormType string `xml:"transactionFormType"`
	Code     string `xml:"transactionCode"`
}

type nonDerivativeTxn struct {
	Date    valueElem         `xml:"transactionDate"`
	Coding  transactionCoding `xml:"transactionCoding"`
	Amounts struct {
		Shares valueElem `xml:"transactionShares"`
		Price  valueElem `xml:"transactionPricePerShare"`
	} `xml:"transactionAmounts"`
	Raw []byte `xml:",innerxml"`
}

type derivativeTxn struct {
	Date          valueElem         `xml:"transactionDate"`
	Coding        transactionCoding `xml:"transactionCoding"`
	ExercisePrice valueElem         `xml:"conversionOrExercisePrice"`
	Amounts       struct {
		Price valueElem `xml:"transactionPricePerShare"`
	} `xml:"transactionAmounts"`
	Underlying struct {
		Shares valueElem `xml:"underlyingSecurityShares"`
	} `xml:"underlyingSecurity"`
	Raw []byte `xml:",innerxml"`
}

// =============================================================================
// PARSING
// =============================================================================

var duplicateXMLDecl = regexp.MustCompile(`(?s)<\?xml[^>]*\?>\s*<\?xml[^>]*\?>`)

// Parse extracts all transactions from one filing document. A document that
// cannot be decoded yields a MalformedDocumentError; a valid document with no
// reportable line items yields an empty slice and no error.
func (p *Parser) Parse(doc *Document) ([]Transaction, error) {
	if doc == nil || len(doc.XML) == 0 {
		return nil, &MalformedDocumentError{AccessionNumber: accessionOf(doc), Reason: "empty document"}
	}

	// SEC filings occasionally ship a duplicated XML declaration or stray
	// HTML entities; clean those up before decoding, as the EDGAR viewer does.
	raw := duplicateXMLDecl.ReplaceAll(doc.XML, []byte(`<?xml version="1.0"?>`))
	raw = bytes.ReplaceAll(raw, []byte("&nbsp;"), []byte(" "))

	// Some filings declare non-UTF-8 charsets; the fields we read are ASCII,
	// so decode with a pass-through charset reader.
	dec := xml.NewDecoder(bytes.NewReader(raw))
	dec.CharsetReader = func(charset string, input io.Reader) (io.Reader, error) { return input, nil }

	var od ownershipDocument
	if err := dec.Decode(&od); err != nil {
		return nil, &MalformedDocumentError{AccessionNumber: doc.Meta.AccessionNumber, Reason: err.Error()}
	}

	owner, roles := collectOwners(od.Owners)

	ticker := doc.Meta.Ticker
	if s := strings.TrimSpace(od.Issuer.Symbol); s != "" {
		ticker = strings.ToUpper(s)
	}
	company := doc.Meta.CompanyName
	if n := strings.TrimSpace(od.Issuer.Name); n != "" {
		company = n
	}
	cik := doc.Meta.CIK
	if c := strings.TrimSpace(od.Issuer.CIK); c != "" {
		cik = c
	}

	base := Transaction{
		AccessionNumber: doc.Meta.AccessionNumber,
		CIK:             cik,
		Ticker:          ticker,
		CompanyName:     company,
		OwnerName:       owner,
		Roles:           roles,
		FilingDate:      doc.Meta.FilingDate,
	}

	var txns []Transaction
	for _, nd := range od.NonDerivative.Transactions {
		txns = append(txns, p.parseNonDerivative(base, nd))
	}
	for _, d := range od.Derivative.Transactions {
		if t, ok := p.parseDerivative(base, d); ok {
			txns = append(txns, t)
		}
	}
	return txns, nil
}

func (p *Parser) parseNonDerivative(base Transaction, nd nonDerivativeTxn) Transaction {
	t := base
	t.TransactionDate = parseDate(nd.Date.Value, base.FilingDate)
	t.Type = classifyCode(nd.Coding.Code)
	t.Planned = isPlanned(nd.Coding.FormType, nd.Raw)
	t.Shares = parseDecimal(nd.Amounts.Shares.Value)
	t.Price = parseDecimal(nd.Amounts.Price.Value)
	t.Amount = computeAmount(t.Shares, t.Price)
	return t
}

func (p *Parser) parseDerivative(base Transaction, d derivativeTxn) (Transaction, bool) {
	t := base
	t.Derivative = true
	t.TransactionDate = parseDate(d.Date.Value, base.FilingDate)
	t.Type = classifyCode(d.Coding.Code)
	t.Shares = parseDecimal(d.Underlying.Shares.Value)

	// Prefer the exercise price; fall back to the reported transaction price.
	t.Price = parseDecimal(d.ExercisePrice.Value)
	if t.Price.IsZero() {
		t.Price = parseDecimal(d.Amounts.Price.Value)
	}
	t.Amount = computeAmount(t.Shares, t.Price)

	// Derivative rows with neither shares nor a dollar figure carry no signal.
	if t.Shares.IsZero() && !t.Amount.Valid {
		return Transaction{}, false
	}
	return t, true
}

// collectOwners flattens every reporting owner on the filing. Amounts are per
// line item, so a multi-owner filing keeps one transaction per line with the
// owners joined rather than fanning out and double-counting.
func collectOwners(owners []reportingOwner) (string, []string) {
	var names []string
	roleSet := map[string]struct{}{}
	for _, o := range owners {
		if n := strings.TrimSpace(o.ID.Name); n != "" {
			names = append(names, n)
		}
		rel := o.Relationship
		switch {
		case rel.IsDirector == "1" || strings.EqualFold(rel.IsDirector, "true"):
			roleSet["Director"] = struct{}{}
		case rel.IsOfficer == "1" || strings.EqualFold(rel.IsOfficer, "true"):
			title := strings.TrimSpace(rel.OfficerTitle)
			if title == "" {
				title = "Officer"
			}
			roleSet[title] = struct{}{}
		case rel.IsTenPercentOwner == "1" || strings.EqualFold(rel.IsTenPercentOwner, "true"):
			roleSet["10% Owner"] = struct{}{}
		default:
			roleSet["Other"] = struct{}{}
		}
	}

	name := strings.Join(names, ", ")
	if name == "" {
		name = "Unknown"
	}
	roles := make([]string, 0, len(roleSet))
	for r := range roleSet {
		roles = append(roles, r)
	}
	sort.Strings(roles)
	if len(roles) == 0 {
		roles = []string{"Unknown"}
	}
	return name, roles
}

// classifyCode maps SEC transaction codes onto the reduced type set.
// P = open-market purchase, S = open-market sale, A = grant/award,
// M = option exercise (acquisition). Everything else (gifts, tax
// withholding, small acquisitions, ...) is reported but unclassified.
func classifyCode(code string) TransactionType {
	switch strings.ToUpper(strings.TrimSpace(code)) {
	case "P":
		return TypeBuy
	case "S":
		return TypeSell
	case "A":
		return TypeGrant
	case "M":
		return TypeBuy
	default:
		return TypeOther
	}
}

// isPlanned applies the 10b5-1 heuristics from the EDGAR viewer: a
// transactionFormType of "5" or any footnote reference on the line item.
func isPlanned(formType string, raw []byte) bool {
	if strings.TrimSpace(formType) == "5" {
		return true
	}
	return bytes.Contains(raw, []byte("<footnoteId"))
}

func computeAmount(shares, price decimal.Decimal) decimal.NullDecimal {
	if price.IsPositive() {
		return decimal.NullDecimal{Decimal: shares.Mul(price), Valid: true}
	}
	// No price reported (gift, grant without fair value): amount is null,
	// which callers must treat distinctly from zero.
	return decimal.NullDecimal{}
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero
	}
	return d
}

func parseDate(s string, fallback time.Time) time.Time {
	t, err := time.Parse("2006-01-02", strings.TrimSpace(s))
	if err != nil {
		return fallback
	}
	return t
}

func accessionOf(doc *Document) string {
	if doc == nil {
		return ""
	}
	return doc.Meta.AccessionNumber
}
