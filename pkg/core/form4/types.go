// Package form4 defines the insider-transaction data model and the parser
// that turns raw SEC ownership documents into structured transactions.
package form4

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType classifies one reported line item.
type TransactionType string

const (
	TypeBuy   TransactionType = "buy"
	TypeSell  TransactionType = "sell"
	TypeGrant TransactionType = "grant"
	TypeOther TransactionType = "other"
)

// Transaction is one insider trade event extracted from a Form 4 filing.
// A single filing may yield zero or more transactions.
type Transaction struct {
	AccessionNumber string          `json:"accession_number"`
	CIK             string          `json:"cik"`
	Ticker          string          `json:"ticker"`
	CompanyName     string          `json:"company_name"`
	OwnerName       string          `json:"owner_name"`
	Roles           []string        `json:"roles"`
	Type            TransactionType `json:"type"`
	Planned         bool            `json:"planned"` // filed under a 10b5-1 trading plan
	Derivative      bool            `json:"derivative,omitempty"`
	Shares          decimal.Decimal `json:"shares"`
	Price           decimal.Decimal `json:"price"`
	// Amount is shares*price when a price is reported. Gifts and other
	// priceless transfers carry an invalid (null) amount, which is distinct
	// from a reported zero.
	Amount          decimal.NullDecimal `json:"amount"`
	TransactionDate time.Time           `json:"transaction_date"`
	FilingDate      time.Time           `json:"filing_date"`
}

// FilingMeta identifies one upstream filing before its document is fetched.
type FilingMeta struct {
	AccessionNumber string    `json:"accession_number"`
	CIK             string    `json:"cik"`
	Ticker          string    `json:"ticker,omitempty"`
	CompanyName     string    `json:"company_name,omitempty"`
	FilingDate      time.Time `json:"filing_date"`
	IndexURL        string    `json:"index_url"` // filing index page holding the document links
}

// Document is one fetched filing ready for parsing.
type Document struct {
	Meta FilingMeta
	XML  []byte
}

// Cursor is an opaque position in the newest-first market filing feed.
// The zero value starts at the top of the feed.
type Cursor struct {
	Offset int `json:"offset"`
}
