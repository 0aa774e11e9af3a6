package core

import (
	"context"

	"github.com/shopspring/decimal"
)

// FXSource says how a quote was obtained.
type FXSource string

const (
	FXSourcePar   FXSource = "par"
	FXSourceExact FXSource = "exact"
	FXSourcePrior FXSource = "prior"
)

// FXQuote is a resolved conversion: 1 unit of From equals Rate units of To.
type FXQuote struct {
	Date   string          `json:"date"`
	From   Currency        `json:"from"`
	To     Currency        `json:"to"`
	Rate   decimal.Decimal `json:"rate"`
	Source FXSource        `json:"source"`
}

// ExchangeRate is one stored (date, currency) row. RateToBase is BWP per unit.
type ExchangeRate struct {
	Date       string          `json:"rate_date"`
	Currency   Currency        `json:"currency"`
	RateToBase decimal.Decimal `json:"rate_to_bwp"`
}

// ImportResult summarises a bulk rate import.
type ImportResult struct {
	Imported int      `json:"imported"`
	Rejected int      `json:"rejected"`
	Problems []string `json:"problems,omitempty"`
}

// RateCache is an optional read-through store for resolved quotes.
// Invalidate must make every previously stored quote unreachable.
type RateCache interface {
	// GetQuote also returns the generation the lookup ran under. After a
	// miss, pass it to SetQuote so a quote read before an invalidation is
	// never filed under the newer generation.
	GetQuote(ctx context.Context, key string) (q *FXQuote, gen int64, ok bool, err error)
	SetQuote(ctx context.Context, key string, gen int64, q *FXQuote) error
	Invalidate(ctx context.Context) error
}
