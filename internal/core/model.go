package core

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Currency is an ISO-4217 code from the supported set.
type Currency string

const (
	BWP Currency = "BWP"
	USD Currency = "USD"
	ZAR Currency = "ZAR"
)

// BaseCurrency is the currency every cost and rate is expressed in.
const BaseCurrency = BWP

var supportedCurrencies = []Currency{BWP, USD, ZAR}

// SupportedCurrencies returns the accepted currency codes in display order.
func SupportedCurrencies() []Currency {
	out := make([]Currency, len(supportedCurrencies))
	copy(out, supportedCurrencies)
	return out
}

// ParseCurrency upper-cases s, drops anything that is not a letter and checks
// the result against the supported set.
func ParseCurrency(s string) (Currency, error) {
	var b strings.Builder
	for _, r := range strings.ToUpper(s) {
		if r >= 'A' && r <= 'Z' {
			b.WriteRune(r)
		}
	}
	c := Currency(b.String())
	for _, sc := range supportedCurrencies {
		if c == sc {
			return c, nil
		}
	}
	return "", &ValidationError{Field: "currency", Message: fmt.Sprintf("unsupported currency %q", s)}
}

func (c Currency) IsBase() bool { return c == BaseCurrency }

// Actor identifies who is performing a mutation. It is passed explicitly into
// every write so audit columns never depend on ambient request state.
type Actor struct {
	UserID    int
	RequestID string
}

// createdBy maps the zero user to NULL in audit columns.
func (a Actor) createdBy() *int {
	if a.UserID <= 0 {
		return nil
	}
	id := a.UserID
	return &id
}

// Ledger transaction types.
const (
	TxnPurchase  = "purchase"
	TxnUsage     = "usage"
	TxnStocktake = "stocktake"
)

// Ledger source tables used for traceability.
const (
	SourcePOLine       = "purchase_order_lines"
	SourceBatch        = "batches"
	SourceManualAdjust = "manual_adjust"
)

// DateLayout is the wire and storage format for calendar dates.
const DateLayout = "2006-01-02"

// parseDate validates a YYYY-MM-DD value, reporting failures against field.
func parseDate(field, s string) (time.Time, error) {
	d, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, &ValidationError{Field: field, Message: fmt.Sprintf("invalid date %q, expected YYYY-MM-DD", s)}
	}
	return d, nil
}

var (
	// ledgerEpsilon is the tolerance below which a reconciliation delta is treated as zero.
	ledgerEpsilon = decimal.New(1, -9)
	// normalizeEpsilon is the tolerance used when comparing stored and expected costs.
	normalizeEpsilon = decimal.New(1, -4)
)

func withinEpsilon(a, b, eps decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThan(eps)
}
