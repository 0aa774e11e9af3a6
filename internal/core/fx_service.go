package core

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// rateScale matches exchange_rates.rate_to_bwp and purchase_orders.fx_rate_used.
const rateScale = 10

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// FXService resolves and stores exchange rates against the base currency.
type FXService interface {
	// ResolveRate tries an exact-date row for each non-base leg and falls back
	// to the nearest prior row. A missing leg yields an error wrapping ErrMissingRate.
	ResolveRate(ctx context.Context, date string, from, to Currency) (*FXQuote, error)
	// ExactRate only accepts rows dated exactly on date.
	ExactRate(ctx context.Context, date string, from, to Currency) (*FXQuote, error)
	// PriorRate only accepts the latest row dated on or before date.
	PriorRate(ctx context.Context, date string, from, to Currency) (*FXQuote, error)
	ResolveRateTx(ctx context.Context, tx pgx.Tx, date string, from, to Currency) (*FXQuote, error)

	// UpsertRate writes one (date, currency) row. The base currency is always stored as 1.
	UpsertRate(ctx context.Context, date string, currency Currency, rateToBase decimal.Decimal) error
	UpsertRateTx(ctx context.Context, tx pgx.Tx, date string, currency Currency, rateToBase decimal.Decimal) error

	// ImportRatesCSV reads "date,currency,rate" rows. Blank lines and # comments
	// are skipped; malformed rows are counted and reported, not fatal.
	ImportRatesCSV(ctx context.Context, r io.Reader) (*ImportResult, error)
	ListRates(ctx context.Context) ([]ExchangeRate, error)

	// InvalidateQuotes drops cached quotes after rates were written inside a caller TX.
	InvalidateQuotes(ctx context.Context) error
}

type lookupMode int

const (
	lookupAuto lookupMode = iota
	lookupExact
	lookupPrior
)

func (m lookupMode) String() string {
	switch m {
	case lookupExact:
		return "exact"
	case lookupPrior:
		return "prior"
	default:
		return "auto"
	}
}

type fxService struct {
	pool  *pgxpool.Pool
	cache RateCache
}

// NewFXService constructs an FXService. cache may be nil.
func NewFXService(pool *pgxpool.Pool, cache RateCache) FXService {
	return &fxService{pool: pool, cache: cache}
}

// ── Resolution ────────────────────────────────────────────────────────────────

func (s *fxService) ResolveRate(ctx context.Context, date string, from, to Currency) (*FXQuote, error) {
	return s.cachedResolve(ctx, date, from, to, lookupAuto)
}

func (s *fxService) ExactRate(ctx context.Context, date string, from, to Currency) (*FXQuote, error) {
	return s.cachedResolve(ctx, date, from, to, lookupExact)
}

func (s *fxService) PriorRate(ctx context.Context, date string, from, to Currency) (*FXQuote, error) {
	return s.cachedResolve(ctx, date, from, to, lookupPrior)
}

// ResolveRateTx bypasses the cache so the caller sees rows written earlier in tx.
func (s *fxService) ResolveRateTx(ctx context.Context, tx pgx.Tx, date string, from, to Currency) (*FXQuote, error) {
	return resolveRate(ctx, tx, date, from, to, lookupAuto)
}

func (s *fxService) cachedResolve(ctx context.Context, date string, from, to Currency, mode lookupMode) (*FXQuote, error) {
	key := quoteKey(mode, date, from, to)
	var (
		gen       int64
		cacheable bool
	)
	if s.cache != nil {
		q, g, ok, err := s.cache.GetQuote(ctx, key)
		if err == nil && ok {
			return q, nil
		}
		// The generation must be captured before the database read.
		gen, cacheable = g, err == nil
	}

	q, err := resolveRate(ctx, s.pool, date, from, to, mode)
	if err != nil {
		return nil, err
	}

	if cacheable {
		// A failed cache write only costs a future miss.
		_ = s.cache.SetQuote(ctx, key, gen, q)
	}
	return q, nil
}

func quoteKey(mode lookupMode, date string, from, to Currency) string {
	return fmt.Sprintf("%s:%s:%s:%s", mode, date, from, to)
}

func resolveRate(ctx context.Context, q querier, date string, from, to Currency, mode lookupMode) (*FXQuote, error) {
	if _, err := parseDate("date", date); err != nil {
		return nil, err
	}

	quote := &FXQuote{Date: date, From: from, To: to}
	if from == to {
		quote.Rate = decimal.NewFromInt(1)
		quote.Source = FXSourcePar
		return quote, nil
	}

	rateFrom, srcFrom, err := rateToBase(ctx, q, date, from, mode)
	if err != nil {
		return nil, err
	}
	rateTo, srcTo, err := rateToBase(ctx, q, date, to, mode)
	if err != nil {
		return nil, err
	}

	// With the base on one side this reduces to a direct or inverted lookup.
	quote.Rate = rateFrom.Div(rateTo).Round(rateScale)
	quote.Source = combineSources(srcFrom, srcTo)
	return quote, nil
}

// combineSources reports prior if either leg fell back, exact otherwise.
func combineSources(a, b FXSource) FXSource {
	if a == FXSourcePrior || b == FXSourcePrior {
		return FXSourcePrior
	}
	return FXSourceExact
}

// rateToBase returns BWP per one unit of cur. Each leg is resolved on its own.
func rateToBase(ctx context.Context, q querier, date string, cur Currency, mode lookupMode) (decimal.Decimal, FXSource, error) {
	if cur.IsBase() {
		return decimal.NewFromInt(1), FXSourcePar, nil
	}

	if mode == lookupAuto || mode == lookupExact {
		rate, ok, err := exactRate(ctx, q, date, cur)
		if err != nil {
			return decimal.Zero, "", err
		}
		if ok {
			return rate, FXSourceExact, nil
		}
		if mode == lookupExact {
			return decimal.Zero, "", &MissingRateError{Currency: cur, Date: date}
		}
	}

	rate, ok, err := priorRate(ctx, q, date, cur)
	if err != nil {
		return decimal.Zero, "", err
	}
	if !ok {
		return decimal.Zero, "", &MissingRateError{Currency: cur, Date: date}
	}
	return rate, FXSourcePrior, nil
}

func exactRate(ctx context.Context, q querier, date string, cur Currency) (decimal.Decimal, bool, error) {
	var rate decimal.Decimal
	err := q.QueryRow(ctx,
		"SELECT rate_to_bwp FROM exchange_rates WHERE currency = $1 AND rate_date = $2",
		string(cur), date,
	).Scan(&rate)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("query exact rate %s %s: %w", cur, date, err)
	}
	// Non-positive rows cannot be inverted; treat them as absent.
	return rate, rate.IsPositive(), nil
}

func priorRate(ctx context.Context, q querier, date string, cur Currency) (decimal.Decimal, bool, error) {
	var rate decimal.Decimal
	err := q.QueryRow(ctx, `
		SELECT rate_to_bwp FROM exchange_rates
		WHERE currency = $1 AND rate_date <= $2 AND rate_to_bwp > 0
		ORDER BY rate_date DESC
		LIMIT 1`,
		string(cur), date,
	).Scan(&rate)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("query prior rate %s %s: %w", cur, date, err)
	}
	return rate, true, nil
}

// ── Writes ────────────────────────────────────────────────────────────────────

func (s *fxService) UpsertRate(ctx context.Context, date string, currency Currency, rateToBase decimal.Decimal) error {
	if err := upsertRate(ctx, s.pool, date, currency, rateToBase); err != nil {
		return err
	}
	return s.InvalidateQuotes(ctx)
}

func (s *fxService) UpsertRateTx(ctx context.Context, tx pgx.Tx, date string, currency Currency, rateToBase decimal.Decimal) error {
	return upsertRate(ctx, tx, date, currency, rateToBase)
}

func upsertRate(ctx context.Context, q querier, date string, currency Currency, rateToBase decimal.Decimal) error {
	if _, err := parseDate("rate_date", date); err != nil {
		return err
	}
	if currency.IsBase() {
		rateToBase = decimal.NewFromInt(1)
	} else if !rateToBase.IsPositive() {
		return invalidf("rate_to_bwp", "rate for %s must be positive, got %s", currency, rateToBase)
	}

	if _, err := q.Exec(ctx, `
		INSERT INTO exchange_rates (rate_date, currency, rate_to_bwp)
		VALUES ($1, $2, $3)
		ON CONFLICT (rate_date, currency)
		DO UPDATE SET rate_to_bwp = EXCLUDED.rate_to_bwp, updated_at = NOW()`,
		date, string(currency), rateToBase.Round(rateScale),
	); err != nil {
		return fmt.Errorf("upsert rate %s %s: %w", currency, date, err)
	}
	return nil
}

func (s *fxService) InvalidateQuotes(ctx context.Context) error {
	if s.cache == nil {
		return nil
	}
	if err := s.cache.Invalidate(ctx); err != nil {
		return fmt.Errorf("invalidate fx quote cache: %w", err)
	}
	return nil
}

func (s *fxService) ImportRatesCSV(ctx context.Context, r io.Reader) (*ImportResult, error) {
	reader := csv.NewReader(r)
	reader.Comment = '#'
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	type row struct {
		date     string
		currency Currency
		rate     decimal.Decimal
	}
	result := &ImportResult{}
	var rows []row

	for {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var pe *csv.ParseError
			if !errors.As(err, &pe) {
				return nil, fmt.Errorf("read rate csv: %w", err)
			}
			result.Rejected++
			result.Problems = append(result.Problems, fmt.Sprintf("line %d: %v", pe.Line, pe.Err))
			continue
		}
		line, _ := reader.FieldPos(0)
		if len(rec) >= 1 && strings.EqualFold(strings.TrimSpace(rec[0]), "rate_date") {
			continue // header
		}
		if len(rec) < 3 {
			result.Rejected++
			result.Problems = append(result.Problems, fmt.Sprintf("line %d: expected date,currency,rate", line))
			continue
		}

		date := strings.TrimSpace(rec[0])
		if _, err := parseDate("rate_date", date); err != nil {
			result.Rejected++
			result.Problems = append(result.Problems, fmt.Sprintf("line %d: %v", line, err))
			continue
		}
		cur, err := ParseCurrency(rec[1])
		if err != nil {
			result.Rejected++
			result.Problems = append(result.Problems, fmt.Sprintf("line %d: %v", line, err))
			continue
		}
		rate, err := decimal.NewFromString(strings.TrimSpace(rec[2]))
		if err != nil || (!cur.IsBase() && !rate.IsPositive()) {
			result.Rejected++
			result.Problems = append(result.Problems, fmt.Sprintf("line %d: rate must be a positive number", line))
			continue
		}
		rows = append(rows, row{date: date, currency: cur, rate: rate})
	}

	if len(rows) == 0 {
		return result, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, rw := range rows {
		if err := upsertRate(ctx, tx, rw.date, rw.currency, rw.rate); err != nil {
			return nil, err
		}
		result.Imported++
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit rate import: %w", err)
	}
	_ = s.InvalidateQuotes(ctx)
	return result, nil
}

func (s *fxService) ListRates(ctx context.Context) ([]ExchangeRate, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT rate_date::text, currency, rate_to_bwp
		FROM exchange_rates
		ORDER BY rate_date, currency`)
	if err != nil {
		return nil, fmt.Errorf("query exchange rates: %w", err)
	}
	defer rows.Close()

	var rates []ExchangeRate
	for rows.Next() {
		var r ExchangeRate
		var cur string
		if err := rows.Scan(&r.Date, &cur, &r.RateToBase); err != nil {
			return nil, fmt.Errorf("scan exchange rate: %w", err)
		}
		r.Currency = Currency(cur)
		rates = append(rates, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate exchange rates: %w", err)
	}
	return rates, nil
}
