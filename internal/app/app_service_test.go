package app_test

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"io"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"gelato-costing/internal/app"
	"gelato-costing/internal/core"
)

// fakeFX records which lookup path was used and serves a fixed rate table.
type fakeFX struct {
	core.FXService
	calls    []string
	rates    []core.ExchangeRate
	upserted []core.ExchangeRate
}

func (f *fakeFX) quote(mode, date string, from, to core.Currency) (*core.FXQuote, error) {
	f.calls = append(f.calls, mode)
	if from == core.ZAR {
		return nil, &core.MissingRateError{Currency: core.ZAR, Date: date}
	}
	return &core.FXQuote{Date: date, From: from, To: to, Rate: decimal.RequireFromString("13.5"), Source: core.FXSourceExact}, nil
}

func (f *fakeFX) ResolveRate(_ context.Context, date string, from, to core.Currency) (*core.FXQuote, error) {
	return f.quote("auto", date, from, to)
}
func (f *fakeFX) ExactRate(_ context.Context, date string, from, to core.Currency) (*core.FXQuote, error) {
	return f.quote("exact", date, from, to)
}
func (f *fakeFX) PriorRate(_ context.Context, date string, from, to core.Currency) (*core.FXQuote, error) {
	return f.quote("prior", date, from, to)
}
func (f *fakeFX) UpsertRate(_ context.Context, date string, cur core.Currency, rate decimal.Decimal) error {
	f.upserted = append(f.upserted, core.ExchangeRate{Date: date, Currency: cur, RateToBase: rate})
	return nil
}
func (f *fakeFX) ListRates(context.Context) ([]core.ExchangeRate, error) { return f.rates, nil }

// fakeInventory returns a canned stocktake delta.
type fakeInventory struct {
	core.InventoryService
	delta decimal.Decimal
}

func (f *fakeInventory) SetOnHand(context.Context, core.Actor, int, decimal.Decimal, string, string) (decimal.Decimal, error) {
	return f.delta, nil
}

// fakeBatches captures what the app layer passes down.
type fakeBatches struct {
	core.BatchService
	header core.BatchHeader
	sel    core.ItemSelections
}

func (f *fakeBatches) SaveBatch(_ context.Context, _ core.Actor, _ int, h core.BatchHeader, sel core.ItemSelections) (int, error) {
	f.header, f.sel = h, sel
	return 7, nil
}
func (f *fakeBatches) GetBatch(_ context.Context, id int) (*core.Batch, error) {
	return &core.Batch{ID: id, DeductInventory: f.header.DeductInventory}, nil
}

type fakeOrders struct {
	core.PurchaseOrderService
	input core.PurchaseOrderInput
}

func (f *fakeOrders) CreatePO(_ context.Context, _ core.Actor, in core.PurchaseOrderInput) (*core.PurchaseOrder, error) {
	f.input = in
	return &core.PurchaseOrder{ID: 1, Currency: in.Currency, FXRateUsed: decimal.NewFromInt(1)}, nil
}

func newSvc(fx *fakeFX) app.ApplicationService {
	return app.NewAppService(app.Services{
		FX:        fx,
		Inventory: &fakeInventory{delta: decimal.RequireFromString("-2.5")},
		Batches:   &fakeBatches{},
		Orders:    &fakeOrders{},
	}, nil)
}

func TestQuoteRate_ModeSelectsLookup(t *testing.T) {
	ctx := context.Background()
	for _, mode := range []string{"", "auto", "exact", "prior"} {
		fx := &fakeFX{}
		svc := newSvc(fx)
		q, err := svc.QuoteRate(ctx, app.QuoteRequest{Date: "2024-01-01", From: "usd", Mode: mode})
		require.NoError(t, err, "mode %q", mode)
		assert.Equal(t, core.USD, q.From)
		assert.Equal(t, core.BWP, q.To, "target defaults to base currency")

		want := mode
		if want == "" {
			want = "auto"
		}
		assert.Equal(t, []string{want}, fx.calls)
	}
}

func TestQuoteRate_MissingRatePropagates(t *testing.T) {
	_, err := newSvc(&fakeFX{}).QuoteRate(context.Background(), app.QuoteRequest{Date: "2024-01-01", From: "ZAR"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrMissingRate))
}

func TestQuoteRate_ValidationErrors(t *testing.T) {
	svc := newSvc(&fakeFX{})
	ctx := context.Background()
	tests := []struct {
		name  string
		req   app.QuoteRequest
		field string
	}{
		{"missing date", app.QuoteRequest{From: "USD"}, "date"},
		{"bad date", app.QuoteRequest{Date: "01/02/2024", From: "USD"}, "date"},
		{"bad mode", app.QuoteRequest{Date: "2024-01-01", From: "USD", Mode: "latest"}, "mode"},
		{"unsupported currency", app.QuoteRequest{Date: "2024-01-01", From: "EUR"}, "currency"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.QuoteRate(ctx, tt.req)
			var ve *core.ValidationError
			require.True(t, errors.As(err, &ve), "want ValidationError, got %v", err)
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}

func TestSetRate_NormalisesCurrency(t *testing.T) {
	fx := &fakeFX{}
	err := newSvc(fx).SetRate(context.Background(), app.SetRateRequest{
		Date: "2024-01-01", Currency: " usd ", RateToBase: decimal.RequireFromString("13.7"),
	})
	require.NoError(t, err)
	require.Len(t, fx.upserted, 1)
	assert.Equal(t, core.USD, fx.upserted[0].Currency)
}

func sampleRates() []core.ExchangeRate {
	return []core.ExchangeRate{
		{Date: "2024-01-01", Currency: core.USD, RateToBase: decimal.RequireFromString("13.5")},
		{Date: "2024-01-01", Currency: core.ZAR, RateToBase: decimal.RequireFromString("0.7350000001")},
	}
}

func TestExportRates_CSV(t *testing.T) {
	var buf bytes.Buffer
	ct, err := newSvc(&fakeFX{rates: sampleRates()}).ExportRates(context.Background(), "csv", &buf)
	require.NoError(t, err)
	assert.Equal(t, app.ContentTypeCSV, ct)

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, []string{"rate_date", "currency", "rate_to_bwp"}, records[0])
	assert.Equal(t, []string{"2024-01-01", "ZAR", "0.7350000001"}, records[2])
}

func TestExportRates_XLSX(t *testing.T) {
	var buf bytes.Buffer
	ct, err := newSvc(&fakeFX{rates: sampleRates()}).ExportRates(context.Background(), "XLSX", &buf)
	require.NoError(t, err)
	assert.Equal(t, app.ContentTypeXLSX, ct)

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows("Rates")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "USD", rows[1][1])
	assert.Equal(t, "0.7350000001", rows[2][2])
}

func TestExportRates_UnknownFormat(t *testing.T) {
	_, err := newSvc(&fakeFX{}).ExportRates(context.Background(), "pdf", io.Discard)
	var ve *core.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "format", ve.Field)
}

func TestStocktake_ReportsDelta(t *testing.T) {
	res, err := newSvc(&fakeFX{}).Stocktake(context.Background(), core.Actor{UserID: 1}, app.StocktakeRequest{
		IngredientID: 3, Date: "2024-01-02", CountedQty: decimal.NewFromInt(10),
	})
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.True(t, res.Delta.Equal(decimal.RequireFromString("-2.5")))
}

func TestSaveBatch_MapsRequest(t *testing.T) {
	batches := &fakeBatches{}
	svc := app.NewAppService(app.Services{Batches: batches}, nil)

	res, err := svc.SaveBatch(context.Background(), core.Actor{UserID: 2}, app.BatchRequest{
		RecipeVersionID: 4,
		BatchDate:       "2024-03-01",
		TargetMixG:      decimal.NewFromInt(5000),
		Items: []app.BatchItemReq{
			{RecipeItemID: 10, Used: true, MeasuredQty: decimal.NewFromInt(900)},
			{RecipeItemID: 11, MeasuredQty: decimal.NewFromInt(250)},
		},
		AltPicks: map[int]int{1: 11},
		Packouts: map[int]int{2: 12},
	})
	require.NoError(t, err)
	assert.Equal(t, 7, res.Batch.ID)
	assert.True(t, batches.header.DeductInventory, "deduct defaults to on")
	assert.True(t, batches.sel.Used[10])
	assert.False(t, batches.sel.Used[11])
	assert.True(t, batches.sel.Measured[11].Equal(decimal.NewFromInt(250)))
	assert.Equal(t, 11, batches.sel.AltPick[1])
	assert.Equal(t, 12, batches.header.Packouts[2])
}

func TestSaveBatch_RequiresRecipeVersion(t *testing.T) {
	svc := app.NewAppService(app.Services{Batches: &fakeBatches{}}, nil)
	_, err := svc.SaveBatch(context.Background(), core.Actor{}, app.BatchRequest{
		BatchDate: "2024-03-01", TargetMixG: decimal.NewFromInt(1),
	})
	var ve *core.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "recipe_version_id", ve.Field)
}

func TestCreatePurchaseOrder_DefaultsToBaseCurrency(t *testing.T) {
	orders := &fakeOrders{}
	svc := app.NewAppService(app.Services{Orders: orders}, nil)
	_, err := svc.CreatePurchaseOrder(context.Background(), core.Actor{UserID: 1}, app.PurchaseOrderRequest{
		OrderDate: "2024-01-01",
		Lines:     []app.PurchaseOrderLineReq{{IngredientID: 1, Qty: decimal.NewFromInt(1), LineTotalNative: decimal.NewFromInt(5)}},
	})
	require.NoError(t, err)
	assert.Equal(t, core.BWP, orders.input.Currency)
	require.Len(t, orders.input.Lines, 1)
}

func TestCreatePurchaseOrder_NeedsLines(t *testing.T) {
	svc := app.NewAppService(app.Services{Orders: &fakeOrders{}}, nil)
	_, err := svc.CreatePurchaseOrder(context.Background(), core.Actor{}, app.PurchaseOrderRequest{OrderDate: "2024-01-01"})
	var ve *core.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "lines", ve.Field)
}
