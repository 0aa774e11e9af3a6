package cli_test

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gelato-costing/internal/adapters/cli"
	"gelato-costing/internal/app"
	"gelato-costing/internal/core"
)

type stubService struct {
	app.ApplicationService
	recalcID *int
	quoted   app.QuoteRequest
	set      app.SetRateRequest
}

func (s *stubService) RecalculateWAC(_ context.Context, id *int) (*app.RecalcResult, error) {
	s.recalcID = id
	w := decimal.RequireFromString("1.1")
	return &app.RecalcResult{Recalculated: 2, WAC: map[int]*decimal.Decimal{2: nil, 1: &w}}, nil
}

func (s *stubService) QuoteRate(_ context.Context, req app.QuoteRequest) (*core.FXQuote, error) {
	s.quoted = req
	return &core.FXQuote{Date: req.Date, From: core.USD, To: core.ZAR, Rate: decimal.RequireFromString("18.3650793651"), Source: core.FXSourcePrior}, nil
}

func (s *stubService) SetRate(_ context.Context, req app.SetRateRequest) error {
	s.set = req
	return nil
}

func TestRun_WAC(t *testing.T) {
	svc := &stubService{}
	var out bytes.Buffer

	require.NoError(t, cli.Run(context.Background(), svc, []string{"wac", "7"}, &out))
	require.NotNil(t, svc.recalcID)
	assert.Equal(t, 7, *svc.recalcID)
	assert.Contains(t, out.String(), "1.100000")
	assert.Contains(t, out.String(), "n/a")
	assert.Contains(t, out.String(), "Recalculated 2 ingredient(s)")

	out.Reset()
	require.NoError(t, cli.Run(context.Background(), svc, []string{"wac"}, &out))
	assert.Nil(t, svc.recalcID)
}

func TestRun_FXQuote(t *testing.T) {
	svc := &stubService{}
	var out bytes.Buffer
	require.NoError(t, cli.Run(context.Background(), svc, []string{"fx-quote", "2024-01-01", "usd", "zar"}, &out))
	assert.Equal(t, app.QuoteRequest{Date: "2024-01-01", From: "usd", To: "zar"}, svc.quoted)
	assert.Contains(t, out.String(), "18.3650793651")
	assert.Contains(t, out.String(), "prior")
}

func TestRun_FXSet(t *testing.T) {
	svc := &stubService{}
	var out bytes.Buffer
	require.NoError(t, cli.Run(context.Background(), svc, []string{"fx-set", "2024-01-01", "USD", "13.5"}, &out))
	assert.True(t, svc.set.RateToBase.Equal(decimal.RequireFromString("13.5")))

	err := cli.Run(context.Background(), svc, []string{"fx-set", "2024-01-01", "USD", "abc"}, &out)
	assert.True(t, errors.Is(err, cli.ErrUsage))
}

func TestRun_UsageErrors(t *testing.T) {
	svc := &stubService{}
	for _, args := range [][]string{
		nil,
		{"bogus"},
		{"fx-quote", "2024-01-01"},
		{"wac", "zero"},
		{"history"},
		{"history", "-3"},
	} {
		err := cli.Run(context.Background(), svc, args, &bytes.Buffer{})
		assert.True(t, errors.Is(err, cli.ErrUsage), "args %v: got %v", args, err)
	}
}
