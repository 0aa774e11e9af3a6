package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"gelato-costing/internal/app"
	"gelato-costing/internal/core"
)

// Usage lists the one-shot commands.
const Usage = `Usage: app [command] [args]   (no command starts the interactive shell)

  wac [ingredient_id]                 recalculate WAC (all active when omitted)
  fx-quote DATE CUR [TO]              resolve a rate (TO defaults to BWP)
  fx-set DATE CUR RATE                store BWP per unit of CUR for DATE
  fx-import FILE                      bulk-load date,currency,rate CSV
  normalize-scan [ingredient_id]      list PO lines whose unit cost looks like a line total
  normalize-apply [ingredient_id]     repair those lines and recalculate WAC
  stock                               on-hand, WAC and reorder flags
  history INGREDIENT_ID [LIMIT]       recent ledger rows for one ingredient
  migrate                             apply the reference schema`

// ErrUsage is returned for unknown commands and bad argument counts.
var ErrUsage = errors.New("invalid usage")

// Run executes a one-shot CLI command, writing human-readable output to out.
// args is os.Args[1:]; the first element is the subcommand name.
func Run(ctx context.Context, svc app.ApplicationService, args []string, out io.Writer) error {
	if len(args) == 0 {
		return usageErr("missing command")
	}

	switch args[0] {
	case "wac":
		id, err := optionalID(args[1:])
		if err != nil {
			return err
		}
		res, err := svc.RecalculateWAC(ctx, id)
		if err != nil {
			return fmt.Errorf("recalculate wac: %w", err)
		}
		printRecalc(out, res)

	case "fx-quote":
		if len(args) < 3 {
			return usageErr("fx-quote DATE CUR [TO]")
		}
		req := app.QuoteRequest{Date: args[1], From: args[2]}
		if len(args) > 3 {
			req.To = args[3]
		}
		q, err := svc.QuoteRate(ctx, req)
		if err != nil {
			return fmt.Errorf("quote: %w", err)
		}
		fmt.Fprintf(out, "%s  1 %s = %s %s  (%s)\n", q.Date, q.From, q.Rate.String(), q.To, q.Source)

	case "fx-set":
		if len(args) < 4 {
			return usageErr("fx-set DATE CUR RATE")
		}
		rate, err := decimal.NewFromString(args[3])
		if err != nil {
			return usageErr(fmt.Sprintf("rate %q is not a number", args[3]))
		}
		if err := svc.SetRate(ctx, app.SetRateRequest{Date: args[1], Currency: args[2], RateToBase: rate}); err != nil {
			return fmt.Errorf("set rate: %w", err)
		}
		fmt.Fprintf(out, "Stored %s %s = %s BWP\n", args[1], strings.ToUpper(args[2]), rate.String())

	case "fx-import":
		if len(args) < 2 {
			return usageErr("fx-import FILE")
		}
		f, err := os.Open(args[1])
		if err != nil {
			return fmt.Errorf("open %s: %w", args[1], err)
		}
		defer f.Close()
		res, err := svc.ImportRates(ctx, f)
		if err != nil {
			return fmt.Errorf("import rates: %w", err)
		}
		fmt.Fprintf(out, "Imported %d rate(s), rejected %d\n", res.Imported, res.Rejected)
		for _, p := range res.Problems {
			fmt.Fprintf(out, "  %s\n", p)
		}

	case "normalize-scan":
		id, err := optionalID(args[1:])
		if err != nil {
			return err
		}
		res, err := svc.FindNormalizationCandidates(ctx, id)
		if err != nil {
			return fmt.Errorf("scan: %w", err)
		}
		printCandidates(out, res.Candidates)

	case "normalize-apply":
		id, err := optionalID(args[1:])
		if err != nil {
			return err
		}
		res, err := svc.ApplyNormalization(ctx, id)
		if err != nil {
			return fmt.Errorf("apply normalization: %w", err)
		}
		printCandidates(out, res.Candidates)
		fmt.Fprintf(out, "Normalized %d line(s).\n", res.Applied)

	case "stock":
		res, err := svc.GetStockLevels(ctx)
		if err != nil {
			return fmt.Errorf("stock levels: %w", err)
		}
		printStock(out, res)

	case "history":
		if len(args) < 2 {
			return usageErr("history INGREDIENT_ID [LIMIT]")
		}
		id, err := strconv.Atoi(args[1])
		if err != nil || id <= 0 {
			return usageErr(fmt.Sprintf("ingredient id %q is not a positive integer", args[1]))
		}
		limit := 0
		if len(args) > 2 {
			if limit, err = strconv.Atoi(args[2]); err != nil {
				return usageErr(fmt.Sprintf("limit %q is not an integer", args[2]))
			}
		}
		res, err := svc.GetInventoryHistory(ctx, id, limit)
		if err != nil {
			return fmt.Errorf("history: %w", err)
		}
		printHistory(out, res)

	default:
		return usageErr("unknown command: " + args[0])
	}
	return nil
}

func usageErr(msg string) error {
	return fmt.Errorf("%w: %s", ErrUsage, msg)
}

func optionalID(args []string) (*int, error) {
	if len(args) == 0 {
		return nil, nil
	}
	id, err := strconv.Atoi(args[0])
	if err != nil || id <= 0 {
		return nil, usageErr(fmt.Sprintf("ingredient id %q is not a positive integer", args[0]))
	}
	return &id, nil
}

func fmtWAC(w *decimal.Decimal) string {
	if w == nil {
		return "n/a"
	}
	return w.StringFixed(6)
}

func printRecalc(out io.Writer, res *app.RecalcResult) {
	ids := make([]int, 0, len(res.WAC))
	for id := range res.WAC {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	fmt.Fprintln(out)
	fmt.Fprintln(out, strings.Repeat("=", 40))
	fmt.Fprintf(out, "  %-12s %24s\n", "INGREDIENT", "WAC (BWP)")
	fmt.Fprintln(out, strings.Repeat("=", 40))
	for _, id := range ids {
		fmt.Fprintf(out, "  %-12d %24s\n", id, fmtWAC(res.WAC[id]))
	}
	fmt.Fprintln(out, strings.Repeat("-", 40))
	fmt.Fprintf(out, "  Recalculated %d ingredient(s)\n", res.Recalculated)
}

func printCandidates(out io.Writer, cands []core.NormalizationCandidate) {
	if len(cands) == 0 {
		fmt.Fprintln(out, "No purchase order lines need normalization.")
		return
	}
	fmt.Fprintf(out, "  %-8s %-6s %-10s %12s %16s %16s\n", "LINE", "PO", "INGREDIENT", "QTY", "STORED UC BWP", "EXPECTED UC BWP")
	fmt.Fprintln(out, strings.Repeat("-", 74))
	for _, c := range cands {
		fmt.Fprintf(out, "  %-8d %-6d %-10d %12s %16s %16s\n",
			c.POLineID, c.PurchaseOrderID, c.IngredientID, c.Qty.String(),
			c.UnitCostBWP.StringFixed(4), c.ExpectedUnitCostBWP.StringFixed(4))
	}
}

func printStock(out io.Writer, res *app.StockResult) {
	fmt.Fprintln(out)
	fmt.Fprintln(out, strings.Repeat("=", 78))
	fmt.Fprintf(out, "  %-28s %-4s %14s %14s %14s\n", "INGREDIENT", "UNIT", "ON HAND", "WAC (BWP)", "VALUE (BWP)")
	fmt.Fprintln(out, strings.Repeat("=", 78))
	for _, l := range res.Levels {
		flag := ""
		if l.BelowReorder {
			flag = "  REORDER"
		}
		fmt.Fprintf(out, "  %-28s %-4s %14s %14s %14s%s\n",
			l.IngredientName, l.UnitKind, l.OnHand.StringFixed(3), fmtWAC(l.WAC), l.StockValueBWP.StringFixed(2), flag)
	}
}

func printHistory(out io.Writer, res *app.HistoryResult) {
	fmt.Fprintf(out, "  %-10s %-10s %14s %-24s %s\n", "DATE", "TYPE", "QTY", "SOURCE", "NOTE")
	fmt.Fprintln(out, strings.Repeat("-", 78))
	for _, t := range res.Txns {
		source := ""
		if t.SourceTable != nil {
			source = *t.SourceTable
			if t.SourceID != nil {
				source = fmt.Sprintf("%s#%d", source, *t.SourceID)
			}
		}
		note := ""
		if t.Note != nil {
			note = *t.Note
		}
		fmt.Fprintf(out, "  %-10s %-10s %14s %-24s %s\n", t.TxnDate, t.TxnType, t.Qty.StringFixed(3), source, note)
	}
}
