package repl

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"gelato-costing/internal/app"
	"gelato-costing/internal/core"
)

func readLine(reader *bufio.Reader, out io.Writer, label string) (string, error) {
	fmt.Fprint(out, label)
	raw, err := reader.ReadString('\n')
	raw = strings.TrimSpace(raw)
	if err != nil && raw == "" {
		return "", err
	}
	return raw, nil
}

func prompt(reader *bufio.Reader, out io.Writer, label string) string {
	raw, _ := readLine(reader, out, label)
	return raw
}

// handleNewPurchaseOrder runs an interactive purchase order entry session.
// When no rate is on file for the order date it asks for a manual one.
func handleNewPurchaseOrder(ctx context.Context, reader *bufio.Reader, out io.Writer, svc app.ApplicationService) {
	fmt.Fprintln(out, "Enter order lines. Type 'done' when finished, 'cancel' to abort.")
	fmt.Fprintln(out, "Format per line: <ingredient-id> <qty> <line-total>")
	fmt.Fprintln(out, "  Example: 3 25000 412.50   (25 kg of ingredient 3 for 412.50 in the order currency)")

	var lines []app.PurchaseOrderLineReq
	lineNum := 1
	for {
		raw, err := readLine(reader, out, fmt.Sprintf("  Line %d: ", lineNum))
		if err != nil || strings.EqualFold(raw, "cancel") {
			fmt.Fprintln(out, "Purchase order cancelled.")
			return
		}
		if strings.EqualFold(raw, "done") {
			break
		}
		if raw == "" {
			continue
		}

		parts := strings.Fields(raw)
		if len(parts) < 3 {
			fmt.Fprintln(out, "  Invalid format. Use: <ingredient-id> <qty> <line-total>")
			continue
		}
		id, err := strconv.Atoi(parts[0])
		if err != nil || id <= 0 {
			fmt.Fprintln(out, "  Invalid ingredient id.")
			continue
		}
		qty, err := decimal.NewFromString(parts[1])
		if err != nil || !qty.IsPositive() {
			fmt.Fprintln(out, "  Invalid quantity.")
			continue
		}
		total, err := decimal.NewFromString(parts[2])
		if err != nil || !total.IsPositive() {
			fmt.Fprintln(out, "  Invalid line total.")
			continue
		}
		lines = append(lines, app.PurchaseOrderLineReq{IngredientID: id, Qty: qty, LineTotalNative: total})
		lineNum++
	}

	if len(lines) == 0 {
		fmt.Fprintln(out, "No lines entered. Purchase order not created.")
		return
	}

	orderDate := prompt(reader, out, "Order date (YYYY-MM-DD, leave blank for today): ")
	if orderDate == "" {
		orderDate = time.Now().Format(core.DateLayout)
	}
	currency := strings.ToUpper(prompt(reader, out, fmt.Sprintf("Currency [%s]: ", core.BaseCurrency)))
	if currency == "" {
		currency = string(core.BaseCurrency)
	}
	supplier := prompt(reader, out, "Supplier (optional): ")
	poNumber := prompt(reader, out, "Supplier invoice / PO number (optional): ")

	req := app.PurchaseOrderRequest{
		PONumber:     poNumber,
		SupplierName: supplier,
		OrderDate:    orderDate,
		Currency:     currency,
		Lines:        lines,
	}

	result, err := svc.CreatePurchaseOrder(ctx, core.Actor{}, req)
	var missing *core.MissingRateError
	if errors.As(err, &missing) {
		fmt.Fprintf(out, "No %s rate on file for %s.\n", missing.Currency, missing.Date)
		raw := prompt(reader, out, fmt.Sprintf("Enter BWP per 1 %s (blank to cancel): ", missing.Currency))
		if raw == "" {
			fmt.Fprintln(out, "Purchase order cancelled.")
			return
		}
		rate, perr := decimal.NewFromString(raw)
		if perr != nil || !rate.IsPositive() {
			fmt.Fprintln(out, "Invalid rate. Purchase order cancelled.")
			return
		}
		req.ManualFXRate = &rate
		result, err = svc.CreatePurchaseOrder(ctx, core.Actor{}, req)
	}
	if err != nil {
		fmt.Fprintf(out, "Error creating purchase order: %v\n", err)
		return
	}

	fmt.Fprintf(out, "\nPurchase order created (ID: %d)\n", result.Order.ID)
	printPurchaseOrder(out, result.Order)
}

// handleStocktake records a counted quantity for one ingredient.
func handleStocktake(ctx context.Context, reader *bufio.Reader, out io.Writer, svc app.ApplicationService) {
	id, err := strconv.Atoi(prompt(reader, out, "Ingredient id: "))
	if err != nil || id <= 0 {
		fmt.Fprintln(out, "Invalid ingredient id. Stocktake cancelled.")
		return
	}
	counted, err := decimal.NewFromString(prompt(reader, out, "Counted quantity (g or ml): "))
	if err != nil {
		fmt.Fprintln(out, "Invalid quantity. Stocktake cancelled.")
		return
	}
	date := prompt(reader, out, "Count date (YYYY-MM-DD, leave blank for today): ")
	if date == "" {
		date = time.Now().Format(core.DateLayout)
	}
	note := prompt(reader, out, "Note (optional): ")

	res, err := svc.Stocktake(ctx, core.Actor{}, app.StocktakeRequest{
		IngredientID: id,
		Date:         date,
		CountedQty:   counted,
		Note:         note,
	})
	if err != nil {
		fmt.Fprintf(out, "Error recording stocktake: %v\n", err)
		return
	}
	if !res.Changed {
		fmt.Fprintln(out, "Count matches the ledger. Nothing recorded.")
		return
	}
	fmt.Fprintf(out, "Recorded adjustment of %s for ingredient %d.\n", res.Delta.String(), res.IngredientID)
}
