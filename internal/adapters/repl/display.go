package repl

import (
	"fmt"
	"io"
	"strings"

	"gelato-costing/internal/core"
)

func printPurchaseOrder(out io.Writer, po *core.PurchaseOrder) {
	supplier := "-"
	if po.SupplierName != nil {
		supplier = *po.SupplierName
	}
	fmt.Fprintln(out, strings.Repeat("=", 78))
	fmt.Fprintf(out, "  Date: %s   Supplier: %s   Currency: %s @ %s BWP\n",
		po.OrderDate, supplier, po.Currency, po.FXRateUsed.String())
	fmt.Fprintln(out, strings.Repeat("-", 78))
	fmt.Fprintf(out, "  %-28s %14s %16s %16s\n", "INGREDIENT", "QTY", "UNIT "+string(po.Currency), "UNIT BWP")
	for _, l := range po.Lines {
		fmt.Fprintf(out, "  %-28s %14s %16s %16s\n",
			l.IngredientName, l.Qty.String(), l.UnitCostNative.StringFixed(6), l.UnitCostBWP.StringFixed(6))
	}
	fmt.Fprintln(out, strings.Repeat("-", 78))
	fmt.Fprintf(out, "  %-28s %14s %16s %16s\n", "TOTAL", "", po.TotalNative.StringFixed(2), po.TotalBWP.StringFixed(2))
	fmt.Fprintln(out, strings.Repeat("=", 78))
}
