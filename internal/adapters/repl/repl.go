package repl

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"gelato-costing/internal/adapters/cli"
	"gelato-costing/internal/app"
)

// Run starts the interactive loop. Slash commands map onto the one-shot CLI
// commands; /new-po and /stocktake run interactive wizards. Run returns when
// the user exits or the reader is exhausted.
func Run(ctx context.Context, svc app.ApplicationService, reader *bufio.Reader, out io.Writer) {
	fmt.Fprintln(out, "Gelato Costing")
	fmt.Fprintln(out, "Type /help for commands.")
	fmt.Fprintln(out, strings.Repeat("-", 70))

	errExit := errors.New("exit")

	dispatch := func(input string) error {
		tokens := strings.Fields(strings.TrimPrefix(input, "/"))
		if len(tokens) == 0 {
			return nil
		}
		cmd := strings.ToLower(tokens[0])
		args := tokens[1:]

		switch cmd {
		case "new-po":
			handleNewPurchaseOrder(ctx, reader, out, svc)
		case "stocktake":
			handleStocktake(ctx, reader, out, svc)
		case "help", "h":
			printHelp(out)
		case "exit", "quit", "e", "q":
			return errExit
		case "migrate":
			fmt.Fprintln(out, "Run 'app migrate' from the shell to apply the schema.")
		default:
			err := cli.Run(ctx, svc, append([]string{cmd}, args...), out)
			if errors.Is(err, cli.ErrUsage) {
				fmt.Fprintf(out, "%v  (type /help for all commands)\n", err)
				return nil
			}
			return err
		}
		return nil
	}

	for {
		fmt.Fprint(out, "\n> ")
		input, readErr := reader.ReadString('\n')
		input = strings.TrimSpace(input)

		if input != "" {
			if err := dispatch(input); err != nil {
				if errors.Is(err, errExit) {
					fmt.Fprintln(out, "Goodbye!")
					return
				}
				fmt.Fprintf(out, "Error: %v\n", err)
			}
		}
		if readErr != nil {
			if !errors.Is(readErr, io.EOF) {
				fmt.Fprintf(out, "Error: %v\n", readErr)
			}
			return
		}
	}
}

func printHelp(out io.Writer) {
	fmt.Fprintln(out)
	fmt.Fprintln(out, "GELATO COSTING, COMMANDS")
	fmt.Fprintln(out, strings.Repeat("=", 62))
	fmt.Fprintln(out)
	fmt.Fprintln(out, "  COSTING")
	fmt.Fprintln(out, "  /wac [ingredient-id]               Recalculate WAC")
	fmt.Fprintln(out, "  /normalize-scan [ingredient-id]    List PO lines saved with totals")
	fmt.Fprintln(out, "  /normalize-apply [ingredient-id]   Repair them and recalculate WAC")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "  EXCHANGE RATES")
	fmt.Fprintln(out, "  /fx-quote <date> <cur> [to]        Resolve a rate")
	fmt.Fprintln(out, "  /fx-set <date> <cur> <rate>        Store BWP per unit of cur")
	fmt.Fprintln(out, "  /fx-import <file>                  Bulk-load date,currency,rate CSV")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "  PURCHASING & STOCK")
	fmt.Fprintln(out, "  /new-po                            Enter a purchase order (interactive)")
	fmt.Fprintln(out, "  /stock                             On-hand, WAC and reorder flags")
	fmt.Fprintln(out, "  /history <ingredient-id> [limit]   Recent ledger rows")
	fmt.Fprintln(out, "  /stocktake                         Record a physical count (interactive)")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "  SESSION")
	fmt.Fprintln(out, "  /help                              Show this help")
	fmt.Fprintln(out, "  /exit                              Exit")
	fmt.Fprintln(out, strings.Repeat("=", 62))
}
