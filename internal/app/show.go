package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"
)

// Show prints recent settlement records.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show settlements")
	}
	if closeStore != nil {
		defer closeStore()
	}

	records, err := store.ListRecentSettlements(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(os.Stdout, "no settlements found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Settled (UTC)\tTx Hash\tFrom\tTo\tValue\tBlock\tRefund")

	for _, rec := range records {
		refundMark := ""
		refund, refundErr := store.GetRefund(ctx, rec.TxHash)
		if refundErr != nil {
			return refundErr
		}
		if refund != nil {
			refundMark = "refunded"
		}

		auth := rec.Authorization
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			rec.Timestamp.UTC().Format(time.RFC3339),
			shortenHash(rec.TxHash),
			shortenHash(auth.From),
			shortenHash(auth.To),
			auth.Value,
			rec.BlockNumber,
			refundMark,
		)
	}

	writer.Flush()
	return nil
}

// shortenHash keeps table columns readable: 0x1234…abcd.
func shortenHash(v string) string {
	if len(v) <= 14 || !strings.HasPrefix(v, "0x") {
		return v
	}
	return v[:8] + ".." + v[len(v)-4:]
}
