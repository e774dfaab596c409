package billing

import (
	"context"
	"log/slog"
	"time"
)

// PollUntilPaid polls gw every interval until the invoice reaches a terminal
// status or timeout elapses. It returns true only for a paid invoice.
// Lookup errors are treated like a pending status. Cancellation of ctx
// returns its error.
func PollUntilPaid(ctx context.Context, gw Gateway, invoiceID string, interval, timeout time.Duration, logger *slog.Logger) (bool, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		status, err := gw.PollStatus(ctx, invoiceID)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			logger.Warn("Invoice status lookup failed",
				"gateway", gw.Name(),
				"invoice_id", invoiceID,
				"error", err,
			)
		case status == StatusPaid:
			return true, nil
		case status.IsTerminal():
			logger.Info("Invoice closed without payment",
				"gateway", gw.Name(),
				"invoice_id", invoiceID,
				"status", status,
			)
			return false, nil
		}

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-deadline.C:
			logger.Info("Invoice polling timed out",
				"gateway", gw.Name(),
				"invoice_id", invoiceID,
				"timeout", timeout,
			)
			return false, nil
		case <-ticker.C:
		}
	}
}
