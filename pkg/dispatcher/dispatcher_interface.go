package dispatcher

import "context"

// ReportDispatcher drains the report channel on its own loop, batches
// reports, and forwards batches in dequeue order.
type ReportDispatcher interface {
	Start(ctx context.Context) error
	// Stop drains and forwards what is left, then shuts the loop down.
	Stop()
}
