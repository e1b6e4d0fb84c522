package tasks

import (
	"context"
	"fmt"
	"time"
)

const defaultLedgerRetention = time.Hour

// newLedgerPruneTask forgets processed update ids older than the retention
// window. Telegram does not redeliver updates that old.
func newLedgerPruneTask(deps TaskDeps) ScheduledTaskFunc {
	log := deps.Logger.With("task", "update_ledger_prune")

	retention := deps.LedgerRetention
	if retention <= 0 {
		retention = defaultLedgerRetention
	}

	return func(ctx context.Context) error {
		cutoff := deps.Clock.Now().Add(-retention)

		n, err := deps.Store.PruneUpdates(ctx, cutoff)
		if err != nil {
			return fmt.Errorf("update ledger prune failed: %w", err)
		}

		log.DebugContext(ctx, "Pruned processed updates", "deleted", n, "cutoff", cutoff)
		return nil
	}
}
