package tasks

import (
	"context"
)

// newAdminCacheSweepTask drops expired administrator lists so chats the bot
// no longer hears from do not keep memory alive.
func newAdminCacheSweepTask(deps TaskDeps) ScheduledTaskFunc {
	log := deps.Logger.With("task", "admin_cache_sweep")

	return func(ctx context.Context) error {
		if n := deps.AdminCache.Sweep(); n > 0 {
			log.DebugContext(ctx, "Swept expired admin cache entries", "removed", n)
		}
		return nil
	}
}
