// Package tasks implements scheduled maintenance tasks for goldenaxe.
// It includes task definitions, dependencies, and registration mechanisms.
package tasks

import (
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/edgard/goldenaxe/internal/database"
)

// AdminCacheSweeper drops expired administrator cache entries.
type AdminCacheSweeper interface {
	Sweep() int
}

// TaskDeps contains all dependencies required by scheduled tasks.
type TaskDeps struct {
	Logger     *slog.Logger
	Store      database.Store
	AdminCache AdminCacheSweeper
	Clock      clockwork.Clock
	// LedgerRetention is how long processed update ids are remembered.
	LedgerRetention time.Duration
}
