package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
)

// Store defines the interface for database operations.
// Methods should accept context.Context for cancellation and timeouts.
type Store interface {
	// Ping checks the database connection.
	Ping(ctx context.Context) error

	// PutTitle records title as userID's title in chatID, replacing any previous one.
	PutTitle(ctx context.Context, chatID, userID int64, title string) error

	// DeleteTitle forgets userID's title in chatID. Missing rows are not an error.
	DeleteTitle(ctx context.Context, chatID, userID int64) error

	// GetTitleOwner returns the member holding title in chatID, if any.
	GetTitleOwner(ctx context.Context, chatID int64, title string) (int64, bool, error)

	// ListTitles returns every recorded title in chatID ordered by title.
	ListTitles(ctx context.Context, chatID int64) ([]TitleRecord, error)

	// MarkUpdateSeen records updateID and reports whether it was new.
	MarkUpdateSeen(ctx context.Context, updateID int64, seenAt time.Time) (bool, error)

	// PruneUpdates deletes update ids recorded before the given time.
	PruneUpdates(ctx context.Context, before time.Time) (int64, error)

	// RunSQLMaintenance performs database maintenance tasks like VACUUM.
	RunSQLMaintenance(ctx context.Context) error
}

// sqlxStore provides an implementation of the Store interface using sqlx.
type sqlxStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStore creates a new Store implementation backed by sqlx.
// It requires a connected sqlx.DB instance and a logger.
func NewStore(db *sqlx.DB, logger *slog.Logger) Store {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &sqlxStore{
		db:     db,
		logger: logger.With("component", "store"),
	}
}

// Ping checks the database connection.
func (s *sqlxStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *sqlxStore) PutTitle(ctx context.Context, chatID, userID int64, title string) error {
	if chatID == 0 || userID == 0 {
		return fmt.Errorf("title must have non-zero chat_id and user_id")
	}
	if title == "" {
		return fmt.Errorf("title must not be empty")
	}

	record := TitleRecord{ChatID: chatID, UserID: userID, Title: title, UpdatedAt: time.Now().UTC()}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to begin transaction for saving title",
			"chat_id", chatID, "user_id", userID, "error", err)
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(); rollbackErr != nil && !errors.Is(rollbackErr, sql.ErrTxDone) {
			s.logger.WarnContext(ctx, "Error rolling back transaction", "error", rollbackErr)
		}
	}()

	// Drop a stale row for this title left by a member who no longer holds it.
	_, err = tx.ExecContext(ctx,
		`DELETE FROM titles WHERE chat_id = ? AND title = ? AND user_id <> ?;`,
		chatID, title, userID)
	if err != nil {
		return fmt.Errorf("failed to clear previous holder of title in chat %d: %w", chatID, err)
	}

	query := `
        INSERT INTO titles (chat_id, user_id, title, updated_at)
        VALUES (:chat_id, :user_id, :title, :updated_at)
        ON CONFLICT (chat_id, user_id) DO UPDATE SET
            title = excluded.title,
            updated_at = excluded.updated_at;
    `
	if _, err := tx.NamedExecContext(ctx, query, record); err != nil {
		s.logger.ErrorContext(ctx, "Error saving title", "chat_id", chatID, "user_id", userID, "error", err)
		return fmt.Errorf("failed to save title (chat %d, user %d): %w", chatID, userID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit title (chat %d, user %d): %w", chatID, userID, err)
	}

	s.logger.DebugContext(ctx, "Title saved", "chat_id", chatID, "user_id", userID)
	return nil
}

func (s *sqlxStore) DeleteTitle(ctx context.Context, chatID, userID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM titles WHERE chat_id = ? AND user_id = ?;`, chatID, userID)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error deleting title", "chat_id", chatID, "user_id", userID, "error", err)
		return fmt.Errorf("failed to delete title (chat %d, user %d): %w", chatID, userID, err)
	}
	return nil
}

func (s *sqlxStore) GetTitleOwner(ctx context.Context, chatID int64, title string) (int64, bool, error) {
	var userID int64
	err := s.db.GetContext(ctx, &userID,
		`SELECT user_id FROM titles WHERE chat_id = ? AND title = ?;`, chatID, title)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		return 0, false, nil
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		s.logger.WarnContext(ctx, "Title lookup cancelled or timed out", "chat_id", chatID, "error", err)
		return 0, false, fmt.Errorf("title lookup interrupted: %w", err)
	case err != nil:
		s.logger.ErrorContext(ctx, "Error looking up title owner", "chat_id", chatID, "error", err)
		return 0, false, fmt.Errorf("failed to look up title owner in chat %d: %w", chatID, err)
	}

	return userID, true, nil
}

func (s *sqlxStore) ListTitles(ctx context.Context, chatID int64) ([]TitleRecord, error) {
	var records []TitleRecord
	err := s.db.SelectContext(ctx, &records,
		`SELECT chat_id, user_id, title, updated_at FROM titles WHERE chat_id = ? ORDER BY title;`, chatID)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error listing titles", "chat_id", chatID, "error", err)
		return nil, fmt.Errorf("failed to list titles for chat %d: %w", chatID, err)
	}
	return records, nil
}

func (s *sqlxStore) MarkUpdateSeen(ctx context.Context, updateID int64, seenAt time.Time) (bool, error) {
	res, err := s.db.NamedExecContext(ctx,
		`INSERT OR IGNORE INTO processed_updates (update_id, seen_at) VALUES (:update_id, :seen_at);`,
		ProcessedUpdate{UpdateID: updateID, SeenAt: seenAt.Unix()})
	if err != nil {
		return false, fmt.Errorf("failed to record update %d: %w", updateID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected for update %d: %w", updateID, err)
	}
	return n == 1, nil
}

func (s *sqlxStore) PruneUpdates(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM processed_updates WHERE seen_at < ?;`, before.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to prune processed updates: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		s.logger.WarnContext(ctx, "Could not read rows affected after pruning updates", "error", err)
		return 0, nil
	}
	return n, nil
}

// RunSQLMaintenance executes a VACUUM command on the SQLite database.
func (s *sqlxStore) RunSQLMaintenance(ctx context.Context) error {
	if ctx.Err() != nil {
		s.logger.WarnContext(ctx, "Context cancelled or timed out before starting VACUUM", "error", ctx.Err())
		return ctx.Err()
	}

	s.logger.InfoContext(ctx, "Starting database maintenance (VACUUM)...")

	// VACUUM must run outside a transaction.
	_, err := s.db.ExecContext(ctx, "VACUUM;")

	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		s.logger.WarnContext(ctx, "VACUUM operation timed out or was cancelled", "error", err)
		return fmt.Errorf("database maintenance (VACUUM) timed out: %w", err)
	case err != nil:
		s.logger.ErrorContext(ctx, "Error during VACUUM operation", "error", err)
		return fmt.Errorf("failed to execute VACUUM: %w", err)
	}

	s.logger.InfoContext(ctx, "Database maintenance (VACUUM) completed successfully.")
	return nil
}
