package database

import "time"

// TitleRecord is a custom title the bot applied to a chat member.
type TitleRecord struct {
	ChatID    int64     `db:"chat_id"`
	UserID    int64     `db:"user_id"`
	Title     string    `db:"title"`
	UpdatedAt time.Time `db:"updated_at"`
}

// ProcessedUpdate marks an update id the bot has already accepted.
type ProcessedUpdate struct {
	UpdateID int64 `db:"update_id"`
	SeenAt   int64 `db:"seen_at"`
}
