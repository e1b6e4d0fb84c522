package engine

import (
	"context"
	"time"

	"github.com/edgard/goldenaxe/internal/database"
	"github.com/edgard/goldenaxe/internal/reporter"
)

// Member is the engine's view of a chat participant. The platform holds the
// authoritative copy.
type Member struct {
	UserID      int64
	ChatID      int64
	IsAdmin     bool
	IsOwner     bool
	CanBeEdited bool
	Title       string
}

// Platform is the remote chat service. Every error it returns should be a
// *PlatformError; anything else is handled as an internal failure.
type Platform interface {
	SetMemberTitle(ctx context.Context, chatID, userID int64, title string) error
	DemoteMember(ctx context.Context, chatID, userID int64) error
	GetChatAdministrators(ctx context.Context, chatID int64) ([]Member, error)
	SendMessage(ctx context.Context, chatID int64, text string, replyTo int) error
}

// Registry records applied titles and processed update ids for the lifetime
// of the process.
type Registry interface {
	PutTitle(ctx context.Context, chatID, userID int64, title string) error
	DeleteTitle(ctx context.Context, chatID, userID int64) error
	GetTitleOwner(ctx context.Context, chatID int64, title string) (int64, bool, error)
	ListTitles(ctx context.Context, chatID int64) ([]database.TitleRecord, error)
	MarkUpdateSeen(ctx context.Context, updateID int64, seenAt time.Time) (bool, error)
}

// Reporter receives unexpected failures for operator visibility. Report must not block.
type Reporter interface {
	Report(event reporter.ErrorEvent)
}
