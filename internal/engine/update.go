// Package engine implements update dispatch and the title-command lifecycle:
// parsing inbound updates into commands, authorizing the issuer, applying
// title mutations against the chat platform with bounded retries, and
// acknowledging every command exactly once.
package engine

import "time"

// ChatKind is the type of chat an update originated from.
type ChatKind string

const (
	ChatPrivate    ChatKind = "private"
	ChatGroup      ChatKind = "group"
	ChatSupergroup ChatKind = "supergroup"
	ChatChannel    ChatKind = "channel"
)

// IsGroup reports whether titles can be managed in this kind of chat.
func (k ChatKind) IsGroup() bool {
	return k == ChatGroup || k == ChatSupergroup
}

// MembershipStatus describes what happened to a member in a membership-change update.
type MembershipStatus string

const (
	MemberJoined   MembershipStatus = "joined"
	MemberLeft     MembershipStatus = "left"
	MemberPromoted MembershipStatus = "promoted"
	MemberDemoted  MembershipStatus = "demoted"
)

// MembershipChange is the payload of a membership-change update.
type MembershipChange struct {
	UserID int64
	Status MembershipStatus
}

// Update is one inbound event from the platform. It is immutable once built
// and consumed exactly once by the engine.
type Update struct {
	ID            int64
	ChatID        int64
	ChatKind      ChatKind
	UserID        int64
	MessageID     int
	ReplyToUserID int64
	Text          string
	Membership    *MembershipChange
	ReceivedAt    time.Time
}
