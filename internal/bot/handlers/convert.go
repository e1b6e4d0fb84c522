package handlers

import (
	"time"

	"github.com/go-telegram/bot/models"

	"github.com/edgard/goldenaxe/internal/engine"
)

// ToUpdate converts a Telegram update into the engine's transport-neutral
// form. It reports false for update types the engine does not handle.
func ToUpdate(update *models.Update) (engine.Update, bool) {
	switch {
	case update == nil:
		return engine.Update{}, false
	case update.Message != nil:
		return fromMessage(update.ID, update.Message), true
	case update.ChatMember != nil:
		return fromChatMember(update.ID, update.ChatMember)
	default:
		return engine.Update{}, false
	}
}

func fromMessage(id int64, msg *models.Message) engine.Update {
	u := engine.Update{
		ID:         id,
		ChatID:     msg.Chat.ID,
		ChatKind:   engine.ChatKind(msg.Chat.Type),
		MessageID:  msg.ID,
		Text:       msg.Text,
		ReceivedAt: time.Unix(int64(msg.Date), 0),
	}
	if msg.From != nil {
		u.UserID = msg.From.ID
	}

	// In forum groups every message replies to its topic's opening message,
	// which is not a deliberate reply to a member.
	if r := msg.ReplyToMessage; r != nil && r.From != nil && r.ForumTopicCreated == nil {
		u.ReplyToUserID = r.From.ID
	}

	switch {
	case msg.LeftChatMember != nil:
		u.Membership = &engine.MembershipChange{UserID: msg.LeftChatMember.ID, Status: engine.MemberLeft}
	case len(msg.NewChatMembers) > 0:
		u.Membership = &engine.MembershipChange{UserID: msg.NewChatMembers[0].ID, Status: engine.MemberJoined}
	}

	return u
}

func fromChatMember(id int64, cm *models.ChatMemberUpdated) (engine.Update, bool) {
	userID := memberUserID(cm.NewChatMember)
	if userID == 0 {
		userID = memberUserID(cm.OldChatMember)
	}
	if userID == 0 {
		return engine.Update{}, false
	}

	status, ok := membershipStatus(cm.OldChatMember.Type, cm.NewChatMember.Type)
	if !ok {
		return engine.Update{}, false
	}

	return engine.Update{
		ID:         id,
		ChatID:     cm.Chat.ID,
		ChatKind:   engine.ChatKind(cm.Chat.Type),
		UserID:     cm.From.ID,
		Membership: &engine.MembershipChange{UserID: userID, Status: status},
		ReceivedAt: time.Unix(int64(cm.Date), 0),
	}, true
}

func memberUserID(cm models.ChatMember) int64 {
	switch {
	case cm.Owner != nil && cm.Owner.User != nil:
		return cm.Owner.User.ID
	case cm.Administrator != nil:
		return cm.Administrator.User.ID
	case cm.Member != nil && cm.Member.User != nil:
		return cm.Member.User.ID
	default:
		return 0
	}
}

func isAdminType(t models.ChatMemberType) bool {
	return t == models.ChatMemberTypeOwner || t == models.ChatMemberTypeAdministrator
}

func isGoneType(t models.ChatMemberType) bool {
	return t == models.ChatMemberTypeLeft || t == models.ChatMemberTypeBanned
}

func membershipStatus(oldType, newType models.ChatMemberType) (engine.MembershipStatus, bool) {
	switch {
	case isGoneType(newType) && !isGoneType(oldType):
		return engine.MemberLeft, true
	case isGoneType(oldType) && !isGoneType(newType):
		return engine.MemberJoined, true
	case isAdminType(newType) && !isAdminType(oldType):
		return engine.MemberPromoted, true
	case isAdminType(oldType) && !isAdminType(newType):
		return engine.MemberDemoted, true
	default:
		return "", false
	}
}
