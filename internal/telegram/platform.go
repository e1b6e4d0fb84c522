package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/samber/lo"

	"github.com/edgard/goldenaxe/internal/engine"
)

// User-facing reasons for permanent failures.
const (
	reasonNotEditable  = "I can't change your info (are you promoted by others?)"
	reasonOwner        = "I can't change the title of the group owner."
	reasonNotMember    = "That user is not a member of this group."
	reasonRestricted   = "I can't promote restricted members."
	reasonNoRights     = "I don't have enough rights in this group. Make me an admin who can add new admins."
	reasonBadRequest   = "Telegram rejected the change."
	reasonUnauthorized = "My credentials were rejected by Telegram."
)

// Platform implements engine.Platform on top of a go-telegram/bot client.
type Platform struct {
	bot *bot.Bot
	log *slog.Logger
}

// NewPlatform wraps b.
func NewPlatform(b *bot.Bot, logger *slog.Logger) *Platform {
	return &Platform{bot: b, log: logger.With("component", "telegram_platform")}
}

// SetMemberTitle sets userID's custom title. Telegram only allows titles on
// administrators promoted by the bot, so a plain member is first promoted
// with the least privilege that makes them an administrator.
func (p *Platform) SetMemberTitle(ctx context.Context, chatID, userID int64, title string) error {
	const op = "set_member_title"

	cm, err := p.bot.GetChatMember(ctx, &bot.GetChatMemberParams{ChatID: chatID, UserID: userID})
	if err != nil {
		return classify(op, err)
	}

	switch cm.Type {
	case models.ChatMemberTypeOwner:
		return engine.NewPermanent(op, reasonOwner, nil)
	case models.ChatMemberTypeAdministrator:
		if cm.Administrator == nil || !cm.Administrator.CanBeEdited {
			return engine.NewPermanent(op, reasonNotEditable, nil)
		}
	case models.ChatMemberTypeMember:
		if title == "" {
			// Plain members carry no title.
			return nil
		}
		_, err := p.bot.PromoteChatMember(ctx, &bot.PromoteChatMemberParams{
			ChatID:         chatID,
			UserID:         userID,
			CanInviteUsers: true,
		})
		if err != nil {
			return classify(op, err)
		}
		p.log.DebugContext(ctx, "Promoted member to carry a title", "chat_id", chatID, "user_id", userID)
	case models.ChatMemberTypeRestricted:
		return engine.NewPermanent(op, reasonRestricted, nil)
	default:
		return engine.NewPermanent(op, reasonNotMember, nil)
	}

	_, err = p.bot.SetChatAdministratorCustomTitle(ctx, &bot.SetChatAdministratorCustomTitleParams{
		ChatID:      chatID,
		UserID:      userID,
		CustomTitle: title,
	})
	return classify(op, err)
}

// DemoteMember removes every administrator right from userID, which also
// drops their custom title.
func (p *Platform) DemoteMember(ctx context.Context, chatID, userID int64) error {
	const op = "demote_member"

	cm, err := p.bot.GetChatMember(ctx, &bot.GetChatMemberParams{ChatID: chatID, UserID: userID})
	if err != nil {
		return classify(op, err)
	}

	switch cm.Type {
	case models.ChatMemberTypeOwner:
		return engine.NewPermanent(op, reasonOwner, nil)
	case models.ChatMemberTypeAdministrator:
		if cm.Administrator == nil || !cm.Administrator.CanBeEdited {
			return engine.NewPermanent(op, reasonNotEditable, nil)
		}
	default:
		// Already not an administrator.
		return nil
	}

	_, err = p.bot.PromoteChatMember(ctx, &bot.PromoteChatMemberParams{ChatID: chatID, UserID: userID})
	return classify(op, err)
}

// GetChatAdministrators lists the administrators and owner of chatID.
func (p *Platform) GetChatAdministrators(ctx context.Context, chatID int64) ([]engine.Member, error) {
	members, err := p.bot.GetChatAdministrators(ctx, &bot.GetChatAdministratorsParams{ChatID: chatID})
	if err != nil {
		return nil, classify("get_chat_administrators", err)
	}

	admins := lo.FilterMap(members, func(cm models.ChatMember, _ int) (engine.Member, bool) {
		return toMember(chatID, cm)
	})
	return admins, nil
}

// SendMessage sends an HTML message, quoting replyTo when it is non-zero.
func (p *Platform) SendMessage(ctx context.Context, chatID int64, text string, replyTo int) error {
	params := &bot.SendMessageParams{
		ChatID:    chatID,
		Text:      text,
		ParseMode: models.ParseModeHTML,
	}
	if replyTo != 0 {
		params.ReplyParameters = &models.ReplyParameters{
			MessageID:                replyTo,
			AllowSendingWithoutReply: true,
		}
	}

	_, err := p.bot.SendMessage(ctx, params)
	return classify("send_message", err)
}

func toMember(chatID int64, cm models.ChatMember) (engine.Member, bool) {
	switch {
	case cm.Owner != nil && cm.Owner.User != nil:
		return engine.Member{
			UserID:      cm.Owner.User.ID,
			ChatID:      chatID,
			IsAdmin:     true,
			IsOwner:     true,
			Title:       cm.Owner.CustomTitle,
			CanBeEdited: false,
		}, true
	case cm.Administrator != nil:
		return engine.Member{
			UserID:      cm.Administrator.User.ID,
			ChatID:      chatID,
			IsAdmin:     true,
			CanBeEdited: cm.Administrator.CanBeEdited,
			Title:       cm.Administrator.CustomTitle,
		}, true
	default:
		return engine.Member{}, false
	}
}

// classify maps go-telegram/bot errors onto the engine's transient and
// permanent kinds. Anything unrecognized is returned wrapped but
// unclassified, and the engine treats it as internal.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}

	var tooMany *bot.TooManyRequestsError
	switch {
	case errors.As(err, &tooMany):
		return engine.NewTransient(op, time.Duration(tooMany.RetryAfter)*time.Second, err)
	case errors.Is(err, bot.ErrorForbidden):
		return engine.NewPermanent(op, reasonNoRights, err)
	case errors.Is(err, bot.ErrorBadRequest):
		return engine.NewPermanent(op, reasonBadRequest, err)
	case errors.Is(err, bot.ErrorNotFound):
		return engine.NewPermanent(op, reasonNotMember, err)
	case errors.Is(err, bot.ErrorUnauthorized):
		return engine.NewPermanent(op, reasonUnauthorized, err)
	case errors.Is(err, context.DeadlineExceeded):
		return engine.NewTransient(op, 0, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return engine.NewTransient(op, 0, err)
	}

	return fmt.Errorf("%s: %w", op, err)
}
