package engine

import (
	"strings"
)

// Parser turns raw updates into commands. It only performs syntactic checks;
// title length policy belongs to the engine.
type Parser struct {
	botUsername string
}

// NewParser creates a parser that accepts commands addressed either to no bot
// in particular ("/title") or to botUsername ("/title@botUsername").
func NewParser(botUsername string) *Parser {
	return &Parser{botUsername: strings.TrimPrefix(botUsername, "@")}
}

// Parse classifies u. It never fails: structurally broken commands become Invalid,
// ordinary chat traffic becomes Unrecognized.
func (p *Parser) Parse(u Update) Command {
	if u.Membership != nil {
		if u.Membership.UserID == 0 {
			return Unrecognized{}
		}
		return MembershipChanged{Chat: u.ChatID, User: u.Membership.UserID, Status: u.Membership.Status}
	}

	name, args, ok := p.split(u.Text)
	if !ok {
		return Unrecognized{}
	}

	switch name {
	case "help", "start":
		return Help{Chat: u.ChatID, ReplyTo: u.MessageID}
	case "title", "settitle":
		if cmd, bad := p.checkGroupSender(u); bad {
			return cmd
		}
		if args == "" {
			return Invalid{Chat: u.ChatID, ReplyTo: u.MessageID, Err: ErrMalformed}
		}
		return SetTitle{
			Chat:    u.ChatID,
			Issuer:  u.UserID,
			Target:  targetOf(u),
			Title:   args,
			ReplyTo: u.MessageID,
		}
	case "cleartitle", "untitle":
		if cmd, bad := p.checkGroupSender(u); bad {
			return cmd
		}
		return ClearTitle{Chat: u.ChatID, Issuer: u.UserID, Target: targetOf(u), ReplyTo: u.MessageID}
	case "demote":
		if cmd, bad := p.checkGroupSender(u); bad {
			return cmd
		}
		// Demotion is only ever self-service.
		return ClearTitle{Chat: u.ChatID, Issuer: u.UserID, Target: u.UserID, ReplyTo: u.MessageID, Demote: true}
	case "titles":
		if !u.ChatKind.IsGroup() {
			return Invalid{Chat: u.ChatID, ReplyTo: u.MessageID, Err: ErrNotInGroup}
		}
		return ListTitles{Chat: u.ChatID, ReplyTo: u.MessageID}
	default:
		return Unrecognized{}
	}
}

func (p *Parser) checkGroupSender(u Update) (Command, bool) {
	if !u.ChatKind.IsGroup() {
		return Invalid{Chat: u.ChatID, ReplyTo: u.MessageID, Err: ErrNotInGroup}, true
	}
	if u.UserID == 0 {
		return Invalid{Chat: u.ChatID, ReplyTo: u.MessageID, Err: ErrMalformed}, true
	}
	return nil, false
}

// split extracts the lower-cased command name and its trimmed argument string.
// Commands addressed to a different bot are rejected.
func (p *Parser) split(text string) (string, string, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", "", false
	}

	head, rest, _ := strings.Cut(text[1:], " ")
	if i := strings.IndexAny(head, "\n\t"); i >= 0 {
		rest = head[i+1:] + " " + rest
		head = head[:i]
	}

	name, addressee, addressed := strings.Cut(head, "@")
	if addressed && !strings.EqualFold(addressee, p.botUsername) {
		return "", "", false
	}
	if name == "" {
		return "", "", false
	}

	return strings.ToLower(name), strings.TrimSpace(rest), true
}

// targetOf resolves the member a command acts on: the author of the replied-to
// message, or the issuer themself.
func targetOf(u Update) int64 {
	if u.ReplyToUserID != 0 {
		return u.ReplyToUserID
	}
	return u.UserID
}
