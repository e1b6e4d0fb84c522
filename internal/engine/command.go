package engine

// Command is a parsed intent derived from an Update. The set of variants is
// closed: only types in this package implement it.
type Command interface {
	command()
}

// SetTitle assigns Title to Target in Chat on behalf of Issuer.
type SetTitle struct {
	Chat    int64
	Issuer  int64
	Target  int64
	Title   string
	ReplyTo int
}

// ClearTitle removes Target's title. With Demote set, Target is also stripped
// of the administrator rights the bot granted to carry the title.
type ClearTitle struct {
	Chat    int64
	Issuer  int64
	Target  int64
	ReplyTo int
	Demote  bool
}

// ListTitles asks for the titles currently recorded in Chat.
type ListTitles struct {
	Chat    int64
	ReplyTo int
}

// Help asks for the command reference.
type Help struct {
	Chat    int64
	ReplyTo int
}

// MembershipChanged reports that User's membership in Chat changed.
type MembershipChanged struct {
	Chat   int64
	User   int64
	Status MembershipStatus
}

// Invalid is a recognized command that is structurally unusable. Err is one
// of ErrMalformed or ErrNotInGroup.
type Invalid struct {
	Chat    int64
	ReplyTo int
	Err     error
}

// Unrecognized is anything that is not addressed to the bot. It is dropped silently.
type Unrecognized struct{}

func (SetTitle) command()          {}
func (ClearTitle) command()        {}
func (ListTitles) command()        {}
func (Help) command()              {}
func (MembershipChanged) command() {}
func (Invalid) command()           {}
func (Unrecognized) command()      {}

// Key identifies the member a mutation targets. Mutations sharing a Key are serialized.
type Key struct {
	Chat   int64
	Target int64
}

// keyOf returns the serialization key of a mutating command.
func keyOf(cmd Command) (Key, bool) {
	switch c := cmd.(type) {
	case SetTitle:
		return Key{Chat: c.Chat, Target: c.Target}, true
	case ClearTitle:
		return Key{Chat: c.Chat, Target: c.Target}, true
	default:
		return Key{}, false
	}
}

// commandName is used in logs and debug reports.
func commandName(cmd Command) string {
	switch c := cmd.(type) {
	case SetTitle:
		return "set_title"
	case ClearTitle:
		if c.Demote {
			return "demote"
		}
		return "clear_title"
	case ListTitles:
		return "list_titles"
	case Help:
		return "help"
	case MembershipChanged:
		return "membership_changed"
	case Invalid:
		return "invalid"
	default:
		return "unrecognized"
	}
}
