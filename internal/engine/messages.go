package engine

// Messages holds every user-facing reply the engine sends.
type Messages struct {
	Help             string `mapstructure:"help"`
	Applied          string `mapstructure:"applied"`
	Cleared          string `mapstructure:"cleared"`
	Demoted          string `mapstructure:"demoted"`
	NotInGroup       string `mapstructure:"not_in_group"`
	Malformed        string `mapstructure:"malformed"`
	TitleTooLong     string `mapstructure:"title_too_long"`
	TitleInUse       string `mapstructure:"title_in_use"`
	NotAdmin         string `mapstructure:"not_admin"`
	TargetIsBot      string `mapstructure:"target_is_bot"`
	PlatformRejected string `mapstructure:"platform_rejected"`
	Deferred         string `mapstructure:"deferred"`
	ShuttingDown     string `mapstructure:"shutting_down"`
	Internal         string `mapstructure:"internal"`
	NoTitles         string `mapstructure:"no_titles"`
	TitlesHeader     string `mapstructure:"titles_header"`
}

// DefaultMessages returns the stock English replies.
func DefaultMessages() Messages {
	return Messages{
		Help: "I manage member titles in this group.\n\n" +
			"/title <text> - set your title, or reply to a member to set theirs (admins only)\n" +
			"/cleartitle - clear your title, or reply to a member to clear theirs (admins only)\n" +
			"/demote - drop your own title and the rights that came with it\n" +
			"/titles - list titles in this group\n" +
			"/help - show this message",
		Applied:          "Done! Wait for a while to take effect.",
		Cleared:          "Done! The title is cleared.",
		Demoted:          "Done! You are no longer promoted.",
		NotInGroup:       "This command can only be used in group",
		Malformed:        "Usage: /title <text>, optionally as a reply to the member you want to title.",
		TitleTooLong:     "That title is too long.",
		TitleInUse:       "Title already in use",
		NotAdmin:         "Only administrators can change other members' titles.",
		TargetIsBot:      "I can't give myself a title.",
		PlatformRejected: "Telegram refused the change.",
		Deferred:         "Telegram is busy right now, try again later.",
		ShuttingDown:     "I'm restarting, try again in a minute.",
		Internal:         "Something went wrong. The operators have been notified.",
		NoTitles:         "No titles recorded in this group yet.",
		TitlesHeader:     "Titles in this group:",
	}
}
