package handlers

import (
	tgbot "github.com/go-telegram/bot"
)

// RegisteredHandler represents a command handler with its description and middleware.
// It encapsulates all information needed to register and document a command.
type RegisteredHandler struct {
	HandlerType tgbot.HandlerType
	Pattern     string
	// Description is shown in Telegram's command menu. Aliases leave it empty.
	Description string
	Handler     tgbot.HandlerFunc
	Middleware  []tgbot.Middleware
	MatchType   tgbot.MatchType
}

// RegisterAllCommands initializes and returns a map of all available bot commands.
// Every command goes through the same dispatch handler; the engine's parser
// decides what the update means.
func RegisterAllCommands(deps HandlerDeps) map[string]RegisteredHandler {
	handlers := make(map[string]RegisteredHandler)

	dispatch := NewDispatchHandler(deps)
	middleware := []tgbot.Middleware{IgnoreBots(deps)}

	for _, c := range []struct{ name, description string }{
		{"title", "Set a title (reply to a member to set theirs)"},
		{"settitle", ""},
		{"cleartitle", "Clear a title (reply to a member to clear theirs)"},
		{"untitle", ""},
		{"demote", "Drop your own title and admin rights"},
		{"titles", "List titles in this group"},
		{"help", "Show help"},
		{"start", ""},
	} {
		handlers["/"+c.name] = RegisteredHandler{
			HandlerType: tgbot.HandlerTypeMessageText,
			Pattern:     c.name,
			Description: c.description,
			Handler:     dispatch,
			MatchType:   tgbot.MatchTypeCommand,
			Middleware:  middleware,
		}
	}

	return handlers
}
