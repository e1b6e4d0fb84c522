package handlers

import (
	"context"
	"errors"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/edgard/goldenaxe/internal/engine"
)

// NewDispatchHandler returns the handler that forwards every update to the engine.
// It serves both the registered commands and the default handler.
func NewDispatchHandler(deps HandlerDeps) bot.HandlerFunc {
	return dispatchHandler{deps}.Handle
}

type dispatchHandler struct {
	deps HandlerDeps
}

func (h dispatchHandler) Handle(ctx context.Context, _ *bot.Bot, update *models.Update) {
	log := h.deps.Logger.With("handler", "dispatch")

	u, ok := ToUpdate(update)
	if !ok {
		log.DebugContext(ctx, "Ignoring unsupported update", "update_id", update.ID)
		return
	}

	if err := h.deps.Engine.Submit(ctx, u); err != nil {
		if errors.Is(err, engine.ErrShuttingDown) || errors.Is(err, context.Canceled) {
			log.InfoContext(ctx, "Update not accepted during shutdown", "update_id", update.ID)
			return
		}
		log.ErrorContext(ctx, "Failed to submit update", "update_id", update.ID, "error", err)
	}
}
