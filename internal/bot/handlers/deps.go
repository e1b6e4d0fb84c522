package handlers

import (
	"context"
	"log/slog"

	"github.com/edgard/goldenaxe/internal/engine"
)

// Submitter accepts updates for processing.
type Submitter interface {
	Submit(ctx context.Context, u engine.Update) error
}

// HandlerDeps provides dependencies for Telegram update handlers.
type HandlerDeps struct {
	Logger *slog.Logger
	Engine Submitter
}

// SubmitFunc adapts a function to the Submitter interface.
type SubmitFunc func(ctx context.Context, u engine.Update) error

// Submit calls f(ctx, u).
func (f SubmitFunc) Submit(ctx context.Context, u engine.Update) error {
	return f(ctx, u)
}
