// Package reporter forwards unexpected failures to an operator debug chat.
package reporter

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
)

// ErrorEvent describes one unexpected failure.
type ErrorEvent struct {
	Context   string
	Cause     error
	Timestamp time.Time
}

// Sender delivers a message to a chat.
type Sender interface {
	SendMessage(ctx context.Context, chatID int64, text string, replyTo int) error
}

// Config controls delivery.
type Config struct {
	// ChatID is the debug chat. Zero means events are only logged.
	ChatID     int64
	Buffer     int
	RetryDelay time.Duration
	Timeout    time.Duration
}

// Reporter delivers events from a buffered queue on its own goroutine so
// callers never wait on the debug chat.
type Reporter struct {
	cfg    Config
	sender Sender
	log    *slog.Logger
	clock  clockwork.Clock
	events chan string
}

// New creates a reporter. Run must be started for events to be delivered.
func New(cfg Config, sender Sender, log *slog.Logger, clock clockwork.Clock) *Reporter {
	if cfg.Buffer <= 0 {
		cfg.Buffer = 64
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 2 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Reporter{
		cfg:    cfg,
		sender: sender,
		log:    log.With("component", "reporter"),
		clock:  clock,
		events: make(chan string, cfg.Buffer),
	}
}

// Report queues event for delivery. It never blocks; when the queue is full
// the event is logged and dropped.
func (r *Reporter) Report(event ErrorEvent) {
	r.log.Warn("Unexpected error", "context", event.Context, "error", event.Cause, "at", event.Timestamp)

	if r.cfg.ChatID == 0 {
		return
	}

	text := fmt.Sprintf("<b>Error</b> at %s\n<code>%s</code>\n%s",
		event.Timestamp.UTC().Format(time.RFC3339),
		html.EscapeString(event.Context),
		html.EscapeString(fmt.Sprint(event.Cause)))
	r.enqueue(text)
}

// Notify queues an operational notice, such as the online message.
func (r *Reporter) Notify(text string) {
	r.log.Info("Notice", "text", text)

	if r.cfg.ChatID == 0 {
		return
	}
	r.enqueue(html.EscapeString(text))
}

// Deliver sends text right away, bypassing the queue. It is used for the
// offline notice once the worker has stopped.
func (r *Reporter) Deliver(ctx context.Context, text string) {
	if r.cfg.ChatID == 0 {
		r.log.Info("Notice", "text", text)
		return
	}
	r.send(ctx, html.EscapeString(text))
}

func (r *Reporter) enqueue(text string) {
	select {
	case r.events <- text:
	default:
		r.log.Warn("Debug report queue full, dropping event")
	}
}

// Run delivers queued events until ctx is cancelled.
func (r *Reporter) Run(ctx context.Context) error {
	if r.cfg.ChatID == 0 {
		r.log.Info("No debug chat configured, errors will only be logged")
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case text := <-r.events:
			r.send(ctx, text)
		}
	}
}

// send tries once, waits, tries once more, then gives up.
func (r *Reporter) send(ctx context.Context, text string) {
	err := r.attempt(ctx, text)
	if err == nil {
		return
	}

	r.log.Warn("Failed to deliver debug message, retrying once", "error", err)

	select {
	case <-ctx.Done():
		r.log.Warn("Dropping debug message", "error", ctx.Err())
		return
	case <-r.clock.After(r.cfg.RetryDelay):
	}

	if err := r.attempt(ctx, text); err != nil {
		r.log.Warn("Dropping debug message", "error", err)
	}
}

func (r *Reporter) attempt(ctx context.Context, text string) error {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()
	return r.sender.SendMessage(ctx, r.cfg.ChatID, text, 0)
}
