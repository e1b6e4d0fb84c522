package engine

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"github.com/edgard/goldenaxe/internal/database"
)

// Config tunes the dispatcher.
type Config struct {
	Workers        int
	QueueSize      int
	MaxTitleLength int
	AttemptTimeout time.Duration
	Retry          RetryPolicy
}

// Deps are the collaborators the engine drives.
type Deps struct {
	Logger   *slog.Logger
	Parser   *Parser
	Gate     *Gate
	Admins   *AdminCache
	Platform Platform
	Registry Registry
	Reporter Reporter
	Clock    clockwork.Clock
	Messages Messages
	// OnOutcome, if set, is called once per title mutation with its terminal outcome.
	OnOutcome func(Command, Outcome)
}

type task struct {
	update   Update
	mutation *mutation
}

// Engine dispatches updates to a bounded worker pool and drives each title
// mutation to exactly one terminal outcome.
type Engine struct {
	cfg       Config
	log       *slog.Logger
	parser    *Parser
	gate      *Gate
	admins    *AdminCache
	platform  Platform
	registry  Registry
	reporter  Reporter
	clock     clockwork.Clock
	msgs      Messages
	onOutcome func(Command, Outcome)

	queue chan task
	locks *keyLocks

	mu       sync.Mutex
	stopped  bool
	stopping chan struct{}
	pending  map[*mutation]clockwork.Timer
	inflight sync.WaitGroup
}

// New creates an engine. Zero config values fall back to defaults.
func New(cfg Config, deps Deps) *Engine {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.MaxTitleLength <= 0 {
		cfg.MaxTitleLength = 16
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = 15 * time.Second
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = DefaultRetryPolicy()
	}
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	return &Engine{
		cfg:       cfg,
		log:       deps.Logger.With("component", "engine"),
		parser:    deps.Parser,
		gate:      deps.Gate,
		admins:    deps.Admins,
		platform:  deps.Platform,
		registry:  deps.Registry,
		reporter:  deps.Reporter,
		clock:     deps.Clock,
		msgs:      deps.Messages,
		onOutcome: deps.OnOutcome,
		queue:     make(chan task, cfg.QueueSize),
		locks:     newKeyLocks(),
		stopping:  make(chan struct{}),
		pending:   make(map[*mutation]clockwork.Timer),
	}
}

// Submit queues u for processing. Updates already seen are dropped. It blocks
// while the queue is full, until ctx is done or the engine stops.
func (e *Engine) Submit(ctx context.Context, u Update) error {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return ErrShuttingDown
	}
	e.inflight.Add(1)
	e.mu.Unlock()
	defer e.inflight.Done()

	fresh, err := e.registry.MarkUpdateSeen(ctx, u.ID, e.clock.Now())
	if err != nil {
		// The ledger is best effort; losing it must not lose the update.
		e.log.Warn("Failed to record update id", "update_id", u.ID, "error", err)
		fresh = true
	}
	if !fresh {
		e.log.Debug("Dropping duplicate update", "update_id", u.ID)
		return nil
	}

	select {
	case e.queue <- task{update: u}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-e.stopping:
		return ErrShuttingDown
	}
}

// Run starts the workers and blocks until ctx is cancelled. Before returning
// it resolves every mutation still waiting for a retry, a lease or a worker,
// so each issuer gets an answer.
func (e *Engine) Run(ctx context.Context) error {
	e.log.Info("Starting engine", "workers", e.cfg.Workers, "queue_size", e.cfg.QueueSize)

	g, gctx := errgroup.WithContext(ctx)
	for range e.cfg.Workers {
		g.Go(func() error {
			e.work(gctx)
			return nil
		})
	}

	err := g.Wait()
	e.shutdown()
	e.log.Info("Engine stopped")

	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("engine workers failed: %w", err)
	}
	return nil
}

func (e *Engine) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-e.queue:
			e.handle(ctx, t)
		}
	}
}

func (e *Engine) handle(ctx context.Context, t task) {
	if t.mutation != nil {
		e.process(ctx, t.mutation)
		return
	}

	u := t.update
	cmd := e.parser.Parse(u)

	switch c := cmd.(type) {
	case SetTitle, ClearTitle:
		m := e.newMutation(u, c)
		if o, ok := e.validate(m); !ok {
			e.finish(m, o, false)
			return
		}
		e.process(ctx, m)
	case MembershipChanged:
		e.membershipChanged(ctx, c)
	case Help:
		e.reply(ctx, c.Chat, c.ReplyTo, e.msgs.Help)
	case ListTitles:
		e.listTitles(ctx, c)
	case Invalid:
		text := e.msgs.Malformed
		if errors.Is(c.Err, ErrNotInGroup) {
			text = e.msgs.NotInGroup
		}
		e.reply(ctx, c.Chat, c.ReplyTo, html.EscapeString(text))
	case Unrecognized:
	}
}

func (e *Engine) membershipChanged(ctx context.Context, c MembershipChanged) {
	e.admins.Invalidate(c.Chat)

	if c.Status != MemberLeft && c.Status != MemberDemoted {
		return
	}

	if err := e.registry.DeleteTitle(ctx, c.Chat, c.User); err != nil {
		e.log.Warn("Failed to forget title of departed member", "chat_id", c.Chat, "user_id", c.User, "error", err)
	}
}

func (e *Engine) listTitles(ctx context.Context, c ListTitles) {
	records, err := e.registry.ListTitles(ctx, c.Chat)
	if err != nil {
		e.log.Error("Failed to list titles", "chat_id", c.Chat, "error", err)
		e.reply(ctx, c.Chat, c.ReplyTo, html.EscapeString(e.msgs.Internal))
		return
	}

	if len(records) == 0 {
		e.reply(ctx, c.Chat, c.ReplyTo, html.EscapeString(e.msgs.NoTitles))
		return
	}

	lines := lo.Map(records, func(r database.TitleRecord, _ int) string {
		return fmt.Sprintf(`• <a href="tg://user?id=%d">%s</a>`, r.UserID, html.EscapeString(r.Title))
	})
	e.reply(ctx, c.Chat, c.ReplyTo, html.EscapeString(e.msgs.TitlesHeader)+"\n"+strings.Join(lines, "\n"))
}

func (e *Engine) reply(ctx context.Context, chatID int64, replyTo int, text string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.AttemptTimeout)
	defer cancel()

	if err := e.platform.SendMessage(ctx, chatID, text, replyTo); err != nil {
		e.log.Warn("Failed to send reply", "chat_id", chatID, "error", err)
	}
}

func (e *Engine) shutdown() {
	e.mu.Lock()
	e.stopped = true
	close(e.stopping)
	pending := e.pending
	e.pending = make(map[*mutation]clockwork.Timer)
	e.mu.Unlock()

	for m, t := range pending {
		if t != nil {
			t.Stop()
		}
		e.abandon(m)
	}

	e.inflight.Wait()

	for drained := false; !drained; {
		select {
		case t := <-e.queue:
			e.abandonTask(t)
		default:
			drained = true
		}
	}

	for _, m := range e.locks.drain() {
		e.abandon(m)
	}
}

func (e *Engine) abandonTask(t task) {
	if t.mutation != nil {
		e.abandon(t.mutation)
		return
	}

	cmd := e.parser.Parse(t.update)
	if _, ok := keyOf(cmd); !ok {
		e.log.Debug("Dropping queued update on shutdown", "update_id", t.update.ID)
		return
	}
	e.abandon(e.newMutation(t.update, cmd))
}

// Pending returns how many mutations are waiting for a retry timer.
func (e *Engine) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}
