package engine

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/edgard/goldenaxe/internal/reporter"
)

// mutation is the single validated instance of a SetTitle or ClearTitle
// command. Retries replay the same mutation; it is never re-parsed.
type mutation struct {
	update Update
	cmd    Command
	key    Key
	state  State
	retry  *RetryState

	// done is guarded by Engine.mu.
	done bool
}

func (m *mutation) replyTo() (int64, int) {
	switch c := m.cmd.(type) {
	case SetTitle:
		return c.Chat, c.ReplyTo
	case ClearTitle:
		return c.Chat, c.ReplyTo
	default:
		return m.update.ChatID, m.update.MessageID
	}
}

func (m *mutation) describe() string {
	return fmt.Sprintf("%s chat=%d target=%d update=%d attempt=%d",
		commandName(m.cmd), m.key.Chat, m.key.Target, m.update.ID, m.retry.Attempt)
}

func (e *Engine) newMutation(u Update, cmd Command) *mutation {
	key, _ := keyOf(cmd)
	return &mutation{
		update: u,
		cmd:    cmd,
		key:    key,
		state:  StateParsed,
		retry:  newRetryState(e.cfg.Retry, e.clock),
	}
}

// validate applies the title length policy. It runs before the lease and
// before authorization so rejected titles never cost a platform call.
func (e *Engine) validate(m *mutation) (Outcome, bool) {
	st, ok := m.cmd.(SetTitle)
	if !ok {
		return Outcome{}, true
	}

	st.Title = strings.TrimSpace(st.Title)
	m.cmd = st

	if st.Title == "" {
		return Outcome{Kind: RejectedByPolicy, Reason: e.msgs.Malformed, Cause: ErrMalformed}, false
	}
	if utf8.RuneCountInString(st.Title) > e.cfg.MaxTitleLength {
		return Outcome{Kind: RejectedByPlatform, Reason: e.msgs.TitleTooLong, Cause: ErrTitleTooLong}, false
	}
	return Outcome{}, true
}

// process runs one step of a mutation on a worker. It either reaches a
// terminal outcome, schedules a retry, or parks the mutation behind the
// current holder of its key. It never sleeps.
func (e *Engine) process(ctx context.Context, m *mutation) {
	if !e.locks.acquire(m) {
		e.log.Debug("Mutation parked behind in-flight command for same member",
			"chat_id", m.key.Chat, "target_id", m.key.Target, "update_id", m.update.ID)
		return
	}

	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.AttemptTimeout)
	defer cancel()

	if m.state < StateAuthorized {
		if o, report, ok := e.authorize(actx, m); !ok {
			e.finish(m, o, report)
			return
		}
		m.state = StateAuthorized
	}

	m.state = StateApplying
	m.retry.Attempt++

	err := e.apply(actx, m)
	if err == nil {
		e.finish(m, Outcome{Kind: Applied, Reason: e.appliedText(m)}, false)
		return
	}

	pe, ok := classify(err)
	if !ok {
		e.finish(m, Outcome{Kind: RejectedByPlatform, Reason: e.msgs.Internal, Cause: err}, true)
		return
	}

	if pe.Kind == Permanent {
		reason := e.msgs.PlatformRejected
		if pe.Reason != "" {
			reason = pe.Reason
		}
		e.finish(m, Outcome{Kind: RejectedByPlatform, Reason: reason, Cause: err}, true)
		return
	}

	delay, ok := m.retry.next(e.cfg.Retry, e.clock.Now(), pe.RetryAfter)
	if !ok {
		e.finish(m, Outcome{
			Kind:       Deferred,
			Reason:     e.msgs.Deferred,
			RetryAfter: pe.RetryAfter,
			Cause:      errors.Join(ErrAttemptsExhausted, err),
		}, true)
		return
	}

	e.log.Info("Transient platform error, retry scheduled",
		"chat_id", m.key.Chat, "target_id", m.key.Target,
		"attempt", m.retry.Attempt, "delay", delay, "error", err)

	// The lease stays with m while it waits, so no other command for this
	// member can be authorized in between. No worker is blocked meanwhile.
	e.scheduleRetry(m, delay)
}

// authorize runs the gate and the registry uniqueness check. It returns
// ok=false with the terminal outcome when the mutation may not proceed.
func (e *Engine) authorize(ctx context.Context, m *mutation) (Outcome, bool, bool) {
	decision, err := e.gate.Authorize(ctx, m.cmd)
	if err != nil {
		return Outcome{Kind: RejectedByPlatform, Reason: e.msgs.Internal, Cause: err}, true, false
	}
	if !decision.Allowed {
		reason := e.msgs.NotAdmin
		if errors.Is(decision.Reason, ErrTargetIsBot) {
			reason = e.msgs.TargetIsBot
		}
		return Outcome{Kind: RejectedByPolicy, Reason: reason, Cause: decision.Reason}, false, false
	}

	st, ok := m.cmd.(SetTitle)
	if !ok {
		return Outcome{}, false, true
	}

	owner, found, err := e.registry.GetTitleOwner(ctx, st.Chat, st.Title)
	if err != nil {
		return Outcome{Kind: RejectedByPlatform, Reason: e.msgs.Internal, Cause: err}, true, false
	}
	if found && owner != st.Target {
		return Outcome{Kind: RejectedByPolicy, Reason: e.msgs.TitleInUse, Cause: ErrTitleInUse}, false, false
	}

	return Outcome{}, false, true
}

func (e *Engine) apply(ctx context.Context, m *mutation) error {
	switch c := m.cmd.(type) {
	case SetTitle:
		return e.platform.SetMemberTitle(ctx, c.Chat, c.Target, c.Title)
	case ClearTitle:
		if c.Demote {
			// Demotion drops the custom title along with the rights.
			return e.platform.DemoteMember(ctx, c.Chat, c.Target)
		}
		return e.platform.SetMemberTitle(ctx, c.Chat, c.Target, "")
	default:
		return fmt.Errorf("unexpected command %T in mutation", m.cmd)
	}
}

func (e *Engine) appliedText(m *mutation) string {
	if c, ok := m.cmd.(ClearTitle); ok {
		if c.Demote {
			return e.msgs.Demoted
		}
		return e.msgs.Cleared
	}
	return e.msgs.Applied
}

// finish resolves m to its terminal outcome exactly once: the registry is
// updated, the issuer is acknowledged, failures are reported, and the key
// lease moves on to the next parked contender.
func (e *Engine) finish(m *mutation, o Outcome, report bool) {
	e.mu.Lock()
	if m.done {
		e.mu.Unlock()
		return
	}
	m.done = true
	delete(e.pending, m)
	e.mu.Unlock()

	m.state = StateDone

	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.AttemptTimeout)
	defer cancel()

	if o.Kind == Applied {
		e.record(ctx, m)
	}

	chatID, replyTo := m.replyTo()
	if err := e.platform.SendMessage(ctx, chatID, html.EscapeString(o.Reason), replyTo); err != nil {
		e.log.Warn("Failed to acknowledge command", "chat_id", chatID, "error", err)
	}

	if report {
		e.reporter.Report(reporter.ErrorEvent{
			Context:   m.describe(),
			Cause:     o.Cause,
			Timestamp: e.clock.Now(),
		})
	}

	level := e.log.Info
	if o.Kind != Applied {
		level = e.log.Warn
	}
	level("Command finished",
		"command", commandName(m.cmd),
		"chat_id", m.key.Chat,
		"target_id", m.key.Target,
		"update_id", m.update.ID,
		"outcome", o.Kind.String(),
		"attempts", m.retry.Attempt,
		"error", o.Cause)

	if e.onOutcome != nil {
		e.onOutcome(m.cmd, o)
	}

	if next := e.locks.release(m); next != nil {
		e.resubmit(next)
	}
}

func (e *Engine) record(ctx context.Context, m *mutation) {
	var err error
	switch c := m.cmd.(type) {
	case SetTitle:
		err = e.registry.PutTitle(ctx, c.Chat, c.Target, c.Title)
	case ClearTitle:
		err = e.registry.DeleteTitle(ctx, c.Chat, c.Target)
	}
	if err != nil {
		e.log.Warn("Failed to record title", "chat_id", m.key.Chat, "target_id", m.key.Target, "error", err)
	}
}

// scheduleRetry re-enqueues m after delay. The clock is never called with
// e.mu held since a fake clock may run callbacks synchronously.
func (e *Engine) scheduleRetry(m *mutation, delay time.Duration) {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		e.abandon(m)
		return
	}
	e.pending[m] = nil
	e.mu.Unlock()

	t := e.clock.AfterFunc(delay, func() {
		e.mu.Lock()
		_, ok := e.pending[m]
		delete(e.pending, m)
		e.mu.Unlock()
		if ok {
			e.resubmit(m)
		}
	})

	e.mu.Lock()
	if _, ok := e.pending[m]; ok {
		e.pending[m] = t
	}
	e.mu.Unlock()
}

// resubmit puts m back on the queue without blocking the caller.
func (e *Engine) resubmit(m *mutation) {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		e.abandon(m)
		return
	}
	e.inflight.Add(1)
	e.mu.Unlock()

	go func() {
		defer e.inflight.Done()
		select {
		case e.queue <- task{mutation: m}:
		case <-e.stopping:
			e.abandon(m)
		}
	}()
}

// abandon resolves a mutation that will not get another attempt because the
// engine is stopping. The issuer is still told.
func (e *Engine) abandon(m *mutation) {
	e.finish(m, Outcome{Kind: Deferred, Reason: e.msgs.ShuttingDown, Cause: ErrShuttingDown}, false)
}
