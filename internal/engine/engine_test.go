package engine_test

import (
	"context"
	"errors"
	"html"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/edgard/goldenaxe/internal/engine"
)

const (
	chatID  = -100
	adminID = 1
	userID  = 5
	target  = 9
)

type outcomeRecord struct {
	cmd     engine.Command
	outcome engine.Outcome
}

type harness struct {
	t        *testing.T
	clock    *clockwork.FakeClock
	log      *eventLog
	platform *fakePlatform
	registry *fakeRegistry
	reporter *fakeReporter
	engine   *engine.Engine
	msgs     engine.Messages
	outcomes chan outcomeRecord
	cancel   context.CancelFunc
	done     chan error
	nextID   int64
}

type harnessOption func(*engine.Config, *time.Duration)

func withAdminTTL(ttl time.Duration) harnessOption {
	return func(_ *engine.Config, adminTTL *time.Duration) { *adminTTL = ttl }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()

	cfg := engine.Config{
		Workers:        4,
		QueueSize:      16,
		MaxTitleLength: 16,
		AttemptTimeout: time.Second,
		Retry: engine.RetryPolicy{
			MaxAttempts: 5,
			BaseDelay:   time.Second,
			Multiplier:  2,
			MaxDelay:    30 * time.Second,
		},
	}
	adminTTL := time.Minute
	for _, opt := range opts {
		opt(&cfg, &adminTTL)
	}

	h := &harness{
		t:        t,
		clock:    clockwork.NewFakeClock(),
		log:      &eventLog{},
		registry: newFakeRegistry(),
		reporter: &fakeReporter{},
		msgs:     engine.DefaultMessages(),
		outcomes: make(chan outcomeRecord, 16),
		done:     make(chan error, 1),
	}
	h.platform = &fakePlatform{
		log:    h.log,
		admins: []engine.Member{{UserID: adminID, ChatID: chatID, IsAdmin: true}},
	}

	admins := engine.NewAdminCache(h.platform, h.clock, adminTTL)
	h.engine = engine.New(cfg, engine.Deps{
		Logger:   discardLogger(),
		Parser:   engine.NewParser("GoldenAxeBot"),
		Gate:     engine.NewGate(admins, botID, false, discardLogger()),
		Admins:   admins,
		Platform: h.platform,
		Registry: h.registry,
		Reporter: h.reporter,
		Clock:    h.clock,
		Messages: h.msgs,
		OnOutcome: func(cmd engine.Command, o engine.Outcome) {
			h.log.add("outcome:%s", o.Kind)
			h.outcomes <- outcomeRecord{cmd: cmd, outcome: o}
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.done <- h.engine.Run(ctx) }()

	t.Cleanup(func() {
		h.stop()
	})

	return h
}

func (h *harness) stop() {
	h.cancel()
	select {
	case err := <-h.done:
		require.NoError(h.t, err)
		h.done <- nil
	case <-time.After(5 * time.Second):
		h.t.Fatal("engine did not stop")
	}
}

func (h *harness) message(from int64, text string, replyTo int64) engine.Update {
	h.nextID++
	return engine.Update{
		ID:            h.nextID,
		ChatID:        chatID,
		ChatKind:      engine.ChatSupergroup,
		UserID:        from,
		MessageID:     int(100 + h.nextID),
		ReplyToUserID: replyTo,
		Text:          text,
	}
}

func (h *harness) submit(u engine.Update) {
	h.t.Helper()
	require.NoError(h.t, h.engine.Submit(context.Background(), u))
}

// await returns the next terminal outcome, advancing the fake clock so that
// scheduled retries fire.
func (h *harness) await() outcomeRecord {
	h.t.Helper()

	deadline := time.After(5 * time.Second)
	for {
		select {
		case rec := <-h.outcomes:
			return rec
		case <-deadline:
			h.t.Fatal("timed out waiting for an outcome")
		case <-time.After(2 * time.Millisecond):
			h.clock.Advance(500 * time.Millisecond)
		}
	}
}

func (h *harness) requireNoOutcome() {
	h.t.Helper()
	require.Never(h.t, func() bool { return len(h.outcomes) > 0 }, 50*time.Millisecond, 5*time.Millisecond)
}

func rateLimited() error {
	return engine.NewTransient("setChatAdministratorCustomTitle", 0, errors.New("too many requests"))
}

func TestEngineAdminSetsTitle(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	u := h.message(adminID, "/title Moderator", target)
	h.submit(u)

	rec := h.await()
	require.Equal(t, engine.Applied, rec.outcome.Kind)
	require.Equal(t, engine.SetTitle{Chat: chatID, Issuer: adminID, Target: target, Title: "Moderator", ReplyTo: u.MessageID}, rec.cmd)

	require.Equal(t, []setCall{{Chat: chatID, User: target, Title: "Moderator"}}, h.platform.SetCalls())
	require.Equal(t, []sentMessage{{Chat: chatID, Text: html.EscapeString(h.msgs.Applied), ReplyTo: u.MessageID}}, h.platform.Sent())
	require.Empty(t, h.reporter.Events())

	title, ok := h.registry.Title(chatID, target)
	require.True(t, ok)
	require.Equal(t, "Moderator", title)
}

func TestEngineNonAdminRejected(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	u := h.message(userID, "/title Moderator", target)
	h.submit(u)

	rec := h.await()
	require.Equal(t, engine.RejectedByPolicy, rec.outcome.Kind)
	require.ErrorIs(t, rec.outcome.Cause, engine.ErrNotAdmin)

	require.Empty(t, h.platform.SetCalls())
	require.Equal(t, []sentMessage{{Chat: chatID, Text: html.EscapeString(h.msgs.NotAdmin), ReplyTo: u.MessageID}}, h.platform.Sent())
	require.Empty(t, h.reporter.Events())
}

func TestEngineRetries(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		failures  int
		expected  engine.OutcomeKind
		calls     int
		reports   int
		replyText func(engine.Messages) string
	}{
		{
			name:      "Recovers after three rate limits",
			failures:  3,
			expected:  engine.Applied,
			calls:     4,
			replyText: func(m engine.Messages) string { return m.Applied },
		},
		{
			name:      "Defers after exhausting attempts",
			failures:  5,
			expected:  engine.Deferred,
			calls:     5,
			reports:   1,
			replyText: func(m engine.Messages) string { return m.Deferred },
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t)
			for range tc.failures {
				h.platform.setErrs = append(h.platform.setErrs, rateLimited())
			}

			h.submit(h.message(adminID, "/title Moderator", target))

			rec := h.await()
			require.Equal(t, tc.expected, rec.outcome.Kind)
			require.Len(t, h.platform.SetCalls(), tc.calls)
			require.Len(t, h.reporter.Events(), tc.reports)
			require.Len(t, h.platform.Sent(), 1, "exactly one acknowledgement")
			require.Equal(t, html.EscapeString(tc.replyText(h.msgs)), h.platform.Sent()[0].Text)
			require.Zero(t, h.engine.Pending())

			// Retries reuse the validated command; admins are fetched once.
			require.Equal(t, 1, h.platform.AdminCalls())
			if tc.expected == engine.Deferred {
				require.ErrorIs(t, rec.outcome.Cause, engine.ErrAttemptsExhausted)
				require.ErrorIs(t, h.reporter.Events()[0].Cause, engine.ErrAttemptsExhausted)
			}
		})
	}
}

func TestEngineTitleLength(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		title    string
		expected engine.OutcomeKind
	}{
		{name: "Sixteen runes accepted", title: "абвгдежзийклмноп", expected: engine.Applied},
		{name: "Seventeen runes rejected", title: "абвгдежзийклмнопр", expected: engine.RejectedByPlatform},
		{name: "Sixteen emoji accepted", title: "🪓🪓🪓🪓🪓🪓🪓🪓🪓🪓🪓🪓🪓🪓🪓🪓", expected: engine.Applied},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t)

			h.submit(h.message(adminID, "/title "+tc.title, target))

			rec := h.await()
			require.Equal(t, tc.expected, rec.outcome.Kind)
			if tc.expected == engine.Applied {
				require.Len(t, h.platform.SetCalls(), 1)
				return
			}
			require.ErrorIs(t, rec.outcome.Cause, engine.ErrTitleTooLong)
			require.Empty(t, h.platform.SetCalls())
			require.Zero(t, h.platform.AdminCalls(), "validation happens before authorization")
			require.Empty(t, h.reporter.Events())
		})
	}
}

func TestEngineSelfClearByNonAdmin(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	require.NoError(t, h.registry.PutTitle(context.Background(), chatID, userID, "Old"))

	h.submit(h.message(userID, "/cleartitle", 0))

	rec := h.await()
	require.Equal(t, engine.Applied, rec.outcome.Kind)
	require.Equal(t, []setCall{{Chat: chatID, User: userID, Title: ""}}, h.platform.SetCalls())
	require.Zero(t, h.platform.AdminCalls())
	require.Equal(t, html.EscapeString(h.msgs.Cleared), h.platform.Sent()[0].Text)

	_, ok := h.registry.Title(chatID, userID)
	require.False(t, ok)
}

func TestEngineDemote(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	require.NoError(t, h.registry.PutTitle(context.Background(), chatID, userID, "Old"))

	h.submit(h.message(userID, "/demote", target))

	rec := h.await()
	require.Equal(t, engine.Applied, rec.outcome.Kind)
	require.Equal(t, []setCall{{Chat: chatID, User: userID}}, h.platform.DemoteCalls())
	require.Empty(t, h.platform.SetCalls())

	_, ok := h.registry.Title(chatID, userID)
	require.False(t, ok)
}

func TestEngineSerializesSameMember(t *testing.T) {
	t.Parallel()
	// No admin caching, so every authorization shows up in the log.
	h := newHarness(t, withAdminTTL(0))
	h.platform.setErrs = []error{rateLimited()}

	h.submit(h.message(adminID, "/title First", target))
	require.Eventually(t, func() bool { return h.engine.Pending() == 1 }, time.Second, time.Millisecond)

	h.submit(h.message(adminID, "/title Second", target))
	// Let the second command reach a worker and park behind the first.
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, []string{"admins", "set:First"}, h.log.snapshot())

	first := h.await()
	second := h.await()
	require.Equal(t, "First", first.cmd.(engine.SetTitle).Title)
	require.Equal(t, "Second", second.cmd.(engine.SetTitle).Title)

	require.Equal(t, []string{
		"admins", "set:First", "set:First", "outcome:applied",
		"admins", "set:Second", "outcome:applied",
	}, h.log.snapshot())

	title, _ := h.registry.Title(chatID, target)
	require.Equal(t, "Second", title)
}

func TestEngineDifferentMembersDoNotContend(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.platform.setErrs = []error{rateLimited()}

	h.submit(h.message(adminID, "/title First", target))
	require.Eventually(t, func() bool { return h.engine.Pending() == 1 }, time.Second, time.Millisecond)

	h.submit(h.message(adminID, "/title Other", target+1))

	// The second member completes while the first still waits for its retry.
	select {
	case rec := <-h.outcomes:
		require.Equal(t, "Other", rec.cmd.(engine.SetTitle).Title)
	case <-time.After(5 * time.Second):
		t.Fatal("independent member was blocked")
	}
	require.Equal(t, 1, h.engine.Pending())

	rec := h.await()
	require.Equal(t, "First", rec.cmd.(engine.SetTitle).Title)
}

func TestEngineShutdownDefersPending(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.platform.setErrs = []error{rateLimited()}

	h.submit(h.message(adminID, "/title First", target))
	require.Eventually(t, func() bool { return h.engine.Pending() == 1 }, time.Second, time.Millisecond)
	h.submit(h.message(adminID, "/title Second", target))
	time.Sleep(20 * time.Millisecond)

	h.stop()

	for range 2 {
		select {
		case rec := <-h.outcomes:
			require.Equal(t, engine.Deferred, rec.outcome.Kind)
			require.ErrorIs(t, rec.outcome.Cause, engine.ErrShuttingDown)
		default:
			t.Fatal("missing outcome after shutdown")
		}
	}

	require.Zero(t, h.engine.Pending())
	require.Len(t, h.platform.SetCalls(), 1)
	require.Empty(t, h.reporter.Events(), "shutdown deferrals are not reported")
	require.ErrorIs(t, h.engine.Submit(context.Background(), h.message(adminID, "/title Late", target)), engine.ErrShuttingDown)

	sent := h.platform.Sent()
	require.Len(t, sent, 2)
	for _, m := range sent {
		require.Equal(t, html.EscapeString(h.msgs.ShuttingDown), m.Text)
	}
}

func TestEngineDropsDuplicateUpdates(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	u := h.message(adminID, "/title Moderator", target)
	h.submit(u)
	h.await()

	h.submit(u)
	h.requireNoOutcome()
	require.Len(t, h.platform.SetCalls(), 1)
}

func TestEngineTitleInUse(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	require.NoError(t, h.registry.PutTitle(context.Background(), chatID, 8, "Moderator"))

	h.submit(h.message(adminID, "/title Moderator", target))

	rec := h.await()
	require.Equal(t, engine.RejectedByPolicy, rec.outcome.Kind)
	require.ErrorIs(t, rec.outcome.Cause, engine.ErrTitleInUse)
	require.Empty(t, h.platform.SetCalls())

	// Reassigning a member's own title is not a conflict.
	h.submit(h.message(adminID, "/title Moderator", 8))
	require.Equal(t, engine.Applied, h.await().outcome.Kind)
}

func TestEngineFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		setErr    error
		adminsErr error
		reply     func(engine.Messages) string
		setCalls  int
	}{
		{
			name:     "Permanent platform error",
			setErr:   engine.NewPermanent("setChatAdministratorCustomTitle", "Not enough rights", errors.New("bad request")),
			reply:    func(engine.Messages) string { return "Not enough rights" },
			setCalls: 1,
		},
		{
			name:     "Permanent platform error without reason",
			setErr:   engine.NewPermanent("setChatAdministratorCustomTitle", "", errors.New("forbidden")),
			reply:    func(m engine.Messages) string { return m.PlatformRejected },
			setCalls: 1,
		},
		{
			name:     "Unclassified error",
			setErr:   errors.New("unexpected"),
			reply:    func(m engine.Messages) string { return m.Internal },
			setCalls: 1,
		},
		{
			name:      "Administrator lookup failure",
			adminsErr: errors.New("lookup failed"),
			reply:     func(m engine.Messages) string { return m.Internal },
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t)
			if tc.setErr != nil {
				h.platform.setErrs = []error{tc.setErr}
			}
			h.platform.adminsErr = tc.adminsErr

			h.submit(h.message(adminID, "/title Moderator", target))

			rec := h.await()
			require.Equal(t, engine.RejectedByPlatform, rec.outcome.Kind)
			require.Len(t, h.platform.SetCalls(), tc.setCalls)
			require.Len(t, h.reporter.Events(), 1)
			require.Equal(t, html.EscapeString(tc.reply(h.msgs)), h.platform.Sent()[0].Text)

			_, ok := h.registry.Title(chatID, target)
			require.False(t, ok)
		})
	}
}

func TestEngineMembershipChanges(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status engine.MembershipStatus
		kept   bool
	}{
		{name: "Left member loses title", status: engine.MemberLeft},
		{name: "Demoted member loses title", status: engine.MemberDemoted},
		{name: "Joined member keeps title", status: engine.MemberJoined, kept: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t)
			require.NoError(t, h.registry.PutTitle(context.Background(), chatID, target, "Moderator"))

			// Warm the admin cache.
			h.submit(h.message(adminID, "/title Boss", adminID))
			h.await()
			require.Equal(t, 1, h.platform.AdminCalls())

			h.nextID++
			h.submit(engine.Update{
				ID:         h.nextID,
				ChatID:     chatID,
				ChatKind:   engine.ChatSupergroup,
				Membership: &engine.MembershipChange{UserID: target, Status: tc.status},
			})

			if tc.kept {
				h.requireNoOutcome()
				_, ok := h.registry.Title(chatID, target)
				require.True(t, ok)
			} else {
				require.Eventually(t, func() bool {
					_, ok := h.registry.Title(chatID, target)
					return !ok
				}, time.Second, time.Millisecond)
			}

			// Membership changes invalidate cached administrators.
			h.submit(h.message(adminID, "/title Boss2", adminID))
			h.await()
			require.Equal(t, 2, h.platform.AdminCalls())
		})
	}
}

func TestEngineInformationalReplies(t *testing.T) {
	t.Parallel()

	t.Run("Help", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)

		u := h.message(userID, "/help", 0)
		h.submit(u)

		require.Eventually(t, func() bool { return len(h.platform.Sent()) == 1 }, time.Second, time.Millisecond)
		require.Equal(t, sentMessage{Chat: chatID, Text: h.msgs.Help, ReplyTo: u.MessageID}, h.platform.Sent()[0])
		h.requireNoOutcome()
	})

	t.Run("Titles listing", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		require.NoError(t, h.registry.PutTitle(context.Background(), chatID, target, "<b>Boss</b>"))

		h.submit(h.message(userID, "/titles", 0))

		require.Eventually(t, func() bool { return len(h.platform.Sent()) == 1 }, time.Second, time.Millisecond)
		text := h.platform.Sent()[0].Text
		require.Contains(t, text, `<a href="tg://user?id=9">&lt;b&gt;Boss&lt;/b&gt;</a>`)
	})

	t.Run("Empty titles listing", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)

		h.submit(h.message(userID, "/titles", 0))

		require.Eventually(t, func() bool { return len(h.platform.Sent()) == 1 }, time.Second, time.Millisecond)
		require.Equal(t, html.EscapeString(h.msgs.NoTitles), h.platform.Sent()[0].Text)
	})

	t.Run("Private chat", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)

		u := h.message(userID, "/title Boss", 0)
		u.ChatID = userID
		u.ChatKind = engine.ChatPrivate
		h.submit(u)

		require.Eventually(t, func() bool { return len(h.platform.Sent()) == 1 }, time.Second, time.Millisecond)
		require.Equal(t, html.EscapeString(h.msgs.NotInGroup), h.platform.Sent()[0].Text)
		require.Empty(t, h.platform.SetCalls())
		h.requireNoOutcome()
	})
}
