package engine_test

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/edgard/goldenaxe/internal/database"
	"github.com/edgard/goldenaxe/internal/engine"
	"github.com/edgard/goldenaxe/internal/reporter"
)

// eventLog records calls across fakes in the order they happen.
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(format string, args ...any) {
	l.mu.Lock()
	l.events = append(l.events, fmt.Sprintf(format, args...))
	l.mu.Unlock()
}

func (l *eventLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

type setCall struct {
	Chat, User int64
	Title      string
}

type sentMessage struct {
	Chat    int64
	Text    string
	ReplyTo int
}

type fakePlatform struct {
	log *eventLog

	mu          sync.Mutex
	admins      []engine.Member
	adminsErr   error
	adminCalls  int
	setErrs     []error
	setCalls    []setCall
	demoteCalls []setCall
	sent        []sentMessage
}

func (p *fakePlatform) SetMemberTitle(_ context.Context, chatID, userID int64, title string) error {
	p.log.add("set:%s", title)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.setCalls = append(p.setCalls, setCall{Chat: chatID, User: userID, Title: title})
	if len(p.setErrs) == 0 {
		return nil
	}
	err := p.setErrs[0]
	p.setErrs = p.setErrs[1:]
	return err
}

func (p *fakePlatform) DemoteMember(_ context.Context, chatID, userID int64) error {
	p.log.add("demote:%d", userID)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.demoteCalls = append(p.demoteCalls, setCall{Chat: chatID, User: userID})
	return nil
}

func (p *fakePlatform) GetChatAdministrators(_ context.Context, _ int64) ([]engine.Member, error) {
	p.log.add("admins")

	p.mu.Lock()
	defer p.mu.Unlock()
	p.adminCalls++
	return p.admins, p.adminsErr
}

func (p *fakePlatform) SendMessage(_ context.Context, chatID int64, text string, replyTo int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, sentMessage{Chat: chatID, Text: text, ReplyTo: replyTo})
	return nil
}

func (p *fakePlatform) SetCalls() []setCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]setCall(nil), p.setCalls...)
}

func (p *fakePlatform) DemoteCalls() []setCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]setCall(nil), p.demoteCalls...)
}

func (p *fakePlatform) Sent() []sentMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]sentMessage(nil), p.sent...)
}

func (p *fakePlatform) AdminCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.adminCalls
}

type titleKey struct{ chat, user int64 }

type fakeRegistry struct {
	mu     sync.Mutex
	titles map[titleKey]string
	seen   map[int64]bool
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{titles: make(map[titleKey]string), seen: make(map[int64]bool)}
}

func (r *fakeRegistry) PutTitle(_ context.Context, chatID, userID int64, title string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.titles[titleKey{chatID, userID}] = title
	return nil
}

func (r *fakeRegistry) DeleteTitle(_ context.Context, chatID, userID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.titles, titleKey{chatID, userID})
	return nil
}

func (r *fakeRegistry) GetTitleOwner(_ context.Context, chatID int64, title string) (int64, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, v := range r.titles {
		if k.chat == chatID && v == title {
			return k.user, true, nil
		}
	}
	return 0, false, nil
}

func (r *fakeRegistry) ListTitles(_ context.Context, chatID int64) ([]database.TitleRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []database.TitleRecord
	for k, v := range r.titles {
		if k.chat == chatID {
			out = append(out, database.TitleRecord{ChatID: k.chat, UserID: k.user, Title: v})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Title < out[j].Title })
	return out, nil
}

func (r *fakeRegistry) MarkUpdateSeen(_ context.Context, updateID int64, _ time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.seen[updateID] {
		return false, nil
	}
	r.seen[updateID] = true
	return true, nil
}

func (r *fakeRegistry) Title(chatID, userID int64) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.titles[titleKey{chatID, userID}]
	return t, ok
}

type fakeReporter struct {
	mu     sync.Mutex
	events []reporter.ErrorEvent
}

func (r *fakeReporter) Report(event reporter.ErrorEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *fakeReporter) Events() []reporter.ErrorEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]reporter.ErrorEvent(nil), r.events...)
}
