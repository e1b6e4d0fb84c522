package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/samber/lo"
	"golang.org/x/sync/singleflight"
)

// AdminLister fetches the current administrators of a chat.
type AdminLister interface {
	GetChatAdministrators(ctx context.Context, chatID int64) ([]Member, error)
}

type adminEntry struct {
	admins    map[int64]Member
	fetchedAt time.Time
}

// AdminCache is a short-lived, per-chat view of chat administrators. It is
// never used as the source of truth for anything beyond one authorization.
type AdminCache struct {
	lister AdminLister
	clock  clockwork.Clock
	ttl    time.Duration

	mu      sync.Mutex
	entries map[int64]adminEntry
	group   singleflight.Group
}

// NewAdminCache creates a cache whose entries expire after ttl. A zero ttl
// disables caching.
func NewAdminCache(lister AdminLister, clock clockwork.Clock, ttl time.Duration) *AdminCache {
	return &AdminCache{
		lister:  lister,
		clock:   clock,
		ttl:     ttl,
		entries: make(map[int64]adminEntry),
	}
}

// Admins returns the administrators of chatID, fetching them on a miss.
// Concurrent misses for the same chat share one fetch.
func (c *AdminCache) Admins(ctx context.Context, chatID int64) (map[int64]Member, error) {
	if admins, ok := c.lookup(chatID); ok {
		return admins, nil
	}

	v, err, _ := c.group.Do(strconv.FormatInt(chatID, 10), func() (any, error) {
		if admins, ok := c.lookup(chatID); ok {
			return admins, nil
		}

		members, err := c.lister.GetChatAdministrators(ctx, chatID)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch administrators for chat %d: %w", chatID, err)
		}

		admins := lo.KeyBy(members, func(m Member) int64 { return m.UserID })

		c.mu.Lock()
		c.entries[chatID] = adminEntry{admins: admins, fetchedAt: c.clock.Now()}
		c.mu.Unlock()

		return admins, nil
	})
	if err != nil {
		return nil, err
	}

	return v.(map[int64]Member), nil
}

func (c *AdminCache) lookup(chatID int64) (map[int64]Member, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[chatID]
	if !ok || c.clock.Since(e.fetchedAt) >= c.ttl {
		return nil, false
	}
	return e.admins, true
}

// Invalidate drops the cached administrators of chatID.
func (c *AdminCache) Invalidate(chatID int64) {
	c.mu.Lock()
	delete(c.entries, chatID)
	c.mu.Unlock()
}

// Sweep drops every expired entry and returns how many were removed.
func (c *AdminCache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	expired := lo.Filter(lo.Keys(c.entries), func(chatID int64, _ int) bool {
		return c.clock.Since(c.entries[chatID].fetchedAt) >= c.ttl
	})
	for _, chatID := range expired {
		delete(c.entries, chatID)
	}
	return len(expired)
}

// Decision is the result of an authorization check.
type Decision struct {
	Allowed bool
	// Reason is set when Allowed is false. It is one of ErrNotAdmin or ErrTargetIsBot.
	Reason error
}

// Gate decides whether the issuer of a command may act on its target.
type Gate struct {
	cache          *AdminCache
	botID          int64
	allowSelfTitle bool
	log            *slog.Logger
}

// NewGate creates a gate backed by cache. botID is the bot's own user id and
// is never a valid target.
func NewGate(cache *AdminCache, botID int64, allowSelfTitle bool, log *slog.Logger) *Gate {
	return &Gate{cache: cache, botID: botID, allowSelfTitle: allowSelfTitle, log: log}
}

// Authorize checks cmd against the title policy. A non-nil error means the
// administrator list could not be fetched and no decision was reached.
func (g *Gate) Authorize(ctx context.Context, cmd Command) (Decision, error) {
	var chat, issuer, target int64
	switch c := cmd.(type) {
	case SetTitle:
		chat, issuer, target = c.Chat, c.Issuer, c.Target
		if target == issuer && g.allowSelfTitle && target != g.botID {
			return Decision{Allowed: true}, nil
		}
	case ClearTitle:
		chat, issuer, target = c.Chat, c.Issuer, c.Target
		// Members may always drop their own title.
		if target == issuer {
			return Decision{Allowed: true}, nil
		}
	default:
		return Decision{Allowed: true}, nil
	}

	if target == g.botID {
		return Decision{Reason: ErrTargetIsBot}, nil
	}

	admins, err := g.cache.Admins(ctx, chat)
	if err != nil {
		return Decision{}, err
	}

	m, ok := admins[issuer]
	if !ok || !(m.IsAdmin || m.IsOwner) {
		g.log.Debug("Issuer is not an administrator", "chat_id", chat, "user_id", issuer)
		return Decision{Reason: ErrNotAdmin}, nil
	}

	return Decision{Allowed: true}, nil
}
