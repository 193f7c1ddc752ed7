package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"

	"github.com/campushq/permit/pkg/observability"
	"github.com/campushq/permit/pkg/store"
)

// ErrUnavailable is returned when no authorization data can be produced:
// the store is unreachable and no cached entry is servable. It is never
// coerced into an allow or deny; the policy evaluator surfaces it as its own
// outcome.
var ErrUnavailable = errors.New("authorization data unavailable")

// Fetcher retrieves authorization data from the store on cache miss. The
// service hosting the store wires it directly; remote services wire the api
// client.
type Fetcher interface {
	FetchRolePermissions(ctx context.Context, roleName string) ([]string, error)
	FetchUserAuthData(ctx context.Context, userID string) (*store.UserAuthData, error)
}

// Config holds cache tuning. The zero value is usable via DefaultConfig.
type Config struct {
	// FreshTTL bounds how long a fetched entry is served without refresh.
	// It is the backstop against a lost change event.
	FreshTTL time.Duration

	// StaleGrace bounds how long a stale entry may still be served while a
	// refresh is pending. Zero disables grace serving: stale entries are
	// always refreshed synchronously before being returned.
	StaleGrace time.Duration

	// FetchTimeout bounds a single remote fetch
	FetchTimeout time.Duration

	// BackoffBase and BackoffMax bound the exponential hold-down applied
	// after failed fetches
	BackoffBase time.Duration
	BackoffMax  time.Duration

	// MaxUserEntries bounds the per-user entry LRU
	MaxUserEntries int

	// SweepSchedule is the cron spec for the expired-entry sweep
	SweepSchedule string
}

// DefaultConfig returns the default cache configuration
func DefaultConfig() Config {
	return Config{
		FreshTTL:       5 * time.Minute,
		StaleGrace:     30 * time.Second,
		FetchTimeout:   2 * time.Second,
		BackoffBase:    250 * time.Millisecond,
		BackoffMax:     30 * time.Second,
		MaxUserEntries: 10000,
		SweepSchedule:  "@every 1m",
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.FreshTTL <= 0 {
		c.FreshTTL = def.FreshTTL
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = def.FetchTimeout
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = def.BackoffBase
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = def.BackoffMax
	}
	if c.MaxUserEntries <= 0 {
		c.MaxUserEntries = def.MaxUserEntries
	}
	if c.SweepSchedule == "" {
		c.SweepSchedule = def.SweepSchedule
	}
	return c
}

type entryState int

const (
	stateFresh entryState = iota
	stateStale
)

type roleEntry struct {
	permissions []string
	// version is the highest change-event sequence applied to this role,
	// in locally observed order. Fetch refreshes never advance it; only
	// events do, so a delayed event can always be compared against the
	// last applied one.
	version    uint64
	fetchedAt  time.Time
	state      entryState
	staleSince time.Time
}

type userEntry struct {
	data       *store.UserAuthData
	fetchedAt  time.Time
	state      entryState
	staleSince time.Time
}

// PermissionCache is the per-service in-memory cache of role permission sets
// and per-user auth data. It is constructed explicitly at service startup
// and closed at teardown; there is no package-level instance.
//
// Reads coalesce: at most one remote fetch per key is in flight, and
// concurrent readers of the same key await its result. A reader whose
// context expires receives ErrUnavailable while the fetch itself runs to
// completion and populates the cache for subsequent readers.
type PermissionCache struct {
	config  Config
	fetcher Fetcher
	logger  *observability.Logger
	metrics *observability.Metrics

	mu    sync.RWMutex
	roles map[string]*roleEntry
	users *lru.Cache[string, *userEntry]

	// eventSeq counts applied change events. Fetches snapshot it so a
	// result that raced with an invalidation is stored already-stale
	// instead of resurrecting pre-event data.
	eventSeq uint64

	group    singleflight.Group
	backoff  backoffTable
	sweeper  *cron.Cron
	inflight sync.WaitGroup

	closeOnce sync.Once
	closed    chan struct{}
}

// New creates a permission cache over the given fetcher
func New(fetcher Fetcher, config Config, logger *observability.Logger, metrics *observability.Metrics) (*PermissionCache, error) {
	if fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	config = config.withDefaults()

	c := &PermissionCache{
		config:  config,
		fetcher: fetcher,
		logger:  logger,
		metrics: metrics,
		roles:   make(map[string]*roleEntry),
		backoff: newBackoffTable(config.BackoffBase, config.BackoffMax),
		closed:  make(chan struct{}),
	}

	users, err := lru.NewWithEvict[string, *userEntry](config.MaxUserEntries, func(key string, _ *userEntry) {
		c.countEviction("user")
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create user entry cache: %w", err)
	}
	c.users = users

	c.sweeper = cron.New()
	if _, err := c.sweeper.AddFunc(config.SweepSchedule, c.sweep); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", config.SweepSchedule, err)
	}
	c.sweeper.Start()

	return c, nil
}

// Close stops the sweeper and drains in-flight fetches. The cache must not
// be read after Close returns.
func (c *PermissionCache) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		ctx := c.sweeper.Stop()
		<-ctx.Done()
		c.inflight.Wait()
	})
	return nil
}

// GetUserAuthData returns the user's auth data, fetching on miss and
// refreshing on staleness per the grace policy
func (c *PermissionCache) GetUserAuthData(ctx context.Context, userID string) (*store.UserAuthData, error) {
	now := time.Now()

	c.mu.RLock()
	entry, ok := c.users.Peek(userID)
	if ok {
		if data, served := c.serveUserLocked(entry, now); served {
			c.mu.RUnlock()
			return data, nil
		}
	}
	c.mu.RUnlock()

	return c.fetchUser(ctx, userID)
}

// serveUserLocked decides whether the entry is servable without a fetch.
// Callers hold at least a read lock.
func (c *PermissionCache) serveUserLocked(entry *userEntry, now time.Time) (*store.UserAuthData, bool) {
	switch entry.state {
	case stateFresh:
		if now.Sub(entry.fetchedAt) < c.config.FreshTTL {
			c.countHit("user")
			return entry.data, true
		}
		// TTL expired: treat as stale from the moment of expiry
		if c.config.StaleGrace > 0 && now.Sub(entry.fetchedAt.Add(c.config.FreshTTL)) <= c.config.StaleGrace {
			c.countStaleServed("user")
			return entry.data, true
		}
	case stateStale:
		if c.config.StaleGrace > 0 && now.Sub(entry.staleSince) <= c.config.StaleGrace {
			c.countStaleServed("user")
			return entry.data, true
		}
	}
	return nil, false
}

// GetRolePermissions returns the role's permission set, fetching on miss
func (c *PermissionCache) GetRolePermissions(ctx context.Context, roleName string) ([]string, error) {
	now := time.Now()

	c.mu.RLock()
	entry, ok := c.roles[roleName]
	if ok {
		if perms, served := c.serveRoleLocked(entry, now); served {
			c.mu.RUnlock()
			return perms, nil
		}
	}
	c.mu.RUnlock()

	return c.fetchRole(ctx, roleName)
}

func (c *PermissionCache) serveRoleLocked(entry *roleEntry, now time.Time) ([]string, bool) {
	switch entry.state {
	case stateFresh:
		if now.Sub(entry.fetchedAt) < c.config.FreshTTL {
			c.countHit("role")
			return entry.permissions, true
		}
		if c.config.StaleGrace > 0 && now.Sub(entry.fetchedAt.Add(c.config.FreshTTL)) <= c.config.StaleGrace {
			c.countStaleServed("role")
			return entry.permissions, true
		}
	case stateStale:
		if c.config.StaleGrace > 0 && now.Sub(entry.staleSince) <= c.config.StaleGrace {
			c.countStaleServed("role")
			return entry.permissions, true
		}
	}
	return nil, false
}

// fetchUser performs a coalesced remote fetch for the user's auth data
func (c *PermissionCache) fetchUser(ctx context.Context, userID string) (*store.UserAuthData, error) {
	key := "user:" + userID
	c.countMiss("user")

	if held, until := c.backoff.holdDown(key); held {
		if data := c.servableUserData(userID); data != nil {
			return data, nil
		}
		return nil, fmt.Errorf("%w: fetch held down until %s after repeated failures", ErrUnavailable, until.Format(time.RFC3339))
	}

	ch := c.group.DoChan(key, func() (interface{}, error) {
		c.inflight.Add(1)
		defer c.inflight.Done()

		// Detached from the caller: one waiter's timeout must not discard
		// the fetch for everyone else
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.config.FetchTimeout)
		defer cancel()

		epoch := c.currentEventSeq()
		start := time.Now()
		data, err := c.fetcher.FetchUserAuthData(fctx, userID)
		c.observeFetch("user", start, err)
		if err != nil {
			if errors.Is(err, store.ErrUserNotFound) {
				c.backoff.clear(key)
				c.dropUser(userID)
				return nil, err
			}
			c.backoff.recordFailure(key)
			c.markUserStale(userID)
			return nil, err
		}

		c.backoff.clear(key)
		c.storeUser(userID, data, epoch)
		return data, nil
	})

	select {
	case <-ctx.Done():
		// The in-flight fetch completes and populates the cache for the
		// next reader; this waiter gets a distinguishable failure
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			if errors.Is(res.Err, store.ErrUserNotFound) {
				return nil, res.Err
			}
			if data := c.servableUserData(userID); data != nil {
				return data, nil
			}
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, res.Err)
		}
		return res.Val.(*store.UserAuthData), nil
	}
}

// fetchRole performs a coalesced remote fetch of a role's permission set
func (c *PermissionCache) fetchRole(ctx context.Context, roleName string) ([]string, error) {
	key := "role:" + roleName
	c.countMiss("role")

	if held, until := c.backoff.holdDown(key); held {
		if perms := c.servableRolePermissions(roleName); perms != nil {
			return perms, nil
		}
		return nil, fmt.Errorf("%w: fetch held down until %s after repeated failures", ErrUnavailable, until.Format(time.RFC3339))
	}

	ch := c.group.DoChan(key, func() (interface{}, error) {
		c.inflight.Add(1)
		defer c.inflight.Done()

		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.config.FetchTimeout)
		defer cancel()

		start := time.Now()
		perms, err := c.fetcher.FetchRolePermissions(fctx, roleName)
		c.observeFetch("role", start, err)
		if err != nil {
			if errors.Is(err, store.ErrRoleNotFound) {
				c.backoff.clear(key)
				c.dropRole(roleName)
				return nil, err
			}
			c.backoff.recordFailure(key)
			c.markRoleStale(roleName)
			return nil, err
		}

		c.backoff.clear(key)
		c.storeRole(roleName, perms)
		return perms, nil
	})

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			if errors.Is(res.Err, store.ErrRoleNotFound) {
				return nil, res.Err
			}
			if perms := c.servableRolePermissions(roleName); perms != nil {
				return perms, nil
			}
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, res.Err)
		}
		return res.Val.([]string), nil
	}
}

func (c *PermissionCache) currentEventSeq() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.eventSeq
}

// storeUser records fetched user data. If a change event was applied while
// the fetch was in flight the entry is stored already stale, so the next
// read refreshes rather than serving possibly pre-event data as fresh.
func (c *PermissionCache) storeUser(userID string, data *store.UserAuthData, epoch uint64) {
	now := time.Now()
	entry := &userEntry{data: data, fetchedAt: now, state: stateFresh}

	c.mu.Lock()
	if c.eventSeq != epoch {
		entry.state = stateStale
		entry.staleSince = now
	}
	c.users.Add(userID, entry)
	c.mu.Unlock()
	c.updateEntryGauges()
}

// storeRole records a fetched role permission set. The entry's event version
// is preserved: fetches refresh data, only events advance ordering.
func (c *PermissionCache) storeRole(roleName string, permissions []string) {
	now := time.Now()

	c.mu.Lock()
	version := uint64(0)
	if existing, ok := c.roles[roleName]; ok {
		version = existing.version
	}
	c.roles[roleName] = &roleEntry{
		permissions: permissions,
		version:     version,
		fetchedAt:   now,
		state:       stateFresh,
	}
	c.mu.Unlock()
	c.updateEntryGauges()
}

func (c *PermissionCache) dropUser(userID string) {
	c.mu.Lock()
	c.users.Remove(userID)
	c.mu.Unlock()
	c.updateEntryGauges()
}

func (c *PermissionCache) dropRole(roleName string) {
	c.mu.Lock()
	delete(c.roles, roleName)
	c.mu.Unlock()
	c.updateEntryGauges()
}

func (c *PermissionCache) markUserStale(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if entry, ok := c.users.Peek(userID); ok && entry.state != stateStale {
		entry.state = stateStale
		entry.staleSince = time.Now()
	}
}

func (c *PermissionCache) markRoleStale(roleName string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if entry, ok := c.roles[roleName]; ok && entry.state != stateStale {
		entry.state = stateStale
		entry.staleSince = time.Now()
	}
}

// servableUserData returns the user's cached data for serve-on-failure
// paths, applying the same servability rules as the read path. Returns nil
// when no entry exists or the entry is outside the grace window, which
// surfaces as ErrUnavailable to the caller.
func (c *PermissionCache) servableUserData(userID string) *store.UserAuthData {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if entry, ok := c.users.Peek(userID); ok {
		if data, served := c.serveUserLocked(entry, time.Now()); served {
			return data
		}
	}
	return nil
}

func (c *PermissionCache) servableRolePermissions(roleName string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if entry, ok := c.roles[roleName]; ok {
		if perms, served := c.serveRoleLocked(entry, time.Now()); served {
			return perms
		}
	}
	return nil
}
