package identity

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/odyssey-erp/sentinel/internal/rbac"
)

// Listener receives identity transitions. ok is false after sign-out.
type Listener func(id Identity, ok bool)

// Context carries the sign-in state of exactly one session. It must not be
// shared between principals.
//
// Deliveries are queued and drained in order by one goroutine at a time, so
// a listener may call back into the Context. Calls made from inside a
// listener are delivered after that listener returns.
type Context struct {
	resolver *Resolver
	logger   *slog.Logger

	mu        sync.Mutex
	current   Identity
	present   bool
	listeners map[uint64]Listener
	nextID    uint64
	queue     []delivery
	draining  bool
}

type delivery struct {
	listener uint64
	id       Identity
	present  bool
}

// NewContext builds a signed-out Context.
func NewContext(resolver *Resolver, logger *slog.Logger) *Context {
	if logger == nil {
		logger = slog.Default()
	}
	return &Context{resolver: resolver, logger: logger, listeners: make(map[uint64]Listener)}
}

// Current returns the resolved identity, if any.
func (c *Context) Current() (Identity, bool) {
	if c == nil {
		return Identity{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current, c.present
}

// Principal returns the identity as an rbac.Principal, or nil when signed out.
func (c *Context) Principal() rbac.Principal {
	id, ok := c.Current()
	if !ok {
		return nil
	}
	return id
}

// Allows evaluates req against the current identity.
func (c *Context) Allows(req rbac.Requirement) bool {
	var registry *rbac.Registry
	if c != nil && c.resolver != nil {
		registry = c.resolver.Registry()
	}
	return rbac.NewEvaluator(registry).Evaluate(c.Principal(), req)
}

// Subscribe registers fn and immediately delivers the current state to it.
// The returned function stops delivery and may be called any number of times.
func (c *Context) Subscribe(fn Listener) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.queue = append(c.queue, delivery{listener: id, id: c.current, present: c.present})
	c.mu.Unlock()
	c.drain()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.listeners, id)
			c.mu.Unlock()
		})
	}
}

// SignIn resolves p and makes it the current identity. When the role record
// cannot be resolved the principal is still signed in, holding no role and
// therefore no permissions, and the error is returned.
func (c *Context) SignIn(ctx context.Context, p Principal) (Identity, error) {
	id, err := c.resolver.Resolve(ctx, p)
	if err != nil {
		c.logger.Error("identity resolve failed", slog.String("user_id", p.ID), slog.Any("error", err))
		id = NewIdentity(p, rbac.RoleUnknown, c.resolver.Registry())
	}
	c.publish(id, true)
	return id, err
}

// SignOut clears the identity. Signing out while signed out is a no-op.
func (c *Context) SignOut() {
	if _, ok := c.Current(); !ok {
		return
	}
	c.publish(Identity{}, false)
}

// Refresh re-resolves the current principal, picking up role changes.
func (c *Context) Refresh(ctx context.Context) error {
	cur, ok := c.Current()
	if !ok {
		return nil
	}
	_, err := c.SignIn(ctx, Principal{ID: cur.ID(), Email: cur.Label(), Verified: cur.Verified()})
	return err
}

func (c *Context) publish(id Identity, present bool) {
	c.mu.Lock()
	c.current, c.present = id, present
	ids := make([]uint64, 0, len(c.listeners))
	for lid := range c.listeners {
		ids = append(ids, lid)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, lid := range ids {
		c.queue = append(c.queue, delivery{listener: lid, id: id, present: present})
	}
	c.mu.Unlock()
	c.drain()
}

// drain runs queued deliveries outside the lock. A caller that finds another
// drain in progress leaves its deliveries to that drain.
func (c *Context) drain() {
	c.mu.Lock()
	if c.draining {
		c.mu.Unlock()
		return
	}
	c.draining = true
	finished := false
	defer func() {
		// a panicking listener must not wedge later deliveries
		if !finished {
			c.mu.Lock()
			c.draining = false
			c.mu.Unlock()
		}
	}()
	for len(c.queue) > 0 {
		d := c.queue[0]
		c.queue = c.queue[1:]
		fn, ok := c.listeners[d.listener]
		c.mu.Unlock()
		if ok {
			fn(d.id, d.present)
		}
		c.mu.Lock()
	}
	c.draining = false
	finished = true
	c.mu.Unlock()
}
