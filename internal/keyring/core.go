package keyring

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"github/chapool/go-keyring/internal/util"
	"golang.org/x/sync/semaphore"
)

// Core adapts a Legacy keyring to the uniform interface. It owns the account
// registry and the per-wrapper lock serializing every state-mutating operation.
// Concrete wrappers embed Core and implement the derivation policy on top.
//
// Reads never take the lock; they may observe state from before or after a
// concurrent mutation, and the next Reconcile brings the registry back in line.
type Core[K Legacy] struct {
	inner        K
	registry     *Registry
	lock         *semaphore.Weighted
	materializer Materializer
}

func NewCore[K Legacy](inner K, materializer Materializer) *Core[K] {
	return &Core[K]{
		inner:        inner,
		registry:     NewRegistry(),
		lock:         semaphore.NewWeighted(1),
		materializer: materializer,
	}
}

// Inner exposes the adapted keyring. Mutating it directly is allowed; the next
// Reconcile picks the changes up.
func (c *Core[K]) Inner() K {
	return c.inner
}

func (c *Core[K]) Registry() *Registry {
	return c.registry
}

// Mutate runs fn inside the wrapper's critical section. Waiting for the lock
// honors ctx.
func (c *Core[K]) Mutate(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := c.lock.Acquire(ctx, 1); err != nil {
		return errors.Wrap(err, "failed to acquire keyring lock")
	}
	defer c.lock.Release(1)

	return fn(ctx)
}

// Reconcile resynchronizes the registry with the inner keyring: new addresses
// are registered and materialized, stale cached accounts are rebuilt, and ids
// whose address vanished from the inner keyring are dropped. The result is in
// the inner keyring's native order.
func (c *Core[K]) Reconcile(ctx context.Context) ([]*Account, error) {
	addresses, err := c.inner.Accounts(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list inner keyring accounts")
	}

	present := make(map[string]struct{}, len(addresses))
	accounts := make([]*Account, 0, len(addresses))
	for pos, addr := range addresses {
		present[addr] = struct{}{}

		acc, err := c.Track(ctx, addr, pos)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, acc)
	}

	for _, id := range c.registry.Keys() {
		addr, ok := c.registry.GetAddress(id)
		if !ok {
			continue
		}
		if _, live := present[addr]; !live {
			util.LogFromContext(ctx).Debug().
				Str("account_id", id).
				Str("address", addr).
				Msg("Dropping account removed from inner keyring")
			c.registry.Delete(id)
		}
	}

	return accounts, nil
}

// Track registers address (found at position in the inner keyring) and returns
// its materialized account, reusing the cached object when the materializer
// keeps it. If a concurrent Track stored another object for the same id in the
// meantime, that object is returned instead.
func (c *Core[K]) Track(ctx context.Context, address string, position int) (*Account, error) {
	id := c.registry.Register(address)

	current, _ := c.registry.Get(id)
	cached := current
	if cached != nil && cached.Address != address {
		cached = nil
	}

	acc, err := c.materializer.Materialize(ctx, id, address, position, cached)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to materialize account %s", address)
	}

	if acc == cached {
		return acc, nil
	}

	return c.registry.CompareAndSet(current, acc), nil
}

// Forget removes id from the registry.
func (c *Core[K]) Forget(id AccountID) {
	c.registry.Delete(id)
}

func (c *Core[K]) GetAccounts(ctx context.Context) ([]*Account, error) {
	return c.Reconcile(ctx)
}

// GetAccount checks the registry first and resynchronizes once on a miss.
func (c *Core[K]) GetAccount(ctx context.Context, id AccountID) (*Account, error) {
	if acc, ok := c.registry.Get(id); ok {
		return acc, nil
	}

	if _, err := c.Reconcile(ctx); err != nil {
		return nil, err
	}

	if acc, ok := c.registry.Get(id); ok {
		return acc, nil
	}

	return nil, errors.Wrapf(ErrAccountNotFound, "account %s", id)
}

func (c *Core[K]) Serialize(ctx context.Context) (json.RawMessage, error) {
	state, err := c.inner.Serialize(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to serialize inner keyring")
	}

	return state, nil
}

// Deserialize clears the registry, hands state to the inner keyring and
// rebuilds the registry, all inside the critical section.
func (c *Core[K]) Deserialize(ctx context.Context, state json.RawMessage) error {
	return c.Mutate(ctx, func(ctx context.Context) error {
		c.registry.Clear()

		if err := c.inner.Deserialize(ctx, state); err != nil {
			return errors.Wrap(err, "failed to deserialize inner keyring")
		}

		if _, err := c.Reconcile(ctx); err != nil {
			return err
		}

		return nil
	})
}

// AccountForRequest resolves the account targeted by req and checks that it
// supports the requested method.
func (c *Core[K]) AccountForRequest(ctx context.Context, req *Request) (*Account, error) {
	if req == nil {
		return nil, errors.Wrap(ErrInvalidParams, "request is required")
	}

	acc, err := c.GetAccount(ctx, req.Account)
	if err != nil {
		return nil, err
	}

	if !acc.SupportsMethod(req.Request.Method) {
		return nil, errors.Wrapf(ErrMethodNotSupported, "method %q on account %s", req.Request.Method, acc.ID)
	}

	return acc, nil
}
