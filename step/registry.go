package step

import (
	"context"
	stderrors "errors"
	"fmt"
	"sort"
	"sync"

	"github.com/kbukum/conduit/cachestore"
	"github.com/kbukum/conduit/errors"
	"github.com/kbukum/conduit/logger"
)

// Registry holds chains by id. Chains refer to each other through it by id.
type Registry struct {
	mu     sync.RWMutex
	chains map[string]*Chain
	store  *cachestore.Store
	log    *logger.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(log *logger.Logger) *Registry {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &Registry{
		chains: make(map[string]*Chain),
		log:    log.WithComponent("chains"),
	}
}

// Add registers c, replacing and closing a chain with the same id. Chains
// reading from c are invalidated. A chain that would read from itself,
// directly or through others, is rejected.
func (r *Registry) Add(c *Chain) error {
	r.mu.Lock()
	if path := r.cycleLocked(c); path != nil {
		r.mu.Unlock()
		return errors.InvalidConfig("union", fmt.Sprintf("chain %q reads from itself via %v", c.ID(), path))
	}
	old := r.chains[c.ID()]
	r.chains[c.ID()] = c
	dependents := r.dependentsLocked(c.ID())
	r.mu.Unlock()

	if old != nil && old != c {
		if err := old.retire(c); err != nil {
			r.log.Warn("Closing replaced chain failed", logger.Fields(logger.FieldChain, c.ID(), logger.FieldError, err.Error()))
		}
	}
	for _, d := range dependents {
		d.Invalidate()
	}
	r.log.Debug("Chain registered", logger.Fields(logger.FieldChain, c.ID(), "steps", len(c.Steps())))
	return nil
}

// cycleLocked returns the path back to c if adding c closes a cycle.
func (r *Registry) cycleLocked(c *Chain) []string {
	refs := func(id string) []string {
		if id == c.ID() {
			return c.References()
		}
		if other, ok := r.chains[id]; ok {
			return other.References()
		}
		return nil
	}
	visited := make(map[string]bool)
	var walk func(id string, path []string) []string
	walk = func(id string, path []string) []string {
		for _, next := range refs(id) {
			p := append(append([]string(nil), path...), next)
			if next == c.ID() {
				return p
			}
			if visited[next] {
				continue
			}
			visited[next] = true
			if found := walk(next, p); found != nil {
				return found
			}
		}
		return nil
	}
	return walk(c.ID(), []string{c.ID()})
}

// dependentsLocked returns the chains that read from id, transitively.
func (r *Registry) dependentsLocked(id string) []*Chain {
	var out []*Chain
	seen := map[string]bool{id: true}
	queue := []string{id}
	for len(queue) > 0 {
		target := queue[0]
		queue = queue[1:]
		for _, cid := range r.sortedIDsLocked() {
			if seen[cid] {
				continue
			}
			for _, ref := range r.chains[cid].References() {
				if ref == target {
					seen[cid] = true
					out = append(out, r.chains[cid])
					queue = append(queue, cid)
					break
				}
			}
		}
	}
	return out
}

// Get returns the chain registered under id.
func (r *Registry) Get(id string) (*Chain, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.chains[id]
	if !ok {
		return nil, errors.UnknownChain(id)
	}
	return c, nil
}

// IDs returns the registered ids, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sortedIDsLocked()
}

func (r *Registry) sortedIDsLocked() []string {
	ids := make([]string, 0, len(r.chains))
	for id := range r.chains {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Chains returns the registered chains ordered by id.
func (r *Registry) Chains() []*Chain {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Chain, 0, len(r.chains))
	for _, id := range r.sortedIDsLocked() {
		out = append(out, r.chains[id])
	}
	return out
}

// Invalidate evicts the derived state of chain id and of every chain reading
// from it. It returns the ids invalidated.
func (r *Registry) Invalidate(id string) ([]string, error) {
	r.mu.RLock()
	c, ok := r.chains[id]
	if !ok {
		r.mu.RUnlock()
		return nil, errors.UnknownChain(id)
	}
	affected := append([]*Chain{c}, r.dependentsLocked(id)...)
	r.mu.RUnlock()

	ids := make([]string, len(affected))
	for i, a := range affected {
		a.Invalidate()
		ids[i] = a.ID()
	}
	r.log.Info("Chains invalidated", logger.Fields(logger.FieldChain, id, "affected", ids))
	return ids, nil
}

// Remove unregisters chain id and drops its persisted copies, including
// those left behind by earlier configurations of the chain.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	c, ok := r.chains[id]
	delete(r.chains, id)
	r.mu.Unlock()
	if !ok {
		return errors.UnknownChain(id)
	}
	err := c.retire(nil)
	if r.store != nil {
		err = stderrors.Join(err, r.store.DropPrefix(context.Background(), keyPrefix(id)))
	}
	return err
}

// Prune drops every persisted dataset that no cache step of the registered
// chains is keyed to, such as copies built under an older configuration. It
// returns the keys dropped.
func (r *Registry) Prune(ctx context.Context) ([]string, error) {
	if r.store == nil {
		return nil, nil
	}
	live := make(map[string]bool)
	for _, c := range r.Chains() {
		for _, s := range c.Steps() {
			if cs, ok := s.(*cacheStep); ok {
				live[cs.Key()] = true
			}
		}
	}
	all, err := r.store.List(ctx)
	if err != nil {
		return nil, err
	}
	var dropped []string
	for _, ds := range all {
		if live[ds.Key] {
			continue
		}
		if err := r.store.Drop(ctx, ds.Key); err != nil {
			return dropped, err
		}
		dropped = append(dropped, ds.Key)
	}
	if len(dropped) > 0 {
		r.log.Info("Pruned stale datasets", logger.Fields("keys", dropped))
	}
	return dropped, nil
}

// Close stops every chain's background work and empties the registry.
func (r *Registry) Close() error {
	r.mu.Lock()
	chains := r.chains
	r.chains = make(map[string]*Chain)
	r.mu.Unlock()

	var errs []error
	for _, c := range chains {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}

// LoadChains builds defs into a new registry. env.Registry is set to the
// returned registry. Every union must name a chain in defs. Nothing is
// materialized while loading, so a failed load leaves the store untouched.
func LoadChains(defs []ChainDefinition, env Env) (*Registry, error) {
	r := NewRegistry(env.Log)
	r.store = env.Store
	env.Registry = r
	env.definitions = make(map[string]ChainDefinition, len(defs))
	for _, def := range defs {
		env.definitions[def.ID] = def
	}
	for _, def := range defs {
		if _, err := r.Get(def.ID); err == nil {
			return nil, errors.InvalidConfig("chains", fmt.Sprintf("duplicate chain id %q", def.ID))
		}
		c, err := NewChain(def, env)
		if err != nil {
			return nil, err
		}
		if err := r.Add(c); err != nil {
			return nil, err
		}
	}
	for _, c := range r.Chains() {
		for _, ref := range c.References() {
			if _, err := r.Get(ref); err != nil {
				return nil, errors.InvalidConfig("union", fmt.Sprintf("chain %q reads from unknown chain %q", c.ID(), ref))
			}
		}
	}
	return r, nil
}
