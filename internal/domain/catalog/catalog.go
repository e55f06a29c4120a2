// Package catalog serves the rule catalog: what each action is worth and how
// many vetoes void it.
package catalog

import (
	"context"
	"errors"
	"sync"

	"github.com/okian/bet/internal/domain/errs"
	"github.com/okian/bet/internal/domain/model"
)

// RuleStore is the persistence the catalog reads through.
type RuleStore interface {
	Rule(ctx context.Context, id string) (model.Rule, error)
	Rules(ctx context.Context) ([]model.Rule, error)
	PutRule(ctx context.Context, r model.Rule) error
}

// Catalog resolves rules. Rules never change once stored, so lookups are
// cached for the life of the process.
type Catalog struct {
	store RuleStore

	mu    sync.RWMutex
	cache map[string]model.Rule
}

// New returns a catalog over store.
func New(store RuleStore) *Catalog {
	return &Catalog{store: store, cache: make(map[string]model.Rule)}
}

// Lookup returns the rule with id or errs.ErrRuleNotFound.
func (c *Catalog) Lookup(ctx context.Context, id string) (model.Rule, error) {
	c.mu.RLock()
	r, ok := c.cache[id]
	c.mu.RUnlock()
	if ok {
		return r, nil
	}

	r, err := c.store.Rule(ctx, id)
	if err != nil {
		return model.Rule{}, err
	}
	c.mu.Lock()
	c.cache[id] = r
	c.mu.Unlock()
	return r, nil
}

// Register validates and appends a rule. An existing id is rejected with
// errs.ErrAlreadyExists; rules are never rewritten.
func (c *Catalog) Register(ctx context.Context, r model.Rule) error {
	if p := r.Problem(); p != "" {
		return errs.Invalid(p)
	}
	if err := c.store.PutRule(ctx, r); err != nil {
		return err
	}
	c.mu.Lock()
	c.cache[r.ID] = r
	c.mu.Unlock()
	return nil
}

// Ensure registers r unless a rule with its id already exists.
func (c *Catalog) Ensure(ctx context.Context, r model.Rule) error {
	err := c.Register(ctx, r)
	if errors.Is(err, errs.ErrAlreadyExists) {
		return nil
	}
	return err
}

// List returns every rule in registration order.
func (c *Catalog) List(ctx context.Context) ([]model.Rule, error) {
	return c.store.Rules(ctx)
}
