// Copyright 2026 The assistGate Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package capability

import (
	"fmt"
	"sort"
	"sync"
)

// Registry binds contracts to providers. Contracts and providers are fixed
// at construction; lookups after that are read-only and lock-free for the
// common path.
type Registry struct {
	mu        sync.RWMutex
	contracts map[ID]*Contract
	providers []Provider
}

// NewRegistry builds a registry from contracts and providers. Each contract
// ID must be unique; each provider ID must be unique.
func NewRegistry(contracts []*Contract, providers []Provider) (*Registry, error) {
	r := &Registry{contracts: make(map[ID]*Contract, len(contracts))}
	for _, c := range contracts {
		if c.ID == "" {
			return nil, fmt.Errorf("contract with empty capability ID")
		}
		if _, dup := r.contracts[c.ID]; dup {
			return nil, fmt.Errorf("duplicate contract for capability %s", c.ID)
		}
		r.contracts[c.ID] = c
	}
	seen := make(map[ProviderID]bool, len(providers))
	for _, p := range providers {
		if seen[p.ID()] {
			return nil, fmt.Errorf("duplicate provider %s", p.ID())
		}
		seen[p.ID()] = true
	}
	r.providers = append(r.providers, providers...)
	return r, nil
}

// Contract returns the contract for id, or nil if none is registered.
func (r *Registry) Contract(id ID) *Contract {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.contracts[id]
}

// Contracts returns all contracts sorted by capability ID.
func (r *Registry) Contracts() []*Contract {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Contract, 0, len(r.contracts))
	for _, c := range r.contracts {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Providers returns the providers in registration order.
func (r *Registry) Providers() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Provider, len(r.providers))
	copy(out, r.providers)
	return out
}

// RankedProviders orders available providers that support id by the
// contract's preference list. Unlisted providers keep registration order
// after all listed ones.
func (r *Registry) RankedProviders(id ID) []Provider {
	c := r.Contract(id)
	if c == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	rank := func(p Provider) int {
		for i, pref := range c.PreferredProviders {
			if p.ID() == pref {
				return i
			}
		}
		return len(c.PreferredProviders)
	}

	candidates := make([]Provider, 0, len(r.providers))
	for _, p := range r.providers {
		if p.IsAvailable() && p.Supports(id) {
			candidates = append(candidates, p)
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return rank(candidates[i]) < rank(candidates[j])
	})
	return candidates
}
