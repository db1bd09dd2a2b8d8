// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Crucible Contributors

package provider

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	crucerr "github.com/crucible-dev/crucible/pkg/errors"
)

// Registry implements Router over a set of named providers with a
// default model reference and an ordered failover chain.
//
// Model references have the form "provider/model", e.g.
// "anthropic/claude-sonnet-4-5". The model part may itself contain
// slashes (some upstream catalogs namespace models), so the reference
// is split on the FIRST slash only.
type Registry struct {
	mu         sync.RWMutex
	providers  map[string]Provider
	defaultRef string
	failover   []string
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]Provider),
	}
}

// RegisterProvider adds a provider under its name. Registering the same
// name twice is an error.
func (r *Registry) RegisterProvider(name string, p Provider) error {
	if name == "" {
		return crucerr.New(crucerr.CodeProviderInvalidModelRef, "provider name must not be empty")
	}
	if p == nil {
		return crucerr.New(crucerr.CodeProviderInvalidModelRef, "provider must not be nil",
			crucerr.FieldProvider(name))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.providers[name]; exists {
		return crucerr.New(crucerr.CodeProviderInvalidModelRef, "provider already registered",
			crucerr.FieldProvider(name))
	}
	r.providers[name] = p
	return nil
}

// SetDefault sets the model reference used when Route is called with an
// empty reference.
func (r *Registry) SetDefault(modelRef string) error {
	if _, _, err := parseRef(modelRef); err != nil {
		return err
	}
	r.mu.Lock()
	r.defaultRef = modelRef
	r.mu.Unlock()
	return nil
}

// SetFailover sets the ordered list of model references tried when the
// primary provider is unavailable.
func (r *Registry) SetFailover(refs []string) error {
	for _, ref := range refs {
		if _, _, err := parseRef(ref); err != nil {
			return err
		}
	}
	r.mu.Lock()
	r.failover = append([]string(nil), refs...)
	r.mu.Unlock()
	return nil
}

// Route resolves modelRef to a registered, available provider and the
// model name to request from it. An empty modelRef resolves to the
// default reference. If the primary provider reports unavailable, the
// failover chain is tried in order.
func (r *Registry) Route(ctx context.Context, modelRef string) (Provider, string, error) {
	r.mu.RLock()
	defaultRef := r.defaultRef
	failover := append([]string(nil), r.failover...)
	r.mu.RUnlock()

	ref := modelRef
	if ref == "" {
		if defaultRef == "" {
			return nil, "", crucerr.New(crucerr.CodeProviderNoDefault,
				"no model reference given and no default configured")
		}
		ref = defaultRef
	}

	p, model, err := r.tryRef(ctx, ref)
	if err == nil {
		return p, model, nil
	}
	if crucerr.IsNotFound(err) || crucerr.IsInvalidInput(err) {
		return nil, "", err
	}

	// Primary is unavailable; walk the failover chain.
	for _, fref := range failover {
		if fref == ref {
			continue
		}
		fp, fmodel, ferr := r.tryRef(ctx, fref)
		if ferr == nil {
			slog.Warn("provider failover engaged",
				"from", ref, "to", fref)
			return fp, fmodel, nil
		}
	}

	return nil, "", err
}

// tryRef resolves a single reference, requiring the provider to be
// registered and currently available.
func (r *Registry) tryRef(ctx context.Context, ref string) (Provider, string, error) {
	name, model, err := parseRef(ref)
	if err != nil {
		return nil, "", err
	}

	r.mu.RLock()
	p, ok := r.providers[name]
	r.mu.RUnlock()

	if !ok {
		return nil, "", crucerr.New(crucerr.CodeProviderNotFound, "provider not registered",
			crucerr.FieldProvider(name))
	}
	if !p.Available(ctx) {
		return nil, "", crucerr.New(crucerr.CodeProviderUpstreamFailure, "provider unavailable",
			crucerr.FieldProvider(name))
	}
	return p, model, nil
}

// Provider returns the provider registered under name, if any.
func (r *Registry) Provider(name string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	return p, ok
}

// Names returns the registered provider names, unordered.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	return names
}

// Close closes all registered providers, joining any errors.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for name, p := range r.providers {
		if err := p.Close(); err != nil {
			errs = append(errs, crucerr.Wrapf(err, crucerr.CodeProviderUpstreamFailure,
				"closing provider %s", name))
		}
	}
	r.providers = make(map[string]Provider)
	if len(errs) == 0 {
		return nil
	}
	return crucerr.Join(errs...)
}

// parseRef splits a "provider/model" reference on the first slash.
func parseRef(ref string) (providerName, model string, err error) {
	idx := strings.Index(ref, "/")
	if idx <= 0 || idx == len(ref)-1 {
		return "", "", crucerr.New(crucerr.CodeProviderInvalidModelRef,
			"model reference must have the form provider/model",
			crucerr.Field("ref", ref))
	}
	return ref[:idx], ref[idx+1:], nil
}
