// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Crucible Contributors

package provider_test

import (
	"context"
	"testing"

	"github.com/crucible-dev/crucible/internal/provider"
	crucerr "github.com/crucible-dev/crucible/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_RegisterAndLookup(t *testing.T) {
	reg := provider.NewRegistry()

	p := newMockProviderBase("anthropic", true)
	require.NoError(t, reg.RegisterProvider("anthropic", p))

	got, ok := reg.Provider("anthropic")
	require.True(t, ok)
	assert.Equal(t, "anthropic", got.Name())

	_, ok = reg.Provider("nonexistent")
	assert.False(t, ok)
}

func TestRegistry_RegisterDuplicate(t *testing.T) {
	reg := provider.NewRegistry()

	require.NoError(t, reg.RegisterProvider("anthropic", newMockProviderBase("anthropic", true)))
	err := reg.RegisterProvider("anthropic", newMockProviderBase("anthropic", true))
	require.Error(t, err)
	assert.True(t, crucerr.HasCode(err, crucerr.CodeProviderInvalidModelRef))
}

func TestRegistry_RouteDefault(t *testing.T) {
	reg := provider.NewRegistry()

	require.NoError(t, reg.RegisterProvider("anthropic", newMockProviderBase("anthropic", true)))
	require.NoError(t, reg.SetDefault("anthropic/claude-sonnet-4-5"))

	p, model, err := reg.Route(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "anthropic", p.Name())
	assert.Equal(t, "claude-sonnet-4-5", model)
}

func TestRegistry_RouteExplicitRef(t *testing.T) {
	reg := provider.NewRegistry()

	require.NoError(t, reg.RegisterProvider("anthropic", newMockProviderBase("anthropic", true)))
	require.NoError(t, reg.RegisterProvider("openai", newMockProviderBase("openai", true)))
	require.NoError(t, reg.SetDefault("anthropic/claude-sonnet-4-5"))

	p, model, err := reg.Route(context.Background(), "openai/gpt-4.1")
	require.NoError(t, err)
	assert.Equal(t, "openai", p.Name())
	assert.Equal(t, "gpt-4.1", model)
}

func TestRegistry_RouteNoDefault(t *testing.T) {
	reg := provider.NewRegistry()

	_, _, err := reg.Route(context.Background(), "")
	require.Error(t, err)
	assert.True(t, crucerr.HasCode(err, crucerr.CodeProviderNoDefault))
}

func TestRegistry_RouteUnknownProvider(t *testing.T) {
	reg := provider.NewRegistry()

	_, _, err := reg.Route(context.Background(), "mystery/model-1")
	require.Error(t, err)
	assert.True(t, crucerr.HasCode(err, crucerr.CodeProviderNotFound))
	assert.True(t, crucerr.IsNotFound(err))
}

func TestRegistry_RouteInvalidRef(t *testing.T) {
	reg := provider.NewRegistry()

	for _, ref := range []string{"no-slash", "/leading", "trailing/"} {
		_, _, err := reg.Route(context.Background(), ref)
		require.Error(t, err, "ref %q", ref)
		assert.True(t, crucerr.HasCode(err, crucerr.CodeProviderInvalidModelRef), "ref %q", ref)
	}
}

func TestRegistry_RouteModelWithSlash(t *testing.T) {
	reg := provider.NewRegistry()

	require.NoError(t, reg.RegisterProvider("openai", newMockProviderBase("openai", true)))

	// Only the first slash separates provider from model.
	p, model, err := reg.Route(context.Background(), "openai/org/gpt-4.1")
	require.NoError(t, err)
	assert.Equal(t, "openai", p.Name())
	assert.Equal(t, "org/gpt-4.1", model)
}

func TestRegistry_Failover(t *testing.T) {
	reg := provider.NewRegistry()

	require.NoError(t, reg.RegisterProvider("anthropic", newMockProviderBase("anthropic", false)))
	require.NoError(t, reg.RegisterProvider("openai", newMockProviderBase("openai", true)))
	require.NoError(t, reg.SetDefault("anthropic/claude-sonnet-4-5"))
	require.NoError(t, reg.SetFailover([]string{"openai/gpt-4.1"}))

	p, model, err := reg.Route(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "openai", p.Name())
	assert.Equal(t, "gpt-4.1", model)
}

func TestRegistry_AllProvidersDown(t *testing.T) {
	reg := provider.NewRegistry()

	require.NoError(t, reg.RegisterProvider("anthropic", newMockProviderBase("anthropic", false)))
	require.NoError(t, reg.RegisterProvider("openai", newMockProviderBase("openai", false)))
	require.NoError(t, reg.SetDefault("anthropic/claude-sonnet-4-5"))
	require.NoError(t, reg.SetFailover([]string{"openai/gpt-4.1"}))

	_, _, err := reg.Route(context.Background(), "")
	require.Error(t, err)
	assert.True(t, crucerr.HasCode(err, crucerr.CodeProviderUpstreamFailure))
}

func TestRegistry_Close(t *testing.T) {
	reg := provider.NewRegistry()

	a := newMockProviderBase("anthropic", true)
	b := newMockProviderBase("openai", true)
	require.NoError(t, reg.RegisterProvider("anthropic", a))
	require.NoError(t, reg.RegisterProvider("openai", b))

	require.NoError(t, reg.Close())
	assert.True(t, a.closed)
	assert.True(t, b.closed)
	assert.Empty(t, reg.Names())
}
