// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backendpool_test

import (
	"testing"

	"github.com/gomlx/e2e/pkg/backendpool"
	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/backends/simplego"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGet(t *testing.T) {
	defer backendpool.Finalize()
	backend, err := backendpool.Get(simplego.BackendName)
	require.NoError(t, err)
	require.NotNil(t, backend)
	assert.Contains(t, backend.Name(), simplego.BackendName)
	again, err := backendpool.Get(simplego.BackendName)
	require.NoError(t, err)
	assert.Same(t, backend, again)

}

func TestGetUnknownBackend(t *testing.T) {
	defer backendpool.Finalize()
	// The backends registry panics on unknown backends: it must be returned as an error, every time.
	for range 2 {
		var backend backends.Backend
		var err error
		require.NotPanics(t, func() { backend, err = backendpool.Get("not_a_backend") })
		require.ErrorContains(t, err, `failed to create backend "not_a_backend"`)
		assert.Nil(t, backend)
	}
}

func TestFinalize(t *testing.T) {
	backend, err := backendpool.Get(simplego.BackendName)
	require.NoError(t, err)
	backendpool.Finalize()
	recreated, err := backendpool.Get(simplego.BackendName)
	require.NoError(t, err)
	defer backendpool.Finalize()
	assert.NotSame(t, backend, recreated)
}
