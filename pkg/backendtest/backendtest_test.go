// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backendtest_test

import (
	"flag"
	"os"
	"path/filepath"
	"testing"

	"github.com/gomlx/e2e/pkg/backendtest"
	"github.com/gomlx/e2e/pkg/module"
	"github.com/gomlx/e2e/pkg/signature"
	"github.com/gomlx/e2e/pkg/trace"
	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/support/fsutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/klog/v2"
)

func init() {
	klog.InitFlags(nil)
}

func TestMain(m *testing.M) {
	flag.Parse()
	exitCode := m.Run()
	backendtest.FinalizeBackends()
	os.Exit(exitCode)
}

func newSquareModule() *module.Module {
	return module.New("square").
		Def("square",
			signature.Signature{signature.Spec(dtypes.Float32, signature.AnyDim)},
			func(g *graph.Graph, args []module.Arg) []*graph.Node {
				x := args[0].Node
				return []*graph.Node{graph.Mul(x, x)}
			})
}

func TestConfigFromFlags(t *testing.T) {
	t.Setenv(backends.ConfigEnvVar, "")
	cfg := backendtest.ConfigFromFlags()
	assert.Equal(t, "go", cfg.ReferenceBackend)
	assert.Contains(t, cfg.TargetBackends, "xla:cpu")
	assert.Equal(t, trace.DefaultRTol, cfg.RTol)
	assert.Equal(t, trace.DefaultATol, cfg.ATol)
	assert.Equal(t, backendtest.DefaultArtifactsDir(), cfg.ArtifactsDir)
	// The default artifacts directory is fixed for the process.
	assert.Equal(t, backendtest.DefaultArtifactsDir(), backendtest.DefaultArtifactsDir())

	// GOMLX_BACKEND selects the only target.
	t.Setenv(backends.ConfigEnvVar, "xla:cuda")
	cfg = backendtest.ConfigFromFlags()
	assert.Equal(t, []string{"xla:cuda"}, cfg.TargetBackends)
}

func TestCompareBackends(t *testing.T) {
	artifactsDir := t.TempDir()
	tc := backendtest.CompileModule(newSquareModule()).WithConfig(backendtest.Config{
		ReferenceBackend: "go",
		TargetBackends:   []string{"go", "not_a_backend"},
		ArtifactsDir:     artifactsDir,
		RTol:             trace.DefaultRTol,
		ATol:             trace.DefaultATol,
		Summarize:        true,
	})
	traces := tc.CompareBackends(t, func(m *trace.TracedModule) {
		_, _ = m.Call("square", []float32{1, 2, 3})
		// Invalid calls are recorded as errors on both backends, and are consistent.
		_, _ = m.Call("square", []float64{1, 2, 3})
	})

	// Unavailable backend was skipped: only the reference and the "go" target ran.
	require.Len(t, traces, 2)
	for _, tr := range traces {
		require.Len(t, tr.Calls, 2)
		require.NoError(t, tr.Calls[0].Err)
		assert.Equal(t, []float32{1, 4, 9}, tr.Calls[0].Outputs[0].Value())
		require.Error(t, tr.Calls[1].Err)
	}

	// Module compiled only once per backend.
	compiled, err := tc.Compiled("go")
	require.NoError(t, err)
	assert.Equal(t, 1, compiled.NumCompilations())

	traceDir := filepath.Join(artifactsDir, "square", "traces", "TestCompareBackends", "go")
	assert.True(t, fsutil.MustFileExists(filepath.Join(traceDir, trace.YAMLFileName)))
	assert.True(t, fsutil.MustFileExists(filepath.Join(traceDir, trace.LogFileName)))
}

func TestCompareBackendsWithoutTargets(t *testing.T) {
	tc := backendtest.CompileModule(newSquareModule()).WithConfig(backendtest.Config{
		ReferenceBackend: "go",
		TargetBackends:   []string{"not_a_backend"},
		RTol:             trace.DefaultRTol,
		ATol:             trace.DefaultATol,
	})
	// With only the reference backend available nothing is compared, so the test is skipped instead of passing.
	var subT *testing.T
	var returned bool
	t.Run("only_reference", func(t *testing.T) {
		subT = t
		tc.CompareBackends(t, func(m *trace.TracedModule) {
			_, _ = m.Call("square", []float32{1, 2, 3})
		})
		returned = true
	})
	require.NotNil(t, subT)
	assert.True(t, subT.Skipped())
	assert.False(t, subT.Failed())
	assert.False(t, returned)
}
