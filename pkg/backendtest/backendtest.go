// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package backendtest runs the same calls to a module on a reference backend and on a list of target
// backends, and checks that all backends produce equivalent results.
//
// Typical use in a test file:
//
//	var broadcastTo = backendtest.CompileModule(e2e.NewBroadcastToModule())
//
//	func TestScalarBroadcastTo(t *testing.T) {
//		broadcastTo.CompareBackends(t, func(m *trace.TracedModule) {
//			_, _ = m.Call("scalar_broadcast_to", float32(1), []int32{3, 3})
//		})
//	}
//
// The backends compared are configured with flags, see ConfigFromFlags. E.g.:
//
//	go test ./e2e/... -args -reference_backend=go -target_backends=xla:cpu,xla:cuda -summarize
package backendtest

import (
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/gomlx/e2e/pkg/backendpool"
	"github.com/gomlx/e2e/pkg/module"
	"github.com/gomlx/e2e/pkg/trace"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// TestCase holds a module compiled for each of the backends being compared.
// Create it with CompileModule.
type TestCase struct {
	module *module.Module

	configOnce sync.Once
	config     *Config

	mu       sync.Mutex
	compiled map[string]*module.Compiled
}

// CompileModule registers the module to be compiled for each of the backends compared.
//
// It can be called during package initialization: flags are only read when the first comparison runs,
// and the module is compiled once per backend, the first time the backend is used.
func CompileModule(m *module.Module) *TestCase {
	return &TestCase{
		module:   m,
		compiled: make(map[string]*module.Compiled),
	}
}

// WithConfig sets the configuration to use, instead of the one from ConfigFromFlags.
func (tc *TestCase) WithConfig(cfg Config) *TestCase {
	tc.config = &cfg
	return tc
}

// Config returns the configuration used by the test case.
func (tc *TestCase) Config() Config {
	tc.configOnce.Do(func() {
		if tc.config == nil {
			cfg := ConfigFromFlags()
			tc.config = &cfg
		}
	})
	return *tc.config
}

// FinalizeBackends releases all backends used by the test cases. Call it at the end of TestMain.
func FinalizeBackends() {
	backendpool.Finalize()
}

// Module returns the module being tested.
func (tc *TestCase) Module() *module.Module { return tc.module }

// Compiled returns the module compiled for the given backend configuration, compiling it if needed.
func (tc *TestCase) Compiled(backendConfig string) (*module.Compiled, error) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	if c, found := tc.compiled[backendConfig]; found {
		return c, nil
	}
	backend, err := backendpool.Get(backendConfig)
	if err != nil {
		return nil, err
	}
	c := tc.module.Compile(backend).WithBackendName(backendConfig)
	tc.compiled[backendConfig] = c
	return c, nil
}

// Trace runs traceFn on the module compiled for the given backend and returns the trace of the calls made.
func (tc *TestCase) Trace(backendConfig string, traceFn func(m *trace.TracedModule)) (*trace.Trace, error) {
	c, err := tc.Compiled(backendConfig)
	if err != nil {
		return nil, err
	}
	cfg := tc.Config()
	traced := trace.NewTracedModule(c).WithTolerance(cfg.RTol, cfg.ATol)
	traceFn(traced)
	return traced.Trace(), nil
}

// CompareBackends runs traceFn against the reference backend and each of the target backends, and reports
// in t any difference between the trace of a target backend and the reference trace.
//
// Target backends that are not available are skipped (and logged). If the reference backend is not available
// the test fails. If no target backend is available, nothing is compared and the test is skipped, or it
// fails if Config.RequireTargets is set.
//
// The traces are saved under <ArtifactsDir>/<module name>/traces/<test name>/<backend>, and the traces of
// every backend that ran are returned (the reference first), so the test can further inspect the outputs.
func (tc *TestCase) CompareBackends(t *testing.T, traceFn func(m *trace.TracedModule)) []*trace.Trace {
	t.Helper()
	cfg := tc.Config()
	refTrace, err := tc.Trace(cfg.ReferenceBackend, traceFn)
	if err != nil {
		t.Fatalf("reference backend %q not available: %+v", cfg.ReferenceBackend, err)
	}
	traces := []*trace.Trace{refTrace}
	mismatched := make(map[string]bool)
	for _, target := range cfg.TargetBackends {
		tarTrace, err := tc.Trace(target, traceFn)
		if err != nil {
			klog.Warningf("Skipping target backend %q: %v", target, err)
			t.Logf("skipping target backend %q: not available", target)
			continue
		}
		traces = append(traces, tarTrace)
		if err := trace.Compare(refTrace, tarTrace); err != nil {
			mismatched[target] = true
			t.Errorf("%s: %v", t.Name(), err)
		}
	}

	if cfg.ArtifactsDir != "" {
		testDir := filepath.Join(cfg.ArtifactsDir, tc.module.Name(), "traces", pathSafe(t.Name()))
		for _, tr := range traces {
			if err := tr.Save(filepath.Join(testDir, pathSafe(tr.Backend))); err != nil {
				klog.Errorf("Failed to save trace: %+v", errors.WithMessagef(err, "test %s", t.Name()))
			}
		}
		if len(mismatched) > 0 {
			t.Logf("traces saved in %s", testDir)
		}
	}
	if cfg.Summarize || len(mismatched) > 0 {
		for _, tr := range traces {
			t.Log(tr.Summary())
		}
	}
	if len(traces) == 1 {
		if cfg.RequireTargets {
			t.Fatalf("no target backend available out of %q: only the reference backend %q ran",
				cfg.TargetBackends, cfg.ReferenceBackend)
		}
		t.Skipf("no target backend available out of %q: only the reference backend %q ran, nothing compared",
			cfg.TargetBackends, cfg.ReferenceBackend)
	}
	return traces
}

var pathReplacer = strings.NewReplacer("/", "_", ":", "_", " ", "_")

// pathSafe converts test and backend names to valid directory names.
func pathSafe(name string) string {
	return pathReplacer.Replace(name)
}
