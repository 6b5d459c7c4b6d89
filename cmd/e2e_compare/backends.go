// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/gomlx/e2e/pkg/backendpool"
	"github.com/gomlx/e2e/pkg/module"
	"github.com/gomlx/e2e/pkg/trace"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
)

// backendResult holds the trace and timings of running the function in one backend.
type backendResult struct {
	backend    string
	trace      *trace.Trace
	compareErr error

	// firstCall includes the JIT-compilation.
	firstCall time.Duration

	// repeated holds the durations of the -repeat extra executions.
	repeated []time.Duration
}

// meanRepeated returns the mean duration of the repeated executions, or 0 if there were none.
func (r *backendResult) meanRepeated() time.Duration {
	if len(r.repeated) == 0 {
		return 0
	}
	var total time.Duration
	for _, d := range r.repeated {
		total += d
	}
	return total / time.Duration(len(r.repeated))
}

func runBackend(m *module.Module, fn *module.Function, backendConfig string, inputs []any) (*backendResult, error) {
	backend, err := backendpool.Get(backendConfig)
	if err != nil {
		return nil, err
	}
	compiled := m.Compile(backend).WithBackendName(backendConfig)
	defer compiled.Finalize()

	traced := trace.NewTracedModule(compiled).WithTolerance(*flagRTol, *flagATol)
	_, _ = traced.Call(fn.Name, inputs...)
	result := &backendResult{
		backend:   backendConfig,
		trace:     traced.Trace(),
		firstCall: traced.Trace().Calls[0].Duration,
	}
	if traced.Trace().Calls[0].Err != nil || *flagRepeat <= 0 {
		return result, nil
	}

	bar := progressbar.NewOptions(*flagRepeat,
		progressbar.OptionSetDescription(fmt.Sprintf("%-12s", backendConfig)),
		progressbar.OptionSetTheme(progressbar.ThemeASCII),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("runs"),
		progressbar.OptionClearOnFinish(),
	)
	result.repeated = make([]time.Duration, 0, *flagRepeat)
	for range *flagRepeat {
		start := time.Now()
		outputs, err := compiled.Exec(fn.Name, inputs...)
		if err != nil {
			_ = bar.Exit()
			return nil, errors.WithMessagef(err, "repeated execution on backend %q", backendConfig)
		}
		// Make sure results are materialized locally, so the timing includes the transfer.
		for _, output := range outputs {
			output.MaterializeLocal()
		}
		result.repeated = append(result.repeated, time.Since(start))
		finalizeAll(outputs)
		_ = bar.Add(1)
	}
	_ = bar.Finish()
	return result, nil
}

var pathReplacer = strings.NewReplacer("/", "_", ":", "_", " ", "_")

// pathSafe converts backend names to valid directory names.
func pathSafe(name string) string {
	return pathReplacer.Replace(name)
}
