// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package trace records the calls made to a compiled module -- inputs, outputs and errors -- so the
// traces of different backends can be compared.
package trace

import (
	"time"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"k8s.io/klog/v2"
)

// Default tolerances used when comparing floating point outputs.
const (
	DefaultRTol = 1e-6
	DefaultATol = 1e-6
)

// Executor is implemented by a module compiled for one backend, see module.Compiled.
type Executor interface {
	ModuleName() string
	BackendName() string
	Exec(method string, args ...any) ([]*tensors.Tensor, error)
}

// Call is the record of one call to a module function.
type Call struct {
	Method  string
	Inputs  []any
	Outputs []*tensors.Tensor

	// Err is the error returned by the call, if any.
	Err error

	// RTol and ATol are the tolerances to use when comparing this call's outputs.
	RTol, ATol float64

	Duration time.Duration
}

// Trace holds all calls made to a module on one backend, in order.
type Trace struct {
	Module  string
	Backend string
	Calls   []*Call
}

// TracedModule wraps an Executor and records every call made to it.
type TracedModule struct {
	executor   Executor
	trace      *Trace
	rtol, atol float64
}

// NewTracedModule creates a TracedModule with the default tolerances.
func NewTracedModule(executor Executor) *TracedModule {
	return &TracedModule{
		executor: executor,
		trace: &Trace{
			Module:  executor.ModuleName(),
			Backend: executor.BackendName(),
		},
		rtol: DefaultRTol,
		atol: DefaultATol,
	}
}

// WithTolerance sets the default tolerances for the calls recorded.
func (m *TracedModule) WithTolerance(rtol, atol float64) *TracedModule {
	m.rtol, m.atol = rtol, atol
	return m
}

// Backend returns the name of the backend being traced.
func (m *TracedModule) Backend() string { return m.trace.Backend }

// Trace returns the trace recorded so far.
func (m *TracedModule) Trace() *Trace { return m.trace }

// Call executes method with args and records it.
//
// Errors are recorded in the trace: a backend that fails where the reference also fails is consistent.
// They are also returned, for callers that need the outputs.
func (m *TracedModule) Call(method string, args ...any) ([]*tensors.Tensor, error) {
	return m.CallWithTolerance(m.rtol, m.atol, method, args...)
}

// CallWithTolerance is like Call, but with specific tolerances for comparing the outputs of this call.
func (m *TracedModule) CallWithTolerance(rtol, atol float64, method string, args ...any) ([]*tensors.Tensor, error) {
	start := time.Now()
	outputs, err := m.executor.Exec(method, args...)
	call := &Call{
		Method:   method,
		Inputs:   args,
		Outputs:  outputs,
		Err:      err,
		RTol:     rtol,
		ATol:     atol,
		Duration: time.Since(start),
	}
	m.trace.Calls = append(m.trace.Calls, call)
	if err != nil {
		klog.V(1).Infof("%s.%s on %q failed: %v", m.trace.Module, method, m.trace.Backend, err)
	}
	return outputs, err
}
