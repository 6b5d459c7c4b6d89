// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package module

import (
	"sync"

	"github.com/gomlx/e2e/pkg/signature"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Compiled is a Module bound to a backend.
//
// The computations are JIT-compiled on the first call of each function: one graph.Exec is kept per
// function and distinct static values, and each graph.Exec further caches one computation per input shapes.
//
// It is safe for concurrent use: Finalize waits for executions in other goroutines to finish.
type Compiled struct {
	module      *Module
	backend     backends.Backend
	backendName string

	// running is read-locked during executions, so Finalize waits for them to finish.
	running sync.RWMutex

	mu              sync.Mutex
	execs           map[string]*graph.Exec
	numCompilations int
}

// Compile binds the module to the backend. The actual compilation happens lazily on the first
// call to each function.
func (m *Module) Compile(backend backends.Backend) *Compiled {
	return &Compiled{
		module:      m,
		backend:     backend,
		backendName: backend.Name(),
		execs:       make(map[string]*graph.Exec),
	}
}

// WithBackendName sets the name used to identify the backend in traces and reports.
// The default is backend.Name(), but the backend configuration (e.g.: "xla:cuda") is often more informative.
func (c *Compiled) WithBackendName(name string) *Compiled {
	c.backendName = name
	return c
}

// Module returns the module compiled.
func (c *Compiled) Module() *Module { return c.module }

// ModuleName returns the name of the module compiled.
func (c *Compiled) ModuleName() string { return c.module.name }

// BackendName returns the name of the backend it was compiled for.
func (c *Compiled) BackendName() string { return c.backendName }

// Backend returns the backend the module is compiled for.
func (c *Compiled) Backend() backends.Backend { return c.backend }

// NumCompilations returns the number of executables created so far.
func (c *Compiled) NumCompilations() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.numCompilations
}

// Exec validates the args against the method's signature, and executes it.
// It returns the outputs of the function, or an error if the arguments are invalid, or the computation
// failed to build or execute.
func (c *Compiled) Exec(method string, args ...any) ([]*tensors.Tensor, error) {
	fn := c.module.Function(method)
	if fn == nil {
		return nil, errors.Errorf("module %q has no function %q, available functions: %q",
			c.module.name, method, c.module.Functions())
	}
	inputs, err := fn.Signature.Convert(args...)
	if err != nil {
		return nil, errors.WithMessagef(err, "%s.%s%s", c.module.name, method, fn.Signature)
	}
	c.running.RLock()
	defer c.running.RUnlock()
	e, err := c.executable(fn, inputs)
	if err != nil {
		return nil, err
	}
	dynamicInputs := make([]any, 0, len(inputs))
	for ii, spec := range fn.Signature {
		if !spec.Static {
			dynamicInputs = append(dynamicInputs, inputs[ii])
		}
	}
	var outputs []*tensors.Tensor
	var execErr error
	err = exceptions.TryCatch[error](func() {
		outputs, execErr = e.Exec(dynamicInputs...)
	})
	if err == nil {
		err = execErr
	}
	if err != nil {
		return nil, errors.WithMessagef(err, "executing %s.%s on backend %q", c.module.name, method, c.backendName)
	}
	return outputs, nil
}

// executable returns the graph.Exec for the function and the static values in inputs, creating it if needed.
func (c *Compiled) executable(fn *Function, inputs []*tensors.Tensor) (*graph.Exec, error) {
	key := fn.Name + "|" + fn.Signature.Key(inputs)
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, found := c.execs[key]; found {
		return e, nil
	}

	sig := fn.Signature
	statics := make([]*tensors.Tensor, len(sig))
	for ii, spec := range sig {
		if spec.Static {
			statics[ii] = inputs[ii]
		}
	}
	buildFn := func(g *graph.Graph, nodes []*graph.Node) []*graph.Node {
		args := make([]Arg, len(sig))
		var nodeIdx int
		for ii, spec := range sig {
			if spec.Static {
				args[ii].Value = statics[ii]
			} else {
				args[ii].Node = nodes[nodeIdx]
				nodeIdx++
			}
		}
		outputs := fn.Fn(g, args)
		if len(outputs) == 0 {
			exceptions.Panicf("function %q returned no outputs", fn.Name)
		}
		return outputs
	}

	var e *graph.Exec
	var err error
	if sig.NumStatic() == len(sig) {
		e, err = graph.NewExec(c.backend, func(g *graph.Graph) []*graph.Node {
			return buildFn(g, nil)
		})
	} else {
		e, err = graph.NewExec(c.backend, func(nodes []*graph.Node) []*graph.Node {
			return buildFn(nodes[0].Graph(), nodes)
		})
	}
	if err != nil {
		return nil, errors.WithMessagef(err, "creating executable for %s.%s on backend %q",
			c.module.name, fn.Name, c.backendName)
	}
	c.execs[key] = e
	c.numCompilations++
	klog.V(1).Infof("module %q: new executable for %q on backend %q (static values %q)",
		c.module.name, fn.Name, c.backendName, key)
	return e, nil
}

// Finalize releases the executables created so far, after waiting for running executions to finish.
// The Compiled module can still be used afterward, and executables will be re-created as needed.
func (c *Compiled) Finalize() {
	c.running.Lock()
	defer c.running.Unlock()
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.execs {
		e.Finalize()
	}
	c.execs = make(map[string]*graph.Exec)
}

// Static is a helper for GraphFn implementations to read a static integer argument, e.g. a target shape.
// It panics if the argument is not static or not an integer tensor, as GoMLX graph building functions do.
func Static(arg Arg) []int {
	if !arg.IsStatic() {
		exceptions.Panicf("argument is not static, it is a graph node with shape %s", arg.Node.Shape())
	}
	ints, err := signature.ToInts(arg.Value)
	if err != nil {
		panic(err)
	}
	return ints
}
