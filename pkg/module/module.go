// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package module defines traced modules: a named collection of graph functions, each with a declared
// input signature, that can be compiled for any GoMLX backend.
//
// Example:
//
//	m := module.New("broadcast_to")
//	m.Def("scalar_broadcast_to",
//		signature.Signature{signature.Spec(dtypes.Float32), signature.StaticSpec(dtypes.Int32, 2)},
//		func(g *graph.Graph, args []module.Arg) []*graph.Node {
//			return []*graph.Node{graph.BroadcastToDims(args[0].Node, module.Static(args[1])...)}
//		})
//	compiled := m.Compile(backend)
//	outputs, err := compiled.Exec("scalar_broadcast_to", float32(1), []int32{3, 3})
package module

import (
	"slices"

	"github.com/gomlx/e2e/pkg/signature"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/support/xslices"
)

// Arg is one input to a GraphFn.
// Dynamic inputs (graph parameters) have Node set, static inputs have Value set.
type Arg struct {
	Node  *graph.Node
	Value *tensors.Tensor
}

// IsStatic returns whether the argument is a static (host) value.
func (a Arg) IsStatic() bool { return a.Value != nil }

// GraphFn builds the computation of a traced function.
// The args are given in the order of the function's signature.
//
// Like any GoMLX graph building function, it should panic with an error on failures.
type GraphFn func(g *graph.Graph, args []Arg) []*graph.Node

// Function is a traced function definition.
type Function struct {
	Name      string
	Signature signature.Signature
	Fn        GraphFn
}

// Module is a named collection of functions.
// Define the functions with Def, before compiling it.
type Module struct {
	name      string
	functions map[string]*Function
}

// New creates an empty module with the given name.
func New(name string) *Module {
	return &Module{
		name:      name,
		functions: make(map[string]*Function),
	}
}

// Name of the module.
func (m *Module) Name() string { return m.name }

// Def defines a function in the module with the given input signature.
//
// It panics if the name is already defined or the signature is invalid: these are programming errors.
// It returns the module, so calls can be chained.
func (m *Module) Def(name string, sig signature.Signature, fn GraphFn) *Module {
	if _, found := m.functions[name]; found {
		exceptions.Panicf("module %q: function %q defined more than once", m.name, name)
	}
	if fn == nil {
		exceptions.Panicf("module %q: function %q has nil GraphFn", m.name, name)
	}
	if err := sig.Validate(); err != nil {
		exceptions.Panicf("module %q: function %q has invalid signature: %v", m.name, name, err)
	}
	m.functions[name] = &Function{
		Name:      name,
		Signature: slices.Clone(sig),
		Fn:        fn,
	}
	return m
}

// Functions returns the sorted names of the functions defined.
func (m *Module) Functions() []string {
	return xslices.SortedKeys(m.functions)
}

// Function returns the definition of the named function, or nil if not defined.
func (m *Module) Function(name string) *Function {
	return m.functions[name]
}
