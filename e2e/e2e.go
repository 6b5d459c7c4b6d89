// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package e2e holds the end-to-end modules whose functions are compared across GoMLX backends.
//
// Each module registers a constructor, so command-line tools can find it by name. The tests in this
// package compare the modules' functions using the backendtest package.
package e2e

import (
	"sync"

	"github.com/gomlx/e2e/pkg/module"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/pkg/support/xslices"
	"github.com/pkg/errors"
)

// ModuleConstructor creates a new instance of a module.
type ModuleConstructor func() *module.Module

var (
	registryMu sync.Mutex
	registry   = make(map[string]ModuleConstructor)
)

// Register a module constructor under the given name. Call it during package initialization.
// It panics if the name is already registered.
func Register(name string, constructor ModuleConstructor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, found := registry[name]; found {
		exceptions.Panicf("e2e module %q registered more than once", name)
	}
	registry[name] = constructor
}

// Modules returns the sorted names of the registered modules.
func Modules() []string {
	registryMu.Lock()
	defer registryMu.Unlock()
	return xslices.SortedKeys(registry)
}

// NewModule creates the registered module with the given name.
func NewModule(name string) (*module.Module, error) {
	registryMu.Lock()
	constructor, found := registry[name]
	registryMu.Unlock()
	if !found {
		return nil, errors.Errorf("unknown e2e module %q, registered modules: %q", name, Modules())
	}
	return constructor(), nil
}
