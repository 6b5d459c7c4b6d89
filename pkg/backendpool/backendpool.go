// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package backendpool creates GoMLX backends on demand, and shares them across the whole process.
package backendpool

import (
	"strings"
	"sync"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	_ "github.com/gomlx/gomlx/backends/simplego"
	"github.com/gomlx/gomlx/backends/xla"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

type backendEntry struct {
	backend backends.Backend
	err     error
}

var (
	backendsMu    sync.Mutex
	backendsCache = make(map[string]*backendEntry)

	xlaInstallOnce sync.Once
	xlaInstallErr  error
)

// Get returns the backend for the given configuration (e.g.: "go", "xla:cpu").
//
// Backends are created once and shared by every user in the process. XLA's PJRT plugins are auto-installed
// on first use. If a backend fails to be created, the error is cached and returned on every call.
func Get(config string) (backends.Backend, error) {
	backendsMu.Lock()
	defer backendsMu.Unlock()
	if entry, found := backendsCache[config]; found {
		return entry.backend, entry.err
	}
	entry := newEntry(config)
	backendsCache[config] = entry
	return entry.backend, entry.err
}

// newEntry creates the backend for config. Failures, including panics from the backend constructor, are
// returned in the entry's err.
func newEntry(config string) *backendEntry {
	entry := &backendEntry{}
	if config == xla.BackendName || strings.HasPrefix(config, xla.BackendName+":") {
		xlaInstallOnce.Do(func() {
			xlaInstallErr = xla.AutoInstall()
		})
		if xlaInstallErr != nil {
			entry.err = errors.WithMessagef(xlaInstallErr, "failed to auto-install XLA PJRT for backend %q", config)
			klog.Errorf("%+v", entry.err)
			return entry
		}
	}
	err := exceptions.TryCatch[error](func() {
		entry.backend, entry.err = backends.NewWithConfig(config)
	})
	if err == nil {
		err = entry.err
	}
	if err == nil && entry.backend == nil {
		err = errors.New("no backend returned")
	}
	if err != nil {
		entry.backend = nil
		entry.err = errors.WithMessagef(err, "failed to create backend %q", config)
		klog.Errorf("%+v", entry.err)
		return entry
	}
	klog.Infof("Backend %q: %s", config, entry.backend.Description())
	return entry
}

// Finalize releases all backends created so far. Backends requested afterward are created again.
func Finalize() {
	backendsMu.Lock()
	defer backendsMu.Unlock()
	for config, entry := range backendsCache {
		if entry.backend != nil {
			entry.backend.Finalize()
		}
		delete(backendsCache, config)
	}
}
