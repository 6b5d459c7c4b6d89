// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// e2e_compare runs one function of a registered e2e module on a list of backends, and reports whether
// the backends agree with the first one (the reference).
//
// Example:
//
//	e2e_compare -module=broadcast_to -function=scalar_broadcast_to -inputs='[1.0, [3, 3]]' -backends=go,xla:cpu
//
// It exits with status 1 if any backend disagrees with the reference.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gomlx/e2e/e2e"
	"github.com/gomlx/e2e/pkg/backendpool"
	"github.com/gomlx/e2e/pkg/module"
	"github.com/gomlx/e2e/pkg/trace"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/support/fsutil"
	"github.com/gomlx/gomlx/pkg/support/xslices"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

var (
	flagModule   = flag.String("module", "", "Name of the e2e module. Use -list to see the available modules.")
	flagFunction = flag.String("function", "", "Name of the function to run. If the module has only one function, it can be omitted.")
	flagInputs   = flag.String("inputs", "[]", "JSON array with one value per function input. "+
		"Numbers are converted to the declared dtype, nested arrays become tensors.")
	flagBackends = xslices.Flag("backends", []string{"go", "xla:cpu"},
		"Comma-separated list of backend configurations. The first one is the reference.",
		func(value string) (string, error) { return value, nil })
	flagRepeat       = flag.Int("repeat", 0, "Number of extra executions per backend to time, after the traced call.")
	flagRTol         = flag.Float64("rtol", trace.DefaultRTol, "Relative tolerance when comparing float outputs.")
	flagATol         = flag.Float64("atol", trace.DefaultATol, "Absolute tolerance when comparing float outputs.")
	flagArtifactsDir = flag.String("artifacts_dir", "", "If set, traces are saved under this directory (\"~\" is expanded).")
	flagList         = flag.Bool("list", false, "List the registered modules and their functions, and exit.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	defer backendpool.Finalize()

	if *flagList {
		listModules()
		return
	}
	mismatch, err := run()
	if err != nil {
		klog.Errorf("%+v", err)
		os.Exit(1)
	}
	if mismatch {
		os.Exit(1)
	}
}

// run the comparison, and return whether any backend disagrees with the reference.
func run() (mismatch bool, err error) {
	if *flagModule == "" {
		return false, errors.New("missing -module, see e2e_compare -help")
	}
	if len(*flagBackends) == 0 {
		return false, errors.New("no -backends given")
	}
	m, err := e2e.NewModule(*flagModule)
	if err != nil {
		return false, err
	}
	fn, err := selectFunction(m, *flagFunction)
	if err != nil {
		return false, err
	}

	results := make([]*backendResult, 0, len(*flagBackends))
	for _, backendConfig := range *flagBackends {
		// Fresh input tensors for each backend, so no device buffers are shared across backends.
		inputs, err := parseInputs(fn, *flagInputs)
		if err != nil {
			return false, err
		}
		result, err := runBackend(m, fn, backendConfig, inputs)
		if err != nil {
			if len(results) == 0 {
				return false, errors.WithMessagef(err, "reference backend %q", backendConfig)
			}
			klog.Warningf("Skipping backend %q: %v", backendConfig, err)
			continue
		}
		if len(results) > 0 {
			result.compareErr = trace.Compare(results[0].trace, result.trace)
			mismatch = mismatch || result.compareErr != nil
		}
		results = append(results, result)
	}

	fmt.Println(titleStyle.Render(fmt.Sprintf("%s.%s%s", m.Name(), fn.Name, fn.Signature)))
	fmt.Println(reportTable(results).Render())
	for _, result := range results {
		if result.compareErr != nil {
			fmt.Printf("\n%v\n", result.compareErr)
		}
	}

	if *flagArtifactsDir != "" {
		if err := saveTraces(results); err != nil {
			return mismatch, err
		}
	}
	return mismatch, nil
}

func selectFunction(m *module.Module, name string) (*module.Function, error) {
	if name == "" {
		names := m.Functions()
		if len(names) != 1 {
			return nil, errors.Errorf("module %q has %d functions %q, select one with -function", m.Name(), len(names), names)
		}
		name = names[0]
	}
	fn := m.Function(name)
	if fn == nil {
		return nil, errors.Errorf("module %q has no function %q, available: %q", m.Name(), name, m.Functions())
	}
	return fn, nil
}

// parseInputs decodes the JSON array of inputs and converts each value to the dtype declared in the signature.
func parseInputs(fn *module.Function, inputsJSON string) ([]any, error) {
	var values []any
	if err := json.Unmarshal([]byte(inputsJSON), &values); err != nil {
		return nil, errors.Wrapf(err, "parsing -inputs=%q as a JSON array", inputsJSON)
	}
	if len(values) != len(fn.Signature) {
		return nil, errors.Errorf("function %q takes %d inputs %s, -inputs has %d values",
			fn.Name, len(fn.Signature), fn.Signature, len(values))
	}
	inputs := make([]any, len(values))
	for ii, value := range values {
		t, err := fn.Signature[ii].Coerce(value)
		if err != nil {
			return nil, errors.WithMessagef(err, "input #%d", ii)
		}
		inputs[ii] = t
	}
	return inputs, nil
}

func saveTraces(results []*backendResult) error {
	baseDir, err := fsutil.ReplaceTildeInDir(*flagArtifactsDir)
	if err != nil {
		return err
	}
	runDir := filepath.Join(baseDir, *flagModule, uuid.NewString())
	for _, result := range results {
		if err := result.trace.Save(filepath.Join(runDir, pathSafe(result.backend))); err != nil {
			return err
		}
	}
	fmt.Printf("\nTraces saved in %s\n", runDir)
	return nil
}

// finalizeAll releases the outputs of timed runs immediately.
func finalizeAll(outputs []*tensors.Tensor) {
	for _, output := range outputs {
		_ = output.FinalizeAll()
	}
}
