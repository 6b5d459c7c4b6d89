// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backendtest

import (
	"flag"
	"os"
	"path/filepath"
	"sync"

	"github.com/gomlx/e2e/pkg/trace"
	"github.com/gomlx/go-xla/pkg/installer"
	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/backends/simplego"
	"github.com/gomlx/gomlx/pkg/support/xslices"
	"github.com/google/uuid"
)

var (
	flagReferenceBackend = flag.String("reference_backend", simplego.BackendName,
		"Backend configuration used as reference: the outputs of every target backend are compared to its outputs.")
	flagTargetBackends = xslices.Flag("target_backends", defaultTargetBackends(),
		"Comma-separated list of backend configurations to compare against the reference backend. "+
			"If the environment variable GOMLX_BACKEND is set, it is used as the only target backend.",
		func(value string) (string, error) { return value, nil })
	flagArtifactsDir = flag.String("artifacts_dir", "",
		"Directory where to save the traces of each test and backend. "+
			"If empty, a new directory under the system temporary directory is used.")
	flagRTol           = flag.Float64("rtol", trace.DefaultRTol, "Default relative tolerance when comparing float outputs.")
	flagATol           = flag.Float64("atol", trace.DefaultATol, "Default absolute tolerance when comparing float outputs.")
	flagSummarize      = flag.Bool("summarize", false, "Log a summary of the traces of every backend, even if they match.")
	flagRequireTargets = flag.Bool("require_targets", false,
		"Fail comparisons where no target backend is available, instead of skipping them.")
)

// defaultTargetBackends includes XLA's CPU, and XLA's CUDA if a GPU is available.
func defaultTargetBackends() []string {
	targets := []string{"xla:cpu"}
	if installer.HasNvidiaGPU() {
		targets = append(targets, "xla:cuda")
	}
	return targets
}

// Config of the backend comparisons.
type Config struct {
	// ReferenceBackend is the backend configuration (see backends.NewWithConfig) whose traces are taken as correct.
	ReferenceBackend string

	// TargetBackends are compared to the reference. Backends that are not available are skipped.
	TargetBackends []string

	// ArtifactsDir where traces are saved. If empty, traces are not saved.
	ArtifactsDir string

	// RTol, ATol are the default tolerances for the calls.
	RTol, ATol float64

	// Summarize logs the trace summaries even if backends match.
	Summarize bool

	// RequireTargets fails a comparison if none of the target backends is available.
	// Otherwise, the test is skipped.
	RequireTargets bool
}

var (
	defaultArtifactsDirOnce sync.Once
	defaultArtifactsDir     string
)

// DefaultArtifactsDir returns a new directory, unique per process, under the system temporary directory.
func DefaultArtifactsDir() string {
	defaultArtifactsDirOnce.Do(func() {
		defaultArtifactsDir = filepath.Join(os.TempDir(), "gomlx_e2e", uuid.NewString())
	})
	return defaultArtifactsDir
}

// ConfigFromFlags returns the configuration set by the flags, and by the GOMLX_BACKEND environment
// variable (backends.ConfigEnvVar), which if set overrides the target backends.
//
// It should be called after flag.Parse().
func ConfigFromFlags() Config {
	cfg := Config{
		ReferenceBackend: *flagReferenceBackend,
		TargetBackends:   *flagTargetBackends,
		ArtifactsDir:     *flagArtifactsDir,
		RTol:             *flagRTol,
		ATol:             *flagATol,
		Summarize:        *flagSummarize,
		RequireTargets:   *flagRequireTargets,
	}
	if selected := os.Getenv(backends.ConfigEnvVar); selected != "" {
		cfg.TargetBackends = []string{selected}
	}
	if cfg.ArtifactsDir == "" {
		cfg.ArtifactsDir = DefaultArtifactsDir()
	}
	return cfg
}
