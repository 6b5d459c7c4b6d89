// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"testing"
	"time"

	"github.com/gomlx/e2e/e2e"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectFunction(t *testing.T) {
	m := must.M1(e2e.NewModule(e2e.BroadcastToModuleName))
	fn, err := selectFunction(m, "")
	require.NoError(t, err)
	assert.Equal(t, "scalar_broadcast_to", fn.Name)

	_, err = selectFunction(m, "nope")
	require.ErrorContains(t, err, `has no function "nope"`)
}

func TestParseInputs(t *testing.T) {
	m := must.M1(e2e.NewModule(e2e.BroadcastToModuleName))
	fn := m.Function("scalar_broadcast_to")

	inputs, err := parseInputs(fn, "[1, [3, 3]]")
	require.NoError(t, err)
	require.Len(t, inputs, 2)
	x := inputs[0].(*tensors.Tensor)
	assert.Equal(t, dtypes.Float32, x.DType())
	assert.Equal(t, float32(1), x.Value())
	shape := inputs[1].(*tensors.Tensor)
	assert.Equal(t, dtypes.Int32, shape.DType())
	assert.Equal(t, []int32{3, 3}, shape.Value())

	_, err = parseInputs(fn, "[1]")
	require.ErrorContains(t, err, "takes 2 inputs")
	_, err = parseInputs(fn, "not json")
	require.Error(t, err)
}

func TestMeanRepeated(t *testing.T) {
	r := &backendResult{}
	assert.Equal(t, time.Duration(0), r.meanRepeated())
	r.repeated = []time.Duration{time.Millisecond, 3 * time.Millisecond}
	assert.Equal(t, 2*time.Millisecond, r.meanRepeated())
	assert.Equal(t, "xla_cuda", pathSafe("xla:cuda"))
	assert.Equal(t, "a ...", firstLine("a\nb"))
}

func TestRunInvalidInputs(t *testing.T) {
	defer func(module, inputs string) { *flagModule, *flagInputs = module, inputs }(*flagModule, *flagInputs)
	*flagModule = e2e.BroadcastToModuleName
	for _, inputs := range []string{"[1]", "[1, [3.5, 3]]", "{"} {
		*flagInputs = inputs
		mismatch, err := run()
		require.Error(t, err, "-inputs=%s", inputs)
		assert.False(t, mismatch)
	}
}
