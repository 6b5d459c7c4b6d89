// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package signature_test

import (
	"fmt"
	"math"
	"testing"

	"github.com/gomlx/e2e/pkg/signature"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var broadcastSig = signature.Signature{
	signature.Spec(dtypes.Float32).WithName("x"),
	signature.StaticSpec(dtypes.Int32, 2).WithName("shape"),
}

func TestSignatureString(t *testing.T) {
	assert.Equal(t, fmt.Sprintf("(x: (%s), shape: static (%s)[2])", dtypes.Float32, dtypes.Int32), broadcastSig.String())
	assert.Equal(t, fmt.Sprintf("(%s)[? 3]", dtypes.Float64), signature.Spec(dtypes.Float64, signature.AnyDim, 3).String())
	assert.Equal(t, 1, broadcastSig.NumStatic())
}

func TestValidate(t *testing.T) {
	require.NoError(t, broadcastSig.Validate())
	bad := signature.Signature{signature.Spec(dtypes.Float32, 2, -3)}
	require.ErrorContains(t, bad.Validate(), "input #0")
}

func TestConvert(t *testing.T) {
	converted, err := broadcastSig.Convert(float32(1), []int32{3, 3})
	require.NoError(t, err)
	require.Len(t, converted, 2)
	assert.True(t, converted[0].Shape().IsScalar())
	assert.Equal(t, []int32{3, 3}, converted[1].Value())

	// Tensors are taken as is.
	x := tensors.FromScalar(float32(7))
	converted, err = broadcastSig.Convert(x, []int32{1, 2})
	require.NoError(t, err)
	assert.Same(t, x, converted[0])

	// Wrong number of inputs.
	_, err = broadcastSig.Convert(float32(1))
	require.ErrorContains(t, err, "takes 2 inputs, 1 given")

	// No implicit dtype conversion.
	_, err = broadcastSig.Convert(1.0, []int32{3, 3})
	require.ErrorContains(t, err, "dtype mismatch")

	// Shape vector must have exactly 2 elements.
	_, err = broadcastSig.Convert(float32(1), []int32{3, 3, 3})
	require.ErrorContains(t, err, "dimension mismatch")

	// Rank mismatch.
	_, err = broadcastSig.Convert(float32(1), int32(3))
	require.ErrorContains(t, err, "rank mismatch")

	// Irregular slices can't be converted.
	_, err = signature.Signature{signature.Spec(dtypes.Int32, 2, signature.AnyDim)}.Convert([][]int32{{1}, {1, 2}})
	require.Error(t, err)
}

func TestCoerce(t *testing.T) {
	// Values as decoded from JSON.
	x, err := broadcastSig[0].Coerce(1.0)
	require.NoError(t, err)
	assert.Equal(t, float32(1), x.Value())

	shape, err := broadcastSig[1].Coerce([]any{3.0, 4.0})
	require.NoError(t, err)
	assert.Equal(t, []int32{3, 4}, shape.Value())

	matrix, err := signature.Spec(dtypes.Float64, signature.AnyDim, 2).Coerce([]any{[]any{1.0, 2.0}, []any{3.0, 4.0}})
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{1, 2}, {3, 4}}, matrix.Value())

	_, err = broadcastSig[1].Coerce([]any{3.0})
	require.ErrorContains(t, err, "dimension mismatch")

	_, err = signature.Spec(dtypes.Float64, 2, 2).Coerce([]any{[]any{1.0, 2.0}, []any{3.0}})
	require.ErrorContains(t, err, "irregular shape")

	_, err = broadcastSig[0].Coerce("one")
	require.ErrorContains(t, err, "unsupported value type")
}

func TestCoerceIntegers(t *testing.T) {
	shapeSpec := signature.StaticSpec(dtypes.Int32, 2)
	_, err := shapeSpec.Coerce([]any{3.7, 3.0})
	require.ErrorContains(t, err, "is not an integer")
	_, err = shapeSpec.Coerce([]any{1e20, 3.0})
	require.ErrorContains(t, err, "out of range")
	_, err = shapeSpec.Coerce([]any{float64(math.MaxInt32) + 1, 3.0})
	require.ErrorContains(t, err, "out of range")

	limits, err := shapeSpec.Coerce([]any{float64(math.MinInt32), float64(math.MaxInt32)})
	require.NoError(t, err)
	assert.Equal(t, []int32{math.MinInt32, math.MaxInt32}, limits.Value())

	_, err = signature.Spec(dtypes.Uint8).Coerce(-1.0)
	require.ErrorContains(t, err, "out of range")
	_, err = signature.Spec(dtypes.Uint8).Coerce(256.0)
	require.ErrorContains(t, err, "out of range")
	_, err = signature.Spec(dtypes.Int64).Coerce(math.Inf(1))
	require.ErrorContains(t, err, "out of range")

	// Floats are not restricted.
	x, err := signature.Spec(dtypes.Float32).Coerce(3.7)
	require.NoError(t, err)
	assert.Equal(t, float32(3.7), x.Value())
}

func TestToInts(t *testing.T) {
	ints, err := signature.ToInts(tensors.FromValue([]int32{3, 5}))
	require.NoError(t, err)
	assert.Equal(t, []int{3, 5}, ints)

	ints, err = signature.ToInts(tensors.FromValue([]uint8{1, 2, 3}))
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, ints)

	_, err = signature.ToInts(tensors.FromValue([]float32{1}))
	require.ErrorContains(t, err, "expected an integer tensor")
}

func TestKey(t *testing.T) {
	a, err := broadcastSig.Convert(float32(1), []int32{3, 3})
	require.NoError(t, err)
	b, err := broadcastSig.Convert(float32(2), []int32{3, 3})
	require.NoError(t, err)
	c, err := broadcastSig.Convert(float32(1), []int32{2, 3})
	require.NoError(t, err)
	// Only static values are part of the key.
	assert.Equal(t, broadcastSig.Key(a), broadcastSig.Key(b))
	assert.NotEqual(t, broadcastSig.Key(a), broadcastSig.Key(c))
}
