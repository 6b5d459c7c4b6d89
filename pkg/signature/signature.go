// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package signature declares the input signature of a traced function: the dtype and dimensions of each
// of its arguments, and whether an argument is a static (host side) value or a graph parameter.
//
// It also converts Go values into tensors that conform to a signature.
package signature

import (
	"fmt"
	"math"
	"reflect"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
)

// AnyDim can be used as a dimension in a TensorSpec to accept any size for the axis.
const AnyDim = -1

// TensorSpec describes one input of a traced function.
type TensorSpec struct {
	// Name is optional, and used only for error messages and traces.
	Name string

	DType dtypes.DType

	// Dimensions of the input. Use AnyDim for axes that accept any size.
	Dimensions []int

	// Static inputs are known when the computation graph is built (e.g. a target shape), and are handed to
	// the graph function as host tensors instead of graph parameters.
	// A new computation is compiled for each distinct static value.
	Static bool
}

// Spec is a shortcut to create a TensorSpec for a dynamic (graph parameter) input.
func Spec(dtype dtypes.DType, dimensions ...int) TensorSpec {
	return TensorSpec{DType: dtype, Dimensions: dimensions}
}

// StaticSpec is a shortcut to create a TensorSpec for a static input.
func StaticSpec(dtype dtypes.DType, dimensions ...int) TensorSpec {
	return TensorSpec{DType: dtype, Dimensions: dimensions, Static: true}
}

// WithName returns a copy of the spec with the given name.
func (s TensorSpec) WithName(name string) TensorSpec {
	s.Name = name
	return s
}

// Rank of the spec.
func (s TensorSpec) Rank() int { return len(s.Dimensions) }

// String implements fmt.Stringer.
func (s TensorSpec) String() string {
	var sb strings.Builder
	if s.Name != "" {
		sb.WriteString(s.Name)
		sb.WriteString(": ")
	}
	if s.Static {
		sb.WriteString("static ")
	}
	sb.WriteString("(")
	sb.WriteString(s.DType.String())
	if len(s.Dimensions) > 0 {
		sb.WriteString(")[")
		for ii, dim := range s.Dimensions {
			if ii > 0 {
				sb.WriteString(" ")
			}
			if dim == AnyDim {
				sb.WriteString("?")
			} else {
				fmt.Fprintf(&sb, "%d", dim)
			}
		}
		sb.WriteString("]")
	} else {
		sb.WriteString(")")
	}
	return sb.String()
}

// Validate checks that the spec itself is well-formed.
func (s TensorSpec) Validate() error {
	if !s.DType.IsSupported() {
		return errors.Errorf("spec %s has an unsupported dtype", s)
	}
	for axis, dim := range s.Dimensions {
		if dim < 0 && dim != AnyDim {
			return errors.Errorf("spec %s has invalid dimension %d for axis %d", s, dim, axis)
		}
	}
	return nil
}

// Matches returns an error if the shape doesn't conform to the spec.
func (s TensorSpec) Matches(shape shapes.Shape) error {
	if shape.DType != s.DType {
		return errors.Errorf("dtype mismatch: spec %s, got shape %s", s, shape)
	}
	if shape.Rank() != s.Rank() {
		return errors.Errorf("rank mismatch: spec %s has rank %d, got shape %s", s, s.Rank(), shape)
	}
	for axis, dim := range s.Dimensions {
		if dim != AnyDim && shape.Dimensions[axis] != dim {
			return errors.Errorf("dimension mismatch on axis %d: spec %s, got shape %s", axis, s, shape)
		}
	}
	return nil
}

// Signature is the ordered list of inputs of a traced function.
type Signature []TensorSpec

// String implements fmt.Stringer.
func (sig Signature) String() string {
	parts := make([]string, len(sig))
	for ii, spec := range sig {
		parts[ii] = spec.String()
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// Validate checks that every spec is well-formed.
func (sig Signature) Validate() error {
	for ii, spec := range sig {
		if err := spec.Validate(); err != nil {
			return errors.WithMessagef(err, "input #%d", ii)
		}
	}
	return nil
}

// NumStatic returns the number of static inputs.
func (sig Signature) NumStatic() (count int) {
	for _, spec := range sig {
		if spec.Static {
			count++
		}
	}
	return
}

// Convert each of the args to a tensor and checks that it matches the signature.
//
// Args can be Go scalars, (multidimensional) slices or *tensors.Tensor. Their dtype must match exactly the
// declared dtype: no implicit conversions are done, the same way a traced function would reject them.
// See Coerce for a relaxed conversion.
func (sig Signature) Convert(args ...any) ([]*tensors.Tensor, error) {
	if len(args) != len(sig) {
		return nil, errors.Errorf("signature %s takes %d inputs, %d given", sig, len(sig), len(args))
	}
	converted := make([]*tensors.Tensor, len(args))
	for ii, arg := range args {
		t, err := toTensor(arg)
		if err != nil {
			return nil, errors.WithMessagef(err, "input #%d (%s)", ii, sig[ii])
		}
		if err := sig[ii].Matches(t.Shape()); err != nil {
			return nil, errors.WithMessagef(err, "input #%d", ii)
		}
		converted[ii] = t
	}
	return converted, nil
}

func toTensor(value any) (t *tensors.Tensor, err error) {
	if value == nil {
		return nil, errors.New("nil value")
	}
	err = exceptions.TryCatch[error](func() { t = tensors.FromAnyValue(value) })
	if err != nil {
		return nil, errors.WithMessagef(err, "cannot convert %T to a tensor", value)
	}
	return
}

// Coerce converts a loosely typed value (as decoded from JSON: float64, []any, nested []any, etc.)
// to a tensor of the spec's dtype. Numbers are converted to the spec dtype and the dimensions are
// checked against the spec.
func (s TensorSpec) Coerce(value any) (*tensors.Tensor, error) {
	if t, ok := value.(*tensors.Tensor); ok {
		return t, s.Matches(t.Shape())
	}
	var flat []float64
	dims, err := flatten(reflect.ValueOf(value), 0, &flat)
	if err != nil {
		return nil, errors.WithMessagef(err, "spec %s", s)
	}
	if err := s.Matches(shapes.Make(s.DType, dims...)); err != nil {
		return nil, err
	}
	return fromFloats(s.DType, flat, dims)
}

// flatten appends the values of v in row-major order to flat, and returns the dimensions found.
func flatten(v reflect.Value, depth int, flat *[]float64) ([]int, error) {
	for v.Kind() == reflect.Interface || v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return nil, errors.New("nil value")
		}
		v = v.Elem()
	}
	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		dims := []int{v.Len()}
		var subDims []int
		for ii := range v.Len() {
			sub, err := flatten(v.Index(ii), depth+1, flat)
			if err != nil {
				return nil, err
			}
			if ii == 0 {
				subDims = sub
			} else if !equalInts(sub, subDims) {
				return nil, errors.Errorf("irregular shape at depth %d: element #%d has dimensions %v, expected %v",
					depth, ii, sub, subDims)
			}
		}
		return append(dims, subDims...), nil
	case reflect.Bool:
		if v.Bool() {
			*flat = append(*flat, 1)
		} else {
			*flat = append(*flat, 0)
		}
		return nil, nil
	case reflect.Float32, reflect.Float64:
		*flat = append(*flat, v.Float())
		return nil, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		*flat = append(*flat, float64(v.Int()))
		return nil, nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		*flat = append(*flat, float64(v.Uint()))
		return nil, nil
	default:
		return nil, errors.Errorf("unsupported value type %s", v.Type())
	}
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for ii := range a {
		if a[ii] != b[ii] {
			return false
		}
	}
	return true
}

// intRanges are the values representable by the integer dtypes accepted by Coerce, as [min, max).
var intRanges = map[dtypes.DType][2]float64{
	dtypes.Int32:  {math.MinInt32, math.MaxInt32 + 1},
	dtypes.Int64:  {math.MinInt64, -math.MinInt64},
	dtypes.Uint8:  {0, math.MaxUint8 + 1},
	dtypes.Uint32: {0, math.MaxUint32 + 1},
	dtypes.Uint64: {0, 2 * -math.MinInt64},
}

func fromFloats(dtype dtypes.DType, flat []float64, dims []int) (*tensors.Tensor, error) {
	if r, found := intRanges[dtype]; found {
		for ii, v := range flat {
			if v != math.Trunc(v) {
				return nil, errors.Errorf("element #%d (%g) is not an integer, as required by dtype %s", ii, v, dtype)
			}
			if v < r[0] || v >= r[1] {
				return nil, errors.Errorf("element #%d (%g) is out of range for dtype %s", ii, v, dtype)
			}
		}
	}
	switch dtype {
	case dtypes.Float32:
		return tensors.FromFlatDataAndDimensions(convertFlat[float32](flat), dims...), nil
	case dtypes.Float64:
		return tensors.FromFlatDataAndDimensions(flat, dims...), nil
	case dtypes.Int32:
		return tensors.FromFlatDataAndDimensions(convertFlat[int32](flat), dims...), nil
	case dtypes.Int64:
		return tensors.FromFlatDataAndDimensions(convertFlat[int64](flat), dims...), nil
	case dtypes.Uint8:
		return tensors.FromFlatDataAndDimensions(convertFlat[uint8](flat), dims...), nil
	case dtypes.Uint32:
		return tensors.FromFlatDataAndDimensions(convertFlat[uint32](flat), dims...), nil
	case dtypes.Uint64:
		return tensors.FromFlatDataAndDimensions(convertFlat[uint64](flat), dims...), nil
	case dtypes.Bool:
		bools := make([]bool, len(flat))
		for ii, v := range flat {
			bools[ii] = v != 0
		}
		return tensors.FromFlatDataAndDimensions(bools, dims...), nil
	default:
		return nil, errors.Errorf("coercion to dtype %s not supported", dtype)
	}
}

func convertFlat[T float32 | int32 | int64 | uint8 | uint32 | uint64](flat []float64) []T {
	out := make([]T, len(flat))
	for ii, v := range flat {
		out[ii] = T(v)
	}
	return out
}

// ToInts reads an integer tensor as a flat slice of Go ints.
// It's used to read static inputs such as target shapes.
func ToInts(t *tensors.Tensor) ([]int, error) {
	if t == nil {
		return nil, errors.New("nil tensor")
	}
	dtype := t.DType()
	if !dtype.IsInt() {
		return nil, errors.Errorf("expected an integer tensor, got shape %s", t.Shape())
	}
	var ints []int
	err := t.ConstFlatData(func(flat any) {
		flatV := reflect.ValueOf(flat)
		ints = make([]int, flatV.Len())
		for ii := range flatV.Len() {
			elem := flatV.Index(ii)
			if elem.CanInt() {
				ints[ii] = int(elem.Int())
			} else {
				ints[ii] = int(elem.Uint())
			}
		}
	})
	if err != nil {
		return nil, errors.WithMessage(err, "reading integer tensor")
	}
	return ints, nil
}

// Key returns a string that uniquely identifies the static values among the args, used to cache
// computations per static value.
func (sig Signature) Key(args []*tensors.Tensor) string {
	var sb strings.Builder
	for ii, spec := range sig {
		if !spec.Static {
			continue
		}
		fmt.Fprintf(&sb, "%d:%s=%v;", ii, args[ii].Shape(), args[ii].Value())
	}
	return sb.String()
}
