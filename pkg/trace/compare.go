// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package trace

import (
	"fmt"
	"math"
	"reflect"
	"strings"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
)

// maxReportedElements is the max number of differing elements listed per tensor.
const maxReportedElements = 5

// Compare target trace against the reference one.
//
// The traces must have the same calls (in order), and each call must either fail in both traces or
// succeed in both, with outputs that are "close": same dtype and shape, and for each floating point
// element |target - reference| <= atol + rtol * |reference|, using the call's tolerances from the reference
// trace. Non-float dtypes must match exactly.
//
// It returns an error describing every mismatch found, or nil if the traces are equivalent.
func Compare(reference, target *Trace) error {
	if reference.Module != target.Module {
		return errors.Errorf("traces are from different modules: reference %q, target %q", reference.Module, target.Module)
	}
	if len(reference.Calls) != len(target.Calls) {
		return errors.Errorf("backend %q made %d calls, reference backend %q made %d",
			target.Backend, len(target.Calls), reference.Backend, len(reference.Calls))
	}
	var mismatches []string
	for ii, refCall := range reference.Calls {
		tarCall := target.Calls[ii]
		if err := compareCalls(refCall, tarCall); err != nil {
			mismatches = append(mismatches, fmt.Sprintf("call #%d %s.%s: %v", ii, reference.Module, refCall.Method, err))
		}
	}
	if len(mismatches) > 0 {
		return errors.Errorf("backend %q differs from reference backend %q:\n\t%s",
			target.Backend, reference.Backend, strings.Join(mismatches, "\n\t"))
	}
	return nil
}

func compareCalls(reference, target *Call) error {
	if reference.Method != target.Method {
		return errors.Errorf("target called %q instead", target.Method)
	}
	if (reference.Err == nil) != (target.Err == nil) {
		return errors.Errorf("reference error: %v; target error: %v", reference.Err, target.Err)
	}
	if reference.Err != nil {
		// Both failed: consistent.
		return nil
	}
	if len(reference.Outputs) != len(target.Outputs) {
		return errors.Errorf("target returned %d outputs, reference returned %d",
			len(target.Outputs), len(reference.Outputs))
	}
	var mismatches []string
	for ii, refOutput := range reference.Outputs {
		if err := CompareTensors(refOutput, target.Outputs[ii], reference.RTol, reference.ATol); err != nil {
			mismatches = append(mismatches, fmt.Sprintf("output #%d: %v", ii, err))
		}
	}
	if len(mismatches) > 0 {
		return errors.New(strings.Join(mismatches, "; "))
	}
	return nil
}

// CompareTensors returns an error if target is not close to reference, see Compare for details.
func CompareTensors(reference, target *tensors.Tensor, rtol, atol float64) error {
	if reference == nil || target == nil {
		if reference == target {
			return nil
		}
		return errors.Errorf("nil tensor: reference=%v, target=%v", reference, target)
	}
	if !reference.Shape().Equal(target.Shape()) {
		return errors.Errorf("shape mismatch: reference %s, target %s", reference.Shape(), target.Shape())
	}
	refFlat, err := flatValues(reference)
	if err != nil {
		return errors.WithMessage(err, "reading reference")
	}
	tarFlat, err := flatValues(target)
	if err != nil {
		return errors.WithMessage(err, "reading target")
	}

	dtype := reference.DType()
	isFloat := dtype.IsFloat() || dtype.IsComplex()
	var numDiffs int
	var maxDiff float64
	var report []string
	for ii := range refFlat.Len() {
		refV, tarV := refFlat.Index(ii).Interface(), tarFlat.Index(ii).Interface()
		var isClose bool
		var diff float64
		if isFloat {
			isClose, diff = floatsClose(refV, tarV, rtol, atol)
		} else {
			isClose = refV == tarV
		}
		if isClose {
			continue
		}
		numDiffs++
		maxDiff = math.Max(maxDiff, diff)
		if len(report) < maxReportedElements {
			report = append(report, fmt.Sprintf("[%d]: reference=%v target=%v", ii, refV, tarV))
		}
	}
	if numDiffs == 0 {
		return nil
	}
	if isFloat {
		return errors.Errorf("%d of %d elements differ (max abs diff %g, rtol=%g, atol=%g): %s",
			numDiffs, refFlat.Len(), maxDiff, rtol, atol, strings.Join(report, ", "))
	}
	return errors.Errorf("%d of %d elements differ: %s", numDiffs, refFlat.Len(), strings.Join(report, ", "))
}

// flatValues returns a copy of the flat data of t as a reflect.Value of a slice.
func flatValues(t *tensors.Tensor) (flatCopy reflect.Value, err error) {
	err = t.ConstFlatData(func(flat any) {
		flatV := reflect.ValueOf(flat)
		flatCopy = reflect.MakeSlice(flatV.Type(), flatV.Len(), flatV.Len())
		reflect.Copy(flatCopy, flatV)
	})
	return
}

// float32er is implemented by the half-precision types (float16 and bfloat16).
type float32er interface {
	Float32() float32
}

func toComplex(v any) complex128 {
	switch x := v.(type) {
	case complex64:
		return complex128(x)
	case complex128:
		return x
	case float32er:
		return complex(float64(x.Float32()), 0)
	}
	return complex(reflect.ValueOf(v).Float(), 0)
}

// floatsClose returns whether reference and target are close, and the absolute difference.
// NaNs are considered equal to NaNs, and infinities equal to infinities of the same sign.
func floatsClose(reference, target any, rtol, atol float64) (bool, float64) {
	r, t := toComplex(reference), toComplex(target)
	closeParts := func(rp, tp float64) (bool, float64) {
		switch {
		case math.IsNaN(rp) || math.IsNaN(tp):
			return math.IsNaN(rp) && math.IsNaN(tp), math.Inf(1)
		case math.IsInf(rp, 0) || math.IsInf(tp, 0):
			return rp == tp, math.Inf(1)
		}
		diff := math.Abs(tp - rp)
		return diff <= atol+rtol*math.Abs(rp), diff
	}
	realClose, realDiff := closeParts(real(r), real(t))
	imagClose, imagDiff := closeParts(imag(r), imag(t))
	return realClose && imagClose, math.Max(realDiff, imagDiff)
}
