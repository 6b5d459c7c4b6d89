// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package trace

import (
	"reflect"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"gopkg.in/yaml.v3"
)

func TestTensorRecordSetValues(t *testing.T) {
	rec := TensorRecord{DType: "Float32", Dimensions: []int{2}}
	rec.setValues(reflect.ValueOf([]float32{1, 2}), nil)
	assert.Equal(t, []any{float32(1), float32(2)}, rec.Values)
	assert.Empty(t, rec.Error)

	// Values that can't be read are recorded as an error, instead of silently left out.
	rec = TensorRecord{DType: "Float32", Dimensions: []int{2}}
	rec.setValues(reflect.Value{}, errors.New("tensor already finalized"))
	assert.Empty(t, rec.Values)
	assert.Equal(t, "tensor already finalized", rec.Error)
	out, err := yaml.Marshal(rec)
	assert.NoError(t, err)
	assert.Contains(t, string(out), "error: tensor already finalized")
}
