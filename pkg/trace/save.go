// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package trace

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
	"k8s.io/klog/v2"
)

// File names written by Trace.Save.
const (
	YAMLFileName = "trace.yaml"
	LogFileName  = "log.txt"
)

// TensorRecord is the serialized form of a tensor in a trace artifact.
type TensorRecord struct {
	DType      string `yaml:"dtype"`
	Dimensions []int  `yaml:"dimensions,flow"`
	Values     []any  `yaml:"values,flow"`

	// Error reading the tensor values, in which case Values is empty.
	Error string `yaml:"error,omitempty"`
}

// CallRecord is the serialized form of a Call.
type CallRecord struct {
	Method     string         `yaml:"method"`
	Inputs     []TensorRecord `yaml:"inputs"`
	Outputs    []TensorRecord `yaml:"outputs,omitempty"`
	Error      string         `yaml:"error,omitempty"`
	RTol       float64        `yaml:"rtol"`
	ATol       float64        `yaml:"atol"`
	DurationMs float64        `yaml:"duration_ms"`
}

// Record is the serialized form of a Trace.
type Record struct {
	Module  string       `yaml:"module"`
	Backend string       `yaml:"backend"`
	Calls   []CallRecord `yaml:"calls"`
}

func newTensorRecord(t *tensors.Tensor) TensorRecord {
	rec := TensorRecord{
		DType:      t.DType().String(),
		Dimensions: t.Shape().Dimensions,
	}
	flat, err := flatValues(t)
	rec.setValues(flat, err)
	return rec
}

// setValues stores the flat values, or the error reading them.
func (rec *TensorRecord) setValues(flat reflect.Value, err error) {
	if err != nil {
		rec.Error = err.Error()
		klog.Warningf("Trace record of tensor (%s)%v has no values: %v", rec.DType, rec.Dimensions, err)
		return
	}
	rec.Values = make([]any, flat.Len())
	for ii := range flat.Len() {
		v := flat.Index(ii).Interface()
		if f, ok := v.(float32er); ok {
			v = f.Float32()
		}
		rec.Values[ii] = v
	}
}

// inputTensor converts a recorded input to a tensor, or returns nil if it is not convertible.
func inputTensor(input any) (t *tensors.Tensor) {
	if input == nil {
		return nil
	}
	err := exceptions.TryCatch[error](func() { t = tensors.FromAnyValue(input) })
	if err != nil {
		return nil
	}
	return t
}

// Record converts the trace to its serializable form.
func (tr *Trace) Record() *Record {
	rec := &Record{Module: tr.Module, Backend: tr.Backend}
	for _, call := range tr.Calls {
		callRec := CallRecord{
			Method:     call.Method,
			RTol:       call.RTol,
			ATol:       call.ATol,
			DurationMs: float64(call.Duration.Microseconds()) / 1000.0,
		}
		for _, input := range call.Inputs {
			if t := inputTensor(input); t != nil {
				callRec.Inputs = append(callRec.Inputs, newTensorRecord(t))
			} else {
				callRec.Inputs = append(callRec.Inputs, TensorRecord{DType: fmt.Sprintf("%T", input)})
			}
		}
		for _, output := range call.Outputs {
			callRec.Outputs = append(callRec.Outputs, newTensorRecord(output))
		}
		if call.Err != nil {
			callRec.Error = call.Err.Error()
		}
		rec.Calls = append(rec.Calls, callRec)
	}
	return rec
}

// Save the trace under dir: a structured YAMLFileName and a human-readable LogFileName.
// The directory is created if it doesn't exist.
func (tr *Trace) Save(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "creating trace directory %q", dir)
	}
	data, err := yaml.Marshal(tr.Record())
	if err != nil {
		return errors.Wrapf(err, "serializing trace of %s on %q", tr.Module, tr.Backend)
	}
	yamlPath := filepath.Join(dir, YAMLFileName)
	if err := os.WriteFile(yamlPath, data, 0o644); err != nil {
		return errors.Wrapf(err, "writing %q", yamlPath)
	}
	logPath := filepath.Join(dir, LogFileName)
	if err := os.WriteFile(logPath, []byte(tr.Log()), 0o644); err != nil {
		return errors.Wrapf(err, "writing %q", logPath)
	}
	return nil
}

// LoadRecord reads back the YAMLFileName saved by Trace.Save in dir.
func LoadRecord(dir string) (*Record, error) {
	yamlPath := filepath.Join(dir, YAMLFileName)
	data, err := os.ReadFile(yamlPath)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %q", yamlPath)
	}
	rec := &Record{}
	if err := yaml.Unmarshal(data, rec); err != nil {
		return nil, errors.Wrapf(err, "parsing %q", yamlPath)
	}
	return rec, nil
}

// Log returns a human-readable description of every call in the trace, with the full values.
func (tr *Trace) Log() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Module %q on backend %q: %d calls\n", tr.Module, tr.Backend, len(tr.Calls))
	for ii, call := range tr.Calls {
		fmt.Fprintf(&sb, "\n#%d %s (%s):\n", ii, call.Method, call.Duration)
		for jj, input := range call.Inputs {
			if t := inputTensor(input); t != nil {
				fmt.Fprintf(&sb, "\tinput #%d: %s\n", jj, t)
			} else {
				fmt.Fprintf(&sb, "\tinput #%d: %v\n", jj, input)
			}
		}
		if call.Err != nil {
			fmt.Fprintf(&sb, "\terror: %v\n", call.Err)
			continue
		}
		for jj, output := range call.Outputs {
			fmt.Fprintf(&sb, "\toutput #%d: %s\n", jj, output)
		}
	}
	return sb.String()
}

// Summary returns a one-line-per-call description of the trace: shapes, sizes and durations.
func (tr *Trace) Summary() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s on %q:\n", tr.Module, tr.Backend)
	for ii, call := range tr.Calls {
		fmt.Fprintf(&sb, "  #%d %s", ii, call.Method)
		if call.Err != nil {
			fmt.Fprintf(&sb, " failed (%s): %v\n", call.Duration, call.Err)
			continue
		}
		outputShapes := make([]string, len(call.Outputs))
		var memory uintptr
		for jj, output := range call.Outputs {
			outputShapes[jj] = output.Shape().String()
			memory += output.Shape().Memory()
		}
		fmt.Fprintf(&sb, " -> [%s] (%s, %s)\n", strings.Join(outputShapes, ", "),
			humanize.Bytes(uint64(memory)), call.Duration)
	}
	return sb.String()
}
