// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/e2e/e2e"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

var (
	headerRowStyle = lipgloss.NewStyle().Reverse(true).
			Padding(0, 2, 0, 2).Align(lipgloss.Center)
	oddRowStyle = lipgloss.NewStyle().Faint(false).
			PaddingLeft(1).PaddingRight(1)
	evenRowStyle = lipgloss.NewStyle().Faint(true).
			PaddingLeft(1).PaddingRight(1)
	redRowStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "9", Dark: "9"}).
			Bold(true).
			PaddingLeft(1).PaddingRight(1)

	titleStyle = lipgloss.NewStyle().Bold(true).Padding(1, 4, 1, 4)
)

// newTable returns a table with alternating row styles. Rows in reds are highlighted.
func newTable(reds map[int]bool, headers ...string) *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		Headers(headers...).
		StyleFunc(func(row, col int) (s lipgloss.Style) {
			switch {
			case row == lgtable.HeaderRow:
				return headerRowStyle
			case reds[row]:
				s = redRowStyle
			case row%2 == 0:
				s = oddRowStyle
			default:
				s = evenRowStyle
			}
			if col == 0 {
				return s.Align(lipgloss.Right)
			}
			return s.Align(lipgloss.Left)
		})
}

func reportTable(results []*backendResult) *lgtable.Table {
	reds := make(map[int]bool)
	rows := make([][]string, 0, len(results))
	for ii, result := range results {
		call := result.trace.Calls[0]
		var status, outputs string
		switch {
		case ii == 0:
			status = "reference"
		case result.compareErr != nil:
			status = "MISMATCH"
			reds[ii] = true
		default:
			status = "match"
		}
		if call.Err != nil {
			outputs = "error: " + firstLine(call.Err.Error())
		} else {
			shapes := make([]string, len(call.Outputs))
			var memory uintptr
			for jj, output := range call.Outputs {
				shapes[jj] = output.Shape().String()
				memory += output.Shape().Memory()
			}
			outputs = fmt.Sprintf("%s (%s)", strings.Join(shapes, ", "), humanize.Bytes(uint64(memory)))
		}
		mean := "-"
		if len(result.repeated) > 0 {
			mean = fmt.Sprintf("%s (%s runs)", roundDuration(result.meanRepeated()),
				humanize.Comma(int64(len(result.repeated))))
		}
		rows = append(rows, []string{result.backend, status, outputs, roundDuration(result.firstCall), mean})
	}
	table := newTable(reds, "Backend", "Status", "Outputs", "First call", "Mean time")
	for _, row := range rows {
		table.Row(row...)
	}
	return table
}

func listModules() {
	table := newTable(nil, "Module", "Function", "Signature")
	for _, name := range e2e.Modules() {
		m, err := e2e.NewModule(name)
		if err != nil {
			klog.Errorf("%+v", errors.WithMessagef(err, "listing module %q", name))
			continue
		}
		for _, fnName := range m.Functions() {
			table.Row(name, fnName, m.Function(fnName).Signature.String())
		}
	}
	fmt.Println(table.Render())
}

func roundDuration(d time.Duration) string {
	return d.Round(time.Microsecond).String()
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx] + " ..."
	}
	return s
}
