// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package e2e

import (
	"github.com/gomlx/e2e/pkg/module"
	"github.com/gomlx/e2e/pkg/signature"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/core/graph"
)

// BroadcastToModuleName is the name of the module created by NewBroadcastToModule.
const BroadcastToModuleName = "broadcast_to"

// NewBroadcastToModule returns a module with the function "scalar_broadcast_to": it takes a float32 scalar and
// a target shape with 2 dimensions (int32), and returns the scalar broadcast to the target shape.
//
// The target shape is a static input: a new computation is compiled for each distinct shape.
func NewBroadcastToModule() *module.Module {
	return module.New(BroadcastToModuleName).
		Def("scalar_broadcast_to",
			signature.Signature{
				signature.Spec(dtypes.Float32).WithName("x"),
				signature.StaticSpec(dtypes.Int32, 2).WithName("shape"),
			},
			func(_ *graph.Graph, args []module.Arg) []*graph.Node {
				return []*graph.Node{graph.BroadcastToDims(args[0].Node, module.Static(args[1])...)}
			})
}

func init() {
	Register(BroadcastToModuleName, NewBroadcastToModule)
}
