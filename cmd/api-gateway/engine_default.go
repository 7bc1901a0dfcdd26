//go:build !glpk

package main

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/noah-isme/invigilation-planner/internal/solver"
	"github.com/noah-isme/invigilation-planner/internal/solver/cp"
)

func newEngine(backend string, logger *zap.Logger) (solver.Engine, error) {
	switch backend {
	case "", "cp":
		return cp.New(cp.WithLogger(logger)), nil
	case "glpk":
		return nil, fmt.Errorf("planner backend glpk requires a binary built with -tags glpk")
	default:
		return nil, fmt.Errorf("unknown planner backend %q", backend)
	}
}
