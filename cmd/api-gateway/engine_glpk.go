//go:build glpk

package main

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/noah-isme/invigilation-planner/internal/solver"
	"github.com/noah-isme/invigilation-planner/internal/solver/cp"
	"github.com/noah-isme/invigilation-planner/internal/solver/glpk"
)

func newEngine(backend string, logger *zap.Logger) (solver.Engine, error) {
	switch backend {
	case "", "cp":
		return cp.New(cp.WithLogger(logger)), nil
	case "glpk":
		return glpk.New(logger), nil
	default:
		return nil, fmt.Errorf("unknown planner backend %q", backend)
	}
}
