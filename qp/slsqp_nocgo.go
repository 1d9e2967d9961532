//go:build windows || no_cgo

package qp

import "github.com/pkg/errors"

// newSLSQPSolver is not supported on no_cgo builds.
func newSLSQPSolver(_ Options) (Solver, error) {
	return nil, errors.New("slsqp qp solver is not supported on this build")
}
