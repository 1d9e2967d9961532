package qp

import (
	"context"
)

// Instance is a reusable solver slot. It remembers the size of the last problem and its solution,
// which is used to warm start the next solve of the same size.
type Instance struct {
	solver Solver
	n, m   int
	last   []float64
	solved bool
}

// NewInstance wraps a backend.
func NewInstance(solver Solver) *Instance {
	return &Instance{solver: solver}
}

// Solve solves p, reinitializing the slot when the problem size changed since the last call.
func (in *Instance) Solve(ctx context.Context, p *Problem) ([]float64, error) {
	n, m := p.Dims()
	if n != in.n || m != in.m {
		in.n, in.m = n, m
		in.last = nil
		in.solved = false
	}
	x, err := in.solver.Solve(ctx, p, in.last)
	if err != nil {
		in.solved = false
		return nil, err
	}
	in.last = append(in.last[:0], x...)
	in.solved = true
	return x, nil
}

// Reset drops the remembered size and solution.
func (in *Instance) Reset() {
	in.n, in.m = 0, 0
	in.last = nil
	in.solved = false
}

// Solved reports whether the last call succeeded.
func (in *Instance) Solved() bool {
	return in.solved
}

// Clone returns an independent slot sharing the stateless backend.
func (in *Instance) Clone() *Instance {
	out := *in
	out.last = append([]float64(nil), in.last...)
	return &out
}
