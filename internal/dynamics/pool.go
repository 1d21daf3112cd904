package dynamics

import (
	"sync"

	"gonum.org/v1/gonum/mat"
)

// workspace holds the dense-path scratch allocations for one solve of a
// system with n DOFs (augmented size 2n).
type workspace struct {
	n     int
	aug   *mat.Dense
	rhs   *mat.VecDense
	sol   *mat.VecDense
	resid *mat.VecDense
	corr  *mat.VecDense
}

// workspacePool recycles dense-path workspaces across solves. The
// evaluator hits the solver from parallel workers, so the pool must be
// safe for concurrent use; mismatched sizes are simply reallocated.
type workspacePool struct {
	pool sync.Pool
}

func (p *workspacePool) get(n int) *workspace {
	if v := p.pool.Get(); v != nil {
		ws := v.(*workspace)
		if ws.n == n {
			return ws
		}
	}
	return &workspace{
		n:     n,
		aug:   mat.NewDense(2*n, 2*n, nil),
		rhs:   mat.NewVecDense(2*n, nil),
		sol:   mat.NewVecDense(2*n, nil),
		resid: mat.NewVecDense(2*n, nil),
		corr:  mat.NewVecDense(2*n, nil),
	}
}

func (p *workspacePool) put(ws *workspace) {
	p.pool.Put(ws)
}
