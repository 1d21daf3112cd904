package dynamics

import (
	"gonum.org/v1/gonum/mat"
)

// Matrices holds the assembled system matrices of one design point. M is
// diagonal (direct formulation), K and C are symmetric with the same
// sparsity. Callers own the matrices; the assembler keeps no state.
type Matrices struct {
	M *mat.DiagDense
	K *mat.SymDense
	C *mat.SymDense

	n         int
	bandwidth int
}

// Size returns the number of degrees of freedom.
func (s *Matrices) Size() int { return s.n }

// Tridiagonal reports whether every connector couples adjacent DOFs, in
// which case the dynamic-stiffness matrix is tridiagonal and the solver
// takes the O(N) path.
func (s *Matrices) Tridiagonal() bool { return s.bandwidth <= 1 }

// Assemble builds (M, K, C) from the model. Each connector with
// stiffness k between DOFs i and j contributes +k to K[i][i] and
// K[j][j] and -k to K[i][j]; ground connectors contribute only to the
// diagonal. Damping assembles identically into C. The function is pure:
// calling it twice with the same model yields bit-identical matrices.
func Assemble(m *Model) (*Matrices, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	n := m.Size()

	masses := make([]float64, n)
	for i, d := range m.DOFs {
		masses[i] = d.Mass
	}

	sys := &Matrices{
		M: mat.NewDiagDense(n, masses),
		K: mat.NewSymDense(n, nil),
		C: mat.NewSymDense(n, nil),
		n: n,
	}

	for _, c := range m.Connectors {
		sys.K.SetSym(c.I, c.I, sys.K.At(c.I, c.I)+c.Stiffness)
		sys.C.SetSym(c.I, c.I, sys.C.At(c.I, c.I)+c.Damping)
		if c.J == Ground {
			continue
		}
		sys.K.SetSym(c.J, c.J, sys.K.At(c.J, c.J)+c.Stiffness)
		sys.C.SetSym(c.J, c.J, sys.C.At(c.J, c.J)+c.Damping)
		sys.K.SetSym(c.I, c.J, sys.K.At(c.I, c.J)-c.Stiffness)
		sys.C.SetSym(c.I, c.J, sys.C.At(c.I, c.J)-c.Damping)

		if bw := abs(c.I - c.J); bw > sys.bandwidth {
			sys.bandwidth = bw
		}
	}

	return sys, nil
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
