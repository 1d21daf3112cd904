// Package dynamics implements the frequency-domain response engine for
// one-dimensional lumped-mass structural models: matrix assembly in the
// direct formulation, the complex dynamic-stiffness solve per frequency,
// and the multi-frequency spectrum evaluation.
package dynamics

// Ground is the pseudo DOF index used by connectors anchored to the
// fixed base instead of a second degree of freedom.
const Ground = -1

// DOF is a single lumped degree of freedom. Mass must be positive.
type DOF struct {
	Mass float64 `json:"mass"`
}

// Connector is a spring/damper edge between two DOFs, or between one
// DOF and the ground when J is Ground.
type Connector struct {
	I         int     `json:"i"`
	J         int     `json:"j"`
	Stiffness float64 `json:"stiffness"`
	Damping   float64 `json:"damping"`
}

// Model is a 1D lumped-DOF chain: the per-DOF masses plus the spring
// and damper connectors between them.
type Model struct {
	DOFs       []DOF       `json:"dofs"`
	Connectors []Connector `json:"connectors"`
}

// Size returns the number of degrees of freedom.
func (m *Model) Size() int { return len(m.DOFs) }

// Validate checks the structural validity of the model. Connector
// parameters must be non-negative so that the assembled K and C are
// positive semi-definite.
func (m *Model) Validate() error {
	const op = "Model.Validate"
	n := len(m.DOFs)
	if n == 0 {
		return invalidModelf(op, "model has no degrees of freedom")
	}
	for i, d := range m.DOFs {
		if d.Mass <= 0 {
			return invalidModelf(op, "dof %d has non-positive mass %g", i, d.Mass)
		}
	}
	for ci, c := range m.Connectors {
		if c.I < 0 || c.I >= n {
			return invalidModelf(op, "connector %d references out-of-range dof %d", ci, c.I)
		}
		if c.J != Ground && (c.J < 0 || c.J >= n) {
			return invalidModelf(op, "connector %d references out-of-range dof %d", ci, c.J)
		}
		if c.J == c.I {
			return invalidModelf(op, "connector %d connects dof %d to itself", ci, c.I)
		}
		if c.Stiffness < 0 {
			return invalidModelf(op, "connector %d has negative stiffness %g", ci, c.Stiffness)
		}
		if c.Damping < 0 {
			return invalidModelf(op, "connector %d has negative damping %g", ci, c.Damping)
		}
	}
	return nil
}

// Clone returns a deep copy of the model.
func (m *Model) Clone() *Model {
	out := &Model{
		DOFs:       make([]DOF, len(m.DOFs)),
		Connectors: make([]Connector, len(m.Connectors)),
	}
	copy(out.DOFs, m.DOFs)
	copy(out.Connectors, m.Connectors)
	return out
}

// ParamKind identifies which physical parameter a design variable tunes.
type ParamKind int

const (
	// ParamStiffness tunes the stiffness of one connector.
	ParamStiffness ParamKind = iota
	// ParamDamping tunes the damping of one connector.
	ParamDamping
	// ParamMass tunes the lumped mass of one DOF.
	ParamMass
)

// String returns the name of the parameter kind.
func (k ParamKind) String() string {
	switch k {
	case ParamStiffness:
		return "stiffness"
	case ParamDamping:
		return "damping"
	case ParamMass:
		return "mass"
	}
	return "unknown"
}

// DesignVariable binds one tunable parameter to a bounded scalar. Index
// addresses a connector for stiffness/damping kinds and a DOF for mass.
type DesignVariable struct {
	Name  string
	Kind  ParamKind
	Index int
	Lower float64
	Upper float64
}

// ValidateDesign checks that every design variable addresses an existing
// parameter of the model and carries a sane bound box.
func (m *Model) ValidateDesign(vars []DesignVariable) error {
	const op = "Model.ValidateDesign"
	for vi, v := range vars {
		switch v.Kind {
		case ParamStiffness, ParamDamping:
			if v.Index < 0 || v.Index >= len(m.Connectors) {
				return invalidModelf(op, "variable %d references out-of-range connector %d", vi, v.Index)
			}
			if v.Lower < 0 {
				return invalidModelf(op, "variable %d has negative lower bound %g", vi, v.Lower)
			}
		case ParamMass:
			if v.Index < 0 || v.Index >= len(m.DOFs) {
				return invalidModelf(op, "variable %d references out-of-range dof %d", vi, v.Index)
			}
			if v.Lower <= 0 {
				return invalidModelf(op, "variable %d tunes a mass and needs a positive lower bound, got %g", vi, v.Lower)
			}
		default:
			return invalidModelf(op, "variable %d has unknown parameter kind %d", vi, int(v.Kind))
		}
		if v.Lower > v.Upper {
			return invalidModelf(op, "variable %d has lower bound %g above upper bound %g", vi, v.Lower, v.Upper)
		}
	}
	return nil
}

// ApplyDesign returns a copy of the model with the design variables set
// to x. The copy is re-derived from the same assembly inputs every time,
// so assembling it is deterministic regardless of optimization history.
func (m *Model) ApplyDesign(vars []DesignVariable, x []float64) (*Model, error) {
	const op = "Model.ApplyDesign"
	if len(x) != len(vars) {
		return nil, invalidModelf(op, "got %d values for %d design variables", len(x), len(vars))
	}
	if err := m.ValidateDesign(vars); err != nil {
		return nil, err
	}
	out := m.Clone()
	for i, v := range vars {
		switch v.Kind {
		case ParamStiffness:
			out.Connectors[v.Index].Stiffness = x[i]
		case ParamDamping:
			out.Connectors[v.Index].Damping = x[i]
		case ParamMass:
			out.DOFs[v.Index].Mass = x[i]
		}
	}
	return out, nil
}

// DesignValues reads the current values of the design variables from the
// model, for warm-starting a search at the as-built configuration.
func (m *Model) DesignValues(vars []DesignVariable) []float64 {
	x := make([]float64, len(vars))
	for i, v := range vars {
		switch v.Kind {
		case ParamStiffness:
			x[i] = m.Connectors[v.Index].Stiffness
		case ParamDamping:
			x[i] = m.Connectors[v.Index].Damping
		case ParamMass:
			x[i] = m.DOFs[v.Index].Mass
		}
	}
	return x
}

// DesignBounds collects the per-variable bound box in optimizer form.
func DesignBounds(vars []DesignVariable) [][2]float64 {
	bounds := make([][2]float64, len(vars))
	for i, v := range vars {
		bounds[i] = [2]float64{v.Lower, v.Upper}
	}
	return bounds
}
