package dynamics

// Forcing yields the complex excitation amplitude per DOF at a given
// frequency. Implementations must be safe for concurrent calls: the
// spectrum evaluator invokes them from parallel workers.
type Forcing func(omega float64) []complex128

// ConstantForcing returns a forcing that applies the same amplitude
// vector at every frequency.
func ConstantForcing(amplitude []complex128) Forcing {
	fixed := make([]complex128, len(amplitude))
	copy(fixed, amplitude)
	return func(float64) []complex128 {
		out := make([]complex128, len(fixed))
		copy(out, fixed)
		return out
	}
}

// BaseExcitation returns the mass-proportional forcing of uniform ground
// motion: each DOF is driven by its own lumped mass. Used together with
// a PSD-weighted variance objective.
func BaseExcitation(m *Model) Forcing {
	amp := make([]complex128, m.Size())
	for i, d := range m.DOFs {
		amp[i] = complex(d.Mass, 0)
	}
	return ConstantForcing(amp)
}
