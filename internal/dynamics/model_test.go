package dynamics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyDesign(t *testing.T) {
	m := chainModel()
	vars := []DesignVariable{
		{Name: "k_ground", Kind: ParamStiffness, Index: 0, Lower: 0, Upper: 500},
		{Name: "c_link", Kind: ParamDamping, Index: 1, Lower: 0, Upper: 10},
		{Name: "m_tip", Kind: ParamMass, Index: 1, Lower: 0.5, Upper: 8},
	}

	out, err := m.ApplyDesign(vars, []float64{200, 2.5, 4})
	require.NoError(t, err)

	assert.Equal(t, 200.0, out.Connectors[0].Stiffness)
	assert.Equal(t, 2.5, out.Connectors[1].Damping)
	assert.Equal(t, 4.0, out.DOFs[1].Mass)

	// The source model is never mutated.
	assert.Equal(t, 100.0, m.Connectors[0].Stiffness)
	assert.Equal(t, 0.5, m.Connectors[1].Damping)
	assert.Equal(t, 3.0, m.DOFs[1].Mass)

	// Reading the values back gives the applied vector.
	assert.Equal(t, []float64{200, 2.5, 4}, out.DesignValues(vars))
}

func TestValidateDesign(t *testing.T) {
	m := chainModel()
	tests := []struct {
		name string
		v    DesignVariable
	}{
		{
			name: "connector index out of range",
			v:    DesignVariable{Kind: ParamStiffness, Index: 5, Lower: 0, Upper: 1},
		},
		{
			name: "dof index out of range",
			v:    DesignVariable{Kind: ParamMass, Index: 2, Lower: 1, Upper: 2},
		},
		{
			name: "negative stiffness lower bound",
			v:    DesignVariable{Kind: ParamStiffness, Index: 0, Lower: -1, Upper: 1},
		},
		{
			name: "mass lower bound not positive",
			v:    DesignVariable{Kind: ParamMass, Index: 0, Lower: 0, Upper: 1},
		},
		{
			name: "inverted bounds",
			v:    DesignVariable{Kind: ParamDamping, Index: 0, Lower: 2, Upper: 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := m.ValidateDesign([]DesignVariable{tt.v})
			require.Error(t, err)
			assert.True(t, IsInvalidModel(err))
		})
	}
}

func TestApplyDesignLengthMismatch(t *testing.T) {
	m := chainModel()
	vars := []DesignVariable{{Kind: ParamStiffness, Index: 0, Lower: 0, Upper: 1}}

	_, err := m.ApplyDesign(vars, []float64{1, 2})
	require.Error(t, err)
	assert.True(t, IsInvalidModel(err))
}

func TestDesignBounds(t *testing.T) {
	vars := []DesignVariable{
		{Kind: ParamStiffness, Index: 0, Lower: 1, Upper: 5},
		{Kind: ParamDamping, Index: 1, Lower: 0, Upper: 2},
	}
	assert.Equal(t, [][2]float64{{1, 5}, {0, 2}}, DesignBounds(vars))
}
