package dynamics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func chainModel() *Model {
	return &Model{
		DOFs: []DOF{{Mass: 2}, {Mass: 3}},
		Connectors: []Connector{
			{I: 0, J: Ground, Stiffness: 100, Damping: 1.5},
			{I: 0, J: 1, Stiffness: 50, Damping: 0.5},
		},
	}
}

func TestAssembleChain(t *testing.T) {
	sys, err := Assemble(chainModel())
	require.NoError(t, err)

	assert.Equal(t, 2, sys.Size())
	assert.True(t, sys.Tridiagonal())

	assert.Equal(t, 2.0, sys.M.At(0, 0))
	assert.Equal(t, 3.0, sys.M.At(1, 1))

	// Ground spring contributes only to the diagonal, the inter-DOF
	// spring to both diagonals and the off-diagonal.
	assert.Equal(t, 150.0, sys.K.At(0, 0))
	assert.Equal(t, 50.0, sys.K.At(1, 1))
	assert.Equal(t, -50.0, sys.K.At(0, 1))
	assert.Equal(t, -50.0, sys.K.At(1, 0))

	assert.Equal(t, 2.0, sys.C.At(0, 0))
	assert.Equal(t, 0.5, sys.C.At(1, 1))
	assert.Equal(t, -0.5, sys.C.At(0, 1))
}

func TestAssembleIdempotent(t *testing.T) {
	m := chainModel()

	first, err := Assemble(m)
	require.NoError(t, err)
	second, err := Assemble(m)
	require.NoError(t, err)

	assert.True(t, mat.Equal(first.M, second.M))
	assert.True(t, mat.Equal(first.K, second.K))
	assert.True(t, mat.Equal(first.C, second.C))
}

func TestAssembleBandwidth(t *testing.T) {
	m := &Model{
		DOFs: []DOF{{Mass: 1}, {Mass: 1}, {Mass: 1}},
		Connectors: []Connector{
			{I: 0, J: Ground, Stiffness: 10},
			{I: 0, J: 1, Stiffness: 10},
			{I: 1, J: 2, Stiffness: 10},
			{I: 0, J: 2, Stiffness: 5},
		},
	}
	sys, err := Assemble(m)
	require.NoError(t, err)
	assert.False(t, sys.Tridiagonal())
}

func TestAssembleInvalidModels(t *testing.T) {
	tests := []struct {
		name  string
		model *Model
	}{
		{
			name:  "no dofs",
			model: &Model{},
		},
		{
			name: "non-positive mass",
			model: &Model{
				DOFs: []DOF{{Mass: 0}},
			},
		},
		{
			name: "out of range connector",
			model: &Model{
				DOFs:       []DOF{{Mass: 1}},
				Connectors: []Connector{{I: 0, J: 3, Stiffness: 1}},
			},
		},
		{
			name: "self loop",
			model: &Model{
				DOFs:       []DOF{{Mass: 1}},
				Connectors: []Connector{{I: 0, J: 0, Stiffness: 1}},
			},
		},
		{
			name: "negative stiffness",
			model: &Model{
				DOFs:       []DOF{{Mass: 1}},
				Connectors: []Connector{{I: 0, J: Ground, Stiffness: -1}},
			},
		},
		{
			name: "negative damping",
			model: &Model{
				DOFs:       []DOF{{Mass: 1}},
				Connectors: []Connector{{I: 0, J: Ground, Stiffness: 1, Damping: -0.1}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Assemble(tt.model)
			require.Error(t, err)
			assert.True(t, IsInvalidModel(err))
		})
	}
}
