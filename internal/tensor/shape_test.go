package tensor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShapeNumElements(t *testing.T) {
	assert.Equal(t, 24, Shape{2, 3, 4}.NumElements())
	assert.Equal(t, 5, Shape{5}.NumElements())
	assert.Equal(t, 1, Shape{}.NumElements(), "scalar shape has one element")
}

func TestShapeComputeStrides(t *testing.T) {
	assert.Equal(t, []int{12, 4, 1}, Shape{2, 3, 4}.ComputeStrides())
	assert.Equal(t, []int{1}, Shape{7}.ComputeStrides())
	assert.Empty(t, Shape{}.ComputeStrides())
}

func TestShapeEqualAndClone(t *testing.T) {
	s := Shape{2, 3}
	c := s.Clone()
	assert.True(t, s.Equal(c))

	c[0] = 9
	assert.False(t, s.Equal(c), "clone must not alias the original")
	assert.False(t, s.Equal(Shape{2, 3, 1}))
}

func TestShapeValidate(t *testing.T) {
	require.NoError(t, Shape{1, 2}.Validate())
	require.NoError(t, Shape{}.Validate())
	assert.Error(t, Shape{2, 0}.Validate())
	assert.Error(t, Shape{-1}.Validate())
}

func TestBroadcastShapes(t *testing.T) {
	tests := []struct {
		name  string
		a, b  Shape
		want  Shape
		needs bool
	}{
		{"same shape", Shape{3, 5}, Shape{3, 5}, Shape{3, 5}, false},
		{"broadcast dim", Shape{3, 1}, Shape{3, 5}, Shape{3, 5}, true},
		{"missing dims", Shape{4}, Shape{2, 3, 4}, Shape{2, 3, 4}, true},
		{"channel bounds", Shape{16, 1, 1, 1}, Shape{16, 3, 5, 5}, Shape{16, 3, 5, 5}, true},
		{"scalar", Shape{}, Shape{2, 2}, Shape{2, 2}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, needs, err := BroadcastShapes(tt.a, tt.b)
			require.NoError(t, err)
			assert.True(t, got.Equal(tt.want), "got %v, want %v", got, tt.want)
			assert.Equal(t, tt.needs, needs)
		})
	}

	_, _, err := BroadcastShapes(Shape{3, 4}, Shape{3, 5})
	assert.Error(t, err)
}
