package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentifierPoolReusesSlots(t *testing.T) {
	p := NewIdentifierPool()
	a, b := "a", "b"
	idA := p.Acquire(&a)
	idB := p.Acquire(&b)
	assert.Equal(t, uint32(1), idA)
	assert.Equal(t, uint32(2), idB)
	assert.Same(t, &b, p.Owner(idB))

	require.NoError(t, p.Release(idA))
	c := "c"
	assert.Equal(t, idA, p.Acquire(&c))

	assert.Error(t, p.Release(0))
	assert.Error(t, p.Release(42))
	assert.Nil(t, p.Owner(42))
}
