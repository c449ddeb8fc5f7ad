package csa

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTransfersStore_Add(t *testing.T) {
	t.Run("stores symmetric entries within cap", func(t *testing.T) {
		ts := NewTransfersStore(300)
		ok := ts.Add(1, 2, 100)
		assert.True(t, ok)
		assert.Equal(t, []Transfer{{Stop: 2, Seconds: 100}}, ts.Neighbors(1))
		assert.Equal(t, []Transfer{{Stop: 1, Seconds: 100}}, ts.Neighbors(2))
	})

	t.Run("rejects transfers over the cap", func(t *testing.T) {
		ts := NewTransfersStore(60)
		ok := ts.Add(1, 2, 100)
		assert.False(t, ok)
		assert.Empty(t, ts.Neighbors(1))
	})

	t.Run("rejects self transfers", func(t *testing.T) {
		ts := NewTransfersStore(300)
		ok := ts.Add(1, 1, 10)
		assert.False(t, ok)
	})

	t.Run("accumulates multiple neighbors", func(t *testing.T) {
		ts := NewTransfersStore(300)
		ts.Add(1, 2, 100)
		ts.Add(1, 3, 150)
		assert.Len(t, ts.Neighbors(1), 2)
	})
}
