package stoplinks

import (
	"bytes"
	"testing"

	"github.com/google/uuid"
	"github.com/passbi/passbi_core/internal/csaerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndex_AddAndEnumerate(t *testing.T) {
	idx := NewIndex("pedestrian", uuid.New())

	require.NoError(t, idx.Add(0, 100, 50))
	require.NoError(t, idx.Add(0, 101, 10))
	require.NoError(t, idx.Add(2, 200, 5)) // stop 1 has no links

	assert.Equal(t, []Link{{EdgeID: 100, Offset: 50}, {EdgeID: 101, Offset: 10}}, idx.Enumerate(0))
	assert.Nil(t, idx.Enumerate(1))
	assert.Equal(t, []Link{{EdgeID: 200, Offset: 5}}, idx.Enumerate(2))
	assert.Nil(t, idx.Enumerate(3))
}

func TestIndex_RejectsOutOfOrderAppend(t *testing.T) {
	idx := NewIndex("pedestrian", uuid.New())
	require.NoError(t, idx.Add(5, 1, 1))
	require.NoError(t, idx.Add(5, 2, 2))

	err := idx.Add(4, 3, 3)
	assert.ErrorIs(t, err, csaerr.ErrStopLinkOutOfOrder)
}

func TestIndex_SerializeRoundTrip(t *testing.T) {
	guid := uuid.New()
	idx := NewIndex("pedestrian", guid)
	require.NoError(t, idx.Add(0, 10, 1))
	require.NoError(t, idx.Add(1, 20, 2))
	require.NoError(t, idx.Add(1, 21, 3))

	var buf bytes.Buffer
	require.NoError(t, idx.Save(&buf))

	loaded, err := Load(&buf, guid)
	require.NoError(t, err)

	assert.Equal(t, "pedestrian", loaded.ProfileName)
	assert.Equal(t, idx.Enumerate(0), loaded.Enumerate(0))
	assert.Equal(t, idx.Enumerate(1), loaded.Enumerate(1))
}

func TestIndex_LoadRejectsGuidMismatch(t *testing.T) {
	idx := NewIndex("pedestrian", uuid.New())
	require.NoError(t, idx.Add(0, 10, 1))

	var buf bytes.Buffer
	require.NoError(t, idx.Save(&buf))

	_, err := Load(&buf, uuid.New())
	assert.ErrorIs(t, err, csaerr.ErrGuidMismatch)
}
