package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPackIDDeterminism(t *testing.T) {
	a, err := PackID("sys-1", "snap-1", []string{"e1", "e2"})
	require.NoError(t, err)
	b, err := PackID("sys-1", "snap-1", []string{"e1", "e2"})
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
}

func TestPackIDChangesWithInput(t *testing.T) {
	base, err := PackID("sys-1", "snap-1", []string{"e1", "e2"})
	require.NoError(t, err)

	other, err := PackID("sys-1", "snap-1", []string{"e1", "e3"})
	require.NoError(t, err)
	assert.NotEqual(t, base, other)

	other, err = PackID("sys-1", "snap-2", []string{"e1", "e2"})
	require.NoError(t, err)
	assert.NotEqual(t, base, other)
}

func TestStateHashIgnoresReservedFields(t *testing.T) {
	a, err := StateHash(Record{"balance": int64(100), "_vector": "n1:1"})
	require.NoError(t, err)
	b, err := StateHash(Record{"balance": int64(100), "_vector": "n1:2", "_lastEventId": "e9"})
	require.NoError(t, err)
	c, err := StateHash(Record{"balance": int64(90)})
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestDomainSeparation(t *testing.T) {
	data := []byte(`{}`)
	assert.NotEqual(t, hashWithDomain(DomainEventPack, data), hashWithDomain(DomainState, data))
}
