package entities

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilterEmptyMapReturnsAllBuckets(t *testing.T) {
	out := Filter(NewMap())

	require.Len(t, out, 4)
	for _, c := range Categories {
		v, ok := out[c]
		require.True(t, ok, "missing bucket %s", c)
		assert.NotNil(t, v)
		assert.Empty(t, v)
	}
}

func TestFilterNilMap(t *testing.T) {
	out := Filter(nil)
	assert.Len(t, out, 4)
	assert.Equal(t, 0, out.Total())
}

func TestFilterDropsUntrackedLabels(t *testing.T) {
	m := NewMap()
	m.Set("Paris", "GPE")
	m.Set("Acme", "ORG")
	m.Set("5", "CARDINAL")

	out := Filter(m)

	assert.Equal(t, Buckets{
		CategoryPerson:   {},
		CategoryNORP:     {},
		CategoryGPE:      {"Paris"},
		CategoryCardinal: {"5"},
	}, out)
}

func TestFilterKeepsInsertionOrder(t *testing.T) {
	m := NewMap()
	m.Set("Smith", "PERSON")
	m.Set("Jones", "PERSON")
	m.Set("Adams", "PERSON")

	out := Filter(m)
	assert.Equal(t, []string{"Smith", "Jones", "Adams"}, out[CategoryPerson])
}

func TestMapLastLabelWinsKeepsPosition(t *testing.T) {
	m := NewMap()
	m.Set("Jordan", "GPE")
	m.Set("Aspirin", "ORG")
	m.Set("Jordan", "PERSON")

	require.Equal(t, 2, m.Len())
	lbl, ok := m.Get("Jordan")
	require.True(t, ok)
	assert.Equal(t, "PERSON", lbl)

	var order []string
	m.Each(func(surface, _ string) { order = append(order, surface) })
	assert.Equal(t, []string{"Jordan", "Aspirin"}, order)

	out := Filter(m)
	assert.Equal(t, []string{"Jordan"}, out[CategoryPerson])
	assert.Empty(t, out[CategoryGPE])
}

func TestIsTracked(t *testing.T) {
	assert.True(t, IsTracked("NORP"))
	assert.False(t, IsTracked("ORG"))
	assert.False(t, IsTracked("person"))
}
