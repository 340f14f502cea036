package embedding

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLRUCacheEvictsOldest(t *testing.T) {
	c := newLRUCache(2)
	k1 := cacheKey{modality: "text", modelID: "m", inputSHA: "a"}
	k2 := cacheKey{modality: "text", modelID: "m", inputSHA: "b"}
	k3 := cacheKey{modality: "text", modelID: "m", inputSHA: "c"}

	c.put(k1, []float32{1})
	c.put(k2, []float32{2})
	c.put(k3, []float32{3}) // evicts k1, the least recently used

	_, ok := c.get(k1)
	assert.False(t, ok, "k1 should have been evicted")

	v2, ok := c.get(k2)
	require.True(t, ok)
	assert.Equal(t, []float32{2}, v2)

	v3, ok := c.get(k3)
	require.True(t, ok)
	assert.Equal(t, []float32{3}, v3)

	assert.Equal(t, 2, c.len())
}

func TestLRUCacheTouchOnGetPreventsEviction(t *testing.T) {
	c := newLRUCache(2)
	k1 := cacheKey{modality: "text", modelID: "m", inputSHA: "a"}
	k2 := cacheKey{modality: "text", modelID: "m", inputSHA: "b"}
	k3 := cacheKey{modality: "text", modelID: "m", inputSHA: "c"}

	c.put(k1, []float32{1})
	c.put(k2, []float32{2})
	_, _ = c.get(k1) // k1 is now more recently used than k2
	c.put(k3, []float32{3})

	_, ok := c.get(k2)
	assert.False(t, ok, "k2 should have been evicted instead of k1")

	_, ok = c.get(k1)
	assert.True(t, ok)
}
