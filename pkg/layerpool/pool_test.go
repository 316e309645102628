package layerpool_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/apache/guacamole-server-sub008/pkg/layerpool"
)

func TestDefaultLayerIsPresentAtZero(t *testing.T) {
	p := layerpool.New()
	assert.Contains(t, p.Live(), 0)
}

func TestFreshBufferIndicesDecreaseFromNegativeOne(t *testing.T) {
	p := layerpool.New()

	b1 := p.AllocBuffer()
	b2 := p.AllocBuffer()
	b3 := p.AllocBuffer()

	assert.Equal(t, -1, b1.Index)
	assert.Equal(t, -2, b2.Index)
	assert.Equal(t, -3, b3.Index)
}

// Freeing and reallocating a buffer must reuse its index.
func TestFreedBufferIndexIsReusedOnNextAllocation(t *testing.T) {
	p := layerpool.New()

	b1 := p.AllocBuffer()
	b2 := p.AllocBuffer()
	b3 := p.AllocBuffer()
	_ = b1
	_ = b3

	p.FreeBuffer(b2)

	b4 := p.AllocBuffer()
	assert.Equal(t, -2, b4.Index)
}

func TestNamedLayerKeepsCallerSuppliedIndex(t *testing.T) {
	p := layerpool.New()

	l := p.AllocLayer(7)
	assert.Equal(t, 7, l.Index)
}

func TestFreedNamedLayerIsReusedWithCallerIndex(t *testing.T) {
	p := layerpool.New()

	l := p.AllocLayer(7)
	p.FreeLayer(l)

	reused := p.AllocLayer(9)
	assert.Equal(t, 9, reused.Index)
	assert.Same(t, l, reused)
}

func TestLiveIndicesArePairwiseDistinct(t *testing.T) {
	p := layerpool.New()

	b1 := p.AllocBuffer()
	b2 := p.AllocBuffer()
	l1 := p.AllocLayer(5)
	p.FreeBuffer(b1)

	live := p.Live()
	seen := map[int]bool{}
	for _, idx := range live {
		assert.False(t, seen[idx], "duplicate live index %d", idx)
		seen[idx] = true
	}

	assert.NotContains(t, live, b1.Index)
	assert.Contains(t, live, b2.Index)
	assert.Contains(t, live, l1.Index)
}

func TestTeardownClearsAllLayers(t *testing.T) {
	p := layerpool.New()
	p.AllocBuffer()
	p.AllocLayer(3)

	p.Teardown()

	assert.Empty(t, p.Live())
}
