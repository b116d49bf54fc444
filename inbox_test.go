package xmsg

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInboxFIFO(t *testing.T) {
	ib := newInbox(0)
	a := testContext(BuildTag(1, 1))
	b := testContext(BuildTag(1, 2))

	ib.push(a)
	ib.push(b)
	assert.Equal(t, 2, ib.len())

	assert.Same(t, a, ib.pop())
	assert.Same(t, b, ib.pop())
	assert.Nil(t, ib.pop())
}

func TestInboxOverflowDropsOldest(t *testing.T) {
	ib := newInbox(2)
	first := testContext(BuildTag(1, 1))
	second := testContext(BuildTag(1, 2))
	third := testContext(BuildTag(1, 3))

	_, overflowed := ib.push(first)
	assert.False(t, overflowed)
	_, overflowed = ib.push(second)
	assert.False(t, overflowed)

	evicted, overflowed := ib.push(third)
	assert.True(t, overflowed)
	assert.Same(t, first, evicted)
	assert.Equal(t, uint64(1), ib.droppedCount())

	assert.Same(t, second, ib.pop())
	assert.Same(t, third, ib.pop())
}

func TestInboxUnboundedNeverOverflows(t *testing.T) {
	ib := newInbox(0)
	for i := 0; i < 100; i++ {
		_, overflowed := ib.push(testContext(BuildTag(1, int32(i))))
		assert.False(t, overflowed)
	}
	assert.Equal(t, 100, ib.len())
}
