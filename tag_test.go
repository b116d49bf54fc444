package xmsg

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildTag(t *testing.T) {
	tag := BuildTag(7, 42)
	assert.Equal(t, int32(7), tag.Topic)
	assert.Equal(t, int32(42), tag.Message)
	assert.Equal(t, "7:42", tag.String())
}

func TestTagEquality(t *testing.T) {
	assert.Equal(t, BuildTag(1, 2), BuildTag(1, 2))
	assert.NotEqual(t, BuildTag(1, 2), BuildTag(2, 1))
}

func TestAddressUniqueness(t *testing.T) {
	seen := make(map[Address]bool)
	for i := 0; i < 1000; i++ {
		a := NewAddress()
		assert.True(t, a.IsValid())
		assert.False(t, seen[a], "duplicate address generated")
		seen[a] = true
	}
	assert.False(t, NilAddress.IsValid())
}

func TestScopeOrdering(t *testing.T) {
	assert.True(t, ScopeThread < ScopeProcess)
	assert.True(t, ScopeProcess < ScopeNetwork)
	assert.True(t, ScopeNetwork < ScopeAll)
}

func TestFlagsHas(t *testing.T) {
	f := FlagReliable | FlagGuaranteed
	assert.True(t, f.Has(FlagReliable))
	assert.True(t, f.Has(FlagGuaranteed))
	assert.False(t, FlagNone.Has(FlagReliable))
}
