package adaptive

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

const (
	ctxNetwork ContextType = "network"
	ctxDevice  ContextType = "device"
	ctxAgent   ContextType = "agent"
)

func TestContextSet_FirstValueWins(t *testing.T) {
	set := NewContextSet(
		NewValue(ctxNetwork, "corporate"),
		NewValue(ctxNetwork, "tor"),
		NewValue(ctxDevice, true),
	)

	assert.Equal(t, 2, set.Len())
	network, ok := Lookup[string](set, ctxNetwork)
	assert.True(t, ok)
	assert.Equal(t, "corporate", network)
}

func TestContextSet_SkipsNil(t *testing.T) {
	set := NewContextSet(nil, NewValue(ctxAgent, "curl/8"))
	assert.Equal(t, 1, set.Len())
}

func TestContextSet_HasAndMissing(t *testing.T) {
	set := NewContextSet(NewValue(ctxNetwork, "home"))

	assert.True(t, set.Has(ctxNetwork))
	assert.False(t, set.Has(ctxNetwork, ctxDevice))
	assert.True(t, set.Has())
	assert.Equal(t, []ContextType{ctxDevice, ctxAgent}, set.Missing(ctxDevice, ctxNetwork, ctxAgent))
	assert.Nil(t, set.Missing(ctxNetwork))
}

func TestContextSet_TypesSorted(t *testing.T) {
	set := NewContextSet(NewValue(ctxNetwork, 1), NewValue(ctxAgent, 2), NewValue(ctxDevice, 3))
	assert.Equal(t, []ContextType{ctxAgent, ctxDevice, ctxNetwork}, set.Types())
}

func TestLookup_WrongPayloadType(t *testing.T) {
	set := NewContextSet(NewValue(ctxDevice, "yes"))

	_, ok := Lookup[bool](set, ctxDevice)
	assert.False(t, ok)

	_, ok = Lookup[bool](set, ctxNetwork)
	assert.False(t, ok)
}

func TestContextSet_ZeroValueIsEmpty(t *testing.T) {
	var set ContextSet
	assert.Equal(t, 0, set.Len())
	_, ok := set.Get(ctxNetwork)
	assert.False(t, ok)
	assert.True(t, set.add(NewValue(ctxNetwork, "x")))
	assert.False(t, set.add(NewValue(ctxNetwork, "y")))
}
