package synthetic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildSYNDecodesSYNFlag(t *testing.T) {
	pkt, ok := Decode(BuildSYN(100), "flow-1", true)
	require.True(t, ok)
	assert.True(t, pkt.SYN)
	assert.EqualValues(t, 100, pkt.Seq)
}

func TestBuildDataDecodesPayloadSize(t *testing.T) {
	pkt, ok := Decode(BuildData(0, make([]byte, 250)), "flow-1", true)
	require.True(t, ok)
	assert.EqualValues(t, 250, pkt.PayloadSize)
}

func TestClosedLoopTraceHasAdvancingSequence(t *testing.T) {
	trace := ClosedLoopTrace("flow-1", 5, 100)
	require.Len(t, trace, 5)
	for i, pkt := range trace {
		assert.EqualValues(t, i*100, pkt.Seq)
		assert.False(t, pkt.SYN)
	}
}

func TestDuplicateDataTraceRepeatsSameID(t *testing.T) {
	trace := DuplicateDataTrace("flow-1", 0, make([]byte, 100), 3)
	require.Len(t, trace, 3)
	id := trace[0].ID()
	for _, pkt := range trace {
		assert.Equal(t, id, pkt.ID())
		assert.False(t, pkt.IsReal)
	}
}
