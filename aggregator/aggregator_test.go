package aggregator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pennylab/penny/clock"
	"github.com/pennylab/penny/packet"
	"github.com/pennylab/penny/params"
	"github.com/pennylab/penny/rng"
)

func testParams() params.Parameters {
	return params.Parameters{
		DropProbability:                     1.0,
		MaxDuplicates:                       0.15,
		ProbabilityNotObserveRetransmission: 0.05,
		PacketDropExpirationTimeout:         2.0,
		MinClosedLoopFlows:                  0,
		MaxPacketDrops:                      1000,
	}
}

func pkt(flowID string, seq, size uint32, real bool) packet.Observed {
	return packet.Observed{FlowID: flowID, Seq: seq, PayloadSize: size, IsReal: real}
}

func TestTrackNewFlowAndIsFlowTracked(t *testing.T) {
	d := New(testParams(), clock.NewFake(), rng.NewSeeded(1))
	assert.False(t, d.IsFlowTracked("a"))
	d.TrackNewFlow("a")
	assert.True(t, d.IsFlowTracked("a"))
	assert.Equal(t, 1, d.NumberOfTrackedFlows())
}

func TestProcessPacketAutoTracksUnknownFlow(t *testing.T) {
	d := New(testParams(), clock.NewFake(), rng.NewSeeded(1))
	d.ProcessPacket(pkt("new-flow", 0, 100, true))
	assert.True(t, d.IsFlowTracked("new-flow"))
}

func TestProcessPacketCountsRealVsSpoofedPackets(t *testing.T) {
	d := New(testParams(), clock.NewFake(), rng.NewSeeded(1))
	d.ProcessPacket(pkt("a", 0, 100, true))
	d.ProcessPacket(pkt("b", 0, 100, false))
	assert.EqualValues(t, 1, d.TotalClosedLoopPackets())
	assert.EqualValues(t, 1, d.TotalSpoofedPackets())
}

func TestProcessPacketDropsAndResolvesViaRetransmission(t *testing.T) {
	fc := clock.NewFake()
	d := New(testParams(), fc, rng.NewSeeded(1))
	d.TrackNewFlow("a")

	p := pkt("a", 0, 100, true)
	dropped := d.ProcessPacket(p)
	require.True(t, dropped)
	require.Len(t, d.pendingSnaps, 1)

	// Retransmission resolves the pending aggregate snapshot.
	d.ProcessPacket(p)
	assert.Len(t, d.pendingSnaps, 0)
	assert.Len(t, d.evaluatedSnaps, 1)
}

func TestIndivFlowsEnabledEscalatesOnNonBidirectionalAggregate(t *testing.T) {
	fc := clock.NewFake()
	d := New(testParams(), fc, rng.NewSeeded(1))
	d.TrackNewFlow("a")

	flow := d.Flows()["a"]
	flow.DisablePacketDrops()
	for i := 0; i < 10; i++ {
		require.False(t, d.ProcessPacket(pkt("a", uint32(i*100), 100, true)))
	}
	flow.EnablePacketDrops()
	require.True(t, d.ProcessPacket(pkt("a", 1000, 100, true)))
	require.True(t, d.ProcessPacket(pkt("a", 1100, 100, true)))

	fc.Advance(100) // neither drop resolves: both expire as not-seen
	d.ProcessPacket(pkt("a", 5000, 100, true))
	d.ProcessPacket(pkt("a", 5100, 100, true))

	assert.True(t, d.IndivFlowsEnabled())
	assert.Equal(t, "Not Closed-Loop", d.AggrOutcome())
}

func TestPreregisterSpoofedFlowTracksAheadOfTraffic(t *testing.T) {
	d := New(testParams(), clock.NewFake(), rng.NewSeeded(1))
	d.PreregisterSpoofedFlow("spoofed-1")
	assert.True(t, d.IsFlowTracked("spoofed-1"))
}
