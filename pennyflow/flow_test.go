package pennyflow

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
	}
}

func dataPacket(seq, size uint32) packet.Observed {
	return packet.Observed{Seq: seq, PayloadSize: size}
}

func TestProcessPacketPureAckDoesNotCountAsData(t *testing.T) {
	f := New(testParams(), clock.NewFake(), rng.NewSeeded(1))
	droppable := f.ProcessPacket(packet.Observed{Seq: 10, PayloadSize: 0})
	assert.False(t, droppable)
	assert.EqualValues(t, 1, f.cur.PureAckPkts)
	assert.EqualValues(t, 0, f.cur.DataPkts)
}

func TestProcessPacketUniqueDataIsDroppable(t *testing.T) {
	f := New(testParams(), clock.NewFake(), rng.NewSeeded(1))
	droppable := f.ProcessPacket(dataPacket(0, 100))
	assert.True(t, droppable)
	assert.EqualValues(t, 1, f.cur.DroppablePkts)
	assert.EqualValues(t, 1, f.cur.InOrderPkts)
}

func TestProcessPacketDuplicateIsNotDroppable(t *testing.T) {
	f := New(testParams(), clock.NewFake(), rng.NewSeeded(1))
	f.ProcessPacket(dataPacket(0, 100))
	droppable := f.ProcessPacket(dataPacket(0, 100))
	assert.False(t, droppable)
	assert.EqualValues(t, 1, f.cur.DuplicatePkts)
}

func TestDropPacketThenRetransmissionResolves(t *testing.T) {
	fc := clock.NewFake()
	f := New(testParams(), fc, rng.NewSeeded(1))

	pkt := dataPacket(0, 100)
	require.True(t, f.ProcessPacket(pkt))
	dropped := f.DropPacket(pkt.Seq, pkt.ID())
	require.True(t, dropped)
	assert.EqualValues(t, 1, f.cur.PendingDroppedPkts)

	// Same packet retransmitted: same seq/size, so same packet ID.
	droppable := f.ProcessPacket(pkt)
	assert.False(t, droppable)
	assert.EqualValues(t, 1, f.cur.RetransmittedDroppedPkts)
	assert.EqualValues(t, 0, f.cur.PendingDroppedPkts)
}

func TestCheckPacketDropTimeoutsMarksExpired(t *testing.T) {
	fc := clock.NewFake()
	f := New(testParams(), fc, rng.NewSeeded(1))

	pkt := dataPacket(0, 100)
	require.True(t, f.ProcessPacket(pkt))
	require.True(t, f.DropPacket(pkt.Seq, pkt.ID()))

	fc.Advance(10) // well past the 2s expiration timeout
	f.ProcessPacket(dataPacket(200, 100))

	assert.EqualValues(t, 1, f.cur.NotSeenDroppedPkts)
	assert.EqualValues(t, 0, f.cur.PendingDroppedPkts)
}

func TestEvaluateHypothesesNoDecisionWithoutRetransmissionOrExpiry(t *testing.T) {
	f := New(testParams(), clock.NewFake(), rng.NewSeeded(1))
	f.ProcessPacket(dataPacket(0, 100))
	f.DropPacket(0, dataPacket(0, 100).ID())
	assert.Equal(t, OutcomeNone, f.EvaluateHypotheses())
}

func TestEvaluateHypothesesClosedLoopWhenRetransmissionObservedPromptly(t *testing.T) {
	fc := clock.NewFake()
	p := testParams()
	f := New(p, fc, rng.NewSeeded(1))

	for i := 0; i < 25; i++ {
		pkt := dataPacket(uint32(i*100), 100)
		f.ProcessPacket(pkt)
		if i >= 20 {
			f.DropPacket(pkt.Seq, pkt.ID())
			// immediate retransmission
			f.ProcessPacket(pkt)
		}
	}

	outcome := f.EvaluateHypotheses()
	assert.Equal(t, OutcomeClosedLoop, outcome)
}

func TestEvaluateHypothesesNonBidirectionalWhenDropNeverResolved(t *testing.T) {
	fc := clock.NewFake()
	p := testParams()
	f := New(p, fc, rng.NewSeeded(1))

	for i := 0; i < 10; i++ {
		f.ProcessPacket(dataPacket(uint32(i*100), 100))
	}
	for i := 10; i < 12; i++ {
		pkt := dataPacket(uint32(i*100), 100)
		f.ProcessPacket(pkt)
		require.True(t, f.DropPacket(pkt.Seq, pkt.ID()))
	}

	fc.Advance(100)
	f.ProcessPacket(dataPacket(5000, 100))

	outcome := f.EvaluateHypotheses()
	assert.Equal(t, OutcomeNonBidirectional, outcome)
}

func TestDropMorePacketsStopsAtMinDroppablePkts(t *testing.T) {
	p := testParams()
	p.MinDroppablePkts = 2
	f := New(p, clock.NewFake(), rng.NewSeeded(1))

	pkt := dataPacket(0, 100)
	f.ProcessPacket(pkt)
	assert.True(t, f.DropPacket(pkt.Seq, pkt.ID()))

	pkt2 := dataPacket(200, 100)
	f.ProcessPacket(pkt2)
	assert.False(t, f.DropPacket(pkt2.Seq, pkt2.ID()))
}

func TestDisablePacketDropsPreventsFurtherDrops(t *testing.T) {
	f := New(testParams(), clock.NewFake(), rng.NewSeeded(1))
	f.DisablePacketDrops()
	pkt := dataPacket(0, 100)
	f.ProcessPacket(pkt)
	assert.False(t, f.DropPacket(pkt.Seq, pkt.ID()))
}

func TestDuplicatesByPacketDropIDCountsRepeatsAfterRetransmission(t *testing.T) {
	f := New(testParams(), clock.NewFake(), rng.NewSeeded(1))
	pkt := dataPacket(0, 100)
	f.ProcessPacket(pkt)
	require.True(t, f.DropPacket(pkt.Seq, pkt.ID()))

	f.ProcessPacket(pkt) // retransmission: resolves the drop
	f.ProcessPacket(pkt) // now a true duplicate of already-resolved data

	dups, ok := f.DuplicatesByPacketDropID(pkt.ID())
	require.True(t, ok)
	assert.EqualValues(t, 1, dups)
}
