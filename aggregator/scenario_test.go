package aggregator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pennylab/penny/clock"
	"github.com/pennylab/penny/params"
	"github.com/pennylab/penny/rng"
	"github.com/pennylab/penny/synthetic"
)

// A closed-loop flow that always retransmits a dropped packet immediately
// should eventually be classified closed-loop.
func TestScenarioClosedLoopFlowIsClassifiedClosedLoop(t *testing.T) {
	fc := clock.NewFake()
	p := params.Parameters{
		DropProbability:                     0.05,
		MaxDuplicates:                       0.15,
		ProbabilityNotObserveRetransmission: 0.05,
		PacketDropExpirationTimeout:         2.0,
		MaxPacketDrops:                      1000,
	}
	d := New(p, fc, rng.NewSeeded(1))
	d.TrackNewFlow("flow-1")

	trace := synthetic.ClosedLoopTrace("flow-1", 200, 100)

	var droppedPending []int
	for i, pkt := range trace {
		if d.ProcessPacket(pkt) {
			droppedPending = append(droppedPending, i)
			d.ProcessPacket(pkt) // immediate retransmission
		}
		if !d.IsRunning() {
			break
		}
	}

	require.NotEmpty(t, droppedPending, "expected at least one packet to be dropped")
	assert.Equal(t, "Closed-Loop", d.FinalOutcome())
}

// A flow whose dropped packet never comes back (simulating a spoofed,
// non-bidirectional source) should escalate to individual-flow mode and
// eventually resolve to non-bidirectional.
func TestScenarioSpoofedFlowNeverRetransmits(t *testing.T) {
	fc := clock.NewFake()
	p := params.Parameters{
		DropProbability:                     0.05,
		MaxDuplicates:                       0.15,
		ProbabilityNotObserveRetransmission: 0.05,
		PacketDropExpirationTimeout:         2.0,
		MaxPacketDrops:                      1000,
	}
	d := New(p, fc, rng.NewSeeded(1))
	d.TrackNewFlow("spoofed-1")

	trace := synthetic.ClosedLoopTrace("spoofed-1", 200, 100)
	for _, pkt := range trace {
		d.ProcessPacket(pkt)
		fc.Advance(10) // never retransmit: let every drop expire
	}

	assert.Equal(t, "Not Closed-Loop", d.AggrOutcome())
}

// Once the aggregate signal alone says "not closed-loop", the detector
// escalates to individual-flow mode; it should only declare the run
// closed-loop once more than minClosedLoopFlows distinct flows have each
// individually tested closed-loop.
func TestScenarioIndividualFlowModeRequiresMinClosedLoopFlows(t *testing.T) {
	fc := clock.NewFake()
	p := params.Parameters{
		DropProbability:                     0.05,
		MaxDuplicates:                       0.15,
		ProbabilityNotObserveRetransmission: 0.05,
		PacketDropExpirationTimeout:         2.0,
		MaxPacketDrops:                      1000,
		MinClosedLoopFlows:                  2,
	}
	d := New(p, fc, rng.NewSeeded(1))

	// A spoofed flow trips the aggregate into individual-flow mode.
	spoofedID := synthetic.NewFlowID()
	d.TrackNewFlow(spoofedID)
	for _, pkt := range synthetic.ClosedLoopTrace(spoofedID, 200, 100) {
		d.ProcessPacket(pkt)
		fc.Advance(10)
	}
	require.True(t, d.IndivFlowsEnabled(), "expected escalation to individual-flow mode")
	require.True(t, d.IsRunning(), "run should still be open pending enough closed-loop flows")

	// Each of a handful of distinct, independently-generated closed-loop
	// flows should individually resolve closed-loop.
	for i := 0; i < p.MinClosedLoopFlows+2; i++ {
		flowID := synthetic.NewFlowID()
		d.TrackNewFlow(flowID)
		for _, pkt := range synthetic.ClosedLoopTrace(flowID, 50, 100) {
			if d.ProcessPacket(pkt) {
				d.ProcessPacket(pkt) // immediate retransmission
			}
			if !d.IsRunning() {
				break
			}
		}
		if !d.IsRunning() {
			break
		}
	}

	assert.Equal(t, "Closed-loop", d.FinalOutcome())
	assert.False(t, d.IsRunning())
}
