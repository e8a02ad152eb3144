// Package aggregator implements the Aggregate Detector: the dispatcher that
// owns every tracked flow, fans packets out to the right pennyflow.Flow,
// maintains aggregate (sum-across-flows) drop snapshots, and escalates to
// individual-flow evaluation when the aggregate signal alone can't rule out
// spoofing.
//
// It is grounded on the reference penny class (penny.h/penny.cc): the
// pending/evaluated snapshot queues, the expired/retransmitted/duplicates
// propagation, and the individual-flow-mode escalation are ported directly,
// with flowIdToPennyFlowMap becoming an ordinary Go map and the nlohmann::json
// configuration object becoming a params.Parameters value.
package aggregator

import (
	"github.com/pennylab/penny/clock"
	"github.com/pennylab/penny/packet"
	"github.com/pennylab/penny/params"
	"github.com/pennylab/penny/pennyflow"
	"github.com/pennylab/penny/rng"
)

// Snapshot is a point-in-time sum of every tracked flow's counters, captured
// when a packet is dropped while the detector is still in aggregate mode.
type Snapshot struct {
	PacketID                 string
	FlowID                   string
	DuplicatesAtDropInstance uint64

	Counters pennyflow.Counters
	// Lists is keyed by flow ID: each tracked flow's meta-lists as of the
	// moment this snapshot was captured.
	Lists map[string]pennyflow.MetaLists

	FlowsContributed uint64
}

// Detector is the aggregate, multi-flow detection state machine.
type Detector struct {
	params params.Parameters
	clock  clock.Source
	rng    rng.Source

	flows map[string]*pennyflow.Flow

	pendingSnaps   []*Snapshot
	evaluatedSnaps []*Snapshot

	indivFlowsClosedLoop map[string]struct{}
	indivFlowsEnabled    bool

	totalClosedLoopPackets uint64
	totalSpoofedPackets    uint64

	aggrOutcome  string
	finalOutcome string

	enabled  bool
	finished bool
}

// New returns a Detector ready to track flows under p. Every flow it creates
// shares clk for reading time and randSrc for drop decisions.
func New(p params.Parameters, clk clock.Source, randSrc rng.Source) *Detector {
	return &Detector{
		params:               p,
		clock:                clk,
		rng:                  randSrc,
		flows:                make(map[string]*pennyflow.Flow),
		indivFlowsClosedLoop: make(map[string]struct{}),
		enabled:              true,
	}
}

func (d *Detector) Enable()     { d.enabled = true }
func (d *Detector) Disable()    { d.enabled = false }
func (d *Detector) IsEnabled() bool { return d.enabled }
func (d *Detector) IsRunning() bool { return !d.finished }

// IsFlowTracked reports whether flowID already has a Flow instance.
func (d *Detector) IsFlowTracked(flowID string) bool {
	_, ok := d.flows[flowID]
	return ok
}

// TrackNewFlow begins tracking flowID, configuring its Flow with this
// detector's parameters.
func (d *Detector) TrackNewFlow(flowID string) {
	d.flows[flowID] = pennyflow.New(d.params, d.clock, d.rng)
}

// PreregisterSpoofedFlow tracks flowID ahead of its first observed packet,
// used when an upstream component (e.g. connection-lifecycle tracking)
// already knows a flow exists before Penny sees traffic on it.
func (d *Detector) PreregisterSpoofedFlow(flowID string) {
	d.TrackNewFlow(flowID)
}

// NumberOfTrackedFlows reports how many flows this detector currently knows
// about.
func (d *Detector) NumberOfTrackedFlows() int {
	return len(d.flows)
}

func (d *Detector) flowFor(flowID string) *pennyflow.Flow {
	f, ok := d.flows[flowID]
	if !ok {
		// A packet arrived for a flow nothing registered ahead of time.
		// Track it now rather than panic, so a detector wired without
		// connection-lifecycle tracking still degrades gracefully.
		d.TrackNewFlow(flowID)
		f = d.flows[flowID]
	}
	return f
}

// ProcessPacket dispatches pkt to its flow, advances any pending aggregate
// snapshot toward resolution, and evaluates both the aggregate and
// individual-flow hypotheses. It reports whether the packet was dropped.
func (d *Detector) ProcessPacket(pkt packet.Observed) bool {
	if pkt.IsReal {
		d.totalClosedLoopPackets++
	} else {
		d.totalSpoofedPackets++
	}

	flow := d.flowFor(pkt.FlowID)
	droppable := flow.ProcessPacket(pkt)

	if len(d.pendingSnaps) > 0 && !d.indivFlowsEnabled {
		acs := d.pendingSnaps[0]
		d.checkAndUpdateExpired(acs)
		d.checkAndUpdateRetransmitted(acs)
		d.checkAndUpdateDuplicates(acs)

		if acs.Counters.PendingDroppedPkts == 0 {
			d.pendingSnaps = d.pendingSnaps[1:]
			d.evaluatedSnaps = append(d.evaluatedSnaps, acs)

			switch d.evaluateAggrHypotheses(acs) {
			case pennyflow.OutcomeNonBidirectional:
				d.aggrOutcome = "Not Closed-Loop"
				d.indivFlowsEnabled = true
			case pennyflow.OutcomeClosedLoop:
				d.finished = true
				d.aggrOutcome = "Closed-Loop"
				d.finalOutcome = d.aggrOutcome
			case pennyflow.OutcomeDuplicatesExceeded:
				d.finished = true
				d.aggrOutcome = "Duplicates Exceeded"
				d.finalOutcome = d.aggrOutcome
			}
		}
	}

	if d.indivFlowsEnabled {
		if len(d.indivFlowsClosedLoop) > d.params.MinClosedLoopFlows {
			d.finished = true
			d.finalOutcome = "Closed-loop"
		}
	}

	if !d.finished {
		outcome := flow.EvaluateHypotheses()
		if outcome == pennyflow.OutcomeNone {
			if droppable {
				underBudget := len(d.pendingSnaps)+len(d.evaluatedSnaps) < d.params.MaxPacketDrops
				if underBudget || d.indivFlowsEnabled {
					if flow.DropPacket(pkt.Seq, pkt.ID()) {
						if !d.indivFlowsEnabled {
							d.addPacketDropSnapshot(pkt)
						}
						return true
					}
				}
			}
		} else if outcome == pennyflow.OutcomeClosedLoop {
			d.indivFlowsClosedLoop[pkt.FlowID] = struct{}{}
		}
	}

	return false
}

func (d *Detector) checkAndUpdateExpired(acs *Snapshot) {
	flow := d.flows[acs.FlowID]
	if _, expiredOnFlow := flow.Lists().ExpiredPkts[acs.PacketID]; !expiredOnFlow {
		return
	}
	for _, iter := range d.pendingSnaps {
		fl := iter.Lists[acs.FlowID]
		_, alreadyExpired := fl.ExpiredPkts[acs.PacketID]
		_, wasDropped := fl.DroppedPkts[acs.PacketID]
		if !alreadyExpired && wasDropped {
			iter.Counters.NotSeenDroppedPkts++
			iter.Counters.PendingDroppedPkts--
			fl.ExpiredPkts[acs.PacketID] = struct{}{}
		}
	}
}

func (d *Detector) checkAndUpdateRetransmitted(acs *Snapshot) {
	flow := d.flows[acs.FlowID]
	if _, retransmittedOnFlow := flow.Lists().RetransmittedPkts[acs.PacketID]; !retransmittedOnFlow {
		return
	}
	for _, iter := range d.pendingSnaps {
		fl := iter.Lists[acs.FlowID]
		_, alreadyRetransmitted := fl.RetransmittedPkts[acs.PacketID]
		_, wasDropped := fl.DroppedPkts[acs.PacketID]
		if !alreadyRetransmitted && wasDropped {
			iter.Counters.RetransmittedDroppedPkts++
			iter.Counters.PendingDroppedPkts--
			fl.RetransmittedPkts[acs.PacketID] = struct{}{}
		}
	}
}

func (d *Detector) checkAndUpdateDuplicates(acs *Snapshot) {
	flow := d.flows[acs.FlowID]
	dup, ok := flow.DuplicatesByPacketDropID(acs.PacketID)
	if !ok || dup <= acs.DuplicatesAtDropInstance {
		return
	}
	for _, iter := range d.pendingSnaps {
		if iter.PacketID == acs.PacketID {
			iter.DuplicatesAtDropInstance++
		}
		fl := iter.Lists[acs.FlowID]
		_, retransmitted := fl.RetransmittedPkts[acs.PacketID]
		_, expired := fl.ExpiredPkts[acs.PacketID]
		_, dropped := fl.DroppedPkts[acs.PacketID]
		if !retransmitted && !expired && dropped {
			iter.Counters.DuplicatePkts++
		}
	}
}

func (d *Detector) evaluateAggrHypotheses(acs *Snapshot) pennyflow.Outcome {
	return pennyflow.EvaluateCounters(acs.Counters, d.params)
}

// addPacketDropSnapshot builds a new aggregate snapshot by summing every
// tracked flow's current counters, and enqueues it as pending.
func (d *Detector) addPacketDropSnapshot(pkt packet.Observed) {
	flow := d.flows[pkt.FlowID]
	dup, _ := flow.DuplicatesByPacketDropID(pkt.ID())

	acs := &Snapshot{
		PacketID:                 pkt.ID(),
		FlowID:                   pkt.FlowID,
		DuplicatesAtDropInstance: dup,
		Lists:                    make(map[string]pennyflow.MetaLists, len(d.flows)),
	}

	for id, f := range d.flows {
		cs := f.CurrentState()
		acs.Counters.TotalPkts += cs.Counters.TotalPkts
		acs.Counters.DataPkts += cs.Counters.DataPkts
		acs.Counters.PureAckPkts += cs.Counters.PureAckPkts
		acs.Counters.DroppablePkts += cs.Counters.DroppablePkts
		acs.Counters.InOrderPkts += cs.Counters.InOrderPkts
		acs.Counters.OutOfOrderPkts += cs.Counters.OutOfOrderPkts
		acs.Counters.DroppedPkts += cs.Counters.DroppedPkts
		acs.Counters.RetransmittedDroppedPkts += cs.Counters.RetransmittedDroppedPkts
		acs.Counters.NotSeenDroppedPkts += cs.Counters.NotSeenDroppedPkts
		acs.Counters.DuplicatePkts += cs.Counters.DuplicatePkts
		acs.Counters.PendingDroppedPkts += cs.Counters.PendingDroppedPkts

		acs.Lists[id] = cs.Lists
		acs.FlowsContributed++
	}

	d.pendingSnaps = append(d.pendingSnaps, acs)
}

// AggrOutcome reports the most recent aggregate-level verdict string, empty
// until the first aggregate snapshot resolves.
func (d *Detector) AggrOutcome() string { return d.aggrOutcome }

// FinalOutcome reports Penny's terminal verdict, empty until IsRunning
// returns false.
func (d *Detector) FinalOutcome() string { return d.finalOutcome }

// IndivFlowsClosedLoop returns the set of flow IDs individually classified
// closed-loop while in individual-flow mode.
func (d *Detector) IndivFlowsClosedLoop() []string {
	out := make([]string, 0, len(d.indivFlowsClosedLoop))
	for id := range d.indivFlowsClosedLoop {
		out = append(out, id)
	}
	return out
}

// IndivFlowsEnabled reports whether the detector has escalated to
// individual-flow evaluation.
func (d *Detector) IndivFlowsEnabled() bool { return d.indivFlowsEnabled }

// EvaluatedSnapshots returns every aggregate snapshot that has fully
// resolved (no packets still pending a drop decision).
func (d *Detector) EvaluatedSnapshots() []*Snapshot { return d.evaluatedSnaps }

// TotalClosedLoopPackets and TotalSpoofedPackets report the packet counts
// seen from each source, keyed by packet.Observed.IsReal.
func (d *Detector) TotalClosedLoopPackets() uint64 { return d.totalClosedLoopPackets }
func (d *Detector) TotalSpoofedPackets() uint64    { return d.totalSpoofedPackets }

// Flows exposes the tracked flows by ID, for callers (e.g. result export)
// that need each flow's individual statistics.
func (d *Detector) Flows() map[string]*pennyflow.Flow { return d.flows }
