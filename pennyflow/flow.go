// Package pennyflow implements the per-flow Flow Detector: the state machine
// that tracks one flow's packets, decides which droppable packets to drop,
// and evaluates the closed-loop/non-bidirectional/duplicates-exceeded
// hypotheses from the counters it accumulates.
//
// It is grounded on the reference pennyFlow class (pennyFlow.cc/penny.h):
// the sequence-space dedup check, the drop-timeout sweep, and the
// snapshot-propagation rules are ported line for line, with the interval
// tree swapped for seqspan.Index and ns-3's Simulator::Now() swapped for
// clock.Source.
package pennyflow

import (
	"math"

	"github.com/patrickmn/go-cache"

	"github.com/pennylab/penny/clock"
	"github.com/pennylab/penny/packet"
	"github.com/pennylab/penny/params"
	"github.com/pennylab/penny/printer"
	"github.com/pennylab/penny/rng"
	"github.com/pennylab/penny/seqspan"
)

// Counters is the monotonic per-flow counter bundle. Every field only ever
// increases, except pendingDroppedPkts, which tracks drops awaiting a
// retransmitted/expired decision and can move in both directions.
type Counters struct {
	TotalPkts                uint64
	DataPkts                 uint64
	PureAckPkts              uint64
	DroppablePkts            uint64
	InOrderPkts              uint64
	OutOfOrderPkts           uint64
	DroppedPkts              uint64
	RetransmittedDroppedPkts uint64
	NotSeenDroppedPkts       uint64
	DuplicatePkts            uint64
	PendingDroppedPkts       uint64
}

// MetaLists holds the packet IDs behind each counter transition, used by the
// aggregate detector to correlate its own snapshots against a flow's.
type MetaLists struct {
	DroppedPkts       map[string]struct{}
	ExpiredPkts       map[string]struct{}
	RetransmittedPkts map[string]struct{}
}

func newMetaLists() MetaLists {
	return MetaLists{
		DroppedPkts:       make(map[string]struct{}),
		ExpiredPkts:       make(map[string]struct{}),
		RetransmittedPkts: make(map[string]struct{}),
	}
}

func (m MetaLists) clone() MetaLists {
	out := newMetaLists()
	for k := range m.DroppedPkts {
		out.DroppedPkts[k] = struct{}{}
	}
	for k := range m.ExpiredPkts {
		out.ExpiredPkts[k] = struct{}{}
	}
	for k := range m.RetransmittedPkts {
		out.RetransmittedPkts[k] = struct{}{}
	}
	return out
}

// Snapshot is a point-in-time copy of the flow's counters, captured at the
// instant a packet was dropped and mutated in place as later packets resolve
// that drop (or the drop times out).
type Snapshot struct {
	HighestSeq uint32
	PacketID   string
	Counters   Counters
	Lists      MetaLists
}

// Outcome is the result of evaluating the closed-loop hypotheses against a
// flow or aggregate snapshot.
type Outcome int

const (
	// OutcomeNone means no decision could yet be reached.
	OutcomeNone Outcome = iota
	// OutcomeDuplicatesExceeded means the observed duplicate data-packet rate exceeded
	// the configured threshold before a closed-loop/spoofed call was made.
	OutcomeDuplicatesExceeded
	// OutcomeClosedLoop means the flow is a genuine, closed-loop TCP flow.
	OutcomeClosedLoop
	// OutcomeNonBidirectional means the flow never observed the
	// retransmissions a closed loop would produce: it is spoofed/open-loop.
	OutcomeNonBidirectional
)

// Flow is the detection state for a single flow.
type Flow struct {
	params params.Parameters
	clock  clock.Source
	rng    rng.Source

	highestSeq uint32
	seqs       *seqspan.Index

	cur   Counters
	lists MetaLists

	snapshots []*Snapshot

	validSnapshot     Snapshot
	haveValidSnapshot bool

	decisionMade bool
	decision     Outcome

	pendingDropsTime *cache.Cache // packetId -> float64 drop timestamp
	dropDecided      map[string]bool

	seqOfLastDroppedPacket uint32

	enabledDrops        bool
	loggedMalformedDrop bool
}

// New returns a Flow ready to process packets under p, using clk to read
// simulation/wall time and rand to make the drop decision.
func New(p params.Parameters, clk clock.Source, rand rng.Source) *Flow {
	return &Flow{
		params:           p,
		clock:            clk,
		rng:              rand,
		seqs:             seqspan.New(),
		lists:            newMetaLists(),
		pendingDropsTime: cache.New(cache.NoExpiration, cache.NoExpiration),
		dropDecided:      make(map[string]bool),
		enabledDrops:     true,
	}
}

// DisablePacketDrops stops the flow from dropping any further packets,
// without resetting counters already accumulated.
func (f *Flow) DisablePacketDrops() { f.enabledDrops = false }

// EnablePacketDrops re-allows dropping after DisablePacketDrops.
func (f *Flow) EnablePacketDrops() { f.enabledDrops = true }

// ProcessPacket updates the flow's counters for a single observed packet and
// reports whether the packet was a unique, droppable data packet (the caller
// decides whether to actually drop it via DropPacket).
func (f *Flow) ProcessPacket(pkt packet.Observed) bool {
	f.cur.TotalPkts++

	if pkt.PayloadSize == 0 {
		f.cur.PureAckPkts++
		return false
	}

	f.cur.DataPkts++

	unique := f.seqs.IsUnique(pkt.Seq, pkt.PayloadSize)

	if pkt.Seq < f.highestSeq && unique {
		f.cur.OutOfOrderPkts++
		f.seqs.Add(pkt.Seq, pkt.PayloadSize)
	} else {
		f.highestSeq = pkt.Seq
		f.cur.InOrderPkts++
	}

	f.checkPacketDropTimeouts()

	droppable := false

	if unique {
		f.seqs.Add(pkt.Seq, pkt.PayloadSize)
		f.cur.DroppablePkts++
		droppable = true
	} else {
		id := pkt.ID()
		if decided, seen := f.dropDecided[id]; seen && !decided {
			f.dropDecided[id] = true
			f.pendingDropsTime.Delete(id)
			f.cur.RetransmittedDroppedPkts++
			f.cur.PendingDroppedPkts--
			f.updateSnapshotsAheadRetransmitted(id)
		} else {
			f.cur.DuplicatePkts++
			f.updateSnapshotsAheadDuplicates(pkt.Seq)
		}
	}

	f.checkForNewValidSnapshot()

	return droppable
}

// checkPacketDropTimeouts sweeps pending drops and marks any that have aged
// past the configured expiration timeout as "not seen" (i.e. the
// retransmission never arrived). The timeout is effectively doubled for the
// pending drop whose sequence number matches the most recently dropped
// packet's.
func (f *Flow) checkPacketDropTimeouts() {
	now := f.clock.Now()

	type pending struct {
		id   string
		time float64
	}
	var due []pending

	for id, item := range f.pendingDropsTime.Items() {
		ts, ok := item.Object.(float64)
		if !ok {
			continue
		}
		elapsed := now - ts

		seq, err := packet.SeqFromID(id)
		if err != nil {
			if !f.loggedMalformedDrop {
				printer.Warningf("pennyflow: skipping malformed pending-drop id %q: %v\n", id, err)
				f.loggedMalformedDrop = true
			}
			continue
		}
		if seq == f.seqOfLastDroppedPacket {
			elapsed -= f.params.PacketDropExpirationTimeout
		}

		if elapsed > f.params.PacketDropExpirationTimeout {
			due = append(due, pending{id: id, time: ts})
		}
	}

	for _, p := range due {
		f.cur.PendingDroppedPkts--
		f.cur.NotSeenDroppedPkts++
		f.dropDecided[p.id] = true
		f.updateSnapshotsAheadExpired(p.id)
		f.pendingDropsTime.Delete(p.id)
	}
}

func (f *Flow) updateSnapshotsAheadExpired(packetID string) {
	modifyAhead := false
	for _, snap := range f.snapshots {
		if snap.PacketID == packetID {
			snap.Counters.NotSeenDroppedPkts++
			snap.Lists.ExpiredPkts[packetID] = struct{}{}
			f.lists.ExpiredPkts[packetID] = struct{}{}
			snap.Counters.PendingDroppedPkts--
			modifyAhead = true
		} else if modifyAhead {
			snap.Counters.NotSeenDroppedPkts++
			snap.Lists.ExpiredPkts[packetID] = struct{}{}
			snap.Counters.PendingDroppedPkts--
		}
	}
}

func (f *Flow) updateSnapshotsAheadRetransmitted(packetID string) {
	modifyAhead := false
	for _, snap := range f.snapshots {
		if snap.PacketID == packetID {
			snap.Counters.RetransmittedDroppedPkts++
			snap.Lists.RetransmittedPkts[packetID] = struct{}{}
			f.lists.RetransmittedPkts[packetID] = struct{}{}
			snap.Counters.PendingDroppedPkts--
			modifyAhead = true
		} else if modifyAhead {
			snap.Counters.RetransmittedDroppedPkts++
			snap.Lists.RetransmittedPkts[packetID] = struct{}{}
			snap.Counters.PendingDroppedPkts--
		}
	}
}

func (f *Flow) updateSnapshotsAheadDuplicates(dupSeq uint32) {
	modifyAhead := false
	for _, snap := range f.snapshots {
		if snap.HighestSeq >= dupSeq {
			snap.Counters.DuplicatePkts++
			modifyAhead = true
		} else if modifyAhead {
			snap.Counters.DuplicatePkts++
		}
	}
}

// DuplicatesByPacketDropID reports the duplicate-packet count recorded in
// the snapshot taken when packetID was dropped, and whether that snapshot
// exists.
func (f *Flow) DuplicatesByPacketDropID(packetID string) (uint64, bool) {
	for _, snap := range f.snapshots {
		if snap.PacketID == packetID {
			return snap.Counters.DuplicatePkts, true
		}
	}
	return 0, false
}

// dropMorePackets reports whether this flow is still allowed to drop
// packets: drops stop once either minDroppablePkts or minPacketDrops has
// been reached, so that a flow isn't driven indefinitely past the evidence
// the detector needs.
func (f *Flow) dropMorePackets() bool {
	if !f.enabledDrops {
		return false
	}
	if f.params.MinDroppablePkts > 0 && f.cur.DroppablePkts >= uint64(f.params.MinDroppablePkts) {
		return false
	}
	if f.params.MinPacketDrops > 0 && f.cur.DroppedPkts >= uint64(f.params.MinPacketDrops) {
		return false
	}
	return true
}

// DropPacket randomly decides, per the configured drop probability, whether
// to drop the packet identified by seq/packetID, recording a new snapshot
// when it does. It reports whether the packet was dropped.
func (f *Flow) DropPacket(seq uint32, packetID string) bool {
	if !(f.rng.Bernoulli(f.params.DropProbability) && f.dropMorePackets()) {
		return false
	}

	f.seqOfLastDroppedPacket = seq

	f.cur.DroppedPkts++
	f.cur.PendingDroppedPkts++

	f.dropDecided[packetID] = false
	f.pendingDropsTime.Set(packetID, f.clock.Now(), cache.NoExpiration)

	f.lists.DroppedPkts[packetID] = struct{}{}
	f.addPacketDropSnapshot(packetID)

	return true
}

func (f *Flow) addPacketDropSnapshot(packetID string) {
	f.snapshots = append(f.snapshots, &Snapshot{
		HighestSeq: f.highestSeq,
		PacketID:   packetID,
		Counters:   f.cur,
		Lists:      f.lists.clone(),
	})
}

// checkForNewValidSnapshot advances the flow's "last fully-resolved" marker:
// any snapshot with zero pending drops is a candidate state to report, and
// since snapshots are ordered by capture time, the last such snapshot found
// is the most recent one.
func (f *Flow) checkForNewValidSnapshot() {
	for _, snap := range f.snapshots {
		if snap.Counters.PendingDroppedPkts == 0 {
			f.validSnapshot = *snap
			f.haveValidSnapshot = true
		}
	}
}

// CurrentState returns the flow's live counters, uncorrected for any
// in-flight drop decisions. The aggregate detector sums this across all
// flows when building a new aggregate snapshot.
func (f *Flow) CurrentState() Snapshot {
	return Snapshot{Counters: f.cur, Lists: f.lists.clone(), HighestSeq: f.highestSeq}
}

// State returns the counters that should currently be used to evaluate this
// flow's hypotheses: the live counters if nothing has ever been dropped, the
// last fully-resolved snapshot once a decision has been made on at least one
// drop, or the first snapshot if drops are still outstanding and undecided.
func (f *Flow) State() Snapshot {
	if f.cur.DroppedPkts == 0 {
		return f.CurrentState()
	}
	if f.cur.NotSeenDroppedPkts > 0 || f.cur.RetransmittedDroppedPkts > 0 {
		return f.validSnapshot
	}
	return *f.snapshots[0]
}

// EvaluateHypotheses runs the likelihood-ratio test against the flow's
// current state and reports the outcome. A non-OutcomeNone result is
// terminal: once decisionMade is set, later calls keep returning the same
// verdict.
func (f *Flow) EvaluateHypotheses() Outcome {
	if f.decisionMade {
		return f.decision
	}
	outcome := EvaluateCounters(f.State().Counters, f.params)
	if outcome != OutcomeNone {
		f.decisionMade = true
		f.decision = outcome
	}
	return outcome
}

// Decided reports whether this flow has reached a terminal individual-flow
// decision, and what it was.
func (f *Flow) Decided() (Outcome, bool) {
	return f.decision, f.decisionMade
}

// Lists returns a copy of the flow's cumulative meta-lists (every packet ID
// ever dropped, expired, or retransmitted on this flow), used by the
// aggregate detector to correlate its own snapshots against the flow's.
func (f *Flow) Lists() MetaLists {
	return f.lists.clone()
}

// EvaluateCounters runs the closed-loop/non-bidirectional/duplicates-exceeded
// likelihood-ratio test against a counter snapshot. It is shared by the
// per-flow and aggregate detectors, which apply the identical test to
// different scopes of counters (one flow's vs. the sum across all flows).
func EvaluateCounters(cs Counters, p params.Parameters) Outcome {
	if cs.RetransmittedDroppedPkts == 0 && cs.NotSeenDroppedPkts == 0 {
		return OutcomeNone
	}
	if p.MinDroppablePkts > 0 && cs.DroppablePkts < uint64(p.MinDroppablePkts) {
		return OutcomeNone
	}
	if p.MinPacketDrops > 0 && cs.DroppedPkts < uint64(p.MinPacketDrops) {
		return OutcomeNone
	}
	if cs.DroppablePkts < cs.DroppedPkts {
		return OutcomeNone
	}
	fDupDenominator := cs.DroppablePkts - cs.DroppedPkts
	if fDupDenominator < 1 {
		return OutcomeNone
	}

	var fDupNumerator uint64 = 1
	if cs.DuplicatePkts != 0 {
		fDupNumerator = cs.DuplicatePkts
	}
	fDup := float64(fDupNumerator) / float64(fDupDenominator)

	if fDup > p.MaxDuplicates {
		return OutcomeDuplicatesExceeded
	}

	h1 := math.Pow(p.ProbabilityNotObserveRetransmission, float64(cs.NotSeenDroppedPkts))
	h2 := math.Pow(fDup, float64(cs.RetransmittedDroppedPkts))

	pClosed := h1 / (h1 + h2)

	switch {
	case pClosed > 0.99:
		return OutcomeClosedLoop
	case pClosed < 0.01:
		return OutcomeNonBidirectional
	default:
		return OutcomeNone
	}
}
