// Package result builds Penny's exported verdict and persists it to disk.
// Grounded on penny::exportToJson/exportFlowStatsJson (penny.cc/pennyFlow.cc)
// for the export shape, and on sim.cc's writeResults for the one-file-per-run
// layout. Unlike the reference's nlohmann::json builder, Penny's export has
// no domain logic of its own beyond struct-to-JSON marshaling, so it is one
// of the few places this module reaches for encoding/json directly rather
// than a third-party serializer.
package result

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/pennylab/penny/aggregator"
	"github.com/pennylab/penny/pennyflow"
	"github.com/pennylab/penny/printer"
)

// CountersExport is the JSON shape of one counter snapshot plus the meta-list
// packet IDs behind it, serialized as plain "(flowId,packetId)" strings the
// way the reference stringifies its per-flow lists.
type CountersExport struct {
	TotalPkts                uint64   `json:"totalPkts"`
	DataPkts                 uint64   `json:"dataPkts"`
	PureAckPkts              uint64   `json:"pureAckPkts"`
	DroppablePkts            uint64   `json:"droppablePkts"`
	InOrderPkts              uint64   `json:"inOrderPkts"`
	OutOfOrderPkts           uint64   `json:"outOfOrderPkts"`
	DroppedPkts              uint64   `json:"droppedPkts"`
	RetransmittedDroppedPkts uint64   `json:"retransmittedDroppedPkts"`
	NotSeenDroppedPkts       uint64   `json:"notSeenDroppedPkts"`
	DuplicatePkts            uint64   `json:"duplicatePkts"`
	PendingDroppedPkts       uint64   `json:"pendingDroppedPkts"`
	DroppedPcksList          []string `json:"droppedPcksList,omitempty"`
	ExpiredPcksList          []string `json:"expiredPcksList,omitempty"`
	RetransmittedPktsList    []string `json:"retransmittedPktsList,omitempty"`
}

func countersExport(c pennyflow.Counters) CountersExport {
	return CountersExport{
		TotalPkts:                c.TotalPkts,
		DataPkts:                 c.DataPkts,
		PureAckPkts:              c.PureAckPkts,
		DroppablePkts:            c.DroppablePkts,
		InOrderPkts:              c.InOrderPkts,
		OutOfOrderPkts:           c.OutOfOrderPkts,
		DroppedPkts:              c.DroppedPkts,
		RetransmittedDroppedPkts: c.RetransmittedDroppedPkts,
		NotSeenDroppedPkts:       c.NotSeenDroppedPkts,
		DuplicatePkts:            c.DuplicatePkts,
		PendingDroppedPkts:       c.PendingDroppedPkts,
	}
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func flowCountersExport(c pennyflow.Counters, lists pennyflow.MetaLists) CountersExport {
	ce := countersExport(c)
	ce.DroppedPcksList = sortedKeys(lists.DroppedPkts)
	ce.ExpiredPcksList = sortedKeys(lists.ExpiredPkts)
	ce.RetransmittedPktsList = sortedKeys(lists.RetransmittedPkts)
	return ce
}

// FlowStats is the per-flow export. Build fills only Current (the flow's live
// counters and meta-lists); Snapshots is left empty.
type FlowStats struct {
	Current   CountersExport   `json:"current"`
	Snapshots []CountersExport `json:"snapshots"`
}

// SnapshotExport is one resolved aggregate snapshot, with its per-flow meta
// lists flattened into "(flowId,packetId)" pairs the way the reference does.
type SnapshotExport struct {
	Counters              CountersExport `json:"counters"`
	DroppedPcksList       []string       `json:"droppedPcksList"`
	ExpiredPcksList       []string       `json:"expiredPcksList"`
	RetransmittedPktsList []string       `json:"retransmittedPktsList"`
	FlowID                string         `json:"flowId"`
	PacketID              string         `json:"packetId"`
}

func pairStrings(flowID string, ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, fmt.Sprintf("(%s,%s)", flowID, id))
	}
	return out
}

func snapshotExport(s *aggregator.Snapshot) SnapshotExport {
	se := SnapshotExport{
		Counters: countersExport(s.Counters),
		FlowID:   s.FlowID,
		PacketID: s.PacketID,
	}
	// Flatten per-flow lists in deterministic (sorted by flow ID) order.
	flowIDs := make([]string, 0, len(s.Lists))
	for id := range s.Lists {
		flowIDs = append(flowIDs, id)
	}
	sort.Strings(flowIDs)

	for _, id := range flowIDs {
		lists := s.Lists[id]
		se.DroppedPcksList = append(se.DroppedPcksList, pairStrings(id, sortedKeys(lists.DroppedPkts))...)
		se.ExpiredPcksList = append(se.ExpiredPcksList, pairStrings(id, sortedKeys(lists.ExpiredPkts))...)
		se.RetransmittedPktsList = append(se.RetransmittedPktsList, pairStrings(id, sortedKeys(lists.RetransmittedPkts))...)
	}
	return se
}

// Aggregates is the top-level outcome summary.
type Aggregates struct {
	AggrOutcome          string   `json:"aggrOutcome"`
	FinalOutcome         string   `json:"finalOutcome"`
	IndivFlowsClosedLoop []string `json:"indivFlowsClosedLoop"`
}

// Export is the full structured verdict a run produces.
type Export struct {
	Aggregates Aggregates            `json:"aggregates"`
	Snapshots  []SnapshotExport      `json:"snapshots"`
	IndivFlows map[string]FlowStats  `json:"indivFlows,omitempty"`
}

// Build assembles an Export from a detector's current state. When
// includePerFlow is true, every tracked flow's current counters and
// meta-lists are included; its per-drop snapshot history is not.
func Build(d *aggregator.Detector, includePerFlow bool) Export {
	closedLoop := d.IndivFlowsClosedLoop()
	sort.Strings(closedLoop)

	exp := Export{
		Aggregates: Aggregates{
			AggrOutcome:          d.AggrOutcome(),
			FinalOutcome:         d.FinalOutcome(),
			IndivFlowsClosedLoop: closedLoop,
		},
	}

	for _, snap := range d.EvaluatedSnapshots() {
		exp.Snapshots = append(exp.Snapshots, snapshotExport(snap))
	}

	if includePerFlow {
		exp.IndivFlows = make(map[string]FlowStats, len(d.Flows()))
		for id, flow := range d.Flows() {
			cur := flow.CurrentState()
			exp.IndivFlows[id] = FlowStats{
				Current: flowCountersExport(cur.Counters, flow.Lists()),
			}
		}
	}

	return exp
}

// Persist writes exp as one JSON line, appended to
// <resultsDir>/<experimentFolder>/<topoId>_<dropRate>_<seed>.txt, matching
// the reference's writeResults layout. I/O failures are logged and
// swallowed: result persistence never fails a run.
func Persist(resultsDir, experimentFolder, topoID string, dropRate float64, seed int, exp Export) {
	dir := filepath.Join(resultsDir, experimentFolder)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		printer.Errorf("result: creating %s: %v\n", dir, err)
		return
	}

	name := fmt.Sprintf("%s_%v_%d.txt", topoID, dropRate, seed)
	path := filepath.Join(dir, name)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		printer.Errorf("result: opening %s: %v\n", path, err)
		return
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	if err := enc.Encode(exp); err != nil {
		printer.Errorf("result: writing %s: %v\n", path, err)
	}
}
