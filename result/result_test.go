package result

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pennylab/penny/aggregator"
	"github.com/pennylab/penny/clock"
	"github.com/pennylab/penny/packet"
	"github.com/pennylab/penny/params"
	"github.com/pennylab/penny/rng"
)

func TestBuildIncludesPerFlowStatsWhenRequested(t *testing.T) {
	p := params.Parameters{DropProbability: 1.0, MaxDuplicates: 0.15, ProbabilityNotObserveRetransmission: 0.05, PacketDropExpirationTimeout: 2.0}
	d := aggregator.New(p, clock.NewFake(), rng.NewSeeded(1))
	d.TrackNewFlow("a")
	d.ProcessPacket(packet.Observed{FlowID: "a", Seq: 0, PayloadSize: 100, IsReal: true})

	exp := Build(d, true)
	assert.Contains(t, exp.IndivFlows, "a")
}

func TestPersistWritesOneJSONLinePerCall(t *testing.T) {
	dir := t.TempDir()
	exp := Export{Aggregates: Aggregates{AggrOutcome: "Closed-Loop", FinalOutcome: "Closed-Loop"}}

	Persist(dir, "exp1", "topoA", 0.05, 7, exp)
	Persist(dir, "exp1", "topoA", 0.05, 7, exp)

	path := filepath.Join(dir, "exp1", "topoA_0.05_7.txt")
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var lines int
	for _, b := range data {
		if b == '\n' {
			lines++
		}
	}
	assert.Equal(t, 2, lines)
}

func TestExportRoundTripsThroughJSON(t *testing.T) {
	exp := Export{
		Aggregates: Aggregates{
			AggrOutcome:          "Closed-Loop",
			FinalOutcome:         "Closed-Loop",
			IndivFlowsClosedLoop: []string{"flow-a", "flow-b"},
		},
		Snapshots: []SnapshotExport{
			{
				Counters:        CountersExport{TotalPkts: 10, DroppedPkts: 2},
				FlowID:          "flow-a",
				PacketID:        "0-0",
				DroppedPcksList: []string{"(flow-a,0-0)"},
			},
		},
	}

	raw, err := json.Marshal(exp)
	require.NoError(t, err)

	var roundTripped Export
	require.NoError(t, json.Unmarshal(raw, &roundTripped))

	if diff := cmp.Diff(exp, roundTripped); diff != "" {
		t.Errorf("export did not round-trip through JSON (-want +got):\n%s", diff)
	}
}
