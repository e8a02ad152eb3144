package trace

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pennylab/penny/packet"
)

type recordingCollector struct {
	processed []packet.Observed
	closed    bool
}

func (r *recordingCollector) Process(p packet.Observed) error {
	r.processed = append(r.processed, p)
	return nil
}

func (r *recordingCollector) Close() error {
	r.closed = true
	return nil
}

func TestNewSamplingCollectorReturnsUnderlyingAtFullRate(t *testing.T) {
	rc := &recordingCollector{}
	c := NewSamplingCollector(1.0, rc)
	assert.Same(t, rc, c)
}

func TestSamplingCollectorKeepsAllPacketsOnSameFlow(t *testing.T) {
	rc := &recordingCollector{}
	c := NewSamplingCollector(0.5, rc)

	for i := 0; i < 20; i++ {
		require.NoError(t, c.Process(packet.Observed{FlowID: "flow-a", Seq: uint32(i)}))
	}
	for _, p := range rc.processed {
		assert.Equal(t, "flow-a", p.FlowID)
	}
	if len(rc.processed) > 0 {
		assert.Len(t, rc.processed, 20)
	}
}

func TestTeeCollectorForwardsToBothDestinations(t *testing.T) {
	a := &recordingCollector{}
	b := &recordingCollector{}
	tc := TeeCollector{Dst1: a, Dst2: b}

	pkt := packet.Observed{FlowID: "flow-a", Seq: 1}
	require.NoError(t, tc.Process(pkt))
	require.NoError(t, tc.Close())

	assert.Equal(t, []packet.Observed{pkt}, a.processed)
	assert.Equal(t, []packet.Observed{pkt}, b.processed)
	assert.True(t, a.closed)
	assert.True(t, b.closed)
}

func TestDummyCollectorDiscardsEverything(t *testing.T) {
	c := NewDummyCollector()
	require.NoError(t, c.Process(packet.Observed{FlowID: "flow-a"}))
	require.NoError(t, c.Close())
}

type countingConsumer struct {
	totals map[string]uint64
}

func (cc *countingConsumer) Update(pc PacketCounts) {
	if cc.totals == nil {
		cc.totals = map[string]uint64{}
	}
	cc.totals[pc.FlowID] += pc.Total
}

func TestPacketCountCollectorTalliesPerFlow(t *testing.T) {
	rc := &recordingCollector{}
	consumer := &countingConsumer{}
	pc := &PacketCountCollector{Counts: consumer, Collector: rc}

	require.NoError(t, pc.Process(packet.Observed{FlowID: "flow-a"}))
	require.NoError(t, pc.Process(packet.Observed{FlowID: "flow-a"}))
	require.NoError(t, pc.Process(packet.Observed{FlowID: "flow-b"}))

	assert.EqualValues(t, 2, consumer.totals["flow-a"])
	assert.EqualValues(t, 1, consumer.totals["flow-b"])
	assert.Len(t, rc.processed, 3)
}
