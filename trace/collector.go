// Package trace provides the Collector pipeline that sits between a packet
// source (pcapsource, synthetic, or any other packet.Observed producer) and
// the detection core: sampling, fan-out, and packet-count telemetry,
// composed the way the teacher composes its own traffic-collector pipeline.
package trace

import (
	"math"

	"github.com/OneOfOne/xxhash"

	"github.com/pennylab/penny/packet"
)

// Collector hands observed packets into a processing pipeline.
// Implementations should only return an error when it is unrecoverable and
// the caller should stop feeding packets altogether.
type Collector interface {
	Process(packet.Observed) error

	// Close must complete any pending processing before returning.
	Close() error
}

// SamplingCollector wraps a Collector and forwards only a sampled subset of
// flows, selected by a deterministic hash of the flow ID so every packet on
// a given flow is either entirely kept or entirely dropped.
type SamplingCollector struct {
	// A flow is kept if a hash of its ID falls below this threshold.
	sampleThreshold float64

	collector Collector
}

// NewSamplingCollector returns collector itself when sampleRate is 1.0,
// otherwise a SamplingCollector that keeps roughly sampleRate of flows.
func NewSamplingCollector(sampleRate float64, collector Collector) Collector {
	if sampleRate == 1.0 {
		return collector
	}
	return &SamplingCollector{
		sampleThreshold: float64(math.MaxUint32) * sampleRate,
		collector:       collector,
	}
}

func (sc *SamplingCollector) includeFlow(flowID string) bool {
	h := xxhash.New32()
	h.WriteString(flowID)
	return float64(h.Sum32()) < sc.sampleThreshold
}

func (sc *SamplingCollector) Process(p packet.Observed) error {
	if sc.includeFlow(p.FlowID) {
		return sc.collector.Process(p)
	}
	return nil
}

func (sc *SamplingCollector) Close() error {
	return sc.collector.Close()
}

// PacketCounts is a per-flow tally of packet categories, reported to a
// PacketCountConsumer for external telemetry. Each field is an increment to
// add to the consumer's running total for FlowID, not an absolute value.
type PacketCounts struct {
	FlowID        string
	Total         uint64
	Dropped       uint64
	Retransmitted uint64
	Duplicate     uint64
	Expired       uint64
}

// PacketCountConsumer receives incremental PacketCounts updates.
type PacketCountConsumer interface {
	Update(PacketCounts)
}

// PacketCountCollector decorates a Collector with per-flow packet-count
// telemetry. It only tallies the raw packet a source reports; interpreting
// drop/retransmit/duplicate outcomes is the detection core's job.
type PacketCountCollector struct {
	Counts    PacketCountConsumer
	Collector Collector
}

func (pc *PacketCountCollector) Process(p packet.Observed) error {
	pc.Counts.Update(PacketCounts{FlowID: p.FlowID, Total: 1})
	return pc.Collector.Process(p)
}

func (pc *PacketCountCollector) Close() error {
	return pc.Collector.Close()
}
