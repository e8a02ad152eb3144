package trace

import (
	"github.com/pennylab/penny/aggregator"
	"github.com/pennylab/penny/connlifecycle"
	"github.com/pennylab/penny/packet"
)

// DetectorCollector is the terminal Collector in the pipeline: it registers
// each packet's flow via a connlifecycle.Tracker and feeds the packet into
// the aggregate detector.
type DetectorCollector struct {
	Detector *aggregator.Detector
	Tracker  *connlifecycle.Tracker
	Dropper  func(packetID string) error
}

func (dc *DetectorCollector) Process(p packet.Observed) error {
	dc.Tracker.Observe(p)
	if dc.Detector.ProcessPacket(p) && dc.Dropper != nil {
		return dc.Dropper(p.ID())
	}
	return nil
}

func (dc *DetectorCollector) Close() error {
	dc.Tracker.Stop()
	return nil
}
