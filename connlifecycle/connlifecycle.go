// Package connlifecycle watches for a flow's first packet and registers it
// with the aggregate detector, and notices when a flow goes quiet.
//
// Adapted from tcp_conn_tracker.go: the teacher flushes and evicts a
// connection's summary once it's been idle past connectionTimeout. Penny's
// flow table is append-only for the life of a run (spec.md's concurrency
// model forbids ever removing a tracked flow), so this package keeps the
// same time.AfterFunc-per-connection idiom but repurposes it into a
// notification only — nothing is evicted, an inactive flow just stops
// contributing new packets.
package connlifecycle

import (
	"sync"
	"time"

	"github.com/pennylab/penny/packet"
)

// DefaultInactivityTimeout mirrors the teacher's 30-second connection
// timeout.
const DefaultInactivityTimeout = 30 * time.Second

// Detector is the subset of aggregator.Detector this package drives.
type Detector interface {
	IsFlowTracked(flowID string) bool
	TrackNewFlow(flowID string)
	PreregisterSpoofedFlow(flowID string)
}

// Tracker registers each newly-seen flow with a Detector on first sight and
// reports when a flow has been idle past its inactivity timeout.
type Tracker struct {
	detector Detector
	timeout  time.Duration
	onIdle   func(flowID string)

	mu     sync.Mutex
	timers map[string]*time.Timer
}

// NewTracker returns a Tracker that registers flows with detector and
// invokes onIdle (if non-nil) after timeout has passed without seeing
// another packet on that flow.
func NewTracker(detector Detector, timeout time.Duration, onIdle func(flowID string)) *Tracker {
	return &Tracker{
		detector: detector,
		timeout:  timeout,
		onIdle:   onIdle,
		timers:   make(map[string]*time.Timer),
	}
}

// Observe registers pkt's flow on first sight — as a real flow if pkt.IsReal,
// otherwise as a pre-registered spoofed flow — and resets that flow's
// inactivity timer.
func (t *Tracker) Observe(pkt packet.Observed) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.detector.IsFlowTracked(pkt.FlowID) {
		if pkt.IsReal {
			t.detector.TrackNewFlow(pkt.FlowID)
		} else {
			t.detector.PreregisterSpoofedFlow(pkt.FlowID)
		}
	}

	flowID := pkt.FlowID
	if timer, exists := t.timers[flowID]; exists {
		timer.Reset(t.timeout)
		return
	}
	t.timers[flowID] = time.AfterFunc(t.timeout, func() {
		if t.onIdle != nil {
			t.onIdle(flowID)
		}
	})
}

// Stop cancels every outstanding inactivity timer, for clean shutdown.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, timer := range t.timers {
		timer.Stop()
	}
}
