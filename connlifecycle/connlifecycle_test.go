package connlifecycle

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/pennylab/penny/packet"
)

type fakeDetector struct {
	mu      sync.Mutex
	tracked map[string]bool
	spoofed map[string]bool
}

func newFakeDetector() *fakeDetector {
	return &fakeDetector{tracked: map[string]bool{}, spoofed: map[string]bool{}}
}

func (f *fakeDetector) IsFlowTracked(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tracked[id]
}

func (f *fakeDetector) TrackNewFlow(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tracked[id] = true
}

func (f *fakeDetector) PreregisterSpoofedFlow(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tracked[id] = true
	f.spoofed[id] = true
}

func TestObserveTracksNewRealFlow(t *testing.T) {
	d := newFakeDetector()
	tr := NewTracker(d, time.Hour, nil)
	defer tr.Stop()

	tr.Observe(packet.Observed{FlowID: "a", IsReal: true})
	assert.True(t, d.IsFlowTracked("a"))
	assert.False(t, d.spoofed["a"])
}

func TestObservePreregistersSpoofedFlow(t *testing.T) {
	d := newFakeDetector()
	tr := NewTracker(d, time.Hour, nil)
	defer tr.Stop()

	tr.Observe(packet.Observed{FlowID: "b", IsReal: false})
	assert.True(t, d.spoofed["b"])
}

func TestIdleCallbackFiresAfterTimeout(t *testing.T) {
	d := newFakeDetector()
	fired := make(chan string, 1)
	tr := NewTracker(d, 10*time.Millisecond, func(flowID string) {
		fired <- flowID
	})
	defer tr.Stop()

	tr.Observe(packet.Observed{FlowID: "c", IsReal: true})

	select {
	case id := <-fired:
		assert.Equal(t, "c", id)
	case <-time.After(time.Second):
		t.Fatal("idle callback did not fire")
	}
}

func TestObserveDoesNotReRegisterAlreadyTrackedFlow(t *testing.T) {
	d := newFakeDetector()
	tr := NewTracker(d, time.Hour, nil)
	defer tr.Stop()

	tr.Observe(packet.Observed{FlowID: "a", IsReal: true})
	tr.Observe(packet.Observed{FlowID: "a", IsReal: true})
	assert.True(t, d.IsFlowTracked("a"))
}
