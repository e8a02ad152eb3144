// Package pcapsource is the optional packet-capture front end: it adapts a
// live interface or an offline capture file into the stream of
// packet.Observed records the detection core consumes. It is explicitly out
// of core scope (the spec treats "how the environment captures packets" as
// an external concern) but is wired here the way the teacher wires its own
// pcap front end, so the module can actually be pointed at traffic.
//
// Ported from pcap/pcap.go and pcap/clock.go: the done-channel capture loop
// and the wrapped buffered packet channel are carried over structurally;
// there is no interface-address lookup. Flow identification and packet decoding are
// new, built for Penny's TCP-flow model instead of the teacher's HTTP/gRPC
// API-traffic model.
package pcapsource

import (
	"fmt"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
	"github.com/pkg/errors"

	"github.com/pennylab/penny/packet"
	"github.com/pennylab/penny/printer"
)

const defaultSnapLen = 262144

// Source yields decoded packets from a live interface or an offline capture
// file.
type Source struct {
	handle *pcap.Handle
}

// OpenLive starts capturing on interfaceName, optionally restricted by a BPF
// filter.
func OpenLive(interfaceName, bpfFilter string) (*Source, error) {
	handle, err := pcap.OpenLive(interfaceName, defaultSnapLen, true, pcap.BlockForever)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open pcap on %s", interfaceName)
	}
	if bpfFilter != "" {
		if err := handle.SetBPFFilter(bpfFilter); err != nil {
			handle.Close()
			return nil, errors.Wrap(err, "failed to set BPF filter")
		}
	}
	return &Source{handle: handle}, nil
}

// OpenOffline replays a previously captured file, for reproducible test
// runs and offline analysis.
func OpenOffline(path string) (*Source, error) {
	handle, err := pcap.OpenOffline(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open capture file %s", path)
	}
	return &Source{handle: handle}, nil
}

// Close releases the underlying capture handle.
func (s *Source) Close() {
	if s.handle != nil {
		s.handle.Close()
	}
}

// Packets returns a channel of decoded packets. The channel closes when done
// fires or the underlying capture ends.
func (s *Source) Packets(done <-chan struct{}) <-chan packet.Observed {
	packetSource := gopacket.NewPacketSource(s.handle, s.handle.LinkType())
	raw := packetSource.Packets()

	out := make(chan packet.Observed, 64)
	go func() {
		defer close(out)

		startTime := time.Now()
		count := 0
		for {
			select {
			case <-done:
				return
			case pkt, ok := <-raw:
				if !ok {
					return
				}
				observed, ok := Decode(pkt)
				if ok {
					out <- observed
				}
				if count == 0 {
					printer.Debugf("time to first packet: %s\n", time.Since(startTime))
				}
				count++
			}
		}
	}()
	return out
}

// Decode extracts the fields the detection core needs from a captured
// packet, deriving a flow identifier from the TCP/IP 4-tuple. It reports
// false for any packet without both an IPv4 and a TCP layer.
func Decode(pkt gopacket.Packet) (packet.Observed, bool) {
	ipLayer := pkt.Layer(layers.LayerTypeIPv4)
	tcpLayer := pkt.Layer(layers.LayerTypeTCP)
	if ipLayer == nil || tcpLayer == nil {
		return packet.Observed{}, false
	}
	ip := ipLayer.(*layers.IPv4)
	tcp := tcpLayer.(*layers.TCP)

	return packet.Observed{
		Seq:         tcp.Seq,
		Ack:         tcp.Ack,
		PayloadSize: uint32(len(tcp.Payload)),
		FlowID:      flowID(ip.SrcIP.String(), ip.DstIP.String(), uint16(tcp.SrcPort), uint16(tcp.DstPort)),
		SYN:         tcp.SYN,
		IsReal:      true,
	}, true
}

func flowID(srcIP, dstIP string, srcPort, dstPort uint16) string {
	return fmt.Sprintf("%s:%d-%s:%d", srcIP, srcPort, dstIP, dstPort)
}

// DropActuator enforces a drop decision. Actual packet-drop enforcement
// (an nftables rule, a kernel hook, a simulator callback) is host- and
// environment-specific and out of this package's scope; the default
// actuator only logs the intent, matching the spec's "failures in
// actuation are opaque to the core" contract.
type DropActuator interface {
	Drop(packetID string) error
}

// LoggingDropActuator logs every drop request without enforcing it. Useful
// for dry runs and for environments (replayed capture files) where
// enforcement is meaningless.
type LoggingDropActuator struct{}

func (LoggingDropActuator) Drop(packetID string) error {
	printer.Infof("would drop packet %s\n", packetID)
	return nil
}
