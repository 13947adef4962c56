package jitterbuffer

import (
	"sync"

	"github.com/pionmedia/jitterbuffer/rtptime"
)

// streamStats is pure observability: an RFC 3550 style jitter
// estimator folded together with a packet/byte rate estimator, fed
// from the write path and exposed read-only through Buffer.Stats. It
// changes no put/get/NACK semantics; a production jitter buffer
// without any visibility into jitter or throughput would be an odd
// thing to ship.
type streamStats struct {
	hz uint32

	mu sync.Mutex

	// jitter estimation state
	lastTimestamp uint32
	lastArrival   uint32
	jitter        uint32

	// rate estimation state
	intervalJiffies uint64
	windowStart     uint64
	windowBytes     uint32
	windowPackets   uint32
	totalBytes      uint64
	totalPackets    uint64
	byteRate        uint32
	packetRate      uint32
}

func newStreamStats(hz uint32) *streamStats {
	return &streamStats{
		hz:              hz,
		intervalJiffies: rtptime.JiffiesPerSec,
	}
}

// accumulate records one freshly-written packet's timestamp and
// payload length.
func (s *streamStats) accumulate(timestamp uint32, payloadLen int) {
	now := uint32(rtptime.Now(s.hz))

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lastArrival != 0 || s.lastTimestamp != 0 {
		d := int32((now - s.lastArrival) - (timestamp - s.lastTimestamp))
		if d < 0 {
			d = -d
		}
		s.jitter = (s.jitter*15 + uint32(d)) / 16
	}
	s.lastTimestamp = timestamp
	s.lastArrival = now

	jiffies := rtptime.Now(rtptime.JiffiesPerSec)
	if s.windowStart == 0 {
		s.windowStart = jiffies
	}
	if jiffies-s.windowStart >= s.intervalJiffies {
		s.swap(jiffies)
	}
	if s.windowBytes < ^uint32(0)-uint32(payloadLen) {
		s.windowBytes += uint32(payloadLen)
	}
	if s.windowPackets < ^uint32(0)-1 {
		s.windowPackets++
	}
}

// swap must be called with s.mu held.
func (s *streamStats) swap(now uint64) {
	elapsed := now - s.windowStart
	bytes, packets := s.windowBytes, s.windowPackets
	s.windowBytes, s.windowPackets = 0, 0
	s.totalBytes += uint64(bytes)
	s.totalPackets += uint64(packets)

	var byteRate, packetRate uint32
	if elapsed >= rtptime.JiffiesPerSec/1000 {
		byteRate = uint32((uint64(bytes)*rtptime.JiffiesPerSec + elapsed/2) / elapsed)
		packetRate = uint32((uint64(packets)*rtptime.JiffiesPerSec + elapsed/2) / elapsed)
	}
	s.byteRate, s.packetRate = byteRate, packetRate
	s.windowStart = now
}

// Jitter returns the current jitter estimate, in units of 1/hz
// seconds.
func (s *streamStats) Jitter() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jitter
}

// Rates returns the current byte and packet rates, per second, over
// the last completed one-second window.
func (s *streamStats) Rates() (byteRate, packetRate uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byteRate, s.packetRate
}

// Totals returns the lifetime byte and packet counts accumulated.
func (s *streamStats) Totals() (bytes, packets uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalBytes + uint64(s.windowBytes), s.totalPackets + uint64(s.windowPackets)
}

// Stats is a snapshot of the observability counters maintained
// alongside a Buffer. None of these fields affect put/get/NACK
// behaviour.
type Stats struct {
	Jitter       uint32
	ByteRate     uint32
	PacketRate   uint32
	TotalBytes   uint64
	TotalPackets uint64
}
