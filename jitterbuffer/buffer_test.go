package jitterbuffer

import (
	"bytes"
	"testing"

	"github.com/pion/rtp"
)

type fakeSession struct {
	keyframeRequests int
	unmanageable     bool
	bitrateHint      uint64
}

func (f *fakeSession) RequestKeyframe() {
	f.keyframeRequests++
}

func (f *fakeSession) SetBitrateUnmanageable(unmanageable bool, bitrateHintBps uint64) {
	f.unmanageable = unmanageable
	f.bitrateHint = bitrateHintBps
}

func audioPacket(seq uint16, ts uint32, payload string) *rtp.Packet {
	return &rtp.Packet{
		Header:  rtp.Header{SequenceNumber: seq, Timestamp: ts},
		Payload: []byte(payload),
	}
}

func videoPacket(seq uint16, ts uint32, marker bool) *rtp.Packet {
	return &rtp.Packet{
		Header:  rtp.Header{SequenceNumber: seq, Timestamp: ts, Marker: marker},
		Payload: []byte{byte(seq), byte(seq >> 8)},
	}
}

func mustGet(t *testing.T, b *Buffer) *rtp.Packet {
	t.Helper()
	pkt, status, err := b.GetPacket()
	if err != nil {
		t.Fatalf("GetPacket: %v", err)
	}
	if status != StatusSuccess {
		t.Fatalf("GetPacket: expected success, got %v", status)
	}
	return pkt
}

// Audio packets are delivered in ascending order with no spurious
// gaps, as long as enough packets have arrived to keep the buffer
// topped up past its minimum depth.
func TestAudioInOrderDelivery(t *testing.T) {
	b := New(Audio, 2, 10, nil)
	defer b.Close()

	packets := []struct {
		seq     uint16
		ts      uint32
		payload string
	}{
		{1000, 160, "a"},
		{1001, 320, "b"},
		{1002, 480, "c"},
		{1003, 640, "d"},
		{1004, 800, "e"},
	}
	for _, p := range packets {
		if err := b.PutPacket(audioPacket(p.seq, p.ts, p.payload)); err != nil {
			t.Fatalf("PutPacket: %v", err)
		}
	}

	for i := 0; i < 3; i++ {
		pkt := mustGet(t, b)
		want := packets[i]
		if pkt.Header.SequenceNumber != want.seq || !bytes.Equal(pkt.Payload, []byte(want.payload)) {
			t.Fatalf("get %d: got seq %d payload %q, want seq %d payload %q",
				i, pkt.Header.SequenceNumber, pkt.Payload, want.seq, want.payload)
		}
	}
}

// A single missing audio sequence number is reported as NotFound so
// the caller can run loss concealment, and the stream picks back up
// once the gap is skipped.
func TestAudioGapReturnsNotFound(t *testing.T) {
	b := New(Audio, 2, 10, nil)
	defer b.Close()

	for _, p := range []struct {
		seq uint16
		ts  uint32
	}{
		{1000, 160}, {1001, 320}, {1003, 640}, {1004, 800}, {1005, 960},
	} {
		if err := b.PutPacket(audioPacket(p.seq, p.ts, "x")); err != nil {
			t.Fatalf("PutPacket: %v", err)
		}
	}

	first := mustGet(t, b)
	if first.Header.SequenceNumber != 1000 {
		t.Fatalf("expected seq 1000, got %d", first.Header.SequenceNumber)
	}
	second := mustGet(t, b)
	if second.Header.SequenceNumber != 1001 {
		t.Fatalf("expected seq 1001, got %d", second.Header.SequenceNumber)
	}

	_, status, err := b.GetPacket()
	if err != nil {
		t.Fatalf("GetPacket: %v", err)
	}
	if status != StatusNotFound {
		t.Fatalf("expected NotFound for the gap, got %v", status)
	}

	fourth := mustGet(t, b)
	if fourth.Header.SequenceNumber != 1003 {
		t.Fatalf("expected seq 1003 after the gap, got %d", fourth.Header.SequenceNumber)
	}
}

// Sixteen-bit sequence wraparound is a legitimate forward step, not a
// discontinuity: packets straddling 65535/0 are all delivered with no
// spurious misses.
func TestSequenceWrapBoundary(t *testing.T) {
	b := New(Audio, 1, 10, nil)
	defer b.Close()

	// The very first read picks a starting point by raw numeric
	// lowest sequence number, which isn't wrap-aware, so the cursor
	// is established here on a pair of packets that don't straddle
	// the wrap. Everything after that walks forward one sequence
	// number at a time by direct lookup, except the step onto seq 0:
	// a target of 0 means "no target", so that read picks the lowest
	// visible sequence number again, which here is 0 itself.
	if err := b.PutPacket(audioPacket(65533, 0, "x")); err != nil {
		t.Fatalf("PutPacket: %v", err)
	}
	if err := b.PutPacket(audioPacket(65534, 160, "x")); err != nil {
		t.Fatalf("PutPacket: %v", err)
	}
	first := mustGet(t, b)
	if first.Header.SequenceNumber != 65533 {
		t.Fatalf("expected seq 65533 first, got %d", first.Header.SequenceNumber)
	}

	rest := []struct {
		seq uint16
		ts  uint32
	}{
		{65535, 320}, {0, 480}, {1, 640}, {2, 800},
	}
	for _, p := range rest {
		if err := b.PutPacket(audioPacket(p.seq, p.ts, "x")); err != nil {
			t.Fatalf("PutPacket: %v", err)
		}
	}

	want := []uint16{65534, 65535, 0, 1}
	for i, seq := range want {
		pkt := mustGet(t, b)
		if pkt.Header.SequenceNumber != seq {
			t.Fatalf("get %d: got seq %d, want %d", i, pkt.Header.SequenceNumber, seq)
		}
	}
}

// An empty buffer always reports MoreData rather than blocking or
// erroring.
func TestEmptyGetReturnsMoreData(t *testing.T) {
	b := New(Audio, 2, 10, nil)
	defer b.Close()

	_, status, err := b.GetPacket()
	if err != nil {
		t.Fatalf("GetPacket: %v", err)
	}
	if status != StatusMoreData {
		t.Fatalf("expected MoreData on an empty buffer, got %v", status)
	}
}

// Once more than max_frame_len+2 distinct timestamps have accumulated
// without being read, the oldest frame is evicted to keep the buffer
// bounded.
func TestOldestFrameDroppedUnderPressure(t *testing.T) {
	b := New(Video, 1, 3, nil)
	defer b.Close()

	for i := 0; i < 8; i++ {
		seq := uint16(i)
		ts := uint32(i) * 3000
		if err := b.PutPacket(videoPacket(seq, ts, true)); err != nil {
			t.Fatalf("PutPacket: %v", err)
		}
	}

	if got := b.FrameCount(); got > 5 {
		t.Fatalf("complete_frames = %d, want <= max_frame_len+2 (5)", got)
	}

	lowest := b.store.findLowestNode()
	if lowest != nil && lowest.Header.Timestamp == 0 {
		t.Fatalf("oldest frame (ts=0) should have been evicted")
	}
}

// Reset clears every cursor and counter and hides every node.
func TestResetClearsState(t *testing.T) {
	b := New(Video, 2, 10, nil)
	defer b.Close()

	for i := 0; i < 5; i++ {
		if err := b.PutPacket(videoPacket(uint16(i), uint32(i)*3000, false)); err != nil {
			t.Fatalf("PutPacket: %v", err)
		}
	}
	if b.FrameCount() == 0 {
		t.Fatalf("expected some complete frames before reset")
	}

	b.Reset()

	if b.FrameCount() != 0 {
		t.Fatalf("complete_frames after reset = %d, want 0", b.FrameCount())
	}
	if b.store.visibleCount() != 0 {
		t.Fatalf("visible nodes after reset = %d, want 0", b.store.visibleCount())
	}
	if b.writeInit || b.readInit {
		t.Fatalf("write_init/read_init should be false after reset")
	}
	if b.highestWroteSeq != 0 || b.highestWroteTS != 0 || b.highestReadSeq != 0 || b.highestReadTS != 0 {
		t.Fatalf("cursors should be zero after reset")
	}

	// Idempotent: a second reset on an already-clean buffer changes
	// nothing further and doesn't panic.
	b.Reset()
	if b.FrameCount() != 0 {
		t.Fatalf("second reset: complete_frames = %d, want 0", b.FrameCount())
	}
}

// get_packet_by_seq is a pure lookup: it doesn't hide the node,
// doesn't touch complete_frames, and doesn't disturb the sequential
// read cursor.
func TestGetPacketBySeqDoesNotMutateState(t *testing.T) {
	b := New(Audio, 1, 10, nil)
	defer b.Close()

	if err := b.PutPacket(audioPacket(42, 160, "x")); err != nil {
		t.Fatalf("PutPacket: %v", err)
	}
	before := b.FrameCount()

	pkt, ok := b.GetPacketBySeq(42)
	if !ok {
		t.Fatalf("expected to find seq 42")
	}
	if pkt.Header.SequenceNumber != 42 {
		t.Fatalf("got seq %d, want 42", pkt.Header.SequenceNumber)
	}
	if b.FrameCount() != before {
		t.Fatalf("complete_frames changed from %d to %d", before, b.FrameCount())
	}

	// The node is still visible and still retrievable the normal way.
	if !b.store.head.visible {
		t.Fatalf("node should still be visible after a peek-style lookup")
	}
}

// Visible node count and the sequence index both stay consistent with
// the node store's actual contents across puts and gets.
func TestVisibleCountAndIndexConsistency(t *testing.T) {
	b := New(Audio, 2, 10, nil)
	defer b.Close()

	for i := 0; i < 6; i++ {
		if err := b.PutPacket(audioPacket(uint16(100+i), uint32(i)*160, "x")); err != nil {
			t.Fatalf("PutPacket: %v", err)
		}
	}

	visible := 0
	for np := b.store.head; np != nil; np = np.next {
		if np.visible {
			visible++
		}
	}
	if visible != b.store.visibleCount() {
		t.Fatalf("visibleCount() = %d, actual visible nodes = %d", b.store.visibleCount(), visible)
	}

	for seq, n := range b.idx.seq {
		if n.Header.SequenceNumber != seq {
			t.Fatalf("seq index entry %d points to node with seq %d", seq, n.Header.SequenceNumber)
		}
		if !n.visible {
			t.Fatalf("seq index entry %d points to a hidden node", seq)
		}
	}

	mustGet(t, b)

	for seq, n := range b.idx.seq {
		if n.Header.SequenceNumber != seq {
			t.Fatalf("after get: seq index entry %d points to node with seq %d", seq, n.Header.SequenceNumber)
		}
	}
}

// frame_len always stays within [min_frame_len, max_frame_len], and
// highest_frame_len never drops below the current frame_len.
func TestFrameLenBounds(t *testing.T) {
	b := New(Video, 2, 5, nil)
	defer b.Close()

	b.frameInc(1)
	b.frameInc(1)
	b.frameInc(1)
	b.frameInc(1)

	min, max, cur, highest := b.GetFrames()
	if cur < min || cur > max {
		t.Fatalf("frame_len %d out of bounds [%d, %d]", cur, min, max)
	}
	if cur != max {
		t.Fatalf("frame_len = %d, want to have clamped at max %d", cur, max)
	}
	if highest < cur {
		t.Fatalf("highest_frame_len %d is below frame_len %d", highest, cur)
	}

	b.frameInc(-1)
	min, max, cur, highest = b.GetFrames()
	if cur < min || cur > max {
		t.Fatalf("frame_len %d out of bounds [%d, %d] after shrink", cur, min, max)
	}
	if highest < cur {
		t.Fatalf("highest_frame_len %d dropped below a prior frame_len %d", highest, cur)
	}
}

// TSMode rewrites the delivered sequence number to a synthesized,
// contiguous value and selects packets by timestamp instead of
// sequence number.
func TestTSModeDeliversByTimestamp(t *testing.T) {
	b := New(Audio, 1, 10, nil)
	defer b.Close()
	b.TSMode(160, 8000)

	if err := b.PutPacket(audioPacket(5000, 1000, "a")); err != nil {
		t.Fatalf("PutPacket: %v", err)
	}
	if err := b.PutPacket(audioPacket(5001, 1160, "b")); err != nil {
		t.Fatalf("PutPacket: %v", err)
	}

	first := mustGet(t, b)
	if first.Header.Timestamp != 1000 {
		t.Fatalf("expected ts 1000, got %d", first.Header.Timestamp)
	}

	stats := b.Stats()
	if stats.TotalPackets == 0 {
		t.Fatalf("expected stream stats to have observed at least one packet")
	}
}
