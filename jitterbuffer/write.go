package jitterbuffer

import "github.com/pion/rtp"

// resyncTSJump is the timestamp delta, in RTP clock ticks, past which
// addNode treats a jump as a new stream identity rather than a late
// packet: 5 seconds at a 900kHz video clock.
const resyncTSJump = 5 * 900000

// PutPacket ingests one packet: it updates the write cursor, detects
// discontinuities and records missing sequence numbers for video, then
// stores the packet via addNode. Put operations always succeed; the
// buffer protects itself from overload by evicting its oldest frame
// rather than rejecting writes.
func (b *Buffer) PutPacket(pkt *rtp.Packet) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}

	want := b.nextSeq
	got := pkt.SequenceNumber
	if !b.nextSeqValid {
		want = got
	}

	if b.hasFlag(QueueOnly) || b.typ == Audio {
		b.nextSeq = got + 1
		b.nextSeqValid = true
	} else {
		b.idx.arrived(got)

		if got > want {
			for i := want; i != got; i++ {
				b.idx.markMissing(i)
			}
		}

		if got >= want || uint16(want-got) > 1000 {
			b.nextSeq = got + 1
			b.nextSeqValid = true
		}
	}

	b.addNode(pkt)
	return nil
}

// PushPacket stores a packet via addNode alone, bypassing the
// sequence-gap tracking PutPacket performs. Useful for injecting
// packets whose loss shouldn't be tracked, for example synthetic
// packets in tests.
func (b *Buffer) PushPacket(pkt *rtp.Packet) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	b.addNode(pkt)
	return nil
}

// addNode stores pkt in the node store and updates the write-path
// cursors and frame accounting. Must be called with b.mu held.
func (b *Buffer) addNode(pkt *rtp.Packet) *Node {
	seq := pkt.SequenceNumber
	ts := pkt.Timestamp

	if b.writeInit {
		seqDiff := int32(int16(seq - b.highestWroteSeq))
		if seqDiff < 0 {
			seqDiff = -seqDiff
		}
		tsDiff := int64(ts) - int64(b.highestWroteTS)
		if tsDiff < 0 {
			tsDiff = -tsDiff
		}
		if seqDiff >= int32(b.maxFrameLen) || tsDiff > resyncTSJump {
			b.debugf(2, "change detected, resetting\n")
			b.reset()
			return b.startEpoch(pkt)
		}
	}

	node := b.store.acquire()
	node.Header = pkt.Header
	node.storePayload(pkt.Payload)
	b.idx.insert(node)

	b.debugf(2, "put packet last_ts:%d ts:%d seq:%d\n",
		b.highestWroteTS, ts, seq)

	if !b.writeInit || seqGreaterWithWrap(seq, b.highestWroteSeq) {
		b.highestWroteSeq = seq
	}

	if b.typ == Video {
		if b.writeInit && ts > b.highestWroteTS {
			b.completeFrames++
			b.highestWroteTS = ts
			b.verifyOldestFrame()
		} else if !b.writeInit {
			b.highestWroteTS = ts
		}
	} else {
		if b.writeInit {
			b.completeFrames++
		} else {
			b.highestWroteTS = ts
		}
	}

	if b.stats != nil {
		b.stats.accumulate(ts, node.length)
	}

	if !b.writeInit {
		b.writeInit = true
	}

	if b.completeFrames > b.maxFrameLen+maxFramePadding {
		b.dropOldestFrame()
	}

	return node
}

// startEpoch stores pkt as the first packet of a brand new stream
// epoch, immediately after a resync reset. Unlike an ordinary
// cold-start first packet (which can't yet know whether more packets
// of the same frame are still arriving, so doesn't count a complete
// frame until the next one lands), a resync has already proven the
// previous epoch is gone: this packet is unambiguously both the first
// and, for now, the only frame in the buffer, so it's counted
// immediately.
func (b *Buffer) startEpoch(pkt *rtp.Packet) *Node {
	node := b.store.acquire()
	node.Header = pkt.Header
	node.storePayload(pkt.Payload)
	b.idx.insert(node)

	b.highestWroteSeq = pkt.SequenceNumber
	b.highestWroteTS = pkt.Timestamp
	b.writeInit = true
	b.completeFrames = 1

	if b.stats != nil {
		b.stats.accumulate(pkt.Timestamp, node.length)
	}
	return node
}

// verifyOldestFrame re-sorts the list and checks whether the oldest
// buffered frame can be fully accounted for: a contiguous run of
// sequence numbers ending in a marker bit. Any gap found is recorded
// in the Missing-Sequence index unless QueueOnly is set; if no
// complete frame can be verified at all, the session is asked for a
// keyframe.
func (b *Buffer) verifyOldestFrame() {
	gapSeq, gapFound, complete := b.store.verifyFrame()
	if gapFound && !b.hasFlag(QueueOnly) {
		b.idx.markMissing(gapSeq)
	}
	if !complete && b.session != nil {
		b.session.RequestKeyframe()
	}
}

// dropFrame hides every node carrying ts, removes them from the
// indexes, coalesces the freed slots and decrements completeFrames if
// anything was actually dropped. Used both to evict the oldest frame
// under depth pressure and, on the read path, to discard a frame that
// turns out to have already been delivered.
func (b *Buffer) dropFrame(ts uint32) {
	hidden := b.store.hideTimestamp(ts)
	for _, n := range hidden {
		b.idx.remove(n)
	}
	if len(hidden) > 0 {
		b.store.coalesceFree()
		b.completeFrames--
	}
}

// dropOldestFrame evicts the frame with the smallest timestamp
// currently buffered.
func (b *Buffer) dropOldestFrame() {
	lowest := b.store.findLowestNode()
	if lowest == nil {
		return
	}
	ts := lowest.Header.Timestamp
	b.dropFrame(ts)
	b.debugf(1, "dropping oldest frame ts:%d\n", ts)
}

// storePayload copies payload into n's body buffer, growing it if
// necessary, and records the length.
func (n *Node) storePayload(payload []byte) {
	if cap(n.body) < len(payload) {
		n.body = make([]byte, len(payload))
	}
	n.length = copy(n.body[:cap(n.body)], payload)
}
