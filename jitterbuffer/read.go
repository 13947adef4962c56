package jitterbuffer

import "github.com/pion/rtp"

// jbHit records that the read path found the packet it was looking
// for, resetting the run of consecutive misses.
func (b *Buffer) jbHit() {
	b.periodGoodCount++
	b.consecGoodCount++
	b.consecMissCount = 0
}

// jbMiss records that the read path failed to find the packet it was
// looking for, resetting the run of consecutive hits.
func (b *Buffer) jbMiss() {
	b.periodMissCount++
	b.consecMissCount++
	b.consecGoodCount = 0
}

func (b *Buffer) incrementSeq() {
	b.targetSeq++
}

func (b *Buffer) setReadSeq(seq uint16) {
	b.lastTargetSeq = seq
	b.targetSeq = seq + 1
}

func (b *Buffer) incrementTS() {
	if !b.targetTSValid {
		return
	}
	b.targetTS += b.samplesPerFrame
	b.pseudoSeq++
}

func (b *Buffer) setReadTS(ts uint32) {
	b.lastTargetTS = ts
	b.targetTS = b.lastTargetTS + b.samplesPerFrame
	b.targetTSValid = true
	b.pseudoSeq++
}

// nextPacketBySeq walks the sequence-number index looking for the
// packet the read cursor currently wants. On a video buffer it also
// handles the aftermath of a dropped frame: resyncing the cursor,
// asking for a keyframe, and tolerating a run of up to ten missing
// sequence numbers before giving up, discarding any later packet of
// the same already-delivered frame it stumbles across along the way.
// Must be called with b.mu held.
func (b *Buffer) nextPacketBySeq() (*Node, Status) {
	for {
		if b.typ == Video && b.dropped > 0 {
			b.dropped = 0
			b.debugf(2, "dropped frame detected, resyncing\n")
			b.targetSeq = 0
			b.frameInc(1)
			if b.session != nil {
				b.session.RequestKeyframe()
			}
		}

		var node *Node

		if b.targetSeq == 0 {
			node = b.store.findLowestSeq(0, false)
			if node != nil {
				b.debugf(2, "no target seq, using seq %d as starting point\n", node.Header.SequenceNumber)
			} else {
				b.debugf(1, "no nodes available\n")
			}
			b.jbHit()
		} else if n := b.idx.seq[b.targetSeq]; n != nil {
			b.debugf(2, "found desired seq %d\n", b.targetSeq)
			node = n
			b.jbHit()
		} else {
			b.debugf(2, "missing desired seq %d\n", b.targetSeq)
			b.jbMiss()

			if b.typ == Video {
				if b.session != nil {
					b.session.RequestKeyframe()
				}

				restarted := false
				for x := 0; x < 10; x++ {
					b.incrementSeq()
					if n := b.idx.seq[b.targetSeq]; n != nil {
						b.debugf(2, "found incremental seq %d\n", b.targetSeq)
						if n.Header.Marker || n.Header.Timestamp == b.highestReadTS {
							b.debugf(2, "same frame, dropping\n")
							b.dropped++
							b.dropFrame(n.Header.Timestamp)
							restarted = true
							break
						}
						node = n
						break
					}
					b.debugf(2, "missing incremental seq %d\n", b.targetSeq)
				}
				if restarted {
					continue
				}
			} else {
				b.incrementSeq()
			}
		}

		if node != nil {
			b.setReadSeq(node.Header.SequenceNumber)
			return node, StatusSuccess
		}
		return nil, StatusNotFound
	}
}

// nextPacketByTS is nextPacketBySeq's counterpart for ts-mode buffers:
// it walks the timestamp index instead, and rewrites the delivered
// node's sequence number to the synthesized, strictly increasing
// pseudoSeq so that downstream consumers still see a contiguous
// sequence space. Must be called with b.mu held.
func (b *Buffer) nextPacketByTS() (*Node, Status) {
	var node *Node

	if !b.targetTSValid {
		node = b.store.findLowestNode()
		if node != nil {
			b.debugf(2, "no target ts, using ts %d as starting point\n", node.Header.Timestamp)
		} else {
			b.debugf(1, "no nodes available\n")
		}
		b.jbHit()
	} else if n := b.idx.ts[b.targetTS]; n != nil {
		b.debugf(2, "found desired ts %d\n", b.targetTS)
		node = n
		b.jbHit()
	} else {
		b.debugf(2, "missing desired ts %d\n", b.targetTS)
		b.jbMiss()
		b.incrementTS()
	}

	if node != nil {
		b.setReadTS(node.Header.Timestamp)
		node.Header.SequenceNumber = b.pseudoSeq
		return node, StatusSuccess
	}
	return nil, StatusNotFound
}

// nextPacket dispatches to the ts-mode or seq-mode search depending on
// whether TSMode has been enabled.
func (b *Buffer) nextPacket() (*Node, Status) {
	if b.samplesPerFrame != 0 {
		return b.nextPacketByTS()
	}
	return b.nextPacketBySeq()
}

// GetPacket returns the next packet ready for delivery. StatusMoreData
// means the caller should wait and retry; StatusNotFound means the
// expected packet is missing and the caller should perform loss
// concealment (audio) or keep waiting for a recovered keyframe
// (video); StatusRestart means the buffer reset itself internally and
// the caller should resynchronize.
func (b *Buffer) GetPacket() (*rtp.Packet, Status, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, StatusNotFound, ErrClosed
	}

	b.debugf(2, "get packet %d/%d n:%d\n", b.completeFrames, b.frameLen, b.store.visibleCount())

	if b.completeFrames < b.frameLen {
		b.debugf(2, "buffering %d/%d\n", b.completeFrames, b.frameLen)
		return nil, StatusMoreData, nil
	}

	b.periodCount++
	if b.periodCount >= periodLen {
		if b.consecGoodCount >= periodLen-5 {
			b.frameInc(-1)
		}
		b.periodCount = 1
		b.periodMissCount = 0
		b.periodGoodCount = 0
		b.consecMissCount = 0
		b.consecGoodCount = 0
	}
	if b.periodCount > 0 {
		b.periodMissPct = float64(b.periodMissCount) / float64(b.periodCount) * 100
	}

	node, status := b.nextPacket()

	if status == StatusSuccess {
		seq := node.Header.SequenceNumber
		if !b.readInit || seqGreaterWithWrap(seq, b.highestReadSeq) {
			b.highestReadSeq = seq
		}

		if b.readInit && seq >= b.highestReadSeq && node.Header.Timestamp > b.highestReadTS {
			b.completeFrames--
			b.debugf(2, "read frame ts:%d complete=%d/%d n:%d\n",
				node.Header.Timestamp, b.completeFrames, b.frameLen, b.store.visibleCount())
			b.highestReadTS = node.Header.Timestamp
		} else if !b.readInit {
			b.highestReadTS = node.Header.Timestamp
		}

		if !b.readInit {
			b.readInit = true
		}
	} else {
		if b.typ == Video {
			b.reset()
			b.frameInc(1)

			switch status {
			case StatusRestart:
				b.debugf(2, "error encountered, ask for new keyframe\n")
				return nil, StatusRestart, nil
			default:
				b.debugf(2, "no frames found, wait for more\n")
				return nil, StatusMoreData, nil
			}
		}

		switch status {
		case StatusRestart:
			b.debugf(2, "error encountered\n")
			b.reset()
			return nil, StatusRestart, nil
		default:
			if b.consecMissCount > b.frameLen {
				b.reset()
				b.frameInc(1)
				b.debugf(2, "too many frames not found, resize\n")
				return nil, StatusRestart, nil
			}
			b.debugf(2, "frame not found, suggest loss concealment\n")
			return nil, StatusNotFound, nil
		}
	}

	if node == nil {
		return nil, StatusMoreData, nil
	}

	pkt := &rtp.Packet{
		Header:  node.Header,
		Payload: append([]byte(nil), node.Payload()...),
	}
	b.lastReadLen = len(pkt.Payload)
	b.idx.remove(node)
	b.store.hide(node, true)

	b.debugf(1, "get packet ts:%d seq:%d marker:%v\n", pkt.Header.Timestamp, pkt.Header.SequenceNumber, pkt.Header.Marker)

	return pkt, StatusSuccess, nil
}

// GetPacketBySeq returns the buffered packet carrying seq without
// removing it from the buffer or advancing any read cursor. Useful
// for retransmission lookups driven by an externally received NACK,
// independent of the normal read path.
func (b *Buffer) GetPacketBySeq(seq uint16) (*rtp.Packet, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	node := b.idx.seq[seq]
	if node == nil {
		b.debugf(2, "missing buffered seq %d\n", seq)
		return nil, false
	}
	b.debugf(2, "found buffered seq %d\n", seq)
	return &rtp.Packet{
		Header:  node.Header,
		Payload: append([]byte(nil), node.Payload()...),
	}, true
}

// Frame is the information PeekFrame reports about a buffered packet
// without removing it from the buffer.
type Frame struct {
	SequenceNumber uint16
	Timestamp      uint32
	Marker         bool
	Payload        []byte
}

// PeekFrame looks peek frames ahead of seq (in seq-mode) or ahead of ts
// by peek*samplesPerFrame (in ts-mode), without disturbing the read
// cursor or hiding anything. Exactly one of seq or ts should be
// non-zero, matching the original's seq-takes-precedence rule.
func (b *Buffer) PeekFrame(ts uint32, seq uint16, peek int) (Frame, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var node *Node
	if seq != 0 {
		wantSeq := seq + uint16(peek)
		node = b.idx.seq[wantSeq]
	} else if ts != 0 && b.samplesPerFrame != 0 {
		wantTS := ts + uint32(peek)*b.samplesPerFrame
		node = b.idx.ts[wantTS]
	}

	if node == nil {
		return Frame{}, false
	}
	return Frame{
		SequenceNumber: node.Header.SequenceNumber,
		Timestamp:      node.Header.Timestamp,
		Marker:         node.Header.Marker,
		Payload:        append([]byte(nil), node.Payload()...),
	}, true
}
