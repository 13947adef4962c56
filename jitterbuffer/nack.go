package jitterbuffer

import "github.com/pion/rtcp"

// PopNack scans the missing-sequence index for the smallest pending
// sequence number and, if one exists, reports it together with up to
// sixteen more missing sequence numbers immediately following it,
// encoded as a generic NACK per RFC 4585: the low 16 bits are the
// packet ID, the high 16 bits are a bitmask of additional losses
// relative to it. Every sequence number folded into the result is
// marked reported so a later call won't emit it again on its own,
// though it can still appear inside a later packet's bitmask.
//
// Audio buffers never track missing sequence numbers and always
// report ok == false.
func (b *Buffer) PopNack() (nack uint32, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.typ != Video {
		return 0, false
	}

	var least uint16
	haveLeast := false
	for seq, token := range b.idx.missing {
		if token == missingReported {
			continue
		}
		if !haveLeast || seqCompare(seq, least) < 0 {
			least = seq
			haveLeast = true
		}
	}
	if !haveLeast {
		return 0, false
	}

	b.debugf(3, "found smallest nackable seq %d\n", least)
	b.idx.missing[least] = missingReported

	var blp uint16
	for i := 0; i < 16; i++ {
		candidate := least + uint16(i) + 1
		if _, present := b.idx.missing[candidate]; present {
			b.idx.missing[candidate] = missingReported
			blp |= 1 << uint(i)
			b.debugf(3, "found additional nackable seq %d\n", candidate)
		}
	}

	return uint32(least) | uint32(blp)<<16, true
}

// PopNackPair is PopNack encoded as a pion/rtcp generic NACK pair,
// ready to be appended to an rtcp.TransportLayerNack and sent upstream
// asking for retransmission.
func (b *Buffer) PopNackPair() (rtcp.NackPair, bool) {
	nack, ok := b.PopNack()
	if !ok {
		return rtcp.NackPair{}, false
	}
	return rtcp.NackPair{
		PacketID:    uint16(nack),
		LostPackets: rtcp.PacketBitmap(nack >> 16),
	}, true
}
