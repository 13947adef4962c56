package jitterbuffer

// frameInc adjusts frameLen by delta, clamped to [minFrameLen,
// maxFrameLen], with delta == 0 meaning "snap to minFrameLen". For
// video buffers it also tells the session whether the channel's
// bitrate is currently unmanageable, once frameLen has had to grow
// past its floor. Must be called with b.mu held.
func (b *Buffer) frameInc(delta int) {
	old := b.frameLen

	switch {
	case delta == 0:
		b.frameLen = b.minFrameLen
	case delta > 0:
		grown := b.frameLen + uint32(delta)
		if grown < b.maxFrameLen {
			b.frameLen = grown
		} else {
			b.frameLen = b.maxFrameLen
		}
	default:
		d := uint32(-delta)
		if b.frameLen > d && b.frameLen-d > b.minFrameLen {
			b.frameLen = b.frameLen - d
		} else {
			b.frameLen = b.minFrameLen
		}
	}

	if b.frameLen > b.highestFrameLen {
		b.highestFrameLen = b.frameLen
	}

	if b.typ == Video && b.session != nil {
		unmanageable := b.frameLen > b.minFrameLen
		if unmanageable {
			b.debugf(2, "forcing bitrate to %d bps\n", bitrateHintBps)
		} else {
			b.debugf(2, "allowing bitrate changes\n")
		}
		b.session.SetBitrateUnmanageable(unmanageable, bitrateHintBps)
		b.bitrateUnmanaged = unmanageable
	}

	if old != b.frameLen {
		b.debugf(2, "change framelen from %d to %d\n", old, b.frameLen)
	}
}
