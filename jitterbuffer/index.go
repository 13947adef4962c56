package jitterbuffer

// missingToken marks the state of a sequence number in the
// Missing-Sequence index: pending entries haven't been reported in a
// NACK yet, reported ones have and are kept around so a poll doesn't
// re-emit the same loss every call.
type missingToken int

const (
	missingPending missingToken = iota
	missingReported
)

// indexes bundles the three lookup structures a Buffer maintains
// alongside the node store: sequence number to node, optionally
// timestamp to node, and (video only) missing sequence number to
// token. All three are guarded by the buffer mutex, not the list
// mutex, since they are logically part of the buffer's bookkeeping
// rather than the list's structure.
type indexes struct {
	seq     map[uint16]*Node
	ts      map[uint32]*Node // nil unless ts-mode is enabled
	missing map[uint16]missingToken
}

func newIndexes(video bool) *indexes {
	idx := &indexes{
		seq: make(map[uint16]*Node),
	}
	if video {
		idx.missing = make(map[uint16]missingToken)
	}
	return idx
}

func (idx *indexes) enableTSMode() {
	if idx.ts == nil {
		idx.ts = make(map[uint32]*Node)
	}
}

func (idx *indexes) insert(n *Node) {
	idx.seq[n.Header.SequenceNumber] = n
	if idx.ts != nil {
		idx.ts[n.Header.Timestamp] = n
	}
}

func (idx *indexes) remove(n *Node) {
	delete(idx.seq, n.Header.SequenceNumber)
	if idx.ts != nil {
		delete(idx.ts, n.Header.Timestamp)
	}
}

func (idx *indexes) reset() {
	idx.seq = make(map[uint16]*Node)
	if idx.ts != nil {
		idx.ts = make(map[uint32]*Node)
	}
	if idx.missing != nil {
		idx.missing = make(map[uint16]missingToken)
	}
}

// markMissing inserts seq into the Missing-Sequence index as pending,
// unless the packet is already known (present in seq) or already
// tracked as missing.
func (idx *indexes) markMissing(seq uint16) {
	if idx.missing == nil {
		return
	}
	if _, ok := idx.seq[seq]; ok {
		return
	}
	if _, ok := idx.missing[seq]; ok {
		return
	}
	idx.missing[seq] = missingPending
}

// arrived removes seq from the Missing-Sequence index: the packet has
// now been seen.
func (idx *indexes) arrived(seq uint16) {
	if idx.missing == nil {
		return
	}
	delete(idx.missing, seq)
}

// seqCompare compares two 16-bit sequence numbers modulo 2^16,
// returning -1, 0 or 1, correctly ordering across a wraparound.
func seqCompare(a, b uint16) int {
	if a == b {
		return 0
	}
	if (b-a)&0x8000 != 0 {
		return 1
	}
	return -1
}

// seqGreaterWithWrap reports whether new should replace a "highest
// seen" cursor currently at prev, honouring the 16-bit wrap rule: a
// jump from near 65535 down to a value at or below 10 is a legitimate
// forward step, not regression.
func seqGreaterWithWrap(newSeq, prev uint16) bool {
	if newSeq > prev {
		return true
	}
	if prev > 0xFFFF-10 && newSeq <= 10 {
		return true
	}
	return false
}
