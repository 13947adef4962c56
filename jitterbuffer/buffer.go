package jitterbuffer

import "sync"

// periodLen is the number of GetPacket calls that make up one
// hit/miss statistics period, after which the depth controller may
// shrink the buffer.
const periodLen = 500

// maxFramePadding is how far complete_frames is allowed to run past
// max_frame_len before the oldest frame is dropped.
const maxFramePadding = 2

// Buffer is a jitter buffer for one RTP stream. All exported methods
// except Stats lock mu for their full duration (the buffer mutex);
// Stats holds it only while reading the stats pointer. Internal helpers
// that touch the node list go through store, which owns its own,
// independent list mutex.
type Buffer struct {
	mu sync.Mutex

	typ   Type
	flags Flag

	store *nodeStore
	idx   *indexes

	session Session

	// depth controller
	frameLen         uint32
	minFrameLen      uint32
	maxFrameLen      uint32
	highestFrameLen  uint32
	bitrateUnmanaged bool

	// write-path cursors
	nextSeq         uint16
	nextSeqValid    bool
	highestWroteSeq uint16
	highestWroteTS  uint32
	writeInit       bool

	// read-path cursors
	targetSeq     uint16
	lastTargetSeq uint16
	targetTS      uint32
	targetTSValid bool
	lastTargetTS  uint32
	pseudoSeq     uint16
	highestReadSeq uint16
	highestReadTS  uint32
	readInit       bool
	dropped        int
	lastReadLen    int

	completeFrames uint32

	// ts-mode
	samplesPerFrame  uint32
	samplesPerSecond uint32

	// hit/miss statistics
	periodCount     uint32
	periodMissCount uint32
	periodGoodCount uint32
	consecMissCount uint32
	consecGoodCount uint32
	periodMissPct   float64

	stats *streamStats

	debugLevel int
	closed     bool
}

// New creates a jitter buffer of the given type with the given
// minimum and maximum depth, in frames. If pool is nil, the buffer
// creates and owns a default one.
func New(typ Type, minFrameLen, maxFrameLen uint32, pool Pool) *Buffer {
	b := &Buffer{
		typ:             typ,
		store:           newNodeStore(pool),
		idx:             newIndexes(typ == Video),
		frameLen:        minFrameLen,
		minFrameLen:     minFrameLen,
		maxFrameLen:     maxFrameLen,
		highestFrameLen: minFrameLen,
	}
	return b
}

// Close releases the indexes, the node store's buffers and, if the
// buffer created its own pool, that pool too. Nodes are otherwise
// never destroyed by anything short of Close: Reset merely hides them.
func (b *Buffer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	b.store.release()
	b.idx = nil
	return nil
}

// SetSession attaches the session sink used for keyframe requests and
// bitrate hints. Only meaningful for video buffers.
func (b *Buffer) SetSession(s Session) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.session = s
}

// TSMode enables timestamp indexing: GetPacket selects the next
// packet by timestamp rather than sequence number, and rewrites the
// delivered packet's sequence number to a synthesized, contiguous
// pseudoSeq.
func (b *Buffer) TSMode(samplesPerFrame, samplesPerSecond uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.samplesPerFrame = samplesPerFrame
	b.samplesPerSecond = samplesPerSecond
	b.idx.enableTSMode()
	if b.stats == nil {
		b.stats = newStreamStats(samplesPerSecond)
	}
}

// SetFlag sets behavioural flags such as QueueOnly.
func (b *Buffer) SetFlag(f Flag) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.flags |= f
}

// ClearFlag clears behavioural flags.
func (b *Buffer) ClearFlag(f Flag) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.flags &^= f
}

func (b *Buffer) hasFlag(f Flag) bool {
	return b.flags&f != 0
}

// DebugLevel sets the internal logging verbosity; 0 disables it.
func (b *Buffer) DebugLevel(level int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.debugLevel = level
}

// SetFrames updates the minimum and maximum depth, clamping the
// current depth into the new range.
func (b *Buffer) SetFrames(minFrameLen, maxFrameLen uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.minFrameLen = minFrameLen
	b.maxFrameLen = maxFrameLen
	if b.frameLen > b.maxFrameLen {
		b.frameLen = b.maxFrameLen
	}
	if b.frameLen < b.minFrameLen {
		b.frameLen = b.minFrameLen
	}
	if b.frameLen > b.highestFrameLen {
		b.highestFrameLen = b.frameLen
	}
}

// GetFrames returns the minimum, maximum, current and highest-ever
// depth, in frames.
func (b *Buffer) GetFrames() (minFrameLen, maxFrameLen, frameLen, highestFrameLen uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.minFrameLen, b.maxFrameLen, b.frameLen, b.highestFrameLen
}

// Poll reports whether the buffer holds at least frame_len complete
// frames and is ready to be read from.
func (b *Buffer) Poll() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.completeFrames >= b.frameLen
}

// FrameCount returns the number of frames currently considered ready
// for delivery.
func (b *Buffer) FrameCount() uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.completeFrames
}

// GetLastReadLen returns the payload length of the last packet
// delivered by GetPacket.
func (b *Buffer) GetLastReadLen() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastReadLen
}

// Stats returns a snapshot of the jitter and rate observability
// counters. Only populated once TSMode has been called; the zero
// value is returned otherwise.
func (b *Buffer) Stats() Stats {
	b.mu.Lock()
	stats := b.stats
	b.mu.Unlock()

	if stats == nil {
		return Stats{}
	}
	jitter := stats.Jitter()
	byteRate, packetRate := stats.Rates()
	totalBytes, totalPackets := stats.Totals()
	return Stats{
		Jitter:       jitter,
		ByteRate:     byteRate,
		PacketRate:   packetRate,
		TotalBytes:   totalBytes,
		TotalPackets: totalPackets,
	}
}

// Reset clears all cursors and counters, re-initializes the
// missing-sequence index for video buffers, and hides every node.
// Node allocations are not released; Close is what returns them to
// the pool.
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reset()
}

// reset must be called with b.mu held.
func (b *Buffer) reset() {
	b.debugf(2, "reset buffer\n")

	b.idx.reset()

	b.lastTargetSeq = 0
	b.targetSeq = 0
	b.writeInit = false
	b.highestWroteSeq = 0
	b.highestWroteTS = 0
	b.nextSeq = 0
	b.nextSeqValid = false
	b.highestReadTS = 0
	b.highestReadSeq = 0
	b.completeFrames = 0
	b.readInit = false
	b.periodMissCount = 0
	b.consecMissCount = 0
	b.periodMissPct = 0
	b.periodGoodCount = 0
	b.consecGoodCount = 0
	b.periodCount = 0
	b.targetTS = 0
	b.targetTSValid = false
	b.lastTargetTS = 0
	b.dropped = 0

	b.store.hideAll()
}
