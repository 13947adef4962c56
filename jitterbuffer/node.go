package jitterbuffer

import (
	"sync"

	"github.com/pion/rtp"
)

// BufSize is the largest RTP payload a Node can hold without growing
// its buffer, chosen generously above a typical MTU-sized payload.
const BufSize = 1500

// Node is one packet slot in the node store: the full RTP header as
// received, a reusable body buffer with a recorded length, and a
// visibility flag marking whether the slot currently holds a live
// packet or is free for reuse.
type Node struct {
	Header  rtp.Header
	body    []byte
	length  int
	visible bool
	badHits int // reserved for future packet-quality accounting; never read, only cleared to zero

	prev, next *Node
}

// Payload returns the stored packet body, valid only until the node is
// next reused.
func (n *Node) Payload() []byte {
	return n.body[:n.length]
}

// Pool supplies and reclaims the byte buffers backing node slots. This
// package only ever calls Get/Put on it, never manages an arena
// itself. A nil Pool passed to New causes the buffer to create and own
// a default one.
type Pool interface {
	Get() []byte
	Put(buf []byte)
}

// syncPool is the default Pool, backed by sync.Pool.
type syncPool struct {
	p sync.Pool
}

// NewPool returns a Pool allocating fixed BufSize-capacity slices.
func NewPool() Pool {
	sp := &syncPool{}
	sp.p.New = func() any {
		return make([]byte, BufSize)
	}
	return sp
}

func (sp *syncPool) Get() []byte {
	return sp.p.Get().([]byte)
}

func (sp *syncPool) Put(buf []byte) {
	sp.p.Put(buf[:cap(buf)])
}

// nodeStore is the intrusive doubly linked list of node slots backing
// a Buffer. It owns the list mutex; callers that also hold the buffer
// mutex must take it as the outer lock and call into nodeStore as the
// inner one.
type nodeStore struct {
	mu           sync.Mutex
	head         *Node
	visibleNodes int
	pool         Pool
	ownsPool     bool
}

func newNodeStore(pool Pool) *nodeStore {
	owns := false
	if pool == nil {
		pool = NewPool()
		owns = true
	}
	return &nodeStore{pool: pool, ownsPool: owns}
}

// acquire finds the first free slot, or allocates a new one at the
// head of the list if none is free, and marks it visible.
func (s *nodeStore) acquire() *Node {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n *Node
	for np := s.head; np != nil; np = np.next {
		if !np.visible {
			n = np
			break
		}
	}

	if n == nil {
		n = &Node{body: s.pool.Get()}
		n.next = s.head
		if n.next != nil {
			n.next.prev = n
		}
		s.head = n
	}

	n.visible = true
	n.badHits = 0
	s.visibleNodes++
	return n
}

// pushToTop detaches node and relinks it as the new head. Must be
// called with s.mu held.
func (s *nodeStore) pushToTop(n *Node) {
	if n == s.head {
		return
	}
	if n.prev != nil {
		n.prev.next = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	}

	n.next = s.head
	n.prev = nil
	if n.next != nil {
		n.next.prev = n
	}
	s.head = n
}

// hide marks node free. If pop is set, the node is also moved to the
// head of the list as a fast-recycle hint for the next acquire.
func (s *nodeStore) hide(n *Node, pop bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n.visible {
		n.visible = false
		n.badHits = 0
		s.visibleNodes--
		if pop {
			s.pushToTop(n)
		}
	}
}

// hideAll hides every node in the list; used by Reset.
func (s *nodeStore) hideAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for np := s.head; np != nil; np = np.next {
		if np.visible {
			np.visible = false
			np.badHits = 0
			s.visibleNodes--
		}
	}
}

// coalesceFree walks the list and pushes every free slot found after
// the first visible one to the head, so free slots cluster for O(1)
// amortized reuse on the next acquire.
func (s *nodeStore) coalesceFree() {
	s.mu.Lock()
	defer s.mu.Unlock()

	seenVisible := false
	np := s.head
	for np != nil {
		this := np
		np = np.next
		if this.visible {
			seenVisible = true
		}
		if seenVisible && !this.visible {
			s.pushToTop(this)
		}
	}
}

// nodeLess orders visible nodes ahead of free ones, and orders visible
// nodes against each other by ascending raw sequence number. Comparing
// raw sequence numbers, rather than wrap-aware comparison, is
// intentional: call sites only ever sort small, recently-written
// spans, never a full 16-bit cycle, so a wraparound within one sorted
// span isn't a case worth paying for.
func nodeLess(a, b *Node) bool {
	if a.visible != b.visible {
		return a.visible
	}
	if !a.visible {
		return false
	}
	return a.Header.SequenceNumber < b.Header.SequenceNumber
}

// sort performs a stable merge sort of the list using nodeLess,
// rebuilding prev links afterwards. This is a direct port of the
// teacher's bottom-up iterative merge sort, adapted to the Node type.
func (s *nodeStore) sort() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sortLocked()
}

// sortLocked is sort without taking s.mu; callers must hold it.
func (s *nodeStore) sortLocked() {
	head := s.head
	blockSize := 1
	for {
		l, r := head, head
		var newHead, tail *Node
		blockCount := 0

		for l != nil {
			lSize := 0
			for ; lSize < blockSize && r != nil; lSize++ {
				r = r.next
			}
			rSize := blockSize

			lEmpty := lSize == 0
			rEmpty := rSize == 0 || r == nil
			for !lEmpty || !rEmpty {
				var pick *Node
				if rEmpty || (!lEmpty && !nodeLess(r, l)) {
					pick = l
					l = l.next
					lSize--
					lEmpty = lSize == 0
				} else {
					pick = r
					r = r.next
					rSize--
					rEmpty = rSize == 0 || r == nil
				}

				if tail == nil {
					newHead = pick
				} else {
					tail.next = pick
				}
				tail = pick
			}
			blockCount++
			l = r
		}
		if tail != nil {
			tail.next = nil
		}
		head = newHead
		blockSize <<= 1
		if blockCount <= 1 {
			break
		}
	}

	var prev *Node
	for np := head; np != nil; np = np.next {
		np.prev = prev
		prev = np
	}
	s.head = head
}

// verifyFrame sorts the list, then walks forward from the
// lowest-timestamp frame's lowest-sequence packet, looking for the
// first gap in an otherwise contiguous run of sequence numbers. It
// returns the first missing
// sequence number found (if any) and whether a complete frame --
// ending in a marker bit -- could be verified. The whole operation
// runs under a single lock so a concurrent hide (from the read path)
// can't observe a half-sorted list.
func (s *nodeStore) verifyFrame() (gapSeq uint16, gapFound bool, complete bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sortLocked()

	var lowestTSNode *Node
	for np := s.head; np != nil; np = np.next {
		if !np.visible {
			continue
		}
		if lowestTSNode == nil || np.Header.Timestamp < lowestTSNode.Header.Timestamp {
			lowestTSNode = np
		}
	}
	if lowestTSNode == nil {
		return 0, false, false
	}

	var lowest *Node
	for np := s.head; np != nil; np = np.next {
		if !np.visible || np.Header.Timestamp != lowestTSNode.Header.Timestamp {
			continue
		}
		if lowest == nil || np.Header.SequenceNumber < lowest.Header.SequenceNumber {
			lowest = np
		}
	}
	if lowest == nil {
		return 0, false, false
	}

	ts := lowestTSNode.Header.Timestamp
	prev := lowest
	for np := prev.next; np != nil; np = np.next {
		if !np.visible {
			continue
		}
		if np.Header.SequenceNumber != prev.Header.SequenceNumber+1 {
			return prev.Header.SequenceNumber + 1, true, false
		}
		if np.Header.Timestamp != ts || np.next == nil {
			if prev.Header.Marker {
				complete = true
			}
		}
		prev = np
	}
	return 0, false, complete
}

// findLowestSeq returns the visible node with the smallest sequence
// number. If filterByTS is set, the search is restricted to nodes
// carrying timestamp ts.
func (s *nodeStore) findLowestSeq(ts uint32, filterByTS bool) *Node {
	s.mu.Lock()
	defer s.mu.Unlock()

	var lowest *Node
	for np := s.head; np != nil; np = np.next {
		if !np.visible {
			continue
		}
		if filterByTS && np.Header.Timestamp != ts {
			continue
		}
		if lowest == nil || np.Header.SequenceNumber < lowest.Header.SequenceNumber {
			lowest = np
		}
	}
	return lowest
}

// findLowestNode returns the visible node with the smallest timestamp.
func (s *nodeStore) findLowestNode() *Node {
	s.mu.Lock()
	defer s.mu.Unlock()

	var lowest *Node
	for np := s.head; np != nil; np = np.next {
		if !np.visible {
			continue
		}
		if lowest == nil || np.Header.Timestamp < lowest.Header.Timestamp {
			lowest = np
		}
	}
	return lowest
}

// hideTimestamp hides every visible node carrying ts and returns the
// nodes that were hidden, so the caller can remove them from its
// indexes.
func (s *nodeStore) hideTimestamp(ts uint32) []*Node {
	s.mu.Lock()
	defer s.mu.Unlock()

	var hidden []*Node
	for np := s.head; np != nil; np = np.next {
		if np.visible && np.Header.Timestamp == ts {
			np.visible = false
			np.badHits = 0
			s.visibleNodes--
			hidden = append(hidden, np)
		}
	}
	return hidden
}

// visibleCount returns the number of visible nodes.
func (s *nodeStore) visibleCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.visibleNodes
}

// release returns every node's buffer to the pool; used by Close.
func (s *nodeStore) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for np := s.head; np != nil; np = np.next {
		s.pool.Put(np.body)
	}
	s.head = nil
}
