// Package rtptime converts between wall-clock time and the tick units
// used by RTP timestamps, so that buffer statistics can be expressed in
// the same units the wire format uses.
package rtptime

import (
	"math/bits"
	"time"
)

// epoch is the arbitrary origin all Now calls are relative to.
var epoch = time.Now()

// FromDuration converts a time.Duration into units of 1/hz.
func FromDuration(d time.Duration, hz uint32) int64 {
	if d < 0 {
		return -FromDuration(-d, hz)
	}
	hi, lo := bits.Mul64(uint64(d), uint64(hz))
	q, _ := bits.Div64(hi, lo, uint64(time.Second))
	return int64(q)
}

// Now returns the current time in units of 1/hz from an arbitrary origin.
func Now(hz uint32) uint64 {
	return uint64(FromDuration(time.Since(epoch), hz))
}

// JiffiesPerSec is the number of jiffies in a second.  This is the LCM of
// 48000, 96000 and 65536.
const JiffiesPerSec = 24576000

// Jiffies returns the current time in jiffies.
func Jiffies() uint64 {
	return Now(JiffiesPerSec)
}
