package jitterbuffer

import (
	"log"
	"os"
)

// logger is package-level and uses the stdlib log package directly,
// with no structured logging library anywhere in this tree.
var logger = log.New(os.Stderr, "jitterbuffer: ", log.LstdFlags)

// debugf logs msg when the buffer's debug level is at or above level,
// prefixed with the running counters useful for diagnosing depth and
// hit/miss behavior: current/min/max depth and the hit/miss counters
// for the active period.
func (b *Buffer) debugf(level int, format string, args ...any) {
	if b.debugLevel < level {
		return
	}
	logger.Printf(
		"[%s lv:%d sz:%d/%d/%d c:%d %d/%d/%d/%d %.2f%%] "+format,
		append([]any{
			b.typ, level, b.minFrameLen, b.maxFrameLen, b.frameLen,
			b.completeFrames, b.periodCount, b.consecGoodCount,
			b.periodGoodCount, b.consecMissCount, b.periodMissPct,
		}, args...)...,
	)
}
