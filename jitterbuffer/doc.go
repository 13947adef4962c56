// Package jitterbuffer implements a real-time jitter buffer for RTP
// audio and video streams. It accepts packets that may arrive out of
// order, duplicated, delayed or with gaps, and hands them back to a
// caller in sequence, at a steady depth, while tracking missing video
// sequence numbers for NACK and adapting its depth to observed loss.
//
// Packet parsing, session/transport objects, memory-pool plumbing and
// the goroutine that drives Put/Get are all external to this package;
// a Buffer is a purely reactive data structure with no internal
// goroutines of its own.
package jitterbuffer
