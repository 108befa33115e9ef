package client

import "sync/atomic"

// RingBuffer is a single-producer single-consumer float32 ring addressed by
// absolute sample positions. The consumer never blocks: when the ring runs
// dry it reads silence and its position keeps advancing, so the producer
// resumes at the consumer's position instead of playing stale audio.
type RingBuffer struct {
	buffer []float32
	size   int64

	// write is the absolute position after the last published sample.
	// read is the absolute position of the next sample the device plays.
	write atomic.Int64
	read  atomic.Int64
}

// NewRingBuffer creates a ring holding up to size samples.
func NewRingBuffer(size int) *RingBuffer {
	return &RingBuffer{
		buffer: make([]float32, size),
		size:   int64(size),
	}
}

// Head returns the position the producer writes next. Producer side.
func (rb *RingBuffer) Head() int64 {
	return max(rb.write.Load(), rb.read.Load())
}

// Consumed returns how many samples the consumer has played, silence
// included.
func (rb *RingBuffer) Consumed() int64 {
	return rb.read.Load()
}

// Free returns how many samples can be written at Head. Producer side.
func (rb *RingBuffer) Free() int {
	read := rb.read.Load()
	head := max(rb.write.Load(), read)
	return int(rb.size - (head - read))
}

// Write appends src at Head and returns the number of samples written.
// Safe for a single producer.
func (rb *RingBuffer) Write(src []float32) int {
	read := rb.read.Load()
	head := max(rb.write.Load(), read)
	n := min(int64(len(src)), rb.size-(head-read))
	for i := int64(0); i < n; i++ {
		rb.buffer[(head+i)%rb.size] = src[i]
	}
	rb.write.Store(head + n) // publish write
	return int(n)
}

// Read fills dst, padding with silence past the written data, and returns
// the number of real samples read. Safe for a single consumer.
func (rb *RingBuffer) Read(dst []float32) int {
	read := rb.read.Load()
	avail := max(0, rb.write.Load()-read)
	n := min(int64(len(dst)), avail)
	for i := int64(0); i < n; i++ {
		dst[i] = rb.buffer[(read+i)%rb.size]
	}
	clear(dst[n:])
	rb.read.Store(read + int64(len(dst))) // publish read
	return int(n)
}
