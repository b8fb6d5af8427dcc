package audio

import (
	"sync"
)

// RingBuffer is a thread-safe ring buffer for inbound caller audio. The
// transport writes raw PCM bytes as they arrive and the speech detector
// drains fixed-size frames from it.
type RingBuffer struct {
	buffer []byte
	size   int
	read   int
	write  int
	mu     sync.RWMutex
}

// NewRingBuffer creates a new ring buffer with the specified size in bytes.
func NewRingBuffer(size int) *RingBuffer {
	return &RingBuffer{
		buffer: make([]byte, size),
		size:   size,
	}
}

// Write writes data to the ring buffer. Returns the number of bytes written,
// which may be less than len(data) if the buffer is full.
func (rb *RingBuffer) Write(data []byte) int {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	written := 0
	for i := 0; i < len(data); i++ {
		if (rb.write+1)%rb.size == rb.read {
			break // full
		}

		rb.buffer[rb.write] = data[i]
		rb.write = (rb.write + 1) % rb.size
		written++
	}

	return written
}

// Read reads up to len(data) bytes from the ring buffer and returns the
// number of bytes read.
func (rb *RingBuffer) Read(data []byte) int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.readLocked(data)
}

func (rb *RingBuffer) readLocked(data []byte) int {
	read := 0
	for i := 0; i < len(data); i++ {
		if rb.read == rb.write {
			break // empty
		}

		data[i] = rb.buffer[rb.read]
		rb.read = (rb.read + 1) % rb.size
		read++
	}

	return read
}

// ReadFrame reads exactly frameSize samples of 16-bit PCM if that much data
// is buffered, returning nil otherwise. Partial frames stay buffered until
// enough bytes arrive, so the detector always sees whole frames.
func (rb *RingBuffer) ReadFrame(frameSize int) []int16 {
	need := frameSize * 2

	rb.mu.Lock()
	defer rb.mu.Unlock()

	if rb.availableLocked() < need {
		return nil
	}

	data := make([]byte, need)
	rb.readLocked(data)

	samples := make([]int16, frameSize)
	for i := 0; i < frameSize; i++ {
		samples[i] = int16(data[i*2]) | int16(data[i*2+1])<<8
	}
	return samples
}

// Available returns the number of bytes available to read.
func (rb *RingBuffer) Available() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.availableLocked()
}

func (rb *RingBuffer) availableLocked() int {
	if rb.write >= rb.read {
		return rb.write - rb.read
	}
	return rb.size - rb.read + rb.write
}

// Space returns the number of bytes available to write.
func (rb *RingBuffer) Space() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.size - rb.availableLocked() - 1 // -1 to prevent full/empty ambiguity
}

// Clear discards all buffered data.
func (rb *RingBuffer) Clear() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.read = 0
	rb.write = 0
}

// IsEmpty returns true if the buffer is empty.
func (rb *RingBuffer) IsEmpty() bool {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.read == rb.write
}
