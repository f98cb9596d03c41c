package imsession

// minCompactSize is the consumed prefix below which compaction is skipped.
const minCompactSize = 4096

// recvBuffer is an append-only byte accumulator with a consumed offset.
// Invariant: 0 <= off <= len(buf). Bytes before off are never yielded again
// and may be discarded by compact.
type recvBuffer struct {
	buf []byte
	off int
}

// append adds newly received bytes at the tail.
func (b *recvBuffer) append(p []byte) {
	b.compact()
	b.buf = append(b.buf, p...)
}

// unconsumed returns the bytes not yet consumed. The slice is only valid
// until the next append.
func (b *recvBuffer) unconsumed() []byte {
	return b.buf[b.off:]
}

// len returns the number of unconsumed bytes.
func (b *recvBuffer) len() int {
	return len(b.buf) - b.off
}

// consume advances the consumed offset by n bytes.
func (b *recvBuffer) consume(n int) {
	if n < 0 || n > b.len() {
		panic("imsession: consume out of range")
	}
	b.off += n
	if b.off == len(b.buf) {
		b.buf = b.buf[:0]
		b.off = 0
	}
}

// compact discards the consumed prefix once it dominates the buffer, so the
// copying cost stays amortized O(1) per received byte.
func (b *recvBuffer) compact() {
	if b.off < minCompactSize || b.off < len(b.buf)/2 {
		return
	}
	n := copy(b.buf, b.buf[b.off:])
	b.buf = b.buf[:n]
	b.off = 0
}

// reset drops everything, including unconsumed bytes.
func (b *recvBuffer) reset() {
	b.buf = b.buf[:0]
	b.off = 0
}
