// Package rbuf implements the growable, compacting byte accumulator
// the HTTP/1.1 parser reads incrementally from, surviving arbitrary
// chunk boundaries across Session.receive calls.
package rbuf

// DefaultCapacity is the initial allocation, and the size a buffer
// shrinks back to once fully drained.
const DefaultCapacity = 16 * 1024

// RecvBuffer holds unconsumed bytes in buf[used:length]. Bytes before
// used have already been parsed and are reclaimed by compaction.
// Offset counts bytes permanently discarded, for diagnostics only.
type RecvBuffer struct {
	buf    []byte
	length int
	used   int
	offset int64
}

// Feed appends chunk, compacting or growing as needed.
func (r *RecvBuffer) Feed(chunk []byte) {
	if r.buf == nil {
		cap0 := DefaultCapacity
		if len(chunk) > cap0 {
			cap0 = len(chunk)
		}
		r.buf = make([]byte, cap0)
		r.length = copy(r.buf, chunk)
		return
	}

	if cap(r.buf)-r.length < len(chunk) {
		r.compact()
	}
	if cap(r.buf)-r.length < len(chunk) {
		r.grow(r.length + len(chunk))
	}
	r.length += copy(r.buf[r.length:], chunk)
}

func (r *RecvBuffer) compact() {
	if r.used == 0 {
		return
	}
	n := copy(r.buf, r.buf[r.used:r.length])
	r.offset += int64(r.used)
	r.length = n
	r.used = 0
}

func (r *RecvBuffer) grow(minCap int) {
	newCap := cap(r.buf) * 2
	if newCap < minCap {
		newCap = minCap
	}
	nb := make([]byte, newCap)
	copy(nb, r.buf[:r.length])
	r.buf = nb
}

// Unread returns the unconsumed region [used:length). The slice is
// only valid until the next Feed or Advance call.
func (r *RecvBuffer) Unread() []byte {
	if r.buf == nil {
		return nil
	}
	return r.buf[r.used:r.length]
}

// Len reports how many unconsumed bytes are available.
func (r *RecvBuffer) Len() int { return r.length - r.used }

// Advance marks n bytes of the unread region as consumed.
func (r *RecvBuffer) Advance(n int) {
	r.used += n
	if r.used > r.length {
		r.used = r.length
	}
}

// Offset returns the cumulative count of bytes ever discarded by
// compaction, for diagnostic logging.
func (r *RecvBuffer) Offset() int64 { return r.offset }

// Drained reports whether every fed byte has been consumed.
func (r *RecvBuffer) Drained() bool { return r.buf == nil || r.used == r.length }

// ReclaimIfDrained frees the backing array once fully drained, but
// only if it grew past the default capacity — a buffer still at
// default size is kept to avoid reallocating on the next request.
func (r *RecvBuffer) ReclaimIfDrained() {
	if !r.Drained() {
		return
	}
	if cap(r.buf) > DefaultCapacity {
		r.buf = nil
	}
	r.length = 0
	r.used = 0
}
