// Package wbuf implements the two-stage send-path staging buffer
// described by the engine's Write Buffer component: a small inline
// merge buffer that coalesces many small writes into fewer syscalls,
// plus a zero-copy tail span for chunks too large to copy.
package wbuf

// MergeCapacity bounds the inline merge region. Sized to balance
// syscall count against MTU/TLS-record size, matching the ~16KiB the
// spec calls out.
const MergeCapacity = 16 * 1024

// SendBuffer holds at most one pending unsent region at a time: either
// bytes copied into merge, or a borrowed tail span. The two are never
// both non-empty — Put refuses once a tail span is outstanding, and a
// tail span is only accepted once merge has been drained.
type SendBuffer struct {
	merge    [MergeCapacity]byte
	mergeLen int

	tail []byte // borrowed; same backing array must be re-presented until fully written
}

// Put copies p into the merge region if there is room and no tail
// span is outstanding. It reports whether the copy happened.
func (b *SendBuffer) Put(p []byte) bool {
	if len(b.tail) > 0 {
		return false
	}
	if b.mergeLen+len(p) > MergeCapacity {
		return false
	}
	copy(b.merge[b.mergeLen:], p)
	b.mergeLen += len(p)
	return true
}

// SetTail installs a borrowed span as the tail region. Only valid
// when the merge region is empty — callers must drain merge first.
// The slice is never copied or reallocated until Advance consumes it
// fully, so repeated WANT_WRITE retries always see the same (ptr, len).
func (b *SendBuffer) SetTail(p []byte) {
	b.tail = p
}

// HasMerge reports whether the merge region holds unsent bytes.
func (b *SendBuffer) HasMerge() bool { return b.mergeLen > 0 }

// HasTail reports whether a tail span is outstanding.
func (b *SendBuffer) HasTail() bool { return len(b.tail) > 0 }

// Idle reports whether both regions are empty — the invariant state
// in which send_pending may legitimately be cleared.
func (b *SendBuffer) Idle() bool { return b.mergeLen == 0 && len(b.tail) == 0 }

// MergeBytes returns the unsent merge-region bytes for a write attempt.
func (b *SendBuffer) MergeBytes() []byte { return b.merge[:b.mergeLen] }

// TailBytes returns the outstanding tail span for a write attempt.
// The caller MUST present this exact slice to the transport on every
// retry — reslicing or copying it breaks the TLS WANT_WRITE contract.
func (b *SendBuffer) TailBytes() []byte { return b.tail }

// AdvanceMerge records that n bytes of the merge region were
// successfully written, compacting the remainder to offset 0.
func (b *SendBuffer) AdvanceMerge(n int) {
	if n <= 0 {
		return
	}
	if n >= b.mergeLen {
		b.mergeLen = 0
		return
	}
	copy(b.merge[0:], b.merge[n:b.mergeLen])
	b.mergeLen -= n
}

// AdvanceTail records that n bytes of the tail span were successfully
// written. A partial write re-slices forward from n so the next
// TailBytes() call presents address+length one past what was sent —
// this only happens on success, never across a WANT_WRITE retry.
func (b *SendBuffer) AdvanceTail(n int) {
	if n <= 0 {
		return
	}
	if n >= len(b.tail) {
		b.tail = nil
		return
	}
	b.tail = b.tail[n:]
}

// Reset clears both regions.
func (b *SendBuffer) Reset() {
	b.mergeLen = 0
	b.tail = nil
}
