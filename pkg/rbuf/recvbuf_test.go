package rbuf

import (
	"bytes"
	"testing"
)

func TestRecvBufferFeedAndUnread(t *testing.T) {
	var b RecvBuffer
	b.Feed([]byte("hello"))
	if got := string(b.Unread()); got != "hello" {
		t.Fatalf("expected unread hello, got %q", got)
	}

	b.Advance(2)
	if got := string(b.Unread()); got != "llo" {
		t.Fatalf("expected unread llo after advancing 2, got %q", got)
	}
}

func TestRecvBufferCompactsOnAppend(t *testing.T) {
	var b RecvBuffer
	b.Feed(bytes.Repeat([]byte("a"), DefaultCapacity))
	b.Advance(DefaultCapacity - 4) // leave 4 unread bytes: little room left

	// Appending more than the free tail space (but still small
	// relative to the unread+new total) should compact instead of
	// growing.
	b.Feed([]byte("bbbb"))
	if got := string(b.Unread()); got != "aaaabbbb" {
		t.Fatalf("expected compacted buffer aaaabbbb, got %q", got)
	}
	if cap(b.buf) != DefaultCapacity {
		t.Fatalf("compaction should avoid growth here, cap=%d", cap(b.buf))
	}
}

func TestRecvBufferGrowsWhenCompactionInsufficient(t *testing.T) {
	var b RecvBuffer
	b.Feed(bytes.Repeat([]byte("x"), DefaultCapacity))
	// Nothing consumed yet — compaction can't free any space, so the
	// next Feed must grow the backing array.
	b.Feed([]byte("y"))
	if b.Len() != DefaultCapacity+1 {
		t.Fatalf("expected %d unread bytes, got %d", DefaultCapacity+1, b.Len())
	}
	if cap(b.buf) <= DefaultCapacity {
		t.Fatal("expected backing array to grow past default capacity")
	}
}

func TestRecvBufferReclaimAfterGrowthAndDrain(t *testing.T) {
	var b RecvBuffer
	b.Feed(bytes.Repeat([]byte("z"), DefaultCapacity+100))
	b.Advance(b.Len())
	if !b.Drained() {
		t.Fatal("buffer should report drained")
	}
	b.ReclaimIfDrained()
	if b.buf != nil {
		t.Fatal("buffer grown past default should be freed once drained")
	}
}

func TestRecvBufferKeepsDefaultSizedBufferOnDrain(t *testing.T) {
	var b RecvBuffer
	b.Feed([]byte("small"))
	b.Advance(b.Len())
	b.ReclaimIfDrained()
	if b.buf == nil {
		t.Fatal("a buffer still at default capacity should be retained, not freed")
	}
}
