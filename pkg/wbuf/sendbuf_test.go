package wbuf

import "testing"

func TestSendBufferIdleInvariant(t *testing.T) {
	var b SendBuffer
	if !b.Idle() {
		t.Fatal("fresh SendBuffer must be idle")
	}

	if !b.Put([]byte("hello")) {
		t.Fatal("Put should succeed within capacity")
	}
	if b.Idle() {
		t.Fatal("buffer holding merge bytes must not be idle")
	}

	b.AdvanceMerge(5)
	if !b.Idle() {
		t.Fatal("buffer should be idle after draining merge fully")
	}
}

func TestSendBufferMergeRefusesTailOutstanding(t *testing.T) {
	var b SendBuffer
	span := []byte("tail-bytes")
	b.SetTail(span)
	if b.Put([]byte("x")) {
		t.Fatal("Put must refuse while a tail span is outstanding")
	}
}

func TestSendBufferMergeRefusesOverflow(t *testing.T) {
	var b SendBuffer
	big := make([]byte, MergeCapacity)
	if !b.Put(big) {
		t.Fatal("Put should accept exactly MergeCapacity bytes")
	}
	if b.Put([]byte("x")) {
		t.Fatal("Put must refuse once merge region is full")
	}
}

func TestSendBufferPartialMergeAdvanceCompacts(t *testing.T) {
	var b SendBuffer
	b.Put([]byte("0123456789"))
	b.AdvanceMerge(4)
	if got := string(b.MergeBytes()); got != "456789" {
		t.Fatalf("expected remaining merge bytes 456789, got %q", got)
	}
}

func TestSendBufferTailRetryStability(t *testing.T) {
	// Property 2: the same (pointer, length) must be re-presented
	// across a WANT-WRITE retry — i.e. TailBytes returns the same
	// slice until Advance is called.
	var b SendBuffer
	backing := []byte("abcdefgh")
	b.SetTail(backing)

	first := b.TailBytes()
	second := b.TailBytes()
	if &first[0] != &second[0] || len(first) != len(second) {
		t.Fatal("TailBytes must return an identical (pointer, length) pair across retries")
	}

	b.AdvanceTail(3)
	if got := string(b.TailBytes()); got != "defgh" {
		t.Fatalf("expected tail to advance to defgh, got %q", got)
	}

	b.AdvanceTail(5)
	if b.HasTail() {
		t.Fatal("tail should be cleared once fully advanced")
	}
	if !b.Idle() {
		t.Fatal("buffer should be idle once tail drains")
	}
}

func TestSendBufferReset(t *testing.T) {
	var b SendBuffer
	b.Put([]byte("data"))
	b.Reset()
	if !b.Idle() {
		t.Fatal("Reset must clear both regions")
	}
}
