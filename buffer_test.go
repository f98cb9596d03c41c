package imsession

import (
	"bytes"
	"testing"
)

func TestRecvBuffer_AppendConsume(t *testing.T) {
	var b recvBuffer

	b.append([]byte("hello "))
	b.append([]byte("world"))
	if got := string(b.unconsumed()); got != "hello world" {
		t.Fatalf("unconsumed = %q, want %q", got, "hello world")
	}

	b.consume(6)
	if got := string(b.unconsumed()); got != "world" {
		t.Errorf("unconsumed = %q, want %q", got, "world")
	}
	if b.len() != 5 {
		t.Errorf("len = %d, want 5", b.len())
	}
}

func TestRecvBuffer_FullConsumeResets(t *testing.T) {
	var b recvBuffer

	b.append([]byte("abc"))
	b.consume(3)

	if b.off != 0 || len(b.buf) != 0 {
		t.Errorf("off = %d, len(buf) = %d, want both 0", b.off, len(b.buf))
	}
}

func TestRecvBuffer_Compact(t *testing.T) {
	var b recvBuffer

	b.append(bytes.Repeat([]byte{'x'}, minCompactSize*2))
	b.append([]byte("tail"))
	b.consume(minCompactSize * 2)

	// the next append drops the consumed prefix
	b.append([]byte("more"))
	if b.off != 0 {
		t.Errorf("off = %d after compaction, want 0", b.off)
	}
	if got := string(b.unconsumed()); got != "tailmore" {
		t.Errorf("unconsumed = %q, want %q", got, "tailmore")
	}
}

func TestRecvBuffer_NoCompactBelowThreshold(t *testing.T) {
	var b recvBuffer

	b.append([]byte("0123456789"))
	b.consume(4)
	b.append([]byte("ab"))

	if b.off != 4 {
		t.Errorf("off = %d, want 4", b.off)
	}
	if got := string(b.unconsumed()); got != "456789ab" {
		t.Errorf("unconsumed = %q, want %q", got, "456789ab")
	}
}

func TestRecvBuffer_ConsumeOutOfRange(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic")
		}
	}()

	var b recvBuffer
	b.append([]byte("ab"))
	b.consume(3)
}

func TestRecvBuffer_Reset(t *testing.T) {
	var b recvBuffer
	b.append([]byte("pending"))
	b.reset()

	if b.len() != 0 {
		t.Errorf("len = %d after reset, want 0", b.len())
	}
}
