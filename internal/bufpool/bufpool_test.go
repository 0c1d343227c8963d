package bufpool

import "testing"

func TestPoolReusesBuffers(t *testing.T) {
	p := New(128)
	b1 := p.Get()
	if len(b1) != 128 {
		t.Fatalf("got buffer of length %d, want 128", len(b1))
	}
	p.Put(b1)
	b2 := p.Get()
	if cap(b2) != 128 {
		t.Error("buffer capacity changed after reuse")
	}
}

func TestPoolRejectsWrongSizedPut(t *testing.T) {
	p := New(64)
	p.Put(make([]byte, 32))
	b := p.Get()
	if len(b) != 64 {
		t.Fatalf("pool handed back a mis-sized buffer after a rejected Put: got %d", len(b))
	}
}

func TestNewDefaultsNonPositiveSize(t *testing.T) {
	p := New(0)
	if len(p.Get()) != DefaultSize {
		t.Error("New(0) should fall back to DefaultSize")
	}
}
