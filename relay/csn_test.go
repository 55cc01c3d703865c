package relay

import "testing"

func TestCSNIncrementOverflow(t *testing.T) {
	s := csnState{value: maxCSN}
	next := s.increment()
	if !next.overflowed {
		t.Fatal("incrementing past maxCSN should set the overflow sentinel")
	}
	again := next.increment()
	if !again.overflowed {
		t.Fatal("an overflowed state should stay overflowed")
	}
}

func TestCSNIncrementNormal(t *testing.T) {
	s := csnState{value: 10}
	next := s.increment()
	if next.overflowed || next.value != 11 {
		t.Fatalf("got %+v, want value=11 overflowed=false", next)
	}
}

func TestOutgoingClientCSNIncrementsStrictly(t *testing.T) {
	c, _ := newTestClient()
	first := c.OutgoingCSN()
	c.IncrementOutgoingCSN()
	second := c.OutgoingCSN()
	if second != first+1 {
		t.Fatalf("got %d, want %d", second, first+1)
	}
}
