package market

import (
	"errors"
	"testing"
)

func TestMaturitySetRoundTrip(t *testing.T) {
	var s MaturitySet
	if !s.Empty() {
		t.Fatalf("zero value should be empty")
	}
	m1 := Interval * 3
	m2 := Interval * 5
	if err := s.Set(m1); err != nil {
		t.Fatalf("set %d: %v", m1, err)
	}
	if err := s.Set(m2); err != nil {
		t.Fatalf("set %d: %v", m2, err)
	}
	if !s.Has(m1) || !s.Has(m2) || s.Has(Interval*4) {
		t.Fatalf("membership mismatch after two sets")
	}
	if got := s.Base(); got != m1 {
		t.Fatalf("base = %d, want %d", got, m1)
	}
	s.Clear(m2)
	if s.Has(m2) || !s.Has(m1) {
		t.Fatalf("clear removed the wrong bit")
	}
	s.Clear(m1)
	if !s.Empty() {
		t.Fatalf("clearing the last maturity should empty the set")
	}
}

func TestMaturitySetRebaseOnEarlierSet(t *testing.T) {
	var s MaturitySet
	if err := s.Set(Interval * 10); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.Set(Interval * 4); err != nil {
		t.Fatalf("rebase set: %v", err)
	}
	if s.Base() != Interval*4 {
		t.Fatalf("base = %d, want %d", s.Base(), Interval*4)
	}
	if !s.Has(Interval*4) || !s.Has(Interval*10) {
		t.Fatalf("rebase lost a maturity")
	}
}

func TestMaturitySetClearRebasesToNextBit(t *testing.T) {
	var s MaturitySet
	for _, k := range []uint64{2, 7, 9} {
		if err := s.Set(Interval * k); err != nil {
			t.Fatalf("set %d: %v", k, err)
		}
	}
	s.Clear(Interval * 2)
	if s.Base() != Interval*7 {
		t.Fatalf("base = %d, want %d", s.Base(), Interval*7)
	}
	got := s.Ascending()
	want := []uint64{Interval * 7, Interval * 9}
	if len(got) != len(want) {
		t.Fatalf("ascending = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ascending[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestMaturitySetOverflow(t *testing.T) {
	var s MaturitySet
	if err := s.Set(Interval); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.Set(Interval * 225); !errors.Is(err, ErrMaturityOverflow) {
		t.Fatalf("expected overflow for 225-interval window, got %v", err)
	}
	if err := s.Set(Interval * 224); err != nil {
		t.Fatalf("224-interval window should fit: %v", err)
	}
	// Rebasing below the base must respect the window too.
	var r MaturitySet
	if err := r.Set(Interval * 300); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := r.Set(Interval * 76); !errors.Is(err, ErrMaturityOverflow) {
		t.Fatalf("expected overflow on deep rebase, got %v", err)
	}
	if !r.Has(Interval * 300) {
		t.Fatalf("failed rebase must leave the set untouched")
	}
}

func TestMaturitySetClearBelowBasePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic when clearing below base")
		}
	}()
	var s MaturitySet
	if err := s.Set(Interval * 5); err != nil {
		t.Fatalf("set: %v", err)
	}
	s.Clear(Interval * 2)
}

func TestMaturitySetPackUnpack(t *testing.T) {
	var s MaturitySet
	for _, k := range []uint64{1, 30, 223 + 1} {
		if err := s.Set(Interval * k); err != nil {
			t.Fatalf("set %d: %v", k, err)
		}
	}
	restored := UnpackMaturitySet(s.Pack())
	if restored.Base() != s.Base() {
		t.Fatalf("restored base = %d, want %d", restored.Base(), s.Base())
	}
	got, want := restored.Ascending(), s.Ascending()
	if len(got) != len(want) {
		t.Fatalf("restored %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("restored[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}
